package index

import (
	"testing"

	"github.com/kartikbazzad/peacedb/internal/document"
)

func TestIndexAndUnindexRoundTrip(t *testing.T) {
	ix := NewIndexes()
	doc := &document.Document{
		ID: "d1",
		Data: map[string]document.Value{
			"name": "Alice",
			"age":  float64(30),
		},
		Tags:    []string{"VIP", " new "},
		Content: "hello world",
	}

	ix.Index(doc)

	if !ix.Equality["data.name"]["Alice"].Has("d1") {
		t.Fatalf("expected equality posting for data.name=Alice")
	}
	if !ix.Tag["vip"].Has("d1") {
		t.Fatalf("expected lower-cased tag posting")
	}
	if !ix.FullText["hello"].Has("d1") || !ix.FullText["world"].Has("d1") {
		t.Fatalf("expected full-text tokens from content")
	}

	min := 20.0
	max := 40.0
	got := ix.Numeric.Range("data.age", NumericRange{Min: &min, Max: &max})
	if !got.Has("d1") {
		t.Fatalf("expected numeric range to include d1")
	}

	ix.Unindex(doc)
	if ix.Equality["data.name"] != nil {
		t.Fatalf("expected no stale equality postings after unindex")
	}
	if ix.Tag["vip"] != nil {
		t.Fatalf("expected no stale tag postings after unindex")
	}
}

func TestTombstonedDocumentCarriesNoPostings(t *testing.T) {
	ix := NewIndexes()
	doc := &document.Document{ID: "d1", Deleted: true, Data: map[string]document.Value{"x": "y"}}
	ix.Index(doc)
	if len(ix.Equality) != 0 {
		t.Fatalf("expected tombstoned document to contribute no postings")
	}
}

func TestTokenizeDropsShortTokens(t *testing.T) {
	got := Tokenize("A Go DB engine, v2!")
	want := map[string]bool{"go": true, "db": true, "engine": true, "v2": true}
	for _, tok := range got {
		if !want[tok] {
			t.Fatalf("unexpected token %q in %v", tok, got)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d tokens, got %v", len(want), got)
	}
}
