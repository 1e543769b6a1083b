package engine

import (
	"fmt"
	"testing"

	"github.com/kartikbazzad/peacedb/internal/document"
	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
)

func TestPutCreateThenConflictingUpdate(t *testing.T) {
	m := NewManager()
	db, err := m.CreateDb("app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created, err := db.Post(&document.Document{Data: map[string]document.Value{"n": float64(1)}}, func() string { return "x" })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID != "x" {
		t.Fatalf("expected generated id 'x', got %q", created.ID)
	}

	_, err = db.Put(&document.Document{ID: "x", Rev: "1-bogus", Data: map[string]document.Value{"n": float64(2)}})
	if !pdberrors.Is(err, pdberrors.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, ok := db.Get("x", "")
	if !ok || got.Data["n"] != float64(1) {
		t.Fatalf("expected unchanged head n=1, got %#v", got)
	}

	updated, err := db.Put(&document.Document{ID: "x", Rev: created.Rev, Data: map[string]document.Value{"n": float64(2)}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gen1, _ := document.ParseRevGeneration(created.Rev)
	gen2, _ := document.ParseRevGeneration(updated.Rev)
	if gen2 != gen1+1 {
		t.Fatalf("expected rev generation to increment, got %d -> %d", gen1, gen2)
	}
}

func TestPutEmptyIDIsValidationError(t *testing.T) {
	m := NewManager()
	db, _ := m.CreateDb("app")
	_, err := db.Put(&document.Document{})
	if !pdberrors.Is(err, pdberrors.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateWithRevIsConflict(t *testing.T) {
	m := NewManager()
	db, _ := m.CreateDb("app")
	_, err := db.Put(&document.Document{ID: "new", Rev: "1-whatever"})
	if !pdberrors.Is(err, pdberrors.KindConflict) {
		t.Fatalf("expected conflict creating with a rev, got %v", err)
	}
}

func TestDeleteTombstonesAndHidesFromGet(t *testing.T) {
	m := NewManager()
	db, _ := m.CreateDb("app")
	doc, _ := db.Post(&document.Document{ID: "a", Data: map[string]document.Value{"n": float64(1)}}, func() string { return "a" })

	_, err := db.Delete("a", doc.Rev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := db.Get("a", ""); ok {
		t.Fatalf("expected tombstoned document to be hidden from Get")
	}

	all := db.AllDocs(0, 10, true)
	if len(all) != 1 || !all[0].Deleted {
		t.Fatalf("expected AllDocs(includeDeleted=true) to surface the tombstone")
	}
}

func TestAllDocsStablePagination(t *testing.T) {
	m := NewManager()
	db, _ := m.CreateDb("app")
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("k%02d", i)
		if _, err := db.Post(&document.Document{Data: map[string]document.Value{"i": float64(i)}}, func() string { return id }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	page := db.AllDocs(10, 10, false)
	if len(page) != 10 {
		t.Fatalf("expected 10 results, got %d", len(page))
	}
	if page[0].ID != "k10" || page[9].ID != "k19" {
		t.Fatalf("expected k10..k19, got %s..%s", page[0].ID, page[9].ID)
	}
}

func TestFullTextSearchANDSemantics(t *testing.T) {
	m := NewManager()
	db, _ := m.CreateDb("app")
	db.Post(&document.Document{Content: "engines store documents. Full-text indexing helps finding words quickly."}, func() string { return "d1" })

	if got := db.FullTextSearch("full text indexing databases", 0, 10); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
	got := db.FullTextSearch("full text indexing", 0, 10)
	if len(got) != 1 || got[0].ID != "d1" {
		t.Fatalf("expected {d1}, got %v", got)
	}
	if got := db.FullTextSearch("databases", 0, 10); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}

func TestFullTextSearchEmptyQueryIsEmptyResult(t *testing.T) {
	m := NewManager()
	db, _ := m.CreateDb("app")
	db.Post(&document.Document{Content: "anything"}, func() string { return "d1" })
	if got := db.FullTextSearch("", 0, 10); len(got) != 0 {
		t.Fatalf("expected empty result for empty query, got %v", got)
	}
}
