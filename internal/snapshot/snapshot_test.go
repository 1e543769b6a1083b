package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/kartikbazzad/peacedb/internal/document"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName(5))

	ch := make(chan *document.Document, 2)
	ch <- &document.Document{ID: "a", Rev: "1-aaaa", Data: map[string]document.Value{"n": float64(1)}}
	ch <- &document.Document{ID: "b", Rev: "1-bbbb", Deleted: true}
	close(ch)

	if err := Write(path, ch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []*document.Document
	if err := Read(path, func(d *document.Document) error {
		got = append(got, d)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(got))
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	m := Manifest{LastSeq: 42, ActiveSnapshot: "snapshot-42", SnapshotTimeUtc: Now().Format("2006-01-02T15:04:05Z")}
	if err := WriteManifest(path, m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := ReadManifest(path)
	if !ok {
		t.Fatalf("expected manifest to be readable")
	}
	if got.LastSeq != 42 || got.ActiveSnapshot != "snapshot-42" {
		t.Fatalf("unexpected manifest: %#v", got)
	}
}

func TestReadManifestMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	_, ok := ReadManifest(filepath.Join(dir, "manifest.json"))
	if ok {
		t.Fatalf("expected ok=false for a missing manifest")
	}
}
