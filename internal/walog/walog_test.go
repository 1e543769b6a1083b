package walog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kartikbazzad/peacedb/internal/document"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := Open(path, Strong)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recs := []Record{
		{Op: OpPut, ID: "a", Rev: "1-aaaa", Seq: 1, Doc: &document.Document{ID: "a", Rev: "1-aaaa"}},
		{Op: OpPut, ID: "b", Rev: "1-bbbb", Seq: 2, Doc: &document.Document{ID: "b", Rev: "1-bbbb"}},
		{Op: OpDel, ID: "b", Rev: "2-cccc", Seq: 3},
	}
	for _, r := range recs {
		if err := w.Append(r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var replayed []Record
	if err := Replay(path, func(r Record) error {
		replayed = append(replayed, r)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replayed) != 3 {
		t.Fatalf("expected 3 records, got %d", len(replayed))
	}
	if replayed[2].Op != OpDel || replayed[2].Seq != 3 {
		t.Fatalf("unexpected last record: %#v", replayed[2])
	}
}

func TestReplayStopsAtCorruptTrailingLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, _ := Open(path, Commit)
	w.Append(Record{Op: OpPut, ID: "a", Rev: "1-aaaa", Seq: 1})
	w.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.WriteString(`{"op":"put","id":"b"`) // truncated JSON, no trailing newline
	f.Close()

	var replayed []Record
	if err := Replay(path, func(r Record) error {
		replayed = append(replayed, r)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replayed) != 1 || replayed[0].ID != "a" {
		t.Fatalf("expected only the complete record to replay, got %#v", replayed)
	}
}

func TestRotateTruncatesToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, _ := Open(path, Commit)
	w.Append(Record{Op: OpPut, ID: "a", Seq: 1})
	if w.Size() == 0 {
		t.Fatalf("expected non-zero size before rotate")
	}
	if err := w.Rotate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Size() != 0 {
		t.Fatalf("expected zero size after rotate, got %d", w.Size())
	}
	w.Close()
}
