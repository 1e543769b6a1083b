package shardclient

import (
	"context"
	"testing"

	"github.com/kartikbazzad/peacedb/internal/config"
	"github.com/kartikbazzad/peacedb/internal/document"
	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
	"github.com/kartikbazzad/peacedb/internal/storage"
)

func newColocatedPair(t *testing.T) (*LocalClient, *LocalClient) {
	t.Helper()
	fe, err := storage.Open(t.TempDir(), config.WALConfig{Fsync: config.FsyncCommit}, config.SnapshotConfig{}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = fe.Close() })
	if err := fe.CreateDb("app"); err != nil {
		t.Fatalf("createdb: %v", err)
	}
	return NewLocalClient("local://shard-0-primary", fe),
		NewLocalClient("local://shard-0-replica-1", fe)
}

func TestColocatedReplicasAcknowledgeDuplicatePut(t *testing.T) {
	primary, replica := newColocatedPair(t)
	ctx := context.Background()

	doc := &document.Document{ID: "x", Data: map[string]document.Value{"n": float64(1)}}
	first, err := primary.Put(ctx, "app", doc)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	// Same fan-out, same engine underneath: the sibling must acknowledge,
	// not conflict.
	second, err := replica.Put(ctx, "app", doc)
	if err != nil {
		t.Fatalf("duplicate apply: %v", err)
	}
	if second.Rev != first.Rev {
		t.Fatalf("expected the sibling to echo the applied head, got %s vs %s", second.Rev, first.Rev)
	}

	upd := &document.Document{ID: "x", Rev: first.Rev, Data: map[string]document.Value{"n": float64(2)}}
	u1, err := primary.Put(ctx, "app", upd)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	u2, err := replica.Put(ctx, "app", upd)
	if err != nil {
		t.Fatalf("duplicate update: %v", err)
	}
	if u2.Rev != u1.Rev {
		t.Fatalf("expected matching update revs, got %s vs %s", u2.Rev, u1.Rev)
	}
}

func TestColocatedReplicasAcknowledgeDuplicateDelete(t *testing.T) {
	primary, replica := newColocatedPair(t)
	ctx := context.Background()

	doc, err := primary.Put(ctx, "app", &document.Document{ID: "x", Data: map[string]document.Value{"n": float64(1)}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	d1, err := primary.Delete(ctx, "app", "x", doc.Rev)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	d2, err := replica.Delete(ctx, "app", "x", doc.Rev)
	if err != nil {
		t.Fatalf("duplicate delete: %v", err)
	}
	if !d2.Deleted || d2.Rev != d1.Rev {
		t.Fatalf("expected the sibling to echo the tombstone, got %#v", d2)
	}
}

func TestColocatedGenuineConflictStillSurfaces(t *testing.T) {
	primary, replica := newColocatedPair(t)
	ctx := context.Background()

	if _, err := primary.Put(ctx, "app", &document.Document{ID: "x", Data: map[string]document.Value{"n": float64(1)}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	// A different body under a stale rev is a real conflict, not a
	// duplicate of anything that already landed.
	_, err := replica.Put(ctx, "app", &document.Document{ID: "x", Rev: "1-bogus", Data: map[string]document.Value{"n": float64(9)}})
	if !pdberrors.Is(err, pdberrors.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
