package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kartikbazzad/peacedb/internal/config"
	"github.com/kartikbazzad/peacedb/internal/document"
	"github.com/kartikbazzad/peacedb/internal/logging"
	"github.com/kartikbazzad/peacedb/internal/walog"
)

func testConfigs() (config.WALConfig, config.SnapshotConfig) {
	wal := config.WALConfig{Fsync: config.FsyncStrong}
	snap := config.SnapshotConfig{OpCountTrigger: 1000, WALSizeTriggerMB: 1000, AutoCreate: false, MaxSnapshots: 3}
	return wal, snap
}

func TestPutGetAndRestartRecoversFromWAL(t *testing.T) {
	root := t.TempDir()
	walCfg, snapCfg := testConfigs()

	fe, err := Open(root, walCfg, snapCfg, logging.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := fe.CreateDb("orders"); err != nil {
		t.Fatalf("createdb: %v", err)
	}
	doc := &document.Document{ID: "a1", Data: map[string]document.Value{"status": "open"}}
	put, err := fe.Put("orders", doc)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := fe.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	fe2, err := Open(root, walCfg, snapCfg, logging.Default())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer fe2.Close()

	got, ok, err := fe2.Get("orders", "a1", "")
	if err != nil || !ok {
		t.Fatalf("expected recovered doc, err=%v ok=%v", err, ok)
	}
	if got.Rev != put.Rev {
		t.Fatalf("expected rev %s, got %s", put.Rev, got.Rev)
	}
}

func TestRestartAfterDeleteKeepsTombstoneHidden(t *testing.T) {
	root := t.TempDir()
	walCfg, snapCfg := testConfigs()

	fe, err := Open(root, walCfg, snapCfg, logging.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fe.CreateDb("orders")
	put, err := fe.Put("orders", &document.Document{ID: "a1"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := fe.Delete("orders", "a1", put.Rev); err != nil {
		t.Fatalf("delete: %v", err)
	}
	fe.Close()

	fe2, err := Open(root, walCfg, snapCfg, logging.Default())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer fe2.Close()

	_, ok, err := fe2.Get("orders", "a1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected deleted document to stay hidden after recovery")
	}
}

func TestSnapshotThenWalRecoversCombinedState(t *testing.T) {
	root := t.TempDir()
	walCfg, snapCfg := testConfigs()

	fe, err := Open(root, walCfg, snapCfg, logging.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fe.CreateDb("orders")
	fe.Put("orders", &document.Document{ID: "a1"})
	fe.snapshotDatabase("orders") // force a synchronous snapshot for the test
	fe.Put("orders", &document.Document{ID: "a2"})
	fe.Close()

	dir := filepath.Join(root, "orders")
	if _, err := os.Stat(filepath.Join(dir, manifestFileName)); err != nil {
		t.Fatalf("expected manifest to exist: %v", err)
	}

	fe2, err := Open(root, walCfg, snapCfg, logging.Default())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer fe2.Close()

	if _, ok, _ := fe2.Get("orders", "a1", ""); !ok {
		t.Fatalf("expected a1 (from snapshot) to survive recovery")
	}
	if _, ok, _ := fe2.Get("orders", "a2", ""); !ok {
		t.Fatalf("expected a2 (from WAL after snapshot) to survive recovery")
	}
}

func TestCorruptTrailingWALRecordIsDiscardedAndOverwritable(t *testing.T) {
	root := t.TempDir()
	walCfg, snapCfg := testConfigs()

	fe, err := Open(root, walCfg, snapCfg, logging.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fe.CreateDb("orders")
	fe.Put("orders", &document.Document{ID: "a1"})
	fe.Close()

	walPath := filepath.Join(root, "orders", walFileName)
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open wal for corruption: %v", err)
	}
	f.WriteString(`{"op":"put","id":"a2","rev":"1-zzzz","seq":2,"doc":{"id"`)
	f.Close()

	fe2, err := Open(root, walCfg, snapCfg, logging.Default())
	if err != nil {
		t.Fatalf("reopen over corrupt tail: %v", err)
	}
	if _, ok, _ := fe2.Get("orders", "a2", ""); ok {
		t.Fatalf("corrupt trailing record must not have been replayed")
	}
	// A second mutation now appends right after the truncated valid prefix.
	if _, err := fe2.Put("orders", &document.Document{ID: "a3"}); err != nil {
		t.Fatalf("put after recovery: %v", err)
	}
	fe2.Close()

	fe3, err := Open(root, walCfg, snapCfg, logging.Default())
	if err != nil {
		t.Fatalf("reopen again: %v", err)
	}
	defer fe3.Close()
	if _, ok, _ := fe3.Get("orders", "a1", ""); !ok {
		t.Fatalf("expected a1 to survive across both restarts")
	}
	if _, ok, _ := fe3.Get("orders", "a3", ""); !ok {
		t.Fatalf("expected a3 (appended after truncation) to survive the second restart")
	}
}

func TestApplyReplicatedInstallsShippedHeadWithoutRevCheck(t *testing.T) {
	root := t.TempDir()
	walCfg, snapCfg := testConfigs()

	fe, err := Open(root, walCfg, snapCfg, logging.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fe.Close()

	// A replicated entry carries the sender-assigned rev; applying it twice
	// must be a no-op the second time.
	doc := &document.Document{ID: "a1", Rev: "2-feedface", Data: map[string]document.Value{"n": float64(2)}}
	rec := walog.Record{Op: walog.OpPut, ID: "a1", Rev: "2-feedface", Seq: 2, Doc: doc}
	if err := fe.ApplyReplicated("orders", rec); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := fe.ApplyReplicated("orders", rec); err != nil {
		t.Fatalf("re-apply should be idempotent: %v", err)
	}

	got, ok, err := fe.Get("orders", "a1", "")
	if err != nil || !ok {
		t.Fatalf("expected shipped head to be readable, err=%v ok=%v", err, ok)
	}
	if got.Rev != "2-feedface" {
		t.Fatalf("expected the sender's rev to be preserved, got %s", got.Rev)
	}
	if seq, _ := fe.Seq("orders"); seq < 2 {
		t.Fatalf("expected seq advanced to at least 2, got %d", seq)
	}

	del := walog.Record{Op: walog.OpDel, ID: "a1", Rev: "3-deadbeef", Seq: 3}
	if err := fe.ApplyReplicated("orders", del); err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	if _, ok, _ := fe.Get("orders", "a1", ""); ok {
		t.Fatalf("expected replicated delete to tombstone the head")
	}
}

func TestDeleteDbRemovesDirectory(t *testing.T) {
	root := t.TempDir()
	walCfg, snapCfg := testConfigs()

	fe, err := Open(root, walCfg, snapCfg, logging.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fe.Close()
	fe.CreateDb("orders")
	fe.Put("orders", &document.Document{ID: "a1"})

	if err := fe.DeleteDb("orders"); err != nil {
		t.Fatalf("deletedb: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "orders")); !os.IsNotExist(err) {
		t.Fatalf("expected directory to be removed, stat err=%v", err)
	}
	if _, _, err := fe.Get("orders", "a1", ""); err == nil {
		t.Fatalf("expected error reading from a deleted database")
	}
}

func TestAutoCreateSnapshotTriggerFiresAndRotatesWAL(t *testing.T) {
	root := t.TempDir()
	walCfg := config.WALConfig{Fsync: config.FsyncStrong}
	snapCfg := config.SnapshotConfig{OpCountTrigger: 2, WALSizeTriggerMB: 1000, AutoCreate: true, MaxSnapshots: 1}

	fe, err := Open(root, walCfg, snapCfg, logging.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fe.Close()
	fe.CreateDb("orders")
	fe.Put("orders", &document.Document{ID: "a1"})
	fe.Put("orders", &document.Document{ID: "a2"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(root, "orders", manifestFileName)); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected an async snapshot to have produced a manifest")
}
