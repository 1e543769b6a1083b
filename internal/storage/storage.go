// Package storage implements the File Engine: the in-memory engine
// composed with the WAL and snapshot managers, plus the manifest-then-
// snapshot-then-WAL-replay recovery protocol (spec.md §4.5, §4.6). It is
// modeled on the teacher's openPartitioned startup sequence and its
// mutate-then-append commit ordering, generalized to this spec's
// in-memory-document engine and text WAL.
package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/peacedb/internal/config"
	"github.com/kartikbazzad/peacedb/internal/document"
	"github.com/kartikbazzad/peacedb/internal/engine"
	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
	"github.com/kartikbazzad/peacedb/internal/index"
	"github.com/kartikbazzad/peacedb/internal/logging"
	"github.com/kartikbazzad/peacedb/internal/metrics"
	"github.com/kartikbazzad/peacedb/internal/snapshot"
	"github.com/kartikbazzad/peacedb/internal/walog"
)

const manifestFileName = "manifest.json"
const walFileName = "wal.log"

// FileEngine wraps an engine.Manager with durable WAL append and snapshot
// triggers per database, plus the crash recovery that rebuilds in-memory
// state from a data root at startup.
type FileEngine struct {
	dataRoot string
	walCfg   config.WALConfig
	snapCfg  config.SnapshotConfig
	manager  *engine.Manager
	logger   *logging.Logger
	pool     *ants.Pool
	metrics  *metrics.Metrics

	mu               sync.Mutex
	wals             map[string]*walog.Writer
	opsSinceSnapshot map[string]uint64
	snapshotting     map[string]bool
}

// Open recovers every database found under dataRoot and returns a ready
// FileEngine. dataRoot is created if it does not exist yet.
func Open(dataRoot string, walCfg config.WALConfig, snapCfg config.SnapshotConfig, logger *logging.Logger) (*FileEngine, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(8)
	if err != nil {
		return nil, err
	}

	fe := &FileEngine{
		dataRoot:         dataRoot,
		walCfg:           walCfg,
		snapCfg:          snapCfg,
		manager:          engine.NewManager(),
		logger:           logger,
		pool:             pool,
		wals:             make(map[string]*walog.Writer),
		opsSinceSnapshot: make(map[string]uint64),
		snapshotting:     make(map[string]bool),
	}

	entries, err := os.ReadDir(dataRoot)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := fe.recoverDatabase(e.Name()); err != nil {
			return nil, err
		}
	}
	return fe, nil
}

func durabilityOf(mode config.FsyncMode) walog.Durability {
	switch mode {
	case config.FsyncRelaxed:
		return walog.Relaxed
	case config.FsyncStrong:
		return walog.Strong
	default:
		return walog.Commit
	}
}

// recoverDatabase runs spec.md §4.5's recovery protocol for one data-root
// subdirectory, then opens a WAL writer for subsequent appends.
func (fe *FileEngine) recoverDatabase(name string) error {
	db, err := fe.manager.CreateDb(name)
	if err != nil {
		return err
	}
	dir := filepath.Join(fe.dataRoot, db.Name)
	manifestPath := filepath.Join(dir, manifestFileName)
	walPath := filepath.Join(dir, walFileName)

	var lastSeq uint64
	if m, ok := snapshot.ReadManifest(manifestPath); ok {
		lastSeq = m.LastSeq
		if m.ActiveSnapshot != "" {
			snapPath := filepath.Join(dir, m.ActiveSnapshot)
			if err := snapshot.Read(snapPath, func(d *document.Document) error {
				db.Import(d, true, true, false, 0)
				return nil
			}); err != nil {
				return err
			}
		}
	}

	if err := walog.Replay(walPath, func(rec walog.Record) error {
		if rec.Seq <= lastSeq {
			return nil
		}
		switch rec.Op {
		case walog.OpPut:
			if rec.Doc != nil {
				db.Import(rec.Doc, true, true, false, 0)
			}
		case walog.OpDel:
			db.ImportTombstone(rec.ID, rec.Rev)
		}
		if rec.Seq > lastSeq {
			lastSeq = rec.Seq
		}
		return nil
	}); err != nil {
		return err
	}
	db.SetSeq(lastSeq)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if validLen, err := walog.ValidLength(walPath); err == nil {
		os.Truncate(walPath, validLen)
	}
	w, err := walog.Open(walPath, durabilityOf(fe.walCfg.Fsync))
	if err != nil {
		return err
	}
	fe.mu.Lock()
	fe.wals[db.Name] = w
	fe.mu.Unlock()
	return nil
}

// SetMetrics attaches the node's Prometheus bundle and seeds the per-db
// gauges from the recovered state.
func (fe *FileEngine) SetMetrics(m *metrics.Metrics) {
	fe.metrics = m
	if m == nil {
		return
	}
	for _, name := range fe.manager.List() {
		if st, err := fe.Stats(name); err == nil {
			m.SetDocuments(name, float64(st.DocsAlive))
		}
	}
}

// Databases returns the names of every open database on this node.
func (fe *FileEngine) Databases() []string {
	return fe.manager.List()
}

func (fe *FileEngine) getDb(name string) (*engine.Database, error) {
	db, ok := fe.manager.Get(name)
	if !ok {
		return nil, pdberrors.New("storage.getDb", pdberrors.KindNotFound, pdberrors.ErrDBNotFound)
	}
	return db, nil
}

// CreateDb is idempotent: it opens the in-memory database and, on first
// call, its directory and WAL file.
func (fe *FileEngine) CreateDb(name string) error {
	db, err := fe.manager.CreateDb(name)
	if err != nil {
		return err
	}
	fe.mu.Lock()
	_, exists := fe.wals[db.Name]
	fe.mu.Unlock()
	if exists {
		return nil
	}

	dir := filepath.Join(fe.dataRoot, db.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w, err := walog.Open(filepath.Join(dir, walFileName), durabilityOf(fe.walCfg.Fsync))
	if err != nil {
		return err
	}
	fe.mu.Lock()
	if _, raced := fe.wals[db.Name]; raced {
		// A concurrent broadcast CreateDb won; keep its writer.
		fe.mu.Unlock()
		w.Close()
		return nil
	}
	fe.wals[db.Name] = w
	fe.mu.Unlock()
	return nil
}

// DeleteDb removes db's directory and in-memory state. Deleting an absent
// database is not an error.
func (fe *FileEngine) DeleteDb(name string) error {
	sanitized := engine.SanitizeName(name)
	if err := fe.manager.DeleteDb(name); err != nil {
		return err
	}
	fe.mu.Lock()
	if w, ok := fe.wals[sanitized]; ok {
		w.Close()
		delete(fe.wals, sanitized)
	}
	delete(fe.opsSinceSnapshot, sanitized)
	fe.mu.Unlock()
	return os.RemoveAll(filepath.Join(fe.dataRoot, sanitized))
}

func (fe *FileEngine) appendWAL(name string, rec walog.Record) error {
	fe.mu.Lock()
	w := fe.wals[name]
	fe.mu.Unlock()
	if w == nil {
		return pdberrors.New("storage.appendWAL", pdberrors.KindNotFound, pdberrors.ErrDBNotFound)
	}
	return w.Append(rec)
}

// Put validates and applies a mutation, then durably appends it and checks
// the snapshot triggers.
func (fe *FileEngine) Put(dbName string, doc *document.Document) (*document.Document, error) {
	db, err := fe.getDb(dbName)
	if err != nil {
		return nil, err
	}
	result, seq, err := db.PutSeq(doc)
	if err != nil {
		return nil, err
	}
	if err := fe.appendWAL(db.Name, walog.Record{Op: walog.OpPut, ID: result.ID, Rev: result.Rev, Seq: seq, Doc: result, TS: time.Now().Unix()}); err != nil {
		return nil, pdberrors.New("storage.Put", pdberrors.KindTransport, err)
	}
	fe.afterMutation(db.Name, db)
	return result, nil
}

func (fe *FileEngine) Post(dbName string, doc *document.Document, genID func() string) (*document.Document, error) {
	db, err := fe.getDb(dbName)
	if err != nil {
		return nil, err
	}
	result, seq, err := db.PostSeq(doc, genID)
	if err != nil {
		return nil, err
	}
	if err := fe.appendWAL(db.Name, walog.Record{Op: walog.OpPut, ID: result.ID, Rev: result.Rev, Seq: seq, Doc: result, TS: time.Now().Unix()}); err != nil {
		return nil, pdberrors.New("storage.Post", pdberrors.KindTransport, err)
	}
	fe.afterMutation(db.Name, db)
	return result, nil
}

func (fe *FileEngine) Delete(dbName, id, rev string) (*document.Document, error) {
	db, err := fe.getDb(dbName)
	if err != nil {
		return nil, err
	}
	result, seq, err := db.DeleteSeq(id, rev)
	if err != nil {
		return nil, err
	}
	if err := fe.appendWAL(db.Name, walog.Record{Op: walog.OpDel, ID: result.ID, Rev: result.Rev, Seq: seq, TS: time.Now().Unix()}); err != nil {
		return nil, pdberrors.New("storage.Delete", pdberrors.KindTransport, err)
	}
	fe.afterMutation(db.Name, db)
	return result, nil
}

func (fe *FileEngine) Get(dbName, id, rev string) (*document.Document, bool, error) {
	db, err := fe.getDb(dbName)
	if err != nil {
		return nil, false, err
	}
	doc, ok := db.Get(id, rev)
	return doc, ok, nil
}

func (fe *FileEngine) AllDocs(dbName string, skip, limit int, includeDeleted bool) ([]*document.Document, error) {
	db, err := fe.getDb(dbName)
	if err != nil {
		return nil, err
	}
	return db.AllDocs(skip, limit, includeDeleted), nil
}

func (fe *FileEngine) FindByFields(dbName string, equals map[string]string, numericRange map[string]index.NumericRange, skip, limit int) ([]*document.Document, error) {
	db, err := fe.getDb(dbName)
	if err != nil {
		return nil, err
	}
	return db.FindByFields(equals, numericRange, skip, limit), nil
}

func (fe *FileEngine) FindByTags(dbName string, allOf, anyOf, noneOf []string, skip, limit int) ([]*document.Document, error) {
	db, err := fe.getDb(dbName)
	if err != nil {
		return nil, err
	}
	return db.FindByTags(allOf, anyOf, noneOf, skip, limit), nil
}

func (fe *FileEngine) FullTextSearch(dbName, query string, skip, limit int) ([]*document.Document, error) {
	db, err := fe.getDb(dbName)
	if err != nil {
		return nil, err
	}
	return db.FullTextSearch(query, skip, limit), nil
}

func (fe *FileEngine) Seq(dbName string) (uint64, error) {
	db, err := fe.getDb(dbName)
	if err != nil {
		return 0, err
	}
	return db.Seq(), nil
}

func (fe *FileEngine) Stats(dbName string) (engine.Stats, error) {
	db, err := fe.getDb(dbName)
	if err != nil {
		return engine.Stats{}, err
	}
	return db.Stats(), nil
}

// GlobalSeq returns the highest seq among every database this node holds,
// a coarse freshness signal for replication-state reporting and election
// (spec.md §4.11 compares candidates by seq, not by any single db's seq).
func (fe *FileEngine) GlobalSeq() uint64 {
	var max uint64
	for _, name := range fe.manager.List() {
		db, ok := fe.manager.Get(name)
		if !ok {
			continue
		}
		if s := db.Seq(); s > max {
			max = s
		}
	}
	return max
}

// WalEntriesSince returns every well-formed WAL record for dbName with
// seq > fromSeq, oldest first, capped at limit (0 = unlimited). It reads
// straight off the on-disk WAL file, so entries trimmed by an earlier
// snapshot rotation are not recoverable this way — the replication control
// surface (spec.md §6.2 getWalEntries) only promises what the local log
// still holds.
func (fe *FileEngine) WalEntriesSince(dbName string, fromSeq uint64, limit int) ([]walog.Record, error) {
	if _, err := fe.getDb(dbName); err != nil {
		return nil, err
	}
	walPath := filepath.Join(fe.dataRoot, engine.SanitizeName(dbName), walFileName)
	var out []walog.Record
	err := walog.Replay(walPath, func(rec walog.Record) error {
		if rec.Seq <= fromSeq {
			return nil
		}
		if limit > 0 && len(out) >= limit {
			return nil
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// ApplyReplicated applies one mutation shipped from a peer replica. The
// record was already accepted (and revisioned) on the sender, so it is
// installed without rev validation: the document becomes the head, the
// record's seq advances this database's counter, and the record is
// re-appended to this node's own WAL so a later recovery replays it.
// Re-applying a put whose rev is already the head is a no-op success,
// keeping replicate idempotent under broadcast.
func (fe *FileEngine) ApplyReplicated(dbName string, rec walog.Record) error {
	if err := fe.CreateDb(dbName); err != nil {
		return err
	}
	db, err := fe.getDb(dbName)
	if err != nil {
		return err
	}

	switch rec.Op {
	case walog.OpPut:
		if rec.Doc == nil || rec.Doc.ID == "" {
			return pdberrors.New("storage.ApplyReplicated", pdberrors.KindValidation, pdberrors.ErrEmptyID)
		}
		if head, ok := db.Get(rec.Doc.ID, ""); ok && head.Rev == rec.Doc.Rev {
			return nil
		}
		db.Import(rec.Doc, true, true, true, rec.Seq)
	case walog.OpDel:
		db.ImportTombstone(rec.ID, rec.Rev)
		db.SetSeq(rec.Seq)
	default:
		return pdberrors.New("storage.ApplyReplicated", pdberrors.KindValidation, pdberrors.ErrCorruptRecord)
	}

	if err := fe.appendWAL(db.Name, rec); err != nil {
		return pdberrors.New("storage.ApplyReplicated", pdberrors.KindTransport, err)
	}
	fe.afterMutation(db.Name, db)
	return nil
}

// afterMutation updates the WAL-size gauge, counts ops since the last
// snapshot and, if the operation-count or WAL-size trigger fired, submits a
// snapshot job to the pool. Snapshotting never runs concurrently for the
// same db (storage.snapshotting guard), and is skipped entirely when
// AutoCreate is off.
func (fe *FileEngine) afterMutation(name string, db *engine.Database) {
	fe.mu.Lock()
	fe.opsSinceSnapshot[name]++
	ops := fe.opsSinceSnapshot[name]
	w := fe.wals[name]
	already := fe.snapshotting[name]
	fe.mu.Unlock()

	if w != nil {
		fe.metrics.SetWALSize(name, float64(w.Size()))
	}
	if !fe.snapCfg.AutoCreate {
		return
	}

	trigger := ops >= fe.snapCfg.OpCountTrigger
	if !trigger && w != nil && fe.snapCfg.WALSizeTriggerMB > 0 {
		trigger = uint64(w.Size()) >= fe.snapCfg.WALSizeTriggerMB*1024*1024
	}
	if !trigger || already {
		return
	}
	fe.pool.Submit(func() { fe.snapshotDatabase(name) })
}

func (fe *FileEngine) snapshotDatabase(name string) {
	fe.mu.Lock()
	if fe.snapshotting[name] {
		fe.mu.Unlock()
		return
	}
	fe.snapshotting[name] = true
	fe.mu.Unlock()
	defer func() {
		fe.mu.Lock()
		fe.snapshotting[name] = false
		fe.mu.Unlock()
	}()

	db, ok := fe.manager.Get(name)
	if !ok {
		return
	}
	dir := filepath.Join(fe.dataRoot, name)
	seqAtStart := db.Seq()
	fe.metrics.SetDocuments(name, float64(db.Stats().DocsAlive))
	heads := db.Export()

	snapName := snapshot.FileName(seqAtStart)
	snapPath := filepath.Join(dir, snapName)
	if err := snapshot.Write(snapPath, heads); err != nil {
		fe.logger.Error("snapshot write failed", err, logging.Fields{"db": name})
		return
	}
	manifest := snapshot.Manifest{
		LastSeq:         seqAtStart,
		ActiveSnapshot:  snapName,
		SnapshotTimeUtc: snapshot.Now().Format(time.RFC3339),
	}
	if err := snapshot.WriteManifest(filepath.Join(dir, manifestFileName), manifest); err != nil {
		fe.logger.Error("manifest write failed", err, logging.Fields{"db": name})
		return
	}

	fe.mu.Lock()
	w := fe.wals[name]
	fe.opsSinceSnapshot[name] = 0
	fe.mu.Unlock()
	if w != nil {
		if err := w.Rotate(); err != nil {
			fe.logger.Error("wal rotate failed", err, logging.Fields{"db": name})
		}
	}
	fe.pruneSnapshots(dir, snapName)
}

// pruneSnapshots keeps at most MaxSnapshots snapshot files (the active one
// always survives); 0 means unlimited retention.
func (fe *FileEngine) pruneSnapshots(dir, active string) {
	if fe.snapCfg.MaxSnapshots <= 0 {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	type candidate struct {
		name string
		seq  uint64
	}
	var snaps []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "snapshot-") {
			continue
		}
		seq, _ := strconv.ParseUint(strings.TrimPrefix(e.Name(), "snapshot-"), 10, 64)
		snaps = append(snaps, candidate{e.Name(), seq})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].seq > snaps[j].seq })
	kept := 0
	for _, s := range snaps {
		if s.name == active {
			kept++
			continue
		}
		if kept < fe.snapCfg.MaxSnapshots {
			kept++
			continue
		}
		os.Remove(filepath.Join(dir, s.name))
	}
}

// Close flushes and closes every open WAL writer and releases the
// snapshot worker pool.
func (fe *FileEngine) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	var firstErr error
	for _, w := range fe.wals {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	fe.pool.Release()
	return firstErr
}
