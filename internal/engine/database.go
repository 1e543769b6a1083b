// Package engine implements PeaceDatabase's in-memory per-database engine:
// a map of id to head document plus revision history and the four derived
// indexes, guarded by a single reader/writer lock per database (spec.md
// §4.3, §5). It keeps full documents resident rather than offsets into a
// data file, unlike the teacher's partitioned on-disk engine.
package engine

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kartikbazzad/peacedb/internal/document"
	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
	"github.com/kartikbazzad/peacedb/internal/index"
)

// revisionCacheSize bounds the best-effort revision history kept per
// database; retention beyond the head is not required for correctness
// (spec.md §3 "Head vs history"), so a small LRU is enough.
const revisionCacheSize = 4096

// Database is one named namespace of documents plus its indexes and
// sequence counter.
type Database struct {
	mu      sync.RWMutex
	Name    string
	heads   map[string]*document.Document
	history *lru.Cache[string, *document.Document] // "id|rev" -> doc
	idx     *index.Indexes
	seq     uint64
}

func newDatabase(name string) *Database {
	cache, _ := lru.New[string, *document.Document](revisionCacheSize)
	return &Database{
		Name:    name,
		heads:   make(map[string]*document.Document),
		history: cache,
		idx:     index.NewIndexes(),
	}
}

func historyKey(id, rev string) string { return id + "|" + rev }

// Get returns the document at id. With rev empty it returns the current
// head, or nothing if the head is tombstoned. With rev set it returns the
// head if its rev matches, otherwise the entry in the best-effort history
// cache, if that entry is still cached.
func (db *Database) Get(id, rev string) (*document.Document, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	head, exists := db.heads[id]
	if rev == "" {
		if !exists || head.Deleted {
			return nil, false
		}
		return head.Clone(), true
	}
	if exists && head.Rev == rev {
		return head.Clone(), true
	}
	if doc, ok := db.history.Get(historyKey(id, rev)); ok {
		return doc.Clone(), true
	}
	return nil, false
}

// Put creates or updates a document. The supplied rev must match the
// current head's rev exactly (empty string for a not-yet-existing id);
// any mismatch is a conflict.
func (db *Database) Put(doc *document.Document) (*document.Document, error) {
	out, _, err := db.PutSeq(doc)
	return out, err
}

// PutSeq is Put, additionally returning the seq the mutation was recorded
// at — the exact value a WAL writer must attach to its record, captured
// atomically under the same lock as the mutation.
func (db *Database) PutSeq(doc *document.Document) (*document.Document, uint64, error) {
	if doc.ID == "" {
		return nil, 0, pdberrors.New("engine.Put", pdberrors.KindValidation, pdberrors.ErrEmptyID)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	return db.putLocked(doc)
}

func (db *Database) putLocked(doc *document.Document) (*document.Document, uint64, error) {
	head, exists := db.heads[doc.ID]
	requiredRev := ""
	if exists {
		requiredRev = head.Rev
	}
	if doc.Rev != requiredRev {
		return nil, 0, pdberrors.New("engine.Put", pdberrors.KindConflict, pdberrors.ErrRevConflict)
	}

	newDoc := doc.Clone()
	newDoc.Rev = document.NextRev(requiredRev, doc)

	if exists {
		db.idx.Unindex(head)
	}
	db.idx.Index(newDoc)
	db.heads[doc.ID] = newDoc
	db.history.Add(historyKey(newDoc.ID, newDoc.Rev), newDoc.Clone())
	db.seq++

	return newDoc.Clone(), db.seq, nil
}

// Post creates a document, assigning id if the caller left it empty.
// Internally it is Put with an empty rev, so "id already taken" surfaces
// as the same conflict Put would produce.
func (db *Database) Post(doc *document.Document, genID func() string) (*document.Document, error) {
	out, _, err := db.PostSeq(doc, genID)
	return out, err
}

func (db *Database) PostSeq(doc *document.Document, genID func() string) (*document.Document, uint64, error) {
	// Work on a copy: the caller's doc may be shared across a concurrent
	// replica fan-out, so it must not be written to here.
	d := doc.Clone()
	if d.ID == "" {
		d.ID = genID()
	}
	d.Rev = ""
	return db.PutSeq(d)
}

// Delete soft-deletes id at rev: the head gains a new rev and Deleted=true.
func (db *Database) Delete(id, rev string) (*document.Document, error) {
	out, _, err := db.DeleteSeq(id, rev)
	return out, err
}

func (db *Database) DeleteSeq(id, rev string) (*document.Document, uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	head, exists := db.heads[id]
	if !exists {
		return nil, 0, pdberrors.New("engine.Delete", pdberrors.KindNotFound, pdberrors.ErrDocNotFound)
	}
	if head.Rev != rev {
		return nil, 0, pdberrors.New("engine.Delete", pdberrors.KindConflict, pdberrors.ErrRevConflict)
	}

	tombstone := head.Clone()
	tombstone.Tombstone()
	tombstone.Rev = document.NextRev(head.Rev, tombstone)

	db.idx.Unindex(head)
	// A tombstone carries no postings (index.compute skips Deleted docs),
	// so there is nothing to Index here.
	db.heads[id] = tombstone
	db.history.Add(historyKey(id, tombstone.Rev), tombstone.Clone())
	db.seq++

	return tombstone.Clone(), db.seq, nil
}

// Seq returns the database's current sequence counter.
func (db *Database) Seq() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.seq
}

// SetSeq advances seq to max(current, value); used by recovery so the next
// assigned seq is strictly greater than anything replayed.
func (db *Database) SetSeq(value uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if value > db.seq {
		db.seq = value
	}
}

// Import applies doc without rev validation — the path used to replay
// snapshots and WAL records and to apply replicated records. With setAsHead
// true doc becomes the head for its id and enters the history cache; with
// setAsHead false heads and history are left untouched and only the
// reindex and bumpSeq steps apply.
func (db *Database) Import(doc *document.Document, setAsHead, reindex, bumpSeq bool, recordSeq uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()

	old, existed := db.heads[doc.ID]
	if setAsHead {
		db.heads[doc.ID] = doc
		db.history.Add(historyKey(doc.ID, doc.Rev), doc.Clone())
	}
	if reindex {
		if existed {
			db.idx.Unindex(old)
		}
		db.idx.Index(doc)
	}
	if bumpSeq && recordSeq > db.seq {
		db.seq = recordSeq
	}
}

// ImportTombstone applies a recovery-replayed delete unconditionally (no
// rev check): the mutation was already accepted once, before the crash.
// An empty rev reuses the current head's rev.
func (db *Database) ImportTombstone(id, rev string) {
	db.mu.Lock()
	defer db.mu.Unlock()

	head, exists := db.heads[id]
	if !exists {
		return
	}
	tombstone := head.Clone()
	tombstone.Tombstone()
	if rev != "" {
		tombstone.Rev = rev
	}
	db.idx.Unindex(head)
	db.heads[id] = tombstone
	db.history.Add(historyKey(id, tombstone.Rev), tombstone.Clone())
}

// Export streams every current head (including tombstones) over a channel.
// It first copies all heads under the read lock and then sends the copies,
// so the full set of copies stays in memory until the consumer has
// received them.
func (db *Database) Export() <-chan *document.Document {
	out := make(chan *document.Document)
	go func() {
		defer close(out)
		db.mu.RLock()
		docs := make([]*document.Document, 0, len(db.heads))
		for _, d := range db.heads {
			docs = append(docs, d.Clone())
		}
		db.mu.RUnlock()
		for _, d := range docs {
			out <- d
		}
	}()
	return out
}

// Stats reports the per-database internal counters exposed over Stats(db).
type Stats struct {
	Seq            uint64
	DocsTotal      int
	DocsAlive      int
	DocsDeleted    int
	EqIndexFields  int
	TagIndexCount  int
	FullTextTokens int
}

func (db *Database) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()

	s := Stats{Seq: db.seq, DocsTotal: len(db.heads)}
	for _, d := range db.heads {
		if d.Deleted {
			s.DocsDeleted++
		} else {
			s.DocsAlive++
		}
	}
	s.EqIndexFields = len(db.idx.Equality)
	s.TagIndexCount = len(db.idx.Tag)
	s.FullTextTokens = len(db.idx.FullText)
	return s
}
