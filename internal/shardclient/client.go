// Package shardclient provides one facade for calling a replica's document
// service, implemented either in-process (LocalClient, direct calls into a
// colocated File Engine, no serialization — mirroring the teacher's
// in-process Partition access) or over the wire (RemoteClient, speaking
// internal/rpcclient). spec.md §4.8.
package shardclient

import (
	"context"

	"github.com/kartikbazzad/peacedb/internal/document"
	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
	"github.com/kartikbazzad/peacedb/internal/index"
	"github.com/kartikbazzad/peacedb/internal/rpcclient"
	"github.com/kartikbazzad/peacedb/internal/rpcproto"
	"github.com/kartikbazzad/peacedb/internal/storage"
)

// Stats mirrors spec.md §4.8's literal Stats(db) shape.
type Stats struct {
	Db             string
	Seq            uint64
	DocsTotal      int
	DocsAlive      int
	DocsDeleted    int
	EqIndexFields  int
	TagIndexCount  int
	FullTextTokens int
}

// Client is the uniform facade both Local and Remote implement. Every
// method takes a context so RemoteClient can carry the per-call deadline
// spec.md's RequestTimeoutSeconds asks for; LocalClient simply ignores it
// since in-process calls don't cross a network boundary.
type Client interface {
	Identity() string

	HealthCheck(ctx context.Context) bool
	CreateDb(ctx context.Context, db string) error
	DeleteDb(ctx context.Context, db string) error
	Get(ctx context.Context, db, id, rev string) (*document.Document, bool, error)
	Put(ctx context.Context, db string, doc *document.Document) (*document.Document, error)
	Post(ctx context.Context, db string, doc *document.Document) (*document.Document, error)
	Delete(ctx context.Context, db, id, rev string) (*document.Document, error)
	AllDocs(ctx context.Context, db string, skip, limit int, includeDeleted bool) ([]*document.Document, error)
	FindByFields(ctx context.Context, db string, equals map[string]string, numericRange map[string]index.NumericRange, skip, limit int) ([]*document.Document, error)
	FindByTags(ctx context.Context, db string, allOf, anyOf, noneOf []string, skip, limit int) ([]*document.Document, error)
	FullTextSearch(ctx context.Context, db, query string, skip, limit int) ([]*document.Document, error)
	Seq(ctx context.Context, db string) (uint64, error)
	Stats(ctx context.Context, db string) (Stats, error)
}

// LocalClient wraps a colocated *storage.FileEngine: no network hop, no
// (de)serialization.
type LocalClient struct {
	identity string
	fe       *storage.FileEngine
}

func NewLocalClient(identity string, fe *storage.FileEngine) *LocalClient {
	return &LocalClient{identity: identity, fe: fe}
}

func (l *LocalClient) Identity() string { return l.identity }

func (l *LocalClient) HealthCheck(ctx context.Context) bool { return l.fe != nil }

func (l *LocalClient) CreateDb(ctx context.Context, db string) error { return l.fe.CreateDb(db) }

func (l *LocalClient) DeleteDb(ctx context.Context, db string) error { return l.fe.DeleteDb(db) }

func (l *LocalClient) Get(ctx context.Context, db, id, rev string) (*document.Document, bool, error) {
	return l.fe.Get(db, id, rev)
}

func (l *LocalClient) Put(ctx context.Context, db string, doc *document.Document) (*document.Document, error) {
	out, err := l.fe.Put(db, doc)
	if err == nil || !pdberrors.Is(err, pdberrors.KindConflict) {
		return out, err
	}
	if head, ok := l.alreadyApplied(db, doc); ok {
		return head, nil
	}
	return nil, err
}

func (l *LocalClient) Post(ctx context.Context, db string, doc *document.Document) (*document.Document, error) {
	out, err := l.fe.Post(db, doc, document.NewID)
	if err == nil || !pdberrors.Is(err, pdberrors.KindConflict) {
		return out, err
	}
	probe := doc.Clone()
	probe.Rev = ""
	if head, ok := l.alreadyApplied(db, probe); ok {
		return head, nil
	}
	return nil, err
}

func (l *LocalClient) Delete(ctx context.Context, db, id, rev string) (*document.Document, error) {
	out, err := l.fe.Delete(db, id, rev)
	if err == nil || !pdberrors.Is(err, pdberrors.KindConflict) {
		return out, err
	}
	// Reconstruct the tombstone this delete would have produced from the
	// revision history and check whether it is already the head.
	prev, ok, gerr := l.fe.Get(db, id, rev)
	if gerr != nil || !ok {
		return nil, err
	}
	tombstone := prev.Clone()
	tombstone.Tombstone()
	if head, ok, gerr := l.fe.Get(db, id, document.NextRev(rev, tombstone)); gerr == nil && ok && head.Deleted {
		return head, nil
	}
	return nil, err
}

// alreadyApplied resolves the conflict a duplicate colocated write raises.
// In single-process mode every synthesized replica of a shard is backed by
// this same FileEngine, so a quorum fan-out applies each mutation once per
// replica: the first application advances the head and the siblings see a
// rev mismatch. If the head already carries exactly the rev this write
// would have produced, the mutation landed via a sibling and counts as
// acknowledged. A genuinely divergent write hashes to a different rev and
// still surfaces as a conflict.
func (l *LocalClient) alreadyApplied(db string, doc *document.Document) (*document.Document, bool) {
	expected := document.NextRev(doc.Rev, doc)
	if head, ok, err := l.fe.Get(db, doc.ID, expected); err == nil && ok {
		return head, true
	}
	return nil, false
}

func (l *LocalClient) AllDocs(ctx context.Context, db string, skip, limit int, includeDeleted bool) ([]*document.Document, error) {
	return l.fe.AllDocs(db, skip, limit, includeDeleted)
}

func (l *LocalClient) FindByFields(ctx context.Context, db string, equals map[string]string, numericRange map[string]index.NumericRange, skip, limit int) ([]*document.Document, error) {
	return l.fe.FindByFields(db, equals, numericRange, skip, limit)
}

func (l *LocalClient) FindByTags(ctx context.Context, db string, allOf, anyOf, noneOf []string, skip, limit int) ([]*document.Document, error) {
	return l.fe.FindByTags(db, allOf, anyOf, noneOf, skip, limit)
}

func (l *LocalClient) FullTextSearch(ctx context.Context, db, query string, skip, limit int) ([]*document.Document, error) {
	return l.fe.FullTextSearch(db, query, skip, limit)
}

func (l *LocalClient) Seq(ctx context.Context, db string) (uint64, error) { return l.fe.Seq(db) }

func (l *LocalClient) Stats(ctx context.Context, db string) (Stats, error) {
	st, err := l.fe.Stats(db)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Db: db, Seq: st.Seq, DocsTotal: st.DocsTotal, DocsAlive: st.DocsAlive,
		DocsDeleted: st.DocsDeleted, EqIndexFields: st.EqIndexFields,
		TagIndexCount: st.TagIndexCount, FullTextTokens: st.FullTextTokens,
	}, nil
}

// RemoteClient speaks internal/rpcclient's JSON-over-HTTP protocol to
// another peacedbd process.
type RemoteClient struct {
	rc *rpcclient.Client
}

func NewRemoteClient(rc *rpcclient.Client) *RemoteClient { return &RemoteClient{rc: rc} }

func (r *RemoteClient) Identity() string { return r.rc.BaseURL() }

func (r *RemoteClient) HealthCheck(ctx context.Context) bool { return r.rc.HealthCheck(ctx) }

func (r *RemoteClient) CreateDb(ctx context.Context, db string) error { return r.rc.CreateDb(ctx, db) }

func (r *RemoteClient) DeleteDb(ctx context.Context, db string) error { return r.rc.DeleteDb(ctx, db) }

func (r *RemoteClient) Get(ctx context.Context, db, id, rev string) (*document.Document, bool, error) {
	return r.rc.Get(ctx, db, id, rev)
}

func (r *RemoteClient) Put(ctx context.Context, db string, doc *document.Document) (*document.Document, error) {
	return r.rc.Put(ctx, db, doc)
}

func (r *RemoteClient) Post(ctx context.Context, db string, doc *document.Document) (*document.Document, error) {
	return r.rc.Post(ctx, db, doc)
}

func (r *RemoteClient) Delete(ctx context.Context, db, id, rev string) (*document.Document, error) {
	return r.rc.Delete(ctx, db, id, rev)
}

func (r *RemoteClient) AllDocs(ctx context.Context, db string, skip, limit int, includeDeleted bool) ([]*document.Document, error) {
	return r.rc.AllDocs(ctx, db, skip, limit, includeDeleted)
}

func (r *RemoteClient) FindByFields(ctx context.Context, db string, equals map[string]string, numericRange map[string]index.NumericRange, skip, limit int) ([]*document.Document, error) {
	return r.rc.FindByFields(ctx, db, equals, numericRange, skip, limit)
}

func (r *RemoteClient) FindByTags(ctx context.Context, db string, allOf, anyOf, noneOf []string, skip, limit int) ([]*document.Document, error) {
	return r.rc.FindByTags(ctx, db, allOf, anyOf, noneOf, skip, limit)
}

func (r *RemoteClient) FullTextSearch(ctx context.Context, db, query string, skip, limit int) ([]*document.Document, error) {
	return r.rc.FullTextSearch(ctx, db, query, skip, limit)
}

func (r *RemoteClient) Seq(ctx context.Context, db string) (uint64, error) { return r.rc.Seq(ctx, db) }

func (r *RemoteClient) Stats(ctx context.Context, db string) (Stats, error) {
	st, err := r.rc.Stats(ctx, db)
	if err != nil {
		return Stats{}, err
	}
	return Stats(st), nil
}

// Replication-control passthroughs, used by health/election/coordinator;
// LocalClient has no remote counterpart to call so these are RemoteClient-
// only (a locally-colocated replica's self-state is reached directly by
// the node process, not through shardclient).
func (r *RemoteClient) GetReplicationState(ctx context.Context) (rpcproto.GetReplicationStateResponse, error) {
	return r.rc.GetReplicationState(ctx)
}

func (r *RemoteClient) Promote(ctx context.Context) error { return r.rc.Promote(ctx) }

func (r *RemoteClient) SetPrimary(ctx context.Context, primaryURL string) error {
	return r.rc.SetPrimary(ctx, primaryURL)
}

func (r *RemoteClient) Replicate(ctx context.Context, entry rpcproto.ReplicationEntry) error {
	return r.rc.Replicate(ctx, entry)
}

func (r *RemoteClient) ReplicateBatch(ctx context.Context, entries []rpcproto.ReplicationEntry) error {
	return r.rc.ReplicateBatch(ctx, entries)
}

func (r *RemoteClient) GetWalEntries(ctx context.Context, db string, fromSeq uint64, limit int) ([]rpcproto.ReplicationEntry, error) {
	return r.rc.GetWalEntries(ctx, db, fromSeq, limit)
}
