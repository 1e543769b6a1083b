// Package docservice implements the Replicated Document Service (spec.md
// §4.13) by composing a shardrouter.Router with a replication coordinator.
// The write path's "fan out, collect on a buffered channel, stop at quorum,
// drain the rest asynchronously" shape is grounded in the teacher's
// partitionRowStream/streamResult idiom (internal/docdb/core.go): push
// results onto a channel from goroutines, let the consumer stop reading
// early, and let the channel's buffer absorb whatever the abandoned
// producers still send.
package docservice

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/kartikbazzad/peacedb/internal/config"
	"github.com/kartikbazzad/peacedb/internal/document"
	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
	"github.com/kartikbazzad/peacedb/internal/index"
	"github.com/kartikbazzad/peacedb/internal/logging"
	"github.com/kartikbazzad/peacedb/internal/metrics"
	"github.com/kartikbazzad/peacedb/internal/shardclient"
	"github.com/kartikbazzad/peacedb/internal/shardrouter"
)

// Coordinator is the subset of internal/coordinator.Coordinator the
// document service needs: per-shard write/read target resolution.
type Coordinator interface {
	GetWriteClients(shardID int) []shardclient.Client
	GetReadClients(shardID int) []shardclient.Client
}

// Service implements the document-service contract (spec.md §4.3) over a
// sharded, replicated cluster.
type Service struct {
	router     *shardrouter.Router
	coord      Coordinator
	replCfg    config.ReplicationConfig
	log        *logging.Logger
	classifier *pdberrors.Classifier
	tracker    *pdberrors.ErrorTracker
	metrics    *metrics.Metrics
}

func New(router *shardrouter.Router, coord Coordinator, replCfg config.ReplicationConfig, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Default()
	}
	return &Service{
		router: router, coord: coord, replCfg: replCfg, log: log.With("docservice"),
		classifier: pdberrors.NewClassifier(), tracker: pdberrors.NewErrorTracker(),
	}
}

// ErrorTracker exposes the per-service error counters, consumed by the
// metrics exporter and the admin surface.
func (s *Service) ErrorTracker() *pdberrors.ErrorTracker { return s.tracker }

// SetMetrics attaches the node's Prometheus bundle; every operation and
// classified failure is recorded against it from then on.
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// observe classifies and counts one replica-level failure.
func (s *Service) observe(err error) {
	if err == nil {
		return
	}
	category := s.classifier.Classify(err)
	s.tracker.Record(err, category)
	s.metrics.RecordError(category)
}

type writeResult struct {
	doc *document.Document
	err error
}

// write implements spec.md §4.13's write path: fan the operation out to
// every write client for key's shard, stop as soon as WriteQuorum
// successes land, and drain the remaining in-flight replies in the
// background.
func (s *Service) write(shardID int, opName string, op func(shardclient.Client) (*document.Document, error)) (*document.Document, error) {
	start := time.Now()
	clients := s.coord.GetWriteClients(shardID)
	quorum := s.replCfg.WriteQuorum
	if quorum < 1 {
		quorum = 1
	}
	if len(clients) < quorum {
		s.metrics.RecordOperation(opName, "error", time.Since(start))
		return nil, pdberrors.New("docservice.write", pdberrors.KindQuorumUnavailable,
			fmt.Errorf("shard %d has %d write targets, need %d", shardID, len(clients), quorum))
	}

	results := make(chan writeResult, len(clients))
	for _, cl := range clients {
		cl := cl
		go func() {
			doc, err := op(cl)
			results <- writeResult{doc: doc, err: err}
		}()
	}

	var successes int
	var first *document.Document
	var failures []error
	for i := 0; i < len(clients); i++ {
		r := <-results
		if r.err == nil {
			successes++
			if first == nil {
				first = r.doc
			}
			if successes >= quorum {
				remaining := len(clients) - i - 1
				go drain(results, remaining)
				s.metrics.RecordOperation(opName, "ok", time.Since(start))
				s.metrics.ObserveQuorumWrite(time.Since(start))
				return first, nil
			}
			continue
		}
		s.observe(r.err)
		failures = append(failures, r.err)
	}
	s.metrics.RecordOperation(opName, "error", time.Since(start))
	return nil, pdberrors.New("docservice.write", pdberrors.KindPartialWrite, aggregateErrors(failures))
}

func drain(results chan writeResult, n int) {
	for i := 0; i < n; i++ {
		<-results
	}
}

func aggregateErrors(errs []error) error {
	if len(errs) == 0 {
		return fmt.Errorf("no write succeeded")
	}
	msg := fmt.Sprintf("%d replica(s) failed:", len(errs))
	for _, e := range errs {
		msg += " " + e.Error() + ";"
	}
	return fmt.Errorf("%s", msg)
}

func (s *Service) Put(ctx context.Context, db string, doc *document.Document) (*document.Document, error) {
	shardID := s.router.ShardID(doc.ID)
	return s.write(shardID, "put", func(cl shardclient.Client) (*document.Document, error) {
		return cl.Put(ctx, db, doc)
	})
}

func (s *Service) Post(ctx context.Context, db string, doc *document.Document) (*document.Document, error) {
	if doc.ID == "" {
		doc.ID = document.NewID()
	}
	shardID := s.router.ShardID(doc.ID)
	return s.write(shardID, "post", func(cl shardclient.Client) (*document.Document, error) {
		return cl.Post(ctx, db, doc)
	})
}

func (s *Service) Delete(ctx context.Context, db, id, rev string) (*document.Document, error) {
	shardID := s.router.ShardID(id)
	return s.write(shardID, "delete", func(cl shardclient.Client) (*document.Document, error) {
		return cl.Delete(ctx, db, id, rev)
	})
}

// pickOrder rotates clients to a random starting point: the first pick is
// random, the rest are tried in original order (spec.md §4.13's read path).
func pickOrder(clients []shardclient.Client) []shardclient.Client {
	if len(clients) <= 1 {
		return clients
	}
	i := rand.Intn(len(clients))
	out := make([]shardclient.Client, 0, len(clients))
	out = append(out, clients[i])
	out = append(out, clients[:i]...)
	out = append(out, clients[i+1:]...)
	return out
}

func (s *Service) Get(ctx context.Context, db, id, rev string) (*document.Document, bool, error) {
	start := time.Now()
	shardID := s.router.ShardID(id)
	clients := s.coord.GetReadClients(shardID)
	if len(clients) == 0 {
		s.metrics.RecordOperation("get", "error", time.Since(start))
		return nil, false, pdberrors.New("docservice.Get", pdberrors.KindQuorumUnavailable,
			fmt.Errorf("shard %d has no read targets", shardID))
	}
	var lastErr error
	for _, cl := range pickOrder(clients) {
		doc, found, err := cl.Get(ctx, db, id, rev)
		if err == nil {
			s.metrics.RecordOperation("get", "ok", time.Since(start))
			return doc, found, nil
		}
		s.observe(err)
		lastErr = err
	}
	s.metrics.RecordOperation("get", "error", time.Since(start))
	return nil, false, pdberrors.New("docservice.Get", pdberrors.KindNotFound, lastErr)
}

// Patch applies a partial update: read the current head, apply ops to an
// independent copy of it, and send the result through the quorum write
// path. A non-empty rev must match the head read here; the Put still
// revalidates on every replica, so a racing writer surfaces as a conflict.
func (s *Service) Patch(ctx context.Context, db, id, rev string, ops []document.PatchOp) (*document.Document, error) {
	head, found, err := s.Get(ctx, db, id, "")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pdberrors.New("docservice.Patch", pdberrors.KindNotFound, pdberrors.ErrDocNotFound)
	}
	if rev != "" && head.Rev != rev {
		return nil, pdberrors.New("docservice.Patch", pdberrors.KindConflict, pdberrors.ErrRevConflict)
	}
	patched := head.DeepClone()
	if err := document.ApplyPatch(patched, ops); err != nil {
		return nil, err
	}
	return s.Put(ctx, db, patched)
}

// scatterResult is one shard's contribution to a scatter-gather query.
type scatterResult struct {
	docs []*document.Document
	err  error
}

// scatterGather implements spec.md §4.13's query fan-out: every shard is
// asked for up to skip+limit items (random read client, sequential
// fallback), results are concatenated, sorted by id, then paginated.
func (s *Service) scatterGather(opName string, fetch func(cl shardclient.Client, fetchLimit int) ([]*document.Document, error), skip, limit int) []*document.Document {
	start := time.Now()
	n := s.router.NumShards()
	results := make([]scatterResult, n)
	fetchLimit := skip + limit

	var wg sync.WaitGroup
	for shardID := 0; shardID < n; shardID++ {
		shardID := shardID
		wg.Add(1)
		go func() {
			defer wg.Done()
			clients := s.coord.GetReadClients(shardID)
			var lastErr error
			for _, cl := range pickOrder(clients) {
				docs, err := fetch(cl, fetchLimit)
				if err == nil {
					results[shardID] = scatterResult{docs: docs}
					return
				}
				s.observe(err)
				lastErr = err
			}
			results[shardID] = scatterResult{err: lastErr}
		}()
	}
	wg.Wait()

	var merged []*document.Document
	for _, r := range results {
		merged = append(merged, r.docs...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	s.metrics.RecordOperation(opName, "ok", time.Since(start))
	return paginate(merged, skip, limit)
}

func paginate(docs []*document.Document, skip, limit int) []*document.Document {
	if skip >= len(docs) {
		return nil
	}
	end := len(docs)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	return docs[skip:end]
}

func (s *Service) AllDocs(ctx context.Context, db string, skip, limit int, includeDeleted bool) ([]*document.Document, error) {
	return s.scatterGather("allDocs", func(cl shardclient.Client, fetchLimit int) ([]*document.Document, error) {
		return cl.AllDocs(ctx, db, 0, fetchLimit, includeDeleted)
	}, skip, limit), nil
}

func (s *Service) FindByFields(ctx context.Context, db string, equals map[string]string, numericRange map[string]index.NumericRange, skip, limit int) ([]*document.Document, error) {
	return s.scatterGather("findByFields", func(cl shardclient.Client, fetchLimit int) ([]*document.Document, error) {
		return cl.FindByFields(ctx, db, equals, numericRange, 0, fetchLimit)
	}, skip, limit), nil
}

func (s *Service) FindByTags(ctx context.Context, db string, allOf, anyOf, noneOf []string, skip, limit int) ([]*document.Document, error) {
	return s.scatterGather("findByTags", func(cl shardclient.Client, fetchLimit int) ([]*document.Document, error) {
		return cl.FindByTags(ctx, db, allOf, anyOf, noneOf, 0, fetchLimit)
	}, skip, limit), nil
}

func (s *Service) FullTextSearch(ctx context.Context, db, query string, skip, limit int) ([]*document.Document, error) {
	return s.scatterGather("fullTextSearch", func(cl shardclient.Client, fetchLimit int) ([]*document.Document, error) {
		return cl.FullTextSearch(ctx, db, query, 0, fetchLimit)
	}, skip, limit), nil
}

// Seq returns the max seq observed across every shard.
func (s *Service) Seq(ctx context.Context, db string) (uint64, error) {
	n := s.router.NumShards()
	var max uint64
	var anyOk bool
	var lastErr error
	for shardID := 0; shardID < n; shardID++ {
		for _, cl := range pickOrder(s.coord.GetReadClients(shardID)) {
			seq, err := cl.Seq(ctx, db)
			if err == nil {
				anyOk = true
				if seq > max {
					max = seq
				}
				break
			}
			lastErr = err
		}
	}
	if !anyOk {
		return 0, pdberrors.New("docservice.Seq", pdberrors.KindNotFound, lastErr)
	}
	return max, nil
}

// Stats aggregates spec.md §4.13's merge rule: sum per-document counters,
// max shard-internal ones.
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

func (s *Service) Stats(ctx context.Context, db string) (Stats, error) {
	n := s.router.NumShards()
	out := Stats{Db: db}
	var anyOk bool
	var lastErr error
	for shardID := 0; shardID < n; shardID++ {
		for _, cl := range pickOrder(s.coord.GetReadClients(shardID)) {
			st, err := cl.Stats(ctx, db)
			if err == nil {
				anyOk = true
				out.DocsTotal += st.DocsTotal
				out.DocsAlive += st.DocsAlive
				out.DocsDeleted += st.DocsDeleted
				out.FullTextTokens += st.FullTextTokens
				if st.Seq > out.Seq {
					out.Seq = st.Seq
				}
				if st.EqIndexFields > out.EqIndexFields {
					out.EqIndexFields = st.EqIndexFields
				}
				if st.TagIndexCount > out.TagIndexCount {
					out.TagIndexCount = st.TagIndexCount
				}
				break
			}
			lastErr = err
		}
	}
	if !anyOk {
		return Stats{}, pdberrors.New("docservice.Stats", pdberrors.KindNotFound, lastErr)
	}
	return out, nil
}

// CreateDb broadcasts to every available replica of every shard in
// parallel, succeeding if at least one replica accepted it (spec.md
// §4.13's idempotent database lifecycle).
func (s *Service) CreateDb(ctx context.Context, db string) error {
	return s.broadcast(func(cl shardclient.Client) error { return cl.CreateDb(ctx, db) })
}

func (s *Service) DeleteDb(ctx context.Context, db string) error {
	return s.broadcast(func(cl shardclient.Client) error { return cl.DeleteDb(ctx, db) })
}

func (s *Service) broadcast(op func(shardclient.Client) error) error {
	n := s.router.NumShards()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes int
	var failures []error
	for shardID := 0; shardID < n; shardID++ {
		for _, cl := range s.coord.GetWriteClients(shardID) {
			cl := cl
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := op(cl)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
				} else {
					failures = append(failures, err)
				}
			}()
		}
	}
	wg.Wait()
	if successes == 0 {
		return pdberrors.New("docservice.broadcast", pdberrors.KindPartialWrite, aggregateErrors(failures))
	}
	return nil
}
