// Package rpcserver exposes one node's File Engine and self-replication
// state over the JSON-over-HTTP protocol defined in internal/rpcproto
// (spec.md §6.2). No HTTP router/framework appears anywhere in the
// example corpus, so this is the one place the implementation reaches for
// net/http directly rather than an ecosystem library — see DESIGN.md.
package rpcserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/kartikbazzad/peacedb/internal/document"
	"github.com/kartikbazzad/peacedb/internal/engine"
	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
	"github.com/kartikbazzad/peacedb/internal/index"
	"github.com/kartikbazzad/peacedb/internal/logging"
	"github.com/kartikbazzad/peacedb/internal/rpcproto"
	"github.com/kartikbazzad/peacedb/internal/walog"
)

// DataBackend is the subset of storage.FileEngine the RPC surface needs.
type DataBackend interface {
	CreateDb(name string) error
	DeleteDb(name string) error
	Put(db string, doc *document.Document) (*document.Document, error)
	Post(db string, doc *document.Document, genID func() string) (*document.Document, error)
	Delete(db, id, rev string) (*document.Document, error)
	Get(db, id, rev string) (*document.Document, bool, error)
	AllDocs(db string, skip, limit int, includeDeleted bool) ([]*document.Document, error)
	FindByFields(db string, equals map[string]string, numericRange map[string]index.NumericRange, skip, limit int) ([]*document.Document, error)
	FindByTags(db string, allOf, anyOf, noneOf []string, skip, limit int) ([]*document.Document, error)
	FullTextSearch(db, query string, skip, limit int) ([]*document.Document, error)
	Seq(db string) (uint64, error)
	Stats(db string) (engine.Stats, error)
	WalEntriesSince(db string, fromSeq uint64, limit int) ([]walog.Record, error)
	ApplyReplicated(db string, rec walog.Record) error
	GlobalSeq() uint64
}

// SelfState is one process's view of its own replication posture: whether
// it currently believes itself primary, and who it was last told the
// primary is. promote()/setPrimary() are the two mutators the wire
// protocol exposes.
type SelfState struct {
	mu                sync.RWMutex
	isPrimary         bool
	currentPrimaryURL string
	startedAt         time.Time
	lastSyncAt        *time.Time
}

func NewSelfState(startAsPrimary bool) *SelfState {
	return &SelfState{isPrimary: startAsPrimary, startedAt: time.Now()}
}

func (s *SelfState) Promote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isPrimary = true
	s.currentPrimaryURL = ""
}

func (s *SelfState) SetPrimary(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isPrimary = false
	s.currentPrimaryURL = url
}

func (s *SelfState) NoteSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.lastSyncAt = &now
}

func (s *SelfState) snapshot() (isPrimary bool, primaryURL string, uptime time.Duration, lastSyncAt *time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isPrimary, s.currentPrimaryURL, time.Since(s.startedAt), s.lastSyncAt
}

// Server adapts a DataBackend + SelfState to net/http.
type Server struct {
	backend DataBackend
	self    *SelfState
	log     *logging.Logger
	mux     *http.ServeMux
}

func New(backend DataBackend, self *SelfState, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}
	s := &Server{backend: backend, self: self, log: log.With("rpcserver")}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	handle := func(op rpcproto.Op, fn http.HandlerFunc) { s.mux.HandleFunc("/"+string(op), fn) }

	handle(rpcproto.OpHealthCheck, s.handleHealthCheck)
	handle(rpcproto.OpCreateDb, s.handleCreateDb)
	handle(rpcproto.OpDeleteDb, s.handleDeleteDb)
	handle(rpcproto.OpGet, s.handleGet)
	handle(rpcproto.OpPut, s.handlePut)
	handle(rpcproto.OpPost, s.handlePost)
	handle(rpcproto.OpDelete, s.handleDelete)
	handle(rpcproto.OpAllDocs, s.handleAllDocs)
	handle(rpcproto.OpSeq, s.handleSeq)
	handle(rpcproto.OpStats, s.handleStats)
	handle(rpcproto.OpFindByFields, s.handleFindByFields)
	handle(rpcproto.OpFindByTags, s.handleFindByTags)
	handle(rpcproto.OpFullTextSearch, s.handleFullTextSearch)
	handle(rpcproto.OpGetReplicationState, s.handleGetReplicationState)
	handle(rpcproto.OpReplicate, s.handleReplicate)
	handle(rpcproto.OpReplicateBatch, s.handleReplicateBatch)
	handle(rpcproto.OpPromote, s.handlePromote)
	handle(rpcproto.OpSetPrimary, s.handleSetPrimary)
	handle(rpcproto.OpGetWalEntries, s.handleGetWalEntries)
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func errorPayload(err error) *rpcproto.ErrorPayload {
	kind, ok := pdberrors.KindOf(err)
	kindStr := "transport"
	if ok {
		kindStr = kind.String()
	}
	return &rpcproto.ErrorPayload{Kind: kindStr, Message: err.Error()}
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, rpcproto.HealthCheckResponse{Healthy: true})
}

func (s *Server) handleCreateDb(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.CreateDbRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.AckResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	if err := s.backend.CreateDb(req.Db); err != nil {
		writeJSON(w, rpcproto.AckResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	writeJSON(w, rpcproto.AckResponse{Ok: true})
}

func (s *Server) handleDeleteDb(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.DeleteDbRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.AckResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	if err := s.backend.DeleteDb(req.Db); err != nil {
		writeJSON(w, rpcproto.AckResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	writeJSON(w, rpcproto.AckResponse{Ok: true})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.GetRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.GetResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	doc, found, err := s.backend.Get(req.Db, req.ID, req.Rev)
	if err != nil {
		writeJSON(w, rpcproto.GetResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	writeJSON(w, rpcproto.GetResponse{Doc: doc, Found: found})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.PutRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.DocResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	doc, err := s.backend.Put(req.Db, req.Doc)
	if err != nil {
		writeJSON(w, rpcproto.DocResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	writeJSON(w, rpcproto.DocResponse{Doc: doc})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.PostRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.DocResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	doc, err := s.backend.Post(req.Db, req.Doc, document.NewID)
	if err != nil {
		writeJSON(w, rpcproto.DocResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	writeJSON(w, rpcproto.DocResponse{Doc: doc})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.DeleteRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.DocResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	doc, err := s.backend.Delete(req.Db, req.ID, req.Rev)
	if err != nil {
		writeJSON(w, rpcproto.DocResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	writeJSON(w, rpcproto.DocResponse{Doc: doc})
}

func (s *Server) handleAllDocs(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.AllDocsRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.DocsResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	docs, err := s.backend.AllDocs(req.Db, req.Skip, req.Limit, req.IncludeDeleted)
	if err != nil {
		writeJSON(w, rpcproto.DocsResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	writeJSON(w, rpcproto.DocsResponse{Docs: docs})
}

func (s *Server) handleSeq(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.SeqRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.SeqResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	seq, err := s.backend.Seq(req.Db)
	if err != nil {
		writeJSON(w, rpcproto.SeqResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	writeJSON(w, rpcproto.SeqResponse{Seq: seq})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.StatsRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.StatsResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	st, err := s.backend.Stats(req.Db)
	if err != nil {
		writeJSON(w, rpcproto.StatsResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	writeJSON(w, rpcproto.StatsResponse{
		Db: req.Db, Seq: st.Seq, DocsTotal: st.DocsTotal, DocsAlive: st.DocsAlive,
		DocsDeleted: st.DocsDeleted, EqIndexFields: st.EqIndexFields,
		TagIndexCount: st.TagIndexCount, FullTextTokens: st.FullTextTokens,
	})
}

func (s *Server) handleFindByFields(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.FindByFieldsRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.DocsResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	numeric := make(map[string]index.NumericRange, len(req.NumericRange))
	for path, rng := range req.NumericRange {
		numeric[path] = index.NumericRange{Min: rng.Min, Max: rng.Max}
	}
	docs, err := s.backend.FindByFields(req.Db, req.Equals, numeric, req.Skip, req.Limit)
	if err != nil {
		writeJSON(w, rpcproto.DocsResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	writeJSON(w, rpcproto.DocsResponse{Docs: docs})
}

func (s *Server) handleFindByTags(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.FindByTagsRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.DocsResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	docs, err := s.backend.FindByTags(req.Db, req.AllOf, req.AnyOf, req.NoneOf, req.Skip, req.Limit)
	if err != nil {
		writeJSON(w, rpcproto.DocsResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	writeJSON(w, rpcproto.DocsResponse{Docs: docs})
}

func (s *Server) handleFullTextSearch(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.FullTextSearchRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.DocsResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	docs, err := s.backend.FullTextSearch(req.Db, req.Query, req.Skip, req.Limit)
	if err != nil {
		writeJSON(w, rpcproto.DocsResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	writeJSON(w, rpcproto.DocsResponse{Docs: docs})
}

func (s *Server) handleGetReplicationState(w http.ResponseWriter, r *http.Request) {
	isPrimary, primaryURL, uptime, lastSyncAt := s.self.snapshot()
	resp := rpcproto.GetReplicationStateResponse{
		Healthy:           true,
		IsPrimary:         isPrimary,
		CurrentPrimaryURL: primaryURL,
		UptimeSeconds:     uptime.Seconds(),
		Seq:               s.backend.GlobalSeq(),
	}
	if lastSyncAt != nil {
		ts := lastSyncAt.Unix()
		resp.LastSyncAt = &ts
	}
	writeJSON(w, resp)
}

func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.ReplicateRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.AckResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	if err := s.applyEntry(req.Entry); err != nil {
		writeJSON(w, rpcproto.AckResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	s.self.NoteSync()
	writeJSON(w, rpcproto.AckResponse{Ok: true})
}

func (s *Server) handleReplicateBatch(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.ReplicateBatchRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.AckResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	for _, entry := range req.Entries {
		if err := s.applyEntry(entry); err != nil {
			writeJSON(w, rpcproto.AckResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
			return
		}
	}
	s.self.NoteSync()
	writeJSON(w, rpcproto.AckResponse{Ok: true})
}

// applyEntry applies one replicated mutation. Documents arrive already
// revisioned by the sender, so put/post/delete go through the import-style
// ApplyReplicated path rather than the rev-validated client operations.
func (s *Server) applyEntry(e rpcproto.ReplicationEntry) error {
	switch e.Op {
	case "createDb":
		return s.backend.CreateDb(e.Db)
	case "deleteDb":
		return s.backend.DeleteDb(e.Db)
	case "put", "post":
		if e.Doc == nil {
			return pdberrors.New("rpcserver.applyEntry", pdberrors.KindValidation, pdberrors.ErrEmptyID)
		}
		rec := walog.Record{Op: walog.OpPut, ID: e.Doc.ID, Rev: e.Doc.Rev, Seq: e.Seq, Doc: e.Doc, TS: e.Timestamp}
		return s.backend.ApplyReplicated(e.Db, rec)
	case "delete":
		rec := walog.Record{Op: walog.OpDel, ID: e.ID, Rev: e.Rev, Seq: e.Seq, TS: e.Timestamp}
		return s.backend.ApplyReplicated(e.Db, rec)
	default:
		return pdberrors.New("rpcserver.applyEntry", pdberrors.KindValidation, pdberrors.ErrCorruptRecord)
	}
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	s.self.Promote()
	writeJSON(w, rpcproto.AckResponse{Ok: true})
}

func (s *Server) handleSetPrimary(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.SetPrimaryRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.AckResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	s.self.SetPrimary(req.PrimaryURL)
	writeJSON(w, rpcproto.AckResponse{Ok: true})
}

func (s *Server) handleGetWalEntries(w http.ResponseWriter, r *http.Request) {
	var req rpcproto.GetWalEntriesRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, rpcproto.GetWalEntriesResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	recs, err := s.backend.WalEntriesSince(req.Db, req.FromSeq, req.Limit)
	if err != nil {
		writeJSON(w, rpcproto.GetWalEntriesResponse{Envelope: rpcproto.Envelope{Error: errorPayload(err)}})
		return
	}
	entries := make([]rpcproto.ReplicationEntry, 0, len(recs))
	for _, rec := range recs {
		op := "put"
		if rec.Op == walog.OpDel {
			op = "delete"
		}
		entries = append(entries, rpcproto.ReplicationEntry{
			Op: op, Db: req.Db, ID: rec.ID, Rev: rec.Rev, Seq: rec.Seq, Doc: rec.Doc, Timestamp: rec.TS,
		})
	}
	writeJSON(w, rpcproto.GetWalEntriesResponse{Entries: entries})
}
