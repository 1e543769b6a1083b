// Package rpcclient speaks the JSON-over-HTTP protocol of internal/rpcproto
// against a remote peacedbd process, the wire-level counterpart of
// rpcserver. It plays the role of the teacher's internal/ipc client half,
// generalized from a binary frame over a Unix socket to JSON over HTTP.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kartikbazzad/peacedb/internal/document"
	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
	"github.com/kartikbazzad/peacedb/internal/index"
	"github.com/kartikbazzad/peacedb/internal/rpcproto"
)

// Client calls a single remote peacedbd node over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client targeting baseURL (e.g. "http://10.0.0.4:7420").
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *Client) BaseURL() string { return c.baseURL }

func kindFromString(s string) pdberrors.Kind {
	switch s {
	case "validation":
		return pdberrors.KindValidation
	case "not-found":
		return pdberrors.KindNotFound
	case "conflict":
		return pdberrors.KindConflict
	case "quorum-unavailable":
		return pdberrors.KindQuorumUnavailable
	case "partial-write":
		return pdberrors.KindPartialWrite
	case "election-failed":
		return pdberrors.KindElectionFailed
	case "recovery-corruption":
		return pdberrors.KindRecoveryCorruption
	default:
		return pdberrors.KindTransport
	}
}

func (c *Client) call(ctx context.Context, op rpcproto.Op, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return pdberrors.New("rpcclient."+string(op), pdberrors.KindTransport, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+string(op), bytes.NewReader(body))
	if err != nil {
		return pdberrors.New("rpcclient."+string(op), pdberrors.KindTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return pdberrors.New("rpcclient."+string(op), pdberrors.KindTransport, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		return pdberrors.New("rpcclient."+string(op), pdberrors.KindTransport, fmt.Errorf("remote status %d", httpResp.StatusCode))
	}
	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		return pdberrors.New("rpcclient."+string(op), pdberrors.KindTransport, err)
	}
	return nil
}

func envelopeErr(op string, env rpcproto.Envelope) error {
	if env.Error == nil {
		return nil
	}
	return pdberrors.New("rpcclient."+op, kindFromString(env.Error.Kind), fmt.Errorf("%s", env.Error.Message))
}

func (c *Client) HealthCheck(ctx context.Context) bool {
	var resp rpcproto.HealthCheckResponse
	if err := c.call(ctx, rpcproto.OpHealthCheck, struct{}{}, &resp); err != nil {
		return false
	}
	return resp.Healthy
}

func (c *Client) CreateDb(ctx context.Context, db string) error {
	var resp rpcproto.AckResponse
	if err := c.call(ctx, rpcproto.OpCreateDb, rpcproto.CreateDbRequest{Db: db}, &resp); err != nil {
		return err
	}
	return envelopeErr("createDb", resp.Envelope)
}

func (c *Client) DeleteDb(ctx context.Context, db string) error {
	var resp rpcproto.AckResponse
	if err := c.call(ctx, rpcproto.OpDeleteDb, rpcproto.DeleteDbRequest{Db: db}, &resp); err != nil {
		return err
	}
	return envelopeErr("deleteDb", resp.Envelope)
}

func (c *Client) Get(ctx context.Context, db, id, rev string) (*document.Document, bool, error) {
	var resp rpcproto.GetResponse
	if err := c.call(ctx, rpcproto.OpGet, rpcproto.GetRequest{Db: db, ID: id, Rev: rev}, &resp); err != nil {
		return nil, false, err
	}
	if err := envelopeErr("get", resp.Envelope); err != nil {
		return nil, false, err
	}
	return resp.Doc, resp.Found, nil
}

func (c *Client) Put(ctx context.Context, db string, doc *document.Document) (*document.Document, error) {
	var resp rpcproto.DocResponse
	if err := c.call(ctx, rpcproto.OpPut, rpcproto.PutRequest{Db: db, Doc: doc}, &resp); err != nil {
		return nil, err
	}
	if err := envelopeErr("put", resp.Envelope); err != nil {
		return nil, err
	}
	return resp.Doc, nil
}

func (c *Client) Post(ctx context.Context, db string, doc *document.Document) (*document.Document, error) {
	var resp rpcproto.DocResponse
	if err := c.call(ctx, rpcproto.OpPost, rpcproto.PostRequest{Db: db, Doc: doc}, &resp); err != nil {
		return nil, err
	}
	if err := envelopeErr("post", resp.Envelope); err != nil {
		return nil, err
	}
	return resp.Doc, nil
}

func (c *Client) Delete(ctx context.Context, db, id, rev string) (*document.Document, error) {
	var resp rpcproto.DocResponse
	if err := c.call(ctx, rpcproto.OpDelete, rpcproto.DeleteRequest{Db: db, ID: id, Rev: rev}, &resp); err != nil {
		return nil, err
	}
	if err := envelopeErr("delete", resp.Envelope); err != nil {
		return nil, err
	}
	return resp.Doc, nil
}

func (c *Client) AllDocs(ctx context.Context, db string, skip, limit int, includeDeleted bool) ([]*document.Document, error) {
	var resp rpcproto.DocsResponse
	req := rpcproto.AllDocsRequest{Db: db, Skip: skip, Limit: limit, IncludeDeleted: includeDeleted}
	if err := c.call(ctx, rpcproto.OpAllDocs, req, &resp); err != nil {
		return nil, err
	}
	if err := envelopeErr("allDocs", resp.Envelope); err != nil {
		return nil, err
	}
	return resp.Docs, nil
}

func (c *Client) FindByFields(ctx context.Context, db string, equals map[string]string, numericRange map[string]index.NumericRange, skip, limit int) ([]*document.Document, error) {
	wireRange := make(map[string]rpcproto.NumericRangeArg, len(numericRange))
	for path, r := range numericRange {
		wireRange[path] = rpcproto.NumericRangeArg{Min: r.Min, Max: r.Max}
	}
	var resp rpcproto.DocsResponse
	req := rpcproto.FindByFieldsRequest{Db: db, Equals: equals, NumericRange: wireRange, Skip: skip, Limit: limit}
	if err := c.call(ctx, rpcproto.OpFindByFields, req, &resp); err != nil {
		return nil, err
	}
	if err := envelopeErr("findByFields", resp.Envelope); err != nil {
		return nil, err
	}
	return resp.Docs, nil
}

func (c *Client) FindByTags(ctx context.Context, db string, allOf, anyOf, noneOf []string, skip, limit int) ([]*document.Document, error) {
	var resp rpcproto.DocsResponse
	req := rpcproto.FindByTagsRequest{Db: db, AllOf: allOf, AnyOf: anyOf, NoneOf: noneOf, Skip: skip, Limit: limit}
	if err := c.call(ctx, rpcproto.OpFindByTags, req, &resp); err != nil {
		return nil, err
	}
	if err := envelopeErr("findByTags", resp.Envelope); err != nil {
		return nil, err
	}
	return resp.Docs, nil
}

func (c *Client) FullTextSearch(ctx context.Context, db, query string, skip, limit int) ([]*document.Document, error) {
	var resp rpcproto.DocsResponse
	req := rpcproto.FullTextSearchRequest{Db: db, Query: query, Skip: skip, Limit: limit}
	if err := c.call(ctx, rpcproto.OpFullTextSearch, req, &resp); err != nil {
		return nil, err
	}
	if err := envelopeErr("fullTextSearch", resp.Envelope); err != nil {
		return nil, err
	}
	return resp.Docs, nil
}

func (c *Client) Seq(ctx context.Context, db string) (uint64, error) {
	var resp rpcproto.SeqResponse
	if err := c.call(ctx, rpcproto.OpSeq, rpcproto.SeqRequest{Db: db}, &resp); err != nil {
		return 0, err
	}
	if err := envelopeErr("seq", resp.Envelope); err != nil {
		return 0, err
	}
	return resp.Seq, nil
}

// Stats is the shard-client-facing shape mirroring spec.md §4.8's literal
// field list.
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

func (c *Client) Stats(ctx context.Context, db string) (Stats, error) {
	var resp rpcproto.StatsResponse
	if err := c.call(ctx, rpcproto.OpStats, rpcproto.StatsRequest{Db: db}, &resp); err != nil {
		return Stats{}, err
	}
	if err := envelopeErr("stats", resp.Envelope); err != nil {
		return Stats{}, err
	}
	return Stats{
		Db: resp.Db, Seq: resp.Seq, DocsTotal: resp.DocsTotal, DocsAlive: resp.DocsAlive,
		DocsDeleted: resp.DocsDeleted, EqIndexFields: resp.EqIndexFields,
		TagIndexCount: resp.TagIndexCount, FullTextTokens: resp.FullTextTokens,
	}, nil
}

func (c *Client) GetReplicationState(ctx context.Context) (rpcproto.GetReplicationStateResponse, error) {
	var resp rpcproto.GetReplicationStateResponse
	if err := c.call(ctx, rpcproto.OpGetReplicationState, struct{}{}, &resp); err != nil {
		return rpcproto.GetReplicationStateResponse{}, err
	}
	if err := envelopeErr("getReplicationState", resp.Envelope); err != nil {
		return rpcproto.GetReplicationStateResponse{}, err
	}
	return resp, nil
}

func (c *Client) Replicate(ctx context.Context, entry rpcproto.ReplicationEntry) error {
	var resp rpcproto.AckResponse
	if err := c.call(ctx, rpcproto.OpReplicate, rpcproto.ReplicateRequest{Entry: entry}, &resp); err != nil {
		return err
	}
	return envelopeErr("replicate", resp.Envelope)
}

func (c *Client) ReplicateBatch(ctx context.Context, entries []rpcproto.ReplicationEntry) error {
	var resp rpcproto.AckResponse
	if err := c.call(ctx, rpcproto.OpReplicateBatch, rpcproto.ReplicateBatchRequest{Entries: entries}, &resp); err != nil {
		return err
	}
	return envelopeErr("replicateBatch", resp.Envelope)
}

func (c *Client) Promote(ctx context.Context) error {
	var resp rpcproto.AckResponse
	if err := c.call(ctx, rpcproto.OpPromote, struct{}{}, &resp); err != nil {
		return err
	}
	return envelopeErr("promote", resp.Envelope)
}

func (c *Client) SetPrimary(ctx context.Context, primaryURL string) error {
	var resp rpcproto.AckResponse
	if err := c.call(ctx, rpcproto.OpSetPrimary, rpcproto.SetPrimaryRequest{PrimaryURL: primaryURL}, &resp); err != nil {
		return err
	}
	return envelopeErr("setPrimary", resp.Envelope)
}

func (c *Client) GetWalEntries(ctx context.Context, db string, fromSeq uint64, limit int) ([]rpcproto.ReplicationEntry, error) {
	var resp rpcproto.GetWalEntriesResponse
	req := rpcproto.GetWalEntriesRequest{Db: db, FromSeq: fromSeq, Limit: limit}
	if err := c.call(ctx, rpcproto.OpGetWalEntries, req, &resp); err != nil {
		return nil, err
	}
	if err := envelopeErr("getWalEntries", resp.Envelope); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}
