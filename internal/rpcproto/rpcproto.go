// Package rpcproto defines the JSON request/response shapes exchanged
// between replica processes (spec.md §6.2). It plays the role of the
// teacher's internal/ipc/protocol.go — request/response pairs, here without
// a request id — but text (JSON) instead of the teacher's binary frame,
// per the spec's explicit text-based-protocol requirement.
package rpcproto

import "github.com/kartikbazzad/peacedb/internal/document"

// Op names one RPC endpoint; used as the HTTP path suffix by rpcserver
// and rpcclient alike.
type Op string

const (
	OpHealthCheck         Op = "healthCheck"
	OpCreateDb            Op = "createDb"
	OpDeleteDb            Op = "deleteDb"
	OpGet                 Op = "get"
	OpPut                 Op = "put"
	OpPost                Op = "post"
	OpDelete              Op = "delete"
	OpAllDocs             Op = "allDocs"
	OpSeq                 Op = "seq"
	OpStats               Op = "stats"
	OpFindByFields        Op = "findByFields"
	OpFindByTags          Op = "findByTags"
	OpFullTextSearch      Op = "fullTextSearch"
	OpGetReplicationState Op = "getReplicationState"
	OpReplicate           Op = "replicate"
	OpReplicateBatch      Op = "replicateBatch"
	OpPromote             Op = "promote"
	OpSetPrimary          Op = "setPrimary"
	OpGetWalEntries       Op = "getWalEntries"
)

// ErrorPayload is the JSON shape of a failed response body.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Envelope wraps every response: exactly one of Error or the operation's
// own result fields is populated.
type Envelope struct {
	Error *ErrorPayload `json:"error,omitempty"`
}

type CreateDbRequest struct {
	Db string `json:"db"`
}

type DeleteDbRequest struct {
	Db string `json:"db"`
}

type GetRequest struct {
	Db  string `json:"db"`
	ID  string `json:"id"`
	Rev string `json:"rev,omitempty"`
}

type GetResponse struct {
	Envelope
	Doc   *document.Document `json:"doc,omitempty"`
	Found bool                `json:"found"`
}

type PutRequest struct {
	Db  string              `json:"db"`
	Doc *document.Document `json:"doc"`
}

type PostRequest struct {
	Db  string              `json:"db"`
	Doc *document.Document `json:"doc"`
}

type DocResponse struct {
	Envelope
	Doc *document.Document `json:"doc,omitempty"`
}

type DeleteRequest struct {
	Db  string `json:"db"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

type AllDocsRequest struct {
	Db             string `json:"db"`
	Skip           int    `json:"skip"`
	Limit          int    `json:"limit"`
	IncludeDeleted bool   `json:"includeDeleted"`
}

type DocsResponse struct {
	Envelope
	Docs []*document.Document `json:"docs"`
}

type NumericRangeArg struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

type FindByFieldsRequest struct {
	Db           string                     `json:"db"`
	Equals       map[string]string          `json:"equals,omitempty"`
	NumericRange map[string]NumericRangeArg `json:"numericRange,omitempty"`
	Skip         int                        `json:"skip"`
	Limit        int                        `json:"limit"`
}

type FindByTagsRequest struct {
	Db     string   `json:"db"`
	AllOf  []string `json:"allOf,omitempty"`
	AnyOf  []string `json:"anyOf,omitempty"`
	NoneOf []string `json:"noneOf,omitempty"`
	Skip   int      `json:"skip"`
	Limit  int      `json:"limit"`
}

type FullTextSearchRequest struct {
	Db    string `json:"db"`
	Query string `json:"query"`
	Skip  int    `json:"skip"`
	Limit int    `json:"limit"`
}

type SeqRequest struct {
	Db string `json:"db"`
}

type SeqResponse struct {
	Envelope
	Seq uint64 `json:"seq"`
}

type StatsRequest struct {
	Db string `json:"db"`
}

type StatsResponse struct {
	Envelope
	Db             string `json:"db"`
	Seq            uint64 `json:"seq"`
	DocsTotal      int    `json:"docsTotal"`
	DocsAlive      int    `json:"docsAlive"`
	DocsDeleted    int    `json:"docsDeleted"`
	EqIndexFields  int    `json:"eqIndexFields"`
	TagIndexCount  int    `json:"tagIndexCount"`
	FullTextTokens int    `json:"fullTextTokens"`
}

type HealthCheckResponse struct {
	Envelope
	Healthy bool `json:"healthy"`
}

// ReplicationEntry is one durable mutation shipped between replicas,
// spec.md §6.2's ReplicationEntry shape.
type ReplicationEntry struct {
	Op        string              `json:"op"` // createDb | deleteDb | put | post | delete
	Db        string              `json:"db"`
	ID        string              `json:"id,omitempty"`
	Rev       string              `json:"rev,omitempty"`
	Seq       uint64              `json:"seq"`
	Doc       *document.Document `json:"doc,omitempty"`
	Timestamp int64               `json:"timestamp,omitempty"`
}

type ReplicateRequest struct {
	Entry ReplicationEntry `json:"entry"`
}

type ReplicateBatchRequest struct {
	Entries []ReplicationEntry `json:"entries"`
}

type SetPrimaryRequest struct {
	PrimaryURL string `json:"primaryUrl"`
}

type GetWalEntriesRequest struct {
	Db      string `json:"db"`
	FromSeq uint64 `json:"fromSeq"`
	Limit   int    `json:"limit"`
}

type GetWalEntriesResponse struct {
	Envelope
	Entries []ReplicationEntry `json:"entries"`
}

// GetReplicationStateResponse answers "what is this replica's current
// replication posture", polled by the Health Monitor and consulted by
// Leader Election.
type GetReplicationStateResponse struct {
	Envelope
	Healthy          bool    `json:"healthy"`
	IsPrimary        bool    `json:"isPrimary"`
	Seq              uint64  `json:"seq"`
	WalPosition      *int64  `json:"walPosition,omitempty"`
	UptimeSeconds    float64 `json:"uptimeSeconds"`
	CurrentPrimaryURL string `json:"currentPrimaryUrl,omitempty"`
	ReplicationLag   int64   `json:"replicationLag"`
	LastSyncAt       *int64  `json:"lastSyncAt,omitempty"`
}

type AckResponse struct {
	Envelope
	Ok bool `json:"ok"`
}
