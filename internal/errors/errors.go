// Package errors defines the error taxonomy shared by every layer of
// PeaceDatabase, from the storage engine up through the replicated document
// service. See spec.md §7 for the meaning and propagation rules of each kind.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions (spec.md §7).
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindConflict
	KindQuorumUnavailable
	KindPartialWrite
	KindTransport
	KindElectionFailed
	KindRecoveryCorruption
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not-found"
	case KindConflict:
		return "conflict"
	case KindQuorumUnavailable:
		return "quorum-unavailable"
	case KindPartialWrite:
		return "partial-write"
	case KindTransport:
		return "transport"
	case KindElectionFailed:
		return "election-failed"
	case KindRecoveryCorruption:
		return "recovery-corruption"
	default:
		return "unknown"
	}
}

// PeaceError is the concrete error type carried across package boundaries.
// Use errors.Is/As against the sentinels below for identity, or KindOf for
// coarse dispatch (e.g. deciding whether a read should fall back to another
// replica).
type PeaceError struct {
	Kind Kind
	Op   string // operation that failed, e.g. "engine.Put"
	Err  error  // wrapped cause, may be nil
}

func (e *PeaceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *PeaceError) Unwrap() error { return e.Err }

// New builds a PeaceError for op/kind, optionally wrapping cause.
func New(op string, kind Kind, cause error) *PeaceError {
	return &PeaceError{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the Kind of err if it (or something it wraps) is a
// PeaceError.
func KindOf(err error) (Kind, bool) {
	var pe *PeaceError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Sentinel errors matched by identity (errors.Is) across the storage,
// index, and replication layers.
var (
	ErrEmptyID       = errors.New("document id must not be empty")
	ErrDocNotFound   = errors.New("document not found")
	ErrDBNotFound    = errors.New("database not found")
	ErrRevConflict   = errors.New("revision conflict")
	ErrRevOnCreate   = errors.New("rev must not be set when creating a document")
	ErrInvalidDBName = errors.New("invalid database name")
	ErrInvalidRange  = errors.New("malformed numeric range")
	ErrCorruptRecord = errors.New("corrupt record: failed to parse")
	ErrNoPrimary     = errors.New("replica set has no primary")
	ErrNoCandidate   = errors.New("no electable candidate for promotion")
	ErrFailoverBusy  = errors.New("failover already in progress for this shard")
	ErrNotElectable  = errors.New("replica is not electable")
	ErrUnknownShard  = errors.New("unknown shard id")
	ErrPoolStopped   = errors.New("pool is stopped")
	ErrDBClosed      = errors.New("database is not open")
	ErrInvalidPath   = errors.New("invalid document path")
	ErrNotAnObject   = errors.New("path does not address an object")
)
