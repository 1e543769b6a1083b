// Package replicaset implements the per-shard replica-set state machine:
// one primary reference (absent during failover), an ordered list of
// replicas, and the availability/electability/sync-state policies spec.md
// §4.9 defines. Its internal mutex plays the role of the teacher's
// Partition.mu; event publication goes through internal/pevents.
package replicaset

import (
	"sync"
	"time"

	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
	"github.com/kartikbazzad/peacedb/internal/pevents"
	"github.com/kartikbazzad/peacedb/internal/shardclient"
)

type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthInitializing
	HealthHealthy
	HealthUnhealthy
)

type SyncState int

const (
	SyncUnknown SyncState = iota
	SyncInSync
	SyncLagging
	SyncSyncing
	SyncOffline
)

func (s SyncState) String() string {
	switch s {
	case SyncInSync:
		return "insync"
	case SyncLagging:
		return "lagging"
	case SyncSyncing:
		return "syncing"
	case SyncOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Replica is one member of a shard's replica set, primary or not.
type Replica struct {
	ShardID            int
	ReplicaIndex       int
	BaseURL            string
	IsPrimary          bool
	IsLocal            bool
	HealthStatus       HealthStatus
	SyncState          SyncState
	LastSeq            uint64
	LastHealthCheck    time.Time
	FailedHealthChecks int
	PromotedAt         time.Time
	ReplicationLagMs   int64
	Client             shardclient.Client
}

// Available reports spec.md §4.9's availability policy.
func (r *Replica) Available() bool {
	return r.HealthStatus == HealthHealthy && r.SyncState != SyncOffline
}

// Electable reports spec.md §4.9's electability policy.
func (r *Replica) Electable() bool {
	return r.Available() && r.SyncState == SyncInSync
}

// ReplicaSet owns one shard's primary/replica topology.
type ReplicaSet struct {
	mu          sync.RWMutex
	shardID     int
	primary     *Replica
	replicas    []*Replica
	bus         *pevents.Bus
	unhealthyN  int // UnhealthyThreshold from config.HealthConfig
}

func New(shardID int, bus *pevents.Bus, unhealthyThreshold int) *ReplicaSet {
	return &ReplicaSet{shardID: shardID, bus: bus, unhealthyN: unhealthyThreshold}
}

// SetPrimary installs primary as this shard's primary with no history
// bookkeeping, used only during Initialize before any traffic flows.
func (rs *ReplicaSet) SetPrimary(r *Replica) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r.IsPrimary = true
	rs.primary = r
}

// AddReplica appends a non-primary replica, used only during Initialize.
func (rs *ReplicaSet) AddReplica(r *Replica) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r.IsPrimary = false
	rs.replicas = append(rs.replicas, r)
}

func (rs *ReplicaSet) ShardID() int { return rs.shardID }

// Primary returns the current primary, or nil during a failover window.
func (rs *ReplicaSet) Primary() *Replica {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.primary
}

// Replicas returns the non-primary members in order.
func (rs *ReplicaSet) Replicas() []*Replica {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]*Replica, len(rs.replicas))
	copy(out, rs.replicas)
	return out
}

// All returns primary (if any) followed by every replica.
func (rs *ReplicaSet) All() []*Replica {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]*Replica, 0, len(rs.replicas)+1)
	if rs.primary != nil {
		out = append(out, rs.primary)
	}
	out = append(out, rs.replicas...)
	return out
}

// WriteTargets is {primary if available} ∪ available replicas.
func (rs *ReplicaSet) WriteTargets() []*Replica {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	var out []*Replica
	if rs.primary != nil && rs.primary.Available() {
		out = append(out, rs.primary)
	}
	for _, r := range rs.replicas {
		if r.Available() {
			out = append(out, r)
		}
	}
	return out
}

// ReadTargets applies spec.md §4.9's read-target policy: primary-only
// unless loadBalancing is enabled, in which case in-sync replicas join in.
func (rs *ReplicaSet) ReadTargets(loadBalancing bool) []*Replica {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	var out []*Replica
	if rs.primary != nil && rs.primary.Available() {
		out = append(out, rs.primary)
	}
	if loadBalancing {
		for _, r := range rs.replicas {
			if r.Available() && r.SyncState == SyncInSync {
				out = append(out, r)
			}
		}
	}
	return out
}

// RecordHealthReply applies a successful GetReplicationState reply: reset
// the failure counter, recompute sync state against the primary's last
// known seq, and emit ReplicaRecovered if this replica had been unhealthy.
func (rs *ReplicaSet) RecordHealthReply(replicaID string, seq uint64) {
	rs.mu.Lock()
	target := rs.find(replicaID)
	if target == nil {
		rs.mu.Unlock()
		return
	}
	wasUnhealthy := target.HealthStatus == HealthUnhealthy
	target.LastSeq = seq
	target.FailedHealthChecks = 0
	target.HealthStatus = HealthHealthy
	target.LastHealthCheck = time.Now()
	rs.recomputeSyncStateLocked(target)
	shardID := rs.shardID
	rs.mu.Unlock()

	if wasUnhealthy && rs.bus != nil {
		rs.bus.PublishReplicaRecovered(pevents.ReplicaRecovered{ShardID: shardID, ReplicaID: replicaID})
	}
}

// RecordHealthFailure applies a failed or errored health probe: increments
// the failure counter and, once it reaches unhealthyN for the current
// primary, marks the primary down (the caller is expected to then drive
// failover) and emits PrimaryDown.
func (rs *ReplicaSet) RecordHealthFailure(replicaID string) {
	rs.mu.Lock()
	target := rs.find(replicaID)
	if target == nil {
		rs.mu.Unlock()
		return
	}
	target.FailedHealthChecks++
	target.LastHealthCheck = time.Now()

	isPrimary := rs.primary != nil && rs.primary.BaseURL == replicaID
	var firePrimaryDown bool
	if isPrimary && target.FailedHealthChecks >= rs.unhealthyN {
		target.HealthStatus = HealthUnhealthy
		firePrimaryDown = true
	} else if target.FailedHealthChecks >= rs.unhealthyN {
		target.HealthStatus = HealthUnhealthy
		target.SyncState = SyncOffline
	}
	shardID := rs.shardID
	downed := replicaID
	rs.mu.Unlock()

	if firePrimaryDown && rs.bus != nil {
		rs.bus.PublishPrimaryDown(pevents.PrimaryDown{ShardID: shardID, DownedPrimary: downed})
	}
}

func (rs *ReplicaSet) recomputeSyncStateLocked(target *Replica) {
	if rs.primary == nil || rs.primary == target {
		target.SyncState = SyncInSync
		target.ReplicationLagMs = 0
		return
	}
	lag := int64(rs.primary.LastSeq) - int64(target.LastSeq)
	target.ReplicationLagMs = lag
	if lag <= 0 || lag < 100 {
		target.SyncState = SyncInSync
	} else {
		target.SyncState = SyncLagging
	}
}

func (rs *ReplicaSet) find(replicaID string) *Replica {
	if rs.primary != nil && rs.primary.BaseURL == replicaID {
		return rs.primary
	}
	for _, r := range rs.replicas {
		if r.BaseURL == replicaID {
			return r
		}
	}
	return nil
}

// PromoteToPrimary implements spec.md §4.9's promotion: the current primary
// (if any) demotes to the replica list, the target is removed from the
// replica list and installed as primary, and PrimaryChanged fires.
func (rs *ReplicaSet) PromoteToPrimary(replicaID string) error {
	rs.mu.Lock()
	var target *Replica
	var targetIdx = -1
	for i, r := range rs.replicas {
		if r.BaseURL == replicaID {
			target = r
			targetIdx = i
			break
		}
	}
	if target == nil || !target.Electable() {
		rs.mu.Unlock()
		return pdberrors.New("replicaset.PromoteToPrimary", pdberrors.KindNotFound, pdberrors.ErrNotElectable)
	}

	oldPrimary := rs.primary
	oldID := ""
	if oldPrimary != nil {
		oldID = oldPrimary.BaseURL
		oldPrimary.IsPrimary = false
		rs.replicas = append(rs.replicas, oldPrimary)
	}
	rs.replicas = append(rs.replicas[:targetIdx], rs.replicas[targetIdx+1:]...)
	target.IsPrimary = true
	target.PromotedAt = time.Now()
	rs.primary = target
	shardID := rs.shardID
	rs.mu.Unlock()

	if rs.bus != nil {
		rs.bus.PublishPrimaryChanged(pevents.PrimaryChanged{ShardID: shardID, OldPrimary: oldID, NewPrimary: replicaID})
	}
	return nil
}

// ClearPrimary removes the primary reference without promoting anyone,
// the state a replica set is in mid-failover (Leader Election step 1-4).
func (rs *ReplicaSet) ClearPrimary() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.primary = nil
}
