// Package election implements Leader Election for a shard whose primary is
// down (spec.md §4.11): gather replication state from every non-unhealthy
// replica in parallel under a bounded timeout, filter to healthy replies,
// sort by (-seq, replicaIndex), promote the winner, and notify it. The
// actual RPCs are injected by the caller (internal/coordinator) so this
// package stays free of any dependency on the wire protocol.
package election

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
	"github.com/kartikbazzad/peacedb/internal/replicaset"
)

// ReplicationState is the subset of a replica's self-reported state
// election needs.
type ReplicationState struct {
	Healthy bool
	Seq     uint64
}

// QueryFunc asks one replica for its current replication state.
type QueryFunc func(ctx context.Context, r *replicaset.Replica) (ReplicationState, error)

// NotifyFunc tells the election's winner it is now primary. Errors are
// ignored by Elect (spec.md §4.11 step 6): the winner's self-state
// corrects on its next health cycle regardless.
type NotifyFunc func(ctx context.Context, r *replicaset.Replica) error

type candidate struct {
	replica *replicaset.Replica
	seq     uint64
}

type candidateCollector struct {
	mu    sync.Mutex
	items []candidate
}

func (c *candidateCollector) add(cand candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, cand)
}

// Elect runs one election over rs's non-unhealthy members, each query
// bounded by perCallTimeout. It promotes the winner via
// rs.PromoteToPrimary and calls notify on it, ignoring notify's error.
func Elect(ctx context.Context, rs *replicaset.ReplicaSet, perCallTimeout time.Duration, query QueryFunc, notify NotifyFunc) (*replicaset.Replica, error) {
	members := rs.Replicas()

	collector := &candidateCollector{}
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range members {
		r := r
		if r.HealthStatus == replicaset.HealthUnhealthy {
			continue
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, perCallTimeout)
			defer cancel()
			reply, err := query(callCtx, r)
			if err != nil || !reply.Healthy {
				return nil // non-fatal: this candidate just doesn't join the pool
			}
			// Fold the reply into the replica set's state so the winner's
			// electability check sees this evidence, not a stale probe.
			rs.RecordHealthReply(r.BaseURL, reply.Seq)
			collector.add(candidate{replica: r, seq: reply.Seq})
			return nil
		})
	}
	_ = g.Wait() // per-candidate errors are absorbed inside each goroutine

	candidates := collector.items
	if len(candidates) == 0 {
		return nil, pdberrors.New("election.Elect", pdberrors.KindElectionFailed, pdberrors.ErrNoCandidate)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].seq != candidates[j].seq {
			return candidates[i].seq > candidates[j].seq
		}
		return candidates[i].replica.ReplicaIndex < candidates[j].replica.ReplicaIndex
	})
	winner := candidates[0].replica

	if err := rs.PromoteToPrimary(winner.BaseURL); err != nil {
		return nil, err
	}
	if notify != nil {
		_ = notify(ctx, winner)
	}
	return winner, nil
}

// ShouldReElect is the advisory re-election signal: true when the primary's
// seq lags any replica by more than 1000.
func ShouldReElect(rs *replicaset.ReplicaSet) bool {
	primary := rs.Primary()
	if primary == nil {
		return true
	}
	for _, r := range rs.Replicas() {
		if r.LastSeq > primary.LastSeq+1000 {
			return true
		}
	}
	return false
}
