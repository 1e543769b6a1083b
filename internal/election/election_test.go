package election

import (
	"context"
	"testing"
	"time"

	"github.com/kartikbazzad/peacedb/internal/pevents"
	"github.com/kartikbazzad/peacedb/internal/replicaset"
)

func buildSet() (*replicaset.ReplicaSet, *replicaset.Replica, *replicaset.Replica) {
	rs := replicaset.New(0, pevents.New(), 3)
	a := &replicaset.Replica{BaseURL: "a", ReplicaIndex: 0, HealthStatus: replicaset.HealthHealthy, SyncState: replicaset.SyncInSync}
	b := &replicaset.Replica{BaseURL: "b", ReplicaIndex: 1, HealthStatus: replicaset.HealthHealthy, SyncState: replicaset.SyncInSync}
	rs.SetPrimary(&replicaset.Replica{BaseURL: "down-primary", HealthStatus: replicaset.HealthUnhealthy})
	rs.AddReplica(a)
	rs.AddReplica(b)
	return rs, a, b
}

func TestElectPicksHighestSeq(t *testing.T) {
	rs, a, b := buildSet()
	seqs := map[string]uint64{a.BaseURL: 10, b.BaseURL: 42}

	query := func(ctx context.Context, r *replicaset.Replica) (ReplicationState, error) {
		return ReplicationState{Healthy: true, Seq: seqs[r.BaseURL]}, nil
	}

	winner, err := Elect(context.Background(), rs, time.Second, query, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if winner.BaseURL != "b" {
		t.Fatalf("expected highest-seq replica to win, got %s", winner.BaseURL)
	}
	if rs.Primary().BaseURL != "b" {
		t.Fatalf("expected winner installed as primary")
	}
}

func TestElectTieBreaksByReplicaIndex(t *testing.T) {
	rs, a, b := buildSet()
	_ = a
	_ = b
	query := func(ctx context.Context, r *replicaset.Replica) (ReplicationState, error) {
		return ReplicationState{Healthy: true, Seq: 7}, nil
	}

	winner, err := Elect(context.Background(), rs, time.Second, query, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if winner.BaseURL != "a" {
		t.Fatalf("expected tie broken toward lowest replica index, got %s", winner.BaseURL)
	}
}

func TestElectFailsWithNoHealthyCandidate(t *testing.T) {
	rs, _, _ := buildSet()
	query := func(ctx context.Context, r *replicaset.Replica) (ReplicationState, error) {
		return ReplicationState{Healthy: false}, nil
	}

	if _, err := Elect(context.Background(), rs, time.Second, query, nil); err == nil {
		t.Fatalf("expected election to fail when no candidate reports healthy")
	}
}

func TestElectNotifiesWinner(t *testing.T) {
	rs, _, b := buildSet()
	_ = b
	query := func(ctx context.Context, r *replicaset.Replica) (ReplicationState, error) {
		return ReplicationState{Healthy: true, Seq: 1}, nil
	}
	var notified string
	notify := func(ctx context.Context, r *replicaset.Replica) error {
		notified = r.BaseURL
		return nil
	}

	winner, err := Elect(context.Background(), rs, time.Second, query, notify)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notified != winner.BaseURL {
		t.Fatalf("expected notify called with winner %s, got %s", winner.BaseURL, notified)
	}
}
