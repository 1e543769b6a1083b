package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kartikbazzad/peacedb/internal/pevents"
	"github.com/kartikbazzad/peacedb/internal/replicaset"
)

func buildSet() (*replicaset.ReplicaSet, *replicaset.Replica, *replicaset.Replica) {
	rs := replicaset.New(0, pevents.New(), 2)
	primary := &replicaset.Replica{BaseURL: "p", HealthStatus: replicaset.HealthHealthy, SyncState: replicaset.SyncInSync}
	replica := &replicaset.Replica{BaseURL: "r1", ReplicaIndex: 1, HealthStatus: replicaset.HealthHealthy, SyncState: replicaset.SyncInSync}
	rs.SetPrimary(primary)
	rs.AddReplica(replica)
	return rs, primary, replica
}

func TestScanOnceRecordsHealthyReplies(t *testing.T) {
	rs, primary, replica := buildSet()

	probe := func(ctx context.Context, r *replicaset.Replica) (ProbeResult, error) {
		return ProbeResult{Healthy: true, Seq: 7}, nil
	}

	m, err := New(50*time.Millisecond, time.Second, func() []*replicaset.ReplicaSet { return []*replicaset.ReplicaSet{rs} }, probe, nil)
	if err != nil {
		t.Fatalf("unexpected error building monitor: %v", err)
	}
	defer m.Stop() // monitor was never started; Stop still tears down the pool cleanly

	m.scanOnce()

	if primary.LastSeq != 7 || replica.LastSeq != 7 {
		t.Fatalf("expected both replicas to record seq 7, got primary=%d replica=%d", primary.LastSeq, replica.LastSeq)
	}
}

func TestScanOnceMarksFailuresAfterThreshold(t *testing.T) {
	rs, primary, _ := buildSet()
	bus := pevents.New()
	rs = replicaset.New(0, bus, 2)
	rs.SetPrimary(primary)
	down := bus.SubscribePrimaryDown()

	probe := func(ctx context.Context, r *replicaset.Replica) (ProbeResult, error) {
		return ProbeResult{Healthy: false}, nil
	}

	m, err := New(time.Hour, time.Second, func() []*replicaset.ReplicaSet { return []*replicaset.ReplicaSet{rs} }, probe, nil)
	if err != nil {
		t.Fatalf("unexpected error building monitor: %v", err)
	}
	defer m.Stop()

	m.scanOnce()
	m.scanOnce()

	select {
	case ev := <-down:
		if ev.DownedPrimary != "p" {
			t.Fatalf("unexpected event: %#v", ev)
		}
	default:
		t.Fatalf("expected PrimaryDown once the unhealthy threshold is reached")
	}
}

func TestStartStopTicksAtLeastOnce(t *testing.T) {
	rs, _, _ := buildSet()
	var mu sync.Mutex
	calls := 0
	probe := func(ctx context.Context, r *replicaset.Replica) (ProbeResult, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return ProbeResult{Healthy: true, Seq: 1}, nil
	}

	m, err := New(10*time.Millisecond, time.Second, func() []*replicaset.ReplicaSet { return []*replicaset.ReplicaSet{rs} }, probe, nil)
	if err != nil {
		t.Fatalf("unexpected error building monitor: %v", err)
	}
	m.Start()
	time.Sleep(60 * time.Millisecond)
	m.Stop()

	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Fatalf("expected at least one probe tick before stop")
	}
}
