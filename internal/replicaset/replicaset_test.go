package replicaset

import (
	"testing"

	"github.com/kartikbazzad/peacedb/internal/pevents"
)

func newTestSet() (*ReplicaSet, *Replica, *Replica) {
	bus := pevents.New()
	rs := New(0, bus, 3)
	primary := &Replica{BaseURL: "r0", HealthStatus: HealthHealthy, SyncState: SyncInSync, LastSeq: 100}
	replica := &Replica{BaseURL: "r1", ReplicaIndex: 1, HealthStatus: HealthHealthy, SyncState: SyncInSync, LastSeq: 100}
	rs.SetPrimary(primary)
	rs.AddReplica(replica)
	return rs, primary, replica
}

func TestWriteTargetsExcludesUnavailableReplicas(t *testing.T) {
	rs, _, replica := newTestSet()
	replica.HealthStatus = HealthUnhealthy

	targets := rs.WriteTargets()
	if len(targets) != 1 || targets[0].BaseURL != "r0" {
		t.Fatalf("expected only the primary as a write target, got %#v", targets)
	}
}

func TestReadTargetsPrimaryOnlyWithoutLoadBalancing(t *testing.T) {
	rs, _, _ := newTestSet()
	targets := rs.ReadTargets(false)
	if len(targets) != 1 || targets[0].BaseURL != "r0" {
		t.Fatalf("expected primary-only read targets, got %#v", targets)
	}
}

func TestReadTargetsIncludeInSyncReplicasWithLoadBalancing(t *testing.T) {
	rs, _, _ := newTestSet()
	targets := rs.ReadTargets(true)
	if len(targets) != 2 {
		t.Fatalf("expected primary + in-sync replica, got %#v", targets)
	}
}

func TestRecordHealthFailureMarksPrimaryDownAfterThreshold(t *testing.T) {
	bus := pevents.New()
	downEvents := bus.SubscribePrimaryDown()
	rs := New(2, bus, 2)
	primary := &Replica{BaseURL: "p", HealthStatus: HealthHealthy, SyncState: SyncInSync}
	rs.SetPrimary(primary)

	rs.RecordHealthFailure("p")
	if primary.HealthStatus != HealthHealthy {
		t.Fatalf("one failure must not yet mark unhealthy")
	}
	rs.RecordHealthFailure("p")

	select {
	case ev := <-downEvents:
		if ev.ShardID != 2 || ev.DownedPrimary != "p" {
			t.Fatalf("unexpected event: %#v", ev)
		}
	default:
		t.Fatalf("expected a PrimaryDown event after reaching the unhealthy threshold")
	}
}

func TestPromoteToPrimarySwapsRolesAndEmitsEvent(t *testing.T) {
	bus := pevents.New()
	changed := bus.SubscribePrimaryChanged()
	rs := New(1, bus, 3)
	primary := &Replica{BaseURL: "old", HealthStatus: HealthHealthy, SyncState: SyncInSync}
	candidate := &Replica{BaseURL: "new", HealthStatus: HealthHealthy, SyncState: SyncInSync}
	rs.SetPrimary(primary)
	rs.AddReplica(candidate)

	if err := rs.PromoteToPrimary("new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.Primary().BaseURL != "new" {
		t.Fatalf("expected new primary, got %s", rs.Primary().BaseURL)
	}
	found := false
	for _, r := range rs.Replicas() {
		if r.BaseURL == "old" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected demoted primary to join the replica list")
	}

	select {
	case ev := <-changed:
		if ev.OldPrimary != "old" || ev.NewPrimary != "new" {
			t.Fatalf("unexpected event: %#v", ev)
		}
	default:
		t.Fatalf("expected a PrimaryChanged event")
	}
}

func TestPromoteToPrimaryRejectsNonElectableCandidate(t *testing.T) {
	rs, _, replica := newTestSet()
	replica.SyncState = SyncLagging

	if err := rs.PromoteToPrimary("r1"); err == nil {
		t.Fatalf("expected an error promoting a lagging replica")
	}
}
