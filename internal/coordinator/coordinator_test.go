package coordinator

import (
	"testing"

	"github.com/kartikbazzad/peacedb/internal/config"
	"github.com/kartikbazzad/peacedb/internal/pevents"
	"github.com/kartikbazzad/peacedb/internal/replicaset"
	"github.com/kartikbazzad/peacedb/internal/storage"
)

func newLocalCoordinator(t *testing.T, numShards, replicationFactor int) *Coordinator {
	t.Helper()
	fe, err := storage.Open(t.TempDir(), config.WALConfig{MaxFileSizeMB: 1}, config.SnapshotConfig{}, nil)
	if err != nil {
		t.Fatalf("unexpected error opening engine: %v", err)
	}
	t.Cleanup(func() { _ = fe.Close() })

	shardCfg := config.ShardingConfig{NumShards: numShards}
	replCfg := config.ReplicationConfig{ReplicationFactor: replicationFactor}
	healthCfg := config.HealthConfig{UnhealthyThreshold: 3}
	c := New(shardCfg, replCfg, healthCfg, fe, pevents.New(), nil)
	if err := c.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	markAllHealthy(c)
	return c
}

func markAllHealthy(c *Coordinator) {
	for _, rs := range c.GetAllReplicaSets() {
		for _, r := range rs.All() {
			r.HealthStatus = replicaset.HealthHealthy
			r.SyncState = replicaset.SyncInSync
		}
	}
}

func TestInitializeLocalModeSynthesizesShardsAndReplicas(t *testing.T) {
	c := newLocalCoordinator(t, 3, 2)

	sets := c.GetAllReplicaSets()
	if len(sets) != 3 {
		t.Fatalf("expected 3 replica sets, got %d", len(sets))
	}
	rs, ok := c.GetReplicaSet(1)
	if !ok {
		t.Fatalf("expected shard 1 to exist")
	}
	if rs.Primary() == nil || rs.Primary().BaseURL != "local://shard-1-primary" {
		t.Fatalf("unexpected primary: %#v", rs.Primary())
	}
	if len(rs.Replicas()) != 2 {
		t.Fatalf("expected 2 replicas, got %d", len(rs.Replicas()))
	}
}

func TestClientForIsCachedByIdentity(t *testing.T) {
	c := newLocalCoordinator(t, 1, 1)
	rs, _ := c.GetReplicaSet(0)
	p := rs.Primary()

	again := c.clientFor(p.BaseURL, true)
	if again != p.Client {
		t.Fatalf("expected cached client instance to be reused")
	}
}

func TestGetPrimaryClientFailsWhenUnavailable(t *testing.T) {
	c := newLocalCoordinator(t, 1, 1)
	rs, _ := c.GetReplicaSet(0)
	rs.Primary().HealthStatus = replicaset.HealthUnhealthy

	if _, err := c.GetPrimaryClient(0); err == nil {
		t.Fatalf("expected error when primary is unavailable")
	}
}

func TestGetWriteClientsExcludesUnhealthyReplica(t *testing.T) {
	c := newLocalCoordinator(t, 1, 2)
	rs, _ := c.GetReplicaSet(0)
	rs.Replicas()[0].HealthStatus = replicaset.HealthUnhealthy

	clients := c.GetWriteClients(0)
	if len(clients) != 2 { // primary + one healthy replica
		t.Fatalf("expected 2 write clients, got %d", len(clients))
	}
}

func TestFailoverPromotesHighestSeqReplica(t *testing.T) {
	c := newLocalCoordinator(t, 1, 2)
	rs, _ := c.GetReplicaSet(0)
	rs.Primary().HealthStatus = replicaset.HealthUnhealthy
	replicas := rs.Replicas()
	replicas[0].LastSeq = 5
	replicas[1].LastSeq = 50

	if err := c.Failover(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.Primary().BaseURL != replicas[1].BaseURL {
		t.Fatalf("expected replica with highest seq promoted, got %s", rs.Primary().BaseURL)
	}
}

func TestFailoverIsNoopWhenAlreadyInFlight(t *testing.T) {
	c := newLocalCoordinator(t, 1, 1)
	c.failoverMu.Lock()
	c.inFlight[0] = true
	c.failoverMu.Unlock()

	if err := c.Failover(0); err != nil {
		t.Fatalf("expected a no-op success, got %v", err)
	}
}
