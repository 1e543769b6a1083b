// Package coordinator implements the Replication Coordinator (spec.md
// §4.12): it owns every shard's replica set and shares one client per
// replica identity, caching them the way the teacher's Catalog caches
// database entries under a single mutex-guarded map
// (internal/catalog/catalog.go) keyed by a stable identity instead of a
// numeric id.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kartikbazzad/peacedb/internal/config"
	"github.com/kartikbazzad/peacedb/internal/election"
	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
	"github.com/kartikbazzad/peacedb/internal/health"
	"github.com/kartikbazzad/peacedb/internal/logging"
	"github.com/kartikbazzad/peacedb/internal/metrics"
	"github.com/kartikbazzad/peacedb/internal/pevents"
	"github.com/kartikbazzad/peacedb/internal/replicaset"
	"github.com/kartikbazzad/peacedb/internal/rpcclient"
	"github.com/kartikbazzad/peacedb/internal/rpcproto"
	"github.com/kartikbazzad/peacedb/internal/shardclient"
	"github.com/kartikbazzad/peacedb/internal/storage"
	"github.com/kartikbazzad/peacedb/internal/walog"
)

// Coordinator owns every shard's replica set for one node process.
type Coordinator struct {
	mu   sync.RWMutex
	sets map[int]*replicaset.ReplicaSet

	clientMu sync.Mutex
	clients  map[string]shardclient.Client

	failoverMu sync.Mutex
	inFlight   map[int]bool

	shardCfg  config.ShardingConfig
	replCfg   config.ReplicationConfig
	healthCfg config.HealthConfig

	localEngine *storage.FileEngine // non-nil only in local (single-process) mode
	bus         *pevents.Bus
	log         *logging.Logger
	retry       *pdberrors.RetryController
	metrics     *metrics.Metrics

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(shardCfg config.ShardingConfig, replCfg config.ReplicationConfig, healthCfg config.HealthConfig, localEngine *storage.FileEngine, bus *pevents.Bus, log *logging.Logger) *Coordinator {
	if log == nil {
		log = logging.Default()
	}
	return &Coordinator{
		sets: make(map[int]*replicaset.ReplicaSet), clients: make(map[string]shardclient.Client),
		inFlight: make(map[int]bool), shardCfg: shardCfg, replCfg: replCfg, healthCfg: healthCfg,
		localEngine: localEngine, bus: bus, log: log.With("coordinator"),
		retry: pdberrors.NewRetryController(),
	}
}

// Initialize builds every shard's replica set from static config, per
// spec.md §4.12: explicit ReplicaSets wins if present, otherwise group
// Shards by shardId (first entry per shard becomes primary), otherwise
// (pure local mode, no Shards/ReplicaSets configured at all) synthesize
// NumShards in-process replica sets backed by the single colocated engine.
func (c *Coordinator) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case len(c.shardCfg.ReplicaSets) > 0:
		for _, spec := range c.shardCfg.ReplicaSets {
			rs := replicaset.New(spec.ShardID, c.bus, c.healthCfg.UnhealthyThreshold)
			rs.SetPrimary(c.buildReplica(spec.ShardID, 0, spec.Primary))
			for i, url := range spec.Replicas {
				rs.AddReplica(c.buildReplica(spec.ShardID, i+1, url))
			}
			c.sets[spec.ShardID] = rs
		}
	case len(c.shardCfg.Shards) > 0:
		var order []int
		byShard := make(map[int][]config.ShardSpec)
		for _, s := range c.shardCfg.Shards {
			if _, seen := byShard[s.ShardID]; !seen {
				order = append(order, s.ShardID)
			}
			byShard[s.ShardID] = append(byShard[s.ShardID], s)
		}
		for _, id := range order {
			specs := byShard[id]
			rs := replicaset.New(id, c.bus, c.healthCfg.UnhealthyThreshold)
			rs.SetPrimary(c.buildReplica(id, 0, specs[0].BaseURL))
			for i, s := range specs[1:] {
				rs.AddReplica(c.buildReplica(id, i+1, s.BaseURL))
			}
			c.sets[id] = rs
		}
	default:
		n := c.shardCfg.NumShards
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			rs := replicaset.New(i, c.bus, c.healthCfg.UnhealthyThreshold)
			rs.SetPrimary(c.buildReplica(i, 0, fmt.Sprintf("local://shard-%d-primary", i)))
			for j := 0; j < c.replCfg.ReplicationFactor; j++ {
				rs.AddReplica(c.buildReplica(i, j+1, fmt.Sprintf("local://shard-%d-replica-%d", i, j+1)))
			}
			c.sets[i] = rs
		}
	}
	c.log.Info("coordinator initialized", logging.Fields{"shards": len(c.sets)})
	return nil
}

func (c *Coordinator) buildReplica(shardID, replicaIndex int, baseURL string) *replicaset.Replica {
	isLocal := strings.HasPrefix(baseURL, "local://")
	return &replicaset.Replica{
		ShardID: shardID, ReplicaIndex: replicaIndex, BaseURL: baseURL, IsLocal: isLocal,
		HealthStatus: replicaset.HealthInitializing, SyncState: replicaset.SyncInSync,
		Client: c.clientFor(baseURL, isLocal),
	}
}

func (c *Coordinator) clientFor(baseURL string, isLocal bool) shardclient.Client {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	if cl, ok := c.clients[baseURL]; ok {
		return cl
	}
	var cl shardclient.Client
	if isLocal {
		cl = shardclient.NewLocalClient(baseURL, c.localEngine)
	} else {
		cl = shardclient.NewRemoteClient(rpcclient.New(baseURL, c.replCfg.RequestTimeout))
	}
	c.clients[baseURL] = cl
	return cl
}

func (c *Coordinator) GetReplicaSet(shardID int) (*replicaset.ReplicaSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rs, ok := c.sets[shardID]
	return rs, ok
}

func (c *Coordinator) GetAllReplicaSets() []*replicaset.ReplicaSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*replicaset.ReplicaSet, 0, len(c.sets))
	for _, rs := range c.sets {
		out = append(out, rs)
	}
	return out
}

// ReplicaSets matches health.Monitor's replicaSets callback shape.
func (c *Coordinator) ReplicaSets() []*replicaset.ReplicaSet { return c.GetAllReplicaSets() }

func (c *Coordinator) GetPrimaryClient(shardID int) (shardclient.Client, error) {
	rs, ok := c.GetReplicaSet(shardID)
	if !ok {
		return nil, pdberrors.New("coordinator.GetPrimaryClient", pdberrors.KindNotFound, fmt.Errorf("shard %d not found", shardID))
	}
	p := rs.Primary()
	if p == nil || !p.Available() {
		return nil, pdberrors.New("coordinator.GetPrimaryClient", pdberrors.KindQuorumUnavailable, fmt.Errorf("shard %d has no available primary", shardID))
	}
	return p.Client, nil
}

func (c *Coordinator) GetWriteClients(shardID int) []shardclient.Client {
	rs, ok := c.GetReplicaSet(shardID)
	if !ok {
		return nil
	}
	targets := rs.WriteTargets()
	out := make([]shardclient.Client, len(targets))
	for i, r := range targets {
		out[i] = r.Client
	}
	return out
}

func (c *Coordinator) GetReadClients(shardID int) []shardclient.Client {
	rs, ok := c.GetReplicaSet(shardID)
	if !ok {
		return nil
	}
	targets := rs.ReadTargets(c.replCfg.ReadLoadBalancing)
	out := make([]shardclient.Client, len(targets))
	for i, r := range targets {
		out[i] = r.Client
	}
	return out
}

// SetMetrics attaches the node's Prometheus bundle; failovers and replica
// sync states are recorded against it from then on.
func (c *Coordinator) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// Probe implements health.ProbeFunc, queried by the Health Monitor every
// HealthCheckIntervalMs for every replica of every replica set. The
// replica-state gauge is refreshed here, once per replica per cycle.
func (c *Coordinator) Probe(ctx context.Context, r *replicaset.Replica) (health.ProbeResult, error) {
	c.metrics.SetReplicaState(r.ShardID, r.BaseURL, r.SyncState.String())
	state, err := c.queryState(ctx, r)
	if err != nil {
		return health.ProbeResult{}, err
	}
	return health.ProbeResult{Healthy: state.Healthy, Seq: state.Seq}, nil
}

func (c *Coordinator) queryState(ctx context.Context, r *replicaset.Replica) (election.ReplicationState, error) {
	switch cl := r.Client.(type) {
	case *shardclient.RemoteClient:
		resp, err := cl.GetReplicationState(ctx)
		if err != nil {
			return election.ReplicationState{}, err
		}
		return election.ReplicationState{Healthy: resp.Healthy, Seq: resp.Seq}, nil
	case *shardclient.LocalClient:
		return election.ReplicationState{Healthy: cl.HealthCheck(ctx), Seq: r.LastSeq}, nil
	default:
		return election.ReplicationState{}, fmt.Errorf("coordinator: unrecognized client type for %s", r.BaseURL)
	}
}

func (c *Coordinator) notifyPromotion(ctx context.Context, r *replicaset.Replica) error {
	if cl, ok := r.Client.(*shardclient.RemoteClient); ok {
		return cl.Promote(ctx)
	}
	return nil // LocalClient has no self-state of its own to flip
}

// broadcastNewPrimary tells every surviving replica who won. SetPrimary is
// idempotent on the receiver, so transient transport failures are retried
// with backoff before giving up on that replica.
func (c *Coordinator) broadcastNewPrimary(ctx context.Context, rs *replicaset.ReplicaSet, newPrimaryURL string) {
	for _, r := range rs.Replicas() {
		if cl, ok := r.Client.(*shardclient.RemoteClient); ok {
			err := c.retry.Do(ctx, func() error { return cl.SetPrimary(ctx, newPrimaryURL) })
			if err != nil {
				c.log.Warn("setPrimary broadcast failed", logging.Fields{"replica": r.BaseURL, "err": err.Error()})
			}
		}
	}
}

// Failover runs one Leader Election for shardID and installs its winner
// (spec.md §4.12). Concurrent calls for the same shard collapse into one:
// the second returns immediately, mirroring the teacher's single-flight
// healing-queue dedup (internal/docdb/healing.go).
func (c *Coordinator) Failover(shardID int) error {
	c.failoverMu.Lock()
	if c.inFlight[shardID] {
		c.failoverMu.Unlock()
		return nil
	}
	c.inFlight[shardID] = true
	c.failoverMu.Unlock()
	defer func() {
		c.failoverMu.Lock()
		delete(c.inFlight, shardID)
		c.failoverMu.Unlock()
	}()

	rs, ok := c.GetReplicaSet(shardID)
	if !ok {
		return pdberrors.New("coordinator.Failover", pdberrors.KindNotFound, fmt.Errorf("shard %d not found", shardID))
	}

	oldPrimary := ""
	if p := rs.Primary(); p != nil {
		oldPrimary = p.BaseURL
	}

	ctx := context.Background()
	winner, err := election.Elect(ctx, rs, c.replCfg.FailoverTimeout, c.queryState, c.notifyPromotion)

	newPrimary := ""
	if winner != nil {
		newPrimary = winner.BaseURL
	}
	if c.bus != nil {
		c.bus.PublishFailoverCompleted(pevents.FailoverCompleted{
			ShardID: shardID, Success: err == nil, OldPrimary: oldPrimary, NewPrimary: newPrimary, Err: err,
		})
	}
	if err != nil {
		return err
	}
	c.metrics.RecordFailover(shardID)

	c.broadcastNewPrimary(ctx, rs, newPrimary)
	return nil
}

// HandlePrimaryDown is the thin wrapper PrimaryDown subscribers call.
func (c *Coordinator) HandlePrimaryDown(shardID int) error { return c.Failover(shardID) }

// Start runs the coordinator's event loop: PrimaryDown events route to
// HandlePrimaryDown (spec.md §4.10: "Subscribers route PrimaryDown to the
// Coordinator's HandlePrimaryDown"), ReplicaRecovered events trigger WAL
// catch-up for the returning replica, and a periodic sweep runs
// CheckAndFailover for shards the event path missed. No-op if the
// coordinator was built without a bus.
func (c *Coordinator) Start() {
	if c.bus == nil {
		return
	}
	c.stopCh = make(chan struct{})
	down := c.bus.SubscribePrimaryDown()
	recovered := c.bus.SubscribeReplicaRecovered()
	interval := c.healthCfg.ProbeInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case e := <-down:
				if err := c.HandlePrimaryDown(e.ShardID); err != nil {
					c.log.Warn("primary-down failover failed", logging.Fields{"shard": e.ShardID, "err": err.Error()})
				}
			case e := <-recovered:
				c.catchUpReplica(e.ShardID, e.ReplicaID)
			case <-ticker.C:
				c.CheckAndFailover()
			}
		}
	}()
}

// Stop halts the PrimaryDown subscriber loop started by Start.
func (c *Coordinator) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	c.wg.Wait()
}

// catchUpBatch caps how many WAL entries one catch-up shipment carries.
const catchUpBatch = 512

// catchUpReplica ships the WAL entries a freshly recovered replica missed,
// database by database: read the replica's current seq, pull everything
// newer from the shard primary's log (getWalEntries), and replay it on the
// replica (replicate/replicateBatch). Database names are only known when
// this coordinator is colocated with a storage engine; a pure router leaves
// catch-up to the shard's own nodes. Entries already rotated away by a
// snapshot cannot be shipped this way; the replica converges through
// subsequent writes instead.
func (c *Coordinator) catchUpReplica(shardID int, replicaID string) {
	if c.localEngine == nil {
		return
	}
	rs, ok := c.GetReplicaSet(shardID)
	if !ok {
		return
	}
	var target *shardclient.RemoteClient
	for _, r := range rs.Replicas() {
		if r.BaseURL == replicaID {
			// Colocated replicas share this node's engine; there is no
			// second copy of the data to bring up to date.
			target, _ = r.Client.(*shardclient.RemoteClient)
			break
		}
	}
	if target == nil {
		return
	}

	timeout := c.replCfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), 4*timeout)
	defer cancel()

	primary := rs.Primary()
	for _, db := range c.localEngine.Databases() {
		fromSeq, err := target.Seq(ctx, db)
		if err != nil {
			fromSeq = 0
		}
		entries, err := c.fetchWalEntries(ctx, primary, db, fromSeq)
		if err != nil {
			c.log.Warn("catch-up fetch failed", logging.Fields{"shard": shardID, "db": db, "err": err.Error()})
			continue
		}
		if len(entries) == 0 {
			continue
		}
		if len(entries) == 1 {
			err = target.Replicate(ctx, entries[0])
		} else {
			err = target.ReplicateBatch(ctx, entries)
		}
		if err != nil {
			c.log.Warn("catch-up shipment failed", logging.Fields{"shard": shardID, "db": db, "replica": replicaID, "err": err.Error()})
			continue
		}
		c.log.Info("replica caught up", logging.Fields{"shard": shardID, "db": db, "replica": replicaID, "entries": len(entries)})
	}
}

// fetchWalEntries reads entries newer than fromSeq from the shard primary:
// over the wire when the primary is remote, straight off the local log when
// this node holds the data itself.
func (c *Coordinator) fetchWalEntries(ctx context.Context, primary *replicaset.Replica, db string, fromSeq uint64) ([]rpcproto.ReplicationEntry, error) {
	if primary != nil {
		if pc, ok := primary.Client.(*shardclient.RemoteClient); ok {
			return pc.GetWalEntries(ctx, db, fromSeq, catchUpBatch)
		}
	}
	recs, err := c.localEngine.WalEntriesSince(db, fromSeq, catchUpBatch)
	if err != nil {
		return nil, err
	}
	entries := make([]rpcproto.ReplicationEntry, 0, len(recs))
	for _, rec := range recs {
		op := "put"
		if rec.Op == walog.OpDel {
			op = "delete"
		}
		entries = append(entries, rpcproto.ReplicationEntry{
			Op: op, Db: db, ID: rec.ID, Rev: rec.Rev, Seq: rec.Seq, Doc: rec.Doc, Timestamp: rec.TS,
		})
	}
	return entries, nil
}

// CheckAndFailover runs Failover for every shard whose primary is missing,
// unhealthy, or trailing its replicas far enough that re-election is
// warranted (election.ShouldReElect), in parallel.
func (c *Coordinator) CheckAndFailover() {
	var wg sync.WaitGroup
	for _, rs := range c.GetAllReplicaSets() {
		p := rs.Primary()
		if p != nil && p.Available() && !election.ShouldReElect(rs) {
			continue
		}
		rs := rs
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Failover(rs.ShardID()); err != nil {
				c.log.Warn("failover attempt failed", logging.Fields{"shard": rs.ShardID(), "err": err.Error()})
			}
		}()
	}
	wg.Wait()
}
