// Package health implements the background Health Monitor (spec.md §4.10):
// every probe interval it queries every replica of every replica set in
// parallel and feeds the reply into that replica set's transition logic.
// The background-loop shape (stopCh/wg/ticker, ants pool for parallel
// per-target work) is grounded in the teacher's HealingService
// (internal/docdb/healing.go), generalized from per-document healing scans
// to per-replica polling.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/peacedb/internal/logging"
	"github.com/kartikbazzad/peacedb/internal/replicaset"
)

// ProbeResult is one replica's self-reported health.
type ProbeResult struct {
	Healthy bool
	Seq     uint64
}

// ProbeFunc queries a single replica; it is expected to apply its own
// timeout (Monitor wraps ctx with one regardless, as a backstop).
type ProbeFunc func(ctx context.Context, r *replicaset.Replica) (ProbeResult, error)

// Monitor runs the periodic probe loop over a caller-supplied set of
// replica sets.
type Monitor struct {
	interval     time.Duration
	probeTimeout time.Duration
	probe        ProbeFunc
	replicaSets  func() []*replicaset.ReplicaSet
	log          *logging.Logger

	pool   *ants.Pool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Monitor. replicaSets is called fresh on every tick so the
// coordinator can add/remove shards without restarting the monitor.
func New(interval, probeTimeout time.Duration, replicaSets func() []*replicaset.ReplicaSet, probe ProbeFunc, log *logging.Logger) (*Monitor, error) {
	if log == nil {
		log = logging.Default()
	}
	pool, err := ants.NewPool(32)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		interval: interval, probeTimeout: probeTimeout, probe: probe,
		replicaSets: replicaSets, log: log.With("health"), pool: pool,
		stopCh: make(chan struct{}),
	}, nil
}

func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
	m.log.Info("health monitor started", logging.Fields{"intervalMs": m.interval.Milliseconds()})
}

func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.pool.Release()
	m.log.Info("health monitor stopped", nil)
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.scanOnce()
		}
	}
}

func (m *Monitor) scanOnce() {
	sets := m.replicaSets()
	var wg sync.WaitGroup
	for _, rs := range sets {
		for _, r := range rs.All() {
			rs, r := rs, r
			wg.Add(1)
			err := m.pool.Submit(func() {
				defer wg.Done()
				m.probeOne(rs, r)
			})
			if err != nil {
				wg.Done()
				m.log.Warn("health probe submit failed", logging.Fields{"replica": r.BaseURL, "err": err.Error()})
			}
		}
	}
	wg.Wait()
}

func (m *Monitor) probeOne(rs *replicaset.ReplicaSet, r *replicaset.Replica) {
	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
	defer cancel()

	result, err := m.probe(ctx, r)
	if err != nil || !result.Healthy {
		rs.RecordHealthFailure(r.BaseURL)
		return
	}
	rs.RecordHealthReply(r.BaseURL, result.Seq)
}
