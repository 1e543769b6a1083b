// Command peacedbd runs one node of a PeaceDatabase cluster: a File Engine
// over a local data directory, the RPC surface other nodes and clients
// reach it through, and the sharding/replication control plane described in
// spec.md. Flag handling and the signal-driven
// shutdown sequence follow the teacher's cmd/docdb/main.go.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kartikbazzad/peacedb/internal/config"
	"github.com/kartikbazzad/peacedb/internal/coordinator"
	"github.com/kartikbazzad/peacedb/internal/docservice"
	"github.com/kartikbazzad/peacedb/internal/health"
	"github.com/kartikbazzad/peacedb/internal/logging"
	"github.com/kartikbazzad/peacedb/internal/metrics"
	"github.com/kartikbazzad/peacedb/internal/pevents"
	"github.com/kartikbazzad/peacedb/internal/rpcserver"
	"github.com/kartikbazzad/peacedb/internal/shardrouter"
	"github.com/kartikbazzad/peacedb/internal/storage"
)

func main() {
	dataDir := flag.String("data-dir", "", "Directory for database files (default ./data)")
	listenAddr := flag.String("listen", "", "RPC listen address (default :7420)")
	metricsAddr := flag.String("metrics-listen", "", "Prometheus /metrics listen address (default :7421)")
	numShards := flag.Int("shards", 0, "Number of shards this router fans out to (0 = use default)")
	replicationFactor := flag.Int("replicas", -1, "Replicas per shard, not counting the primary (-1 = use default)")
	writeQuorum := flag.Int("write-quorum", 0, "Writes required before a quorum write returns (0 = use default)")
	startAsPrimary := flag.Bool("primary", true, "Whether this node starts believing itself the primary of its local replicas")
	logLevel := flag.String("log-level", "", "debug | info | warn | error (default info)")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *dataDir != "" {
		cfg.DataDir = *dataDir
		cfg.WAL.Dir = cfg.DataDir + "/wal"
		cfg.Snapshot.Dir = cfg.DataDir + "/snapshots"
	}
	if *listenAddr != "" {
		cfg.RPC.ListenAddr = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.ListenAddr = *metricsAddr
	}
	if *numShards > 0 {
		cfg.Sharding.NumShards = *numShards
	}
	if *replicationFactor >= 0 {
		cfg.Replication.ReplicationFactor = *replicationFactor
	}
	if *writeQuorum > 0 {
		cfg.Replication.WriteQuorum = *writeQuorum
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := logging.New(os.Stdout, cfg.Logging.Level, "peacedbd")
	logger.Info("starting peacedbd", logging.Fields{"dataDir": cfg.DataDir, "listen": cfg.RPC.ListenAddr})

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	engine, err := storage.Open(cfg.DataDir, cfg.WAL, cfg.Snapshot, logger.With("storage"))
	if err != nil {
		log.Fatalf("opening storage: %v", err)
	}
	engine.SetMetrics(m)

	bus := pevents.New()
	coord := coordinator.New(cfg.Sharding, cfg.Replication, cfg.Health, engine, bus, logger.With("coordinator"))
	if err := coord.Initialize(); err != nil {
		log.Fatalf("initializing coordinator: %v", err)
	}
	coord.SetMetrics(m)
	coord.Start()
	defer coord.Stop()

	router := shardrouter.New(cfg.Sharding)
	svc := docservice.New(router, coord, cfg.Replication, logger.With("docservice"))
	svc.SetMetrics(m)

	monitor, err := health.New(cfg.Health.ProbeInterval, cfg.Health.ProbeTimeout, coord.ReplicaSets, coord.Probe, logger.With("health"))
	if err != nil {
		log.Fatalf("starting health monitor: %v", err)
	}
	if cfg.Health.FailoverEnabled {
		monitor.Start()
		defer monitor.Stop()
	}

	self := rpcserver.NewSelfState(*startAsPrimary)
	server := rpcserver.New(engine, self, logger.With("rpcserver"))

	mux := http.NewServeMux()
	mux.Handle("/", server)
	mux.HandleFunc("/cluster/stats", clusterStatsHandler(svc, logger.With("clusterstats")))
	httpServer := &http.Server{Addr: cfg.RPC.ListenAddr, Handler: mux}
	go func() {
		logger.Info("rpc listener up", logging.Fields{"addr": cfg.RPC.ListenAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("rpc server error", err, nil)
		}
	}()

	var metricsServer *http.Server
	if m != nil {
		metricsServer = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: m.Handler()}
		go func() {
			logger.Info("metrics listener up", logging.Fields{"addr": cfg.Metrics.ListenAddr})
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", err, nil)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(ctx)
	}
	if err := engine.Close(); err != nil {
		logger.Error("closing storage", err, nil)
	}
	logger.Info("peacedbd stopped", nil)
}

// clusterStatsHandler serves cluster-wide, scatter-gathered counters for a
// database (spec.md §1 keeps per-document CRUD off any HTTP surface, but an
// aggregate read-only admin endpoint is not a document surface any more
// than /metrics is). It is the one place this node's Replicated Document
// Service gets exercised from the process that constructs it.
func clusterStatsHandler(svc *docservice.Service, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		db := r.URL.Query().Get("db")
		if db == "" {
			http.Error(w, "missing db query parameter", http.StatusBadRequest)
			return
		}
		stats, err := svc.Stats(r.Context(), db)
		if err != nil {
			log.Warn("cluster stats failed", logging.Fields{"db": db, "err": err.Error()})
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}
