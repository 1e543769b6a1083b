// Package config holds the plain, nested configuration structs for a
// peacedbd node: storage durability, sharding topology, replication and
// failover tuning, and the RPC/metrics listeners. DefaultConfig mirrors the
// single-process defaults a developer gets running peacedbd with no flags.
package config

import "time"

type Config struct {
	DataDir string

	Sharding    ShardingConfig
	Replication ReplicationConfig
	WAL         WALConfig
	Snapshot    SnapshotConfig
	Health      HealthConfig
	RPC         RPCConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
}

// HashFamily selects the function used to map a shard key to a shard id.
type HashFamily int

const (
	HashXXHash HashFamily = iota // default, cespare/xxhash/v2
	HashCRC32                    // stdlib hash/crc32
	HashSHA256                   // sha256, truncated and reduced mod N
)

type ShardingConfig struct {
	NumShards int
	HashFunc  HashFamily

	// Shards lists flat deployments: one entry per shard, first one found
	// for a given ShardID becomes the primary unless ReplicaSets overrides
	// the grouping explicitly.
	Shards []ShardSpec
	// ReplicaSets, when non-empty, takes precedence over grouping Shards:
	// explicit primary/replica topology per shard.
	ReplicaSets []ReplicaSetSpec
}

// ShardSpec is one replica of one shard in a flat deployment list.
type ShardSpec struct {
	ShardID int
	BaseURL string
	IsLocal bool
}

// ReplicaSetSpec is one shard's explicit primary/replica topology.
type ReplicaSetSpec struct {
	ShardID  int
	Primary  string
	Replicas []string
}

type ReplicationConfig struct {
	ReplicationFactor int // replicas per shard, not counting primary
	WriteQuorum       int // acks required, including primary
	ReadQuorum        int
	ReadLoadBalancing bool // spread reads across in-sync replicas, not primary-only
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	RequestTimeout    time.Duration // per-replica RPC deadline during fan-out
	FailoverTimeout   time.Duration // bounds per-candidate state gathering during election
}

// FsyncMode controls how aggressively the WAL is flushed to stable storage.
type FsyncMode int

const (
	FsyncRelaxed FsyncMode = iota // buffer only; never fsynced, not even on rotation/close
	FsyncCommit                   // flush the process buffer after every record, no fsync
	FsyncStrong                   // flush and fsync after every single record (safest, slowest)
)

type WALConfig struct {
	Dir           string
	MaxFileSizeMB uint64
	Fsync         FsyncMode
	KeepSegments  int // not read: the WAL is one file that Rotate truncates to empty after a snapshot
}

type SnapshotConfig struct {
	Dir              string
	OpCountTrigger   uint64 // snapshot after this many ops since last snapshot
	WALSizeTriggerMB uint64
	AutoCreate       bool
	MaxSnapshots     int // 0 = unlimited
}

type HealthConfig struct {
	ProbeInterval      time.Duration
	ProbeTimeout       time.Duration
	UnhealthyThreshold int // consecutive failed probes before marking offline
	HealthyThreshold   int // not read: one successful probe marks a replica healthy
	FailoverEnabled    bool
}

type RPCConfig struct {
	ListenAddr    string
	AdvertiseAddr string
}

type LoggingConfig struct {
	Level string // debug | info | warn | error
}

type MetricsConfig struct {
	Enabled    bool
	ListenAddr string
}

func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Sharding: ShardingConfig{
			NumShards: 4,
			HashFunc:  HashXXHash,
		},
		Replication: ReplicationConfig{
			ReplicationFactor: 2,
			WriteQuorum:       2,
			ReadQuorum:        1,
			ReadLoadBalancing: false,
			ReadTimeout:       2 * time.Second,
			WriteTimeout:      5 * time.Second,
			RequestTimeout:    1 * time.Second,
			FailoverTimeout:   2 * time.Second,
		},
		WAL: WALConfig{
			Dir:           "./data/wal",
			MaxFileSizeMB: 64,
			Fsync:         FsyncCommit,
			KeepSegments:  2,
		},
		Snapshot: SnapshotConfig{
			Dir:              "./data/snapshots",
			OpCountTrigger:   10000,
			WALSizeTriggerMB: 64,
			AutoCreate:       true,
			MaxSnapshots:     3,
		},
		Health: HealthConfig{
			ProbeInterval:      2 * time.Second,
			ProbeTimeout:       1 * time.Second,
			UnhealthyThreshold: 3,
			HealthyThreshold:   2,
			FailoverEnabled:    true,
		},
		RPC: RPCConfig{
			ListenAddr: ":7420",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":7421",
		},
	}
}
