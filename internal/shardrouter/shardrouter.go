// Package shardrouter maps a document id to a shard index, generalizing
// the teacher's internal/docdb/routing.go from a single fixed hash to
// three selectable hash families, all required to agree across every
// process in a deployment (spec.md §4.7).
package shardrouter

import (
	"crypto/sha256"
	"encoding/binary"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"

	"github.com/kartikbazzad/peacedb/internal/config"
)

// HashFunc maps a shard key to an unsigned integer; only its value modulo
// the shard count matters.
type HashFunc func(key string) uint64

func xxhashFunc(key string) uint64 {
	return xxhash.Sum64String(key)
}

func crc32Func(key string) uint64 {
	return uint64(crc32.ChecksumIEEE([]byte(key)))
}

func sha256Func(key string) uint64 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8])
}

// Router computes shardId(key) deterministically for a fixed shard count
// and hash family. The same (NumShards, HashFunc) pair must be configured
// on every process in a deployment or documents are routed inconsistently.
type Router struct {
	numShards int
	hash      HashFunc
}

// New builds a Router from the sharding section of a node's configuration.
func New(cfg config.ShardingConfig) *Router {
	numShards := cfg.NumShards
	if numShards < 1 {
		numShards = 1
	}
	return &Router{numShards: numShards, hash: hashFuncFor(cfg.HashFunc)}
}

func hashFuncFor(family config.HashFamily) HashFunc {
	switch family {
	case config.HashCRC32:
		return crc32Func
	case config.HashSHA256:
		return sha256Func
	default:
		return xxhashFunc
	}
}

// NumShards returns the configured shard count.
func (r *Router) NumShards() int { return r.numShards }

// ShardID returns key's shard in [0, NumShards). An empty key always maps
// to shard 0.
func (r *Router) ShardID(key string) int {
	if key == "" {
		return 0
	}
	return int(r.hash(key) % uint64(r.numShards))
}

// GroupByShard partitions keys by the shard they route to, the batch-path
// helper spec.md §4.7 calls groupByShards.
func (r *Router) GroupByShard(keys []string) map[int][]string {
	groups := make(map[int][]string)
	for _, k := range keys {
		sid := r.ShardID(k)
		groups[sid] = append(groups[sid], k)
	}
	return groups
}
