package shardrouter

import (
	"testing"

	"github.com/kartikbazzad/peacedb/internal/config"
)

func TestEmptyKeyRoutesToShardZero(t *testing.T) {
	for _, family := range []config.HashFamily{config.HashXXHash, config.HashCRC32, config.HashSHA256} {
		r := New(config.ShardingConfig{NumShards: 8, HashFunc: family})
		if got := r.ShardID(""); got != 0 {
			t.Fatalf("family %v: expected shard 0 for empty key, got %d", family, got)
		}
	}
}

func TestShardIDIsStableAcrossCalls(t *testing.T) {
	r := New(config.ShardingConfig{NumShards: 16, HashFunc: config.HashXXHash})
	first := r.ShardID("order-42")
	for i := 0; i < 100; i++ {
		if got := r.ShardID("order-42"); got != first {
			t.Fatalf("expected stable routing, got %d then %d", first, got)
		}
	}
}

func TestShardIDWithinRange(t *testing.T) {
	for _, family := range []config.HashFamily{config.HashXXHash, config.HashCRC32, config.HashSHA256} {
		r := New(config.ShardingConfig{NumShards: 5, HashFunc: family})
		for i := 0; i < 200; i++ {
			key := string(rune('a' + i%26))
			sid := r.ShardID(key)
			if sid < 0 || sid >= 5 {
				t.Fatalf("family %v: shard %d out of range for key %q", family, sid, key)
			}
		}
	}
}

func TestGroupByShardPartitionsAllKeys(t *testing.T) {
	r := New(config.ShardingConfig{NumShards: 4, HashFunc: config.HashXXHash})
	keys := []string{"a", "b", "c", "d", "e", "f"}
	groups := r.GroupByShard(keys)

	total := 0
	for _, ks := range groups {
		total += len(ks)
	}
	if total != len(keys) {
		t.Fatalf("expected %d total keys across groups, got %d", len(keys), total)
	}
}
