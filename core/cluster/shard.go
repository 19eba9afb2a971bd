package cluster

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/codewandler/fanout/internal/hrw"
)

// ShardFromString maps key onto 0..numShards-1.
func ShardFromString(key string, numShards uint32, seed string) uint32 {
	if numShards == 0 {
		return 0
	}
	h, _ := blake2b.New(8, nil)
	if seed != "" {
		h.Write([]byte(seed))
		h.Write([]byte{0})
	}
	h.Write([]byte(key))
	return uint32(binary.BigEndian.Uint64(h.Sum(nil)) % uint64(numShards))
}

// ShardsForNode returns the shards nodeID owns among nodeIDs. Every shard
// goes to exactly one node; adding a node only moves the shards it wins.
func ShardsForNode(nodeID string, nodeIDs []string, numShards uint32, seed string) []uint32 {
	if numShards == 0 || len(nodeIDs) == 0 {
		return nil
	}
	var owned []uint32
	for shard := uint32(0); shard < numShards; shard++ {
		if best, _ := hrw.Best(fmt.Sprintf("shard:%d", shard), nodeIDs, seed); best == nodeID {
			owned = append(owned, shard)
		}
	}
	return owned
}

// KeysForNode derives n keys "<prefix>-<i>" that fall into the owned
// shards, so keyed requests for them reach the node owning those shards.
func KeysForNode(prefix string, n int, owned []uint32, numShards uint32, seed string) []string {
	own := make(map[uint32]struct{}, len(owned))
	for _, s := range owned {
		if s < numShards {
			own[s] = struct{}{}
		}
	}
	if n <= 0 || len(own) == 0 {
		return nil
	}
	keys := make([]string, 0, n)
	for i := 0; len(keys) < n; i++ {
		k := fmt.Sprintf("%s-%d", prefix, i)
		if _, ok := own[ShardFromString(k, numShards, seed)]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}
