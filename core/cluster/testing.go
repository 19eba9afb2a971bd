package cluster

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func CreateInMemoryTransport(t *testing.T) *MemoryTransport {
	tr := NewInMemoryTransport()
	t.Cleanup(func() {
		require.NoError(t, tr.Close())
	})
	return tr
}

// CreateTestCluster runs numNodes nodes named node-0.. that split numShards
// between them and serve everything with h.
func CreateTestCluster(
	t *testing.T,
	tr ServerTransport,
	numNodes int,
	numShards uint32,
	shardSeed string,
	h ServerHandlerFunc,
) []*Node {
	nodeIDs := make([]string, numNodes)
	for i := range nodeIDs {
		nodeIDs[i] = fmt.Sprintf("node-%d", i)
	}

	nodes := make([]*Node, 0, numNodes)
	for _, nodeID := range nodeIDs {
		n := NewNode(NodeOptions{
			NodeID:    nodeID,
			Transport: tr,
			Shards:    ShardsForNode(nodeID, nodeIDs, numShards, shardSeed),
			Handler:   h,
		})
		require.NoError(t, n.Run(t.Context()))
		nodes = append(nodes, n)
	}
	return nodes
}
