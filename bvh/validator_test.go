package bvh

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkedTree(t *testing.T, n int) ([]Node, []uint32, []uint32) {
	t.Helper()
	prims := randomPrimitives(rand.New(rand.NewSource(int64(n))), n)
	nodes, parents, _, _ := BuildCPU(prims, mortonIn(testBounds))
	flags := PropagateAABBs(nodes, parents, n)
	require.NoError(t, CheckTree(nodes, parents, flags, uint32(n)))
	return nodes, parents, flags
}

func TestCheckTreeDetectsBrokenBackLink(t *testing.T) {
	nodes, parents, flags := checkedTree(t, 32)
	parents[nodes[0].Left] = 5
	assert.Error(t, CheckTree(nodes, parents, flags, 32))
}

func TestCheckTreeDetectsLeafWithChildren(t *testing.T) {
	nodes, parents, flags := checkedTree(t, 16)
	nodes[20].Left = 3 // 15..30 are leaves
	assert.Error(t, CheckTree(nodes, parents, flags, 16))
}

func TestCheckTreeDetectsOverflowedCounter(t *testing.T) {
	nodes, parents, flags := checkedTree(t, 16)
	flags[3] = 3
	assert.Error(t, CheckTree(nodes, parents, flags, 16))
}

func TestCheckTreeDetectsDuplicateReachableLeaf(t *testing.T) {
	nodes, parents, flags := checkedTree(t, 8)
	// Point both children of the root at the same subtree.
	nodes[0].Right = nodes[0].Left
	assert.Error(t, CheckTree(nodes, parents, flags, 8))
}

func TestCheckTreeDetectsShrunkAABB(t *testing.T) {
	nodes, parents, flags := checkedTree(t, 64)
	nodes[0].Max[0] = nodes[0].Min[0] // collapse the root on x
	assert.Error(t, CheckTree(nodes, parents, flags, 64))
}

func TestCheckTreeEmpty(t *testing.T) {
	assert.NoError(t, CheckTree(nil, nil, nil, 0))
}
