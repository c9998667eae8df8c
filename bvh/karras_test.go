package bvh

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/gpubvh/core"
)

func randomPrimitives(rng *rand.Rand, n int) []Primitive {
	prims := make([]Primitive, n)
	for i := range prims {
		base := mgl32.Vec3{
			(rng.Float32()*2 - 1) * 50,
			(rng.Float32()*2 - 1) * 50,
			(rng.Float32()*2 - 1) * 50,
		}
		jitter := func() mgl32.Vec3 {
			return mgl32.Vec3{rng.Float32(), rng.Float32(), rng.Float32()}
		}
		prims[i] = Primitive{
			V0:         base,
			V1:         base.Add(jitter()),
			V2:         base.Add(jitter()),
			LocalIndex: uint32(i),
		}
	}
	return prims
}

func mortonIn(bounds core.AABB) func(Primitive) uint32 {
	return func(p Primitive) uint32 {
		return MortonFromCentroid(p.Centroid(), bounds)
	}
}

var testBounds = core.AABB{Min: mgl32.Vec3{-60, -60, -60}, Max: mgl32.Vec3{60, 60, 60}}

func TestHierarchyInvariantsRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, n := range []int{1, 2, 3, 5, 17, 64, 100, 257, 1000} {
		prims := randomPrimitives(rng, n)
		nodes, parents, sortedIDs, mortons := BuildCPU(prims, mortonIn(testBounds))

		// Sorted keys are monotonically non-decreasing.
		for i := 1; i < len(mortons); i++ {
			if mortons[i-1] > mortons[i] {
				t.Fatalf("n=%d: mortons not sorted at %d", n, i)
			}
		}

		// The id permutation still covers every primitive.
		seen := make(map[uint32]bool, n)
		for _, id := range sortedIDs {
			if seen[id] {
				t.Fatalf("n=%d: primitive id %d duplicated by sort", n, id)
			}
			seen[id] = true
		}

		flags := PropagateAABBs(nodes, parents, n)
		if err := CheckTree(nodes, parents, flags, uint32(n)); err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
	}
}

func TestHierarchyDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	prims := randomPrimitives(rng, 300)

	encode := func() []byte {
		nodes, _, _, _ := BuildCPU(prims, mortonIn(testBounds))
		var buf bytes.Buffer
		for i := range nodes {
			buf.Write(nodes[i].ToBytes())
		}
		return buf.Bytes()
	}

	first := encode()
	second := encode()
	if !bytes.Equal(first, second) {
		t.Fatal("two builds of the same scene differ")
	}
}

func TestHierarchyDuplicateCodes(t *testing.T) {
	// Sixteen primitives collapsing onto one centroid: every Morton code is
	// equal and only the index tie-break shapes the tree.
	prims := make([]Primitive, 16)
	for i := range prims {
		prims[i] = Primitive{
			V0:         mgl32.Vec3{0.4, 0.4, 0.5},
			V1:         mgl32.Vec3{0.6, 0.4, 0.5},
			V2:         mgl32.Vec3{0.5, 0.7, 0.5},
			LocalIndex: uint32(i),
		}
	}
	bounds := core.AABB{Min: mgl32.Vec3{0, 0, 0}, Max: mgl32.Vec3{1, 1, 1}}
	nodes, parents, _, mortons := BuildCPU(prims, mortonIn(bounds))

	for i := 1; i < len(mortons); i++ {
		if mortons[i] != mortons[0] {
			t.Fatalf("expected all-equal codes, got %#x vs %#x", mortons[i], mortons[0])
		}
	}

	flags := PropagateAABBs(nodes, parents, 16)
	if err := CheckTree(nodes, parents, flags, 16); err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 31 {
		t.Fatalf("node count = %d, want 31", len(nodes))
	}
	if depth := treeDepth(nodes, 15); depth > 16 {
		t.Fatalf("degenerate depth %d exceeds leaf count", depth)
	}
}

func TestDeltaTieBreak(t *testing.T) {
	mortons := []uint32{5, 5, 5, 5}

	// Out of range is -1.
	if d := delta(mortons, 0, -1); d != -1 {
		t.Errorf("delta(0,-1) = %d, want -1", d)
	}
	if d := delta(mortons, 3, 4); d != -1 {
		t.Errorf("delta(3,4) = %d, want -1", d)
	}

	// Equal keys: 32 plus the prefix of the indices, so closer indices
	// share the longer prefix.
	if d01, d02 := delta(mortons, 0, 1), delta(mortons, 0, 2); d01 <= d02 {
		t.Errorf("tie-break not by index: delta(0,1)=%d delta(0,2)=%d", d01, d02)
	}
	if d := delta(mortons, 0, 1); d != 63 {
		t.Errorf("delta(0,1) over equal keys = %d, want 63", d)
	}
}

func TestParentLinksAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	prims := randomPrimitives(rng, 128)
	nodes, parents, _, _ := BuildCPU(prims, mortonIn(testBounds))

	for idx := 1; idx < len(nodes); idx++ {
		p := parents[idx]
		if p == ParentSentinel {
			t.Fatalf("non-root node %d has sentinel parent", idx)
		}
		if int(nodes[p].Left) != idx && int(nodes[p].Right) != idx {
			t.Fatalf("node %d not a child of its parent %d", idx, p)
		}
	}
}

func TestSingleLeafTree(t *testing.T) {
	prims := randomPrimitives(rand.New(rand.NewSource(1)), 1)
	nodes, parents, _, _ := BuildCPU(prims, mortonIn(testBounds))

	if len(nodes) != 1 {
		t.Fatalf("node count = %d, want 1", len(nodes))
	}
	if parents[0] != ParentSentinel {
		t.Fatalf("single-leaf root parent = %d, want sentinel", parents[0])
	}
	if nodes[0].Left != 0 || nodes[0].Right != 0 {
		t.Fatal("single leaf must have no children")
	}
}

// treeDepth walks down from a leaf-counted root; nodes at or past
// leafOffset are leaves.
func treeDepth(nodes []Node, leafOffset int) int {
	var walk func(idx, depth int) int
	walk = func(idx, depth int) int {
		if idx >= leafOffset {
			return depth
		}
		l := walk(int(nodes[idx].Left), depth+1)
		r := walk(int(nodes[idx].Right), depth+1)
		if l > r {
			return l
		}
		return r
	}
	return walk(0, 0)
}
