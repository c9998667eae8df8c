package bvh

import (
	"math/bits"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// CPU mirror of the three device kernels, operating on the same node and
// parent layouts. The validator's containment check reuses its min/max
// helpers and the tests drive whole builds through it; it matches the WGSL bit for bit so a
// disagreement points at the shaders.

// delta is the common-prefix length between the sorted keys at i and j, or
// -1 when j falls outside [0, n). Equal keys compare their indices instead,
// which keeps the tree strictly binary under duplicate Morton codes.
func delta(mortons []uint32, i, j int) int {
	if j < 0 || j >= len(mortons) {
		return -1
	}
	a, b := mortons[i], mortons[j]
	if a == b {
		return 32 + bits.LeadingZeros32(uint32(i)^uint32(j))
	}
	return bits.LeadingZeros32(a ^ b)
}

// BuildHierarchy runs the Karras construction over sorted Morton codes and
// returns the node array (2n-1 entries, internal nodes first) and the
// parent links. Leaf AABBs and primitive references are left to the caller;
// only the topology is produced here, exactly as the hierarchy kernel
// writes it.
func BuildHierarchy(mortons []uint32) (nodes []Node, parents []uint32) {
	n := len(mortons)
	if n == 0 {
		return nil, nil
	}
	nodes = make([]Node, 2*n-1)
	parents = make([]uint32, 2*n-1)
	parents[0] = ParentSentinel
	if n == 1 {
		return nodes, parents
	}

	leafOffset := n - 1
	for i := 0; i < n-1; i++ {
		d := 1
		if delta(mortons, i, i+1) < delta(mortons, i, i-1) {
			d = -1
		}
		deltaMin := delta(mortons, i, i-d)

		lMax := 2
		for delta(mortons, i, i+lMax*d) > deltaMin {
			lMax <<= 1
		}
		l := 0
		for step := lMax >> 1; step > 0; step >>= 1 {
			if delta(mortons, i, i+(l+step)*d) > deltaMin {
				l += step
			}
		}
		j := i + l*d

		deltaNode := delta(mortons, i, j)
		split := 0
		div := 2
		for probe := (l + div - 1) / div; ; {
			if delta(mortons, i, i+(split+probe)*d) > deltaNode {
				split += probe
			}
			if probe == 1 {
				break
			}
			div *= 2
			probe = (l + div - 1) / div
		}
		gamma := i + split*d
		if d < 0 {
			gamma--
		}

		lo, hi := i, j
		if lo > hi {
			lo, hi = hi, lo
		}

		left := uint32(gamma)
		if lo == gamma {
			left = uint32(leafOffset + gamma)
		}
		right := uint32(gamma + 1)
		if hi == gamma+1 {
			right = uint32(leafOffset + gamma + 1)
		}

		nodes[i].Left = left
		nodes[i].Right = right
		parents[left] = uint32(i)
		parents[right] = uint32(i)
	}
	parents[0] = ParentSentinel
	return nodes, parents
}

// FillLeaves writes the leaf region of nodes: leaf i references the sorted
// slot's primitive and takes its AABB from the record.
func FillLeaves(nodes []Node, primitiveIDs []uint32, primitives []Primitive) {
	n := len(primitiveIDs)
	leafOffset := n - 1
	for i := 0; i < n; i++ {
		pid := primitiveIDs[i]
		prim := primitives[pid]
		leaf := &nodes[leafOffset+i]
		leaf.Min = vecMin(prim.V0, vecMin(prim.V1, prim.V2))
		leaf.Max = vecMax(prim.V0, vecMax(prim.V1, prim.V2))
		leaf.Left = 0
		leaf.Right = 0
		leaf.Primitive = pid
	}
}

// PropagateAABBs performs the bottom-up reduction the propagation kernel
// does with atomics: one walker per leaf, and a per-internal-node visit
// counter deciding which walker merges. Returns the final counter values so
// callers can assert none exceeded two.
func PropagateAABBs(nodes []Node, parents []uint32, n int) []uint32 {
	if n < 2 {
		return nil
	}
	flags := make([]uint32, n-1)
	leafOffset := n - 1
	for t := 0; t < n; t++ {
		node := parents[leafOffset+t]
		for node != ParentSentinel {
			flags[node]++
			if flags[node] == 1 {
				break
			}
			left := nodes[node].Left
			right := nodes[node].Right
			nodes[node].Min = vecMin(nodes[left].Min, nodes[right].Min)
			nodes[node].Max = vecMax(nodes[left].Max, nodes[right].Max)
			node = parents[node]
		}
	}
	return flags
}

// BuildCPU runs the whole pipeline on the host: Morton codes from the
// primitive centroids, key sort with the primitive index payload, Karras
// topology, leaf fill and AABB propagation. The sort breaks key ties on the
// payload so the result is deterministic, matching the fixed comparison
// network on the device in effect.
func BuildCPU(primitives []Primitive, mortonOf func(Primitive) uint32) (nodes []Node, parents []uint32, sortedIDs []uint32, mortons []uint32) {
	n := len(primitives)
	if n == 0 {
		return nil, nil, nil, nil
	}

	mortons = make([]uint32, n)
	sortedIDs = make([]uint32, n)
	for i, p := range primitives {
		mortons[i] = mortonOf(p)
		sortedIDs[i] = uint32(i)
	}
	sort.Sort(&keyValueSlice{keys: mortons, values: sortedIDs})

	nodes, parents = BuildHierarchy(mortons)
	FillLeaves(nodes, sortedIDs, primitives)
	PropagateAABBs(nodes, parents, n)
	return nodes, parents, sortedIDs, mortons
}

type keyValueSlice struct {
	keys   []uint32
	values []uint32
}

func (s *keyValueSlice) Len() int { return len(s.keys) }
func (s *keyValueSlice) Less(i, j int) bool {
	if s.keys[i] != s.keys[j] {
		return s.keys[i] < s.keys[j]
	}
	return s.values[i] < s.values[j]
}
func (s *keyValueSlice) Swap(i, j int) {
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
	s.values[i], s.values[j] = s.values[j], s.values[i]
}

func vecMin(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{minf(a.X(), b.X()), minf(a.Y(), b.Y()), minf(a.Z(), b.Z())}
}

func vecMax(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{maxf(a.X(), b.X()), maxf(a.Y(), b.Y()), maxf(a.Z(), b.Z())}
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
