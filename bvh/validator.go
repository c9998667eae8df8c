package bvh

import (
	"encoding/binary"
	"fmt"

	"github.com/gekko3d/gpubvh/gpu"
)

// Validate downloads the counter, node, parent and flag buffers and checks
// the structural invariants of the last Build: every leaf reachable exactly
// once from the root, leaves childless, parent back-links agreeing with the
// child indices, no visit counter above two, and every internal AABB
// containing the union of its children. It blocks on the GPU and is gated
// behind Options.Validate; call it after the frame's command buffer has
// been submitted.
func (b *Builder) Validate() error {
	if !b.opts.Validate {
		return nil
	}
	if b.counterBuf == nil {
		return nil
	}

	counterBytes, err := gpu.DownloadBuffer(b.device, b.counterBuf, 0, 4)
	if err != nil {
		return fmt.Errorf("bvh validate: %w", err)
	}
	n := binary.LittleEndian.Uint32(counterBytes)
	if n != b.lastPrimitiveCount {
		return fmt.Errorf("bvh validate: counter mismatch: device %d, host %d", n, b.lastPrimitiveCount)
	}
	if n == 0 {
		return nil
	}

	nodeCount := 2*n - 1
	nodeBytes, err := gpu.DownloadBuffer(b.device, b.nodeBuf, 0, uint64(nodeCount)*NodeStride)
	if err != nil {
		return fmt.Errorf("bvh validate: %w", err)
	}
	parentBytes, err := gpu.DownloadBuffer(b.device, b.parentBuf, 0, uint64(nodeCount)*4)
	if err != nil {
		return fmt.Errorf("bvh validate: %w", err)
	}

	nodes := make([]Node, nodeCount)
	for i := range nodes {
		nodes[i] = NodeFromBytes(nodeBytes[i*NodeStride:])
	}
	parents := make([]uint32, nodeCount)
	for i := range parents {
		parents[i] = binary.LittleEndian.Uint32(parentBytes[i*4:])
	}

	var flags []uint32
	if n >= 2 {
		flagBytes, err := gpu.DownloadBuffer(b.device, b.flagBuf, 0, uint64(n-1)*4)
		if err != nil {
			return fmt.Errorf("bvh validate: %w", err)
		}
		flags = make([]uint32, n-1)
		for i := range flags {
			flags[i] = binary.LittleEndian.Uint32(flagBytes[i*4:])
		}
	}

	return CheckTree(nodes, parents, flags, n)
}

// CheckTree runs the structural checks on an already-downloaded tree. Split
// out so the tests can drive it against the CPU reference without a device.
func CheckTree(nodes []Node, parents []uint32, flags []uint32, n uint32) error {
	if n == 0 {
		return nil
	}
	leafOffset := n - 1
	nodeCount := 2*n - 1

	if parents[0] != ParentSentinel {
		return fmt.Errorf("root parent is %d, want sentinel", parents[0])
	}

	for _, c := range flags {
		if c > 2 {
			return fmt.Errorf("visit counter %d exceeds two", c)
		}
	}

	visited := make(map[uint32]bool, n)
	stack := []uint32{0}
	steps := 0
	for len(stack) > 0 {
		steps++
		if steps > int(4*nodeCount) {
			return fmt.Errorf("traversal did not terminate; tree is cyclic")
		}
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if idx >= nodeCount {
			return fmt.Errorf("child index %d out of range (%d nodes)", idx, nodeCount)
		}

		if idx >= leafOffset {
			if visited[idx] {
				return fmt.Errorf("leaf %d visited twice", idx)
			}
			visited[idx] = true
			if nodes[idx].Left != 0 || nodes[idx].Right != 0 {
				return fmt.Errorf("leaf %d has children (%d, %d)", idx, nodes[idx].Left, nodes[idx].Right)
			}
			continue
		}

		node := nodes[idx]
		if node.Left == node.Right {
			return fmt.Errorf("internal node %d has identical children %d", idx, node.Left)
		}
		for _, child := range []uint32{node.Left, node.Right} {
			if child >= nodeCount {
				return fmt.Errorf("internal node %d child %d out of range", idx, child)
			}
			if parents[child] != idx {
				return fmt.Errorf("node %d claims child %d, but its parent link is %d", idx, child, parents[child])
			}
		}

		// Containment up to float rounding.
		const eps = 1e-4
		lo := vecMin(nodes[node.Left].Min, nodes[node.Right].Min)
		hi := vecMax(nodes[node.Left].Max, nodes[node.Right].Max)
		for axis := 0; axis < 3; axis++ {
			if node.Min[axis] > lo[axis]+eps || node.Max[axis] < hi[axis]-eps {
				return fmt.Errorf("internal node %d AABB does not contain its children", idx)
			}
		}

		stack = append(stack, node.Left, node.Right)
	}

	if uint32(len(visited)) != n {
		return fmt.Errorf("traversal reached %d leaves, want %d", len(visited), n)
	}
	return nil
}
