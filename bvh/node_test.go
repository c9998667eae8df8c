package bvh

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestNodeByteLayout(t *testing.T) {
	// The traversal shaders index this layout directly; pin the offsets.
	n := Node{
		Min:       mgl32.Vec3{1, 2, 3},
		Left:      7,
		Max:       mgl32.Vec3{4, 5, 6},
		Right:     9,
		Primitive: 42,
	}
	data := n.ToBytes()
	if len(data) != NodeStride {
		t.Fatalf("encoded size %d, want %d", len(data), NodeStride)
	}

	if got := math.Float32frombits(binary.LittleEndian.Uint32(data[0:4])); got != 1 {
		t.Errorf("min.x at offset 0 = %f", got)
	}
	if got := binary.LittleEndian.Uint32(data[12:16]); got != 7 {
		t.Errorf("left at offset 12 = %d", got)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(data[16:20])); got != 4 {
		t.Errorf("max.x at offset 16 = %f", got)
	}
	if got := binary.LittleEndian.Uint32(data[28:32]); got != 9 {
		t.Errorf("right at offset 28 = %d", got)
	}
	if got := binary.LittleEndian.Uint32(data[32:36]); got != 42 {
		t.Errorf("primitive at offset 32 = %d", got)
	}

	back := NodeFromBytes(data)
	if back != n {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestPrimitiveByteLayout(t *testing.T) {
	p := Primitive{
		V0:            mgl32.Vec3{1, 2, 3},
		InstanceIndex: 11,
		V1:            mgl32.Vec3{4, 5, 6},
		SubsetIndex:   22,
		V2:            mgl32.Vec3{7, 8, 9},
		LocalIndex:    33,
	}
	data := p.ToBytes()
	if len(data) != PrimitiveStride {
		t.Fatalf("encoded size %d, want %d", len(data), PrimitiveStride)
	}
	if got := binary.LittleEndian.Uint32(data[12:16]); got != 11 {
		t.Errorf("instance at offset 12 = %d", got)
	}
	if got := binary.LittleEndian.Uint32(data[44:48]); got != 33 {
		t.Errorf("local index at offset 44 = %d", got)
	}
	if back := PrimitiveFromBytes(data); back != p {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestPrimitiveCentroid(t *testing.T) {
	p := Primitive{
		V0: mgl32.Vec3{0, 0, 0},
		V1: mgl32.Vec3{3, 0, 0},
		V2: mgl32.Vec3{0, 3, 0},
	}
	c := p.Centroid()
	if c.X() != 1 || c.Y() != 1 || c.Z() != 0 {
		t.Errorf("centroid = %v, want (1,1,0)", c)
	}
}
