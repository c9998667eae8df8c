package bvh

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// NodeStride matches the WGSL Node struct: two vec3+u32 rows plus a
	// primitive reference row.
	NodeStride = 48

	// PrimitiveStride matches the WGSL Primitive struct: three vertex rows,
	// each padded with one provenance word.
	PrimitiveStride = 48

	// ParentSentinel marks the root's entry in the parent buffer.
	ParentSentinel = 0xFFFFFFFF
)

// Node mirrors one element of the node buffer. Internal nodes use
// Left/Right (a leaf child k is encoded as leafOffset+k); leaves keep both
// children zero and reference their primitive record instead.
type Node struct {
	Min       mgl32.Vec3
	Left      uint32
	Max       mgl32.Vec3
	Right     uint32
	Primitive uint32
}

func (n *Node) ToBytes() []byte {
	buf := make([]byte, NodeStride)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(n.Min.X()))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(n.Min.Y()))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(n.Min.Z()))
	binary.LittleEndian.PutUint32(buf[12:16], n.Left)

	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(n.Max.X()))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(n.Max.Y()))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(n.Max.Z()))
	binary.LittleEndian.PutUint32(buf[28:32], n.Right)

	binary.LittleEndian.PutUint32(buf[32:36], n.Primitive)
	return buf
}

func NodeFromBytes(data []byte) Node {
	f := func(off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
	}
	return Node{
		Min:       mgl32.Vec3{f(0), f(4), f(8)},
		Left:      binary.LittleEndian.Uint32(data[12:16]),
		Max:       mgl32.Vec3{f(16), f(20), f(24)},
		Right:     binary.LittleEndian.Uint32(data[28:32]),
		Primitive: binary.LittleEndian.Uint32(data[32:36]),
	}
}

// Primitive mirrors one element of the primitive buffer: a world-space
// triangle plus the (instance, subset, local index) it came from. Hair
// segment quads arrive here already expanded into triangles.
type Primitive struct {
	V0             mgl32.Vec3
	InstanceIndex  uint32
	V1             mgl32.Vec3
	SubsetIndex    uint32
	V2             mgl32.Vec3
	LocalIndex     uint32
}

func (p *Primitive) ToBytes() []byte {
	buf := make([]byte, PrimitiveStride)
	putVec3 := func(off int, v mgl32.Vec3, w uint32) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v.X()))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(v.Y()))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(v.Z()))
		binary.LittleEndian.PutUint32(buf[off+12:], w)
	}
	putVec3(0, p.V0, p.InstanceIndex)
	putVec3(16, p.V1, p.SubsetIndex)
	putVec3(32, p.V2, p.LocalIndex)
	return buf
}

func PrimitiveFromBytes(data []byte) Primitive {
	f := func(off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
	}
	return Primitive{
		V0:            mgl32.Vec3{f(0), f(4), f(8)},
		InstanceIndex: binary.LittleEndian.Uint32(data[12:16]),
		V1:            mgl32.Vec3{f(16), f(20), f(24)},
		SubsetIndex:   binary.LittleEndian.Uint32(data[28:32]),
		V2:            mgl32.Vec3{f(32), f(36), f(40)},
		LocalIndex:    binary.LittleEndian.Uint32(data[44:48]),
	}
}

// Centroid of the triangle, used for Morton mapping.
func (p *Primitive) Centroid() mgl32.Vec3 {
	return p.V0.Add(p.V1).Add(p.V2).Mul(1.0 / 3.0)
}
