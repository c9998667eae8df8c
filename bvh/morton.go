package bvh

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/gpubvh/core"
)

// expandBits spreads the low 10 bits of x so they occupy every third bit.
func expandBits(x uint32) uint32 {
	v := x
	v = (v * 0x00010001) & 0xFF0000FF
	v = (v * 0x00000101) & 0x0F00F00F
	v = (v * 0x00000011) & 0xC30C30C3
	v = (v * 0x00000005) & 0x49249249
	return v
}

// Morton3D computes the 30-bit Morton code of a point in the unit cube,
// 10 bits per axis. Mirrors morton3d in bvh_primitives.wgsl exactly;
// the validator and tests rely on bit-equality with the kernel.
func Morton3D(p mgl32.Vec3) uint32 {
	quant := func(v float32) uint32 {
		q := v * 1024.0
		if q < 0 {
			q = 0
		}
		if q > 1023 {
			q = 1023
		}
		return uint32(q)
	}
	xx := expandBits(quant(p.X()))
	yy := expandBits(quant(p.Y()))
	zz := expandBits(quant(p.Z()))
	return xx*4 + yy*2 + zz
}

// MortonFromCentroid normalises c into bounds and encodes it. The extent is
// clamped away from zero per axis so a flat scene still produces finite
// coordinates, as the kernel does.
func MortonFromCentroid(c mgl32.Vec3, bounds core.AABB) uint32 {
	const minExtent = 1e-6
	unit := mgl32.Vec3{}
	for axis := 0; axis < 3; axis++ {
		extent := bounds.Max[axis] - bounds.Min[axis]
		if extent < minExtent {
			extent = minExtent
		}
		u := (c[axis] - bounds.Min[axis]) / extent
		if u < 0 {
			u = 0
		}
		if u > 1 {
			u = 1
		}
		unit[axis] = u
	}
	return Morton3D(unit)
}
