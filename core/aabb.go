package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned bounding box. The zero value is not useful; start
// from EmptyAABB when accumulating.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

const aabbInf = float32(1e30)

func EmptyAABB() AABB {
	return AABB{
		Min: mgl32.Vec3{aabbInf, aabbInf, aabbInf},
		Max: mgl32.Vec3{-aabbInf, -aabbInf, -aabbInf},
	}
}

func (b AABB) IsEmpty() bool {
	return b.Min.X() > b.Max.X() || b.Min.Y() > b.Max.Y() || b.Min.Z() > b.Max.Z()
}

func (b AABB) ExtendPoint(p mgl32.Vec3) AABB {
	return AABB{
		Min: mgl32.Vec3{min(b.Min.X(), p.X()), min(b.Min.Y(), p.Y()), min(b.Min.Z(), p.Z())},
		Max: mgl32.Vec3{max(b.Max.X(), p.X()), max(b.Max.Y(), p.Y()), max(b.Max.Z(), p.Z())},
	}
}

func (b AABB) Union(o AABB) AABB {
	return AABB{
		Min: mgl32.Vec3{min(b.Min.X(), o.Min.X()), min(b.Min.Y(), o.Min.Y()), min(b.Min.Z(), o.Min.Z())},
		Max: mgl32.Vec3{max(b.Max.X(), o.Max.X()), max(b.Max.Y(), o.Max.Y()), max(b.Max.Z(), o.Max.Z())},
	}
}

// Contains reports whether o lies inside b, with eps of slack per axis for
// float rounding.
func (b AABB) Contains(o AABB, eps float32) bool {
	return b.Min.X() <= o.Min.X()+eps && b.Min.Y() <= o.Min.Y()+eps && b.Min.Z() <= o.Min.Z()+eps &&
		b.Max.X() >= o.Max.X()-eps && b.Max.Y() >= o.Max.Y()-eps && b.Max.Z() >= o.Max.Z()-eps
}

func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Inflate grows the box by margin on every side. Used for the loose scene
// bound that feeds Morton normalisation.
func (b AABB) Inflate(margin float32) AABB {
	m := mgl32.Vec3{margin, margin, margin}
	return AABB{Min: b.Min.Sub(m), Max: b.Max.Add(m)}
}

// Transformed returns the conservative AABB of the eight transformed corners.
func (b AABB) Transformed(o2w mgl32.Mat4) AABB {
	corners := [8]mgl32.Vec3{
		{b.Min.X(), b.Min.Y(), b.Min.Z()},
		{b.Max.X(), b.Min.Y(), b.Min.Z()},
		{b.Min.X(), b.Max.Y(), b.Min.Z()},
		{b.Max.X(), b.Max.Y(), b.Min.Z()},
		{b.Min.X(), b.Min.Y(), b.Max.Z()},
		{b.Max.X(), b.Min.Y(), b.Max.Z()},
		{b.Min.X(), b.Max.Y(), b.Max.Z()},
		{b.Max.X(), b.Max.Y(), b.Max.Z()},
	}

	out := EmptyAABB()
	for _, c := range corners {
		wc := o2w.Mul4x1(c.Vec4(1.0)).Vec3()
		out = out.ExtendPoint(wc)
	}
	return out
}

func min(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
