package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestAABBExtendAndUnion(t *testing.T) {
	b := EmptyAABB()
	assert.True(t, b.IsEmpty())

	b = b.ExtendPoint(mgl32.Vec3{1, 2, 3})
	b = b.ExtendPoint(mgl32.Vec3{-1, 0, 5})
	assert.False(t, b.IsEmpty())
	assert.Equal(t, mgl32.Vec3{-1, 0, 3}, b.Min)
	assert.Equal(t, mgl32.Vec3{1, 2, 5}, b.Max)

	other := AABB{Min: mgl32.Vec3{-5, 1, 0}, Max: mgl32.Vec3{0, 1, 10}}
	u := b.Union(other)
	assert.Equal(t, mgl32.Vec3{-5, 0, 0}, u.Min)
	assert.Equal(t, mgl32.Vec3{1, 2, 10}, u.Max)
	assert.True(t, u.Contains(b, 0))
	assert.True(t, u.Contains(other, 0))
}

func TestAABBContainsEps(t *testing.T) {
	outer := AABB{Min: mgl32.Vec3{0, 0, 0}, Max: mgl32.Vec3{1, 1, 1}}
	slightly := AABB{Min: mgl32.Vec3{-1e-6, 0, 0}, Max: mgl32.Vec3{1, 1, 1 + 1e-6}}
	assert.False(t, outer.Contains(slightly, 0))
	assert.True(t, outer.Contains(slightly, 1e-5))
}

func TestAABBCenterInflate(t *testing.T) {
	b := AABB{Min: mgl32.Vec3{0, 0, 0}, Max: mgl32.Vec3{2, 4, 6}}
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, b.Center())

	grown := b.Inflate(1)
	assert.Equal(t, mgl32.Vec3{-1, -1, -1}, grown.Min)
	assert.Equal(t, mgl32.Vec3{3, 5, 7}, grown.Max)
}

func TestAABBTransformed(t *testing.T) {
	b := AABB{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 1, 1}}

	moved := b.Transformed(mgl32.Translate3D(10, 0, 0))
	assert.InDelta(t, 9, moved.Min.X(), 1e-5)
	assert.InDelta(t, 11, moved.Max.X(), 1e-5)

	// A rotation by 45 degrees around z grows the xy footprint
	// conservatively.
	rot := b.Transformed(mgl32.HomogRotate3DZ(mgl32.DegToRad(45)))
	assert.InDelta(t, -1.41421, rot.Min.X(), 1e-3)
	assert.InDelta(t, 1.41421, rot.Max.X(), 1e-3)
	assert.InDelta(t, -1, rot.Min.Z(), 1e-5)
}
