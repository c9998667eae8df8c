package bvh

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/gpubvh/core"
)

func TestEnumerateSpansMeshSubsets(t *testing.T) {
	scene := core.NewScene()
	mesh := &core.Mesh{
		Positions: make([]mgl32.Vec3, 9),
		Indices:   []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8},
		Subsets: []core.MeshSubset{
			{IndexOffset: 0, IndexCount: 6},
			{IndexOffset: 6, IndexCount: 3},
		},
	}
	scene.AddObject(core.NewObject(mesh))

	spans, total := EnumerateSpans(scene, nil)
	require.Len(t, spans, 2)
	assert.Equal(t, uint32(3), total)

	assert.Equal(t, Span{InstanceIndex: 0, SubsetIndex: 0, PrimitiveCount: 2, PrimitiveOffset: 0}, spans[0])
	assert.Equal(t, Span{InstanceIndex: 0, SubsetIndex: 1, PrimitiveCount: 1, PrimitiveOffset: 2}, spans[1])
}

func TestEnumerateSpansSkipsMissingMesh(t *testing.T) {
	scene := core.NewScene()
	scene.AddObject(&core.Object{Transform: core.NewTransform()}) // no mesh
	scene.AddObject(core.NewObject(triangleMesh(mgl32.Vec3{})))

	spans, total := EnumerateSpans(scene, nil)
	require.Len(t, spans, 1)
	assert.Equal(t, uint32(1), total)
	// The second object keeps its instance slot even though the first was
	// skipped.
	assert.Equal(t, uint32(1), spans[0].InstanceIndex)
}

func TestEnumerateSpansHairIndexing(t *testing.T) {
	scene := core.NewScene()
	scene.AddObject(core.NewObject(triangleMesh(mgl32.Vec3{})))

	hair := &core.Hair{StrandCount: 3, SegmentCount: 5}
	for i := uint32(0); i < hair.PointCount(); i++ {
		hair.Points = append(hair.Points, core.HairPoint{Radius: 0.1})
	}
	scene.AddHair(hair)

	spans, total := EnumerateSpans(scene, nil)
	require.Len(t, spans, 2)
	assert.Equal(t, uint32(1+3*5*2), total)

	// Hair instances follow the object list.
	assert.Equal(t, uint32(1), spans[1].InstanceIndex)
	assert.Equal(t, uint32(30), spans[1].PrimitiveCount)
	assert.Equal(t, uint32(1), spans[1].PrimitiveOffset)
}

func TestEnumerateSpansSkipsShortHair(t *testing.T) {
	scene := core.NewScene()
	hair := &core.Hair{StrandCount: 2, SegmentCount: 4}
	hair.Points = make([]core.HairPoint, 3) // needs 10
	scene.AddHair(hair)

	spans, total := EnumerateSpans(scene, nil)
	assert.Empty(t, spans)
	assert.Zero(t, total)
}

func TestCountPrimitivesMatchesSpans(t *testing.T) {
	scene := core.NewScene()
	scene.AddObject(core.NewObject(triangleMesh(mgl32.Vec3{})))
	scene.AddObject(&core.Object{Transform: core.NewTransform()})
	hair := &core.Hair{StrandCount: 1, SegmentCount: 2}
	hair.Points = make([]core.HairPoint, 3)
	scene.AddHair(hair)

	_, total := EnumerateSpans(scene, nil)
	assert.Equal(t, total, CountPrimitives(scene))
}

func TestHairThreadDecode(t *testing.T) {
	// Thread indexing over a hair span: strand = t/(2G), segment =
	// (t%(2G))/2, half = t%2. Exercise it through the expansion and assert
	// each triangle lands on the strand the decode assigns it to.
	hair := &core.Hair{StrandCount: 2, SegmentCount: 2}
	for s := 0; s < 2; s++ {
		for g := 0; g <= 2; g++ {
			hair.Points = append(hair.Points, core.HairPoint{
				Position: mgl32.Vec3{float32(s) * 10, float32(g), 0},
				Radius:   0.5,
			})
		}
	}
	scene := core.NewScene()
	scene.AddHair(hair)

	spans, total := EnumerateSpans(scene, nil)
	require.Equal(t, uint32(8), total)
	prims := ExpandSpans(scene, spans)
	require.Len(t, prims, 8)

	// All four triangles of strand 0 (both segments, both halves) stay near
	// x=0; the four of strand 1 sit at x=10.
	for i := 0; i < 4; i++ {
		assert.InDelta(t, 0, prims[i].Centroid().X(), 1.0, "prim %d on strand 0", i)
	}
	for i := 4; i < 8; i++ {
		assert.InDelta(t, 10, prims[i].Centroid().X(), 1.0, "prim %d on strand 1", i)
	}
}
