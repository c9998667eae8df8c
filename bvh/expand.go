package bvh

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/gpubvh/core"
)

// ExpandSpans runs the primitive builder on the host: the same triangle
// transform and hair quad construction the kernel performs, producing the
// records in slot order. The tests drive whole builds through it and the
// CPU reference; keep it in lockstep with bvh_primitives.wgsl.
func ExpandSpans(scene *core.Scene, spans []Span) []Primitive {
	var total uint32
	for _, s := range spans {
		if end := s.PrimitiveOffset + s.PrimitiveCount; end > total {
			total = end
		}
	}
	out := make([]Primitive, total)

	for _, span := range spans {
		if int(span.InstanceIndex) < len(scene.Objects) {
			expandMeshSpan(scene.Objects[span.InstanceIndex], span, out)
		} else {
			expandHairSpan(scene.Hairs[int(span.InstanceIndex)-len(scene.Objects)], span, out)
		}
	}
	return out
}

func expandMeshSpan(obj *core.Object, span Span, out []Primitive) {
	mesh := obj.Mesh
	subset := mesh.Subsets[span.SubsetIndex]
	o2w := obj.Transform.ObjectToWorld()

	for t := uint32(0); t < span.PrimitiveCount; t++ {
		base := subset.IndexOffset + t*3
		transform := func(idx uint32) mgl32.Vec3 {
			return o2w.Mul4x1(mesh.Positions[idx].Vec4(1.0)).Vec3()
		}
		out[span.PrimitiveOffset+t] = Primitive{
			V0:            transform(mesh.Indices[base]),
			V1:            transform(mesh.Indices[base+1]),
			V2:            transform(mesh.Indices[base+2]),
			InstanceIndex: span.InstanceIndex,
			SubsetIndex:   span.SubsetIndex,
			LocalIndex:    t,
		}
	}
}

func expandHairSpan(hair *core.Hair, span Span, out []Primitive) {
	for t := uint32(0); t < span.PrimitiveCount; t++ {
		seg2 := hair.SegmentCount * 2
		s := t / seg2
		g := (t % seg2) / 2
		half := t & 1

		row := s * (hair.SegmentCount + 1)
		p0 := hair.Points[row+g]
		p1 := hair.Points[row+g+1]

		axis := p1.Position.Sub(p0.Position)
		side := axis.Cross(mgl32.Vec3{0, 1, 0})
		if side.Dot(side) < 1e-12 {
			side = axis.Cross(mgl32.Vec3{1, 0, 0})
		}
		side = side.Normalize()

		a0 := p0.Position.Sub(side.Mul(p0.Radius))
		b0 := p0.Position.Add(side.Mul(p0.Radius))
		a1 := p1.Position.Sub(side.Mul(p1.Radius))
		b1 := p1.Position.Add(side.Mul(p1.Radius))

		prim := Primitive{
			InstanceIndex: span.InstanceIndex,
			SubsetIndex:   span.SubsetIndex,
			LocalIndex:    t,
		}
		if half == 0 {
			prim.V0, prim.V1, prim.V2 = a0, b0, a1
		} else {
			prim.V0, prim.V1, prim.V2 = b0, b1, a1
		}
		out[span.PrimitiveOffset+t] = prim
	}
}
