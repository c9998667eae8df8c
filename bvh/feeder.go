package bvh

import (
	"github.com/gekko3d/gpubvh"
	"github.com/gekko3d/gpubvh/core"
)

// Span is one primitive-builder dispatch: a contiguous run of primitives
// from a single mesh subset or a whole hair system. The four fields are the
// per-dispatch constants the kernel receives.
type Span struct {
	InstanceIndex   uint32
	SubsetIndex     uint32
	PrimitiveCount  uint32
	PrimitiveOffset uint32
}

// EnumerateSpans walks the scene in instance order, objects first and hair
// systems after, and assigns each span its contiguous slot range. Objects
// without a mesh keep their instance slot but contribute nothing; this is
// the recoverable scene inconsistency, logged and excluded from the total.
// The returned total is the frame's primitive count N.
func EnumerateSpans(scene *core.Scene, log gpubvh.Logger) (spans []Span, total uint32) {
	if log == nil {
		log = gpubvh.NewNopLogger()
	}

	for i, obj := range scene.Objects {
		if obj.Mesh == nil {
			log.Warnf("object %d has no mesh; skipping", i)
			continue
		}
		for j, subset := range obj.Mesh.Subsets {
			count := subset.IndexCount / 3
			if count == 0 {
				continue
			}
			spans = append(spans, Span{
				InstanceIndex:   uint32(i),
				SubsetIndex:     uint32(j),
				PrimitiveCount:  count,
				PrimitiveOffset: total,
			})
			total += count
		}
	}

	for i, hair := range scene.Hairs {
		count := hair.PrimitiveCount()
		if count == 0 {
			continue
		}
		if uint32(len(hair.Points)) < hair.PointCount() {
			log.Warnf("hair %d has %d control points, need %d; skipping", i, len(hair.Points), hair.PointCount())
			continue
		}
		spans = append(spans, Span{
			InstanceIndex:   uint32(len(scene.Objects) + i),
			SubsetIndex:     0,
			PrimitiveCount:  count,
			PrimitiveOffset: total,
		})
		total += count
	}

	return spans, total
}

// CountPrimitives is the capacity-manager view of the scene: the total the
// next Build will produce. It shares the enumeration with Build so the two
// can never disagree.
func CountPrimitives(scene *core.Scene) uint32 {
	_, total := EnumerateSpans(scene, gpubvh.NewNopLogger())
	return total
}
