package shaders

import (
	_ "embed"
)

//go:embed bvh_primitives.wgsl
var BVHPrimitivesWGSL string

//go:embed bvh_hierarchy.wgsl
var BVHHierarchyWGSL string

//go:embed bvh_propagateaabb.wgsl
var BVHPropagateAABBWGSL string

//go:embed sort.wgsl
var SortWGSL string
