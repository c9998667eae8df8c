package core

import (
	"encoding/binary"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/gpubvh"
)

// Instance kinds as seen by the primitive builder kernel.
const (
	InstanceKindMesh = 0
	InstanceKindHair = 1
)

// InstanceStride is the byte size of one instance record in InstanceBuf:
// a 4x4 object-to-world matrix plus eight 32-bit words of offsets/counts.
const InstanceStride = 96

// SubsetStride is the byte size of one subset record in SubsetBuf.
const SubsetStride = 16

type MeshSubset struct {
	IndexOffset uint32
	IndexCount  uint32
}

type Mesh struct {
	Name      string
	Positions []mgl32.Vec3
	Indices   []uint32
	Subsets   []MeshSubset
}

// TriangleCount sums the subset index counts. Indices outside any subset do
// not contribute primitives.
func (m *Mesh) TriangleCount() uint32 {
	var total uint32
	for _, s := range m.Subsets {
		total += s.IndexCount / 3
	}
	return total
}

// LocalAABB is the bound of the mesh positions in object space.
func (m *Mesh) LocalAABB() AABB {
	b := EmptyAABB()
	for _, p := range m.Positions {
		b = b.ExtendPoint(p)
	}
	return b
}

type Object struct {
	Transform *Transform
	Mesh      *Mesh // nil: the object contributes no primitives
}

func NewObject(mesh *Mesh) *Object {
	return &Object{
		Transform: NewTransform(),
		Mesh:      mesh,
	}
}

type HairPoint struct {
	Position mgl32.Vec3
	Radius   float32
}

// Hair is a hair particle system: StrandCount strands of SegmentCount
// segments each. Points holds SegmentCount+1 control points per strand, in
// strand-major order, already in world space.
type Hair struct {
	StrandCount  uint32
	SegmentCount uint32
	Points       []HairPoint
}

// PrimitiveCount is the number of triangles the hair expands to: each
// segment becomes a camera-less quad, two triangles.
func (h *Hair) PrimitiveCount() uint32 {
	return h.SegmentCount * h.StrandCount * 2
}

func (h *Hair) PointCount() uint32 {
	return h.StrandCount * (h.SegmentCount + 1)
}

// Scene is the builder's view of the world: an ordered object list, an
// ordered hair list, a loose world bound for Morton normalisation, and the
// GPU-resident geometry the primitive kernel reads.
type Scene struct {
	Objects []*Object
	Hairs   []*Hair

	// LooseBounds feeds the Morton normalisation; it must cover every
	// primitive but may be slack and updated lazily.
	LooseBounds AABB

	// GPU-resident geometry, produced by UploadGeometry. All storage,
	// read-only to shaders.
	InstanceBuf  *wgpu.Buffer
	VertexBuf    *wgpu.Buffer
	IndexBuf     *wgpu.Buffer
	SubsetBuf    *wgpu.Buffer
	HairPointBuf *wgpu.Buffer
}

func NewScene() *Scene {
	return &Scene{
		LooseBounds: AABB{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 1, 1}},
	}
}

func (s *Scene) AddObject(obj *Object) {
	s.Objects = append(s.Objects, obj)
}

func (s *Scene) AddHair(h *Hair) {
	s.Hairs = append(s.Hairs, h)
}

// RefreshLooseBounds recomputes LooseBounds from object and hair extents,
// inflated by 1% plus an absolute margin so that small per-frame motion does
// not force a recompute every frame.
func (s *Scene) RefreshLooseBounds() {
	b := EmptyAABB()
	for _, obj := range s.Objects {
		if obj.Mesh == nil {
			continue
		}
		local := obj.Mesh.LocalAABB()
		if local.IsEmpty() {
			continue
		}
		b = b.Union(local.Transformed(obj.Transform.ObjectToWorld()))
	}
	for _, h := range s.Hairs {
		for _, p := range h.Points {
			r := mgl32.Vec3{p.Radius, p.Radius, p.Radius}
			b = b.ExtendPoint(p.Position.Sub(r))
			b = b.ExtendPoint(p.Position.Add(r))
		}
	}
	if b.IsEmpty() {
		s.LooseBounds = AABB{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 1, 1}}
		return
	}
	extent := b.Max.Sub(b.Min).Len()
	s.LooseBounds = b.Inflate(extent*0.01 + 1e-3)
}

// UploadGeometry consolidates every mesh and hair into the scene's GPU
// buffers and (re)builds the instance table. Instance slots are assigned in
// scene order: objects first, then hairs, so that instance indices agree
// with what the primitive feeder pushes per span. Buffers are recreated
// wholesale; this is a full-rebuild path, like the BVH itself.
func (s *Scene) UploadGeometry(device *wgpu.Device, log gpubvh.Logger) error {
	if log == nil {
		log = gpubvh.NewNopLogger()
	}

	var vertexData, indexData, subsetData, pointData []byte
	var vertexBase, indexBase, subsetBase, pointBase uint32

	instData := make([]byte, 0, (len(s.Objects)+len(s.Hairs))*InstanceStride)

	for _, obj := range s.Objects {
		if obj.Mesh == nil {
			// Keeps the slot so instance indices stay in scene order.
			instData = append(instData, make([]byte, InstanceStride)...)
			continue
		}
		mesh := obj.Mesh

		inst := make([]byte, InstanceStride)
		putMat4(inst[0:64], obj.Transform.ObjectToWorld())
		binary.LittleEndian.PutUint32(inst[64:68], InstanceKindMesh)
		binary.LittleEndian.PutUint32(inst[68:72], vertexBase)
		binary.LittleEndian.PutUint32(inst[72:76], indexBase)
		binary.LittleEndian.PutUint32(inst[76:80], subsetBase)
		instData = append(instData, inst...)

		for _, p := range mesh.Positions {
			vertexData = append(vertexData, vec3ToBytesPadded(p)...)
		}
		for _, idx := range mesh.Indices {
			var w [4]byte
			binary.LittleEndian.PutUint32(w[:], idx)
			indexData = append(indexData, w[:]...)
		}
		for _, sub := range mesh.Subsets {
			rec := make([]byte, SubsetStride)
			binary.LittleEndian.PutUint32(rec[0:4], sub.IndexOffset)
			binary.LittleEndian.PutUint32(rec[4:8], sub.IndexCount)
			subsetData = append(subsetData, rec...)
		}

		vertexBase += uint32(len(mesh.Positions))
		indexBase += uint32(len(mesh.Indices))
		subsetBase += uint32(len(mesh.Subsets))
	}

	for _, h := range s.Hairs {
		if uint32(len(h.Points)) < h.PointCount() {
			log.Warnf("hair has %d control points, need %d; skipping upload", len(h.Points), h.PointCount())
			instData = append(instData, make([]byte, InstanceStride)...)
			continue
		}

		inst := make([]byte, InstanceStride)
		putMat4(inst[0:64], mgl32.Ident4())
		binary.LittleEndian.PutUint32(inst[64:68], InstanceKindHair)
		binary.LittleEndian.PutUint32(inst[80:84], pointBase)
		binary.LittleEndian.PutUint32(inst[84:88], h.StrandCount)
		binary.LittleEndian.PutUint32(inst[88:92], h.SegmentCount)
		instData = append(instData, inst...)

		for _, p := range h.Points {
			pt := make([]byte, 16)
			binary.LittleEndian.PutUint32(pt[0:4], math.Float32bits(p.Position.X()))
			binary.LittleEndian.PutUint32(pt[4:8], math.Float32bits(p.Position.Y()))
			binary.LittleEndian.PutUint32(pt[8:12], math.Float32bits(p.Position.Z()))
			binary.LittleEndian.PutUint32(pt[12:16], math.Float32bits(p.Radius))
			pointData = append(pointData, pt...)
		}
		pointBase += h.PointCount()
	}

	// wgpu rejects zero-sized bindings; keep one dummy element in each.
	if len(instData) == 0 {
		instData = make([]byte, InstanceStride)
	}
	if len(vertexData) == 0 {
		vertexData = make([]byte, 16)
	}
	if len(indexData) == 0 {
		indexData = make([]byte, 4)
	}
	if len(subsetData) == 0 {
		subsetData = make([]byte, SubsetStride)
	}
	if len(pointData) == 0 {
		pointData = make([]byte, 16)
	}

	var err error
	release := func(b **wgpu.Buffer) {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
	release(&s.InstanceBuf)
	release(&s.VertexBuf)
	release(&s.IndexBuf)
	release(&s.SubsetBuf)
	release(&s.HairPointBuf)

	create := func(label string, data []byte) (*wgpu.Buffer, error) {
		return device.CreateBufferInit(&wgpu.BufferInitDescriptor{
			Label:    label,
			Contents: data,
			Usage:    wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
		})
	}

	if s.InstanceBuf, err = create("SceneInstances", instData); err != nil {
		return err
	}
	if s.VertexBuf, err = create("SceneVertices", vertexData); err != nil {
		return err
	}
	if s.IndexBuf, err = create("SceneIndices", indexData); err != nil {
		return err
	}
	if s.SubsetBuf, err = create("SceneSubsets", subsetData); err != nil {
		return err
	}
	if s.HairPointBuf, err = create("SceneHairPoints", pointData); err != nil {
		return err
	}

	log.Debugf("scene geometry uploaded: %d instances, %d vertex bytes, %d index bytes",
		len(instData)/InstanceStride, len(vertexData), len(indexData))
	return nil
}

// Release frees the scene's GPU buffers. Safe to call twice.
func (s *Scene) Release() {
	for _, b := range []**wgpu.Buffer{&s.InstanceBuf, &s.VertexBuf, &s.IndexBuf, &s.SubsetBuf, &s.HairPointBuf} {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
}

func putMat4(dst []byte, m mgl32.Mat4) {
	for i, v := range m {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func vec3ToBytesPadded(v mgl32.Vec3) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(v.X()))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(v.Y()))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(v.Z()))
	return buf
}
