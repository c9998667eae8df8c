// Package bvh builds a GPU-resident linear BVH over the scene's triangle
// and hair primitives, entirely on the device: primitive gather, Morton
// sort, Karras hierarchy construction and bottom-up AABB propagation are
// recorded as compute passes into the caller's command encoder each frame.
package bvh

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/gpubvh"
	"github.com/gekko3d/gpubvh/core"
	"github.com/gekko3d/gpubvh/gpu"
	"github.com/gekko3d/gpubvh/gpusort"
	"github.com/gekko3d/gpubvh/shaders"
)

// BuilderGroupSize is the workgroup width of all three BVH kernels.
const BuilderGroupSize = 64

// Bind slots consumers see from Bind: counter, primitive records, nodes.
const (
	BindSlotCounter    = 0
	BindSlotPrimitives = 1
	BindSlotNodes      = 2
)

// spanStride is the uniform slot size per dispatch record; the minimum
// dynamic offset alignment.
const spanStride = 256

// ErrCapacityExceeded reports a Build whose scene no longer fits the
// allocated buffers. It cannot happen when Update ran against the same
// scene; its presence indicates a caller bug.
var ErrCapacityExceeded = errors.New("bvh: primitive spans exceed allocated capacity")

type Options struct {
	Logger   gpubvh.Logger
	Profiler *gpubvh.Profiler
	Signals  *gpubvh.SignalBus
	// Validate enables the post-build readback checks in Validate. Slow;
	// debug only.
	Validate bool
}

// Builder owns the six BVH buffers and the three compute pipelines. All
// persistent state lives on the GPU; the host keeps the capacity and the
// handles. Not safe for concurrent use.
type Builder struct {
	device *wgpu.Device
	queue  *wgpu.Queue
	log    gpubvh.Logger
	prof   *gpubvh.Profiler
	opts   Options

	sorter *gpusort.Sorter

	spanLayout     *wgpu.BindGroupLayout
	sceneLayout    *wgpu.BindGroupLayout
	outputLayout   *wgpu.BindGroupLayout
	primPipeLayout *wgpu.PipelineLayout

	primitivesPipeline *wgpu.ComputePipeline
	hierarchyPipeline  *wgpu.ComputePipeline
	propagatePipeline  *wgpu.ComputePipeline

	// primitiveCapacity is C: the element capacity of the primitive-indexed
	// buffers. sortedCapacity is the power-of-two size of the Morton and id
	// buffers the sort network runs over.
	primitiveCapacity uint32
	sortedCapacity    uint32

	primitiveBuf   *wgpu.Buffer
	primitiveIDBuf *wgpu.Buffer
	mortonBuf      *wgpu.Buffer
	nodeBuf        *wgpu.Buffer
	parentBuf      *wgpu.Buffer
	flagBuf        *wgpu.Buffer
	counterBuf     *wgpu.Buffer
	frameBuf       *wgpu.Buffer

	spanBuf      *wgpu.Buffer
	spanCapacity uint32

	// lastPrimitiveCount mirrors the counter buffer for the validator.
	lastPrimitiveCount uint32

	reloadSub   *gpubvh.Handle
	initialized bool
}

func NewBuilder(device *wgpu.Device, opts Options) *Builder {
	if opts.Logger == nil {
		opts.Logger = gpubvh.NewNopLogger()
	}
	return &Builder{
		device: device,
		queue:  device.GetQueue(),
		log:    opts.Logger,
		prof:   opts.Profiler,
		opts:   opts,
	}
}

// Initialize compiles the three compute pipelines and the sorter, and
// subscribes to the shader-reload signal when a bus was provided.
// Idempotent.
func (b *Builder) Initialize() error {
	if b.initialized {
		return nil
	}

	if err := b.createLayouts(); err != nil {
		return err
	}
	if err := b.loadShaders(); err != nil {
		return err
	}

	var err error
	b.sorter, err = gpusort.NewSorter(b.device, b.log)
	if err != nil {
		return err
	}

	if b.opts.Signals != nil {
		b.reloadSub = b.opts.Signals.Subscribe(gpubvh.SignalReloadShaders, func(uint64) {
			if err := b.loadShaders(); err != nil {
				b.log.Errorf("bvh shader reload: %v", err)
			}
			if err := b.sorter.ReloadShaders(); err != nil {
				b.log.Errorf("sort shader reload: %v", err)
			}
		})
	}

	b.initialized = true
	return nil
}

func (b *Builder) createLayouts() error {
	var err error
	b.spanLayout, err = b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "BVH Span Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:             wgpu.BufferBindingTypeUniform,
					HasDynamicOffset: true,
					MinBindingSize:   16,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform, MinBindingSize: 32},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("span layout: %w", err)
	}

	readOnly := func(binding uint32) wgpu.BindGroupLayoutEntry {
		return wgpu.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
		}
	}
	readWrite := func(binding uint32) wgpu.BindGroupLayoutEntry {
		return wgpu.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
		}
	}

	b.sceneLayout, err = b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   "BVH Scene Layout",
		Entries: []wgpu.BindGroupLayoutEntry{readOnly(0), readOnly(1), readOnly(2), readOnly(3), readOnly(4)},
	})
	if err != nil {
		return fmt.Errorf("scene layout: %w", err)
	}

	b.outputLayout, err = b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   "BVH Output Layout",
		Entries: []wgpu.BindGroupLayoutEntry{readWrite(0), readWrite(1), readWrite(2)},
	})
	if err != nil {
		return fmt.Errorf("output layout: %w", err)
	}

	b.primPipeLayout, err = b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "BVH Primitives Pipeline Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{b.spanLayout, b.sceneLayout, b.outputLayout},
	})
	if err != nil {
		return fmt.Errorf("primitives pipeline layout: %w", err)
	}
	return nil
}

// loadShaders (re)creates the three pipelines. Runs at Initialize and again
// on every reload signal.
func (b *Builder) loadShaders() error {
	primitives, err := gpu.CreateComputePipelineWithLayout(b.device, "BVH Primitives CS",
		shaders.BVHPrimitivesWGSL, "main", b.primPipeLayout)
	if err != nil {
		return err
	}
	hierarchy, err := gpu.CreateComputePipeline(b.device, "BVH Hierarchy CS",
		shaders.BVHHierarchyWGSL, "main")
	if err != nil {
		primitives.Release()
		return err
	}
	propagate, err := gpu.CreateComputePipeline(b.device, "BVH Propagate AABB CS",
		shaders.BVHPropagateAABBWGSL, "main")
	if err != nil {
		primitives.Release()
		hierarchy.Release()
		return err
	}

	for _, p := range []*wgpu.ComputePipeline{b.primitivesPipeline, b.hierarchyPipeline, b.propagatePipeline} {
		if p != nil {
			p.Release()
		}
	}
	b.primitivesPipeline = primitives
	b.hierarchyPipeline = hierarchy
	b.propagatePipeline = propagate
	return nil
}

// Update is the capacity manager: pure host work. It sums the scene's
// primitive count and reallocates every GPU buffer when the count outgrows
// the stored capacity. Reallocation is destructive; capacity never shrinks
// without a Clear.
func (b *Builder) Update(scene *core.Scene) error {
	if b.counterBuf == nil {
		var err error
		if b.counterBuf, err = gpu.CreateStorageBuffer(b.device, "primitiveCounterBuffer", 4); err != nil {
			return b.allocFailed(err)
		}
		if b.frameBuf, err = gpu.CreateUniformBuffer(b.device, "BVH Frame Bounds", 32); err != nil {
			return b.allocFailed(err)
		}
	}

	total := CountPrimitives(scene)
	if total <= b.primitiveCapacity && b.primitiveBuf != nil {
		return nil
	}

	capacity, sorted := capacityFor(total)
	b.log.Debugf("bvh reallocating: capacity %d -> %d (sort length %d)", b.primitiveCapacity, capacity, sorted)

	b.releaseCapacityBuffers()

	var err error
	create := func(dst **wgpu.Buffer, label string, size uint64) {
		if err != nil {
			return
		}
		*dst, err = gpu.CreateStorageBuffer(b.device, label, size)
	}
	create(&b.primitiveBuf, "primitiveBuffer", uint64(capacity)*PrimitiveStride)
	create(&b.primitiveIDBuf, "primitiveIDBuffer", uint64(sorted)*4)
	create(&b.mortonBuf, "primitiveMortonBuffer", uint64(sorted)*4)
	create(&b.nodeBuf, "bvhNodeBuffer", uint64(capacity)*2*NodeStride)
	create(&b.parentBuf, "bvhParentBuffer", uint64(capacity)*2*4)
	create(&b.flagBuf, "bvhFlagBuffer", uint64(capacity)*4)
	if err != nil {
		b.releaseCapacityBuffers()
		return b.allocFailed(err)
	}

	b.primitiveCapacity = capacity
	b.sortedCapacity = sorted
	return nil
}

// capacityFor maps a frame's primitive total to the element capacity of the
// primitive-indexed buffers and the power-of-two length the sort network
// needs. Capacity is at least two so degenerate scenes still get valid
// buffers.
func capacityFor(total uint32) (capacity, sorted uint32) {
	capacity = total
	if capacity < 2 {
		capacity = 2
	}
	return capacity, gpusort.PaddedCapacity(capacity)
}

// truncateSpans drops every span from the first one that no longer fits the
// allocated capacity, keeping the slot range contiguous. Returns the kept
// spans and the new total.
func truncateSpans(spans []Span, capacity uint32) ([]Span, uint32) {
	var cut uint32
	for i, s := range spans {
		if s.PrimitiveOffset+s.PrimitiveCount > capacity {
			return spans[:i], cut
		}
		cut = s.PrimitiveOffset + s.PrimitiveCount
	}
	return spans, cut
}

func (b *Builder) allocFailed(err error) error {
	b.primitiveCapacity = 0
	b.sortedCapacity = 0
	wrapped := fmt.Errorf("bvh allocation failed: %w", err)
	b.log.Errorf("%v", wrapped)
	return wrapped
}

func (b *Builder) releaseCapacityBuffers() {
	for _, buf := range []**wgpu.Buffer{&b.primitiveBuf, &b.primitiveIDBuf, &b.mortonBuf, &b.nodeBuf, &b.parentBuf, &b.flagBuf} {
		gpu.ReleaseBuffer(buf)
	}
	b.primitiveCapacity = 0
	b.sortedCapacity = 0
}

// Build records the full rebuild into enc: the per-span primitive
// dispatches, the Morton sort, the hierarchy pass and the AABB propagation,
// each in its own compute pass so the device orders the writes between
// them. The caller submits enc; Build has no host-side post-conditions.
func (b *Builder) Build(scene *core.Scene, enc *wgpu.CommandEncoder) error {
	if !b.initialized {
		return errors.New("bvh: Build before Initialize")
	}
	if b.counterBuf == nil {
		return errors.New("bvh: Build before Update")
	}

	if b.prof != nil {
		b.prof.BeginScope("BVH Rebuild")
		defer b.prof.EndScope("BVH Rebuild")
	}

	spans, total := EnumerateSpans(scene, b.log)

	// A span past the allocated capacity is impossible when Update ran
	// against this scene. Truncate there and flag the internal error.
	if total > b.primitiveCapacity {
		var cut uint32
		spans, cut = truncateSpans(spans, b.primitiveCapacity)
		b.log.Errorf("%v: need %d, capacity %d; truncating to %d", ErrCapacityExceeded, total, b.primitiveCapacity, cut)
		total = cut
	}

	b.lastPrimitiveCount = total

	// The counter is queue-ordered ahead of the encoder the caller submits,
	// so every kernel below reads this frame's N.
	var counterBytes [4]byte
	binary.LittleEndian.PutUint32(counterBytes[:], total)
	b.queue.WriteBuffer(b.counterBuf, 0, counterBytes[:])

	if total == 0 {
		return nil
	}

	b.writeFrameBounds(scene.LooseBounds)

	if err := b.recordPrimitivePass(scene, spans, enc); err != nil {
		return err
	}

	if b.prof != nil {
		b.prof.BeginScope("BVH Sort")
	}
	err := b.sorter.Sort(total, b.mortonBuf, b.counterBuf, 0, b.primitiveIDBuf, enc)
	if b.prof != nil {
		b.prof.EndScope("BVH Sort")
	}
	if err != nil {
		return err
	}

	if err := b.recordHierarchyPass(total, enc); err != nil {
		return err
	}
	if err := b.recordPropagatePass(total, enc); err != nil {
		return err
	}

	if b.prof != nil {
		b.prof.SetCount("bvh primitives", int(total))
		b.prof.SetCount("bvh nodes", int(2*total-1))
	}
	return nil
}

func (b *Builder) writeFrameBounds(bounds core.AABB) {
	var buf [32]byte
	put := func(off int, v float32) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
	}
	put(0, bounds.Min.X())
	put(4, bounds.Min.Y())
	put(8, bounds.Min.Z())
	put(16, bounds.Max.X())
	put(20, bounds.Max.Y())
	put(24, bounds.Max.Z())
	b.queue.WriteBuffer(b.frameBuf, 0, buf[:])
}

func (b *Builder) recordPrimitivePass(scene *core.Scene, spans []Span, enc *wgpu.CommandEncoder) error {
	if len(spans) == 0 {
		return nil
	}
	if scene.InstanceBuf == nil {
		return errors.New("bvh: scene geometry not uploaded")
	}

	if b.prof != nil {
		b.prof.BeginScope("BVH Primitives")
		defer b.prof.EndScope("BVH Primitives")
	}

	if err := b.ensureSpanBuffer(uint32(len(spans))); err != nil {
		return err
	}
	spanData := make([]byte, len(spans)*spanStride)
	for i, s := range spans {
		off := i * spanStride
		binary.LittleEndian.PutUint32(spanData[off:], s.InstanceIndex)
		binary.LittleEndian.PutUint32(spanData[off+4:], s.SubsetIndex)
		binary.LittleEndian.PutUint32(spanData[off+8:], s.PrimitiveCount)
		binary.LittleEndian.PutUint32(spanData[off+12:], s.PrimitiveOffset)
	}
	b.queue.WriteBuffer(b.spanBuf, 0, spanData)

	spanGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "BVH Span Group",
		Layout: b.spanLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: b.spanBuf, Size: 16},
			{Binding: 1, Buffer: b.frameBuf, Size: 32},
		},
	})
	if err != nil {
		return fmt.Errorf("span bind group: %w", err)
	}
	defer spanGroup.Release()

	sceneGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "BVH Scene Group",
		Layout: b.sceneLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: scene.InstanceBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: scene.VertexBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: scene.IndexBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: scene.SubsetBuf, Size: wgpu.WholeSize},
			{Binding: 4, Buffer: scene.HairPointBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("scene bind group: %w", err)
	}
	defer sceneGroup.Release()

	outputGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "BVH Output Group",
		Layout: b.outputLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: b.primitiveBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: b.primitiveIDBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: b.mortonBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("output bind group: %w", err)
	}
	defer outputGroup.Release()

	pass := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "BVH - Primitive Builder"})
	pass.SetPipeline(b.primitivesPipeline)
	pass.SetBindGroup(1, sceneGroup, nil)
	pass.SetBindGroup(2, outputGroup, nil)
	for i, s := range spans {
		pass.SetBindGroup(0, spanGroup, []uint32{uint32(i * spanStride)})
		pass.DispatchWorkgroups((s.PrimitiveCount+BuilderGroupSize-1)/BuilderGroupSize, 1, 1)
	}
	pass.End()
	return nil
}

func (b *Builder) ensureSpanBuffer(count uint32) error {
	if b.spanBuf != nil && count <= b.spanCapacity {
		return nil
	}
	capacity := count + 64
	gpu.ReleaseBuffer(&b.spanBuf)
	buf, err := gpu.CreateUniformBuffer(b.device, "BVH Span Records", uint64(capacity)*spanStride)
	if err != nil {
		return b.allocFailed(err)
	}
	b.spanBuf = buf
	b.spanCapacity = capacity
	return nil
}

func (b *Builder) recordHierarchyPass(total uint32, enc *wgpu.CommandEncoder) error {
	if b.prof != nil {
		b.prof.BeginScope("BVH Hierarchy")
		defer b.prof.EndScope("BVH Hierarchy")
	}

	layout := b.hierarchyPipeline.GetBindGroupLayout(0)
	defer layout.Release()
	group, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "BVH Hierarchy Group",
		Layout: layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: b.counterBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: b.mortonBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: b.primitiveIDBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: b.primitiveBuf, Size: wgpu.WholeSize},
			{Binding: 4, Buffer: b.nodeBuf, Size: wgpu.WholeSize},
			{Binding: 5, Buffer: b.parentBuf, Size: wgpu.WholeSize},
			{Binding: 6, Buffer: b.flagBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("hierarchy bind group: %w", err)
	}
	defer group.Release()

	pass := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "BVH - Build Hierarchy"})
	pass.SetPipeline(b.hierarchyPipeline)
	pass.SetBindGroup(0, group, nil)
	pass.DispatchWorkgroups((total+BuilderGroupSize-1)/BuilderGroupSize, 1, 1)
	pass.End()
	return nil
}

func (b *Builder) recordPropagatePass(total uint32, enc *wgpu.CommandEncoder) error {
	if b.prof != nil {
		b.prof.BeginScope("BVH Propagate")
		defer b.prof.EndScope("BVH Propagate")
	}

	layout := b.propagatePipeline.GetBindGroupLayout(0)
	defer layout.Release()
	group, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "BVH Propagate Group",
		Layout: layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: b.counterBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: b.parentBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: b.nodeBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: b.flagBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("propagate bind group: %w", err)
	}
	defer group.Release()

	pass := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "BVH - Propagate AABB"})
	pass.SetPipeline(b.propagatePipeline)
	pass.SetBindGroup(0, group, nil)
	pass.DispatchWorkgroups((total+BuilderGroupSize-1)/BuilderGroupSize, 1, 1)
	pass.End()
	return nil
}

// Bind exposes the traversal-facing buffers (counter, primitive records,
// nodes) as a bind group for the consumer's layout. The layout's bindings
// must follow the BindSlot constants. Valid once Update has run; succeeds
// for an empty BVH, whose counter reads zero.
func (b *Builder) Bind(layout *wgpu.BindGroupLayout) (*wgpu.BindGroup, error) {
	if b.counterBuf == nil || b.primitiveBuf == nil || b.nodeBuf == nil {
		return nil, errors.New("bvh: Bind before Update")
	}
	return b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "BVH Consumer Group",
		Layout: layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: BindSlotCounter, Buffer: b.counterBuf, Size: wgpu.WholeSize},
			{Binding: BindSlotPrimitives, Buffer: b.primitiveBuf, Size: wgpu.WholeSize},
			{Binding: BindSlotNodes, Buffer: b.nodeBuf, Size: wgpu.WholeSize},
		},
	})
}

// Clear resets the stored capacity. The next Update reallocates from
// scratch; until then the old buffers remain valid for readers.
func (b *Builder) Clear() {
	b.primitiveCapacity = 0
	b.sortedCapacity = 0
}

// Release frees every GPU object the builder owns and drops the reload
// subscription.
func (b *Builder) Release() {
	if b.reloadSub != nil {
		b.reloadSub.Close()
		b.reloadSub = nil
	}
	if b.sorter != nil {
		b.sorter.Release()
		b.sorter = nil
	}
	b.releaseCapacityBuffers()
	gpu.ReleaseBuffer(&b.counterBuf)
	gpu.ReleaseBuffer(&b.frameBuf)
	gpu.ReleaseBuffer(&b.spanBuf)
	b.spanCapacity = 0
	for _, p := range []*wgpu.ComputePipeline{b.primitivesPipeline, b.hierarchyPipeline, b.propagatePipeline} {
		if p != nil {
			p.Release()
		}
	}
	b.primitivesPipeline = nil
	b.hierarchyPipeline = nil
	b.propagatePipeline = nil
	for _, l := range []*wgpu.BindGroupLayout{b.spanLayout, b.sceneLayout, b.outputLayout} {
		if l != nil {
			l.Release()
		}
	}
	b.spanLayout = nil
	b.sceneLayout = nil
	b.outputLayout = nil
	if b.primPipeLayout != nil {
		b.primPipeLayout.Release()
		b.primPipeLayout = nil
	}
	b.initialized = false
}
