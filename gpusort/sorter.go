// Package gpusort provides the GPU key/value sort the hierarchy builder runs
// between the primitive pass and the Karras pass: an in-place bitonic
// network over 32-bit unsigned keys with a 32-bit payload, clamped by an
// element count read from a GPU counter buffer.
package gpusort

import (
	"encoding/binary"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/gpubvh"
	"github.com/gekko3d/gpubvh/gpu"
	"github.com/gekko3d/gpubvh/shaders"
)

const (
	groupSize = 256

	// Uniform slots for the per-step constants sit at the minimum dynamic
	// offset alignment.
	stepStride = 256
)

// PaddedCapacity rounds n up to the power of two the bitonic network needs.
// Never below 2.
func PaddedCapacity(n uint32) uint32 {
	c := uint32(2)
	for c < n {
		c <<= 1
	}
	return c
}

// Sorter owns the three sort pipelines, the per-step constants buffer and
// the indirect dispatch-args buffer the kickoff kernel fills from the
// counter. Key and value buffers are supplied per call; they must hold a
// power-of-two element count (allocate with PaddedCapacity).
type Sorter struct {
	device *wgpu.Device
	log    gpubvh.Logger

	layout          *wgpu.BindGroupLayout
	argsLayout      *wgpu.BindGroupLayout
	pipelineLayout  *wgpu.PipelineLayout
	kickoffLayout   *wgpu.PipelineLayout
	kickoffPipeline *wgpu.ComputePipeline
	fillPipeline    *wgpu.ComputePipeline
	stepPipeline    *wgpu.ComputePipeline

	dispatchArgs *wgpu.Buffer
	argsGroup    *wgpu.BindGroup

	stepParams   *wgpu.Buffer
	stepCount    int
	paramsLength uint32
}

func NewSorter(device *wgpu.Device, log gpubvh.Logger) (*Sorter, error) {
	if log == nil {
		log = gpubvh.NewNopLogger()
	}
	s := &Sorter{device: device, log: log}

	var err error
	s.layout, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Sort Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:             wgpu.BufferBindingTypeUniform,
					HasDynamicOffset: true,
					MinBindingSize:   8,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
			},
			{
				Binding:    3,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sort bind group layout: %w", err)
	}

	// The dispatch-args buffer lives in its own group so the main sort pass
	// never holds a storage binding on a buffer it consumes as indirect args.
	s.argsLayout, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Sort Args Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sort args layout: %w", err)
	}

	s.pipelineLayout, err = device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "Sort Pipeline Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{s.layout},
	})
	if err != nil {
		return nil, fmt.Errorf("sort pipeline layout: %w", err)
	}
	s.kickoffLayout, err = device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "Sort Kickoff Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{s.layout, s.argsLayout},
	})
	if err != nil {
		return nil, fmt.Errorf("sort kickoff layout: %w", err)
	}

	s.dispatchArgs, err = gpu.CreateIndirectBuffer(device, "Sort Dispatch Args", 12)
	if err != nil {
		return nil, err
	}
	s.argsGroup, err = device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Sort Args Group",
		Layout: s.argsLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: s.dispatchArgs, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sort args bind group: %w", err)
	}

	if err := s.ReloadShaders(); err != nil {
		return nil, err
	}
	return s, nil
}

// ReloadShaders re-creates the three pipelines from the embedded WGSL.
// Called from NewSorter and again on the shader-reload signal.
func (s *Sorter) ReloadShaders() error {
	module, err := s.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Sort CS",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.SortWGSL},
	})
	if err != nil {
		return fmt.Errorf("compile sort shader: %w", err)
	}
	defer module.Release()

	kickoff, err := s.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  "Sort Kickoff",
		Layout: s.kickoffLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "kickoff",
		},
	})
	if err != nil {
		return fmt.Errorf("sort kickoff pipeline: %w", err)
	}
	fill, err := s.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  "Sort Fill",
		Layout: s.pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "fill",
		},
	})
	if err != nil {
		kickoff.Release()
		return fmt.Errorf("sort fill pipeline: %w", err)
	}
	step, err := s.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  "Sort Step",
		Layout: s.pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "sort_step",
		},
	})
	if err != nil {
		kickoff.Release()
		fill.Release()
		return fmt.Errorf("sort step pipeline: %w", err)
	}

	for _, p := range []*wgpu.ComputePipeline{s.kickoffPipeline, s.fillPipeline, s.stepPipeline} {
		if p != nil {
			p.Release()
		}
	}
	s.kickoffPipeline = kickoff
	s.fillPipeline = fill
	s.stepPipeline = step
	return nil
}

// Steps enumerates the bitonic network for a given element count: the
// stage size k doubles up to length, and within each stage the compare
// distance j halves down to one.
func Steps(length uint32) [][2]uint32 {
	var steps [][2]uint32
	for k := uint32(2); k <= length; k <<= 1 {
		for j := k >> 1; j > 0; j >>= 1 {
			steps = append(steps, [2]uint32{k, j})
		}
	}
	return steps
}

func (s *Sorter) ensureStepParams(length uint32) error {
	if s.stepParams != nil && s.paramsLength == length {
		return nil
	}

	steps := Steps(length)
	data := make([]byte, len(steps)*stepStride)
	for i, st := range steps {
		binary.LittleEndian.PutUint32(data[i*stepStride:], st[0])
		binary.LittleEndian.PutUint32(data[i*stepStride+4:], st[1])
	}

	if s.stepParams != nil {
		s.stepParams.Release()
		s.stepParams = nil
	}
	buf, err := s.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "Sort Step Params",
		Contents: data,
		Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("sort step params (%d steps): %w", len(steps), err)
	}
	s.stepParams = buf
	s.stepCount = len(steps)
	s.paramsLength = length
	s.log.Debugf("sort network rebuilt: length=%d steps=%d", length, len(steps))
	return nil
}

// Sort records the full sort of (keys, values) into enc. A one-thread
// kickoff pass reads the live element count from counter at counterOffset
// and writes the fill pass's workgroup count; the fill pass then runs as an
// indirect dispatch padding everything past the count with the maximum key.
// The comparison network itself is count-independent, so its dispatches are
// sized from the buffer length. maxCount is the host's upper bound and only
// gates recording. The key buffer length (in elements) must be a power of
// two.
func (s *Sorter) Sort(maxCount uint32, keys, counter *wgpu.Buffer, counterOffset uint64, values *wgpu.Buffer, enc *wgpu.CommandEncoder) error {
	if maxCount == 0 {
		return nil
	}

	length := uint32(keys.GetSize() / 4)
	if length&(length-1) != 0 {
		return fmt.Errorf("sort: key buffer holds %d elements, want a power of two", length)
	}
	if err := s.ensureStepParams(length); err != nil {
		return err
	}

	bindGroup, err := s.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Sort Bind Group",
		Layout: s.layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: s.stepParams, Size: 8},
			{Binding: 1, Buffer: keys, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: values, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: counter, Offset: counterOffset, Size: 4},
		},
	})
	if err != nil {
		return fmt.Errorf("sort bind group: %w", err)
	}
	defer bindGroup.Release()

	// The args buffer is storage-written here and consumed as indirect
	// arguments in the next pass; the pass split keeps the two usages apart.
	kick := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "Sort - Kickoff"})
	kick.SetPipeline(s.kickoffPipeline)
	kick.SetBindGroup(0, bindGroup, []uint32{0})
	kick.SetBindGroup(1, s.argsGroup, nil)
	kick.DispatchWorkgroups(1, 1, 1)
	kick.End()

	workgroups := (length + groupSize - 1) / groupSize

	pass := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "BVH - Sort Primitive Mortons"})
	pass.SetPipeline(s.fillPipeline)
	pass.SetBindGroup(0, bindGroup, []uint32{0})
	pass.DispatchWorkgroupsIndirect(s.dispatchArgs, 0)

	pass.SetPipeline(s.stepPipeline)
	for i := 0; i < s.stepCount; i++ {
		pass.SetBindGroup(0, bindGroup, []uint32{uint32(i * stepStride)})
		pass.DispatchWorkgroups(workgroups, 1, 1)
	}
	pass.End()

	return nil
}

func (s *Sorter) Release() {
	for _, p := range []*wgpu.ComputePipeline{s.kickoffPipeline, s.fillPipeline, s.stepPipeline} {
		if p != nil {
			p.Release()
		}
	}
	s.kickoffPipeline = nil
	s.fillPipeline = nil
	s.stepPipeline = nil
	if s.argsGroup != nil {
		s.argsGroup.Release()
		s.argsGroup = nil
	}
	gpu.ReleaseBuffer(&s.dispatchArgs)
	gpu.ReleaseBuffer(&s.stepParams)
	if s.kickoffLayout != nil {
		s.kickoffLayout.Release()
		s.kickoffLayout = nil
	}
	if s.pipelineLayout != nil {
		s.pipelineLayout.Release()
		s.pipelineLayout = nil
	}
	for _, l := range []**wgpu.BindGroupLayout{&s.argsLayout, &s.layout} {
		if *l != nil {
			(*l).Release()
			*l = nil
		}
	}
}
