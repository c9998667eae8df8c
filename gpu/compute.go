package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// CreateComputePipeline compiles a WGSL module and wraps it into a compute
// pipeline with an auto layout, the way every pass here is built unless it
// needs dynamic offsets.
func CreateComputePipeline(device *wgpu.Device, label, code, entryPoint string) (*wgpu.ComputePipeline, error) {
	return createComputePipeline(device, label, code, entryPoint, nil)
}

// CreateComputePipelineWithLayout is the explicit-layout variant, needed by
// pipelines that bind uniform slots with dynamic offsets.
func CreateComputePipelineWithLayout(device *wgpu.Device, label, code, entryPoint string, layout *wgpu.PipelineLayout) (*wgpu.ComputePipeline, error) {
	return createComputePipeline(device, label, code, entryPoint, layout)
}

func createComputePipeline(device *wgpu.Device, label, code, entryPoint string, layout *wgpu.PipelineLayout) (*wgpu.ComputePipeline, error) {
	module, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", label, err)
	}
	defer module.Release()

	pipeline, err := device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label,
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: entryPoint,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline %s: %w", label, err)
	}
	return pipeline, nil
}
