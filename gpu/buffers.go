package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// CreateStorageBuffer allocates a read-write storage buffer. CopySrc is
// always included so the validator can stage the contents out, CopyDst so
// the host can seed it.
func CreateStorageBuffer(device *wgpu.Device, label string, size uint64) (*wgpu.Buffer, error) {
	if size%4 != 0 {
		size += 4 - size%4
	}
	buf, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s (%d bytes): %w", label, size, err)
	}
	return buf, nil
}

// CreateUniformBuffer allocates a host-writable uniform buffer.
func CreateUniformBuffer(device *wgpu.Device, label string, size uint64) (*wgpu.Buffer, error) {
	buf, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s (%d bytes): %w", label, size, err)
	}
	return buf, nil
}

// CreateIndirectBuffer allocates a buffer usable as DispatchWorkgroupsIndirect
// arguments and as a storage target so a kernel can fill it.
func CreateIndirectBuffer(device *wgpu.Device, label string, size uint64) (*wgpu.Buffer, error) {
	buf, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: wgpu.BufferUsageIndirect | wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s (%d bytes): %w", label, size, err)
	}
	return buf, nil
}

// ReleaseBuffer releases *buf if set and nils it out.
func ReleaseBuffer(buf **wgpu.Buffer) {
	if *buf != nil {
		(*buf).Release()
		*buf = nil
	}
}
