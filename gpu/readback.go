package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// DownloadBuffer copies size bytes of src into a staging buffer, waits for
// the GPU, maps it and returns a host copy. The staging buffer is released
// on all exit paths. This is a blocking diagnostic path; the builder only
// uses it when validation is enabled.
func DownloadBuffer(device *wgpu.Device, src *wgpu.Buffer, offset, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if size%4 != 0 {
		size += 4 - size%4
	}

	staging, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Readback Staging",
		Size:  size,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, fmt.Errorf("readback staging (%d bytes): %w", size, err)
	}
	defer staging.Release()

	encoder, err := device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	encoder.CopyBufferToBuffer(src, offset, staging, 0, size)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	device.GetQueue().Submit(cmd)

	var mapped, failed bool
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status == wgpu.BufferMapAsyncStatusSuccess {
			mapped = true
		} else {
			failed = true
		}
	})
	for !mapped && !failed {
		device.Poll(true, nil)
	}
	if failed {
		return nil, fmt.Errorf("readback map failed")
	}

	// Copy out before Unmap invalidates the range.
	data := staging.GetMappedRange(0, uint(size))
	out := make([]byte, size)
	copy(out, data)
	staging.Unmap()

	return out, nil
}
