package gpu

import (
	"errors"

	"github.com/cogentcore/webgpu/wgpu"
)

// Context owns the wgpu instance, adapter, device and queue. This library is
// compute-only, so no surface is configured; renderers that already own a
// device can skip NewHeadlessContext and hand their *wgpu.Device to the
// builder directly.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
}

func NewHeadlessContext() (*Context, error) {
	instance := wgpu.CreateInstance(nil)
	if instance == nil {
		return nil, errors.New("wgpu: no instance")
	}

	// finds a suitable GPU (discrete GPU preferred)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, err
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "BVH Device",
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, err
	}

	return &Context{
		Instance: instance,
		Adapter:  adapter,
		Device:   device,
		Queue:    device.GetQueue(),
	}, nil
}

func (c *Context) Release() {
	if c.Device != nil {
		c.Device.Release()
		c.Device = nil
	}
	if c.Adapter != nil {
		c.Adapter.Release()
		c.Adapter = nil
	}
	if c.Instance != nil {
		c.Instance.Release()
		c.Instance = nil
	}
}
