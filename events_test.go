package gpubvh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalBusPublish(t *testing.T) {
	bus := NewSignalBus()

	var got []uint64
	h := bus.Subscribe(SignalReloadShaders, func(userdata uint64) {
		got = append(got, userdata)
	})
	defer h.Close()

	bus.Publish(SignalReloadShaders, 1)
	bus.Publish(SignalReloadShaders, 2)
	bus.Publish(Topic("unrelated"), 3)

	assert.Equal(t, []uint64{1, 2}, got)
}

func TestSignalBusCloseStopsDelivery(t *testing.T) {
	bus := NewSignalBus()

	calls := 0
	h := bus.Subscribe(SignalReloadShaders, func(uint64) { calls++ })
	bus.Publish(SignalReloadShaders, 0)
	h.Close()
	h.Close() // idempotent
	bus.Publish(SignalReloadShaders, 0)

	assert.Equal(t, 1, calls)
}

func TestSignalBusMultipleSubscribers(t *testing.T) {
	bus := NewSignalBus()

	a, b := 0, 0
	ha := bus.Subscribe(SignalReloadShaders, func(uint64) { a++ })
	hb := bus.Subscribe(SignalReloadShaders, func(uint64) { b++ })
	defer ha.Close()

	bus.Publish(SignalReloadShaders, 0)
	hb.Close()
	bus.Publish(SignalReloadShaders, 0)

	assert.Equal(t, 2, a)
	assert.Equal(t, 1, b)
}
