// Package resourcetest provides allocators backed by the wgpu HAL noop
// device for tests.
package resourcetest

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/vdenc/internal/resource"
)

// NoopDevice opens a noop device and queue. The device is destroyed when
// the test finishes.
func NoopDevice(tb testing.TB) (hal.Device, hal.Queue) {
	tb.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		tb.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		tb.Fatal("noop instance has no adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		tb.Fatalf("Open failed: %v", err)
	}
	tb.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

// NewAllocator returns an allocator on a fresh noop device. It is closed
// before the device is destroyed.
func NewAllocator(tb testing.TB, config resource.Config) *resource.Allocator {
	tb.Helper()
	device, queue := NoopDevice(tb)
	a, err := resource.NewAllocator(device, queue, config)
	if err != nil {
		tb.Fatalf("NewAllocator failed: %v", err)
	}
	tb.Cleanup(func() { _ = a.Close() })
	return a
}
