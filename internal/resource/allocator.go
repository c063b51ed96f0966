package resource

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Default memory limits.
const (
	// DefaultBudgetMB is the default allocation budget (256 MB).
	DefaultBudgetMB = 256

	// MinBudgetMB is the minimum allowed budget (16 MB).
	MinBudgetMB = 16
)

// Config holds configuration for creating an Allocator.
type Config struct {
	// BudgetMB is the maximum total allocation in megabytes.
	// Defaults to DefaultBudgetMB if below MinBudgetMB.
	BudgetMB int `yaml:"budget_mb"`
}

// Stats contains allocation statistics.
type Stats struct {
	// BudgetBytes is the total budget in bytes.
	BudgetBytes uint64

	// UsedBytes is the currently allocated size in bytes.
	UsedBytes uint64

	// Resources is the number of live resources.
	Resources int

	// Locked is the number of resources with an outstanding CPU view.
	Locked int

	// Utilization is the fraction of the budget in use (0.0 to 1.0).
	Utilization float64
}

// String returns a human-readable string of allocation stats.
func (s Stats) String() string {
	return fmt.Sprintf("Resources[%.1f%% used, %d/%d KB, %d live, %d locked]",
		s.Utilization*100,
		s.UsedBytes/1024,
		s.BudgetBytes/1024,
		s.Resources,
		s.Locked)
}

// Allocator creates, locks and frees GPU buffers on a HAL device.
//
// Allocator is safe for concurrent use. Each Resource can hold at most
// one CPU view at a time.
type Allocator struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue

	budgetBytes uint64
	usedBytes   uint64

	nextID uint64
	live   map[uint64]*Resource

	closed bool
}

// NewAllocator creates an allocator on the given device and queue.
func NewAllocator(device hal.Device, queue hal.Queue, config Config) (*Allocator, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	budgetMB := config.BudgetMB
	if budgetMB < MinBudgetMB {
		budgetMB = DefaultBudgetMB
	}
	return &Allocator{
		device:      device,
		queue:       queue,
		budgetBytes: uint64(budgetMB) * 1024 * 1024,
		live:        make(map[uint64]*Resource),
	}, nil
}

// NewAllocatorFromProvider creates an allocator on a shared device.
// The provider must also expose HalDevice() and HalQueue() returning
// hal.Device and hal.Queue.
func NewAllocatorFromProvider(provider gpucontext.DeviceProvider, config Config) (*Allocator, error) {
	if provider == nil {
		return nil, ErrNilDevice
	}
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider does not expose HAL types", ErrNilDevice)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: provider HalDevice is not hal.Device", ErrNilDevice)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: provider HalQueue is not hal.Queue", ErrNilDevice)
	}
	return NewAllocator(device, queue, config)
}

// Allocate creates a buffer. Sizes below 4 bytes are raised to 4, the
// smallest buffer the HAL accepts.
func (a *Allocator) Allocate(desc Desc) (*Resource, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSize, desc.Name)
	}
	const minBufSize = 4
	size := max(desc.Size, minBufSize)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrAllocatorClosed
	}
	if a.usedBytes+size > a.budgetBytes {
		return nil, fmt.Errorf("%w: %s needs %d bytes, %d of %d used",
			ErrBudgetExceeded, desc.Name, size, a.usedBytes, a.budgetBytes)
	}

	buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Name,
		Size:  size,
		Usage: desc.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("resource: create %s buffer: %w", desc.Name, err)
	}

	a.nextID++
	r := &Resource{
		id:     a.nextID,
		name:   desc.Name,
		size:   size,
		usage:  desc.Usage,
		buffer: buf,
		shadow: make([]byte, size),
	}
	if desc.ZeroInit {
		if err := a.queue.WriteBuffer(buf, 0, r.shadow); err != nil {
			a.device.DestroyBuffer(buf)
			return nil, fmt.Errorf("%w: zero %s: %w", ErrTransfer, desc.Name, err)
		}
	}

	a.live[r.id] = r
	a.usedBytes += size

	slogger().Debug("resource: allocated",
		"name", desc.Name,
		"id", r.id,
		"bytes", size,
		"zero_init", desc.ZeroInit)
	return r, nil
}

// Free destroys the buffer. Freeing nil or an already freed resource is a no-op.
func (a *Allocator) Free(r *Resource) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.freed {
		r.mu.Unlock()
		return
	}
	r.freed = true
	if r.state != LockStateUnlocked {
		slogger().Warn("resource: freeing locked resource", "name", r.name, "state", r.state)
		r.state = LockStateUnlocked
	}
	buf := r.buffer
	r.buffer = nil
	r.shadow = nil
	r.mu.Unlock()

	a.mu.Lock()
	if _, ok := a.live[r.id]; ok {
		delete(a.live, r.id)
		a.usedBytes -= r.size
	}
	a.mu.Unlock()

	if buf != nil {
		a.device.DestroyBuffer(buf)
	}
}

// Lock returns a CPU view of r. The caller must Unlock the returned
// mapping on every path; prefer WithLock.
func (a *Allocator) Lock(r *Resource, mode LockMode) (*Mapping, error) {
	if r == nil {
		return nil, ErrNullResource
	}
	if mode != LockRead && mode != LockWrite {
		return nil, fmt.Errorf("resource: invalid lock mode %v", mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.freed {
		return nil, fmt.Errorf("%w: %s", ErrNullResource, r.name)
	}
	if r.state != LockStateUnlocked {
		return nil, fmt.Errorf("%w: %s (%v)", ErrAlreadyLocked, r.name, r.state)
	}
	if mode == LockWrite && !r.usage.Contains(gputypes.BufferUsageCopyDst) {
		return nil, fmt.Errorf("%w: %s needs CopyDst for write", ErrUsageMismatch, r.name)
	}

	if mode == LockWrite {
		r.state = LockStateWrite
	} else {
		r.state = LockStateRead
	}
	return &Mapping{alloc: a, res: r, mode: mode}, nil
}

// WithLock locks r, calls fn with the CPU view and always unlocks,
// including when fn fails. The unlock error is reported only if fn succeeded.
func (a *Allocator) WithLock(r *Resource, mode LockMode, fn func(data []byte) error) (err error) {
	m, err := a.Lock(r, mode)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := m.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()
	return fn(m.Bytes())
}

// unlock finishes a mapping and uploads write views.
func (a *Allocator) unlock(r *Resource, mode LockMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.freed {
		return fmt.Errorf("%w: %s", ErrNullResource, r.name)
	}
	if r.state == LockStateUnlocked {
		return fmt.Errorf("%w: %s", ErrNotLocked, r.name)
	}
	r.state = LockStateUnlocked
	if mode == LockWrite {
		if err := a.queue.WriteBuffer(r.buffer, 0, r.shadow); err != nil {
			return fmt.Errorf("%w: upload %s: %w", ErrTransfer, r.name, err)
		}
	}
	return nil
}

// Readback refreshes the host shadow of r from the GPU buffer: the
// buffer is copied into a MapRead staging buffer, the copy is submitted
// and waited for, and the staging buffer is mapped.
// The resource must be unlocked and created with CopySrc usage.
func (a *Allocator) Readback(r *Resource) error {
	if r == nil {
		return ErrNullResource
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.freed {
		return fmt.Errorf("%w: %s", ErrNullResource, r.name)
	}
	if r.state != LockStateUnlocked {
		return fmt.Errorf("%w: %s (%v)", ErrAlreadyLocked, r.name, r.state)
	}
	if !r.usage.Contains(gputypes.BufferUsageCopySrc) {
		return fmt.Errorf("%w: %s needs CopySrc for readback", ErrUsageMismatch, r.name)
	}
	if err := a.readback(r.name, r.buffer, r.shadow); err != nil {
		return fmt.Errorf("%w: readback %s: %w", ErrTransfer, r.name, err)
	}
	return nil
}

// readback copies src into dst through a staging buffer.
func (a *Allocator) readback(label string, src hal.Buffer, dst []byte) error {
	size := uint64(len(dst))
	staging, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label + "-staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create staging buffer: %w", err)
	}
	defer a.device.DestroyBuffer(staging)

	encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label + "-readback"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	defer encoder.Destroy()

	if err := encoder.BeginEncoding(label + "-readback"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(src, staging, []hal.BufferCopy{{Size: size}})
	cmd, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer a.device.FreeCommandBuffer(cmd)

	if _, err := a.queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if err := a.device.WaitIdle(); err != nil {
		return fmt.Errorf("wait: %w", err)
	}

	mapping, err := a.device.MapBuffer(staging, 0, size)
	if err != nil {
		return fmt.Errorf("map staging buffer: %w", err)
	}
	copy(dst, unsafe.Slice((*byte)(mapping.Ptr), size))
	if err := a.device.UnmapBuffer(staging); err != nil {
		return fmt.Errorf("unmap staging buffer: %w", err)
	}
	return nil
}

// Stats returns current allocation statistics.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	locked := 0
	for _, r := range a.live {
		if r.State() != LockStateUnlocked {
			locked++
		}
	}
	var util float64
	if a.budgetBytes > 0 {
		util = float64(a.usedBytes) / float64(a.budgetBytes)
	}
	return Stats{
		BudgetBytes: a.budgetBytes,
		UsedBytes:   a.usedBytes,
		Resources:   len(a.live),
		Locked:      locked,
		Utilization: util,
	}
}

// Close frees every live resource. Further allocations fail with
// ErrAllocatorClosed. Close is idempotent.
func (a *Allocator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	live := make([]*Resource, 0, len(a.live))
	for _, r := range a.live {
		live = append(live, r)
	}
	a.mu.Unlock()

	var errs []error
	for _, r := range live {
		if r.State() != LockStateUnlocked {
			errs = append(errs, fmt.Errorf("%w: %s still locked at close", ErrAlreadyLocked, r.name))
		}
		a.Free(r)
	}
	return errors.Join(errs...)
}
