// Package resource owns the GPU-visible buffers used by the encoder:
// statistics buffers, HuC DMEM buffers, semaphore cells and second-level
// batch buffers. Buffers are backed by gogpu/wgpu HAL buffers and carry a
// host shadow that is exposed through scoped lock/unlock.
package resource

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Resource errors.
var (
	// ErrNullResource is returned when an operation references a nil or freed resource.
	ErrNullResource = errors.New("resource: resource is null")

	// ErrInvalidSize is returned when a buffer size is zero.
	ErrInvalidSize = errors.New("resource: invalid buffer size")

	// ErrAlreadyLocked is returned when locking a resource that is already locked.
	ErrAlreadyLocked = errors.New("resource: resource is already locked")

	// ErrNotLocked is returned when unlocking a resource that is not locked.
	ErrNotLocked = errors.New("resource: resource is not locked")

	// ErrUsageMismatch is returned when the lock mode does not match the usage hint.
	ErrUsageMismatch = errors.New("resource: lock mode does not match buffer usage")

	// ErrBudgetExceeded is returned when an allocation would exceed the budget.
	ErrBudgetExceeded = errors.New("resource: memory budget exceeded")

	// ErrAllocatorClosed is returned when operating on a closed allocator.
	ErrAllocatorClosed = errors.New("resource: allocator closed")

	// ErrNilDevice is returned when creating an allocator without a device or queue.
	ErrNilDevice = errors.New("resource: device is nil")

	// ErrTransfer is returned when an upload to or a readback from the
	// device fails. The host shadow and the GPU buffer may disagree.
	ErrTransfer = errors.New("resource: device transfer failed")
)

// Common usage hints. Every CPU-written buffer is uploaded with
// queue.WriteBuffer, so CopyDst is required for LockWrite.
const (
	// UsageInternal is GPU read/write storage that the CPU initialises.
	UsageInternal = gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst

	// UsageReadback is storage the CPU may read back after GPU writes.
	// Readback copies it into a MapRead staging buffer.
	UsageReadback = gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc

	// UsageBatch is a second-level batch buffer written by the CPU.
	UsageBatch = gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
)

// LockMode selects CPU access for Lock.
type LockMode int

const (
	// LockRead requests a read-only view.
	LockRead LockMode = iota
	// LockWrite requests a write view; the view is uploaded on Unlock.
	LockWrite
)

// String returns the string representation of LockMode.
func (m LockMode) String() string {
	switch m {
	case LockRead:
		return "Read"
	case LockWrite:
		return "Write"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// LockState represents the CPU lock state of a resource.
type LockState int

const (
	// LockStateUnlocked means no CPU view is outstanding.
	LockStateUnlocked LockState = iota
	// LockStateRead means a read view is outstanding.
	LockStateRead
	// LockStateWrite means a write view is outstanding.
	LockStateWrite
)

// String returns the string representation of LockState.
func (s LockState) String() string {
	switch s {
	case LockStateUnlocked:
		return "Unlocked"
	case LockStateRead:
		return "LockedRead"
	case LockStateWrite:
		return "LockedWrite"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Desc describes a buffer allocation.
type Desc struct {
	// Name is a debug label, also used as the HAL buffer label.
	Name string

	// Size in bytes. Callers round firmware-visible sizes to cache line or
	// page granularity before allocating.
	Size uint64

	// Usage is the usage hint passed to the HAL.
	Usage gputypes.BufferUsage

	// ZeroInit uploads zeros right after creation.
	ZeroInit bool
}

// Resource is one GPU-visible buffer.
//
// The host shadow holds the last CPU-visible contents. Write locks hand out
// the shadow and upload it on Unlock; read locks hand out the shadow as-is
// (use Allocator.Readback first to refresh it from the GPU).
type Resource struct {
	mu sync.Mutex

	id     uint64
	name   string
	size   uint64
	usage  gputypes.BufferUsage
	buffer hal.Buffer
	shadow []byte
	state  LockState
	freed  bool
}

// ID returns the allocator-unique handle of the resource.
// Command buffers record it in their relocation lists.
func (r *Resource) ID() uint64 {
	if r == nil {
		return 0
	}
	return r.id
}

// Name returns the debug label.
func (r *Resource) Name() string {
	if r == nil {
		return ""
	}
	return r.name
}

// Size returns the buffer size in bytes.
func (r *Resource) Size() uint64 {
	if r == nil {
		return 0
	}
	return r.size
}

// Usage returns the usage hint the buffer was created with.
func (r *Resource) Usage() gputypes.BufferUsage {
	if r == nil {
		return 0
	}
	return r.usage
}

// IsNull reports whether r is nil or has been freed.
func (r *Resource) IsNull() bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freed
}

// State returns the current lock state.
func (r *Resource) State() LockState {
	if r == nil {
		return LockStateUnlocked
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// String returns a short description for logs.
func (r *Resource) String() string {
	if r == nil {
		return "Resource(nil)"
	}
	return fmt.Sprintf("Resource[%d %q %d bytes]", r.id, r.name, r.size)
}

// Mapping is an outstanding CPU view of a resource. It must be released
// with Unlock on every path.
type Mapping struct {
	alloc    *Allocator
	res      *Resource
	mode     LockMode
	released bool
}

// Bytes returns the CPU view. The slice is invalid after Unlock.
func (m *Mapping) Bytes() []byte {
	if m == nil || m.released {
		return nil
	}
	return m.res.shadow
}

// Resource returns the locked resource.
func (m *Mapping) Resource() *Resource {
	if m == nil {
		return nil
	}
	return m.res
}

// Mode returns the lock mode.
func (m *Mapping) Mode() LockMode {
	return m.mode
}

// Unlock releases the view. Write views are uploaded to the GPU buffer.
// A second Unlock returns ErrNotLocked.
func (m *Mapping) Unlock() error {
	if m == nil {
		return ErrNotLocked
	}
	if m.released {
		return fmt.Errorf("%w: %s", ErrNotLocked, m.res.name)
	}
	m.released = true
	return m.alloc.unlock(m.res, m.mode)
}
