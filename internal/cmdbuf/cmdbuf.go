// Package cmdbuf provides command buffer cursors for the encoder.
//
// A Buffer is either a primary command buffer with its own backing store or
// a second-level batch buffer written directly into a locked resource view.
// Both record a journal of emitted commands and resource relocations, which
// the submission layer uses to patch GPU addresses.
package cmdbuf

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/vdenc/internal/resource"
)

// Command buffer errors.
var (
	// ErrNilBuffer is returned when an operation references a nil buffer.
	ErrNilBuffer = errors.New("cmdbuf: buffer is nil")

	// ErrNoSpace is returned when a command does not fit in the remaining space.
	ErrNoSpace = errors.New("cmdbuf: no space left in buffer")

	// ErrNotRecording is returned when emitting into a finished or submitted buffer.
	ErrNotRecording = errors.New("cmdbuf: buffer not in recording state")

	// ErrNotFinished is returned when submitting a buffer that was not finished.
	ErrNotFinished = errors.New("cmdbuf: buffer not finished")

	// ErrInvalidReloc is returned when a relocation points outside its command.
	ErrInvalidReloc = errors.New("cmdbuf: relocation outside command")
)

// DwordSize is the size of one command dword in bytes.
const DwordSize = 4

// Status is the lifecycle state of a Buffer.
//
// State machine:
//
//	Recording -> Finish()         -> Finished
//	Finished  -> MarkSubmitted()  -> Submitted
type Status int

const (
	// StatusRecording accepts new commands.
	StatusRecording Status = iota
	// StatusFinished is closed for recording and ready to submit.
	StatusFinished
	// StatusSubmitted has been handed to the submission layer.
	StatusSubmitted
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusRecording:
		return "Recording"
	case StatusFinished:
		return "Finished"
	case StatusSubmitted:
		return "Submitted"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Entry is one journaled command.
type Entry struct {
	// Op is the emitter-defined command opcode.
	Op uint16

	// Offset is the byte offset of the command within the buffer.
	Offset int

	// Size is the command size in bytes.
	Size int
}

// Reloc describes a resource address embedded in a command.
type Reloc struct {
	// Dword is the index of the address dword. Emit takes it relative to
	// the command start; Relocations reports it relative to the buffer start.
	Dword int

	// Resource is the referenced buffer.
	Resource *resource.Resource

	// Offset is the byte offset inside Resource.
	Offset uint64

	// Write marks the GPU as a writer of the referenced range.
	Write bool
}

// Buffer is a command buffer cursor with a fixed capacity.
//
// Buffer is NOT safe for concurrent use. Each pipe builds its own buffer.
type Buffer struct {
	label   string
	data    []byte
	used    int
	entries []Entry
	relocs  []Reloc
	status  Status
	second  *resource.Resource
}

// New creates a primary command buffer with capacity bytes of backing store.
func New(label string, capacity int) *Buffer {
	return &Buffer{
		label: label,
		data:  make([]byte, capacity),
	}
}

// NewSecondLevel creates a batch buffer cursor writing into a locked
// resource view. The mapping must be a write lock and must stay locked
// until the caller is done emitting.
func NewSecondLevel(label string, m *resource.Mapping) (*Buffer, error) {
	if m == nil || m.Bytes() == nil {
		return nil, fmt.Errorf("%w: %s", resource.ErrNullResource, label)
	}
	if m.Mode() != resource.LockWrite {
		return nil, fmt.Errorf("%w: %s needs a write lock", resource.ErrUsageMismatch, label)
	}
	return &Buffer{
		label:  label,
		data:   m.Bytes(),
		second: m.Resource(),
	}, nil
}

// Label returns the debug label.
func (b *Buffer) Label() string {
	if b == nil {
		return ""
	}
	return b.label
}

// Status returns the current lifecycle state.
func (b *Buffer) Status() Status {
	return b.status
}

// Resource returns the backing resource of a second-level buffer, or nil
// for primary buffers.
func (b *Buffer) Resource() *resource.Resource {
	if b == nil {
		return nil
	}
	return b.second
}

// Offset returns the number of bytes emitted so far.
func (b *Buffer) Offset() int {
	if b == nil {
		return 0
	}
	return b.used
}

// Capacity returns the total size in bytes.
func (b *Buffer) Capacity() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Remaining returns the free space in bytes.
func (b *Buffer) Remaining() int {
	if b == nil {
		return 0
	}
	return len(b.data) - b.used
}

// Emit appends one command. Dwords are written little-endian; the first
// dword is the command header. Relocation dword indices are relative to
// the command start.
func (b *Buffer) Emit(op uint16, dwords []uint32, relocs ...Reloc) error {
	if b == nil {
		return ErrNilBuffer
	}
	if b.status != StatusRecording {
		return fmt.Errorf("%w: %s (%v)", ErrNotRecording, b.label, b.status)
	}
	size := len(dwords) * DwordSize
	if size > b.Remaining() {
		return fmt.Errorf("%w: %s needs %d bytes, %d left", ErrNoSpace, b.label, size, b.Remaining())
	}
	for _, r := range relocs {
		if r.Dword < 0 || r.Dword >= len(dwords) {
			return fmt.Errorf("%w: dword %d of %d", ErrInvalidReloc, r.Dword, len(dwords))
		}
	}

	start := b.used
	for i, dw := range dwords {
		binary.LittleEndian.PutUint32(b.data[start+i*DwordSize:], dw)
	}
	b.used += size
	b.entries = append(b.entries, Entry{Op: op, Offset: start, Size: size})
	for _, r := range relocs {
		r.Dword += start / DwordSize
		b.relocs = append(b.relocs, r)
	}
	return nil
}

// Pad appends n zero bytes. The padded space is not journaled.
func (b *Buffer) Pad(n int) error {
	if b == nil {
		return ErrNilBuffer
	}
	if b.status != StatusRecording {
		return fmt.Errorf("%w: %s (%v)", ErrNotRecording, b.label, b.status)
	}
	if n > b.Remaining() {
		return fmt.Errorf("%w: %s pad %d bytes, %d left", ErrNoSpace, b.label, n, b.Remaining())
	}
	clear(b.data[b.used : b.used+n])
	b.used += n
	return nil
}

// Bytes returns the emitted bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data[:b.used]
}

// Entries returns the command journal in emission order.
func (b *Buffer) Entries() []Entry {
	if b == nil {
		return nil
	}
	return b.entries
}

// Ops returns the journaled opcodes in emission order.
func (b *Buffer) Ops() []uint16 {
	if b == nil {
		return nil
	}
	ops := make([]uint16, len(b.entries))
	for i, e := range b.entries {
		ops[i] = e.Op
	}
	return ops
}

// Relocations returns the relocation journal with buffer-relative dword indices.
func (b *Buffer) Relocations() []Reloc {
	if b == nil {
		return nil
	}
	return b.relocs
}

// Dword returns the dword at byte offset off.
func (b *Buffer) Dword(off int) uint32 {
	return binary.LittleEndian.Uint32(b.data[off:])
}

// Finish closes the buffer for recording.
func (b *Buffer) Finish() error {
	if b == nil {
		return ErrNilBuffer
	}
	if b.status != StatusRecording {
		return fmt.Errorf("%w: %s (%v)", ErrNotRecording, b.label, b.status)
	}
	b.status = StatusFinished
	return nil
}

// MarkSubmitted records that the buffer was handed to the submission layer.
func (b *Buffer) MarkSubmitted() error {
	if b == nil {
		return ErrNilBuffer
	}
	if b.status != StatusFinished {
		return fmt.Errorf("%w: %s (%v)", ErrNotFinished, b.label, b.status)
	}
	b.status = StatusSubmitted
	return nil
}
