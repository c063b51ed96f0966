// Package huc builds the data the HuC firmware reads when it integrates
// per-pipe PAK statistics into frame statistics and generates the
// bitstream stitching commands.
//
// Three structures are produced per pass: the PAK integration DMEM
// descriptor, the stitch data command list and the virtual address region
// table. All of them are fixed-layout little-endian wire formats shared
// with firmware, so field order and sizes must not change.
package huc

import "errors"

// Firmware constants.
const (
	// PakIntegrationKernelDescriptor selects the PAK integration kernel
	// in the HuC IMEM state command.
	PakIntegrationKernelDescriptor = 15

	// CodecVP9VDEnc is the codec identifier of the DMEM descriptor.
	CodecVP9VDEnc = 3

	// DmemOffsetRTOSGems is the DMEM load offset of the RTOS-based firmware.
	DmemOffsetRTOSGems = 0x2000

	// BatchBufferEnd is the opcode the firmware appends to the stitch
	// command stream it generates.
	BatchBufferEnd = 0x05000000

	// CmdListMode is the stitch command mode that copies tile records
	// into the bitstream.
	CmdListMode = 1

	// SelectionProtected selects indirect data through the content
	// protection path.
	SelectionProtected = 4
)

// Sentinels for fields the firmware must treat as absent.
const (
	Absent32 uint32 = 0xFFFFFFFF
	Absent16 uint16 = 0xFFFF
)

// Descriptor geometry.
const (
	// MaxPakNum is the number of per-pipe entries in the DMEM tables.
	MaxPakNum = 8

	// OffsetSlots is the length of every offset table: slot 0 holds the
	// frame-level region, slots 1..MaxPakNum one pipe each.
	OffsetSlots = MaxPakNum + 1

	// numOffsetTables is the number of offset tables at the start of the
	// descriptor, shared between the codecs the firmware supports.
	numOffsetTables = 6

	// OffsetsSize is the length of the sentinel-filled prefix.
	OffsetsSize = numOffsetTables * OffsetSlots * 4

	// PakIntDmemSize is the encoded size of PakIntDmem.
	PakIntDmemSize = 304

	// HeaderBytes is the per-tile header the firmware skips in the
	// last tile's bitstream.
	HeaderBytes = 8

	cacheLineSize = 64
)

// DmemLength returns the DMEM transfer length, rounded to a cache line.
func DmemLength() uint32 {
	return (PakIntDmemSize + cacheLineSize - 1) &^ (cacheLineSize - 1)
}

// HuC errors.
var (
	// ErrShortBuffer is returned when encoding into a too small destination.
	ErrShortBuffer = errors.New("huc: destination buffer too small")

	// ErrInvalidParams is returned for parameters the descriptor cannot hold.
	ErrInvalidParams = errors.New("huc: invalid parameters")

	// ErrMissingRegion is returned when a required region has no resource.
	ErrMissingRegion = errors.New("huc: region resource missing")
)
