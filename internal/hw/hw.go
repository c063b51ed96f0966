// Package hw defines the command emission interface the encoder drives.
//
// An Emitter appends fixed-format hardware commands to a command buffer
// or second-level batch buffer cursor. Each hardware generation has one
// adapter package implementing Emitter; the encoder never depends on a
// generation's field layout.
package hw

import (
	"errors"
	"fmt"

	"github.com/gogpu/vdenc/internal/cmdbuf"
	"github.com/gogpu/vdenc/internal/stats"
)

// ErrNullDestination is returned when a command is emitted into a nil
// command buffer.
var ErrNullDestination = errors.New("hw: destination command buffer is nil")

// ErrInvalidCommand is returned when command parameters cannot be encoded.
var ErrInvalidCommand = errors.New("hw: invalid command parameters")

// Opcode identifies a command in the command buffer journal.
type Opcode uint16

// Command opcodes.
const (
	OpInvalid Opcode = iota
	OpMiBatchBufferEnd
	OpMiBatchBufferStart
	OpMiFlushDw
	OpMiStoreDataImm
	OpMiStoreRegisterMem
	OpMiLoadRegisterImm
	OpMiSemaphoreWait
	OpMiConditionalBatchBufferEnd
	OpMiVdControlState
	OpVdPipelineFlush
	OpHcpTileCoding
	OpVdencWeightsOffsetsState
	OpVdencVp9TileSliceState
	OpVdencWalkerState
	OpHucImemState
	OpHucPipeModeSelect
	OpHucDmemState
	OpHucVirtualAddrState
	OpHucStart
	OpVdencCmd1
	OpHcpVp9PicState
	OpHcpVp9SegmentState
	OpVdencCmd2

	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	OpInvalid:                     "Invalid",
	OpMiBatchBufferEnd:            "MI_BATCH_BUFFER_END",
	OpMiBatchBufferStart:          "MI_BATCH_BUFFER_START",
	OpMiFlushDw:                   "MI_FLUSH_DW",
	OpMiStoreDataImm:              "MI_STORE_DATA_IMM",
	OpMiStoreRegisterMem:          "MI_STORE_REGISTER_MEM",
	OpMiLoadRegisterImm:           "MI_LOAD_REGISTER_IMM",
	OpMiSemaphoreWait:             "MI_SEMAPHORE_WAIT",
	OpMiConditionalBatchBufferEnd: "MI_CONDITIONAL_BATCH_BUFFER_END",
	OpMiVdControlState:            "MI_VD_CONTROL_STATE",
	OpVdPipelineFlush:             "VD_PIPELINE_FLUSH",
	OpHcpTileCoding:               "HCP_TILE_CODING",
	OpVdencWeightsOffsetsState:    "VDENC_WEIGHTSOFFSETS_STATE",
	OpVdencVp9TileSliceState:      "VDENC_HEVC_VP9_TILE_SLICE_STATE",
	OpVdencWalkerState:            "VDENC_WALKER_STATE",
	OpHucImemState:                "HUC_IMEM_STATE",
	OpHucPipeModeSelect:           "HUC_PIPE_MODE_SELECT",
	OpHucDmemState:                "HUC_DMEM_STATE",
	OpHucVirtualAddrState:         "HUC_VIRTUAL_ADDR_STATE",
	OpHucStart:                    "HUC_START",
	OpVdencCmd1:                   "VDENC_CMD1",
	OpHcpVp9PicState:              "HCP_VP9_PIC_STATE",
	OpHcpVp9SegmentState:          "HCP_VP9_SEGMENT_STATE",
	OpVdencCmd2:                   "VDENC_CMD2",
}

// String returns the hardware command name.
func (o Opcode) String() string {
	if o < numOpcodes {
		return opcodeNames[o]
	}
	return fmt.Sprintf("Unknown(%d)", int(o))
}

// Opcodes converts a command buffer journal to opcodes.
func Opcodes(b *cmdbuf.Buffer) []Opcode {
	raw := b.Ops()
	ops := make([]Opcode, len(raw))
	for i, op := range raw {
		ops[i] = Opcode(op)
	}
	return ops
}

// Registers are the MMIO offsets the encoder reads or programs.
type Registers struct {
	HucStatus         uint32
	HucStatus2        uint32
	HucLoadInfo       uint32
	WatchdogCountCtrl uint32
	WatchdogThreshold uint32
}

// Emitter appends commands of one hardware generation.
//
// Every Add method writes exactly one command, or a fixed sequence for
// the watchdog helpers, and returns ErrNullDestination when dst is nil.
// A failing call leaves dst unchanged.
type Emitter interface {
	// Name identifies the hardware generation.
	Name() string

	// RecordSizes returns the per-tile statistics record sizes.
	RecordSizes() stats.RecordSizes

	// Registers returns the MMIO register offsets.
	Registers() Registers

	// SizeOf returns the encoded size of op in bytes.
	SizeOf(op Opcode) int

	// PicStateBatchBufferSize is the size of the picture state
	// second-level batch buffer.
	PicStateBatchBufferSize() int

	// StitchCmdBatchBufferSize is the size of the batch buffer the HuC
	// fills with stitching commands.
	StitchCmdBatchBufferSize() int

	// WatchdogCountsPerMs converts a watchdog threshold to timer counts.
	WatchdogCountsPerMs() uint32

	AddMiBatchBufferEnd(dst *cmdbuf.Buffer) error
	AddMiBatchBufferStart(dst *cmdbuf.Buffer, p BatchBufferStartParams) error
	AddMiFlushDw(dst *cmdbuf.Buffer, p FlushDwParams) error
	AddMiStoreDataImm(dst *cmdbuf.Buffer, p StoreDataParams) error
	AddMiStoreRegisterMem(dst *cmdbuf.Buffer, p StoreRegisterMemParams) error
	AddMiLoadRegisterImm(dst *cmdbuf.Buffer, p LoadRegisterImmParams) error
	AddMiSemaphoreWait(dst *cmdbuf.Buffer, p SemaphoreWaitParams) error
	AddMiConditionalBatchBufferEnd(dst *cmdbuf.Buffer, p ConditionalBatchBufferEndParams) error
	AddMiVdControlState(dst *cmdbuf.Buffer, p VdControlStateParams) error
	AddVdPipelineFlush(dst *cmdbuf.Buffer, p VdPipelineFlushParams) error

	AddHcpTileCoding(dst *cmdbuf.Buffer, p TileCodingParams) error
	AddVdencWeightsOffsetsState(dst *cmdbuf.Buffer, p WeightsOffsetsParams) error
	AddVdencVp9TileSliceState(dst *cmdbuf.Buffer, p WalkerStateParams) error
	AddVdencWalkerState(dst *cmdbuf.Buffer, p WalkerStateParams) error

	AddHucImemState(dst *cmdbuf.Buffer, p HucImemStateParams) error
	AddHucPipeModeSelect(dst *cmdbuf.Buffer, p HucPipeModeSelectParams) error
	AddHucDmemState(dst *cmdbuf.Buffer, p HucDmemStateParams) error
	AddHucVirtualAddrState(dst *cmdbuf.Buffer, p HucVirtualAddrParams) error
	AddHucStart(dst *cmdbuf.Buffer, lastStreamObject bool) error

	AddVdencCmd1(dst *cmdbuf.Buffer, p PicParams) error
	AddHcpVp9PicState(dst *cmdbuf.Buffer, p PicParams) error
	AddHcpVp9SegmentState(dst *cmdbuf.Buffer, p SegmentStateParams) error
	AddVdencCmd2(dst *cmdbuf.Buffer, p PicParams) error

	// AddWatchdogStart stops the watchdog, programs its threshold and
	// starts it again.
	AddWatchdogStart(dst *cmdbuf.Buffer, thresholdMs uint32) error

	// AddWatchdogStop stops the watchdog.
	AddWatchdogStop(dst *cmdbuf.Buffer) error
}

// PicStateGuardBand is the zero padding required after the batch buffer
// end of a picture state batch buffer.
const PicStateGuardBand = 24

// Encoder watchdog thresholds in milliseconds, by frame area.
const (
	WatchdogThreshold16KMs = 2000
	WatchdogThreshold8KMs  = 500
	WatchdogThreshold4KMs  = 100
	WatchdogThresholdFHDMs = 50
)

// WatchdogThreshold returns the encoder watchdog threshold for one frame
// of the given size. Frames of at least 1920x1080 get the 4K budget.
func WatchdogThreshold(width, height int) uint32 {
	area := width * height
	switch {
	case area >= 7680*4320:
		return WatchdogThreshold16KMs
	case area >= 3840*2160:
		return WatchdogThreshold8KMs
	case area >= 1920*1080:
		return WatchdogThreshold4KMs
	default:
		return WatchdogThresholdFHDMs
	}
}
