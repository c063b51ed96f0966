// Package xehpm implements the command emitter of the Xe-HPM media engine.
package xehpm

import (
	"fmt"

	"github.com/gogpu/vdenc/internal/cmdbuf"
	"github.com/gogpu/vdenc/internal/hw"
	"github.com/gogpu/vdenc/internal/resource"
	"github.com/gogpu/vdenc/internal/stats"
)

// Statistics record sizes of one tile in bytes.
const (
	TileSizeRecordSize = 64
	VdencStatsSize     = 1216
	PakStatsSize       = 256
	CounterBufferSize  = 12352
)

// MMIO register offsets of the first VDBOX.
const (
	HucStatusReg         = 0x1C2000
	HucStatus2Reg        = 0x1C23B0
	HucLoadInfoReg       = 0xC1DC
	WatchdogCountCtrlReg = 0x1C0178
	WatchdogThresholdReg = 0x1C017C
)

// Watchdog control values.
const (
	watchdogEnable  = 0
	watchdogDisable = 0xFFFFFFFF

	// watchdogCountsPerMs is the watchdog timer frequency in counts per
	// millisecond.
	watchdogCountsPerMs = 19200
)

// stitchCmdBatchBufferSize is the size of the HuC written stitch batch.
const stitchCmdBatchBufferSize = stats.PageSize

// header describes a command header. MI commands use miOpcode; the
// remaining fields describe media pipeline commands.
type header struct {
	dwords   int
	mi       bool
	miOpcode uint32
	pipeline uint32
	opcode   uint32
	subopA   uint32
	subopB   uint32
}

const (
	cmdTypeMI  = 0
	cmdTypeGfx = 3

	pipelineMedia = 2

	opcodeVD    = 0
	opcodeVDENC = 1
	opcodeHCP   = 7
	opcodeHUC   = 11
)

var headers = map[hw.Opcode]header{
	hw.OpMiBatchBufferEnd:            {dwords: 1, mi: true, miOpcode: 0x0A},
	hw.OpMiBatchBufferStart:          {dwords: 3, mi: true, miOpcode: 0x31},
	hw.OpMiFlushDw:                   {dwords: 5, mi: true, miOpcode: 0x26},
	hw.OpMiStoreDataImm:              {dwords: 4, mi: true, miOpcode: 0x20},
	hw.OpMiStoreRegisterMem:          {dwords: 4, mi: true, miOpcode: 0x24},
	hw.OpMiLoadRegisterImm:           {dwords: 3, mi: true, miOpcode: 0x22},
	hw.OpMiSemaphoreWait:             {dwords: 4, mi: true, miOpcode: 0x1C},
	hw.OpMiConditionalBatchBufferEnd: {dwords: 4, mi: true, miOpcode: 0x36},

	hw.OpMiVdControlState: {dwords: 3, pipeline: pipelineMedia, opcode: opcodeVD, subopB: 0x0A},
	hw.OpVdPipelineFlush:  {dwords: 2, pipeline: pipelineMedia, opcode: opcodeVD, subopB: 0x00},

	hw.OpHcpTileCoding:      {dwords: 12, pipeline: pipelineMedia, opcode: opcodeHCP, subopB: 0x15},
	hw.OpHcpVp9PicState:     {dwords: 12, pipeline: pipelineMedia, opcode: opcodeHCP, subopB: 0x30},
	hw.OpHcpVp9SegmentState: {dwords: 8, pipeline: pipelineMedia, opcode: opcodeHCP, subopB: 0x32},

	hw.OpVdencCmd1:                {dwords: 8, pipeline: pipelineMedia, opcode: opcodeVDENC, subopB: 0x0A},
	hw.OpVdencCmd2:                {dwords: 10, pipeline: pipelineMedia, opcode: opcodeVDENC, subopB: 0x09},
	hw.OpVdencWalkerState:         {dwords: 4, pipeline: pipelineMedia, opcode: opcodeVDENC, subopB: 0x07},
	hw.OpVdencWeightsOffsetsState: {dwords: 3, pipeline: pipelineMedia, opcode: opcodeVDENC, subopB: 0x08},
	hw.OpVdencVp9TileSliceState:   {dwords: 8, pipeline: pipelineMedia, opcode: opcodeVDENC, subopB: 0x19},

	hw.OpHucPipeModeSelect:   {dwords: 3, pipeline: pipelineMedia, opcode: opcodeHUC, subopB: 0x00},
	hw.OpHucImemState:        {dwords: 5, pipeline: pipelineMedia, opcode: opcodeHUC, subopB: 0x01},
	hw.OpHucDmemState:        {dwords: 6, pipeline: pipelineMedia, opcode: opcodeHUC, subopB: 0x02},
	hw.OpHucVirtualAddrState: {dwords: 1 + 3*16, pipeline: pipelineMedia, opcode: opcodeHUC, subopB: 0x04},
	hw.OpHucStart:            {dwords: 2, pipeline: pipelineMedia, opcode: opcodeHUC, subopB: 0x21},
}

// value returns the first command dword.
func (h header) value() uint32 {
	if h.mi {
		// MI_BATCH_BUFFER_END carries no length field.
		if h.dwords == 1 {
			return cmdTypeMI<<29 | h.miOpcode<<23
		}
		return cmdTypeMI<<29 | h.miOpcode<<23 | uint32(h.dwords-2)
	}
	return cmdTypeGfx<<29 | h.pipeline<<27 | h.opcode<<23 | h.subopA<<21 | h.subopB<<16 | uint32(h.dwords-2)
}

// Emitter encodes Xe-HPM commands. The zero value is ready to use.
type Emitter struct{}

var _ hw.Emitter = Emitter{}

// New returns an Xe-HPM emitter.
func New() Emitter { return Emitter{} }

// Name returns the generation name.
func (Emitter) Name() string { return "xe-hpm" }

// RecordSizes returns the Xe-HPM statistics record sizes.
func (Emitter) RecordSizes() stats.RecordSizes {
	return stats.RecordSizes{
		TileSizeRecord: TileSizeRecordSize,
		VdencStats:     VdencStatsSize,
		PakStats:       PakStatsSize,
		CounterBuffer:  CounterBufferSize,
	}
}

// Registers returns the MMIO register offsets.
func (Emitter) Registers() hw.Registers {
	return hw.Registers{
		HucStatus:         HucStatusReg,
		HucStatus2:        HucStatus2Reg,
		HucLoadInfo:       HucLoadInfoReg,
		WatchdogCountCtrl: WatchdogCountCtrlReg,
		WatchdogThreshold: WatchdogThresholdReg,
	}
}

// SizeOf returns the size of op in bytes, or 0 for unknown opcodes.
func (Emitter) SizeOf(op hw.Opcode) int {
	return headers[op].dwords * cmdbuf.DwordSize
}

// PicStateBatchBufferSize returns the cache line aligned size of the
// picture state batch buffer: both VDENC commands, the picture state,
// eight segment states, the batch end and a trailing guard band.
func (e Emitter) PicStateBatchBufferSize() int {
	size := e.SizeOf(hw.OpVdencCmd1) +
		e.SizeOf(hw.OpHcpVp9PicState) +
		8*e.SizeOf(hw.OpHcpVp9SegmentState) +
		e.SizeOf(hw.OpVdencCmd2) +
		e.SizeOf(hw.OpMiBatchBufferEnd) +
		hw.PicStateGuardBand
	return int(stats.AlignUp(uint32(size), stats.CacheLineSize))
}

// StitchCmdBatchBufferSize returns the stitch batch buffer size.
func (Emitter) StitchCmdBatchBufferSize() int { return stitchCmdBatchBufferSize }

// WatchdogCountsPerMs returns the watchdog timer frequency.
func (Emitter) WatchdogCountsPerMs() uint32 { return watchdogCountsPerMs }

// emit writes one command with a generated header. body excludes the
// header dword; relocation dwords are relative to the command start.
func emit(dst *cmdbuf.Buffer, op hw.Opcode, body []uint32, relocs ...cmdbuf.Reloc) error {
	return emitFlags(dst, op, 0, body, relocs...)
}

// emitFlags is emit with command specific flags or'ed into the header.
func emitFlags(dst *cmdbuf.Buffer, op hw.Opcode, flags uint32, body []uint32, relocs ...cmdbuf.Reloc) error {
	if dst == nil {
		return fmt.Errorf("%w: %v", hw.ErrNullDestination, op)
	}
	h, ok := headers[op]
	if !ok || len(body)+1 != h.dwords {
		return fmt.Errorf("%w: %v with %d dwords", hw.ErrInvalidCommand, op, len(body)+1)
	}
	dwords := make([]uint32, 0, h.dwords)
	dwords = append(dwords, h.value()|flags)
	dwords = append(dwords, body...)
	return dst.Emit(uint16(op), dwords, relocs...)
}

func errNullResource(op hw.Opcode) error {
	return fmt.Errorf("%w: %v operand", resource.ErrNullResource, op)
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func lo(v uint64) uint32 { return uint32(v) }
func hi(v uint64) uint32 { return uint32(v >> 32) }
