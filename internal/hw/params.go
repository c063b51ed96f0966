package hw

import (
	"github.com/gogpu/vdenc/internal/huc"
	"github.com/gogpu/vdenc/internal/pipe"
	"github.com/gogpu/vdenc/internal/resource"
	"github.com/gogpu/vdenc/internal/tile"
)

// BatchBufferStartParams jumps to a batch buffer.
type BatchBufferStartParams struct {
	Target *resource.Resource
	Offset uint64

	// SecondLevel returns to the caller on batch buffer end. A first-level
	// start chains instead.
	SecondLevel bool
}

// FlushDwParams configures MI_FLUSH_DW. A non-nil PostSync writes
// PostSyncData to PostSync at PostSyncOffset once the flush completes.
type FlushDwParams struct {
	VideoPipelineCacheInvalidate bool

	PostSync       *resource.Resource
	PostSyncOffset uint64
	PostSyncData   uint32
}

// StoreDataParams writes an immediate dword to memory.
type StoreDataParams struct {
	Dest   *resource.Resource
	Offset uint64
	Value  uint32
}

// StoreRegisterMemParams copies an MMIO register to memory.
type StoreRegisterMemParams struct {
	Dest     *resource.Resource
	Offset   uint64
	Register uint32
}

// LoadRegisterImmParams writes an immediate value to an MMIO register.
type LoadRegisterImmParams struct {
	Register uint32
	Value    uint32
}

// CompareOp is a memory compare operation of the semaphore and
// conditional batch buffer end commands.
type CompareOp uint8

// Compare operations. SAD compares the semaphore (memory) value against
// the inline data dword; MAD compares the masked memory value.
const (
	CompareSADGreaterThanIDD CompareOp = iota
	CompareSADGreaterOrEqualIDD
	CompareSADLessThanIDD
	CompareSADLessOrEqualIDD
	CompareSADEqualIDD
	CompareSADNotEqualIDD
	CompareMADGreaterThanIDD
	CompareMADEqualIDD
)

// SemaphoreWaitParams stalls the command streamer until the semaphore
// satisfies Compare against Value.
type SemaphoreWaitParams struct {
	Semaphore *resource.Resource
	Offset    uint64
	Value     uint32
	Compare   CompareOp
}

// ConditionalBatchBufferEndParams ends the current batch buffer when the
// memory value satisfies Compare against Value.
type ConditionalBatchBufferEndParams struct {
	Semaphore *resource.Resource
	Offset    uint64
	Value     uint32
	Compare   CompareOp

	// MaskMode takes the compare mask from the dword after the value.
	MaskMode bool

	// EndCurrentLevel ends only the current batch buffer level.
	EndCurrentLevel bool
}

// VdControlStateParams locks or unlocks the scalable pipe.
type VdControlStateParams struct {
	InitializationMode  bool
	PipeLock            bool
	PipeUnlock          bool
	MemoryImplicitFlush bool
}

// VdPipelineFlushParams selects the engines VD_PIPELINE_FLUSH waits on
// and flushes.
type VdPipelineFlushParams struct {
	WaitDoneMFX            bool
	WaitDoneVDENC          bool
	WaitDoneHEVC           bool
	WaitDoneVDCmdMsgParser bool
	FlushVDENC             bool
	FlushHEVC              bool
}

// TileCodingParams is the input of HCP_TILE_CODING.
type TileCodingParams struct {
	Data tile.CodingData
}

// WeightsOffsetsParams is the input of VDENC_WEIGHTSOFFSETS_STATE. VP9
// has no weighted prediction; the zero value programs unit weights.
type WeightsOffsetsParams struct {
	Log2WeightDenom uint8
	Weights         [3]int8
	Offsets         [3]int8
}

// WalkerStateParams is the input of the tile slice state and walker
// state commands.
type WalkerStateParams struct {
	Data      tile.CodingData
	TileID    int
	PipeCount pipe.Count

	// StreamInEnable reads segment ids from the stream-in buffer at the
	// tile's stream-in offset.
	StreamInEnable bool
}

// HucImemStateParams selects the firmware kernel.
type HucImemStateParams struct {
	KernelDescriptor uint32
}

// HucPipeModeSelectParams configures the HuC pipe.
type HucPipeModeSelectParams struct {
	Mode      uint32
	StreamOut bool
}

// HucDmemStateParams points the HuC at its DMEM data.
type HucDmemStateParams struct {
	Source     *resource.Resource
	Length     uint32
	DmemOffset uint32
}

// HucVirtualAddrParams binds the HuC regions.
type HucVirtualAddrParams struct {
	Regions huc.Regions
}

// FrameType is the VP9 frame type.
type FrameType uint8

// Frame types.
const (
	KeyFrame FrameType = iota
	InterFrame
)

// String returns the frame type name.
func (f FrameType) String() string {
	if f == KeyFrame {
		return "Key"
	}
	return "Inter"
}

// PicParams is the picture-level input of the picture state commands.
type PicParams struct {
	Width, Height int
	FrameType     FrameType
	TargetUsage   int
	BaseQIndex    uint8

	Log2TileCols int
	Log2TileRows int

	SegmentationEnabled bool
	NonFirstPass        bool
	SSEEnable           bool
	MaxBitRateKbps      uint32
	MinBitRateKbps      uint32
}

// SegmentParams are the per-segment coding controls.
type SegmentParams struct {
	QIndexDelta      int16
	LoopFilterDelta  int8
	ReferenceEnabled bool
	Reference        uint8
	SkipEnabled      bool
}

// SegmentStateParams is the input of HCP_VP9_SEGMENT_STATE.
type SegmentStateParams struct {
	SegmentID uint8
	Segment   SegmentParams
}
