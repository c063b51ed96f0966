package vdenc

import (
	"github.com/gogpu/vdenc/internal/cmdbuf"
	"github.com/gogpu/vdenc/internal/hw"
	"github.com/gogpu/vdenc/internal/pipe"
	"github.com/gogpu/vdenc/internal/resource"
	"github.com/gogpu/vdenc/internal/streamin"
)

// Types shared with the internal packages.
type (
	// Allocator owns the GPU buffers of an encoder.
	Allocator = resource.Allocator

	// Resource is one GPU buffer.
	Resource = resource.Resource

	// Emitter encodes the commands of one hardware generation.
	Emitter = hw.Emitter

	// CommandBuffer is a command or second-level batch buffer cursor.
	CommandBuffer = cmdbuf.Buffer

	// PassContext identifies one (pipe, pass) step of a frame.
	PassContext = pipe.PassContext

	// FrameType is the VP9 frame type.
	FrameType = hw.FrameType

	// SegmentParams are the coding controls of one segment.
	SegmentParams = hw.SegmentParams

	// SegmentMap is an application segment id map.
	SegmentMap = streamin.SegmentMap
)

// Frame types.
const (
	KeyFrame   = hw.KeyFrame
	InterFrame = hw.InterFrame
)

// Segment map block sizes.
const (
	SegmentBlock16x16 = streamin.Block16x16
	SegmentBlock32x32 = streamin.Block32x32
	SegmentBlock64x64 = streamin.Block64x64
	SegmentBlock8x8   = streamin.Block8x8
)

// SegmentMapPitch returns the pitch of a linear segment map with one byte
// per 16x16 block of a frame width pixels wide.
func SegmentMapPitch(width int) int { return streamin.LinearPitch(width) }

// MaxSegments is the VP9 segment count.
const MaxSegments = 8

// NewCommandBuffer creates a primary command buffer of capacity bytes.
func NewCommandBuffer(label string, capacity int) *CommandBuffer {
	return cmdbuf.New(label, capacity)
}

// SeqParams are the sequence-level inputs of SetSequenceStructs.
type SeqParams struct {
	// MaxWidth and MaxHeight bound every frame of the sequence and size
	// the allocated buffers.
	MaxWidth  int
	MaxHeight int

	// TargetUsage is the raw 1 (quality) to 7 (speed) knob.
	TargetUsage int

	// BrcEnabled runs MaxPasses rate-control passes per frame.
	BrcEnabled bool

	MaxBitRateKbps uint32
	MinBitRateKbps uint32
}

// PicParams are the picture-level inputs of SetPictureStructs.
type PicParams struct {
	Width, Height int
	FrameType     FrameType
	BaseQIndex    uint8

	// Log2TileCols and Log2TileRows select the VP9 tile grid.
	Log2TileCols int
	Log2TileRows int

	// SegmentationEnabled programs all eight Segments.
	SegmentationEnabled bool
	Segments            [MaxSegments]SegmentParams

	// SegmentMap, when set, is streamed into the encoder per 32x32 block.
	SegmentMap *SegmentMap

	// Bitstream is the output buffer the HuC stitches tiles into.
	Bitstream *Resource

	// BitstreamUpperBound is the bitstream buffer size. Zero selects
	// one and a half bytes per pixel.
	BitstreamUpperBound uint32

	LastPicInSequence bool
	LastPicInStream   bool
}
