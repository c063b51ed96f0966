package xehpm

import (
	"fmt"

	"github.com/gogpu/vdenc/internal/cmdbuf"
	"github.com/gogpu/vdenc/internal/hw"
)

// maxSegments is the number of VP9 segments.
const maxSegments = 8

// Mode cost tables per target usage tier, indexed by frame type.
var (
	intraModeCost = [3][2]uint32{
		{0x0A0C0E10, 0x0D0F1113},
		{0x0B0D0F11, 0x0E101214},
		{0x0C0E1012, 0x0F111315},
	}
	interModeCost = [3][2]uint32{
		{0, 0x04060809},
		{0, 0x05070A0B},
		{0, 0x06080B0C},
	}
)

// tierIndex maps a target usage to its cost table row.
func tierIndex(targetUsage int) int {
	switch targetUsage {
	case 1, 2:
		return 0
	case 6, 7:
		return 2
	default:
		return 1
	}
}

func validatePic(op hw.Opcode, p hw.PicParams) error {
	if p.Width <= 0 || p.Height <= 0 || p.Width > 1<<14 || p.Height > 1<<14 {
		return fmt.Errorf("%w: %v frame %dx%d", hw.ErrInvalidCommand, op, p.Width, p.Height)
	}
	return nil
}

// AddVdencCmd1 emits the VDENC rate distortion cost state.
func (Emitter) AddVdencCmd1(dst *cmdbuf.Buffer, p hw.PicParams) error {
	if err := validatePic(hw.OpVdencCmd1, p); err != nil {
		return err
	}
	tier := tierIndex(p.TargetUsage)
	ft := int(p.FrameType)
	if ft > 1 {
		ft = 1
	}
	lambda := uint32(p.BaseQIndex) * uint32(p.BaseQIndex) >> 4
	body := []uint32{
		uint32(p.TargetUsage)&0x7 | uint32(p.FrameType)<<4,
		lambda & 0xFFFF,
		intraModeCost[tier][ft],
		interModeCost[tier][ft],
		uint32(p.BaseQIndex),
		0,
		0,
	}
	return emit(dst, hw.OpVdencCmd1, body)
}

// AddHcpVp9PicState emits HCP_VP9_PIC_STATE.
func (Emitter) AddHcpVp9PicState(dst *cmdbuf.Buffer, p hw.PicParams) error {
	if err := validatePic(hw.OpHcpVp9PicState, p); err != nil {
		return err
	}
	body := make([]uint32, 11)
	body[0] = uint32(p.Width-1)&0x3FFF | (uint32(p.Height-1)&0x3FFF)<<16
	body[1] = uint32(p.FrameType)&0x1 |
		b2u(p.SegmentationEnabled)<<8 |
		(uint32(p.Log2TileCols)&0xF)<<16 |
		(uint32(p.Log2TileRows)&0x3)<<20 |
		b2u(p.NonFirstPass)<<24 |
		b2u(p.SSEEnable)<<25
	body[2] = uint32(p.BaseQIndex)
	body[3] = p.MaxBitRateKbps
	body[4] = p.MinBitRateKbps
	return emit(dst, hw.OpHcpVp9PicState, body)
}

// AddHcpVp9SegmentState emits HCP_VP9_SEGMENT_STATE for one segment.
func (Emitter) AddHcpVp9SegmentState(dst *cmdbuf.Buffer, p hw.SegmentStateParams) error {
	if p.SegmentID >= maxSegments {
		return fmt.Errorf("%w: segment id %d", hw.ErrInvalidCommand, p.SegmentID)
	}
	s := p.Segment
	body := make([]uint32, 7)
	body[0] = uint32(p.SegmentID)
	body[1] = b2u(s.SkipEnabled) | (uint32(s.Reference)&0x3)<<1 | b2u(s.ReferenceEnabled)<<3
	body[2] = uint32(uint16(s.QIndexDelta))&0x1FF | (uint32(uint8(s.LoopFilterDelta))&0x7F)<<16
	return emit(dst, hw.OpHcpVp9SegmentState, body)
}

// AddVdencCmd2 emits the VDENC picture control state.
func (Emitter) AddVdencCmd2(dst *cmdbuf.Buffer, p hw.PicParams) error {
	if err := validatePic(hw.OpVdencCmd2, p); err != nil {
		return err
	}
	widthSb := uint32(p.Width+63) / 64
	heightSb := uint32(p.Height+63) / 64
	body := make([]uint32, 9)
	body[0] = uint32(p.Width-1)&0xFFFF | uint32(p.Height-1)<<16
	body[1] = widthSb&0xFFFF | heightSb<<16
	body[2] = uint32(p.FrameType)&0x1 | b2u(p.SegmentationEnabled)<<1 | b2u(p.NonFirstPass)<<2
	body[3] = uint32(p.TargetUsage) & 0x7
	body[4] = uint32(p.BaseQIndex)
	return emit(dst, hw.OpVdencCmd2, body)
}
