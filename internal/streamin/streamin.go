// Package streamin encodes VDENC segmentation stream-in records.
//
// The stream-in buffer holds one cache line record per 32x32 block of the
// 64-aligned frame, in the zig-zag order of tile.SegmentLUT. Each record
// carries the block's segment id replicated over its four 16x16
// sub-blocks, the CU and TU size limits, and the merge candidate and IME
// predictor counts of the target usage tier.
package streamin

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/vdenc/internal/tile"
)

// RecordSize is the size of one stream-in record in bytes.
const RecordSize = 64

// Stream-in errors.
var (
	// ErrInvalidTargetUsage is returned for target usages without a tier.
	ErrInvalidTargetUsage = errors.New("streamin: invalid target usage")

	// ErrShortBuffer is returned when the destination cannot hold every record.
	ErrShortBuffer = errors.New("streamin: buffer too small")

	// ErrShortSegmentMap is returned when a segment id lies past the map data.
	ErrShortSegmentMap = errors.New("streamin: segment map too small")

	// ErrStaleLUT is returned when the lookup table does not match the frame.
	ErrStaleLUT = errors.New("streamin: lookup table does not match frame size")
)

// Size limits in the DW0 encoding.
const (
	MaxTUSize32x32 = 3
	MaxCUSize32x32 = 2
	MaxCUSize64x64 = 3
)

// IME predictor counts.
const (
	ImePredictorsQuality = 12
	ImePredictorsNormal  = 8
	ImePredictorsSpeed   = 4
)

// Field positions.
const (
	dw0MaxTUSizeShift = 8
	dw0MaxCUSizeShift = 10
	dw0ImeShift       = 12

	dw6Merge8x8Shift   = 16
	dw6Merge16x16Shift = 20
	dw6Merge32x32Shift = 24
	dw6Merge64x64Shift = 28

	dw7SegIDEnable = 1 << 20
)

// BlockSize is the block granularity of an application segment map.
type BlockSize uint8

// Segment map block sizes.
const (
	Block16x16 BlockSize = iota
	Block32x32
	Block64x64
	Block8x8
)

// String returns the block size name.
func (b BlockSize) String() string {
	switch b {
	case Block16x16:
		return "16x16"
	case Block32x32:
		return "32x32"
	case Block64x64:
		return "64x64"
	case Block8x8:
		return "8x8"
	default:
		return fmt.Sprintf("Unknown(%d)", int(b))
	}
}

// SegmentMap is an application supplied map of one segment id byte per block.
type SegmentMap struct {
	Data      []byte
	Pitch     int
	BlockSize BlockSize
}

// LinearPitch returns the pitch of a segment map supplied as a linear
// buffer: one byte per 16x16 block of the frame width.
func LinearPitch(width int) int {
	return (width + 15) / 16
}

// Tier holds the search controls of one target usage tier.
type Tier struct {
	Merge8x8      uint32
	Merge16x16    uint32
	Merge32x32    uint32
	Merge64x64    uint32
	ImePredictors uint32
}

// TierFor returns the controls of a tiered target usage (1, 2, 4 or 7).
func TierFor(targetUsage int) (Tier, error) {
	switch targetUsage {
	case 1, 2:
		return Tier{3, 3, 3, 3, ImePredictorsQuality}, nil
	case 4:
		return Tier{2, 2, 3, 3, ImePredictorsNormal}, nil
	case 7:
		return Tier{2, 1, 2, 2, ImePredictorsSpeed}, nil
	default:
		return Tier{}, fmt.Errorf("%w: %d", ErrInvalidTargetUsage, targetUsage)
	}
}

// Params controls record generation for one frame.
type Params struct {
	Width, Height int
	TargetUsage   int
	InterFrame    bool

	// KeyFrameMergeWorkaround disables all merge candidates except 8x8 and
	// the IME predictors on key frames.
	KeyFrameMergeWorkaround bool
}

// BufferSize returns the stream-in buffer size of a frame.
func BufferSize(width, height int) int {
	return blocksIn32(width) * blocksIn32(height) * RecordSize
}

func blocksIn32(v int) int {
	return (v + tile.SuperBlockSize - 1) / tile.SuperBlockSize * 2
}

// MapOffset returns the byte offset in a segment map of the block that
// covers 32x32 block idx of the 64-aligned frame grid. The offset is
// negative when pitch is.
func MapOffset(idx, width int, bs BlockSize, pitch int) int {
	w32 := blocksIn32(width)
	x := idx % w32
	y := idx / w32
	switch bs {
	case Block16x16:
		x *= 2
		y *= 2
	case Block64x64:
		x /= 2
		y /= 2
	case Block8x8:
		x *= 4
		y *= 4
	}
	return x + y*pitch
}

// Clear zeroes the stream-in records of a frame.
func Clear(dst []byte, width, height int) error {
	n := BufferSize(width, height)
	if len(dst) < n {
		return fmt.Errorf("%w: %d bytes, need %d", ErrShortBuffer, len(dst), n)
	}
	clear(dst[:n])
	return nil
}

// Build zeroes dst and writes the stream-in records of a frame from seg.
// The records are written in lut order.
func Build(dst []byte, lut *tile.SegmentLUT, seg SegmentMap, p Params) error {
	if err := Clear(dst, p.Width, p.Height); err != nil {
		return err
	}
	n := blocksIn32(p.Width) * blocksIn32(p.Height)
	if lut == nil || lut.Len() != n {
		return fmt.Errorf("%w: frame has %d blocks", ErrStaleLUT, n)
	}
	if seg.Pitch < 0 {
		return fmt.Errorf("%w: negative pitch %d", ErrShortSegmentMap, seg.Pitch)
	}
	tier, err := TierFor(p.TargetUsage)
	if err != nil {
		return err
	}
	if p.KeyFrameMergeWorkaround && !p.InterFrame {
		tier = Tier{Merge8x8: 2}
	}

	dw6 := tier.Merge8x8<<dw6Merge8x8Shift |
		tier.Merge16x16<<dw6Merge16x16Shift |
		tier.Merge32x32<<dw6Merge32x32Shift |
		tier.Merge64x64<<dw6Merge64x64Shift
	dw0 := uint32(MaxTUSize32x32)<<dw0MaxTUSizeShift | tier.ImePredictors<<dw0ImeShift

	le := binary.LittleEndian
	var segIDs [4]uint32
	for i := range n {
		off := MapOffset(int(lut.At(i)), p.Width, seg.BlockSize, seg.Pitch)
		if off < 0 || off >= len(seg.Data) {
			return fmt.Errorf("%w: block %d reads offset %d of %d", ErrShortSegmentMap, i, off, len(seg.Data))
		}
		s := uint32(seg.Data[off])
		replicated := s | s<<4 | s<<8 | s<<12
		segIDs[i%4] = replicated

		rec := dst[i*RecordSize:]
		le.PutUint32(rec[0:], dw0|MaxCUSize64x64<<dw0MaxCUSizeShift)
		le.PutUint32(rec[24:], dw6)
		le.PutUint32(rec[28:], replicated|dw7SegIDEnable)

		// A super block whose 32x32 blocks carry different segment ids
		// cannot be coded as one 64x64 CU on inter frames.
		if i%4 == 3 && p.InterFrame &&
			(segIDs[0] != segIDs[1] || segIDs[1] != segIDs[2] || segIDs[2] != segIDs[3]) {
			for j := i - 3; j <= i; j++ {
				le.PutUint32(dst[j*RecordSize:], dw0|MaxCUSize32x32<<dw0MaxCUSizeShift)
			}
		}
	}
	return nil
}

// Record is a decoded view of one stream-in record.
type Record struct {
	MaxTUSize     uint32
	MaxCUSize     uint32
	ImePredictors uint32
	Merge8x8      uint32
	Merge16x16    uint32
	Merge32x32    uint32
	Merge64x64    uint32
	SegID         uint32
	SegIDEnable   bool
}

// Decode returns record i of an encoded stream-in buffer.
func Decode(src []byte, i int) (Record, error) {
	if (i+1)*RecordSize > len(src) {
		return Record{}, fmt.Errorf("%w: record %d", ErrShortBuffer, i)
	}
	le := binary.LittleEndian
	rec := src[i*RecordSize:]
	dw0 := le.Uint32(rec[0:])
	dw6 := le.Uint32(rec[24:])
	dw7 := le.Uint32(rec[28:])
	return Record{
		MaxTUSize:     (dw0 >> dw0MaxTUSizeShift) & 0x3,
		MaxCUSize:     (dw0 >> dw0MaxCUSizeShift) & 0x3,
		ImePredictors: (dw0 >> dw0ImeShift) & 0xF,
		Merge8x8:      (dw6 >> dw6Merge8x8Shift) & 0xF,
		Merge16x16:    (dw6 >> dw6Merge16x16Shift) & 0xF,
		Merge32x32:    (dw6 >> dw6Merge32x32Shift) & 0xF,
		Merge64x64:    (dw6 >> dw6Merge64x64Shift) & 0xF,
		SegID:         dw7 & 0xFFFF,
		SegIDEnable:   dw7&dw7SegIDEnable != 0,
	}, nil
}
