package huc

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/vdenc/internal/stats"
)

// PakIntDmem is the PAK integration DMEM descriptor.
//
// The offset tables come first. Every slot not written by BuildPakIntDmem
// holds Absent32, which the firmware distinguishes from a valid offset 0.
// The HEVC tables are shared with the HEVC integration kernel and are never
// written for VP9.
type PakIntDmem struct {
	TileSizeRecordOffset   [OffsetSlots]uint32
	VdencStatOffset        [OffsetSlots]uint32
	HevcPakStatOffset      [OffsetSlots]uint32
	HevcStreamoutOffset    [OffsetSlots]uint32
	Vp9PakStatOffset       [OffsetSlots]uint32
	Vp9CounterBufferOffset [OffsetSlots]uint32

	LastTileBSStartInBytes uint32
	SliceHeaderSizeInBits  uint32

	TotalSizeInCommandBuffer uint16
	OffsetInCommandBuffer    uint16
	PicWidthInPixel          uint16
	PicHeightInPixel         uint16
	TotalNumberOfPaks        uint16
	NumSlices                [MaxPakNum]uint16
	NumTilesPerPipe          [MaxPakNum]uint16
	PicStateStartInBytes     uint16

	Codec              uint8
	MaxPass            uint8
	CurrentPass        uint8
	MinCUSize          uint8
	CabacZeroWordFlag  uint8
	BitdepthLuma       uint8
	BitdepthChroma     uint8
	ChromaFormatIdc    uint8
	CurrFrameBRCLevel  uint8
	BrcUnderFlowEnable uint8
	StitchEnable       uint8
	Reserved1          uint8

	StitchCommandOffset uint16
	Reserved2           uint16
	BBEndForStitch      uint32
	Reserved            [16]uint8
}

// NewPakIntDmem returns a descriptor in the all-absent state: zero
// everywhere except the offset tables, which hold Absent32.
func NewPakIntDmem() *PakIntDmem {
	d := &PakIntDmem{}
	for _, table := range d.offsetTables() {
		for i := range table {
			table[i] = Absent32
		}
	}
	return d
}

func (d *PakIntDmem) offsetTables() []*[OffsetSlots]uint32 {
	return []*[OffsetSlots]uint32{
		&d.TileSizeRecordOffset,
		&d.VdencStatOffset,
		&d.HevcPakStatOffset,
		&d.HevcStreamoutOffset,
		&d.Vp9PakStatOffset,
		&d.Vp9CounterBufferOffset,
	}
}

// PakIntParams are the inputs of BuildPakIntDmem.
type PakIntParams struct {
	// Layout provides the tile and frame statistics offsets.
	Layout *stats.Layout

	NumPipes     int
	TilesInFrame int

	// Pass is the 0-based current BRC pass; MaxPasses the configured maximum.
	Pass      int
	MaxPasses int

	Width  int
	Height int

	// LastTileSizeStreamoutOffset is the tile-size stream-out offset of
	// the last tile, in cache lines.
	LastTileSizeStreamoutOffset uint32
}

func (p PakIntParams) validate() error {
	if p.Layout == nil {
		return fmt.Errorf("%w: nil statistics layout", ErrInvalidParams)
	}
	if p.NumPipes < 1 || p.NumPipes > MaxPakNum {
		return fmt.Errorf("%w: %d pipes", ErrInvalidParams, p.NumPipes)
	}
	if p.TilesInFrame < 1 || p.TilesInFrame%p.NumPipes != 0 {
		return fmt.Errorf("%w: %d tiles for %d pipes", ErrInvalidParams, p.TilesInFrame, p.NumPipes)
	}
	if p.MaxPasses < 1 || p.MaxPasses > 0xFF || p.Pass < 0 || p.Pass >= p.MaxPasses {
		return fmt.Errorf("%w: pass %d of %d", ErrInvalidParams, p.Pass, p.MaxPasses)
	}
	if p.TilesInFrame*cacheLineSize > 0xFFFF {
		return fmt.Errorf("%w: %d tiles overflow command buffer size", ErrInvalidParams, p.TilesInFrame)
	}
	return nil
}

// BuildPakIntDmem fills a descriptor for one pass.
func BuildPakIntDmem(p PakIntParams) (*PakIntDmem, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	d := NewPakIntDmem()

	d.TotalSizeInCommandBuffer = uint16(p.TilesInFrame * cacheLineSize)
	d.OffsetInCommandBuffer = Absent16
	d.PicWidthInPixel = uint16(p.Width)
	d.PicHeightInPixel = uint16(p.Height)
	d.TotalNumberOfPaks = uint16(p.NumPipes)
	d.Codec = CodecVP9VDEnc
	d.MaxPass = uint8(p.MaxPasses)
	d.CurrentPass = uint8(p.Pass + 1)
	d.LastTileBSStartInBytes = p.LastTileSizeStreamoutOffset*cacheLineSize + HeaderBytes
	d.PicStateStartInBytes = Absent16

	d.StitchEnable = 1
	d.StitchCommandOffset = 0
	d.BBEndForStitch = BatchBufferEnd

	// Slot 0 is the integrated frame statistics written by the firmware.
	frame := p.Layout.Frame()
	d.TileSizeRecordOffset[0] = frame.Get(stats.TileSizeRecord).Offset
	d.VdencStatOffset[0] = frame.Get(stats.VdencStats).Offset
	d.Vp9PakStatOffset[0] = frame.Get(stats.PakStats).Offset
	d.Vp9CounterBufferOffset[0] = frame.Get(stats.CounterBuffer).Offset

	// Slots 1..n are the per-pipe partial statistics read by the firmware.
	perPipe, err := p.Layout.PipeRegions(p.NumPipes, p.TilesInFrame)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	for i := 1; i <= p.NumPipes; i++ {
		set := perPipe[i-1]
		d.NumTilesPerPipe[i-1] = uint16(p.TilesInFrame / p.NumPipes)
		d.TileSizeRecordOffset[i] = set.Get(stats.TileSizeRecord).Offset
		d.VdencStatOffset[i] = set.Get(stats.VdencStats).Offset
		d.Vp9PakStatOffset[i] = set.Get(stats.PakStats).Offset
		d.Vp9CounterBufferOffset[i] = set.Get(stats.CounterBuffer).Offset
	}
	return d, nil
}

// Encode writes the descriptor into dst and returns the number of bytes
// written.
func (d *PakIntDmem) Encode(dst []byte) (int, error) {
	if len(dst) < PakIntDmemSize {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, PakIntDmemSize, len(dst))
	}
	return binary.Encode(dst, binary.LittleEndian, d)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (d *PakIntDmem) MarshalBinary() ([]byte, error) {
	buf := make([]byte, PakIntDmemSize)
	if _, err := d.Encode(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (d *PakIntDmem) UnmarshalBinary(data []byte) error {
	if len(data) < PakIntDmemSize {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, PakIntDmemSize, len(data))
	}
	_, err := binary.Decode(data, binary.LittleEndian, d)
	return err
}
