// Package stats computes where per-tile and per-frame encode statistics
// live inside the shared statistics buffers.
//
// Four statistics kinds are produced for every tile: the PAK tile size
// record, VDENC statistics, PAK statistics and the probability counter
// buffer. Pipes write their tiles' records into the tile statistics buffer;
// the HuC PAK integration firmware combines them into the frame statistics
// buffer.
package stats

import (
	"errors"
	"fmt"
)

// Alignment granularities.
const (
	// CacheLineSize is the firmware read granularity inside a buffer.
	CacheLineSize = 64

	// PageSize is the granularity of regions bound as separate HuC regions.
	PageSize = 0x1000
)

// MaxPipes is the capacity of the per-pipe offset tables in the HuC
// descriptor. Layouts for more pipes cannot be described to the firmware.
const MaxPipes = 8

// Layout errors.
var (
	// ErrInvalidRecordSize is returned when a record size is zero.
	ErrInvalidRecordSize = errors.New("stats: invalid record size")

	// ErrInvalidTileCount is returned for non-positive or too large tile counts.
	ErrInvalidTileCount = errors.New("stats: invalid tile count")

	// ErrTooManyPipes is returned when numPipes exceeds MaxPipes.
	ErrTooManyPipes = errors.New("stats: too many pipes")

	// ErrUnevenTiles is returned when tiles do not divide evenly among pipes.
	ErrUnevenTiles = errors.New("stats: tiles do not divide evenly among pipes")
)

// AlignUp rounds v up to a multiple of align, which must be a power of two.
func AlignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// Kind names one statistics kind.
type Kind int

const (
	// TileSizeRecord is the PAK tile size record.
	TileSizeRecord Kind = iota
	// VdencStats is the VDENC statistics block.
	VdencStats
	// PakStats is the PAK statistics block.
	PakStats
	// CounterBuffer is the probability counter buffer.
	CounterBuffer

	// NumKinds is the number of statistics kinds.
	NumKinds
)

// Kinds lists all statistics kinds in layout order.
var Kinds = [NumKinds]Kind{TileSizeRecord, VdencStats, PakStats, CounterBuffer}

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case TileSizeRecord:
		return "TileSizeRecord"
	case VdencStats:
		return "VdencStats"
	case PakStats:
		return "PakStats"
	case CounterBuffer:
		return "CounterBuffer"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// RecordSizes holds the per-tile record size in bytes of each kind. The
// values are properties of a hardware generation and come from the command
// emitter.
type RecordSizes struct {
	TileSizeRecord uint32
	VdencStats     uint32
	PakStats       uint32
	CounterBuffer  uint32
}

// Of returns the record size of kind k.
func (s RecordSizes) Of(k Kind) uint32 {
	switch k {
	case TileSizeRecord:
		return s.TileSizeRecord
	case VdencStats:
		return s.VdencStats
	case PakStats:
		return s.PakStats
	case CounterBuffer:
		return s.CounterBuffer
	default:
		return 0
	}
}

// Validate checks that every record size is non-zero.
func (s RecordSizes) Validate() error {
	for _, k := range Kinds {
		if s.Of(k) == 0 {
			return fmt.Errorf("%w: %v", ErrInvalidRecordSize, k)
		}
	}
	return nil
}

// Region is a byte range inside a buffer.
type Region struct {
	Offset uint32
	Size   uint32
}

// End returns the first byte after the region.
func (r Region) End() uint32 { return r.Offset + r.Size }

// Overlaps reports whether r and o share at least one byte.
func (r Region) Overlaps(o Region) bool {
	if r.Size == 0 || o.Size == 0 {
		return false
	}
	return r.Offset < o.End() && o.Offset < r.End()
}

// RegionSet holds one region per statistics kind.
type RegionSet [NumKinds]Region

// Get returns the region of kind k.
func (s RegionSet) Get(k Kind) Region { return s[k] }

// Layout is the statistics layout for one encoder instance.
//
// The tile statistics buffer holds each kind in its own page-aligned
// sub-buffer sized for maxTiles records. The frame statistics buffer holds
// the integrated frame statistics, each kind starting on a page boundary.
type Layout struct {
	sizes    RecordSizes
	maxTiles int

	tile           RegionSet
	tileBufferSize uint32

	frame           RegionSet
	frameBufferSize uint32

	tileRecordBufferSize uint32
}

// NewLayout computes the layout for up to maxTiles tiles per frame.
func NewLayout(sizes RecordSizes, maxTiles int) (*Layout, error) {
	if err := sizes.Validate(); err != nil {
		return nil, err
	}
	if maxTiles <= 0 {
		return nil, fmt.Errorf("%w: maxTiles %d", ErrInvalidTileCount, maxTiles)
	}
	n := uint32(maxTiles)

	l := &Layout{sizes: sizes, maxTiles: maxTiles}

	// Tile statistics: every kind sized for all tiles, page-aligned bases.
	var off uint32
	for _, k := range Kinds {
		size := n * sizes.Of(k)
		l.tile[k] = Region{Offset: off, Size: size}
		off = AlignUp(off+size, PageSize)
	}
	l.tileBufferSize = off

	// Frame statistics: every tile's size record, one frame record of the rest.
	off = 0
	for _, k := range Kinds {
		size := sizes.Of(k)
		if k == TileSizeRecord {
			size *= n
		}
		l.frame[k] = Region{Offset: off, Size: size}
		off = AlignUp(off+size, PageSize)
	}
	l.frameBufferSize = off

	l.tileRecordBufferSize = n * AlignUp(sizes.TileSizeRecord, CacheLineSize)
	return l, nil
}

// Sizes returns the record sizes the layout was built from.
func (l *Layout) Sizes() RecordSizes { return l.sizes }

// MaxTiles returns the tile capacity of the layout.
func (l *Layout) MaxTiles() int { return l.maxTiles }

// Tile returns the per-kind sub-buffers of the tile statistics buffer.
func (l *Layout) Tile() RegionSet { return l.tile }

// TileBufferSize returns the tile statistics buffer size in bytes.
func (l *Layout) TileBufferSize() uint32 { return l.tileBufferSize }

// Frame returns the frame statistics regions.
func (l *Layout) Frame() RegionSet { return l.frame }

// FrameBufferSize returns the frame statistics buffer size in bytes.
func (l *Layout) FrameBufferSize() uint32 { return l.frameBufferSize }

// TileRecordBufferSize returns the tile record buffer size in bytes.
func (l *Layout) TileRecordBufferSize() uint32 { return l.tileRecordBufferSize }

// PipeRegions returns the tile statistics regions each pipe writes.
// Pipe p starts at base + p*tilesPerPipe*recordSize for every kind, so
// consecutive pipes are contiguous in pipe order.
func (l *Layout) PipeRegions(numPipes, tilesInFrame int) ([]RegionSet, error) {
	if numPipes <= 0 || numPipes > MaxPipes {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyPipes, numPipes, MaxPipes)
	}
	if tilesInFrame <= 0 || tilesInFrame > l.maxTiles {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidTileCount, tilesInFrame, l.maxTiles)
	}
	if tilesInFrame%numPipes != 0 {
		return nil, fmt.Errorf("%w: %d tiles, %d pipes", ErrUnevenTiles, tilesInFrame, numPipes)
	}
	perPipe := uint32(tilesInFrame / numPipes)

	sets := make([]RegionSet, numPipes)
	for p := range sets {
		for _, k := range Kinds {
			rec := l.sizes.Of(k)
			sets[p][k] = Region{
				Offset: l.tile[k].Offset + uint32(p)*perPipe*rec,
				Size:   perPipe * rec,
			}
		}
	}
	return sets, nil
}
