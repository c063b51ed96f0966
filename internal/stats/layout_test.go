package stats

import (
	"errors"
	"testing"
)

var xeHPMSizes = RecordSizes{
	TileSizeRecord: 64,
	VdencStats:     1216,
	PakStats:       256,
	CounterBuffer:  12352,
}

// =============================================================================
// Layout Tests
// =============================================================================

func TestAlignUp(t *testing.T) {
	tests := []struct {
		v, align, want uint32
	}{
		{0, 64, 0},
		{1, 64, 64},
		{64, 64, 64},
		{304, 64, 320},
		{4097, PageSize, 8192},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.v, tt.align); got != tt.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.v, tt.align, got, tt.want)
		}
	}
}

func TestNewLayout_Offsets(t *testing.T) {
	l, err := NewLayout(xeHPMSizes, 8)
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}

	tile := l.Tile()
	wantTile := RegionSet{
		{Offset: 0, Size: 8 * 64},
		{Offset: 0x1000, Size: 8 * 1216},
		{Offset: 0x4000, Size: 8 * 256},
		{Offset: 0x5000, Size: 8 * 12352},
	}
	if tile != wantTile {
		t.Errorf("Tile() = %+v, want %+v", tile, wantTile)
	}
	if got, want := l.TileBufferSize(), AlignUp(0x5000+8*12352, PageSize); got != want {
		t.Errorf("TileBufferSize() = %#x, want %#x", got, want)
	}

	frame := l.Frame()
	wantFrame := RegionSet{
		{Offset: 0, Size: 8 * 64},
		{Offset: 0x1000, Size: 1216},
		{Offset: 0x2000, Size: 256},
		{Offset: 0x3000, Size: 12352},
	}
	if frame != wantFrame {
		t.Errorf("Frame() = %+v, want %+v", frame, wantFrame)
	}
	if got := l.FrameBufferSize(); got != 0x7000 {
		t.Errorf("FrameBufferSize() = %#x, want 0x7000", got)
	}
	if got := l.TileRecordBufferSize(); got != 8*64 {
		t.Errorf("TileRecordBufferSize() = %d, want %d", got, 8*64)
	}
}

func TestNewLayout_FramePageAligned(t *testing.T) {
	sizes := RecordSizes{TileSizeRecord: 20, VdencStats: 1000, PakStats: 4100, CounterBuffer: 3}
	for _, maxTiles := range []int{1, 4, 16, 64} {
		l, err := NewLayout(sizes, maxTiles)
		if err != nil {
			t.Fatalf("NewLayout(%d) error = %v", maxTiles, err)
		}
		frame := l.Frame()
		for _, k := range Kinds {
			if frame[k].Offset%PageSize != 0 {
				t.Errorf("maxTiles=%d: frame %v offset %#x not page aligned", maxTiles, k, frame[k].Offset)
			}
			if frame[k].End() > l.FrameBufferSize() {
				t.Errorf("maxTiles=%d: frame %v ends past buffer", maxTiles, k)
			}
		}
		if l.FrameBufferSize()%PageSize != 0 {
			t.Errorf("maxTiles=%d: frame buffer size %#x not page aligned", maxTiles, l.FrameBufferSize())
		}
		if got := l.TileRecordBufferSize(); got != uint32(maxTiles)*64 {
			t.Errorf("maxTiles=%d: TileRecordBufferSize() = %d, want %d", maxTiles, got, maxTiles*64)
		}
	}
}

func TestNewLayout_Errors(t *testing.T) {
	if _, err := NewLayout(RecordSizes{TileSizeRecord: 64}, 4); !errors.Is(err, ErrInvalidRecordSize) {
		t.Errorf("NewLayout(zero sizes) error = %v, want ErrInvalidRecordSize", err)
	}
	if _, err := NewLayout(xeHPMSizes, 0); !errors.Is(err, ErrInvalidTileCount) {
		t.Errorf("NewLayout(0 tiles) error = %v, want ErrInvalidTileCount", err)
	}
}

// =============================================================================
// Pipe Region Tests
// =============================================================================

func TestPipeRegions_NonOverlap(t *testing.T) {
	l, err := NewLayout(xeHPMSizes, 16)
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}

	for _, numPipes := range []int{1, 2, 4, 8} {
		for perPipe := 1; perPipe*numPipes <= 16; perPipe++ {
			tiles := perPipe * numPipes
			sets, err := l.PipeRegions(numPipes, tiles)
			if err != nil {
				t.Fatalf("PipeRegions(%d, %d) error = %v", numPipes, tiles, err)
			}

			var all []Region
			for _, set := range sets {
				for _, k := range Kinds {
					all = append(all, set[k])
					parent := l.Tile()[k]
					if set[k].Offset < parent.Offset || set[k].End() > parent.End() {
						t.Errorf("pipes=%d tiles=%d: %v region %+v outside %+v", numPipes, tiles, k, set[k], parent)
					}
				}
			}
			for i := range all {
				for j := i + 1; j < len(all); j++ {
					if all[i].Overlaps(all[j]) {
						t.Fatalf("pipes=%d tiles=%d: regions %+v and %+v overlap", numPipes, tiles, all[i], all[j])
					}
				}
			}
		}
	}
}

func TestPipeRegions_Contiguous(t *testing.T) {
	l, err := NewLayout(xeHPMSizes, 8)
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	sets, err := l.PipeRegions(2, 4)
	if err != nil {
		t.Fatalf("PipeRegions() error = %v", err)
	}
	for _, k := range Kinds {
		if sets[1][k].Offset != sets[0][k].End() {
			t.Errorf("%v: pipe 1 starts at %#x, want %#x", k, sets[1][k].Offset, sets[0][k].End())
		}
	}
	if got := sets[1][PakStats].Offset; got != 0x4000+2*256 {
		t.Errorf("pipe 1 PakStats offset = %#x, want %#x", got, 0x4000+2*256)
	}
}

func TestPipeRegions_Errors(t *testing.T) {
	l, err := NewLayout(xeHPMSizes, 16)
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	tests := []struct {
		name         string
		pipes, tiles int
		wantErr      error
	}{
		{"too many pipes", MaxPipes + 1, 16, ErrTooManyPipes},
		{"zero pipes", 0, 4, ErrTooManyPipes},
		{"uneven", 4, 6, ErrUnevenTiles},
		{"too many tiles", 1, 17, ErrInvalidTileCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.PipeRegions(tt.pipes, tt.tiles); !errors.Is(err, tt.wantErr) {
				t.Errorf("PipeRegions(%d, %d) error = %v, want %v", tt.pipes, tt.tiles, err, tt.wantErr)
			}
		})
	}
}
