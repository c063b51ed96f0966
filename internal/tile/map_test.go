package tile

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/vdenc/internal/stats"
)

// =============================================================================
// Map Tests
// =============================================================================

func TestNewMap_1080pTwoColumns(t *testing.T) {
	m, err := NewMap(1920, 1080, 1, 0, DefaultLimits())
	if err != nil {
		t.Fatalf("NewMap() error = %v", err)
	}
	if m.NumTiles() != 2 {
		t.Fatalf("NumTiles() = %d, want 2", m.NumTiles())
	}

	want := []Tile{
		{Index: 0, Col: 0, Row: 0, X: 0, Y: 0, Width: 960, Height: 1080, SbX: 0, SbY: 0, SbWidth: 15, SbHeight: 17, LastCol: false, LastRow: true},
		{Index: 1, Col: 1, Row: 0, X: 960, Y: 0, Width: 960, Height: 1080, SbX: 15, SbY: 0, SbWidth: 15, SbHeight: 17, LastCol: true, LastRow: true},
	}
	if diff := cmp.Diff(want, m.Tiles()); diff != "" {
		t.Errorf("Tiles() mismatch (-want +got):\n%s", diff)
	}
	if x, _, w, _ := m.Last().Bounds(); x+w != 1920 {
		t.Errorf("last tile ends at %d, want 1920", x+w)
	}
}

func TestNewMap_UnalignedEdges(t *testing.T) {
	m, err := NewMap(1000, 700, 1, 1, DefaultLimits())
	if err != nil {
		t.Fatalf("NewMap() error = %v", err)
	}
	// 1000 px = 16 SB (15.6), 700 px = 11 SB (10.9)
	if m.PicWidthInSb() != 16 || m.PicHeightInSb() != 11 {
		t.Fatalf("pic in SB = %dx%d, want 16x11", m.PicWidthInSb(), m.PicHeightInSb())
	}
	last := m.Last()
	if last.X != 512 || last.Width != 488 {
		t.Errorf("last column x=%d w=%d, want x=512 w=488", last.X, last.Width)
	}
	if last.Y != 320 || last.Height != 380 {
		t.Errorf("last row y=%d h=%d, want y=320 h=380", last.Y, last.Height)
	}
	first, _ := m.Tile(0)
	if first.X%SuperBlockSize != 0 || first.Width%SuperBlockSize != 0 {
		t.Errorf("inner tile not super block aligned: %v", first)
	}
}

func TestMap_PartitionCompleteness(t *testing.T) {
	sizes := []struct{ w, h int }{
		{256, 64}, {1280, 720}, {1920, 1080}, {2048, 1024}, {3840, 2160}, {4000, 1999},
	}
	for _, sz := range sizes {
		for log2Cols := 0; log2Cols <= 3; log2Cols++ {
			for log2Rows := 0; log2Rows <= 2; log2Rows++ {
				m, err := NewMap(sz.w, sz.h, log2Cols, log2Rows, Limits{})
				if err != nil {
					continue
				}
				if got, want := m.NumTiles(), (1<<log2Cols)*(1<<log2Rows); got != want {
					t.Errorf("%dx%d c%d r%d: NumTiles() = %d, want %d", sz.w, sz.h, log2Cols, log2Rows, got, want)
				}

				area := 0
				for _, tl := range m.Tiles() {
					if tl.Width <= 0 || tl.Height <= 0 {
						t.Errorf("%dx%d c%d r%d: empty tile %v", sz.w, sz.h, log2Cols, log2Rows, tl)
					}
					area += tl.Width * tl.Height
				}
				if area != sz.w*sz.h {
					t.Errorf("%dx%d c%d r%d: tile area %d, want %d", sz.w, sz.h, log2Cols, log2Rows, area, sz.w*sz.h)
				}

				// Every sampled pixel belongs to exactly one tile.
				for py := 0; py < sz.h; py += 37 {
					for px := 0; px < sz.w; px += 41 {
						owners := 0
						for _, tl := range m.Tiles() {
							if tl.Contains(px, py) {
								owners++
							}
						}
						if owners != 1 {
							t.Fatalf("%dx%d c%d r%d: pixel (%d,%d) in %d tiles", sz.w, sz.h, log2Cols, log2Rows, px, py, owners)
						}
					}
				}
			}
		}
	}
}

func TestMap_ResizeIdempotent(t *testing.T) {
	m, err := NewMap(1920, 1080, 2, 1, DefaultLimits())
	if err != nil {
		t.Fatalf("NewMap() error = %v", err)
	}
	before := append([]Tile(nil), m.Tiles()...)

	rebuilt, err := m.Resize(1920, 1080, 2, 1)
	if err != nil {
		t.Fatalf("Resize() error = %v", err)
	}
	if rebuilt {
		t.Error("Resize() with identical inputs should be a no-op")
	}

	other, err := NewMap(1920, 1080, 2, 1, DefaultLimits())
	if err != nil {
		t.Fatalf("NewMap() error = %v", err)
	}
	if diff := cmp.Diff(before, other.Tiles()); diff != "" {
		t.Errorf("independent builds differ (-first +second):\n%s", diff)
	}

	rebuilt, err = m.Resize(1280, 720, 1, 0)
	if err != nil {
		t.Fatalf("Resize() error = %v", err)
	}
	if !rebuilt || m.NumTiles() != 2 {
		t.Errorf("Resize(1280x720) rebuilt=%v tiles=%d, want true 2", rebuilt, m.NumTiles())
	}
}

func TestMap_ResizeErrorKeepsState(t *testing.T) {
	m, err := NewMap(1920, 1080, 1, 0, DefaultLimits())
	if err != nil {
		t.Fatalf("NewMap() error = %v", err)
	}
	if _, err := m.Resize(300, 1080, 1, 0); !errors.Is(err, ErrInvalidTileConfig) {
		t.Fatalf("Resize(narrow) error = %v, want ErrInvalidTileConfig", err)
	}
	if m.Width() != 1920 || m.NumTiles() != 2 {
		t.Errorf("failed Resize changed state: width=%d tiles=%d", m.Width(), m.NumTiles())
	}
}

func TestNewMap_Validation(t *testing.T) {
	tests := []struct {
		name               string
		w, h               int
		log2Cols, log2Rows int
		lim                Limits
		wantErr            error
	}{
		{"zero width", 0, 1080, 0, 0, Limits{}, ErrInvalidPictureSize},
		{"negative log2", 1920, 1080, -1, 0, Limits{}, ErrInvalidTileConfig},
		{"eight rows", 1920, 1080, 0, 3, Limits{}, ErrInvalidTileConfig},
		{"columns too narrow", 1000, 1080, 2, 0, Limits{}, ErrInvalidTileConfig},
		{"rows taller than picture", 1920, 128, 0, 2, Limits{}, ErrInvalidTileConfig},
		{"platform max", 1920, 1080, 2, 1, Limits{MaxTiles: 4}, ErrTooManyTiles},
		{"more tiles than 256 blocks", 1024, 256, 2, 2, Limits{}, ErrInvalidTileConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMap(tt.w, tt.h, tt.log2Cols, tt.log2Rows, tt.lim)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewMap() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMap_Lookup(t *testing.T) {
	m, err := NewMap(1920, 1080, 1, 1, DefaultLimits())
	if err != nil {
		t.Fatalf("NewMap() error = %v", err)
	}
	tl, ok := m.At(1, 1)
	if !ok || tl.Index != 3 {
		t.Errorf("At(1,1) = %v, %v; want index 3", tl, ok)
	}
	if _, ok := m.At(2, 0); ok {
		t.Error("At(2,0) should be out of range")
	}
	if _, ok := m.Tile(4); ok {
		t.Error("Tile(4) should be out of range")
	}
	tl, ok = m.TileAtPixel(1919, 1079)
	if !ok || tl.Index != 3 {
		t.Errorf("TileAtPixel(1919,1079) = %v, %v; want index 3", tl, ok)
	}
	if _, ok := m.TileAtPixel(1920, 0); ok {
		t.Error("TileAtPixel(1920,0) should be outside")
	}
}

// =============================================================================
// Coding Data Tests
// =============================================================================

var testSizes = stats.RecordSizes{TileSizeRecord: 64, VdencStats: 1216, PakStats: 256, CounterBuffer: 12352}

func TestCodingData_Scalable(t *testing.T) {
	m, err := NewMap(1920, 1080, 1, 0, DefaultLimits())
	if err != nil {
		t.Fatalf("NewMap() error = %v", err)
	}
	data := m.CodingData(2, testSizes, 1<<20)
	if len(data) != 2 {
		t.Fatalf("len(CodingData()) = %d, want 2", len(data))
	}

	d0, d1 := data[0], data[1]
	if d0.TileWidthInMinCbMinus1 != 119 || d0.TileHeightInMinCbMinus1 != 134 {
		t.Errorf("tile 0 min cb = %dx%d, want 119x134", d0.TileWidthInMinCbMinus1, d0.TileHeightInMinCbMinus1)
	}
	if !d0.IsLastTileOfColumn || d0.IsLastTileOfRow {
		t.Errorf("tile 0 last flags column=%v row=%v, want true false", d0.IsLastTileOfColumn, d0.IsLastTileOfRow)
	}
	if !d1.IsLastTileOfRow {
		t.Error("tile 1 should be last of row")
	}

	want := CodingData{
		Tile:                                 m.Tiles()[1],
		NumActivePipes:                       2,
		NumTilesInFrame:                      2,
		NumTileColumnsInFrame:                2,
		IsLastTileOfColumn:                   true,
		IsLastTileOfRow:                      true,
		TileWidthInMinCbMinus1:               119,
		TileHeightInMinCbMinus1:              134,
		Scalable:                             true,
		CuRecordOffset:                       64 * 255,
		BitstreamByteOffset:                  8192,
		SseRowstoreOffset:                    (15 + 3) << 5,
		CuLevelStreamoutOffset:               120 * 135,
		SliceSizeStreamoutOffset:             120 * 135,
		TileSizeStreamoutOffset:              1,
		PakTileStatisticsOffset:              4,
		Vp9ProbabilityCounterStreamoutOffset: 193,
		CumulativeCUTileOffset:               8,
		TileStreaminOffset:                   4 * 15 * 17,
	}
	if diff := cmp.Diff(want, d1); diff != "" {
		t.Errorf("tile 1 coding data mismatch (-want +got):\n%s", diff)
	}
}

func TestCodingData_SinglePipeZeroesStreamout(t *testing.T) {
	m, err := NewMap(1920, 1080, 1, 0, DefaultLimits())
	if err != nil {
		t.Fatalf("NewMap() error = %v", err)
	}
	d := m.CodingData(1, testSizes, 1<<20)[1]
	if d.Scalable {
		t.Error("Scalable = true for one pipe")
	}
	if d.CuRecordOffset != 0 || d.BitstreamByteOffset != 0 || d.TileSizeStreamoutOffset != 0 ||
		d.PakTileStatisticsOffset != 0 || d.Vp9ProbabilityCounterStreamoutOffset != 0 {
		t.Errorf("non-scalable stream-out offsets should be zero: %+v", d)
	}
	if d.CumulativeCUTileOffset != 8 {
		t.Errorf("CumulativeCUTileOffset = %d, want 8", d.CumulativeCUTileOffset)
	}
}
