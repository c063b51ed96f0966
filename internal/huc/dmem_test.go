package huc

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/vdenc/internal/stats"
)

var testSizes = stats.RecordSizes{TileSizeRecord: 64, VdencStats: 1216, PakStats: 256, CounterBuffer: 12352}

func testLayout(t *testing.T) *stats.Layout {
	t.Helper()
	l, err := stats.NewLayout(testSizes, 64)
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	return l
}

func buildParams(t *testing.T, pipes, tiles int) PakIntParams {
	t.Helper()
	return PakIntParams{
		Layout:                      testLayout(t),
		NumPipes:                    pipes,
		TilesInFrame:                tiles,
		Pass:                        0,
		MaxPasses:                   3,
		Width:                       1920,
		Height:                      1080,
		LastTileSizeStreamoutOffset: uint32(tiles - 1),
	}
}

// =============================================================================
// Wire Format Tests
// =============================================================================

func TestPakIntDmem_Size(t *testing.T) {
	if got := binary.Size(PakIntDmem{}); got != PakIntDmemSize {
		t.Errorf("binary.Size(PakIntDmem) = %d, want %d", got, PakIntDmemSize)
	}
	if OffsetsSize != 216 {
		t.Errorf("OffsetsSize = %d, want 216", OffsetsSize)
	}
	if DmemLength() != 320 {
		t.Errorf("DmemLength() = %d, want 320", DmemLength())
	}
	if got := binary.Size(StitchData{}); got != StitchDataSize {
		t.Errorf("binary.Size(StitchData) = %d, want %d", got, StitchDataSize)
	}
}

func TestNewPakIntDmem_AllAbsent(t *testing.T) {
	raw, err := NewPakIntDmem().MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	for i, b := range raw {
		want := byte(0)
		if i < OffsetsSize {
			want = 0xFF
		}
		if b != want {
			t.Fatalf("byte %d = %#x, want %#x", i, b, want)
		}
	}
}

func TestPakIntDmem_EncodeLayout(t *testing.T) {
	d, err := BuildPakIntDmem(buildParams(t, 2, 4))
	if err != nil {
		t.Fatalf("BuildPakIntDmem() error = %v", err)
	}
	raw := make([]byte, DmemLength())
	n, err := d.Encode(raw)
	if err != nil || n != PakIntDmemSize {
		t.Fatalf("Encode() = %d, %v; want %d", n, err, PakIntDmemSize)
	}

	le := binary.LittleEndian
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"lastTileBSStartInBytes", le.Uint32(raw[216:]), 3*64 + 8},
		{"totalSizeInCommandBuffer", uint32(le.Uint16(raw[224:])), 4 * 64},
		{"offsetInCommandBuffer", uint32(le.Uint16(raw[226:])), 0xFFFF},
		{"picWidthInPixel", uint32(le.Uint16(raw[228:])), 1920},
		{"picHeightInPixel", uint32(le.Uint16(raw[230:])), 1080},
		{"totalNumberOfPaks", uint32(le.Uint16(raw[232:])), 2},
		{"numTilesPerPipe[0]", uint32(le.Uint16(raw[250:])), 2},
		{"numTilesPerPipe[1]", uint32(le.Uint16(raw[252:])), 2},
		{"picStateStartInBytes", uint32(le.Uint16(raw[266:])), 0xFFFF},
		{"codec", uint32(raw[268]), CodecVP9VDEnc},
		{"maxPass", uint32(raw[269]), 3},
		{"currentPass", uint32(raw[270]), 1},
		{"StitchEnable", uint32(raw[278]), 1},
		{"StitchCommandOffset", uint32(le.Uint16(raw[280:])), 0},
		{"BBEndforStitch", le.Uint32(raw[284:]), BatchBufferEnd},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %#x, want %#x", c.name, c.got, c.want)
		}
	}

	var back PakIntDmem
	if err := back.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}
	if diff := cmp.Diff(*d, back); diff != "" {
		t.Errorf("decoded descriptor mismatch (-want +got):\n%s", diff)
	}
}

func TestPakIntDmem_EncodeShortBuffer(t *testing.T) {
	if _, err := NewPakIntDmem().Encode(make([]byte, 100)); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Encode(short) error = %v, want ErrShortBuffer", err)
	}
}

// =============================================================================
// Builder Tests
// =============================================================================

func TestBuildPakIntDmem_SentinelInvariant(t *testing.T) {
	for _, pipes := range []int{1, 2, 4} {
		d, err := BuildPakIntDmem(buildParams(t, pipes, 8))
		if err != nil {
			t.Fatalf("pipes=%d: BuildPakIntDmem() error = %v", pipes, err)
		}
		for slot := range OffsetSlots {
			if d.HevcPakStatOffset[slot] != Absent32 || d.HevcStreamoutOffset[slot] != Absent32 {
				t.Errorf("pipes=%d: HEVC slot %d written", pipes, slot)
			}
			used := slot <= pipes
			for name, table := range map[string][OffsetSlots]uint32{
				"tileSizeRecord": d.TileSizeRecordOffset,
				"vdencStat":      d.VdencStatOffset,
				"vp9PakStat":     d.Vp9PakStatOffset,
				"vp9Counter":     d.Vp9CounterBufferOffset,
			} {
				if !used && table[slot] != Absent32 {
					t.Errorf("pipes=%d: %s[%d] = %#x, want absent", pipes, name, slot, table[slot])
				}
				if used && table[slot] == Absent32 {
					t.Errorf("pipes=%d: %s[%d] not written", pipes, name, slot)
				}
			}
		}
	}
}

func TestBuildPakIntDmem_SinglePipe(t *testing.T) {
	d, err := BuildPakIntDmem(buildParams(t, 1, 2))
	if err != nil {
		t.Fatalf("BuildPakIntDmem() error = %v", err)
	}
	if d.TotalNumberOfPaks != 1 {
		t.Errorf("TotalNumberOfPaks = %d, want 1", d.TotalNumberOfPaks)
	}
	for slot := 2; slot < OffsetSlots; slot++ {
		if d.TileSizeRecordOffset[slot] != Absent32 {
			t.Errorf("TileSizeRecordOffset[%d] = %#x, want absent", slot, d.TileSizeRecordOffset[slot])
		}
	}
	if d.NumTilesPerPipe[0] != 2 || d.NumTilesPerPipe[1] != 0 {
		t.Errorf("NumTilesPerPipe = %v, want [2 0 ...]", d.NumTilesPerPipe)
	}
}

func TestBuildPakIntDmem_PassNumbering(t *testing.T) {
	p := buildParams(t, 2, 2)
	p.MaxPasses = 2
	p.Pass = 0
	d, err := BuildPakIntDmem(p)
	if err != nil {
		t.Fatalf("BuildPakIntDmem() error = %v", err)
	}
	if d.CurrentPass != 1 || d.MaxPass != 2 {
		t.Errorf("CurrentPass=%d MaxPass=%d, want 1 2", d.CurrentPass, d.MaxPass)
	}
}

func TestBuildPakIntDmem_Offsets(t *testing.T) {
	p := buildParams(t, 2, 4)
	d, err := BuildPakIntDmem(p)
	if err != nil {
		t.Fatalf("BuildPakIntDmem() error = %v", err)
	}
	tile := p.Layout.Tile()
	frame := p.Layout.Frame()

	if d.TileSizeRecordOffset[0] != frame.Get(stats.TileSizeRecord).Offset ||
		d.VdencStatOffset[0] != frame.Get(stats.VdencStats).Offset ||
		d.Vp9PakStatOffset[0] != frame.Get(stats.PakStats).Offset ||
		d.Vp9CounterBufferOffset[0] != frame.Get(stats.CounterBuffer).Offset {
		t.Error("slot 0 should hold the frame statistics offsets")
	}
	for i := 1; i <= 2; i++ {
		step := uint32(i-1) * 2
		if got, want := d.VdencStatOffset[i], tile.Get(stats.VdencStats).Offset+step*testSizes.VdencStats; got != want {
			t.Errorf("VdencStatOffset[%d] = %#x, want %#x", i, got, want)
		}
		if got, want := d.Vp9CounterBufferOffset[i], tile.Get(stats.CounterBuffer).Offset+step*testSizes.CounterBuffer; got != want {
			t.Errorf("Vp9CounterBufferOffset[%d] = %#x, want %#x", i, got, want)
		}
	}
}

func TestBuildPakIntDmem_TilesPerPipeRoundTrip(t *testing.T) {
	for _, pipes := range []int{1, 2, 4} {
		for tiles := pipes; tiles <= 16; tiles += pipes {
			d, err := BuildPakIntDmem(buildParams(t, pipes, tiles))
			if err != nil {
				t.Fatalf("pipes=%d tiles=%d: error = %v", pipes, tiles, err)
			}
			for p := range pipes {
				if int(d.NumTilesPerPipe[p])*pipes != tiles {
					t.Errorf("pipes=%d tiles=%d: NumTilesPerPipe[%d] = %d", pipes, tiles, p, d.NumTilesPerPipe[p])
				}
			}
		}
	}
}

func TestBuildPakIntDmem_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PakIntParams)
	}{
		{"nil layout", func(p *PakIntParams) { p.Layout = nil }},
		{"uneven tiles", func(p *PakIntParams) { p.TilesInFrame = 3 }},
		{"too many pipes", func(p *PakIntParams) { p.NumPipes = 16 }},
		{"pass past max", func(p *PakIntParams) { p.Pass = 3 }},
		{"tiles past layout", func(p *PakIntParams) { p.TilesInFrame = 128 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := buildParams(t, 2, 4)
			tt.mutate(&p)
			if _, err := BuildPakIntDmem(p); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("BuildPakIntDmem() error = %v, want ErrInvalidParams", err)
			}
		})
	}
}
