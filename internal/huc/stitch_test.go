package huc

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/vdenc/internal/resource"
	"github.com/gogpu/vdenc/internal/resource/resourcetest"
)

// =============================================================================
// Stitch Data Tests
// =============================================================================

func TestBuildStitchData(t *testing.T) {
	d, err := BuildStitchData(StitchParams{NumTiles: 4, TileRecordSize: 64})
	if err != nil {
		t.Fatalf("BuildStitchData() error = %v", err)
	}
	raw := make([]byte, StitchDataSize)
	if _, err := d.Encode(raw); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	le := binary.LittleEndian
	if got := le.Uint32(raw[0:]); got != 1 {
		t.Errorf("TotalCommands = %d, want 1", got)
	}
	if got := le.Uint16(raw[6:]); got != 0xF {
		t.Errorf("SizeOfData = %#x, want 0xf", got)
	}
	data := raw[stitchCmdDataStart:]
	if data[0] != 0 || data[1] != CmdListMode || le.Uint16(data[2:]) != 4 {
		t.Errorf("command header = % x, want 00 %02x 04 00", data[:4], CmdListMode)
	}
	if got := le.Uint32(data[24:]); got != 64 {
		t.Errorf("CopySize = %d, want 64", got)
	}
	if le.Uint64(raw[SrcAddrByteOffset:]) != 0 || le.Uint64(raw[DestAddrByteOffset:]) != 0 {
		t.Error("address fields should be left for patching")
	}
	// Only the first command is populated.
	if got := le.Uint16(raw[4+4+stitchCommandWords*4+2:]); got != 0 {
		t.Errorf("second command SizeOfData = %d, want 0", got)
	}
}

func TestBuildStitchData_Protected(t *testing.T) {
	d, err := BuildStitchData(StitchParams{NumTiles: 1, TileRecordSize: 64, Protected: true})
	if err != nil {
		t.Fatalf("BuildStitchData() error = %v", err)
	}
	if sel := d.InputCOM[0].Data[0] & 0xFF; sel != SelectionProtected {
		t.Errorf("SelectionForIndData = %d, want %d", sel, SelectionProtected)
	}
}

func TestBuildStitchData_Errors(t *testing.T) {
	for _, p := range []StitchParams{
		{NumTiles: 0, TileRecordSize: 64},
		{NumTiles: 4, TileRecordSize: 0},
	} {
		if _, err := BuildStitchData(p); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("BuildStitchData(%+v) error = %v, want ErrInvalidParams", p, err)
		}
	}
	d, _ := BuildStitchData(StitchParams{NumTiles: 1, TileRecordSize: 64})
	if _, err := d.Encode(make([]byte, 8)); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Encode(short) error = %v, want ErrShortBuffer", err)
	}
}

// =============================================================================
// Region Table Tests
// =============================================================================

func TestPakIntRegions(t *testing.T) {
	a := resourcetest.NewAllocator(t, resource.Config{})
	alloc := func(name string) *resource.Resource {
		r, err := a.Allocate(resource.Desc{Name: name, Size: 4096, Usage: resource.UsageInternal})
		if err != nil {
			t.Fatalf("Allocate(%s) error = %v", name, err)
		}
		return r
	}
	b := PakIntBuffers{
		TileStats:  alloc("tile stats"),
		FrameStats: alloc("frame stats"),
		Dummy:      alloc("dummy"),
		StitchData: alloc("stitch data"),
		BrcData:    alloc("brc data"),
		StitchCmd:  alloc("stitch cmd"),
		TileRecord: alloc("tile record"),
	}
	regions, err := PakIntRegions(b)
	if err != nil {
		t.Fatalf("PakIntRegions() error = %v", err)
	}

	if diff := cmp.Diff([]int{0, 1, 4, 5, 6, 7, 8, 9, 10, 15}, regions.Bound()); diff != "" {
		t.Errorf("bound slots mismatch (-want +got):\n%s", diff)
	}
	writable := map[int]bool{1: true, 5: true, 6: true, 8: true, 9: true, 10: true, 15: true}
	for _, i := range regions.Bound() {
		if regions[i].Writable != writable[i] {
			t.Errorf("region %d writable = %v, want %v", i, regions[i].Writable, writable[i])
		}
	}
	if regions[RegionTileStats].Resource != b.TileStats || regions[RegionDummy7].Resource != b.Dummy {
		t.Error("regions bound to the wrong buffers")
	}

	a.Free(b.BrcData)
	if _, err := PakIntRegions(b); !errors.Is(err, ErrMissingRegion) {
		t.Errorf("PakIntRegions(freed BRC data) error = %v, want ErrMissingRegion", err)
	}
}
