package huc

import (
	"fmt"

	"github.com/gogpu/vdenc/internal/resource"
)

// NumRegions is the size of the HuC virtual address region table.
const NumRegions = 16

// PAK integration region slots.
const (
	RegionTileStats  = 0
	RegionFrameStats = 1
	RegionDummy4     = 4
	RegionDummy5     = 5
	RegionDummy6     = 6
	RegionDummy7     = 7
	RegionStitchData = 8
	RegionBrcData    = 9
	RegionStitchCmd  = 10
	RegionTileRecord = 15
)

// Region binds one firmware region to a buffer.
type Region struct {
	Resource *resource.Resource
	Offset   uint64
	Writable bool
}

// Bound reports whether the slot points at a buffer.
func (r Region) Bound() bool { return r.Resource != nil }

// Regions is the virtual address region table.
type Regions [NumRegions]Region

// Bound returns the indices of the bound slots in ascending order.
func (t *Regions) Bound() []int {
	var idx []int
	for i, r := range t {
		if r.Bound() {
			idx = append(idx, i)
		}
	}
	return idx
}

// PakIntBuffers are the buffers bound for one PAK integration run.
type PakIntBuffers struct {
	// TileStats holds the per-pipe statistics of the current buffer set.
	TileStats *resource.Resource

	// FrameStats receives the integrated frame statistics.
	FrameStats *resource.Resource

	// Dummy fills the regions the VP9 kernel does not use.
	Dummy *resource.Resource

	// StitchData is the stitch command list of the current set and pass.
	StitchData *resource.Resource

	BrcData *resource.Resource

	// StitchCmd is the second-level batch buffer the firmware writes the
	// stitching commands into.
	StitchCmd *resource.Resource

	// TileRecord holds the PAK tile size records of the current set.
	TileRecord *resource.Resource
}

// PakIntRegions builds the region table of the PAK integration kernel.
// Every buffer is required: the firmware's generic region table needs a
// valid resource behind each slot it reads.
func PakIntRegions(b PakIntBuffers) (Regions, error) {
	required := []struct {
		name string
		res  *resource.Resource
	}{
		{"tile statistics", b.TileStats},
		{"frame statistics", b.FrameStats},
		{"dummy", b.Dummy},
		{"stitch data", b.StitchData},
		{"BRC data", b.BrcData},
		{"stitch command", b.StitchCmd},
		{"tile record", b.TileRecord},
	}
	for _, r := range required {
		if r.res.IsNull() {
			return Regions{}, fmt.Errorf("%w: %s", ErrMissingRegion, r.name)
		}
	}

	var t Regions
	t[RegionTileStats] = Region{Resource: b.TileStats}
	t[RegionFrameStats] = Region{Resource: b.FrameStats, Writable: true}
	t[RegionDummy4] = Region{Resource: b.Dummy}
	t[RegionDummy5] = Region{Resource: b.Dummy, Writable: true}
	t[RegionDummy6] = Region{Resource: b.Dummy, Writable: true}
	t[RegionDummy7] = Region{Resource: b.Dummy}
	t[RegionStitchData] = Region{Resource: b.StitchData, Writable: true}
	t[RegionBrcData] = Region{Resource: b.BrcData, Writable: true}
	t[RegionStitchCmd] = Region{Resource: b.StitchCmd, Writable: true}
	t[RegionTileRecord] = Region{Resource: b.TileRecord, Writable: true}
	return t, nil
}
