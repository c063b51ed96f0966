package tile

import "github.com/gogpu/vdenc/internal/stats"

const (
	// cuRecordsPerLcu is the number of CU records reserved per super block.
	cuRecordsPerLcu = 64

	// cumulativeCuBytesPerLcu is the cumulative CU count entry size.
	cumulativeCuBytesPerLcu = 2
)

// CodingData is the per-tile input of the tile coding and tile slice
// state commands.
//
// Offsets in cache lines are relative to the start of the buffer the
// hardware streams into. Stream-out offsets are only meaningful in
// scalable mode and are zero otherwise.
type CodingData struct {
	Tile Tile

	NumActivePipes        int
	NumTilesInFrame       int
	NumTileColumnsInFrame int

	// IsLastTileOfColumn is set on the last tile row and IsLastTileOfRow on
	// the last tile column.
	IsLastTileOfColumn bool
	IsLastTileOfRow    bool

	TileWidthInMinCbMinus1  uint32
	TileHeightInMinCbMinus1 uint32

	// Scalable mode offsets.
	Scalable                             bool
	CuRecordOffset                       uint32
	BitstreamByteOffset                  uint32
	SseRowstoreOffset                    uint32
	CuLevelStreamoutOffset               uint32
	SliceSizeStreamoutOffset             uint32
	TileSizeStreamoutOffset              uint32
	PakTileStatisticsOffset              uint32
	Vp9ProbabilityCounterStreamoutOffset uint32

	// CumulativeCUTileOffset is in cache lines; TileStreaminOffset in
	// stream-in records.
	CumulativeCUTileOffset uint32
	TileStreaminOffset     uint32
}

// MinCbCount returns the number of minimum coding blocks in the tile.
func (d CodingData) MinCbCount() uint32 {
	return (d.TileWidthInMinCbMinus1 + 1) * (d.TileHeightInMinCbMinus1 + 1)
}

// CodingData computes the coding data of every tile in raster order.
// sizes provides the per-tile statistics record sizes; bitstreamUpperBound
// is the bitstream buffer size shared by all tiles.
func (m *Map) CodingData(numPipes int, sizes stats.RecordSizes, bitstreamUpperBound uint32) []CodingData {
	n := len(m.tiles)
	scalable := numPipes > 1
	const cl = stats.CacheLineSize

	bitstreamSizePerTile := bitstreamUpperBound / (uint32(n) * cl)

	var (
		numLcusBefore            uint32
		cuLevelStreamoutOffset   uint32
		sliceSizeStreamoutOffset uint32
		bitstreamByteOffset      uint32
		cumulativeCuBytes        uint32
	)

	out := make([]CodingData, n)
	for i, t := range m.tiles {
		d := CodingData{
			Tile:                  t,
			NumActivePipes:        numPipes,
			NumTilesInFrame:       n,
			NumTileColumnsInFrame: m.NumCols(),
			IsLastTileOfColumn:    t.LastRow,
			IsLastTileOfRow:       t.LastCol,
			Scalable:              scalable,
		}

		if t.LastCol {
			d.TileWidthInMinCbMinus1 = uint32(alignUp(m.width-t.SbX*SuperBlockSize, MinBlockSize)/MinBlockSize - 1)
		} else {
			d.TileWidthInMinCbMinus1 = uint32(t.SbWidth*MinBlockSize - 1)
		}
		if t.LastRow {
			d.TileHeightInMinCbMinus1 = uint32(alignUp(m.height-t.SbY*SuperBlockSize, MinBlockSize)/MinBlockSize - 1)
		} else {
			d.TileHeightInMinCbMinus1 = uint32(t.SbHeight*MinBlockSize - 1)
		}

		numLcu := uint32(t.NumSuperBlocks())
		d.CumulativeCUTileOffset = cumulativeCuBytes / cl
		d.TileStreaminOffset = uint32(4 * (t.SbY*m.picWidthInSb + t.SbX*t.SbHeight))
		cumulativeCuBytes = stats.AlignUp(cumulativeCuBytes+numLcu*cumulativeCuBytesPerLcu, cl)

		if scalable {
			idx := uint32(i)
			d.CuRecordOffset = stats.AlignUp(cuRecordsPerLcu*numLcusBefore*64, cl) / cl
			d.SseRowstoreOffset = uint32((t.SbX + 3*t.Col) << 5)
			d.BitstreamByteOffset = bitstreamByteOffset
			d.CuLevelStreamoutOffset = cuLevelStreamoutOffset
			d.SliceSizeStreamoutOffset = sliceSizeStreamoutOffset
			d.TileSizeStreamoutOffset = (idx*sizes.TileSizeRecord + cl - 1) / cl
			d.PakTileStatisticsOffset = (idx*sizes.PakStats + cl - 1) / cl
			d.Vp9ProbabilityCounterStreamoutOffset = (idx*sizes.CounterBuffer + cl - 1) / cl

			cuLevelStreamoutOffset += d.MinCbCount()
			sliceSizeStreamoutOffset += d.MinCbCount()
			bitstreamByteOffset += bitstreamSizePerTile
			numLcusBefore += numLcu
		}

		out[i] = d
	}
	return out
}
