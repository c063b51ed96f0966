package tile

// segmentBlockSize is the granularity of segmentation stream-in records.
const segmentBlockSize = 32

// SegmentLUT maps stream-in record order to raster 32x32 block indices.
//
// Stream-in records are ordered tile by tile in raster tile order, and
// inside a tile by super block with the four 32x32 blocks of a super block
// stored as top-left, top-right, bottom-left, bottom-right. Entry i of the
// table is the raster index, in the 64-aligned frame grid of 32x32 blocks,
// of the block described by stream-in record i.
//
// Blocks of the padding area past a non 64-aligned picture edge point at
// their nearest block inside the picture.
type SegmentLUT struct {
	width, height      int
	log2Cols, log2Rows int
	valid              bool

	widthIn32  int
	heightIn32 int
	index      []uint32
}

// Update rebuilds the table if the frame size or tile geometry of m
// differs from the last build. It reports whether a rebuild happened.
func (l *SegmentLUT) Update(m *Map) bool {
	if l.valid && l.width == m.width && l.height == m.height &&
		l.log2Cols == m.log2Cols && l.log2Rows == m.log2Rows {
		return false
	}

	l.width = m.width
	l.height = m.height
	l.log2Cols = m.log2Cols
	l.log2Rows = m.log2Rows
	l.widthIn32 = alignUp(m.width, SuperBlockSize) / segmentBlockSize
	l.heightIn32 = alignUp(m.height, SuperBlockSize) / segmentBlockSize
	l.index = make([]uint32, l.widthIn32*l.heightIn32)

	rasterized := 0
	for _, t := range m.tiles {
		rasterized += l.rasterizeTile(t, rasterized)
	}
	l.valid = true
	return true
}

// rasterizeTile fills the entries of tile t starting at base and returns
// the number of entries written.
func (l *SegmentLUT) rasterizeTile(t Tile, base int) int {
	aw := alignUp(t.Width, SuperBlockSize) / segmentBlockSize
	ah := alignUp(t.Height, SuperBlockSize) / segmentBlockSize
	n := aw * ah

	// Raster order inside the tile.
	raster := make([]uint32, 0, n)
	startX := t.X / segmentBlockSize
	startY := t.Y / segmentBlockSize
	for y := range ah {
		for x := range aw {
			raster = append(raster, uint32((startY+y)*l.widthIn32+startX+x))
		}
	}

	// Two raster rows form one super block row: top halves go to slots
	// 0,1 of each group of four, bottom halves to slots 2,3.
	m := l.index[base : base+n]
	k := 0
	for i := 0; i < n; i += 2 * aw {
		for j := i; j < i+2*aw; j += 4 {
			m[j] = raster[k]
			m[j+1] = raster[k+1]
			k += 2
		}
		for j := i + 2; j < i+2*aw; j += 4 {
			m[j] = raster[k]
			m[j+1] = raster[k+1]
			k += 2
		}
	}

	// Replicate the last column into the padding column.
	if ceilDiv(t.Width, segmentBlockSize) != aw {
		for i := 2*aw - 3; i < n; i += 2 * aw {
			m[i] = m[i-1]
			m[i+2] = m[i+1]
		}
	}

	// Replicate the last row into the padding row.
	if ceilDiv(t.Height, segmentBlockSize) != ah {
		for i := n - 2*aw + 2; i < n; i += 4 {
			m[i] = m[i-2]
			m[i+1] = m[i-1]
		}
	}
	return n
}

// Len returns the number of stream-in records (32x32 blocks of the
// 64-aligned frame).
func (l *SegmentLUT) Len() int { return len(l.index) }

// WidthIn32 returns the 64-aligned frame width in 32x32 blocks.
func (l *SegmentLUT) WidthIn32() int { return l.widthIn32 }

// HeightIn32 returns the 64-aligned frame height in 32x32 blocks.
func (l *SegmentLUT) HeightIn32() int { return l.heightIn32 }

// At returns the raster block index of stream-in record i.
func (l *SegmentLUT) At(i int) uint32 { return l.index[i] }

// Index returns the whole table. The slice must not be modified.
func (l *SegmentLUT) Index() []uint32 { return l.index }
