package tile

import "fmt"

// Map is the tile partition of one picture.
//
// Thread safety: Map is NOT thread-safe. The encoder rebuilds it between
// frames; readers only see it while no rebuild is in progress.
type Map struct {
	width, height      int
	log2Cols, log2Rows int
	lim                Limits

	picWidthInSb  int
	picHeightInSb int

	// tiles is a flat slice of all tiles (row-major order).
	tiles []Tile
}

// NewMap creates the tile map of a width x height picture with
// 2^log2Cols tile columns and 2^log2Rows tile rows.
func NewMap(width, height, log2Cols, log2Rows int, lim Limits) (*Map, error) {
	m := &Map{lim: lim}
	if _, err := m.Resize(width, height, log2Cols, log2Rows); err != nil {
		return nil, err
	}
	return m, nil
}

// Resize recomputes the partition. If nothing changed, this is a no-op and
// rebuilt is false. On error the previous partition is kept.
func (m *Map) Resize(width, height, log2Cols, log2Rows int) (rebuilt bool, err error) {
	if m.tiles != nil && m.width == width && m.height == height &&
		m.log2Cols == log2Cols && m.log2Rows == log2Rows {
		return false, nil
	}
	if err := validate(width, height, log2Cols, log2Rows, m.lim); err != nil {
		return false, err
	}

	m.width = width
	m.height = height
	m.log2Cols = log2Cols
	m.log2Rows = log2Rows
	m.picWidthInSb = ceilDiv(width, SuperBlockSize)
	m.picHeightInSb = ceilDiv(height, SuperBlockSize)
	m.allocateTiles()
	return true, nil
}

func validate(width, height, log2Cols, log2Rows int, lim Limits) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidPictureSize, width, height)
	}
	if log2Cols < 0 || log2Rows < 0 || log2Cols > MaxLog2TileCols {
		return fmt.Errorf("%w: log2 cols %d rows %d", ErrInvalidTileConfig, log2Cols, log2Rows)
	}
	cols := 1 << log2Cols
	rows := 1 << log2Rows
	if rows > MaxTileRows {
		return fmt.Errorf("%w: %d tile rows (max %d)", ErrInvalidTileConfig, rows, MaxTileRows)
	}
	if cols > 1 && width < cols*MinTileWidth {
		return fmt.Errorf("%w: %d tile columns need width >= %d, have %d",
			ErrInvalidTileConfig, cols, cols*MinTileWidth, width)
	}
	if rows > ceilDiv(height, SuperBlockSize) {
		return fmt.Errorf("%w: %d tile rows for %d super block rows",
			ErrInvalidTileConfig, rows, ceilDiv(height, SuperBlockSize))
	}
	n := cols * rows
	if n > ceilDiv(width, MinTileWidth)*ceilDiv(height, MinTileWidth) {
		return fmt.Errorf("%w: %d tiles for %dx%d", ErrTooManyTiles, n, width, height)
	}
	if lim.MaxTiles > 0 && n > lim.MaxTiles {
		return fmt.Errorf("%w: %d tiles (platform max %d)", ErrTooManyTiles, n, lim.MaxTiles)
	}
	return nil
}

// allocateTiles computes every tile rectangle in raster order.
func (m *Map) allocateTiles() {
	cols := m.NumCols()
	rows := m.NumRows()
	m.tiles = make([]Tile, 0, cols*rows)

	for row := range rows {
		lastRow := row == rows-1
		sbY := (row * m.picHeightInSb) >> m.log2Rows
		endSbY := ((row + 1) * m.picHeightInSb) >> m.log2Rows
		if lastRow {
			endSbY = m.picHeightInSb
		}
		y := sbY * SuperBlockSize
		h := (endSbY - sbY) * SuperBlockSize
		if lastRow {
			h = m.height - y
		}

		for col := range cols {
			lastCol := col == cols-1
			sbX := (col * m.picWidthInSb) >> m.log2Cols
			endSbX := ((col + 1) * m.picWidthInSb) >> m.log2Cols
			if lastCol {
				endSbX = m.picWidthInSb
			}
			x := sbX * SuperBlockSize
			w := (endSbX - sbX) * SuperBlockSize
			if lastCol {
				w = m.width - x
			}

			m.tiles = append(m.tiles, Tile{
				Index:    row*cols + col,
				Col:      col,
				Row:      row,
				X:        x,
				Y:        y,
				Width:    w,
				Height:   h,
				SbX:      sbX,
				SbY:      sbY,
				SbWidth:  endSbX - sbX,
				SbHeight: endSbY - sbY,
				LastCol:  lastCol,
				LastRow:  lastRow,
			})
		}
	}
}

// Width returns the picture width in pixels.
func (m *Map) Width() int { return m.width }

// Height returns the picture height in pixels.
func (m *Map) Height() int { return m.height }

// Log2Cols returns log2 of the tile column count.
func (m *Map) Log2Cols() int { return m.log2Cols }

// Log2Rows returns log2 of the tile row count.
func (m *Map) Log2Rows() int { return m.log2Rows }

// NumCols returns the number of tile columns.
func (m *Map) NumCols() int { return 1 << m.log2Cols }

// NumRows returns the number of tile rows.
func (m *Map) NumRows() int { return 1 << m.log2Rows }

// NumTiles returns the number of tiles.
func (m *Map) NumTiles() int { return len(m.tiles) }

// PicWidthInSb returns the picture width in super blocks.
func (m *Map) PicWidthInSb() int { return m.picWidthInSb }

// PicHeightInSb returns the picture height in super blocks.
func (m *Map) PicHeightInSb() int { return m.picHeightInSb }

// NumSuperBlocks returns the number of super blocks in the picture.
func (m *Map) NumSuperBlocks() int { return m.picWidthInSb * m.picHeightInSb }

// Tiles returns all tiles in raster order. The slice must not be modified.
func (m *Map) Tiles() []Tile { return m.tiles }

// Tile returns the tile with raster index i.
// Returns false if i is out of range.
func (m *Map) Tile(i int) (Tile, bool) {
	if i < 0 || i >= len(m.tiles) {
		return Tile{}, false
	}
	return m.tiles[i], true
}

// At returns the tile at (col, row).
// Returns false if the coordinates are out of range.
func (m *Map) At(col, row int) (Tile, bool) {
	if col < 0 || col >= m.NumCols() || row < 0 || row >= m.NumRows() {
		return Tile{}, false
	}
	return m.tiles[row*m.NumCols()+col], true
}

// Last returns the last tile in raster order.
func (m *Map) Last() Tile {
	return m.tiles[len(m.tiles)-1]
}

// TileAtPixel returns the tile containing pixel (px, py).
// Returns false if the pixel is outside the picture.
func (m *Map) TileAtPixel(px, py int) (Tile, bool) {
	if px < 0 || px >= m.width || py < 0 || py >= m.height {
		return Tile{}, false
	}
	for _, t := range m.tiles {
		if t.Contains(px, py) {
			return t, true
		}
	}
	return Tile{}, false
}
