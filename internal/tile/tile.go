// Package tile partitions a VP9 picture into tiles.
//
// VP9 tiles are laid out on the 64x64 super block grid: the super block
// columns are divided among 2^log2Cols tile columns and the super block
// rows among 2^log2Rows tile rows by integer proportional division. The
// last tile column and row absorb the non super block aligned remainder of
// the picture.
//
// The package also derives the per-tile hardware coding data and the
// zig-zag to raster lookup table used for segmentation stream-in.
package tile

import (
	"errors"
	"fmt"
)

// VP9 geometry constants.
const (
	// SuperBlockSize is the VP9 super block edge in pixels.
	SuperBlockSize = 64

	// MinBlockSize is the VP9 minimum coding block edge in pixels.
	MinBlockSize = 8

	// MinTileWidth is the VP9 minimum width of a tile column in pixels.
	MinTileWidth = 256

	// MaxTileRows is the VP9 maximum number of tile rows.
	MaxTileRows = 4

	// MaxLog2TileCols is the largest log2 tile column count VP9 allows.
	MaxLog2TileCols = 6
)

// Tile map errors.
var (
	// ErrInvalidTileConfig is returned when the tile geometry is invalid.
	ErrInvalidTileConfig = errors.New("tile: invalid tile configuration")

	// ErrTooManyTiles is returned when the tile count exceeds the platform maximum.
	ErrTooManyTiles = fmt.Errorf("%w: too many tiles", ErrInvalidTileConfig)

	// ErrInvalidPictureSize is returned for non-positive picture dimensions.
	ErrInvalidPictureSize = fmt.Errorf("%w: invalid picture size", ErrInvalidTileConfig)
)

// Limits holds platform tile limits.
type Limits struct {
	// MaxTiles is the platform maximum tile count per frame.
	MaxTiles int
}

// DefaultLimits returns the limits of the modelled platform.
func DefaultLimits() Limits {
	return Limits{MaxTiles: 64}
}

// Tile is one rectangular tile of a picture.
type Tile struct {
	// Index is the raster index (row-major).
	Index int

	// Col and Row are the tile column and row.
	Col, Row int

	// X, Y, Width and Height are the pixel rectangle. X and Y are super
	// block aligned; the last column and row take the remaining pixels.
	X, Y, Width, Height int

	// SbX, SbY, SbWidth and SbHeight are the rectangle in super blocks.
	SbX, SbY, SbWidth, SbHeight int

	// LastCol and LastRow mark the last tile column and row.
	LastCol, LastRow bool
}

// Bounds returns the pixel rectangle as (x, y, width, height).
func (t Tile) Bounds() (x, y, w, h int) {
	return t.X, t.Y, t.Width, t.Height
}

// NumSuperBlocks returns the number of super blocks (LCUs) in the tile.
func (t Tile) NumSuperBlocks() int {
	return t.SbWidth * t.SbHeight
}

// Contains reports whether pixel (px, py) lies inside the tile.
func (t Tile) Contains(px, py int) bool {
	return px >= t.X && px < t.X+t.Width && py >= t.Y && py < t.Y+t.Height
}

// String returns a short description for logs.
func (t Tile) String() string {
	return fmt.Sprintf("Tile[%d (%d,%d) %dx%d@%d,%d]", t.Index, t.Col, t.Row, t.Width, t.Height, t.X, t.Y)
}

// alignUp rounds v up to a multiple of align.
func alignUp(v, align int) int {
	return (v + align - 1) / align * align
}

// ceilDiv returns ceil(a/b) for positive b.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
