// Package pipe maps encode passes and tiles to hardware pipes.
//
// A single monotonically increasing pass index drives both the pipe and
// the rate-control pass: in scalable mode consecutive indices rotate over
// the pipes before the pass advances. Everything here is a pure function
// of its inputs; PassContext and PipeState are immutable values built once
// per iteration.
package pipe

import (
	"errors"
	"fmt"

	"github.com/gogpu/vdenc/internal/tile"
)

// MaxPipes is the largest pipe count a VP9 frame can be split across.
const MaxPipes = 4

// Pipe errors.
var (
	// ErrInvalidPipeCount is returned for pipe counts outside {1, 2, 4}.
	ErrInvalidPipeCount = errors.New("pipe: invalid pipe count")

	// ErrInvalidPass is returned for negative indices or pass counts.
	ErrInvalidPass = errors.New("pipe: invalid pass")

	// ErrUnevenColumns is returned when tile columns cannot be split evenly.
	ErrUnevenColumns = errors.New("pipe: tile columns do not divide evenly among pipes")
)

// Count is the pipe-count value carried by the walker state command.
type Count int

const (
	// CountSingle is one pipe.
	CountSingle Count = iota
	// CountTwo is two pipes.
	CountTwo
	// CountInvalid is an unsupported pipe count.
	CountInvalid
	// CountFour is four pipes.
	CountFour
)

// String returns the string representation of Count.
func (c Count) String() string {
	switch c {
	case CountSingle:
		return "Single"
	case CountTwo:
		return "Two"
	case CountInvalid:
		return "Invalid"
	case CountFour:
		return "Four"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// CountFor resolves n pipes to its Count. Zero is treated as one pipe.
// Any value other than 0, 1, 2 or 4 returns CountInvalid and
// ErrInvalidPipeCount.
func CountFor(n int) (Count, error) {
	switch n {
	case 0, 1:
		return CountSingle, nil
	case 2:
		return CountTwo, nil
	case 4:
		return CountFour, nil
	default:
		return CountInvalid, fmt.Errorf("%w: %d", ErrInvalidPipeCount, n)
	}
}

// Validate checks that n is a supported pipe count.
func Validate(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPipeCount, n)
	}
	_, err := CountFor(n)
	return err
}

// PassContext identifies one (pipe, pass) step of a frame.
type PassContext struct {
	// Index is the combined pipe/pass counter.
	Index int

	// Pipe is the pipe this step runs on.
	Pipe int

	// Pass is the rate-control pass, 0-based.
	Pass int

	NumPipes  int
	NumPasses int

	// RecycledIndex selects the recycled buffer set of the frame.
	RecycledIndex int
}

// Resolve builds the PassContext of a combined index.
func Resolve(index, numPipes, numPasses, recycledIndex int) (PassContext, error) {
	if err := Validate(numPipes); err != nil {
		return PassContext{}, err
	}
	if index < 0 || numPasses < 1 || recycledIndex < 0 {
		return PassContext{}, fmt.Errorf("%w: index %d passes %d recycled %d",
			ErrInvalidPass, index, numPasses, recycledIndex)
	}
	ctx := PassContext{
		Index:         index,
		Pass:          index,
		NumPipes:      numPipes,
		NumPasses:     numPasses,
		RecycledIndex: recycledIndex,
	}
	if numPipes > 1 {
		ctx.Pipe = index % numPipes
		ctx.Pass = index / numPipes
	}
	if ctx.Pass >= numPasses {
		return PassContext{}, fmt.Errorf("%w: pass %d of %d", ErrInvalidPass, ctx.Pass, numPasses)
	}
	return ctx, nil
}

// For builds the PassContext of an explicit (pipe, pass) pair.
func For(pipeID, pass, numPipes, numPasses, recycledIndex int) (PassContext, error) {
	if err := Validate(numPipes); err != nil {
		return PassContext{}, err
	}
	if pipeID < 0 || pipeID >= numPipes {
		return PassContext{}, fmt.Errorf("%w: pipe %d of %d", ErrInvalidPass, pipeID, numPipes)
	}
	index := pass
	if numPipes > 1 {
		index = pass*numPipes + pipeID
	}
	return Resolve(index, numPipes, numPasses, recycledIndex)
}

// Scalable reports whether the frame is split across pipes.
func (c PassContext) Scalable() bool { return c.NumPipes > 1 }

// IsFirstPipe reports whether this step runs on pipe 0.
func (c PassContext) IsFirstPipe() bool { return c.Pipe == 0 }

// IsLastPipe reports whether this step runs on the last pipe.
func (c PassContext) IsLastPipe() bool { return c.Pipe == c.NumPipes-1 }

// IsFirstPass reports whether this is the first rate-control pass.
func (c PassContext) IsFirstPass() bool { return c.Pass == 0 }

// IsLastPass reports whether this is the last rate-control pass.
func (c PassContext) IsLastPass() bool { return c.Pass == c.NumPasses-1 }

// String returns a short description for logs.
func (c PassContext) String() string {
	return fmt.Sprintf("Pass[%d pipe %d/%d pass %d/%d set %d]",
		c.Index, c.Pipe, c.NumPipes, c.Pass, c.NumPasses, c.RecycledIndex)
}

// Owns reports whether the step's pipe encodes tile t. Without
// scalability pipe 0 owns every tile; otherwise pipes own whole tile
// columns, column c going to pipe c mod numPipes.
func (c PassContext) Owns(t tile.Tile) bool {
	if !c.Scalable() {
		return true
	}
	return t.Col%c.NumPipes == c.Pipe
}

// PipeState is the work of one pipe for a pass.
type PipeState struct {
	// ID is the pipe index.
	ID int

	// Tiles are the raster indices of the owned tiles, in encode order.
	Tiles []int

	// Scalable is true when the frame is split across pipes.
	Scalable bool
}

// Assign splits the tiles of m across numPipes pipes. Scalable mode
// requires the tile column count to be a multiple of numPipes so that
// every pipe owns the same number of tiles.
func Assign(numPipes int, m *tile.Map) ([]PipeState, error) {
	if err := Validate(numPipes); err != nil {
		return nil, err
	}
	if numPipes > 1 && m.NumCols()%numPipes != 0 {
		return nil, fmt.Errorf("%w: %d columns, %d pipes", ErrUnevenColumns, m.NumCols(), numPipes)
	}

	states := make([]PipeState, numPipes)
	for p := range states {
		states[p] = PipeState{
			ID:       p,
			Tiles:    make([]int, 0, m.NumTiles()/numPipes),
			Scalable: numPipes > 1,
		}
	}
	for _, t := range m.Tiles() {
		p := 0
		if numPipes > 1 {
			p = t.Col % numPipes
		}
		states[p].Tiles = append(states[p].Tiles, t.Index)
	}
	return states, nil
}
