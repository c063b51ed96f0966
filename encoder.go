package vdenc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gogpu/vdenc/internal/hw"
	"github.com/gogpu/vdenc/internal/metrics"
	"github.com/gogpu/vdenc/internal/pipe"
	"github.com/gogpu/vdenc/internal/stats"
	"github.com/gogpu/vdenc/internal/tile"
)

// maxPictureSize is the largest VP9 frame edge the hardware encodes.
const maxPictureSize = 16384

var (
	errNoSequence = errors.New("sequence parameters not set")
	errNoPicture  = errors.New("picture parameters not set")
)

// Encoder orchestrates the command buffers of a scalable VP9 encode.
//
// The encoder is driven one frame at a time: SetSequenceStructs once per
// sequence, AllocateResources once, then SetPictureStructs and one
// BuildPass per rate-control pass for every frame. The individual steps
// (SetTileCommands, HuCVp9PakInt, ConstructPicStateBatchBuf, ...) are
// exported for drivers that assemble their own command buffers.
//
// Frame-level calls must not overlap. Per-pipe steps of one pass may run
// concurrently, as BuildPass does.
type Encoder struct {
	id     uuid.UUID
	cfg    Config
	alloc  *Allocator
	hw     Emitter
	layout *stats.Layout

	seq         SeqParams
	seqSet      bool
	targetUsage int

	pic       PicParams
	picSet    bool
	tiles     *tile.Map
	coding    []tile.CodingData
	pipes     []pipe.PipeState
	lut       tile.SegmentLUT
	streamIn  bool
	frameNum  uint64
	recycled  int
	hucAuthed bool
	picLayout PicStateLayout

	res *resources

	mu      sync.Mutex
	patches []AddressPatch
}

// New creates an encoder that allocates from alloc and encodes commands
// with emitter.
func New(alloc *Allocator, emitter Emitter, opts ...Option) (*Encoder, error) {
	if alloc == nil {
		return nil, fmt.Errorf("%w: nil allocator", ErrNullResource)
	}
	if emitter == nil {
		return nil, fmt.Errorf("%w: nil command emitter", ErrInvalidParameter)
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	layout, err := stats.NewLayout(emitter.RecordSizes(), cfg.MaxTiles)
	if err != nil {
		return nil, invalidParam(err)
	}
	e := &Encoder{
		id:     uuid.New(),
		cfg:    cfg,
		alloc:  alloc,
		hw:     emitter,
		layout: layout,
	}
	Logger().Debug("vdenc: encoder created",
		"encoder", e.id,
		"generation", emitter.Name(),
		"pipes", cfg.NumPipes,
		"max_passes", cfg.MaxPasses,
		"recycled_sets", cfg.RecycledSets)
	return e, nil
}

// ID returns the encoder instance id used in logs and traces.
func (e *Encoder) ID() uuid.UUID { return e.id }

// Config returns the effective configuration.
func (e *Encoder) Config() Config { return e.cfg }

// TargetUsage returns the tiered target usage, or 0 before
// SetSequenceStructs.
func (e *Encoder) TargetUsage() int { return e.targetUsage }

// RecycledIndex returns the buffer set of the current frame.
func (e *Encoder) RecycledIndex() int { return e.recycled }

// Tiles returns the tile layout of the current frame.
func (e *Encoder) Tiles() []tile.Tile {
	if e.tiles == nil {
		return nil
	}
	return e.tiles.Tiles()
}

// NumPasses returns the number of rate-control passes of a frame.
func (e *Encoder) NumPasses() int {
	if e.seq.BrcEnabled {
		return e.cfg.MaxPasses
	}
	return 1
}

// tieredTargetUsage maps the 1..7 knob onto the presets 2, 4 and 7.
func tieredTargetUsage(tu int) int {
	switch tu {
	case 1, 2:
		return 2
	case 3, 4, 5:
		return 4
	case 6, 7:
		return 7
	default:
		return 4
	}
}

// SetSequenceStructs records the sequence parameters and applies target
// usage tiering.
func (e *Encoder) SetSequenceStructs(seq SeqParams) error {
	if seq.MaxWidth <= 0 || seq.MaxHeight <= 0 ||
		seq.MaxWidth > maxPictureSize || seq.MaxHeight > maxPictureSize {
		return fmt.Errorf("%w: max frame size %dx%d", ErrInvalidParameter, seq.MaxWidth, seq.MaxHeight)
	}
	if seq.MinBitRateKbps > seq.MaxBitRateKbps && seq.MaxBitRateKbps != 0 {
		return fmt.Errorf("%w: min bitrate %d above max %d", ErrInvalidParameter, seq.MinBitRateKbps, seq.MaxBitRateKbps)
	}
	if e.res != nil && (seq.MaxWidth > e.res.maxWidth || seq.MaxHeight > e.res.maxHeight) {
		return fmt.Errorf("%w: %dx%d exceeds allocated %dx%d", ErrInvalidParameter,
			seq.MaxWidth, seq.MaxHeight, e.res.maxWidth, e.res.maxHeight)
	}
	e.seq = seq
	e.seqSet = true
	e.targetUsage = tieredTargetUsage(seq.TargetUsage)
	Logger().Debug("vdenc: sequence set",
		"encoder", e.id,
		"max_width", seq.MaxWidth,
		"max_height", seq.MaxHeight,
		"target_usage", seq.TargetUsage,
		"tiered", e.targetUsage)
	return nil
}

// SetPictureStructs prepares the tile layout of the next frame, splits it
// across the pipes and advances the recycled buffer set. On failure the
// frame cannot be built until a valid picture is set.
func (e *Encoder) SetPictureStructs(p PicParams) error {
	e.picSet = false
	if !e.seqSet {
		return invalidParam(errNoSequence)
	}
	if p.Width <= 0 || p.Height <= 0 || p.Width > e.seq.MaxWidth || p.Height > e.seq.MaxHeight {
		return fmt.Errorf("%w: frame %dx%d outside sequence maximum %dx%d",
			ErrInvalidParameter, p.Width, p.Height, e.seq.MaxWidth, e.seq.MaxHeight)
	}
	if p.Log2TileCols > 0 && !e.cfg.TilingSupported {
		return fmt.Errorf("%w: %d tile columns without tiling support", ErrInvalidParameter, 1<<p.Log2TileCols)
	}
	if p.SegmentMap != nil && p.SegmentMap.Pitch <= 0 {
		return fmt.Errorf("%w: segment map pitch %d", ErrInvalidParameter, p.SegmentMap.Pitch)
	}

	if e.tiles == nil {
		m, err := tile.NewMap(p.Width, p.Height, p.Log2TileCols, p.Log2TileRows, tile.Limits{MaxTiles: e.cfg.MaxTiles})
		if err != nil {
			return invalidParam(err)
		}
		e.tiles = m
	} else if _, err := e.tiles.Resize(p.Width, p.Height, p.Log2TileCols, p.Log2TileRows); err != nil {
		return invalidParam(err)
	}

	pipes, err := pipe.Assign(e.cfg.NumPipes, e.tiles)
	if err != nil {
		return invalidParam(err)
	}

	bound := p.BitstreamUpperBound
	if bound == 0 {
		bound = uint32(p.Width * p.Height * 3 / 2)
	}
	e.coding = e.tiles.CodingData(e.cfg.NumPipes, e.hw.RecordSizes(), bound)
	e.pipes = pipes
	if p.SegmentMap != nil {
		e.lut.Update(e.tiles)
	}

	e.pic = p
	e.picSet = true
	e.recycled = int(e.frameNum % uint64(e.cfg.RecycledSets))
	e.frameNum++
	e.streamIn = false

	metrics.RecordFrame(p.FrameType.String())
	Logger().Debug("vdenc: picture set",
		"encoder", e.id,
		"frame", e.frameNum-1,
		"type", p.FrameType,
		"width", p.Width,
		"height", p.Height,
		"tiles", e.tiles.NumTiles(),
		"recycled_set", e.recycled)
	return nil
}

// PassContext returns the context of pipe pipeID in the given pass of
// the current frame.
func (e *Encoder) PassContext(pipeID, pass int) (PassContext, error) {
	ctx, err := pipe.For(pipeID, pass, e.cfg.NumPipes, e.NumPasses(), e.recycled)
	if err != nil {
		return PassContext{}, invalidParam(err)
	}
	return ctx, nil
}

// ready checks that a frame can be built.
func (e *Encoder) ready() error {
	if !e.picSet {
		return invalidParam(errNoPicture)
	}
	if e.res == nil {
		return fmt.Errorf("%w: resources not allocated", ErrNullResource)
	}
	return nil
}

// checkContext verifies that ctx belongs to the current frame.
func (e *Encoder) checkContext(ctx PassContext) error {
	if err := e.ready(); err != nil {
		return err
	}
	if ctx.NumPipes != e.cfg.NumPipes || ctx.RecycledIndex != e.recycled ||
		ctx.Pass < 0 || ctx.Pass >= e.NumPasses() || ctx.Pipe < 0 || ctx.Pipe >= ctx.NumPipes {
		return fmt.Errorf("%w: stale pass context %v", ErrInvalidParameter, ctx)
	}
	return nil
}

// integrationEnabled reports whether the HuC integrates the statistics
// of the pipes after each pass.
func (e *Encoder) integrationEnabled(ctx PassContext) bool {
	return ctx.Scalable() && e.cfg.HucEnabled && e.cfg.TilingSupported
}

// picParams returns the picture state inputs of a pass.
func (e *Encoder) picParams(ctx PassContext) hw.PicParams {
	return hw.PicParams{
		Width:               e.pic.Width,
		Height:              e.pic.Height,
		FrameType:           e.pic.FrameType,
		TargetUsage:         e.targetUsage,
		BaseQIndex:          e.pic.BaseQIndex,
		Log2TileCols:        e.pic.Log2TileCols,
		Log2TileRows:        e.pic.Log2TileRows,
		SegmentationEnabled: e.pic.SegmentationEnabled,
		NonFirstPass:        !ctx.IsFirstPass(),
		SSEEnable:           e.seq.BrcEnabled,
		MaxBitRateKbps:      e.seq.MaxBitRateKbps,
		MinBitRateKbps:      e.seq.MinBitRateKbps,
	}
}

// Close frees the encoder resources.
func (e *Encoder) Close() error {
	e.FreeResources()
	return nil
}
