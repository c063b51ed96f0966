package vdenc

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/vdenc/internal/cmdbuf"
	"github.com/gogpu/vdenc/internal/hw"
	"github.com/gogpu/vdenc/internal/metrics"
)

// Command buffer capacities of BuildPass.
const (
	prologBufferSize = 1 << 10
	pipeBufferSize   = 32 << 10
)

var tracer = otel.Tracer("github.com/gogpu/vdenc")

// PassCommands are the command buffers of one rate-control pass. The
// pipe buffers are submitted together, one per VDBOX; Prolog, when
// present, runs before them on the first pipe.
type PassCommands struct {
	Pass          int
	RecycledIndex int

	// Prolog holds the firmware authentication check, or is nil.
	Prolog *CommandBuffer

	// Pipes holds one finished buffer per pipe, indexed by pipe.
	Pipes []*CommandBuffer

	// PicState is the picture state batch buffer every pipe starts.
	PicState       *Resource
	PicStateLayout PicStateLayout

	// Patches are the addresses to write before submission.
	Patches []AddressPatch
}

// Size returns the number of command bytes in the pass.
func (c *PassCommands) Size() int {
	n := c.Prolog.Offset()
	for _, b := range c.Pipes {
		n += b.Offset()
	}
	return n
}

// BuildPass builds the command buffers of every pipe for one pass of the
// current frame. Pipes are built concurrently. The picture state batch
// buffer is written once and started by every pipe.
func (e *Encoder) BuildPass(ctx context.Context, pass int) (_ *PassCommands, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "vdenc.BuildPass",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("vdenc.encoder", e.id.String()),
			attribute.Int("vdenc.pass", pass),
			attribute.Int("vdenc.pipes", e.cfg.NumPipes),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RecordError(errorKind(err))
		}
		span.End()
	}()

	if err := e.ready(); err != nil {
		return nil, err
	}
	first, err := e.PassContext(0, pass)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("vdenc.recycled_set", first.RecycledIndex),
		attribute.Int("vdenc.tiles", len(e.coding)),
	)

	out := &PassCommands{
		Pass:          pass,
		RecycledIndex: first.RecycledIndex,
		Pipes:         make([]*CommandBuffer, e.cfg.NumPipes),
		PicState:      e.res.picState[first.RecycledIndex][pass],
	}

	if first.IsFirstPass() {
		if e.cfg.HucAuthCheck && !e.hucAuthed {
			prolog, err := e.buildProlog()
			if err != nil {
				return nil, err
			}
			out.Prolog = prolog
		}
		if err := e.SetupSegmentationStreamIn(); err != nil {
			return nil, err
		}
	}

	if err := e.ConstructPicStateBatchBuf(out.PicState, first); err != nil {
		return nil, err
	}
	out.PicStateLayout = e.picLayout
	e.takePatches()

	g, gctx := errgroup.WithContext(ctx)
	for p := range e.cfg.NumPipes {
		pc, err := e.PassContext(p, pass)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			cmd, err := e.buildPipe(gctx, pc, out.PicState)
			if err != nil {
				return err
			}
			out.Pipes[p] = cmd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.takePatches()
		return nil, err
	}
	out.Patches = e.takePatches()
	if out.Prolog != nil {
		e.hucAuthScheduled()
	}

	for _, b := range append([]*CommandBuffer{out.Prolog}, out.Pipes...) {
		if b != nil {
			metrics.RecordCommands(hw.Opcodes(b), hw.Opcode.String, b.Offset())
		}
	}
	elapsed := time.Since(start)
	metrics.ObservePassBuild(e.cfg.NumPipes, elapsed)
	Logger().Debug("vdenc: pass built",
		"encoder", e.id,
		"frame", e.frameNum-1,
		"pass", pass,
		"pipes", e.cfg.NumPipes,
		"bytes", out.Size(),
		"patches", len(out.Patches),
		"elapsed", elapsed)
	return out, nil
}

// buildProlog builds the authentication check buffer of a frame. The
// check counts as scheduled only once the whole pass is built.
func (e *Encoder) buildProlog() (*CommandBuffer, error) {
	cmd := cmdbuf.New("prolog", prologBufferSize)
	if err := e.checkHucLoadStatus(cmd); err != nil {
		return nil, err
	}
	if err := e.hw.AddMiBatchBufferEnd(cmd); err != nil {
		return nil, classify(err)
	}
	if err := cmd.Finish(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// buildPipe builds the command buffer of one pipe.
func (e *Encoder) buildPipe(ctx context.Context, pc PassContext, picState *Resource) (_ *CommandBuffer, err error) {
	_, span := tracer.Start(ctx, "vdenc.BuildPipe",
		trace.WithAttributes(
			attribute.Int("vdenc.pipe", pc.Pipe),
			attribute.Int("vdenc.pass", pc.Pass),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := cmdbuf.New("pipe"+strconv.Itoa(pc.Pipe)+"-pass"+strconv.Itoa(pc.Pass), pipeBufferSize)
	if err := e.syncPass(cmd, pc); err != nil {
		return nil, fmt.Errorf("vdenc: pipe %d: %w", pc.Pipe, err)
	}
	err = e.hw.AddMiBatchBufferStart(cmd, hw.BatchBufferStartParams{Target: picState, SecondLevel: true})
	if err != nil {
		return nil, fmt.Errorf("vdenc: pipe %d: %w", pc.Pipe, classify(err))
	}
	if err := e.ExecuteTileLevel(cmd, pc); err != nil {
		return nil, fmt.Errorf("vdenc: pipe %d: %w", pc.Pipe, err)
	}
	if err := e.hw.AddMiBatchBufferEnd(cmd); err != nil {
		return nil, fmt.Errorf("vdenc: pipe %d: %w", pc.Pipe, classify(err))
	}
	if err := cmd.Finish(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("vdenc.bytes", cmd.Offset()))
	return cmd, nil
}
