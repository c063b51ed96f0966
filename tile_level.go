package vdenc

import (
	"fmt"

	"github.com/gogpu/vdenc/internal/hw"
	"github.com/gogpu/vdenc/internal/pipe"
	"github.com/gogpu/vdenc/internal/tile"
)

// SetTileCommands appends the coding commands of every tile the pipe of
// ctx owns, in tile index order. In scalable mode each tile is bracketed
// by a pipe lock and unlock. On error the buffer must be discarded.
func (e *Encoder) SetTileCommands(cmd *CommandBuffer, ctx PassContext) error {
	if cmd == nil {
		return fmt.Errorf("%w: tile command buffer", ErrNullResource)
	}
	if err := e.checkContext(ctx); err != nil {
		return err
	}

	flush := hw.VdPipelineFlushParams{
		WaitDoneMFX:            !(e.pic.LastPicInStream || e.pic.LastPicInSequence),
		WaitDoneVDENC:          true,
		WaitDoneVDCmdMsgParser: true,
		FlushVDENC:             true,
		FlushHEVC:              true,
	}
	for _, d := range e.coding {
		if !ctx.Owns(d.Tile) {
			continue
		}
		if err := e.addTileCommands(cmd, ctx, d, flush); err != nil {
			return fmt.Errorf("vdenc: tile %d: %w", d.Tile.Index, classify(err))
		}
	}
	return nil
}

func (e *Encoder) addTileCommands(cmd *CommandBuffer, ctx PassContext, d tile.CodingData, flush hw.VdPipelineFlushParams) error {
	scalable := ctx.Scalable()
	if scalable {
		if err := e.hw.AddMiVdControlState(cmd, hw.VdControlStateParams{PipeLock: true}); err != nil {
			return err
		}
	}
	if err := e.hw.AddHcpTileCoding(cmd, hw.TileCodingParams{Data: d}); err != nil {
		return err
	}
	if err := e.hw.AddVdencWeightsOffsetsState(cmd, hw.WeightsOffsetsParams{}); err != nil {
		return err
	}

	count, err := pipe.CountFor(ctx.NumPipes)
	if err != nil {
		return invalidParam(err)
	}
	walker := hw.WalkerStateParams{
		Data:           d,
		TileID:         d.Tile.Index,
		PipeCount:      count,
		StreamInEnable: e.streamIn,
	}
	if err := e.hw.AddVdencVp9TileSliceState(cmd, walker); err != nil {
		return err
	}
	if err := e.hw.AddVdencWalkerState(cmd, walker); err != nil {
		return err
	}

	if scalable {
		if err := e.hw.AddMiVdControlState(cmd, hw.VdControlStateParams{PipeUnlock: true}); err != nil {
			return err
		}
	}
	if err := e.hw.AddVdPipelineFlush(cmd, flush); err != nil {
		return err
	}
	return e.hw.AddMiFlushDw(cmd, hw.FlushDwParams{VideoPipelineCacheInvalidate: true})
}

// ExecuteTileLevel appends the tile commands of one pipe followed by the
// pipe barrier. Every pipe signals its stitch semaphore with pass+1; the
// first pipe waits for the others and then runs the HuC PAK integration,
// releasing the next pass of every pipe once the firmware is done.
func (e *Encoder) ExecuteTileLevel(cmd *CommandBuffer, ctx PassContext) error {
	if err := e.SetTileCommands(cmd, ctx); err != nil {
		return err
	}
	r := e.res
	done := uint32(ctx.Pass + 1)

	err := e.hw.AddMiFlushDw(cmd, hw.FlushDwParams{
		VideoPipelineCacheInvalidate: true,
		PostSync:                     r.stitchWait[ctx.Pipe],
		PostSyncData:                 done,
	})
	if err != nil {
		return classify(err)
	}

	if ctx.IsFirstPipe() && e.integrationEnabled(ctx) {
		for p := 1; p < ctx.NumPipes; p++ {
			err := e.hw.AddMiSemaphoreWait(cmd, hw.SemaphoreWaitParams{
				Semaphore: r.stitchWait[p],
				Value:     done,
				Compare:   hw.CompareSADEqualIDD,
			})
			if err != nil {
				return classify(err)
			}
		}
	}

	if ctx.IsFirstPipe() && e.integrationEnabled(ctx) {
		if err := e.HuCVp9PakInt(cmd, ctx); err != nil {
			return err
		}
		if err := e.signalHucDone(cmd, ctx); err != nil {
			return err
		}
	}

	return classify(e.hw.AddMiFlushDw(cmd, hw.FlushDwParams{}))
}

// syncPass starts a pipe's pass. The first pass clears the semaphores the
// pipe signals or waits on; later passes wait until the firmware run of
// the previous pass has finished.
func (e *Encoder) syncPass(cmd *CommandBuffer, ctx PassContext) error {
	r := e.res
	integrate := e.integrationEnabled(ctx)

	if ctx.IsFirstPass() {
		cells := []*Resource{r.stitchWait[ctx.Pipe]}
		if integrate {
			cells = append(cells, r.hucDone[ctx.Pipe])
			if ctx.IsFirstPipe() {
				cells = append(cells, r.pakIntDone)
			}
		}
		for _, c := range cells {
			if err := e.hw.AddMiStoreDataImm(cmd, hw.StoreDataParams{Dest: c}); err != nil {
				return classify(err)
			}
		}
		return nil
	}
	if !integrate {
		return nil
	}

	sem := r.hucDone[ctx.Pipe]
	if ctx.IsFirstPipe() {
		sem = r.pakIntDone
	}
	return classify(e.hw.AddMiSemaphoreWait(cmd, hw.SemaphoreWaitParams{
		Semaphore: sem,
		Value:     uint32(ctx.Pass),
		Compare:   hw.CompareSADEqualIDD,
	}))
}

// signalHucDone releases the next pass of every pipe.
func (e *Encoder) signalHucDone(cmd *CommandBuffer, ctx PassContext) error {
	r := e.res
	done := uint32(ctx.Pass + 1)
	err := e.hw.AddMiStoreDataImm(cmd, hw.StoreDataParams{Dest: r.pakIntDone, Value: done})
	if err != nil {
		return classify(err)
	}
	for p := 1; p < ctx.NumPipes; p++ {
		err := e.hw.AddMiStoreDataImm(cmd, hw.StoreDataParams{Dest: r.hucDone[p], Value: done})
		if err != nil {
			return classify(err)
		}
	}
	return nil
}
