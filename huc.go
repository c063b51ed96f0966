package vdenc

import (
	"fmt"

	"github.com/gogpu/vdenc/internal/huc"
	"github.com/gogpu/vdenc/internal/hw"
	"github.com/gogpu/vdenc/internal/metrics"
	"github.com/gogpu/vdenc/internal/resource"
	"github.com/gogpu/vdenc/internal/stats"
)

// hucStatus2ImemLoadedMask is the HUC_STATUS2 bit set once the firmware
// image is loaded.
const hucStatus2ImemLoadedMask = 1 << 6

// AddressPatch is a GPU address the submission layer writes into a
// CPU-built buffer before execution: the 64-bit address of Target plus
// TargetOffset goes to ByteOffset of Buffer.
type AddressPatch struct {
	Buffer       *Resource
	ByteOffset   int
	Target       *Resource
	TargetOffset uint64
}

// HuCVp9PakInt appends the HuC PAK integration run of one pass: the
// firmware integrates the per-pipe tile statistics into frame statistics
// and writes the bitstream stitching commands. Only the first pipe runs
// it; other pipes return immediately.
func (e *Encoder) HuCVp9PakInt(cmd *CommandBuffer, ctx PassContext) error {
	if !ctx.IsFirstPipe() {
		return nil
	}
	if cmd == nil {
		return fmt.Errorf("%w: huc command buffer", ErrNullResource)
	}
	if err := e.checkContext(ctx); err != nil {
		return err
	}
	if err := e.huCVp9PakInt(cmd, ctx); err != nil {
		return fmt.Errorf("vdenc: huc pak integration: %w", classify(err))
	}
	metrics.RecordHucRun("pak_integration")
	return nil
}

func (e *Encoder) huCVp9PakInt(cmd *CommandBuffer, ctx PassContext) error {
	r := e.res
	set, pass := ctx.RecycledIndex, ctx.Pass

	err := e.hw.AddHucImemState(cmd, hw.HucImemStateParams{KernelDescriptor: huc.PakIntegrationKernelDescriptor})
	if err != nil {
		return err
	}
	if err := e.hw.AddHucPipeModeSelect(cmd, hw.HucPipeModeSelectParams{}); err != nil {
		return err
	}

	dmem := r.dmem[set][pass]
	if err := e.setDmemHuCPakInt(dmem, ctx); err != nil {
		return err
	}
	err = e.hw.AddHucDmemState(cmd, hw.HucDmemStateParams{
		Source:     dmem,
		Length:     huc.DmemLength(),
		DmemOffset: huc.DmemOffsetRTOSGems,
	})
	if err != nil {
		return err
	}

	stitch := r.stitchData[set][pass]
	patches, err := e.ConfigStitchDataBuffer(stitch)
	if err != nil {
		return err
	}

	regions, err := huc.PakIntRegions(huc.PakIntBuffers{
		TileStats:  r.tileStats[set],
		FrameStats: r.frameStats,
		Dummy:      r.dummy,
		StitchData: stitch,
		BrcData:    r.brcData,
		StitchCmd:  r.stitchCmd,
		TileRecord: r.tileRecord[set],
	})
	if err != nil {
		return err
	}
	if err := e.hw.AddHucVirtualAddrState(cmd, hw.HucVirtualAddrParams{Regions: regions}); err != nil {
		return err
	}

	if err := e.storeHuCStatus2Report(cmd); err != nil {
		return err
	}
	if err := e.hw.AddHucStart(cmd, true); err != nil {
		return err
	}
	err = e.hw.AddVdPipelineFlush(cmd, hw.VdPipelineFlushParams{FlushHEVC: true, WaitDoneHEVC: true})
	if err != nil {
		return err
	}
	if err := e.hw.AddMiFlushDw(cmd, hw.FlushDwParams{VideoPipelineCacheInvalidate: true}); err != nil {
		return err
	}

	e.mu.Lock()
	e.patches = append(e.patches, patches...)
	e.mu.Unlock()
	return nil
}

// setDmemHuCPakInt writes the PAK integration descriptor of the pass.
// The descriptor is built before the buffer is locked so a failure never
// leaves a half-written DMEM.
func (e *Encoder) setDmemHuCPakInt(dmem *Resource, ctx PassContext) error {
	if dmem.IsNull() {
		return fmt.Errorf("%w: pak integration dmem", ErrNullResource)
	}
	last := e.coding[len(e.coding)-1]
	d, err := huc.BuildPakIntDmem(huc.PakIntParams{
		Layout:                      e.layout,
		NumPipes:                    ctx.NumPipes,
		TilesInFrame:                len(e.coding),
		Pass:                        ctx.Pass,
		MaxPasses:                   ctx.NumPasses,
		Width:                       e.pic.Width,
		Height:                      e.pic.Height,
		LastTileSizeStreamoutOffset: last.TileSizeStreamoutOffset,
	})
	if err != nil {
		return err
	}
	return e.alloc.WithLock(dmem, resource.LockWrite, func(data []byte) error {
		clear(data)
		_, err := d.Encode(data)
		return err
	})
}

// ConfigStitchDataBuffer writes the stitch command list that copies every
// tile record into the bitstream. It returns the source and destination
// addresses the submission layer must patch into the list.
func (e *Encoder) ConfigStitchDataBuffer(stitch *Resource) ([]AddressPatch, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if stitch.IsNull() {
		return nil, fmt.Errorf("%w: stitch data", ErrNullResource)
	}
	if e.pic.Bitstream.IsNull() {
		return nil, fmt.Errorf("%w: bitstream", ErrNullResource)
	}
	record := e.res.tileRecord[e.recycled]
	d, err := huc.BuildStitchData(huc.StitchParams{
		NumTiles:       len(e.coding),
		TileRecordSize: stats.AlignUp(e.hw.RecordSizes().TileSizeRecord, stats.CacheLineSize),
		Protected:      e.cfg.Protected,
	})
	if err != nil {
		return nil, classify(err)
	}
	err = e.alloc.WithLock(stitch, resource.LockWrite, func(data []byte) error {
		clear(data)
		_, err := d.Encode(data)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return []AddressPatch{
		{Buffer: stitch, ByteOffset: huc.SrcAddrByteOffset, Target: record},
		{Buffer: stitch, ByteOffset: huc.DestAddrByteOffset, Target: e.pic.Bitstream},
	}, nil
}

// storeHuCStatus2Report saves the image-loaded mask and the HUC_STATUS2
// register so the status report can tell whether the firmware ran.
func (e *Encoder) storeHuCStatus2Report(cmd *CommandBuffer) error {
	report := e.res.hucStatus2
	err := e.hw.AddMiStoreDataImm(cmd, hw.StoreDataParams{Dest: report, Value: hucStatus2ImemLoadedMask})
	if err != nil {
		return err
	}
	return e.hw.AddMiStoreRegisterMem(cmd, hw.StoreRegisterMemParams{
		Dest:     report,
		Offset:   4,
		Register: e.hw.Registers().HucStatus2,
	})
}

// takePatches returns and clears the pending address patches.
func (e *Encoder) takePatches() []AddressPatch {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.patches
	e.patches = nil
	return p
}
