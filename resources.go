package vdenc

import (
	"fmt"

	"github.com/gogpu/vdenc/internal/huc"
	"github.com/gogpu/vdenc/internal/metrics"
	"github.com/gogpu/vdenc/internal/resource"
	"github.com/gogpu/vdenc/internal/stats"
	"github.com/gogpu/vdenc/internal/streamin"
	"github.com/gogpu/vdenc/internal/tile"
)

// Buffer sizes that do not depend on the frame.
const (
	secondLevelBatchBufferSize = 128
	semaphoreSize              = 4
	hcpSyncSize                = 4 * stats.CacheLineSize
	hucAuthSize                = 8
	hucStatus2Size             = 8
)

// resources are the buffers of one encoder.
type resources struct {
	maxWidth, maxHeight int

	tileRowStore        *Resource
	cuLevelStreamout    *Resource
	sliceLevelStreamout *Resource
	hcpSync             *Resource
	frameStats          *Resource
	dummy               *Resource
	brcData             *Resource
	stitchCmd           *Resource
	cumulativeCuCount   *Resource
	hucAuth             *Resource
	hucStatus2          *Resource

	// Semaphores. stitchWait and hucDone hold one cell per pipe.
	pakIntDone *Resource
	stitchWait [MaxPipes]*Resource
	hucDone    [MaxPipes]*Resource

	// Recycled buffers, indexed by [set] or [set][pass].
	tileStats   []*Resource
	tileRecord  []*Resource
	secondLevel []*Resource
	streamIn    []*Resource
	dmem        [][]*Resource
	picState    [][]*Resource
	stitchData  [][MaxBrcPasses]*Resource

	all []*Resource
}

// resourceBatch allocates buffers until the first failure.
type resourceBatch struct {
	alloc *Allocator
	res   *resources
	err   error
}

func (b *resourceBatch) get(name string, size uint64, desc resource.Desc) *Resource {
	if b.err != nil {
		return nil
	}
	desc.Name = name
	desc.Size = size
	r, err := b.alloc.Allocate(desc)
	if err != nil {
		b.err = fmt.Errorf("vdenc: allocate %s: %w", name, classify(err))
		return nil
	}
	b.res.all = append(b.res.all, r)
	return r
}

var (
	internalBuf = resource.Desc{Usage: resource.UsageInternal}
	zeroedBuf   = resource.Desc{Usage: resource.UsageInternal, ZeroInit: true}
	readbackBuf = resource.Desc{Usage: resource.UsageReadback, ZeroInit: true}
	batchBuf    = resource.Desc{Usage: resource.UsageBatch}
)

func alignPage(v uint32) uint64 { return uint64(stats.AlignUp(v, stats.PageSize)) }

// AllocateResources allocates every buffer the encoder uses, sized for the
// sequence maximum frame size. On failure nothing stays allocated.
func (e *Encoder) AllocateResources() error {
	if !e.seqSet {
		return invalidParam(errNoSequence)
	}
	if e.res != nil {
		return fmt.Errorf("%w: resources already allocated", ErrInvalidParameter)
	}

	w, h := e.seq.MaxWidth, e.seq.MaxHeight
	wSb := uint64((w + tile.SuperBlockSize - 1) / tile.SuperBlockSize)
	hSb := uint64((h + tile.SuperBlockSize - 1) / tile.SuperBlockSize)
	numLcu := wSb * hSb
	sets := e.cfg.RecycledSets
	passes := e.cfg.MaxPasses

	r := &resources{maxWidth: w, maxHeight: h}
	b := &resourceBatch{alloc: e.alloc, res: r}

	r.tileRowStore = b.get("vdenc tile row store", uint64((w+31)/32)*stats.CacheLineSize*2, internalBuf)
	r.cuLevelStreamout = b.get("pak cu level streamout", numLcu*64*stats.CacheLineSize, internalBuf)
	r.sliceLevelStreamout = b.get("pak slice level streamout", numLcu*64*stats.CacheLineSize, internalBuf)
	r.hcpSync = b.get("hcp sync", hcpSyncSize, internalBuf)
	r.frameStats = b.get("frame statistics", uint64(e.layout.FrameBufferSize()), readbackBuf)
	r.dummy = b.get("huc dummy", alignPage(stats.CacheLineSize), zeroedBuf)
	r.brcData = b.get("huc brc data", alignPage(stats.CacheLineSize), readbackBuf)
	r.stitchCmd = b.get("huc stitch commands", uint64(e.hw.StitchCmdBatchBufferSize()), batchBuf)
	r.cumulativeCuCount = b.get("cumulative cu count", numLcu*4, zeroedBuf)
	r.hucAuth = b.get("huc auth", hucAuthSize, readbackBuf)
	r.hucStatus2 = b.get("huc status2 report", hucStatus2Size, readbackBuf)

	r.pakIntDone = b.get("pak integration done semaphore", semaphoreSize, zeroedBuf)
	for p := range MaxPipes {
		r.stitchWait[p] = b.get(fmt.Sprintf("stitch wait semaphore %d", p), semaphoreSize, zeroedBuf)
		r.hucDone[p] = b.get(fmt.Sprintf("huc done semaphore %d", p), semaphoreSize, zeroedBuf)
	}

	r.tileStats = make([]*Resource, sets)
	r.tileRecord = make([]*Resource, sets)
	r.secondLevel = make([]*Resource, sets)
	r.streamIn = make([]*Resource, sets)
	r.dmem = make([][]*Resource, sets)
	r.picState = make([][]*Resource, sets)
	r.stitchData = make([][MaxBrcPasses]*Resource, sets)
	for s := range sets {
		r.tileStats[s] = b.get(fmt.Sprintf("tile statistics %d", s), uint64(e.layout.TileBufferSize()), readbackBuf)
		r.tileRecord[s] = b.get(fmt.Sprintf("tile record %d", s), uint64(e.layout.TileRecordBufferSize()), readbackBuf)
		r.secondLevel[s] = b.get(fmt.Sprintf("second level batch %d", s), secondLevelBatchBufferSize, batchBuf)
		r.streamIn[s] = b.get(fmt.Sprintf("stream-in %d", s), uint64(streamin.BufferSize(w, h)), internalBuf)
		r.dmem[s] = make([]*Resource, passes)
		r.picState[s] = make([]*Resource, passes)
		for p := range passes {
			r.dmem[s][p] = b.get(fmt.Sprintf("huc pak int dmem %d/%d", s, p), uint64(huc.DmemLength()), internalBuf)
			r.picState[s][p] = b.get(fmt.Sprintf("pic state batch %d/%d", s, p), uint64(e.hw.PicStateBatchBufferSize()), batchBuf)
		}
		for p := range MaxBrcPasses {
			r.stitchData[s][p] = b.get(fmt.Sprintf("huc stitch data %d/%d", s, p), alignPage(huc.StitchDataSize), internalBuf)
		}
	}

	if b.err != nil {
		for _, res := range r.all {
			e.alloc.Free(res)
		}
		metrics.RecordError(errorKind(b.err))
		return b.err
	}
	e.res = r

	st := e.alloc.Stats()
	metrics.SetResourceUsage(st.Resources, st.UsedBytes)
	Logger().Info("vdenc: resources allocated",
		"encoder", e.id,
		"buffers", len(r.all),
		"bytes", st.UsedBytes,
		"max_width", w,
		"max_height", h)
	return nil
}

// FreeResources releases every buffer. It is safe to call more than once.
func (e *Encoder) FreeResources() {
	if e.res == nil {
		return
	}
	for _, r := range e.res.all {
		if r.State() != resource.LockStateUnlocked {
			Logger().Warn("vdenc: freeing locked buffer", "encoder", e.id, "buffer", r.Name())
		}
		e.alloc.Free(r)
	}
	e.res = nil
	e.picSet = false
	st := e.alloc.Stats()
	metrics.SetResourceUsage(st.Resources, st.UsedBytes)
}
