package xehpm

import (
	"fmt"

	"github.com/gogpu/vdenc/internal/cmdbuf"
	"github.com/gogpu/vdenc/internal/hw"
)

// MI command field bits.
const (
	bbStartSecondLevel = 1 << 22
	bbStartAddrSpace   = 1 << 8

	flushDwVideoPipelineCacheInvalidate = 1 << 7
	flushDwPostSyncWriteImm             = 1 << 14

	semaphoreWaitPolling  = 1 << 15
	semaphoreGlobalGtt    = 1 << 22
	condBBEndUseGlobalGtt = 1 << 22
	condBBEndCompareSem   = 1 << 21
	condBBEndMaskMode     = 1 << 19
	condBBEndCurrentLevel = 1 << 18

	storeUseGlobalGtt = 1 << 22

	vdControlInitialization = 1 << 0
	vdControlPipeLock       = 1 << 0
	vdControlPipeUnlock     = 1 << 1
	vdControlImplicitFlush  = 1 << 1
)

// AddMiBatchBufferEnd ends the current batch buffer.
func (Emitter) AddMiBatchBufferEnd(dst *cmdbuf.Buffer) error {
	return emit(dst, hw.OpMiBatchBufferEnd, nil)
}

// AddMiBatchBufferStart jumps to p.Target.
func (Emitter) AddMiBatchBufferStart(dst *cmdbuf.Buffer, p hw.BatchBufferStartParams) error {
	if p.Target.IsNull() {
		return errNullResource(hw.OpMiBatchBufferStart)
	}
	flags := uint32(bbStartAddrSpace)
	if p.SecondLevel {
		flags |= bbStartSecondLevel
	}
	return emitFlags(dst, hw.OpMiBatchBufferStart, flags,
		[]uint32{lo(p.Offset), hi(p.Offset)},
		cmdbuf.Reloc{Dword: 1, Resource: p.Target, Offset: p.Offset})
}

// AddMiFlushDw emits MI_FLUSH_DW with an optional post-sync immediate write.
func (Emitter) AddMiFlushDw(dst *cmdbuf.Buffer, p hw.FlushDwParams) error {
	var flags uint32
	if p.VideoPipelineCacheInvalidate {
		flags |= flushDwVideoPipelineCacheInvalidate
	}
	if p.PostSync == nil {
		return emitFlags(dst, hw.OpMiFlushDw, flags, []uint32{0, 0, 0, 0})
	}
	flags |= flushDwPostSyncWriteImm
	return emitFlags(dst, hw.OpMiFlushDw, flags,
		[]uint32{lo(p.PostSyncOffset), hi(p.PostSyncOffset), p.PostSyncData, 0},
		cmdbuf.Reloc{Dword: 1, Resource: p.PostSync, Offset: p.PostSyncOffset, Write: true})
}

// AddMiStoreDataImm writes p.Value to p.Dest.
func (Emitter) AddMiStoreDataImm(dst *cmdbuf.Buffer, p hw.StoreDataParams) error {
	if p.Dest.IsNull() {
		return errNullResource(hw.OpMiStoreDataImm)
	}
	return emitFlags(dst, hw.OpMiStoreDataImm, storeUseGlobalGtt,
		[]uint32{lo(p.Offset), hi(p.Offset), p.Value},
		cmdbuf.Reloc{Dword: 1, Resource: p.Dest, Offset: p.Offset, Write: true})
}

// AddMiStoreRegisterMem copies p.Register to p.Dest.
func (Emitter) AddMiStoreRegisterMem(dst *cmdbuf.Buffer, p hw.StoreRegisterMemParams) error {
	if p.Dest.IsNull() {
		return errNullResource(hw.OpMiStoreRegisterMem)
	}
	return emitFlags(dst, hw.OpMiStoreRegisterMem, storeUseGlobalGtt,
		[]uint32{p.Register, lo(p.Offset), hi(p.Offset)},
		cmdbuf.Reloc{Dword: 2, Resource: p.Dest, Offset: p.Offset, Write: true})
}

// AddMiLoadRegisterImm writes p.Value to p.Register.
func (Emitter) AddMiLoadRegisterImm(dst *cmdbuf.Buffer, p hw.LoadRegisterImmParams) error {
	return emit(dst, hw.OpMiLoadRegisterImm, []uint32{p.Register, p.Value})
}

// AddMiSemaphoreWait polls p.Semaphore until the compare succeeds.
func (Emitter) AddMiSemaphoreWait(dst *cmdbuf.Buffer, p hw.SemaphoreWaitParams) error {
	if p.Semaphore.IsNull() {
		return errNullResource(hw.OpMiSemaphoreWait)
	}
	flags := uint32(semaphoreWaitPolling|semaphoreGlobalGtt) | uint32(p.Compare)<<12
	return emitFlags(dst, hw.OpMiSemaphoreWait, flags,
		[]uint32{p.Value, lo(p.Offset), hi(p.Offset)},
		cmdbuf.Reloc{Dword: 2, Resource: p.Semaphore, Offset: p.Offset})
}

// AddMiConditionalBatchBufferEnd ends the batch buffer on a memory compare.
func (Emitter) AddMiConditionalBatchBufferEnd(dst *cmdbuf.Buffer, p hw.ConditionalBatchBufferEndParams) error {
	if p.Semaphore.IsNull() {
		return errNullResource(hw.OpMiConditionalBatchBufferEnd)
	}
	flags := uint32(condBBEndUseGlobalGtt|condBBEndCompareSem) | uint32(p.Compare)<<12
	if p.MaskMode {
		flags |= condBBEndMaskMode
	}
	if p.EndCurrentLevel {
		flags |= condBBEndCurrentLevel
	}
	return emitFlags(dst, hw.OpMiConditionalBatchBufferEnd, flags,
		[]uint32{p.Value, lo(p.Offset), hi(p.Offset)},
		cmdbuf.Reloc{Dword: 2, Resource: p.Semaphore, Offset: p.Offset})
}

// AddMiVdControlState locks or unlocks the scalable pipe.
func (Emitter) AddMiVdControlState(dst *cmdbuf.Buffer, p hw.VdControlStateParams) error {
	var dw1, dw2 uint32
	if p.InitializationMode {
		dw1 |= vdControlInitialization
	}
	if p.PipeLock {
		dw2 |= vdControlPipeLock
	}
	if p.PipeUnlock {
		dw2 |= vdControlPipeUnlock
	}
	if p.MemoryImplicitFlush {
		dw1 |= vdControlImplicitFlush
	}
	return emit(dst, hw.OpMiVdControlState, []uint32{dw1, dw2})
}

// AddVdPipelineFlush emits VD_PIPELINE_FLUSH.
func (Emitter) AddVdPipelineFlush(dst *cmdbuf.Buffer, p hw.VdPipelineFlushParams) error {
	dw1 := b2u(p.WaitDoneHEVC)<<0 |
		b2u(p.WaitDoneVDENC)<<1 |
		b2u(p.WaitDoneMFX)<<3 |
		b2u(p.WaitDoneVDCmdMsgParser)<<4 |
		b2u(p.FlushHEVC)<<16 |
		b2u(p.FlushVDENC)<<17
	return emit(dst, hw.OpVdPipelineFlush, []uint32{dw1})
}

// AddWatchdogStop disables the watchdog timer.
func (e Emitter) AddWatchdogStop(dst *cmdbuf.Buffer) error {
	return e.AddMiLoadRegisterImm(dst, hw.LoadRegisterImmParams{
		Register: WatchdogCountCtrlReg,
		Value:    watchdogDisable,
	})
}

// AddWatchdogStart restarts the watchdog timer with a threshold of
// thresholdMs milliseconds.
func (e Emitter) AddWatchdogStart(dst *cmdbuf.Buffer, thresholdMs uint32) error {
	if dst == nil {
		return hw.ErrNullDestination
	}
	if need := 3 * e.SizeOf(hw.OpMiLoadRegisterImm); dst.Remaining() < need {
		return fmt.Errorf("%w: watchdog start needs %d bytes", cmdbuf.ErrNoSpace, need)
	}
	if err := e.AddWatchdogStop(dst); err != nil {
		return err
	}
	if err := e.AddMiLoadRegisterImm(dst, hw.LoadRegisterImmParams{
		Register: WatchdogThresholdReg,
		Value:    watchdogCountsPerMs * thresholdMs,
	}); err != nil {
		return err
	}
	return e.AddMiLoadRegisterImm(dst, hw.LoadRegisterImmParams{
		Register: WatchdogCountCtrlReg,
		Value:    watchdogEnable,
	})
}
