package vdenc

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/vdenc/internal/cmdbuf"
	"github.com/gogpu/vdenc/internal/hw"
	"github.com/gogpu/vdenc/internal/metrics"
	"github.com/gogpu/vdenc/internal/resource"
)

// hucLoadInfoMask is the HUC_LOAD_INFO bit set after the firmware passed
// authentication.
const hucLoadInfoMask = 1

// CheckHucLoadStatus appends the firmware authentication check to cmd.
// The check runs in a second-level batch buffer that stores the load info
// register and restarts itself until the authenticated bit is set; the
// watchdog bounds the loop. After it succeeds, HucAuthStatus reports the
// result of the submitted check.
func (e *Encoder) CheckHucLoadStatus(cmd *CommandBuffer) error {
	if err := e.checkHucLoadStatus(cmd); err != nil {
		return err
	}
	e.hucAuthScheduled()
	return nil
}

// checkHucLoadStatus emits the check without marking it scheduled.
func (e *Encoder) checkHucLoadStatus(cmd *CommandBuffer) error {
	if cmd == nil {
		return fmt.Errorf("%w: auth command buffer", ErrNullResource)
	}
	if err := e.ready(); err != nil {
		return err
	}
	second := e.res.secondLevel[e.recycled]
	if second.IsNull() {
		return fmt.Errorf("%w: auth batch buffer", ErrNullResource)
	}

	if err := e.hw.AddWatchdogStart(cmd, hw.WatchdogThreshold(1920, 1080)); err != nil {
		return classify(err)
	}
	if err := e.writeAuthBatch(second); err != nil {
		return fmt.Errorf("vdenc: huc auth: %w", classify(err))
	}
	err := e.hw.AddMiBatchBufferStart(cmd, hw.BatchBufferStartParams{Target: second, SecondLevel: true})
	if err != nil {
		return classify(err)
	}
	return classify(e.hw.AddWatchdogStop(cmd))
}

func (e *Encoder) hucAuthScheduled() {
	e.hucAuthed = true
	metrics.RecordHucRun("auth_check")
	Logger().Info("vdenc: huc authentication check scheduled",
		"encoder", e.id,
		"recycled_set", e.recycled)
}

// writeAuthBatch fills the auth second-level batch buffer. The buffer is
// unlocked on every path.
func (e *Encoder) writeAuthBatch(second *Resource) (err error) {
	m, err := e.alloc.Lock(second, resource.LockWrite)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := m.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()
	clear(m.Bytes())

	bb, err := cmdbuf.NewSecondLevel(second.Name(), m)
	if err != nil {
		return err
	}
	if err := e.PackHucAuthCmds(bb); err != nil {
		return err
	}
	return bb.Finish()
}

// PackHucAuthCmds writes the authentication loop into the second-level
// batch buffer bb:
//
//	store mask      -> hucAuth[0]
//	store LOAD_INFO -> hucAuth[4]
//	flush
//	conditional end of this level on LOAD_INFO masked by hucAuth[0]
//	restart bb
func (e *Encoder) PackHucAuthCmds(bb *CommandBuffer) error {
	if bb == nil || bb.Resource().IsNull() {
		return fmt.Errorf("%w: auth batch buffer", ErrNullResource)
	}
	if err := e.ready(); err != nil {
		return err
	}
	auth := e.res.hucAuth

	err := e.hw.AddMiStoreDataImm(bb, hw.StoreDataParams{Dest: auth, Value: hucLoadInfoMask})
	if err != nil {
		return err
	}
	err = e.hw.AddMiStoreRegisterMem(bb, hw.StoreRegisterMemParams{
		Dest:     auth,
		Offset:   4,
		Register: e.hw.Registers().HucLoadInfo,
	})
	if err != nil {
		return err
	}
	if err := e.hw.AddMiFlushDw(bb, hw.FlushDwParams{}); err != nil {
		return err
	}
	err = e.hw.AddMiConditionalBatchBufferEnd(bb, hw.ConditionalBatchBufferEndParams{
		Semaphore:       auth,
		Compare:         hw.CompareMADEqualIDD,
		MaskMode:        true,
		EndCurrentLevel: true,
	})
	if err != nil {
		return err
	}
	return e.hw.AddMiBatchBufferStart(bb, hw.BatchBufferStartParams{Target: bb.Resource(), SecondLevel: true})
}

// HucAuthStatus reads back the authentication result written by the last
// submitted check. It returns ErrDeviceNotResponding when the firmware
// never reported a successful load.
func (e *Encoder) HucAuthStatus() error {
	if e.res == nil {
		return fmt.Errorf("%w: resources not allocated", ErrNullResource)
	}
	if !e.hucAuthed {
		return fmt.Errorf("%w: no authentication check scheduled", ErrInvalidParameter)
	}
	auth := e.res.hucAuth
	if err := e.alloc.Readback(auth); err != nil {
		return classify(err)
	}
	return e.alloc.WithLock(auth, resource.LockRead, hucAuthResult)
}

// hucAuthResult parses the auth buffer: the mask at offset 0 and the load
// info register at offset 4.
func hucAuthResult(data []byte) error {
	if len(data) < hucAuthSize {
		return fmt.Errorf("%w: auth report of %d bytes", ErrInvalidParameter, len(data))
	}
	mask := binary.LittleEndian.Uint32(data[0:])
	info := binary.LittleEndian.Uint32(data[4:])
	if mask == 0 || info&mask == 0 {
		return fmt.Errorf("%w: huc load info %#x", ErrDeviceNotResponding, info)
	}
	return nil
}
