package vdenc

import (
	"github.com/gogpu/vdenc/internal/resource"
	"github.com/gogpu/vdenc/internal/streamin"
)

// SetupSegmentationStreamIn writes the stream-in buffer of the current
// frame. Without a segment map the buffer is only cleared, and only when
// HME is on; otherwise the step is skipped. With a map, every 32x32 block
// gets its segment id and the search controls of the target usage tier.
func (e *Encoder) SetupSegmentationStreamIn() error {
	if err := e.ready(); err != nil {
		return err
	}
	seg := e.pic.SegmentMap
	if seg == nil && !e.cfg.HmeEnabled {
		return nil
	}
	buf := e.res.streamIn[e.recycled]
	if buf.IsNull() {
		return ErrNullResource
	}

	err := e.alloc.WithLock(buf, resource.LockWrite, func(data []byte) error {
		if seg == nil {
			return streamin.Clear(data, e.pic.Width, e.pic.Height)
		}
		return streamin.Build(data, &e.lut, *seg, streamin.Params{
			Width:                   e.pic.Width,
			Height:                  e.pic.Height,
			TargetUsage:             e.targetUsage,
			InterFrame:              e.pic.FrameType == InterFrame,
			KeyFrameMergeWorkaround: e.cfg.KeyFrameMergeWorkaround,
		})
	})
	if err != nil {
		return classify(err)
	}
	e.streamIn = seg != nil
	return nil
}
