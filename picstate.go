package vdenc

import (
	"fmt"

	"github.com/gogpu/vdenc/internal/cmdbuf"
	"github.com/gogpu/vdenc/internal/hw"
	"github.com/gogpu/vdenc/internal/resource"
)

// PicStateLayout locates the commands the HuC BRC kernel patches inside
// the picture state batch buffer.
type PicStateLayout struct {
	// PicStateOffset is the byte offset of HCP_VP9_PIC_STATE.
	PicStateOffset int

	// ImageStateOffset is the byte offset of VDENC CMD2.
	ImageStateOffset int

	// Size is the used size including the guard band.
	Size int
}

// ConstructPicStateBatchBuf writes the picture state second-level batch
// buffer of a pass into res: VDENC CMD1, the HCP picture state, eight
// segment state slots, VDENC CMD2 and a batch buffer end followed by a
// zero guard band. Segment slots beyond the first are zero when
// segmentation is off. The buffer is unlocked on every path.
func (e *Encoder) ConstructPicStateBatchBuf(res *Resource, ctx PassContext) (err error) {
	if res.IsNull() {
		return fmt.Errorf("%w: picture state batch buffer", ErrNullResource)
	}
	if err := e.checkContext(ctx); err != nil {
		return err
	}

	m, err := e.alloc.Lock(res, resource.LockWrite)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if uerr := m.Unlock(); uerr != nil && err == nil {
			err = classify(uerr)
		}
	}()
	clear(m.Bytes())

	bb, err := cmdbuf.NewSecondLevel(res.Name(), m)
	if err != nil {
		return classify(err)
	}
	layout, err := e.addPicStateCommands(bb, ctx)
	if err != nil {
		return fmt.Errorf("vdenc: picture state: %w", classify(err))
	}
	if err := bb.Finish(); err != nil {
		return err
	}
	e.picLayout = layout
	return nil
}

func (e *Encoder) addPicStateCommands(bb *CommandBuffer, ctx PassContext) (PicStateLayout, error) {
	var layout PicStateLayout
	pic := e.picParams(ctx)

	if err := e.hw.AddVdencCmd1(bb, pic); err != nil {
		return layout, err
	}
	layout.PicStateOffset = bb.Offset()
	if err := e.hw.AddHcpVp9PicState(bb, pic); err != nil {
		return layout, err
	}

	segments := 1
	if e.pic.SegmentationEnabled {
		segments = MaxSegments
	}
	for i := range segments {
		err := e.hw.AddHcpVp9SegmentState(bb, hw.SegmentStateParams{
			SegmentID: uint8(i),
			Segment:   e.pic.Segments[i],
		})
		if err != nil {
			return layout, err
		}
	}
	if segments < MaxSegments {
		if err := bb.Pad((MaxSegments - segments) * e.hw.SizeOf(hw.OpHcpVp9SegmentState)); err != nil {
			return layout, err
		}
	}

	layout.ImageStateOffset = bb.Offset()
	if err := e.hw.AddVdencCmd2(bb, pic); err != nil {
		return layout, err
	}
	if err := e.hw.AddMiBatchBufferEnd(bb); err != nil {
		return layout, err
	}
	if err := bb.Pad(hw.PicStateGuardBand); err != nil {
		return layout, fmt.Errorf("guard band: %w", err)
	}
	layout.Size = bb.Offset()
	return layout, nil
}
