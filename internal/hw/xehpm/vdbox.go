package xehpm

import (
	"fmt"

	"github.com/gogpu/vdenc/internal/cmdbuf"
	"github.com/gogpu/vdenc/internal/huc"
	"github.com/gogpu/vdenc/internal/hw"
	"github.com/gogpu/vdenc/internal/pipe"
)

// AddHcpTileCoding emits HCP_TILE_CODING for one tile.
func (Emitter) AddHcpTileCoding(dst *cmdbuf.Buffer, p hw.TileCodingParams) error {
	d := p.Data
	t := d.Tile
	pipes := d.NumActivePipes
	if pipes < 1 {
		pipes = 1
	}
	body := []uint32{
		d.TileWidthInMinCbMinus1&0x3FF |
			(d.TileHeightInMinCbMinus1&0x3FF)<<16 |
			b2u(d.IsLastTileOfColumn)<<30 |
			b2u(d.IsLastTileOfRow)<<31,
		uint32(t.SbX)&0x3FF | (uint32(t.SbY)&0x3FF)<<16,
		uint32(pipes-1)&0xFF | (uint32(d.NumTileColumnsInFrame)&0xFF)<<8 | b2u(d.Scalable)<<31,
		d.CuRecordOffset,
		d.BitstreamByteOffset,
		d.PakTileStatisticsOffset,
		d.CuLevelStreamoutOffset,
		d.SliceSizeStreamoutOffset,
		d.SseRowstoreOffset,
		d.TileSizeStreamoutOffset,
		d.Vp9ProbabilityCounterStreamoutOffset,
	}
	return emit(dst, hw.OpHcpTileCoding, body)
}

// AddVdencWeightsOffsetsState programs the prediction weights. Unit
// weights are used for zero entries.
func (Emitter) AddVdencWeightsOffsetsState(dst *cmdbuf.Buffer, p hw.WeightsOffsetsParams) error {
	weight := func(i int) uint32 {
		if p.Weights[i] == 0 {
			return 1
		}
		return uint32(uint8(p.Weights[i]))
	}
	dw1 := weight(0) | uint32(uint8(p.Offsets[0]))<<8 |
		weight(1)<<16 | uint32(uint8(p.Offsets[1]))<<24
	dw2 := weight(2) | uint32(uint8(p.Offsets[2]))<<8 | uint32(p.Log2WeightDenom&0x7)<<16
	return emit(dst, hw.OpVdencWeightsOffsetsState, []uint32{dw1, dw2})
}

// AddVdencVp9TileSliceState emits the VDENC tile slice state.
func (Emitter) AddVdencVp9TileSliceState(dst *cmdbuf.Buffer, p hw.WalkerStateParams) error {
	if p.PipeCount == pipe.CountInvalid {
		return fmt.Errorf("%w: pipe count %v", hw.ErrInvalidCommand, p.PipeCount)
	}
	d := p.Data
	t := d.Tile
	body := []uint32{
		uint32(p.PipeCount)&0x3 | (uint32(p.TileID)&0xFF)<<8 | b2u(p.StreamInEnable)<<24,
		uint32(t.SbX)&0x3FF | (uint32(t.SbY)&0x3FF)<<16,
		uint32(t.Width-1)&0xFFFF | uint32(t.Height-1)<<16,
		d.TileStreaminOffset,
		d.CumulativeCUTileOffset,
		d.CuLevelStreamoutOffset,
		b2u(d.IsLastTileOfColumn) | b2u(d.IsLastTileOfRow)<<1,
	}
	return emit(dst, hw.OpVdencVp9TileSliceState, body)
}

// AddVdencWalkerState starts the VDENC walker over one tile.
func (Emitter) AddVdencWalkerState(dst *cmdbuf.Buffer, p hw.WalkerStateParams) error {
	t := p.Data.Tile
	body := []uint32{
		uint32(t.SbY)&0x1FF | (uint32(t.SbX)&0x1FF)<<16 | 1<<28,
		uint32(t.SbY+t.SbHeight)&0x3FF | (uint32(t.SbX)&0x3FF)<<16,
		uint32(p.TileID) & 0xFF,
	}
	return emit(dst, hw.OpVdencWalkerState, body)
}

// AddHucImemState selects the firmware kernel.
func (Emitter) AddHucImemState(dst *cmdbuf.Buffer, p hw.HucImemStateParams) error {
	return emit(dst, hw.OpHucImemState, []uint32{0, 0, 0, p.KernelDescriptor & 0xFF})
}

// AddHucPipeModeSelect configures the HuC pipe.
func (Emitter) AddHucPipeModeSelect(dst *cmdbuf.Buffer, p hw.HucPipeModeSelectParams) error {
	dw1 := p.Mode&0x1 | b2u(p.StreamOut)<<4
	return emit(dst, hw.OpHucPipeModeSelect, []uint32{dw1, 0})
}

// AddHucDmemState uploads p.Length bytes of DMEM data.
func (Emitter) AddHucDmemState(dst *cmdbuf.Buffer, p hw.HucDmemStateParams) error {
	if p.Source.IsNull() {
		return errNullResource(hw.OpHucDmemState)
	}
	if p.Length == 0 || p.Length%64 != 0 {
		return fmt.Errorf("%w: DMEM length %d", hw.ErrInvalidCommand, p.Length)
	}
	body := []uint32{0, 0, 0, p.DmemOffset, p.Length}
	return emit(dst, hw.OpHucDmemState, body,
		cmdbuf.Reloc{Dword: 1, Resource: p.Source})
}

// AddHucVirtualAddrState binds the region table.
func (Emitter) AddHucVirtualAddrState(dst *cmdbuf.Buffer, p hw.HucVirtualAddrParams) error {
	body := make([]uint32, 3*huc.NumRegions)
	var relocs []cmdbuf.Reloc
	for _, i := range p.Regions.Bound() {
		r := p.Regions[i]
		body[3*i] = lo(r.Offset)
		body[3*i+1] = hi(r.Offset)
		relocs = append(relocs, cmdbuf.Reloc{
			Dword:    1 + 3*i,
			Resource: r.Resource,
			Offset:   r.Offset,
			Write:    r.Writable,
		})
	}
	return emit(dst, hw.OpHucVirtualAddrState, body, relocs...)
}

// AddHucStart starts the loaded kernel.
func (Emitter) AddHucStart(dst *cmdbuf.Buffer, lastStreamObject bool) error {
	return emit(dst, hw.OpHucStart, []uint32{b2u(lastStreamObject)})
}
