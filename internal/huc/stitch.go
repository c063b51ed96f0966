package huc

import (
	"encoding/binary"
	"fmt"
)

const (
	maxStitchCommands  = 10
	stitchCommandWords = 40

	// stitchInputCmdWords is the SizeOfData of a copy command, in dwords.
	stitchInputCmdWords = 0xF
)

// StitchDataSize is the encoded size of StitchData.
const StitchDataSize = 4 + maxStitchCommands*(4+stitchCommandWords*4)

// StitchInputCmd asks the firmware to copy the tile records into the
// bitstream buffer. The address fields are GPU virtual addresses patched
// by the submission layer; see SrcAddrByteOffset and DestAddrByteOffset.
type StitchInputCmd struct {
	SelectionForIndData uint8
	CmdMode             uint8
	LengthOfTable       uint16

	SrcBaseOffset  uint32
	DestBaseOffset uint32

	Reserved [3]uint32

	CopySize uint32

	ReservedCounter [4]uint32

	SrcAddrBottom  uint32
	SrcAddrTop     uint32
	DestAddrBottom uint32
	DestAddrTop    uint32
}

// StitchCommand is one entry of the stitch command list.
type StitchCommand struct {
	ID         uint16
	SizeOfData uint16
	Data       [stitchCommandWords]uint32
}

// StitchData is the command list the firmware turns into the stitching
// second-level batch buffer (region 8).
type StitchData struct {
	TotalCommands uint32
	InputCOM      [maxStitchCommands]StitchCommand
}

// Byte offsets of the address fields inside an encoded StitchData.
const (
	stitchCmdDataStart = 4 + 4
	SrcAddrByteOffset  = stitchCmdDataStart + 44
	DestAddrByteOffset = stitchCmdDataStart + 52
)

// StitchParams are the inputs of BuildStitchData.
type StitchParams struct {
	NumTiles       int
	TileRecordSize uint32
	Protected      bool
}

// BuildStitchData returns a single-command list copying NumTiles tile
// records of TileRecordSize bytes each.
func BuildStitchData(p StitchParams) (*StitchData, error) {
	if p.NumTiles < 1 || p.NumTiles > 0xFFFF || p.TileRecordSize == 0 {
		return nil, fmt.Errorf("%w: %d tiles, record %d bytes", ErrInvalidParams, p.NumTiles, p.TileRecordSize)
	}
	cmd := StitchInputCmd{
		CmdMode:       CmdListMode,
		LengthOfTable: uint16(p.NumTiles),
		CopySize:      p.TileRecordSize,
	}
	if p.Protected {
		cmd.SelectionForIndData = SelectionProtected
	}

	d := &StitchData{TotalCommands: 1}
	d.InputCOM[0].SizeOfData = stitchInputCmdWords

	var raw [stitchInputCmdWords * 4]byte
	if _, err := binary.Encode(raw[:], binary.LittleEndian, &cmd); err != nil {
		return nil, err
	}
	for i := range stitchInputCmdWords {
		d.InputCOM[0].Data[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return d, nil
}

// Encode writes the command list into dst.
func (d *StitchData) Encode(dst []byte) (int, error) {
	if len(dst) < StitchDataSize {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, StitchDataSize, len(dst))
	}
	return binary.Encode(dst, binary.LittleEndian, d)
}
