package main

import (
	"fmt"
	"image"
	"io"
	"os"

	// Segment maps may be painted in any of these formats.
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gogpu/vdenc"
)

// segmentMapBlock is the block edge of the maps built from images.
const segmentMapBlock = 16

// loadSegmentMap reads a grayscale segment map image from path.
func loadSegmentMap(path string, width, height int) (*vdenc.SegmentMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeSegmentMap(f, width, height)
}

// decodeSegmentMap scales the image to one pixel per 16x16 block of a
// width x height frame and quantizes the gray level into the eight VP9
// segments: 0-31 is segment 0, 224-255 segment 7.
func decodeSegmentMap(r io.Reader, width, height int) (*vdenc.SegmentMap, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode segment map: %w", err)
	}
	pitch := vdenc.SegmentMapPitch(width)
	rows := (height + segmentMapBlock - 1) / segmentMapBlock

	gray := image.NewGray(image.Rect(0, 0, pitch, rows))
	draw.NearestNeighbor.Scale(gray, gray.Bounds(), src, src.Bounds(), draw.Src, nil)

	data := make([]byte, pitch*rows)
	for y := range rows {
		for x := range pitch {
			data[y*pitch+x] = gray.GrayAt(x, y).Y >> 5
		}
	}
	logger.Debug("segment map loaded",
		"format", format,
		"source", src.Bounds().Size(),
		"blocks", fmt.Sprintf("%dx%d", pitch, rows))
	return &vdenc.SegmentMap{
		Data:      data,
		Pitch:     pitch,
		BlockSize: vdenc.SegmentBlock16x16,
	}, nil
}
