// Command vp9plan builds the command buffers of a scalable VP9 encode on
// a noop device and prints what every pass would submit.
//
// Usage:
//
//	vp9plan -width 3840 -height 2160 -log2-cols 2 -pipes 2 -brc -frames 4
//	vp9plan -config encoder.yaml -segmap roi.png
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/vdenc"
	"github.com/gogpu/vdenc/internal/hw"
	"github.com/gogpu/vdenc/internal/hw/xehpm"
	"github.com/gogpu/vdenc/internal/resource"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

type options struct {
	config   string
	width    int
	height   int
	log2Cols int
	log2Rows int
	pipes    int
	frames   int
	brc      bool
	tu       int
	qindex   int
	segmap   string
	verbose  bool
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", "", "YAML encoder configuration")
	flag.IntVar(&o.width, "width", 1920, "frame width")
	flag.IntVar(&o.height, "height", 1080, "frame height")
	flag.IntVar(&o.log2Cols, "log2-cols", 1, "log2 of the tile column count")
	flag.IntVar(&o.log2Rows, "log2-rows", 0, "log2 of the tile row count")
	flag.IntVar(&o.pipes, "pipes", 0, "number of pipes (overrides the config when set)")
	flag.IntVar(&o.frames, "frames", 2, "number of frames to build")
	flag.BoolVar(&o.brc, "brc", false, "enable multi-pass rate control")
	flag.IntVar(&o.tu, "tu", 4, "target usage, 1 (quality) to 7 (speed)")
	flag.IntVar(&o.qindex, "qindex", 128, "base quantizer index")
	flag.StringVar(&o.segmap, "segmap", "", "grayscale segment map image (png, bmp, tiff or webp)")
	flag.BoolVar(&o.verbose, "v", false, "log encoder activity")
	flag.Parse()

	if o.verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	vdenc.SetLogger(logger)

	if err := run(context.Background(), os.Stdout, o); err != nil {
		logger.Error("vp9plan failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, w io.Writer, o options) error {
	cfg := vdenc.DefaultConfig()
	if o.config != "" {
		f, err := os.Open(o.config)
		if err != nil {
			return err
		}
		cfg, err = vdenc.LoadConfig(f)
		f.Close()
		if err != nil {
			return err
		}
	}

	device, queue, closeDevice, err := openNoopDevice()
	if err != nil {
		return err
	}
	defer closeDevice()

	alloc, err := resource.NewAllocator(device, queue, cfg.Resource)
	if err != nil {
		return err
	}
	defer alloc.Close()

	opts := []vdenc.Option{vdenc.WithConfig(cfg)}
	if o.pipes > 0 {
		opts = append(opts, vdenc.WithNumPipes(o.pipes))
	}
	enc, err := vdenc.New(alloc, xehpm.New(), opts...)
	if err != nil {
		return err
	}
	defer enc.Close()

	err = enc.SetSequenceStructs(vdenc.SeqParams{
		MaxWidth:    o.width,
		MaxHeight:   o.height,
		TargetUsage: o.tu,
		BrcEnabled:  o.brc,
	})
	if err != nil {
		return err
	}
	if err := enc.AllocateResources(); err != nil {
		return err
	}

	var seg *vdenc.SegmentMap
	if o.segmap != "" {
		if seg, err = loadSegmentMap(o.segmap, o.width, o.height); err != nil {
			return err
		}
	}
	bitstream, err := alloc.Allocate(resource.Desc{
		Name:  "bitstream",
		Size:  uint64(o.width * o.height * 3 / 2),
		Usage: resource.UsageReadback,
	})
	if err != nil {
		return err
	}
	defer alloc.Free(bitstream)

	p := message.NewPrinter(language.English)
	p.Fprintf(w, "encoder %v: %d pipes, %d passes per frame, %s\n",
		enc.ID(), enc.Config().NumPipes, enc.NumPasses(), alloc.Stats())

	for frame := range o.frames {
		ft := vdenc.InterFrame
		if frame == 0 {
			ft = vdenc.KeyFrame
		}
		err := enc.SetPictureStructs(vdenc.PicParams{
			Width:               o.width,
			Height:              o.height,
			FrameType:           ft,
			BaseQIndex:          uint8(o.qindex),
			Log2TileCols:        o.log2Cols,
			Log2TileRows:        o.log2Rows,
			SegmentationEnabled: seg != nil,
			SegmentMap:          seg,
			Bitstream:           bitstream,
			LastPicInSequence:   frame == o.frames-1,
		})
		if err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}
		p.Fprintf(w, "frame %d (%v): %d tiles, buffer set %d\n",
			frame, ft, len(enc.Tiles()), enc.RecycledIndex())

		for pass := range enc.NumPasses() {
			pc, err := enc.BuildPass(ctx, pass)
			if err != nil {
				return fmt.Errorf("frame %d pass %d: %w", frame, pass, err)
			}
			printPass(p, w, pc)
		}
	}
	return nil
}

func printPass(p *message.Printer, w io.Writer, pc *vdenc.PassCommands) {
	p.Fprintf(w, "  pass %d: %d bytes, %d address patches, picture state %d bytes\n",
		pc.Pass, pc.Size(), len(pc.Patches), pc.PicStateLayout.Size)
	if pc.Prolog != nil {
		p.Fprintf(w, "    prolog: %s\n", summarize(hw.Opcodes(pc.Prolog)))
	}
	for i, cmd := range pc.Pipes {
		p.Fprintf(w, "    pipe %d: %d bytes, %s\n", i, cmd.Offset(), summarize(hw.Opcodes(cmd)))
	}
}

// summarize counts the opcodes of a command buffer, most frequent first.
func summarize(ops []hw.Opcode) string {
	counts := make(map[hw.Opcode]int)
	for _, op := range ops {
		counts[op]++
	}
	keys := make([]hw.Opcode, 0, len(counts))
	for op := range counts {
		keys = append(keys, op)
	}
	slices.SortFunc(keys, func(a, b hw.Opcode) int {
		if counts[a] != counts[b] {
			return counts[b] - counts[a]
		}
		return int(a) - int(b)
	})
	s := ""
	for i, op := range keys {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%dx %v", counts[op], op)
	}
	return s
}

// openNoopDevice opens the first adapter of the noop HAL.
func openNoopDevice() (hal.Device, hal.Queue, func(), error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create noop instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, nil, nil, fmt.Errorf("noop instance has no adapters")
	}
	dev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, nil, nil, fmt.Errorf("open noop device: %w", err)
	}
	return dev.Device, dev.Queue, func() {
		dev.Device.Destroy()
		instance.Destroy()
	}, nil
}
