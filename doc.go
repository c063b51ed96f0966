// Package vdenc builds the command buffers of a scalable, tile-based VP9
// encode on a VDENC video engine.
//
// # Overview
//
// A frame is split into a grid of tiles. With more than one pipe each pipe
// encodes the tile columns it owns, and the HuC firmware stitches the
// per-pipe statistics and bitstreams together after every pass. Bit rate
// control may run several passes over the same frame.
//
// vdenc does not talk to the hardware. It allocates the encoder's buffers
// on a wgpu HAL device and emits the commands each pipe would submit; the
// caller owns submission.
//
// # Quick Start
//
//	alloc, _ := resource.NewAllocator(device, queue, resource.Config{})
//	enc, _ := vdenc.New(alloc, xehpm.New(), vdenc.WithNumPipes(2))
//	defer enc.Close()
//
//	enc.SetSequenceStructs(vdenc.SeqParams{MaxWidth: 3840, MaxHeight: 2160, BrcEnabled: true})
//	enc.AllocateResources()
//
//	enc.SetPictureStructs(pic)
//	for pass := range enc.NumPasses() {
//		cmds, err := enc.BuildPass(ctx, pass)
//		...
//	}
//
// # Buffer Sets
//
// Per-frame buffers (HuC DMEM, picture state batch buffers, stream-in) are
// allocated in recycled sets so that a new frame can be built while the
// previous one is still on the engine. SetPictureStructs advances the set.
//
// # Concurrency
//
// An Encoder is not safe for concurrent use, except that BuildPass builds
// the pipes of one pass in parallel.
package vdenc
