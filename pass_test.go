package vdenc

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/gogpu/vdenc/internal/cmdbuf"
	"github.com/gogpu/vdenc/internal/hw"
	"github.com/gogpu/vdenc/internal/resource"
)

func store(n int) []hw.Opcode {
	return repeatOps([]hw.Opcode{hw.OpMiStoreDataImm}, n)
}

// =============================================================================
// BuildPass Tests
// =============================================================================

func TestBuildPassSinglePipe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	enc, alloc := newTestEncoder(t)
	prepareFrame(t, enc, alloc,
		SeqParams{MaxWidth: 256, MaxHeight: 128},
		PicParams{Width: 256, Height: 128})

	pc, err := enc.BuildPass(t.Context(), 0)
	if err != nil {
		t.Fatalf("BuildPass failed: %v", err)
	}
	if pc.Prolog != nil {
		t.Error("Prolog built without the auth check enabled")
	}
	if len(pc.Pipes) != 1 {
		t.Fatalf("Pipes = %d, want 1", len(pc.Pipes))
	}
	want := concatOps(
		store(1),
		[]hw.Opcode{hw.OpMiBatchBufferStart},
		tileOps,
		[]hw.Opcode{hw.OpMiFlushDw, hw.OpMiFlushDw, hw.OpMiBatchBufferEnd},
	)
	if diff := cmp.Diff(want, hw.Opcodes(pc.Pipes[0])); diff != "" {
		t.Errorf("opcodes mismatch (-want +got):\n%s", diff)
	}
	if pc.Pipes[0].Status() != cmdbuf.StatusFinished {
		t.Errorf("pipe buffer status = %v, want finished", pc.Pipes[0].Status())
	}
	if pc.PicState != enc.res.picState[pc.RecycledIndex][0] {
		t.Errorf("PicState = %v, want the pass 0 batch buffer", pc.PicState)
	}
	if !hasReloc(pc.Pipes[0], pc.PicState, false) {
		t.Error("pipe does not start the picture state batch buffer")
	}
	if len(pc.Patches) != 0 {
		t.Errorf("Patches = %d, want 0", len(pc.Patches))
	}
	if pc.Size() != pc.Pipes[0].Offset() {
		t.Errorf("Size() = %d, want %d", pc.Size(), pc.Pipes[0].Offset())
	}
}

func TestBuildPassScalableMultiPass(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	enc, _ := newScalableFrame(t)
	if enc.NumPasses() != 2 {
		t.Fatalf("NumPasses() = %d, want 2", enc.NumPasses())
	}

	tiles := repeatOps(scalableTileOps, 2)
	wantFirst := func(head []hw.Opcode) []hw.Opcode {
		return concatOps(
			head,
			[]hw.Opcode{hw.OpMiBatchBufferStart},
			tiles,
			[]hw.Opcode{hw.OpMiFlushDw, hw.OpMiSemaphoreWait},
			pakIntOps,
			store(2),
			[]hw.Opcode{hw.OpMiFlushDw, hw.OpMiBatchBufferEnd},
		)
	}
	wantSecond := func(head []hw.Opcode) []hw.Opcode {
		return concatOps(
			head,
			[]hw.Opcode{hw.OpMiBatchBufferStart},
			tiles,
			[]hw.Opcode{hw.OpMiFlushDw, hw.OpMiFlushDw, hw.OpMiBatchBufferEnd},
		)
	}
	wait := []hw.Opcode{hw.OpMiSemaphoreWait}

	tests := []struct {
		pass       int
		pipe0      []hw.Opcode
		pipe1      []hw.Opcode
		wantPassNo uint32
	}{
		{0, wantFirst(store(3)), wantSecond(store(2)), 0},
		{1, wantFirst(wait), wantSecond(wait), 1},
	}
	for _, tt := range tests {
		pc, err := enc.BuildPass(t.Context(), tt.pass)
		if err != nil {
			t.Fatalf("pass %d: BuildPass failed: %v", tt.pass, err)
		}
		if diff := cmp.Diff(tt.pipe0, hw.Opcodes(pc.Pipes[0])); diff != "" {
			t.Errorf("pass %d pipe 0: opcodes mismatch (-want +got):\n%s", tt.pass, diff)
		}
		if diff := cmp.Diff(tt.pipe1, hw.Opcodes(pc.Pipes[1])); diff != "" {
			t.Errorf("pass %d pipe 1: opcodes mismatch (-want +got):\n%s", tt.pass, diff)
		}
		if len(pc.Patches) != 2 {
			t.Errorf("pass %d: Patches = %d, want 2", tt.pass, len(pc.Patches))
		}
		if pc.PicState != enc.res.picState[pc.RecycledIndex][tt.pass] {
			t.Errorf("pass %d: PicState is not the batch buffer of the pass", tt.pass)
		}
		// Both pipes start the same picture state.
		for p, cmd := range pc.Pipes {
			if !hasReloc(cmd, pc.PicState, false) {
				t.Errorf("pass %d pipe %d does not start the picture state", tt.pass, p)
			}
		}
		if tt.pass > 0 {
			// Pass n waits for the HuC run of pass n-1, which stores n.
			waitDword := pc.Pipes[0].Dword(cmdbuf.DwordSize)
			if waitDword != tt.wantPassNo {
				t.Errorf("pass %d: semaphore value = %d, want %d", tt.pass, waitDword, tt.wantPassNo)
			}
		}
	}
	for _, r := range enc.res.all {
		if r.State() != resource.LockStateUnlocked {
			t.Errorf("%s left %v", r.Name(), r.State())
		}
	}
}

func TestBuildPassAuthProlog(t *testing.T) {
	enc, alloc := newTestEncoder(t, WithHucAuthCheck(true))
	prepareFrame(t, enc, alloc,
		SeqParams{MaxWidth: 256, MaxHeight: 128, BrcEnabled: true},
		PicParams{Width: 256, Height: 128})

	pc, err := enc.BuildPass(t.Context(), 0)
	if err != nil {
		t.Fatalf("BuildPass failed: %v", err)
	}
	if pc.Prolog == nil {
		t.Fatal("first pass has no auth prolog")
	}
	ops := hw.Opcodes(pc.Prolog)
	if ops[len(ops)-1] != hw.OpMiBatchBufferEnd {
		t.Errorf("prolog ends with %v, want MI_BATCH_BUFFER_END", ops[len(ops)-1])
	}
	if pc.Size() != pc.Prolog.Offset()+pc.Pipes[0].Offset() {
		t.Errorf("Size() = %d does not include the prolog", pc.Size())
	}

	pc, err = enc.BuildPass(t.Context(), 1)
	if err != nil {
		t.Fatalf("BuildPass pass 1 failed: %v", err)
	}
	if pc.Prolog != nil {
		t.Error("second pass has an auth prolog")
	}

	if err := enc.SetPictureStructs(PicParams{Width: 256, Height: 128, Bitstream: enc.pic.Bitstream}); err != nil {
		t.Fatalf("SetPictureStructs failed: %v", err)
	}
	pc, err = enc.BuildPass(t.Context(), 0)
	if err != nil {
		t.Fatalf("BuildPass next frame failed: %v", err)
	}
	if pc.Prolog != nil {
		t.Error("auth check repeated on the second frame")
	}
}

func TestBuildPassAuthPrologRetried(t *testing.T) {
	enc, _ := newScalableFrame(t, WithHucAuthCheck(true))
	bitstream := enc.pic.Bitstream

	enc.pic.Bitstream = nil
	if _, err := enc.BuildPass(t.Context(), 0); !errors.Is(err, ErrNullResource) {
		t.Fatalf("BuildPass without bitstream: error = %v, want ErrNullResource", err)
	}
	if enc.hucAuthed {
		t.Fatal("auth check marked scheduled by a failed pass")
	}

	enc.pic.Bitstream = bitstream
	pc, err := enc.BuildPass(t.Context(), 0)
	if err != nil {
		t.Fatalf("BuildPass retry failed: %v", err)
	}
	if pc.Prolog == nil {
		t.Fatal("retried first pass has no auth prolog")
	}
	if !enc.hucAuthed {
		t.Error("auth check not marked scheduled after a successful pass")
	}
}

func TestBuildPassErrors(t *testing.T) {
	enc, alloc := newTestEncoder(t, WithNumPipes(2))

	if _, err := enc.BuildPass(t.Context(), 0); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("BuildPass without picture: error = %v, want ErrInvalidParameter", err)
	}

	prepareFrame(t, enc, alloc,
		SeqParams{MaxWidth: 1024, MaxHeight: 256},
		PicParams{Width: 1024, Height: 256, Log2TileCols: 1})

	if _, err := enc.BuildPass(t.Context(), 1); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("BuildPass beyond the last pass: error = %v, want ErrInvalidParameter", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := enc.BuildPass(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("BuildPass with cancelled context: error = %v, want context.Canceled", err)
	}
	if p := enc.takePatches(); len(p) != 0 {
		t.Errorf("cancelled pass left %d patches", len(p))
	}

	enc.pic.Bitstream = nil
	if _, err := enc.BuildPass(t.Context(), 0); !errors.Is(err, ErrNullResource) {
		t.Errorf("BuildPass without bitstream: error = %v, want ErrNullResource", err)
	}

	enc.FreeResources()
	if _, err := enc.BuildPass(t.Context(), 0); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("BuildPass after FreeResources: error = %v, want ErrInvalidParameter", err)
	}
}

func TestBuildPassRecordsMetrics(t *testing.T) {
	enc, alloc := newTestEncoder(t)
	prepareFrame(t, enc, alloc,
		SeqParams{MaxWidth: 256, MaxHeight: 128},
		PicParams{Width: 256, Height: 128})
	if _, err := enc.BuildPass(t.Context(), 0); err != nil {
		t.Fatalf("BuildPass failed: %v", err)
	}

	for _, name := range []string{
		"vdenc_pass_build_duration_seconds",
		"vdenc_cmd_emitted_total",
		"vdenc_frames_total",
	} {
		n, err := testutil.GatherAndCount(prometheus.DefaultGatherer, name)
		if err != nil {
			t.Fatalf("GatherAndCount(%s) failed: %v", name, err)
		}
		if n == 0 {
			t.Errorf("%s has no series after BuildPass", name)
		}
	}
}
