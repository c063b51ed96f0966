package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type testOp uint16

func (o testOp) name() string { return fmt.Sprintf("OP_%d", o) }

func TestRecordCommands(t *testing.T) {
	before := testutil.ToFloat64(commandsEmitted.WithLabelValues("OP_7"))
	beforeBytes := testutil.ToFloat64(commandBytes)

	RecordCommands([]testOp{7, 7, 9}, testOp.name, 48)

	if got := testutil.ToFloat64(commandsEmitted.WithLabelValues("OP_7")) - before; got != 2 {
		t.Errorf("OP_7 delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(commandBytes) - beforeBytes; got != 48 {
		t.Errorf("bytes delta = %v, want 48", got)
	}
}

func TestRecordError_NormalizesKind(t *testing.T) {
	tests := []struct {
		in, label string
	}{
		{"no_space", "no_space"},
		{" Invalid_Parameter ", "invalid_parameter"},
		{"disk on fire", "other"},
	}
	for _, tt := range tests {
		before := testutil.ToFloat64(errorsTotal.WithLabelValues(tt.label))
		RecordError(tt.in)
		if got := testutil.ToFloat64(errorsTotal.WithLabelValues(tt.label)) - before; got != 1 {
			t.Errorf("RecordError(%q): %s delta = %v, want 1", tt.in, tt.label, got)
		}
	}
}

func TestRecordFrameAndHuc(t *testing.T) {
	before := testutil.ToFloat64(framesTotal.WithLabelValues("unknown"))
	RecordFrame("intra-only")
	if got := testutil.ToFloat64(framesTotal.WithLabelValues("unknown")) - before; got != 1 {
		t.Errorf("unknown frame delta = %v, want 1", got)
	}

	before = testutil.ToFloat64(hucRunsTotal.WithLabelValues("pak_integration"))
	RecordHucRun("PAK_INTEGRATION")
	if got := testutil.ToFloat64(hucRunsTotal.WithLabelValues("pak_integration")) - before; got != 1 {
		t.Errorf("pak_integration delta = %v, want 1", got)
	}
}

func TestSetResourceUsage(t *testing.T) {
	SetResourceUsage(3, 4096)
	if got := testutil.ToFloat64(resourceCount); got != 3 {
		t.Errorf("allocated_buffers = %v, want 3", got)
	}
	if got := testutil.ToFloat64(resourceBytes); got != 4096 {
		t.Errorf("allocated_bytes = %v, want 4096", got)
	}
	ObservePassBuild(2, time.Millisecond)
	if n := testutil.CollectAndCount(passBuildSeconds); n < 1 {
		t.Errorf("pass build histogram series = %d, want >= 1", n)
	}
}
