// Package metrics provides Prometheus metrics for the encode orchestrator.
//
// Labels are bounded: opcodes, pipe counts, frame types and error kinds.
// No frame or encoder ids are used as labels.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vdenc"

var (
	commandsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cmd",
		Name:      "emitted_total",
		Help:      "Total number of hardware commands emitted, by opcode.",
	}, []string{"opcode"})

	commandBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cmd",
		Name:      "bytes_total",
		Help:      "Total number of command buffer bytes built.",
	})

	passBuildSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pass",
		Name:      "build_duration_seconds",
		Help:      "Time to build the command buffers of every pipe for one pass.",
		Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
	}, []string{"pipes"})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "Total number of frames prepared, by frame type.",
	}, []string{"frame_type"})

	hucRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "huc",
		Name:      "runs_total",
		Help:      "Total number of HuC firmware runs scheduled, by kernel.",
	}, []string{"kernel"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Total number of failed operations, by error kind.",
	}, []string{"kind"})

	resourceBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "resource",
		Name:      "allocated_bytes",
		Help:      "Bytes currently allocated by the encoder resource allocator.",
	})

	resourceCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "resource",
		Name:      "allocated_buffers",
		Help:      "Buffers currently allocated by the encoder resource allocator.",
	})
)

// RecordCommands counts the opcodes of one built command buffer and its size.
func RecordCommands[T ~uint16](ops []T, names func(T) string, bytes int) {
	for _, op := range ops {
		commandsEmitted.WithLabelValues(names(op)).Inc()
	}
	commandBytes.Add(float64(bytes))
}

// ObservePassBuild records the build time of one pass.
func ObservePassBuild(pipes int, d time.Duration) {
	passBuildSeconds.WithLabelValues(strconv.Itoa(pipes)).Observe(d.Seconds())
}

// RecordFrame counts one prepared frame.
func RecordFrame(frameType string) {
	framesTotal.WithLabelValues(normalizeFrameType(frameType)).Inc()
}

// RecordHucRun counts one scheduled firmware run.
func RecordHucRun(kernel string) {
	hucRunsTotal.WithLabelValues(normalizeKernel(kernel)).Inc()
}

// RecordError counts one failed operation.
func RecordError(kind string) {
	errorsTotal.WithLabelValues(normalizeErrorKind(kind)).Inc()
}

// SetResourceUsage publishes the allocator usage.
func SetResourceUsage(buffers int, bytes uint64) {
	resourceCount.Set(float64(buffers))
	resourceBytes.Set(float64(bytes))
}

func normalizeFrameType(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "key":
		return "key"
	case "inter":
		return "inter"
	default:
		return "unknown"
	}
}

func normalizeKernel(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pak_integration", "auth_check":
		return strings.ToLower(strings.TrimSpace(s))
	default:
		return "unknown"
	}
}

func normalizeErrorKind(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "invalid_parameter", "null_resource", "no_space", "device_not_responding":
		return strings.ToLower(strings.TrimSpace(s))
	default:
		return "other"
	}
}
