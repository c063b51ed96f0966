package vdenc

import (
	"errors"
	"fmt"

	"github.com/gogpu/vdenc/internal/cmdbuf"
	"github.com/gogpu/vdenc/internal/huc"
	"github.com/gogpu/vdenc/internal/hw"
	"github.com/gogpu/vdenc/internal/pipe"
	"github.com/gogpu/vdenc/internal/resource"
	"github.com/gogpu/vdenc/internal/stats"
	"github.com/gogpu/vdenc/internal/streamin"
	"github.com/gogpu/vdenc/internal/tile"
)

// Errors returned by the encoder. Test them with errors.Is; every step
// wraps one of these with the failing buffer or parameter.
var (
	// ErrInvalidParameter reports a configuration the encoder cannot run:
	// an unsupported pipe count, too many tiles, tiles that do not divide
	// across the pipes, or calls made out of order. Never retried.
	ErrInvalidParameter = errors.New("vdenc: invalid parameter")

	// ErrNullResource reports a required buffer that is nil or freed.
	ErrNullResource = resource.ErrNullResource

	// ErrNoSpace reports a command or batch buffer without room for the
	// next command.
	ErrNoSpace = cmdbuf.ErrNoSpace

	// ErrDeviceNotResponding reports that the HuC never reported a
	// successful firmware authentication before the watchdog expired, or
	// that an upload to or readback from the device failed.
	ErrDeviceNotResponding = errors.New("vdenc: device not responding")
)

// invalidParam marks err as a configuration error.
func invalidParam(err error) error {
	if err == nil || errors.Is(err, ErrInvalidParameter) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
}

// inputErrors are the internal errors caused by caller configuration.
var inputErrors = []error{
	tile.ErrInvalidTileConfig,
	pipe.ErrInvalidPipeCount,
	pipe.ErrInvalidPass,
	pipe.ErrUnevenColumns,
	stats.ErrTooManyPipes,
	stats.ErrUnevenTiles,
	stats.ErrInvalidTileCount,
	huc.ErrInvalidParams,
	hw.ErrInvalidCommand,
	streamin.ErrInvalidTargetUsage,
	streamin.ErrShortSegmentMap,
}

// missingErrors are the internal errors caused by a nil buffer.
var missingErrors = []error{
	hw.ErrNullDestination,
	huc.ErrMissingRegion,
	cmdbuf.ErrNilBuffer,
}

// classify maps an internal error onto the exported taxonomy.
func classify(err error) error {
	if err == nil ||
		errors.Is(err, ErrInvalidParameter) ||
		errors.Is(err, ErrNullResource) ||
		errors.Is(err, ErrDeviceNotResponding) {
		return err
	}
	for _, target := range missingErrors {
		if errors.Is(err, target) {
			return fmt.Errorf("%w: %w", ErrNullResource, err)
		}
	}
	if errors.Is(err, resource.ErrTransfer) {
		return fmt.Errorf("%w: %w", ErrDeviceNotResponding, err)
	}
	if errors.Is(err, ErrNoSpace) {
		return err
	}
	for _, target := range inputErrors {
		if errors.Is(err, target) {
			return invalidParam(err)
		}
	}
	return err
}

// errorKind returns the metrics label of err.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrNullResource):
		return "null_resource"
	case errors.Is(err, ErrNoSpace):
		return "no_space"
	case errors.Is(err, ErrDeviceNotResponding):
		return "device_not_responding"
	default:
		return "other"
	}
}
