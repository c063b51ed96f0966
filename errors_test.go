package vdenc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gogpu/vdenc/internal/cmdbuf"
	"github.com/gogpu/vdenc/internal/huc"
	"github.com/gogpu/vdenc/internal/hw"
	"github.com/gogpu/vdenc/internal/pipe"
	"github.com/gogpu/vdenc/internal/resource"
	"github.com/gogpu/vdenc/internal/stats"
	"github.com/gogpu/vdenc/internal/tile"
)

func TestClassify(t *testing.T) {
	other := errors.New("boom")
	tests := []struct {
		name string
		in   error
		want error
		kind string
	}{
		{"tile config", fmt.Errorf("x: %w", tile.ErrTooManyTiles), ErrInvalidParameter, "invalid_parameter"},
		{"pipe count", pipe.ErrInvalidPipeCount, ErrInvalidParameter, "invalid_parameter"},
		{"uneven tiles", stats.ErrUnevenTiles, ErrInvalidParameter, "invalid_parameter"},
		{"huc params", huc.ErrInvalidParams, ErrInvalidParameter, "invalid_parameter"},
		{"nil destination", hw.ErrNullDestination, ErrNullResource, "null_resource"},
		{"missing region", huc.ErrMissingRegion, ErrNullResource, "null_resource"},
		{"nil buffer", cmdbuf.ErrNilBuffer, ErrNullResource, "null_resource"},
		{"no space", fmt.Errorf("pad: %w", cmdbuf.ErrNoSpace), ErrNoSpace, "no_space"},
		{"device", ErrDeviceNotResponding, ErrDeviceNotResponding, "device_not_responding"},
		{"upload", fmt.Errorf("dmem: %w", resource.ErrTransfer), ErrDeviceNotResponding, "device_not_responding"},
		{"other", other, other, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.in)
			if !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if !errors.Is(got, tt.in) {
				t.Errorf("classify(%v) = %v lost the cause", tt.in, got)
			}
			if k := errorKind(got); k != tt.kind {
				t.Errorf("errorKind(%v) = %q, want %q", got, k, tt.kind)
			}
		})
	}
	if classify(nil) != nil {
		t.Error("classify(nil) != nil")
	}
}

func TestClassifyIdempotent(t *testing.T) {
	once := classify(tile.ErrInvalidTileConfig)
	if twice := classify(once); twice != once {
		t.Errorf("classify wrapped twice: %v", twice)
	}
	if got := invalidParam(ErrInvalidParameter); got != ErrInvalidParameter {
		t.Errorf("invalidParam(ErrInvalidParameter) = %v", got)
	}
}
