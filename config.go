package vdenc

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/vdenc/internal/pipe"
	"github.com/gogpu/vdenc/internal/resource"
)

// Platform limits.
const (
	// MaxPipes is the largest number of VDBOX pipes one frame can use.
	MaxPipes = pipe.MaxPipes

	// MaxBrcPasses is the largest number of rate-control passes per frame.
	MaxBrcPasses = 4

	// DefaultRecycledSets is the number of recycled buffer sets, which
	// bounds the frames in flight.
	DefaultRecycledSets = 6

	// DefaultMaxTiles is the platform tile limit per frame.
	DefaultMaxTiles = 64
)

// Config holds the encoder configuration.
type Config struct {
	// NumPipes is the number of pipes a frame is split across (1, 2 or 4).
	NumPipes int `yaml:"num_pipes"`

	// MaxPasses is the number of rate-control passes when BRC is on.
	MaxPasses int `yaml:"max_passes"`

	// RecycledSets is the number of per-frame buffer sets.
	RecycledSets int `yaml:"recycled_sets"`

	// MaxTiles is the platform tile limit.
	MaxTiles int `yaml:"max_tiles"`

	// HucEnabled runs the HuC PAK integration kernel in scalable mode.
	HucEnabled bool `yaml:"huc_enabled"`

	// TilingSupported allows more than one tile column.
	TilingSupported bool `yaml:"tiling_supported"`

	// HucAuthCheck polls the HuC authentication status once per encoder
	// before the first firmware run.
	HucAuthCheck bool `yaml:"huc_auth_check"`

	// HmeEnabled clears the stream-in buffer even without a segment map,
	// because the motion search writes its predictors into it.
	HmeEnabled bool `yaml:"hme_enabled"`

	// KeyFrameMergeWorkaround restricts key frame stream-in records to
	// 8x8 merge candidates.
	KeyFrameMergeWorkaround bool `yaml:"key_frame_merge_workaround"`

	// Protected routes stitching through the content protection path.
	Protected bool `yaml:"protected"`

	// Resource configures the buffer allocator.
	Resource resource.Config `yaml:"resource"`
}

// DefaultConfig returns the defaults of the Xe-HPM platform.
func DefaultConfig() Config {
	return Config{
		NumPipes:        1,
		MaxPasses:       3,
		RecycledSets:    DefaultRecycledSets,
		MaxTiles:        DefaultMaxTiles,
		HucEnabled:      true,
		TilingSupported: true,
		Resource:        resource.Config{BudgetMB: resource.DefaultBudgetMB},
	}
}

// Validate checks the configuration. Errors wrap ErrInvalidParameter.
func (c Config) Validate() error {
	var errs []error
	if err := pipe.Validate(c.NumPipes); err != nil {
		errs = append(errs, err)
	}
	if c.NumPipes > 1 && !c.TilingSupported {
		errs = append(errs, fmt.Errorf("%d pipes need tiling support", c.NumPipes))
	}
	if c.MaxPasses < 1 || c.MaxPasses > MaxBrcPasses {
		errs = append(errs, fmt.Errorf("max_passes %d outside [1, %d]", c.MaxPasses, MaxBrcPasses))
	}
	if c.RecycledSets < 1 {
		errs = append(errs, fmt.Errorf("recycled_sets %d must be positive", c.RecycledSets))
	}
	if c.MaxTiles < 1 {
		errs = append(errs, fmt.Errorf("max_tiles %d must be positive", c.MaxTiles))
	}
	if len(errs) == 0 {
		return nil
	}
	return invalidParam(errors.Join(errs...))
}

// LoadConfig reads a YAML configuration on top of DefaultConfig.
// Unknown keys are rejected.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("vdenc: parse config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Config{}, errors.New("vdenc: config contains multiple documents or trailing content")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
