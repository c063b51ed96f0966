package vdenc

// Option configures an Encoder during creation.
// Options are applied on top of DefaultConfig, or on top of the
// configuration passed with WithConfig.
//
// Example:
//
//	// Two pipes with HuC stitching
//	enc, err := vdenc.New(alloc, xehpm.New(), vdenc.WithNumPipes(2))
type Option func(*Config)

// WithConfig replaces the whole configuration, typically one returned
// by LoadConfig. Options after it still apply.
func WithConfig(c Config) Option {
	return func(o *Config) {
		*o = c
	}
}

// WithNumPipes sets the number of pipes a frame is split across.
// Values other than 1, 2 and 4 make New fail.
func WithNumPipes(n int) Option {
	return func(o *Config) {
		o.NumPipes = n
	}
}

// WithMaxPasses sets the number of rate-control passes.
func WithMaxPasses(n int) Option {
	return func(o *Config) {
		o.MaxPasses = n
	}
}

// WithRecycledSets sets the number of recycled buffer sets.
func WithRecycledSets(n int) Option {
	return func(o *Config) {
		o.RecycledSets = n
	}
}

// WithHuC enables or disables HuC PAK integration.
//
// Example:
//
//	// Scalable encode without firmware stitching
//	enc, err := vdenc.New(alloc, xehpm.New(), vdenc.WithNumPipes(2), vdenc.WithHuC(false))
func WithHuC(enabled bool) Option {
	return func(o *Config) {
		o.HucEnabled = enabled
	}
}

// WithHucAuthCheck enables the one-time HuC authentication check.
func WithHucAuthCheck(enabled bool) Option {
	return func(o *Config) {
		o.HucAuthCheck = enabled
	}
}

// WithHME marks hierarchical motion estimation as enabled.
func WithHME(enabled bool) Option {
	return func(o *Config) {
		o.HmeEnabled = enabled
	}
}

// WithKeyFrameMergeWorkaround restricts key frame merge candidates.
func WithKeyFrameMergeWorkaround(enabled bool) Option {
	return func(o *Config) {
		o.KeyFrameMergeWorkaround = enabled
	}
}

// WithProtected routes bitstream stitching through the content
// protection path.
func WithProtected(enabled bool) Option {
	return func(o *Config) {
		o.Protected = enabled
	}
}
