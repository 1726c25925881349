package pulsesync

import (
	"fmt"

	"github.com/ratlab/pulsesync/pkg/pulsesync/align"
	"github.com/ratlab/pulsesync/pkg/pulsesync/clockmap"
	"github.com/ratlab/pulsesync/pkg/pulsesync/pulse"
)

// Config enumerates every tunable of the synchronization pipeline. There are
// no hidden or dynamic settings: a missing tuning parameter is a compile- or
// validate-time problem, not a silent default at depth.
type Config struct {
	// Edge detection.
	HighThreshold    float64
	LowThreshold     float64
	MinHoldTime      float64
	MinPulseWidth    float64
	DebounceInterval float64
	DedupEpsilon     float64

	// Matching.
	MatchTolerance  float64
	MinMatchedPairs int

	// Fitting.
	PolynomialDegree  int
	ResidualTolerance float64
	MaxOutlierRounds  int

	// Validation.
	MinMatchRatio float64

	// Application of the fitted mapping.
	DomainPolicy clockmap.DomainPolicy
}

// DefaultConfig returns tunings chosen for a 30 kHz digital sync channel
// against a robotics event log. Deployments are expected to override
// explicitly rather than rely on these being universal.
func DefaultConfig() Config {
	return Config{
		HighThreshold:     0.5,
		LowThreshold:      0.2,
		MinHoldTime:       0,
		MinPulseWidth:     1e-4,
		DebounceInterval:  5e-4,
		DedupEpsilon:      1e-4,
		MatchTolerance:    0.01,
		MinMatchedPairs:   8,
		PolynomialDegree:  1,
		ResidualTolerance: 1e-3,
		MaxOutlierRounds:  10,
		MinMatchRatio:     0.5,
		DomainPolicy:      clockmap.PolicyReject,
	}
}

// maxDegree caps the polynomial degree by policy, not by data-driven model
// selection.
const maxDegree = 3

// Validate rejects incoherent tunings before any computation starts.
func (c Config) Validate() error {
	if c.HighThreshold <= c.LowThreshold {
		return fmt.Errorf("high threshold %v must exceed low threshold %v", c.HighThreshold, c.LowThreshold)
	}
	if c.MinPulseWidth < 0 || c.MinHoldTime < 0 || c.DebounceInterval < 0 || c.DedupEpsilon < 0 {
		return fmt.Errorf("pulse-width, hold, debounce, and dedup durations must be non-negative")
	}
	if c.MatchTolerance <= 0 {
		return fmt.Errorf("match tolerance must be positive, got %v", c.MatchTolerance)
	}
	if c.MinMatchedPairs < 2 {
		return fmt.Errorf("minimum matched pairs must be at least 2, got %d", c.MinMatchedPairs)
	}
	if c.PolynomialDegree < 1 || c.PolynomialDegree > maxDegree {
		return fmt.Errorf("polynomial degree must be in [1, %d], got %d", maxDegree, c.PolynomialDegree)
	}
	if c.ResidualTolerance <= 0 {
		return fmt.Errorf("residual tolerance must be positive, got %v", c.ResidualTolerance)
	}
	if c.MaxOutlierRounds < 0 {
		return fmt.Errorf("max outlier rounds must be non-negative, got %d", c.MaxOutlierRounds)
	}
	if c.MinMatchRatio < 0 || c.MinMatchRatio > 1 {
		return fmt.Errorf("min match ratio must be in [0, 1], got %v", c.MinMatchRatio)
	}
	return nil
}

func (c Config) pulseParams() pulse.Params {
	return pulse.Params{
		HighThreshold:    c.HighThreshold,
		LowThreshold:     c.LowThreshold,
		MinHoldTime:      c.MinHoldTime,
		MinPulseWidth:    c.MinPulseWidth,
		DebounceInterval: c.DebounceInterval,
		DedupEpsilon:     c.DedupEpsilon,
	}
}

func (c Config) matchParams() align.Params {
	return align.Params{
		Tolerance: c.MatchTolerance,
		MinPairs:  c.MinMatchedPairs,
	}
}

func (c Config) fitParams() clockmap.Params {
	return clockmap.Params{
		Degree:            c.PolynomialDegree,
		ResidualTolerance: c.ResidualTolerance,
		MaxOutlierRounds:  c.MaxOutlierRounds,
	}
}

func (c Config) thresholds() clockmap.Thresholds {
	return clockmap.Thresholds{
		MinMatchedPairs: c.MinMatchedPairs,
		MinMatchRatio:   c.MinMatchRatio,
	}
}

// Option configures the service constructor.
type Option func(*options)

type options struct {
	cfg    Config
	logger Logger
	store  Store
	dbPath string
}

// WithConfig replaces the default pipeline configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger injects a logger.
func WithLogger(log Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithStore injects a mapping store, bypassing the default sqlite store.
func WithStore(st Store) Option {
	return func(o *options) { o.store = st }
}

// WithDBPath sets the sqlite file used by the default store.
func WithDBPath(path string) Option {
	return func(o *options) { o.dbPath = path }
}
