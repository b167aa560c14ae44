package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tribolab-data/friction.report/internal/cof"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the measurement parameters of the friction tester.
// The schema matches the /api/config endpoint so the same JSON can be used
// for both startup configuration and inspection at runtime.
type TuningConfig struct {
	// TrimFraction is the portion of each pass discarded from each end
	// before pairing, in [0, 0.5). Excludes acceleration/deceleration and
	// electrical edge transients.
	TrimFraction *float64 `json:"trim_fraction,omitempty"`

	// NormalForceLb is the applied normal force in pounds used to
	// normalise the averaged friction force. Used when a run does not
	// report its own value.
	NormalForceLb *float64 `json:"normal_force_lb,omitempty"`

	// AveragingMethod selects the reduction strategy: "percentile_band"
	// or "one_stddev".
	AveragingMethod *string `json:"averaging_method,omitempty"`

	// MinSamplesPerPass rejects runs whose passes are implausibly short
	// before the calculation is even attempted.
	MinSamplesPerPass *int `json:"min_samples_per_pass,omitempty"`

	// RunTimeout is how long an open run may sit without completing
	// before it is discarded, as a duration string like "30s".
	RunTimeout *string `json:"run_timeout,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into an empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.TrimFraction != nil {
		if *c.TrimFraction < 0 || *c.TrimFraction >= 0.5 {
			return fmt.Errorf("trim_fraction must be in [0, 0.5), got %f", *c.TrimFraction)
		}
	}

	if c.NormalForceLb != nil {
		if *c.NormalForceLb < 0 {
			return fmt.Errorf("normal_force_lb must be non-negative, got %f", *c.NormalForceLb)
		}
	}

	if c.AveragingMethod != nil && *c.AveragingMethod != "" {
		if _, err := cof.AveragerByName(*c.AveragingMethod); err != nil {
			return fmt.Errorf("invalid averaging_method: %w", err)
		}
	}

	if c.MinSamplesPerPass != nil {
		if *c.MinSamplesPerPass < 0 {
			return fmt.Errorf("min_samples_per_pass must be non-negative, got %d", *c.MinSamplesPerPass)
		}
	}

	if c.RunTimeout != nil && *c.RunTimeout != "" {
		if _, err := time.ParseDuration(*c.RunTimeout); err != nil {
			return fmt.Errorf("invalid run_timeout '%s': %w", *c.RunTimeout, err)
		}
	}

	return nil
}

// GetTrimFraction returns the trim_fraction value or the default.
// The default matches the tester geometry: a quarter of the sled
// acceleration ramp over a three-unit travel.
func (c *TuningConfig) GetTrimFraction() float64 {
	if c.TrimFraction == nil {
		return 0.25 / 3.0
	}
	return *c.TrimFraction
}

// GetNormalForceLb returns the normal_force_lb value or the default.
func (c *TuningConfig) GetNormalForceLb() float64 {
	if c.NormalForceLb == nil {
		return 4.4 // standard sled weight
	}
	return *c.NormalForceLb
}

// GetAveragingMethod returns the averaging_method value or the default.
func (c *TuningConfig) GetAveragingMethod() string {
	if c.AveragingMethod == nil || *c.AveragingMethod == "" {
		return cof.MethodPercentileBand
	}
	return *c.AveragingMethod
}

// GetMinSamplesPerPass returns the min_samples_per_pass value or the default.
func (c *TuningConfig) GetMinSamplesPerPass() int {
	if c.MinSamplesPerPass == nil {
		return 0
	}
	return *c.MinSamplesPerPass
}

// GetRunTimeout parses and returns the RunTimeout as a time.Duration.
func (c *TuningConfig) GetRunTimeout() time.Duration {
	if c.RunTimeout == nil || *c.RunTimeout == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.RunTimeout)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}
