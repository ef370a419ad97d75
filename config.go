package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the immutable run configuration. It is loaded once from YAML,
// validated, and passed by value into every component; nothing re-reads
// the file after startup.
type Config struct {
	// Output directory for bootstrap archives
	Path string `yaml:"path"`
	// Output directory for plots and reports (consumed by the
	// presentation layer, not by the pipeline itself)
	SavePath string `yaml:"save_path"`
	// Directory of input CSV files, one per climate index
	DataDir string `yaml:"data_dir"`
	// Names of the indices to retain; the dataset builder intersects
	// this list with the indices actually present in DataDir
	Variables []string `yaml:"variables"`

	TauMin int     `yaml:"tau_min"`
	TauMax int     `yaml:"tau_max"`
	Alpha  float64 `yaml:"significance_level"`

	// Inclusive [start, end] month indices of one annual cycle; the
	// span defines the bootstrap block length (12 for a full year)
	RangeMonths [2]int `yaml:"range_months"`

	// Number of bootstrap iterations; 0 means a single deterministic
	// discovery+estimation pass with no resampling
	BootIters int `yaml:"boot_iters"`
}

// LagConfig is the slice of Config the discovery and estimation steps need.
type LagConfig struct {
	TauMin int
	TauMax int
	Alpha  float64
}

// Lags returns the lag/significance subset of the run configuration.
func (c Config) Lags() LagConfig {
	return LagConfig{TauMin: c.TauMin, TauMax: c.TauMax, Alpha: c.Alpha}
}

// BlockSize returns the length of one annual block in time steps.
func (c Config) BlockSize() int {
	return c.RangeMonths[1] - c.RangeMonths[0] + 1
}

// LoadConfig reads and validates the YAML run configuration.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration before any computation starts.
// Anything wrong here is a configuration error and fails fast.
func (c Config) Validate() error {
	if c.TauMin < 0 {
		return fmt.Errorf("tau_min must be >= 0, got %d", c.TauMin)
	}
	// tau_max 0 is legal: the search then tests contemporaneous links only
	// and the mediation fit has no lagged parents to estimate.
	if c.TauMax < c.TauMin {
		return fmt.Errorf("tau_max (%d) must be >= tau_min (%d)", c.TauMax, c.TauMin)
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("significance_level must be in (0,1), got %g", c.Alpha)
	}
	if c.BootIters < 0 {
		return fmt.Errorf("boot_iters must be >= 0, got %d", c.BootIters)
	}
	if c.BlockSize() < 1 {
		return fmt.Errorf("range_months [%d,%d] spans no months", c.RangeMonths[0], c.RangeMonths[1])
	}
	if len(c.Variables) == 0 {
		return fmt.Errorf("variables list is empty")
	}
	if c.BootIters > 0 && c.Path == "" {
		return fmt.Errorf("path must be set when boot_iters > 0 (archive output directory)")
	}
	return nil
}
