package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// MaxFileSizeBytes is the upload budget for a normalized image (20 MiB)
	MaxFileSizeBytes = 20 * 1024 * 1024
	// SearchEndpoint is the trace.moe search API
	SearchEndpoint = "https://api.trace.moe/search"
)

// Policy holds the normalization and submit constants. The defaults are the
// production values; a YAML file may override them for experiments.
type Policy struct {
	MaxBytes       int     `yaml:"max_bytes"`
	FirstQuality   float64 `yaml:"first_quality"`
	SecondQuality  float64 `yaml:"second_quality"`
	RetryAttempts  int     `yaml:"retry_attempts"`
	Endpoint       string  `yaml:"endpoint"`
	CutBorders     bool    `yaml:"cut_borders"`
	MaxUploadBytes int64   `yaml:"max_upload_bytes"`
	MaxPixels      int64   `yaml:"max_pixels"`
	CacheSize      int     `yaml:"cache_size"`
}

// Default returns the built-in policy
func Default() Policy {
	return Policy{
		MaxBytes:       MaxFileSizeBytes,
		FirstQuality:   0.7,
		SecondQuality:  0.5,
		RetryAttempts:  2,
		Endpoint:       SearchEndpoint,
		MaxUploadBytes: 64 * 1024 * 1024,
		MaxPixels:      40_000_000,
		CacheSize:      128,
	}
}

// Load reads a YAML policy file on top of the defaults. An empty path returns the defaults.
func Load(path string) (Policy, error) {
	policy := Default()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return policy, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return policy, nil
}

// Validate rejects values the normalizer or orchestrator cannot work with
func (p Policy) Validate() error {
	if p.MaxBytes <= 0 {
		return fmt.Errorf("max_bytes must be positive, got %d", p.MaxBytes)
	}
	for name, q := range map[string]float64{"first_quality": p.FirstQuality, "second_quality": p.SecondQuality} {
		if q <= 0 || q > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %v", name, q)
		}
	}
	if p.SecondQuality > p.FirstQuality {
		return fmt.Errorf("second_quality (%v) must not exceed first_quality (%v)", p.SecondQuality, p.FirstQuality)
	}
	if p.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must not be negative, got %d", p.RetryAttempts)
	}
	if p.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if p.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", p.MaxUploadBytes)
	}
	if p.MaxPixels <= 0 {
		return fmt.Errorf("max_pixels must be positive, got %d", p.MaxPixels)
	}
	return nil
}
