package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sportball/sidecar/internal/sidecar"
)

// Config describes the application level configuration loaded from json.
// Every field has a working default, so library callers can use the zero
// Config and CLI users may omit the config file entirely.
type Config struct {
	// DefaultFormat is the format token for newly created sidecar files
	// ("json", "bin", "rkyv"). Defaults to "bin".
	DefaultFormat string `json:"default_format"`
	// Workers bounds the validation worker pool; zero means one worker
	// per host CPU core.
	Workers int `json:"workers"`
	// ImageExtensions overrides the recognized image extensions.
	ImageExtensions []string `json:"image_extensions"`
	// DetectorKeys extends the detector key table used for operation
	// extraction. Entries are matched in order, built-ins first.
	DetectorKeys []sidecar.DetectorKey `json:"detector_keys"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{DefaultFormat: string(sidecar.DefaultFormat)}
}

// LoadFirst tries to load configuration from the given paths, returning
// the first successfully decoded configuration. When none of the paths
// contain a readable config the defaults are returned.
func LoadFirst(paths ...string) (*Config, error) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		cfg, err := Load(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Default(), nil
}

// Load reads configuration from a single json file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate performs basic validation of the configuration.
func (c *Config) Validate() error {
	if c.DefaultFormat != "" {
		if _, err := sidecar.ParseFormat(c.DefaultFormat); err != nil {
			return fmt.Errorf("config.default_format: %w", err)
		}
	}
	if c.Workers < 0 {
		return errors.New("config.workers must not be negative")
	}
	for _, entry := range c.DetectorKeys {
		if entry.Key == "" {
			return errors.New("config.detector_keys entries require a key")
		}
	}
	return nil
}

// ManagerOptions converts the configuration into sidecar manager options.
func (c *Config) ManagerOptions() sidecar.Options {
	opts := sidecar.Options{
		ImageExtensions: c.ImageExtensions,
	}
	if c.DefaultFormat != "" {
		if format, err := sidecar.ParseFormat(c.DefaultFormat); err == nil {
			opts.DefaultFormat = format
		}
	}
	if len(c.DetectorKeys) > 0 {
		opts.DetectorKeys = append(sidecar.DefaultDetectorKeys(), c.DetectorKeys...)
	}
	return opts
}
