// Package config loads the soak tool configuration.
//
// Sources are applied in order, later ones overriding earlier ones:
// built-in defaults, an optional YAML file, then REFMAP_ environment
// variables. Command line flags are applied by the caller on top.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/llxisdsh/refmap"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "REFMAP_"

// Config is the soak tool configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	Soak    SoakConfig    `koanf:"soak"`
}

// LogConfig configures the hclog logger.
type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Address is the listen address of the /metrics endpoint. Empty
	// disables it.
	Address string `koanf:"address"`
}

// SoakConfig configures the workload.
type SoakConfig struct {
	Duration       time.Duration `koanf:"duration"`
	Identities     int           `koanf:"identities"`
	Writers        int           `koanf:"writers"`
	Readers        int           `koanf:"readers"`
	Rate           float64       `koanf:"rate"`
	Burst          int           `koanf:"burst"`
	ValueStrength  string        `koanf:"value_strength"`
	SoftLimit      uint64        `koanf:"soft_limit"`
	ReportInterval time.Duration `koanf:"report_interval"`
	// Snapshot, when set, is the file the tracked positions are
	// written to on shutdown.
	Snapshot string `koanf:"snapshot"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Metrics: MetricsConfig{
			Address: "127.0.0.1:9464",
		},
		Soak: SoakConfig{
			Duration:       time.Minute,
			Identities:     10_000,
			Writers:        4,
			Readers:        4,
			Rate:           50_000,
			Burst:          1_000,
			ValueStrength:  "weak",
			ReportInterval: 10 * time.Second,
		},
	}
}

// Loader loads configuration from a file and the environment.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
}

// Option is a function that configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the defaults overridden by the file and the environment,
// validated.
func (l *Loader) Load() (Config, error) {
	cfg := Default()
	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}

	// REFMAP_SOAK_VALUE_STRENGTH -> soak.value_strength
	transform := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		return strings.Replace(s, "_", ".", 1)
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return cfg, fmt.Errorf("load env: %w", err)
	}

	if err := l.k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Soak.Identities <= 0 {
		errs = append(errs, fmt.Errorf("soak.identities must be positive, got %d", c.Soak.Identities))
	}
	if c.Soak.Writers <= 0 {
		errs = append(errs, fmt.Errorf("soak.writers must be positive, got %d", c.Soak.Writers))
	}
	if c.Soak.Readers < 0 {
		errs = append(errs, fmt.Errorf("soak.readers must not be negative, got %d", c.Soak.Readers))
	}
	if c.Soak.Rate < 0 {
		errs = append(errs, fmt.Errorf("soak.rate must not be negative, got %v", c.Soak.Rate))
	}
	if c.Soak.Rate > 0 && c.Soak.Burst <= 0 {
		errs = append(errs, fmt.Errorf("soak.burst must be positive when rate is set, got %d", c.Soak.Burst))
	}
	if c.Soak.Duration < 0 {
		errs = append(errs, fmt.Errorf("soak.duration must not be negative, got %v", c.Soak.Duration))
	}
	if c.Soak.ReportInterval <= 0 {
		errs = append(errs, fmt.Errorf("soak.report_interval must be positive, got %v", c.Soak.ReportInterval))
	}
	if _, err := refmap.ParseStrength(c.Soak.ValueStrength); err != nil {
		errs = append(errs, fmt.Errorf("soak.value_strength: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Strength returns the parsed value strength. It must only be called on
// a validated Config.
func (c SoakConfig) Strength() refmap.Strength {
	s, _ := refmap.ParseStrength(c.ValueStrength)
	return s
}
