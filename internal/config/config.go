// Package config loads process configuration from a YAML or TOML file,
// applies environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/modeltree/internal/logging"
	"github.com/signalsfoundry/modeltree/internal/observability"
	"github.com/signalsfoundry/modeltree/timectrl"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

const dateLayout = "2006-01-02"

type Config struct {
	Log        LogConfig        `yaml:"log" toml:"log"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Simulation SimulationConfig `yaml:"simulation" toml:"simulation"`
	Tracing    TracingConfig    `yaml:"tracing" toml:"tracing"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" toml:"format" validate:"oneof=text json"`
}

type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr" toml:"grpc_addr" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr" toml:"metrics_addr"`
}

// SimulationConfig describes the simulation to load and how to clock it.
// Durations are Go duration strings, Start is a date.
type SimulationConfig struct {
	Name        string `yaml:"name" toml:"name" validate:"required"`
	Model       string `yaml:"model" toml:"model"`
	Steps       int    `yaml:"steps" toml:"steps" validate:"gte=0"`
	Mode        string `yaml:"mode" toml:"mode" validate:"oneof=accelerated realtime"`
	Interval    string `yaml:"interval" toml:"interval"`
	Start       string `yaml:"start" toml:"start"`
	Step        string `yaml:"step" toml:"step"`
	StrictLinks bool   `yaml:"strict_links" toml:"strict_links"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" toml:"enabled"`
	Exporter    string  `yaml:"exporter" toml:"exporter" validate:"oneof=stdout otlp otlpgrpc"`
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	ServiceName string  `yaml:"service_name" toml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			GRPCAddr:    ":50051",
			MetricsAddr: ":9090",
		},
		Simulation: SimulationConfig{
			Name:        "Simulation",
			Mode:        "accelerated",
			Interval:    "1s",
			Start:       "2000-01-01",
			Step:        "24h",
			StrictLinks: true,
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "modeltree",
			SampleRatio: 1,
		},
	}
}

// Load reads path over the defaults. Files ending in .toml are TOML,
// anything else is YAML. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Decode(data, filepath.Ext(path), &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode unmarshals data into cfg using the format implied by ext.
func Decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode yaml: %w", err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg from the environment through lookup, which is
// usually os.LookupEnv. Unparseable values are reported, not ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("MODELTREE_GRPC_ADDR", &cfg.Server.GRPCAddr)
	str("MODELTREE_METRICS_ADDR", &cfg.Server.MetricsAddr)
	str("MODELTREE_MODEL", &cfg.Simulation.Model)
	str("MODELTREE_TRACING_EXPORTER", &cfg.Tracing.Exporter)
	str("MODELTREE_TRACING_SERVICE_NAME", &cfg.Tracing.ServiceName)
	str("MODELTREE_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)

	if v, ok := lookup("MODELTREE_TRACING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: MODELTREE_TRACING_ENABLED: %v", ErrInvalidConfig, err)
		}
		cfg.Tracing.Enabled = b
	}
	if v, ok := lookup("MODELTREE_TRACING_SAMPLE_RATIO"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: MODELTREE_TRACING_SAMPLE_RATIO: %v", ErrInvalidConfig, err)
		}
		cfg.Tracing.SampleRatio = f
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and that durations and dates parse.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Simulation.IntervalDuration(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Simulation.StepDuration(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Simulation.StartTime(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Logging returns the logger settings.
func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// TracingSetup returns the tracer provider settings.
func (c Config) TracingSetup() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}

func (s SimulationConfig) IntervalDuration() (time.Duration, error) {
	return positiveDuration("interval", s.Interval)
}

func (s SimulationConfig) StepDuration() (time.Duration, error) {
	return positiveDuration("step", s.Step)
}

func (s SimulationConfig) StartTime() (time.Time, error) {
	t, err := time.Parse(dateLayout, s.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("start: %w", err)
	}
	return t, nil
}

// Clock builds the time controller for the simulation. Validate first.
func (s SimulationConfig) Clock() *timectrl.TimeController {
	start, _ := s.StartTime()
	step, _ := s.StepDuration()
	interval, _ := s.IntervalDuration()
	mode, _ := timectrl.ParseMode(s.Mode)

	tc := timectrl.NewTimeController(start, step, mode)
	tc.Interval = interval
	return tc
}

func positiveDuration(name, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return d, nil
}
