// Package config loads the spawnpool runtime configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/spawnpool/internal/logging"
)

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// DefaultPath is used when neither a path nor SPAWNPOOL_CONFIG is given.
const DefaultPath = "config/spawnpool.yaml"

// AppConfig is the root configuration document.
type AppConfig struct {
	Environment Environment      `yaml:"environment"`
	Logging     logging.Config   `yaml:"logging"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Prefabs     []PrefabConfig   `yaml:"prefabs"`
	Simulation  SimulationConfig `yaml:"simulation"`
}

// TelemetryConfig configures OTLP exporters. An empty endpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint   string        `yaml:"otlpEndpoint"`
	ServiceName    string        `yaml:"serviceName"`
	SampleRatio    float64       `yaml:"sampleRatio"`
	ExportInterval time.Duration `yaml:"exportInterval"`
}

// DefaultExportInterval is the metric push period when none is configured.
const DefaultExportInterval = 15 * time.Second

// MetricsConfig controls the HTTP listener serving /metrics and /debug/pools.
// An empty address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// PrefabConfig declares a template and the size of its pool.
type PrefabConfig struct {
	Name      string `yaml:"name"`
	PoolCount int    `yaml:"poolCount"`
}

// SimulationConfig paces the spawn/return driver.
type SimulationConfig struct {
	Rate        float64       `yaml:"rate"`
	Burst       int           `yaml:"burst"`
	Workers     int           `yaml:"workers"`
	Duration    time.Duration `yaml:"duration"`
	ReturnRatio float64       `yaml:"returnRatio"`
}

// Default returns a small working configuration.
func Default() AppConfig {
	return AppConfig{
		Environment: EnvDev,
		Logging:     logging.DefaultConfig(),
		Telemetry: TelemetryConfig{
			ServiceName:    "spawnpool",
			SampleRatio:    1,
			ExportInterval: DefaultExportInterval,
		},
		Prefabs: []PrefabConfig{
			{Name: "bullet", PoolCount: 32},
			{Name: "enemy", PoolCount: 8},
		},
		Simulation: SimulationConfig{
			Rate:        200,
			Burst:       20,
			Workers:     4,
			Duration:    2 * time.Second,
			ReturnRatio: 0.8,
		},
	}
}

// Load reads path, applies environment overrides, then normalises and
// validates the result.
func Load(ctx context.Context, path string) (AppConfig, error) {
	path = resolvePath(path)
	file, err := os.Open(filepath.Clean(path)) // #nosec G304 -- configuration paths are controlled by operators.
	if err != nil {
		return AppConfig{}, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = file.Close() }()
	return Decode(ctx, file)
}

// LoadOrDefault behaves like Load but falls back to Default when the file
// does not exist.
func LoadOrDefault(ctx context.Context, path string) (AppConfig, error) {
	cfg, err := Load(ctx, path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, err
	}
	cfg = FromEnv(Default())
	cfg.Normalise()
	if err := cfg.Validate(ctx); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Decode parses a yaml document layered over Default.
func Decode(ctx context.Context, r io.Reader) (AppConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg = FromEnv(cfg)
	cfg.Normalise()
	if err := cfg.Validate(ctx); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// FromEnv overrides fields of base from SPAWNPOOL_* environment variables.
func FromEnv(base AppConfig) AppConfig {
	cfg := base.clone()
	if v := strings.TrimSpace(os.Getenv("SPAWNPOOL_ENV")); v != "" {
		cfg.Environment = Environment(v)
	}
	if v := strings.TrimSpace(os.Getenv("SPAWNPOOL_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("SPAWNPOOL_METRICS_ADDR")); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("SPAWNPOOL_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	return cfg
}

// Normalise trims and lowercases free-form fields and fills empty ones.
func (c *AppConfig) Normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Encoding = strings.ToLower(strings.TrimSpace(c.Logging.Encoding))
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "spawnpool"
	}
	if c.Telemetry.ExportInterval <= 0 {
		c.Telemetry.ExportInterval = DefaultExportInterval
	}
	c.Metrics.Addr = strings.TrimSpace(c.Metrics.Addr)
	for i := range c.Prefabs {
		c.Prefabs[i].Name = strings.TrimSpace(c.Prefabs[i].Name)
	}
	if c.Simulation.Workers <= 0 {
		c.Simulation.Workers = 1
	}
	if c.Simulation.Burst <= 0 {
		c.Simulation.Burst = 1
	}
}

// Validate performs semantic validation on a normalised configuration.
func (c AppConfig) Validate(ctx context.Context) error {
	_ = ctx
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be dev|staging|prod, got %q", c.Environment)
	}
	if len(c.Prefabs) == 0 {
		return fmt.Errorf("prefabs required")
	}
	seen := make(map[string]struct{}, len(c.Prefabs))
	for i, p := range c.Prefabs {
		if p.Name == "" {
			return fmt.Errorf("prefabs[%d]: name required", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("prefabs[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.PoolCount <= 0 {
			return fmt.Errorf("prefabs[%d]: poolCount must be >0", i)
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sampleRatio must be within [0,1]")
	}
	if c.Simulation.Rate <= 0 {
		return fmt.Errorf("simulation.rate must be >0")
	}
	if c.Simulation.Duration < 0 {
		return fmt.Errorf("simulation.duration must be >=0")
	}
	if c.Simulation.ReturnRatio < 0 || c.Simulation.ReturnRatio > 1 {
		return fmt.Errorf("simulation.returnRatio must be within [0,1]")
	}
	return nil
}

func (c AppConfig) clone() AppConfig {
	out := c
	if c.Prefabs != nil {
		out.Prefabs = append([]PrefabConfig(nil), c.Prefabs...)
	}
	if c.Logging.OutputPaths != nil {
		out.Logging.OutputPaths = append([]string(nil), c.Logging.OutputPaths...)
	}
	return out
}

func resolvePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("SPAWNPOOL_CONFIG"))
	}
	if path == "" {
		path = DefaultPath
	}
	return path
}
