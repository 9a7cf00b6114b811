// Package config loads engine configuration from environment variables
// with a YAML file overlay, and builds the zap logger the rest of the
// engine threads through, following the teacher's
// EngineOptions/DefaultEngineOptions options-struct pattern.
package config

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// LogLevel mirrors the client API's four verbosity levels.
type LogLevel int

const (
	LogWarn LogLevel = iota
	LogInfo
	LogDebug
	LogTrace
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogWarn:
		return zapcore.WarnLevel
	case LogInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Backend names which node executor the engine should construct.
type Backend string

const (
	BackendHost       Backend = "host"
	BackendCuQuantum  Backend = "cuquantum"
)

// PlannerAlgorithm names which contraction planner algorithm to use by
// default (mirrors planner.Algorithm without importing it, to keep
// config dependency-free of the planning package).
type PlannerAlgorithm string

// CacheMode controls whether the plan cache persists to disk.
type CacheMode string

const (
	CacheModeMemory CacheMode = "memory"
	CacheModeDisk   CacheMode = "disk"
)

// Config is the engine's resolved configuration.
type Config struct {
	Backend      Backend          `yaml:"backend"`
	Planner      PlannerAlgorithm `yaml:"planner"`
	LogLevel     LogLevel         `yaml:"-"`
	LogLevelName string           `yaml:"log_level"`
	CacheMode    CacheMode        `yaml:"cache_mode"`
	CachePath    string           `yaml:"cache_path"`
	FastMath     bool             `yaml:"fast_math"`
	DryRun       bool             `yaml:"dry_run"`
	// MemoryCeilingLog2 caps the planner's peak intermediate volume (log2
	// space). Zero means unlimited; see planner.Options.MemoryCeilingLog2.
	MemoryCeilingLog2 float64 `yaml:"memory_ceiling_log2"`
}

// DefaultConfig returns the engine's baseline configuration.
func DefaultConfig() Config {
	return Config{
		Backend:      BackendHost,
		Planner:      "greed",
		LogLevel:     LogInfo,
		LogLevelName: "info",
		CacheMode:    CacheModeMemory,
		CachePath:    "",
		FastMath:     false,
		DryRun:       false,
	}
}

// LoadFromEnv overlays TN_BACKEND, TN_PLANNER, TN_LOG_LEVEL,
// TN_CACHE_MODE, TN_FAST_MATH, TN_DRY_RUN onto cfg where set.
func LoadFromEnv(cfg Config) (Config, error) {
	if v, ok := os.LookupEnv("TN_BACKEND"); ok {
		cfg.Backend = Backend(v)
	}
	if v, ok := os.LookupEnv("TN_PLANNER"); ok {
		cfg.Planner = PlannerAlgorithm(v)
	}
	if v, ok := os.LookupEnv("TN_LOG_LEVEL"); ok {
		lvl, err := parseLogLevel(v)
		if err != nil {
			return cfg, fmt.Errorf("config: TN_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = lvl
		cfg.LogLevelName = v
	}
	if v, ok := os.LookupEnv("TN_CACHE_MODE"); ok {
		cfg.CacheMode = CacheMode(v)
	}
	if v, ok := os.LookupEnv("TN_FAST_MATH"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: TN_FAST_MATH: %w", err)
		}
		cfg.FastMath = b
	}
	if v, ok := os.LookupEnv("TN_DRY_RUN"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: TN_DRY_RUN: %w", err)
		}
		cfg.DryRun = b
	}
	return cfg, nil
}

func parseLogLevel(name string) (LogLevel, error) {
	switch name {
	case "warn":
		return LogWarn, nil
	case "info":
		return LogInfo, nil
	case "debug":
		return LogDebug, nil
	case "trace":
		return LogTrace, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// LoadFromFile overlays a YAML config file onto cfg. A missing file is
// not an error; other read/parse errors are returned.
func LoadFromFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.LogLevelName != "" {
		lvl, err := parseLogLevel(cfg.LogLevelName)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: log_level: %w", path, err)
		}
		cfg.LogLevel = lvl
	}
	return cfg, nil
}

// Load resolves a Config starting from DefaultConfig, overlaying an
// optional YAML file (if path is non-empty) and finally environment
// variables, matching the priority defaults < file < env.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	var err error
	if path != "" {
		cfg, err = LoadFromFile(cfg, path)
		if err != nil {
			return cfg, err
		}
	}
	return LoadFromEnv(cfg)
}

// NewLogger builds a *zap.SugaredLogger at the configured level.
func NewLogger(cfg Config) (*zap.SugaredLogger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(cfg.LogLevel.zapLevel())
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("config: building logger: %w", err)
	}
	return logger.Sugar(), nil
}
