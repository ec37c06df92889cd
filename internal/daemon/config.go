// Package daemon manages the secfleet daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/secfleet/secfleet/internal/job"
)

// Config holds all daemon configuration.
type Config struct {
	API     APIConfig     `toml:"api"`
	Engine  EngineConfig  `toml:"engine"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Health  HealthConfig  `toml:"health"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// EngineConfig sizes the job engine.
type EngineConfig struct {
	TaskWorkers        int    `toml:"task_workers"`
	JobWorkers         int    `toml:"job_workers"`
	LockTimeout        string `toml:"lock_timeout"`
	CompletedJobsCache int    `toml:"completed_jobs_cache"`
}

// SyncConfig controls the periodic conformance of every virtual system.
type SyncConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// HealthConfig controls the health check loop.
type HealthConfig struct {
	Interval string `toml:"interval"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8090,
			Metrics: true,
		},
		Engine: EngineConfig{
			TaskWorkers:        8,
			JobWorkers:         4,
			LockTimeout:        "30s",
			CompletedJobsCache: 256,
		},
		Sync: SyncConfig{
			Enabled:  false,
			Interval: "5m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Health: HealthConfig{
			Interval: "30s",
		},
	}
}

// LoadConfig reads config from ~/.secfleet/config.toml, falling back to
// defaults.
func LoadConfig() (Config, error) {
	return loadConfigFile(filepath.Join(secfleetHome(), "config.toml"))
}

func loadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet, use defaults
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.secfleet/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(secfleetHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// EngineSettings converts the [engine] section, keeping defaults for unset
// or unparsable values.
func (c Config) EngineSettings() job.Config {
	def := job.DefaultConfig()
	out := job.Config{
		TaskWorkers:   c.Engine.TaskWorkers,
		JobWorkers:    c.Engine.JobWorkers,
		LockTimeout:   parseDuration(c.Engine.LockTimeout, def.LockTimeout),
		CompletedJobs: c.Engine.CompletedJobsCache,
	}
	if out.TaskWorkers <= 0 {
		out.TaskWorkers = def.TaskWorkers
	}
	if out.JobWorkers <= 0 {
		out.JobWorkers = def.JobWorkers
	}
	if out.CompletedJobs <= 0 {
		out.CompletedJobs = def.CompletedJobs
	}
	return out
}

// NewLogger builds the daemon logger from [logging] level.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// secfleetHome returns the secfleet data directory.
func secfleetHome() string {
	if env := os.Getenv("SECFLEET_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".secfleet")
}

// Home is exported for use by other packages.
func Home() string {
	return secfleetHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
