// Package config handles tool configuration loading and management.
package config

import (
	"path/filepath"
	"runtime"
	"time"
)

// Config holds all tool settings.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Network     NetworkConfig     `yaml:"network"`
	Subdivision SubdivisionConfig `yaml:"subdivision"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Batch       BatchConfig       `yaml:"batch"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// NetworkConfig selects the trained network and where it runs.
type NetworkConfig struct {
	JobsDir string `yaml:"jobs_dir"` // one directory per trained network
	Default string `yaml:"default"`  // network used when none is chosen
	Device  string `yaml:"device"`
	NumSubd int    `yaml:"num_subd"` // 0 defers to the network's hyperparameters
}

// SubdivisionConfig holds the position rule applied when building levels.
type SubdivisionConfig struct {
	Rule string `yaml:"rule"`
}

// PipelineConfig holds inference driver settings.
type PipelineConfig struct {
	TempDir  string        `yaml:"temp_dir"` // empty means the OS temp dir
	KeepTemp bool          `yaml:"keep_temp"`
	Timeout  time.Duration `yaml:"timeout"` // per object, 0 disables
}

// BatchConfig holds batch mode settings.
type BatchConfig struct {
	Workers int `yaml:"workers"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
		Network: NetworkConfig{
			JobsDir: filepath.Join("data", "jobs"),
			Default: "net_cartoon_elephant",
			Device:  "auto",
			NumSubd: 0,
		},
		Subdivision: SubdivisionConfig{
			Rule: "midpoint",
		},
		Pipeline: PipelineConfig{
			KeepTemp: false,
		},
		Batch: BatchConfig{
			Workers: runtime.NumCPU(),
		},
	}
}

// NetworkDir returns the directory of the default network.
func (c *Config) NetworkDir() string {
	return filepath.Join(c.Network.JobsDir, c.Network.Default)
}
