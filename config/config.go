// Package config loads the scheduler configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Swind/go-proc-scheduler/core"
)

// Config is the serialisable scheduler configuration. Fields missing from a
// file keep the values of DefaultConfig.
type Config struct {
	// Quantum is the time slice, e.g. "2s" or "500ms".
	Quantum time.Duration `yaml:"quantum"`

	// TaskDir is the directory task names are resolved against.
	TaskDir string `yaml:"task_dir"`

	// Tasks are launched in order before the controller shell.
	Tasks []string `yaml:"tasks"`

	// StrictConsistency stops the scheduler on child events for untracked processes.
	StrictConsistency bool `yaml:"strict_consistency"`

	Shell   ShellConfig   `yaml:"shell"`
	Spawn   SpawnConfig   `yaml:"spawn"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

type ShellConfig struct {
	// Enabled launches the controller shell as a task.
	Enabled bool `yaml:"enabled"`

	// Program is the shell executable name inside TaskDir.
	Program string `yaml:"program"`
}

type SpawnConfig struct {
	// FailFast stops the scheduler when a runtime EXEC request cannot spawn.
	FailFast bool `yaml:"fail_fast"`

	// Stub is "reexec" or "shell".
	Stub string `yaml:"stub"`
}

type MetricsConfig struct {
	// Addr enables the /metrics endpoint when set, e.g. ":9090".
	Addr         string        `yaml:"addr"`
	Namespace    string        `yaml:"namespace"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LogConfig struct {
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Quantum: core.DefaultQuantum,
		TaskDir: ".",
		Shell: ShellConfig{
			Enabled: true,
			Program: "procsh",
		},
		Spawn: SpawnConfig{
			FailFast: true,
			Stub:     "reexec",
		},
		Metrics: MetricsConfig{
			Namespace:    "procsched",
			PollInterval: time.Second,
		},
	}
}

// Validate returns an aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Quantum <= 0 {
		errs = append(errs, fmt.Errorf("quantum must be > 0, got %s", c.Quantum))
	}
	if c.TaskDir == "" {
		errs = append(errs, errors.New("task_dir must not be empty"))
	}
	if c.Shell.Enabled && c.Shell.Program == "" {
		errs = append(errs, errors.New("shell.program must be set when the shell is enabled"))
	}
	switch c.Spawn.Stub {
	case "reexec", "shell":
	default:
		errs = append(errs, fmt.Errorf("spawn.stub must be reexec or shell, got %q", c.Spawn.Stub))
	}
	if c.Metrics.Addr != "" && c.Metrics.PollInterval <= 0 {
		errs = append(errs, errors.New("metrics.poll_interval must be > 0"))
	}
	for i, name := range c.Tasks {
		if name == "" {
			errs = append(errs, fmt.Errorf("tasks[%d] is empty", i))
		}
	}
	return errors.Join(errs...)
}

// Load reads path on top of DefaultConfig and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of DefaultConfig. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SchedulerConfig returns the scheduling part of the configuration. Logger,
// Metrics and Output are left for the caller to fill in.
func (c *Config) SchedulerConfig() *core.SchedulerConfig {
	policy := core.SpawnReport
	if c.Spawn.FailFast {
		policy = core.SpawnFailFast
	}
	return &core.SchedulerConfig{
		Quantum:           c.Quantum,
		SpawnPolicy:       policy,
		StrictConsistency: c.StrictConsistency,
	}
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
