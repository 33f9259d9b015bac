package ktask

import (
	"context"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/ktask/internal/envexpr"
	"github.com/viant/ktask/service/ready"
	"github.com/viant/ktask/sim/mem"
	"github.com/viant/ktask/task"
	"gopkg.in/yaml.v3"
)

// Config is a serialisable representation of the kernel configuration. It
// can be populated from YAML or JSON; DefaultConfig supplies every value.
type Config struct {
	// InitProc is the application registered as the process tree root.
	InitProc  string          `json:"initProc" yaml:"initProc"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Memory    mem.Config      `json:"memory" yaml:"memory"`
	Loader    LoaderConfig    `json:"loader" yaml:"loader"`
	Tracing   TracingConfig   `json:"tracing" yaml:"tracing"`
	Events    EventsConfig    `json:"events" yaml:"events"`
}

// SchedulerConfig tunes stride scheduling.
type SchedulerConfig struct {
	BigStride       uint64 `json:"bigStride" yaml:"bigStride"`
	DefaultPriority uint64 `json:"defaultPriority" yaml:"defaultPriority"`
}

// LoaderConfig locates application images.
type LoaderConfig struct {
	BaseURL string `json:"baseURL" yaml:"baseURL"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Output is the trace file; empty writes to stdout.
	Output string `json:"output" yaml:"output"`
}

// EventsConfig controls the lifecycle event stream.
type EventsConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	QueueBuffer int  `json:"queueBuffer" yaml:"queueBuffer"`
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() *Config {
	return &Config{
		InitProc: "initproc",
		Scheduler: SchedulerConfig{
			BigStride:       ready.BigStride,
			DefaultPriority: task.DefaultPriority,
		},
		Memory: mem.DefaultConfig(),
		Loader: LoaderConfig{BaseURL: "mem://localhost/ktask/apps"},
		Events: EventsConfig{QueueBuffer: 1024},
	}
}

// Validate returns an error describing the first invalid setting.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	switch {
	case c.InitProc == "":
		return fmt.Errorf("initProc must not be empty")
	case c.Scheduler.BigStride == 0:
		return fmt.Errorf("scheduler.bigStride must be > 0")
	case c.Scheduler.DefaultPriority < task.MinPriority:
		return fmt.Errorf("scheduler.defaultPriority must be >= %d", task.MinPriority)
	case c.Loader.BaseURL == "":
		return fmt.Errorf("loader.baseURL must not be empty")
	case c.Memory.Frames <= 0:
		return fmt.Errorf("memory.frames must be > 0")
	case c.Events.Enabled && c.Events.QueueBuffer <= 0:
		return fmt.Errorf("events.queueBuffer must be > 0")
	}
	return nil
}

// LoadConfig reads a YAML configuration from URL on top of DefaultConfig.
// ${env.NAME} references are substituted before decoding.
func LoadConfig(ctx context.Context, fs afs.Service, URL string) (*Config, error) {
	if fs == nil {
		fs = afs.New()
	}
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", URL, err)
	}
	ret := DefaultConfig()
	if err = yaml.Unmarshal([]byte(envexpr.Expand(string(data))), ret); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", URL, err)
	}
	if err = ret.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", URL, err)
	}
	return ret, nil
}
