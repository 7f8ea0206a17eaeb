package config

import (
	"errors"
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"
)

// Workload names understood by the simulator.
const (
	WorkloadPeriodic = "periodic"
	WorkloadDelayed  = "delayed"
	WorkloadBusy     = "busy"
	WorkloadCritical = "critical"
	WorkloadProducer = "producer"
	WorkloadConsumer = "consumer"
	WorkloadWaiter   = "waiter"
)

// Task describes one simulated task.
type Task struct {
	Name      string   `yaml:"name"`
	Priority  int      `yaml:"priority"`
	Workload  string   `yaml:"workload"`
	Period    int      `yaml:"period,omitempty"`     // periodic, producer
	Delay     int      `yaml:"delay,omitempty"`      // delayed, critical
	Work      int      `yaml:"work,omitempty"`       // cycles spent per activation
	TimeSlice int      `yaml:"time_slice,omitempty"` // 0 = default
	Stack     int      `yaml:"stack,omitempty"`      // bytes, 0 = default
	Target    string   `yaml:"target,omitempty"`     // producer: consumer name
	Events    []string `yaml:"events,omitempty"`     // waiter: event references
	Start     bool     `yaml:"start,omitempty"`      // raise the generic event at spawn
}

// Pulse raises an event reference on the board every Every ticks.
type Pulse struct {
	Event string `yaml:"event"`
	Every int    `yaml:"every"`
}

// Config mirrors the simulation YAML file.
type Config struct {
	TickMS      int     `yaml:"tick_ms"`      // real-time tick length, 5 by default
	Cycles      int     `yaml:"cycles"`       // ticks before the supervisor ends the run
	TimeSlice   int     `yaml:"time_slice"`   // default slice reload, 10 by default
	MemoryLimit int     `yaml:"memory_limit"` // allocator cap in bytes, 0 = unlimited
	LogLevel    string  `yaml:"log_level"`
	LogFormat   string  `yaml:"log_format"`
	Tasks       []Task  `yaml:"tasks,omitempty"`
	Pulses      []Pulse `yaml:"pulses,omitempty"`
}

// If the config file is not found, we use default values
func Default() Config {
	return Config{
		TickMS:    5,
		Cycles:    200,
		TimeSlice: 10,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only.
// A missing file also yields the defaults; a malformed one is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// sanity clamps
func (c *Config) clamp() {
	if c.TickMS <= 0 {
		c.TickMS = 5
	}
	if c.Cycles <= 0 {
		c.Cycles = 200
	}
	if c.TimeSlice == 0 {
		c.TimeSlice = 10
	}
	if c.MemoryLimit < 0 {
		c.MemoryLimit = 0
	}
	for i := range c.Tasks {
		t := &c.Tasks[i]
		if t.Workload == "" {
			t.Workload = WorkloadBusy
		}
		if t.Work < 0 {
			t.Work = 0
		}
		if t.Stack < 0 {
			t.Stack = 0
		}
	}
}

// Validate checks task names, workloads and cross references.
func (c Config) Validate() error {
	names := make(map[string]bool, len(c.Tasks))
	for _, t := range c.Tasks {
		if t.Name == "" {
			return errors.New("task with empty name")
		}
		if names[t.Name] {
			return fmt.Errorf("duplicate task %q", t.Name)
		}
		names[t.Name] = true
	}
	for _, t := range c.Tasks {
		switch t.Workload {
		case WorkloadPeriodic:
			if t.Period <= 0 {
				return fmt.Errorf("task %q: periodic workload needs period > 0", t.Name)
			}
		case WorkloadProducer:
			if t.Period <= 0 {
				return fmt.Errorf("task %q: producer workload needs period > 0", t.Name)
			}
			if !names[t.Target] {
				return fmt.Errorf("task %q: unknown target %q", t.Name, t.Target)
			}
		case WorkloadWaiter:
			if len(t.Events) == 0 {
				return fmt.Errorf("task %q: waiter workload needs events", t.Name)
			}
		case WorkloadDelayed, WorkloadCritical, WorkloadBusy, WorkloadConsumer:
		default:
			return fmt.Errorf("task %q: unknown workload %q", t.Name, t.Workload)
		}
	}
	for _, p := range c.Pulses {
		if p.Event == "" || p.Every <= 0 {
			return fmt.Errorf("pulse %q: needs an event and every > 0", p.Event)
		}
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
