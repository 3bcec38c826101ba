// Package config loads the operator-facing knobs a host process sets
// before booting a VM: the GC pressure interval, an optional poll
// backend override, and a debug-log toggle (spec.md §6
// "Environment... hosts may configure memoryInterval").
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of a nanovm.yaml file.
type Config struct {
	// GC controls the heap's pressure-check interval.
	GC *GCConfig `yaml:"gc,omitempty"`

	// Loop controls event-loop backend selection.
	Loop *LoopConfig `yaml:"loop,omitempty"`

	// Debug controls trace logging across the runtime's packages.
	Debug *DebugConfig `yaml:"debug,omitempty"`
}

// GCConfig holds heap-allocator knobs.
type GCConfig struct {
	// MemoryInterval is the number of bytes accumulated between GC
	// pressure checks. Zero means "use the runtime default".
	MemoryInterval uint64 `yaml:"memoryInterval,omitempty"`
}

// LoopConfig holds event-loop knobs.
type LoopConfig struct {
	// Backend requests a specific poll backend by name: "epoll",
	// "kqueue", "iocp", or "poll". Empty means "use whatever the
	// build's platform compiles in". Validate rejects only unknown
	// names; CheckBackend reports a request for a backend the current
	// build doesn't carry -- the poller is chosen at compile time per
	// platform, so this field can confirm expectations but can't
	// itself switch backends at runtime.
	Backend string `yaml:"backend,omitempty"`
}

// DebugConfig holds logging knobs.
type DebugConfig struct {
	// Log turns on the runtime's trace hooks (heap alloc/collect,
	// loop dispatch, fiber transitions) when true.
	Log bool `yaml:"log,omitempty"`
}

// knownBackends enumerates the poll backend names Validate accepts;
// CheckBackend compares a request against the one this build has.
var knownBackends = map[string]bool{
	"epoll":  true,
	"kqueue": true,
	"iocp":   true,
	"poll":   true,
}

// Load reads and parses a YAML config file at path. A missing file is
// not an error: it returns Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}

	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyDefaults(c)
	return c, nil
}

// Save writes c to path as YAML.
func Save(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Default returns the configuration a VM boots with when no file is
// present: the runtime's own defaults, all knobs off.
func Default() *Config {
	return &Config{
		GC:   &GCConfig{MemoryInterval: 0},
		Loop: &LoopConfig{},
		Debug: &DebugConfig{
			Log: false,
		},
	}
}

// applyDefaults fills in nil sub-configs left out of a parsed file,
// the same "merge missing sections with defaults" step the teacher's
// loader runs after unmarshaling.
func applyDefaults(c *Config) {
	if c.GC == nil {
		c.GC = &GCConfig{}
	}
	if c.Loop == nil {
		c.Loop = &LoopConfig{}
	}
	if c.Debug == nil {
		c.Debug = &DebugConfig{}
	}
}

// Validate checks the configuration for internally-inconsistent
// values. It does not check Backend against the running platform's
// compiled-in poller -- that check belongs to the caller, which knows
// its own build tags; Validate only rejects names Load could never
// have produced from a correctly-written file.
func (c *Config) Validate() error {
	if c.Loop != nil && c.Loop.Backend != "" && !knownBackends[c.Loop.Backend] {
		return fmt.Errorf("config: unknown loop backend %q", c.Loop.Backend)
	}
	return nil
}

// CheckBackend compares a requested backend override against the name
// of the poller this build actually compiled in (one of "epoll",
// "kqueue", "iocp", "poll" depending on GOOS), returning an error if
// they differ. Callers pass the compiled-in name; cmd/nanovm does not
// call it.
func (c *Config) CheckBackend(compiledIn string) error {
	if c.Loop == nil || c.Loop.Backend == "" {
		return nil
	}
	if c.Loop.Backend != compiledIn {
		return fmt.Errorf("config: requested loop backend %q, this build compiled in %q", c.Loop.Backend, compiledIn)
	}
	return nil
}
