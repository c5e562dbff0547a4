// Package config loads the engine's on-disk configuration: toolchain
// source-root substitution for out-of-tree compiled paths, default log
// flags, and stepping timeouts. Grounded on spec.md §4.1 (the "/rustc/"
// rewrite, generalized here to an arbitrary configured prefix+root pair so
// the same mechanism works for any toolchain that embeds build-time paths
// into DWARF) and §6 ("operator-supplied toolchain source root").
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourcePathSubstitution rewrites a DWARF-reported source path that begins
// with Sentinel by replacing that prefix with Root. Compilers commonly
// embed an out-of-tree build path (e.g. Rust's "/rustc/<hash>/") into debug
// line tables; operators configure where that tree actually lives locally.
type SourcePathSubstitution struct {
	Sentinel string `yaml:"sentinel"`
	Root     string `yaml:"root"`
}

// Apply rewrites path if it begins with s.Sentinel, otherwise returns it
// unchanged.
func (s SourcePathSubstitution) Apply(path string) string {
	if s.Sentinel == "" {
		return path
	}
	if rest, ok := strings.CutPrefix(path, s.Sentinel); ok {
		return strings.TrimRight(s.Root, "/") + "/" + strings.TrimLeft(rest, "/")
	}
	return path
}

// Config is the engine's top-level configuration document.
type Config struct {
	// SourceSubstitutions are tried in order; the first matching sentinel wins.
	SourceSubstitutions []SourcePathSubstitution `yaml:"source-substitutions"`

	// LogSpec is the default subsystem log spec (see pkg/logflags.Setup),
	// e.g. "tracer,dqe" or "all".
	LogSpec string `yaml:"log"`

	// StepTimeout is parsed from the "step-timeout" key and stored here.
	// No step, continue or wait-for-status path reads it, so stepping
	// never times out whatever its value.
	StepTimeout time.Duration `yaml:"step-timeout"`

	// WatchpointLimitOverride is the value WatchpointLimit reports when it
	// is positive; 0 means "use the real limit of 4". The watchpoint
	// registry does not consult WatchpointLimit: it always allocates from
	// the four hardware debug registers.
	WatchpointLimitOverride int `yaml:"watchpoint-limit-override"`
}

// Default returns the zero-configuration defaults: no path substitution, no
// logging, no step timeout.
func Default() *Config {
	return &Config{}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// RewriteSourcePath applies the configured substitutions to a raw DWARF
// source path, in order, returning the first rewrite that applies.
func (c *Config) RewriteSourcePath(path string) string {
	if c == nil {
		return path
	}
	for _, s := range c.SourceSubstitutions {
		if strings.HasPrefix(path, s.Sentinel) {
			return s.Apply(path)
		}
	}
	return path
}

// WatchpointLimit returns the effective number of hardware watchpoint
// slots, defaulting to the real x86-64 debug register count of 4.
func (c *Config) WatchpointLimit() int {
	if c == nil || c.WatchpointLimitOverride <= 0 {
		return 4
	}
	return c.WatchpointLimitOverride
}
