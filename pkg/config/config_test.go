package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultHasNoSubstitutionsAndRealWatchpointLimit(t *testing.T) {
	c := Default()
	if len(c.SourceSubstitutions) != 0 {
		t.Fatalf("expected no substitutions by default, got %+v", c.SourceSubstitutions)
	}
	if got := c.WatchpointLimit(); got != 4 {
		t.Fatalf("got %d, want 4", got)
	}
}

func TestWatchpointLimitOverride(t *testing.T) {
	c := &Config{WatchpointLimitOverride: 2}
	if got := c.WatchpointLimit(); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
}

func TestWatchpointLimitNilConfig(t *testing.T) {
	var c *Config
	if got := c.WatchpointLimit(); got != 4 {
		t.Fatalf("got %d, want 4 for a nil config", got)
	}
}

func TestSourcePathSubstitutionApply(t *testing.T) {
	s := SourcePathSubstitution{Sentinel: "/rustc/abcd1234/", Root: "/home/user/rust/src"}
	got := s.Apply("/rustc/abcd1234/library/core/src/lib.rs")
	want := "/home/user/rust/src/library/core/src/lib.rs"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSourcePathSubstitutionApplyNoMatch(t *testing.T) {
	s := SourcePathSubstitution{Sentinel: "/rustc/abcd1234/", Root: "/home/user/rust/src"}
	path := "/home/user/project/main.rs"
	if got := s.Apply(path); got != path {
		t.Fatalf("got %q, want unchanged %q", got, path)
	}
}

func TestSourcePathSubstitutionEmptySentinelIsNoop(t *testing.T) {
	s := SourcePathSubstitution{}
	path := "/any/path.rs"
	if got := s.Apply(path); got != path {
		t.Fatalf("got %q, want unchanged %q", got, path)
	}
}

func TestRewriteSourcePathFirstMatchWins(t *testing.T) {
	c := &Config{SourceSubstitutions: []SourcePathSubstitution{
		{Sentinel: "/rustc/", Root: "/first"},
		{Sentinel: "/rustc/", Root: "/second"},
	}}
	got := c.RewriteSourcePath("/rustc/lib.rs")
	if got != "/first/lib.rs" {
		t.Fatalf("got %q, want the first matching substitution applied", got)
	}
}

func TestRewriteSourcePathNilConfigPassesThrough(t *testing.T) {
	var c *Config
	path := "/some/path.rs"
	if got := c.RewriteSourcePath(path); got != path {
		t.Fatalf("got %q, want unchanged %q", got, path)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte(`
source-substitutions:
  - sentinel: /rustc/abcd/
    root: /home/user/rust
log: "tracer,dqe"
step-timeout: 2s
watchpoint-limit-override: 1
`)
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("writing fixture config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.SourceSubstitutions) != 1 || cfg.SourceSubstitutions[0].Sentinel != "/rustc/abcd/" {
		t.Fatalf("got %+v", cfg.SourceSubstitutions)
	}
	if cfg.LogSpec != "tracer,dqe" {
		t.Fatalf("got log spec %q", cfg.LogSpec)
	}
	if cfg.StepTimeout != 2*time.Second {
		t.Fatalf("got step timeout %v, want 2s", cfg.StepTimeout)
	}
	if cfg.WatchpointLimit() != 1 {
		t.Fatalf("got watchpoint limit %d, want 1", cfg.WatchpointLimit())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error loading a nonexistent config file")
	}
}
