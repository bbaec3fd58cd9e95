package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestDefaultConfigIsRunnable(t *testing.T) {
	c := DefaultConfig()
	if c.Width <= 0 || c.Height <= 0 {
		t.Fatal("default width/height must be positive")
	}
	if c.ExecCommand == "" {
		t.Fatal("default ExecCommand must not be empty")
	}
	if c.HTTPPort == 0 {
		t.Fatal("default config should at least serve HTTP")
	}
}

func TestMaxWaitMsZeroFPSMeansNoDeadline(t *testing.T) {
	c := DefaultConfig()
	c.MinimumFPS = 0
	if got := c.MaxWaitMs(); got != 0 {
		t.Fatalf("got %d, want 0 (no deadline)", got)
	}
}

func TestMaxWaitMsConvertsFPS(t *testing.T) {
	c := DefaultConfig()
	c.MinimumFPS = 10
	if got := c.MaxWaitMs(); got != 100 {
		t.Fatalf("got %d, want 100ms for 10fps", got)
	}
}

func TestLoadConfigWritesDefaultOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "termcamng.yaml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Width != DefaultConfig().Width {
		t.Fatalf("expected default width, got %d", cfg.Width)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be written, stat failed: %v", err)
	}

	cfg2, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("second LoadConfig: %v", err)
	}
	if cfg2.Width != cfg.Width || cfg2.ExecCommand != cfg.ExecCommand {
		t.Fatal("reloading an existing file should round-trip the same values")
	}
}

func TestMergeFlagsOnlyOverridesExplicitlySet(t *testing.T) {
	c := DefaultConfig()
	origExec := c.ExecCommand

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("exec-command", "", "")
	flags.Int("http-port", 0, "")
	flags.Bool("fork", false, "")
	if err := flags.Parse([]string{"--http-port", "9090"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	c.MergeFlags(flags)

	if c.HTTPPort != 9090 {
		t.Fatalf("http-port = %d, want 9090 (explicitly set)", c.HTTPPort)
	}
	if c.ExecCommand != origExec {
		t.Fatalf("exec-command = %q, want unchanged default %q (not set on command line)", c.ExecCommand, origExec)
	}
	if c.Fork {
		t.Fatal("fork should remain false, it was not set on the command line")
	}
}
