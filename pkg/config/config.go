// Package config loads termcamng's YAML configuration document: a
// nested, yaml-tagged struct, a DefaultConfig constructor, a
// LoadConfig that writes a default file on first run, a MergeFlags
// that only overrides explicitly-set flags, and a Print diagnostic
// dump.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Logging struct {
	File           string `yaml:"file"`
	LoglevelFiles  string `yaml:"loglevel-files"`
	LoglevelScreen string `yaml:"loglevel-screen"`
}

// Config is the full YAML document.
type Config struct {
	FontFiles        []string `yaml:"font-files"`
	FontHeight       int      `yaml:"font-height"`
	Width            int      `yaml:"width"`
	Height           int      `yaml:"height"`
	CompressionLevel int      `yaml:"compression-level"`
	MinimumFPS       float64  `yaml:"minimum-fps"`

	TelnetAddr string `yaml:"telnet-addr"`
	TelnetPort int    `yaml:"telnet-port"`

	HTTPAddr string `yaml:"http-addr"`
	HTTPPort int    `yaml:"http-port"`

	HTTPSPort        int    `yaml:"https-port"`
	HTTPSKey         string `yaml:"https-key"`
	HTTPSCertificate string `yaml:"https-certificate"`
	HTTPSACMEDomain  string `yaml:"https-acme-domain"`

	SSHAddr string `yaml:"ssh-addr"`
	SSHPort int    `yaml:"ssh-port"`
	SSHKeys string `yaml:"ssh-keys"`

	ExecCommand string `yaml:"exec-command"`
	Directory   string `yaml:"directory"`

	RestartInterval int  `yaml:"restart-interval"`
	StderrToStdout  bool `yaml:"stderr-to-stdout"`
	LocalOutput     bool `yaml:"local-output"`
	Fork            bool `yaml:"fork"`

	DumbTelnet        bool `yaml:"dumb-telnet"`
	TelnetWorkarounds bool `yaml:"telnet-workarounds"`
	IgnoreKeypresses  bool `yaml:"ignore-keypresses"`

	Logging Logging `yaml:"logging"`
}

// DefaultConfig is a minimal but runnable 80x25 ansi terminal served
// over HTTP only.
func DefaultConfig() *Config {
	return &Config{
		FontHeight:       16,
		Width:            80,
		Height:           25,
		CompressionLevel: 60,
		MinimumFPS:       5,
		TelnetPort:       0,
		HTTPAddr:         "0.0.0.0",
		HTTPPort:         8080,
		HTTPSPort:        0,
		SSHPort:          0,
		ExecCommand:      "/bin/bash",
		Directory:        ".",
		RestartInterval:  1,
		Logging: Logging{
			LoglevelFiles:  "info",
			LoglevelScreen: "info",
		},
	}
}

// LoadConfig reads path, writing DefaultConfig() there first if it does
// not yet exist.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("config: mkdir: %w", err)
		}
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// MergeFlags overrides config fields with any flag the user explicitly
// set on the command line, leaving the rest as loaded from YAML.
func (c *Config) MergeFlags(flags *pflag.FlagSet) {
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	integer := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if flags.Changed(name) {
			*dst, _ = flags.GetBool(name)
		}
	}

	str("http-addr", &c.HTTPAddr)
	integer("http-port", &c.HTTPPort)
	integer("https-port", &c.HTTPSPort)
	str("https-key", &c.HTTPSKey)
	str("https-certificate", &c.HTTPSCertificate)
	str("https-acme-domain", &c.HTTPSACMEDomain)
	str("telnet-addr", &c.TelnetAddr)
	integer("telnet-port", &c.TelnetPort)
	str("ssh-addr", &c.SSHAddr)
	integer("ssh-port", &c.SSHPort)
	str("ssh-keys", &c.SSHKeys)
	str("exec-command", &c.ExecCommand)
	str("directory", &c.Directory)
	integer("restart-interval", &c.RestartInterval)
	integer("width", &c.Width)
	integer("height", &c.Height)
	integer("font-height", &c.FontHeight)
	integer("compression-level", &c.CompressionLevel)
	boolean("stderr-to-stdout", &c.StderrToStdout)
	boolean("local-output", &c.LocalOutput)
	boolean("fork", &c.Fork)
	boolean("dumb-telnet", &c.DumbTelnet)
	boolean("telnet-workarounds", &c.TelnetWorkarounds)
	boolean("ignore-keypresses", &c.IgnoreKeypresses)
}

// Print dumps the effective configuration to stdout as a diagnostic.
func (c *Config) Print() {
	fmt.Printf("termcamng configuration:\n")
	fmt.Printf("  display:    %dx%d, font-height=%d, compression=%d, minimum-fps=%.1f\n",
		c.Width, c.Height, c.FontHeight, c.CompressionLevel, c.MinimumFPS)
	fmt.Printf("  http:       %s:%d (https-port=%d, acme-domain=%q)\n", c.HTTPAddr, c.HTTPPort, c.HTTPSPort, c.HTTPSACMEDomain)
	fmt.Printf("  telnet:     %s:%d (dumb=%v, workarounds=%v)\n", c.TelnetAddr, c.TelnetPort, c.DumbTelnet, c.TelnetWorkarounds)
	fmt.Printf("  ssh:        %s:%d (keys=%s)\n", c.SSHAddr, c.SSHPort, c.SSHKeys)
	fmt.Printf("  child:      %q in %s, restart-interval=%d, stderr-to-stdout=%v\n",
		c.ExecCommand, c.Directory, c.RestartInterval, c.StderrToStdout)
	fmt.Printf("  logging:    file=%q, files=%s, screen=%s\n", c.Logging.File, c.Logging.LoglevelFiles, c.Logging.LoglevelScreen)
}

// MaxWaitMs converts minimum-fps into the render gate's max_wait_ms,
// with 0 meaning "no deadline".
func (c *Config) MaxWaitMs() int64 {
	if c.MinimumFPS <= 0 {
		return 0
	}
	return int64(1000 / c.MinimumFPS)
}
