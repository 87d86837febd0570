package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/unitsync/internal/render"
	"github.com/schaermu/unitsync/internal/unitfile"
)

// ErrDuplicateUnit is wrapped by Error when two services share a unit name
var ErrDuplicateUnit = errors.New("duplicate unit name")

// Error reports malformed desired configuration
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config represents the desired set of units
type Config struct {
	Services []ServiceConfig `yaml:"services" toml:"services"`
	Source   SourceConfig    `yaml:"source" toml:"source"`
}

// ServiceConfig is one desired unit rendered from a template
type ServiceConfig struct {
	Template  string            `yaml:"template" toml:"template"`
	Unit      string            `yaml:"unit" toml:"unit"`
	Variables map[string]string `yaml:"variables" toml:"variables"`
}

// SourceConfig configures an optional Git repository holding the templates
type SourceConfig struct {
	URL            string `yaml:"url" toml:"url"`
	Ref            string `yaml:"ref" toml:"ref"`
	Subdir         string `yaml:"subdir" toml:"subdir"`
	SSHKeyFile     string `yaml:"ssh_key_file" toml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file" toml:"https_token_file"`
}

// Load reads and parses the configuration file. Files ending in .toml are
// parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("failed to read config file: %w", err)}
	}

	cfg, err := Parse(data, formatFor(path))
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	return cfg, nil
}

// Format is a configuration file syntax
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes, normalizes and validates configuration data
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config

	switch format {
	case FormatTOML:
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown configuration key %q", undecoded[0].String())
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty document decodes to io.EOF; treat it as no services.
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnv expands environment variables in path-like fields. Template
// variables are passed through untouched.
func (c *Config) expandEnv() {
	c.Source.URL = os.ExpandEnv(c.Source.URL)
	c.Source.Ref = os.ExpandEnv(c.Source.Ref)
	c.Source.Subdir = os.ExpandEnv(c.Source.Subdir)
	c.Source.SSHKeyFile = os.ExpandEnv(c.Source.SSHKeyFile)
	c.Source.HTTPSTokenFile = os.ExpandEnv(c.Source.HTTPSTokenFile)
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	seen := make(map[string]int, len(c.Services))
	for i, svc := range c.Services {
		if svc.Template == "" {
			return fmt.Errorf("services[%d].template is required", i)
		}
		if svc.Unit == "" {
			return fmt.Errorf("services[%d].unit is required", i)
		}
		if err := unitfile.ValidateName(svc.Unit); err != nil {
			return fmt.Errorf("services[%d].unit: %w", i, err)
		}
		if prev, ok := seen[svc.Unit]; ok {
			return fmt.Errorf("%w: %s (services[%d] and services[%d])", ErrDuplicateUnit, svc.Unit, prev, i)
		}
		seen[svc.Unit] = i
	}

	if c.Source.URL != "" {
		if c.Source.Ref == "" {
			return fmt.Errorf("source.ref is required when source.url is set")
		}
		if filepath.IsAbs(c.Source.Subdir) || strings.HasPrefix(filepath.Clean(c.Source.Subdir), "..") {
			return fmt.Errorf("source.subdir must be relative to the repository: %s", c.Source.Subdir)
		}
		if c.Source.SSHKeyFile != "" && c.Source.HTTPSTokenFile != "" {
			return fmt.Errorf("source: only one of ssh_key_file or https_token_file may be set")
		}
		if c.Source.SSHKeyFile != "" && !c.Source.IsSSH() {
			return fmt.Errorf("source.ssh_key_file is set but source.url does not use an SSH scheme (git@ or ssh://)")
		}
		if c.Source.HTTPSTokenFile != "" && !c.Source.IsHTTPS() {
			return fmt.Errorf("source.https_token_file is set but source.url does not use HTTPS scheme")
		}
	}

	return nil
}

// Specs returns the desired units in configuration order
func (c *Config) Specs() []render.Spec {
	specs := make([]render.Spec, 0, len(c.Services))
	for _, svc := range c.Services {
		specs = append(specs, render.Spec{
			Template:  svc.Template,
			Unit:      svc.Unit,
			Variables: svc.Variables,
		})
	}
	return specs
}

// IsHTTPS returns true if the source URL uses HTTPS
func (s SourceConfig) IsHTTPS() bool {
	return strings.HasPrefix(s.URL, "https://")
}

// IsSSH returns true if the source URL uses SSH
func (s SourceConfig) IsSSH() bool {
	return strings.HasPrefix(s.URL, "git@") || strings.HasPrefix(s.URL, "ssh://")
}
