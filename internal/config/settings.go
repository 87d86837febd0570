package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings are the run parameters that do not belong in the desired
// configuration file. Each has an environment variable fallback; command-line
// flags take precedence.
type Settings struct {
	ConfigPath   string        `env:"UNITSYNC_CONFIG"`
	StatePath    string        `env:"UNITSYNC_STATE" envDefault:"/var/lib/unitsync/state.yaml"`
	TemplatesDir string        `env:"UNITSYNC_TEMPLATES" envDefault:"templates"`
	UnitDir      string        `env:"UNITSYNC_UNIT_DIR"`
	User         bool          `env:"UNITSYNC_USER"`
	Timeout      time.Duration `env:"UNITSYNC_TIMEOUT" envDefault:"30s"`
}

// LoadSettings reads settings from the environment
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

// ResolveUnitDir returns the directory unit files are written to. Without an
// explicit directory it is /etc/systemd/system, or the per-user unit
// directory when operating on the user service manager.
func (s Settings) ResolveUnitDir() (string, error) {
	if s.UnitDir != "" {
		return os.ExpandEnv(s.UnitDir), nil
	}
	if !s.User {
		return "/etc/systemd/system", nil
	}

	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "systemd", "user"), nil
}

// Validate checks settings that every command relies on
func (s Settings) Validate() error {
	if s.ConfigPath == "" {
		return fmt.Errorf("a config file is required (--config or UNITSYNC_CONFIG)")
	}
	if s.StatePath == "" {
		return fmt.Errorf("a state file is required (--state or UNITSYNC_STATE)")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %s", s.Timeout)
	}
	return nil
}

// SourceCheckoutDir is where a templates repository is checked out, next to
// the state file.
func (s Settings) SourceCheckoutDir() string {
	return filepath.Join(filepath.Dir(os.ExpandEnv(s.StatePath)), "templates-repo")
}

// TemplatesRoot returns the directory templates are read from, given the
// checkout location of a configured source repository.
func (s Settings) TemplatesRoot(src SourceConfig) string {
	if src.URL == "" {
		return os.ExpandEnv(s.TemplatesDir)
	}
	if src.Subdir == "" {
		return s.SourceCheckoutDir()
	}
	return filepath.Join(s.SourceCheckoutDir(), src.Subdir)
}
