// Package catpass wires the pieces (catir, catanalysis, catoracle,
// catrewrite) into a runnable pass: load a config, build the alias oracle,
// and drive the analyze/rewrite loop to a fixed point per function.
package catpass

import (
	"fmt"
	"os"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// MinConfigVersion is the oldest config schema version this build still
// accepts. Bumped whenever a config field changes meaning, not merely
// when a field is added.
const MinConfigVersion = "v1.0.0"

// Config is the on-disk shape of a catpass run: which alias oracle to use,
// how many analyze/rewrite rounds to allow, and what to log.
type Config struct {
	// Version is a semver string identifying the config schema. Compared
	// against MinConfigVersion with golang.org/x/mod/semver, which unlike
	// string comparison correctly orders "v1.9.0" before "v1.10.0".
	Version string `yaml:"version"`

	// Oracle selects the alias oracle: "conservative" (default) or
	// "andersen".
	Oracle string `yaml:"oracle"`

	// MaxRounds bounds the analyze/rewrite fixed-point loop RunToFixpoint
	// drives. Zero means "use the package default".
	MaxRounds int `yaml:"maxRounds"`

	// Verbose enables per-round fact dumping through catdiag.
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig is used when no config file is given.
func DefaultConfig() Config {
	return Config{
		Version:   MinConfigVersion,
		Oracle:    "conservative",
		MaxRounds: 8,
	}
}

// LoadConfig reads and validates a YAML config file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports whether cfg is well-formed and its schema version is
// supported.
func (cfg Config) Validate() error {
	if !semver.IsValid(cfg.Version) {
		return fmt.Errorf("config version %q is not a valid semver string", cfg.Version)
	}
	if semver.Compare(cfg.Version, MinConfigVersion) < 0 {
		return fmt.Errorf("config version %s predates the minimum supported version %s",
			cfg.Version, MinConfigVersion)
	}
	switch cfg.Oracle {
	case "", "conservative", "andersen":
	default:
		return fmt.Errorf("unknown oracle %q, want \"conservative\" or \"andersen\"", cfg.Oracle)
	}
	if cfg.MaxRounds < 0 {
		return fmt.Errorf("maxRounds must be non-negative, got %d", cfg.MaxRounds)
	}
	return nil
}
