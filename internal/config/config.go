// Package config parses the uploader daemon's CLI surface and the optional
// YAML overlay of pre-config-arrival radar defaults.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the fully parsed CLI surface (spec.md §6).
type Config struct {
	APIEndpoint    string
	APIKey         string
	SerialPort     string
	ELFPath        string
	InfractionsDir string
	TestMode       bool

	// AuthorizedSpeed seeds the recorder's RadarConfig before the first
	// config_updated event arrives over the bridge (spec.md §3).
	AuthorizedSpeed int

	// CameraBin is the external camera CLI invoked by the photographer
	// capability; ignored in test mode.
	CameraBin string

	// DefaultsFile is ambient, not in the distilled CLI surface: an optional
	// YAML overlay of RadarDefaults loaded in place of the hardcoded
	// pre-config-arrival values.
	DefaultsFile string

	// S3Bucket, when set, enables the optional cold-storage archive tier.
	S3Bucket string
	S3Region string

	LogLevel  string
	LogFormat string
	LogFile   string
}

// ParseFlags parses args (excluding the program name) into a Config and
// validates it per spec.md §6: infractions-dir is always required;
// serial-port and elf-path are required unless test-mode is set.
func ParseFlags(progName string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(progName, flag.ContinueOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.APIEndpoint, "api-endpoint", "", "backend API base URL")
	fs.StringVar(&cfg.APIKey, "api-key", "", "backend API key")
	fs.StringVar(&cfg.SerialPort, "serial-port", "", "radar serial device path")
	fs.StringVar(&cfg.ELFPath, "elf-path", "", "path to the firmware ELF symbol table")
	fs.StringVar(&cfg.CameraBin, "camera-bin", "gphoto2", "external camera CLI invoked by the photographer capability")
	fs.StringVar(&cfg.InfractionsDir, "infractions-dir", "", "evidence directory")
	fs.BoolVar(&cfg.TestMode, "test-mode", false, "use the fake radar reader and a fixed test photo")
	fs.IntVar(&cfg.AuthorizedSpeed, "authorized-speed", 50, "authorized speed (km/h) before the first config_updated event arrives")
	fs.StringVar(&cfg.DefaultsFile, "defaults-file", "", "optional YAML overlay of radar defaults")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", "", "optional S3 bucket for cold-storage archival")
	fs.StringVar(&cfg.S3Region, "s3-region", "us-east-1", "S3 region for the archive bucket")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "json", "log format: json or text")
	fs.StringVar(&cfg.LogFile, "log-file", "", "optional secondary log file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.InfractionsDir == "" {
		return fmt.Errorf("--infractions-dir is required")
	}
	if !c.TestMode {
		if c.SerialPort == "" {
			return fmt.Errorf("--serial-port is required unless --test-mode is set")
		}
		if c.ELFPath == "" {
			return fmt.Errorf("--elf-path is required unless --test-mode is set")
		}
	}
	return nil
}

// RadarDefaults is the pre-config-arrival defaults overlay (spec.md §3),
// loadable from a small YAML document via --defaults-file. Absent the flag,
// the hardcoded defaults from spec.md §3 apply unchanged.
type RadarDefaults struct {
	AuthorizedSpeed   int16   `yaml:"authorized_speed"`
	MinDist           float64 `yaml:"min_dist"`
	MaxDist           float64 `yaml:"max_dist"`
	TriggerCooldownMs int64   `yaml:"trigger_cooldown_ms"`
}

// LoadDefaults reads and validates a RadarDefaults YAML document.
func LoadDefaults(path string) (*RadarDefaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading defaults file: %w", err)
	}

	var d RadarDefaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing defaults file: %w", err)
	}

	if d.MinDist > d.MaxDist {
		return nil, fmt.Errorf("defaults: min_dist (%v) must be <= max_dist (%v)", d.MinDist, d.MaxDist)
	}
	if d.TriggerCooldownMs < 0 {
		return nil, fmt.Errorf("defaults: trigger_cooldown_ms must be >= 0, got %d", d.TriggerCooldownMs)
	}
	return &d, nil
}
