// Package config loads daemon settings from defaults, an optional YAML file,
// and AUTOACCEPT_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/autoaccept/internal/discovery"
	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

const envPrefix = "AUTOACCEPT_"

// Config holds every tunable of the daemon
type Config struct {
	ListenAddr string `yaml:"listenAddr"`
	LogLevel   string `yaml:"logLevel"`
	LogDev     bool   `yaml:"logDev"`
	DBPath     string `yaml:"dbPath"`

	DebugHost    string        `yaml:"debugHost"`
	PortFrom     int           `yaml:"portFrom"`
	PortTo       int           `yaml:"portTo"`
	ProbeTimeout time.Duration `yaml:"probeTimeout"`

	CommandTimeout time.Duration `yaml:"commandTimeout"`
	CycleInterval  time.Duration `yaml:"cycleInterval"`
	RollupInterval time.Duration `yaml:"rollupInterval"`
	MaxAttaching   int           `yaml:"maxAttaching"`

	LockName   string        `yaml:"lockName"`
	StaleAfter time.Duration `yaml:"staleAfter"`

	ClicksPerMinute int `yaml:"clicksPerMinute"`
	ClickBurst      int `yaml:"clickBurst"`
	APIPerHour      int `yaml:"apiPerHour"`
	APIBurst        int `yaml:"apiBurst"`

	Session models.SessionConfig `yaml:"session"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8787",
		LogLevel:        "info",
		DBPath:          "./storage/autoaccept.db",
		DebugHost:       "127.0.0.1",
		PortFrom:        9000,
		PortTo:          9014,
		ProbeTimeout:    800 * time.Millisecond,
		CommandTimeout:  2 * time.Second,
		CycleInterval:   3 * time.Second,
		RollupInterval:  time.Minute,
		MaxAttaching:    4,
		LockName:        "controller",
		StaleAfter:      10 * time.Second,
		ClicksPerMinute: 60,
		ClickBurst:      10,
		APIPerHour:      3600,
		APIBurst:        60,
		Session: models.SessionConfig{
			Variant: models.VariantCursor,
		},
	}
}

// Load builds the config. A missing file at an explicitly named path is an
// error; an empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and required fields
func (c Config) Validate() error {
	var errs []error
	if c.PortFrom <= 0 || c.PortTo < c.PortFrom || c.PortTo > 65535 {
		errs = append(errs, fmt.Errorf("invalid port range %d-%d", c.PortFrom, c.PortTo))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, errors.New("commandTimeout must be positive"))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("probeTimeout must be positive"))
	}
	if c.CycleInterval <= 0 {
		errs = append(errs, errors.New("cycleInterval must be positive"))
	}
	if c.StaleAfter <= c.CycleInterval {
		errs = append(errs, fmt.Errorf("staleAfter (%s) must exceed cycleInterval (%s)", c.StaleAfter, c.CycleInterval))
	}
	if !c.Session.Variant.Valid() {
		errs = append(errs, fmt.Errorf("unknown variant %q", c.Session.Variant))
	}
	if c.Session.PollIntervalMs < 0 {
		errs = append(errs, errors.New("pollIntervalMs must not be negative"))
	}
	return errors.Join(errs...)
}

// Ports expands the configured probe range
func (c Config) Ports() []int {
	return discovery.PortRange(c.PortFrom, c.PortTo)
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("LOG_LEVEL", &cfg.LogLevel)
	boolean("LOG_DEV", &cfg.LogDev)
	str("DB_PATH", &cfg.DBPath)
	str("DEBUG_HOST", &cfg.DebugHost)
	integer("PORT_FROM", &cfg.PortFrom)
	integer("PORT_TO", &cfg.PortTo)
	duration("PROBE_TIMEOUT", &cfg.ProbeTimeout)
	duration("COMMAND_TIMEOUT", &cfg.CommandTimeout)
	duration("CYCLE_INTERVAL", &cfg.CycleInterval)
	duration("ROLLUP_INTERVAL", &cfg.RollupInterval)
	integer("MAX_ATTACHING", &cfg.MaxAttaching)
	str("LOCK_NAME", &cfg.LockName)
	duration("STALE_AFTER", &cfg.StaleAfter)
	integer("CLICKS_PER_MINUTE", &cfg.ClicksPerMinute)
	integer("CLICK_BURST", &cfg.ClickBurst)

	var variant string
	str("VARIANT", &variant)
	if variant != "" {
		cfg.Session.Variant = models.Variant(strings.ToLower(variant))
	}
	boolean("BACKGROUND", &cfg.Session.BackgroundModeEnabled)
	integer("POLL_INTERVAL_MS", &cfg.Session.PollIntervalMs)

	// Banned patterns are newline separated so that regex bodies may contain commas
	var banned string
	str("BANNED", &banned)
	if banned != "" {
		cfg.Session.BannedPatterns = nil
		for _, line := range strings.Split(banned, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				cfg.Session.BannedPatterns = append(cfg.Session.BannedPatterns, line)
			}
		}
	}

	return errors.Join(errs...)
}
