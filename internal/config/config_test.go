package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Second, cfg.CommandTimeout)
	assert.Len(t, cfg.Ports(), 15)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autoaccept.yaml")
	yamlDoc := `
portFrom: 9200
portTo: 9202
cycleInterval: 2s
session:
  variant: antigravity
  pollIntervalMs: 500
  bannedPatterns:
    - "rm -rf /"
    - "/git\\s+push\\s+--force/"
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	t.Setenv("AUTOACCEPT_PORT_TO", "9205")
	t.Setenv("AUTOACCEPT_BACKGROUND", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.PortFrom)
	assert.Equal(t, 9205, cfg.PortTo)
	assert.Equal(t, 2*time.Second, cfg.CycleInterval)
	assert.Equal(t, models.VariantAntigravity, cfg.Session.Variant)
	assert.True(t, cfg.Session.BackgroundModeEnabled)
	assert.Equal(t, 500, cfg.Session.PollIntervalMs)
	assert.Equal(t, []string{"rm -rf /", `/git\s+push\s+--force/`}, cfg.Session.BannedPatterns)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv_BadValues(t *testing.T) {
	env := map[string]string{
		"AUTOACCEPT_PORT_FROM":      "abc",
		"AUTOACCEPT_CYCLE_INTERVAL": "soon",
	}
	cfg := Default()
	err := applyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTOACCEPT_PORT_FROM")
	assert.Contains(t, err.Error(), "AUTOACCEPT_CYCLE_INTERVAL")
}

func TestApplyEnv_BannedIsNewlineSeparated(t *testing.T) {
	env := map[string]string{
		"AUTOACCEPT_BANNED":  "rm -rf /\n  /curl .*\\|\\s*sh/i  \n\n",
		"AUTOACCEPT_VARIANT": "Cursor",
	}
	cfg := Default()
	require.NoError(t, applyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, []string{"rm -rf /", `/curl .*\|\s*sh/i`}, cfg.Session.BannedPatterns)
	assert.Equal(t, models.VariantCursor, cfg.Session.Variant)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted port range", func(c *Config) { c.PortFrom, c.PortTo = 9010, 9000 }},
		{"zero command timeout", func(c *Config) { c.CommandTimeout = 0 }},
		{"stale below cycle", func(c *Config) { c.StaleAfter = c.CycleInterval }},
		{"unknown variant", func(c *Config) { c.Session.Variant = "vim" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
