package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/till-engine/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "till.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Report.InitialLookbackDays)
	assert.Equal(t, 365, cfg.Report.MaxLookbackDays)
	assert.Equal(t, 3, cfg.Till.MonthlyDiscrepancyLimit)
	assert.Equal(t, "+00:00", cfg.Location().Offset())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	// GIVEN: A file with a drawer limit and zone
	path := writeFile(t, `
server:
  port: 9000
  allowed_origins: ["http://a.test"]
zone: "+01:00"
till:
  drawer_limit: 500.50
  pin_required_above_limit: true
  signoff_threshold: 20
report:
  initial_lookback_days: 14
`)
	// AND: Env overrides for the port and origins
	t.Setenv("TILL_PORT", "9100")
	t.Setenv("TILL_ALLOWED_ORIGINS", "http://b.test, http://c.test")

	// WHEN: Loading
	cfg, err := config.Load(path)
	require.NoError(t, err)

	// THEN: Env wins over YAML, YAML over defaults
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"http://b.test", "http://c.test"}, cfg.Server.AllowedOrigins)
	assert.True(t, decimal.RequireFromString("500.5").Equal(cfg.Till.DrawerLimit))
	assert.True(t, cfg.TillSettings().PinRequiredAboveLimit)
	assert.True(t, decimal.NewFromInt(20).Equal(cfg.Till.SignoffThreshold))
	assert.Equal(t, 14, cfg.Report.InitialLookbackDays)
	assert.Equal(t, "+01:00", cfg.Location().Offset())
	assert.Equal(t, "till.db", cfg.Server.DBPath)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "bad zone", yaml: `zone: "Europe/Rome"`},
		{name: "lookback above ceiling", yaml: "report:\n  initial_lookback_days: 400\n"},
		{name: "negative limit", yaml: "till:\n  drawer_limit: -1\n"},
		{name: "bad level", yaml: "log:\n  level: loud\n"},
		{name: "bad env number", env: map[string]string{"TILL_PORT": "eighty"}},
		{name: "bad env flag", env: map[string]string{"TILL_PIN_ABOVE_LIMIT": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeFile(t, tt.yaml)
			}

			_, err := config.Load(path)

			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := config.Defaults()
	cfg.Log.Level = "debug"
	cfg.Log.Development = true

	log, err := cfg.NewLogger()

	require.NoError(t, err)
	assert.NotNil(t, log)
}
