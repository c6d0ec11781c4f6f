/*
config.go - Runtime configuration

PURPOSE:
  One YAML file plus environment overrides. Loaded once at startup.

LOAD ORDER (later wins):
  1. Defaults()
  2. .env file in the working directory, if present (godotenv)
  3. YAML file at the given path, if non-empty
  4. TILL_* environment variables

ENVIRONMENT:
  TILL_PORT                     server.port
  TILL_DB                       server.db_path
  TILL_ALLOWED_ORIGINS          server.allowed_origins (comma separated)
  TILL_ZONE                     zone
  TILL_DRAWER_LIMIT             till.drawer_limit
  TILL_PIN_ABOVE_LIMIT          till.pin_required_above_limit
  TILL_MONTHLY_DISCREPANCIES    till.monthly_discrepancy_limit
  TILL_SIGNOFF_THRESHOLD        till.signoff_threshold
  TILL_REPORT_LOOKBACK          report.initial_lookback_days
  TILL_REPORT_MAX_LOOKBACK      report.max_lookback_days
  TILL_REPORT_SCHEDULE          report.schedule
  TILL_REPORT_DIR               report.export_dir
  TILL_LOG_LEVEL                log.level
  TILL_LOG_DEV                  log.development

SETTINGS vs CONFIG:
  till.drawer_limit and till.pin_required_above_limit only seed the
  settings table on first start. After that the stored settings win and
  are re-read on every drawer evaluation.

EXAMPLE:
  server:
    port: 8080
    db_path: ./data/till.db
    allowed_origins: ["http://localhost:3000"]
  zone: "+01:00"
  till:
    drawer_limit: 500
    pin_required_above_limit: true
    monthly_discrepancy_limit: 3
    signoff_threshold: 20
  report:
    initial_lookback_days: 7
    max_lookback_days: 365
    schedule: "5 0 * * *"
    export_dir: ./reports
  log:
    level: info
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/warp/till-engine/recon"
	"github.com/warp/till-engine/till"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Zone   string       `yaml:"zone"`
	Till   TillConfig   `yaml:"till"`
	Report ReportConfig `yaml:"report"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	DBPath         string   `yaml:"db_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type TillConfig struct {
	DrawerLimit             decimal.Decimal `yaml:"drawer_limit"`
	PinRequiredAboveLimit   bool            `yaml:"pin_required_above_limit"`
	MonthlyDiscrepancyLimit int             `yaml:"monthly_discrepancy_limit"`
	SignoffThreshold        decimal.Decimal `yaml:"signoff_threshold"`
}

type ReportConfig struct {
	InitialLookbackDays int    `yaml:"initial_lookback_days"`
	MaxLookbackDays     int    `yaml:"max_lookback_days"`
	Schedule            string `yaml:"schedule"`
	ExportDir           string `yaml:"export_dir"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			DBPath:         "till.db",
			AllowedOrigins: []string{"*"},
		},
		Zone: "+00:00",
		Till: TillConfig{
			DrawerLimit:             decimal.Zero,
			MonthlyDiscrepancyLimit: till.DefaultMonthlyDiscrepancyLimit,
			SignoffThreshold:        decimal.Zero,
		},
		Report: ReportConfig{
			InitialLookbackDays: recon.DefaultInitialLookbackDays,
			MaxLookbackDays:     recon.DefaultMaxLookbackDays,
			Schedule:            "5 0 * * *",
			ExportDir:           "reports",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration. An empty path skips the YAML file.
func Load(path string) (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dec := func(key string, dst *decimal.Decimal) {
		if v, ok := lookup(key); ok {
			d, err := decimal.NewFromString(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	num("TILL_PORT", &c.Server.Port)
	str("TILL_DB", &c.Server.DBPath)
	if v, ok := lookup("TILL_ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, o)
			}
		}
	}
	str("TILL_ZONE", &c.Zone)
	dec("TILL_DRAWER_LIMIT", &c.Till.DrawerLimit)
	flag("TILL_PIN_ABOVE_LIMIT", &c.Till.PinRequiredAboveLimit)
	num("TILL_MONTHLY_DISCREPANCIES", &c.Till.MonthlyDiscrepancyLimit)
	dec("TILL_SIGNOFF_THRESHOLD", &c.Till.SignoffThreshold)
	num("TILL_REPORT_LOOKBACK", &c.Report.InitialLookbackDays)
	num("TILL_REPORT_MAX_LOOKBACK", &c.Report.MaxLookbackDays)
	str("TILL_REPORT_SCHEDULE", &c.Report.Schedule)
	str("TILL_REPORT_DIR", &c.Report.ExportDir)
	str("TILL_LOG_LEVEL", &c.Log.Level)
	flag("TILL_LOG_DEV", &c.Log.Development)

	return errors.Join(errs...)
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.DBPath == "" {
		errs = append(errs, errors.New("server.db_path is empty"))
	}
	if _, err := recon.ParseZone(c.Zone); err != nil {
		errs = append(errs, err)
	}
	if c.Till.DrawerLimit.IsNegative() {
		errs = append(errs, errors.New("till.drawer_limit is negative"))
	}
	if c.Till.SignoffThreshold.IsNegative() {
		errs = append(errs, errors.New("till.signoff_threshold is negative"))
	}
	if c.Report.InitialLookbackDays <= 0 {
		errs = append(errs, errors.New("report.initial_lookback_days must be positive"))
	}
	if c.Report.InitialLookbackDays > c.Report.MaxLookbackDays {
		errs = append(errs, fmt.Errorf("report.initial_lookback_days %d exceeds max_lookback_days %d",
			c.Report.InitialLookbackDays, c.Report.MaxLookbackDays))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// Location returns the parsed zone. Only valid after Validate.
func (c Config) Location() recon.Zone {
	z, _ := recon.ParseZone(c.Zone)
	return z
}

// TillSettings is the seed for the settings store.
func (c Config) TillSettings() recon.TillSettings {
	return recon.TillSettings{
		DrawerLimit:           c.Till.DrawerLimit,
		PinRequiredAboveLimit: c.Till.PinRequiredAboveLimit,
	}
}

// NewLogger builds the process logger from the log section.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
