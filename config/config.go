/*
Package config loads runtime settings from the environment.

PURPOSE:
  One struct for everything the server and CLI need: storage, auth, the
  background scheduler, mail, and the library's business constants.
  Every key has a development default, so an empty environment starts a
  working server on a local SQLite file.

KEYS:
  APP_ENV              development | production (log format)
  APP_PORT             HTTP port (8080)
  DB_DRIVER            sqlite | postgres | memory (sqlite)
  DATABASE_URL         DSN for the driver (file:library.db?...)
  JWT_SECRET           HS256 signing key
  ALLOW_ROLE_HEADER    honour X-Role without a token (dev only)
  REQUEST_TIMEOUT      per-request deadline (30s)
  SWEEP_INTERVAL       overdue/expiry sweep period (15m)
  REMINDER_HOUR        UTC hour of the daily reminder pass (8)
  MAX_RENEWALS, DEFAULT_LOAN_DAYS, DEFAULT_RENEW_DAYS,
  RESERVATION_DAYS, HOLD_DAYS, FINE_RATE, FINE_CAP
  SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS, EMAIL_FROM
  BOOTSTRAP_ADMIN_EMAIL, BOOTSTRAP_ADMIN_PASSWORD
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/library-engine/library"
	"github.com/warp/library-engine/notify"
)

// Storage drivers accepted in DB_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Env  string
	Port string

	DBDriver    string
	DatabaseURL string

	JWTSecret       string
	AllowRoleHeader bool
	RequestTimeout  time.Duration

	SweepInterval time.Duration
	ReminderHour  int

	Library library.Options

	SMTP notify.SMTPConfig

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// Production reports whether APP_ENV is production.
func (c Config) Production() bool {
	return c.Env == "production"
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads settings through getenv. Parse errors for every key are
// collected and returned together.
func LoadFrom(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}
	defaults := library.DefaultOptions()

	cfg := Config{
		Env:             p.str("APP_ENV", "development"),
		Port:            p.str("APP_PORT", "8080"),
		DBDriver:        strings.ToLower(p.str("DB_DRIVER", DriverSQLite)),
		DatabaseURL:     p.str("DATABASE_URL", "file:library.db?_journal_mode=WAL&_busy_timeout=5000"),
		JWTSecret:       p.str("JWT_SECRET", "local_dev_secret"),
		AllowRoleHeader: p.boolean("ALLOW_ROLE_HEADER", false),
		RequestTimeout:  p.duration("REQUEST_TIMEOUT", 30*time.Second),
		SweepInterval:   p.duration("SWEEP_INTERVAL", 15*time.Minute),
		ReminderHour:    p.integer("REMINDER_HOUR", 8),
		Library: library.Options{
			MaxRenewals:      p.integer("MAX_RENEWALS", defaults.MaxRenewals),
			DefaultLoanDays:  p.integer("DEFAULT_LOAN_DAYS", defaults.DefaultLoanDays),
			DefaultRenewDays: p.integer("DEFAULT_RENEW_DAYS", defaults.DefaultRenewDays),
			ReservationDays:  p.integer("RESERVATION_DAYS", defaults.ReservationDays),
			HoldDays:         p.integer("HOLD_DAYS", defaults.HoldDays),
			Fines: library.FinePolicy{
				Rate: p.decimal("FINE_RATE", defaults.Fines.Rate),
				Cap:  p.decimal("FINE_CAP", defaults.Fines.Cap),
			},
		},
		SMTP: notify.SMTPConfig{
			Host:     p.str("SMTP_HOST", ""),
			Port:     p.integer("SMTP_PORT", 587),
			Username: p.str("SMTP_USER", ""),
			Password: p.str("SMTP_PASS", ""),
			From:     p.str("EMAIL_FROM", "library@localhost"),
		},
		BootstrapAdminEmail:    p.str("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword: p.str("BOOTSTRAP_ADMIN_PASSWORD", ""),
	}
	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER: unknown driver %q", c.DBDriver))
	}
	if c.DBDriver != DriverMemory && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL: required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET: required"))
	}
	if c.Production() && c.JWTSecret == "local_dev_secret" {
		errs = append(errs, errors.New("JWT_SECRET: the development secret is not allowed in production"))
	}
	if c.Production() && c.AllowRoleHeader {
		errs = append(errs, errors.New("ALLOW_ROLE_HEADER: not allowed in production"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT: must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL: must be positive"))
	}
	if c.ReminderHour < 0 || c.ReminderHour > 23 {
		errs = append(errs, errors.New("REMINDER_HOUR: must be between 0 and 23"))
	}
	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		errs = append(errs, errors.New("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together"))
	}
	if err := c.Library.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// =============================================================================
// PARSING
// =============================================================================

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func (p *parser) decimal(key string, def decimal.Decimal) decimal.Decimal {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a number", key, v))
		return def
	}
	return d
}
