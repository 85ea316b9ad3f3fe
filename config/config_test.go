package config

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/library-engine/library"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(env(nil))

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 2, cfg.Library.MaxRenewals)
	assert.True(t, decimal.NewFromInt(50).Equal(cfg.Library.Fines.Cap))
	assert.False(t, cfg.Production())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{
		"DB_DRIVER":         "Postgres",
		"DATABASE_URL":      "postgres://lib@localhost/lib",
		"MAX_RENEWALS":      "5",
		"FINE_RATE":         "0.25",
		"ALLOW_ROLE_HEADER": "true",
		"SWEEP_INTERVAL":    "1m",
		"SMTP_HOST":         "mail.local",
	}))

	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 5, cfg.Library.MaxRenewals)
	assert.True(t, decimal.RequireFromString("0.25").Equal(cfg.Library.Fines.Rate))
	assert.True(t, cfg.AllowRoleHeader)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, "mail.local", cfg.SMTP.Host)
	assert.Equal(t, 587, cfg.SMTP.Port)
}

func TestLoad_CollectsParseErrors(t *testing.T) {
	_, err := LoadFrom(env(map[string]string{
		"MAX_RENEWALS":   "two",
		"SWEEP_INTERVAL": "often",
		"FINE_CAP":       "lots",
	}))

	require.Error(t, err)
	assert.ErrorContains(t, err, "MAX_RENEWALS")
	assert.ErrorContains(t, err, "SWEEP_INTERVAL")
	assert.ErrorContains(t, err, "FINE_CAP")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown driver", env: map[string]string{"DB_DRIVER": "mysql"}, wantErr: "DB_DRIVER"},
		{name: "dev secret in production", env: map[string]string{"APP_ENV": "production"}, wantErr: "JWT_SECRET"},
		{name: "role header in production", env: map[string]string{"APP_ENV": "production", "JWT_SECRET": "s3cret", "ALLOW_ROLE_HEADER": "1"}, wantErr: "ALLOW_ROLE_HEADER"},
		{name: "reminder hour", env: map[string]string{"REMINDER_HOUR": "24"}, wantErr: "REMINDER_HOUR"},
		{name: "half a bootstrap admin", env: map[string]string{"BOOTSTRAP_ADMIN_EMAIL": "a@b.c"}, wantErr: "BOOTSTRAP_ADMIN"},
		{name: "negative fine rate", env: map[string]string{"FINE_RATE": "-1"}, wantErr: "fineRate"},
		{name: "zero renewals is allowed", env: map[string]string{"MAX_RENEWALS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFrom(env(tt.env))
			require.NoError(t, err)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewNotifier_FallsBackToLog(t *testing.T) {
	cfg, err := LoadFrom(env(nil))
	require.NoError(t, err)
	log := cfg.NewLogger(io.Discard)

	n := cfg.NewNotifier(log)

	require.NotNil(t, n)
	assert.NoError(t, n.SendReminder(context.Background(), "ada@example.com", "Due soon", "Your book is due."))
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, closeFn, err := OpenStore(ctx, DriverMemory, "")
	require.NoError(t, err)
	n, err := st.Count(ctx, library.KindBook)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, closeFn())

	st, closeFn, err = OpenStore(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer closeFn()
	n, err = st.Count(ctx, library.KindStudent)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, _, err = OpenStore(ctx, "mysql", "")
	assert.ErrorContains(t, err, "mysql")
}
