package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/warp/library-engine/library"
	"github.com/warp/library-engine/library/store"
	"github.com/warp/library-engine/notify"
	"github.com/warp/library-engine/store/sqldb"
)

const (
	notifyAttempts = 3
	notifyBackoff  = 2 * time.Second
)

// NewLogger returns a JSON logger in production and a text logger
// otherwise.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if c.Production() {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// NewNotifier picks SMTP when SMTP_HOST is set and the log mailer
// otherwise. Either way delivery is retried.
func (c Config) NewNotifier(log *slog.Logger) library.Notifier {
	var base library.Notifier
	if c.SMTP.Host != "" {
		base = notify.NewSMTPMailer(c.SMTP)
	} else {
		base = notify.NewLogMailer(log)
	}
	return notify.NewRetrying(base, notifyAttempts, notifyBackoff, log)
}

// NewService builds the library service on top of st.
func (c Config) NewService(st library.TxStore, log *slog.Logger) *library.Service {
	return library.NewService(st,
		library.WithOptions(c.Library),
		library.WithNotifier(c.NewNotifier(log)),
		library.WithLogger(log),
	)
}

// OpenStore opens the backend named by driver. The returned closer
// releases it.
func OpenStore(ctx context.Context, driver, dsn string) (library.TxStore, func() error, error) {
	switch driver {
	case DriverMemory:
		return store.NewMemory(), func() error { return nil }, nil
	case DriverSQLite:
		db, err := sqldb.Open(ctx, sqldb.DriverSQLite, dsn)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case DriverPostgres:
		db, err := sqldb.Open(ctx, sqldb.DriverPostgres, dsn)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// OpenStore opens the configured backend.
func (c Config) OpenStore(ctx context.Context) (library.TxStore, func() error, error) {
	return OpenStore(ctx, c.DBDriver, c.DatabaseURL)
}
