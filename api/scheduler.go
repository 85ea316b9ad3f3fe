/*
scheduler.go - Background circulation jobs

PURPOSE:
  Runs the library's periodic work without an operator:
  - every SweepInterval: flag overdue loans, expire stale reservations
    and lapsed holds
  - once a day at ReminderHour (UTC): send due/overdue reminders

DESIGN:
  - One goroutine, a ticker for the sweep and a timer for the reminder
  - Each pass gets its own context with a deadline so a stuck store can
    not wedge the loop
  - Failures are logged and the loop carries on; the next pass retries

USAGE:
  scheduler := NewScheduler(svc, SchedulerConfig{...}, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - library/sweep.go: SweepOverdue, ExpireReservations, SendReminders
  - handlers.go: TriggerReminders endpoint (manual run)
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/library-engine/library"
)

const passTimeout = 5 * time.Minute

type SchedulerConfig struct {
	SweepInterval time.Duration
	ReminderHour  int
	Enabled       bool
}

// Scheduler drives the periodic sweeps.
type Scheduler struct {
	svc *library.Service
	cfg SchedulerConfig
	log *slog.Logger

	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a new scheduler.
func NewScheduler(svc *library.Service, cfg SchedulerConfig, log *slog.Logger) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{svc: svc, cfg: cfg, log: log.With("component", "scheduler")}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.log.Info("disabled, not starting")
		return
	}
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.log.Info("started", "sweepInterval", s.cfg.SweepInterval, "reminderHour", s.cfg.ReminderHour)
}

// Stop stops the scheduler and waits for a pass in progress to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.running = false
	s.log.Info("stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	reminder := time.NewTimer(s.untilReminder())
	defer reminder.Stop()

	// Run immediately on start
	s.RunSweep()

	for {
		select {
		case <-ticker.C:
			s.RunSweep()
		case <-reminder.C:
			s.RunReminders()
			reminder.Reset(s.untilReminder())
		case <-s.stop:
			return
		}
	}
}

// RunSweep flags overdue loans and expires reservations once.
func (s *Scheduler) RunSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()

	overdue, err := s.svc.SweepOverdue(ctx)
	if err != nil {
		s.log.Error("overdue sweep failed", "error", err)
	} else if overdue.Changed > 0 || overdue.Failures > 0 {
		s.log.Info("overdue sweep", "checked", overdue.Checked, "flagged", overdue.Changed, "failures", overdue.Failures)
	}

	expired, err := s.svc.ExpireReservations(ctx)
	if err != nil {
		s.log.Error("reservation expiry failed", "error", err)
	} else if expired.Changed > 0 || expired.Failures > 0 {
		s.log.Info("reservation expiry", "checked", expired.Checked, "expired", expired.Changed, "failures", expired.Failures)
	}
}

// RunReminders sends the day's reminders once.
func (s *Scheduler) RunReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()

	res, err := s.svc.SendReminders(ctx)
	if err != nil {
		s.log.Error("reminder pass failed", "error", err)
		return
	}
	s.log.Info("reminder pass", "considered", res.Considered, "sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped)
}

func (s *Scheduler) untilReminder() time.Duration {
	now := s.svc.Now()
	return nextReminder(now, s.cfg.ReminderHour).Sub(now)
}

// nextReminder returns the first instant at hour:00 UTC strictly after now.
func nextReminder(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
