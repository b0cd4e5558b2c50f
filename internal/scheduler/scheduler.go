package scheduler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"SweepSentinel/internal/bias"
	"SweepSentinel/internal/confirm"
	"SweepSentinel/internal/dispatch"
	"SweepSentinel/internal/metrics"
	"SweepSentinel/internal/notifier"
	"SweepSentinel/internal/store"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron       *cron.Cron
	Scanner    *bias.Scanner
	Machine    *confirm.Machine
	Dispatcher *dispatch.Dispatcher
	Ctx        context.Context

	log zerolog.Logger
}

// cronLogger routes cron's own messages into zerolog.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// NewScheduler creates a new Scheduler. Every job is wrapped so a panic is
// logged instead of killing the process and a run still in progress when the
// next one is due makes that one skip.
func NewScheduler(ctx context.Context, sc *bias.Scanner, m *confirm.Machine, d *dispatch.Dispatcher, log zerolog.Logger) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log: log}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		Scanner:    sc,
		Machine:    m,
		Dispatcher: d,
		Ctx:        ctx,
		log:        log,
	}
}

// RegisterAll registers the coarse, fine and maintenance tasks.
func (s *Scheduler) RegisterAll(coarseCron, fineCron, maintenanceCron string) error {
	if _, err := s.Cron.AddFunc(coarseCron, s.coarseTask); err != nil {
		return fmt.Errorf("register coarse task: %w", err)
	}
	if _, err := s.Cron.AddFunc(fineCron, s.fineTask); err != nil {
		return fmt.Errorf("register fine task: %w", err)
	}
	if _, err := s.Cron.AddFunc(maintenanceCron, s.maintenanceTask); err != nil {
		return fmt.Errorf("register maintenance task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunCoarseNow executes the coarse task immediately (for manual trigger / startup).
func (s *Scheduler) RunCoarseNow() { s.coarseTask() }

// RunFineNow executes the fine task immediately.
func (s *Scheduler) RunFineNow() { s.fineTask() }

// RunMaintenanceNow executes the maintenance task immediately.
func (s *Scheduler) RunMaintenanceNow() { s.maintenanceTask() }

func (s *Scheduler) coarseTask() {
	ev, err := s.Scanner.Tick(s.Ctx)
	s.observe("coarse", err)
	if err != nil {
		s.log.Error().Err(err).Msg("coarse tick")
		return
	}
	if ev != nil {
		s.log.Info().Str("sweep", ev.ID).Str("bias", string(ev.Bias)).Msg("coarse tick opened a sequence")
	}
}

func (s *Scheduler) fineTask() {
	err := s.Machine.Tick(s.Ctx)
	s.observe("fine", err)
	if err != nil {
		s.log.Error().Err(err).Msg("fine tick")
	}
}

func (s *Scheduler) maintenanceTask() {
	var errs []error
	sweeps, err := s.Scanner.ExpireSweeps(s.Ctx)
	if err != nil {
		errs = append(errs, err)
	}
	stale, err := s.Machine.ExpireStale(s.Ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("expire stale sequences: %w", err))
	}
	resent := 0
	if s.Dispatcher != nil {
		if resent, err = s.Dispatcher.Redeliver(s.Ctx); err != nil {
			errs = append(errs, fmt.Errorf("redeliver: %w", err))
		}
	}
	h, err := s.Machine.Health(s.Ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("health: %w", err))
	}

	err = errors.Join(errs...)
	s.observe("maintenance", err)
	if err != nil {
		s.log.Error().Err(err).Msg("maintenance")
	}
	s.log.Info().
		Int("sweeps_expired", sweeps).
		Int("sequences_expired", stale).
		Int("redelivered", resent).
		Int("active", h.Active).
		Strs("near_expiry", h.NearExpiry).
		Str("active_sweep", h.ActiveSweepID).
		Msg("maintenance done")
}

func (s *Scheduler) observe(cadence string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.TicksTotal.WithLabelValues(cadence, result).Inc()
}

const helpText = "Available commands:\n• /status &lt;sequence id&gt;\n• /health\n• /scan"

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	switch fields[0] {
	case "/status":
		if len(fields) < 2 {
			return "Usage: /status &lt;sequence id&gt;"
		}
		st, err := s.Machine.Status(ctx, fields[1])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("Sequence <code>%s</code> not found", html.EscapeString(fields[1]))
		}
		if err != nil {
			s.log.Error().Err(err).Str("sequence", fields[1]).Msg("status query")
			return "❌ Status lookup failed"
		}
		return notifier.FormatStatus(st)
	case "/health":
		h, err := s.Machine.Health(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("health query")
			return "❌ Health check failed"
		}
		return notifier.FormatHealth(h)
	case "/scan":
		s.coarseTask()
		return "Coarse scan finished"
	default:
		return helpText
	}
}
