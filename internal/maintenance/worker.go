// Package maintenance runs the periodic housekeeping jobs: history
// retention and document backups.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/bella/internal/storage"
)

// Default schedules, in robfig/cron syntax.
const (
	DefaultRetentionSchedule = "@every 1h"
	DefaultBackupSchedule    = "@every 30m"
)

// Engine is the subset of the memory engine the worker drives.
type Engine interface {
	RunRetentionPass(ctx context.Context, now time.Time) (int, error)
	Flush(ctx context.Context) error
	Backup(ctx context.Context) ([]storage.BackupInfo, error)
}

// Options configures a Worker. Empty schedules use the defaults; "off"
// disables a job.
type Options struct {
	RetentionSchedule string
	BackupSchedule    string
	Logger            *slog.Logger
	Now               func() time.Time
}

// Worker runs retention and backup jobs on a cron schedule.
type Worker struct {
	engine Engine
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time
}

// NewWorker registers the scheduled jobs. It fails on an unparsable
// schedule.
func NewWorker(engine Engine, opts Options) (*Worker, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RetentionSchedule == "" {
		opts.RetentionSchedule = DefaultRetentionSchedule
	}
	if opts.BackupSchedule == "" {
		opts.BackupSchedule = DefaultBackupSchedule
	}

	w := &Worker{
		engine: engine,
		logger: opts.Logger,
		now:    opts.Now,
	}
	w.cron = cron.New(
		cron.WithLogger(cronLogger{w.logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{w.logger})),
	)

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"retention", opts.RetentionSchedule, w.RunRetention},
		{"backup", opts.BackupSchedule, w.RunBackup},
	}
	for _, j := range jobs {
		if j.schedule == "off" {
			continue
		}
		run := j.run
		name := j.name
		if _, err := w.cron.AddFunc(j.schedule, func() {
			if err := run(context.Background()); err != nil {
				w.logger.Error("maintenance job failed", "job", name, "error", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("scheduling %s job %q: %w", j.name, j.schedule, err)
		}
	}
	return w, nil
}

// Jobs returns the number of scheduled jobs.
func (w *Worker) Jobs() int {
	return len(w.cron.Entries())
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (w *Worker) Run(ctx context.Context) {
	w.cron.Start()
	<-ctx.Done()
	<-w.cron.Stop().Done()
}

// RunRetention expires old history entries.
func (w *Worker) RunRetention(ctx context.Context) error {
	n, err := w.engine.RunRetentionPass(ctx, w.now())
	if err != nil {
		return fmt.Errorf("retention pass: %w", err)
	}
	w.logger.Debug("retention pass complete", "removed", n)
	return nil
}

// RunBackup retries pending writes and then backs up both documents. A
// failed flush does not block the backup.
func (w *Worker) RunBackup(ctx context.Context) error {
	flushErr := w.engine.Flush(ctx)
	if flushErr != nil {
		flushErr = fmt.Errorf("flushing: %w", flushErr)
	}
	infos, err := w.engine.Backup(ctx)
	if err != nil {
		err = fmt.Errorf("backup: %w", err)
	}
	for _, info := range infos {
		w.logger.Info("backup written", "type", info.Kind, "id", info.ID, "size", info.Size)
	}
	return errors.Join(flushErr, err)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
