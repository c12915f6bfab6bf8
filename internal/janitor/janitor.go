// Package janitor removes uploaded spreadsheets once they are no longer needed.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Janitor struct {
	Dir       string
	Retention time.Duration
	Log       *zap.Logger

	now func() time.Time
}

func New(dir string, retention time.Duration, log *zap.Logger) *Janitor {
	return &Janitor{Dir: dir, Retention: retention, Log: log, now: time.Now}
}

// Sweep deletes regular files in Dir last modified more than Retention ago.
// A missing directory is not an error.
func (j *Janitor) Sweep() (int, error) {

	entries, err := os.ReadDir(j.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := j.now().Add(-j.Retention)
	removed := 0
	var errs []error

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(j.Dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	return removed, errors.Join(errs...)
}

// Remove deletes a single upload, e.g. when its session expires.
func (j *Janitor) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		j.Log.Warn("failed to remove upload", zap.String("path", path), zap.Error(err))
	}
}

// Run sweeps on schedule until ctx is done, then waits for a running sweep.
func (j *Janitor) Run(ctx context.Context, schedule string) error {

	sched, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("janitor: invalid schedule %q: %w", schedule, err)
	}

	c := cron.New()
	c.Schedule(sched, cron.FuncJob(j.sweepAndLog))
	c.Start()

	j.Log.Info("upload janitor started",
		zap.String("dir", j.Dir),
		zap.String("schedule", schedule),
		zap.Duration("retention", j.Retention),
	)

	<-ctx.Done()
	<-c.Stop().Done()

	j.Log.Info("upload janitor stopped")
	return nil
}

func (j *Janitor) sweepAndLog() {
	removed, err := j.Sweep()
	if err != nil {
		j.Log.Error("upload sweep failed", zap.Int("removed", removed), zap.Error(err))
		return
	}
	if removed > 0 {
		j.Log.Info("expired uploads removed", zap.Int("removed", removed))
	}
}
