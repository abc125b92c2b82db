// Package schedule fires periodic work from 5-field cron expressions.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Job is one scheduled unit of work.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context) error
}

// Validate reports whether expr parses as a 5-field cron expression.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return lserrors.ConfigError(fmt.Sprintf("invalid cron expression %q", expr), err)
	}
	return nil
}

// Next returns the first fire time of expr after t.
func Next(expr string, t time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, lserrors.ConfigError(fmt.Sprintf("invalid cron expression %q", expr), err)
	}
	return sched.Next(t), nil
}

// Run fires job at every scheduled time until ctx ends. A failed run is
// logged and the schedule continues.
func Run(ctx context.Context, job Job) error {
	sched, err := parser.Parse(job.Expr)
	if err != nil {
		return lserrors.ConfigError(fmt.Sprintf("invalid cron expression %q", job.Expr), err)
	}

	timer := time.NewTimer(time.Until(sched.Next(time.Now())))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case fired := <-timer.C:
			slog.Info("schedule_fired", slog.String("job", job.Name), slog.Time("at", fired))
			if err := job.Run(ctx); err != nil {
				slog.Error("schedule_job_failed",
					append([]any{slog.String("job", job.Name)}, lserrors.LogAttrs(err)...)...)
			}
			timer.Reset(time.Until(sched.Next(time.Now())))
		}
	}
}
