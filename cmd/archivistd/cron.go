package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// reminderSweepInterval is how often check_reminders runs automatically
// in the background, independent of the daily reflection tick.
const reminderSweepInterval = time.Minute

// startScheduler runs two background goroutines: a daily 6am UTC
// reflection tick and a once-per-minute reminder sweep, grounded on the
// teacher's decay_worker.go/reflect_worker.go ticker-goroutine shape.
func startScheduler(ctx context.Context, d *deps, log zerolog.Logger) {
	go runDailyReflection(ctx, d, log)
	go runReminderSweep(ctx, d, log)
}

func runDailyReflection(ctx context.Context, d *deps, log zerolog.Logger) {
	for {
		wait := durationUntilNextRun(time.Now().UTC(), 6, 0)
		select {
		case <-time.After(wait):
			result := d.reflection.Run(ctx)
			if !result.Success {
				log.Error().Str("error", result.Error).Msg("scheduled reflection failed")
			} else {
				log.Info().Int("autoApplied", len(result.AutoAppliedFixes)).
					Int("proposed", len(result.ProposedEdits)).
					Msg("scheduled reflection complete")
			}
		case <-ctx.Done():
			return
		}
	}
}

func runReminderSweep(ctx context.Context, d *deps, log zerolog.Logger) {
	ticker := time.NewTicker(reminderSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fired, err := d.reminders.Check(ctx, time.Now())
			if err != nil {
				log.Error().Err(err).Msg("reminder sweep failed")
			} else if len(fired) > 0 {
				log.Info().Int("fired", len(fired)).Msg("reminders fired")
			}
		case <-ctx.Done():
			return
		}
	}
}

// durationUntilNextRun returns how long to wait until the next
// occurrence of hour:minute UTC, today if it hasn't passed yet or
// tomorrow otherwise.
func durationUntilNextRun(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
