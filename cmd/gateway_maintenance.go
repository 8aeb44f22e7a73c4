package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// maintenanceTask is a periodic sweep returning how many entries it removed.
type maintenanceTask struct {
	name string
	run  func() int
}

// runMaintenance runs every task on the cron schedule until ctx is done.
// An invalid or empty schedule falls back to once a minute.
func runMaintenance(ctx context.Context, schedule string, tasks []maintenanceTask) {
	if schedule == "" || !gronx.New().IsValid(schedule) {
		schedule = "* * * * *"
	}
	for {
		next, err := gronx.NextTickAfter(schedule, time.Now(), false)
		if err != nil {
			slog.Error("maintenance.schedule_failed", "schedule", schedule, "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		runMaintenanceOnce(tasks)
	}
}

func runMaintenanceOnce(tasks []maintenanceTask) {
	for _, t := range tasks {
		if n := t.run(); n > 0 {
			slog.Debug("maintenance.swept", "task", t.name, "removed", n)
		}
	}
}
