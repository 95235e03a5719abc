package tasks

import (
	"context"
	"fmt"
	"time"
)

// newMaintenanceTask creates the scheduled task function for running database
// maintenance.
func newMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "maintenance")

	return func(ctx context.Context) error {
		startTime := time.Now()

		if err := deps.Store.RunMaintenance(ctx); err != nil {
			return fmt.Errorf("database maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Database maintenance completed", "duration", time.Since(startTime))
		return nil
	}
}
