package tasks

import (
	"context"
	"fmt"
)

// newDeliveryTask creates the scheduled task function that runs one delivery
// cycle. Overlap protection lives in the dispatcher, so a slow cycle makes
// the next invocation a no-op rather than an error.
func newDeliveryTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "delivery")

	return func(ctx context.Context) error {
		claimed, err := deps.Dispatcher.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("delivery cycle failed: %w", err)
		}
		if claimed > 0 {
			log.DebugContext(ctx, "Delivery cycle processed messages", "claimed", claimed)
		}
		return nil
	}
}
