// Package tasks implements the recurring tasks of the delivery engine: the
// per-minute delivery cycle and nightly database maintenance.
package tasks

import (
	"log/slog"

	"github.com/sendlater/sendlater/internal/database"
	"github.com/sendlater/sendlater/internal/dispatch"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger     *slog.Logger
	Store      database.Store
	Dispatcher *dispatch.Dispatcher
}
