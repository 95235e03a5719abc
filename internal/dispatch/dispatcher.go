// Package dispatch implements the delivery cycle: claim due messages, resolve
// a token per message, post each message, and record the terminal status.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sendlater/sendlater/internal/database"
	"github.com/sendlater/sendlater/internal/metrics"
	"github.com/sendlater/sendlater/internal/token"
)

// MessageStore is the slice of the persistence layer the dispatcher needs.
type MessageStore interface {
	ClaimDueMessages(ctx context.Context, now time.Time) ([]database.ScheduledMessage, error)
	SetMessageStatus(ctx context.Context, id string, status database.MessageStatus) error
}

// TokenResolver resolves a usable access token for a tenant.
type TokenResolver interface {
	ResolveToken(ctx context.Context, key database.TenantKey, wantsUser bool) (string, error)
}

// Poster sends one message to a channel.
type Poster interface {
	PostMessage(ctx context.Context, token, channelID, text string, asUser bool) error
}

// Dispatcher runs delivery cycles. A cycle that starts while another is still
// running is skipped, so a slow batch never stacks concurrent cycles.
type Dispatcher struct {
	store   MessageStore
	tokens  TokenResolver
	gateway Poster
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(store MessageStore, tokens TokenResolver, gateway Poster, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		tokens:  tokens,
		gateway: gateway,
		metrics: m,
		logger:  logger.With("component", "dispatcher"),
		now:     time.Now,
	}
}

// RunCycle claims all due pending messages and dispatches them sequentially.
// Per-message failures mark that message failed and move on; only claim
// failures abort the cycle. Returns the number of messages claimed.
func (d *Dispatcher) RunCycle(ctx context.Context) (int, error) {
	if !d.mu.TryLock() {
		d.logger.WarnContext(ctx, "Previous delivery cycle still running, skipping")
		if d.metrics != nil {
			d.metrics.RecordCycleSkipped()
		}
		return 0, nil
	}
	defer d.mu.Unlock()

	start := d.now()

	claimed, err := d.store.ClaimDueMessages(ctx, start)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	if d.metrics != nil {
		d.metrics.RecordClaimed(len(claimed))
	}
	d.logger.InfoContext(ctx, "Delivery cycle started", "claimed", len(claimed))

	sent := 0
	for i := range claimed {
		if d.dispatch(ctx, &claimed[i]) {
			sent++
		}
	}

	elapsed := d.now().Sub(start)
	if d.metrics != nil {
		d.metrics.RecordCycleDuration(elapsed.Seconds())
	}
	d.logger.InfoContext(ctx, "Delivery cycle finished",
		"claimed", len(claimed), "sent", sent, "failed", len(claimed)-sent,
		"duration_ms", elapsed.Milliseconds())

	return len(claimed), nil
}

// dispatch delivers a single claimed message and records its terminal status.
func (d *Dispatcher) dispatch(ctx context.Context, msg *database.ScheduledMessage) bool {
	log := d.logger.With("message_id", msg.ID,
		"workspace_id", msg.WorkspaceID, "user_id", msg.UserID)

	accessToken, err := d.tokens.ResolveToken(ctx, msg.Tenant(), msg.AsUser)
	if err != nil {
		// A tenant without credentials cannot deliver; do not call the
		// gateway at all.
		if errors.Is(err, token.ErrNoInstallation) || errors.Is(err, token.ErrNoToken) {
			log.WarnContext(ctx, "No usable credential for message", "error", err)
		} else {
			log.ErrorContext(ctx, "Failed to resolve token for message", "error", err)
		}
		d.finish(ctx, msg, database.StatusFailed)
		return false
	}

	if err := d.gateway.PostMessage(ctx, accessToken, msg.ChannelID, msg.Text, msg.AsUser); err != nil {
		log.WarnContext(ctx, "Message delivery failed", "channel_id", msg.ChannelID, "error", err)
		d.finish(ctx, msg, database.StatusFailed)
		return false
	}

	log.InfoContext(ctx, "Message delivered", "channel_id", msg.ChannelID)
	d.finish(ctx, msg, database.StatusSent)
	return true
}

func (d *Dispatcher) finish(ctx context.Context, msg *database.ScheduledMessage, status database.MessageStatus) {
	if err := d.store.SetMessageStatus(ctx, msg.ID, status); err != nil {
		d.logger.ErrorContext(ctx, "Failed to record message status",
			"message_id", msg.ID, "status", status, "error", err)
		return
	}
	if d.metrics != nil {
		d.metrics.RecordDelivery(string(status))
	}
}
