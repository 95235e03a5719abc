package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store sentinel errors. Callers distinguish a missing row from a row in a
// state that forbids the operation.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid message state")
)

// Store defines the interface for database operations. Methods accept
// context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetCredential retrieves the credential record for a tenant.
	// Returns nil, nil if no record exists.
	GetCredential(ctx context.Context, key TenantKey) (*TenantCredential, error)

	// SaveCredential inserts or overwrites the credential record for a tenant.
	SaveCredential(ctx context.Context, cred *TenantCredential) error

	// UpdateSubCredential replaces only the bot or user token bundle of an
	// existing record, leaving the other side untouched.
	UpdateSubCredential(ctx context.Context, key TenantKey, user bool, cred Credential) error

	// DeleteCredential removes the credential record for a tenant.
	DeleteCredential(ctx context.Context, key TenantKey) error

	// CreateMessage inserts a new scheduled message with status pending.
	// An ID is generated when the message has none.
	CreateMessage(ctx context.Context, msg *ScheduledMessage) error

	// GetMessage retrieves a single message by ID. Returns ErrNotFound if absent.
	GetMessage(ctx context.Context, id string) (*ScheduledMessage, error)

	// ListPendingMessages returns a tenant's pending messages ordered by
	// ascending send time.
	ListPendingMessages(ctx context.Context, key TenantKey) ([]ScheduledMessage, error)

	// ClaimDueMessages atomically transitions every pending message with
	// send_at <= now to processing and returns the claimed batch. Two
	// overlapping calls never claim the same message.
	ClaimDueMessages(ctx context.Context, now time.Time) ([]ScheduledMessage, error)

	// SetMessageStatus writes a forward-only status transition. Returns
	// ErrNotFound if the message is absent and ErrInvalidState if the
	// current status does not permit the transition.
	SetMessageStatus(ctx context.Context, id string, status MessageStatus) error

	// CancelMessage deletes a message that is still pending. Returns
	// ErrNotFound if absent and ErrInvalidState once the message has been
	// claimed or finished.
	CancelMessage(ctx context.Context, id string) error

	// DeleteMessagesForTenant removes all of a tenant's messages, used on
	// disconnect.
	DeleteMessagesForTenant(ctx context.Context, key TenantKey) (int64, error)

	// RunMaintenance performs database maintenance tasks like VACUUM.
	RunMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
