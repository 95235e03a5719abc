package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// allowedFrom maps a target status to the statuses a message may hold before
// the write. The state machine only moves forward; nothing returns to
// pending and nothing leaves sent or failed.
var allowedFrom = map[MessageStatus][]MessageStatus{
	StatusProcessing: {StatusPending},
	StatusSent:       {StatusProcessing},
	StatusFailed:     {StatusProcessing},
}

// CreateMessage inserts a new scheduled message with status pending.
// When the message carries no ID, a random one is generated and written back.
func (s *sqlxStore) CreateMessage(ctx context.Context, msg *ScheduledMessage) error {
	if msg == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if msg.WorkspaceID == "" || msg.UserID == "" {
		return fmt.Errorf("message must have workspace_id and user_id")
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("message must have a channel_id")
	}
	if msg.Text == "" {
		return fmt.Errorf("message must have non-empty text")
	}
	if msg.SendAt.IsZero() {
		return fmt.Errorf("message must have a send time")
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Status = StatusPending

	// SQLite stores timestamps as text; a zoned send time would not compare
	// correctly against the UTC now used by the claim query.
	msg.SendAt = msg.SendAt.UTC()

	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	query := `
        INSERT INTO scheduled_messages (
            id, workspace_id, user_id, channel_id, text,
            send_at, as_user, status, created_at, updated_at
        ) VALUES (
            :id, :workspace_id, :user_id, :channel_id, :text,
            :send_at, :as_user, :status, :created_at, :updated_at
        );
    `

	if _, err := s.db.NamedExecContext(ctx, query, msg); err != nil {
		s.logger.ErrorContext(ctx, "Error saving scheduled message",
			"message_id", msg.ID, "workspace_id", msg.WorkspaceID, "error", err)
		return fmt.Errorf("failed to save scheduled message %s: %w", msg.ID, err)
	}

	s.logger.DebugContext(ctx, "Scheduled message saved",
		"message_id", msg.ID, "channel_id", msg.ChannelID, "send_at", msg.SendAt)
	return nil
}

// GetMessage retrieves a single message by ID.
func (s *sqlxStore) GetMessage(ctx context.Context, id string) (*ScheduledMessage, error) {
	var msg ScheduledMessage
	query := `SELECT id, workspace_id, user_id, channel_id, text,
	                 send_at, as_user, status, created_at, updated_at
	          FROM scheduled_messages WHERE id = ?`

	err := s.db.GetContext(ctx, &msg, query, id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting scheduled message", "message_id", id, "error", err)
		return nil, fmt.Errorf("failed to get scheduled message %s: %w", id, err)
	}

	return &msg, nil
}

// ListPendingMessages returns a tenant's pending messages ordered by
// ascending send time.
func (s *sqlxStore) ListPendingMessages(ctx context.Context, key TenantKey) ([]ScheduledMessage, error) {
	var messages []ScheduledMessage
	query := `SELECT id, workspace_id, user_id, channel_id, text,
	                 send_at, as_user, status, created_at, updated_at
	          FROM scheduled_messages
	          WHERE workspace_id = ? AND user_id = ? AND status = ?
	          ORDER BY send_at ASC`

	err := s.db.SelectContext(ctx, &messages, query, key.WorkspaceID, key.UserID, StatusPending)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing pending messages",
			"workspace_id", key.WorkspaceID, "user_id", key.UserID, "error", err)
		return nil, fmt.Errorf("failed to list pending messages for tenant %s/%s: %w",
			key.WorkspaceID, key.UserID, err)
	}

	return messages, nil
}

// ClaimDueMessages atomically transitions every pending message whose send
// time has passed to processing and returns the claimed batch. The select
// and the conditional update run in one transaction, so two overlapping
// claim calls never hand out the same message: rows already moved to
// processing no longer match the update's status guard.
func (s *sqlxStore) ClaimDueMessages(ctx context.Context, now time.Time) ([]ScheduledMessage, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for claim", "error", err)
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back claim transaction", "error", rollbackErr)
				}
			}
		}
	}()

	var due []ScheduledMessage
	selectQuery := `SELECT id, workspace_id, user_id, channel_id, text,
	                       send_at, as_user, status, created_at, updated_at
	                FROM scheduled_messages
	                WHERE status = ? AND send_at <= ?
	                ORDER BY send_at ASC`

	if err := tx.SelectContext(ctx, &due, selectQuery, StatusPending, now.UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error selecting due messages", "error", err)
		return nil, fmt.Errorf("failed to select due messages: %w", err)
	}

	if len(due) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit empty claim transaction: %w", err)
		}
		tx = nil
		return nil, nil
	}

	ids := make([]string, len(due))
	for i := range due {
		ids[i] = due[i].ID
	}

	claimedAt := time.Now().UTC()
	updateQuery, args, err := sqlx.In(
		`UPDATE scheduled_messages SET status = ?, updated_at = ? WHERE id IN (?) AND status = ?`,
		StatusProcessing, claimedAt, ids, StatusPending)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error building claim query", "error", err)
		return nil, fmt.Errorf("failed to build claim query: %w", err)
	}

	updateQuery = tx.Rebind(updateQuery)
	result, err := tx.ExecContext(ctx, updateQuery, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error claiming due messages", "error", err)
		return nil, fmt.Errorf("failed to claim due messages: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && int(affected) != len(ids) {
		s.logger.WarnContext(ctx, "Claimed fewer messages than selected",
			"selected", len(ids), "claimed", affected)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit claim transaction", "error", err)
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	tx = nil

	for i := range due {
		due[i].Status = StatusProcessing
		due[i].UpdatedAt = claimedAt
	}

	s.logger.DebugContext(ctx, "Claimed due messages", "count", len(due))
	return due, nil
}

// SetMessageStatus writes a forward-only status transition.
func (s *sqlxStore) SetMessageStatus(ctx context.Context, id string, status MessageStatus) error {
	from, ok := allowedFrom[status]
	if !ok {
		return fmt.Errorf("set status %q for message %s: %w", status, id, ErrInvalidState)
	}

	query, args, err := sqlx.In(
		`UPDATE scheduled_messages SET status = ?, updated_at = ? WHERE id = ? AND status IN (?)`,
		status, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to build status query for message %s: %w", id, err)
	}

	query = s.db.Rebind(query)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error setting message status",
			"message_id", id, "status", status, "error", err)
		return fmt.Errorf("failed to set status %q for message %s: %w", status, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.ErrorContext(ctx, "Could not get affected row count for status write",
			"message_id", id, "error", err)
		return fmt.Errorf("failed to verify status write for message %s: %w", id, err)
	}
	if affected == 0 {
		// Distinguish a vanished row from one in a state the transition forbids.
		if _, getErr := s.GetMessage(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("set status %q for message %s: %w", status, id, ErrInvalidState)
	}

	s.logger.DebugContext(ctx, "Message status updated", "message_id", id, "status", status)
	return nil
}

// CancelMessage deletes a message that is still pending. Once a message has
// been claimed by a delivery cycle it can no longer be cancelled.
func (s *sqlxStore) CancelMessage(ctx context.Context, id string) error {
	query := `DELETE FROM scheduled_messages WHERE id = ? AND status = ?`
	result, err := s.db.ExecContext(ctx, query, id, StatusPending)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error cancelling message", "message_id", id, "error", err)
		return fmt.Errorf("failed to cancel message %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to verify cancellation of message %s: %w", id, err)
	}
	if affected == 0 {
		if _, getErr := s.GetMessage(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("cancel message %s: %w", id, ErrInvalidState)
	}

	s.logger.InfoContext(ctx, "Scheduled message cancelled", "message_id", id)
	return nil
}

// DeleteMessagesForTenant removes all of a tenant's messages regardless of
// status. Used when a tenant disconnects.
func (s *sqlxStore) DeleteMessagesForTenant(ctx context.Context, key TenantKey) (int64, error) {
	query := `DELETE FROM scheduled_messages WHERE workspace_id = ? AND user_id = ?`
	result, err := s.db.ExecContext(ctx, query, key.WorkspaceID, key.UserID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting tenant messages",
			"workspace_id", key.WorkspaceID, "user_id", key.UserID, "error", err)
		return 0, fmt.Errorf("failed to delete messages for tenant %s/%s: %w",
			key.WorkspaceID, key.UserID, err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Deleted tenant messages",
		"workspace_id", key.WorkspaceID, "user_id", key.UserID, "count", count)
	return count, nil
}
