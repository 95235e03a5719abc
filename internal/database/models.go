package database

import (
	"database/sql"
	"time"
)

// MessageStatus is the delivery state of a scheduled message. Transitions
// only move forward: pending -> processing -> sent|failed. A pending message
// may instead be deleted by cancellation; sent and failed are terminal.
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusSent       MessageStatus = "sent"
	StatusFailed     MessageStatus = "failed"
)

// TenantKey identifies a connected (workspace, user) pair. Credentials and
// scheduled messages are both owned by a tenant key.
type TenantKey struct {
	WorkspaceID string `db:"workspace_id"`
	UserID      string `db:"user_id"`
}

// Credential is one token bundle within a tenant's credential record, either
// the bot or the user side. RefreshToken and ExpiresAt are unset for tokens
// issued without rotation; such tokens are never refreshed.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expiring reports whether the credential carries an expiry and a refresh
// token, i.e. whether it participates in the refresh lifecycle at all.
func (c *Credential) Expiring() bool {
	return c != nil && !c.ExpiresAt.IsZero() && c.RefreshToken != ""
}

// TenantCredential is the persisted per-tenant credential record. The bot and
// user sub-credentials are stored flattened in one row; either side may be
// absent, but a usable record has at least one.
type TenantCredential struct {
	WorkspaceID string    `db:"workspace_id"`
	UserID      string    `db:"user_id"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`

	BotAccessToken  sql.NullString `db:"bot_access_token"`
	BotRefreshToken sql.NullString `db:"bot_refresh_token"`
	BotExpiresAt    sql.NullTime   `db:"bot_expires_at"`

	UserAccessToken  sql.NullString `db:"user_access_token"`
	UserRefreshToken sql.NullString `db:"user_refresh_token"`
	UserExpiresAt    sql.NullTime   `db:"user_expires_at"`
}

// Key returns the tenant key of the record.
func (tc *TenantCredential) Key() TenantKey {
	return TenantKey{WorkspaceID: tc.WorkspaceID, UserID: tc.UserID}
}

// Bot returns the bot sub-credential, or nil when the record has none.
func (tc *TenantCredential) Bot() *Credential {
	return subCredential(tc.BotAccessToken, tc.BotRefreshToken, tc.BotExpiresAt)
}

// User returns the user sub-credential, or nil when the record has none.
func (tc *TenantCredential) User() *Credential {
	return subCredential(tc.UserAccessToken, tc.UserRefreshToken, tc.UserExpiresAt)
}

func subCredential(access, refresh sql.NullString, expires sql.NullTime) *Credential {
	if !access.Valid || access.String == "" {
		return nil
	}
	c := &Credential{AccessToken: access.String}
	if refresh.Valid {
		c.RefreshToken = refresh.String
	}
	if expires.Valid {
		c.ExpiresAt = expires.Time
	}
	return c
}

// ScheduledMessage is one queued delivery. Status is mutated only by the
// delivery engine; cancellation deletes the row while it is still pending.
type ScheduledMessage struct {
	ID          string        `db:"id"`
	WorkspaceID string        `db:"workspace_id"`
	UserID      string        `db:"user_id"`
	ChannelID   string        `db:"channel_id"`
	Text        string        `db:"text"`
	SendAt      time.Time     `db:"send_at"`
	AsUser      bool          `db:"as_user"`
	Status      MessageStatus `db:"status"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

// Tenant returns the tenant key owning the message.
func (m *ScheduledMessage) Tenant() TenantKey {
	return TenantKey{WorkspaceID: m.WorkspaceID, UserID: m.UserID}
}
