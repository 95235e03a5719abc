package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCredential retrieves the credential record for a tenant.
// Returns nil, nil if no record exists for the key.
func (s *sqlxStore) GetCredential(ctx context.Context, key TenantKey) (*TenantCredential, error) {
	if key.WorkspaceID == "" || key.UserID == "" {
		return nil, fmt.Errorf("tenant key must have workspace_id and user_id")
	}

	var cred TenantCredential
	query := `SELECT workspace_id, user_id, created_at, updated_at,
	                 bot_access_token, bot_refresh_token, bot_expires_at,
	                 user_access_token, user_refresh_token, user_expires_at
	          FROM tenant_credentials
	          WHERE workspace_id = ? AND user_id = ?`

	err := s.db.GetContext(ctx, &cred, query, key.WorkspaceID, key.UserID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No credential record found",
			"workspace_id", key.WorkspaceID, "user_id", key.UserID)
		return nil, nil

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting credential record",
			"workspace_id", key.WorkspaceID, "user_id", key.UserID, "error", err)
		return nil, fmt.Errorf("failed to get credential for tenant %s/%s: %w",
			key.WorkspaceID, key.UserID, err)
	}

	return &cred, nil
}

// SaveCredential inserts or overwrites the credential record for a tenant.
// A successful authorization replaces whatever was stored before.
func (s *sqlxStore) SaveCredential(ctx context.Context, cred *TenantCredential) error {
	if cred == nil {
		return fmt.Errorf("cannot save nil credential")
	}
	if cred.WorkspaceID == "" || cred.UserID == "" {
		return fmt.Errorf("credential must have workspace_id and user_id")
	}
	if cred.Bot() == nil && cred.User() == nil {
		return fmt.Errorf("credential must have at least one token bundle")
	}

	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	query := `
        INSERT INTO tenant_credentials (
            workspace_id, user_id,
            bot_access_token, bot_refresh_token, bot_expires_at,
            user_access_token, user_refresh_token, user_expires_at,
            created_at, updated_at
        ) VALUES (
            :workspace_id, :user_id,
            :bot_access_token, :bot_refresh_token, :bot_expires_at,
            :user_access_token, :user_refresh_token, :user_expires_at,
            :created_at, :updated_at
        )
        ON CONFLICT (workspace_id, user_id) DO UPDATE SET
            bot_access_token   = excluded.bot_access_token,
            bot_refresh_token  = excluded.bot_refresh_token,
            bot_expires_at     = excluded.bot_expires_at,
            user_access_token  = excluded.user_access_token,
            user_refresh_token = excluded.user_refresh_token,
            user_expires_at    = excluded.user_expires_at,
            updated_at         = excluded.updated_at;
    `

	if _, err := s.db.NamedExecContext(ctx, query, cred); err != nil {
		s.logger.ErrorContext(ctx, "Error saving credential record",
			"workspace_id", cred.WorkspaceID, "user_id", cred.UserID, "error", err)
		return fmt.Errorf("failed to save credential for tenant %s/%s: %w",
			cred.WorkspaceID, cred.UserID, err)
	}

	s.logger.DebugContext(ctx, "Credential record saved",
		"workspace_id", cred.WorkspaceID, "user_id", cred.UserID)
	return nil
}

// UpdateSubCredential replaces only the bot or user token bundle of an
// existing record. The other side of the record is left untouched, so a
// refreshed bot token never clobbers a stored user token or vice versa.
func (s *sqlxStore) UpdateSubCredential(ctx context.Context, key TenantKey, user bool, cred Credential) error {
	if cred.AccessToken == "" {
		return fmt.Errorf("cannot update sub-credential with empty access token")
	}

	side := "bot"
	query := `UPDATE tenant_credentials
	          SET bot_access_token = ?, bot_refresh_token = ?, bot_expires_at = ?, updated_at = ?
	          WHERE workspace_id = ? AND user_id = ?`
	if user {
		side = "user"
		query = `UPDATE tenant_credentials
		         SET user_access_token = ?, user_refresh_token = ?, user_expires_at = ?, updated_at = ?
		         WHERE workspace_id = ? AND user_id = ?`
	}

	refresh := sql.NullString{String: cred.RefreshToken, Valid: cred.RefreshToken != ""}
	expires := sql.NullTime{Time: cred.ExpiresAt, Valid: !cred.ExpiresAt.IsZero()}

	result, err := s.db.ExecContext(ctx, query,
		cred.AccessToken, refresh, expires, time.Now().UTC(),
		key.WorkspaceID, key.UserID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating sub-credential",
			"workspace_id", key.WorkspaceID, "user_id", key.UserID, "side", side, "error", err)
		return fmt.Errorf("failed to update %s credential for tenant %s/%s: %w",
			side, key.WorkspaceID, key.UserID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("update %s credential for tenant %s/%s: %w",
			side, key.WorkspaceID, key.UserID, ErrNotFound)
	}

	s.logger.DebugContext(ctx, "Sub-credential updated",
		"workspace_id", key.WorkspaceID, "user_id", key.UserID, "side", side)
	return nil
}

// DeleteCredential removes the credential record for a tenant. Deleting a
// missing record is not an error.
func (s *sqlxStore) DeleteCredential(ctx context.Context, key TenantKey) error {
	query := `DELETE FROM tenant_credentials WHERE workspace_id = ? AND user_id = ?`
	result, err := s.db.ExecContext(ctx, query, key.WorkspaceID, key.UserID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting credential record",
			"workspace_id", key.WorkspaceID, "user_id", key.UserID, "error", err)
		return fmt.Errorf("failed to delete credential for tenant %s/%s: %w",
			key.WorkspaceID, key.UserID, err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Credential record deleted",
		"workspace_id", key.WorkspaceID, "user_id", key.UserID, "count", count)
	return nil
}
