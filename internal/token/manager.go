// Package token implements the credential lifecycle manager. It resolves a
// currently-valid access token for a tenant, transparently refreshing tokens
// that are inside the refresh window.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendlater/sendlater/internal/database"
	"github.com/sendlater/sendlater/internal/metrics"
	"github.com/sendlater/sendlater/internal/slack"
)

// refreshWindow is the lookahead before expiry during which a token is
// eagerly refreshed.
const refreshWindow = 10 * time.Minute

var (
	// ErrNoInstallation means no credential record exists for the tenant.
	ErrNoInstallation = errors.New("no installation for tenant")

	// ErrNoToken means the record exists but lacks the requested bot or
	// user token bundle.
	ErrNoToken = errors.New("tenant has no token of the requested kind")
)

// CredentialStore is the slice of the persistence layer the manager needs.
type CredentialStore interface {
	GetCredential(ctx context.Context, key database.TenantKey) (*database.TenantCredential, error)
	UpdateSubCredential(ctx context.Context, key database.TenantKey, user bool, cred database.Credential) error
}

// Refresher performs the refresh-token grant against the messaging platform.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*slack.Token, error)
}

// Manager resolves access tokens for tenants, refreshing them when they are
// close to expiry. Concurrent refreshes for the same tenant race with
// last-write-wins on the stored record; the refresh grant is idempotent on
// the platform side and old tokens keep validating briefly, so the race is
// accepted rather than locked around.
type Manager struct {
	store   CredentialStore
	gateway Refresher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager creates a credential lifecycle manager. m may be nil.
func NewManager(store CredentialStore, gateway Refresher, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		gateway: gateway,
		metrics: m,
		logger:  logger.With("component", "token_manager"),
		now:     time.Now,
	}
}

// ResolveToken returns a currently-valid access token for the tenant,
// selecting the user or bot bundle per wantsUser. Tokens without an expiry
// or refresh token are returned as-is. Tokens expiring within the refresh
// window are refreshed once; if the refresh fails the old token is returned
// anyway, since a token this close to expiry is usually still accepted for
// a short grace period.
func (m *Manager) ResolveToken(ctx context.Context, key database.TenantKey, wantsUser bool) (string, error) {
	record, err := m.store.GetCredential(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to load credential for tenant %s/%s: %w",
			key.WorkspaceID, key.UserID, err)
	}
	if record == nil {
		return "", fmt.Errorf("tenant %s/%s: %w", key.WorkspaceID, key.UserID, ErrNoInstallation)
	}

	cred := record.Bot()
	if wantsUser {
		cred = record.User()
	}
	if cred == nil {
		return "", fmt.Errorf("tenant %s/%s (user=%t): %w",
			key.WorkspaceID, key.UserID, wantsUser, ErrNoToken)
	}

	// Non-expiring tokens (no expiry or no refresh token) are never refreshed.
	if !cred.Expiring() {
		return cred.AccessToken, nil
	}

	margin := m.now().Add(refreshWindow)
	if cred.ExpiresAt.After(margin) {
		return cred.AccessToken, nil
	}

	return m.refresh(ctx, key, wantsUser, cred), nil
}

// refresh performs a single refresh attempt and persists the outcome.
// It always returns a usable token string: the new one on success, the old
// one on any failure.
func (m *Manager) refresh(ctx context.Context, key database.TenantKey, wantsUser bool, cred *database.Credential) string {
	refreshed, err := m.gateway.RefreshAccessToken(ctx, cred.RefreshToken)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordTokenRefresh("failure")
		}
		m.logger.WarnContext(ctx, "Token refresh failed, degrading to expiring token",
			"workspace_id", key.WorkspaceID, "user_id", key.UserID,
			"user_token", wantsUser, "error", err)
		return cred.AccessToken
	}
	if m.metrics != nil {
		m.metrics.RecordTokenRefresh("success")
	}

	updated := database.Credential{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: cred.RefreshToken,
	}
	if refreshed.RefreshToken != "" {
		updated.RefreshToken = refreshed.RefreshToken
	}
	if refreshed.ExpiresIn > 0 {
		updated.ExpiresAt = m.now().Add(time.Duration(refreshed.ExpiresIn) * time.Second).UTC()
	}

	if err := m.store.UpdateSubCredential(ctx, key, wantsUser, updated); err != nil {
		// The new token is still valid even if persisting it failed; the
		// next resolution will refresh again.
		m.logger.ErrorContext(ctx, "Failed to persist refreshed token",
			"workspace_id", key.WorkspaceID, "user_id", key.UserID,
			"user_token", wantsUser, "error", err)
	} else {
		m.logger.InfoContext(ctx, "Access token refreshed",
			"workspace_id", key.WorkspaceID, "user_id", key.UserID,
			"user_token", wantsUser, "expires_at", updated.ExpiresAt)
	}

	return updated.AccessToken
}
