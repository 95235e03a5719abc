package token

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendlater/sendlater/internal/database"
	"github.com/sendlater/sendlater/internal/slack"
)

type fakeStore struct {
	record *database.TenantCredential
	getErr error

	updatedKey  database.TenantKey
	updatedUser bool
	updated     *database.Credential
	updateErr   error
}

func (f *fakeStore) GetCredential(_ context.Context, _ database.TenantKey) (*database.TenantCredential, error) {
	return f.record, f.getErr
}

func (f *fakeStore) UpdateSubCredential(_ context.Context, key database.TenantKey, user bool, cred database.Credential) error {
	f.updatedKey = key
	f.updatedUser = user
	f.updated = &cred
	return f.updateErr
}

type fakeRefresher struct {
	calls int
	token *slack.Token
	err   error
}

func (f *fakeRefresher) RefreshAccessToken(_ context.Context, _ string) (*slack.Token, error) {
	f.calls++
	return f.token, f.err
}

var testKey = database.TenantKey{WorkspaceID: "W1", UserID: "U1"}

func recordWithBot(access, refresh string, expiresAt time.Time) *database.TenantCredential {
	rec := &database.TenantCredential{
		WorkspaceID:    testKey.WorkspaceID,
		UserID:         testKey.UserID,
		BotAccessToken: sql.NullString{String: access, Valid: access != ""},
	}
	if refresh != "" {
		rec.BotRefreshToken = sql.NullString{String: refresh, Valid: true}
	}
	if !expiresAt.IsZero() {
		rec.BotExpiresAt = sql.NullTime{Time: expiresAt, Valid: true}
	}
	return rec
}

func newTestManager(store CredentialStore, gw Refresher, now time.Time) *Manager {
	m := NewManager(store, gw, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = func() time.Time { return now }
	return m
}

func TestResolveTokenNoInstallation(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeStore{}, &fakeRefresher{}, time.Now())

	_, err := m.ResolveToken(context.Background(), testKey, false)
	assert.ErrorIs(t, err, ErrNoInstallation)
}

func TestResolveTokenStoreError(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeStore{getErr: errors.New("db down")}, &fakeRefresher{}, time.Now())

	_, err := m.ResolveToken(context.Background(), testKey, false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoInstallation)
}

func TestResolveTokenMissingBundle(t *testing.T) {
	t.Parallel()

	// Record has only a bot token; asking for the user token fails.
	store := &fakeStore{record: recordWithBot("xoxb-bot", "", time.Time{})}
	m := newTestManager(store, &fakeRefresher{}, time.Now())

	_, err := m.ResolveToken(context.Background(), testKey, true)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestResolveTokenNonExpiring(t *testing.T) {
	t.Parallel()

	gw := &fakeRefresher{}
	store := &fakeStore{record: recordWithBot("xoxb-forever", "", time.Time{})}
	m := newTestManager(store, gw, time.Now())

	tok, err := m.ResolveToken(context.Background(), testKey, false)
	require.NoError(t, err)
	assert.Equal(t, "xoxb-forever", tok)
	assert.Zero(t, gw.calls, "non-expiring token is never refreshed")
}

func TestResolveTokenStillValid(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	gw := &fakeRefresher{}
	store := &fakeStore{record: recordWithBot("xoxb-fresh", "xoxe-refresh", now.Add(11*time.Minute))}
	m := newTestManager(store, gw, now)

	tok, err := m.ResolveToken(context.Background(), testKey, false)
	require.NoError(t, err)
	assert.Equal(t, "xoxb-fresh", tok)
	assert.Zero(t, gw.calls, "token outside the refresh window is returned unchanged")
	assert.Nil(t, store.updated, "no persistence write happens")
}

func TestResolveTokenRefreshesInsideWindow(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		expiresAt func(now time.Time) time.Time
	}{
		{"expiring soon", func(now time.Time) time.Time { return now.Add(5 * time.Minute) }},
		{"already expired", func(now time.Time) time.Time { return now.Add(-time.Hour) }},
		{"exactly at margin", func(now time.Time) time.Time { return now.Add(refreshWindow) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			now := time.Now().UTC()
			gw := &fakeRefresher{token: &slack.Token{
				AccessToken:  "xoxb-new",
				RefreshToken: "xoxe-new",
				ExpiresIn:    43200,
			}}
			store := &fakeStore{record: recordWithBot("xoxb-old", "xoxe-old", tc.expiresAt(now))}
			m := newTestManager(store, gw, now)

			tok, err := m.ResolveToken(context.Background(), testKey, false)
			require.NoError(t, err)
			assert.Equal(t, "xoxb-new", tok)
			assert.Equal(t, 1, gw.calls, "refresh is attempted exactly once")

			require.NotNil(t, store.updated)
			assert.Equal(t, testKey, store.updatedKey)
			assert.False(t, store.updatedUser)
			assert.Equal(t, "xoxb-new", store.updated.AccessToken)
			assert.Equal(t, "xoxe-new", store.updated.RefreshToken, "rotated refresh token persisted")
			assert.WithinDuration(t, now.Add(43200*time.Second), store.updated.ExpiresAt, time.Second)
		})
	}
}

func TestResolveTokenKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	gw := &fakeRefresher{token: &slack.Token{AccessToken: "xoxb-new", ExpiresIn: 43200}}
	store := &fakeStore{record: recordWithBot("xoxb-old", "xoxe-keep", now)}
	m := newTestManager(store, gw, now)

	_, err := m.ResolveToken(context.Background(), testKey, false)
	require.NoError(t, err)

	require.NotNil(t, store.updated)
	assert.Equal(t, "xoxe-keep", store.updated.RefreshToken)
}

func TestResolveTokenDegradesOnRefreshFailure(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	gw := &fakeRefresher{err: errors.New("invalid_refresh_token")}
	store := &fakeStore{record: recordWithBot("xoxb-old", "xoxe-old", now.Add(2*time.Minute))}
	m := newTestManager(store, gw, now)

	tok, err := m.ResolveToken(context.Background(), testKey, false)
	require.NoError(t, err, "refresh failure is soft")
	assert.Equal(t, "xoxb-old", tok, "the expiring token is returned instead")
	assert.Equal(t, 1, gw.calls)
	assert.Nil(t, store.updated)
}

func TestResolveTokenReturnsNewTokenDespitePersistFailure(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	gw := &fakeRefresher{token: &slack.Token{AccessToken: "xoxb-new", ExpiresIn: 3600}}
	store := &fakeStore{
		record:    recordWithBot("xoxb-old", "xoxe-old", now),
		updateErr: errors.New("disk full"),
	}
	m := newTestManager(store, gw, now)

	tok, err := m.ResolveToken(context.Background(), testKey, false)
	require.NoError(t, err)
	assert.Equal(t, "xoxb-new", tok)
}

func TestResolveTokenUserBundle(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	rec := &database.TenantCredential{
		WorkspaceID:      testKey.WorkspaceID,
		UserID:           testKey.UserID,
		UserAccessToken:  sql.NullString{String: "xoxp-old", Valid: true},
		UserRefreshToken: sql.NullString{String: "xoxe-user", Valid: true},
		UserExpiresAt:    sql.NullTime{Time: now.Add(time.Minute), Valid: true},
	}
	gw := &fakeRefresher{token: &slack.Token{AccessToken: "xoxp-new", ExpiresIn: 3600}}
	store := &fakeStore{record: rec}
	m := newTestManager(store, gw, now)

	tok, err := m.ResolveToken(context.Background(), testKey, true)
	require.NoError(t, err)
	assert.Equal(t, "xoxp-new", tok)
	assert.True(t, store.updatedUser, "the user side of the record is updated")
}
