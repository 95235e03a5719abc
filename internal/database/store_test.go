package database

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// setupTestStore creates a Store backed by a named shared in-memory SQLite
// database with the real migrations applied. A unique name derived from
// t.Name() keeps parallel tests isolated.
func setupTestStore(t *testing.T) Store {
	t.Helper()

	safeName := url.PathEscape(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", safeName)

	db, err := sqlx.Connect("sqlite", dsn)
	require.NoError(t, err, "connect test db")
	db.SetMaxOpenConns(1)

	require.NoError(t, ApplyMigrations(db.DB, safeName), "apply migrations")

	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(db, logger)
}

func testMessage(key TenantKey, sendAt time.Time) *ScheduledMessage {
	return &ScheduledMessage{
		WorkspaceID: key.WorkspaceID,
		UserID:      key.UserID,
		ChannelID:   "C1",
		Text:        "hi",
		SendAt:      sendAt,
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	store := setupTestStore(t)
	require.NoError(t, store.Ping(context.Background()))
}
