// Package testutil holds shared helpers for kernel tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/storage"
)

// TestLogger returns a logger that discards everything.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestDB opens an in-memory store that closes with the test.
func NewTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), ":memory:", TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// SeedSession inserts a minimal session row.
func SeedSession(t *testing.T, db *storage.DB, sessionID, aiID string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.CreateSession(context.Background(), model.Session{
		SessionID: sessionID, AIID: aiID, StartTime: now, CreatedAt: now,
	}))
}
