package prometheus

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuditStore(t testing.TB) *auditStore {
	t.Helper()
	db, err := CreateDB(
		context.Background(),
		filepath.Join(t.TempDir(), "audit.sqlite3"),
		newGORMLogger(newTestLogger(t).Handler(), 0),
	)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			sqlDB, closeErr := db.DB()
			require.NoError(t, closeErr)
			require.NoError(t, sqlDB.Close())
		},
	)
	return newAuditStore(db, newTestLogger(t))
}

func TestAuditStoreLogInteraction(t *testing.T) {
	t.Parallel()
	store := newTestAuditStore(t)
	ctx := context.Background()

	store.LogInteraction(
		ctx, &InteractionLog{
			InteractionID: "int-1",
			Type:          "ApplicationCommand",
			CommandName:   "help",
			UserID:        "u1",
			Username:      "alpha",
			Outcome:       OutcomeOK,
		},
	)
	store.LogInteraction(
		ctx, &InteractionLog{
			InteractionID: "int-2",
			Type:          "ApplicationCommand",
			CommandName:   "present",
			UserID:        "u1",
			Outcome:       OutcomeError,
			Detail:        "boom",
		},
	)

	count, err := store.UserInteractionCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.UserInteractionCount(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, count)

	var rec InteractionLog
	require.NoError(
		t,
		store.db.Where("interaction_id = ?", "int-2").First(&rec).Error,
	)
	assert.Equal(t, OutcomeError, rec.Outcome)
	assert.Equal(t, "boom", rec.Detail)
	assert.NotZero(t, rec.CreatedAt)
}

func TestAuditStoreTicketLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestAuditStore(t)
	ctx := context.Background()

	require.NoError(
		t, store.TicketOpened(
			ctx, &TicketRecord{
				ChannelID:      "chan-1",
				ChannelName:    "ticket-alpha",
				OpenerID:       "u1",
				OpenerUsername: "alpha",
			},
		),
	)
	require.NoError(
		t, store.TicketOpened(
			ctx, &TicketRecord{
				ChannelID:      "chan-2",
				ChannelName:    "ticket-bravo",
				OpenerID:       "u2",
				OpenerUsername: "bravo",
			},
		),
	)

	count, err := store.OpenTicketCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, store.TicketClosed(ctx, "chan-1", "mod-1", true))

	count, err = store.OpenTicketCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var rec TicketRecord
	require.NoError(
		t, store.db.Where("channel_id = ?", "chan-1").First(&rec).Error,
	)
	assert.Equal(t, TicketStatusClosed, rec.Status)
	assert.Equal(t, "mod-1", rec.CloserID)
	assert.True(t, rec.TranscriptDelivered)
	assert.NotZero(t, rec.ClosedAt)
}

func TestAuditStoreTicketClosedIdempotent(t *testing.T) {
	t.Parallel()
	store := newTestAuditStore(t)
	ctx := context.Background()

	require.NoError(
		t, store.TicketOpened(
			ctx, &TicketRecord{ChannelID: "chan-1", OpenerID: "u1"},
		),
	)
	require.NoError(t, store.TicketClosed(ctx, "chan-1", "mod-1", true))
	// a second close matches no open row and is a no-op
	require.NoError(t, store.TicketClosed(ctx, "chan-1", "mod-2", false))

	var rec TicketRecord
	require.NoError(
		t, store.db.Where("channel_id = ?", "chan-1").First(&rec).Error,
	)
	assert.Equal(t, "mod-1", rec.CloserID)
}

func TestCreateDBMigratesModels(t *testing.T) {
	t.Parallel()

	db, err := CreateDB(
		context.Background(),
		filepath.Join(t.TempDir(), "audit.sqlite3"),
		newGORMLogger(newTestLogger(t).Handler(), 0),
	)
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable(&InteractionLog{}))
	assert.True(t, db.Migrator().HasTable(&TicketRecord{}))

	var mode string
	require.NoError(t, db.Raw("pragma journal_mode;").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)
}
