package prometheus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// InteractionLog is one audit row per handled interaction.
type InteractionLog struct {
	ModelUintID
	ModelUnixTime
	InteractionID string `gorm:"index" json:"interaction_id"`
	Type          string `json:"type"`
	CommandName   string `gorm:"index" json:"command_name,omitempty"`
	CustomID      string `json:"custom_id,omitempty"`
	UserID        string `gorm:"index" json:"user_id"`
	Username      string `json:"username,omitempty"`
	ChannelID     string `json:"channel_id,omitempty"`
	GuildID       string `json:"guild_id,omitempty"`
	Outcome       string `json:"outcome"`
	Detail        string `json:"detail,omitempty"`
}

// Interaction outcomes recorded in the audit log.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
	OutcomeForbidden   = "forbidden"
)

func (i InteractionLog) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("interaction_id", i.InteractionID),
		slog.String("command_name", i.CommandName),
		slog.String("custom_id", i.CustomID),
		slog.String("user_id", i.UserID),
		slog.String("outcome", i.Outcome),
	)
}

// TicketRecord tracks one support ticket from open to close.
type TicketRecord struct {
	ModelUintID
	ModelUnixTime
	ChannelID           string `gorm:"index" json:"channel_id"`
	ChannelName         string `json:"channel_name"`
	OpenerID            string `gorm:"index" json:"opener_id"`
	OpenerUsername      string `json:"opener_username"`
	CloserID            string `json:"closer_id,omitempty"`
	Status              string `gorm:"index" json:"status"`
	TranscriptDelivered bool   `json:"transcript_delivered"`
	ClosedAt            int64  `json:"closed_at,omitempty"`
}

// Ticket statuses.
const (
	TicketStatusOpen   = "open"
	TicketStatusClosed = "closed"
)

func (t TicketRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("channel_id", t.ChannelID),
		slog.String("channel_name", t.ChannelName),
		slog.String("opener_id", t.OpenerID),
		slog.String("status", t.Status),
	)
}

// CreateDB opens (creating if necessary) the sqlite audit database and runs
// migrations for the audit models.
func CreateDB(
	ctx context.Context,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	db, err := gorm.Open(
		sqlite.Open(database), &gorm.Config{Logger: gormLogger},
	)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", database, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
	sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

	for _, pragma := range sqliteExecPragma {
		if err = db.WithContext(ctx).Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	if err = db.WithContext(ctx).AutoMigrate(
		&InteractionLog{},
		&TicketRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrating: %w", err)
	}

	return db, nil
}

// auditStore serializes writes to the sqlite audit database. sqlite gets a
// single writer; the mutex keeps gateway handlers from contending for it.
type auditStore struct {
	db     *gorm.DB
	mu     sync.Mutex
	logger *slog.Logger
}

func newAuditStore(db *gorm.DB, logger *slog.Logger) *auditStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &auditStore{db: db, logger: logger.With(loggerNameKey, "audit")}
}

// LogInteraction records one handled interaction. Failures are logged, never
// surfaced: the audit trail must not break command handling.
func (a *auditStore) LogInteraction(ctx context.Context, rec *InteractionLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()
	if err := a.db.WithContext(ctx).Create(rec).Error; err != nil {
		a.logger.Error(
			"error writing interaction log",
			"record", rec,
			"error", err,
		)
	}
}

// TicketOpened records a newly created ticket channel.
func (a *auditStore) TicketOpened(
	ctx context.Context,
	rec *TicketRecord,
) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()
	rec.Status = TicketStatusOpen
	return a.db.WithContext(ctx).Create(rec).Error
}

// TicketClosed marks the open record for channelID closed.
func (a *auditStore) TicketClosed(
	ctx context.Context,
	channelID string,
	closerID string,
	transcriptDelivered bool,
) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()
	return a.db.WithContext(ctx).
		Model(&TicketRecord{}).
		Where("channel_id = ? AND status = ?", channelID, TicketStatusOpen).
		Updates(
			map[string]any{
				"status":               TicketStatusClosed,
				"closer_id":            closerID,
				"transcript_delivered": transcriptDelivered,
				"closed_at":            time.Now().UnixMilli(),
			},
		).Error
}

// OpenTicketCount returns the number of tickets currently open.
func (a *auditStore) OpenTicketCount(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()
	var count int64
	err := a.db.WithContext(ctx).
		Model(&TicketRecord{}).
		Where("status = ?", TicketStatusOpen).
		Count(&count).Error
	return count, err
}

// UserInteractionCount returns how many interactions userID has had handled.
func (a *auditStore) UserInteractionCount(
	ctx context.Context,
	userID string,
) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()
	var count int64
	err := a.db.WithContext(ctx).
		Model(&InteractionLog{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}
