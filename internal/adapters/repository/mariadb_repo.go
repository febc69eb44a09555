// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
)

// Ensure MariaDBRepository implements the required interfaces
var (
	_ ports.MessageLog  = (*MariaDBRepository)(nil)
	_ ports.ActivityLog = (*MariaDBRepository)(nil)
)

// MariaDBRepository keeps the local audit trail: inbound messages and activity logs
type MariaDBRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewMariaDBRepository creates a new MariaDB repository instance
func NewMariaDBRepository(db *sql.DB) *MariaDBRepository {
	return &MariaDBRepository{
		db:  db,
		now: time.Now,
	}
}

// schema creates the tables this repository needs, one statement per entry
var schema = []string{`
CREATE TABLE IF NOT EXISTS inbound_messages (
	id          VARCHAR(64)  NOT NULL PRIMARY KEY,
	bot_id      VARCHAR(64)  NOT NULL,
	message_id  BIGINT       NOT NULL,
	chat_id     VARCHAR(64)  NOT NULL,
	platform    VARCHAR(16)  NOT NULL,
	direction   VARCHAR(16)  NOT NULL,
	from_name   VARCHAR(255) NOT NULL DEFAULT '',
	text        TEXT,
	attachments JSON,
	payload     JSON,
	created_at  DATETIME(3)  NOT NULL,
	INDEX idx_inbound_created (created_at)
)`, `
CREATE TABLE IF NOT EXISTS activity_logs (
	id         BIGINT AUTO_INCREMENT PRIMARY KEY,
	bot_id     VARCHAR(64) NOT NULL,
	action     VARCHAR(64) NOT NULL,
	details    TEXT,
	level      VARCHAR(8)  NOT NULL,
	created_at DATETIME(3) NOT NULL,
	INDEX idx_activity_bot (bot_id, created_at)
)`}

// ============================================================================
// MessageLog Implementation
// ============================================================================

// SaveInbound persists one inbound update. The id is msg_<update_id>, so a
// replayed update hits INSERT IGNORE and is a no-op.
func (r *MariaDBRepository) SaveInbound(ctx context.Context, msg *domain.InboundMessage) error {
	query := `
		INSERT IGNORE INTO inbound_messages (
			id, bot_id, message_id, chat_id, platform, direction,
			from_name, text, attachments, payload, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.BotID,
		msg.MessageID,
		msg.ChatID,
		msg.Platform,
		msg.Direction,
		msg.FromName,
		msg.Text,
		jsonOrNull(msg.Attachments),
		jsonOrNull(msg.Payload),
		msg.CreatedAt,
	)
	if err != nil {
		slog.Error("Failed to save inbound message",
			"error", err,
			"message_id", msg.ID,
			"bot_id", msg.BotID,
		)
		return fmt.Errorf("save inbound message: %w", err)
	}

	slog.Debug("Inbound message saved",
		"message_id", msg.ID,
		"chat_id", msg.ChatID,
	)
	return nil
}

// Purge deletes inbound messages older than retention, at most limit rows
func (r *MariaDBRepository) Purge(ctx context.Context, retention time.Duration, limit int) (int64, error) {
	query := `
		DELETE FROM inbound_messages
		WHERE created_at < ?
		LIMIT ?
	`

	cutoff := r.now().Add(-retention)
	result, err := r.db.ExecContext(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("purge inbound messages: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get affected rows: %w", err)
	}
	return rows, nil
}

// ============================================================================
// ActivityLog Implementation
// ============================================================================

// Record appends an activity entry
func (r *MariaDBRepository) Record(ctx context.Context, entry *domain.ActivityEntry) error {
	query := `
		INSERT INTO activity_logs (bot_id, action, details, level, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, query,
		entry.BotID,
		entry.Action,
		entry.Details,
		entry.Level,
		createdAt,
	)
	if err != nil {
		slog.Error("Failed to record activity",
			"error", err,
			"bot_id", entry.BotID,
			"action", entry.Action,
		)
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// RecentActivity returns the latest entries for a bot, newest first
func (r *MariaDBRepository) RecentActivity(ctx context.Context, botID string, limit int) ([]*domain.ActivityEntry, error) {
	query := `
		SELECT bot_id, action, details, level, created_at
		FROM activity_logs
		WHERE bot_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		var details sql.NullString
		if err := rows.Scan(&e.BotID, &e.Action, &details, &e.Level, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Details = details.String
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return entries, nil
}

// EnsureSchema creates missing tables
func (r *MariaDBRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func jsonOrNull(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
