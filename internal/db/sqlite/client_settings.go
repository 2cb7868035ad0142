package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iamwavecut/tool"

	"github.com/iamwavecut/linkguard/internal/db"
)

func (c *sqliteClient) GetChatSettings(ctx context.Context, chatID int64) (*db.ChatSettings, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	res := &db.ChatSettings{}
	err := c.db.GetContext(ctx, res, "SELECT chat_id, mute_hours, language, updated_at FROM chat_settings WHERE chat_id = ?", chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *sqliteClient) SetChatSettings(ctx context.Context, settings *db.ChatSettings) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now()
	}
	query := `
		INSERT INTO chat_settings (chat_id, mute_hours, language, updated_at)
		VALUES (:chat_id, :mute_hours, :language, :updated_at)
		ON CONFLICT(chat_id) DO UPDATE SET
		mute_hours=excluded.mute_hours,
		language=excluded.language,
		updated_at=excluded.updated_at;
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, settings))
}
