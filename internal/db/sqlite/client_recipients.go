package sqlite

import (
	"context"
	"fmt"

	"github.com/iamwavecut/linkguard/internal/db"
)

func (c *sqliteClient) AddRecipient(ctx context.Context, r db.Recipient) error {
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid recipient kind %q", r.Kind)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, "INSERT OR IGNORE INTO recipients (id, kind) VALUES (?, ?)", r.ID, r.Kind)
	if err != nil {
		return fmt.Errorf("failed to add recipient %d: %w", r.ID, err)
	}
	return nil
}

func (c *sqliteClient) RemoveRecipient(ctx context.Context, r db.Recipient) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, "DELETE FROM recipients WHERE id = ? AND kind = ?", r.ID, r.Kind)
	if err != nil {
		return fmt.Errorf("failed to remove recipient %d: %w", r.ID, err)
	}
	return nil
}

func (c *sqliteClient) ListRecipients(ctx context.Context, kind db.RecipientKind) ([]db.Recipient, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var recipients []db.Recipient
	err := c.db.SelectContext(ctx, &recipients, "SELECT id, kind, created_at FROM recipients WHERE kind = ? ORDER BY created_at, id", kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recipients, nil
}

func (c *sqliteClient) CountRecipients(ctx context.Context, kind db.RecipientKind) (int, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var count int
	if err := c.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM recipients WHERE kind = ?", kind); err != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	return count, nil
}
