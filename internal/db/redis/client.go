// Package redis keeps recipients and chat settings in redis sets and hashes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/iamwavecut/linkguard/internal/db"
)

const defaultNamespace = "linkguard"

type redisClient struct {
	client    *goredis.Client
	namespace string
}

func NewRedisClient(ctx context.Context, redisURL string, namespace string) (*redisClient, error) {
	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := goredis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &redisClient{client: rdb, namespace: namespace}, nil
}

func (c *redisClient) Close() error {
	return c.client.Close()
}

func (c *redisClient) recipientsKey(kind db.RecipientKind) string {
	return fmt.Sprintf("%s:recipients:%s", c.namespace, kind)
}

func (c *redisClient) settingsKey(chatID int64) string {
	return fmt.Sprintf("%s:chat_settings:%d", c.namespace, chatID)
}

func (c *redisClient) kvKey(key string) string {
	return fmt.Sprintf("%s:kv:%s", c.namespace, key)
}

func (c *redisClient) AddRecipient(ctx context.Context, r db.Recipient) error {
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid recipient kind %q", r.Kind)
	}
	if err := c.client.SAdd(ctx, c.recipientsKey(r.Kind), r.ID).Err(); err != nil {
		return fmt.Errorf("failed to add recipient %d: %w", r.ID, err)
	}
	return nil
}

func (c *redisClient) RemoveRecipient(ctx context.Context, r db.Recipient) error {
	if err := c.client.SRem(ctx, c.recipientsKey(r.Kind), r.ID).Err(); err != nil {
		return fmt.Errorf("failed to remove recipient %d: %w", r.ID, err)
	}
	return nil
}

func (c *redisClient) ListRecipients(ctx context.Context, kind db.RecipientKind) ([]db.Recipient, error) {
	members, err := c.client.SMembers(ctx, c.recipientsKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return parseRecipients(kind, members)
}

func (c *redisClient) CountRecipients(ctx context.Context, kind db.RecipientKind) (int, error) {
	n, err := c.client.SCard(ctx, c.recipientsKey(kind)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	return int(n), nil
}

func (c *redisClient) GetChatSettings(ctx context.Context, chatID int64) (*db.ChatSettings, error) {
	values, err := c.client.HGetAll(ctx, c.settingsKey(chatID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get chat settings: %w", err)
	}
	if len(values) == 0 {
		return nil, db.ErrNotFound
	}
	settings := &db.ChatSettings{ChatID: chatID, Language: values["language"]}
	if v, ok := values["mute_hours"]; ok {
		if settings.MuteHours, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("malformed mute_hours %q: %w", v, err)
		}
	}
	if v, ok := values["updated_at"]; ok {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.UpdatedAt = time.Unix(ts, 0)
		}
	}
	return settings, nil
}

func (c *redisClient) SetChatSettings(ctx context.Context, settings *db.ChatSettings) error {
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now()
	}
	err := c.client.HSet(ctx, c.settingsKey(settings.ChatID),
		"mute_hours", settings.MuteHours,
		"language", settings.Language,
		"updated_at", settings.UpdatedAt.Unix(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set chat settings: %w", err)
	}
	return nil
}

func (c *redisClient) GetKV(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, c.kvKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get value for key %s: %w", key, err)
	}
	return value, nil
}

func (c *redisClient) SetKV(ctx context.Context, key string, value string) error {
	if err := c.client.Set(ctx, c.kvKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set value for key %s: %w", key, err)
	}
	return nil
}

func parseRecipients(kind db.RecipientKind, members []string) ([]db.Recipient, error) {
	recipients := make([]db.Recipient, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed recipient id %q: %w", m, err)
		}
		recipients = append(recipients, db.Recipient{ID: id, Kind: kind})
	}
	return recipients, nil
}
