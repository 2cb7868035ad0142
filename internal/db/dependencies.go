package db

import "context"

// RecipientStore is the durable set of known broadcast recipients.
type RecipientStore interface {
	AddRecipient(ctx context.Context, r Recipient) error
	RemoveRecipient(ctx context.Context, r Recipient) error
	ListRecipients(ctx context.Context, kind RecipientKind) ([]Recipient, error)
	CountRecipients(ctx context.Context, kind RecipientKind) (int, error)
}

type SettingsStore interface {
	GetChatSettings(ctx context.Context, chatID int64) (*ChatSettings, error)
	SetChatSettings(ctx context.Context, settings *ChatSettings) error
}

type Client interface {
	RecipientStore
	SettingsStore
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
	Close() error
}
