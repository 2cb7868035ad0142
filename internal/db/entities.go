package db

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type RecipientKind string

const (
	KindGroup RecipientKind = "group"
	KindUser  RecipientKind = "user"
)

func (k RecipientKind) Valid() bool {
	return k == KindGroup || k == KindUser
}

// Recipient is a broadcast target. Identity is the (ID, Kind) pair.
type Recipient struct {
	ID        int64         `db:"id"`
	Kind      RecipientKind `db:"kind"`
	CreatedAt time.Time     `db:"created_at"`
}

func Group(id int64) Recipient { return Recipient{ID: id, Kind: KindGroup} }
func User(id int64) Recipient  { return Recipient{ID: id, Kind: KindUser} }

// ChatSettings holds per-chat overrides. Zero values mean "inherit the global default".
type ChatSettings struct {
	ChatID    int64     `db:"chat_id"`
	MuteHours int       `db:"mute_hours"`
	Language  string    `db:"language"`
	UpdatedAt time.Time `db:"updated_at"`
}
