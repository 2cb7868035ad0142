// Package gateway describes the messaging capabilities the moderation and broadcast engines consume.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrPermanent marks failures that will not go away on retry: the bot was blocked or kicked, the
// chat was deleted, the user is deactivated.
var ErrPermanent = errors.New("permanent delivery failure")

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

type MemberStatus int

const (
	StatusUnknown MemberStatus = iota
	StatusMember
	StatusAdmin
	StatusOwner
	StatusLeft
	StatusRestricted
	StatusKicked
)

func (s MemberStatus) String() string {
	switch s {
	case StatusMember:
		return "member"
	case StatusAdmin:
		return "administrator"
	case StatusOwner:
		return "creator"
	case StatusLeft:
		return "left"
	case StatusRestricted:
		return "restricted"
	case StatusKicked:
		return "kicked"
	default:
		return "unknown"
	}
}

// Exempt reports whether members with this status bypass moderation.
func (s MemberStatus) Exempt() bool {
	return s == StatusAdmin || s == StatusOwner
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaDocument  MediaKind = "document"
	MediaAnimation MediaKind = "animation"
	MediaSticker   MediaKind = "sticker"
)

// Media references an already uploaded file by its platform file id.
type Media struct {
	Kind   MediaKind
	FileID string
}

// Gateway is the outbound side of the chat platform. Implementations must be safe for concurrent use.
type Gateway interface {
	MemberStatus(ctx context.Context, chatID, userID int64) (MemberStatus, error)
	ProfileBio(ctx context.Context, userID int64) (string, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// Restrict revokes send permissions until the given time. A zero until restricts indefinitely.
	Restrict(ctx context.Context, chatID, userID int64, until time.Time) error
	SendText(ctx context.Context, chatID int64, text string) (MessageRef, error)
	SendMedia(ctx context.Context, chatID int64, media Media, caption string) (MessageRef, error)
	PinMessage(ctx context.Context, ref MessageRef) error
}
