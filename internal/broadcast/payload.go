package broadcast

import (
	"errors"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/linkguard/internal/gateway"
)

var ErrEmptyPayload = errors.New("nothing to broadcast")

// Payload is either plain text or a single media file with an optional caption.
type Payload struct {
	Text    string
	Media   *gateway.Media
	Caption string
}

func TextPayload(text string) Payload {
	return Payload{Text: strings.TrimSpace(text)}
}

func (p Payload) IsMedia() bool {
	return p.Media != nil
}

func (p Payload) Validate() error {
	if p.Media != nil {
		if p.Media.FileID == "" {
			return ErrEmptyPayload
		}
		return nil
	}
	if p.Text == "" {
		return ErrEmptyPayload
	}
	return nil
}

// PayloadFromMessage builds a payload from a message the operator sent or replied to. The media
// kind always comes from the message itself.
func PayloadFromMessage(msg *api.Message) (Payload, error) {
	if msg == nil {
		return Payload{}, ErrEmptyPayload
	}

	var media *gateway.Media
	switch {
	case len(msg.Photo) > 0:
		// sizes are ordered ascending, the last one is the original
		media = &gateway.Media{Kind: gateway.MediaPhoto, FileID: msg.Photo[len(msg.Photo)-1].FileID}
	case msg.Animation != nil:
		media = &gateway.Media{Kind: gateway.MediaAnimation, FileID: msg.Animation.FileID}
	case msg.Video != nil:
		media = &gateway.Media{Kind: gateway.MediaVideo, FileID: msg.Video.FileID}
	case msg.Audio != nil:
		media = &gateway.Media{Kind: gateway.MediaAudio, FileID: msg.Audio.FileID}
	case msg.Voice != nil:
		media = &gateway.Media{Kind: gateway.MediaVoice, FileID: msg.Voice.FileID}
	case msg.Document != nil:
		media = &gateway.Media{Kind: gateway.MediaDocument, FileID: msg.Document.FileID}
	case msg.Sticker != nil:
		media = &gateway.Media{Kind: gateway.MediaSticker, FileID: msg.Sticker.FileID}
	}

	p := Payload{Media: media}
	if media != nil {
		p.Caption = strings.TrimSpace(msg.Caption)
	} else {
		p.Text = strings.TrimSpace(msg.Text)
	}
	return p, p.Validate()
}
