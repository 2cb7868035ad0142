package broadcast

import (
	"errors"
	"testing"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/linkguard/internal/gateway"
)

func TestPayloadFromMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     *api.Message
		kind    gateway.MediaKind
		fileID  string
		text    string
		caption string
	}{
		{name: "text", msg: &api.Message{Text: " hello "}, text: "hello"},
		{
			name:    "photo picks largest size",
			msg:     &api.Message{Photo: []api.PhotoSize{{FileID: "small"}, {FileID: "large"}}, Caption: "pic"},
			kind:    gateway.MediaPhoto,
			fileID:  "large",
			caption: "pic",
		},
		{name: "video", msg: &api.Message{Video: &api.Video{FileID: "v"}}, kind: gateway.MediaVideo, fileID: "v"},
		{name: "audio", msg: &api.Message{Audio: &api.Audio{FileID: "a"}}, kind: gateway.MediaAudio, fileID: "a"},
		{name: "voice", msg: &api.Message{Voice: &api.Voice{FileID: "vo"}}, kind: gateway.MediaVoice, fileID: "vo"},
		{name: "document", msg: &api.Message{Document: &api.Document{FileID: "d"}}, kind: gateway.MediaDocument, fileID: "d"},
		{
			name:   "animation wins over document",
			msg:    &api.Message{Animation: &api.Animation{FileID: "gif"}, Document: &api.Document{FileID: "gif"}},
			kind:   gateway.MediaAnimation,
			fileID: "gif",
		},
		{name: "sticker", msg: &api.Message{Sticker: &api.Sticker{FileID: "s"}}, kind: gateway.MediaSticker, fileID: "s"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := PayloadFromMessage(tt.msg)
			if err != nil {
				t.Fatalf("payload: %v", err)
			}
			if tt.kind == "" {
				if p.IsMedia() || p.Text != tt.text {
					t.Fatalf("unexpected text payload %+v", p)
				}
				return
			}
			if !p.IsMedia() || p.Media.Kind != tt.kind || p.Media.FileID != tt.fileID || p.Caption != tt.caption {
				t.Fatalf("unexpected media payload %+v", p)
			}
		})
	}
}

func TestPayloadFromEmptyMessage(t *testing.T) {
	t.Parallel()

	for _, msg := range []*api.Message{nil, {}, {Text: "  "}} {
		if _, err := PayloadFromMessage(msg); !errors.Is(err, ErrEmptyPayload) {
			t.Fatalf("expected ErrEmptyPayload, got %v", err)
		}
	}
}
