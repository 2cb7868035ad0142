package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/iamwavecut/linkguard/internal/gateway"
	"github.com/iamwavecut/linkguard/internal/observability"
)

const maxRetryAfter = 30 * time.Second

var permanentMarkers = []string{
	"chat not found",
	"user not found",
	"user is deactivated",
	"bot was kicked",
	"bot was blocked",
	"bot is not a member",
	"peer_id_invalid",
	"group chat was upgraded",
	"have no rights to send",
	"need administrator rights",
}

// Operations implements gateway.Gateway on top of the Telegram Bot API.
type Operations struct {
	bot     *api.BotAPI
	limiter *rate.Limiter
}

// NewOperations creates a gateway sending at most perSecond messages per second.
func NewOperations(bot *api.BotAPI, perSecond float64) *Operations {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Operations{
		bot:     bot,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (o *Operations) getLogEntry() *log.Entry {
	return log.WithField("object", "TelegramGateway")
}

func (o *Operations) MemberStatus(ctx context.Context, chatID, userID int64) (gateway.MemberStatus, error) {
	var member api.ChatMember
	err := o.call(ctx, "member_status", false, func() error {
		var err error
		member, err = o.bot.GetChatMember(api.GetChatMemberConfig{
			ChatConfigWithUser: api.ChatConfigWithUser{
				ChatConfig: api.ChatConfig{
					ChatID: chatID,
				},
				UserID: userID,
			},
		})
		return err
	})
	if err != nil {
		return gateway.StatusUnknown, fmt.Errorf("get chat member: %w", err)
	}
	return StatusOf(member.Status), nil
}

func (o *Operations) ProfileBio(ctx context.Context, userID int64) (string, error) {
	var bio string
	err := o.call(ctx, "profile_bio", false, func() error {
		chat, err := o.bot.GetChat(api.ChatInfoConfig{
			ChatConfig: api.ChatConfig{
				ChatID: userID,
			},
		})
		if err != nil {
			return err
		}
		bio = chat.Bio
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("get chat: %w", err)
	}
	return bio, nil
}

func (o *Operations) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	err := o.call(ctx, "delete_message", false, func() error {
		_, err := o.bot.Request(api.NewDeleteMessage(chatID, messageID))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Restrict revokes every send permission. A zero until is sent as 0, which Telegram treats as forever.
func (o *Operations) Restrict(ctx context.Context, chatID, userID int64, until time.Time) error {
	var untilDate int64
	if !until.IsZero() {
		untilDate = until.Unix()
	}
	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		UntilDate:                     untilDate,
		UseIndependentChatPermissions: true,
		Permissions:                   &api.ChatPermissions{},
	}
	err := o.call(ctx, "restrict", false, func() error {
		_, err := o.bot.Request(config)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to restrict user: %w", err)
	}
	return nil
}

func (o *Operations) SendText(ctx context.Context, chatID int64, text string) (gateway.MessageRef, error) {
	return o.send(ctx, "send_text", chatID, api.NewMessage(chatID, text))
}

func (o *Operations) SendMedia(ctx context.Context, chatID int64, media gateway.Media, caption string) (gateway.MessageRef, error) {
	file := api.FileID(media.FileID)

	var c api.Chattable
	switch media.Kind {
	case gateway.MediaPhoto:
		cfg := api.NewPhoto(chatID, file)
		cfg.Caption = caption
		c = cfg
	case gateway.MediaVideo:
		cfg := api.NewVideo(chatID, file)
		cfg.Caption = caption
		c = cfg
	case gateway.MediaAudio:
		cfg := api.NewAudio(chatID, file)
		cfg.Caption = caption
		c = cfg
	case gateway.MediaVoice:
		cfg := api.NewVoice(chatID, file)
		cfg.Caption = caption
		c = cfg
	case gateway.MediaDocument:
		cfg := api.NewDocument(chatID, file)
		cfg.Caption = caption
		c = cfg
	case gateway.MediaAnimation:
		cfg := api.NewAnimation(chatID, file)
		cfg.Caption = caption
		c = cfg
	case gateway.MediaSticker:
		c = api.NewSticker(chatID, file)
	default:
		return gateway.MessageRef{}, fmt.Errorf("unsupported media kind %q", media.Kind)
	}
	return o.send(ctx, "send_"+string(media.Kind), chatID, c)
}

func (o *Operations) PinMessage(ctx context.Context, ref gateway.MessageRef) error {
	params := make(api.Params)
	params.AddNonZero64("chat_id", ref.ChatID)
	params.AddNonZero("message_id", ref.MessageID)
	params.AddBool("disable_notification", true)

	err := o.call(ctx, "pin_message", true, func() error {
		_, err := o.bot.MakeRequest("pinChatMessage", params)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to pin message: %w", err)
	}
	return nil
}

func (o *Operations) send(ctx context.Context, method string, chatID int64, c api.Chattable) (gateway.MessageRef, error) {
	var sent api.Message
	err := o.call(ctx, method, true, func() error {
		var err error
		sent, err = o.bot.Send(c)
		return err
	})
	if err != nil {
		return gateway.MessageRef{}, fmt.Errorf("failed to send: %w", err)
	}
	return gateway.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// call runs fn once, waiting on the shared limiter first when limited is set, and retries a
// single time when Telegram answers 429 with a retry_after hint.
func (o *Operations) call(ctx context.Context, method string, limited bool, fn func() error) error {
	err := o.attempt(ctx, limited, fn)
	if wait, ok := retryAfter(err); ok {
		o.getLogEntry().WithFields(log.Fields{
			"method": method,
			"wait":   wait.String(),
		}).Warn("flood control, retrying once")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			observability.RecordGatewayCall(method, "transient")
			return ctx.Err()
		case <-timer.C:
		}
		err = o.attempt(ctx, limited, fn)
	}

	err = Classify(err)
	switch {
	case err == nil:
		observability.RecordGatewayCall(method, "ok")
	case gateway.IsPermanent(err):
		observability.RecordGatewayCall(method, "permanent")
	default:
		observability.RecordGatewayCall(method, "transient")
	}
	return err
}

func (o *Operations) attempt(ctx context.Context, limited bool, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if limited {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return fn()
}

func retryAfter(err error) (time.Duration, bool) {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Code != 429 || apiErr.RetryAfter <= 0 {
		return 0, false
	}
	wait := time.Duration(apiErr.RetryAfter) * time.Second
	if wait > maxRetryAfter {
		wait = maxRetryAfter
	}
	return wait, true
}

// Classify wraps errors that will never succeed on retry with gateway.ErrPermanent.
func Classify(err error) error {
	if err == nil || gateway.IsPermanent(err) {
		return err
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Code == 403 {
		return fmt.Errorf("%w: %w", gateway.ErrPermanent, err)
	}

	text := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(text, marker) {
			return fmt.Errorf("%w: %w", gateway.ErrPermanent, err)
		}
	}
	return err
}

// StatusOf maps the Bot API chat member status string onto gateway.MemberStatus.
func StatusOf(status string) gateway.MemberStatus {
	switch status {
	case "creator":
		return gateway.StatusOwner
	case "administrator":
		return gateway.StatusAdmin
	case "member":
		return gateway.StatusMember
	case "restricted":
		return gateway.StatusRestricted
	case "left":
		return gateway.StatusLeft
	case "kicked":
		return gateway.StatusKicked
	default:
		return gateway.StatusUnknown
	}
}
