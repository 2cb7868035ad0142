package admin

import (
	"context"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/linkguard/internal/bot"
	"github.com/iamwavecut/linkguard/internal/broadcast"
	"github.com/iamwavecut/linkguard/internal/db"
	"github.com/iamwavecut/linkguard/internal/gateway"
	"github.com/iamwavecut/linkguard/internal/handlers/moderation"
)

type adminStore interface {
	AddRecipient(ctx context.Context, r db.Recipient) error
	RemoveRecipient(ctx context.Context, r db.Recipient) error
	CountRecipients(ctx context.Context, kind db.RecipientKind) (int, error)
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}

const lastBroadcastKey = "last_broadcast"

type mutePolicy interface {
	Set(ctx context.Context, chatID int64, hours int) error
	Hours(ctx context.Context, chatID int64) int
	Resolve(ctx context.Context, chatID int64) time.Duration
	Default() int
	MinHours() int
	MaxHours() int
}

type guard interface {
	LastResult(chatID int64, messageID int) (moderation.Result, bool)
	Tracked() int
	Forgive(chatID, userID int64)
}

type broadcaster interface {
	Authorized(callerID int64) bool
	Broadcast(ctx context.Context, callerID int64, p broadcast.Payload, pol broadcast.Policy) (broadcast.Report, error)
}

type Admin struct {
	s           bot.Service
	gw          gateway.Gateway
	store       adminStore
	mutes       mutePolicy
	guard       guard
	broadcaster broadcaster
	operatorID  int64
	now         func() time.Time

	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

func NewAdmin(s bot.Service, gw gateway.Gateway, store adminStore, mutes mutePolicy, g guard, b broadcaster, operatorID int64) *Admin {
	entry := log.WithField("object", "Admin").WithField("method", "NewAdmin")

	a := &Admin{
		s:           s,
		gw:          gw,
		store:       store,
		mutes:       mutes,
		guard:       g,
		broadcaster: b,
		operatorID:  operatorID,
		now:         time.Now,
	}
	entry.Debug("created new admin handler")
	return a
}

func (a *Admin) Start(ctx context.Context) error {
	_ = ctx
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = false
	return nil
}

// Stop refuses new broadcasts and waits for running ones to finish.
func (a *Admin) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (a *Admin) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error) {
	entry := a.getLogEntry().WithField("method", "Handle")

	if u == nil {
		return true, nil
	}

	if u.MyChatMember != nil {
		a.handleMyChatMember(ctx, u.MyChatMember, chat)
		return false, nil
	}

	msg := u.Message
	if msg == nil || user == nil || chat == nil || !msg.IsCommand() {
		return true, nil
	}

	language := a.s.GetLanguage(ctx, chat.ID)
	entry.Debugf("processing command: %s", msg.Command())

	switch msg.Command() {
	case "start":
		a.handleStart(ctx, chat, user, language)
	case "setmute":
		a.handleSetMute(ctx, msg, chat, user, language)
	case "mute":
		a.handleMute(ctx, msg, chat, user, language)
	case "why":
		a.handleWhy(ctx, msg, chat, user, language)
	case "lang":
		a.handleLang(ctx, msg, chat, user, language)
	case "broadcast":
		a.handleBroadcast(ctx, msg, chat, user, language)
	case "status":
		a.handleStatus(ctx, chat, user, language)
	default:
		entry.Debug("unknown command")
		return true, nil
	}

	// group commands still pass through moderation, so a command can't smuggle a link
	return bot.IsGroup(chat), nil
}

func (a *Admin) handleMyChatMember(ctx context.Context, cm *api.ChatMemberUpdated, chat *api.Chat) {
	if !bot.IsGroup(chat) {
		return
	}
	entry := a.getLogEntry().WithFields(log.Fields{
		"chat_id": chat.ID,
		"status":  cm.NewChatMember.Status,
	})

	switch cm.NewChatMember.Status {
	case "member", "administrator":
		if err := a.store.AddRecipient(ctx, db.Group(chat.ID)); err != nil {
			entry.WithField("error", err.Error()).Error("cant record group")
			return
		}
		entry.Info("bot added to group")
	case "left", "kicked":
		if err := a.store.RemoveRecipient(ctx, db.Group(chat.ID)); err != nil {
			entry.WithField("error", err.Error()).Error("cant remove group")
			return
		}
		entry.Info("bot removed from group")
	}
}

func (a *Admin) reply(ctx context.Context, chatID int64, text string) {
	if _, err := a.gw.SendText(ctx, chatID, text); err != nil {
		a.getLogEntry().WithFields(log.Fields{
			"chat_id": chatID,
			"error":   err.Error(),
		}).Warn("cant send reply")
	}
}

// memberStatus resolves the caller's status in chat. Lookup failures deny access.
func (a *Admin) memberStatus(ctx context.Context, chatID, userID int64) gateway.MemberStatus {
	status, err := a.gw.MemberStatus(ctx, chatID, userID)
	if err != nil {
		a.getLogEntry().WithFields(log.Fields{
			"chat_id": chatID,
			"user_id": userID,
			"error":   err.Error(),
		}).Warn("cant get member status")
		return gateway.StatusUnknown
	}
	return status
}

func (a *Admin) getLogEntry() *log.Entry {
	return log.WithField("object", "Admin")
}
