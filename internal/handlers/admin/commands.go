package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/linkguard/internal/bot"
	"github.com/iamwavecut/linkguard/internal/broadcast"
	"github.com/iamwavecut/linkguard/internal/db"
	"github.com/iamwavecut/linkguard/internal/i18n"
	"github.com/iamwavecut/linkguard/internal/policy/permissions"
	"github.com/iamwavecut/linkguard/internal/violation"
)

func (a *Admin) handleStart(ctx context.Context, chat *api.Chat, user *api.User, language string) {
	recipient := db.User(user.ID)
	if bot.IsGroup(chat) {
		recipient = db.Group(chat.ID)
	}
	if err := a.store.AddRecipient(ctx, recipient); err != nil {
		a.getLogEntry().WithField("error", err.Error()).Error("cant record recipient")
	}
	a.reply(ctx, chat.ID, i18n.Get("Bot is active.", language))
}

// groupManager checks the command runs in a group and the caller may configure it, replying otherwise.
func (a *Admin) groupManager(ctx context.Context, chat *api.Chat, user *api.User, language string) bool {
	if !bot.IsGroup(chat) {
		a.reply(ctx, chat.ID, i18n.Get("This command works only in groups.", language))
		return false
	}
	if !permissions.CanConfigure(a.operatorID, user.ID, a.memberStatus(ctx, chat.ID, user.ID)) {
		a.reply(ctx, chat.ID, i18n.Get("Only group administrators can do that.", language))
		return false
	}
	return true
}

func (a *Admin) handleSetMute(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User, language string) {
	if !a.groupManager(ctx, chat, user, language) {
		return
	}

	hours, err := strconv.Atoi(strings.TrimSpace(msg.CommandArguments()))
	if err != nil {
		a.reply(ctx, chat.ID, fmt.Sprintf(i18n.Get("Usage: /setmute <hours>, between %d and %d.", language), a.mutes.MinHours(), a.mutes.MaxHours()))
		return
	}
	if err := a.mutes.Set(ctx, chat.ID, hours); err != nil {
		if errors.Is(err, violation.ErrMuteOutOfBounds) {
			a.reply(ctx, chat.ID, fmt.Sprintf(i18n.Get("Mute duration must be between %d and %d hours.", language), a.mutes.MinHours(), a.mutes.MaxHours()))
			return
		}
		a.getLogEntry().WithField("error", err.Error()).Error("cant set mute duration")
		a.reply(ctx, chat.ID, i18n.Get("Something went wrong, try again later.", language))
		return
	}

	a.getLogEntry().WithFields(log.Fields{
		"chat_id": chat.ID,
		"user_id": user.ID,
		"hours":   hours,
	}).Info("mute duration changed")
	a.reply(ctx, chat.ID, fmt.Sprintf(i18n.Get("Mute duration set to %d hours.", language), hours))
}

func (a *Admin) handleMute(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User, language string) {
	if !a.groupManager(ctx, chat, user, language) {
		return
	}
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil {
		a.reply(ctx, chat.ID, i18n.Get("Reply to a message to use this command.", language))
		return
	}
	target := msg.ReplyToMessage.From

	hours := a.mutes.Hours(ctx, chat.ID)
	until := a.now().Add(a.mutes.Resolve(ctx, chat.ID))
	if err := a.gw.Restrict(ctx, chat.ID, target.ID, until); err != nil {
		a.getLogEntry().WithFields(log.Fields{
			"chat_id": chat.ID,
			"user_id": target.ID,
			"error":   err.Error(),
		}).Error("cant mute member")
		a.reply(ctx, chat.ID, i18n.Get("Cant mute this member.", language))
		return
	}
	a.guard.Forgive(chat.ID, target.ID)
	a.reply(ctx, chat.ID, fmt.Sprintf(i18n.Get("%s has been muted for %d hours.", language), bot.GetFullName(target), hours))
}

func (a *Admin) handleWhy(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User, language string) {
	if !a.groupManager(ctx, chat, user, language) {
		return
	}
	if msg.ReplyToMessage == nil {
		a.reply(ctx, chat.ID, i18n.Get("Reply to a message to use this command.", language))
		return
	}
	res, ok := a.guard.LastResult(chat.ID, msg.ReplyToMessage.MessageID)
	if !ok {
		a.reply(ctx, chat.ID, i18n.Get("No moderation record for this message.", language))
		return
	}
	a.reply(ctx, chat.ID, fmt.Sprintf(i18n.Get("Moderation result: %s", language), res.Summary()))
}

func (a *Admin) handleLang(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User, language string) {
	if bot.IsGroup(chat) && !a.groupManager(ctx, chat, user, language) {
		return
	}

	code := strings.ToLower(strings.TrimSpace(msg.CommandArguments()))
	if !i18n.IsSupported(code) {
		a.reply(ctx, chat.ID, fmt.Sprintf(i18n.Get("Usage: /lang <code>, one of: %s.", language), strings.Join(i18n.Languages(), ", ")))
		return
	}
	if err := a.s.SetLanguage(ctx, chat.ID, code); err != nil {
		a.getLogEntry().WithField("error", err.Error()).Error("cant update chat language")
		a.reply(ctx, chat.ID, i18n.Get("Something went wrong, try again later.", language))
		return
	}
	a.reply(ctx, chat.ID, i18n.Get("Language updated.", code))
}

func (a *Admin) handleStatus(ctx context.Context, chat *api.Chat, user *api.User, language string) {
	if !permissions.IsOperator(a.operatorID, user.ID) {
		a.reply(ctx, chat.ID, i18n.Get("Only the operator can do that.", language))
		return
	}

	groups, err := a.store.CountRecipients(ctx, db.KindGroup)
	if err != nil {
		a.getLogEntry().WithField("error", err.Error()).Error("cant count groups")
	}
	users, err := a.store.CountRecipients(ctx, db.KindUser)
	if err != nil {
		a.getLogEntry().WithField("error", err.Error()).Error("cant count users")
	}
	last, err := a.store.GetKV(ctx, lastBroadcastKey)
	if err != nil {
		a.getLogEntry().WithField("error", err.Error()).Warn("cant read last broadcast")
	}
	if last == "" {
		last = "-"
	}
	a.reply(ctx, chat.ID, fmt.Sprintf(
		i18n.Get("Groups: %d\nUsers: %d\nDefault mute: %d hours\nTracked members: %d\nLast broadcast: %s", language),
		groups, users, a.mutes.Default(), a.guard.Tracked(), last,
	))
}

func (a *Admin) handleBroadcast(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User, language string) {
	if !a.broadcaster.Authorized(user.ID) || bot.IsGroup(chat) {
		a.reply(ctx, chat.ID, i18n.Get("Only the operator can do that.", language))
		return
	}

	pol, text := ParseBroadcastArgs(msg.CommandArguments())
	var (
		payload broadcast.Payload
		err     error
	)
	if msg.ReplyToMessage != nil {
		payload, err = broadcast.PayloadFromMessage(msg.ReplyToMessage)
	} else {
		payload = broadcast.TextPayload(text)
		err = payload.Validate()
	}
	if err != nil {
		a.reply(ctx, chat.ID, i18n.Get("Nothing to broadcast: send text or reply to a message.", language))
		return
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		a.reply(ctx, chat.ID, i18n.Get("Something went wrong, try again later.", language))
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	a.reply(ctx, chat.ID, i18n.Get("Broadcast started.", language))

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer a.wg.Done()
		report, err := a.broadcaster.Broadcast(runCtx, user.ID, payload, pol)
		if err != nil {
			a.getLogEntry().WithField("error", err.Error()).Error("broadcast failed")
			a.reply(runCtx, chat.ID, fmt.Sprintf(i18n.Get("Broadcast failed: %s", language), err.Error()))
			return
		}
		summary := report.ID + " " + a.now().UTC().Format(time.RFC3339)
		if err := a.store.SetKV(runCtx, lastBroadcastKey, summary); err != nil {
			a.getLogEntry().WithField("error", err.Error()).Warn("cant remember last broadcast")
		}
		a.reply(runCtx, chat.ID, fmt.Sprintf(
			i18n.Get("Broadcast %s finished in %s.\nGroups: %d sent, %d failed.\nUsers: %d sent, %d failed.\nPins failed: %d. Removed recipients: %d.", language),
			report.ID, report.Duration.Round(time.Millisecond), report.GroupsSent, report.GroupsFailed,
			report.UsersSent, report.UsersFailed, report.PinsFailed, report.Pruned,
		))
	}()
}

// ParseBroadcastArgs strips the leading "all" and "pin" flags, in any order, and returns the rest
// of the text untouched.
func ParseBroadcastArgs(raw string) (broadcast.Policy, string) {
	var pol broadcast.Policy
	rest := raw
	for {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		word := rest
		if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
			word = rest[:i]
		}
		switch strings.ToLower(word) {
		case "all":
			pol.IncludeUsers = true
		case "pin":
			pol.Pin = true
		default:
			return pol, strings.TrimSpace(rest)
		}
		rest = rest[len(word):]
	}
}
