package moderation

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/linkguard/internal/bot"
)

// Handle feeds group messages and member joins into the guard. Updates whose message was removed
// stop the handler chain.
func (g *Guard) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if u == nil || !bot.IsGroup(chat) {
		return true, nil
	}

	switch {
	case u.Message != nil || u.EditedMessage != nil:
		msg := u.Message
		if msg == nil {
			msg = u.EditedMessage
		}
		if msg.SenderChat != nil || user == nil || user.IsBot {
			return true, nil
		}
		if len(msg.NewChatMembers) > 0 || msg.LeftChatMember != nil {
			return true, nil
		}
		res := g.HandleMessage(ctx, Event{
			ChatID:    chat.ID,
			ChatTitle: chat.Title,
			MessageID: msg.MessageID,
			Actor:     actorOf(user),
			Text:      bot.MessageContent(msg),
		})
		return !res.Actions.MessageDeleted, nil

	case u.ChatMember != nil:
		cm := u.ChatMember
		if !joined(cm) || cm.NewChatMember.User == nil || cm.NewChatMember.User.IsBot {
			return true, nil
		}
		res := g.HandleMember(ctx, Event{
			ChatID:    chat.ID,
			ChatTitle: chat.Title,
			Actor:     actorOf(cm.NewChatMember.User),
		})
		g.getLogEntry().WithFields(log.Fields{
			"chat_id": chat.ID,
			"user_id": cm.NewChatMember.User.ID,
			"outcome": res.Outcome.String(),
		}).Debug("member join checked")
	}
	return true, nil
}

func joined(cm *api.ChatMemberUpdated) bool {
	wasOut := cm.OldChatMember.Status == "left" || cm.OldChatMember.Status == "kicked"
	isIn := cm.NewChatMember.Status == "member" || cm.NewChatMember.Status == "restricted"
	return wasOut && isIn
}

func actorOf(user *api.User) Actor {
	return Actor{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		UserName:  user.UserName,
	}
}
