package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/iamwavecut/linkguard/internal/db"
	"github.com/iamwavecut/linkguard/internal/gateway"
	"github.com/iamwavecut/linkguard/internal/i18n"
	"github.com/iamwavecut/linkguard/internal/observability"
	"github.com/iamwavecut/linkguard/internal/pattern"
	"github.com/iamwavecut/linkguard/internal/violation"
)

type recipientStore interface {
	AddRecipient(ctx context.Context, r db.Recipient) error
	RemoveRecipient(ctx context.Context, r db.Recipient) error
}

type muteResolver interface {
	Resolve(ctx context.Context, chatID int64) time.Duration
}

type languageResolver interface {
	GetLanguage(ctx context.Context, chatID int64) string
}

// Actor is the member an event is attributed to.
type Actor struct {
	ID        int64
	FirstName string
	LastName  string
	UserName  string
}

func (a Actor) DisplayName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Mention names the actor in notices. Display names are skipped when they carry prohibited content.
func (a Actor) Mention() string {
	if a.UserName != "" {
		return "@" + a.UserName
	}
	if name := a.DisplayName(); name != "" && !pattern.IsProhibited(name) {
		return name
	}
	return fmt.Sprintf("#%d", a.ID)
}

// Event is a single inbound group message or member change.
type Event struct {
	ChatID    int64
	ChatTitle string
	MessageID int
	Actor     Actor
	Text      string
}

// Guard is the moderation engine. It never fails an event: every collaborator error is logged and
// reflected in Result.Actions.
type Guard struct {
	gw      gateway.Gateway
	store   recipientStore
	tracker *violation.Tracker
	mutes   muteResolver
	langs   languageResolver
	results *resultLog
	now     func() time.Time
}

func NewGuard(gw gateway.Gateway, store recipientStore, tracker *violation.Tracker, mutes muteResolver, langs languageResolver) *Guard {
	g := &Guard{
		gw:      gw,
		store:   store,
		tracker: tracker,
		mutes:   mutes,
		langs:   langs,
		results: newResultLog(maxLastResults),
		now:     time.Now,
	}
	g.getLogEntry().Debug("created new guard")
	return g
}

func (g *Guard) getLogEntry() *log.Entry {
	return log.WithField("object", "Guard")
}

// HandleMessage moderates a group message and remembers the result for LastResult.
func (g *Guard) HandleMessage(ctx context.Context, ev Event) Result {
	res := g.moderate(ctx, ev, true)
	g.results.put(res)
	return res
}

// HandleMember moderates a member that joined or changed, before they write anything.
func (g *Guard) HandleMember(ctx context.Context, ev Event) Result {
	ev.MessageID = 0
	ev.Text = ""
	return g.moderate(ctx, ev, false)
}

func (g *Guard) LastResult(chatID int64, messageID int) (Result, bool) {
	return g.results.get(chatID, messageID)
}

func (g *Guard) Tracked() int {
	return g.tracker.Len()
}

// Forgive clears the warning counter of a member.
func (g *Guard) Forgive(chatID, userID int64) {
	g.tracker.Reset(chatID, userID)
}

func (g *Guard) moderate(ctx context.Context, ev Event, deleteMessage bool) (res Result) {
	ctx, span := observability.Tracer("moderation").Start(ctx, "guard.moderate")
	defer span.End()
	done := observability.StartMessageProcessing()

	entry := g.getLogEntry().WithFields(log.Fields{
		"chat_id": ev.ChatID,
		"user_id": ev.Actor.ID,
	})

	res = Result{
		ChatID:    ev.ChatID,
		UserID:    ev.Actor.ID,
		MessageID: ev.MessageID,
		HandledAt: g.now(),
	}
	defer func() {
		span.SetAttributes(
			attribute.Int64("chat_id", ev.ChatID),
			attribute.Int64("user_id", ev.Actor.ID),
			attribute.String("outcome", res.Outcome.String()),
		)
		observability.RecordOutcome(res.Outcome.String())
		done(res.Outcome.String())
		g.audit(res)
	}()

	status, err := g.gw.MemberStatus(ctx, ev.ChatID, ev.Actor.ID)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant get member status, treating as member")
		status = gateway.StatusMember
	}
	if status.Exempt() {
		res.Outcome = OutcomeExempt
		return res
	}

	g.recordRecipients(ctx, ev, &res)

	lang := g.langs.GetLanguage(ctx, ev.ChatID)

	if name := ev.Actor.DisplayName(); pattern.IsProhibited(name) {
		res.Source = SourceName
		res.Matched = pattern.Match(name)
		g.muteForever(ctx, ev, lang, &res)
		return res
	}

	bio, err := g.gw.ProfileBio(ctx, ev.Actor.ID)
	if err != nil {
		entry.WithField("error", err.Error()).Debug("cant fetch bio, treating as empty")
		bio = ""
	}

	switch {
	case pattern.IsProhibited(ev.Text):
		res.Source = SourceText
		res.Matched = pattern.Match(ev.Text)
	case pattern.IsProhibited(bio):
		res.Source = SourceBio
		res.Matched = pattern.Match(bio)
	default:
		res.Outcome = OutcomeClean
		return res
	}

	if deleteMessage && ev.MessageID != 0 {
		if err := g.gw.DeleteMessage(ctx, ev.ChatID, ev.MessageID); err != nil {
			entry.WithField("error", err.Error()).Warn("cant delete message")
			res.Actions.Error = errors.Join(res.Actions.Error, err)
		} else {
			res.Actions.MessageDeleted = true
		}
	}

	verdict := g.tracker.Record(ev.ChatID, ev.Actor.ID)
	if verdict.Escalate {
		g.mute(ctx, ev, lang, &res)
		return res
	}

	g.warn(ctx, ev, lang, verdict.Count, &res)
	return res
}

func (g *Guard) recordRecipients(ctx context.Context, ev Event, res *Result) {
	recorded := true
	for _, r := range []db.Recipient{db.Group(ev.ChatID), db.User(ev.Actor.ID)} {
		if err := g.store.AddRecipient(ctx, r); err != nil {
			recorded = false
			g.getLogEntry().WithFields(log.Fields{
				"recipient": r.ID,
				"kind":      r.Kind,
				"error":     err.Error(),
			}).Warn("cant record recipient")
		}
	}
	res.Actions.RecipientsRecorded = recorded
}

func (g *Guard) warn(ctx context.Context, ev Event, lang string, count int, res *Result) {
	maxShown := g.tracker.MaxVisibleWarnings()
	res.Outcome = OutcomeWarned
	res.Warnings = min(count, maxShown)

	vars := map[string]any{
		"user":  ev.Actor.Mention(),
		"chat":  ev.ChatTitle,
		"count": res.Warnings,
		"max":   maxShown,
	}

	var groupText, directText string
	if res.Source == SourceBio {
		groupText = i18n.Get("⚠️ {{ .user }}, please remove the link from your bio. Warning {{ .count }}/{{ .max }}.", lang)
		directText = i18n.Get("⚠️ Your bio contains a link or @mention, which is not allowed in {{ .chat }}. Warning {{ .count }}/{{ .max }}.", lang)
	} else {
		groupText = i18n.Get("⚠️ {{ .user }}, links and @mentions are not allowed here. Warning {{ .count }}/{{ .max }}.", lang)
		directText = i18n.Get("⚠️ Your message in {{ .chat }} was removed because it contained a link or @mention. Warning {{ .count }}/{{ .max }}.", lang)
	}
	g.notifyGroup(ctx, ev, tool.ExecTemplate(groupText, vars), res)
	g.notifyDirect(ctx, ev, tool.ExecTemplate(directText, vars), res)
}

func (g *Guard) mute(ctx context.Context, ev Event, lang string, res *Result) {
	duration := g.mutes.Resolve(ctx, ev.ChatID)
	until := g.now().Add(duration)
	res.Outcome = OutcomeMuted

	if err := g.gw.Restrict(ctx, ev.ChatID, ev.Actor.ID, until); err != nil {
		g.getLogEntry().WithFields(log.Fields{
			"chat_id": ev.ChatID,
			"user_id": ev.Actor.ID,
			"error":   err.Error(),
		}).Error("cant restrict member")
		res.Actions.Error = errors.Join(res.Actions.Error, err)
	} else {
		res.Actions.Restricted = true
		res.MutedUntil = until
	}

	vars := map[string]any{
		"user":  ev.Actor.Mention(),
		"chat":  ev.ChatTitle,
		"hours": int(duration / time.Hour),
	}
	g.notifyGroup(ctx, ev, tool.ExecTemplate(i18n.Get("🔇 {{ .user }} has been muted for {{ .hours }} hours due to repeated link violations.", lang), vars), res)
	g.notifyDirect(ctx, ev, tool.ExecTemplate(i18n.Get("🔇 You have been muted in {{ .chat }} for {{ .hours }} hours due to repeated link violations.", lang), vars), res)
}

func (g *Guard) muteForever(ctx context.Context, ev Event, lang string, res *Result) {
	res.Outcome = OutcomePermanentlyMuted

	if err := g.gw.Restrict(ctx, ev.ChatID, ev.Actor.ID, time.Time{}); err != nil {
		g.getLogEntry().WithFields(log.Fields{
			"chat_id": ev.ChatID,
			"user_id": ev.Actor.ID,
			"error":   err.Error(),
		}).Error("cant restrict member permanently")
		res.Actions.Error = errors.Join(res.Actions.Error, err)
	} else {
		res.Actions.Restricted = true
	}

	vars := map[string]any{
		"user": ev.Actor.Mention(),
		"chat": ev.ChatTitle,
	}
	g.notifyGroup(ctx, ev, tool.ExecTemplate(i18n.Get("🔇 {{ .user }} has been muted permanently: links and @mentions are not allowed in display names.", lang), vars), res)
	g.notifyDirect(ctx, ev, tool.ExecTemplate(i18n.Get("🔇 You have been muted permanently in {{ .chat }} because your display name contains a link or @mention.", lang), vars), res)
}

func (g *Guard) notifyGroup(ctx context.Context, ev Event, text string, res *Result) {
	if _, err := g.gw.SendText(ctx, ev.ChatID, text); err != nil {
		g.getLogEntry().WithFields(log.Fields{
			"chat_id": ev.ChatID,
			"error":   err.Error(),
		}).Warn("cant send group notice")
		res.Actions.Error = errors.Join(res.Actions.Error, err)
		return
	}
	res.Actions.GroupNotified = true
}

// notifyDirect is best-effort. A permanent failure means the member cannot be reached, so they stop
// being a broadcast recipient.
func (g *Guard) notifyDirect(ctx context.Context, ev Event, text string, res *Result) {
	_, err := g.gw.SendText(ctx, ev.Actor.ID, text)
	if err == nil {
		res.Actions.DirectNotified = true
		return
	}

	entry := g.getLogEntry().WithFields(log.Fields{
		"user_id": ev.Actor.ID,
		"error":   err.Error(),
	})
	if !gateway.IsPermanent(err) {
		entry.Debug("cant send direct notice")
		return
	}
	entry.Debug("member unreachable in private, removing recipient")
	if err := g.store.RemoveRecipient(ctx, db.User(ev.Actor.ID)); err != nil {
		g.getLogEntry().WithField("error", err.Error()).Warn("cant remove recipient")
		return
	}
	res.Actions.RecipientRemoved = true
}

func (g *Guard) audit(res Result) {
	if res.Outcome == OutcomeClean || res.Outcome == OutcomeExempt {
		return
	}
	fields := []zap.Field{
		zap.String("outcome", res.Outcome.String()),
		zap.String("source", string(res.Source)),
		zap.Int64("chat_id", res.ChatID),
		zap.Int64("user_id", res.UserID),
		zap.Int("message_id", res.MessageID),
		zap.Strings("matched", res.Matched),
		zap.Bool("deleted", res.Actions.MessageDeleted),
		zap.Bool("restricted", res.Actions.Restricted),
	}
	if res.Outcome == OutcomeWarned {
		fields = append(fields, zap.Int("warnings", res.Warnings))
	}
	if !res.MutedUntil.IsZero() {
		fields = append(fields, zap.Time("muted_until", res.MutedUntil))
	}
	if res.Actions.Error != nil {
		fields = append(fields, zap.Error(res.Actions.Error))
	}
	observability.Audit().Info("moderation action", fields...)
}
