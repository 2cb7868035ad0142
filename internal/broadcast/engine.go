// Package broadcast fans operator announcements out to every recorded group and user.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/linkguard/internal/db"
	"github.com/iamwavecut/linkguard/internal/gateway"
	"github.com/iamwavecut/linkguard/internal/infra"
	"github.com/iamwavecut/linkguard/internal/observability"
)

var ErrUnauthorized = errors.New("unauthorized")

const (
	defaultWorkers     = 8
	defaultSendTimeout = 15 * time.Second
)

type recipientStore interface {
	ListRecipients(ctx context.Context, kind db.RecipientKind) ([]db.Recipient, error)
	RemoveRecipient(ctx context.Context, r db.Recipient) error
}

type Policy struct {
	IncludeUsers bool
	Pin          bool
}

type Options struct {
	Workers int
	// PruneTransient also removes recipients whose delivery failed for a transient reason.
	PruneTransient bool
	SendTimeout    time.Duration
}

type Report struct {
	ID           string
	GroupsSent   int
	GroupsFailed int
	UsersSent    int
	UsersFailed  int
	PinsFailed   int
	Pruned       int
	Duration     time.Duration
}

type tally struct {
	sent   atomic.Int64
	failed atomic.Int64
	pins   atomic.Int64
	pruned atomic.Int64
}

type Engine struct {
	gw         gateway.Gateway
	store      recipientStore
	operatorID int64
	opts       Options
}

func NewEngine(gw gateway.Gateway, store recipientStore, operatorID int64, opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	return &Engine{
		gw:         gw,
		store:      store,
		operatorID: operatorID,
		opts:       opts,
	}
}

func (e *Engine) getLogEntry() *log.Entry {
	return log.WithField("object", "Broadcast")
}

// Authorized reports whether callerID may broadcast.
func (e *Engine) Authorized(callerID int64) bool {
	return e.operatorID != 0 && callerID == e.operatorID
}

// Broadcast delivers p to every group, then to every user when pol.IncludeUsers is set. Individual
// delivery failures never abort the fan-out; they are tallied in the report.
func (e *Engine) Broadcast(ctx context.Context, callerID int64, p Payload, pol Policy) (Report, error) {
	if !e.Authorized(callerID) {
		return Report{}, ErrUnauthorized
	}
	if err := p.Validate(); err != nil {
		return Report{}, err
	}

	started := time.Now()
	report := Report{ID: uuid.New()}
	entry := e.getLogEntry().WithField("broadcast_id", report.ID)
	entry.WithFields(log.Fields{
		"include_users": pol.IncludeUsers,
		"pin":           pol.Pin,
		"media":         p.IsMedia(),
	}).Info("broadcast started")

	groups, err := e.fanOut(ctx, db.KindGroup, p, pol.Pin)
	if err != nil {
		return report, fmt.Errorf("broadcast to groups: %w", err)
	}
	report.GroupsSent = int(groups.sent.Load())
	report.GroupsFailed = int(groups.failed.Load())
	report.PinsFailed = int(groups.pins.Load())
	report.Pruned = int(groups.pruned.Load())

	if pol.IncludeUsers {
		users, err := e.fanOut(ctx, db.KindUser, p, false)
		if err != nil {
			report.Duration = time.Since(started)
			return report, fmt.Errorf("broadcast to users: %w", err)
		}
		report.UsersSent = int(users.sent.Load())
		report.UsersFailed = int(users.failed.Load())
		report.Pruned += int(users.pruned.Load())
	}
	report.Duration = time.Since(started)

	entry.WithFields(log.Fields{
		"groups_sent":   report.GroupsSent,
		"groups_failed": report.GroupsFailed,
		"users_sent":    report.UsersSent,
		"users_failed":  report.UsersFailed,
		"pins_failed":   report.PinsFailed,
		"pruned":        report.Pruned,
		"duration":      report.Duration.String(),
	}).Info("broadcast finished")
	observability.Audit().Info("broadcast",
		zap.String("id", report.ID),
		zap.Int64("operator_id", callerID),
		zap.Int("groups_sent", report.GroupsSent),
		zap.Int("groups_failed", report.GroupsFailed),
		zap.Int("users_sent", report.UsersSent),
		zap.Int("users_failed", report.UsersFailed),
		zap.Int("pins_failed", report.PinsFailed),
		zap.Int("pruned", report.Pruned),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (e *Engine) fanOut(ctx context.Context, kind db.RecipientKind, p Payload, pin bool) (*tally, error) {
	recipients, err := e.store.ListRecipients(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}

	t := &tally{}
	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for _, r := range recipients {
		g.Go(func() error {
			e.deliver(ctx, r, p, pin, t)
			return nil
		})
	}
	_ = g.Wait()
	return t, nil
}

func (e *Engine) deliver(ctx context.Context, r db.Recipient, p Payload, pin bool, t *tally) {
	entry := e.getLogEntry().WithFields(log.Fields{
		"recipient": r.ID,
		"kind":      r.Kind,
	})

	sendCtx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
	defer cancel()

	var ref gateway.MessageRef
	err := infra.Safely(func() error {
		var err error
		if p.IsMedia() {
			ref, err = e.gw.SendMedia(sendCtx, r.ID, *p.Media, p.Caption)
		} else {
			ref, err = e.gw.SendText(sendCtx, r.ID, p.Text)
		}
		return err
	})
	if err != nil {
		t.failed.Add(1)
		observability.RecordDelivery(string(r.Kind), "failed")
		entry.WithField("error", err.Error()).Warn("delivery failed")
		e.prune(ctx, r, err, t)
		return
	}
	t.sent.Add(1)
	observability.RecordDelivery(string(r.Kind), "sent")

	if !pin {
		return
	}
	if err := infra.Safely(func() error { return e.gw.PinMessage(sendCtx, ref) }); err != nil {
		t.pins.Add(1)
		entry.WithField("error", err.Error()).Debug("cant pin broadcast message")
	}
}

func (e *Engine) prune(ctx context.Context, r db.Recipient, cause error, t *tally) {
	if ctx.Err() != nil {
		return
	}
	if !gateway.IsPermanent(cause) && !e.opts.PruneTransient {
		return
	}
	if err := e.store.RemoveRecipient(ctx, r); err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"recipient": r.ID,
			"kind":      r.Kind,
			"error":     err.Error(),
		}).Error("cant remove recipient")
		return
	}
	t.pruned.Add(1)
	observability.RecordPruned(string(r.Kind))
}
