package violation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/linkguard/internal/db"
)

var ErrMuteOutOfBounds = errors.New("mute duration out of bounds")

type settingsStore interface {
	GetChatSettings(ctx context.Context, chatID int64) (*db.ChatSettings, error)
	SetChatSettings(ctx context.Context, settings *db.ChatSettings) error
}

// MutePolicy resolves how long an escalated member stays muted: a per-chat override when one is
// stored, otherwise the global default. Resolved values always lie within [min, max].
type MutePolicy struct {
	store        settingsStore
	defaultHours int
	minHours     int
	maxHours     int

	mu    sync.RWMutex
	cache map[int64]int
}

func NewMutePolicy(store settingsStore, defaultHours, minHours, maxHours int) *MutePolicy {
	p := &MutePolicy{
		store:    store,
		minHours: minHours,
		maxHours: maxHours,
		cache:    make(map[int64]int),
	}
	p.defaultHours = p.clamp(defaultHours)
	return p
}

func (p *MutePolicy) Default() int { return p.defaultHours }
func (p *MutePolicy) MinHours() int { return p.minHours }
func (p *MutePolicy) MaxHours() int { return p.maxHours }

// Hours returns the effective mute hours for chatID. Store failures fall back to the default.
func (p *MutePolicy) Hours(ctx context.Context, chatID int64) int {
	p.mu.RLock()
	hours, ok := p.cache[chatID]
	p.mu.RUnlock()
	if ok {
		return hours
	}

	hours = p.defaultHours
	settings, err := p.store.GetChatSettings(ctx, chatID)
	switch {
	case err == nil && settings.MuteHours > 0:
		hours = p.clamp(settings.MuteHours)
	case err != nil && !errors.Is(err, db.ErrNotFound):
		log.WithFields(log.Fields{
			"object":  "MutePolicy",
			"chat_id": chatID,
			"error":   err.Error(),
		}).Warn("cant load chat settings, using default mute duration")
		return hours
	}

	p.mu.Lock()
	p.cache[chatID] = hours
	p.mu.Unlock()
	return hours
}

func (p *MutePolicy) Resolve(ctx context.Context, chatID int64) time.Duration {
	return time.Duration(p.Hours(ctx, chatID)) * time.Hour
}

// Set stores a per-chat override. Values outside the bounds are rejected and nothing changes.
func (p *MutePolicy) Set(ctx context.Context, chatID int64, hours int) error {
	if hours < p.minHours || hours > p.maxHours {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrMuteOutOfBounds, hours, p.minHours, p.maxHours)
	}

	settings, err := p.store.GetChatSettings(ctx, chatID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("load chat settings: %w", err)
		}
		settings = &db.ChatSettings{ChatID: chatID}
	}
	settings.MuteHours = hours
	settings.UpdatedAt = time.Now()
	if err := p.store.SetChatSettings(ctx, settings); err != nil {
		return fmt.Errorf("store chat settings: %w", err)
	}

	p.mu.Lock()
	p.cache[chatID] = hours
	p.mu.Unlock()
	return nil
}

func (p *MutePolicy) clamp(hours int) int {
	if hours < p.minHours {
		return p.minHours
	}
	if hours > p.maxHours {
		return p.maxHours
	}
	return hours
}
