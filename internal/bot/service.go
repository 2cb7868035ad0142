package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/linkguard/internal/db"
	"github.com/iamwavecut/linkguard/internal/i18n"
)

type service struct {
	bot             *api.BotAPI
	db              db.Client
	log             *log.Entry
	defaultLanguage string

	langMu    sync.RWMutex
	languages map[int64]string

	stateMu sync.Mutex
	started bool
	stopped bool
}

func NewService(ctx context.Context, bot *api.BotAPI, dbClient db.Client, entry *log.Entry, defaultLanguage string) *service {
	_ = ctx
	if defaultLanguage == "" || !i18n.IsSupported(defaultLanguage) {
		defaultLanguage = "en"
	}
	return &service{
		bot:             bot,
		db:              dbClient,
		log:             entry.WithField("object", "Service"),
		defaultLanguage: defaultLanguage,
		languages:       make(map[int64]string),
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetDB() db.Client {
	return s.db
}

// GetLanguage resolves the chat language, falling back to the configured default.
func (s *service) GetLanguage(ctx context.Context, chatID int64) string {
	s.langMu.RLock()
	lang, ok := s.languages[chatID]
	s.langMu.RUnlock()
	if ok {
		return lang
	}

	lang = s.defaultLanguage
	settings, err := s.db.GetChatSettings(ctx, chatID)
	switch {
	case err == nil && settings.Language != "":
		lang = settings.Language
	case err != nil && !errors.Is(err, db.ErrNotFound):
		s.log.WithField("chat_id", chatID).WithField("error", err.Error()).Warn("cant load chat language")
		return lang
	}

	s.langMu.Lock()
	s.languages[chatID] = lang
	s.langMu.Unlock()
	return lang
}

func (s *service) SetLanguage(ctx context.Context, chatID int64, lang string) error {
	if !i18n.IsSupported(lang) {
		return errors.New("unsupported language " + lang)
	}
	settings, err := s.db.GetChatSettings(ctx, chatID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			return err
		}
		settings = &db.ChatSettings{ChatID: chatID}
	}
	settings.Language = lang
	settings.UpdatedAt = time.Now()
	if err := s.db.SetChatSettings(ctx, settings); err != nil {
		return err
	}

	s.langMu.Lock()
	s.languages[chatID] = lang
	s.langMu.Unlock()
	return nil
}

func (s *service) Start(ctx context.Context) error {
	_ = ctx
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.started = true
	return nil
}

// Stop closes the database. Calling it twice is a no-op.
func (s *service) Stop(ctx context.Context) error {
	_ = ctx
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.started = false
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
