package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/linkguard/internal/bot"
	"github.com/iamwavecut/linkguard/internal/broadcast"
	"github.com/iamwavecut/linkguard/internal/config"
	"github.com/iamwavecut/linkguard/internal/db"
	"github.com/iamwavecut/linkguard/internal/db/redis"
	"github.com/iamwavecut/linkguard/internal/db/sqlite"
	"github.com/iamwavecut/linkguard/internal/handlers/admin"
	"github.com/iamwavecut/linkguard/internal/handlers/moderation"
	"github.com/iamwavecut/linkguard/internal/infra"
	"github.com/iamwavecut/linkguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/linkguard/internal/lifecycle"
	"github.com/iamwavecut/linkguard/internal/observability"
	"github.com/iamwavecut/linkguard/internal/violation"
)

const (
	pollTimeout    = 60
	restartBackoff = 5 * time.Second
	stopTimeout    = 30 * time.Second
)

func main() {
	log.SetFormatter(&config.NbFormatter{})
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.WithField("error", err.Error()).Fatalln("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithField("error", err.Error()).Errorln("exiting")
		os.Exit(1)
	}
	log.Infoln("bye")
}

func run(ctx context.Context, cfg config.Config) error {
	if err := observability.Init(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			log.WithField("error", err.Error()).Warnln("cant shutdown observability")
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		_ = store.Close()
		return err
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	log.WithField("username", botAPI.Self.UserName).Infoln("authorized")

	entry := log.WithField("object", "linkguard")
	service := bot.NewService(ctx, botAPI, store, entry, cfg.DefaultLanguage)
	gw := telegram.NewOperations(botAPI, cfg.Broadcast.SendRate)

	scope := violation.ScopeChat
	if cfg.Moderation.WarnScope == config.ScopeGlobal {
		scope = violation.ScopeGlobal
	}
	tracker := violation.NewTracker(cfg.Moderation.WarnThreshold, scope)
	mutes := violation.NewMutePolicy(store, cfg.Moderation.MuteHours, config.MinMuteHours, config.MaxMuteHours)

	guard := moderation.NewGuard(gw, store, tracker, mutes, service)
	engine := broadcast.NewEngine(gw, store, cfg.OperatorID, broadcast.Options{
		Workers:        cfg.Broadcast.Workers,
		PruneTransient: cfg.Broadcast.PruneTransient,
		SendTimeout:    cfg.Broadcast.SendTimeout,
	})
	adminHandler := admin.NewAdmin(service, gw, store, mutes, guard, engine, cfg.OperatorID)

	bot.RegisterUpdateHandler("admin", adminHandler)
	bot.RegisterUpdateHandler("moderation", guard)

	runtime := lifecycle.NewRuntime()
	runtime.Register("service", service)
	runtime.Register("metrics", observability.NewMetricsServer(cfg.MetricsAddr))
	runtime.Register("admin", adminHandler)
	if err := runtime.Start(ctx); err != nil {
		_ = store.Close()
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithField("error", err.Error()).Warnln("cant stop runtime")
		}
	}()

	processor := bot.NewUpdateProcessor(service, cfg.EnabledHandlers)
	done := make(chan struct{})
	go infra.GoRecoverable(-1, "process_updates", func() {
		poll(ctx, botAPI, processor)
		close(done)
	})

	select {
	case <-ctx.Done():
		log.Infoln("shutting down")
	case <-done:
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (db.Client, error) {
	if cfg.Store.Backend == config.StoreRedis {
		return redis.NewRedisClient(ctx, cfg.Store.RedisURL, "linkguard")
	}
	workDir, err := infra.EnsureWorkDir(cfg.DotPath)
	if err != nil {
		return nil, err
	}
	return sqlite.NewSQLiteClient(ctx, workDir, "linkguard.db")
}

// poll feeds updates to the processor until ctx is done, reconnecting after
// polling failures from the last confirmed offset.
func poll(ctx context.Context, botAPI *api.BotAPI, processor *bot.UpdateProcessor) {
	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = pollTimeout
	updateConfig.AllowedUpdates = []string{"message", "edited_message", "chat_member", "my_chat_member"}

	for {
		updates, errs := bot.GetUpdatesChans(ctx, botAPI, updateConfig)
		err := consume(ctx, processor, updates, errs, &updateConfig.Offset)
		if ctx.Err() != nil {
			return
		}
		log.WithField("error", err.Error()).Warnln("get updates failed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartBackoff):
		}
	}
}

func consume(ctx context.Context, processor *bot.UpdateProcessor, updates api.UpdatesChannel, errs chan error, offset *int) error {
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return errors.New("updates channel closed")
			}
			return err
		case update, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if update.UpdateID >= *offset {
				*offset = update.UpdateID + 1
			}
			err := infra.Safely(func() error {
				return processor.Process(ctx, &update)
			})
			if err != nil {
				log.WithField("error", err.Error()).Errorln("cant process update")
			}
		}
	}
}
