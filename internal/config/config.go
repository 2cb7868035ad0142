package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

const (
	MinMuteHours = 2
	MaxMuteHours = 168

	StoreSQLite = "sqlite"
	StoreRedis  = "redis"

	ScopeChat   = "chat"
	ScopeGlobal = "global"
)

type (
	Config struct {
		TelegramAPIToken string   `env:"TOKEN,required"`
		OperatorID       int64    `env:"OPERATOR_ID"`
		DefaultLanguage  string   `env:"LANG,default=en"`
		EnabledHandlers  []string `env:"HANDLERS,default=admin,moderation"`
		LogLevel         int      `env:"LOG_LEVEL,default=4"`
		DotPath          string   `env:"DOT_PATH,default=~/.linkguard"`
		MetricsAddr      string   `env:"METRICS_ADDR,default=:2112"`
		Store            Store
		Moderation       Moderation
		Broadcast        Broadcast
	}

	Store struct {
		Backend  string `env:"STORE,default=sqlite"`
		RedisURL string `env:"REDIS_URL,default=redis://localhost:6379/0"`
	}

	Moderation struct {
		WarnThreshold int    `env:"WARN_THRESHOLD,default=4"`
		WarnScope     string `env:"WARN_SCOPE,default=chat"`
		MuteHours     int    `env:"MUTE_HOURS,default=2"`
	}

	Broadcast struct {
		Workers        int           `env:"BROADCAST_WORKERS,default=8"`
		PruneTransient bool          `env:"BROADCAST_PRUNE_TRANSIENT,default=false"`
		SendRate       float64       `env:"SEND_RATE,default=25"`
		SendTimeout    time.Duration `env:"SEND_TIMEOUT,default=15s"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg, err := LoadWith(context.Background(), envconfig.OsLookuper())
		if err != nil {
			globalErr = err
			return
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

// LoadWith reads LG_ prefixed variables from the given lookuper and validates the result.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper("LG_", lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Moderation.WarnThreshold < 2 {
		return fmt.Errorf("warn threshold must be at least 2, got %d", c.Moderation.WarnThreshold)
	}
	if c.Moderation.MuteHours < MinMuteHours || c.Moderation.MuteHours > MaxMuteHours {
		return fmt.Errorf("mute hours must be within [%d, %d], got %d", MinMuteHours, MaxMuteHours, c.Moderation.MuteHours)
	}
	switch c.Moderation.WarnScope {
	case ScopeChat, ScopeGlobal:
	default:
		return fmt.Errorf("unknown warn scope %q", c.Moderation.WarnScope)
	}
	switch c.Store.Backend {
	case StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Broadcast.Workers < 1 {
		c.Broadcast.Workers = 1
	}
	if c.Broadcast.SendRate <= 0 {
		return fmt.Errorf("send rate must be positive, got %v", c.Broadcast.SendRate)
	}
	return nil
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
