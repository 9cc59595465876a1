package main

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/goforj/feedcache"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type config struct {
	Feed feedcache.Config

	PushDriver         string `env:"FEED_PUSH_DRIVER" envDefault:"none"`
	NATSURL            string `env:"FEED_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSSubjectPrefix  string `env:"FEED_NATS_SUBJECT_PREFIX" envDefault:"feed"`
	RedisAddr          string `env:"FEED_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisChannelPrefix string `env:"FEED_REDIS_CHANNEL_PREFIX" envDefault:"feed"`
	SQLDriver          string `env:"FEED_SQL_DRIVER" envDefault:"sqlite"`
	SQLDSN             string `env:"FEED_SQL_DSN" envDefault:"file:feedwatch.db"`
	LogLevel           string `env:"FEED_LOG_LEVEL" envDefault:"info"`
	LogDevelopment     bool   `env:"FEED_LOG_DEVELOPMENT"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.PushDriver = strings.ToLower(strings.TrimSpace(cfg.PushDriver))
	switch cfg.PushDriver {
	case "", "none":
		cfg.PushDriver = "none"
	case "nats", "redis":
	default:
		return config{}, fmt.Errorf("unknown push driver %q", cfg.PushDriver)
	}
	return cfg, nil
}

func newLogger(cfg config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	var zcfg zap.Config
	if cfg.LogDevelopment {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
