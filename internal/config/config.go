// Package config содержит логику чтения конфигурации сервиса платёжного реестра.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress             string        `env:"RUN_ADDRESS"`
	DatabaseURI            string        `env:"DATABASE_URI"`
	AuthSecret             string        `env:"AUTH_SECRET"`
	AdminPoolID            string        `env:"ADMIN_POOL_ID"`
	RateLimitSweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL"`
	RateLimitBucketMaxAge  time.Duration `env:"RATE_LIMIT_BUCKET_MAX_AGE"`
	NotificationQueueSize  int           `env:"NOTIFICATION_QUEUE_SIZE"`
	OverdueScanInterval    time.Duration `env:"OVERDUE_SCAN_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for actor cookie verification")
	flag.StringVar(&cfg.AdminPoolID, "p", "admin-pool", "recipient id for admin pool notifications")
	flag.DurationVar(&cfg.RateLimitSweepInterval, "sweep-interval", time.Minute, "interval between idle bucket sweeps")
	flag.DurationVar(&cfg.RateLimitBucketMaxAge, "bucket-max-age", 10*time.Minute, "idle age after which a rate-limit bucket is removed")
	flag.IntVar(&cfg.NotificationQueueSize, "queue-size", 256, "notification event queue size")
	flag.DurationVar(&cfg.OverdueScanInterval, "overdue-interval", time.Hour, "interval between overdue loan scans")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.AuthSecret != "" {
		cfg.AuthSecret = envCfg.AuthSecret
	}
	if envCfg.AdminPoolID != "" {
		cfg.AdminPoolID = envCfg.AdminPoolID
	}
	if envCfg.RateLimitSweepInterval != 0 {
		cfg.RateLimitSweepInterval = envCfg.RateLimitSweepInterval
	}
	if envCfg.RateLimitBucketMaxAge != 0 {
		cfg.RateLimitBucketMaxAge = envCfg.RateLimitBucketMaxAge
	}
	if envCfg.NotificationQueueSize != 0 {
		cfg.NotificationQueueSize = envCfg.NotificationQueueSize
	}
	if envCfg.OverdueScanInterval != 0 {
		cfg.OverdueScanInterval = envCfg.OverdueScanInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
