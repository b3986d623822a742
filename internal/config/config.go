package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN         string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL         string `env:"RABBITMQ_URL,required=true"`
	RedisURL            string `env:"REDIS_URL,required=true"`
	ContactDirectoryURL string `env:"CONTACT_DIRECTORY_URL,required=true"`
	NotifyWebhookURL    string `env:"NOTIFY_WEBHOOK_URL,required=true"`
	ClaimRatePerSec     int    `env:"CLAIM_RATE_PER_SEC,default=50"`
	// Zero disables the lease sweeper; claims are then held until a
	// result arrives.
	ClaimLeaseTTLSeconds     int    `env:"CLAIM_LEASE_TTL_SECONDS,default=0"`
	LeaseSweepIntervalSecond int    `env:"LEASE_SWEEP_INTERVAL_SECONDS,default=30"`
	APIPort                  int    `env:"API_PORT,default=8080"`
	LogLevel                 string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
