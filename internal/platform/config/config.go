// Package config loads process configuration from the environment. main calls
// Load once and hands sub-structs to the packages that need them.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full engine configuration.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// AdminToken guards the /admin endpoints; empty disables them entirely.
	AdminToken string `env:"ADMIN_TOKEN"`

	// DatabaseURL selects the Postgres stores; empty runs on in-memory
	// stores, which is only useful for local development.
	DatabaseURL string `env:"DATABASE_URL"`

	Redis RedisConfig `envPrefix:"REDIS_"`
	Kafka KafkaConfig `envPrefix:"KAFKA_"`

	// ReserveAccountID is the citizen id of the system reserve that funds
	// awards, distribution slices and UBI payouts.
	ReserveAccountID string `env:"RESERVE_ACCOUNT_ID"`

	// TransferFeeBps applies a basis-point fee on plain transfers when a
	// collector is configured. Awards, distributions and UBI never pay fees.
	TransferFeeBps  int64  `env:"TRANSFER_FEE_BPS" envDefault:"0"`
	FeeCollectorID  string `env:"FEE_COLLECTOR_ID"`
	UBIWeeklyAmount string `env:"UBI_WEEKLY_AMOUNT"`
	UBIWorkers      int    `env:"UBI_WORKERS" envDefault:"8"`

	// Anchor gateway; both empty disables publishing and anchors are
	// recorded as skipped.
	AnchorGatewayURL      string `env:"ANCHOR_GATEWAY_URL"`
	AnchorContractAddress string `env:"ANCHOR_CONTRACT_ADDRESS"`

	Scheduler SchedulerConfig `envPrefix:"SCHEDULER_"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// RedisConfig configures the optional wallet balance mirror.
type RedisConfig struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
	MirrorTTL    time.Duration `env:"MIRROR_TTL" envDefault:"24h"`
}

// KafkaConfig configures the optional audit event sink.
type KafkaConfig struct {
	Brokers    []string `env:"BROKERS"`
	AuditTopic string   `env:"AUDIT_TOPIC" envDefault:"khural.audit"`
}

// SchedulerConfig holds the cron expressions for the weekly jobs.
type SchedulerConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`

	// Monday 00:01 UTC, right after the paid week closes.
	UBICron string `env:"UBI_CRON" envDefault:"1 0 * * 1"`

	// Sunday midnight UTC.
	AnchorCron string `env:"ANCHOR_CRON" envDefault:"0 0 * * 0"`
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
