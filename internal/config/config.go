package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Db struct {
	Dialect        string `envconfig:"DB_DIALECT" default:"sqlite"`
	Source         string `envconfig:"DB_NAME" default:"weather_agent.db"`
	MigrationsPath string `envconfig:"DB_MIGRATIONS_DIR" default:"./migrations"`
}

type Redis struct {
	Addr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password  string        `envconfig:"REDIS_PASSWORD" default:""`
	DB        int           `envconfig:"REDIS_DB" default:"0"`
	OpTimeout time.Duration `envconfig:"REDIS_OP_TIMEOUT" default:"5s"`
}

type Queue struct {
	Name         string        `envconfig:"QUEUE_NAME" default:"weather-email-queue"`
	PollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"15s"`
	PopTimeout   time.Duration `envconfig:"QUEUE_POP_TIMEOUT" default:"5s"`
}

type Scheduler struct {
	DefaultCronPattern string        `envconfig:"SCHEDULER_DEFAULT_CRON" default:"0 17 * * *"`
	RetryAttempts      uint64        `envconfig:"SCHEDULER_RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay     time.Duration `envconfig:"SCHEDULER_RETRY_BASE_DELAY" default:"250ms"`
}

type Breaker struct {
	Interval     time.Duration `envconfig:"BREAKER_INTERVAL" default:"60s"`
	Timeout      time.Duration `envconfig:"BREAKER_TIMEOUT" default:"30s"`
	FailureCount uint32        `envconfig:"BREAKER_FAILURES" default:"5"`
}

type Config struct {
	LogFilePath string `envconfig:"LOG_FILE_PATH" default:"logs/weather_agent.log"`

	DB        Db
	Redis     Redis
	Queue     Queue
	Scheduler Scheduler
	Breaker   Breaker
}

func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
