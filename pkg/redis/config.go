package redis

import "time"

// Config configures the Redis connection and the subscription lock.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"` // e.g. "redis://:password@localhost:6379/0"
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`

	LockPrefix       string        `env:"REDIS_LOCK_PREFIX" envDefault:"subkit:lock:"`
	LockPollInterval time.Duration `env:"REDIS_LOCK_POLL_INTERVAL" envDefault:"50ms"`
}
