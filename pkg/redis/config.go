package redis

import "time"

// Config is loaded from REDIS_* variables. An empty REDIS_URL disables Redis.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL"` // redis://:password@localhost:6379/0
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	DedupeTTL      time.Duration `env:"REDIS_DEDUPE_TTL" envDefault:"72h" validate:"gt=0"`
	DedupePrefix   string        `env:"REDIS_DEDUPE_PREFIX" envDefault:"subsync:event:"`
}

func (c Config) Enabled() bool {
	return c.ConnectionURL != ""
}
