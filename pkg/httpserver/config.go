package httpserver

import "time"

// Config is loaded from HTTP_* variables. Timeouts of zero leave the
// net/http default in place.
type Config struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080" validate:"required"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s" validate:"gte=0"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"2m" validate:"gte=0"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s" validate:"gte=0"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s" validate:"gt=0"`
}

// AtLeastWriteTimeout returns a copy whose WriteTimeout covers d. A zero
// WriteTimeout means no deadline and is left as is.
func (c Config) AtLeastWriteTimeout(d time.Duration) (Config, bool) {
	if c.WriteTimeout == 0 || c.WriteTimeout >= d {
		return c, false
	}
	c.WriteTimeout = d
	return c, true
}
