package register

import "time"

// Config holds register access configuration.
type Config struct {
	// ReadyTimeout bounds the wait after a status write, security erase
	// or security program
	ReadyTimeout time.Duration
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		ReadyTimeout: 2 * time.Second,
	}
}

// Option is a functional option for register access.
type Option func(*Config)

// WithReadyTimeout sets the wait bound after writes.
//
// Example:
//
//	session := register.NewStatusSession(bus, chip, drv,
//	    register.WithReadyTimeout(500*time.Millisecond),
//	)
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ReadyTimeout = d
		}
	}
}
