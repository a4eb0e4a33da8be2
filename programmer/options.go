package programmer

import (
	"time"

	"github.com/moffa90/go-chipprog/chipdb"
)

// Config holds the engine configuration.
type Config struct {
	// ProgressCallback is called during operations to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// Database resolves detected identities; nil selects the built-in catalog
	Database *chipdb.Database

	// ReadyTimeout bounds the wait after a page program or register write
	ReadyTimeout time.Duration

	// EraseTimeout bounds the wait after one block erase
	EraseTimeout time.Duration

	// ChipEraseTimeout bounds the wait after a whole-chip erase
	ChipEraseTimeout time.Duration

	// PollInterval is the delay between busy-flag polls
	PollInterval time.Duration

	// VerifyAfterProgram reads the range back after programming
	VerifyAfterProgram bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		ReadyTimeout:     time.Second,
		EraseTimeout:     3 * time.Second,
		ChipEraseTimeout: 200 * time.Second,
		PollInterval:     time.Millisecond,
	}
}

// Option is a functional option for configuring the Engine.
type Option func(*Config)

// WithProgressCallback sets a callback function to track progress.
//
// Example:
//
//	engine := programmer.New(opener,
//	    programmer.WithProgressCallback(func(p programmer.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the engine operations.
//
// Example:
//
//	engine := programmer.New(opener, programmer.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithDatabase sets the chip database used by Detect.
//
// Example:
//
//	db, _ := chipdb.LoadFile("chips.yaml")
//	engine := programmer.New(opener, programmer.WithDatabase(db))
func WithDatabase(db *chipdb.Database) Option {
	return func(c *Config) {
		c.Database = db
	}
}

// WithReadyTimeout sets the wait bound after a page program or register write.
//
// Example:
//
//	engine := programmer.New(opener, programmer.WithReadyTimeout(500*time.Millisecond))
func WithReadyTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ReadyTimeout = timeout
		}
	}
}

// WithEraseTimeout sets the wait bounds after a block erase and after a
// chip erase.
//
// Example:
//
//	engine := programmer.New(opener, programmer.WithEraseTimeout(2*time.Second, time.Minute))
func WithEraseTimeout(block, chip time.Duration) Option {
	return func(c *Config) {
		if block > 0 {
			c.EraseTimeout = block
		}
		if chip > 0 {
			c.ChipEraseTimeout = chip
		}
	}
}

// WithPollInterval sets the delay between busy-flag polls.
//
// Example:
//
//	engine := programmer.New(opener, programmer.WithPollInterval(100*time.Microsecond))
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval >= 0 {
			c.PollInterval = interval
		}
	}
}

// WithVerifyAfterProgram enables or disables reading the range back after
// programming. Default is false.
//
// Example:
//
//	engine := programmer.New(opener, programmer.WithVerifyAfterProgram(true))
func WithVerifyAfterProgram(verify bool) Option {
	return func(c *Config) {
		c.VerifyAfterProgram = verify
	}
}
