package session

import "time"

// Config defines setup channel timing.
type Config struct {
	// ResponseDelay is how long a buffered response stays invisible to reads.
	// Zero makes responses readable immediately.
	ResponseDelay time.Duration
	// TurnTimeout bounds how long a delegated plugin may go without responding
	// before the session is force-terminated. Zero disables the timeout.
	TurnTimeout time.Duration
}

// DefaultConfig returns the reference channel timing.
func DefaultConfig() Config {
	return Config{
		ResponseDelay: 100 * time.Millisecond,
		TurnTimeout:   30 * time.Second,
	}
}

// WithDefaults replaces negative durations with defaults.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ResponseDelay < 0 {
		c.ResponseDelay = def.ResponseDelay
	}
	if c.TurnTimeout < 0 {
		c.TurnTimeout = def.TurnTimeout
	}
	return c
}
