package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	HistorySize    int
	Keepalive      time.Duration
	StatusInterval time.Duration
	JournalLimit   int
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		HistorySize:    8,
		Keepalive:      30 * time.Second,
		StatusInterval: 2 * time.Second,
		JournalLimit:   50,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.Keepalive <= 0 {
		c.Keepalive = def.Keepalive
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.JournalLimit <= 0 {
		c.JournalLimit = def.JournalLimit
	}
	return c
}
