package domain

import "time"

// FeedConfig is the operational contract of one feed connector.
type FeedConfig struct {
	ID              string        `json:"id"`
	URL             string        `json:"url"`
	APIKey          string        `json:"-"`
	PollingInterval time.Duration `json:"polling_interval"` // also the minimum inter-sync gap
	Timeout         time.Duration `json:"timeout"`
	RetryAttempts   int           `json:"retry_attempts"`
	RetryDelay      time.Duration `json:"retry_delay"`
	MaxErrors       int           `json:"max_errors"` // consecutive failures before the breaker opens
	Enabled         bool          `json:"enabled"`
	FilterTags      []string      `json:"filter_tags,omitempty"` // drop indicators missing all of these
}

// Normalize fills defaults for unset fields.
func (c *FeedConfig) Normalize() {
	if c.PollingInterval <= 0 {
		c.PollingInterval = 15 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 3
	}
}
