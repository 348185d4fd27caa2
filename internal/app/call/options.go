package call

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNegotiationTimeout  = 30 * time.Second
	DefaultSendRetries         = 1
	DefaultSendTimeout         = 5 * time.Second
	DefaultEarlyCandidateLimit = 32
)

// Config holds the implementation-chosen constants of a call session.
type Config struct {
	// NegotiationTimeout bounds the time from creation to CONNECTED.
	NegotiationTimeout time.Duration
	// SendRetries is the number of immediate resends of a failed Offer/Answer/End.
	// Zero selects the default, negative disables resends.
	SendRetries int
	SendTimeout time.Duration
	// EarlyCandidateLimit caps candidates kept per party before its Offer arrives.
	EarlyCandidateLimit int
}

func (c Config) withDefaults() Config {
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = DefaultNegotiationTimeout
	}
	switch {
	case c.SendRetries == 0:
		c.SendRetries = DefaultSendRetries
	case c.SendRetries < 0:
		// negative disables resends
		c.SendRetries = 0
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.EarlyCandidateLimit <= 0 {
		c.EarlyCandidateLimit = DefaultEarlyCandidateLimit
	}
	return c
}

type Option func(*Host)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(h *Host) { h.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

func defaultLogger() zerolog.Logger {
	return log.Logger
}
