package agent

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blinky-mon/blinky/internal/config"
)

// ReconnectPolicy decides when the collection loop may try Connect again.
// Delays grow as initial_delay * multiplier^n, capped at max_delay, with no
// jitter. After max_attempts consecutive failures (0 = unlimited) push is
// abandoned until restart. With reconnection disabled every tick may try,
// and the delay never grows.
type ReconnectPolicy struct {
	enabled     bool
	maxAttempts int
	b           *backoff.ExponentialBackOff

	failures  int
	next      time.Time
	exhausted bool
}

// NewReconnectPolicy builds a policy from the collector.reconnect section.
func NewReconnectPolicy(cfg config.ReconnectConfig) *ReconnectPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(cfg.InitialDelay) * time.Second
	b.MaxInterval = time.Duration(cfg.MaxDelay) * time.Second
	b.Multiplier = cfg.BackoffMultiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return &ReconnectPolicy{
		enabled:     cfg.Enabled,
		maxAttempts: cfg.MaxAttempts,
		b:           b,
	}
}

// Ready reports whether a connect attempt is due at now.
func (p *ReconnectPolicy) Ready(now time.Time) bool {
	if p.exhausted {
		return false
	}
	return !now.Before(p.next)
}

// Failed records a failed attempt at now and returns the delay before the
// next one. The second result is false once attempts are exhausted.
func (p *ReconnectPolicy) Failed(now time.Time) (time.Duration, bool) {
	p.failures++
	if !p.enabled {
		p.next = now
		return 0, true
	}
	if p.maxAttempts > 0 && p.failures >= p.maxAttempts {
		p.exhausted = true
		return 0, false
	}
	d := p.b.NextBackOff()
	if d == backoff.Stop {
		d = p.b.MaxInterval
	}
	p.next = now.Add(d)
	return d, true
}

// Succeeded resets the curve after a successful connect.
func (p *ReconnectPolicy) Succeeded() {
	p.failures = 0
	p.next = time.Time{}
	p.b.Reset()
}

// Exhausted reports whether push has been given up.
func (p *ReconnectPolicy) Exhausted() bool { return p.exhausted }

// Failures is the number of consecutive failed attempts.
func (p *ReconnectPolicy) Failures() int { return p.failures }
