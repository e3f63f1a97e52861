// Package retry implements the attempt ceiling and jittered exponential
// backoff applied to transient fetch failures.
package retry

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Config tunes the policy.
type Config struct {
	Ceiling   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Policy decides when a URL is exhausted and how long to wait before re-enqueueing it.
type Policy struct {
	ceiling   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

// New builds a policy, filling zero values with defaults.
func New(cfg Config) *Policy {
	p := &Policy{
		ceiling:   cfg.Ceiling,
		baseDelay: cfg.BaseDelay,
		maxDelay:  cfg.MaxDelay,
	}
	if p.ceiling <= 0 {
		p.ceiling = 3
	}
	if p.maxDelay <= 0 {
		p.maxDelay = 30 * time.Second
	}
	return p
}

// Ceiling returns the number of failed attempts that makes a URL permanently failed.
func (p *Policy) Ceiling() int {
	return p.ceiling
}

// Exhausted reports whether a URL with the given failed attempt count must move to Failed.
func (p *Policy) Exhausted(attempts int) bool {
	return attempts >= p.ceiling
}

// Backoff returns the wait before the next attempt. attempt is the number of
// failures recorded so far, starting at 1.
func (p *Policy) Backoff(attempt int) time.Duration {
	if p.baseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
