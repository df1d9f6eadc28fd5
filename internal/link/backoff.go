package link

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nixfleet-labs/homebase-gateway/internal/config"
)

// reconnectPolicy implements the two-phase back-off schedule of spec §4.C:
// a fixed-delay fast retry for the first fast_retry_window_ms after the
// first disconnect, then a capped exponential slow back-off, both with
// additive uniform jitter. The slow phase's doubling-with-cap arithmetic is
// delegated to cenkalti/backoff's ExponentialBackOff (grounded on its
// presence in the teacher's own dependency graph); jitter is applied on top
// rather than through the library's own RandomizationFactor, since the
// spec's envelope is additive-uniform, not multiplicative.
type reconnectPolicy struct {
	cfg *config.Config

	mu                sync.Mutex
	firstDisconnectAt time.Time
	inSlowPhase       bool
	slow              *backoff.ExponentialBackOff
}

func newReconnectPolicy(cfg *config.Config) *reconnectPolicy {
	return &reconnectPolicy{cfg: cfg}
}

// Reset is called on every successful Open, clearing the failure counters
// and phase marker (spec §4.C).
func (p *reconnectPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.firstDisconnectAt = time.Time{}
	p.inSlowPhase = false
	p.slow = nil
}

// NextDelay returns the delay to wait before the next reconnect attempt.
func (p *reconnectPolicy) NextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.firstDisconnectAt.IsZero() {
		p.firstDisconnectAt = now
	}

	if !p.inSlowPhase && now.Sub(p.firstDisconnectAt) < p.cfg.FastRetryWindow {
		return p.cfg.FastRetryBase + uniformJitter(p.cfg.FastRetryJitter)
	}

	if !p.inSlowPhase {
		p.inSlowPhase = true
		p.slow = backoff.NewExponentialBackOff()
		p.slow.InitialInterval = p.cfg.SlowBaseBackoff
		p.slow.Multiplier = 2
		p.slow.MaxInterval = p.cfg.SlowMaxBackoff
		p.slow.RandomizationFactor = 0
		p.slow.MaxElapsedTime = 0 // never give up
		p.slow.Reset()            // restart from InitialInterval, not the library default
	}

	base := p.slow.NextBackOff()
	if base == backoff.Stop {
		base = p.cfg.SlowMaxBackoff
	}
	return base + uniformJitter(p.cfg.SlowJitter)
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
