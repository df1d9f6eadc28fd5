package link

import (
	"testing"
	"time"

	"github.com/nixfleet-labs/homebase-gateway/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.FastRetryWindow = 100 * time.Millisecond
	cfg.FastRetryBase = 20 * time.Millisecond
	cfg.FastRetryJitter = 10 * time.Millisecond
	cfg.SlowBaseBackoff = 150 * time.Millisecond
	cfg.SlowMaxBackoff = 1200 * time.Millisecond
	cfg.SlowJitter = 20 * time.Millisecond
	return cfg
}

func TestReconnectPolicy_FastPhaseStaysWithinBaseAndJitter(t *testing.T) {
	cfg := testConfig()
	p := newReconnectPolicy(cfg)

	d := p.NextDelay()
	if d < cfg.FastRetryBase || d >= cfg.FastRetryBase+cfg.FastRetryJitter {
		t.Errorf("fast-phase delay %v outside [%v, %v)", d, cfg.FastRetryBase, cfg.FastRetryBase+cfg.FastRetryJitter)
	}
}

func TestReconnectPolicy_TransitionsToSlowPhaseAfterWindow(t *testing.T) {
	cfg := testConfig()
	p := newReconnectPolicy(cfg)

	p.firstDisconnectAt = time.Now().Add(-cfg.FastRetryWindow - time.Millisecond)

	d := p.NextDelay()
	if d < cfg.SlowBaseBackoff || d >= cfg.SlowBaseBackoff+cfg.SlowJitter {
		t.Errorf("first slow-phase delay %v outside [%v, %v)", d, cfg.SlowBaseBackoff, cfg.SlowBaseBackoff+cfg.SlowJitter)
	}
}

func TestReconnectPolicy_SlowPhaseDoublesAndCaps(t *testing.T) {
	cfg := testConfig()
	p := newReconnectPolicy(cfg)
	p.firstDisconnectAt = time.Now().Add(-cfg.FastRetryWindow - time.Millisecond)

	_ = p.NextDelay() // first slow attempt, ~150ms
	second := p.NextDelay()
	if second < 2*cfg.SlowBaseBackoff || second >= 2*cfg.SlowBaseBackoff+cfg.SlowJitter {
		t.Errorf("second slow-phase delay %v outside [%v, %v)", second, 2*cfg.SlowBaseBackoff, 2*cfg.SlowBaseBackoff+cfg.SlowJitter)
	}

	for i := 0; i < 10; i++ {
		d := p.NextDelay()
		if d >= cfg.SlowMaxBackoff+cfg.SlowJitter {
			t.Errorf("delay %v exceeded cap+jitter %v", d, cfg.SlowMaxBackoff+cfg.SlowJitter)
		}
	}
}

func TestReconnectPolicy_ResetReturnsToFastPhase(t *testing.T) {
	cfg := testConfig()
	p := newReconnectPolicy(cfg)
	p.firstDisconnectAt = time.Now().Add(-cfg.FastRetryWindow - time.Millisecond)
	_ = p.NextDelay()

	p.Reset()

	d := p.NextDelay()
	if d >= cfg.FastRetryBase+cfg.FastRetryJitter {
		t.Errorf("delay %v after Reset should be back in the fast phase", d)
	}
}
