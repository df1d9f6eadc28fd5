package link

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nixfleet-labs/homebase-gateway/internal/config"
	"github.com/nixfleet-labs/homebase-gateway/internal/status"
)

// newTestLink builds a Link with its inbox loop running but never connected,
// enough to exercise the request/queue/timeout machinery in isolation.
func newTestLink(t *testing.T, cfg *config.Config) *Link {
	t.Helper()
	log := zerolog.New(io.Discard)
	l := New("10.0.0.1", cfg, log, status.New(log, nil), nil, DefaultCatalog)
	ctx, cancel := context.WithCancel(context.Background())
	l.ctx = ctx
	t.Cleanup(cancel)
	go l.run()
	return l
}

func TestEval_TimesOutWithoutAConnection(t *testing.T) {
	cfg := config.Default()
	cfg.RequestDefaultTimeout = 20 * time.Millisecond
	cfg.MaxInFlight = 4
	cfg.MaxQueue = 4
	l := newTestLink(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := l.Eval(ctx, "pump_voltage", 0)
	if err == nil {
		t.Fatal("expected a timeout error with no live connection")
	}
}

func TestEval_QueuesBeyondInFlightCapThenRejectsBeyondQueueCap(t *testing.T) {
	cfg := config.Default()
	cfg.RequestDefaultTimeout = 2 * time.Second
	cfg.MaxInFlight = 1
	cfg.MaxQueue = 1
	l := newTestLink(t, cfg)

	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			_, err := l.Eval(ctx, "pump_voltage", 0)
			results <- err
		}()
		time.Sleep(20 * time.Millisecond) // let each Eval's submit land before starting the next
	}

	var queueFull int
	for i := 0; i < 3; i++ {
		err := <-results
		if err == ErrQueueFull {
			queueFull++
		}
	}

	if queueFull != 1 {
		t.Errorf("queueFull rejections = %d, want exactly 1 (1 in-flight + 1 queued + 1 rejected)", queueFull)
	}
}
