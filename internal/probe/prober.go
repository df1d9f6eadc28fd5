// Package probe implements the Reachability Prober (spec §4.B): a
// best-effort ICMP sweep over every registered device, run on a fixed
// interval, whose results roll into a bounded per-address window and are
// persisted as aggregates independent of whether any Homebase Link is open.
package probe

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/go-ping/ping"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nixfleet-labs/homebase-gateway/internal/config"
	"github.com/nixfleet-labs/homebase-gateway/internal/store"
)

// AddressLister supplies the set of addresses to probe each cycle. The
// Device Registry satisfies this without the prober importing its package
// directly, keeping the dependency one-way.
type AddressLister interface {
	Addresses() []string
}

// sample is one probe outcome: rttMillis is only meaningful when ok.
type sample struct {
	ok        bool
	rttMillis int
}

// window is one address's bounded history of recent probe outcomes (spec
// §4.B "100-sample rolling window").
type window struct {
	mu      sync.Mutex
	samples []sample
	size    int
}

func newWindow(size int) *window {
	return &window{size: size}
}

// record folds in the latest sample and returns the window's current
// average round-trip time (over successful samples only, 0 if none) and
// success fraction, rounded to two decimals (spec §4.B "ping_success").
func (w *window) record(s sample) (avgMillis int, success float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, s)
	if len(w.samples) > w.size {
		w.samples = w.samples[len(w.samples)-w.size:]
	}

	hits, rttSum := 0, 0
	for _, s := range w.samples {
		if s.ok {
			hits++
			rttSum += s.rttMillis
		}
	}
	success = math.Round(float64(hits)/float64(len(w.samples))*100) / 100
	if hits > 0 {
		avgMillis = rttSum / hits
	}
	return avgMillis, success
}

// Prober runs the periodic reachability sweep.
type Prober struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   store.Store
	lister  AddressLister
	windows sync.Map // addr -> *window
}

// New constructs a Prober. lister supplies the address set at each cycle so
// newly added devices are picked up without a restart.
func New(cfg *config.Config, log zerolog.Logger, st store.Store, lister AddressLister) *Prober {
	return &Prober{
		cfg:    cfg,
		log:    log.With().Str("component", "prober").Logger(),
		store:  st,
		lister: lister,
	}
}

// Run loops forever on cfg.ProbeInterval until ctx is done. A panic in one
// cycle is caught and logged so the scheduler never stops (spec §7
// "prober failures never interrupt scheduling").
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.safeCycle(ctx)
		}
	}
}

func (p *Prober) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("probe cycle panicked, continuing on next tick")
		}
	}()
	p.cycle(ctx)
}

// cycle probes every known address concurrently, bounded by an errgroup so
// one address's failure never cancels the others (spec §4.B "failure
// isolation").
func (p *Prober) cycle(ctx context.Context) {
	addrs := p.lister.Addresses()
	if len(addrs) == 0 {
		return
	}

	var g errgroup.Group
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			p.probeOne(ctx, addr)
			return nil // a probe failure is data, not a group error
		})
	}
	_ = g.Wait()
}

func (p *Prober) probeOne(ctx context.Context, addr string) {
	now := time.Now()
	s := p.ping(addr)

	w, _ := p.windows.LoadOrStore(addr, newWindow(p.cfg.ProbeWindow))
	avgMillis, success := w.(*window).record(s)

	if err := p.store.UpsertProbeAggregates(ctx, addr, avgMillis, success, now); err != nil {
		p.log.Error().Err(err).Str("addr", addr).Msg("failed to persist probe aggregates")
	}
	if s.ok {
		if err := p.store.MarkLastPing(ctx, addr, now); err != nil {
			p.log.Error().Err(err).Str("addr", addr).Msg("failed to update last_ping")
		}
	}
}

// ping sends one ICMP echo to addr, bounded by cfg.ProbeTimeout.
func (p *Prober) ping(addr string) sample {
	pinger, err := ping.NewPinger(addr)
	if err != nil {
		p.log.Debug().Err(err).Str("addr", addr).Msg("failed to construct pinger")
		return sample{ok: false}
	}
	pinger.Count = 1
	pinger.Timeout = p.cfg.ProbeTimeout
	pinger.SetPrivileged(true)

	if err := pinger.Run(); err != nil {
		p.log.Debug().Err(err).Str("addr", addr).Msg("ping failed")
		return sample{ok: false}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return sample{ok: false}
	}
	return sample{ok: true, rttMillis: int(stats.AvgRtt.Milliseconds())}
}
