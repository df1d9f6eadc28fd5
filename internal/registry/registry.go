// Package registry implements the Device Registry (spec §4.A): the owning
// map from device address to its supervised Homebase Link, loaded from the
// store at startup and grown as AddDevice intents arrive.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nixfleet-labs/homebase-gateway/internal/broadcast"
	"github.com/nixfleet-labs/homebase-gateway/internal/config"
	"github.com/nixfleet-labs/homebase-gateway/internal/link"
	"github.com/nixfleet-labs/homebase-gateway/internal/status"
	"github.com/nixfleet-labs/homebase-gateway/internal/store"
)

// Registry owns every Link for the lifetime of the gateway process.
type Registry struct {
	cfg         *config.Config
	log         zerolog.Logger
	store       store.Store
	cache       *status.Cache
	broadcaster *broadcast.Broadcaster
	ctx         context.Context

	mu    sync.Mutex
	links map[string]*link.Link
}

// New creates an empty Registry. Call LoadInitial to seed it from the store.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, cache *status.Cache, broadcaster *broadcast.Broadcaster) *Registry {
	return &Registry{
		cfg:         cfg,
		log:         log.With().Str("component", "registry").Logger(),
		store:       st,
		cache:       cache,
		broadcaster: broadcaster,
		ctx:         ctx,
		links:       make(map[string]*link.Link),
	}
}

// LoadInitial starts a Link for every non-hidden device address already in
// the store (spec §4.A "On startup").
func (r *Registry) LoadInitial() error {
	devices, err := r.store.LoadDeviceAddresses(r.ctx)
	if err != nil {
		return fmt.Errorf("registry: loading device addresses: %w", err)
	}
	for _, d := range devices {
		if d.Hidden {
			continue
		}
		if _, err := r.Ensure(d.Address); err != nil {
			r.log.Warn().Err(err).Str("addr", d.Address).Msg("refused to start link on startup")
		}
	}
	return nil
}

// Ensure returns the Link for addr, starting one if it doesn't exist yet.
// Refuses addresses outside the configured allow-list (spec §4.A, §7
// "Device admission control").
func (r *Registry) Ensure(addr string) (*link.Link, error) {
	if !r.cfg.Allowed(addr) {
		return nil, fmt.Errorf("registry: address %q is not in the allow-list", addr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.links[addr]; ok {
		return l, nil
	}

	l := link.New(addr, r.cfg, r.log, r.cache, r.broadcaster, r.cfg.SubscriptionCatalog)
	r.links[addr] = l
	l.Start(r.ctx)
	r.log.Info().Str("addr", addr).Msg("started homebase link")
	return l, nil
}

// Add registers a brand new device (browser AddDevice intent or the
// `gateway add-device` CLI path): persists it, then starts its Link.
func (r *Registry) Add(addr, displayName string) (*link.Link, error) {
	if err := r.store.AddDevice(r.ctx, addr, displayName); err != nil {
		return nil, fmt.Errorf("registry: persisting new device: %w", err)
	}
	return r.Ensure(addr)
}

// Get returns the Link for addr, if one is already running.
func (r *Registry) Get(addr string) (*link.Link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[addr]
	return l, ok
}

// Addresses returns every address currently registered.
func (r *Registry) Addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.links))
	for a := range r.links {
		out = append(out, a)
	}
	return out
}

// StopAll tears down every Link, for graceful shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	links := make([]*link.Link, 0, len(r.links))
	for _, l := range r.links {
		links = append(links, l)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, l := range links {
		wg.Add(1)
		go func(l *link.Link) {
			defer wg.Done()
			l.Stop()
		}(l)
	}
	wg.Wait()
}
