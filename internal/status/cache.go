// Package status implements the process-wide Status Cache & Dedupe (spec
// §4.E, §4.G): a single owner for three distinct keyed collections — Status
// entries, CommStatus entries, and PerfStats entries (spec §4.F gives each
// its own composite key) — plus the snapshot arrays used to seed new
// browser connections with all three.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nixfleet-labs/homebase-gateway/internal/store"
)

// Entry is one cached (host, source, type) -> value record.
type Entry struct {
	Host    string `json:"host"`
	Source  string `json:"source"`
	Type    string `json:"type"`
	Value   string `json:"value"`
	SysTime string `json:"sys_time"`
}

type key struct {
	host, source, typ string
}

// CommStatusEntry is one cached comm_status_changes record, keyed by
// device+address (spec §4.F).
type CommStatusEntry struct {
	Device  string `json:"device"`
	Address string `json:"address"`
	Value   string `json:"value"`
	SysTime string `json:"sys_time"`
}

type commKey struct {
	device, address string
}

// PerfStatsEntry is one cached perf_stats_changes record, keyed by
// host+type+subject+system+protocol+variant (spec §4.F).
type PerfStatsEntry struct {
	Host     string `json:"host"`
	Type     string `json:"type"`
	Subject  string `json:"subject"`
	System   string `json:"system"`
	Protocol string `json:"protocol"`
	Variant  string `json:"variant"`
	Value    string `json:"value"`
	SysTime  string `json:"sys_time"`
}

type perfKey struct {
	host, typ, subject, system, protocol, variant string
}

// ChangeHandler is notified once per accepted (non-duplicate) Status update.
type ChangeHandler func(Entry)

// CommStatusHandler is notified once per accepted CommStatus update.
type CommStatusHandler func(CommStatusEntry)

// PerfStatsHandler is notified once per accepted PerfStats update.
type PerfStatsHandler func(PerfStatsEntry)

// Cache is the single owner of all three maps and their snapshot slices
// (spec §9: prefer one owner over overlapping locks between Cache and the
// Notification Listener). The Notification Listener calls the Reconcile*
// methods rather than mutating a map directly.
type Cache struct {
	log    zerolog.Logger
	writer store.StatusWriter

	mu     sync.RWMutex
	values map[key]Entry

	commStatus map[commKey]CommStatusEntry
	perfStats  map[perfKey]PerfStatsEntry

	onChange     []ChangeHandler
	onCommChange []CommStatusHandler
	onPerfChange []PerfStatsHandler
}

// New creates an empty Cache. writer may be nil, in which case accepted
// Status updates are only cached and broadcast, never persisted (the
// "log-only" variant of spec §9's open question); pass a store.Store to
// make it the authoritative writer instead. CommStatus and PerfStats are
// never persisted by the Cache itself — both only ever arrive already
// written, via the Notification Listener.
func New(log zerolog.Logger, writer store.StatusWriter) *Cache {
	return &Cache{
		log:        log.With().Str("component", "status-cache").Logger(),
		writer:     writer,
		values:     make(map[key]Entry),
		commStatus: make(map[commKey]CommStatusEntry),
		perfStats:  make(map[perfKey]PerfStatsEntry),
	}
}

// OnChange registers a handler invoked synchronously for every accepted
// update, in the order updates are applied. The Broadcaster is the
// canonical subscriber (spec §4.E "emit a status-change event to the
// Broadcaster").
func (c *Cache) OnChange(h ChangeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, h)
}

// Apply updates the cache with a translated (host, source, type) -> value
// change, implementing the dedupe law of spec §8: a repeat of the current
// value is dropped with no broadcast, no log, and no write.
func (c *Cache) Apply(ctx context.Context, host, source, typ, value string) {
	k := key{host, source, typ}
	now := time.Now()

	c.mu.Lock()
	existing, ok := c.values[k]
	if ok && existing.Value == value {
		c.mu.Unlock()
		return
	}

	entry := Entry{Host: host, Source: source, Type: typ, Value: value, SysTime: now.UTC().Format(time.RFC3339)}
	c.values[k] = entry
	handlers := append([]ChangeHandler(nil), c.onChange...)
	c.mu.Unlock()

	if c.writer != nil {
		if err := c.writer.UpsertStatus(ctx, host, source, typ, value, now); err != nil {
			c.log.Error().Err(err).Str("host", host).Str("source", source).Str("type", typ).Msg("failed to persist status update")
		}
	} else {
		c.log.Debug().Str("host", host).Str("source", source).Str("type", typ).Str("value", value).Msg("simulated status upsert (no writer configured)")
	}

	for _, h := range handlers {
		h(entry)
	}
}

// Reconcile applies an update that originated from the Notification
// Listener rather than a Homebase Link. It shares Apply's dedupe and
// broadcast path but never re-persists the value (the store is already the
// source of truth for a notification-originated change).
func (c *Cache) Reconcile(host, source, typ, value string) {
	k := key{host, source, typ}
	now := time.Now()

	c.mu.Lock()
	existing, ok := c.values[k]
	if ok && existing.Value == value {
		c.mu.Unlock()
		return
	}
	entry := Entry{Host: host, Source: source, Type: typ, Value: value, SysTime: now.UTC().Format(time.RFC3339)}
	c.values[k] = entry
	handlers := append([]ChangeHandler(nil), c.onChange...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(entry)
	}
}

// Snapshot returns a copy of every cached entry, for seeding new browser
// connections. Invariant (spec §8): exactly one entry per (host, source,
// type), matching the cache.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.values))
	for _, e := range c.values {
		out = append(out, e)
	}
	return out
}

// Get returns the current value for a key, if present.
func (c *Cache) Get(host, source, typ string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.values[key{host, source, typ}]
	return e.Value, ok
}

// OnCommStatusChange registers a handler invoked for every accepted
// CommStatus update, so the Broadcaster can publish it under its own
// comm_status_changes event type (spec §4.F, §4.G).
func (c *Cache) OnCommStatusChange(h CommStatusHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCommChange = append(c.onCommChange, h)
}

// ReconcileCommStatus applies a comm_status_changes notification, keyed by
// device+address. Like Reconcile, it never persists: the store is already
// the source of truth for a notification-originated change.
func (c *Cache) ReconcileCommStatus(device, address, value string) {
	k := commKey{device, address}
	now := time.Now()

	c.mu.Lock()
	existing, ok := c.commStatus[k]
	if ok && existing.Value == value {
		c.mu.Unlock()
		return
	}
	entry := CommStatusEntry{Device: device, Address: address, Value: value, SysTime: now.UTC().Format(time.RFC3339)}
	c.commStatus[k] = entry
	handlers := append([]CommStatusHandler(nil), c.onCommChange...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(entry)
	}
}

// CommStatusSnapshot returns a copy of every cached CommStatus entry, for
// seeding new browser connections (spec §4.G, §6).
func (c *Cache) CommStatusSnapshot() []CommStatusEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CommStatusEntry, 0, len(c.commStatus))
	for _, e := range c.commStatus {
		out = append(out, e)
	}
	return out
}

// GetCommStatus returns the current value for a device+address key, if
// present.
func (c *Cache) GetCommStatus(device, address string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.commStatus[commKey{device, address}]
	return e.Value, ok
}

// OnPerfStatsChange registers a handler invoked for every accepted
// PerfStats update, so the Broadcaster can publish it under its own
// perf_stats_changes event type (spec §4.F, §4.G).
func (c *Cache) OnPerfStatsChange(h PerfStatsHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPerfChange = append(c.onPerfChange, h)
}

// ReconcilePerfStats applies a perf_stats_changes notification, keyed by
// host+type+subject+system+protocol+variant. Like Reconcile, it never
// persists: the store is already the source of truth.
func (c *Cache) ReconcilePerfStats(host, typ, subject, system, protocol, variant, value string) {
	k := perfKey{host, typ, subject, system, protocol, variant}
	now := time.Now()

	c.mu.Lock()
	existing, ok := c.perfStats[k]
	if ok && existing.Value == value {
		c.mu.Unlock()
		return
	}
	entry := PerfStatsEntry{
		Host:     host,
		Type:     typ,
		Subject:  subject,
		System:   system,
		Protocol: protocol,
		Variant:  variant,
		Value:    value,
		SysTime:  now.UTC().Format(time.RFC3339),
	}
	c.perfStats[k] = entry
	handlers := append([]PerfStatsHandler(nil), c.onPerfChange...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(entry)
	}
}

// PerfStatsSnapshot returns a copy of every cached PerfStats entry, for
// seeding new browser connections (spec §4.G, §6).
func (c *Cache) PerfStatsSnapshot() []PerfStatsEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]PerfStatsEntry, 0, len(c.perfStats))
	for _, e := range c.perfStats {
		out = append(out, e)
	}
	return out
}

// GetPerfStats returns the current value for a perf-stats key, if present.
func (c *Cache) GetPerfStats(host, typ, subject, system, protocol, variant string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.perfStats[perfKey{host, typ, subject, system, protocol, variant}]
	return e.Value, ok
}
