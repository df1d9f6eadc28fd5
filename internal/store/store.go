// Package store is the gateway's only point of contact with the shared
// relational store. The schema, its triggers, and its stored procedures are
// owned elsewhere (spec §1) — this package exposes just the operations the
// gateway's components need, as a narrow interface so the write-path can be
// swapped per the spec's open question (log-only vs. authoritative writer).
package store

import (
	"context"
	"time"
)

// Device is the registry row this gateway cares about.
type Device struct {
	Address        string
	DisplayName    string
	PingAvg        int
	PingSuccess    float64
	LastPing       *time.Time
	LastServerTime *time.Time
	Hidden         bool
}

// StatusWriter is the pluggable write-path for translated status updates
// (spec §9 open question: log-only simulated upsert vs. an authoritative
// writer). The Cache (§4.E) depends on this interface rather than a
// concrete store, so tests can swap in a recorder; its Reconcile path,
// used by the Notification Listener, never calls it.
type StatusWriter interface {
	UpsertStatus(ctx context.Context, host, source, typ, value string, ts time.Time) error
}

// Store is the full set of operations the gateway issues against the
// external store.
type Store interface {
	StatusWriter

	// LoadDeviceAddresses returns the registry's address list at startup.
	LoadDeviceAddresses(ctx context.Context) ([]Device, error)

	// AddDevice inserts a new registry row (browser AddDevice intent, and
	// the `gateway add-device` CLI path).
	AddDevice(ctx context.Context, address, displayName string) error

	// UpsertProbeAggregates persists one reachability cycle's results for addr.
	UpsertProbeAggregates(ctx context.Context, addr string, pingAvg int, pingSuccess float64, serverTime time.Time) error

	// MarkLastPing updates last_ping; called only when the most recent probe succeeded.
	MarkLastPing(ctx context.Context, addr string, t time.Time) error

	// UpsertSubjectOptions persists the recomputed ess/animalOptions list for addr.
	UpsertSubjectOptions(ctx context.Context, addr string, csvOptions string) error

	// FetchImageRow fetches the full row referenced by a new_image notification.
	FetchImageRow(ctx context.Context, host, statusType string) ([]byte, error)

	// ExecReadOnlyQuery runs a pre-validated read-only query and returns
	// column-name -> coerced-value rows.
	ExecReadOnlyQuery(ctx context.Context, query string) ([]map[string]any, error)

	// Close releases the underlying connection pool.
	Close() error
}
