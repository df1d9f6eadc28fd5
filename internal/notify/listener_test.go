package notify

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/nixfleet-labs/homebase-gateway/internal/status"
	"github.com/nixfleet-labs/homebase-gateway/internal/store"
)

type fakeStore struct {
	fetchCalls int
	imageData  []byte
}

func (f *fakeStore) UpsertStatus(ctx context.Context, host, source, typ, value string, ts time.Time) error {
	return nil
}
func (f *fakeStore) LoadDeviceAddresses(ctx context.Context) ([]store.Device, error) { return nil, nil }
func (f *fakeStore) AddDevice(ctx context.Context, address, displayName string) error { return nil }
func (f *fakeStore) UpsertProbeAggregates(ctx context.Context, addr string, pingAvg int, pingSuccess float64, serverTime time.Time) error {
	return nil
}
func (f *fakeStore) MarkLastPing(ctx context.Context, addr string, t time.Time) error { return nil }
func (f *fakeStore) UpsertSubjectOptions(ctx context.Context, addr string, csvOptions string) error {
	return nil
}
func (f *fakeStore) FetchImageRow(ctx context.Context, host, statusType string) ([]byte, error) {
	f.fetchCalls++
	return f.imageData, nil
}
func (f *fakeStore) ExecReadOnlyQuery(ctx context.Context, query string) ([]map[string]any, error) {
	return nil, nil
}
func (f *fakeStore) Close() error { return nil }

func newTestListener(st *fakeStore) (*Listener, *status.Cache) {
	log := zerolog.New(io.Discard)
	cache := status.New(log, nil)
	return New("postgres://unused", log, cache, st), cache
}

func TestHandle_StatusChangesReconcilesCache(t *testing.T) {
	l, cache := newTestListener(&fakeStore{})

	l.handle(context.Background(), &pq.Notification{
		Channel: channelStatusChanges,
		Extra:   `{"host":"10.0.0.1","source":"ess","type":"state","value":"running"}`,
	})

	v, ok := cache.Get("10.0.0.1", "ess", "state")
	if !ok || v != "running" {
		t.Errorf("cache.Get = (%q, %v), want (running, true)", v, ok)
	}
}

func TestHandle_CommStatusChangesReconcilesOwnCollection(t *testing.T) {
	l, cache := newTestListener(&fakeStore{})

	l.handle(context.Background(), &pq.Notification{
		Channel: channelCommStatusChanges,
		Extra:   `{"device":"rig-1","address":"10.0.0.1","value":"up"}`,
	})

	v, ok := cache.GetCommStatus("rig-1", "10.0.0.1")
	if !ok || v != "up" {
		t.Errorf("cache.GetCommStatus = (%q, %v), want (up, true)", v, ok)
	}
	// Must not also land in the generic Status collection.
	if _, ok := cache.Get("rig-1", "", ""); ok {
		t.Error("comm_status_changes must not populate the Status collection")
	}
}

func TestHandle_PerfStatsWithZeroTrialsIsDropped(t *testing.T) {
	l, cache := newTestListener(&fakeStore{})

	l.handle(context.Background(), &pq.Notification{
		Channel: channelPerfStatsChanges,
		Extra:   `{"host":"10.0.0.1","type":"latency","subject":"alice","system":"ess","protocol":"tcp","variant":"v1","value":"5","trials":0}`,
	})

	if _, ok := cache.GetPerfStats("10.0.0.1", "latency", "alice", "ess", "tcp", "v1"); ok {
		t.Error("a trials=0 perf_stats_changes payload must not reach the cache")
	}
}

func TestHandle_PerfStatsWithTrialsReconciles(t *testing.T) {
	l, cache := newTestListener(&fakeStore{})

	l.handle(context.Background(), &pq.Notification{
		Channel: channelPerfStatsChanges,
		Extra:   `{"host":"10.0.0.1","type":"latency","subject":"alice","system":"ess","protocol":"tcp","variant":"v1","value":"5","trials":3}`,
	})

	if v, ok := cache.GetPerfStats("10.0.0.1", "latency", "alice", "ess", "tcp", "v1"); !ok || v != "5" {
		t.Errorf("cache.GetPerfStats = (%q, %v), want (5, true)", v, ok)
	}
}

func TestHandle_NewImageRefetchesAndReconciles(t *testing.T) {
	st := &fakeStore{imageData: []byte("binary-blob")}
	l, cache := newTestListener(st)

	l.handle(context.Background(), &pq.Notification{
		Channel: channelNewImage,
		Extra:   `{"host":"10.0.0.1","type":"snapshot"}`,
	})

	if st.fetchCalls != 1 {
		t.Errorf("fetchCalls = %d, want 1", st.fetchCalls)
	}
	if v, ok := cache.Get("10.0.0.1", "image", "snapshot"); !ok || v != "binary-blob" {
		t.Errorf("cache.Get = (%q, %v), want (binary-blob, true)", v, ok)
	}
}

func TestHandle_MalformedPayloadIsIgnored(t *testing.T) {
	l, cache := newTestListener(&fakeStore{})

	l.handle(context.Background(), &pq.Notification{
		Channel: channelStatusChanges,
		Extra:   `not-json`,
	})

	if len(cache.Snapshot()) != 0 {
		t.Error("a malformed payload must not populate the cache")
	}
}
