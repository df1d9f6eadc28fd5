package status

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingWriter struct {
	calls int
}

func (w *recordingWriter) UpsertStatus(ctx context.Context, host, source, typ, value string, ts time.Time) error {
	w.calls++
	return nil
}

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestApply_DuplicateValueIsDropped(t *testing.T) {
	writer := &recordingWriter{}
	c := New(discardLogger(), writer)

	var changes int
	c.OnChange(func(Entry) { changes++ })

	c.Apply(context.Background(), "host-1", "ess", "state", "running")
	c.Apply(context.Background(), "host-1", "ess", "state", "running")

	if changes != 1 {
		t.Errorf("changes = %d, want 1 (second Apply should be deduped)", changes)
	}
	if writer.calls != 1 {
		t.Errorf("writer.calls = %d, want 1", writer.calls)
	}
}

func TestApply_ChangedValueBroadcastsAgain(t *testing.T) {
	writer := &recordingWriter{}
	c := New(discardLogger(), writer)

	var seen []string
	c.OnChange(func(e Entry) { seen = append(seen, e.Value) })

	c.Apply(context.Background(), "host-1", "ess", "state", "running")
	c.Apply(context.Background(), "host-1", "ess", "state", "stopped")

	if len(seen) != 2 || seen[0] != "running" || seen[1] != "stopped" {
		t.Errorf("seen = %v, want [running stopped]", seen)
	}
}

func TestReconcile_NeverCallsWriter(t *testing.T) {
	writer := &recordingWriter{}
	c := New(discardLogger(), writer)

	c.Reconcile("host-1", "ess", "state", "running")

	if writer.calls != 0 {
		t.Errorf("writer.calls = %d, want 0 (Reconcile must not re-persist)", writer.calls)
	}
	if v, ok := c.Get("host-1", "ess", "state"); !ok || v != "running" {
		t.Errorf("Get = (%q, %v), want (running, true)", v, ok)
	}
}

func TestSnapshot_OneEntryPerKey(t *testing.T) {
	c := New(discardLogger(), nil)

	c.Apply(context.Background(), "host-1", "ess", "state", "running")
	c.Apply(context.Background(), "host-1", "ess", "state", "stopped")
	c.Apply(context.Background(), "host-2", "ess", "state", "running")

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(snapshot) = %d, want 2", len(snap))
	}
}

func TestReconcileCommStatus_KeyedByDeviceAndAddress(t *testing.T) {
	c := New(discardLogger(), nil)

	var seen []CommStatusEntry
	c.OnCommStatusChange(func(e CommStatusEntry) { seen = append(seen, e) })

	c.ReconcileCommStatus("rig-1", "10.0.0.1", "up")
	c.ReconcileCommStatus("rig-1", "10.0.0.1", "up")
	c.ReconcileCommStatus("rig-1", "10.0.0.2", "up")

	if len(seen) != 2 {
		t.Fatalf("len(seen) = %d, want 2 (duplicate device+address should be deduped)", len(seen))
	}
	if v, ok := c.GetCommStatus("rig-1", "10.0.0.1"); !ok || v != "up" {
		t.Errorf("GetCommStatus = (%q, %v), want (up, true)", v, ok)
	}

	snap := c.CommStatusSnapshot()
	if len(snap) != 2 {
		t.Fatalf("len(CommStatusSnapshot) = %d, want 2", len(snap))
	}
}

func TestReconcilePerfStats_KeyedByFullComposite(t *testing.T) {
	c := New(discardLogger(), nil)

	var seen []PerfStatsEntry
	c.OnPerfStatsChange(func(e PerfStatsEntry) { seen = append(seen, e) })

	c.ReconcilePerfStats("host-1", "latency", "alice", "ess", "tcp", "v1", "12")
	c.ReconcilePerfStats("host-1", "latency", "alice", "ess", "tcp", "v1", "12")
	// Differs only by variant: a distinct key, must not be deduped against the above.
	c.ReconcilePerfStats("host-1", "latency", "alice", "ess", "tcp", "v2", "12")

	if len(seen) != 2 {
		t.Fatalf("len(seen) = %d, want 2 (only the exact composite key should dedupe)", len(seen))
	}
	if v, ok := c.GetPerfStats("host-1", "latency", "alice", "ess", "tcp", "v1"); !ok || v != "12" {
		t.Errorf("GetPerfStats = (%q, %v), want (12, true)", v, ok)
	}

	snap := c.PerfStatsSnapshot()
	if len(snap) != 2 {
		t.Fatalf("len(PerfStatsSnapshot) = %d, want 2", len(snap))
	}
}
