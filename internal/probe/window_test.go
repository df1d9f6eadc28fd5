package probe

import "testing"

func TestWindow_SuccessFractionAndAverage(t *testing.T) {
	w := newWindow(4)

	w.record(sample{ok: true, rttMillis: 10})
	w.record(sample{ok: true, rttMillis: 20})
	avg, success := w.record(sample{ok: false})

	if success != 0.67 {
		t.Errorf("success = %v, want %v (2/3 rounded to two decimals)", success, 0.67)
	}
	if avg != 15 {
		t.Errorf("avg = %v, want 15", avg)
	}
}

func TestWindow_EvictsOldestBeyondSize(t *testing.T) {
	w := newWindow(2)

	w.record(sample{ok: true, rttMillis: 100})
	w.record(sample{ok: true, rttMillis: 200})
	avg, success := w.record(sample{ok: false})

	// Size 2: the first (rtt=100, ok) sample has rolled off, leaving
	// [ok:200, fail] -> success 0.5, avg over successes only = 200.
	if success != 0.5 {
		t.Errorf("success = %v, want 0.5", success)
	}
	if avg != 200 {
		t.Errorf("avg = %v, want 200", avg)
	}
}

func TestWindow_AllFailuresYieldsZeroAverage(t *testing.T) {
	w := newWindow(3)

	w.record(sample{ok: false})
	avg, success := w.record(sample{ok: false})

	if success != 0 {
		t.Errorf("success = %v, want 0", success)
	}
	if avg != 0 {
		t.Errorf("avg = %v, want 0", avg)
	}
}
