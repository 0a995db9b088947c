package sptps

import "testing"

func TestReplayWindowInOrder(t *testing.T) {
	w := newReplayWindow(16)
	for i := uint32(0); i < 5; i++ {
		if err := w.check(i, true); err != nil {
			t.Fatalf("seqno %d: unexpected error: %v", i, err)
		}
	}
	if w.inseqno != 5 {
		t.Fatalf("unexpected inseqno: %d", w.inseqno)
	}
}

func TestReplayWindowDuplicateDropped(t *testing.T) {
	w := newReplayWindow(16)
	if err := w.check(10, true); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := w.check(10, true); err == nil {
		t.Fatalf("expected replay drop on duplicate seqno")
	}
}

func TestReplayWindowOutOfOrderThenLateArrival(t *testing.T) {
	// S2 from the scenario catalog: 0..4 delivered, 5 and 6 dropped, 7
	// delivered; 6 arrives late and is accepted; 5 arrives much later,
	// after the window has moved past it, and is dropped.
	w := newReplayWindow(16)
	for _, seqno := range []uint32{0, 1, 2, 3, 4, 7} {
		if err := w.check(seqno, true); err != nil {
			t.Fatalf("seqno %d: unexpected error: %v", seqno, err)
		}
	}
	if w.inseqno != 8 {
		t.Fatalf("unexpected inseqno: %d", w.inseqno)
	}
	if err := w.check(6, true); err != nil {
		t.Fatalf("late seqno 6 should be accepted: %v", err)
	}
	// Advance far enough that seqno 5 falls outside the window.
	for seqno := uint32(8); seqno < 8+16*8; seqno++ {
		if err := w.check(seqno, true); err != nil {
			t.Fatalf("seqno %d: unexpected error: %v", seqno, err)
		}
	}
	if err := w.check(5, true); err == nil {
		t.Fatalf("expected seqno 5 to be outside the window by now")
	}
}

func TestReplayWindowFarFutureResync(t *testing.T) {
	// S4: W=16 (128 slots), inseqno starts at 100, a far-future jump to
	// 10000 must be rejected three times before the fourth resyncs.
	w := newReplayWindow(16)
	for i := uint32(0); i < 100; i++ {
		if err := w.check(i, true); err != nil {
			t.Fatalf("priming seqno %d failed: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := w.check(10000, true); err == nil {
			t.Fatalf("attempt %d: expected far-future drop", i)
		}
	}
	if err := w.check(10000, true); err != nil {
		t.Fatalf("fourth far-future attempt should resync: %v", err)
	}
	if w.inseqno != 10001 {
		t.Fatalf("unexpected inseqno after resync: %d", w.inseqno)
	}
}

func TestReplayWindowZeroDisablesProtection(t *testing.T) {
	w := newReplayWindow(0)
	if err := w.check(5, true); err != nil {
		t.Fatalf("unexpected error with replay protection disabled: %v", err)
	}
	if err := w.check(5, true); err != nil {
		t.Fatalf("duplicate seqno should be accepted when disabled: %v", err)
	}
}

func TestReplayWindowProbePredictsFarFutureOutcome(t *testing.T) {
	// A read-only probe must agree with whatever the next update call would
	// decide, even in the far-future branch where the update mutates a
	// counter the probe isn't allowed to touch.
	w := newReplayWindow(16)
	for i := uint32(0); i < 100; i++ {
		if err := w.check(i, true); err != nil {
			t.Fatalf("priming seqno %d failed: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := w.check(10000, false); err == nil {
			t.Fatalf("attempt %d: probe should predict a far-future drop", i)
		}
		if err := w.check(10000, true); err == nil {
			t.Fatalf("attempt %d: expected far-future drop", i)
		}
	}
	if err := w.check(10000, false); err != nil {
		t.Fatalf("probe should predict the fourth attempt resyncing: %v", err)
	}
	if err := w.check(10000, true); err != nil {
		t.Fatalf("fourth far-future attempt should resync: %v", err)
	}
}

func TestReplayWindowProbeDoesNotMutateState(t *testing.T) {
	w := newReplayWindow(16)
	if err := w.check(3, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := w.inseqno
	if err := w.check(20, false); err != nil {
		t.Fatalf("read-only probe of a fresh seqno should not error: %v", err)
	}
	if w.inseqno != before {
		t.Fatalf("read-only probe mutated inseqno: %d -> %d", before, w.inseqno)
	}
	if err := w.check(3, false); err == nil {
		t.Fatalf("expected probe of an already-seen seqno to report a drop")
	}
	if w.inseqno != before {
		t.Fatalf("read-only probe mutated inseqno on drop path: %d -> %d", before, w.inseqno)
	}
}
