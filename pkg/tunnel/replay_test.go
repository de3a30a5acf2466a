package tunnel_test

import (
	"testing"

	"github.com/zkswarm/zks-core/pkg/tunnel"
)

func TestReplayWindowCheckDoesNotRecord(t *testing.T) {
	w := tunnel.NewReplayWindow()

	// Checking, even repeatedly and with a huge counter, commits nothing.
	for i := 0; i < 3; i++ {
		if !w.Check(1 << 40) {
			t.Fatal("Unseen counter reported as replay")
		}
	}
	if !w.Check(0) {
		t.Error("Counter 0 reported as replay after unmarked checks")
	}
	if !w.Mark(0) {
		t.Error("Counter 0 could not be marked")
	}
}

func TestReplayWindowMarkCommits(t *testing.T) {
	w := tunnel.NewReplayWindow()

	if !w.Mark(5) {
		t.Fatal("First mark of counter 5 failed")
	}
	if w.Check(5) {
		t.Error("Marked counter still reported fresh")
	}
	if w.Mark(5) {
		t.Error("Second mark of counter 5 succeeded")
	}
}

func TestReplayWindowOutOfOrder(t *testing.T) {
	w := tunnel.NewReplayWindow()

	for _, c := range []uint64{3, 1, 4, 0, 2} {
		if !w.Mark(c) {
			t.Fatalf("Counter %d rejected on first delivery", c)
		}
	}
	for _, c := range []uint64{0, 1, 2, 3, 4} {
		if w.Mark(c) {
			t.Fatalf("Counter %d accepted twice", c)
		}
	}
}

func TestReplayWindowTooOld(t *testing.T) {
	w := tunnel.NewReplayWindow()

	if !w.Mark(1000) {
		t.Fatal("Mark failed")
	}
	if w.Check(1) {
		t.Error("Counter far behind the window reported fresh")
	}
	if w.Mark(1) {
		t.Error("Counter far behind the window marked")
	}
	// Just inside the window is still acceptable.
	if !w.Mark(1000 - 63) {
		t.Error("Counter at the window edge rejected")
	}
}
