package tunnel

import "sync"

// replayWindowSize is the number of recent counters tracked per generation.
const replayWindowSize = 64

// ReplayWindow tracks recently seen frame counters with a sliding bitmap.
// Each receive generation gets its own window; rotation discards it along
// with the key, so counters never collide across generations.
type ReplayWindow struct {
	mu      sync.Mutex
	highest uint64
	bitmap  uint64
	seeded  bool
}

// NewReplayWindow creates an empty window.
func NewReplayWindow() *ReplayWindow {
	return &ReplayWindow{}
}

// Check reports whether the counter would be accepted, without recording
// it. A counter older than the window or already recorded is a replay.
// The window must only advance for authenticated frames, so callers Check
// before opening a frame and Mark after it verifies.
func (w *ReplayWindow) Check(counter uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.freshLocked(counter)
}

// Mark records a counter whose frame authenticated, and reports whether it
// was still fresh. A false return means another frame claimed the counter
// between Check and Mark.
func (w *ReplayWindow) Mark(counter uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.freshLocked(counter) {
		return false
	}

	if !w.seeded {
		w.seeded = true
		w.highest = counter
		w.bitmap = 1
		return true
	}

	if counter > w.highest {
		shift := counter - w.highest
		if shift >= replayWindowSize {
			w.bitmap = 0
		} else {
			w.bitmap <<= shift
		}
		w.bitmap |= 1
		w.highest = counter
		return true
	}

	w.bitmap |= uint64(1) << (w.highest - counter)
	return true
}

// freshLocked reports whether the counter is unseen. Caller holds w.mu.
func (w *ReplayWindow) freshLocked(counter uint64) bool {
	if !w.seeded {
		return true
	}
	if counter > w.highest {
		return true
	}
	diff := w.highest - counter
	if diff >= replayWindowSize {
		return false
	}
	return w.bitmap&(uint64(1)<<diff) == 0
}
