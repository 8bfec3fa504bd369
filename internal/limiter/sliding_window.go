package limiter

import "time"

// slidingWindow is a log of admission timestamps covering the trailing
// window. Entries are appended in time order, so expiry always happens at
// the head. It is not safe for concurrent use; Limiter guards it.
type slidingWindow struct {
	limit  int
	window time.Duration
	log    []time.Time
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{
		limit:  limit,
		window: window,
		log:    make([]time.Time, 0, limit),
	}
}

// prune drops every entry older than the window relative to now. An entry
// exactly one window old is still counted.
func (w *slidingWindow) prune(now time.Time) {
	i := 0
	for i < len(w.log) && now.Sub(w.log[i]) > w.window {
		i++
	}
	if i == 0 {
		return
	}
	// Shift down rather than reslice so the backing array does not grow
	// without bound under steady traffic.
	n := copy(w.log, w.log[i:])
	w.log = w.log[:n]
}

func (w *slidingWindow) count() int {
	return len(w.log)
}

func (w *slidingWindow) hasRoom() bool {
	return len(w.log) < w.limit
}

func (w *slidingWindow) record(now time.Time) {
	w.log = append(w.log, now)
}

// unrecord removes the newest entry. It reports false when the log is empty.
func (w *slidingWindow) unrecord() bool {
	if len(w.log) == 0 {
		return false
	}
	w.log = w.log[:len(w.log)-1]
	return true
}

// untilRoom returns how long until the oldest entry expires when the window
// is full, and zero otherwise. An entry expires once it is strictly older
// than the window, hence the extra nanosecond. Call after prune.
func (w *slidingWindow) untilRoom(now time.Time) time.Duration {
	if w.hasRoom() {
		return 0
	}
	d := w.window - now.Sub(w.log[0])
	if d < 0 {
		return 0
	}
	return d + time.Nanosecond
}
