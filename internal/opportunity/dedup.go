package opportunity

import "time"

// pairDedup suppresses repeat detections of the same venue pair, instrument
// and direction inside a window. It is not safe for concurrent use; the
// registry guards it with its own mutex.
type pairDedup struct {
	window time.Duration
	seen   map[string]time.Time // pair key -> detectedAt of the accepted entry
}

func newPairDedup(window time.Duration) *pairDedup {
	return &pairDedup{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// admit reports whether an opportunity with key detected at ts should be
// tracked. Accepted detections start a new window.
func (d *pairDedup) admit(key string, ts time.Time) bool {
	if d.window <= 0 {
		return true
	}
	if last, ok := d.seen[key]; ok {
		if delta := ts.Sub(last); delta >= 0 && delta < d.window {
			return false
		}
	}
	d.seen[key] = ts
	return true
}

// cleanup forgets windows that closed before now.
func (d *pairDedup) cleanup(now time.Time) {
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.window {
			delete(d.seen, key)
		}
	}
}
