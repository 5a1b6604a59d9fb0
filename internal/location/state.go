// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import "time"

// throttle remembers the last emitted coordinate and decides whether a new one passes the
// configured interval and displacement bounds.
type throttle struct {
	minInterval time.Duration
	minDistance float64

	last     Coordinate
	lastAt   time.Time
	haveLast bool
}

func newThrottle(minInterval time.Duration, minDistance float64) *throttle {
	return &throttle{minInterval: minInterval, minDistance: minDistance}
}

// allow reports whether c observed at now should be emitted and records it if so. The first
// coordinate always passes.
func (t *throttle) allow(c Coordinate, now time.Time) bool {
	if !t.haveLast {
		t.update(c, now)
		return true
	}
	if now.Sub(t.lastAt) < t.minInterval {
		return false
	}
	if c.DistanceTo(t.last) < t.minDistance {
		return false
	}
	t.update(c, now)
	return true
}

func (t *throttle) update(c Coordinate, now time.Time) {
	t.last = c
	t.lastAt = now
	t.haveLast = true
}
