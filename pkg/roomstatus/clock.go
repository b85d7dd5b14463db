// Copyright 2024-2026 Aiku AI

package roomstatus

import "github.com/jonboulle/clockwork"

// Clock is the time source for debounce decisions and polling. Tests inject
// a clockwork fake.
type Clock = clockwork.Clock

// RealClock returns a Clock backed by time.Now, which carries a monotonic
// reading so wall clock jumps do not affect the debounce window.
func RealClock() Clock {
	return clockwork.NewRealClock()
}
