// Package progress defines the single-value progress channel shared by the
// install pipeline, transports, and storage backends.
//
// A Func receives values in [0, 1]. A nil Func is valid everywhere and
// silently discards updates.
package progress

import "sync"

// Func receives progress updates in the range [0, 1].
// Implementations must be safe for concurrent calls.
type Func func(float64)

// Report sends v to fn, clamped to [0, 1]. It is a no-op for a nil fn.
func Report(fn Func, v float64) {
	if fn == nil {
		return
	}
	fn(clamp(v))
}

// Span maps the unit range reported to the returned Func onto [from, to]
// of fn. It is used to split one progress channel across phases.
func Span(fn Func, from, to float64) Func {
	if fn == nil {
		return nil
	}
	return func(v float64) {
		fn(from + clamp(v)*(to-from))
	}
}

// Monotonic wraps fn so that reported values never decrease.
// Values lower than the highest value seen so far are replaced by it.
func Monotonic(fn Func) Func {
	if fn == nil {
		return nil
	}
	var (
		mu   sync.Mutex
		last float64
	)
	return func(v float64) {
		mu.Lock()
		defer mu.Unlock()
		v = clamp(v)
		if v < last {
			v = last
		}
		last = v
		fn(v)
	}
}

// Ratio returns done/total as a progress value. Unknown or non-positive
// totals report 0.
func Ratio(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return clamp(float64(done) / float64(total))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
