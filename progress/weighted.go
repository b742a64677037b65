package progress

import "sync"

// Weighted aggregates progress from several independent parts into one Func.
// Each part contributes in proportion to its weight.
type Weighted struct {
	mu      sync.Mutex
	fn      Func
	weights []float64
	values  []float64
	total   float64
}

// NewWeighted creates an aggregator over parts with the given weights.
// Non-positive weights are treated as 1 so that parts of unknown size
// still move the aggregate.
func NewWeighted(fn Func, weights ...int64) *Weighted {
	w := &Weighted{
		fn:      fn,
		weights: make([]float64, len(weights)),
		values:  make([]float64, len(weights)),
	}
	for i, weight := range weights {
		if weight <= 0 {
			weight = 1
		}
		w.weights[i] = float64(weight)
		w.total += float64(weight)
	}
	return w
}

// Part returns the Func for part i.
func (w *Weighted) Part(i int) Func {
	if w.fn == nil {
		return nil
	}
	return func(v float64) {
		w.mu.Lock()
		w.values[i] = clamp(v)
		sum := 0.0
		for j, value := range w.values {
			sum += value * w.weights[j]
		}
		w.mu.Unlock()
		if w.total > 0 {
			w.fn(clamp(sum / w.total))
		}
	}
}
