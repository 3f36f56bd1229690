package obs

import "sync"

// Label is a key/value pair attached to measurements.
type Label struct {
	Key   string
	Value string
}

// Meter is a very small interface for emitting counters/histograms.
// Implementations may no-op or bridge to a metrics system.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter is a Meter that discards all measurements.
type NopMeter struct{}

func (NopMeter) Counter(name string, value float64, labels ...Label)   {}
func (NopMeter) Histogram(name string, value float64, labels ...Label) {}

// Sample is one measurement kept by MemMeter.
type Sample struct {
	Name   string
	Value  float64
	Labels []Label
}

// MemMeter keeps every measurement in memory. Safe for concurrent use.
type MemMeter struct {
	mu         sync.Mutex
	counters   []Sample
	histograms []Sample
}

func (m *MemMeter) Counter(name string, value float64, labels ...Label) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, Sample{Name: name, Value: value, Labels: labels})
}

func (m *MemMeter) Histogram(name string, value float64, labels ...Label) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, Sample{Name: name, Value: value, Labels: labels})
}

// Total sums all counter samples named name.
func (m *MemMeter) Total(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, s := range m.counters {
		if s.Name == name {
			sum += s.Value
		}
	}
	return sum
}

// Observations returns histogram samples named name in arrival order.
func (m *MemMeter) Observations(name string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []float64
	for _, s := range m.histograms {
		if s.Name == name {
			out = append(out, s.Value)
		}
	}
	return out
}
