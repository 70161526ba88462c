package telemetry

import (
	"sync"
	"time"
)

// DefaultRetention bounds how much history the store keeps per metric.
// Verification windows are far shorter, so this only needs to outlast the
// longest configured window plus clock skew.
const DefaultRetention = 10 * time.Minute

// Store is a thread-safe in-memory window of recent samples keyed by
// metric name. Old samples are pruned on write.
type Store struct {
	mu        sync.RWMutex
	retention time.Duration
	samples   map[string][]Sample
}

// NewStore creates a store with the given retention. Zero or negative
// retention falls back to DefaultRetention.
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		retention: retention,
		samples:   map[string][]Sample{},
	}
}

// Record appends a sample and prunes entries older than the retention
// window for that metric.
func (s *Store) Record(sample Sample) {
	if sample.MetricName == "" {
		return
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	window := append(s.samples[sample.MetricName], sample)
	cutoff := sample.RecordedAt.Add(-s.retention)
	for len(window) > 0 && window[0].RecordedAt.Before(cutoff) {
		window = window[1:]
	}
	s.samples[sample.MetricName] = window
}

// Latest returns the most recent sample for a metric.
func (s *Store) Latest(metric string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := s.samples[metric]
	if len(window) == 0 {
		return Sample{}, false
	}
	return window[len(window)-1], true
}

// Since returns all samples for a metric recorded at or after t, oldest
// first. The returned slice is a copy.
func (s *Store) Since(metric string, t time.Time) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := s.samples[metric]
	idx := len(window)
	for i, sample := range window {
		if !sample.RecordedAt.Before(t) {
			idx = i
			break
		}
	}
	if idx == len(window) {
		return nil
	}
	out := make([]Sample, len(window)-idx)
	copy(out, window[idx:])
	return out
}

// Metrics returns the metric names currently held.
func (s *Store) Metrics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.samples))
	for name := range s.samples {
		names = append(names, name)
	}
	return names
}
