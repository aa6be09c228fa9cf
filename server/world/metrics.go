package world

import (
	"sync"
)

// Metrics tracks counters of a Store for observability. A nil *Metrics is
// valid and discards everything.
type Metrics struct {
	mu sync.Mutex

	loaded       uint64
	generated    uint64
	evicted      uint64
	saved        uint64
	backpressure uint64
	retries      map[ChunkPos]uint64
	failures     map[ChunkPos]uint64
}

// MetricsSnapshot is a copy of the counters held by Metrics at one point in
// time.
type MetricsSnapshot struct {
	Loaded, Generated, Evicted, Saved, Backpressure uint64
	Retries, Failures                               uint64
	// FailingChunks holds the positions that failed generation at least once
	// together with their failure count.
	FailingChunks map[ChunkPos]uint64
}

// NewMetrics creates an empty metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{
		retries:  make(map[ChunkPos]uint64),
		failures: make(map[ChunkPos]uint64),
	}
}

// IncLoaded increments the counter of chunks read from the Provider.
func (m *Metrics) IncLoaded() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.loaded++
	m.mu.Unlock()
}

// IncGenerated increments the counter of chunks produced by the Generator.
func (m *Metrics) IncGenerated() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.generated++
	m.mu.Unlock()
}

// IncEvicted increments the counter of chunks removed from the cache.
func (m *Metrics) IncEvicted() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.evicted++
	m.mu.Unlock()
}

// IncSaved increments the counter of chunks written to the Provider.
func (m *Metrics) IncSaved() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.saved++
	m.mu.Unlock()
}

// IncBackpressure increments the counter of generation tasks that found the
// generator queue full.
func (m *Metrics) IncBackpressure() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.backpressure++
	m.mu.Unlock()
}

// IncRetry increments the failed attempt counter of a chunk.
func (m *Metrics) IncRetry(pos ChunkPos) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.retries[pos]++
	m.mu.Unlock()
}

// IncFailure increments the counter of loads of a chunk that failed after
// every attempt.
func (m *Metrics) IncFailure(pos ChunkPos) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.failures[pos]++
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := MetricsSnapshot{
		Loaded:        m.loaded,
		Generated:     m.generated,
		Evicted:       m.evicted,
		Saved:         m.saved,
		Backpressure:  m.backpressure,
		FailingChunks: make(map[ChunkPos]uint64, len(m.failures)),
	}
	for _, n := range m.retries {
		snap.Retries += n
	}
	for pos, n := range m.failures {
		snap.Failures += n
		snap.FailingChunks[pos] = n
	}
	return snap
}
