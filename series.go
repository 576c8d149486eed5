package main

import (
	"math"
	"sync"
	"time"
)

// SeriesRow is one slot of the rolling window: a timestamp and one value
// per metric, indexed like Metrics. NaN marks a metric that has never
// been reported.
type SeriesRow struct {
	Timestamp time.Time
	Values    [4]float64
}

// SeriesBuffer is a fixed-capacity rolling window shared by all metrics.
// Rows are stored in lock-step so every metric sequence has the same
// length as the timestamp sequence.
type SeriesBuffer struct {
	rows  []SeriesRow
	head  int
	count int
	last  [4]float64
	mu    sync.Mutex
}

// Snapshot is a read-only copy of one metric's window.
type Snapshot struct {
	Timestamps []time.Time
	Values     []float64
}

func (s Snapshot) Len() int { return len(s.Values) }

// History is the shape of a historical window fetch: one timestamp array
// plus one value array per metric. Arrays may differ in length.
type History struct {
	Timestamps []time.Time
	Values     map[Metric][]float64
}

func NewSeriesBuffer(capacity int) *SeriesBuffer {
	if capacity < 1 {
		capacity = 1
	}
	sb := &SeriesBuffer{rows: make([]SeriesRow, capacity)}
	sb.resetLast()
	return sb
}

func (sb *SeriesBuffer) resetLast() {
	for i := range sb.last {
		sb.last[i] = math.NaN()
	}
}

func (sb *SeriesBuffer) Capacity() int { return len(sb.rows) }

func (sb *SeriesBuffer) Len() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.count
}

// Ingest appends one row. Metrics missing from s repeat their last known
// value; the oldest row is evicted once the window is full.
func (sb *SeriesBuffer) Ingest(s Sample) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	row := SeriesRow{Timestamp: s.Timestamp}
	for i, m := range Metrics {
		if v, ok := s.Value(m); ok {
			sb.last[i] = v
		}
		row.Values[i] = sb.last[i]
	}
	sb.push(row)
}

func (sb *SeriesBuffer) push(row SeriesRow) {
	if sb.count < len(sb.rows) {
		sb.count++
	} else {
		sb.head = (sb.head + 1) % len(sb.rows)
	}
	idx := (sb.head + sb.count - 1) % len(sb.rows)
	sb.rows[idx] = row
}

// Load replaces the window with a historical fetch. Arrays are aligned on
// their newest entries; only the most recent Capacity rows are kept.
func (sb *SeriesBuffer) Load(h History) {
	n := len(h.Timestamps)
	for _, m := range Metrics {
		if vals, ok := h.Values[m]; ok && len(vals) < n {
			n = len(vals)
		}
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.head, sb.count = 0, 0
	sb.resetLast()

	start := 0
	if n > len(sb.rows) {
		start = n - len(sb.rows)
	}
	for j := start; j < n; j++ {
		row := SeriesRow{Timestamp: h.Timestamps[len(h.Timestamps)-n+j]}
		for i, m := range Metrics {
			row.Values[i] = math.NaN()
			if vals, ok := h.Values[m]; ok {
				row.Values[i] = vals[len(vals)-n+j]
			}
		}
		sb.push(row)
	}
	if sb.count > 0 {
		sb.last = sb.rows[(sb.head+sb.count-1)%len(sb.rows)].Values
	}
}

// Snapshot returns copies of the timestamps and values for m in
// chronological order. Unknown metrics yield an empty snapshot.
func (sb *SeriesBuffer) Snapshot(m Metric) Snapshot {
	col := m.index()

	sb.mu.Lock()
	defer sb.mu.Unlock()

	snap := Snapshot{
		Timestamps: make([]time.Time, 0, sb.count),
		Values:     make([]float64, 0, sb.count),
	}
	if col < 0 {
		return snap
	}
	for i := 0; i < sb.count; i++ {
		row := sb.rows[(sb.head+i)%len(sb.rows)]
		snap.Timestamps = append(snap.Timestamps, row.Timestamp)
		snap.Values = append(snap.Values, row.Values[col])
	}
	return snap
}

// Latest returns the newest row.
func (sb *SeriesBuffer) Latest() (SeriesRow, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.count == 0 {
		return SeriesRow{}, false
	}
	return sb.rows[(sb.head+sb.count-1)%len(sb.rows)], true
}

func (sb *SeriesBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.head, sb.count = 0, 0
	clear(sb.rows)
	sb.resetLast()
}
