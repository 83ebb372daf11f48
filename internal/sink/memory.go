package sink

import (
	"context"
	"sort"
	"sync"
	"time"

	"optionsurface/internal/domain/surface"
)

// Memory keeps every row in process, keyed by natural key. A duplicate key
// is ignored so that retries and overlapping runs leave one row per key.
type Memory struct {
	mu         sync.RWMutex
	snapshots  map[time.Time]surface.SnapshotRecord
	optionCalc map[string]surface.OptionCalcRow
	straddles  map[string]surface.StraddleRow
}

// NewMemory creates an empty in-memory sink
func NewMemory() *Memory {
	return &Memory{
		snapshots:  make(map[time.Time]surface.SnapshotRecord),
		optionCalc: make(map[string]surface.OptionCalcRow),
		straddles:  make(map[string]surface.StraddleRow),
	}
}

// InsertSnapshot implements surface.Sink
func (m *Memory) InsertSnapshot(_ context.Context, snap surface.SnapshotRecord) error {
	key := snap.Timestamp.UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[key]; !ok {
		m.snapshots[key] = snap
	}
	return nil
}

// InsertOptionCalc implements surface.Sink
func (m *Memory) InsertOptionCalc(_ context.Context, rows []surface.OptionCalcRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		if _, ok := m.optionCalc[r.Key()]; !ok {
			m.optionCalc[r.Key()] = r
		}
	}
	return nil
}

// InsertStraddle implements surface.Sink
func (m *Memory) InsertStraddle(_ context.Context, rows []surface.StraddleRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		if _, ok := m.straddles[r.Key()]; !ok {
			m.straddles[r.Key()] = r
		}
	}
	return nil
}

// Snapshots returns stored snapshots ordered by timestamp
func (m *Memory) Snapshots() []surface.SnapshotRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]surface.SnapshotRecord, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// OptionCalc returns stored option rows ordered by natural key
func (m *Memory) OptionCalc() []surface.OptionCalcRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]surface.OptionCalcRow, 0, len(m.optionCalc))
	for _, r := range m.optionCalc {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Straddles returns stored straddle rows ordered by natural key
func (m *Memory) Straddles() []surface.StraddleRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]surface.StraddleRow, 0, len(m.straddles))
	for _, r := range m.straddles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
