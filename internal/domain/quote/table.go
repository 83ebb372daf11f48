package quote

import (
	"sync"
	"time"
)

// Table is the process-wide latest-value cache keyed by symbol.
// Writers upsert from any number of ingestion pipelines; readers take whole-table snapshots.
// Callers never lock: the table owns its synchronization.
type Table struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	now    func() time.Time
}

// NewTable creates an empty quote table
func NewTable() *Table {
	return &Table{
		quotes: make(map[string]Quote),
		now:    time.Now,
	}
}

// Upsert stores q as the latest quote for q.Symbol. Last write wins.
func (t *Table) Upsert(q Quote) {
	t.mu.Lock()
	t.quotes[q.Symbol] = q
	t.mu.Unlock()
}

// Get returns the latest quote for symbol
func (t *Table) Get(symbol string) (Quote, bool) {
	t.mu.RLock()
	q, ok := t.quotes[symbol]
	t.mu.RUnlock()
	return q, ok
}

// Len returns the number of symbols with a live entry
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.quotes)
}

// Snapshot copies the whole table in one operation.
// Writes that complete after Snapshot returns are never visible in the result.
func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	copied := make(map[string]Quote, len(t.quotes))
	for k, v := range t.quotes {
		copied[k] = v
	}
	t.mu.RUnlock()

	return NewSnapshot(t.now(), copied)
}
