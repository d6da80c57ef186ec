package history

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dollarnow/internal/quote"
)

// Capacity is the number of entries kept for charting.
const Capacity = 50

// Entry is one charted observation.
type Entry struct {
	Value     decimal.Decimal `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
}

// FromQuote projects a quote onto a history entry.
func FromQuote(q quote.Quote) Entry {
	return Entry{Value: q.Value, Timestamp: q.Timestamp}
}

// Buffer is a bounded FIFO of recent entries in arrival order.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

// NewBuffer creates a buffer holding at most Capacity entries.
func NewBuffer() *Buffer {
	return &Buffer{entries: make([]Entry, 0, Capacity), capacity: Capacity}
}

// Push appends e and evicts the oldest entry on overflow.
func (b *Buffer) Push(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, e)
	if len(b.entries) > b.capacity {
		b.entries = b.entries[len(b.entries)-b.capacity:]
	}
}

// Snapshot returns a copy of the entries, oldest first.
func (b *Buffer) Snapshot() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len reports the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
