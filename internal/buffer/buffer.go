// Package buffer implements the working buffer: a small, attention-weighted
// holding area for currently relevant records. It is process-local and holds
// record IDs only, so eviction can never lose data owned by a tier store.
package buffer

import (
	"sync"
	"time"
)

// Item is one working-buffer entry. It references a record, it never owns it.
type Item struct {
	RecordID        string
	AttentionWeight float64
	InsertedAt      time.Time
}

// Buffer is a bounded attention-weighted set. The classic span is 7 items;
// contention is negligible at that size, so a single mutex suffices.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	items    map[string]Item
}

// New creates a buffer with the given capacity (minimum 1).
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 7
	}
	return &Buffer{
		capacity: capacity,
		items:    make(map[string]Item, capacity),
	}
}

// Insert adds or refreshes an item. If the buffer would exceed capacity, the
// entry with the lowest attention weight is evicted, which may be the new
// item itself. Returns the evicted record ID, or "" if nothing was evicted.
func (b *Buffer) Insert(recordID string, weight float64) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[recordID] = Item{
		RecordID:        recordID,
		AttentionWeight: weight,
		InsertedAt:      time.Now(),
	}

	if len(b.items) <= b.capacity {
		return ""
	}

	evictID := ""
	evictWeight := 0.0
	for id, item := range b.items {
		if evictID == "" || item.AttentionWeight < evictWeight {
			evictID = id
			evictWeight = item.AttentionWeight
		}
	}
	delete(b.items, evictID)
	return evictID
}

// Touch boosts an item's attention weight, capped at 1.0.
func (b *Buffer) Touch(recordID string, boost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	item, ok := b.items[recordID]
	if !ok {
		return false
	}
	item.AttentionWeight += boost
	if item.AttentionWeight > 1.0 {
		item.AttentionWeight = 1.0
	}
	b.items[recordID] = item
	return true
}

// Remove drops an item by record ID.
func (b *Buffer) Remove(recordID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, recordID)
}

// Len returns the current item count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Snapshot returns a copy of all items.
func (b *Buffer) Snapshot() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := make([]Item, 0, len(b.items))
	for _, item := range b.items {
		items = append(items, item)
	}
	return items
}

// DrainAbove removes and returns items with weight >= threshold. Used by the
// nightly consolidation pass to promote important items back into intake.
func (b *Buffer) DrainAbove(threshold float64) []Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	var drained []Item
	for id, item := range b.items {
		if item.AttentionWeight >= threshold {
			drained = append(drained, item)
			delete(b.items, id)
		}
	}
	return drained
}

// ClearOlderThan removes items below the weight threshold that were inserted
// before the cutoff. Returns the number removed.
func (b *Buffer) ClearOlderThan(cutoff time.Time, belowWeight float64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, item := range b.items {
		if item.AttentionWeight < belowWeight && item.InsertedAt.Before(cutoff) {
			delete(b.items, id)
			removed++
		}
	}
	return removed
}
