package core

import (
	"container/list"
)

// IdempotencyChecker remembers which feed entries a ledger session has
// already processed, with per-type duplicate counters.
// Not thread-safe; only accessed from the engine.
type IdempotencyChecker struct {
	lru        *IdempotencyLRU
	duplicates map[string]int64 // entry type -> count
}

func NewIdempotencyChecker(capacity int) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:        NewIdempotencyLRU(capacity),
		duplicates: make(map[string]int64),
	}
}

// IsDuplicate reports whether the entry key was already processed and
// counts the hit against the entry type.
func (ic *IdempotencyChecker) IsDuplicate(entryType string, key string) bool {
	if ic.lru.Contains(key) {
		ic.duplicates[entryType]++
		return true
	}
	return false
}

// MarkProcessed records the key after the entry has been dispatched.
func (ic *IdempotencyChecker) MarkProcessed(key string) {
	ic.lru.Add(key)
}

// Duplicates returns how many duplicates of an entry type were skipped.
func (ic *IdempotencyChecker) Duplicates(entryType string) int64 {
	return ic.duplicates[entryType]
}

// Evictions returns how many keys were forgotten to respect the capacity.
func (ic *IdempotencyChecker) Evictions() int64 {
	return ic.lru.Evictions()
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU set of entry keys. Capacity bounds memory for
// very long feeds; keys evicted from it can be re-applied.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
