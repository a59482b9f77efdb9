// Package replay implements a bounded, concurrent replay cache for header
// HMACs seen by the onion router.
package replay

import (
	"container/list"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

type entry struct {
	key  string
	seen time.Time
	elem *list.Element
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // front = most recently seen
}

// Set is a striped, concurrent set of recently seen keys with both a
// time-based sweep (entries first seen more than Window ago are dropped
// from the least recently seen end, stopping at the first recent one;
// a replay hit moves an entry to the front without refreshing its
// first-seen time, so such an entry can outlive Window) and a
// size-based LRU bound per shard (protects against an attacker flooding
// with unique HMACs faster than the sweep interval can reclaim memory).
type Set struct {
	shards     [shardCount]*shard
	window     time.Duration
	maxPerSlot int

	stopOnce sync.Once
	stop     chan struct{}
}

// NewSet creates a replay set. window is the minimum time a key is
// remembered; maxPerShard bounds per-shard memory via LRU eviction.
func NewSet(window time.Duration, maxPerShard int) *Set {
	s := &Set{
		window:     window,
		maxPerSlot: maxPerShard,
		stop:       make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{
			entries: make(map[string]*entry),
			order:   list.New(),
		}
	}
	go s.sweepLoop()
	return s
}

// SeenOrRecord returns true if key was already recorded (replay), and
// otherwise records it and returns false.
func (s *Set) SeenOrRecord(key string) bool {
	sh := s.shards[fnv32(key)%shardCount]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.entries[key]; ok {
		sh.order.MoveToFront(e.elem)
		return true
	}

	e := &entry{key: key, seen: time.Now()}
	e.elem = sh.order.PushFront(e)
	sh.entries[key] = e

	if s.maxPerSlot > 0 && len(sh.entries) > s.maxPerSlot {
		oldest := sh.order.Back()
		if oldest != nil {
			sh.order.Remove(oldest)
			delete(sh.entries, oldest.Value.(*entry).key)
		}
	}
	return false
}

// Len returns the total number of tracked keys across all shards.
func (s *Set) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

// Close stops the background sweep goroutine.
func (s *Set) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Set) sweepLoop() {
	ticker := time.NewTicker(s.window)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Set) sweep() {
	cutoff := time.Now().Add(-s.window)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for {
			oldest := sh.order.Back()
			if oldest == nil {
				break
			}
			e := oldest.Value.(*entry)
			if e.seen.After(cutoff) {
				break
			}
			sh.order.Remove(oldest)
			delete(sh.entries, e.key)
		}
		sh.mu.Unlock()
	}
}

// fnv32 picks a shard for key. Not security sensitive: shard assignment
// leaks nothing an attacker can't already see from the request itself.
func fnv32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
