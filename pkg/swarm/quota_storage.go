package swarm

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ghosttalk/swarmnode/pkg/common"
)

// QuotaStorage wraps a Storage backend with a total-byte budget. Values are
// assumed to be JSON-encoded common.Message records so an over-budget write
// can evict already-expired entries before giving up; any value that isn't a
// Message (or has no TTL) just counts toward the budget without being a
// candidate for expiry-eviction.
type QuotaStorage struct {
	inner     Storage
	maxBytes  int64
	mu        sync.Mutex
	usedBytes int64
	sizes     map[string]int64
}

// NewQuotaStorage wraps inner with a budget of maxSizeGB gigabytes. A
// non-positive maxSizeGB disables the quota (every write is allowed).
func NewQuotaStorage(inner Storage, maxSizeGB int) (*QuotaStorage, error) {
	q := &QuotaStorage{
		inner:    inner,
		maxBytes: int64(maxSizeGB) * 1024 * 1024 * 1024,
		sizes:    make(map[string]int64),
	}

	if maxSizeGB <= 0 {
		return q, nil
	}

	keys, err := inner.List("")
	if err != nil {
		return nil, common.NewError(common.KindInternal, "swarm.NewQuotaStorage", err)
	}
	for _, key := range keys {
		value, err := inner.Retrieve(key)
		if err != nil {
			continue
		}
		size := int64(len(value))
		q.sizes[key] = size
		q.usedBytes += size
	}

	return q, nil
}

// Store writes value under key, first evicting expired entries if the write
// would exceed the budget. Returns a KindQuotaExceeded error if eviction
// still leaves no room.
func (q *QuotaStorage) Store(key string, value []byte) error {
	if q.maxBytes <= 0 {
		return q.storeTracked(key, value)
	}

	q.mu.Lock()
	newSize := int64(len(value))
	existing := q.sizes[key]
	projected := q.usedBytes - existing + newSize

	if projected > q.maxBytes {
		q.mu.Unlock()
		q.evictExpired()
		q.mu.Lock()
		existing = q.sizes[key]
		projected = q.usedBytes - existing + newSize
	}

	if projected > q.maxBytes {
		q.mu.Unlock()
		return common.NewError(common.KindQuotaExceeded, "swarm.Store",
			fmt.Errorf("storage quota exceeded: used=%d max=%d incoming=%d", q.usedBytes, q.maxBytes, newSize))
	}
	q.mu.Unlock()

	return q.storeTracked(key, value)
}

func (q *QuotaStorage) storeTracked(key string, value []byte) error {
	if err := q.inner.Store(key, value); err != nil {
		return err
	}

	q.mu.Lock()
	existing := q.sizes[key]
	q.usedBytes += int64(len(value)) - existing
	q.sizes[key] = int64(len(value))
	q.mu.Unlock()

	return nil
}

// evictExpired scans for entries whose embedded TTL has passed and deletes
// them, freeing their accounted bytes. Best-effort: decode failures and
// non-Message values are left alone.
func (q *QuotaStorage) evictExpired() {
	keys, err := q.inner.List("messages/")
	if err != nil {
		return
	}

	now := time.Now()
	for _, key := range keys {
		data, err := q.inner.Retrieve(key)
		if err != nil {
			continue
		}

		var msg common.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.TTL.IsZero() || now.Before(msg.TTL) {
			continue
		}

		if err := q.inner.Delete(key); err != nil {
			continue
		}
		q.mu.Lock()
		q.usedBytes -= q.sizes[key]
		delete(q.sizes, key)
		q.mu.Unlock()
	}
}

func (q *QuotaStorage) Retrieve(key string) ([]byte, error) {
	return q.inner.Retrieve(key)
}

func (q *QuotaStorage) Delete(key string) error {
	if err := q.inner.Delete(key); err != nil {
		return err
	}
	q.mu.Lock()
	q.usedBytes -= q.sizes[key]
	delete(q.sizes, key)
	q.mu.Unlock()
	return nil
}

func (q *QuotaStorage) List(prefix string) ([]string, error) {
	return q.inner.List(prefix)
}

func (q *QuotaStorage) Close() error {
	return q.inner.Close()
}

// UsedBytes reports the current accounted storage size.
func (q *QuotaStorage) UsedBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.usedBytes
}
