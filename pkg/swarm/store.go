// Package swarm implements store-and-forward message storage: write-quorum
// replication across a swarm of nodes and TTL-bounded retrieval ordered by
// (recipient, timestamp, id).
package swarm

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ghosttalk/swarmnode/pkg/common"
	"github.com/ghosttalk/swarmnode/pkg/mtls"
	"github.com/ghosttalk/swarmnode/pkg/ring"
)

const (
	replicationVirtualNodes = 9
	quorumDeadline          = 3 * time.Second
)

// Storage is the pluggable persistence backend. Keys are opaque strings;
// List must return keys with the given prefix in ascending lexicographic
// order so callers can rely on consistent pagination.
type Storage interface {
	Store(key string, value []byte) error
	Retrieve(key string) ([]byte, error)
	Delete(key string) error
	List(prefix string) ([]string, error)
	Close() error
}

// PeerClient is the subset of mtls.Client the store needs, narrowed so
// tests can substitute a fake.
type PeerClient interface {
	ReplicateMessage(nodeAddress string, messageData []byte) error
}

var _ PeerClient = (*mtls.Client)(nil)

// Store handles store-and-forward message storage with k-replication.
type Store struct {
	storage      Storage
	peerClient   PeerClient
	replicaRing  *ring.Ring
	replicaCount int
	ttl          time.Duration

	mu                sync.RWMutex
	messagesStored    uint64
	messagesDelivered uint64
	messagesExpired   uint64
}

// NewStore creates a new swarm store. peerClient may be nil, in which case
// replication is skipped (single-node / test deployments).
func NewStore(storage Storage, peerClient PeerClient, replicaPeers []string, replicaCount int, ttlDays int) *Store {
	r := ring.New(replicationVirtualNodes)
	for _, peer := range replicaPeers {
		r.AddNode(peer)
	}

	return &Store{
		storage:      storage,
		peerClient:   peerClient,
		replicaRing:  r,
		replicaCount: replicaCount,
		ttl:          time.Duration(ttlDays) * 24 * time.Hour,
	}
}

// writeQuorum is the minimum number of replicas (including the local copy)
// that must acknowledge a write before StoreMessage returns success:
// ⌈k/2⌉+1, capped at k.
func writeQuorum(k int) int {
	q := (k+1)/2 + 1
	if q > k {
		q = k
	}
	return q
}

// StoreMessage validates and stores a client-submitted message, then
// replicates it to the rest of the swarm, waiting for a write quorum before
// returning. It rejects a message whose ttl_deadline is already due
// (KindExpired) and a message already stored for (recipient_id, id)
// (KindDuplicate). If fewer than the quorum acknowledge within the
// deadline, the remaining replicas are still attempted asynchronously but
// the caller is told replication is degraded via KindInsufficientReplicas.
func (s *Store) StoreMessage(msg *common.Message) error {
	if !msg.TTL.IsZero() && !msg.TTL.After(time.Now()) {
		return common.NewError(common.KindExpired, "swarm.StoreMessage",
			fmt.Errorf("message %s ttl_deadline %s is not after now", msg.ID, msg.TTL))
	}
	if msg.TTL.IsZero() {
		msg.TTL = time.Now().Add(s.ttl)
	}

	key := messageKey(msg.DestinationID, msg.ID)
	if _, err := s.storage.Retrieve(key); err == nil {
		return common.NewError(common.KindDuplicate, "swarm.StoreMessage",
			fmt.Errorf("message %s already stored for recipient %s", msg.ID, msg.DestinationID))
	}

	return s.storeLocal(msg, true)
}

// ReplicateStore stores a message pushed by a peer holding the same key's
// successor set. Unlike StoreMessage it is idempotent-overwrite: a peer may
// resend a message after a quorum timeout, and the replica write must
// simply overwrite rather than reject it as a duplicate.
func (s *Store) ReplicateStore(msg *common.Message) error {
	if msg.TTL.IsZero() {
		msg.TTL = time.Now().Add(s.ttl)
	}
	return s.storeLocal(msg, false)
}

// storeLocal writes msg to local storage and, when fanOut is true, pushes it
// to the rest of the replica set and enforces write quorum.
func (s *Store) storeLocal(msg *common.Message, fanOut bool) error {
	msg.ReplicaCount = s.replicaCount
	key := messageKey(msg.DestinationID, msg.ID)

	data, err := json.Marshal(msg)
	if err != nil {
		return common.NewError(common.KindInternal, "swarm.StoreMessage", err)
	}

	if err := s.storage.Store(key, data); err != nil {
		if storeErr, ok := err.(*common.Error); ok {
			return storeErr
		}
		return common.NewError(common.KindInternal, "swarm.StoreMessage", err)
	}

	s.mu.Lock()
	s.messagesStored++
	s.mu.Unlock()

	if !fanOut || s.peerClient == nil {
		return nil
	}

	acked := s.replicate(msg.DestinationID, data)
	needed := writeQuorum(s.replicaCount)
	// The local write already counts as one ack.
	if acked+1 < needed {
		return common.NewError(common.KindInsufficientReplicas, "swarm.StoreMessage",
			fmt.Errorf("only %d/%d replicas acknowledged before quorum deadline", acked+1, needed))
	}

	return nil
}

// replicate pushes data to up to replicaCount-1 peers (the local node is
// already counted as one replica), returning how many acknowledged within
// quorumDeadline. Each peer gets a single attempt; calls still in flight at
// the deadline run to completion in the background and are not retried.
func (s *Store) replicate(destinationID string, data []byte) int {
	if s.peerClient == nil || s.replicaCount <= 1 {
		return 0
	}

	peers := s.replicaRing.Successors(destinationID, s.replicaCount-1)
	if len(peers) == 0 {
		return 0
	}

	results := make(chan bool, len(peers))
	for _, peer := range peers {
		go func(peerAddr string) {
			err := s.peerClient.ReplicateMessage(peerAddr, data)
			results <- err == nil
		}(peer)
	}

	deadline := time.After(quorumDeadline)
	acked := 0
	for i := 0; i < len(peers); i++ {
		select {
		case ok := <-results:
			if ok {
				acked++
			}
		case <-deadline:
			return acked
		}
	}
	return acked
}

// RetrieveMessages retrieves all non-expired messages for a session ID,
// ordered by (timestamp, id) so a client paging through results sees a
// stable order even as new messages arrive between calls.
func (s *Store) RetrieveMessages(sessionID string) ([]*common.Message, error) {
	prefix := sessionPrefix(sessionID)
	keys, err := s.storage.List(prefix)
	if err != nil {
		return nil, common.NewError(common.KindInternal, "swarm.RetrieveMessages", err)
	}

	messages := make([]*common.Message, 0, len(keys))
	var expiredKeys []string
	for _, key := range keys {
		data, err := s.storage.Retrieve(key)
		if err != nil {
			continue
		}

		var msg common.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if time.Now().After(msg.TTL) {
			expiredKeys = append(expiredKeys, key)
			continue
		}

		messages = append(messages, &msg)
	}

	if len(expiredKeys) > 0 {
		s.mu.Lock()
		for _, key := range expiredKeys {
			s.storage.Delete(key)
			s.messagesExpired++
		}
		s.mu.Unlock()
	}

	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].Timestamp.Equal(messages[j].Timestamp) {
			return messages[i].Timestamp.Before(messages[j].Timestamp)
		}
		return messages[i].ID < messages[j].ID
	})

	s.mu.Lock()
	s.messagesDelivered += uint64(len(messages))
	s.mu.Unlock()

	return messages, nil
}

// DeleteMessage deletes a message after delivery, locally and on replicas.
func (s *Store) DeleteMessage(sessionID, messageID string) error {
	key := messageKey(sessionID, messageID)
	if err := s.storage.Delete(key); err != nil {
		return common.NewError(common.KindInternal, "swarm.DeleteMessage", err)
	}

	if s.peerClient != nil && s.replicaCount > 1 {
		peers := s.replicaRing.Successors(sessionID, s.replicaCount-1)
		go func() {
			for _, peer := range peers {
				s.deleteFromPeer(peer, sessionID, messageID)
			}
		}()
	}

	return nil
}

func (s *Store) deleteFromPeer(peerAddr, sessionID, messageID string) {
	payload, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"message_id": messageID,
		"op":         "delete",
	})
	if err != nil {
		return
	}
	_ = s.peerClient.ReplicateMessage(peerAddr, payload)
}

// CleanupExpired removes expired messages across the whole store.
func (s *Store) CleanupExpired() (int, error) {
	keys, err := s.storage.List("messages/")
	if err != nil {
		return 0, common.NewError(common.KindInternal, "swarm.CleanupExpired", err)
	}

	count := 0
	for _, key := range keys {
		data, err := s.storage.Retrieve(key)
		if err != nil {
			continue
		}

		var msg common.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if time.Now().After(msg.TTL) {
			s.storage.Delete(key)
			s.mu.Lock()
			s.messagesExpired++
			s.mu.Unlock()
			count++
		}
	}

	return count, nil
}

// GetStats returns store statistics.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		MessagesStored:    s.messagesStored,
		MessagesDelivered: s.messagesDelivered,
		MessagesExpired:   s.messagesExpired,
	}
}

func messageKey(sessionID, messageID string) string {
	return fmt.Sprintf("messages/%s/%s", sessionID, messageID)
}

func sessionPrefix(sessionID string) string {
	return fmt.Sprintf("messages/%s/", sessionID)
}

// Stats contains store statistics.
type Stats struct {
	MessagesStored    uint64
	MessagesDelivered uint64
	MessagesExpired   uint64
}

// MemoryStorage is an in-memory Storage implementation, used for tests and
// single-node deployments.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStorage creates a new memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string][]byte),
	}
}

func (m *MemoryStorage) Store(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value
	return nil
}

func (m *MemoryStorage) Retrieve(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", key)
	}

	return value, nil
}

func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryStorage) List(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0)
	for key := range m.data {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	return keys, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
