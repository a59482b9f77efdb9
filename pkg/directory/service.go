// Package directory tracks known service nodes, publishes a signed
// bootstrap set of healthy nodes, and assigns recipients to swarms via
// consistent hashing.
package directory

import (
	"crypto/ed25519"
	"encoding/json"
	"sync"
	"time"

	"github.com/ghosttalk/swarmnode/pkg/common"
	"github.com/ghosttalk/swarmnode/pkg/ring"
)

const (
	virtualNodesPerPhysical = 9
	healthCutoff            = 5 * time.Minute
)

// Service manages node directory and swarm assignment.
type Service struct {
	mu         sync.RWMutex
	nodes      map[string]*common.NodeInfo
	hashRing   *ring.Ring
	signingKey ed25519.PrivateKey
}

// NewService creates a new directory service.
func NewService(signingKey ed25519.PrivateKey) *Service {
	return &Service{
		nodes:      make(map[string]*common.NodeInfo),
		hashRing:   ring.New(virtualNodesPerPhysical),
		signingKey: signingKey,
	}
}

// RegisterNode registers a node in the directory.
func (s *Service) RegisterNode(node *common.NodeInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node.LastSeen = time.Now()
	node.Healthy = true

	s.nodes[node.ID] = node
	s.hashRing.AddNode(node.ID)

	return nil
}

// UnregisterNode removes a node from the directory.
func (s *Service) UnregisterNode(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nodes, nodeID)
	s.hashRing.RemoveNode(nodeID)

	return nil
}

// GetNode retrieves node information.
func (s *Service) GetNode(nodeID string) (*common.NodeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, common.NewError(common.KindInternal, "directory.GetNode", errNodeNotFound)
	}

	return node, nil
}

// ListNodes returns all registered nodes.
func (s *Service) ListNodes() []*common.NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*common.NodeInfo, 0, len(s.nodes))
	for _, node := range s.nodes {
		nodes = append(nodes, node)
	}

	return nodes
}

// GetBootstrapSet returns a signed snapshot of the currently healthy nodes.
func (s *Service) GetBootstrapSet() (*common.BootstrapSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]common.NodeInfo, 0)
	for _, node := range s.nodes {
		if node.Healthy {
			nodes = append(nodes, *node)
		}
	}

	if len(nodes) == 0 {
		return nil, common.NewError(common.KindUpstreamUnavailable, "directory.GetBootstrapSet", errNoHealthyNodes)
	}

	bootstrap := &common.BootstrapSet{
		Version:   1,
		Timestamp: time.Now(),
		Nodes:     nodes,
	}

	data, err := json.Marshal(bootstrap)
	if err != nil {
		return nil, common.NewError(common.KindInternal, "directory.GetBootstrapSet", err)
	}

	bootstrap.Signature = ed25519.Sign(s.signingKey, data)

	return bootstrap, nil
}

// GetSwarmNodes returns up to k node IDs responsible for sessionID,
// preferring healthy nodes and backfilling with unhealthy ones only if the
// ring cannot otherwise produce k distinct candidates (keeps a swarm alive
// during a transient partial outage rather than refusing writes outright).
func (s *Service) GetSwarmNodes(sessionID string, k int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.nodes) == 0 {
		return nil, common.NewError(common.KindUpstreamUnavailable, "directory.GetSwarmNodes", errNoHealthyNodes)
	}

	candidates := s.hashRing.Successors(sessionID, len(s.nodes))

	healthy := make([]string, 0, k)
	unhealthy := make([]string, 0, k)
	for _, id := range candidates {
		if node, ok := s.nodes[id]; ok && node.Healthy {
			healthy = append(healthy, id)
		} else {
			unhealthy = append(unhealthy, id)
		}
		if len(healthy) >= k {
			break
		}
	}

	result := healthy
	for i := 0; len(result) < k && i < len(unhealthy); i++ {
		result = append(result, unhealthy[i])
	}
	if len(result) > k {
		result = result[:k]
	}

	if len(result) == 0 {
		return nil, common.NewError(common.KindUpstreamUnavailable, "directory.GetSwarmNodes", errNoHealthyNodes)
	}

	return result, nil
}

// UpdateNodeHealth updates node health status.
func (s *Service) UpdateNodeHealth(nodeID string, healthy bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return common.NewError(common.KindInternal, "directory.UpdateNodeHealth", errNodeNotFound)
	}

	node.Healthy = healthy
	node.LastSeen = time.Now()

	return nil
}

// HealthCheck marks any node not seen within healthCutoff as unhealthy.
func (s *Service) HealthCheck() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-healthCutoff)

	for _, node := range s.nodes {
		if node.LastSeen.Before(cutoff) {
			node.Healthy = false
		}
	}
}
