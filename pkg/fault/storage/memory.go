package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hecongqing/shukongdashi/pkg/fault"
)

type memoryEdge struct {
	Source   string
	Target   string
	Relation fault.RelationType
}

// MemoryGraphStore implements fault.GraphStore with in-memory node and
// edge maps. Used by tests and by the seed command before an export.
type MemoryGraphStore struct {
	nodes map[string]*fault.KnowledgeNode
	edges []memoryEdge
	mutex sync.RWMutex
}

// NewMemoryGraphStore creates an empty in-memory graph store.
func NewMemoryGraphStore() *MemoryGraphStore {
	return &MemoryGraphStore{
		nodes: make(map[string]*fault.KnowledgeNode),
	}
}

// Connect implements fault.GraphStore.
func (s *MemoryGraphStore) Connect(ctx context.Context) error { return nil }

// Close implements fault.GraphStore.
func (s *MemoryGraphStore) Close() error { return nil }

// Ping implements fault.GraphStore.
func (s *MemoryGraphStore) Ping(ctx context.Context) error { return nil }

// AddNode inserts a node and returns it with a store-assigned ID.
func (s *MemoryGraphStore) AddNode(name, label string, properties map[string]interface{}) fault.KnowledgeNode {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	node := fault.KnowledgeNode{
		ID:         uuid.New().String(),
		Label:      label,
		Name:       name,
		Properties: properties,
	}
	s.nodes[node.ID] = &node
	return node
}

// AddRelation inserts a directed edge between two existing nodes.
func (s *MemoryGraphStore) AddRelation(sourceID, targetID string, relation fault.RelationType) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.nodes[sourceID] == nil || s.nodes[targetID] == nil {
		return errors.New("source or target node not found")
	}
	s.edges = append(s.edges, memoryEdge{Source: sourceID, Target: targetID, Relation: relation})
	return nil
}

// FindNodes implements fault.GraphStore with a case-insensitive
// substring match on node names.
func (s *MemoryGraphStore) FindNodes(ctx context.Context, name string, label string) ([]fault.KnowledgeNode, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, nil
	}

	var matches []fault.KnowledgeNode
	for _, node := range s.nodes {
		if label != "" && node.Label != label {
			continue
		}
		haystack := strings.ToLower(node.Name)
		if strings.Contains(haystack, needle) || strings.Contains(needle, haystack) {
			matches = append(matches, *node)
		}
	}
	return matches, nil
}

// Neighbors implements fault.GraphStore, returning edges in both
// directions restricted to the given relation types.
func (s *MemoryGraphStore) Neighbors(ctx context.Context, nodeID string, relations []fault.RelationType) ([]fault.Edge, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	allowed := make(map[fault.RelationType]bool, len(relations))
	for _, r := range relations {
		allowed[r] = true
	}

	var out []fault.Edge
	for _, e := range s.edges {
		if len(allowed) > 0 && !allowed[e.Relation] {
			continue
		}
		if e.Source == nodeID {
			if target := s.nodes[e.Target]; target != nil {
				out = append(out, fault.Edge{Relation: e.Relation, Node: *target, Outgoing: true})
			}
		}
		if e.Target == nodeID {
			if source := s.nodes[e.Source]; source != nil {
				out = append(out, fault.Edge{Relation: e.Relation, Node: *source, Outgoing: false})
			}
		}
	}
	return out, nil
}

// NodeCount returns the number of nodes held by the store.
func (s *MemoryGraphStore) NodeCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of edges held by the store.
func (s *MemoryGraphStore) EdgeCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.edges)
}
