package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/pkg/errors"

	"github.com/hecongqing/shukongdashi/pkg/fault"
)

var labelPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Neo4jGraphStore implements fault.GraphStore against a Neo4j
// knowledge graph.
type Neo4jGraphStore struct {
	driver neo4j.Driver
	uri    string
}

// NewNeo4jGraphStore creates a Neo4j-backed graph store.
func NewNeo4jGraphStore(uri, username, password string) (*Neo4jGraphStore, error) {
	driver, err := neo4j.NewDriver(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, errors.Wrap(err, "creating Neo4j driver")
	}
	return &Neo4jGraphStore{driver: driver, uri: uri}, nil
}

// Connect implements fault.GraphStore.
func (s *Neo4jGraphStore) Connect(ctx context.Context) error {
	return s.Ping(ctx)
}

// Close implements fault.GraphStore.
func (s *Neo4jGraphStore) Close() error {
	if s.driver != nil {
		return s.driver.Close()
	}
	return nil
}

// Ping implements fault.GraphStore.
func (s *Neo4jGraphStore) Ping(ctx context.Context) error {
	session := s.driver.NewSession(neo4j.SessionConfig{})
	defer session.Close()

	result, err := session.Run("RETURN 1", nil)
	if err != nil {
		return errors.Wrap(fault.ErrStoreUnavailable, err.Error())
	}
	if _, err := result.Consume(); err != nil {
		return errors.Wrap(fault.ErrStoreUnavailable, err.Error())
	}
	return nil
}

// FindNodes implements fault.GraphStore with a case-insensitive
// CONTAINS match on node names, optionally restricted to a label.
func (s *Neo4jGraphStore) FindNodes(ctx context.Context, name string, label string) ([]fault.KnowledgeNode, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}

	query := `
		MATCH (n)
		WHERE toLower(n.name) CONTAINS toLower($name)
		RETURN coalesce(n.id, toString(id(n))) AS id, n.name AS name,
		       labels(n) AS labels, properties(n) AS props
		LIMIT 25
	`
	if label != "" {
		if !labelPattern.MatchString(label) {
			return nil, errors.Errorf("invalid node label %q", label)
		}
		query = fmt.Sprintf(`
			MATCH (n:%s)
			WHERE toLower(n.name) CONTAINS toLower($name)
			RETURN coalesce(n.id, toString(id(n))) AS id, n.name AS name,
			       labels(n) AS labels, properties(n) AS props
			LIMIT 25
		`, label)
	}

	session := s.driver.NewSession(neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close()

	result, err := session.Run(query, map[string]interface{}{"name": name})
	if err != nil {
		return nil, errors.Wrap(fault.ErrStoreUnavailable, err.Error())
	}

	var nodes []fault.KnowledgeNode
	for result.Next() {
		record := result.Record()
		nodes = append(nodes, recordToNode(record))
	}
	if err := result.Err(); err != nil {
		return nil, errors.Wrap(err, "reading node results")
	}
	return nodes, nil
}

// Neighbors implements fault.GraphStore, returning edges in both
// directions restricted to the given relation types.
func (s *Neo4jGraphStore) Neighbors(ctx context.Context, nodeID string, relations []fault.RelationType) ([]fault.Edge, error) {
	types := make([]string, 0, len(relations))
	for _, r := range relations {
		types = append(types, string(r))
	}

	query := `
		MATCH (n)-[r]-(m)
		WHERE coalesce(n.id, toString(id(n))) = $id
		  AND (size($types) = 0 OR type(r) IN $types)
		RETURN type(r) AS relation,
		       coalesce(m.id, toString(id(m))) AS id, m.name AS name,
		       labels(m) AS labels, properties(m) AS props,
		       startNode(r) = n AS outgoing
	`

	session := s.driver.NewSession(neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close()

	result, err := session.Run(query, map[string]interface{}{"id": nodeID, "types": types})
	if err != nil {
		return nil, errors.Wrap(fault.ErrStoreUnavailable, err.Error())
	}

	var edges []fault.Edge
	for result.Next() {
		record := result.Record()
		relation, _ := record.Get("relation")
		outgoing, _ := record.Get("outgoing")

		edge := fault.Edge{
			Relation: fault.RelationType(asString(relation)),
			Node:     recordToNode(record),
		}
		if b, ok := outgoing.(bool); ok {
			edge.Outgoing = b
		}
		edges = append(edges, edge)
	}
	if err := result.Err(); err != nil {
		return nil, errors.Wrap(err, "reading neighbor results")
	}
	return edges, nil
}

// AddNode merges a node by (name, label), used by the seed command.
func (s *Neo4jGraphStore) AddNode(ctx context.Context, node fault.KnowledgeNode) error {
	if !labelPattern.MatchString(node.Label) {
		return errors.Errorf("invalid node label %q", node.Label)
	}

	query := fmt.Sprintf(`
		MERGE (n:%s {name: $name})
		SET n.id = $id, n += $props
	`, node.Label)

	session := s.driver.NewSession(neo4j.SessionConfig{})
	defer session.Close()

	props := node.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	_, err := session.Run(query, map[string]interface{}{
		"name":  node.Name,
		"id":    node.ID,
		"props": props,
	})
	return errors.Wrap(err, "adding node")
}

// AddRelation merges a typed relation between two nodes by ID.
func (s *Neo4jGraphStore) AddRelation(ctx context.Context, sourceID, targetID string, relation fault.RelationType) error {
	if !labelPattern.MatchString(string(relation)) {
		return errors.Errorf("invalid relation type %q", relation)
	}

	query := fmt.Sprintf(`
		MATCH (a {id: $source})
		MATCH (b {id: $target})
		MERGE (a)-[r:%s]->(b)
	`, relation)

	session := s.driver.NewSession(neo4j.SessionConfig{})
	defer session.Close()

	_, err := session.Run(query, map[string]interface{}{
		"source": sourceID,
		"target": targetID,
	})
	return errors.Wrap(err, "adding relation")
}

func recordToNode(record *neo4j.Record) fault.KnowledgeNode {
	id, _ := record.Get("id")
	name, _ := record.Get("name")
	labels, _ := record.Get("labels")
	props, _ := record.Get("props")

	node := fault.KnowledgeNode{
		ID:   asString(id),
		Name: asString(name),
	}
	if labelList, ok := labels.([]interface{}); ok && len(labelList) > 0 {
		node.Label = asString(labelList[0])
	}
	if propMap, ok := props.(map[string]interface{}); ok {
		node.Properties = propMap
	}
	return node
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
