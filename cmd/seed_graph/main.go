package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hecongqing/shukongdashi/pkg/fault"
	"github.com/hecongqing/shukongdashi/pkg/fault/storage"
)

var (
	inputFile = flag.String("input", "", "JSON ontology file to load")
	neo4jURI  = flag.String("neo4j-uri", "", "Neo4j URI; omit for a dry run against an in-memory store")
	neo4jUser = flag.String("neo4j-user", "neo4j", "Neo4j username")
	neo4jPass = flag.String("neo4j-pass", "", "Neo4j password")
	logLevel  = flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
)

// ontology is the seed file shape: nodes referenced by name from the
// relation list.
type ontology struct {
	Nodes []struct {
		Name       string                 `json:"name"`
		Label      string                 `json:"label"`
		Properties map[string]interface{} `json:"properties,omitempty"`
	} `json:"nodes"`
	Relations []struct {
		Source string `json:"source"`
		Target string `json:"target"`
		Type   string `json:"type"`
	} `json:"relations"`
}

func main() {
	flag.Parse()

	logger := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatalf("Invalid log level: %v", err)
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if *inputFile == "" {
		logger.Fatal("Input file must be specified")
	}

	data, err := os.ReadFile(*inputFile)
	if err != nil {
		logger.Fatalf("Failed to read input file: %v", err)
	}

	var onto ontology
	if err := json.Unmarshal(data, &onto); err != nil {
		logger.Fatalf("Failed to parse ontology: %v", err)
	}

	ctx := context.Background()
	if *neo4jURI == "" {
		seedMemory(ctx, logger, onto)
		return
	}
	seedNeo4j(ctx, logger, onto)
}

func seedNeo4j(ctx context.Context, logger *logrus.Logger, onto ontology) {
	store, err := storage.NewNeo4jGraphStore(*neo4jURI, *neo4jUser, *neo4jPass)
	if err != nil {
		logger.Fatalf("Failed to create Neo4j store: %v", err)
	}
	defer store.Close()

	if err := store.Connect(ctx); err != nil {
		logger.Fatalf("Neo4j not reachable: %v", err)
	}

	idsByName := make(map[string]string, len(onto.Nodes))
	for _, n := range onto.Nodes {
		node := fault.KnowledgeNode{
			ID:         uuid.New().String(),
			Name:       n.Name,
			Label:      n.Label,
			Properties: n.Properties,
		}
		if err := store.AddNode(ctx, node); err != nil {
			logger.Fatalf("Failed to add node %q: %v", n.Name, err)
		}
		idsByName[n.Name] = node.ID
	}

	added := 0
	for _, r := range onto.Relations {
		source, sourceOK := idsByName[r.Source]
		target, targetOK := idsByName[r.Target]
		if !sourceOK || !targetOK {
			logger.WithFields(logrus.Fields{
				"source": r.Source,
				"target": r.Target,
			}).Warn("Skipping relation with unknown endpoints")
			continue
		}
		if err := store.AddRelation(ctx, source, target, fault.RelationType(r.Type)); err != nil {
			logger.Fatalf("Failed to add relation %s-%s->%s: %v", r.Source, r.Type, r.Target, err)
		}
		added++
	}

	logger.WithFields(logrus.Fields{
		"nodes":     len(onto.Nodes),
		"relations": added,
	}).Info("Knowledge graph seeded")
}

// seedMemory validates the ontology against an in-memory store without
// touching a database.
func seedMemory(ctx context.Context, logger *logrus.Logger, onto ontology) {
	store := storage.NewMemoryGraphStore()

	idsByName := make(map[string]string, len(onto.Nodes))
	for _, n := range onto.Nodes {
		node := store.AddNode(n.Name, n.Label, n.Properties)
		idsByName[n.Name] = node.ID
	}
	for _, r := range onto.Relations {
		source, sourceOK := idsByName[r.Source]
		target, targetOK := idsByName[r.Target]
		if !sourceOK || !targetOK {
			logger.WithFields(logrus.Fields{
				"source": r.Source,
				"target": r.Target,
			}).Warn("Skipping relation with unknown endpoints")
			continue
		}
		if err := store.AddRelation(source, target, fault.RelationType(r.Type)); err != nil {
			logger.Fatalf("Failed to add relation: %v", err)
		}
	}

	logger.WithFields(logrus.Fields{
		"nodes": store.NodeCount(),
		"edges": store.EdgeCount(),
	}).Info("Ontology validated against in-memory store (dry run)")
}
