package algorithms

import (
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"

	"github.com/hecongqing/shukongdashi/pkg/fault"
	"github.com/hecongqing/shukongdashi/pkg/fault/metrics"
)

const (
	maxSeedNodesPerElement = 3
	maxPathsPerRequest     = 100
)

// seedLabelHints narrows seed resolution by ontology label where the
// element category implies one. Unlabeled retry happens when the hint
// finds nothing.
var seedLabelHints = map[fault.FaultCategory]string{
	fault.CategoryAlarmCode: "FaultCode",
}

// GraphReasoner resolves seed elements against the knowledge graph and
// walks breadth-first to candidate cause and solution nodes. The
// ontology permits relation cycles, so termination is enforced by a
// per-path visited set and the depth bound, never assumed from the
// data.
type GraphReasoner struct {
	store   fault.GraphStore
	allowed []fault.RelationType
	logger  *logrus.Logger
}

// NewGraphReasoner creates a reasoner over the given store. relations
// defaults to the full relation vocabulary in priority order.
func NewGraphReasoner(store fault.GraphStore, relations []fault.RelationType) *GraphReasoner {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if len(relations) == 0 {
		relations = fault.RelationPriority
	}
	return &GraphReasoner{store: store, allowed: relations, logger: logger}
}

// Reason implements fault.PathReasoner. No resolvable seed yields an
// empty result, not an error; store failures and context expiry are
// returned so the orchestrator can demote the stage.
func (r *GraphReasoner) Reason(ctx context.Context, elements []fault.FaultElement, maxDepth int) ([]fault.ReasoningPath, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}

	var paths []fault.ReasoningPath
	for _, element := range elements {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		seeds, err := r.resolveSeeds(ctx, element)
		if err != nil {
			return nil, err
		}
		if len(seeds) == 0 {
			metrics.GraphSeedsResolved.WithLabelValues("unresolved").Inc()
			continue
		}
		metrics.GraphSeedsResolved.WithLabelValues("resolved").Inc()

		for _, seed := range seeds {
			seedPaths, err := r.traverse(ctx, element, seed, maxDepth, maxPathsPerRequest-len(paths))
			if err != nil {
				return nil, err
			}
			paths = append(paths, seedPaths...)
			if len(paths) >= maxPathsPerRequest {
				r.logger.WithField("path_count", len(paths)).Warn("Path budget exhausted, stopping traversal")
				metrics.GraphPathsFound.Add(float64(len(paths)))
				return paths, nil
			}
		}
	}
	metrics.GraphPathsFound.Add(float64(len(paths)))
	return paths, nil
}

// resolveSeeds fuzzily matches an element against graph node names.
func (r *GraphReasoner) resolveSeeds(ctx context.Context, element fault.FaultElement) ([]fault.KnowledgeNode, error) {
	nodes, err := r.store.FindNodes(ctx, element.Content, seedLabelHints[element.Category])
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 && seedLabelHints[element.Category] != "" {
		nodes, err = r.store.FindNodes(ctx, element.Content, "")
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(nodes, func(i, j int) bool {
		// Shorter names first: the tightest fuzzy match wins.
		if len(nodes[i].Name) != len(nodes[j].Name) {
			return len(nodes[i].Name) < len(nodes[j].Name)
		}
		return nodes[i].Name < nodes[j].Name
	})
	if len(nodes) > maxSeedNodesPerElement {
		nodes = nodes[:maxSeedNodesPerElement]
	}
	return nodes, nil
}

type frontierEntry struct {
	node    fault.KnowledgeNode
	steps   []fault.ReasoningStep
	visited mapset.Set[string]
}

// traverse walks breadth-first from one seed node up to maxDepth hops.
// A path is recorded whenever an edge reaches a cause or an action
// node; expansion continues past it so deeper corroborating paths are
// still found. Distinct paths to the same terminal are kept — result
// deduplication belongs to the aggregator.
func (r *GraphReasoner) traverse(ctx context.Context, seed fault.FaultElement, start fault.KnowledgeNode, maxDepth, budget int) ([]fault.ReasoningPath, error) {
	var paths []fault.ReasoningPath

	queue := []frontierEntry{{
		node:    start,
		visited: mapset.NewSet(start.ID),
	}}

	for len(queue) > 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		current := queue[0]
		queue = queue[1:]
		depth := len(current.steps)
		if depth >= maxDepth {
			continue
		}

		edges, err := r.store.Neighbors(ctx, current.node.ID, r.allowed)
		if err != nil {
			return nil, err
		}
		sortEdges(edges)

		for _, edge := range edges {
			if current.visited.Contains(edge.Node.ID) {
				continue
			}
			step := fault.ReasoningStep{
				From:     current.node,
				Relation: edge.Relation,
				To:       edge.Node,
				Depth:    depth,
				Outgoing: edge.Outgoing,
			}
			steps := append(append([]fault.ReasoningStep(nil), current.steps...), step)

			// Only the forward reading of these relations names a cause
			// or an action; an incoming edge is traversed but never
			// recorded as an answer.
			if edge.Outgoing && (edge.Relation == fault.RelationCausedBy || edge.Relation == fault.RelationResolvedBy) {
				paths = append(paths, fault.ReasoningPath{Seed: seed, Steps: steps})
				if len(paths) >= budget {
					return paths, nil
				}
			}

			visited := current.visited.Clone()
			visited.Add(edge.Node.ID)
			queue = append(queue, frontierEntry{node: edge.Node, steps: steps, visited: visited})
		}
	}
	return paths, nil
}

// sortEdges fixes expansion order: relation priority first, then node
// name, so equally deep candidates tie-break deterministically.
func sortEdges(edges []fault.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		ri, rj := fault.RelationRank(edges[i].Relation), fault.RelationRank(edges[j].Relation)
		if ri != rj {
			return ri < rj
		}
		return edges[i].Node.Name < edges[j].Node.Name
	})
}
