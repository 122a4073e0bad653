package fault

import (
	"context"
	"strings"
	"time"
)

// FaultCategory classifies an extracted fault element.
type FaultCategory string

const (
	CategoryOperation  FaultCategory = "OPERATION"
	CategoryPhenomenon FaultCategory = "PHENOMENON"
	CategoryLocation   FaultCategory = "LOCATION"
	CategoryAlarmCode  FaultCategory = "ALARM_CODE"
)

// Categories lists every fault category in a fixed order.
func Categories() []FaultCategory {
	return []FaultCategory{CategoryOperation, CategoryPhenomenon, CategoryLocation, CategoryAlarmCode}
}

// Span marks the byte offsets of an element inside the source text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// FaultElement is a typed span extracted from a fault description.
type FaultElement struct {
	Content    string        `json:"content"`
	Category   FaultCategory `json:"category"`
	Confidence float64       `json:"confidence"`
	Span       *Span         `json:"span,omitempty"`
}

// Key returns the deduplication key (normalized content, category).
func (e FaultElement) Key() string {
	return strings.ToLower(strings.TrimSpace(e.Content)) + "|" + string(e.Category)
}

// RelationType is one of the fixed relation vocabulary of the ontology.
type RelationType string

const (
	RelationCausedBy         RelationType = "caused_by"
	RelationResolvedBy       RelationType = "resolved_by"
	RelationLeadsTo          RelationType = "leads_to"
	RelationExhibitsSymptom  RelationType = "exhibits_symptom"
	RelationHasFaultCode     RelationType = "has_fault_code"
	RelationAffectsParameter RelationType = "affects_parameter"
	RelationParameterOf      RelationType = "parameter_of"
	RelationHasComponent     RelationType = "has_component"
	RelationPartOf           RelationType = "part_of"
	RelationActionOn         RelationType = "action_on"
	RelationUsesMaterial     RelationType = "uses_material"
	RelationRelatedTo        RelationType = "related_to"
)

// RelationPriority is the traversal expansion order. Earlier types win
// ties between equally deep candidate nodes.
var RelationPriority = []RelationType{
	RelationCausedBy,
	RelationResolvedBy,
	RelationLeadsTo,
	RelationExhibitsSymptom,
	RelationHasFaultCode,
	RelationAffectsParameter,
	RelationHasComponent,
	RelationPartOf,
	RelationActionOn,
	RelationParameterOf,
	RelationUsesMaterial,
	RelationRelatedTo,
}

// RelationRank returns the priority index of a relation type, with
// unknown types ranked last.
func RelationRank(t RelationType) int {
	for i, r := range RelationPriority {
		if r == t {
			return i
		}
	}
	return len(RelationPriority)
}

// KnowledgeNode is a reference to a node owned by the graph store.
type KnowledgeNode struct {
	ID         string                 `json:"id"`
	Label      string                 `json:"label"`
	Name       string                 `json:"name"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Edge is a single relation incident to a node, as returned by a graph
// store neighborhood lookup. Outgoing is false when the relation points
// at the queried node.
type Edge struct {
	Relation RelationType  `json:"relation"`
	Node     KnowledgeNode `json:"node"`
	Outgoing bool          `json:"outgoing"`
}

// ReasoningStep is one traversed edge at a given depth. Outgoing
// records the direction the edge was walked in: false means the
// relation points back at From, so To is the relation's subject, not
// its object.
type ReasoningStep struct {
	From     KnowledgeNode `json:"from"`
	Relation RelationType  `json:"relation"`
	To       KnowledgeNode `json:"to"`
	Depth    int           `json:"depth"`
	Outgoing bool          `json:"outgoing"`
}

// ReasoningPath is an ordered, cycle-free sequence of steps from a seed
// node to a candidate cause or solution node.
type ReasoningPath struct {
	Seed  FaultElement    `json:"seed"`
	Steps []ReasoningStep `json:"steps"`
}

// Terminal returns the final node of the path.
func (p ReasoningPath) Terminal() (KnowledgeNode, bool) {
	if len(p.Steps) == 0 {
		return KnowledgeNode{}, false
	}
	return p.Steps[len(p.Steps)-1].To, true
}

// Depth returns the number of hops in the path.
func (p ReasoningPath) Depth() int {
	return len(p.Steps)
}

// FaultCase is one historical fault record in the case corpus.
type FaultCase struct {
	ID             string    `json:"id"`
	Description    string    `json:"description"`
	Causes         []string  `json:"causes"`
	Solutions      []string  `json:"solutions"`
	FeedbackWeight float64   `json:"feedback_weight"`
	CreatedAt      time.Time `json:"created_at"`
}

// ScoredCase pairs a retrieved case with its cosine similarity.
type ScoredCase struct {
	Case       FaultCase `json:"case"`
	Similarity float64   `json:"similarity"`
}

// Provenance tags where a candidate answer came from.
type Provenance string

const (
	ProvenanceGraph  Provenance = "graph"
	ProvenanceCase   Provenance = "case"
	ProvenanceMerged Provenance = "merged"
	// ProvenanceHint marks canned alarm-code check-list entries.
	ProvenanceHint Provenance = "hint"
)

// Candidate is one ranked cause or solution.
type Candidate struct {
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
}

// Stage names one pipeline stage for diagnostics and metrics.
type Stage string

const (
	StageNormalize Stage = "normalize"
	StageExtract   Stage = "extract"
	StageGraph     Stage = "graph"
	StageCases     Stage = "cases"
	StageAggregate Stage = "aggregate"
)

// State is the per-request pipeline state machine position.
type State string

const (
	StateReceived          State = "RECEIVED"
	StateNormalized        State = "NORMALIZED"
	StateElementsExtracted State = "ELEMENTS_EXTRACTED"
	StateGraphQueried      State = "GRAPH_QUERIED"
	StateCasesMatched      State = "CASES_MATCHED"
	StateAggregated        State = "AGGREGATED"
	StateCompleted         State = "COMPLETED"
	StateDegraded          State = "DEGRADED"
)

// QueryContext carries optional equipment context supplied alongside a
// fault description.
type QueryContext struct {
	EquipmentBrand   string   `json:"equipment_brand,omitempty"`
	Model            string   `json:"model,omitempty"`
	AlarmCode        string   `json:"alarm_code,omitempty"`
	RelatedPhenomena []string `json:"related_phenomena,omitempty"`
}

// AnalysisResult is the ranked, confidence-scored answer for one
// analyze request. DegradedStages is diagnostic metadata naming stages
// that contributed nothing because a collaborator was down or slow.
type AnalysisResult struct {
	Elements          []FaultElement  `json:"elements"`
	ReasoningPaths    []ReasoningPath `json:"reasoning_paths"`
	Causes            []Candidate     `json:"causes"`
	Solutions         []Candidate     `json:"solutions"`
	OverallConfidence float64         `json:"overall_confidence"`
	DegradedStages    []Stage         `json:"degraded_stages,omitempty"`
	// State is the terminal state machine position: COMPLETED, or
	// DEGRADED when any stage contributed nothing it should have.
	State State `json:"state"`
}

// SystemStatus reports the health of the pipeline's collaborators.
type SystemStatus struct {
	GraphStoreUp    bool `json:"graph_store_up"`
	TaggerServiceUp bool `json:"tagger_service_up"`
	CaseCount       int  `json:"case_count"`
}

// Normalizer cleans and tokenizes raw fault descriptions.
type Normalizer interface {
	Clean(text string) string
	Sentences(text string) []string
	Tokens(text string) []string
}

// ElementExtractor classifies spans of a fault description into typed
// fault elements.
type ElementExtractor interface {
	Extract(ctx context.Context, text string) ([]FaultElement, error)
	// Available reports whether the external tagging capability is
	// reachable; extraction itself never fails on tagger outages.
	Available(ctx context.Context) bool
}

// PathReasoner traverses the knowledge graph from seed elements to
// candidate cause and solution nodes.
type PathReasoner interface {
	Reason(ctx context.Context, elements []FaultElement, maxDepth int) ([]ReasoningPath, error)
}

// CaseIndex retrieves historically similar fault cases.
type CaseIndex interface {
	Query(ctx context.Context, text string, topK int, minSimilarity float64) ([]ScoredCase, error)
	AddCase(ctx context.Context, c FaultCase) error
	UpdateFeedback(ctx context.Context, caseID string, delta float64) error
	Count() int
}

// GraphStore is the logical traversal capability offered by a
// property-graph knowledge store. The pipeline holds node references
// only and never owns node lifecycle.
type GraphStore interface {
	Connect(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error
	// FindNodes resolves nodes by fuzzy name match, optionally
	// restricted to a label.
	FindNodes(ctx context.Context, name string, label string) ([]KnowledgeNode, error)
	// Neighbors returns edges incident to a node in both directions,
	// restricted to the given relation types.
	Neighbors(ctx context.Context, nodeID string, relations []RelationType) ([]Edge, error)
}

// CaseStore persists the case corpus behind a CaseIndex.
type CaseStore interface {
	Load(ctx context.Context) ([]FaultCase, error)
	Append(ctx context.Context, c FaultCase) error
	UpdateWeight(ctx context.Context, caseID string, weight float64) error
}
