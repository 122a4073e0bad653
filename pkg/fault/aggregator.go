package fault

import (
	"sort"
	"strings"
)

// ScorePolicy is the configurable confidence-combination policy. The
// numeric weighting of graph depth, case similarity, and feedback is a
// policy choice, not a fixed formula.
type ScorePolicy struct {
	// GraphWeight and CaseWeight blend the best graph-derived and
	// case-derived confidences into the overall confidence when both
	// sources contributed.
	GraphWeight float64
	CaseWeight  float64
	// CorroborationBonus is added per independent corroborating source
	// beyond the first when computing overall confidence.
	CorroborationBonus float64
	// MaxCauses and MaxSolutions bound the ranked output lists.
	MaxCauses    int
	MaxSolutions int
	// ProvenancePriority orders ties between candidates with equal
	// confidence; earlier entries rank higher.
	ProvenancePriority []Provenance
}

// DefaultScorePolicy returns the default weighting.
func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{
		GraphWeight:        0.6,
		CaseWeight:         0.4,
		CorroborationBonus: 0.1,
		MaxCauses:          5,
		MaxSolutions:       10,
		ProvenancePriority: []Provenance{ProvenanceGraph, ProvenanceCase, ProvenanceMerged},
	}
}

func (p ScorePolicy) provenanceRank(prov Provenance) int {
	for i, pp := range p.ProvenancePriority {
		if pp == prov {
			return i
		}
	}
	return len(p.ProvenancePriority)
}

// pathScore decays candidate confidence with traversal depth.
func pathScore(depth int) float64 {
	if depth < 0 {
		depth = 0
	}
	return 1.0 / (1.0 + float64(depth))
}

// caseScore weights case-derived candidates by retrieval similarity and
// accumulated feedback, clamped into [0,1].
func caseScore(similarity, feedbackWeight float64) float64 {
	return clamp01(similarity * feedbackWeight)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeCandidateText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.TrimSpace(s)), " "))
}

// Aggregator merges graph-derived and case-derived candidates into one
// ranked, deduplicated answer.
type Aggregator struct {
	policy ScorePolicy
}

// NewAggregator creates an aggregator with the given policy.
func NewAggregator(policy ScorePolicy) *Aggregator {
	if policy.GraphWeight <= 0 && policy.CaseWeight <= 0 {
		policy.GraphWeight = DefaultScorePolicy().GraphWeight
		policy.CaseWeight = DefaultScorePolicy().CaseWeight
	}
	if policy.MaxCauses <= 0 {
		policy.MaxCauses = DefaultScorePolicy().MaxCauses
	}
	if policy.MaxSolutions <= 0 {
		policy.MaxSolutions = DefaultScorePolicy().MaxSolutions
	}
	if len(policy.ProvenancePriority) == 0 {
		policy.ProvenancePriority = DefaultScorePolicy().ProvenancePriority
	}
	return &Aggregator{policy: policy}
}

// Aggregate extracts candidate causes and solutions from reasoning
// paths and similar cases, merges duplicates by normalized text taking
// the maximum confidence, and sorts descending by confidence with
// provenance as the stable tie-break.
func (a *Aggregator) Aggregate(paths []ReasoningPath, cases []ScoredCase) (causes, solutions []Candidate, overall float64) {
	causeAcc := newCandidateSet(a.policy)
	solutionAcc := newCandidateSet(a.policy)

	for _, p := range paths {
		if len(p.Steps) == 0 {
			continue
		}
		// Only the path's terminal node answers the query, and only
		// when its closing edge was walked forward: a caused_by edge
		// read in reverse would promote the symptom itself as a cause.
		last := p.Steps[len(p.Steps)-1]
		if !last.Outgoing {
			continue
		}
		switch last.Relation {
		case RelationCausedBy:
			causeAcc.add(last.To.Name, pathScore(last.Depth), ProvenanceGraph)
		case RelationResolvedBy:
			solutionAcc.add(last.To.Name, pathScore(last.Depth), ProvenanceGraph)
		}
	}

	for _, sc := range cases {
		score := caseScore(sc.Similarity, sc.Case.FeedbackWeight)
		for _, c := range sc.Case.Causes {
			causeAcc.add(c, score, ProvenanceCase)
		}
		for _, s := range sc.Case.Solutions {
			solutionAcc.add(s, score, ProvenanceCase)
		}
	}

	causes = causeAcc.ranked(a.policy.MaxCauses)
	solutions = solutionAcc.ranked(a.policy.MaxSolutions)
	overall = a.overallConfidence(causes, solutions, paths, cases)
	return causes, solutions, overall
}

// overallConfidence blends the best graph-derived and case-derived
// confidences by the source weights when both contributed, falls back
// to the single source otherwise, and adds the corroboration bonus per
// extra source. It is monotonically non-decreasing in each source's
// best confidence.
func (a *Aggregator) overallConfidence(causes, solutions []Candidate, paths []ReasoningPath, cases []ScoredCase) float64 {
	var bestGraph, bestCase float64
	for _, c := range append(append([]Candidate(nil), causes...), solutions...) {
		switch c.Provenance {
		case ProvenanceGraph:
			bestGraph = max(bestGraph, c.Confidence)
		case ProvenanceCase:
			bestCase = max(bestCase, c.Confidence)
		case ProvenanceMerged:
			bestGraph = max(bestGraph, c.Confidence)
			bestCase = max(bestCase, c.Confidence)
		}
	}

	var base float64
	switch {
	case bestGraph > 0 && bestCase > 0:
		base = a.policy.GraphWeight*bestGraph + a.policy.CaseWeight*bestCase
	case bestGraph > 0:
		base = bestGraph
	case bestCase > 0:
		base = bestCase
	default:
		return 0
	}

	sources := 0
	if len(paths) > 0 {
		sources++
	}
	if len(cases) > 0 {
		sources++
	}
	if sources < 1 {
		sources = 1
	}
	return clamp01(base * (1.0 + a.policy.CorroborationBonus*float64(sources-1)))
}

// MergeHints folds alarm-code check-list entries into an already
// ranked solution list at hint confidence, keeping the usual
// max-not-sum merge semantics for entries both sides propose.
func (a *Aggregator) MergeHints(solutions []Candidate, hints []string) []Candidate {
	if len(hints) == 0 {
		return solutions
	}
	acc := newCandidateSet(a.policy)
	for _, s := range solutions {
		acc.add(s.Text, s.Confidence, s.Provenance)
	}
	for _, h := range hints {
		acc.add(h, HintConfidence, ProvenanceHint)
	}
	return acc.ranked(a.policy.MaxSolutions)
}

// candidateSet deduplicates candidates by normalized text. A candidate
// proposed by both sources keeps the maximum confidence, never the sum,
// and is tagged merged.
type candidateSet struct {
	policy ScorePolicy
	order  []string
	byKey  map[string]*Candidate
}

func newCandidateSet(policy ScorePolicy) *candidateSet {
	return &candidateSet{policy: policy, byKey: make(map[string]*Candidate)}
}

func (cs *candidateSet) add(text string, confidence float64, prov Provenance) {
	key := normalizeCandidateText(text)
	if key == "" {
		return
	}
	confidence = clamp01(confidence)

	existing, ok := cs.byKey[key]
	if !ok {
		cs.order = append(cs.order, key)
		cs.byKey[key] = &Candidate{Text: strings.TrimSpace(text), Confidence: confidence, Provenance: prov}
		return
	}
	if confidence > existing.Confidence {
		existing.Confidence = confidence
	}
	if existing.Provenance != prov {
		existing.Provenance = ProvenanceMerged
	}
}

func (cs *candidateSet) ranked(limit int) []Candidate {
	out := make([]Candidate, 0, len(cs.order))
	for _, key := range cs.order {
		out = append(out, *cs.byKey[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return cs.policy.provenanceRank(out[i].Provenance) < cs.policy.provenanceRank(out[j].Provenance)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
