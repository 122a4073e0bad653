package fault_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hecongqing/shukongdashi/pkg/fault"
	"github.com/hecongqing/shukongdashi/pkg/fault/algorithms"
	"github.com/hecongqing/shukongdashi/pkg/fault/caseindex"
	"github.com/hecongqing/shukongdashi/pkg/fault/processors"
	"github.com/hecongqing/shukongdashi/pkg/fault/storage"
)

func testGraphStore(t *testing.T) *storage.MemoryGraphStore {
	t.Helper()
	store := storage.NewMemoryGraphStore()
	symptom := store.AddNode("主轴不转", "Symptom", nil)
	cause := store.AddNode("轴承磨损", "Cause", nil)
	action := store.AddNode("更换轴承", "Action", nil)
	require.NoError(t, store.AddRelation(symptom.ID, cause.ID, fault.RelationCausedBy))
	require.NoError(t, store.AddRelation(cause.ID, action.ID, fault.RelationResolvedBy))
	return store
}

func testCaseIndex(t *testing.T, cases ...fault.FaultCase) *caseindex.Index {
	t.Helper()
	idx, err := caseindex.NewIndex(context.Background(), processors.NewTextNormalizer())
	require.NoError(t, err)
	for _, c := range cases {
		require.NoError(t, idx.AddCase(context.Background(), c))
	}
	return idx
}

func newTestAnalyzer(t *testing.T, store fault.GraphStore, idx fault.CaseIndex) *fault.Analyzer {
	t.Helper()
	normalizer := processors.NewTextNormalizer()
	extractor := processors.NewElementExtractor(nil, nil)
	reasoner := algorithms.NewGraphReasoner(store, nil)
	return fault.NewAnalyzer(normalizer, extractor, reasoner, idx, store, fault.DefaultAnalyzerConfig())
}

func spindleCase() fault.FaultCase {
	return fault.FaultCase{
		ID:             "hist-1",
		Description:    "主轴不转并伴随异响",
		Causes:         []string{"轴承磨损"},
		Solutions:      []string{"更换轴承"},
		FeedbackWeight: 1.0,
		CreatedAt:      time.Now(),
	}
}

func TestAnalyzeEndToEnd(t *testing.T) {
	store := testGraphStore(t)
	idx := testCaseIndex(t, spindleCase())
	a := newTestAnalyzer(t, store, idx)

	result, err := a.Analyze(context.Background(), "主轴不转，报警E60，需要更换轴承", nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	elementKeys := map[string]bool{}
	for _, el := range result.Elements {
		elementKeys[el.Key()] = true
	}
	assert.True(t, elementKeys["主轴|LOCATION"])
	assert.True(t, elementKeys["不转|PHENOMENON"])
	assert.True(t, elementKeys["e60|ALARM_CODE"])

	require.NotEmpty(t, result.Causes)
	assert.Equal(t, "轴承磨损", result.Causes[0].Text)
	require.NotEmpty(t, result.Solutions)
	assert.Equal(t, "更换轴承", result.Solutions[0].Text)

	assert.Greater(t, result.OverallConfidence, 0.5)
	assert.LessOrEqual(t, result.OverallConfidence, 1.0)
	assert.Empty(t, result.DegradedStages)
	assert.Equal(t, fault.StateCompleted, result.State)
	assert.NotEmpty(t, result.ReasoningPaths)
}

func TestAnalyzeIdempotent(t *testing.T) {
	store := testGraphStore(t)
	idx := testCaseIndex(t, spindleCase())
	a := newTestAnalyzer(t, store, idx)

	first, err := a.Analyze(context.Background(), "主轴不转，报警E60", nil)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), "主轴不转，报警E60", nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAnalyzeQueryContextPhenomena(t *testing.T) {
	store := testGraphStore(t)
	idx := testCaseIndex(t)
	a := newTestAnalyzer(t, store, idx)

	result, err := a.Analyze(context.Background(), "机床停止工作", &fault.QueryContext{
		EquipmentBrand:   "发那科",
		AlarmCode:        "ALM401",
		RelatedPhenomena: []string{"主轴不转"},
	})
	require.NoError(t, err)

	elementKeys := map[string]bool{}
	for _, el := range result.Elements {
		elementKeys[el.Key()] = true
	}
	assert.True(t, elementKeys["不转|PHENOMENON"], "context phenomena feed element extraction")

	// A known alarm code contributes its canned check-list.
	solutionTexts := map[string]fault.Provenance{}
	for _, s := range result.Solutions {
		solutionTexts[s.Text] = s.Provenance
	}
	require.Contains(t, solutionTexts, "检查刀库液压系统压力")
	assert.Equal(t, fault.ProvenanceHint, solutionTexts["检查刀库液压系统压力"])
}

type countingReasoner struct {
	calls int
	paths []fault.ReasoningPath
	err   error
}

func (c *countingReasoner) Reason(ctx context.Context, elements []fault.FaultElement, maxDepth int) ([]fault.ReasoningPath, error) {
	c.calls++
	return c.paths, c.err
}

type countingIndex struct {
	queryCalls int
	cases      []fault.ScoredCase
	err        error
}

func (c *countingIndex) Query(ctx context.Context, text string, topK int, minSimilarity float64) ([]fault.ScoredCase, error) {
	c.queryCalls++
	return c.cases, c.err
}
func (c *countingIndex) AddCase(ctx context.Context, fc fault.FaultCase) error { return nil }
func (c *countingIndex) UpdateFeedback(ctx context.Context, caseID string, delta float64) error {
	return nil
}
func (c *countingIndex) Count() int { return len(c.cases) }

func TestAnalyzeEmptyInputSkipsServices(t *testing.T) {
	reasoner := &countingReasoner{}
	idx := &countingIndex{}
	a := fault.NewAnalyzer(
		processors.NewTextNormalizer(),
		processors.NewElementExtractor(nil, nil),
		reasoner,
		idx,
		nil,
		fault.DefaultAnalyzerConfig(),
	)

	for _, input := range []string{"", "   ", "###@@@"} {
		result, err := a.Analyze(context.Background(), input, nil)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Empty(t, result.Elements)
		assert.Empty(t, result.Causes)
		assert.Empty(t, result.Solutions)
		assert.Zero(t, result.OverallConfidence)
		assert.Equal(t, fault.StateCompleted, result.State)
	}
	assert.Zero(t, reasoner.calls, "graph reasoning must not run for empty input")
	assert.Zero(t, idx.queryCalls, "case matching must not run for empty input")
}

func TestAnalyzeDegradedGraphStage(t *testing.T) {
	reasoner := &countingReasoner{err: errors.New("graph store down")}
	idx := testCaseIndex(t, spindleCase())
	a := fault.NewAnalyzer(
		processors.NewTextNormalizer(),
		processors.NewElementExtractor(nil, nil),
		reasoner,
		idx,
		nil,
		fault.DefaultAnalyzerConfig(),
	)

	result, err := a.Analyze(context.Background(), "主轴不转并伴随异响", nil)
	require.NoError(t, err, "stage failure must not abort the pipeline")
	assert.Contains(t, result.DegradedStages, fault.StageGraph)
	assert.Equal(t, fault.StateDegraded, result.State)
	assert.Empty(t, result.ReasoningPaths)

	// Case-derived answers still flow through at lowered trust.
	require.NotEmpty(t, result.Solutions)
	assert.Equal(t, "更换轴承", result.Solutions[0].Text)
	assert.Greater(t, result.OverallConfidence, 0.0)
}

func TestRecordFeedbackBoostsSolutionRank(t *testing.T) {
	idx := testCaseIndex(t, spindleCase())
	a := newTestAnalyzer(t, storage.NewMemoryGraphStore(), idx)
	question := "主轴不转并伴随异响"

	before, err := a.Analyze(context.Background(), question, nil)
	require.NoError(t, err)
	require.NotEmpty(t, before.Solutions)

	require.NoError(t, a.RecordFeedback(context.Background(), question, "更换轴承", 1.0))

	after, err := a.Analyze(context.Background(), question, nil)
	require.NoError(t, err)
	require.NotEmpty(t, after.Solutions)
	assert.Greater(t, after.Solutions[0].Confidence, before.Solutions[0].Confidence)
}

func TestRecordFeedbackCreatesCaseForEffectiveUnknownSolution(t *testing.T) {
	idx := testCaseIndex(t, spindleCase())
	a := newTestAnalyzer(t, storage.NewMemoryGraphStore(), idx)

	require.NoError(t, a.RecordFeedback(context.Background(), "液压系统压力不足", "更换液压泵", 0.9))
	assert.Equal(t, 2, idx.Count())

	matches, err := idx.Query(context.Background(), "液压系统压力不足", 3, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Contains(t, matches[0].Case.Solutions, "更换液压泵")
}

func TestRecordFeedbackIgnoresIneffectiveUnknownSolution(t *testing.T) {
	idx := testCaseIndex(t, spindleCase())
	a := newTestAnalyzer(t, storage.NewMemoryGraphStore(), idx)

	require.NoError(t, a.RecordFeedback(context.Background(), "液压系统压力不足", "重启机床", 0.3))
	assert.Equal(t, 1, idx.Count())
}

func TestRecordFeedbackValidatesInput(t *testing.T) {
	idx := testCaseIndex(t)
	a := newTestAnalyzer(t, storage.NewMemoryGraphStore(), idx)

	err := a.RecordFeedback(context.Background(), "", "更换轴承", 1.0)
	require.ErrorIs(t, err, fault.ErrEmptyInput)
	err = a.RecordFeedback(context.Background(), "主轴不转", "  ", 1.0)
	require.ErrorIs(t, err, fault.ErrEmptyInput)
}

func TestStatusReportsCollaborators(t *testing.T) {
	store := testGraphStore(t)
	idx := testCaseIndex(t, spindleCase())
	a := newTestAnalyzer(t, store, idx)

	status := a.Status(context.Background())
	assert.True(t, status.GraphStoreUp)
	assert.False(t, status.TaggerServiceUp, "no tagger configured")
	assert.Equal(t, 1, status.CaseCount)
}

func TestAddCaseThroughAnalyzer(t *testing.T) {
	idx := testCaseIndex(t)
	a := newTestAnalyzer(t, storage.NewMemoryGraphStore(), idx)

	require.NoError(t, a.AddCase(context.Background(), spindleCase()))
	assert.Equal(t, 1, idx.Count())
}
