package caseindex

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hecongqing/shukongdashi/pkg/fault"
	"github.com/hecongqing/shukongdashi/pkg/fault/processors"
)

func seedCases() []fault.FaultCase {
	return []fault.FaultCase{
		{
			ID:             "case-1",
			Description:    "主轴不转，有异响",
			Causes:         []string{"轴承磨损"},
			Solutions:      []string{"更换轴承"},
			FeedbackWeight: 1.0,
		},
		{
			ID:             "case-2",
			Description:    "刀库换刀不到位",
			Causes:         []string{"刀链松动"},
			Solutions:      []string{"调整刀链张力"},
			FeedbackWeight: 1.0,
		},
		{
			ID:             "case-3",
			Description:    "液压系统漏油，压力下降",
			Causes:         []string{"密封圈老化"},
			Solutions:      []string{"更换密封圈"},
			FeedbackWeight: 1.0,
		},
	}
}

func newTestIndex(t *testing.T, cases []fault.FaultCase) *Index {
	t.Helper()
	idx, err := NewIndex(context.Background(), processors.NewTextNormalizer())
	require.NoError(t, err)
	for _, c := range cases {
		require.NoError(t, idx.AddCase(context.Background(), c))
	}
	return idx
}

func TestQueryEmptyCorpus(t *testing.T) {
	idx := newTestIndex(t, nil)

	matches, err := idx.Query(context.Background(), "主轴不转", 5, 0.1)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Zero(t, idx.Count())
}

func TestQuerySelfSimilarity(t *testing.T) {
	idx := newTestIndex(t, seedCases())

	matches, err := idx.Query(context.Background(), "主轴不转，有异响", 5, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "case-1", matches[0].Case.ID)
	assert.Greater(t, matches[0].Similarity, 0.5)
	if len(matches) > 1 {
		assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
	}
}

func TestQueryRespectsMinSimilarityAndTopK(t *testing.T) {
	idx := newTestIndex(t, seedCases())

	matches, err := idx.Query(context.Background(), "主轴有异响不转", 1, 0.05)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Similarity, 0.05)
	}

	// A threshold above any attainable similarity filters everything.
	matches, err = idx.Query(context.Background(), "完全无关的询问内容", 5, 0.99)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestQueryOrderedBySimilarity(t *testing.T) {
	idx := newTestIndex(t, seedCases())

	matches, err := idx.Query(context.Background(), "主轴不转", 5, 0.0)
	require.NoError(t, err)
	for n := 1; n < len(matches); n++ {
		assert.GreaterOrEqual(t, matches[n-1].Similarity, matches[n].Similarity)
	}
}

func TestFeedbackWeightBreaksTies(t *testing.T) {
	twin := func(id string) fault.FaultCase {
		return fault.FaultCase{
			ID:             id,
			Description:    "伺服电机过热报警",
			Causes:         []string{"负载过大"},
			Solutions:      []string{"降低进给速度"},
			FeedbackWeight: 1.0,
		}
	}
	idx := newTestIndex(t, []fault.FaultCase{twin("twin-a"), twin("twin-b")})

	require.NoError(t, idx.UpdateFeedback(context.Background(), "twin-b", 0.5))

	matches, err := idx.Query(context.Background(), "伺服电机过热", 2, 0.1)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "twin-b", matches[0].Case.ID)
	assert.InDelta(t, matches[0].Similarity, matches[1].Similarity, 1e-9)
}

func TestUpdateFeedbackClamps(t *testing.T) {
	idx := newTestIndex(t, seedCases())

	for n := 0; n < 10; n++ {
		require.NoError(t, idx.UpdateFeedback(context.Background(), "case-1", 0.5))
	}
	matches, err := idx.Query(context.Background(), "主轴不转", 1, 0.0)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.InDelta(t, 3.0, matches[0].Case.FeedbackWeight, 1e-9)

	for n := 0; n < 20; n++ {
		require.NoError(t, idx.UpdateFeedback(context.Background(), "case-1", -0.5))
	}
	matches, err = idx.Query(context.Background(), "主轴不转", 1, 0.0)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.InDelta(t, 0.1, matches[0].Case.FeedbackWeight, 1e-9)
}

func TestUpdateFeedbackUnknownCase(t *testing.T) {
	idx := newTestIndex(t, seedCases())
	assert.Error(t, idx.UpdateFeedback(context.Background(), "no-such-case", 0.5))
}

func TestAddCaseRejectsDuplicateID(t *testing.T) {
	idx := newTestIndex(t, seedCases())
	assert.Error(t, idx.AddCase(context.Background(), seedCases()[0]))
	assert.Equal(t, 3, idx.Count())
}

func TestAddCaseImmediatelyRetrievable(t *testing.T) {
	idx := newTestIndex(t, seedCases())

	require.NoError(t, idx.AddCase(context.Background(), fault.FaultCase{
		ID:          "case-4",
		Description: "导轨爬行，定位精度差",
		Causes:      []string{"导轨润滑不良"},
		Solutions:   []string{"清洗导轨并补充润滑油"},
	}))

	matches, err := idx.Query(context.Background(), "导轨爬行定位精度差", 3, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "case-4", matches[0].Case.ID)
	// Omitted weight defaults to neutral.
	assert.InDelta(t, 1.0, matches[0].Case.FeedbackWeight, 1e-9)
}

type failingCaseStore struct{}

func (failingCaseStore) Load(ctx context.Context) ([]fault.FaultCase, error) { return nil, nil }
func (failingCaseStore) Append(ctx context.Context, c fault.FaultCase) error {
	return fmt.Errorf("disk full")
}
func (failingCaseStore) UpdateWeight(ctx context.Context, caseID string, weight float64) error {
	return nil
}

func TestAddCaseNotServedWhenPersistFails(t *testing.T) {
	idx, err := NewIndex(context.Background(), processors.NewTextNormalizer(), WithStore(failingCaseStore{}))
	require.NoError(t, err)

	assert.Error(t, idx.AddCase(context.Background(), seedCases()[0]))
	assert.Zero(t, idx.Count())

	matches, err := idx.Query(context.Background(), "主轴不转有异响", 3, 0.1)
	require.NoError(t, err)
	assert.Empty(t, matches, "a case the store lost must not be retrievable")
}

func TestIncrementalAddBeyondRebuildThreshold(t *testing.T) {
	idx, err := NewIndex(context.Background(), processors.NewTextNormalizer(), WithRebuildThreshold(2))
	require.NoError(t, err)
	for _, c := range seedCases() {
		require.NoError(t, idx.AddCase(context.Background(), c))
	}

	require.NoError(t, idx.AddCase(context.Background(), fault.FaultCase{
		ID:          "case-5",
		Description: "刀库换刀卡住",
		Solutions:   []string{"检查刀链"},
	}))
	assert.Equal(t, 4, idx.Count())

	matches, err := idx.Query(context.Background(), "刀库换刀", 4, 0.0)
	require.NoError(t, err)
	assert.NotEmpty(t, matches)
}

func TestConcurrentQueriesDuringWrites(t *testing.T) {
	idx := newTestIndex(t, seedCases())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for n := 0; n < 20; n++ {
				_, err := idx.Query(context.Background(), "主轴不转有异响", 5, 0.0)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 0; n < 10; n++ {
			err := idx.AddCase(context.Background(), fault.FaultCase{
				ID:          fmt.Sprintf("concurrent-%d", n),
				Description: fmt.Sprintf("并发写入的案例 %d", n),
			})
			assert.NoError(t, err)
		}
	}()
	wg.Wait()
	assert.Equal(t, 13, idx.Count())
}

func TestQueryCancelledContext(t *testing.T) {
	idx := newTestIndex(t, seedCases())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.Query(ctx, "主轴不转", 5, 0.1)
	require.ErrorIs(t, err, context.Canceled)
}
