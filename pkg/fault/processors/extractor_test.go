package processors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hecongqing/shukongdashi/pkg/fault"
)

type stubTagger struct {
	entities []TaggedEntity
	err      error
	calls    int
}

func (s *stubTagger) Tag(ctx context.Context, text string) ([]TaggedEntity, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.entities, nil
}

func (s *stubTagger) Available(ctx context.Context) bool {
	return s.err == nil
}

func TestExtractDictionaryOnly(t *testing.T) {
	e := NewElementExtractor(nil, nil)

	elements, err := e.Extract(context.Background(), "主轴不转，报警E60，需要更换轴承")
	require.NoError(t, err)

	byKey := map[string]fault.FaultElement{}
	for _, el := range elements {
		byKey[el.Key()] = el
	}
	assert.Contains(t, byKey, "主轴|LOCATION")
	assert.Contains(t, byKey, "不转|PHENOMENON")
	assert.Contains(t, byKey, "轴承|LOCATION")
	assert.Contains(t, byKey, "e60|ALARM_CODE")

	assert.InDelta(t, DictionaryConfidence, byKey["主轴|LOCATION"].Confidence, 1e-9)
	assert.InDelta(t, AlarmPatternConfidence, byKey["e60|ALARM_CODE"].Confidence, 1e-9)
}

func TestExtractPrefersTagger(t *testing.T) {
	tagger := &stubTagger{entities: []TaggedEntity{
		{Name: "主轴", Type: "PART", Start: 0, End: 6, Confidence: 0.95},
		{Name: "不转", Type: "FAULT_SYMPTOM", Start: 6, End: 12, Confidence: 0.92},
		{Name: "something", Type: "UNKNOWN_TYPE", Confidence: 0.99},
	}}
	e := NewElementExtractor(tagger, nil)

	elements, err := e.Extract(context.Background(), "主轴不转")
	require.NoError(t, err)
	assert.Equal(t, 1, tagger.calls)
	require.Len(t, elements, 2)

	assert.Equal(t, "主轴", elements[0].Content)
	assert.Equal(t, fault.CategoryLocation, elements[0].Category)
	assert.InDelta(t, 0.95, elements[0].Confidence, 1e-9)
	assert.Equal(t, fault.CategoryPhenomenon, elements[1].Category)
}

func TestExtractClampsTaggerConfidence(t *testing.T) {
	tagger := &stubTagger{entities: []TaggedEntity{
		{Name: "主轴", Type: "PART", Confidence: 1.5},
		{Name: "不转", Type: "FAULT_SYMPTOM", Confidence: -0.2},
	}}
	e := NewElementExtractor(tagger, nil)

	elements, err := e.Extract(context.Background(), "主轴不转")
	require.NoError(t, err)
	require.NotEmpty(t, elements)

	byKey := map[string]fault.FaultElement{}
	for _, el := range elements {
		byKey[el.Key()] = el
	}
	require.Contains(t, byKey, "主轴|LOCATION")
	assert.InDelta(t, 1.0, byKey["主轴|LOCATION"].Confidence, 1e-9)
	for _, el := range elements {
		assert.GreaterOrEqual(t, el.Confidence, 0.0)
		assert.LessOrEqual(t, el.Confidence, 1.0)
	}
}

func TestExtractFallsBackOnTaggerError(t *testing.T) {
	tagger := &stubTagger{err: errors.New("connection refused")}
	e := NewElementExtractor(tagger, nil)

	elements, err := e.Extract(context.Background(), "主轴不转")
	require.NoError(t, err)
	require.NotEmpty(t, elements)

	// Fallback runs are recognizably degraded.
	for _, el := range elements {
		assert.InDelta(t, DictionaryConfidence, el.Confidence, 1e-9)
	}
	assert.False(t, e.Available(context.Background()))
}

func TestExtractAlarmCodesAlwaysChecked(t *testing.T) {
	tagger := &stubTagger{entities: []TaggedEntity{
		{Name: "主轴", Type: "PART", Confidence: 0.95},
	}}
	e := NewElementExtractor(tagger, nil)

	elements, err := e.Extract(context.Background(), "主轴报警 ALM-401")
	require.NoError(t, err)

	var codes []string
	for _, el := range elements {
		if el.Category == fault.CategoryAlarmCode {
			codes = append(codes, el.Content)
		}
	}
	assert.Contains(t, codes, "ALM-401")
}

func TestExtractEmptyInput(t *testing.T) {
	tagger := &stubTagger{}
	e := NewElementExtractor(tagger, nil)

	elements, err := e.Extract(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, elements)
	assert.Zero(t, tagger.calls)
}

func TestExtractDropsSingleRuneNoise(t *testing.T) {
	tagger := &stubTagger{entities: []TaggedEntity{
		{Name: "轴", Type: "PART", Confidence: 0.9},
		{Name: "主轴", Type: "PART", Confidence: 0.9},
	}}
	e := NewElementExtractor(tagger, nil)

	elements, err := e.Extract(context.Background(), "主轴异常")
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, "主轴", elements[0].Content)
}

func TestMatchAlarmCodesPhrasing(t *testing.T) {
	elements := MatchAlarmCodes("报警码: 1020 显示在屏幕上")
	require.NotEmpty(t, elements)
	assert.Equal(t, "1020", elements[0].Content)
	assert.Equal(t, fault.CategoryAlarmCode, elements[0].Category)
}
