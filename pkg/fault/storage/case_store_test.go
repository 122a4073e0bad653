package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hecongqing/shukongdashi/pkg/fault"
)

func TestJSONCaseStoreMissingFile(t *testing.T) {
	store := NewJSONCaseStore(filepath.Join(t.TempDir(), "cases.json"))

	cases, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestJSONCaseStoreAppendAndLoad(t *testing.T) {
	store := NewJSONCaseStore(filepath.Join(t.TempDir(), "data", "cases.json"))
	ctx := context.Background()

	first := fault.FaultCase{
		ID:             "case-1",
		Description:    "主轴不转，有异响",
		Causes:         []string{"轴承磨损"},
		Solutions:      []string{"更换轴承"},
		FeedbackWeight: 1.0,
		CreatedAt:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, fault.FaultCase{ID: "case-2", Description: "液压漏油", FeedbackWeight: 1.0}))

	cases, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, first.ID, cases[0].ID)
	assert.Equal(t, first.Causes, cases[0].Causes)
	assert.Equal(t, first.Solutions, cases[0].Solutions)
	assert.True(t, cases[0].CreatedAt.Equal(first.CreatedAt))
	assert.Equal(t, "case-2", cases[1].ID)
}

func TestJSONCaseStoreUpdateWeight(t *testing.T) {
	store := NewJSONCaseStore(filepath.Join(t.TempDir(), "cases.json"))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, fault.FaultCase{ID: "case-1", FeedbackWeight: 1.0}))
	require.NoError(t, store.UpdateWeight(ctx, "case-1", 1.7))

	cases, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.InDelta(t, 1.7, cases[0].FeedbackWeight, 1e-9)

	assert.Error(t, store.UpdateWeight(ctx, "no-such-case", 2.0))
}

func TestMemoryGraphStoreNeighborsBothDirections(t *testing.T) {
	store := NewMemoryGraphStore()
	a := store.AddNode("主轴不转", "Symptom", nil)
	b := store.AddNode("轴承磨损", "Cause", nil)
	require.NoError(t, store.AddRelation(a.ID, b.ID, fault.RelationCausedBy))

	out, err := store.Neighbors(context.Background(), a.ID, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Outgoing)
	assert.Equal(t, b.ID, out[0].Node.ID)

	in, err := store.Neighbors(context.Background(), b.ID, nil)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.False(t, in[0].Outgoing)
	assert.Equal(t, a.ID, in[0].Node.ID)

	filtered, err := store.Neighbors(context.Background(), a.ID, []fault.RelationType{fault.RelationResolvedBy})
	require.NoError(t, err)
	assert.Empty(t, filtered)
}

func TestMemoryGraphStoreFindNodes(t *testing.T) {
	store := NewMemoryGraphStore()
	store.AddNode("主轴不转", "Symptom", nil)
	store.AddNode("刀库卡住", "Symptom", nil)

	matches, err := store.FindNodes(context.Background(), "主轴", "")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "主轴不转", matches[0].Name)

	byLabel, err := store.FindNodes(context.Background(), "主轴", "Cause")
	require.NoError(t, err)
	assert.Empty(t, byLabel)

	none, err := store.FindNodes(context.Background(), "  ", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryGraphStoreRejectsDanglingRelation(t *testing.T) {
	store := NewMemoryGraphStore()
	a := store.AddNode("主轴不转", "Symptom", nil)

	assert.Error(t, store.AddRelation(a.ID, "missing", fault.RelationCausedBy))
	assert.Equal(t, 0, store.EdgeCount())
	assert.Equal(t, 1, store.NodeCount())
}
