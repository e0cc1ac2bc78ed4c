package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sdejongh/binsight/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

func TestSessionsAndTurns(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, err := store.CreateSession(ctx, "/bin/a", models.ModeQuick, models.BackendLocal)
	require.NoError(t, err)
	second, err := store.CreateSession(ctx, "/bin/b", models.ModeDeep, models.BackendOpenAI)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	sessions, err := store.Sessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID, "newest first")
	assert.Equal(t, models.ModeDeep, sessions[0].Mode)
	assert.Equal(t, models.BackendOpenAI, sessions[0].Backend)

	limited, err := store.Sessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = store.AddTurn(ctx, first.ID, "user", "decompile main")
	require.NoError(t, err)
	_, err = store.AddTurn(ctx, first.ID, "assistant", "```c\nint main(){}\n```")
	require.NoError(t, err)

	turns, err := store.Turns(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.True(t, turns[0].CreatedAt.Before(turns[1].CreatedAt))

	empty, err := store.Turns(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUnknownSession(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.AddTurn(ctx, "missing", "user", "hi")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Turns(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReports(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	pct := 50.0
	report := &models.ComparisonReport{
		Original:  "orig",
		Candidate: "cand",
		Size:      models.SizeStats{SizeOriginal: 100, SizeOther: 150, SizeDiff: 50, SizeDiffPercent: &pct},
	}
	id, err := store.SaveReport(ctx, "", report)
	require.NoError(t, err)
	assert.Equal(t, report.ID, id)

	session, err := store.CreateSession(ctx, "orig", models.ModeStandard, models.BackendLocal)
	require.NoError(t, err)
	_, err = store.SaveReport(ctx, session.ID, &models.ComparisonReport{ID: "fixed", Original: "orig", Candidate: "cand2"})
	require.NoError(t, err)

	reports, err := store.Reports(ctx, 0)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "fixed", reports[0].ID)
	assert.Equal(t, session.ID, reports[0].SessionID)
	assert.Empty(t, reports[1].SessionID)
	require.NotNil(t, reports[1].Report.Size.SizeDiffPercent)
	assert.InDelta(t, 50.0, *reports[1].Report.Size.SizeDiffPercent, 1e-9)
}

func TestBatchResults(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	items := []models.BatchItemResult{
		{Source: "test_0.c", Status: models.ItemSucceeded, SourceDiff: &models.SourceDiff{Similarity: 0.5}},
		{Source: "test_1.c", Status: models.ItemFailed, FailedStage: "compile", Error: "boom"},
	}
	for i := range items {
		_, err := store.SaveBatchResult(ctx, "run-1", &items[i])
		require.NoError(t, err)
	}
	_, err := store.SaveBatchResult(ctx, "run-2", &items[0])
	require.NoError(t, err)

	got, err := store.BatchResults(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "test_0.c", got[0].Source)
	assert.Equal(t, models.ItemFailed, got[1].Status)
	assert.Equal(t, "compile", got[1].FailedStage)
}
