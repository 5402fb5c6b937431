package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"GraderUsageETL/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStateStore(t *testing.T) *StateStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "etl_state.db")
	s, err := NewStateStore(context.Background(), path, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRun(start time.Time) models.Run {
	return models.Run{
		ID:        uuid.NewString(),
		Window:    models.Window{Start: start, End: start.Add(time.Hour)},
		StartedAt: start.Add(time.Hour + time.Minute),
		Status:    models.RunRunning,
	}
}

func TestStateStore_StartFinishGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStateStore(t)

	run := newRun(time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.StartRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, got.Status)
	assert.Nil(t, got.FinishedAt)
	assert.True(t, run.Window.Start.Equal(got.Window.Start))

	finished := run.StartedAt.Add(90 * time.Second)
	run.FinishedAt = &finished
	run.Status = models.RunSucceeded
	run.Extracted, run.Unpacked, run.Valid, run.Inserted, run.FailedBatch = 10, 9, 8, 7, 1
	require.NoError(t, s.FinishRun(ctx, run))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, 90*time.Second, got.Duration())
	assert.Equal(t, 10, got.Extracted)
	assert.Equal(t, 9, got.Unpacked)
	assert.Equal(t, 8, got.Valid)
	assert.Equal(t, int64(7), got.Inserted)
	assert.Equal(t, 1, got.FailedBatch)
}

func TestStateStore_DuplicateStart(t *testing.T) {
	ctx := context.Background()
	s := newTestStateStore(t)

	run := newRun(time.Now().UTC())
	require.NoError(t, s.StartRun(ctx, run))
	assert.ErrorIs(t, s.StartRun(ctx, run), ErrRunExists)
}

func TestStateStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStateStore(t)

	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	assert.ErrorIs(t, s.FinishRun(ctx, models.Run{ID: "missing", Status: models.RunFailed}), ErrRunNotFound)
}

func TestStateStore_LastSuccessful(t *testing.T) {
	ctx := context.Background()
	s := newTestStateStore(t)

	last, err := s.LastSuccessful(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	base := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	older := newRun(base)
	newer := newRun(base.Add(2 * time.Hour))
	failed := newRun(base.Add(4 * time.Hour))

	for _, r := range []models.Run{older, newer, failed} {
		require.NoError(t, s.StartRun(ctx, r))
	}
	for _, r := range []models.Run{older, newer} {
		r.Status = models.RunSucceeded
		require.NoError(t, s.FinishRun(ctx, r))
	}
	failed.Status = models.RunFailed
	failed.Error = "boom"
	require.NoError(t, s.FinishRun(ctx, failed))

	last, err = s.LastSuccessful(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, newer.ID, last.ID)
	assert.True(t, newer.Window.End.Equal(last.Window.End))
}

func TestStateStore_ListRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStateStore(t)

	base := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		r := newRun(base.Add(time.Duration(i) * time.Hour))
		ids = append(ids, r.ID)
		require.NoError(t, s.StartRun(ctx, r))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)

	all, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
