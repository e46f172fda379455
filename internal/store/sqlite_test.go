package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portsim/internal/result"
	simerrors "portsim/pkg/errors"
)

func sampleRun(policy string, createdAt time.Time) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Policy:    policy,
		Start:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Steps:     105,
		CreatedAt: createdAt,
		Summary: result.Summary{
			Policy:      policy,
			Steps:       105,
			FinalValue:  1_050_000,
			SharpeRatio: 1.23,
			CostTotals:  map[string]float64{"transaction_cost": -512.5},
		},
	}
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	run := sampleRun("uniform", time.Now().UTC())
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "uniform", got.Policy)
	assert.Equal(t, 105, got.Steps)
	assert.InDelta(t, 1.23, got.Summary.SharpeRatio, 1e-12)
	assert.InDelta(t, -512.5, got.Summary.CostTotals["transaction_cost"], 1e-12)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := openSQLite(t)
	_, err := s.GetRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, simerrors.ErrNotFound)
}

func TestSQLiteStore_ListNewestFirst(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	older := sampleRun("hold", time.Now().UTC().Add(-time.Hour))
	newer := sampleRun("uniform", time.Now().UTC())
	require.NoError(t, s.SaveRun(ctx, older))
	require.NoError(t, s.SaveRun(ctx, newer))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)
	assert.Equal(t, older.ID, runs[1].ID)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	run := sampleRun("hold", time.Now().UTC())
	require.NoError(t, s.SaveRun(ctx, run))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Policy, got.Policy)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	run := sampleRun("hold", time.Now().UTC())
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)

	// Returned copies do not alias the stored run.
	got.Policy = "mutated"
	again, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "hold", again.Policy)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, simerrors.ErrNotFound)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestNewRunFromSummary(t *testing.T) {
	sum := result.Summary{Policy: "uniform", Steps: 10, FinalValue: 99}
	run := NewRunFromSummary("abc", sum)
	assert.Equal(t, "abc", run.ID)
	assert.Equal(t, "uniform", run.Policy)
	assert.Equal(t, 10, run.Steps)
	assert.False(t, run.CreatedAt.IsZero())
}
