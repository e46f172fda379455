package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portsim/internal/api"
	"portsim/internal/dataset"
	"portsim/internal/policy"
	"portsim/internal/simulator"
	"portsim/internal/store"
	"portsim/pkg/concurrency"
	"portsim/pkg/logging"
)

// TestFullBacktestWorkflow exercises the complete pipeline: synthetic bars
// into the parquet cache, dataset assembly, a parallel multi-policy backtest,
// run persistence in SQLite and retrieval over the HTTP API.
func TestFullBacktestWorkflow(t *testing.T) {
	dir := t.TempDir()
	logger := logging.GetGlobalLogger()
	ctx := context.Background()

	// 1. Seed the cache and assemble the dataset.
	symbols := []string{"AAA", "BBB", "CCC"}
	cache := dataset.NewCache(filepath.Join(dir, "bars"))
	require.NoError(t, dataset.WriteSampleBars(cache, symbols, 120, 7))

	loader := &dataset.Loader{
		Cache:          cache,
		MinHistory:     20,
		CashAnnualRate: 0.04,
		Logger:         logger,
	}
	ds, err := loader.Build(ctx, symbols)
	require.NoError(t, err)
	require.Equal(t, 120, ds.Len())
	require.Equal(t, []string{"AAA", "BBB", "CCC", "cash"}, ds.Universe())

	// 2. Run three policies in parallel through a shared pool.
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "e2e", MaxWorkers: 4}, logger)
	defer pool.Stop()

	opts := simulator.DefaultOptions()
	opts.Dividends = loader.Dividends()
	orch := simulator.NewOrchestrator(pool, logger, opts)

	times := ds.Times()
	fixed, err := policy.NewFixedWeights([]float64{0.3, 0.3, 0.2})
	require.NoError(t, err)
	policies := []policy.Policy{policy.Hold{}, policy.Uniform{}, fixed}

	results, err := orch.RunAll(ds, policies, simulator.RunOptions{
		Start:    times[30],
		End:      times[len(times)-1],
		Parallel: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, policies[i].Name(), res.Policy())
		assert.Equal(t, 90, res.Len())
		// Self-financing keeps the hold portfolio at positive value.
		assert.Greater(t, res.FinalValue(), 0.0)
	}

	// Hold never trades and never pays transaction costs.
	holdSummary := results[0].Summarize()
	assert.Zero(t, holdSummary.CostTotals["transaction_cost"])
	assert.Zero(t, holdSummary.Turnover)

	// The source dataset was never frozen or mutated by the run.
	assert.False(t, ds.ReadOnly())

	// 3. Determinism through the reused pool: same policy, same range,
	// bit-identical summary.
	again, err := orch.RunAll(ds, []policy.Policy{policy.Uniform{}}, simulator.RunOptions{
		Start:    times[30],
		End:      times[len(times)-1],
		Parallel: true,
	})
	require.NoError(t, err)
	assert.Equal(t, results[1].SharpeRatio(), again[0].SharpeRatio())
	assert.Equal(t, results[1].FinalValue(), again[0].FinalValue())

	// 4. Persist runs and read them back through SQLite.
	runStore, err := store.NewSQLiteStore(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	defer runStore.Close()

	var firstID string
	for _, res := range results {
		run := store.NewRunFromSummary(uuid.NewString(), res.Summarize())
		if firstID == "" {
			firstID = run.ID
		}
		require.NoError(t, runStore.SaveRun(ctx, run))
	}
	persisted, err := runStore.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, 3)
	got, err := runStore.GetRun(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, "hold", got.Policy)

	// 5. Trigger a backtest over HTTP and fetch its persisted run.
	srv := api.NewServer(orch, ds, runStore, logger, "")
	body, err := json.Marshal(api.BacktestRequest{
		Policies: []api.PolicySpec{{Name: "uniform"}},
		Start:    times[30].Format("2006-01-02"),
		End:      times[len(times)-1].Format("2006-01-02"),
		Parallel: false,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backtests", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Runs []api.RunResponse `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)

	// The API run matches the direct run bit for bit.
	assert.Equal(t, results[1].SharpeRatio(), resp.Runs[0].Summary.SharpeRatio)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+resp.Runs[0].ID, nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
