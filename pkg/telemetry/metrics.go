package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricBacktestsStarted   = "portsim_backtests_started_total"
	MetricBacktestsCompleted = "portsim_backtests_completed_total"
	MetricBacktestsFailed    = "portsim_backtests_failed_total"
	MetricStepsTotal         = "portsim_steps_total"
	MetricBacktestsActive    = "portsim_backtests_active"
	MetricLatencyPolicy      = "portsim_latency_policy_ms"
	MetricLatencySettlement  = "portsim_latency_settlement_ms"
	MetricBacktestDuration   = "portsim_backtest_duration_ms"
	MetricLastSharpe         = "portsim_last_sharpe_ratio"
	MetricLastFinalValue     = "portsim_last_final_value"
	MetricDatasetRows        = "portsim_dataset_rows"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	BacktestsStarted   metric.Int64Counter
	BacktestsCompleted metric.Int64Counter
	BacktestsFailed    metric.Int64Counter
	StepsTotal         metric.Int64Counter
	BacktestsActive    metric.Int64ObservableGauge
	LatencyPolicy      metric.Float64Histogram
	LatencySettlement  metric.Float64Histogram
	BacktestDuration   metric.Float64Histogram
	LastSharpe         metric.Float64ObservableGauge
	LastFinalValue     metric.Float64ObservableGauge
	DatasetRows        metric.Int64ObservableGauge

	// State for observable gauges
	mu             sync.RWMutex
	activeMap      map[string]int64
	sharpeMap      map[string]float64
	finalValueMap  map[string]float64
	datasetRowsMap map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activeMap:      make(map[string]int64),
			sharpeMap:      make(map[string]float64),
			finalValueMap:  make(map[string]float64),
			datasetRowsMap: make(map[string]int64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.BacktestsStarted, err = meter.Int64Counter(MetricBacktestsStarted, metric.WithDescription("Total backtests started"))
	if err != nil {
		return err
	}

	m.BacktestsCompleted, err = meter.Int64Counter(MetricBacktestsCompleted, metric.WithDescription("Total backtests completed successfully"))
	if err != nil {
		return err
	}

	m.BacktestsFailed, err = meter.Int64Counter(MetricBacktestsFailed, metric.WithDescription("Total backtests aborted by an error"))
	if err != nil {
		return err
	}

	m.StepsTotal, err = meter.Int64Counter(MetricStepsTotal, metric.WithDescription("Total simulation steps executed"))
	if err != nil {
		return err
	}

	m.LatencyPolicy, err = meter.Float64Histogram(MetricLatencyPolicy, metric.WithDescription("Time spent inside the policy per step"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.LatencySettlement, err = meter.Float64Histogram(MetricLatencySettlement, metric.WithDescription("Time spent settling costs and holdings per step"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.BacktestDuration, err = meter.Float64Histogram(MetricBacktestDuration, metric.WithDescription("Wall time of a full backtest"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.BacktestsActive, err = meter.Int64ObservableGauge(MetricBacktestsActive, metric.WithDescription("Backtests currently running"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for policy, val := range m.activeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("policy", policy)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.LastSharpe, err = meter.Float64ObservableGauge(MetricLastSharpe, metric.WithDescription("Sharpe ratio of the last completed backtest per policy"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for policy, val := range m.sharpeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("policy", policy)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.LastFinalValue, err = meter.Float64ObservableGauge(MetricLastFinalValue, metric.WithDescription("Final portfolio value of the last completed backtest per policy"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for policy, val := range m.finalValueMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("policy", policy)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.DatasetRows, err = meter.Int64ObservableGauge(MetricDatasetRows, metric.WithDescription("Rows loaded per dataset table"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for table, val := range m.datasetRowsMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("table", table)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetActiveBacktests(policy string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeMap[policy] = count
}

func (m *MetricsHolder) AddActiveBacktests(policy string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeMap[policy] += delta
}

func (m *MetricsHolder) SetLastSharpe(policy string, sharpe float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharpeMap[policy] = sharpe
}

func (m *MetricsHolder) SetLastFinalValue(policy string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalValueMap[policy] = value
}

func (m *MetricsHolder) SetDatasetRows(table string, rows int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasetRowsMap[table] = rows
}

func (m *MetricsHolder) GetActiveBacktests() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.activeMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetLastSharpe() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.sharpeMap {
		res[k] = v
	}
	return res
}
