package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPlansCreatedTotal    = "exec_optimizer_plans_created_total"
	MetricPlansRejectedTotal   = "exec_optimizer_plans_rejected_total"
	MetricInputsClampedTotal   = "exec_optimizer_inputs_clamped_total"
	MetricPlanSteps            = "exec_optimizer_plan_steps"
	MetricPlanEstimatedCost    = "exec_optimizer_plan_estimated_cost"
	MetricHybridMarketScore    = "exec_optimizer_hybrid_market_score"
	MetricStepsSubmittedTotal  = "exec_optimizer_steps_submitted_total"
	MetricStepFailuresTotal    = "exec_optimizer_step_failures_total"
	MetricMakerConversionTotal = "exec_optimizer_maker_conversions_total"
	MetricSubmitLatency        = "exec_optimizer_submit_latency_ms"
	MetricPlansActive          = "exec_optimizer_plans_active"
	MetricFeeTableVersion      = "exec_optimizer_fee_table_version"
)

// MetricsHolder holds initialized instruments. All instruments are nil-safe
// through the Record*/Set* helpers so code paths work before InitMetrics runs.
type MetricsHolder struct {
	PlansCreatedTotal    metric.Int64Counter
	PlansRejectedTotal   metric.Int64Counter
	InputsClampedTotal   metric.Int64Counter
	PlanSteps            metric.Int64Histogram
	PlanEstimatedCost    metric.Float64Histogram
	HybridMarketScore    metric.Float64Histogram
	StepsSubmittedTotal  metric.Int64Counter
	StepFailuresTotal    metric.Int64Counter
	MakerConversionTotal metric.Int64Counter
	SubmitLatency        metric.Float64Histogram
	PlansActive          metric.Int64ObservableGauge
	FeeTableVersion      metric.Int64ObservableGauge

	// State for observable gauges
	mu              sync.RWMutex
	activePlansMap  map[string]int64
	feeTableVersion int64
	initialized     bool
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activePlansMap: make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.PlansCreatedTotal, err = meter.Int64Counter(MetricPlansCreatedTotal, metric.WithDescription("Execution plans created"))
	if err != nil {
		return err
	}

	m.PlansRejectedTotal, err = meter.Int64Counter(MetricPlansRejectedTotal, metric.WithDescription("Signals rejected before or during planning"))
	if err != nil {
		return err
	}

	m.InputsClampedTotal, err = meter.Int64Counter(MetricInputsClampedTotal, metric.WithDescription("Signal fields clamped to their valid range"))
	if err != nil {
		return err
	}

	m.PlanSteps, err = meter.Int64Histogram(MetricPlanSteps, metric.WithDescription("Number of order steps per plan"))
	if err != nil {
		return err
	}

	m.PlanEstimatedCost, err = meter.Float64Histogram(MetricPlanEstimatedCost, metric.WithDescription("Estimated commission plus slippage per plan"))
	if err != nil {
		return err
	}

	m.HybridMarketScore, err = meter.Float64Histogram(MetricHybridMarketScore, metric.WithDescription("Market score computed by the hybrid selector"))
	if err != nil {
		return err
	}

	m.StepsSubmittedTotal, err = meter.Int64Counter(MetricStepsSubmittedTotal, metric.WithDescription("Plan steps submitted to the broker"))
	if err != nil {
		return err
	}

	m.StepFailuresTotal, err = meter.Int64Counter(MetricStepFailuresTotal, metric.WithDescription("Plan steps the broker rejected"))
	if err != nil {
		return err
	}

	m.MakerConversionTotal, err = meter.Int64Counter(MetricMakerConversionTotal, metric.WithDescription("Unfilled maker orders converted to market at the deadline"))
	if err != nil {
		return err
	}

	m.SubmitLatency, err = meter.Float64Histogram(MetricSubmitLatency, metric.WithDescription("Latency of broker order submissions"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.PlansActive, err = meter.Int64ObservableGauge(MetricPlansActive, metric.WithDescription("Plans currently being executed"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.activePlansMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.FeeTableVersion, err = meter.Int64ObservableGauge(MetricFeeTableVersion, metric.WithDescription("Version of the fee table in use"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.feeTableVersion)
			return nil
		}))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

func (m *MetricsHolder) ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// RecordPlan records a successfully created plan
func (m *MetricsHolder) RecordPlan(ctx context.Context, strategy, orderType string, steps int, cost float64) {
	if !m.ready() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("strategy", strategy), attribute.String("order_type", orderType))
	m.PlansCreatedTotal.Add(ctx, 1, attrs)
	m.PlanSteps.Record(ctx, int64(steps), attrs)
	m.PlanEstimatedCost.Record(ctx, cost, attrs)
}

// RecordRejection records a signal that failed validation or estimation
func (m *MetricsHolder) RecordRejection(ctx context.Context, reason string) {
	if !m.ready() {
		return
	}
	m.PlansRejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordClamp records a signal field clamped to its valid range
func (m *MetricsHolder) RecordClamp(ctx context.Context, field string) {
	if !m.ready() {
		return
	}
	m.InputsClampedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}

// RecordMarketScore records a hybrid market score
func (m *MetricsHolder) RecordMarketScore(ctx context.Context, score float64) {
	if !m.ready() {
		return
	}
	m.HybridMarketScore.Record(ctx, score)
}

// RecordSubmission records one broker submission and its latency
func (m *MetricsHolder) RecordSubmission(ctx context.Context, symbol, kind string, latencyMs float64, err error) {
	if !m.ready() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("symbol", symbol), attribute.String("kind", kind))
	m.SubmitLatency.Record(ctx, latencyMs, attrs)
	if err != nil {
		m.StepFailuresTotal.Add(ctx, 1, attrs)
		return
	}
	m.StepsSubmittedTotal.Add(ctx, 1, attrs)
}

// RecordMakerConversion records a timed-out maker order converted to market
func (m *MetricsHolder) RecordMakerConversion(ctx context.Context, symbol string) {
	if !m.ready() {
		return
	}
	m.MakerConversionTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// AddActivePlans adjusts the number of plans executing for a symbol
func (m *MetricsHolder) AddActivePlans(symbol string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activePlansMap[symbol] += delta
}

// SetFeeTableVersion publishes the active fee table version
func (m *MetricsHolder) SetFeeTableVersion(version int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeTableVersion = version
}

// GetActivePlans returns a copy of the active plan counts
func (m *MetricsHolder) GetActivePlans() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.activePlansMap {
		res[k] = v
	}
	return res
}

// GetFeeTableVersion returns the published fee table version
func (m *MetricsHolder) GetFeeTableVersion() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.feeTableVersion
}
