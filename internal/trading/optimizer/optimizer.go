package optimizer

import (
	"context"
	"errors"
	"exec_optimizer/internal/core"
	"exec_optimizer/internal/trading/fees"
	apperrors "exec_optimizer/pkg/errors"
	"exec_optimizer/pkg/telemetry"
	"fmt"

	"github.com/shopspring/decimal"
)

// Options configures Build
type Options struct {
	Exchange           string
	Strategy           Strategy
	Volume30d          decimal.Decimal
	HasDiscount        bool
	MaxExecutionTimeMs int64   // 0 selects DefaultMaxExecutionTimeMs
	Params             *Params // nil selects DefaultParams
}

var _ core.IPlanner = (*Optimizer)(nil)

// Optimizer is an immutable planner bound to one exchange fee schedule and
// one strategy. It is safe for concurrent use. Switching exchange or volume
// tier means building a new Optimizer.
type Optimizer struct {
	exchange  string
	strategy  Strategy
	fees      fees.FeeSchedule
	maxExecMs int64
	params    Params
	planner   planner
	estimator CostEstimator
	logger    core.ILogger
}

// Build resolves fees once and returns a configured Optimizer. All failures
// wrap apperrors.ErrConfiguration.
func Build(dir *fees.Directory, opts Options, logger core.ILogger) (*Optimizer, error) {
	if dir == nil {
		return nil, fmt.Errorf("%w: fee directory is required", apperrors.ErrConfiguration)
	}
	if !opts.Strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown optimization strategy %q", apperrors.ErrConfiguration, opts.Strategy)
	}
	if opts.Volume30d.IsNegative() {
		return nil, fmt.Errorf("%w: volume_30d must not be negative, got %s", apperrors.ErrConfiguration, opts.Volume30d)
	}

	maxExecMs := opts.MaxExecutionTimeMs
	if maxExecMs == 0 {
		maxExecMs = DefaultMaxExecutionTimeMs
	}
	if maxExecMs <= 0 {
		return nil, fmt.Errorf("%w: max_execution_time_ms must be positive, got %d", apperrors.ErrConfiguration, maxExecMs)
	}

	params := DefaultParams()
	if opts.Params != nil {
		params = *opts.Params
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	schedule, err := dir.Resolve(opts.Exchange, opts.Volume30d, opts.HasDiscount)
	if err != nil {
		return nil, err
	}

	o := &Optimizer{
		exchange:  schedule.Exchange,
		strategy:  opts.Strategy,
		fees:      schedule,
		maxExecMs: maxExecMs,
		params:    params,
		planner: planner{
			params:    params,
			selector:  NewSelector(params),
			maxExecMs: maxExecMs,
		},
		logger: logger.WithFields(map[string]interface{}{
			"component": "optimizer",
			"exchange":  schedule.Exchange,
			"strategy":  string(opts.Strategy),
		}),
	}

	o.logger.Info("Optimizer built",
		"maker_rate", schedule.MakerRate.String(),
		"taker_rate", schedule.TakerRate.String(),
		"volume_tier", schedule.VolumeTier.String(),
		"discount", schedule.DiscountEligible,
		"max_execution_time_ms", maxExecMs)

	return o, nil
}

// Fees returns the resolved fee schedule
func (o *Optimizer) Fees() fees.FeeSchedule {
	return o.fees
}

func (o *Optimizer) Strategy() Strategy {
	return o.strategy
}

func (o *Optimizer) Exchange() string {
	return o.exchange
}

func (o *Optimizer) MaxExecutionTimeMs() int64 {
	return o.maxExecMs
}

// RoundTripCost is the market-in, market-out commission on notional at this optimizer's fees
func (o *Optimizer) RoundTripCost(notional decimal.Decimal) decimal.Decimal {
	return RoundTrip(notional, o.fees)
}

// CreateExecutionPlan validates the signal and returns a cost-annotated plan.
// No partial plan is returned on error.
func (o *Optimizer) CreateExecutionPlan(signal core.Signal) (core.ExecutionPlan, error) {
	ctx := context.Background()
	metrics := telemetry.GetGlobalMetrics()

	sig, err := o.normalize(ctx, signal)
	if err != nil {
		metrics.RecordRejection(ctx, "validation")
		o.logger.Warn("Signal rejected", "symbol", signal.Symbol, "error", err)
		return core.ExecutionPlan{}, err
	}

	d := o.planner.build(o.strategy, sig)
	if d.decision.Scored {
		score, _ := d.decision.MarketScore.Float64()
		metrics.RecordMarketScore(ctx, score)
	}

	est, err := o.estimator.Estimate(d.steps, o.fees, sig.ReferencePrice, sig.Amount, sig.Volatility)
	if err != nil {
		if !errors.Is(err, apperrors.ErrEstimation) {
			err = fmt.Errorf("%w: %v", apperrors.ErrEstimation, err)
		}
		metrics.RecordRejection(ctx, "estimation")
		o.logger.Error("Cost estimation failed", "symbol", sig.Symbol, "error", err)
		return core.ExecutionPlan{}, err
	}

	plan := core.ExecutionPlan{
		Symbol:                     sig.Symbol,
		Side:                       sig.Side,
		ReferencePrice:             sig.ReferencePrice,
		Exchange:                   o.exchange,
		Strategy:                   string(o.strategy),
		Mode:                       string(d.mode),
		OrderType:                  d.orderType,
		Orders:                     d.steps,
		NumberOfOrders:             len(d.steps),
		EstimatedCommissionPercent: est.CommissionPercent,
		EstimatedTotalCost:         est.TotalCost,
		MaxExecutionTimeMs:         o.maxExecMs,
		ConvertOnTimeout:           d.convertOnTimeout,
	}

	cost, _ := est.TotalCost.Float64()
	metrics.RecordPlan(ctx, plan.Strategy, plan.OrderType, plan.NumberOfOrders, cost)

	o.logger.Debug("Execution plan created",
		"symbol", plan.Symbol,
		"side", string(plan.Side),
		"amount", sig.Amount.String(),
		"mode", plan.Mode,
		"order_type", plan.OrderType,
		"orders", plan.NumberOfOrders,
		"estimated_cost", plan.EstimatedTotalCost.String())

	return plan, nil
}
