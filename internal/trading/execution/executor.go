// Package execution runs execution plans against an order submitter
package execution

import (
	"context"
	"exec_optimizer/internal/core"
	"exec_optimizer/pkg/concurrency"
	apperrors "exec_optimizer/pkg/errors"
	"exec_optimizer/pkg/retry"
	"exec_optimizer/pkg/telemetry"
	"exec_optimizer/pkg/tradingutils"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config tunes the Runner
type Config struct {
	MaxWorkers       int
	QueueSize        int
	RateLimit        float64 // orders per second, 0 disables
	RateBurst        int
	PollInterval     time.Duration
	CancelTimeout    time.Duration
	QuantityDecimals int
	Retry            retry.RetryPolicy
}

// DefaultConfig mirrors typical spot exchange order limits
func DefaultConfig() Config {
	return Config{
		MaxWorkers:       8,
		QueueSize:        64,
		RateLimit:        25,
		RateBurst:        30,
		PollInterval:     time.Second,
		CancelTimeout:    10 * time.Second,
		QuantityDecimals: 8,
		Retry:            retry.DefaultPolicy,
	}
}

// StepReport is the outcome of one plan step
type StepReport struct {
	Index         int               `json:"index"`
	Step          core.OrderStep    `json:"step"`
	ClientOrderID string            `json:"client_order_id,omitempty"`
	Order         *core.OrderResult `json:"order,omitempty"`
	Submitted     bool              `json:"submitted"`
	Error         string            `json:"error,omitempty"`

	err error
}

// Report summarizes a plan execution. Remaining is the unfilled notional in
// quote currency, suitable as the amount of a fresh signal.
type Report struct {
	PlanID     string            `json:"plan_id"`
	Symbol     string            `json:"symbol"`
	Side       core.Side         `json:"side"`
	Steps      []StepReport      `json:"steps"`
	Conversion *core.OrderResult `json:"conversion,omitempty"`
	Filled     decimal.Decimal   `json:"filled"`
	Remaining  decimal.Decimal   `json:"remaining"`
	Canceled   bool              `json:"canceled"`
	Duration   time.Duration     `json:"duration"`
}

// Runner executes plans. Steps start in array order at their absolute
// offsets from acceptance; submissions run on a worker pool so a slow
// broker call never delays later steps. Plans for the same symbol are
// serialized, plans for different symbols run in parallel.
type Runner struct {
	gateway *Gateway
	pool    *concurrency.WorkerPool
	locks   *symbolLocks
	cfg     Config
	tracer  trace.Tracer
	logger  core.ILogger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner bound to one submitter
func NewRunner(submitter core.IOrderSubmitter, cfg Config, logger core.ILogger) *Runner {
	defaults := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = defaults.CancelTimeout
	}
	if cfg.QuantityDecimals <= 0 {
		cfg.QuantityDecimals = defaults.QuantityDecimals
	}

	return &Runner{
		gateway: NewGateway(submitter, cfg.RateLimit, cfg.RateBurst, cfg.Retry, logger),
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "plan_steps",
			MaxWorkers:  cfg.MaxWorkers,
			MaxCapacity: cfg.QueueSize,
		}, logger),
		locks:  newSymbolLocks(),
		cfg:    cfg,
		tracer: telemetry.GetTracer("plan-runner"),
		logger: logger.WithField("component", "plan_runner"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Stop waits for in-flight submissions and releases the worker pool
func (r *Runner) Stop() {
	r.pool.Stop()
}

// CheckHealth reports a stopped or saturated submission pool
func (r *Runner) CheckHealth() error {
	return r.pool.CheckHealth()
}

// Execute runs the plan to completion, its deadline, or ctx cancellation.
// On cancellation resting orders are canceled and the report is returned
// together with ctx.Err().
func (r *Runner) Execute(ctx context.Context, plan core.ExecutionPlan) (*Report, error) {
	if len(plan.Orders) == 0 {
		return nil, fmt.Errorf("%w: plan has no orders", apperrors.ErrValidation)
	}
	if !plan.ReferencePrice.IsPositive() {
		return nil, fmt.Errorf("%w: plan has no reference price", apperrors.ErrValidation)
	}

	unlock, err := r.locks.acquire(ctx, plan.Symbol)
	if err != nil {
		return nil, err
	}
	defer unlock()

	metrics := telemetry.GetGlobalMetrics()
	metrics.AddActivePlans(plan.Symbol, 1)
	defer metrics.AddActivePlans(plan.Symbol, -1)

	report := &Report{
		PlanID: uuid.NewString(),
		Symbol: plan.Symbol,
		Side:   plan.Side,
		Steps:  make([]StepReport, len(plan.Orders)),
	}

	ctx, span := r.tracer.Start(ctx, "ExecutePlan",
		trace.WithAttributes(
			attribute.String("plan_id", report.PlanID),
			attribute.String("symbol", plan.Symbol),
			attribute.String("order_type", plan.OrderType),
			attribute.Int("steps", len(plan.Orders)),
		),
	)
	defer span.End()

	logger := r.logger.WithField("plan_id", report.PlanID).WithField("symbol", plan.Symbol)
	logger.Info("Executing plan", "order_type", plan.OrderType, "steps", len(plan.Orders), "max_execution_time_ms", plan.MaxExecutionTimeMs)

	start := r.now()
	deadline := start.Add(time.Duration(plan.MaxExecutionTimeMs) * time.Millisecond)

	r.schedule(ctx, plan, start, report.Steps)

	if ctx.Err() == nil {
		r.monitor(ctx, plan.Symbol, report.Steps, deadline)
	}

	// Cleanup must outlive a canceled caller context
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CancelTimeout)
	defer cancel()

	r.cancelResting(cleanupCtx, plan.Symbol, report.Steps)

	convertedQuote := decimal.Zero
	if ctx.Err() == nil && plan.ConvertOnTimeout {
		report.Conversion, convertedQuote = r.convert(cleanupCtx, plan, report.Steps, logger)
	}

	report.Remaining = remainingQuote(report.Steps)
	if report.Conversion != nil && report.Conversion.Quantity.IsPositive() {
		covered := convertedQuote.Mul(report.Conversion.ExecutedQty).Div(report.Conversion.Quantity)
		report.Remaining = decimal.Max(decimal.Zero, report.Remaining.Sub(covered))
	}
	report.Filled = plan.TotalSize().Sub(report.Remaining)
	report.Duration = r.now().Sub(start)

	for i := range report.Steps {
		if report.Steps[i].err != nil {
			report.Steps[i].Error = report.Steps[i].err.Error()
		}
	}

	if err := ctx.Err(); err != nil {
		report.Canceled = true
		logger.Warn("Plan execution aborted", "remaining", report.Remaining.String(), "error", err)
		return report, err
	}

	logger.Info("Plan execution finished",
		"filled", report.Filled.String(),
		"remaining", report.Remaining.String(),
		"converted", report.Conversion != nil,
		"duration", report.Duration)
	return report, nil
}

// schedule submits every step at start+delay. It returns once all submitted
// steps have an answer from the broker or ctx is done.
func (r *Runner) schedule(ctx context.Context, plan core.ExecutionPlan, start time.Time, steps []StepReport) {
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, step := range plan.Orders {
		steps[i].Index = i
		steps[i].Step = step
	}

	for i, step := range plan.Orders {
		at := start.Add(time.Duration(step.DelayMs) * time.Millisecond)
		if wait := at.Sub(r.now()); wait > 0 {
			if err := r.sleep(ctx, wait); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		req, err := r.request(plan, step)
		if err != nil {
			steps[i].err = err
			continue
		}

		mu.Lock()
		steps[i].ClientOrderID = req.ClientOrderID
		steps[i].Submitted = true
		mu.Unlock()

		idx := i
		wg.Add(1)
		if err := r.pool.Submit(func() {
			defer wg.Done()
			res, err := r.gateway.Place(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			steps[idx].Order = res
			steps[idx].err = err
		}); err != nil {
			wg.Done()
			mu.Lock()
			steps[idx].err = err
			mu.Unlock()
		}
	}

	wg.Wait()
}

func (r *Runner) request(plan core.ExecutionPlan, step core.OrderStep) (core.OrderRequest, error) {
	qty := tradingutils.RoundQuantity(step.Quantity(plan.ReferencePrice), r.cfg.QuantityDecimals)
	if !qty.IsPositive() {
		return core.OrderRequest{}, fmt.Errorf("%w: step size %s is below quantity precision", apperrors.ErrInvalidOrderParameter, step.Size)
	}

	req := core.OrderRequest{
		Symbol:        plan.Symbol,
		Side:          plan.Side,
		Kind:          step.Kind,
		Quantity:      qty,
		ClientOrderID: uuid.NewString(),
	}
	if step.Kind == core.OrderKindLimit {
		if step.Price == nil {
			return core.OrderRequest{}, fmt.Errorf("%w: limit step without price", apperrors.ErrInvalidOrderParameter)
		}
		req.Price = *step.Price
		req.PostOnly = true
	}
	return req, nil
}

// convert replaces the unfilled LIMIT remainder with one MARKET order. It
// returns the order and the quote notional it was meant to cover.
func (r *Runner) convert(ctx context.Context, plan core.ExecutionPlan, steps []StepReport, logger core.ILogger) (*core.OrderResult, decimal.Decimal) {
	qty := decimal.Zero
	quote := decimal.Zero
	for _, s := range steps {
		if s.Step.Kind != core.OrderKindLimit || s.Order == nil {
			continue
		}
		rem := s.Order.Remaining()
		if rem.IsPositive() {
			qty = qty.Add(rem)
			quote = quote.Add(s.Step.Size.Mul(rem).Div(s.Order.Quantity))
		}
	}
	if !qty.IsPositive() {
		return nil, decimal.Zero
	}

	logger.Info("Converting unfilled maker orders to market", "quantity", qty.String())
	res, err := r.gateway.Place(ctx, core.OrderRequest{
		Symbol:   plan.Symbol,
		Side:     plan.Side,
		Kind:     core.OrderKindMarket,
		Quantity: qty,
	})
	if err != nil {
		logger.Error("Maker conversion failed", "quantity", qty.String(), "error", err)
		return nil, decimal.Zero
	}

	telemetry.GetGlobalMetrics().RecordMakerConversion(ctx, plan.Symbol)
	return res, quote
}

// remainingQuote sums the unfilled notional of all steps. Steps that never
// reached the broker count in full.
func remainingQuote(steps []StepReport) decimal.Decimal {
	total := decimal.Zero
	for _, s := range steps {
		if s.Order == nil || !s.Order.Quantity.IsPositive() {
			total = total.Add(s.Step.Size)
			continue
		}
		total = total.Add(s.Step.Size.Mul(s.Order.Remaining()).Div(s.Order.Quantity))
	}
	return total
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// symbolLocks serializes plans per symbol. An entry lives only while some
// plan holds or waits for it.
type symbolLocks struct {
	mu    sync.Mutex
	locks map[string]*symbolLock
}

type symbolLock struct {
	ch   chan struct{}
	refs int
}

func newSymbolLocks() *symbolLocks {
	return &symbolLocks{locks: make(map[string]*symbolLock)}
}

func (l *symbolLocks) acquire(ctx context.Context, symbol string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	lock, ok := l.locks[symbol]
	if !ok {
		lock = &symbolLock{ch: make(chan struct{}, 1)}
		l.locks[symbol] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lock.ch
				l.release(symbol, lock)
			})
		}, nil
	case <-ctx.Done():
		l.release(symbol, lock)
		return nil, ctx.Err()
	}
}

func (l *symbolLocks) release(symbol string, lock *symbolLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, symbol)
	}
}

func (l *symbolLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
