package execution

import (
	"context"
	"exec_optimizer/internal/core"
	"exec_optimizer/internal/mock"
	"exec_optimizer/internal/trading/fees"
	"exec_optimizer/internal/trading/optimizer"
	apperrors "exec_optimizer/pkg/errors"
	"exec_optimizer/pkg/retry"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

// fakeClock advances virtual time on every sleep
type fakeClock struct {
	mu          sync.Mutex
	now         time.Time
	beforeSleep func()
	onSleep     func(d time.Duration)
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.beforeSleep != nil {
		c.beforeSleep()
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

func newTestRunner(t *testing.T, ex core.IOrderSubmitter) (*Runner, *fakeClock) {
	t.Helper()
	return newTestRunnerWithWorkers(t, ex, 1)
}

func newTestRunnerWithWorkers(t *testing.T, ex core.IOrderSubmitter, workers int) (*Runner, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewRunner(ex, Config{
		MaxWorkers:   workers,
		QueueSize:    16,
		PollInterval: 10 * time.Second,
		Retry:        retry.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}, &mockLogger{})
	r.now = clock.Now
	r.sleep = clock.Sleep
	t.Cleanup(r.Stop)
	return r, clock
}

func newPlan(t *testing.T, strategy optimizer.Strategy, amount, confidence, volatility string) core.ExecutionPlan {
	t.Helper()
	dir, err := fees.NewDirectory(fees.DefaultTable(), nil)
	require.NoError(t, err)
	opt, err := optimizer.Build(dir, optimizer.Options{Exchange: "binance", Strategy: strategy}, &mockLogger{})
	require.NoError(t, err)

	plan, err := opt.CreateExecutionPlan(core.Signal{
		Symbol:         "BTCUSDT",
		Side:           core.SideBuy,
		Amount:         decimal.RequireFromString(amount),
		ReferencePrice: decimal.NewFromInt(50000),
		Volatility:     decimal.RequireFromString(volatility),
		Spread:         decimal.RequireFromString("0.001"),
		Confidence:     decimal.RequireFromString(confidence),
		LiquidityRank:  1,
	})
	require.NoError(t, err)
	return plan
}

func newPaper() *mock.PaperExchange {
	ex := mock.NewPaperExchange("paper")
	ex.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	return ex
}

// timedSubmitter records the virtual offset of every PlaceOrder call. Once
// attached it holds each clock advance until every step scheduled so far has
// reached the broker, so offsets are read at submission time.
type timedSubmitter struct {
	*mock.PaperExchange

	mu      sync.Mutex
	clock   *fakeClock
	start   time.Time
	offsets []time.Duration

	// hold runs after the offset is recorded, with the 1-based call number
	hold func(call int)
}

func newTimedSubmitter() *timedSubmitter {
	return &timedSubmitter{PaperExchange: newPaper()}
}

func (s *timedSubmitter) attach(clock *fakeClock, steps int) {
	s.mu.Lock()
	s.clock = clock
	s.start = clock.Now()
	s.mu.Unlock()

	sleeps := 0
	clock.beforeSleep = func() {
		sleeps++
		s.await(min(sleeps, steps))
	}
}

func (s *timedSubmitter) PlaceOrder(ctx context.Context, req core.OrderRequest) (*core.OrderResult, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, s.clock.Now().Sub(s.start))
	call := len(s.offsets)
	s.mu.Unlock()

	if s.hold != nil {
		s.hold(call)
	}
	return s.PaperExchange.PlaceOrder(ctx, req)
}

// await blocks in real time until n calls were recorded or two seconds pass
func (s *timedSubmitter) await(n int) {
	deadline := time.Now().Add(2 * time.Second)
	for s.calls() < n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func (s *timedSubmitter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offsets)
}

func (s *timedSubmitter) Offsets() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.offsets))
	copy(out, s.offsets)
	return out
}

func TestRunner_MarketPlanFills(t *testing.T) {
	ex := newPaper()
	r, _ := newTestRunner(t, ex)

	report, err := r.Execute(context.Background(), newPlan(t, optimizer.StrategyAggressiveMarket, "1000", "0.5", "0.02"))
	require.NoError(t, err)

	assert.NotEmpty(t, report.PlanID)
	assert.True(t, report.Remaining.IsZero(), report.Remaining.String())
	assert.Equal(t, "1000", report.Filled.String())
	assert.Nil(t, report.Conversion)
	require.Len(t, report.Steps, 1)
	assert.True(t, report.Steps[0].Submitted)
	assert.NotEmpty(t, report.Steps[0].ClientOrderID)

	placed := ex.Placed()
	require.Len(t, placed, 1)
	assert.Equal(t, "0.02", placed[0].Quantity.String())
	assert.Equal(t, core.OrderKindMarket, placed[0].Kind)
}

func TestRunner_PatientMakerConvertsAtDeadline(t *testing.T) {
	ex := newPaper()
	r, clock := newTestRunner(t, ex)
	start := clock.Now()

	plan := newPlan(t, optimizer.StrategyPatientMaker, "1000", "0.5", "0.02")
	require.True(t, plan.ConvertOnTimeout)

	report, err := r.Execute(context.Background(), plan)
	require.NoError(t, err)

	placed := ex.Placed()
	require.Len(t, placed, 2)
	assert.Equal(t, core.OrderKindLimit, placed[0].Kind)
	assert.True(t, placed[0].PostOnly)
	assert.Equal(t, "49975", placed[0].Price.String())
	assert.Equal(t, core.OrderKindMarket, placed[1].Kind)
	assert.Equal(t, "0.02", placed[1].Quantity.String())

	require.NotNil(t, report.Conversion)
	assert.Equal(t, core.OrderStatusCanceled, report.Steps[0].Order.Status)
	assert.True(t, report.Remaining.IsZero(), report.Remaining.String())
	assert.Equal(t, 5*time.Minute, clock.Now().Sub(start))
	assert.Equal(t, 0, ex.OpenOrders("BTCUSDT"))
}

func TestRunner_PatientMakerFilledBeforeDeadline(t *testing.T) {
	ex := newPaper()
	r, clock := newTestRunner(t, ex)
	clock.onSleep = func(time.Duration) {
		ex.SetPrice("BTCUSDT", decimal.NewFromInt(49900))
	}

	report, err := r.Execute(context.Background(), newPlan(t, optimizer.StrategyPatientMaker, "1000", "0.5", "0.02"))
	require.NoError(t, err)

	assert.Nil(t, report.Conversion)
	assert.Len(t, ex.Placed(), 1)
	assert.Equal(t, core.OrderStatusFilled, report.Steps[0].Order.Status)
	assert.True(t, report.Remaining.IsZero())
	assert.Less(t, report.Duration, 5*time.Minute)
}

func TestRunner_SplitReportsUnfilledLimitLeg(t *testing.T) {
	ex := newPaper()
	r, _ := newTestRunner(t, ex)

	plan := newPlan(t, optimizer.StrategyHybrid, "2500", "0.5", "0.025")
	require.Equal(t, optimizer.OrderTypeHybrid, plan.OrderType)
	require.False(t, plan.ConvertOnTimeout)

	report, err := r.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, "1500", report.Remaining.String())
	assert.Equal(t, "1000", report.Filled.String())
	assert.Nil(t, report.Conversion)
	assert.Equal(t, 5*time.Minute, report.Duration)

	placed := ex.Placed()
	require.Len(t, placed, 2)
	assert.Equal(t, core.OrderKindLimit, placed[0].Kind)
	assert.Equal(t, core.OrderKindMarket, placed[1].Kind)
	assert.Equal(t, 0, ex.OpenOrders("BTCUSDT"))
}

func TestRunner_CancellationReportsRemaining(t *testing.T) {
	ex := newPaper()
	r, clock := newTestRunner(t, ex)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.onSleep = func(time.Duration) { cancel() }

	plan := newPlan(t, optimizer.StrategySizeAware, "10000", "0.5", "0.02")
	require.Equal(t, optimizer.OrderTypeVWAP, plan.OrderType)

	report, err := r.Execute(ctx, plan)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)

	assert.True(t, report.Canceled)
	assert.Equal(t, "10000", report.Remaining.String())
	assert.Nil(t, report.Conversion)
	for _, s := range report.Steps[1:] {
		assert.False(t, s.Submitted)
	}
	assert.Equal(t, 0, ex.OpenOrders("BTCUSDT"))
}

func TestRunner_VWAPStepsStartAtAbsoluteOffsets(t *testing.T) {
	plan := newPlan(t, optimizer.StrategySizeAware, "10000", "0.5", "0.02")
	require.Equal(t, optimizer.OrderTypeVWAP, plan.OrderType)
	require.Len(t, plan.Orders, 10)

	ex := newTimedSubmitter()
	r, clock := newTestRunner(t, ex)
	ex.attach(clock, len(plan.Orders))

	_, err := r.Execute(context.Background(), plan)
	require.NoError(t, err)

	offsets := ex.Offsets()
	require.GreaterOrEqual(t, len(offsets), len(plan.Orders))
	for i := range plan.Orders {
		assert.Equal(t, time.Duration(i)*30*time.Second, offsets[i], "step %d", i)
		assert.Equal(t, time.Duration(plan.Orders[i].DelayMs)*time.Millisecond, offsets[i], "step %d", i)
	}
}

func TestRunner_SplitMarketLegStartsAtCap(t *testing.T) {
	plan := newPlan(t, optimizer.StrategyHybrid, "2500", "0.5", "0.025")
	require.Equal(t, optimizer.OrderTypeHybrid, plan.OrderType)
	require.Len(t, plan.Orders, 2)

	ex := newTimedSubmitter()
	r, clock := newTestRunner(t, ex)
	ex.attach(clock, len(plan.Orders))

	_, err := r.Execute(context.Background(), plan)
	require.NoError(t, err)

	offsets := ex.Offsets()
	require.Len(t, offsets, 2)
	assert.Equal(t, time.Duration(0), offsets[0])
	assert.Equal(t, 90*time.Second, offsets[1])

	placed := ex.Placed()
	require.Len(t, placed, 2)
	assert.Equal(t, core.OrderKindLimit, placed[0].Kind)
	assert.Equal(t, core.OrderKindMarket, placed[1].Kind)
}

func TestRunner_SlowSubmissionDoesNotDelayNextStep(t *testing.T) {
	plan := core.ExecutionPlan{
		Symbol:             "BTCUSDT",
		Side:               core.SideBuy,
		OrderType:          optimizer.OrderTypeVWAP,
		ReferencePrice:     decimal.NewFromInt(50000),
		MaxExecutionTimeMs: 60000,
		Orders: []core.OrderStep{
			{Kind: core.OrderKindMarket, Size: decimal.NewFromInt(500)},
			{Kind: core.OrderKindMarket, Size: decimal.NewFromInt(500), DelayMs: 30000},
		},
	}

	ex := newTimedSubmitter()
	r, clock := newTestRunnerWithWorkers(t, ex, 2)
	ex.attach(clock, len(plan.Orders))

	// The first submission stays in flight until the second one arrives
	released := make(chan bool, 1)
	ex.hold = func(call int) {
		if call != 1 {
			return
		}
		ex.await(2)
		released <- ex.calls() >= 2
	}

	report, err := r.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, <-released, "second step waited for the first submission")

	offsets := ex.Offsets()
	require.Len(t, offsets, 2)
	assert.Equal(t, time.Duration(0), offsets[0])
	assert.Equal(t, 30*time.Second, offsets[1])
	assert.True(t, report.Remaining.IsZero(), report.Remaining.String())
}

func TestRunner_RetriesTransientErrors(t *testing.T) {
	ex := newPaper()
	ex.FailNext(apperrors.ErrNetwork, apperrors.ErrRateLimitExceeded)
	r, _ := newTestRunner(t, ex)

	report, err := r.Execute(context.Background(), newPlan(t, optimizer.StrategyAggressiveMarket, "1000", "0.5", "0.02"))
	require.NoError(t, err)

	assert.True(t, report.Remaining.IsZero())
	assert.Empty(t, report.Steps[0].Error)
	assert.Len(t, ex.Placed(), 1)
}

func TestRunner_PermanentErrorLeavesRemaining(t *testing.T) {
	ex := newPaper()
	ex.FailNext(apperrors.ErrInsufficientFunds)
	r, _ := newTestRunner(t, ex)

	report, err := r.Execute(context.Background(), newPlan(t, optimizer.StrategyAggressiveMarket, "1000", "0.5", "0.02"))
	require.NoError(t, err)

	assert.Equal(t, "1000", report.Remaining.String())
	assert.Contains(t, report.Steps[0].Error, "insufficient funds")
	assert.Nil(t, report.Steps[0].Order)
	assert.Empty(t, ex.Placed())
}

func TestRunner_RejectsEmptyPlan(t *testing.T) {
	r, _ := newTestRunner(t, newPaper())

	_, err := r.Execute(context.Background(), core.ExecutionPlan{Symbol: "BTCUSDT"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSymbolLocks(t *testing.T) {
	locks := newSymbolLocks()

	unlock, err := locks.acquire(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locks.acquire(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	other()

	unlock()
	again, err := locks.acquire(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	again()
	again()

	assert.Equal(t, 0, locks.size())
}

func TestSymbolLocks_EntriesRemovedAfterRelease(t *testing.T) {
	locks := newSymbolLocks()

	unlock, err := locks.acquire(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	acquired := make(chan func(), 1)
	go func() {
		next, err := locks.acquire(context.Background(), "BTCUSDT")
		if err == nil {
			acquired <- next
		}
	}()

	require.Eventually(t, func() bool {
		locks.mu.Lock()
		defer locks.mu.Unlock()
		return locks.locks["BTCUSDT"] != nil && locks.locks["BTCUSDT"].refs == 2
	}, time.Second, time.Millisecond)

	unlock()
	var next func()
	select {
	case next = <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter did not get the lock")
	}
	assert.Equal(t, 1, locks.size(), "entry kept while the waiter holds it")

	next()
	assert.Equal(t, 0, locks.size())

	for _, symbol := range []string{"ETHUSDT", "SOLUSDT", "XRPUSDT"} {
		release, err := locks.acquire(context.Background(), symbol)
		require.NoError(t, err)
		release()
	}
	assert.Equal(t, 0, locks.size())

	ctx, cancel := context.WithCancel(context.Background())
	held, err := locks.acquire(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = locks.acquire(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, context.Canceled)
	held()
	assert.Equal(t, 0, locks.size(), "canceled waiter drops its reference")
}

func TestRemainingQuote(t *testing.T) {
	steps := []StepReport{
		{
			Step:  core.OrderStep{Kind: core.OrderKindLimit, Size: decimal.NewFromInt(1000)},
			Order: &core.OrderResult{Quantity: decimal.RequireFromString("0.02"), ExecutedQty: decimal.RequireFromString("0.005")},
		},
		{Step: core.OrderStep{Kind: core.OrderKindMarket, Size: decimal.NewFromInt(400)}},
		{
			Step:  core.OrderStep{Kind: core.OrderKindMarket, Size: decimal.NewFromInt(600)},
			Order: &core.OrderResult{Quantity: decimal.RequireFromString("0.012"), ExecutedQty: decimal.RequireFromString("0.012")},
		},
	}

	assert.Equal(t, "1150", remainingQuote(steps).String())
}
