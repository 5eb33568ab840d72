package optimizer

import (
	"exec_optimizer/internal/core"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlanner(maxExecMs int64) planner {
	params := DefaultParams()
	return planner{params: params, selector: NewSelector(params), maxExecMs: maxExecMs}
}

func requireSum(t *testing.T, steps []core.OrderStep, amount decimal.Decimal) {
	t.Helper()
	total := decimal.Zero
	for _, s := range steps {
		require.True(t, s.Size.IsPositive(), "step size %s", s.Size)
		total = total.Add(s.Size)
	}
	require.True(t, total.Equal(amount), "sum %s != amount %s", total, amount)
}

func TestPlanner_AggressiveMarket(t *testing.T) {
	p := newPlanner(DefaultMaxExecutionTimeMs)
	dr := p.build(StrategyAggressiveMarket, newSignal("1000", "0.5", "0.02", 1))

	require.Len(t, dr.steps, 1)
	step := dr.steps[0]
	assert.Equal(t, core.OrderKindMarket, step.Kind)
	assert.Nil(t, step.Price)
	assert.Equal(t, int64(0), step.DelayMs)
	assert.True(t, d("1000").Equal(step.Size))
	assert.Equal(t, OrderTypeMarket, dr.orderType)
	assert.False(t, dr.convertOnTimeout)
}

func TestPlanner_PatientMakerPrices(t *testing.T) {
	p := newPlanner(DefaultMaxExecutionTimeMs)

	buy := newSignal("1000", "0.5", "0.02", 1)
	dr := p.build(StrategyPatientMaker, buy)
	require.Len(t, dr.steps, 1)
	require.NotNil(t, dr.steps[0].Price)
	assert.Equal(t, core.OrderKindLimit, dr.steps[0].Kind)
	assert.Equal(t, "49975", dr.steps[0].Price.String())
	assert.True(t, dr.convertOnTimeout)
	assert.Equal(t, OrderTypeLimit, dr.orderType)

	sell := buy
	sell.Side = core.SideSell
	dr = p.build(StrategyPatientMaker, sell)
	assert.Equal(t, "50025", dr.steps[0].Price.String())
}

func TestPlanner_HybridSplit(t *testing.T) {
	sig := newSignal("2500", "0.5", "0.025", 1)

	dr := newPlanner(DefaultMaxExecutionTimeMs).build(StrategyHybrid, sig)
	require.Len(t, dr.steps, 2)
	assert.Equal(t, ModeSplit, dr.mode)
	assert.Equal(t, OrderTypeHybrid, dr.orderType)

	limit, market := dr.steps[0], dr.steps[1]
	assert.Equal(t, core.OrderKindLimit, limit.Kind)
	assert.True(t, d("1500").Equal(limit.Size))
	assert.Equal(t, int64(0), limit.DelayMs)
	assert.Equal(t, "49975", limit.Price.String())

	assert.Equal(t, core.OrderKindMarket, market.Kind)
	assert.True(t, d("1000").Equal(market.Size))
	assert.Equal(t, int64(90_000), market.DelayMs)

	// Short deadlines pull the market leg forward
	dr = newPlanner(60_000).build(StrategyHybrid, sig)
	assert.Equal(t, int64(60_000), dr.steps[1].DelayMs)
}

func TestPlanner_SizeAwareTiers(t *testing.T) {
	p := newPlanner(DefaultMaxExecutionTimeMs)

	t.Run("small order uses hybrid decision", func(t *testing.T) {
		sig := newSignal("800", "0.6", "0.02", 1)
		dr := p.build(StrategySizeAware, sig)
		hybrid := p.build(StrategyHybrid, sig)
		assert.Equal(t, hybrid, dr)
		assert.Equal(t, ModeMarket, dr.mode)
		assert.Len(t, dr.steps, 1)
	})

	t.Run("mid order becomes iceberg", func(t *testing.T) {
		sig := newSignal("3000", "0.6", "0.02", 1)
		dr := p.build(StrategySizeAware, sig)
		assert.Equal(t, OrderTypeIceberg, dr.orderType)
		assert.GreaterOrEqual(t, len(dr.steps), 2)
		assert.LessOrEqual(t, len(dr.steps), 3)
		requireSum(t, dr.steps, d("3000"))
	})

	t.Run("large order becomes vwap", func(t *testing.T) {
		sig := newSignal("10000", "0.6", "0.02", 1)
		dr := p.build(StrategySizeAware, sig)
		assert.Equal(t, OrderTypeVWAP, dr.orderType)
		assert.GreaterOrEqual(t, len(dr.steps), 5)
		assert.LessOrEqual(t, len(dr.steps), 10)
		requireSum(t, dr.steps, d("10000"))
	})
}

func TestPlanner_IcebergShape(t *testing.T) {
	sig := newSignal("4500", "0.5", "0.02", 1)
	sig.Spread = d("0.003")

	dr := newPlanner(DefaultMaxExecutionTimeMs).build(StrategySizeAware, sig)
	require.Len(t, dr.steps, 3)

	kinds := []core.OrderKind{core.OrderKindLimit, core.OrderKindMarket, core.OrderKindLimit}
	delays := []int64{0, 40_000, 80_000}
	for i, step := range dr.steps {
		assert.Equal(t, kinds[i], step.Kind, "step %d", i)
		assert.Equal(t, delays[i], step.DelayMs, "step %d", i)
		assert.True(t, d("1500").Equal(step.Size), "step %d", i)
	}

	// Offsets tighten: full half spread first, a third of it on the last slice
	assert.Equal(t, "49925", dr.steps[0].Price.String())
	assert.Nil(t, dr.steps[1].Price)
	assert.Equal(t, "49975", dr.steps[2].Price.String())
}

func TestPlanner_IcebergStepCount(t *testing.T) {
	p := newPlanner(DefaultMaxExecutionTimeMs)
	tests := []struct {
		amount string
		want   int
	}{
		{"1000", 2},
		{"2000", 2},
		{"2000.01", 2},
		{"4000.01", 3},
		{"4999.99", 3},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			dr := p.build(StrategySizeAware, newSignal(tt.amount, "0.5", "0.02", 1))
			assert.Equal(t, OrderTypeIceberg, dr.orderType)
			assert.Len(t, dr.steps, tt.want)
			requireSum(t, dr.steps, d(tt.amount))
		})
	}
}

func TestPlanner_VWAPShape(t *testing.T) {
	tests := []struct {
		amount    string
		maxExecMs int64
		wantSteps int
		lastDelay int64
	}{
		{"5000", DefaultMaxExecutionTimeMs, 5, 240_000},
		{"5400", DefaultMaxExecutionTimeMs, 5, 240_000},
		{"7500", DefaultMaxExecutionTimeMs, 8, 262_500},
		{"10000", DefaultMaxExecutionTimeMs, 10, 270_000},
		{"250000", DefaultMaxExecutionTimeMs, 10, 270_000},
		{"10000", 100_000, 10, 90_000},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			dr := newPlanner(tt.maxExecMs).build(StrategySizeAware, newSignal(tt.amount, "0.5", "0.02", 1))
			require.Len(t, dr.steps, tt.wantSteps)
			requireSum(t, dr.steps, d(tt.amount))

			for i, step := range dr.steps {
				if i%2 == 0 {
					assert.Equal(t, core.OrderKindLimit, step.Kind)
					assert.NotNil(t, step.Price)
				} else {
					assert.Equal(t, core.OrderKindMarket, step.Kind)
					assert.Nil(t, step.Price)
				}
				if i > 0 {
					assert.GreaterOrEqual(t, step.DelayMs, dr.steps[i-1].DelayMs)
				}
				assert.LessOrEqual(t, step.DelayMs, tt.maxExecMs)
			}
			assert.Equal(t, tt.lastDelay, dr.steps[len(dr.steps)-1].DelayMs)
		})
	}
}

func TestPlanner_RemainderGoesToLastStep(t *testing.T) {
	dr := newPlanner(DefaultMaxExecutionTimeMs).build(StrategySizeAware, newSignal("10000.123456789", "0.5", "0.02", 1))
	require.Len(t, dr.steps, 10)
	for _, step := range dr.steps[:9] {
		assert.Equal(t, "1000.01234567", step.Size.String())
	}
	assert.Equal(t, "1000.012345759", dr.steps[9].Size.String())
	requireSum(t, dr.steps, d("10000.123456789"))
}
