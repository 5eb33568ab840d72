package optimizer

import (
	"exec_optimizer/internal/core"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newSignal(amount, confidence, volatility string, rank int) core.Signal {
	return core.Signal{
		Symbol:         "BTCUSDT",
		Side:           core.SideBuy,
		Amount:         d(amount),
		ReferencePrice: d("50000"),
		Volatility:     d(volatility),
		Spread:         d("0.001"),
		Confidence:     d(confidence),
		LiquidityRank:  rank,
		StrategyName:   "momentum",
	}
}

func TestSelector_PassThrough(t *testing.T) {
	s := NewSelector(DefaultParams())
	sig := newSignal("500", "0", "1", 5)

	assert.Equal(t, ModeMarket, s.Select(StrategyAggressiveMarket, sig).Mode)
	assert.Equal(t, ModeMaker, s.Select(StrategyPatientMaker, sig).Mode)
	assert.Equal(t, ModeSizeAware, s.Select(StrategySizeAware, sig).Mode)
	assert.False(t, s.Select(StrategyAggressiveMarket, sig).Scored)
}

func TestSelector_HybridAndUnknownStrategy(t *testing.T) {
	s := NewSelector(DefaultParams())
	sig := newSignal("500", "0", "1", 5)

	hybrid := s.Select(StrategyHybrid, sig)
	assert.True(t, hybrid.Scored)
	assert.NotEmpty(t, hybrid.Mode)

	unknown := s.Select(Strategy("TWAP"), sig)
	assert.Equal(t, Decision{}, unknown)
	assert.False(t, unknown.Scored)
	assert.Empty(t, unknown.Mode)
}

func TestSelector_MarketScoreExample(t *testing.T) {
	s := NewSelector(DefaultParams())
	sig := newSignal("500", "0.60", "0.02", 1)

	// 0.4*0.6 + 0.2*(1-0.05) + 0.2*(1-0) + 0.2*(1-0.4)
	score := s.MarketScore(sig)
	assert.True(t, d("0.75").Equal(score), "score %s", score)

	decision := s.Select(StrategyHybrid, sig)
	assert.True(t, decision.Scored)
	assert.Equal(t, ModeMarket, decision.Mode)
}

func TestSelector_HybridDecisions(t *testing.T) {
	s := NewSelector(DefaultParams())

	tests := []struct {
		name      string
		sig       core.Signal
		wantScore string
		wantMode  Mode
	}{
		// 0.2 + 0.15 + 0.2 + 0.1
		{"exactly market threshold is split", newSignal("2500", "0.5", "0.025", 1), "0.65", ModeSplit},
		// 0 + 0.15 + 0 + 0.2
		{"exactly maker threshold is split", newSignal("2500", "0", "0", 5), "0.35", ModeSplit},
		{"confident liquid small order", newSignal("100", "1", "0", 1), "0.998", ModeMarket},
		{"large illiquid volatile order", newSignal("20000", "0.2", "0.1", 5), "0.08", ModeMaker},
		{"size and volatility saturate", newSignal("1000000", "0", "5", 1), "0.2", ModeMaker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := s.Select(StrategyHybrid, tt.sig)
			assert.True(t, d(tt.wantScore).Equal(decision.MarketScore), "score %s", decision.MarketScore)
			assert.Equal(t, tt.wantMode, decision.Mode)
		})
	}
}

func TestSelector_SplitRatio(t *testing.T) {
	s := NewSelector(DefaultParams())
	decision := s.Select(StrategyHybrid, newSignal("2500", "0.5", "0.025", 1))
	require.Equal(t, ModeSplit, decision.Mode)
	assert.True(t, d("0.6").Equal(decision.LimitRatio))
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"AGGRESSIVE_MARKET", StrategyAggressiveMarket, false},
		{"patient_maker", StrategyPatientMaker, false},
		{" Hybrid ", StrategyHybrid, false},
		{"size-aware", StrategySizeAware, false},
		{"twap", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
