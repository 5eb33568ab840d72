package optimizer

import (
	"exec_optimizer/internal/core"
	"exec_optimizer/internal/trading/fees"
	apperrors "exec_optimizer/pkg/errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatSchedule(maker, taker string) fees.FeeSchedule {
	return fees.FeeSchedule{Exchange: "test", MakerRate: d(maker), TakerRate: d(taker)}
}

func TestCostEstimator_MarketStep(t *testing.T) {
	tests := []struct {
		name           string
		volatility     string
		wantCommission string
		wantSlippage   string
		wantTotal      string
	}{
		{"no volatility", "0", "1", "0", "1"},
		{"linear slippage", "0.05", "1", "5", "6"},
		{"slippage capped at one percent", "0.5", "1", "10", "11"},
	}

	steps := []core.OrderStep{{Kind: core.OrderKindMarket, Size: d("1000")}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := CostEstimator{}.Estimate(steps, flatSchedule("0.0002", "0.001"), d("30000"), d("1000"), d(tt.volatility))
			require.NoError(t, err)
			assert.True(t, d(tt.wantCommission).Equal(est.Commission), "commission %s", est.Commission)
			assert.True(t, d(tt.wantSlippage).Equal(est.Slippage), "slippage %s", est.Slippage)
			assert.True(t, d(tt.wantTotal).Equal(est.TotalCost), "total %s", est.TotalCost)
			assert.True(t, d("0.001").Equal(est.CommissionPercent), "percent %s", est.CommissionPercent)
		})
	}
}

func TestCostEstimator_LimitStepUsesMakerRateAndPrice(t *testing.T) {
	price := d("49975")
	steps := []core.OrderStep{
		{Kind: core.OrderKindLimit, Size: d("1000"), Price: &price},
		{Kind: core.OrderKindMarket, Size: d("1000"), DelayMs: 90_000},
	}

	est, err := CostEstimator{}.Estimate(steps, flatSchedule("0.001", "0.002"), d("50000"), d("2000"), d("0"))
	require.NoError(t, err)

	// 1000*49975/50000*0.001 + 1000*0.002
	assert.Equal(t, "2.9995", est.Commission.String())
	assert.True(t, est.Slippage.IsZero())
	assert.True(t, d("0.00149975").Equal(est.CommissionPercent), est.CommissionPercent.String())
}

func TestCostEstimator_Errors(t *testing.T) {
	schedule := flatSchedule("0.001", "0.001")
	market := []core.OrderStep{{Kind: core.OrderKindMarket, Size: d("100")}}

	tests := []struct {
		name       string
		steps      []core.OrderStep
		reference  string
		amount     string
		volatility string
	}{
		{"zero reference", market, "0", "100", "0"},
		{"zero amount", market, "100", "0", "0"},
		{"negative volatility", market, "100", "100", "-1"},
		{"limit without price", []core.OrderStep{{Kind: core.OrderKindLimit, Size: d("100")}}, "100", "100", "0"},
		{"zero size step", []core.OrderStep{{Kind: core.OrderKindMarket, Size: d("0")}}, "100", "100", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CostEstimator{}.Estimate(tt.steps, schedule, d(tt.reference), d(tt.amount), d(tt.volatility))
			assert.ErrorIs(t, err, apperrors.ErrEstimation)
		})
	}
}

func TestRoundTrip_Binance(t *testing.T) {
	dir, err := fees.NewDirectory(fees.DefaultTable(), nil)
	require.NoError(t, err)

	plain, err := dir.Resolve("binance", d("0"), false)
	require.NoError(t, err)
	assert.Equal(t, "2", RoundTrip(d("1000"), plain).String())

	discounted, err := dir.Resolve("binance", d("0"), true)
	require.NoError(t, err)
	assert.Equal(t, "1.5", RoundTrip(d("1000"), discounted).String())
}
