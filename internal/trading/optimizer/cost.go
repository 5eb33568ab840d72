package optimizer

import (
	"exec_optimizer/internal/core"
	"exec_optimizer/internal/trading/fees"
	apperrors "exec_optimizer/pkg/errors"
	"exec_optimizer/pkg/tradingutils"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	slippageDivisor = decimal.NewFromInt(10)
	slippageCap     = decimal.RequireFromString("0.01")
)

// Estimate is the expected cost of a set of steps in quote currency.
//
// Slippage is a linear approximation, min(volatility/10, 1%) of each MARKET
// step's notional. It is an estimate and not a bound on realized slippage.
type Estimate struct {
	Commission        decimal.Decimal
	Slippage          decimal.Decimal
	TotalCost         decimal.Decimal
	CommissionPercent decimal.Decimal // fraction of amount
}

// CostEstimator prices plan steps against a fee schedule
type CostEstimator struct{}

// Estimate computes commission and slippage for steps. Step sizes are quote
// notional, so commission is size * price_used / reference * rate.
func (CostEstimator) Estimate(
	steps []core.OrderStep,
	schedule fees.FeeSchedule,
	reference decimal.Decimal,
	amount decimal.Decimal,
	volatility decimal.Decimal,
) (Estimate, error) {
	if !reference.IsPositive() {
		return Estimate{}, fmt.Errorf("%w: reference price %s", apperrors.ErrEstimation, reference)
	}
	if !amount.IsPositive() {
		return Estimate{}, fmt.Errorf("%w: amount %s", apperrors.ErrEstimation, amount)
	}
	if volatility.IsNegative() {
		return Estimate{}, fmt.Errorf("%w: volatility %s", apperrors.ErrEstimation, volatility)
	}

	slippageRate := decimal.Min(volatility.Div(slippageDivisor), slippageCap)

	var est Estimate
	for i, step := range steps {
		if !step.Size.IsPositive() {
			return Estimate{}, fmt.Errorf("%w: step %d has size %s", apperrors.ErrEstimation, i, step.Size)
		}

		if step.Kind == core.OrderKindLimit && (step.Price == nil || !step.Price.IsPositive()) {
			return Estimate{}, fmt.Errorf("%w: limit step %d has no usable price", apperrors.ErrEstimation, i)
		}
		priceUsed := step.PriceUsed(reference)

		rate := schedule.RateFor(step.Kind)
		commission := step.Size.Mul(priceUsed).Div(reference).Mul(rate)
		est.Commission = est.Commission.Add(commission)

		if step.Kind == core.OrderKindMarket {
			est.Slippage = est.Slippage.Add(step.Size.Mul(slippageRate))
		}
	}

	est.TotalCost = est.Commission.Add(est.Slippage)
	if est.Commission.IsNegative() || est.TotalCost.IsNegative() {
		return Estimate{}, fmt.Errorf("%w: negative cost %s", apperrors.ErrEstimation, est.TotalCost)
	}
	est.CommissionPercent = est.Commission.Div(amount)
	return est, nil
}

// RoundTrip is the commission of entering and exiting notional with market orders
func RoundTrip(notional decimal.Decimal, schedule fees.FeeSchedule) decimal.Decimal {
	return tradingutils.CalculateRoundTripCost(notional, schedule.TakerRate, schedule.TakerRate)
}
