package optimizer

import (
	"context"
	"exec_optimizer/internal/core"
	apperrors "exec_optimizer/pkg/errors"
	"exec_optimizer/pkg/telemetry"
	"exec_optimizer/pkg/tradingutils"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	minLiquidityRank = 1
	maxLiquidityRank = 5
)

// normalize rejects unusable signals and clamps out-of-range soft fields
func (o *Optimizer) normalize(ctx context.Context, signal core.Signal) (core.Signal, error) {
	if strings.TrimSpace(signal.Symbol) == "" {
		return core.Signal{}, fmt.Errorf("%w: symbol is required", apperrors.ErrValidation)
	}
	if !signal.Side.Valid() {
		return core.Signal{}, fmt.Errorf("%w: invalid side %q", apperrors.ErrValidation, signal.Side)
	}
	if !signal.Amount.IsPositive() {
		return core.Signal{}, fmt.Errorf("%w: amount must be positive, got %s", apperrors.ErrValidation, signal.Amount)
	}
	if !signal.ReferencePrice.IsPositive() {
		return core.Signal{}, fmt.Errorf("%w: reference price must be positive, got %s", apperrors.ErrValidation, signal.ReferencePrice)
	}

	sig := signal
	clamp := func(field string, from, to interface{}) {
		o.logger.Warn("Signal field out of range, clamped",
			"symbol", sig.Symbol,
			"field", field,
			"value", fmt.Sprint(from),
			"clamped", fmt.Sprint(to))
		telemetry.GetGlobalMetrics().RecordClamp(ctx, field)
	}

	if c := tradingutils.ClampDecimal(sig.Confidence, decimal.Zero, one); !c.Equal(sig.Confidence) {
		clamp("confidence", sig.Confidence, c)
		sig.Confidence = c
	}
	if r := tradingutils.ClampInt(sig.LiquidityRank, minLiquidityRank, maxLiquidityRank); r != sig.LiquidityRank {
		clamp("liquidity_rank", sig.LiquidityRank, r)
		sig.LiquidityRank = r
	}
	if sig.Volatility.IsNegative() {
		clamp("volatility", sig.Volatility, decimal.Zero)
		sig.Volatility = decimal.Zero
	}
	// A spread of 1 already offsets LIMIT prices by 50%
	if s := tradingutils.ClampDecimal(sig.Spread, decimal.Zero, one); !s.Equal(sig.Spread) {
		clamp("spread", sig.Spread, s)
		sig.Spread = s
	}

	return sig, nil
}
