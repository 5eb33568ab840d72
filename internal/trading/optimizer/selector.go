package optimizer

import (
	"exec_optimizer/internal/core"

	"github.com/shopspring/decimal"
)

// Mode is the execution style a plan is built around
type Mode string

const (
	ModeMarket    Mode = "MARKET"
	ModeMaker     Mode = "MAKER"
	ModeSplit     Mode = "SPLIT"
	ModeSizeAware Mode = "SIZE_AWARE"
	ModeIceberg   Mode = "ICEBERG"
	ModeVWAP      Mode = "VWAP"
)

var (
	weightConfidence = decimal.RequireFromString("0.4")
	weightFactor     = decimal.RequireFromString("0.2")
	one              = decimal.NewFromInt(1)
	four             = decimal.NewFromInt(4)
)

// Decision is the selector output. MarketScore is only set when Scored is true.
type Decision struct {
	Mode        Mode
	MarketScore decimal.Decimal
	Scored      bool
	LimitRatio  decimal.Decimal // share of the amount placed as LIMIT for SPLIT
}

// Selector maps a strategy and signal to an execution mode
type Selector struct {
	params Params
}

func NewSelector(params Params) Selector {
	return Selector{params: params}
}

// Select dispatches on the strategy. Only HYBRID scores the signal; the
// others pass through unchanged. An unknown strategy yields a zero Decision.
func (s Selector) Select(strategy Strategy, signal core.Signal) Decision {
	switch strategy {
	case StrategyAggressiveMarket:
		return Decision{Mode: ModeMarket}
	case StrategyPatientMaker:
		return Decision{Mode: ModeMaker}
	case StrategySizeAware:
		return Decision{Mode: ModeSizeAware}
	case StrategyHybrid:
		return s.hybrid(signal)
	default:
		return Decision{}
	}
}

func (s Selector) hybrid(signal core.Signal) Decision {
	score := s.MarketScore(signal)
	d := Decision{MarketScore: score, Scored: true}

	switch {
	case score.GreaterThan(s.params.MarketThreshold):
		d.Mode = ModeMarket
	case score.LessThan(s.params.MakerThreshold):
		d.Mode = ModeMaker
	default:
		d.Mode = ModeSplit
		d.LimitRatio = s.params.SplitLimitRatio
	}
	return d
}

// MarketScore is a weighted [0,1] preference for immediate execution:
//
//	0.4*confidence + 0.2*(1-size) + 0.2*(1-liquidity) + 0.2*(1-volatility)
//
// where size and volatility are normalized against their references and
// liquidity maps rank 1..5 onto 0..1.
func (s Selector) MarketScore(signal core.Signal) decimal.Decimal {
	sizeFactor := decimal.Min(one, signal.Amount.Div(s.params.SizeReference))
	liquidityPenalty := decimal.NewFromInt(int64(signal.LiquidityRank - 1)).Div(four)
	volatilityFactor := decimal.Min(one, signal.Volatility.Div(s.params.VolatilityReference))

	return weightConfidence.Mul(signal.Confidence).
		Add(weightFactor.Mul(one.Sub(sizeFactor))).
		Add(weightFactor.Mul(one.Sub(liquidityPenalty))).
		Add(weightFactor.Mul(one.Sub(volatilityFactor)))
}
