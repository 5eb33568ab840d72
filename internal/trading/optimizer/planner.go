package optimizer

import (
	"exec_optimizer/internal/core"
	"exec_optimizer/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Order type labels carried on plans
const (
	OrderTypeMarket  = "market"
	OrderTypeLimit   = "limit"
	OrderTypeHybrid  = "hybrid"
	OrderTypeIceberg = "iceberg"
	OrderTypeVWAP    = "vwap"
)

var two = decimal.NewFromInt(2)

// draft is a plan before cost annotation
type draft struct {
	mode             Mode
	orderType        string
	steps            []core.OrderStep
	convertOnTimeout bool
	decision         Decision
}

// planner builds step lists. It never reads the clock; delays are offsets
// from plan acceptance.
type planner struct {
	params    Params
	selector  Selector
	maxExecMs int64
}

func (p planner) build(strategy Strategy, signal core.Signal) draft {
	decision := p.selector.Select(strategy, signal)

	if decision.Mode == ModeSizeAware {
		switch {
		case signal.Amount.LessThan(p.params.IcebergMinAmount):
			decision = p.selector.Select(StrategyHybrid, signal)
		case signal.Amount.LessThan(p.params.VWAPMinAmount):
			return p.iceberg(signal, decision)
		default:
			return p.vwap(signal, decision)
		}
	}

	switch decision.Mode {
	case ModeMarket:
		return draft{
			mode:      ModeMarket,
			orderType: OrderTypeMarket,
			steps:     []core.OrderStep{p.marketStep(signal.Amount, 0)},
			decision:  decision,
		}
	case ModeMaker:
		return draft{
			mode:             ModeMaker,
			orderType:        OrderTypeLimit,
			steps:            []core.OrderStep{p.limitStep(signal, signal.Amount, p.halfSpread(signal), 0)},
			convertOnTimeout: true,
			decision:         decision,
		}
	default:
		return p.split(signal, decision)
	}
}

// split places LimitRatio of the amount as a LIMIT at the favorable half
// spread and the rest as a delayed MARKET order.
func (p planner) split(signal core.Signal, decision Decision) draft {
	limitSize := tradingutils.RoundQuantity(signal.Amount.Mul(decision.LimitRatio), p.params.SizeDecimals)
	marketSize := signal.Amount.Sub(limitSize)
	delay := min(p.maxExecMs, p.params.SplitDelayCapMs)

	steps := compact([]core.OrderStep{
		p.limitStep(signal, limitSize, p.halfSpread(signal), 0),
		p.marketStep(marketSize, delay),
	})

	return draft{
		mode:      ModeSplit,
		orderType: OrderTypeHybrid,
		steps:     steps,
		decision:  decision,
	}
}

// iceberg alternates LIMIT and MARKET slices across the iceberg window. LIMIT
// offsets shrink toward the reference on later slices.
func (p planner) iceberg(signal core.Signal, decision Decision) draft {
	n := tradingutils.ClampInt(
		int(signal.Amount.Div(p.params.IcebergChunk).Ceil().IntPart()),
		p.params.IcebergMinSteps, p.params.IcebergMaxSteps)
	window := min(p.params.IcebergWindowMs, p.maxExecMs)
	sizes := tradingutils.SplitEvenly(signal.Amount, n, p.params.SizeDecimals)
	halfSpread := p.halfSpread(signal)
	count := decimal.NewFromInt(int64(n))

	steps := make([]core.OrderStep, 0, n)
	for i, size := range sizes {
		delay := int64(i) * window / int64(n)
		if i%2 == 0 {
			offset := halfSpread.Mul(decimal.NewFromInt(int64(n - i))).Div(count)
			steps = append(steps, p.limitStep(signal, size, offset, delay))
		} else {
			steps = append(steps, p.marketStep(size, delay))
		}
	}

	return draft{
		mode:      ModeIceberg,
		orderType: OrderTypeIceberg,
		steps:     compact(steps),
		decision:  Decision{Mode: ModeIceberg, MarketScore: decision.MarketScore, Scored: decision.Scored},
	}
}

// vwap spreads equal slices evenly over the VWAP window
func (p planner) vwap(signal core.Signal, decision Decision) draft {
	n := tradingutils.ClampInt(
		int(signal.Amount.Div(p.params.VWAPChunk).Round(0).IntPart()),
		p.params.VWAPMinSteps, p.params.VWAPMaxSteps)
	window := min(p.params.VWAPWindowMs, p.maxExecMs)
	sizes := tradingutils.SplitEvenly(signal.Amount, n, p.params.SizeDecimals)
	halfSpread := p.halfSpread(signal)

	steps := make([]core.OrderStep, 0, n)
	for i, size := range sizes {
		delay := int64(i) * window / int64(n)
		if i%2 == 0 {
			steps = append(steps, p.limitStep(signal, size, halfSpread, delay))
		} else {
			steps = append(steps, p.marketStep(size, delay))
		}
	}

	return draft{
		mode:      ModeVWAP,
		orderType: OrderTypeVWAP,
		steps:     compact(steps),
		decision:  Decision{Mode: ModeVWAP, MarketScore: decision.MarketScore, Scored: decision.Scored},
	}
}

func (p planner) halfSpread(signal core.Signal) decimal.Decimal {
	return signal.Spread.Div(two)
}

func (p planner) marketStep(size decimal.Decimal, delay int64) core.OrderStep {
	return core.OrderStep{Kind: core.OrderKindMarket, Size: size, DelayMs: delay}
}

func (p planner) limitStep(signal core.Signal, size, offset decimal.Decimal, delay int64) core.OrderStep {
	price := tradingutils.RoundPrice(
		tradingutils.OffsetPrice(signal.ReferencePrice, offset, signal.Side == core.SideBuy),
		p.params.PriceDecimals)
	return core.OrderStep{Kind: core.OrderKindLimit, Size: size, Price: &price, DelayMs: delay}
}

// compact drops steps that quantized to zero size
func compact(steps []core.OrderStep) []core.OrderStep {
	out := steps[:0]
	for _, s := range steps {
		if s.Size.IsPositive() {
			out = append(out, s)
		}
	}
	return out
}
