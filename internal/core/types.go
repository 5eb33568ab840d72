package core

import (
	"github.com/shopspring/decimal"
)

// Side is the direction of a trade intent
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is BUY or SELL
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderKind is the order type of a single plan step
type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
)

// Signal is a trade intent produced by a strategy engine.
// Amount is expressed in quote currency.
type Signal struct {
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Amount         decimal.Decimal `json:"amount"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	Volatility     decimal.Decimal `json:"volatility"`
	Spread         decimal.Decimal `json:"spread"`
	Confidence     decimal.Decimal `json:"confidence"`
	LiquidityRank  int             `json:"liquidity_rank"`
	StrategyName   string          `json:"strategy_name,omitempty"`
}

// OrderStep is one row of an execution plan.
// Size is quote-currency notional; Price is nil for MARKET steps.
// DelayMs is an absolute offset from plan acceptance, not a wait after the previous step.
type OrderStep struct {
	Kind    OrderKind        `json:"kind"`
	Size    decimal.Decimal  `json:"size"`
	Price   *decimal.Decimal `json:"price,omitempty"`
	DelayMs int64            `json:"delay_ms"`
}

// PriceUsed returns the price a step is expected to trade at
func (s OrderStep) PriceUsed(reference decimal.Decimal) decimal.Decimal {
	if s.Kind == OrderKindLimit && s.Price != nil {
		return *s.Price
	}
	return reference
}

// Quantity converts the step notional to base units at the reference price
func (s OrderStep) Quantity(reference decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return s.Size.Div(reference)
}

// ExecutionPlan is the immutable output of the planner.
// EstimatedCommissionPercent is a fraction of Amount (0.001 == 0.1%).
type ExecutionPlan struct {
	Symbol                     string          `json:"symbol"`
	Side                       Side            `json:"side"`
	ReferencePrice             decimal.Decimal `json:"reference_price"`
	Exchange                   string          `json:"exchange"`
	Strategy                   string          `json:"strategy"`
	Mode                       string          `json:"mode"`
	OrderType                  string          `json:"order_type"`
	Orders                     []OrderStep     `json:"orders"`
	NumberOfOrders             int             `json:"number_of_orders"`
	EstimatedCommissionPercent decimal.Decimal `json:"estimated_commission_percent"`
	EstimatedTotalCost         decimal.Decimal `json:"estimated_total_cost"`
	MaxExecutionTimeMs         int64           `json:"max_execution_time_ms"`
	ConvertOnTimeout           bool            `json:"convert_on_timeout"`
}

// TotalSize sums the sizes of all steps
func (p ExecutionPlan) TotalSize() decimal.Decimal {
	total := decimal.Zero
	for _, o := range p.Orders {
		total = total.Add(o.Size)
	}
	return total
}

// OrderStatus is the lifecycle state reported by an order submitter
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// OrderRequest is what the execution collaborator sends to a broker
type OrderRequest struct {
	Symbol        string
	Side          Side
	Kind          OrderKind
	Quantity      decimal.Decimal
	Price         decimal.Decimal // zero for MARKET
	ClientOrderID string
	PostOnly      bool
}

// OrderResult is the broker's view of a submitted order
type OrderResult struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Kind          OrderKind
	Status        OrderStatus
	Price         decimal.Decimal // limit price, zero for MARKET
	Quantity      decimal.Decimal
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal
}

// Remaining returns the unfilled base quantity
func (r OrderResult) Remaining() decimal.Decimal {
	rem := r.Quantity.Sub(r.ExecutedQty)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}
