// Package mock provides an in-memory order submitter for tests and paper trading
package mock

import (
	"context"
	"exec_optimizer/internal/core"
	apperrors "exec_optimizer/pkg/errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// PaperExchange implements core.IOrderSubmitter against in-memory books.
// MARKET orders fill at the mark price. LIMIT orders rest until SetPrice
// moves the mark through them.
type PaperExchange struct {
	name           string
	orders         map[int64]*core.OrderResult
	marks          map[string]decimal.Decimal
	orderIDCounter int64
	clientOrderMap map[string]int64
	mu             sync.RWMutex

	failures []error
	placed   []core.OrderRequest
}

func NewPaperExchange(name string) *PaperExchange {
	return &PaperExchange{
		name:           name,
		orders:         make(map[int64]*core.OrderResult),
		marks:          make(map[string]decimal.Decimal),
		clientOrderMap: make(map[string]int64),
		orderIDCounter: 1000,
	}
}

func (m *PaperExchange) GetName() string {
	return m.name
}

// SetPrice moves the mark price and fills resting LIMIT orders it crosses
func (m *PaperExchange) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.marks[symbol] = price
	for _, order := range m.orders {
		if order.Symbol != symbol || order.Kind != core.OrderKindLimit || !isOpen(order.Status) {
			continue
		}
		if crosses(order.Side, order.Price, price) {
			order.ExecutedQty = order.Quantity
			order.AvgPrice = order.Price
			order.Status = core.OrderStatusFilled
		}
	}
}

// FailNext makes the next PlaceOrder calls return errs in order
func (m *PaperExchange) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Fill fills qty of a resting order, as a counterparty trade would
func (m *PaperExchange) Fill(orderID int64, qty decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %d", apperrors.ErrOrderNotFound, orderID)
	}
	if !isOpen(order.Status) {
		return fmt.Errorf("%w: order %d is %s", apperrors.ErrOrderRejected, orderID, order.Status)
	}

	order.ExecutedQty = decimal.Min(order.Quantity, order.ExecutedQty.Add(qty))
	order.AvgPrice = order.Price
	if order.ExecutedQty.Equal(order.Quantity) {
		order.Status = core.OrderStatusFilled
	} else {
		order.Status = core.OrderStatusPartiallyFilled
	}
	return nil
}

// PlaceOrder places an order. Duplicate client order IDs return the existing order.
func (m *PaperExchange) PlaceOrder(ctx context.Context, req core.OrderRequest) (*core.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if req.ClientOrderID != "" {
		if existingID, exists := m.clientOrderMap[req.ClientOrderID]; exists {
			if existing, ok := m.orders[existingID]; ok {
				res := *existing
				return &res, nil
			}
		}
	}

	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return nil, err
	}

	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity %s", apperrors.ErrInvalidOrderParameter, req.Quantity)
	}

	mark, hasMark := m.marks[req.Symbol]
	order := &core.OrderResult{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Kind:          req.Kind,
		Status:        core.OrderStatusNew,
		Quantity:      req.Quantity,
		ExecutedQty:   decimal.Zero,
	}

	switch req.Kind {
	case core.OrderKindMarket:
		if !hasMark {
			return nil, fmt.Errorf("%w: no price for %s", apperrors.ErrOrderRejected, req.Symbol)
		}
		order.ExecutedQty = req.Quantity
		order.AvgPrice = mark
		order.Status = core.OrderStatusFilled
	case core.OrderKindLimit:
		if !req.Price.IsPositive() {
			return nil, fmt.Errorf("%w: limit price %s", apperrors.ErrInvalidOrderParameter, req.Price)
		}
		order.Price = req.Price
		if hasMark && crosses(req.Side, req.Price, mark) {
			if req.PostOnly {
				return nil, fmt.Errorf("%w: post-only order would cross at %s", apperrors.ErrOrderRejected, mark)
			}
			order.AvgPrice = req.Price
			order.ExecutedQty = req.Quantity
			order.Status = core.OrderStatusFilled
		}
	default:
		return nil, fmt.Errorf("%w: order kind %q", apperrors.ErrInvalidOrderParameter, req.Kind)
	}

	m.orderIDCounter++
	order.OrderID = m.orderIDCounter
	m.orders[order.OrderID] = order
	if order.ClientOrderID != "" {
		m.clientOrderMap[order.ClientOrderID] = order.OrderID
	}
	m.placed = append(m.placed, req)

	res := *order
	return &res, nil
}

func (m *PaperExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, exists := m.orders[orderID]
	if !exists || order.Symbol != symbol {
		return fmt.Errorf("%w: %d", apperrors.ErrOrderNotFound, orderID)
	}

	if !isOpen(order.Status) {
		return fmt.Errorf("%w: cannot cancel order in status %s", apperrors.ErrOrderRejected, order.Status)
	}

	order.Status = core.OrderStatusCanceled
	return nil
}

func (m *PaperExchange) GetOrder(ctx context.Context, symbol string, orderID int64) (*core.OrderResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, exists := m.orders[orderID]
	if !exists || order.Symbol != symbol {
		return nil, fmt.Errorf("%w: %d", apperrors.ErrOrderNotFound, orderID)
	}
	res := *order
	return &res, nil
}

// Placed returns the accepted requests in submission order
func (m *PaperExchange) Placed() []core.OrderRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.OrderRequest, len(m.placed))
	copy(out, m.placed)
	return out
}

// OpenOrders returns the number of resting orders for symbol
func (m *PaperExchange) OpenOrders(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, order := range m.orders {
		if order.Symbol == symbol && isOpen(order.Status) {
			n++
		}
	}
	return n
}

func isOpen(status core.OrderStatus) bool {
	return status == core.OrderStatusNew || status == core.OrderStatusPartiallyFilled
}

// crosses reports whether a limit at price is marketable against mark
func crosses(side core.Side, price, mark decimal.Decimal) bool {
	if side == core.SideBuy {
		return price.GreaterThanOrEqual(mark)
	}
	return price.LessThanOrEqual(mark)
}
