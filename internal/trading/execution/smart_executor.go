package execution

import (
	"context"
	"errors"
	"exec_optimizer/internal/core"
	apperrors "exec_optimizer/pkg/errors"
	"sync"
	"time"
)

func isOpen(order *core.OrderResult) bool {
	return order != nil &&
		(order.Status == core.OrderStatusNew || order.Status == core.OrderStatusPartiallyFilled)
}

// monitor polls resting orders until they are all terminal or the deadline passes
func (r *Runner) monitor(ctx context.Context, symbol string, steps []StepReport, deadline time.Time) {
	for {
		if !r.refresh(ctx, symbol, steps) {
			return
		}

		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			return
		}
		if err := r.sleep(ctx, min(r.cfg.PollInterval, remaining)); err != nil {
			return
		}
	}
}

// refresh updates open orders in place and reports whether any are still open
func (r *Runner) refresh(ctx context.Context, symbol string, steps []StepReport) bool {
	open := false
	for i := range steps {
		if !isOpen(steps[i].Order) {
			continue
		}
		res, err := r.gateway.Get(ctx, symbol, steps[i].Order.OrderID)
		if err != nil {
			r.logger.Warn("Failed to refresh order", "symbol", symbol, "order_id", steps[i].Order.OrderID, "error", err)
			open = true
			continue
		}
		steps[i].Order = res
		if isOpen(res) {
			open = true
		}
	}
	return open
}

// cancelResting cancels every open order in parallel and records the final state
func (r *Runner) cancelResting(ctx context.Context, symbol string, steps []StepReport) {
	var wg sync.WaitGroup
	for i := range steps {
		if !isOpen(steps[i].Order) {
			continue
		}

		wg.Add(1)
		go func(s *StepReport) {
			defer wg.Done()
			orderID := s.Order.OrderID

			err := r.gateway.Cancel(ctx, symbol, orderID)
			if err != nil && !errors.Is(err, apperrors.ErrOrderRejected) {
				r.logger.Error("Failed to cancel resting order", "symbol", symbol, "order_id", orderID, "error", err)
			}

			// Re-read so fills that raced the cancel are counted
			res, getErr := r.gateway.Get(ctx, symbol, orderID)
			if getErr != nil {
				if err == nil {
					s.Order.Status = core.OrderStatusCanceled
				}
				return
			}
			s.Order = res
		}(&steps[i])
	}
	wg.Wait()
}
