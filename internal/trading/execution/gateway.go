package execution

import (
	"context"
	"exec_optimizer/internal/core"
	apperrors "exec_optimizer/pkg/errors"
	"exec_optimizer/pkg/retry"
	"exec_optimizer/pkg/telemetry"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Gateway wraps an order submitter with rate limiting, retries and tracing
type Gateway struct {
	submitter   core.IOrderSubmitter
	rateLimiter *rate.Limiter
	policy      retry.RetryPolicy
	tracer      trace.Tracer
	logger      core.ILogger
}

// NewGateway creates a gateway. A non-positive limit disables rate limiting.
func NewGateway(submitter core.IOrderSubmitter, limit float64, burst int, policy retry.RetryPolicy, logger core.ILogger) *Gateway {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if limit > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy
	}

	return &Gateway{
		submitter:   submitter,
		rateLimiter: limiter,
		policy:      policy,
		tracer:      telemetry.GetTracer("order-gateway"),
		logger:      logger.WithField("component", "order_gateway").WithField("broker", submitter.GetName()),
	}
}

// Place submits an order. A client order ID is assigned when missing and
// reused across retries so the broker can deduplicate.
func (g *Gateway) Place(ctx context.Context, req core.OrderRequest) (*core.OrderResult, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}

	ctx, span := g.tracer.Start(ctx, "PlaceOrder",
		trace.WithAttributes(
			attribute.String("symbol", req.Symbol),
			attribute.String("side", string(req.Side)),
			attribute.String("kind", string(req.Kind)),
			attribute.String("client_order_id", req.ClientOrderID),
		),
	)
	defer span.End()

	var result *core.OrderResult
	attempt := 0
	start := time.Now()

	err := retry.Do(ctx, g.policy, apperrors.IsTransient, func() error {
		attempt++
		if err := g.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}

		res, err := g.submitter.PlaceOrder(ctx, req)
		if err != nil {
			g.logger.Warn("Order placement failed",
				"symbol", req.Symbol,
				"kind", string(req.Kind),
				"client_order_id", req.ClientOrderID,
				"attempt", attempt,
				"error", err.Error())
			return err
		}
		result = res
		return nil
	})

	telemetry.GetGlobalMetrics().RecordSubmission(ctx, req.Symbol, string(req.Kind),
		float64(time.Since(start).Microseconds())/1000, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int64("order_id", result.OrderID))
	return result, nil
}

// Cancel cancels an order, retrying transient failures
func (g *Gateway) Cancel(ctx context.Context, symbol string, orderID int64) error {
	return retry.Do(ctx, g.policy, apperrors.IsTransient, func() error {
		if err := g.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}
		return g.submitter.CancelOrder(ctx, symbol, orderID)
	})
}

// Get fetches the current state of an order
func (g *Gateway) Get(ctx context.Context, symbol string, orderID int64) (*core.OrderResult, error) {
	var result *core.OrderResult
	err := retry.Do(ctx, g.policy, apperrors.IsTransient, func() error {
		res, err := g.submitter.GetOrder(ctx, symbol, orderID)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}
