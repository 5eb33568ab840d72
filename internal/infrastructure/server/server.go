// Package server exposes the optimizer over HTTP
package server

import (
	"context"
	"encoding/json"
	"errors"
	"exec_optimizer/internal/core"
	"exec_optimizer/internal/infrastructure/health"
	"exec_optimizer/internal/trading/execution"
	"exec_optimizer/internal/trading/optimizer"
	apperrors "exec_optimizer/pkg/errors"
	"exec_optimizer/pkg/liveserver"
	"exec_optimizer/pkg/telemetry"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// PlannerSource returns the optimizer currently in effect. It changes when
// the fee catalog publishes a new table.
type PlannerSource interface {
	Optimizer() *optimizer.Optimizer
}

// Executor runs plans against a broker
type Executor interface {
	Execute(ctx context.Context, plan core.ExecutionPlan) (*execution.Report, error)
}

// MarkUpdater is implemented by the paper submitter; the signal's reference
// price becomes the mark before a plan runs against it
type MarkUpdater interface {
	SetPrice(symbol string, price decimal.Decimal)
}

// Publisher receives every plan, rejection and execution report
type Publisher interface {
	Publish(msgType string, data interface{})
}

// Options configures the HTTP server
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// Deps are the collaborators behind the API. Only Planners is required.
type Deps struct {
	Planners  PlannerSource
	Executor  Executor
	Marks     MarkUpdater
	Publisher Publisher
	Feed      http.Handler
	Health    *health.HealthManager
}

// Server serves the JSON API, the plan feed and the scrape endpoint
type Server struct {
	opts   Options
	deps   Deps
	srv    *http.Server
	logger core.ILogger
}

// New creates a server. Call Run to start listening.
func New(opts Options, deps Deps, logger core.ILogger) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}

	s := &Server{
		opts:   opts,
		deps:   deps,
		logger: logger.WithField("component", "api_server"),
	}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: opts.ReadTimeout,
		ReadTimeout:       opts.ReadTimeout,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/plans", s.handleCreatePlan)
	mux.HandleFunc("POST /v1/executions", s.handleExecute)
	mux.HandleFunc("GET /v1/fees", s.handleFees)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.deps.Feed != nil {
		mux.Handle("GET /ws/plans", s.deps.Feed)
	}
	return s.logRequests(mux)
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("api server listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Stopping API server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

type executionResponse struct {
	Plan   core.ExecutionPlan `json:"plan"`
	Report *execution.Report  `json:"report"`
}

type feesResponse struct {
	Exchange           string          `json:"exchange"`
	Strategy           string          `json:"strategy"`
	MakerRate          decimal.Decimal `json:"maker_rate"`
	TakerRate          decimal.Decimal `json:"taker_rate"`
	VolumeTier         decimal.Decimal `json:"volume_tier"`
	DiscountEligible   bool            `json:"discount_eligible"`
	DiscountFactor     decimal.Decimal `json:"discount_factor"`
	MaxExecutionTimeMs int64           `json:"max_execution_time_ms"`
	TableVersion       int64           `json:"table_version"`
	RoundTripCost      *string         `json:"round_trip_cost,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	signal, ok := s.decodeSignal(w, r)
	if !ok {
		return
	}

	plan, err := s.plan(signal)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.deps.Executor == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "execution is disabled"})
		return
	}

	signal, ok := s.decodeSignal(w, r)
	if !ok {
		return
	}

	plan, err := s.plan(signal)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if s.deps.Marks != nil {
		s.deps.Marks.SetPrice(plan.Symbol, plan.ReferencePrice)
	}

	report, err := s.deps.Executor.Execute(r.Context(), plan)
	if report != nil {
		s.publish(liveserver.TypeExecution, report)
	}
	if err != nil && report == nil {
		s.writeError(w, err)
		return
	}
	if err != nil {
		s.logger.Warn("Execution interrupted", "symbol", plan.Symbol, "error", err)
	}

	s.writeJSON(w, http.StatusOK, executionResponse{Plan: plan, Report: report})
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	opt := s.deps.Planners.Optimizer()
	if opt == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "optimizer not ready"})
		return
	}

	schedule := opt.Fees()
	resp := feesResponse{
		Exchange:           schedule.Exchange,
		Strategy:           string(opt.Strategy()),
		MakerRate:          schedule.MakerRate,
		TakerRate:          schedule.TakerRate,
		VolumeTier:         schedule.VolumeTier,
		DiscountEligible:   schedule.DiscountEligible,
		DiscountFactor:     schedule.DiscountFactor,
		MaxExecutionTimeMs: opt.MaxExecutionTimeMs(),
		TableVersion:       telemetry.GetGlobalMetrics().GetFeeTableVersion(),
	}

	if raw := r.URL.Query().Get("notional"); raw != "" {
		notional, err := decimal.NewFromString(raw)
		if err != nil || notional.IsNegative() {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid notional %q", raw)})
			return
		}
		cost := opt.RoundTripCost(notional).String()
		resp.RoundTripCost = &cost
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		s.writeJSON(w, http.StatusOK, health.Snapshot{Healthy: true, Components: map[string]string{}})
		return
	}

	snap := s.deps.Health.Check()
	status := http.StatusOK
	if !snap.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, snap)
}

func (s *Server) plan(signal core.Signal) (core.ExecutionPlan, error) {
	opt := s.deps.Planners.Optimizer()
	if opt == nil {
		return core.ExecutionPlan{}, fmt.Errorf("%w: optimizer not ready", apperrors.ErrConfiguration)
	}

	plan, err := opt.CreateExecutionPlan(signal)
	if err != nil {
		s.publish(liveserver.TypeRejection, map[string]string{"symbol": signal.Symbol, "error": err.Error()})
		return core.ExecutionPlan{}, err
	}
	s.publish(liveserver.TypePlan, plan)
	return plan, nil
}

func (s *Server) decodeSignal(w http.ResponseWriter, r *http.Request) (core.Signal, bool) {
	var signal core.Signal
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&signal); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid signal: " + err.Error()})
		return core.Signal{}, false
	}
	return signal, true
}

func (s *Server) publish(msgType string, data interface{}) {
	if s.deps.Publisher != nil {
		s.deps.Publisher.Publish(msgType, data)
	}
}

// statusFor maps sentinel errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrEstimation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws/plans" {
			// The upgrader needs the raw http.Hijacker
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
