// Package core defines the core types and interfaces of the execution optimizer
package core

import (
	"context"
)

// IOrderSubmitter is the broker connector consumed by the plan runner
type IOrderSubmitter interface {
	GetName() string
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResult, error)
}

// IPlanner is implemented by a configured optimizer
type IPlanner interface {
	CreateExecutionPlan(signal Signal) (ExecutionPlan, error)
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
