// Package health aggregates component health checks
package health

import (
	"exec_optimizer/internal/core"
	"sort"
	"sync"
)

// Snapshot is the result of running every registered check once
type Snapshot struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]string `json:"components"`
}

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{checks: make(map[string]func() error)}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds or replaces the health check for a component
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// Components returns the registered component names in order
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs all checks once. Failing components are logged.
func (hm *HealthManager) Check() Snapshot {
	hm.mu.RLock()
	checks := make(map[string]func() error, len(hm.checks))
	for name, check := range hm.checks {
		checks[name] = check
	}
	hm.mu.RUnlock()

	snap := Snapshot{Healthy: true, Components: make(map[string]string, len(checks))}
	for name, check := range checks {
		if err := check(); err != nil {
			snap.Healthy = false
			snap.Components[name] = "Unhealthy: " + err.Error()
			if hm.logger != nil {
				hm.logger.Warn("Component unhealthy", "component_name", name, "error", err)
			}
			continue
		}
		snap.Components[name] = "Healthy"
	}
	return snap
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	return hm.Check().Components
}

// IsHealthy returns true if all registered components are healthy
func (hm *HealthManager) IsHealthy() bool {
	return hm.Check().Healthy
}
