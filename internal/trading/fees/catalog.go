package fees

import (
	"context"
	"exec_optimizer/internal/core"
	"exec_optimizer/pkg/telemetry"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Catalog holds the active fee directory and reloads it from a Source.
// Optimizers built from an older directory keep their resolved fees; OnChange
// lets the owner rebuild them.
type Catalog struct {
	source  Source
	current atomic.Pointer[Directory]
	logger  core.ILogger

	mu       sync.Mutex
	onChange []func(*Directory)
}

// NewCatalog loads the initial directory from source
func NewCatalog(ctx context.Context, source Source, logger core.ILogger) (*Catalog, error) {
	c := &Catalog{
		source: source,
		logger: logger.WithField("component", "fee_catalog"),
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Current returns the active directory
func (c *Catalog) Current() *Directory {
	return c.current.Load()
}

// OnChange registers a callback invoked after a refresh installs a directory
// whose version or rates differ from the previous one
func (c *Catalog) OnChange(fn func(*Directory)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Refresh reloads the directory. The previous directory stays active on error.
func (c *Catalog) Refresh(ctx context.Context) error {
	dir, err := c.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("fee source %s: %w", c.source.Name(), err)
	}

	prev := c.current.Swap(dir)
	telemetry.GetGlobalMetrics().SetFeeTableVersion(dir.Version())

	if prev != nil && prev.Version() == dir.Version() && prev.Equal(dir) {
		c.logger.Debug("Fee table unchanged", "source", c.source.Name(), "version", dir.Version())
		return nil
	}

	c.logger.Info("Fee table loaded",
		"source", c.source.Name(),
		"version", dir.Version(),
		"exchanges", len(dir.Exchanges()))

	if prev == nil {
		return nil
	}

	c.mu.Lock()
	callbacks := make([]func(*Directory), len(c.onChange))
	copy(callbacks, c.onChange)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(dir)
	}
	return nil
}

// Run refreshes every interval until ctx is done. Refresh failures are logged
// and the loop keeps going.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("Fee table refresh failed", "error", err)
			}
		}
	}
}
