package bootstrap

import (
	"exec_optimizer/internal/core"
	"exec_optimizer/internal/trading/fees"
	"exec_optimizer/internal/trading/optimizer"
	"sync/atomic"
)

// Planners holds the optimizer in effect. The fee catalog replaces it when a
// new table version lands; in-flight requests keep the one they loaded.
type Planners struct {
	opts    optimizer.Options
	current atomic.Pointer[optimizer.Optimizer]
	logger  core.ILogger
}

// NewPlanners builds the first optimizer from dir
func NewPlanners(dir *fees.Directory, opts optimizer.Options, logger core.ILogger) (*Planners, error) {
	p := &Planners{opts: opts, logger: logger.WithField("component", "planners")}
	if err := p.Rebuild(dir); err != nil {
		return nil, err
	}
	return p, nil
}

// Optimizer returns the active optimizer
func (p *Planners) Optimizer() *optimizer.Optimizer {
	return p.current.Load()
}

// Rebuild swaps in an optimizer resolved against dir. On error the previous
// optimizer stays active.
func (p *Planners) Rebuild(dir *fees.Directory) error {
	opt, err := optimizer.Build(dir, p.opts, p.logger)
	if err != nil {
		p.logger.Error("Optimizer rebuild failed, keeping previous", "version", dir.Version(), "error", err)
		return err
	}
	p.current.Store(opt)
	return nil
}
