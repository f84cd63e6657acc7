package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/availwatch/internal/logging"
	"github.com/dmitrijs2005/availwatch/internal/server/services"
	"github.com/robfig/cron/v3"
)

type Pruner interface {
	Run(ctx context.Context) (services.RetentionReport, error)
}

// Retention runs the pruner on a cron schedule. Standard five-field
// expressions and descriptors such as "@daily" are accepted.
type Retention struct {
	pruner Pruner
	log    logging.Logger
	cron   *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRetention validates schedule and prepares the job without starting it.
func NewRetention(pruner Pruner, schedule string, log logging.Logger) (*Retention, error) {
	r := &Retention{
		pruner: pruner,
		log:    log.With("module", "retention"),
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := r.cron.AddFunc(schedule, r.runScheduled); err != nil {
		return nil, fmt.Errorf("prune schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start schedules the job. Scheduled runs use a context derived from ctx.
func (r *Retention) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.cron.Start()
}

// Stop unschedules the job and waits for a running prune to return.
func (r *Retention) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-r.cron.Stop().Done()
}

// RunOnce prunes immediately, independent of the schedule.
func (r *Retention) RunOnce(ctx context.Context) (services.RetentionReport, error) {
	return r.pruner.Run(ctx)
}

func (r *Retention) runScheduled() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		return
	}

	if _, err := r.pruner.Run(ctx); err != nil {
		r.log.Error(ctx, "retention failed", "error", err)
	}
}
