// Package worker runs the periodic jobs of the server: the poll cycle
// (fetch, detect, dispatch) and the scheduled retention run.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/logging"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/dmitrijs2005/availwatch/internal/server/services"
)

// ErrCycleBusy is returned by RunCycle while another cycle is in flight.
var ErrCycleBusy = errors.New("previous cycle still running")

type Fetcher interface {
	FetchAll(ctx context.Context) ([]models.Observation, error)
}

type Detector interface {
	Process(ctx context.Context, observations []models.Observation) ([]models.TransitionEvent, error)
	MarkStale(ctx context.Context) (int64, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, events []models.TransitionEvent) (services.DispatchReport, error)
}

// CycleReport summarises one poll cycle.
type CycleReport struct {
	Observations int
	Transitions  int
	Stale        int64
	Dispatch     services.DispatchReport
	Duration     time.Duration
}

// Poller runs one cycle per interval. Cycles never overlap: a tick that
// arrives while a cycle is running is skipped.
type Poller struct {
	fetcher    Fetcher
	detector   Detector
	dispatcher Dispatcher
	log        logging.Logger

	interval time.Duration
	timeout  time.Duration

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPoller(fetcher Fetcher, detector Detector, dispatcher Dispatcher,
	interval, timeout time.Duration, log logging.Logger) *Poller {
	return &Poller{
		fetcher:    fetcher,
		detector:   detector,
		dispatcher: dispatcher,
		log:        log.With("module", "poller"),
		interval:   interval,
		timeout:    timeout,
	}
}

// Start runs a cycle immediately and then on every tick until ctx is done or
// Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()
}

// Stop cancels the running cycle, if any, and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick starts a cycle without blocking the ticker, so a slow cycle shows up
// as skipped ticks rather than queued ones.
func (p *Poller) tick(ctx context.Context) {
	if p.running.Load() {
		p.log.Warn(ctx, "tick skipped", "reason", ErrCycleBusy.Error())
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleBusy) {
			p.log.Error(ctx, "cycle failed", "error", err)
		}
	}()
}

// RunCycle fetches one snapshot, records it, dispatches the resulting
// transitions and marks items that stopped reporting as stale. A failed
// fetch ends the cycle without touching stored state. Transitions committed
// before a store error are still dispatched.
func (p *Poller) RunCycle(ctx context.Context) (CycleReport, error) {
	if !p.running.CompareAndSwap(false, true) {
		return CycleReport{}, ErrCycleBusy
	}
	defer p.running.Store(false)

	start := time.Now()
	var report CycleReport

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	observations, err := p.fetcher.FetchAll(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch: %w", err)
	}
	report.Observations = len(observations)

	events, procErr := p.detector.Process(ctx, observations)
	report.Transitions = len(events)

	var errs []error
	if procErr != nil {
		errs = append(errs, procErr)
	}

	if len(events) > 0 {
		dr, err := p.dispatcher.Dispatch(ctx, events)
		report.Dispatch = dr
		if err != nil {
			errs = append(errs, err)
		}
	}

	stale, err := p.detector.MarkStale(ctx)
	report.Stale = stale
	if err != nil {
		errs = append(errs, err)
	}

	report.Duration = time.Since(start)
	p.log.Info(ctx, "cycle finished",
		"observations", report.Observations, "transitions", report.Transitions,
		"sent", report.Dispatch.Sent, "failed", report.Dispatch.Failed,
		"stale", report.Stale, "duration", report.Duration.String())

	return report, errors.Join(errs...)
}
