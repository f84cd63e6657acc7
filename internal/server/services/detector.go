package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/dbx"
	"github.com/dmitrijs2005/availwatch/internal/logging"
	"github.com/dmitrijs2005/availwatch/internal/server/config"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/repomanager"
	"golang.org/x/sync/errgroup"
)

// ChangeDetector applies observations to the entity store and reports the
// resulting state transitions.
type ChangeDetector struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	concurrency int
	staleAfter  time.Duration
	clock       clock
}

func NewChangeDetector(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, log logging.Logger) *ChangeDetector {
	return &ChangeDetector{
		db:          db,
		repomanager: rm,
		log:         log.With("module", "detector"),
		concurrency: cfg.DetectConcurrency,
		staleAfter:  time.Duration(cfg.StaleAfterCycles) * cfg.PollInterval,
	}
}

// Process applies one cycle of observations. Items are processed in
// parallel, each item's observations in timestamp order inside a single
// transaction. The first observation of an item and late observations never
// produce events.
//
// When some items fail to store, events of the committed items are still
// returned together with an error wrapping common.ErrStore.
func (d *ChangeDetector) Process(ctx context.Context, observations []models.Observation) ([]models.TransitionEvent, error) {
	seenAt := d.clock.now()
	groups := groupByItem(observations)

	var (
		mu     sync.Mutex
		events []models.TransitionEvent
		errs   []error
	)

	g := new(errgroup.Group)
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}

	for _, group := range groups {
		g.Go(func() error {
			evs, err := d.processItem(ctx, group, seenAt)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("item %s: %w", group[0].CIID, err))
				return nil
			}
			events = append(events, evs...)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(events, func(i, j int) bool {
		if events[i].CIID != events[j].CIID {
			return events[i].CIID < events[j].CIID
		}
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})

	if len(errs) > 0 {
		return events, fmt.Errorf("%w: %w", common.ErrStore, errors.Join(errs...))
	}
	return events, nil
}

func (d *ChangeDetector) processItem(ctx context.Context, group []models.Observation, seenAt time.Time) ([]models.TransitionEvent, error) {
	events, err := dbx.InTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) ([]models.TransitionEvent, error) {
		repo := d.repomanager.Items(tx)

		var out []models.TransitionEvent
		for _, obs := range group {
			previous, applied, err := repo.Upsert(ctx, obs, seenAt)
			if err != nil {
				return nil, err
			}
			if !applied || previous == models.StateUnknown || previous == obs.State {
				continue
			}
			out = append(out, models.TransitionEvent{
				CIID:          obs.CIID,
				CIMetadata:    obs.CIMetadata,
				PreviousState: previous,
				NewState:      obs.State,
				OccurredAt:    obs.Timestamp,
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	history := d.repomanager.Measurements(d.db)
	for _, obs := range group {
		m := models.Measurement{CIID: obs.CIID, Timestamp: obs.Timestamp, State: obs.State}
		if err := history.Append(ctx, m); err != nil {
			d.log.Warn(ctx, "measurement not recorded", "ci", obs.CIID, "error", err)
		}
	}

	return events, nil
}

// MarkStale flags items that have not been reported for the configured
// number of cycles.
func (d *ChangeDetector) MarkStale(ctx context.Context) (int64, error) {
	n, err := d.repomanager.Items(d.db).MarkStale(ctx, d.clock.now().Add(-d.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", common.ErrStore, err)
	}
	return n, nil
}

// groupByItem splits observations per item, each group sorted by timestamp.
// Groups are returned in item id order.
func groupByItem(observations []models.Observation) [][]models.Observation {
	byID := make(map[string][]models.Observation)
	for _, o := range observations {
		byID[o.CIID] = append(byID[o.CIID], o)
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	groups := make([][]models.Observation, 0, len(ids))
	for _, id := range ids {
		g := byID[id]
		sort.SliceStable(g, func(i, j int) bool { return g[i].Timestamp.Before(g[j].Timestamp) })
		groups = append(groups, g)
	}
	return groups
}
