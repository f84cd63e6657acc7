package services

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/repomanager"
)

const (
	defaultHistoryWindow = 24 * time.Hour
	maxHistoryWindow     = 31 * 24 * time.Hour
	defaultIncidentLimit = 50
	maxIncidentLimit     = 500
	topListSize          = 10
)

// ItemStatistics is one item's availability summary.
type ItemStatistics struct {
	CIID                string  `json:"ci_id"`
	Name                string  `json:"name"`
	Organization        string  `json:"organization"`
	UptimeMinutes       float64 `json:"uptime_minutes"`
	DowntimeMinutes     float64 `json:"downtime_minutes"`
	AvailabilityPercent float64 `json:"availability_percentage"`
	Incidents           int     `json:"incidents"`
	MTTRMinutes         float64 `json:"mttr_minutes"`
	MTBFMinutes         float64 `json:"mtbf_minutes"`
	Downtime7dMinutes   float64 `json:"downtime_7d_minutes"`
	Downtime30dMinutes  float64 `json:"downtime_30d_minutes"`
}

// Statistics rolls item summaries up across the whole history.
type Statistics struct {
	GeneratedAt         time.Time        `json:"generated_at"`
	UptimeMinutes       float64          `json:"overall_uptime_minutes"`
	DowntimeMinutes     float64          `json:"overall_downtime_minutes"`
	AvailabilityPercent float64          `json:"overall_availability_percentage"`
	Incidents           int              `json:"total_incidents"`
	MTTRMinutesMean     float64          `json:"mttr_minutes_mean"`
	TopUnstable         []ItemStatistics `json:"top_unstable_by_incidents"`
	TopDowntime         []ItemStatistics `json:"top_downtime"`
	Items               []ItemStatistics `json:"items"`
}

// StatusService answers the public read-only queries.
type StatusService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	clock       clock
}

func NewStatusService(db *sql.DB, rm repomanager.RepositoryManager) *StatusService {
	return &StatusService{db: db, repomanager: rm}
}

func (s *StatusService) Items(ctx context.Context) ([]*models.ConfigurationItem, error) {
	items, err := s.repomanager.Items(s.db).ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStore, err)
	}
	return items, nil
}

// History returns the measurements of one item within window, clamped to
// a month. A non-positive window means one day.
func (s *StatusService) History(ctx context.Context, ciID string, window time.Duration) ([]models.Measurement, error) {
	if _, err := s.repomanager.Items(s.db).Get(ctx, ciID); err != nil {
		return nil, storeErr(err)
	}
	if window <= 0 {
		window = defaultHistoryWindow
	}
	window = min(window, maxHistoryWindow)

	rows, err := s.repomanager.Measurements(s.db).History(ctx, ciID, s.clock.now().Add(-window))
	if err != nil {
		return nil, storeErr(err)
	}
	return rows, nil
}

func (s *StatusService) Incidents(ctx context.Context, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = defaultIncidentLimit
	}
	limit = min(limit, maxIncidentLimit)

	incidents, err := s.repomanager.Measurements(s.db).Incidents(ctx, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return incidents, nil
}

// Statistics computes availability, incident counts and repair times per item
// and overall. The MTTR mean only averages items that had incidents.
func (s *StatusService) Statistics(ctx context.Context) (*Statistics, error) {
	now := s.clock.now()
	metrics, err := s.repomanager.Measurements(s.db).Metrics(ctx, now)
	if err != nil {
		return nil, storeErr(err)
	}

	st := &Statistics{GeneratedAt: now, Items: make([]ItemStatistics, 0, len(metrics))}
	var (
		mttrSum   float64
		mttrCount int
	)
	for _, m := range metrics {
		item := ItemStatistics{
			CIID:                m.CIID,
			Name:                m.Name,
			Organization:        m.Organization,
			UptimeMinutes:       m.UptimeMinutes,
			DowntimeMinutes:     m.DowntimeMinutes,
			AvailabilityPercent: m.AvailabilityPercent(),
			Incidents:           m.Incidents,
			MTTRMinutes:         m.MTTRMinutes(),
			MTBFMinutes:         m.MTBFMinutes(),
			Downtime7dMinutes:   m.Downtime7dMinutes,
			Downtime30dMinutes:  m.Downtime30dMinutes,
		}
		st.Items = append(st.Items, item)

		st.UptimeMinutes += m.UptimeMinutes
		st.DowntimeMinutes += m.DowntimeMinutes
		st.Incidents += m.Incidents
		if item.MTTRMinutes > 0 {
			mttrSum += item.MTTRMinutes
			mttrCount++
		}
	}

	if total := st.UptimeMinutes + st.DowntimeMinutes; total > 0 {
		st.AvailabilityPercent = st.UptimeMinutes / total * 100
	}
	if mttrCount > 0 {
		st.MTTRMinutesMean = mttrSum / float64(mttrCount)
	}

	st.TopUnstable = topItems(st.Items, func(a, b ItemStatistics) bool { return a.Incidents > b.Incidents })
	st.TopDowntime = topItems(st.Items, func(a, b ItemStatistics) bool { return a.DowntimeMinutes > b.DowntimeMinutes })
	return st, nil
}

// topItems returns up to topListSize items ordered by more, ties keeping id order.
func topItems(items []ItemStatistics, more func(a, b ItemStatistics) bool) []ItemStatistics {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b ItemStatistics) int {
		switch {
		case more(a, b):
			return -1
		case more(b, a):
			return 1
		default:
			return 0
		}
	})
	return sorted[:min(len(sorted), topListSize)]
}

// Ping checks database connectivity.
func (s *StatusService) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
