// Package measurements is the append-only availability history.
package measurements

import (
	"context"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/server/models"
)

type Repository interface {
	Append(ctx context.Context, m models.Measurement) error
	// Prune deletes rows older than olderThan, always keeping the newest row
	// of every item.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	// ListPrunable returns the rows Prune would delete at the time of the call.
	ListPrunable(ctx context.Context, olderThan time.Time) ([]models.Measurement, error)
	// DeleteRows deletes exactly the given rows by (ci_id, ts).
	DeleteRows(ctx context.Context, rows []models.Measurement) (int64, error)
	History(ctx context.Context, ciID string, since time.Time) ([]models.Measurement, error)
	Incidents(ctx context.Context, limit int) ([]models.Incident, error)
	// Metrics aggregates up/down minutes and incidents per item up to now.
	Metrics(ctx context.Context, now time.Time) ([]models.ItemMetrics, error)
}
