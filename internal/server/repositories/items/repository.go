// Package items stores configuration items and their last known state.
package items

import (
	"context"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/server/models"
)

// Repository is the entity store. Upsert is the only path that changes
// current_state and last_changed_at; it must run inside a transaction so the
// row lock it takes serialises writers of the same item.
type Repository interface {
	Upsert(ctx context.Context, obs models.Observation, seenAt time.Time) (previous models.State, applied bool, err error)
	Get(ctx context.Context, id string) (*models.ConfigurationItem, error)
	ListAll(ctx context.Context) ([]*models.ConfigurationItem, error)
	MarkStale(ctx context.Context, seenBefore time.Time) (int64, error)
}
