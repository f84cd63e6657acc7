// Package deliveries keeps the per-profile record of notification outcomes.
package deliveries

import (
	"context"

	"github.com/dmitrijs2005/availwatch/internal/server/models"
)

type Repository interface {
	Log(ctx context.Context, d *models.DeliveryLog) error
	// ListByProfile returns the newest entries first.
	ListByProfile(ctx context.Context, profileID string, limit int) ([]models.DeliveryLog, error)
}
