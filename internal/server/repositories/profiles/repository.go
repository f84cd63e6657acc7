// Package profiles stores notification profiles. Targets are persisted only
// in their encrypted form.
package profiles

import (
	"context"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/server/models"
)

// Repository methods scoped by owner return common.ErrorNotFound when the
// profile does not exist or belongs to someone else.
type Repository interface {
	Create(ctx context.Context, p *models.NotificationProfile) (*models.NotificationProfile, error)
	Update(ctx context.Context, p *models.NotificationProfile) error
	Get(ctx context.Context, id, owner string) (*models.NotificationProfile, error)
	ListByOwner(ctx context.Context, owner string) ([]*models.NotificationProfile, error)
	ListAll(ctx context.Context) ([]*models.NotificationProfile, error)
	ListFlagged(ctx context.Context) ([]*models.NotificationProfile, error)
	Delete(ctx context.Context, id, owner string) error
	DeleteByID(ctx context.Context, id string) error
	DeleteByUnsubscribeToken(ctx context.Context, token string) error
	Flag(ctx context.Context, id, reason string, at time.Time) error
	Unflag(ctx context.Context, id string) error
}
