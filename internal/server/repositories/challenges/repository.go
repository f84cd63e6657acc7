// Package challenges persists OTP challenges. Codes are never stored, only
// their keyed hashes.
package challenges

import (
	"context"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.OTPChallenge) (*models.OTPChallenge, error)
	// InvalidateActive supersedes every unconsumed challenge of identity.
	InvalidateActive(ctx context.Context, identity string, at time.Time) (int64, error)
	// FindLatestActive locks and returns the newest challenge that is neither
	// consumed nor invalidated. Expiry is left to the caller.
	FindLatestActive(ctx context.Context, identity string) (*models.OTPChallenge, error)
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	Consume(ctx context.Context, id int64, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
