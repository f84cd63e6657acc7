package challenges

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/dbx"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.OTPChallenge) (*models.OTPChallenge, error) {
	query :=
		`INSERT INTO otp_challenges (identity, code_hash, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query, c.Identity, c.CodeHash, c.IssuedAt, c.ExpiresAt).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) InvalidateActive(ctx context.Context, identity string, at time.Time) (int64, error) {
	query :=
		`UPDATE otp_challenges SET invalidated_at = $2
		 WHERE identity = $1 AND consumed_at IS NULL AND invalidated_at IS NULL
		 `

	res, err := r.db.ExecContext(ctx, query, identity, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) FindLatestActive(ctx context.Context, identity string) (*models.OTPChallenge, error) {
	query :=
		`SELECT id, identity, code_hash, issued_at, expires_at, attempt_count FROM otp_challenges
		 WHERE identity = $1 AND consumed_at IS NULL AND invalidated_at IS NULL
		 ORDER BY issued_at DESC
		 LIMIT 1
		 FOR UPDATE
		 `

	c := &models.OTPChallenge{}
	err := r.db.QueryRowContext(ctx, query, identity).
		Scan(&c.ID, &c.Identity, &c.CodeHash, &c.IssuedAt, &c.ExpiresAt, &c.AttemptCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	query :=
		`UPDATE otp_challenges SET attempt_count = attempt_count + 1
		 WHERE id = $1
		 RETURNING attempt_count
		 `

	var n int
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// Consume marks the challenge used. A second call finds nothing to update and
// returns common.ErrorNotFound.
func (r *PostgresRepository) Consume(ctx context.Context, id int64, at time.Time) error {
	query :=
		`UPDATE otp_challenges SET consumed_at = $2
		 WHERE id = $1 AND consumed_at IS NULL
		 `

	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM otp_challenges WHERE expires_at < $1`

	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
