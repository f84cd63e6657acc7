package deliveries

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/availwatch/internal/dbx"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Log(ctx context.Context, d *models.DeliveryLog) error {
	query :=
		`INSERT INTO delivery_logs (profile_id, ci_id, kind, status, attempts, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query, d.ProfileID, d.CIID, string(d.Kind), string(d.Status), d.Attempts, d.ErrorMessage).
		Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByProfile(ctx context.Context, profileID string, limit int) ([]models.DeliveryLog, error) {
	query :=
		`SELECT id, profile_id, ci_id, kind, status, attempts, error_message, created_at
		 FROM delivery_logs
		 WHERE profile_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2
		 `

	rows, err := r.db.QueryContext(ctx, query, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.DeliveryLog
	for rows.Next() {
		var (
			d            models.DeliveryLog
			kind, status string
		)
		if err := rows.Scan(&d.ID, &d.ProfileID, &d.CIID, &kind, &status, &d.Attempts, &d.ErrorMessage, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		d.Kind = models.DeliveryKind(kind)
		d.Status = models.DeliveryStatus(status)
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
