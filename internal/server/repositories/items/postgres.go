package items

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

// Upsert records obs and returns the state the item had before, or Unknown
// for a new item. An observation older than the last applied one refreshes
// metadata only and reports applied=false.
func (r *PostgresRepository) Upsert(ctx context.Context, obs models.Observation, seenAt time.Time) (models.State, bool, error) {
	query :=
		`SELECT current_state, last_observed_at FROM configuration_items
		 WHERE id = $1
		 FOR UPDATE
		 `

	var (
		current      string
		lastObserved time.Time
	)
	err := r.db.QueryRowContext(ctx, query, obs.CIID).Scan(&current, &lastObserved)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StateUnknown, true, r.insert(ctx, obs, seenAt)
	}
	if err != nil {
		return "", false, fmt.Errorf("db error: %w", err)
	}

	previous := models.ParseState(current)

	if obs.Timestamp.Before(lastObserved) {
		return previous, false, r.touch(ctx, obs, seenAt)
	}

	query =
		`UPDATE configuration_items
		 SET name = $2, product = $3, organization = $4, current_state = $5,
		     last_changed_at = CASE WHEN current_state <> $5 THEN $6 ELSE last_changed_at END,
		     last_observed_at = $6, last_seen_at = $7, stale = FALSE
		 WHERE id = $1
		 `

	_, err = r.db.ExecContext(ctx, query, obs.CIID, obs.Name, obs.Product, obs.Organization,
		string(obs.State), obs.Timestamp, seenAt)
	if err != nil {
		return "", false, fmt.Errorf("db error: %w", err)
	}

	return previous, true, nil
}

func (r *PostgresRepository) insert(ctx context.Context, obs models.Observation, seenAt time.Time) error {
	query :=
		`INSERT INTO configuration_items
		     (id, name, product, organization, current_state, last_changed_at, last_observed_at, last_seen_at, stale)
		 VALUES ($1, $2, $3, $4, $5, $6, $6, $7, FALSE)
		 ON CONFLICT (id) DO NOTHING
		 `

	_, err := r.db.ExecContext(ctx, query, obs.CIID, obs.Name, obs.Product, obs.Organization,
		string(obs.State), obs.Timestamp, seenAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) touch(ctx context.Context, obs models.Observation, seenAt time.Time) error {
	query :=
		`UPDATE configuration_items
		 SET name = $2, product = $3, organization = $4, last_seen_at = $5, stale = FALSE
		 WHERE id = $1
		 `

	_, err := r.db.ExecContext(ctx, query, obs.CIID, obs.Name, obs.Product, obs.Organization, seenAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const selectColumns = `id, name, product, organization, current_state, last_changed_at, last_observed_at, last_seen_at, stale`

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.ConfigurationItem, error) {
	query := `SELECT ` + selectColumns + ` FROM configuration_items WHERE id = $1`

	item, err := scanItem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return item, nil
}

func (r *PostgresRepository) ListAll(ctx context.Context) ([]*models.ConfigurationItem, error) {
	query := `SELECT ` + selectColumns + ` FROM configuration_items ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.ConfigurationItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

// MarkStale flags items that were not reported since seenBefore.
func (r *PostgresRepository) MarkStale(ctx context.Context, seenBefore time.Time) (int64, error) {
	query :=
		`UPDATE configuration_items SET stale = TRUE
		 WHERE last_seen_at < $1 AND stale = FALSE
		 `

	res, err := r.db.ExecContext(ctx, query, seenBefore)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(s rowScanner) (*models.ConfigurationItem, error) {
	item := &models.ConfigurationItem{}
	var state string
	err := s.Scan(&item.ID, &item.Name, &item.Product, &item.Organization, &state,
		&item.LastChangedAt, &item.LastObservedAt, &item.LastSeenAt, &item.Stale)
	if err != nil {
		return nil, err
	}
	item.CurrentState = models.ParseState(state)
	return item, nil
}
