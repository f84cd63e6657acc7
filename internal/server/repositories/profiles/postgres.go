package profiles

import (
	"context"
	"database/sql"
	"encoding/json"
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

const selectColumns = `id, owner_identity, name, filter_mode, channel_kind, encrypted_target, watched_ci_ids,
		        unsubscribe_token, created_at, updated_at, flagged_at, flag_reason`

func (r *PostgresRepository) Create(ctx context.Context, p *models.NotificationProfile) (*models.NotificationProfile, error) {
	watched, err := encodeIDs(p.WatchedCIIDs)
	if err != nil {
		return nil, err
	}

	query :=
		`INSERT INTO notification_profiles
		     (id, owner_identity, name, filter_mode, channel_kind, encrypted_target, watched_ci_ids, unsubscribe_token)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at
		 `

	err = r.db.QueryRowContext(ctx, query, p.ID, p.OwnerIdentity, p.Name, string(p.FilterMode),
		string(p.ChannelKind), p.EncryptedTarget, watched, p.UnsubscribeToken).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

// Update rewrites the mutable fields of an owned profile and clears any flag.
func (r *PostgresRepository) Update(ctx context.Context, p *models.NotificationProfile) error {
	watched, err := encodeIDs(p.WatchedCIIDs)
	if err != nil {
		return err
	}

	query :=
		`UPDATE notification_profiles
		 SET name = $3, filter_mode = $4, channel_kind = $5, encrypted_target = $6, watched_ci_ids = $7,
		     updated_at = now(), flagged_at = NULL, flag_reason = ''
		 WHERE id = $1 AND owner_identity = $2
		 `

	res, err := r.db.ExecContext(ctx, query, p.ID, p.OwnerIdentity, p.Name, string(p.FilterMode),
		string(p.ChannelKind), p.EncryptedTarget, watched)
	return affectedOne(res, err)
}

func (r *PostgresRepository) Get(ctx context.Context, id, owner string) (*models.NotificationProfile, error) {
	query := `SELECT ` + selectColumns + `
		 FROM notification_profiles
		 WHERE id = $1 AND owner_identity = $2`

	p, err := scanProfile(r.db.QueryRowContext(ctx, query, id, owner))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, owner string) ([]*models.NotificationProfile, error) {
	query := `SELECT ` + selectColumns + `
		 FROM notification_profiles
		 WHERE owner_identity = $1
		 ORDER BY created_at DESC`

	return r.list(ctx, query, owner)
}

func (r *PostgresRepository) ListAll(ctx context.Context) ([]*models.NotificationProfile, error) {
	query := `SELECT ` + selectColumns + `
		 FROM notification_profiles
		 ORDER BY created_at`

	return r.list(ctx, query)
}

func (r *PostgresRepository) ListFlagged(ctx context.Context) ([]*models.NotificationProfile, error) {
	query := `SELECT ` + selectColumns + `
		 FROM notification_profiles
		 WHERE flagged_at IS NOT NULL
		 ORDER BY flagged_at`

	return r.list(ctx, query)
}

func (r *PostgresRepository) Delete(ctx context.Context, id, owner string) error {
	query := `DELETE FROM notification_profiles WHERE id = $1 AND owner_identity = $2`

	res, err := r.db.ExecContext(ctx, query, id, owner)
	return affectedOne(res, err)
}

func (r *PostgresRepository) DeleteByID(ctx context.Context, id string) error {
	query := `DELETE FROM notification_profiles WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	return affectedOne(res, err)
}

func (r *PostgresRepository) DeleteByUnsubscribeToken(ctx context.Context, token string) error {
	query := `DELETE FROM notification_profiles WHERE unsubscribe_token = $1`

	res, err := r.db.ExecContext(ctx, query, token)
	return affectedOne(res, err)
}

func (r *PostgresRepository) Flag(ctx context.Context, id, reason string, at time.Time) error {
	query :=
		`UPDATE notification_profiles SET flagged_at = $2, flag_reason = $3
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, id, at, reason)
	return affectedOne(res, err)
}

func (r *PostgresRepository) Unflag(ctx context.Context, id string) error {
	query :=
		`UPDATE notification_profiles SET flagged_at = NULL, flag_reason = ''
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, id)
	return affectedOne(res, err)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.NotificationProfile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.NotificationProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(s rowScanner) (*models.NotificationProfile, error) {
	var (
		p       models.NotificationProfile
		mode    string
		kind    string
		watched []byte
		flagged sql.NullTime
	)
	err := s.Scan(&p.ID, &p.OwnerIdentity, &p.Name, &mode, &kind, &p.EncryptedTarget, &watched,
		&p.UnsubscribeToken, &p.CreatedAt, &p.UpdatedAt, &flagged, &p.FlagReason)
	if err != nil {
		return nil, err
	}
	p.FilterMode = models.FilterMode(mode)
	p.ChannelKind = models.ChannelKind(kind)
	if len(watched) > 0 {
		if err := json.Unmarshal(watched, &p.WatchedCIIDs); err != nil {
			return nil, fmt.Errorf("watched_ci_ids: %w", err)
		}
	}
	if flagged.Valid {
		t := flagged.Time
		p.FlaggedAt = &t
	}
	return &p, nil
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("watched_ci_ids: %w", err)
	}
	return string(b), nil
}

func affectedOne(res sql.Result, err error) error {
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
