package measurements

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/dbx"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append is idempotent per (ci_id, ts): re-ingesting a sample is a no-op.
func (r *PostgresRepository) Append(ctx context.Context, m models.Measurement) error {
	query :=
		`INSERT INTO measurements (ci_id, ts, state)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (ci_id, ts) DO NOTHING
		 `

	if _, err := r.db.ExecContext(ctx, query, m.CIID, m.Timestamp, string(m.State)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// prunableCondition keeps the newest row per item regardless of age.
const prunableCondition = `m.ts < $1
		   AND m.ts < (SELECT max(l.ts) FROM measurements l WHERE l.ci_id = m.ci_id)`

func (r *PostgresRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	query :=
		`DELETE FROM measurements m
		 WHERE ` + prunableCondition

	res, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListPrunable(ctx context.Context, olderThan time.Time) ([]models.Measurement, error) {
	query :=
		`SELECT m.ci_id, m.ts, m.state FROM measurements m
		 WHERE ` + prunableCondition + `
		 ORDER BY m.ci_id, m.ts`

	return r.list(ctx, query, olderThan)
}

// deleteBatch bounds the number of keys per DELETE statement.
const deleteBatch = 500

// DeleteRows deletes exactly the given rows, matched by (ci_id, ts).
func (r *PostgresRepository) DeleteRows(ctx context.Context, rows []models.Measurement) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += deleteBatch {
		batch := rows[start:min(start+deleteBatch, len(rows))]

		var b strings.Builder
		b.WriteString(`DELETE FROM measurements WHERE (ci_id, ts) IN (`)
		args := make([]any, 0, 2*len(batch))
		for i, m := range batch {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "($%d, $%d)", 2*i+1, 2*i+2)
			args = append(args, m.CIID, m.Timestamp)
		}
		b.WriteString(")")

		res, err := r.db.ExecContext(ctx, b.String(), args...)
		if err != nil {
			return total, fmt.Errorf("db error: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("db error: %w", err)
		}
		total += n
	}
	return total, nil
}

func (r *PostgresRepository) History(ctx context.Context, ciID string, since time.Time) ([]models.Measurement, error) {
	query :=
		`SELECT ci_id, ts, state FROM measurements
		 WHERE ci_id = $1 AND ts >= $2
		 ORDER BY ts`

	return r.list(ctx, query, ciID, since)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]models.Measurement, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.Measurement
	for rows.Next() {
		var (
			m     models.Measurement
			state string
		)
		if err := rows.Scan(&m.CIID, &m.Timestamp, &state); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		m.State = models.ParseState(state)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

// Incidents returns the latest Available->Unavailable changes found in the
// history, newest first, with the time of the following recovery if any.
func (r *PostgresRepository) Incidents(ctx context.Context, limit int) ([]models.Incident, error) {
	query :=
		`WITH changes AS (
		     SELECT ci_id, ts, state, LAG(state) OVER (PARTITION BY ci_id ORDER BY ts) AS prev
		     FROM measurements
		 )
		 SELECT ch.ci_id, c.name, c.organization, ch.ts,
		        (SELECT min(m.ts) FROM measurements m
		         WHERE m.ci_id = ch.ci_id AND m.ts > ch.ts AND m.state = 'available') AS recovered_at
		 FROM changes ch
		 JOIN configuration_items c ON c.id = ch.ci_id
		 WHERE ch.state = 'unavailable' AND ch.prev = 'available'
		 ORDER BY ch.ts DESC
		 LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.Incident
	for rows.Next() {
		var (
			inc       models.Incident
			recovered sql.NullTime
		)
		if err := rows.Scan(&inc.CIID, &inc.Name, &inc.Organization, &inc.StartedAt, &recovered); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if recovered.Valid {
			t := recovered.Time
			inc.RecoveredAt = &t
		}
		result = append(result, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

// Metrics treats each sample as a right-open interval up to the next sample
// of the same item, the newest one extended to now. Incidents are
// Available->Unavailable changes.
func (r *PostgresRepository) Metrics(ctx context.Context, now time.Time) ([]models.ItemMetrics, error) {
	query :=
		`WITH seg AS (
		     SELECT ci_id, ts, state,
		            LAG(state) OVER (PARTITION BY ci_id ORDER BY ts) AS prev,
		            COALESCE(LEAD(ts) OVER (PARTITION BY ci_id ORDER BY ts), $1::timestamptz) AS next_ts
		     FROM measurements
		     WHERE ts <= $1::timestamptz
		 ),
		 agg AS (
		     SELECT ci_id,
		            SUM(CASE WHEN state = 'available'
		                     THEN EXTRACT(EPOCH FROM (next_ts - ts)) / 60.0 ELSE 0 END)::float8 AS up_min,
		            SUM(CASE WHEN state = 'unavailable'
		                     THEN EXTRACT(EPOCH FROM (next_ts - ts)) / 60.0 ELSE 0 END)::float8 AS down_min,
		            SUM(CASE WHEN prev = 'available' AND state = 'unavailable' THEN 1 ELSE 0 END) AS incidents,
		            SUM(CASE WHEN state = 'unavailable' AND next_ts > GREATEST(ts, $1::timestamptz - INTERVAL '7 days')
		                     THEN EXTRACT(EPOCH FROM (next_ts - GREATEST(ts, $1::timestamptz - INTERVAL '7 days'))) / 60.0
		                     ELSE 0 END)::float8 AS down_7d,
		            SUM(CASE WHEN state = 'unavailable' AND next_ts > GREATEST(ts, $1::timestamptz - INTERVAL '30 days')
		                     THEN EXTRACT(EPOCH FROM (next_ts - GREATEST(ts, $1::timestamptz - INTERVAL '30 days'))) / 60.0
		                     ELSE 0 END)::float8 AS down_30d
		     FROM seg
		     GROUP BY ci_id
		 )
		 SELECT a.ci_id, COALESCE(c.name, ''), COALESCE(c.organization, ''),
		        a.up_min, a.down_min, a.incidents, a.down_7d, a.down_30d
		 FROM agg a
		 LEFT JOIN configuration_items c ON c.id = a.ci_id
		 ORDER BY a.ci_id`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.ItemMetrics
	for rows.Next() {
		var m models.ItemMetrics
		if err := rows.Scan(&m.CIID, &m.Name, &m.Organization, &m.UptimeMinutes, &m.DowntimeMinutes,
			&m.Incidents, &m.Downtime7dMinutes, &m.Downtime30dMinutes); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
