package items

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var (
	qSelectForUpdate = regexp.QuoteMeta(`SELECT current_state, last_observed_at FROM configuration_items`) + `(?s).*FOR UPDATE`
	qInsert          = regexp.QuoteMeta(`INSERT INTO configuration_items`) + `(?s).*ON CONFLICT \(id\) DO NOTHING`
	qUpdateState     = `(?s)UPDATE configuration_items.*current_state = \$5.*last_observed_at = \$6`
	qTouch           = `(?s)UPDATE configuration_items\s+SET name = \$2, product = \$3, organization = \$4, last_seen_at = \$5`
)

func observation(state models.State, ts time.Time) models.Observation {
	return models.Observation{
		CIID:       "CI-100",
		CIMetadata: models.CIMetadata{Name: "Konnektor", Product: "TI", Organization: "Acme"},
		State:      state,
		Timestamp:  ts,
	}
}

func TestUpsert_NewItemReturnsUnknown(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	seen := ts.Add(time.Second)

	mock.ExpectQuery(qSelectForUpdate).WithArgs("CI-100").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(qInsert).
		WithArgs("CI-100", "Konnektor", "TI", "Acme", "available", ts, seen).
		WillReturnResult(sqlmock.NewResult(0, 1))

	prev, applied, err := repo.Upsert(context.Background(), observation(models.StateAvailable, ts), seen)
	require.NoError(t, err)
	assert.Equal(t, models.StateUnknown, prev)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_ExistingReturnsPrevious(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(5 * time.Minute)

	mock.ExpectQuery(qSelectForUpdate).WithArgs("CI-100").
		WillReturnRows(sqlmock.NewRows([]string{"current_state", "last_observed_at"}).AddRow("available", t0))
	mock.ExpectExec(qUpdateState).
		WithArgs("CI-100", "Konnektor", "TI", "Acme", "unavailable", t1, t1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	prev, applied, err := repo.Upsert(context.Background(), observation(models.StateUnavailable, t1), t1)
	require.NoError(t, err)
	assert.Equal(t, models.StateAvailable, prev)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_LateObservationDoesNotRewriteState(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	t1 := time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)
	late := t1.Add(-10 * time.Minute)
	seen := t1.Add(time.Minute)

	mock.ExpectQuery(qSelectForUpdate).WithArgs("CI-100").
		WillReturnRows(sqlmock.NewRows([]string{"current_state", "last_observed_at"}).AddRow("available", t1))
	mock.ExpectExec(qTouch).
		WithArgs("CI-100", "Konnektor", "TI", "Acme", seen).
		WillReturnResult(sqlmock.NewResult(0, 1))

	prev, applied, err := repo.Upsert(context.Background(), observation(models.StateUnavailable, late), seen)
	require.NoError(t, err)
	assert.Equal(t, models.StateAvailable, prev)
	assert.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_DBErrors(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("select fails", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectQuery(qSelectForUpdate).WillReturnError(errors.New("db down"))

		_, _, err := repo.Upsert(context.Background(), observation(models.StateAvailable, ts), ts)
		require.Error(t, err)
		assert.Regexp(t, `db error: .*db down`, err.Error())
	})

	t.Run("insert fails", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectQuery(qSelectForUpdate).WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(qInsert).WillReturnError(errors.New("disk full"))

		_, _, err := repo.Upsert(context.Background(), observation(models.StateAvailable, ts), ts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("update fails", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectQuery(qSelectForUpdate).
			WillReturnRows(sqlmock.NewRows([]string{"current_state", "last_observed_at"}).AddRow("available", ts))
		mock.ExpectExec(qUpdateState).WillReturnError(errors.New("deadlock"))

		_, _, err := repo.Upsert(context.Background(), observation(models.StateAvailable, ts), ts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deadlock")
	})
}

func itemRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "product", "organization", "current_state",
		"last_changed_at", "last_observed_at", "last_seen_at", "stale"})
}

func TestGet(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	q := regexp.QuoteMeta(`FROM configuration_items WHERE id = $1`)

	mock.ExpectQuery(q).WithArgs("CI-1").
		WillReturnRows(itemRows().AddRow("CI-1", "n", "p", "o", "unavailable", ts, ts, ts, true))
	item, err := repo.Get(context.Background(), "CI-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateUnavailable, item.CurrentState)
	assert.True(t, item.Stale)
	assert.Equal(t, "n", item.Name)

	mock.ExpectQuery(q).WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestListAll(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM configuration_items ORDER BY id`)).
		WillReturnRows(itemRows().
			AddRow("CI-1", "a", "p", "o", "available", ts, ts, ts, false).
			AddRow("CI-2", "b", "p", "o", "bogus", ts, ts, ts, false))

	got, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "CI-1", got[0].ID)
	assert.Equal(t, models.StateUnknown, got[1].CurrentState)
}

func TestListAll_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM configuration_items`).WillReturnError(errors.New("boom"))
	_, err := repo.ListAll(context.Background())
	require.Error(t, err)
}

func TestMarkStale(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	cutoff := time.Date(2025, 3, 1, 9, 45, 0, 0, time.UTC)
	mock.ExpectExec(`(?s)UPDATE configuration_items SET stale = TRUE.*last_seen_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.MarkStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
