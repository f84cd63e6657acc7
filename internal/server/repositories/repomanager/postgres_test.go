package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/challenges"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/deliveries"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/items"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/measurements"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/profiles"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db := newDB(t)
	var m RepositoryManager = NewPostgresRepositoryManager()

	assert.IsType(t, &items.PostgresRepository{}, m.Items(db))
	assert.IsType(t, &measurements.PostgresRepository{}, m.Measurements(db))
	assert.IsType(t, &profiles.PostgresRepository{}, m.Profiles(db))
	assert.IsType(t, &challenges.PostgresRepository{}, m.Challenges(db))
	assert.IsType(t, &deliveries.PostgresRepository{}, m.Deliveries(db))
}

func TestRunMigrations_Success(t *testing.T) {
	db := newDB(t)

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, NewPostgresRepositoryManager().RunMigrations(context.Background(), db))
	assert.Equal(t, ".", gotDir)
}

func TestRunMigrations_Error(t *testing.T) {
	db := newDB(t)

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}

	err := NewPostgresRepositoryManager().RunMigrations(context.Background(), db)
	require.EqualError(t, err, "boom")
}
