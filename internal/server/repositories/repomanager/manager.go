package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/availwatch/internal/dbx"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/challenges"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/deliveries"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/items"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/measurements"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/profiles"
)

// RepositoryManager vends repositories bound to a connection or a transaction,
// so services can compose several stores under one dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Items(db dbx.DBTX) items.Repository
	Measurements(db dbx.DBTX) measurements.Repository
	Profiles(db dbx.DBTX) profiles.Repository
	Challenges(db dbx.DBTX) challenges.Repository
	Deliveries(db dbx.DBTX) deliveries.Repository
}
