package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/logging"
	"github.com/dmitrijs2005/availwatch/internal/server/config"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/repomanager"
)

// challengeGrace is how long expired challenges are kept before deletion.
const challengeGrace = 24 * time.Hour

// Archiver stores measurements before they are pruned.
type Archiver interface {
	Archive(ctx context.Context, cutoff time.Time, rows []models.Measurement) error
}

// RetentionReport summarises one retention run.
type RetentionReport struct {
	Cutoff            time.Time
	Archived          int
	Pruned            int64
	ChallengesDeleted int64
}

// RetentionService prunes history beyond keep_days and removes stale OTP
// challenges. With an archiver configured, exactly the archived rows are
// deleted and a failed archive leaves them in place.
type RetentionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	archiver    Archiver
	log         logging.Logger
	keep        time.Duration
	clock       clock
}

// NewRetentionService accepts a nil archiver.
func NewRetentionService(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, archiver Archiver, log logging.Logger) *RetentionService {
	return &RetentionService{
		db:          db,
		repomanager: rm,
		archiver:    archiver,
		log:         log.With("module", "retention"),
		keep:        time.Duration(cfg.KeepDays) * 24 * time.Hour,
	}
}

func (s *RetentionService) Run(ctx context.Context) (RetentionReport, error) {
	now := s.clock.now()
	report := RetentionReport{Cutoff: now.Add(-s.keep)}

	if s.archiver != nil {
		archived, n, err := s.archiveAndDelete(ctx, report.Cutoff)
		report.Archived, report.Pruned = archived, n
		if err != nil {
			return report, err
		}
	} else {
		n, err := s.repomanager.Measurements(s.db).Prune(ctx, report.Cutoff)
		if err != nil {
			return report, fmt.Errorf("%w: prune: %w", common.ErrStore, err)
		}
		report.Pruned = n
	}

	deleted, err := s.repomanager.Challenges(s.db).DeleteExpired(ctx, now.Add(-challengeGrace))
	if err != nil {
		return report, fmt.Errorf("%w: delete challenges: %w", common.ErrStore, err)
	}
	report.ChallengesDeleted = deleted

	s.log.Info(ctx, "retention finished", "cutoff", report.Cutoff, "archived", report.Archived,
		"pruned", report.Pruned, "challenges_deleted", report.ChallengesDeleted)
	return report, nil
}

// archiveAndDelete deletes only the rows that were archived. Rows that became
// prunable after the listing, for example because a newer sample arrived,
// wait for the next run.
func (s *RetentionService) archiveAndDelete(ctx context.Context, cutoff time.Time) (int, int64, error) {
	history := s.repomanager.Measurements(s.db)

	rows, err := history.ListPrunable(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: list prunable: %w", common.ErrStore, err)
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	if err := s.archiver.Archive(ctx, cutoff, rows); err != nil {
		return 0, 0, fmt.Errorf("archive measurements: %w", err)
	}

	n, err := history.DeleteRows(ctx, rows)
	if err != nil {
		return len(rows), n, fmt.Errorf("%w: delete archived: %w", common.ErrStore, err)
	}
	return len(rows), n, nil
}
