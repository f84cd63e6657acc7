// Package archive stores measurements that are about to be pruned, either
// as objects in an S3-compatible bucket or as files in a local directory.
// Both write one JSON object per line.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	sc "github.com/dmitrijs2005/availwatch/internal/server/config"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/google/uuid"
)

// ObjectKey names one archive batch. Batches are grouped by cutoff date.
func ObjectKey(cutoff time.Time) string {
	d := cutoff.UTC()
	return fmt.Sprintf("measurements/%d/%d/%d/%v.jsonl", d.Year(), d.Month(), d.Day(), uuid.New())
}

func encodeLines(rows []models.Measurement) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("encode measurement: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Archiver stores one batch of measurements.
type Archiver interface {
	Archive(ctx context.Context, cutoff time.Time, rows []models.Measurement) error
}

// New picks the backend from cfg: S3 when a bucket is set, a local
// directory when archive_dir is set. It returns nil when neither is.
func New(ctx context.Context, cfg *sc.Config) (Archiver, error) {
	switch {
	case cfg.S3Bucket != "":
		a, err := NewS3Archiver(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 archive: %w", err)
		}
		return a, nil
	case cfg.ArchiveDir != "":
		a, err := NewFileArchiver(cfg.ArchiveDir)
		if err != nil {
			return nil, fmt.Errorf("file archive: %w", err)
		}
		return a, nil
	default:
		return nil, nil
	}
}
