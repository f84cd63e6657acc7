package archive

import (
	"context"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/filex"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
)

// FileArchiver writes batches below a local directory, mirroring the
// object key layout of S3Archiver.
type FileArchiver struct {
	dir string
}

func NewFileArchiver(dir string) (*FileArchiver, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return &FileArchiver{dir: abs}, nil
}

func (a *FileArchiver) Archive(_ context.Context, cutoff time.Time, rows []models.Measurement) error {
	body, err := encodeLines(rows)
	if err != nil {
		return err
	}

	path := filepath.Join(a.dir, filepath.FromSlash(ObjectKey(cutoff)))
	if _, err := filex.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return filex.WriteFileAtomic(path, body)
}

// Dir is the absolute archive root.
func (a *FileArchiver) Dir() string {
	return a.dir
}
