package store

import (
	"context"

	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/paginate"
)

// MetadataStore defines the interface for database operations
type MetadataStore interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error
	Status(ctx context.Context) (*Status, error)

	// Image operations
	Insert(ctx context.Context, image *models.Image) (uint, error)
	Remove(ctx context.Context, path string) (bool, error)
	ListAll(ctx context.Context, limit int, storage models.Storage) ([]models.Image, error)
	ListPaged(ctx context.Context, page, pageSize int, storage models.Storage) (*paginate.Page[models.Image], error)
	FindByPath(ctx context.Context, path string) (*models.Image, error)
	Paths(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)

	// Aggregates and batches
	StorageStats(ctx context.Context) (*StorageStats, error)
	BulkImport(ctx context.Context, images []models.Image) (*ImportResult, error)
	ExportAll(ctx context.Context) ([]models.Image, error)
}

// StorageStats holds aggregate image counts per backend
type StorageStats struct {
	Total  int64 `json:"total"`
	Local  int64 `json:"local"`
	Remote int64 `json:"remote"`
}

// ImportResult reports the outcome of a bulk import
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   int      `json:"errors"`
	Failures []string `json:"failures,omitempty"`
}

// Err returns ErrPartialBatch when at least one record failed.
func (r *ImportResult) Err() error {
	if r.Errors == 0 {
		return nil
	}
	return PartialBatch(r.Errors, r.Imported+r.Skipped+r.Errors)
}

// Status describes the current state of the store
type Status struct {
	Path       string `json:"dbPath"`
	ImageCount int64  `json:"dbImageCount"`
	Connected  bool   `json:"isConnected"`
}
