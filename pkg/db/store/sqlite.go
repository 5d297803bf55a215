package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mwantia/imghost/pkg/db/migrations"
	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/paginate"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const listingOrder = "upload_time DESC, path ASC"

// SQLiteStore implements MetadataStore using SQLite
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

var _ MetadataStore = (*SQLiteStore)(nil)

// DB returns the underlying GORM database instance
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path         string
	MaxOpenConns int
	BusyTimeout  time.Duration
	LogLevel     logger.LogLevel
}

// NewSQLiteStore creates a new SQLite-backed metadata store
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Default to silent logging
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	db, err := gorm.Open(sqlite.Open(dsn(cfg)), &gorm.Config{
		Logger:         logger.Default.LogMode(cfg.LogLevel),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return &SQLiteStore{
		db:   db,
		path: cfg.Path,
	}, nil
}

// dsn appends per-connection pragmas so they survive connection recycling.
func dsn(cfg SQLiteConfig) string {
	if strings.Contains(cfg.Path, "?") {
		return cfg.Path
	}

	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()),
		"_pragma=foreign_keys(1)",
	}
	if cfg.Path != ":memory:" {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}

	return cfg.Path + "?" + strings.Join(pragmas, "&")
}

// Connect initializes the database connection
func (s *SQLiteStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(1) // SQLite only supports 1 writer
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return migrations.NewMigrator(s.db).Migrate(ctx)
}

// Health checks database connectivity
func (s *SQLiteStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Init connects and migrates when the store is resolved from a service container.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to '%s': %w", s.path, err)
	}
	return s.Migrate(ctx)
}

// Cleanup closes the store during container shutdown.
func (s *SQLiteStore) Cleanup(ctx context.Context) error {
	return s.Close()
}

func (s *SQLiteStore) Status(ctx context.Context) (*Status, error) {
	status := &Status{
		Path:      s.path,
		Connected: s.Health(ctx) == nil,
	}
	if !status.Connected {
		return status, nil
	}

	count, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	status.ImageCount = count
	return status, nil
}

// Image operations

func (s *SQLiteStore) Insert(ctx context.Context, image *models.Image) (uint, error) {
	if image.Path == "" {
		return 0, fmt.Errorf("image path is required")
	}
	if !image.Storage.Valid() {
		return 0, fmt.Errorf("invalid storage '%s' for '%s'", image.Storage, image.Path)
	}

	image.ID = 0
	image.UploadTime = image.UploadTime.UTC()

	if err := s.db.WithContext(ctx).Create(image).Error; err != nil {
		if isConstraintViolation(err) {
			return 0, fmt.Errorf("path '%s' already exists: %w", image.Path, ErrConstraintViolation)
		}
		return 0, fmt.Errorf("failed to insert '%s': %w", image.Path, err)
	}

	return image.ID, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, path string) (bool, error) {
	result := s.db.WithContext(ctx).Where("path = ?", path).Delete(&models.Image{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to remove '%s': %w", path, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context, limit int, storage models.Storage) ([]models.Image, error) {
	images := []models.Image{}
	query := s.filtered(ctx, storage).Order(listingOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&images).Error
	return images, err
}

func (s *SQLiteStore) ListPaged(ctx context.Context, page, pageSize int, storage models.Storage) (*paginate.Page[models.Image], error) {
	page, pageSize = paginate.Normalize(page, pageSize, paginate.DefaultPageSize)

	var total int64
	if err := s.filtered(ctx, storage).Model(&models.Image{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count images: %w", err)
	}

	images := []models.Image{}
	if offset := paginate.Offset(page, pageSize); int64(offset) < total {
		err := s.filtered(ctx, storage).
			Order(listingOrder).
			Limit(pageSize).
			Offset(offset).
			Find(&images).Error
		if err != nil {
			return nil, fmt.Errorf("failed to list images: %w", err)
		}
	}

	result := paginate.From(images, total, page, pageSize)
	return &result, nil
}

func (s *SQLiteStore) FindByPath(ctx context.Context, path string) (*models.Image, error) {
	var image models.Image
	err := s.db.WithContext(ctx).Where("path = ?", path).First(&image).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("image '%s': %w", path, ErrNotFound)
		}
		return nil, err
	}
	return &image, nil
}

func (s *SQLiteStore) Paths(ctx context.Context) ([]string, error) {
	var paths []string
	err := s.db.WithContext(ctx).Model(&models.Image{}).Pluck("path", &paths).Error
	return paths, err
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Image{}).Count(&count).Error
	return count, err
}

func (s *SQLiteStore) StorageStats(ctx context.Context) (*StorageStats, error) {
	var rows []struct {
		Storage models.Storage
		Count   int64
	}

	err := s.db.WithContext(ctx).
		Model(&models.Image{}).
		Select("storage, COUNT(*) AS count").
		Group("storage").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate storage stats: %w", err)
	}

	stats := &StorageStats{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Storage {
		case models.StorageLocal:
			stats.Local += row.Count
		case models.StorageRemote:
			stats.Remote += row.Count
		}
	}
	return stats, nil
}

// BulkImport inserts each record in its own transaction; existing paths are skipped.
func (s *SQLiteStore) BulkImport(ctx context.Context, images []models.Image) (*ImportResult, error) {
	result := &ImportResult{}

	for _, image := range images {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if image.Storage == "" {
			image.Storage = models.StorageLocal
		}
		if storage, err := models.ParseStorage(string(image.Storage)); err == nil {
			image.Storage = storage
		}

		_, err := s.FindByPath(ctx, image.Path)
		if err == nil {
			result.Skipped++
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			result.Errors++
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", image.Path, err))
			continue
		}

		if _, err := s.Insert(ctx, &image); err != nil {
			if errors.Is(err, ErrConstraintViolation) {
				result.Skipped++
				continue
			}
			result.Errors++
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", image.Path, err))
			continue
		}

		result.Imported++
	}

	return result, nil
}

func (s *SQLiteStore) ExportAll(ctx context.Context) ([]models.Image, error) {
	images, err := s.ListAll(ctx, 0, "")
	if err != nil {
		return nil, err
	}

	exported := make([]models.Image, 0, len(images))
	for _, image := range images {
		exported = append(exported, image.Export())
	}
	return exported, nil
}

func (s *SQLiteStore) filtered(ctx context.Context, storage models.Storage) *gorm.DB {
	query := s.db.WithContext(ctx)
	if storage != "" {
		query = query.Where("storage = ?", storage)
	}
	return query
}
