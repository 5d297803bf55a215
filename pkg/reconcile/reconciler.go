package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/db/store"
	"github.com/mwantia/imghost/pkg/log"
	"github.com/mwantia/imghost/pkg/metrics"
	"github.com/mwantia/imghost/pkg/paginate"
	"github.com/mwantia/imghost/pkg/storage"
	"golang.org/x/sync/singleflight"
)

// DefaultListLimit applies to unpaged listings without an explicit limit.
const DefaultListLimit = 30

// Reconciler serves listings that include unindexed local files and keeps the
// index and the backends consistent on delete and migrate.
//
// Only the local tree is scanned. Objects in remote storage that are missing
// from the index are not discovered.
type Reconciler struct {
	store    store.MetadataStore
	selector *storage.Selector
	log      log.LoggerService
	metrics  *metrics.Metrics
	scans    singleflight.Group
}

func New(st store.MetadataStore, selector *storage.Selector, logger log.LoggerService, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:    st,
		selector: selector,
		log:      logger,
		metrics:  m,
	}
}

// scan walks the local root and synthesizes a record for every file whose path
// is not indexed. Concurrent scans for the same base url share one walk,
// which is not cancelled when the first caller goes away.
func (r *Reconciler) scan(ctx context.Context, baseURL string) (*scan, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := r.scans.Do(baseURL, func() (any, error) {
		return r.walk(shared, baseURL)
	})
	if err != nil {
		return nil, err
	}
	return v.(*scan), nil
}

func (r *Reconciler) walk(ctx context.Context, baseURL string) (*scan, error) {
	paths, err := r.store.Paths(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load indexed paths: %w", err)
	}

	indexed := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		indexed[p] = struct{}{}
	}

	local := r.selector.Local()
	result := &scan{orphans: []models.Image{}}

	err = local.Walk(ctx, func(info storage.FileInfo) error {
		result.files++
		if _, ok := indexed[info.Key]; ok {
			return nil
		}
		result.orphans = append(result.orphans, Synthesize(info, local.URL(baseURL, info.Key)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan '%s': %w", local.Root(), err)
	}

	if len(result.orphans) > 0 {
		r.log.Debug("Found %d unindexed files below '%s'", len(result.orphans), local.Root())
	}
	r.metrics.OrphansSeen(len(result.orphans))
	return result, nil
}

// Orphans returns the local files that have no index record.
func (r *Reconciler) Orphans(ctx context.Context, baseURL string) ([]models.Image, error) {
	s, err := r.scan(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	return s.orphans, nil
}

// List returns up to limit images of the merged view. Orphans are local, so a
// remote filter never includes them.
func (r *Reconciler) List(ctx context.Context, baseURL string, limit int, filter models.Storage) ([]models.Image, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	indexed, err := r.store.ListAll(ctx, 0, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	var orphans []models.Image
	if filter == "" || filter == models.StorageLocal {
		if orphans, err = r.Orphans(ctx, baseURL); err != nil {
			return nil, err
		}
	}

	merged := Filter(Merge(indexed, orphans), filter)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// ListPaged returns one page of the merged view. With a storage filter only the
// index is consulted. Without one the page is recomputed over the merged set
// as soon as a single orphan exists.
func (r *Reconciler) ListPaged(ctx context.Context, baseURL string, page, size int, filter models.Storage) (*paginate.Page[models.Image], error) {
	page, size = paginate.Normalize(page, size, paginate.DefaultPageSize)

	indexed, err := r.store.ListPaged(ctx, page, size, filter)
	if err != nil {
		return nil, err
	}
	if filter != "" {
		return indexed, nil
	}

	orphans, err := r.Orphans(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	if len(orphans) == 0 {
		return indexed, nil
	}

	all, err := r.store.ListAll(ctx, 0, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	merged := paginate.Slice(Merge(all, orphans), page, size)
	return &merged, nil
}

// Migrate indexes every orphan. Each file is inserted on its own; failures are
// counted and do not stop the remaining files.
func (r *Reconciler) Migrate(ctx context.Context, baseURL string) (*MigrateResult, error) {
	orphans, err := r.Orphans(ctx, baseURL)
	if err != nil {
		return nil, err
	}

	result := &MigrateResult{}
	for _, orphan := range orphans {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if _, err := r.store.Insert(ctx, &orphan); err != nil {
			r.log.Error("Failed to migrate '%s' (storage %s): %v", orphan.Path, orphan.Storage, err)
			result.Errors++
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", orphan.Path, err))
			continue
		}
		result.Migrated++
	}

	r.log.Info("Migrated %d unindexed files, %d failed", result.Migrated, result.Errors)
	r.metrics.Migrated(result.Migrated, result.Errors)
	return result, nil
}

// Delete removes the backing object and the index row of every target, then
// prunes emptied date directories. A failing backend delete is logged and the
// index row is removed anyway. Deleting twice is a no-op.
func (r *Reconciler) Delete(ctx context.Context, targets []Target) (*DeleteResult, error) {
	result := &DeleteResult{Requested: len(targets)}

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		key := cleanKey(target.Path)
		kind, err := models.ParseStorage(target.Storage)
		if err != nil || key == "" {
			r.log.Warn("Skipping invalid delete target '%s' (storage '%s')", target.Path, target.Storage)
			result.Skipped++
			continue
		}

		if err := r.deleteObject(ctx, kind, key); err != nil {
			r.log.Error("Failed to delete '%s' from %s storage: %v", key, kind, err)
			result.BackendFailures++
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", key, err))
		}

		removed, err := r.store.Remove(ctx, key)
		if err != nil {
			return result, fmt.Errorf("failed to remove index row for '%s': %w", key, err)
		}
		if removed {
			result.Removed++
		}

		if kind == models.StorageLocal {
			pruned, err := r.selector.Local().PruneEmpty(key)
			if err != nil {
				r.log.Warn("Failed to prune directories of '%s': %v", key, err)
			}
			result.PrunedDirs += pruned
		}
	}

	r.metrics.Deleted(result.Removed)
	return result, nil
}

func (r *Reconciler) deleteObject(ctx context.Context, kind models.Storage, key string) error {
	backend, err := r.selector.Backend(kind)
	if err != nil {
		return err
	}
	return backend.Delete(ctx, key)
}

// PruneMissing removes index rows whose object no longer exists. Remote rows
// are only checked when includeRemote is set, since that costs one request each.
func (r *Reconciler) PruneMissing(ctx context.Context, includeRemote bool) (*PruneResult, error) {
	images, err := r.store.ListAll(ctx, 0, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	result := &PruneResult{}
	for _, image := range images {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if image.Storage == models.StorageRemote && !includeRemote {
			continue
		}
		result.Checked++

		backend, err := r.selector.Backend(image.Storage)
		if err != nil {
			result.Errors++
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", image.Path, err))
			continue
		}

		exists, err := backend.Exists(ctx, image.Path)
		if err != nil {
			r.log.Warn("Failed to check '%s' on %s storage: %v", image.Path, image.Storage, err)
			result.Errors++
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", image.Path, err))
			continue
		}
		if exists {
			continue
		}

		if _, err := r.store.Remove(ctx, image.Path); err != nil {
			result.Errors++
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", image.Path, err))
			continue
		}
		r.log.Info("Removed index row of missing %s object '%s'", image.Storage, image.Path)
		result.Removed++
	}

	return result, nil
}

// Stats extends the store aggregates with unindexed local files.
func (r *Reconciler) Stats(ctx context.Context) (*store.StorageStats, error) {
	stats, err := r.store.StorageStats(ctx)
	if err != nil {
		return nil, err
	}

	orphans, err := r.Orphans(ctx, "")
	if err != nil {
		return nil, err
	}

	stats.Local += int64(len(orphans))
	stats.Total += int64(len(orphans))
	return stats, nil
}

func (r *Reconciler) Status(ctx context.Context) (*Status, error) {
	dbStatus, err := r.store.Status(ctx)
	if err != nil {
		return nil, err
	}

	status := &Status{
		DBImageCount: dbStatus.ImageCount,
		DBPath:       dbStatus.Path,
		Connected:    dbStatus.Connected,
	}
	if !dbStatus.Connected {
		return status, nil
	}

	s, err := r.scan(ctx, "")
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		r.log.Warn("Failed to scan local storage for status: %v", err)
		return status, nil
	}

	status.FSImageCount = s.files
	status.NeedMigrationCount = len(s.orphans)
	return status, nil
}

// cleanKey normalizes a client supplied path the way the backends resolve it,
// so the object and its index row are addressed by the same key.
func cleanKey(p string) string {
	key := strings.TrimPrefix(strings.TrimSpace(p), "/")
	if key == "" {
		return ""
	}
	key = path.Clean(key)
	if key == "." {
		return ""
	}
	return key
}
