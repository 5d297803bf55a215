package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/db/store"
	"github.com/mwantia/imghost/pkg/log"
	"github.com/mwantia/imghost/pkg/storage"
	"github.com/mwantia/imghost/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "http://localhost:3000"

type fixture struct {
	root     string
	store    *store.SQLiteStore
	remote   *storagetest.Memory
	selector *storage.Selector
	rec      *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.NewSQLiteStore(store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "images.db")})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Connect(ctx))
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() })

	root := t.TempDir()
	local, err := storage.NewLocal(root)
	require.NoError(t, err)

	remote := storagetest.NewMemory()
	selector := storage.NewSelector(local, remote, log.NewNopLoggerService(), nil)

	return &fixture{
		root:     root,
		store:    st,
		remote:   remote,
		selector: selector,
		rec:      New(st, selector, log.NewNopLoggerService(), nil),
	}
}

// file writes a local object and optionally indexes it.
func (f *fixture) file(t *testing.T, key string, modified time.Time, index bool) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.selector.Local().Put(ctx, key, strings.NewReader("data"), 4, storage.PutOptions{ModTime: modified}))
	if index {
		_, err := f.store.Insert(ctx, &models.Image{
			Filename:   filepath.Base(key),
			Path:       key,
			UploadTime: modified,
			FileSize:   4,
			Storage:    models.StorageLocal,
			Format:     models.FormatFromPath(key),
			URL:        baseURL + "/i/" + key,
		})
		require.NoError(t, err)
	}
}

func (f *fixture) remoteImage(t *testing.T, key string, uploaded time.Time) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.remote.Put(ctx, key, strings.NewReader("data"), 4, storage.PutOptions{}))
	_, err := f.store.Insert(ctx, &models.Image{
		Filename:   filepath.Base(key),
		Path:       key,
		UploadTime: uploaded,
		FileSize:   4,
		Storage:    models.StorageRemote,
		Format:     models.FormatFromPath(key),
		URL:        f.remote.URL(baseURL, key),
	})
	require.NoError(t, err)
}

func TestListPagedIncludesOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	f.file(t, "2024/03/01/a001.png", base, true)
	f.file(t, "2024/03/01/b001.png", base.Add(time.Minute), true)
	f.file(t, "2024/03/01/c001.png", base.Add(2*time.Minute), false)

	page, err := f.rec.ListPaged(ctx, baseURL, 1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 1, page.TotalPages)
	require.Len(t, page.Items, 3)

	orphan := page.Items[0]
	assert.Equal(t, "2024/03/01/c001.png", orphan.Path)
	assert.False(t, orphan.Indexed())
	assert.Equal(t, models.StorageLocal, orphan.Storage)
	assert.Equal(t, baseURL+"/i/2024/03/01/c001.png", orphan.URL)

	assert.Equal(t, "2024/03/01/b001.png", page.Items[1].Path)
	assert.Equal(t, "2024/03/01/a001.png", page.Items[2].Path)
}

func TestListPagedBeyondLastPage(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	f.file(t, "2024/03/01/a001.png", base, true)
	f.file(t, "2024/03/01/b001.png", base.Add(time.Minute), true)
	f.file(t, "2024/03/01/c001.png", base.Add(2*time.Minute), false)

	page, err := f.rec.ListPaged(context.Background(), baseURL, 99, 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, 99, page.Page)
}

func TestListPagedWindowsSpanOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, name := range []string{"a", "b", "c", "d", "e"} {
		f.file(t, "2024/03/01/"+name+"001.png", base.Add(time.Duration(i)*time.Minute), i%2 == 0)
	}

	first, err := f.rec.ListPaged(ctx, baseURL, 1, 2, "")
	require.NoError(t, err)
	second, err := f.rec.ListPaged(ctx, baseURL, 2, 2, "")
	require.NoError(t, err)
	third, err := f.rec.ListPaged(ctx, baseURL, 3, 2, "")
	require.NoError(t, err)

	assert.Equal(t, int64(5), first.Total)
	assert.Equal(t, 3, first.TotalPages)
	assert.Equal(t, []string{"2024/03/01/e001.png", "2024/03/01/d001.png"}, paths(first.Items))
	assert.Equal(t, []string{"2024/03/01/c001.png", "2024/03/01/b001.png"}, paths(second.Items))
	assert.Equal(t, []string{"2024/03/01/a001.png"}, paths(third.Items))
}

func TestListPagedWithFilterUsesIndexOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	f.file(t, "2024/03/01/a001.png", base, true)
	f.file(t, "2024/03/01/c001.png", base.Add(time.Minute), false)
	f.remoteImage(t, "2024/03/01/r001.png", base.Add(2*time.Minute))

	local, err := f.rec.ListPaged(ctx, baseURL, 1, 10, models.StorageLocal)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024/03/01/a001.png"}, paths(local.Items))

	remote, err := f.rec.ListPaged(ctx, baseURL, 1, 10, models.StorageRemote)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024/03/01/r001.png"}, paths(remote.Items))
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	f.file(t, "2024/03/01/a001.png", base, true)
	f.file(t, "2024/03/01/c001.png", base.Add(time.Minute), false)
	f.remoteImage(t, "2024/03/01/r001.png", base.Add(2*time.Minute))

	all, err := f.rec.List(ctx, baseURL, 0, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024/03/01/r001.png", "2024/03/01/c001.png", "2024/03/01/a001.png"}, paths(all))

	limited, err := f.rec.List(ctx, baseURL, 1, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024/03/01/r001.png"}, paths(limited))

	local, err := f.rec.List(ctx, baseURL, 0, models.StorageLocal)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024/03/01/c001.png", "2024/03/01/a001.png"}, paths(local))

	remote, err := f.rec.List(ctx, baseURL, 0, models.StorageRemote)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024/03/01/r001.png"}, paths(remote))
}

func TestMigrateIndexesOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	f.file(t, "2024/03/01/a001.png", base, true)
	f.file(t, "2024/03/01/c001.png", base.Add(time.Minute), false)
	f.file(t, "api/2024/03/02/d001.webp", base.Add(time.Hour), false)

	result, err := f.rec.Migrate(ctx, baseURL)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Migrated)
	assert.Equal(t, 0, result.Errors)
	assert.NoError(t, result.Err())

	record, err := f.store.FindByPath(ctx, "api/2024/03/02/d001.webp")
	require.NoError(t, err)
	assert.True(t, record.Indexed())
	assert.Equal(t, "webp", record.Format)
	assert.True(t, base.Add(time.Hour).Equal(record.UploadTime))

	again, err := f.rec.Migrate(ctx, baseURL)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Migrated)
}

func TestDeleteIsIdempotentAndPrunes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	f.file(t, "2024/03/01/a001.png", base, true)
	f.file(t, "2024/04/01/keep001.png", base, true)

	targets := []Target{{Storage: "local", Path: "2024/03/01/a001.png"}}

	result, err := f.rec.Delete(ctx, targets)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, 0, result.BackendFailures)
	assert.Equal(t, 2, result.PrunedDirs)

	assert.NoDirExists(t, filepath.Join(f.root, "2024", "03"))
	assert.DirExists(t, filepath.Join(f.root, "2024", "04", "01"))
	assert.DirExists(t, f.root)

	again, err := f.rec.Delete(ctx, targets)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Removed)
	assert.Equal(t, 0, again.BackendFailures)
}

func TestDeleteLastFileKeepsRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.file(t, "2024/03/01/a001.png", time.Now(), true)

	result, err := f.rec.Delete(ctx, []Target{{Storage: "local", Path: "2024/03/01/a001.png"}})
	require.NoError(t, err)
	assert.Equal(t, 3, result.PrunedDirs)

	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.DirExists(t, f.root)
}

func TestDeleteRemoteFailureStillRemovesIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.remoteImage(t, "2024/03/01/r001.png", time.Now())
	f.remote.DeleteErr = errors.New("network down")

	result, err := f.rec.Delete(ctx, []Target{
		{Storage: "r2", Path: "2024/03/01/r001.png"},
		{Storage: "floppy", Path: "x.png"},
		{Storage: "local", Path: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Requested)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, 1, result.BackendFailures)
	assert.Equal(t, 2, result.Skipped)

	_, err = f.store.FindByPath(ctx, "2024/03/01/r001.png")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPruneMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now()

	f.file(t, "2024/03/01/a001.png", base, true)
	f.file(t, "2024/03/01/gone001.png", base, true)
	f.remoteImage(t, "2024/03/01/r001.png", base)
	f.remoteImage(t, "2024/03/01/rgone001.png", base)

	require.NoError(t, f.selector.Local().Delete(ctx, "2024/03/01/gone001.png"))
	require.NoError(t, f.remote.Delete(ctx, "2024/03/01/rgone001.png"))

	localOnly, err := f.rec.PruneMissing(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, localOnly.Checked)
	assert.Equal(t, 1, localOnly.Removed)

	withRemote, err := f.rec.PruneMissing(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 3, withRemote.Checked)
	assert.Equal(t, 1, withRemote.Removed)

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStatsAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now()

	f.file(t, "2024/03/01/a001.png", base, true)
	f.file(t, "2024/03/01/c001.png", base, false)
	f.remoteImage(t, "2024/03/01/r001.png", base)

	stats, err := f.rec.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Local)
	assert.Equal(t, int64(1), stats.Remote)

	status, err := f.rec.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), status.DBImageCount)
	assert.Equal(t, 2, status.FSImageCount)
	assert.Equal(t, 1, status.NeedMigrationCount)
	assert.True(t, status.Connected)
}

func TestScanOutlivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	f.file(t, "2024/03/01/orphan001.png", time.Now(), false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orphans, err := f.rec.Orphans(ctx, baseURL)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "2024/03/01/orphan001.png", orphans[0].Path)
}

func TestDeleteNormalizesPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.file(t, "2024/03/01/a001.png", time.Now(), true)
	f.file(t, "2024/03/01/b001.png", time.Now(), true)

	result, err := f.rec.Delete(ctx, []Target{{Storage: "local", Path: " /2024//03/./01/a001.png"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, 0, result.Skipped)

	_, err = f.store.FindByPath(ctx, "2024/03/01/a001.png")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoFileExists(t, filepath.Join(f.root, "2024", "03", "01", "a001.png"))

	result, err = f.rec.Delete(ctx, []Target{{Storage: "local", Path: "/./"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
}
