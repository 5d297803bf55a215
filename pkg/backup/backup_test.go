package backup

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/db/store"
	"github.com/mwantia/imghost/pkg/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyJSON = `[
  {
    "filename": "0f1e2d3c4b5a6978003.webp",
    "path": "2023/11/02/0f1e2d3c4b5a6978003.webp",
    "uploadTime": "2023-11-02T08:15:00.000Z",
    "fileSize": 2048,
    "storage": "r2",
    "format": "webp",
    "url": "https://img.example.com/2023/11/02/0f1e2d3c4b5a6978003.webp",
    "htmlCode": "<img src=\"https://img.example.com/2023/11/02/0f1e2d3c4b5a6978003.webp\" alt=\"0f1e2d3c4b5a6978003.webp\" />",
    "markdownCode": "![](https://img.example.com/2023/11/02/0f1e2d3c4b5a6978003.webp)"
  },
  {
    "filename": "aa11bb22cc33dd44001.png",
    "path": "2023/11/01/aa11bb22cc33dd44001.png",
    "uploadTime": "2023-11-01T20:00:00.000Z",
    "fileSize": 512,
    "storage": "local",
    "format": "png",
    "url": "http://localhost:3000/i/2023/11/01/aa11bb22cc33dd44001.png"
  }
]`

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	st, err := store.NewSQLiteStore(store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "images.db")})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Connect(ctx))
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() })
	return st
}

func fixedArchive(fsys afero.Fs) *Archive {
	a := New(fsys, "/data")
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return a
}

func TestDecodeFormats(t *testing.T) {
	images, err := Decode(strings.NewReader(legacyJSON))
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, models.Storage("r2"), images[0].Storage)
	assert.Equal(t, int64(2048), images[0].FileSize)

	wrapped, err := Decode(strings.NewReader(`{"images":` + legacyJSON + `}`))
	require.NoError(t, err)
	assert.Len(t, wrapped, 2)

	_, err = Decode(strings.NewReader("   "))
	assert.Error(t, err)
	_, err = Decode(strings.NewReader("{nope"))
	assert.Error(t, err)
}

func TestEncodeOmitsID(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []models.Image{{Path: "a.png", Storage: models.StorageLocal}}))

	assert.NotContains(t, buf.String(), `"id"`)
	assert.Contains(t, buf.String(), `"path": "a.png"`)
}

func TestWriteAndImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	source := newStore(t)

	images, err := Decode(strings.NewReader(legacyJSON))
	require.NoError(t, err)
	_, err = source.BulkImport(ctx, images)
	require.NoError(t, err)

	a := fixedArchive(fsys)
	name, count, err := a.Write(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, "images_backup_1700000000000.json", name)
	assert.Equal(t, 2, count)

	target := newStore(t)
	result, err := a.ImportFile(ctx, target, name)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 0, result.Errors)

	record, err := target.FindByPath(ctx, "2023/11/02/0f1e2d3c4b5a6978003.webp")
	require.NoError(t, err)
	assert.Equal(t, models.StorageRemote, record.Storage)
}

func TestImportLegacy(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/data/images.json", []byte(legacyJSON), 0o644))

	st := newStore(t)
	a := fixedArchive(fsys)

	result, done, err := a.ImportLegacy(ctx, st, log.NewNopLoggerService())
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, 2, result.Imported)

	exists, err := afero.Exists(fsys, "/data/images.json")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.Exists(fsys, "/data/images.json.backup.1700000000000")
	require.NoError(t, err)
	assert.True(t, exists)

	// a second legacy file is ignored once the store holds records
	require.NoError(t, afero.WriteFile(fsys, "/data/images.json", []byte(legacyJSON), 0o644))
	_, done, err = a.ImportLegacy(ctx, st, log.NewNopLoggerService())
	require.NoError(t, err)
	assert.False(t, done)
}

func TestImportLegacyMissingFile(t *testing.T) {
	a := fixedArchive(afero.NewMemMapFs())

	_, done, err := a.ImportLegacy(context.Background(), newStore(t), log.NewNopLoggerService())
	require.NoError(t, err)
	assert.False(t, done)
}
