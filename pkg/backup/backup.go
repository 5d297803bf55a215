// Package backup writes and reads JSON snapshots of the metadata index.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/db/store"
	"github.com/mwantia/imghost/pkg/log"
	"github.com/spf13/afero"
)

// LegacyFile is the flat record file older releases kept next to the database.
const LegacyFile = "images.json"

// Archive manages backup files inside the data directory
type Archive struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

func New(fsys afero.Fs, dir string) *Archive {
	return &Archive{
		fs:  fsys,
		dir: dir,
		now: time.Now,
	}
}

func (a *Archive) Dir() string {
	return a.dir
}

// Encode writes images as an indented JSON array.
func Encode(w io.Writer, images []models.Image) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(images)
}

// Decode reads a JSON array of records. An object wrapping the array in
// "images" is accepted as well.
func Decode(r io.Reader) ([]models.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty backup")
	}

	if data[0] == '{' {
		var wrapped struct {
			Images []models.Image `json:"images"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("invalid backup: %w", err)
		}
		return wrapped.Images, nil
	}

	var images []models.Image
	if err := json.Unmarshal(data, &images); err != nil {
		return nil, fmt.Errorf("invalid backup: %w", err)
	}
	return images, nil
}

// Write exports the store into images_backup_<unix-millis>.json and returns
// the file name and the number of records.
func (a *Archive) Write(ctx context.Context, st store.MetadataStore) (string, int, error) {
	images, err := st.ExportAll(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to export images: %w", err)
	}

	if err := a.fs.MkdirAll(a.dir, 0o755); err != nil {
		return "", 0, err
	}

	name := fmt.Sprintf("images_backup_%d.json", a.now().UnixMilli())
	var buf bytes.Buffer
	if err := Encode(&buf, images); err != nil {
		return "", 0, err
	}
	if err := afero.WriteFile(a.fs, filepath.Join(a.dir, name), buf.Bytes(), 0o644); err != nil {
		return "", 0, fmt.Errorf("failed to write backup '%s': %w", name, err)
	}
	return name, len(images), nil
}

// ImportFile loads a backup from the data directory into the store.
func (a *Archive) ImportFile(ctx context.Context, st store.MetadataStore, name string) (*store.ImportResult, error) {
	file := filepath.Join(a.dir, filepath.Base(name))
	f, err := a.fs.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup '%s': %w", name, err)
	}
	defer f.Close()

	images, err := Decode(f)
	if err != nil {
		return nil, err
	}
	return st.BulkImport(ctx, images)
}

// ImportLegacy imports images.json when the store is still empty and moves
// the file aside as images.json.backup.<unix-millis>. It reports false when
// nothing had to be done.
func (a *Archive) ImportLegacy(ctx context.Context, st store.MetadataStore, logger log.LoggerService) (*store.ImportResult, bool, error) {
	legacy := filepath.Join(a.dir, LegacyFile)
	if _, err := a.fs.Stat(legacy); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	count, err := st.Count(ctx)
	if err != nil {
		return nil, false, err
	}
	if count > 0 {
		logger.Debug("Ignoring '%s', the store already holds %d images", legacy, count)
		return nil, false, nil
	}

	logger.Info("Importing legacy records from '%s'...", legacy)
	result, err := a.ImportFile(ctx, st, LegacyFile)
	if err != nil {
		return nil, true, err
	}

	moved := fmt.Sprintf("%s.backup.%d", legacy, a.now().UnixMilli())
	if err := a.fs.Rename(legacy, moved); err != nil {
		return result, true, fmt.Errorf("imported legacy records but failed to move '%s': %w", legacy, err)
	}

	logger.Info("Imported %d legacy records (%d skipped, %d errors), moved file to '%s'",
		result.Imported, result.Skipped, result.Errors, moved)
	return result, true, nil
}
