package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/spf13/afero"
)

const tempSuffix = ".tmp"

// Local stores files on a filesystem under a root directory.
// Writes go through a temp file and an atomic rename, so readers and scans
// never observe a partially written image.
type Local struct {
	fs   afero.Fs
	root string
}

var _ Backend = (*Local)(nil)

// NewLocal creates a Local backend on the OS filesystem, creating root if needed.
func NewLocal(root string) (*Local, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return NewLocalFs(afero.NewOsFs(), absRoot)
}

// NewLocalFs creates a Local backend on an arbitrary afero filesystem.
func NewLocalFs(fsys afero.Fs, root string) (*Local, error) {
	root = filepath.Clean(root)
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", root, err)
	}
	return &Local{fs: fsys, root: root}, nil
}

func (l *Local) Root() string {
	return l.root
}

func (l *Local) Kind() models.Storage {
	return models.StorageLocal
}

func (l *Local) Available() bool {
	return true
}

// abs resolves a key to a filesystem path and rejects keys escaping the root.
func (l *Local) abs(key string) (string, error) {
	joined := filepath.Join(l.root, filepath.Clean(filepath.FromSlash(key)))
	rel, err := filepath.Rel(l.root, joined)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes storage root", key)
	}
	return joined, nil
}

func (l *Local) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	dest, err := l.abs(key)
	if err != nil {
		return err
	}

	if exists, err := afero.Exists(l.fs, dest); err != nil {
		return fmt.Errorf("stat %q: %w", key, err)
	} else if exists {
		return fmt.Errorf("refusing to overwrite %q: %w", key, fs.ErrExist)
	}

	if err := l.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir %q: %w", filepath.Dir(dest), err)
	}

	tmp := dest + tempSuffix
	f, err := l.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open tmp %q: %w", tmp, err)
	}

	_, werr := io.Copy(f, r)
	cerr := f.Close()

	if werr != nil {
		l.fs.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("write %q: %w", key, werr)
	}
	if cerr != nil {
		l.fs.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("flush %q: %w", key, cerr)
	}

	if !opts.ModTime.IsZero() {
		if err := l.fs.Chtimes(tmp, opts.ModTime, opts.ModTime); err != nil {
			l.fs.Remove(tmp) //nolint:errcheck
			return fmt.Errorf("set times on %q: %w", key, err)
		}
	}

	if err := l.fs.Rename(tmp, dest); err != nil {
		l.fs.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("rename to %q: %w", key, err)
	}
	return nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	abs, err := l.abs(key)
	if err != nil {
		return err
	}
	if err := l.fs.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	abs, err := l.abs(key)
	if err != nil {
		return false, err
	}
	return afero.Exists(l.fs, abs)
}

// Open returns the completed file stored under key. Directories, hidden and
// in-flight files are reported as not existing.
func (l *Local) Open(key string) (afero.File, os.FileInfo, error) {
	abs, err := l.abs(key)
	if err != nil {
		return nil, nil, err
	}
	for _, part := range strings.Split(filepath.ToSlash(key), "/") {
		if strings.HasPrefix(part, ".") {
			return nil, nil, fs.ErrNotExist
		}
	}
	if strings.HasSuffix(abs, tempSuffix) {
		return nil, nil, fs.ErrNotExist
	}

	f, err := l.fs.Open(abs)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, nil, fs.ErrNotExist
	}
	return f, info, nil
}

// URL returns <baseURL>/i/<key>.
func (l *Local) URL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/i/" + key
}

// PruneEmpty removes the now-empty parent directories of key, bottom-up,
// stopping at the first non-empty directory. The root itself is never removed.
func (l *Local) PruneEmpty(key string) (int, error) {
	abs, err := l.abs(key)
	if err != nil {
		return 0, err
	}

	removed := 0
	for dir := filepath.Dir(abs); dir != l.root && strings.HasPrefix(dir, l.root); dir = filepath.Dir(dir) {
		exists, err := afero.DirExists(l.fs, dir)
		if err != nil {
			return removed, err
		}
		if !exists {
			continue
		}

		empty, err := afero.IsEmpty(l.fs, dir)
		if err != nil {
			return removed, err
		}
		if !empty {
			break
		}
		if err := l.fs.Remove(dir); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// FileInfo is one completed file below the root
type FileInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Walk visits every completed file below the root. In-flight temp files and
// hidden entries are skipped.
func (l *Local) Walk(ctx context.Context, fn func(FileInfo) error) error {
	return afero.Walk(l.fs, l.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == l.root {
			return nil
		}

		if strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || strings.HasSuffix(info.Name(), tempSuffix) {
			return nil
		}

		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		return fn(FileInfo{
			Key:     filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	})
}
