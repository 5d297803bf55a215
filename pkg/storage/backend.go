package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/mwantia/imghost/pkg/db/models"
)

var (
	// ErrBackendUnavailable is returned when a backend is required but not configured or healthy.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrTransientBackend is returned when a backend passed its health check but the operation failed.
	ErrTransientBackend = errors.New("transient backend failure")
)

// PutOptions describes the object being written
type PutOptions struct {
	ContentType string
	// ModTime is applied where the backend supports it
	ModTime time.Time
}

// Backend stores image bytes under backend-relative, slash separated keys
type Backend interface {
	Kind() models.Storage
	Available() bool

	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error
	// Delete succeeds if the object is already absent
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	URL(baseURL, key string) string
}
