// Package storagetest provides an in-memory remote backend for tests.
package storagetest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/storage"
)

// Memory is an in-memory storage.Backend that reports itself as remote.
type Memory struct {
	mutex   sync.Mutex
	objects map[string][]byte

	Healthy   bool
	PutErr    error
	DeleteErr error
	Puts      int
	Deletes   int
}

var _ storage.Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string][]byte),
		Healthy: true,
	}
}

func (m *Memory) Kind() models.Storage {
	return models.StorageRemote
}

func (m *Memory) Available() bool {
	return m.Healthy
}

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, size int64, opts storage.PutOptions) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.Puts++
	if m.PutErr != nil {
		return fmt.Errorf("%w: %v", storage.ErrTransientBackend, m.PutErr)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.Deletes++
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.objects, key)
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, ok := m.objects[key]
	return ok, nil
}

func (m *Memory) URL(baseURL, key string) string {
	return "https://cdn.example.com/" + key
}

// Object returns the stored bytes for key.
func (m *Memory) Object(key string) ([]byte, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, ok := m.objects[key]
	return data, ok
}
