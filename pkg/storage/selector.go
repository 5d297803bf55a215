package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/log"
	"github.com/mwantia/imghost/pkg/metrics"
)

// Preference is the per-request storage choice
type Preference string

const (
	PreferLocal  Preference = "local"
	PreferRemote Preference = "remote"
	PreferAuto   Preference = "auto"
)

// ParsePreference maps request values to a Preference; empty means auto.
func ParsePreference(value string) (Preference, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		return PreferAuto, nil
	case "local":
		return PreferLocal, nil
	case "remote", "r2", "s3":
		return PreferRemote, nil
	}
	return "", fmt.Errorf("unknown storage preference '%s'", value)
}

// Decision is the resolved target for one upload batch
type Decision struct {
	Target   models.Storage
	Explicit bool
}

type remoteSlot struct {
	backend Backend
}

// Selector places uploads on the local or the remote backend.
// The remote backend can be replaced at runtime when the configuration changes.
type Selector struct {
	local   *Local
	remote  atomic.Pointer[remoteSlot]
	log     log.LoggerService
	metrics *metrics.Metrics
}

func NewSelector(local *Local, remote Backend, logger log.LoggerService, m *metrics.Metrics) *Selector {
	s := &Selector{
		local:   local,
		log:     logger,
		metrics: m,
	}
	s.SetRemote(remote)
	return s
}

func (s *Selector) Local() *Local {
	return s.local
}

// Remote returns the current remote backend or nil.
func (s *Selector) Remote() Backend {
	if slot := s.remote.Load(); slot != nil {
		return slot.backend
	}
	return nil
}

func (s *Selector) SetRemote(remote Backend) {
	s.remote.Store(&remoteSlot{backend: remote})
}

func (s *Selector) RemoteAvailable() bool {
	remote := s.Remote()
	return remote != nil && remote.Available()
}

// Resolve decides the target backend. An explicit remote preference requires a
// healthy remote; auto only picks remote when it is the default and available.
func (s *Selector) Resolve(pref Preference, defaultStorage models.Storage) (Decision, error) {
	switch pref {
	case PreferLocal:
		return Decision{Target: models.StorageLocal, Explicit: true}, nil
	case PreferRemote:
		if !s.RemoteAvailable() {
			return Decision{}, fmt.Errorf("remote storage was requested: %w", ErrBackendUnavailable)
		}
		return Decision{Target: models.StorageRemote, Explicit: true}, nil
	case PreferAuto, "":
		if defaultStorage == models.StorageRemote && s.RemoteAvailable() {
			return Decision{Target: models.StorageRemote}, nil
		}
		return Decision{Target: models.StorageLocal}, nil
	}
	return Decision{}, fmt.Errorf("unknown storage preference '%s'", pref)
}

// Backend returns the backend responsible for kind.
func (s *Selector) Backend(kind models.Storage) (Backend, error) {
	switch kind {
	case models.StorageLocal:
		return s.local, nil
	case models.StorageRemote:
		remote := s.Remote()
		if remote == nil || !remote.Available() {
			return nil, fmt.Errorf("remote storage: %w", ErrBackendUnavailable)
		}
		return remote, nil
	}
	return nil, fmt.Errorf("unknown storage '%s'", kind)
}

// Exists reports whether key is taken on the decided target or on local disk,
// which is where a fallback would land.
func (s *Selector) Exists(ctx context.Context, decision Decision, key string) (bool, error) {
	exists, err := s.local.Exists(ctx, key)
	if err != nil || exists {
		return exists, err
	}

	if decision.Target == models.StorageRemote {
		if remote := s.Remote(); remote != nil && remote.Available() {
			return remote.Exists(ctx, key)
		}
	}
	return false, nil
}

// Put writes data to the decided backend and returns the backend that holds it.
// A failed remote write falls back to local unless remote was requested explicitly.
func (s *Selector) Put(ctx context.Context, decision Decision, key string, data []byte, opts PutOptions) (Backend, error) {
	if decision.Target == models.StorageRemote {
		remote := s.Remote()
		if remote == nil || !remote.Available() {
			if decision.Explicit {
				return nil, fmt.Errorf("put '%s': %w", key, ErrBackendUnavailable)
			}
			s.log.Warn("Remote storage became unavailable, writing '%s' locally", key)
			s.metrics.Fallback()
			return s.putLocal(ctx, key, data, opts)
		}

		err := remote.Put(ctx, key, bytes.NewReader(data), int64(len(data)), opts)
		if err == nil {
			return remote, nil
		}
		if !errors.Is(err, ErrTransientBackend) {
			err = fmt.Errorf("%w: %v", ErrTransientBackend, err)
		}
		if decision.Explicit {
			return nil, err
		}

		s.log.Warn("Remote write of '%s' failed, falling back to local storage: %v", key, err)
		s.metrics.Fallback()
	}

	return s.putLocal(ctx, key, data, opts)
}

func (s *Selector) putLocal(ctx context.Context, key string, data []byte, opts PutOptions) (Backend, error) {
	if err := s.local.Put(ctx, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return nil, fmt.Errorf("local write of '%s' failed: %w", key, err)
	}
	return s.local, nil
}
