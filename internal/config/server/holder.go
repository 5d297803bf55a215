package server

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Snapshot is an immutable, versioned view of the configuration.
// Callers must not modify Config.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time
	Config   BaseServerConfig
}

// ChangeFunc is called after a new snapshot has been published.
type ChangeFunc func(prev, next *Snapshot)

// WatchFunc receives the outcome of every reload triggered by the watcher.
type WatchFunc func(event fsnotify.Event, snapshot *Snapshot, err error)

// Holder publishes configuration snapshots through an atomic pointer so readers
// always see a complete configuration, never a partially updated one.
type Holder struct {
	current atomic.Pointer[Snapshot]

	mutex     sync.Mutex
	listeners []ChangeFunc

	// notifyMutex orders listener calls; notified is the last delivered snapshot.
	notifyMutex sync.Mutex
	notified    *Snapshot

	load func() (*BaseServerConfig, error)
}

func NewHolder(cfg *BaseServerConfig) *Holder {
	h := &Holder{
		load: LoadServerConfig,
	}
	initial := &Snapshot{
		Version:  1,
		LoadedAt: time.Now(),
		Config:   clone(cfg),
	}
	h.current.Store(initial)
	h.notified = initial
	return h
}

// Current returns the active snapshot. Read it once per request.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Swap publishes cfg as the next version and notifies listeners.
func (h *Holder) Swap(cfg *BaseServerConfig) *Snapshot {
	for {
		prev := h.current.Load()
		next := &Snapshot{
			Version:  prev.Version + 1,
			LoadedAt: time.Now(),
			Config:   clone(cfg),
		}

		if h.current.CompareAndSwap(prev, next) {
			h.notify(next)
			return next
		}
	}
}

func (h *Holder) OnChange(fn ChangeFunc) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.listeners = append(h.listeners, fn)
}

// Watch reloads the configuration whenever viper reports a change of the
// config file. It returns false if no config file is in use.
func (h *Holder) Watch(fn WatchFunc) bool {
	if viper.ConfigFileUsed() == "" {
		return false
	}

	viper.OnConfigChange(func(event fsnotify.Event) {
		snapshot, err := h.Reload()
		if fn != nil {
			fn(event, snapshot, err)
		}
	})
	viper.WatchConfig()

	return true
}

// Reload loads and validates the configuration again; on failure the active
// snapshot stays in place.
func (h *Holder) Reload() (*Snapshot, error) {
	cfg, err := h.load()
	if err != nil {
		return h.Current(), err
	}
	return h.Swap(cfg), nil
}

// notify delivers next to every listener, paired with the snapshot delivered
// before it. Snapshots older than the last delivered one are dropped, so
// listeners never move back to an outdated configuration. Listeners must not
// call Swap.
func (h *Holder) notify(next *Snapshot) {
	h.notifyMutex.Lock()
	defer h.notifyMutex.Unlock()

	prev := h.notified
	if next.Version <= prev.Version {
		return
	}
	h.notified = next

	h.mutex.Lock()
	listeners := slices.Clone(h.listeners)
	h.mutex.Unlock()

	for _, fn := range listeners {
		fn(prev, next)
	}
}

func clone(cfg *BaseServerConfig) BaseServerConfig {
	copied := *cfg
	copied.API.Tokens = slices.Clone(cfg.API.Tokens)
	return copied
}
