package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/mwantia/fabric/pkg/container"
	"github.com/mwantia/imghost/internal/api"
	config "github.com/mwantia/imghost/internal/config/server"
	"github.com/mwantia/imghost/pkg/backup"
	"github.com/mwantia/imghost/pkg/db/store"
	"github.com/mwantia/imghost/pkg/log"
	"github.com/mwantia/imghost/pkg/metrics"
	"github.com/mwantia/imghost/pkg/reconcile"
	"github.com/mwantia/imghost/pkg/storage"
	"github.com/mwantia/imghost/pkg/transcode"
	"github.com/mwantia/imghost/pkg/upload"
	"github.com/spf13/afero"
)

type ImghostAgent struct {
	mutex sync.RWMutex

	holder *config.Holder
	fs     afero.Fs
	sc     *container.ServiceContainer
	log    log.LoggerService

	selector *storage.Selector
	metrics  *metrics.Metrics
}

func NewAgent(cfg *config.BaseServerConfig) *ImghostAgent {
	return &ImghostAgent{
		holder: config.NewHolder(cfg),
		fs:     afero.NewOsFs(),
		sc:     container.NewServiceContainer(),
		log:    log.NewLoggerService("imghost", cfg.Log),
	}
}

func (ia *ImghostAgent) setupServices() error {
	cfg := ia.holder.Current().Config

	dataDir := cfg.Metadata.DataDir()
	if err := ia.fs.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory '%s': %w", dataDir, err)
	}

	st, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path:        cfg.Metadata.SQLite.Path,
		BusyTimeout: cfg.Metadata.SQLite.BusyTimeoutDuration(),
	})
	if err != nil {
		return err
	}

	local, err := storage.NewLocal(cfg.Storage.Local.Root)
	if err != nil {
		return fmt.Errorf("failed to prepare local storage: %w", err)
	}

	ia.metrics = metrics.New()
	ia.metrics.ConfigVersion(ia.holder.Current().Version)
	ia.selector = storage.NewSelector(local, ia.remote(cfg.Storage.Remote), ia.log.Named("storage"), ia.metrics)

	reconciler := reconcile.New(st, ia.selector, ia.log.Named("reconcile"), ia.metrics)
	uploads := upload.NewService(st, ia.selector, transcode.New(ia.log.Named("transcode")), ia.log.Named("upload"), ia.metrics)
	archive := backup.New(ia.fs, dataDir)

	errs := container.Errors{}

	ia.log.Debug("Registering 'LoggerService'...")
	errs.Add(container.Register[log.LoggerServiceImpl](ia.sc,
		container.With[log.LoggerService](),
		container.WithInstance(ia.log)))

	ia.log.Debug("Registering 'MetadataStore'...")
	errs.Add(container.Register[*store.SQLiteStore](ia.sc,
		container.AsSingleton(),
		container.With[store.MetadataStore](),
		container.WithInstance(st)))

	errs.Add(container.Register[*config.Holder](ia.sc, container.WithInstance(ia.holder)))
	errs.Add(container.Register[*metrics.Metrics](ia.sc, container.WithInstance(ia.metrics)))
	errs.Add(container.Register[*storage.Selector](ia.sc, container.WithInstance(ia.selector)))
	errs.Add(container.Register[*reconcile.Reconciler](ia.sc, container.WithInstance(reconciler)))
	errs.Add(container.Register[*upload.Service](ia.sc, container.WithInstance(uploads)))
	errs.Add(container.Register[*backup.Archive](ia.sc, container.WithInstance(archive)))

	// The logger processor must be known before any service using `fabric:"logger"` is registered.
	ia.sc.AddTagProcessor(log.NewLoggerTagProcessor())

	ia.log.Debug("Registering 'Server'...")
	errs.Add(container.Register[*api.Server](ia.sc, container.AsSingleton()))

	return errs.Errors()
}

// remote builds the remote backend, or returns nil when it is disabled or broken.
func (ia *ImghostAgent) remote(cfg config.StorageRemoteConfig) storage.Backend {
	if !cfg.Configured() {
		return nil
	}

	remote, err := storage.NewRemote(cfg)
	if err != nil {
		ia.log.Warn("Remote storage disabled: %v", err)
		return nil
	}
	ia.log.Info("Remote storage enabled for bucket '%s'", cfg.Bucket)
	return remote
}

// applyConfig keeps runtime services in line with a newly published snapshot.
func (ia *ImghostAgent) applyConfig(prev, next *config.Snapshot) {
	ia.metrics.ConfigVersion(next.Version)

	if prev.Config.Storage.Remote != next.Config.Storage.Remote {
		ia.selector.SetRemote(ia.remote(next.Config.Storage.Remote))
	}
	if prev.Config.Storage.Local.Root != next.Config.Storage.Local.Root ||
		prev.Config.Metadata.SQLite.Path != next.Config.Metadata.SQLite.Path ||
		prev.Config.Server.Address != next.Config.Server.Address {
		ia.log.Warn("Changes to storage.local, metadata or server.address require a restart")
	}
}

func (ia *ImghostAgent) watchConfig(event fsnotify.Event, snapshot *config.Snapshot, err error) {
	if err != nil {
		ia.log.Error("Ignoring invalid configuration change in '%s': %v", event.Name, err)
		return
	}
	ia.log.Info("Reloaded configuration '%s' (version %d)", filepath.Base(event.Name), snapshot.Version)
}

// start resolves the store and the server; resolving runs their Init.
func (ia *ImghostAgent) start(ctx context.Context) (*api.Server, error) {
	ia.mutex.Lock()
	defer ia.mutex.Unlock()

	if err := ia.setupServices(); err != nil {
		return nil, err
	}

	st, err := container.Resolve[*store.SQLiteStore](ctx, ia.sc)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	archive, err := container.Resolve[*backup.Archive](ctx, ia.sc)
	if err != nil {
		return nil, err
	}
	if _, _, err := archive.ImportLegacy(ctx, st, ia.log.Named("backup")); err != nil {
		ia.log.Warn("Legacy import failed: %v", err)
	}

	ia.holder.OnChange(ia.applyConfig)
	if !ia.holder.Watch(ia.watchConfig) {
		ia.log.Debug("No configuration file in use, reloading is disabled")
	}

	server, err := container.Resolve[*api.Server](ctx, ia.sc)
	if err != nil {
		return nil, fmt.Errorf("failed to start http server: %w", err)
	}
	return server, nil
}

func (ia *ImghostAgent) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server, err := ia.start(ctx)
	if err != nil {
		return errors.Join(err, ia.shutdown())
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-server.Done():
	}

	return errors.Join(serveErr, ia.shutdown())
}

func (ia *ImghostAgent) shutdown() error {
	shutdown, cancel := context.WithTimeout(context.Background(), ia.holder.Current().Config.ShutdownDuration())
	defer cancel()

	if err := ia.sc.Cleanup(shutdown); err != nil {
		return fmt.Errorf("failed to complete service container cleanup: %w", err)
	}
	return nil
}
