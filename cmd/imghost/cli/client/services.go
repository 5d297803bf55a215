package client

import (
	"context"
	"fmt"
	"strings"

	config "github.com/mwantia/imghost/internal/config/server"
	"github.com/mwantia/imghost/pkg/backup"
	"github.com/mwantia/imghost/pkg/db/store"
	"github.com/mwantia/imghost/pkg/log"
	"github.com/mwantia/imghost/pkg/reconcile"
	"github.com/mwantia/imghost/pkg/storage"
	"github.com/spf13/afero"
)

// services wires the store and the reconciler for offline maintenance,
// without starting the http server.
type services struct {
	cfg        *config.BaseServerConfig
	log        log.LoggerService
	store      *store.SQLiteStore
	reconciler *reconcile.Reconciler
	archive    *backup.Archive
}

// openServices connects to the store, applying pending migrations when
// migrate is set.
func openServices(ctx context.Context, migrate bool) (*services, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load server configuration: %w", err)
	}
	logger := log.NewLoggerService("imghost", cfg.Log)

	fsys := afero.NewOsFs()
	if err := fsys.MkdirAll(cfg.Metadata.DataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path:        cfg.Metadata.SQLite.Path,
		BusyTimeout: cfg.Metadata.SQLite.BusyTimeoutDuration(),
	})
	if err != nil {
		return nil, err
	}
	if err := st.Connect(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to connect to '%s': %w", cfg.Metadata.SQLite.Path, err)
	}
	if migrate {
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
	}

	local, err := storage.NewLocal(cfg.Storage.Local.Root)
	if err != nil {
		st.Close()
		return nil, err
	}

	var remote storage.Backend
	if cfg.Storage.Remote.Configured() {
		if r, err := storage.NewRemote(cfg.Storage.Remote); err != nil {
			logger.Warn("Remote storage disabled: %v", err)
		} else {
			remote = r
		}
	}

	selector := storage.NewSelector(local, remote, logger.Named("storage"), nil)
	return &services{
		cfg:        cfg,
		log:        logger,
		store:      st,
		reconciler: reconcile.New(st, selector, logger.Named("reconcile"), nil),
		archive:    backup.New(fsys, cfg.Metadata.DataDir()),
	}, nil
}

func (s *services) Close() error {
	return s.store.Close()
}

// baseURL is the prefix used for links to local images outside of a request.
func (s *services) baseURL() string {
	if s.cfg.Server.PublicURL != "" {
		return strings.TrimRight(s.cfg.Server.PublicURL, "/")
	}

	address := s.cfg.Server.Address
	if strings.HasPrefix(address, ":") {
		address = "localhost" + address
	}
	return "http://" + address
}
