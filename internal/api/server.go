package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	config "github.com/mwantia/imghost/internal/config/server"
	"github.com/mwantia/imghost/pkg/backup"
	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/db/store"
	"github.com/mwantia/imghost/pkg/log"
	"github.com/mwantia/imghost/pkg/metrics"
	"github.com/mwantia/imghost/pkg/reconcile"
	"github.com/mwantia/imghost/pkg/storage"
	"github.com/mwantia/imghost/pkg/upload"
)

// Server exposes uploads, listings and maintenance over HTTP.
// Dependencies are injected by the service container.
type Server struct {
	Holder     *config.Holder        `fabric:"inject"`
	Store      store.MetadataStore   `fabric:"inject"`
	Selector   *storage.Selector     `fabric:"inject"`
	Reconciler *reconcile.Reconciler `fabric:"inject"`
	Uploads    *upload.Service       `fabric:"inject"`
	Archive    *backup.Archive       `fabric:"inject"`
	Metrics    *metrics.Metrics      `fabric:"inject"`
	Log        log.LoggerService     `fabric:"logger:http"`

	engine *gin.Engine
	http   *http.Server
	done   chan error
}

func (s *Server) Init(ctx context.Context) error {
	cfg := s.Holder.Current().Config.Server

	s.http = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan error, 1)

	go func() {
		s.Log.Info("Listening on '%s'", cfg.Address)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Error("HTTP server stopped: %v", err)
			s.done <- err
		}
		close(s.done)
	}()

	return nil
}

func (s *Server) Cleanup(ctx context.Context) error {
	if s.http == nil {
		return nil
	}

	s.Log.Info("Shutting down HTTP server...")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}

// Done is closed once the HTTP server stopped; it carries the error when
// serving failed.
func (s *Server) Done() <-chan error {
	return s.done
}

// Handler builds the gin engine on first use.
func (s *Server) Handler() http.Handler {
	if s.engine == nil {
		s.engine = s.routes()
	}
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	engine := gin.New()
	engine.Use(RequestLogger(s.Log))
	engine.Use(gin.CustomRecovery(HandlePanics(s.Log)))
	engine.MaxMultipartMemory = 32 << 20

	engine.GET("/health", s.health)
	engine.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	engine.GET("/i/*path", s.serveImage)

	api := engine.Group("/api", s.requireToken())
	{
		api.POST("/upload", s.upload)

		api.GET("/images", s.listImages)
		api.GET("/images/paged", s.listImagesPaged)
		api.POST("/images/delete", s.deleteImages)
		api.POST("/images/migrate", s.migrateImages)
		api.POST("/images/prune", s.pruneImages)

		api.GET("/storage-stats", s.storageStats)
		api.GET("/system-status", s.systemStatus)

		api.GET("/export", s.export)
		api.POST("/backup", s.backup)
		api.POST("/import", s.importImages)

		api.POST("/test-remote", s.testRemote)
	}

	return engine
}

func (s *Server) health(c *gin.Context) {
	if err := s.Store.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"configVersion": s.Holder.Current().Version,
	})
}

func (s *Server) serveImage(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("path"), "/")

	file, info, err := s.Selector.Local().Open(key)
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	defer file.Close()

	c.Header("Content-Type", models.ContentType(models.FormatFromPath(key)))
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), file)
}
