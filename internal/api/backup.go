package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mwantia/imghost/pkg/backup"
	"github.com/mwantia/imghost/pkg/db/store"
	"github.com/mwantia/imghost/pkg/storage"
)

// export streams every record as a JSON attachment.
func (s *Server) export(c *gin.Context) {
	images, err := s.Store.ExportAll(c.Request.Context())
	if err != nil {
		s.fail(c, "export", err)
		return
	}

	name := fmt.Sprintf("images_backup_%d.json", time.Now().UnixMilli())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Header("Content-Type", "application/json")
	c.Status(http.StatusOK)

	if err := backup.Encode(c.Writer, images); err != nil {
		s.Log.Error("Failed to stream export: %v", err)
	}
}

// backup writes a backup file into the data directory.
func (s *Server) backup(c *gin.Context) {
	name, count, err := s.Archive.Write(c.Request.Context(), s.Store)
	if err != nil {
		s.fail(c, "backup", err)
		return
	}

	s.Log.Info("Wrote backup '%s' with %d records", name, count)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"backupPath": name,
		"count":      count,
	})
}

// importImages imports a JSON body, or the backup file named by ?file= from
// the data directory.
func (s *Server) importImages(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		result *store.ImportResult
		err    error
	)
	if name := c.Query("file"); name != "" {
		result, err = s.Archive.ImportFile(ctx, s.Store, name)
	} else {
		result, err = s.importBody(ctx, c)
	}
	if err != nil {
		s.fail(c, "import", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"imported": result.Imported,
		"skipped":  result.Skipped,
		"errors":   result.Errors,
		"failures": result.Failures,
	})
}

func (s *Server) importBody(ctx context.Context, c *gin.Context) (*store.ImportResult, error) {
	images, err := backup.Decode(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return s.Store.BulkImport(ctx, images)
}

type prober interface {
	Probe(ctx context.Context) error
}

func (s *Server) testRemote(c *gin.Context) {
	remote := s.Selector.Remote()
	if remote == nil || !remote.Available() {
		s.fail(c, "test remote", fmt.Errorf("remote storage: %w", storage.ErrBackendUnavailable))
		return
	}

	p, ok := remote.(prober)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "remote backend does not support probing"})
		return
	}

	if err := p.Probe(c.Request.Context()); err != nil {
		s.fail(c, "test remote", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "remote storage is reachable"})
}
