package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/reconcile"
)

func storageFilter(c *gin.Context) (models.Storage, error) {
	value := c.Query("storage")
	if value == "" || value == "all" {
		return "", nil
	}

	kind, err := models.ParseStorage(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return kind, nil
}

func intQuery(c *gin.Context, name string) (int, error) {
	value := c.Query(name)
	if value == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: '%s' must be a positive number", errBadRequest, name)
	}
	return n, nil
}

func (s *Server) listImages(c *gin.Context) {
	filter, err := storageFilter(c)
	if err != nil {
		s.fail(c, "list images", err)
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		s.fail(c, "list images", err)
		return
	}

	images, err := s.Reconciler.List(c.Request.Context(), baseURL(c, s.Holder.Current().Config.Server), limit, filter)
	if err != nil {
		s.fail(c, "list images", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "images": images})
}

func (s *Server) listImagesPaged(c *gin.Context) {
	filter, err := storageFilter(c)
	if err != nil {
		s.fail(c, "list images", err)
		return
	}
	page, err := intQuery(c, "page")
	if err != nil {
		s.fail(c, "list images", err)
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		s.fail(c, "list images", err)
		return
	}

	result, err := s.Reconciler.ListPaged(c.Request.Context(), baseURL(c, s.Holder.Current().Config.Server), page, limit, filter)
	if err != nil {
		s.fail(c, "list images", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"images":  result.Items,
		"pagination": gin.H{
			"total":      result.Total,
			"page":       result.Page,
			"limit":      result.PageSize,
			"totalPages": result.TotalPages,
		},
	})
}

type deleteRequest struct {
	Images []reconcile.Target `json:"images"`
}

func (s *Server) deleteImages(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Images == nil {
		s.fail(c, "delete images", fmt.Errorf("%w: expected {\"images\":[{\"storage\",\"path\"}]}", errBadRequest))
		return
	}

	result, err := s.Reconciler.Delete(c.Request.Context(), req.Images)
	if err != nil {
		s.fail(c, "delete images", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (s *Server) migrateImages(c *gin.Context) {
	result, err := s.Reconciler.Migrate(c.Request.Context(), baseURL(c, s.Holder.Current().Config.Server))
	if err != nil {
		s.fail(c, "migrate images", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"migratedCount": result.Migrated,
		"errorCount":    result.Errors,
		"failures":      result.Failures,
	})
}

func (s *Server) pruneImages(c *gin.Context) {
	includeRemote, _ := strconv.ParseBool(c.Query("remote"))

	result, err := s.Reconciler.PruneMissing(c.Request.Context(), includeRemote)
	if err != nil {
		s.fail(c, "prune images", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (s *Server) storageStats(c *gin.Context) {
	stats, err := s.Reconciler.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, "storage stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

func (s *Server) systemStatus(c *gin.Context) {
	status, err := s.Reconciler.Status(c.Request.Context())
	if err != nil {
		s.fail(c, "system status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": status})
}
