package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mwantia/imghost/pkg/db/store"
	"github.com/mwantia/imghost/pkg/naming"
	"github.com/mwantia/imghost/pkg/storage"
	"github.com/mwantia/imghost/pkg/transcode"
	"github.com/mwantia/imghost/pkg/upload"
)

// errBadRequest marks errors caused by invalid client input.
var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, upload.ErrEmptyBatch),
		errors.Is(err, upload.ErrContentType),
		errors.Is(err, naming.ErrInvalidSequence),
		errors.Is(err, transcode.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrConstraintViolation):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrTransientBackend):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, operation string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Log.Error("%s failed: %v", operation, err)
	} else {
		s.Log.Debug("%s rejected: %v", operation, err)
	}

	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": err.Error(),
	})
}
