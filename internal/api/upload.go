package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mwantia/imghost/pkg/naming"
	"github.com/mwantia/imghost/pkg/storage"
	"github.com/mwantia/imghost/pkg/transcode"
	"github.com/mwantia/imghost/pkg/upload"
)

const (
	uploadField   = "images"
	maxBatchFiles = 20
)

func (s *Server) upload(c *gin.Context) {
	snapshot := s.Holder.Current()
	cfg := snapshot.Config

	if cfg.Image.MaxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.Image.MaxUploadSize*maxBatchFiles)
	}
	form, err := c.MultipartForm()
	if err != nil {
		s.fail(c, "upload", fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	formatValue := c.PostForm("format")
	if formatValue == "" {
		formatValue = cfg.API.DefaultFormat
	}
	format, err := transcode.ParseFormat(formatValue)
	if err != nil {
		s.fail(c, "upload", err)
		return
	}

	preference, err := storage.ParsePreference(c.PostForm("storage"))
	if err != nil {
		s.fail(c, "upload", fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	files, err := readFiles(form.File[uploadField], form.Value["sequence"])
	if err != nil {
		s.fail(c, "upload", err)
		return
	}

	batch, err := s.Uploads.Upload(c.Request.Context(), upload.Request{
		Files:     files,
		Format:    format,
		Storage:   preference,
		Namespace: upload.NamespaceAPI,
		BaseURL:   baseURL(c, cfg.Server),
		Time:      time.Now(),
		Settings:  upload.SettingsFrom(&cfg),
	})
	if err != nil {
		s.fail(c, "upload", err)
		return
	}

	if picgo, _ := strconv.ParseBool(c.PostForm("picgo")); picgo {
		c.JSON(http.StatusOK, gin.H{"success": batch.Uploaded > 0, "result": batch.URLs()})
		return
	}

	status := http.StatusOK
	if batch.Uploaded == 0 {
		status = statusFor(batch.Results[0].Err)
	}
	c.JSON(status, gin.H{
		"success":  batch.Uploaded > 0,
		"uploaded": batch.Uploaded,
		"failed":   batch.Failed,
		"images":   batch.Images(),
		"results":  batch.Results,
	})
}

// readFiles loads the multipart files; sequences[i], when present, is the
// client assigned position of file i.
func readFiles(headers []*multipart.FileHeader, sequences []string) ([]upload.File, error) {
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: no files in field '%s'", upload.ErrEmptyBatch, uploadField)
	}
	if len(headers) > maxBatchFiles {
		return nil, fmt.Errorf("%w: at most %d files per upload", errBadRequest, maxBatchFiles)
	}

	files := make([]upload.File, 0, len(headers))
	seen := make(map[int]bool, len(headers))
	for i, header := range headers {
		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open '%s': %w", header.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read '%s': %w", header.Filename, err)
		}

		file := upload.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}
		if i < len(sequences) && sequences[i] != "" {
			seq, err := strconv.Atoi(sequences[i])
			if err != nil || seq < 1 || seq > naming.MaxTag {
				return nil, fmt.Errorf("%w: sequence '%s' must be a number between 1 and %d", errBadRequest, sequences[i], naming.MaxTag)
			}
			if seen[seq] {
				return nil, fmt.Errorf("%w: sequence %d is used more than once", errBadRequest, seq)
			}
			seen[seq] = true
			file.Sequence = seq
		}
		files = append(files, file)
	}
	return files, nil
}
