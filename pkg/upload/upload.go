// Package upload places a batch of uploaded images: transcode, name, write and index.
package upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/db/store"
	"github.com/mwantia/imghost/pkg/log"
	"github.com/mwantia/imghost/pkg/metrics"
	"github.com/mwantia/imghost/pkg/naming"
	"github.com/mwantia/imghost/pkg/storage"
	"github.com/mwantia/imghost/pkg/transcode"
	"golang.org/x/sync/errgroup"
)

// NamespaceAPI keeps token authenticated uploads in their own subtree.
const NamespaceAPI = "api"

var (
	ErrEmptyBatch  = errors.New("no files in upload")
	ErrTooLarge    = errors.New("file exceeds the upload size limit")
	ErrContentType = errors.New("file type is not allowed")
)

// File is one uploaded file as received from the client
type File struct {
	Name        string
	ContentType string
	Data        []byte
	// Sequence is the optional 1-based position the client assigned
	Sequence int
}

type Request struct {
	Files     []File
	Format    transcode.Format
	Storage   storage.Preference
	Namespace string
	BaseURL   string
	// Time is shared by every file of the batch; zero means now
	Time     time.Time
	Settings Settings
}

type FileResult struct {
	OriginalName string        `json:"originalName"`
	Image        *models.Image `json:"image,omitempty"`
	Error        string        `json:"error,omitempty"`

	Err error `json:"-"`
}

type Batch struct {
	UploadTime time.Time     `json:"uploadTime"`
	Target     string        `json:"target"`
	Uploaded   int           `json:"uploaded"`
	Failed     int           `json:"failed"`
	Results    []*FileResult `json:"results"`
}

// URLs lists the retrieval urls of the stored files in batch order.
func (b *Batch) URLs() []string {
	urls := make([]string, 0, b.Uploaded)
	for _, result := range b.Results {
		if result.Image != nil {
			urls = append(urls, result.Image.URL)
		}
	}
	return urls
}

func (b *Batch) Images() []models.Image {
	images := make([]models.Image, 0, b.Uploaded)
	for _, result := range b.Results {
		if result.Image != nil {
			images = append(images, *result.Image)
		}
	}
	return images
}

func (b *Batch) Err() error {
	if b.Failed == 0 {
		return nil
	}
	return store.PartialBatch(b.Failed, len(b.Results))
}

type Service struct {
	store      store.MetadataStore
	selector   *storage.Selector
	transcoder *transcode.Transcoder
	log        log.LoggerService
	metrics    *metrics.Metrics
}

func NewService(st store.MetadataStore, selector *storage.Selector, transcoder *transcode.Transcoder, logger log.LoggerService, m *metrics.Metrics) *Service {
	return &Service{
		store:      st,
		selector:   selector,
		transcoder: transcoder,
		log:        logger,
		metrics:    m,
	}
}

type prepared struct {
	result *transcode.Result
	err    error
}

// Upload stores every file of the request. The returned error is only set
// when the batch cannot be placed at all, e.g. remote storage was requested
// but is unavailable. Per file failures are reported in the batch results.
func (s *Service) Upload(ctx context.Context, req Request) (*Batch, error) {
	if len(req.Files) == 0 {
		return nil, ErrEmptyBatch
	}

	decision, err := s.selector.Resolve(req.Storage, req.Settings.DefaultStorage)
	if err != nil {
		return nil, err
	}

	batchTime := req.Time
	if batchTime.IsZero() {
		batchTime = time.Now()
	}

	allocator := naming.NewAllocator(req.Settings.Order)
	sequences := make([]int, len(req.Files))
	for i, file := range req.Files {
		sequences[i] = file.Sequence
	}
	tags, err := allocator.OrderTags(len(req.Files), sequences)
	if err != nil {
		return nil, err
	}
	dir := naming.DateDir(req.Namespace, batchTime)

	files := s.prepare(ctx, req)

	batch := &Batch{
		UploadTime: batchTime.UTC(),
		Target:     string(decision.Target),
		Results:    make([]*FileResult, len(req.Files)),
	}

	for i, file := range req.Files {
		result := &FileResult{OriginalName: file.Name}
		batch.Results[i] = result

		if files[i].err != nil {
			result.Err = files[i].err
		} else {
			result.Image, result.Err = s.place(ctx, allocator, decision, dir, tags[i], batchTime, req.BaseURL, files[i].result)
		}

		if result.Err != nil {
			s.log.Warn("Upload of '%s' failed: %v", file.Name, result.Err)
			result.Error = result.Err.Error()
			batch.Failed++
			s.metrics.UploadFailed()
			continue
		}

		batch.Uploaded++
		s.metrics.Uploaded(string(result.Image.Storage), result.Image.FileSize)
	}

	s.log.Info("Stored %d of %d files in '%s' (target %s)", batch.Uploaded, len(req.Files), dir, decision.Target)
	return batch, nil
}

// prepare validates and transcodes every file on a bounded pool of workers.
// A failing file never cancels the others.
func (s *Service) prepare(ctx context.Context, req Request) []prepared {
	files := make([]prepared, len(req.Files))

	var g errgroup.Group
	g.SetLimit(max(1, req.Settings.Workers))

	for i, file := range req.Files {
		g.Go(func() error {
			files[i].result, files[i].err = s.convert(ctx, file, req.Format, req.Settings)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	return files
}

func (s *Service) convert(ctx context.Context, file File, format transcode.Format, settings Settings) (*transcode.Result, error) {
	if settings.MaxSize > 0 && int64(len(file.Data)) > settings.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(file.Data), settings.MaxSize)
	}

	contentType := file.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(file.Data)
		if !transcode.Allowed(contentType) {
			contentType = models.ContentType(models.FormatFromPath(file.Name))
		}
	}
	if !transcode.Allowed(contentType) {
		return nil, fmt.Errorf("%w: '%s'", ErrContentType, contentType)
	}

	ext := models.FormatFromPath(file.Name)
	if models.ContentType(ext) != normalizeContentType(contentType) {
		ext = extension(contentType)
	}

	return s.transcoder.Transcode(ctx, file.Data, ext, format, settings.Transcode)
}

func (s *Service) place(ctx context.Context, allocator *naming.Allocator, decision storage.Decision, dir, tag string, batchTime time.Time, baseURL string, file *transcode.Result) (*models.Image, error) {
	placement, err := allocator.Allocate(ctx, dir, tag, file.Ext, func(ctx context.Context, key string) (bool, error) {
		_, err := s.store.FindByPath(ctx, key)
		switch {
		case err == nil:
			return true, nil
		case !errors.Is(err, store.ErrNotFound):
			return false, err
		}
		return s.selector.Exists(ctx, decision, key)
	})
	if err != nil {
		return nil, err
	}

	backend, err := s.selector.Put(ctx, decision, placement.Path, file.Data, storage.PutOptions{
		ContentType: file.ContentType,
		ModTime:     batchTime,
	})
	if err != nil {
		return nil, err
	}

	url := backend.URL(baseURL, placement.Path)
	image := &models.Image{
		Filename:     placement.Filename,
		Path:         placement.Path,
		UploadTime:   batchTime.UTC(),
		FileSize:     int64(len(file.Data)),
		Storage:      backend.Kind(),
		Format:       file.Ext,
		URL:          url,
		HTMLCode:     models.HTMLEmbed(url, placement.Filename),
		MarkdownCode: models.MarkdownEmbed(url, ""),
	}

	if _, err := s.store.Insert(ctx, image); err != nil {
		// the object stays in place and shows up as unindexed until migrated
		s.log.Error("Stored '%s' on %s storage but failed to index it: %v", image.Path, image.Storage, err)
		return nil, fmt.Errorf("failed to index '%s': %w", image.Path, err)
	}
	return image, nil
}

func normalizeContentType(contentType string) string {
	mime, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mime))
}

func extension(contentType string) string {
	switch normalizeContentType(contentType) {
	case "image/jpeg":
		return "jpg"
	default:
		return path.Base(normalizeContentType(contentType))
	}
}
