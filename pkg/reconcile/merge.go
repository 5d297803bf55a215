// Package reconcile presents the metadata index and the local storage tree as
// one consistent set of images.
package reconcile

import (
	"path"
	"slices"
	"strings"

	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/storage"
)

// Compare orders images newest first; equal upload times fall back to the path.
// The metadata store lists with the same order.
func Compare(a, b models.Image) int {
	if c := b.UploadTime.Compare(a.UploadTime); c != 0 {
		return c
	}
	return strings.Compare(a.Path, b.Path)
}

// Merge unions indexed records with discovered ones. Every path appears once;
// an indexed record always wins over a discovered entry for the same path.
func Merge(indexed, discovered []models.Image) []models.Image {
	seen := make(map[string]struct{}, len(indexed)+len(discovered))
	merged := make([]models.Image, 0, len(indexed)+len(discovered))

	for _, group := range [][]models.Image{indexed, discovered} {
		for _, image := range group {
			if _, ok := seen[image.Path]; ok {
				continue
			}
			seen[image.Path] = struct{}{}
			merged = append(merged, image)
		}
	}

	slices.SortStableFunc(merged, Compare)
	return merged
}

// Synthesize builds the transient record for an unindexed local file.
func Synthesize(info storage.FileInfo, url string) models.Image {
	filename := path.Base(info.Key)
	return models.Image{
		Filename:     filename,
		Path:         info.Key,
		UploadTime:   info.ModTime.UTC(),
		FileSize:     info.Size,
		Storage:      models.StorageLocal,
		Format:       models.FormatFromPath(info.Key),
		URL:          url,
		HTMLCode:     models.HTMLEmbed(url, filename),
		MarkdownCode: models.MarkdownEmbed(url, filename),
	}
}

// Filter keeps images stored on kind. An empty kind keeps everything.
func Filter(images []models.Image, kind models.Storage) []models.Image {
	if kind == "" {
		return images
	}

	filtered := make([]models.Image, 0, len(images))
	for _, image := range images {
		if image.Storage == kind {
			filtered = append(filtered, image)
		}
	}
	return filtered
}
