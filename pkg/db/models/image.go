package models

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Storage identifies the backend that holds an image's bytes
type Storage string

const (
	StorageLocal  Storage = "local"
	StorageRemote Storage = "remote"
)

// ParseStorage normalises a storage value. The legacy value "r2" is accepted as remote.
func ParseStorage(value string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "local":
		return StorageLocal, nil
	case "remote", "r2", "s3":
		return StorageRemote, nil
	}
	return "", fmt.Errorf("unknown storage '%s'", value)
}

func (s Storage) Valid() bool {
	return s == StorageLocal || s == StorageRemote
}

// Image represents one stored image, indexed by its backend-relative path
type Image struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"             json:"id,omitempty"`
	Filename     string    `gorm:"type:text;not null"                   json:"filename"`
	Path         string    `gorm:"type:text;not null;uniqueIndex"       json:"path"`
	UploadTime   time.Time `gorm:"not null;index"                       json:"uploadTime"`
	FileSize     int64     `gorm:"not null"                             json:"fileSize"`
	Storage      Storage   `gorm:"type:text;not null;default:local;index" json:"storage"`
	Format       string    `gorm:"type:text"                            json:"format"`
	URL          string    `gorm:"type:text"                            json:"url"`
	HTMLCode     string    `gorm:"type:text"                            json:"htmlCode"`
	MarkdownCode string    `gorm:"type:text"                            json:"markdownCode"`

	CreatedAt time.Time `gorm:"index" json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Indexed reports whether the image has been persisted to the metadata store.
func (i Image) Indexed() bool {
	return i.ID != 0
}

// Export returns a copy without the surrogate key, suitable for backups.
func (i Image) Export() Image {
	return Image{
		Filename:     i.Filename,
		Path:         i.Path,
		UploadTime:   i.UploadTime,
		FileSize:     i.FileSize,
		Storage:      i.Storage,
		Format:       i.Format,
		URL:          i.URL,
		HTMLCode:     i.HTMLCode,
		MarkdownCode: i.MarkdownCode,
	}
}

// FormatFromPath infers the image format from the file extension.
func FormatFromPath(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

// ContentType maps an image format to its mime type.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "avif":
		return "image/avif"
	}
	return "application/octet-stream"
}

// HTMLEmbed returns the html snippet stored alongside an image.
func HTMLEmbed(url, filename string) string {
	return fmt.Sprintf(`<img src="%s" alt="%s" />`, url, filename)
}

// MarkdownEmbed returns the markdown snippet stored alongside an image.
func MarkdownEmbed(url, alt string) string {
	return fmt.Sprintf("![%s](%s)", alt, url)
}
