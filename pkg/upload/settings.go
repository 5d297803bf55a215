package upload

import (
	config "github.com/mwantia/imghost/internal/config/server"
	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/naming"
	"github.com/mwantia/imghost/pkg/transcode"
)

// Settings is the part of the configuration one batch is processed with
type Settings struct {
	DefaultStorage models.Storage
	Order          naming.Order
	MaxSize        int64
	Workers        int
	Transcode      transcode.Options
}

// SettingsFrom copies the upload relevant values out of a configuration snapshot.
func SettingsFrom(cfg *config.BaseServerConfig) Settings {
	kind, err := models.ParseStorage(cfg.Storage.Default)
	if err != nil {
		kind = models.StorageLocal
	}
	order, err := naming.ParseOrder(cfg.Upload.Order)
	if err != nil {
		order = naming.OrderAscending
	}

	return Settings{
		DefaultStorage: kind,
		Order:          order,
		MaxSize:        cfg.Image.MaxUploadSize,
		Workers:        cfg.Image.TranscodeWorkers,
		Transcode: transcode.Options{
			WebPQuality: cfg.Image.WebPQuality,
			AVIFQuality: cfg.Image.AVIFQuality,
			PNGOptimize: cfg.Image.PNGOptimize,
		},
	}
}
