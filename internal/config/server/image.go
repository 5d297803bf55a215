package server

import (
	"fmt"
	"strings"
)

type ImageServerConfig struct {
	WebPQuality      int   `mapstructure:"webp_quality"      yaml:"webp_quality"`
	AVIFQuality      int   `mapstructure:"avif_quality"      yaml:"avif_quality"`
	PNGOptimize      bool  `mapstructure:"png_optimize"      yaml:"png_optimize"`
	MaxUploadSize    int64 `mapstructure:"max_upload_size"   yaml:"max_upload_size"`
	TranscodeWorkers int   `mapstructure:"transcode_workers" yaml:"transcode_workers"`
}

type UploadServerConfig struct {
	// Order is the order tag convention used when files carry no explicit sequence
	Order string `mapstructure:"order" yaml:"order"`
}

func (cfg *ImageServerConfig) normalize() {
	cfg.WebPQuality = clampQuality(cfg.WebPQuality)
	cfg.AVIFQuality = clampQuality(cfg.AVIFQuality)
	if cfg.TranscodeWorkers <= 0 {
		cfg.TranscodeWorkers = 1
	}
}

func clampQuality(quality int) int {
	return max(10, min(100, quality))
}

func (cfg *UploadServerConfig) validate() error {
	switch strings.ToLower(cfg.Order) {
	case "", "ascending":
		cfg.Order = "ascending"
	case "reverse":
		cfg.Order = "reverse"
	default:
		return fmt.Errorf("upload.order '%s' must be ascending or reverse", cfg.Order)
	}
	return nil
}
