// Package transcode converts uploaded images into the requested output format.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/log"
)

var (
	ErrUnsupported     = errors.New("unsupported image type")
	ErrAVIFUnavailable = errors.New("avif encoding requires ffmpeg")
)

type Format string

const (
	FormatOriginal Format = "original"
	FormatWebP     Format = "webp"
	FormatAVIF     Format = "avif"
)

func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatOriginal:
		return FormatOriginal, nil
	case FormatWebP:
		return FormatWebP, nil
	case FormatAVIF:
		return FormatAVIF, nil
	}
	return "", fmt.Errorf("%w: format '%s'", ErrUnsupported, value)
}

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/avif": true,
}

// Allowed reports whether uploads of this mime type are accepted.
func Allowed(contentType string) bool {
	mime, _, _ := strings.Cut(contentType, ";")
	return allowedContentTypes[strings.ToLower(strings.TrimSpace(mime))]
}

type Options struct {
	WebPQuality int
	AVIFQuality int
	PNGOptimize bool
}

type Result struct {
	Data []byte
	// Ext is the lowercase extension of Data without the leading dot
	Ext         string
	ContentType string
}

type Transcoder struct {
	log    log.LoggerService
	ffmpeg string
}

func New(logger log.LoggerService) *Transcoder {
	ffmpeg, err := lookupFFmpeg()
	if err != nil {
		logger.Warn("ffmpeg not found in PATH, avif output is disabled: %v", err)
	}

	return &Transcoder{
		log:    logger,
		ffmpeg: ffmpeg,
	}
}

func (t *Transcoder) AVIFAvailable() bool {
	return t.ffmpeg != ""
}

// Transcode converts data with the given source extension to target. The
// payload is only re-encoded when the source differs from the target, or when
// PNG optimization applies to an original PNG.
func (t *Transcoder) Transcode(ctx context.Context, data []byte, sourceExt string, target Format, opts Options) (*Result, error) {
	source := strings.TrimPrefix(strings.ToLower(sourceExt), ".")
	if source == "" || models.ContentType(source) == "application/octet-stream" {
		return nil, fmt.Errorf("%w: extension '%s'", ErrUnsupported, sourceExt)
	}

	switch target {
	case FormatOriginal:
		if source == "png" && opts.PNGOptimize {
			return t.optimizePNG(data)
		}
		return result(data, source), nil

	case FormatWebP:
		if source == "webp" {
			return result(data, source), nil
		}
		img, err := t.decode(ctx, data, source)
		if err != nil {
			return nil, err
		}
		return t.encodeWebP(img, opts.WebPQuality)

	case FormatAVIF:
		if source == "avif" {
			return result(data, source), nil
		}
		if !t.AVIFAvailable() {
			return nil, ErrAVIFUnavailable
		}
		img, err := t.decode(ctx, data, source)
		if err != nil {
			return nil, err
		}
		encoded, err := t.encodeAVIF(ctx, img, opts.AVIFQuality)
		if err != nil {
			return nil, err
		}
		return result(encoded, "avif"), nil
	}

	return nil, fmt.Errorf("%w: format '%s'", ErrUnsupported, target)
}

func (t *Transcoder) decode(ctx context.Context, data []byte, source string) (image.Image, error) {
	switch source {
	case "webp":
		img, err := webp.Decode(bytes.NewReader(data), &decoder.Options{})
		if err != nil {
			return nil, fmt.Errorf("failed to decode webp: %w", err)
		}
		return img, nil

	case "avif":
		if !t.AVIFAvailable() {
			return nil, ErrAVIFUnavailable
		}
		return t.decodeAVIF(ctx, data)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", source, err)
	}
	return img, nil
}

func (t *Transcoder) encodeWebP(img image.Image, quality int) (*Result, error) {
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	if err != nil {
		return nil, fmt.Errorf("failed to create webp encoder options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode webp: %w", err)
	}
	return result(buf.Bytes(), "webp"), nil
}

func (t *Transcoder) optimizePNG(data []byte) (*Result, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode png: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}

	if buf.Len() >= len(data) {
		t.log.Debug("Optimized png is not smaller (%d >= %d bytes), keeping original", buf.Len(), len(data))
		return result(data, "png"), nil
	}
	return result(buf.Bytes(), "png"), nil
}

func result(data []byte, ext string) *Result {
	return &Result{
		Data:        data,
		Ext:         ext,
		ContentType: models.ContentType(ext),
	}
}
