package transcode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
)

func lookupFFmpeg() (string, error) {
	return exec.LookPath("ffmpeg")
}

// crf maps a 10..100 quality onto the av1 constant rate factor (63 worst, 0 lossless).
func crf(quality int) int {
	quality = max(10, min(100, quality))
	return 63 - (quality*63)/100
}

// encodeAVIF pipes img as png into ffmpeg. The muxer needs a seekable output,
// so the result goes through a temporary file.
func (t *Transcoder) encodeAVIF(ctx context.Context, img image.Image, quality int) ([]byte, error) {
	out, err := os.CreateTemp("", "imghost-*.avif")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary avif file: %w", err)
	}
	name := out.Name()
	out.Close()
	defer os.Remove(name)

	var input bytes.Buffer
	if err := png.Encode(&input, img); err != nil {
		return nil, fmt.Errorf("failed to encode intermediate png: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-f", "image2pipe", "-vcodec", "png", "-i", "pipe:0",
		// av1 with yuv420p needs even dimensions
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", "libaom-av1", "-still-picture", "1",
		"-crf", fmt.Sprint(crf(quality)),
		"-pix_fmt", "yuv420p",
		"-frames:v", "1",
		"-y", name)
	cmd.Stdin = &input

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	t.log.Debug("Starting ffmpeg avif encode to '%s' with crf %d", name, crf(quality))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg avif encode failed: %w: %s", err, stderr.String())
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read avif output: %w", err)
	}
	return data, nil
}

// decodeAVIF lets ffmpeg turn an avif payload into a png stream.
func (t *Transcoder) decodeAVIF(ctx context.Context, data []byte) (image.Image, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, t.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png", "pipe:1")
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg avif decode failed: %w: %s", err, stderr.String())
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}
	return img, nil
}
