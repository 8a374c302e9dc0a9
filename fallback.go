package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoFallbackImage is returned by GetStream when no image path is set.
var ErrNoFallbackImage = errors.New("no fallback image configured")

// Defaults for the audio-only picture.
const (
	DefaultFallbackWidth  = 1280
	DefaultFallbackHeight = 720
	DefaultFallbackFPS    = 1
)

// FallbackConfig configures a FallbackImageProvider.
type FallbackConfig struct {
	// Path is a local file or http(s) URL of a PNG, JPEG or WebP image.
	Path   string
	Images *ImageCache // default: a private cache
	Width  int
	Height int
	FPS    int
	Logger *slog.Logger
}

// FallbackImageProvider supplies the video sent in audio-only mode: a still
// image letterboxed to a fixed size and repeated at a low frame rate.
type FallbackImageProvider struct {
	cfg    FallbackConfig
	logger *slog.Logger
}

// NewFallbackImageProvider returns a provider for cfg.Path.
func NewFallbackImageProvider(cfg FallbackConfig) *FallbackImageProvider {
	if cfg.Images == nil {
		cfg.Images = NewImageCache(nil)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = DefaultFallbackWidth, DefaultFallbackHeight
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFallbackFPS
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FallbackImageProvider{cfg: cfg, logger: cfg.Logger}
}

// GetStream returns a new stream with one video track showing the image.
// The image is decoded once per path; each stream gets its own track, and
// closing the stream stops it.
func (p *FallbackImageProvider) GetStream(ctx context.Context) (MediaStream, error) {
	if p.cfg.Path == "" {
		return nil, ErrNoFallbackImage
	}
	img, err := p.cfg.Images.Load(ctx, p.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("load fallback image: %w", err)
	}

	src := NewImageSource(img, ImageSourceConfig{
		Width:  p.cfg.Width,
		Height: p.cfg.Height,
		FPS:    p.cfg.FPS,
		Mode:   ScaleModeFit,
	})
	track, err := NewVideoSourceTrack(ctx, src, "audio-only", "")
	if err != nil {
		return nil, err
	}
	p.logger.Debug("fallback image stream started", "path", p.cfg.Path, "track_id", track.ID())
	return NewMediaStream("", track), nil
}
