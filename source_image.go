package media

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// ImageSourceConfig configures an ImageSource.
type ImageSourceConfig struct {
	Width  int       // Output width (default: image width)
	Height int       // Output height (default: image height)
	FPS    int       // Frames per second (default: 1)
	Mode   ScaleMode // How the image fits the output size (default: Fit)
}

// ImageSource repeats one still picture as a video source.
type ImageSource struct {
	frame         *VideoFrame
	fps           int
	frameDuration time.Duration

	running   atomic.Bool
	cancel    context.CancelFunc
	frameCh   chan *VideoFrame
	doneCh    chan struct{}
	callback  VideoFrameCallback
	startTime time.Time

	mu sync.RWMutex
}

// NewImageSource converts img to I420 once, scaled to the configured size.
func NewImageSource(img image.Image, config ImageSourceConfig) *ImageSource {
	if config.FPS <= 0 {
		config.FPS = 1
	}
	frame := FrameFromImage(img, 0)
	if config.Width > 0 && config.Height > 0 {
		frame = ScaleFrame(frame, config.Width, config.Height, config.Mode)
	}
	return &ImageSource{
		frame:         frame,
		fps:           config.FPS,
		frameDuration: time.Second / time.Duration(config.FPS),
		frameCh:       make(chan *VideoFrame, 2),
	}
}

// Start begins emitting frames. The first frame goes out immediately.
func (s *ImageSource) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("source already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.doneCh = make(chan struct{})
	s.startTime = time.Now()
	done := s.doneCh
	s.mu.Unlock()

	go s.loop(ctx, done)
	return nil
}

// Stop halts the source and waits for its goroutine.
func (s *ImageSource) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.mu.RLock()
	cancel, done := s.cancel, s.doneCh
	s.mu.RUnlock()

	cancel()
	<-done
	return nil
}

// Close stops the source and ends pending reads.
func (s *ImageSource) Close() error {
	_ = s.Stop()
	s.mu.Lock()
	if s.frameCh != nil {
		close(s.frameCh)
		s.frameCh = nil
	}
	s.mu.Unlock()
	return nil
}

// ReadFrame reads the next frame (blocking).
func (s *ImageSource) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	s.mu.RLock()
	ch := s.frameCh
	s.mu.RUnlock()
	if ch == nil {
		return nil, fmt.Errorf("source closed")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("source closed")
		}
		return frame, nil
	}
}

// SetCallback sets the push-mode callback.
func (s *ImageSource) SetCallback(cb VideoFrameCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// Config returns the source configuration.
func (s *ImageSource) Config() SourceConfig {
	return SourceConfig{
		Width:      s.frame.Width,
		Height:     s.frame.Height,
		FPS:        s.fps,
		Format:     PixelFormatI420,
		SourceType: SourceTypeImage,
	}
}

func (s *ImageSource) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.frameDuration)
	defer ticker.Stop()

	for {
		s.emit()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *ImageSource) emit() {
	frame := s.frame.Clone()
	frame.Timestamp = time.Since(s.startTime).Nanoseconds()
	frame.Duration = s.frameDuration.Nanoseconds()

	s.mu.RLock()
	cb, ch := s.callback, s.frameCh
	s.mu.RUnlock()

	if cb != nil {
		cb(frame)
		return
	}
	select {
	case ch <- frame:
	default:
	}
}

var _ VideoSource = (*ImageSource)(nil)
