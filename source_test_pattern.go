package media

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// PatternType defines the type of test pattern to generate.
type PatternType int

const (
	PatternColorBars  PatternType = iota // SMPTE color bars
	PatternSolidColor                    // Solid color
	PatternMovingBox                     // Moving box (animated)
	PatternPresenter                     // Head-and-shoulders figure on a green screen
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "ColorBars"
	case PatternSolidColor:
		return "SolidColor"
	case PatternMovingBox:
		return "MovingBox"
	case PatternPresenter:
		return "Presenter"
	default:
		return "Unknown"
	}
}

// GreenScreen is the backdrop color of PatternPresenter.
var GreenScreen = color.RGBA{R: 0, G: 177, B: 64, A: 255}

// TestPatternConfig configures a test pattern source.
type TestPatternConfig struct {
	Width    int         // Frame width (default: 1280)
	Height   int         // Frame height (default: 720)
	FPS      int         // Frames per second (default: 30)
	Pattern  PatternType // Pattern type (default: ColorBars)
	Animated bool        // Animate Presenter (MovingBox always animates)

	// For SolidColor pattern
	SolidR, SolidG, SolidB uint8
}

// TestPatternSource generates synthetic video frames. Virtual cameras and the
// blank stand-in track are built on it.
type TestPatternSource struct {
	config TestPatternConfig

	// Scratch frame the pattern is drawn into; every delivered frame is a copy.
	canvas *VideoFrame

	frameDuration time.Duration
	frameCount    uint64
	startTime     time.Time

	running  atomic.Bool
	cancel   context.CancelFunc
	frameCh  chan *VideoFrame
	doneCh   chan struct{}
	callback VideoFrameCallback

	mu sync.RWMutex
}

// NewTestPatternSource creates a new test pattern video source.
func NewTestPatternSource(config TestPatternConfig) *TestPatternSource {
	if config.Width <= 0 {
		config.Width = 1280
	}
	if config.Height <= 0 {
		config.Height = 720
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}

	canvas := NewI420Frame(config.Width, config.Height)
	config.Width, config.Height = canvas.Width, canvas.Height

	s := &TestPatternSource{
		config:        config,
		canvas:        canvas,
		frameDuration: time.Second / time.Duration(config.FPS),
		frameCh:       make(chan *VideoFrame, 2),
	}
	s.generatePattern(0)
	return s
}

// Start begins generating frames.
func (s *TestPatternSource) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("source already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.doneCh = make(chan struct{})
	s.startTime = time.Now()
	s.frameCount = 0
	done := s.doneCh
	s.mu.Unlock()

	go s.generateLoop(ctx, done)
	return nil
}

// Stop stops generating frames and waits for the goroutine to exit.
func (s *TestPatternSource) Stop() error {
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
func (s *TestPatternSource) Close() error {
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
func (s *TestPatternSource) ReadFrame(ctx context.Context) (*VideoFrame, error) {
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
func (s *TestPatternSource) SetCallback(cb VideoFrameCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// Config returns the source configuration.
func (s *TestPatternSource) Config() SourceConfig {
	return SourceConfig{
		Width:      s.config.Width,
		Height:     s.config.Height,
		FPS:        s.config.FPS,
		Format:     PixelFormatI420,
		SourceType: SourceTypeTestPattern,
	}
}

func (s *TestPatternSource) animated() bool {
	return s.config.Pattern == PatternMovingBox || (s.config.Animated && s.config.Pattern == PatternPresenter)
}

func (s *TestPatternSource) generateLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.frameCount++
			if s.animated() {
				s.generatePattern(s.frameCount)
			}

			frame := s.canvas.Clone()
			frame.Timestamp = time.Since(s.startTime).Nanoseconds()
			frame.Duration = s.frameDuration.Nanoseconds()

			s.mu.RLock()
			cb, ch := s.callback, s.frameCh
			s.mu.RUnlock()

			if cb != nil {
				cb(frame)
				continue
			}
			select {
			case ch <- frame:
			default:
				// Drop frame if channel full
			}
		}
	}
}

func (s *TestPatternSource) generatePattern(frameNum uint64) {
	switch s.config.Pattern {
	case PatternSolidColor:
		s.fillRect(0, 0, s.config.Width, s.config.Height, s.config.SolidR, s.config.SolidG, s.config.SolidB)
	case PatternMovingBox:
		s.generateMovingBox(frameNum)
	case PatternPresenter:
		s.generatePresenter(frameNum)
	default:
		s.generateColorBars()
	}
}

// SMPTE color bars (simplified 8-bar pattern)
var colorBarsRGB = [][3]uint8{
	{192, 192, 192}, // White (75%)
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

func (s *TestPatternSource) generateColorBars() {
	barWidth := max(s.config.Width/8, 1)
	for i, rgb := range colorBarsRGB {
		x1 := (i + 1) * barWidth
		if i == len(colorBarsRGB)-1 {
			x1 = s.config.Width
		}
		s.fillRect(i*barWidth, 0, x1, s.config.Height, rgb[0], rgb[1], rgb[2])
	}
}

func (s *TestPatternSource) generateMovingBox(frameNum uint64) {
	w, h := s.config.Width, s.config.Height
	s.fillRect(0, 0, w, h, 0, 0, 0)

	boxSize := max(min(w, h)/8, 2)
	radius := float64(min(w, h)) / 4
	angle := float64(frameNum) * 0.05 // Radians per frame
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	s.fillRect(boxX, boxY, boxX+boxSize, boxY+boxSize, 235, 235, 235)
}

// generatePresenter draws a head and shoulders silhouette in front of
// GreenScreen, swaying sideways when animated.
func (s *TestPatternSource) generatePresenter(frameNum uint64) {
	w, h := s.config.Width, s.config.Height
	s.fillRect(0, 0, w, h, GreenScreen.R, GreenScreen.G, GreenScreen.B)

	sway := 0
	if s.config.Animated {
		sway = int(float64(w) / 20 * math.Sin(float64(frameNum)*0.1))
	}
	cx := w/2 + sway

	// Shoulders
	s.fillEllipse(cx, h, w/3, h/3, 60, 70, 110)
	// Head
	s.fillEllipse(cx, h/2, w/9, h/5, 224, 172, 140)
}

func (s *TestPatternSource) fillRect(x0, y0, x1, y1 int, r, g, b uint8) {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, s.config.Width), min(y1, s.config.Height)
	yy, cb, cr := color.RGBToYCbCr(r, g, b)

	f := s.canvas
	for y := y0; y < y1; y++ {
		row := f.Data[0][y*f.Stride[0]:]
		for x := x0; x < x1; x++ {
			row[x] = yy
		}
	}
	for y := y0 / 2; y < (y1+1)/2; y++ {
		for x := x0 / 2; x < (x1+1)/2; x++ {
			f.Data[1][y*f.Stride[1]+x] = cb
			f.Data[2][y*f.Stride[2]+x] = cr
		}
	}
}

func (s *TestPatternSource) fillEllipse(cx, cy, rx, ry int, r, g, b uint8) {
	if rx <= 0 || ry <= 0 {
		return
	}
	yy, cb, cr := color.RGBToYCbCr(r, g, b)
	f := s.canvas

	inside := func(x, y int) bool {
		dx := float64(x-cx) / float64(rx)
		dy := float64(y-cy) / float64(ry)
		return dx*dx+dy*dy <= 1
	}
	for y := max(cy-ry, 0); y < min(cy+ry, s.config.Height); y++ {
		for x := max(cx-rx, 0); x < min(cx+rx, s.config.Width); x++ {
			if !inside(x, y) {
				continue
			}
			f.Data[0][y*f.Stride[0]+x] = yy
			if x%2 == 0 && y%2 == 0 {
				i := (y/2)*f.Stride[1] + x/2
				f.Data[1][i] = cb
				f.Data[2][i] = cr
			}
		}
	}
}
