package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/courtvideo/media/observe"
)

var (
	// ErrNoSource is returned when an operation needs a bound video source.
	ErrNoSource = errors.New("no video source bound")
	// ErrUnknownFilter is returned for a filter kind with no background.
	ErrUnknownFilter = errors.New("unknown filter")
)

// FilterKind names a background treatment. Kinds other than FilterBlur are
// looked up in the BackgroundCatalog.
type FilterKind string

const (
	FilterNone FilterKind = ""
	FilterBlur FilterKind = "blur"
)

func (k FilterKind) String() string {
	if k == FilterNone {
		return "none"
	}
	return string(k)
}

// FilterState is the pipeline's current treatment.
type FilterState struct {
	Enabled bool
	Active  FilterKind
}

const (
	DefaultFilterFPS          = 30
	DefaultFilterFailureLimit = 3
	DefaultBlurSigma          = 3.0
)

// FilterConfig configures a FilterPipeline.
type FilterConfig struct {
	Segmenter   Segmenter          // nil means filtering is unsupported
	Backgrounds *BackgroundCatalog // images for non-blur filters
	Images      *ImageCache        // default: a private cache
	FPS         int                // output rate (default: 30)
	// BlurSigma is the Gaussian sigma applied at a quarter of the canvas
	// resolution (default: 3).
	BlurSigma float64
	// FailureLimit consecutive frame failures disable the filter (default: 3).
	FailureLimit int
	Logger       *slog.Logger
}

// FilterPipeline replaces the background of a camera track. It binds one
// source track at a time and produces a filtered output track from a
// fixed-rate frame loop. While the filter is disabled it stops reading the
// source, so the raw track can be published directly.
type FilterPipeline struct {
	cfg    FilterConfig
	logger *slog.Logger

	state    *observe.Value[FilterState]
	failures atomic.Int32

	mu      sync.Mutex
	source  VideoTrack
	changed chan struct{} // closed and replaced on rebind or state change
	out     *FrameTrack
}

// NewFilterPipeline returns a disabled pipeline with no source bound.
func NewFilterPipeline(cfg FilterConfig) *FilterPipeline {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFilterFPS
	}
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = DefaultFilterFailureLimit
	}
	if cfg.BlurSigma <= 0 {
		cfg.BlurSigma = DefaultBlurSigma
	}
	if cfg.Images == nil {
		cfg.Images = NewImageCache(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FilterPipeline{
		cfg:     cfg,
		logger:  cfg.Logger,
		state:   observe.NewValue(FilterState{}),
		changed: make(chan struct{}),
	}
}

// Supported reports whether the pipeline can segment frames at all.
func (p *FilterPipeline) Supported() bool { return p.cfg.Segmenter != nil }

// State returns the current filter state.
func (p *FilterPipeline) State() FilterState { return p.state.Get() }

// OnStateChange calls fn on every state change, including self-disable.
func (p *FilterPipeline) OnStateChange(fn func(FilterState)) (unsubscribe func()) {
	return p.state.OnChange(fn)
}

// InitFromStream binds the stream's video track. Binding the track that is
// already bound does nothing; a different track resets the canvas.
func (p *FilterPipeline) InitFromStream(stream MediaStream) error {
	vt := firstVideoTrack(stream)
	if vt == nil {
		return ErrNoSource
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.source != nil && p.source.ID() == vt.ID() {
		return nil
	}
	p.source = vt
	p.signalLocked()
	p.logger.Debug("filter source bound", "track_id", vt.ID(), "device_id", vt.DeviceID())
	return nil
}

// Source returns the bound track, or nil.
func (p *FilterPipeline) Source() VideoTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

// UpdateFilter switches the treatment. FilterNone disables filtering. The
// bound source and the output track are kept.
func (p *FilterPipeline) UpdateFilter(kind FilterKind) {
	p.failures.Store(0)
	next := FilterState{Enabled: kind != FilterNone, Active: kind}
	if p.state.Set(next) {
		p.logger.Info("background filter changed", "filter", kind)
	}
	p.mu.Lock()
	p.signalLocked()
	p.mu.Unlock()
}

// StartFilteredStream returns a stream whose only track carries the
// processed frames. A previous output track is closed. Closing the returned
// track stops the loop but not the source.
func (p *FilterPipeline) StartFilteredStream(ctx context.Context) (MediaStream, error) {
	p.mu.Lock()
	src := p.source
	if src == nil {
		p.mu.Unlock()
		return nil, ErrNoSource
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	settings := src.Settings()
	settings.FrameRate = p.cfg.FPS
	out := NewFrameTrack("filtered", src.DeviceID(), settings, func() error {
		cancel()
		<-done
		return nil
	})
	prev := p.out
	p.out = out
	p.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	go p.run(loopCtx, out, done)
	return NewMediaStream("", out), nil
}

// Close stops the output track, if any.
func (p *FilterPipeline) Close() error {
	p.mu.Lock()
	out := p.out
	p.out = nil
	p.mu.Unlock()
	if out != nil {
		return out.Close()
	}
	return nil
}

func (p *FilterPipeline) signalLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

type capturedFrame struct {
	frame    *VideoFrame
	sourceID string
}

// run drives the output track: a puller keeps the newest source frame and
// the ticker processes it at the configured rate.
func (p *FilterPipeline) run(ctx context.Context, out *FrameTrack, done chan struct{}) {
	defer close(done)

	var latest atomic.Pointer[capturedFrame]
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.pull(ctx, &latest)
	}()
	defer wg.Wait()

	ticker := time.NewTicker(time.Second / time.Duration(p.cfg.FPS))
	defer ticker.Stop()

	loop := &filterLoop{p: p}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cf := latest.Swap(nil); cf != nil {
				out.Push(loop.process(ctx, cf))
			}
		}
	}
}

func (p *FilterPipeline) pull(ctx context.Context, latest *atomic.Pointer[capturedFrame]) {
	for {
		p.mu.Lock()
		src, changed := p.source, p.changed
		p.mu.Unlock()

		if src == nil || !p.state.Get().Enabled {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				continue
			}
		}

		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Source ended or failed; wait for a new binding.
			select {
			case <-ctx.Done():
				return
			case <-changed:
				continue
			}
		}

		select {
		case <-changed:
			// Rebound while reading; the frame belongs to the old source.
			continue
		default:
		}
		latest.Store(&capturedFrame{frame: frame, sourceID: src.ID()})
	}
}

func (p *FilterPipeline) recordFailure(err error) {
	n := int(p.failures.Add(1))
	if n < p.cfg.FailureLimit {
		p.logger.Debug("filter frame failed", "failures", n, "error", err)
		return
	}

	p.logger.Warn("background filter disabled after repeated failures",
		"filter", p.state.Get().Active, "failures", n, "error", err)
	p.failures.Store(0)
	p.state.Set(FilterState{})
	p.mu.Lock()
	p.signalLocked()
	p.mu.Unlock()
}

// filterLoop is the per-output processing state. Only the run goroutine
// touches it.
type filterLoop struct {
	p *FilterPipeline

	sourceID   string
	size       image.Point
	aspect     AspectClass
	compositor *BackgroundCompositor
	rgba       *image.RGBA
	mask       *image.Alpha
	blurred    *image.RGBA
	bgKind     FilterKind
	background image.Image
}

// rebind sizes the canvas from the first frame of a new source.
func (l *filterLoop) rebind(cf *capturedFrame) {
	w, h := (cf.frame.Width+1)&^1, (cf.frame.Height+1)&^1
	l.sourceID = cf.sourceID
	l.size = image.Pt(w, h)
	l.aspect = ClassifyAspect(w, h)
	l.compositor = NewBackgroundCompositor(w, h)
	l.rgba = nil
	l.mask = image.NewAlpha(image.Rect(0, 0, w, h))
	l.blurred = nil
	l.background = nil
	l.bgKind = FilterNone

	l.p.logger.Debug("filter canvas sized", "width", w, "height", h, "aspect", l.aspect)
}

// process returns the output for one frame: filtered when the filter is on
// and succeeds, otherwise the canvas-sized source frame.
func (l *filterLoop) process(ctx context.Context, cf *capturedFrame) *VideoFrame {
	if cf.sourceID != l.sourceID {
		l.rebind(cf)
	}
	frame := ScaleFrame(cf.frame, l.size.X, l.size.Y, ScaleModeFill)

	st := l.p.state.Get()
	if !st.Enabled {
		return frame
	}

	out, err := l.filter(ctx, frame, st.Active)
	if err != nil {
		l.p.recordFailure(err)
		return frame
	}
	l.p.failures.Store(0)
	return out
}

func (l *filterLoop) filter(ctx context.Context, frame *VideoFrame, kind FilterKind) (out *VideoFrame, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filter panic: %v", r)
		}
	}()

	seg := l.p.cfg.Segmenter
	if seg == nil {
		return nil, ErrNotSupported
	}

	l.rgba = frame.ToRGBA(l.rgba)
	res, err := segment(ctx, seg, l.rgba, l.mask)
	if err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}

	repl, err := l.replacement(ctx, kind)
	if err != nil {
		return nil, err
	}

	canvas := l.compositor.Composite(res, repl)
	out = FrameFromImage(canvas, frame.Timestamp)
	out.Duration = frame.Duration
	return out, nil
}

func (l *filterLoop) replacement(ctx context.Context, kind FilterKind) (image.Image, error) {
	if kind == FilterBlur {
		if l.blurred == nil {
			l.blurred = image.NewRGBA(l.rgba.Rect)
		}
		small := imaging.Resize(l.rgba, max(l.size.X/4, 1), 0, imaging.Box)
		small = imaging.Blur(small, l.p.cfg.BlurSigma)
		draw.ApproxBiLinear.Scale(l.blurred, l.blurred.Rect, small, small.Bounds(), draw.Src, nil)
		return l.blurred, nil
	}

	if l.background != nil && l.bgKind == kind {
		return l.background, nil
	}
	path, ok := l.p.cfg.Backgrounds.Path(kind, l.aspect)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, kind)
	}
	img, err := l.p.cfg.Images.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("background %s: %w", kind, err)
	}
	l.background = imaging.Fill(img, l.size.X, l.size.Y, imaging.Center, imaging.Lanczos)
	l.bgKind = kind
	return l.background, nil
}
