package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/courtvideo/media/observe"
)

// DeviceErrorHandler is told about every failed device acquisition attempt.
type DeviceErrorHandler interface {
	HandleDeviceError(kind DeviceKind, err error)
}

// DeviceErrorHandlerFunc adapts a function to DeviceErrorHandler.
type DeviceErrorHandlerFunc func(kind DeviceKind, err error)

func (f DeviceErrorHandlerFunc) HandleDeviceError(kind DeviceKind, err error) { f(kind, err) }

// Publisher sends a composed stream to the call. Publish is called from the
// composer's goroutine once per new stream.
type Publisher interface {
	Publish(ctx context.Context, stream MediaStream) error
}

const (
	DefaultAcquireAttempts   = 2
	DefaultAcquireRetryDelay = 500 * time.Millisecond
)

// ComposerConfig configures a Composer.
type ComposerConfig struct {
	Devices     MediaDevices       // required
	Coordinator *DeviceCoordinator // required

	Filter    *FilterPipeline        // optional background filter
	Fallback  *FallbackImageProvider // audio-only picture; nil sends a blank track
	Publisher Publisher              // optional sink for each new stream
	Errors    DeviceErrorHandler     // optional

	// Requested capture formats. DeviceID is filled in per selection.
	Video VideoConstraints
	Audio AudioConstraints

	AcquireAttempts   int           // tries per device (default: 2)
	AcquireRetryDelay time.Duration // pause between tries (default: 500ms)

	Logger *slog.Logger
}

// composeRequest is everything a composition depends on. It is comparable;
// equal requests compose the same stream.
type composeRequest struct {
	Selection MediaDeviceSelection
	Filtered  bool
}

// composition is the worker's view of the tracks it owns.
type composition struct {
	audio    AudioTrack
	audioRef DeviceRef // zero while the silent track stands in

	camera    VideoTrack
	cameraRef DeviceRef
	filtered  VideoTrack
	fallback  VideoTrack
	blank     VideoTrack

	stream   MediaStream
	pubAudio AudioTrack
	pubVideo VideoTrack
}

// Composer builds the single outgoing stream from the coordinator's device
// signals and the filter state. Changes are applied by one worker goroutine
// in order; a request that is overtaken by a newer one is not published.
// Tracks whose input did not change are carried into the next stream, and
// replaced devices are stopped before their successors are opened.
type Composer struct {
	cfg    ComposerConfig
	logger *slog.Logger

	mu        sync.Mutex
	started   bool
	requested bool
	want      composeRequest
	seq       uint64
	stream    MediaStream
	unsubs    []func()
	cancel    context.CancelFunc
	done      chan struct{}

	wake    chan struct{}
	streams observe.Feed[MediaStream]

	// owned by the worker goroutine
	cur composition
}

// NewComposer returns a composer; Start begins composing.
func NewComposer(cfg ComposerConfig) (*Composer, error) {
	if cfg.Devices == nil {
		return nil, errors.New("composer: Devices is required")
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("composer: Coordinator is required")
	}
	if cfg.AcquireAttempts <= 0 {
		cfg.AcquireAttempts = DefaultAcquireAttempts
	}
	if cfg.AcquireRetryDelay <= 0 {
		cfg.AcquireRetryDelay = DefaultAcquireRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Composer{
		cfg:    cfg,
		logger: cfg.Logger,
		wake:   make(chan struct{}, 1),
	}, nil
}

// Start subscribes to the selection signals and composes the first stream
// in the background. It does not wait for devices.
func (c *Composer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("composer already started")
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)

	coord := c.cfg.Coordinator
	unsubs := []func(){
		coord.Camera().Subscribe(func(DeviceRef) { c.refresh() }),
		coord.Microphone().Subscribe(func(DeviceRef) { c.refresh() }),
		coord.AudioOnly().Subscribe(func(bool) { c.refresh() }),
	}
	if c.cfg.Filter != nil {
		unsubs = append(unsubs, c.cfg.Filter.OnStateChange(func(FilterState) { c.refresh() }))
	}

	c.mu.Lock()
	c.unsubs = unsubs
	c.mu.Unlock()
	return nil
}

// Close stops composing and every track the composer holds.
func (c *Composer) Close() error {
	c.mu.Lock()
	unsubs, cancel, done := c.unsubs, c.cancel, c.done
	c.unsubs, c.cancel = nil, nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// Stream returns the current composed stream, or nil before the first one.
func (c *Composer) Stream() MediaStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// OnStream calls fn with every newly published stream.
func (c *Composer) OnStream(fn func(MediaStream)) (unsubscribe func()) {
	return c.streams.Subscribe(fn)
}

// refresh records the latest request and wakes the worker. It never blocks
// on the worker.
func (c *Composer) refresh() {
	req := composeRequest{
		Selection: c.cfg.Coordinator.Selection(),
		Filtered:  c.filterOn(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requested && req == c.want {
		return
	}
	c.requested = true
	c.want = req
	c.seq++
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Composer) filterOn() bool {
	f := c.cfg.Filter
	return f != nil && f.Supported() && f.State().Enabled
}

func (c *Composer) superseded(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq != seq
}

func (c *Composer) run(ctx context.Context) {
	defer close(c.done)
	defer c.teardown()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}

		c.mu.Lock()
		req, seq := c.want, c.seq
		c.mu.Unlock()
		c.compose(ctx, req, seq)
	}
}

func (c *Composer) compose(ctx context.Context, req composeRequest, seq uint64) {
	cur := &c.cur
	sel := req.Selection
	wantCamera := !sel.AudioOnly && !sel.Camera.IsZero()

	// Release everything being replaced before anything new is opened.
	if cur.audio != nil && cur.audioRef != sel.Microphone {
		c.stop(cur.audio)
		cur.audio = nil
	}
	if cur.camera != nil && (!wantCamera || cur.cameraRef != sel.Camera) {
		c.stop(cur.filtered)
		cur.filtered = nil
		c.stop(cur.camera)
		cur.camera = nil
	}
	if cur.filtered != nil && !req.Filtered {
		c.stop(cur.filtered)
		cur.filtered = nil
	}
	if cur.fallback != nil && !sel.AudioOnly {
		c.stop(cur.fallback)
		cur.fallback = nil
	}

	if cur.audio == nil {
		if !sel.Microphone.IsZero() {
			if at, err := c.openMicrophone(ctx, sel.Microphone); err == nil {
				cur.audio, cur.audioRef = at, sel.Microphone
			} else {
				c.logger.Warn("microphone unavailable, sending silence", "device_id", sel.Microphone.DeviceID, "error", err)
			}
		}
		if cur.audio == nil {
			if at, err := NewSilentAudioTrack(ctx); err == nil {
				cur.audio, cur.audioRef = at, DeviceRef{}
			} else {
				c.logger.Error("silent audio track failed", "error", err)
			}
		}
	}
	if c.superseded(seq) {
		return
	}

	var video VideoTrack
	switch {
	case sel.AudioOnly:
		if cur.fallback == nil && c.cfg.Fallback != nil {
			if s, err := c.cfg.Fallback.GetStream(ctx); err == nil {
				cur.fallback = firstVideoTrack(s)
			} else {
				c.logger.Warn("audio-only image unavailable", "error", err)
			}
		}
		video = cur.fallback

	case wantCamera:
		if cur.camera == nil {
			if vt, err := c.openCamera(ctx, sel.Camera); err == nil {
				cur.camera, cur.cameraRef = vt, sel.Camera
			} else {
				c.logger.Warn("camera unavailable, sending blank video", "device_id", sel.Camera.DeviceID, "error", err)
			}
		}
		video = cur.camera
		if cur.camera != nil && req.Filtered {
			if cur.filtered == nil {
				cur.filtered = c.startFilter(ctx, cur.camera)
			}
			if cur.filtered != nil {
				video = cur.filtered
			}
		}
	}

	if video == nil {
		if cur.blank == nil {
			if vt, err := NewBlankVideoTrack(ctx); err == nil {
				cur.blank = vt
			} else {
				c.logger.Error("blank video track failed", "error", err)
			}
		}
		video = cur.blank
	}

	if c.superseded(seq) {
		return
	}
	c.publish(ctx, cur.audio, video, seq)
	if video != cur.blank && cur.blank != nil {
		// The blank stand-in stays live until its replacement is published.
		c.stop(cur.blank)
		cur.blank = nil
	}
}

func (c *Composer) publish(ctx context.Context, audio AudioTrack, video VideoTrack, seq uint64) {
	cur := &c.cur
	if cur.stream != nil && cur.pubAudio == audio && cur.pubVideo == video {
		return
	}

	var tracks []MediaStreamTrack
	if audio != nil {
		tracks = append(tracks, audio)
	}
	if video != nil {
		tracks = append(tracks, video)
	}
	stream := NewMediaStream("", tracks...)
	cur.stream, cur.pubAudio, cur.pubVideo = stream, audio, video

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()

	c.logger.Info("stream composed",
		"seq", seq,
		"stream_id", stream.ID(),
		"audio", trackLabel(audio),
		"video", trackLabel(video))

	if c.cfg.Publisher != nil {
		if err := c.cfg.Publisher.Publish(ctx, stream); err != nil {
			c.logger.Error("publish stream failed", "stream_id", stream.ID(), "error", err)
		}
	}
	c.streams.Publish(stream)
}

func (c *Composer) openCamera(ctx context.Context, ref DeviceRef) (VideoTrack, error) {
	constraints := c.cfg.Video
	constraints.DeviceID = ref.DeviceID
	stream, err := c.acquire(ctx, DeviceKindVideoInput, UserMediaOptions{Video: &constraints})
	if err != nil {
		return nil, err
	}
	vt := firstVideoTrack(stream)
	if vt == nil {
		stream.Close()
		return nil, fmt.Errorf("camera %s: %w", ref, ErrNoDevice)
	}
	return vt, nil
}

func (c *Composer) openMicrophone(ctx context.Context, ref DeviceRef) (AudioTrack, error) {
	constraints := c.cfg.Audio
	constraints.DeviceID = ref.DeviceID
	stream, err := c.acquire(ctx, DeviceKindAudioInput, UserMediaOptions{Audio: &constraints})
	if err != nil {
		return nil, err
	}
	at := firstAudioTrack(stream)
	if at == nil {
		stream.Close()
		return nil, fmt.Errorf("microphone %s: %w", ref, ErrNoDevice)
	}
	return at, nil
}

// acquire opens a device, retrying up to AcquireAttempts times. Every failed
// attempt is reported.
func (c *Composer) acquire(ctx context.Context, kind DeviceKind, opts UserMediaOptions) (MediaStream, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (MediaStream, error) {
		attempt++
		stream, err := c.cfg.Devices.GetUserMedia(ctx, opts)
		if err == nil {
			return stream, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		c.logger.Warn("device acquisition failed", "kind", kind, "attempt", attempt, "error", err)
		if c.cfg.Errors != nil {
			c.cfg.Errors.HandleDeviceError(kind, err)
		}
		return nil, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.AcquireRetryDelay)),
		backoff.WithMaxTries(uint(c.cfg.AcquireAttempts)))
}

func (c *Composer) startFilter(ctx context.Context, camera VideoTrack) VideoTrack {
	f := c.cfg.Filter
	if err := f.InitFromStream(NewMediaStream("", camera)); err != nil {
		c.logger.Warn("filter bind failed", "error", err)
		return nil
	}
	out, err := f.StartFilteredStream(ctx)
	if err != nil {
		c.logger.Warn("filtered stream failed", "error", err)
		return nil
	}
	return firstVideoTrack(out)
}

// stop closes t, if set.
func (c *Composer) stop(t MediaStreamTrack) {
	if t == nil {
		return
	}
	if err := t.Close(); err != nil {
		c.logger.Warn("stop track failed", "track_id", t.ID(), "label", t.Label(), "error", err)
		return
	}
	c.logger.Debug("track stopped", "track_id", t.ID(), "label", t.Label())
}

func (c *Composer) teardown() {
	cur := c.cur
	for _, t := range []MediaStreamTrack{cur.filtered, cur.camera, cur.fallback, cur.blank, cur.audio} {
		c.stop(t)
	}
	c.cur = composition{}

	c.mu.Lock()
	c.stream = nil
	c.mu.Unlock()
}

func trackLabel(t MediaStreamTrack) string {
	if t == nil {
		return "none"
	}
	return t.Label()
}
