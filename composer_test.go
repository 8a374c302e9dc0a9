package media

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"
)

type deviceErrorLog struct {
	mu   sync.Mutex
	errs map[DeviceKind]int
}

func (l *deviceErrorLog) HandleDeviceError(kind DeviceKind, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.errs == nil {
		l.errs = make(map[DeviceKind]int)
	}
	l.errs[kind]++
}

func (l *deviceErrorLog) count(kind DeviceKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errs[kind]
}

type recordingPublisher struct {
	mu      sync.Mutex
	streams []MediaStream
}

func (p *recordingPublisher) Publish(ctx context.Context, s MediaStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams = append(p.streams, s)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

type composerRig struct {
	provider *VirtualDeviceProvider
	coord    *DeviceCoordinator
	comp     *Composer
	errs     *deviceErrorLog
	pub      *recordingPublisher
	streams  chan MediaStream
}

func newComposerRig(t *testing.T, mutate func(*ComposerConfig)) *composerRig {
	t.Helper()

	provider := NewVirtualDeviceProvider()
	provider.AddCamera("cam1", "Camera 1")
	provider.AddCamera("cam2", "Camera 2")
	provider.AddMicrophone("mic1", "Microphone 1")
	provider.AddMicrophone("mic2", "Microphone 2")

	fallbackPath := writeSolidPNG(t, t.TempDir(), "audio-only.png", 16, 9, color.RGBA{R: 40, G: 40, B: 160, A: 255})

	r := &composerRig{
		provider: provider,
		coord:    NewDeviceCoordinator(CoordinatorConfig{}),
		errs:     &deviceErrorLog{},
		pub:      &recordingPublisher{},
		streams:  make(chan MediaStream, 64),
	}
	cfg := ComposerConfig{
		Devices:           NewMediaDevices(provider),
		Coordinator:       r.coord,
		Fallback:          NewFallbackImageProvider(FallbackConfig{Path: fallbackPath, Width: 64, Height: 36}),
		Publisher:         r.pub,
		Errors:            r.errs,
		Video:             VideoConstraints{Width: 64, Height: 48, FrameRate: 15},
		AcquireRetryDelay: time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	comp, err := NewComposer(cfg)
	if err != nil {
		t.Fatalf("NewComposer() error = %v", err)
	}
	r.comp = comp
	comp.OnStream(func(s MediaStream) { r.streams <- s })
	t.Cleanup(func() { comp.Close() })
	return r
}

func (r *composerRig) start(t *testing.T) {
	t.Helper()
	if err := r.comp.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

// waitStream returns the first published stream that satisfies ok.
func (r *composerRig) waitStream(t *testing.T, ok func(audio AudioTrack, video VideoTrack) bool) MediaStream {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-r.streams:
			if ok(firstAudioTrack(s), firstVideoTrack(s)) {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for a matching stream")
			return nil
		}
	}
}

// quiet asserts that nothing is published for a short while.
func (r *composerRig) quiet(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.streams:
		t.Errorf("unexpected stream published: audio=%s video=%s",
			trackLabel(firstAudioTrack(s)), trackLabel(firstVideoTrack(s)))
	case <-time.After(150 * time.Millisecond):
	}
}

func devRef(id, label string) DeviceRef { return DeviceRef{DeviceID: id, Label: label} }

func fromDevice(id string) func(MediaStreamTrack) bool {
	return func(t MediaStreamTrack) bool { return t != nil && t.DeviceID() == id }
}

func labelled(label string) func(MediaStreamTrack) bool {
	return func(t MediaStreamTrack) bool { return t != nil && t.Label() == label }
}

func TestNewComposer_Validates(t *testing.T) {
	if _, err := NewComposer(ComposerConfig{Coordinator: NewDeviceCoordinator(CoordinatorConfig{})}); err == nil {
		t.Error("NewComposer() without Devices succeeded")
	}
	if _, err := NewComposer(ComposerConfig{Devices: NewMediaDevices(NewVirtualDeviceProvider())}); err == nil {
		t.Error("NewComposer() without Coordinator succeeded")
	}
}

func TestComposer_NothingSelected(t *testing.T) {
	r := newComposerRig(t, nil)
	r.start(t)

	s := r.waitStream(t, func(a AudioTrack, v VideoTrack) bool { return a != nil && v != nil })
	if len(s.GetTracks()) != 2 {
		t.Errorf("tracks = %d, want 2", len(s.GetTracks()))
	}
	if a := firstAudioTrack(s); a.Label() != "silence" {
		t.Errorf("audio = %q, want silence", a.Label())
	}
	if v := firstVideoTrack(s); v.Label() != "blank" {
		t.Errorf("video = %q, want blank", v.Label())
	}
	if r.comp.Stream() != s {
		t.Error("Stream() is not the published stream")
	}
	if r.pub.count() != 1 {
		t.Errorf("publisher got %d streams, want 1", r.pub.count())
	}

	if err := r.comp.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}
}

func TestComposer_AudioOnlyKeepsMicrophone(t *testing.T) {
	r := newComposerRig(t, nil)
	r.coord.SelectCamera(devRef("cam1", "Camera 1"))
	r.coord.SelectMicrophone(devRef("mic1", "Microphone 1"))
	r.start(t)

	first := r.waitStream(t, func(a AudioTrack, v VideoTrack) bool {
		return fromDevice("mic1")(a) && fromDevice("cam1")(v)
	})
	if len(first.GetTracks()) != 2 {
		t.Fatalf("tracks = %d, want 2", len(first.GetTracks()))
	}
	mic := firstAudioTrack(first)
	cam := firstVideoTrack(first)

	r.coord.SetAudioOnly(true)
	second := r.waitStream(t, func(a AudioTrack, v VideoTrack) bool { return labelled("audio-only")(v) })

	if got := firstAudioTrack(second); got.ID() != mic.ID() {
		t.Errorf("audio track replaced: %s, want %s", got.ID(), mic.ID())
	}
	if mic.State() != TrackStateLive {
		t.Error("microphone stopped by an audio-only switch")
	}
	if cam.State() != TrackStateEnded {
		t.Error("camera still live in audio-only mode")
	}
	if n := r.provider.Active(DeviceKindVideoInput); n != 0 {
		t.Errorf("open cameras = %d, want 0", n)
	}
	if n := r.provider.Opens("mic1"); n != 1 {
		t.Errorf("mic1 opens = %d, want 1", n)
	}

	r.coord.SetAudioOnly(false)
	r.waitStream(t, func(a AudioTrack, v VideoTrack) bool { return fromDevice("cam1")(v) })
	if n := r.provider.Opens("cam1"); n != 2 {
		t.Errorf("cam1 opens = %d, want 2", n)
	}
}

func TestComposer_IgnoresRepeatedSelection(t *testing.T) {
	r := newComposerRig(t, nil)
	r.coord.SelectCamera(devRef("cam1", "Camera 1"))
	r.coord.SelectMicrophone(devRef("mic1", "Microphone 1"))
	r.start(t)

	s := r.waitStream(t, func(a AudioTrack, v VideoTrack) bool {
		return fromDevice("mic1")(a) && fromDevice("cam1")(v)
	})

	r.coord.SelectCamera(devRef("cam1", "Camera 1"))
	r.comp.refresh()
	r.comp.refresh()
	r.quiet(t)

	if r.provider.Opens("cam1") != 1 || r.provider.Opens("mic1") != 1 {
		t.Errorf("opens = cam1:%d mic1:%d, want 1 each", r.provider.Opens("cam1"), r.provider.Opens("mic1"))
	}
	if !s.Active() || firstVideoTrack(s).State() != TrackStateLive {
		t.Error("current stream stopped by a repeated selection")
	}
	if r.comp.Stream() != s {
		t.Error("Stream() changed")
	}
}

func TestComposer_OneDevicePerKind(t *testing.T) {
	r := newComposerRig(t, nil)
	r.start(t)

	for i := range 6 {
		if i%2 == 0 {
			r.coord.SelectCamera(devRef("cam1", "Camera 1"))
			r.coord.SelectMicrophone(devRef("mic2", "Microphone 2"))
		} else {
			r.coord.SelectCamera(devRef("cam2", "Camera 2"))
			r.coord.SelectMicrophone(devRef("mic1", "Microphone 1"))
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The last request wins.
	r.waitStream(t, func(a AudioTrack, v VideoTrack) bool {
		return fromDevice("mic1")(a) && fromDevice("cam2")(v)
	})

	if n := r.provider.MaxActive(DeviceKindVideoInput); n > 1 {
		t.Errorf("cameras open at once = %d, want at most 1", n)
	}
	if n := r.provider.MaxActive(DeviceKindAudioInput); n > 1 {
		t.Errorf("microphones open at once = %d, want at most 1", n)
	}
	deadline := time.Now().Add(5 * time.Second)
	for r.provider.Active(DeviceKindVideoInput) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("open cameras = %d, want 1", r.provider.Active(DeviceKindVideoInput))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestComposer_DeviceFailureFallsBack(t *testing.T) {
	r := newComposerRig(t, nil)
	r.provider.FailNext("cam1", DefaultAcquireAttempts)
	r.provider.FailNext("mic1", 1)
	r.coord.SelectCamera(devRef("cam1", "Camera 1"))
	r.coord.SelectMicrophone(devRef("mic1", "Microphone 1"))
	r.start(t)

	s := r.waitStream(t, func(a AudioTrack, v VideoTrack) bool { return a != nil && v != nil })
	if v := firstVideoTrack(s); v.Label() != "blank" {
		t.Errorf("video = %q, want blank", v.Label())
	}
	if a := firstAudioTrack(s); a.DeviceID() != "mic1" {
		t.Errorf("audio device = %q, want mic1 after one retry", a.DeviceID())
	}
	if n := r.errs.count(DeviceKindVideoInput); n != DefaultAcquireAttempts {
		t.Errorf("camera errors reported = %d, want %d", n, DefaultAcquireAttempts)
	}
	if n := r.errs.count(DeviceKindAudioInput); n != 1 {
		t.Errorf("microphone errors reported = %d, want 1", n)
	}

	// The next change retries the camera.
	r.coord.SelectMicrophone(devRef("mic2", "Microphone 2"))
	r.waitStream(t, func(a AudioTrack, v VideoTrack) bool {
		return fromDevice("mic2")(a) && fromDevice("cam1")(v)
	})
}

func TestComposer_UnpluggedDevice(t *testing.T) {
	r := newComposerRig(t, nil)
	r.provider.RemoveDevice("mic2")
	r.coord.SelectMicrophone(devRef("mic2", "Microphone 2"))
	r.start(t)

	s := r.waitStream(t, func(a AudioTrack, v VideoTrack) bool { return a != nil })
	if a := firstAudioTrack(s); a.Label() != "silence" {
		t.Errorf("audio = %q, want silence", a.Label())
	}
	if n := r.errs.count(DeviceKindAudioInput); n != DefaultAcquireAttempts {
		t.Errorf("microphone errors reported = %d, want %d", n, DefaultAcquireAttempts)
	}
}

func TestComposer_FilterRouting(t *testing.T) {
	release := make(chan struct{})
	gated := SegmenterFunc(func(ctx context.Context, img *image.RGBA) (*image.Alpha, error) {
		select {
		case <-release:
			return nil, errors.New("inference failed")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	filter := NewFilterPipeline(FilterConfig{Segmenter: gated, FPS: 60})

	r := newComposerRig(t, func(cfg *ComposerConfig) { cfg.Filter = filter })
	r.coord.SelectCamera(devRef("cam1", "Camera 1"))
	r.start(t)

	raw := r.waitStream(t, func(a AudioTrack, v VideoTrack) bool { return fromDevice("cam1")(v) })
	cam := firstVideoTrack(raw)

	filter.UpdateFilter(FilterBlur)
	filtered := r.waitStream(t, func(a AudioTrack, v VideoTrack) bool { return labelled("filtered")(v) })
	if filter.Source().ID() != cam.ID() {
		t.Error("filter is not bound to the camera track")
	}
	if firstAudioTrack(filtered).ID() != firstAudioTrack(raw).ID() {
		t.Error("audio replaced by a filter change")
	}

	// Three failed frames disable the filter and the raw camera comes back.
	close(release)
	back := r.waitStream(t, func(a AudioTrack, v VideoTrack) bool { return fromDevice("cam1")(v) && !labelled("filtered")(v) })
	if got := firstVideoTrack(back); got.ID() != cam.ID() {
		t.Errorf("video = %s, want the original camera track %s", got.ID(), cam.ID())
	}
	if filter.State().Enabled {
		t.Error("filter still enabled")
	}
	if firstVideoTrack(filtered).State() != TrackStateEnded {
		t.Error("filtered output still live")
	}
	if r.provider.Opens("cam1") != 1 {
		t.Errorf("cam1 opens = %d, want 1", r.provider.Opens("cam1"))
	}
}

func TestComposer_CloseReleasesDevices(t *testing.T) {
	r := newComposerRig(t, nil)
	r.coord.SelectCamera(devRef("cam1", "Camera 1"))
	r.coord.SelectMicrophone(devRef("mic1", "Microphone 1"))
	r.start(t)

	s := r.waitStream(t, func(a AudioTrack, v VideoTrack) bool {
		return fromDevice("mic1")(a) && fromDevice("cam1")(v)
	})

	if err := r.comp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.Active() {
		t.Error("stream still active after Close()")
	}
	if r.provider.Active(DeviceKindVideoInput) != 0 || r.provider.Active(DeviceKindAudioInput) != 0 {
		t.Error("devices still open after Close()")
	}
	if r.comp.Stream() != nil {
		t.Error("Stream() not nil after Close()")
	}

	// Selections after Close are ignored.
	r.coord.SelectCamera(devRef("cam2", "Camera 2"))
	r.quiet(t)
}

// gatedDevices holds the first open of one camera until release is closed.
type gatedDevices struct {
	MediaDevices
	deviceID string
	once     sync.Once
	entered  chan struct{}
	release  chan struct{}
}

func (g *gatedDevices) GetUserMedia(ctx context.Context, opts UserMediaOptions) (MediaStream, error) {
	if opts.Video != nil && opts.Video.DeviceID == g.deviceID {
		first := false
		g.once.Do(func() { first = true })
		if first {
			close(g.entered)
			select {
			case <-g.release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return g.MediaDevices.GetUserMedia(ctx, opts)
}

func TestComposer_PublishesOnlyLatestSelection(t *testing.T) {
	gate := &gatedDevices{deviceID: "cam1", entered: make(chan struct{}), release: make(chan struct{})}
	r := newComposerRig(t, func(cfg *ComposerConfig) {
		gate.MediaDevices = cfg.Devices
		cfg.Devices = gate
	})
	r.start(t)
	r.waitStream(t, func(a AudioTrack, v VideoTrack) bool { return labelled("blank")(v) })

	r.coord.SelectCamera(devRef("cam1", "Camera 1"))
	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("camera open never started")
	}

	// Both requests arrive while cam1 is still opening.
	r.coord.SelectCamera(devRef("cam2", "Camera 2"))
	r.coord.SetAudioOnly(true)
	close(gate.release)

	r.waitStream(t, func(a AudioTrack, v VideoTrack) bool { return labelled("audio-only")(v) })
	r.quiet(t)

	if got := r.provider.Opens("cam1"); got != 1 {
		t.Errorf("cam1 opens = %d, want 1", got)
	}
	if got := r.provider.Opens("cam2"); got != 0 {
		t.Errorf("cam2 opens = %d, want 0 for a superseded selection", got)
	}
	if got := r.provider.Active(DeviceKindVideoInput); got != 0 {
		t.Errorf("open cameras = %d, want 0", got)
	}

	r.pub.mu.Lock()
	defer r.pub.mu.Unlock()
	if len(r.pub.streams) != 2 {
		t.Errorf("publisher got %d streams, want 2", len(r.pub.streams))
	}
	for i, s := range r.pub.streams {
		if v := firstVideoTrack(s); fromDevice("cam1")(v) || fromDevice("cam2")(v) {
			t.Errorf("stream %d carries superseded camera %s", i, v.DeviceID())
		}
	}
}
