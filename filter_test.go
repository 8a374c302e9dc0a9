package media

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"
)

func newPatternTrack(t *testing.T, pattern PatternType, w, h int) *FrameTrack {
	t.Helper()
	src := NewTestPatternSource(TestPatternConfig{Width: w, Height: h, FPS: 30, Pattern: pattern})
	track, err := NewVideoSourceTrack(context.Background(), src, "test", "cam-test")
	if err != nil {
		t.Fatalf("NewVideoSourceTrack() error = %v", err)
	}
	t.Cleanup(func() { track.Close() })
	return track
}

func readVideo(t *testing.T, track VideoTrack) *VideoFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := track.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	return f
}

func TestFilterKind_String(t *testing.T) {
	if FilterNone.String() != "none" || FilterBlur.String() != "blur" || FilterKind("courtroom").String() != "courtroom" {
		t.Error("unexpected FilterKind strings")
	}
}

func TestFilterPipeline_NoSource(t *testing.T) {
	p := NewFilterPipeline(FilterConfig{})
	if p.Supported() {
		t.Error("Supported() = true without a segmenter")
	}
	if _, err := p.StartFilteredStream(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Errorf("StartFilteredStream() error = %v, want ErrNoSource", err)
	}
	if err := p.InitFromStream(NewMediaStream("")); !errors.Is(err, ErrNoSource) {
		t.Errorf("InitFromStream(empty) error = %v, want ErrNoSource", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFilterPipeline_InitFromStreamIdentity(t *testing.T) {
	p := NewFilterPipeline(FilterConfig{Segmenter: NewChromaKeySegmenter(GreenScreen)})
	cam := newPatternTrack(t, PatternPresenter, 64, 48)

	if err := p.InitFromStream(NewMediaStream("", cam)); err != nil {
		t.Fatalf("InitFromStream() error = %v", err)
	}
	p.mu.Lock()
	bound := p.changed
	p.mu.Unlock()

	// Same track in a different stream is the same source.
	if err := p.InitFromStream(NewMediaStream("", cam)); err != nil {
		t.Fatalf("InitFromStream() error = %v", err)
	}
	p.mu.Lock()
	same := p.changed == bound
	p.mu.Unlock()
	if !same {
		t.Error("rebinding the same track signalled a source change")
	}

	other := newPatternTrack(t, PatternPresenter, 64, 48)
	if err := p.InitFromStream(NewMediaStream("", other)); err != nil {
		t.Fatalf("InitFromStream() error = %v", err)
	}
	if p.Source() != other {
		t.Error("Source() is not the newly bound track")
	}
	select {
	case <-bound:
	default:
		t.Error("binding a different track did not signal a source change")
	}
}

func TestFilterPipeline_UpdateFilter(t *testing.T) {
	p := NewFilterPipeline(FilterConfig{Segmenter: NewChromaKeySegmenter(GreenScreen)})

	var got []FilterState
	unsub := p.OnStateChange(func(s FilterState) { got = append(got, s) })
	defer unsub()

	p.UpdateFilter(FilterBlur)
	p.UpdateFilter(FilterBlur)
	p.UpdateFilter("courtroom")
	p.UpdateFilter(FilterNone)

	want := []FilterState{
		{Enabled: true, Active: FilterBlur},
		{Enabled: true, Active: "courtroom"},
		{},
	}
	if len(got) != len(want) {
		t.Fatalf("state changes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if p.State() != (FilterState{}) {
		t.Errorf("State() = %+v, want disabled", p.State())
	}
}

func TestFilterPipeline_SelfDisablesAfterFailures(t *testing.T) {
	var calls atomic.Int32
	failing := SegmenterFunc(func(context.Context, *image.RGBA) (*image.Alpha, error) {
		calls.Add(1)
		return nil, errors.New("inference failed")
	})
	p := NewFilterPipeline(FilterConfig{Segmenter: failing, FPS: 60})
	cam := newPatternTrack(t, PatternPresenter, 64, 48)
	if err := p.InitFromStream(NewMediaStream("", cam)); err != nil {
		t.Fatal(err)
	}
	p.UpdateFilter(FilterBlur)

	disabled := make(chan FilterState, 1)
	p.OnStateChange(func(s FilterState) { disabled <- s })

	out, err := p.StartFilteredStream(context.Background())
	if err != nil {
		t.Fatalf("StartFilteredStream() error = %v", err)
	}
	defer out.Close()

	// Failed frames still go out unfiltered.
	frame := readVideo(t, out.GetVideoTracks()[0])
	if frame.Width != 64 || frame.Height != 48 {
		t.Errorf("frame size = %dx%d, want 64x48", frame.Width, frame.Height)
	}

	select {
	case s := <-disabled:
		if s != (FilterState{}) {
			t.Errorf("state = %+v, want disabled", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("filter did not disable itself")
	}

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != DefaultFilterFailureLimit {
		t.Errorf("segmenter calls = %d, want %d", got, DefaultFilterFailureLimit)
	}
}

func TestFilterPipeline_UnknownBackgroundDisables(t *testing.T) {
	p := NewFilterPipeline(FilterConfig{Segmenter: NewChromaKeySegmenter(GreenScreen), FPS: 60})
	cam := newPatternTrack(t, PatternPresenter, 64, 48)
	if err := p.InitFromStream(NewMediaStream("", cam)); err != nil {
		t.Fatal(err)
	}
	p.UpdateFilter("beach")

	out, err := p.StartFilteredStream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	deadline := time.Now().Add(5 * time.Second)
	for p.State().Enabled {
		if time.Now().After(deadline) {
			t.Fatal("filter with no background stayed enabled")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFilterPipeline_BackgroundReplacement(t *testing.T) {
	dir := t.TempDir()
	red := color.RGBA{R: 220, G: 20, B: 20, A: 255}
	blue := color.RGBA{R: 20, G: 20, B: 220, A: 255}
	writeSolidPNG(t, dir, "wide.png", 32, 18, blue)
	writeSolidPNG(t, dir, "narrow.png", 32, 24, red)

	catalog, err := ParseBackgroundCatalog([]byte("backgrounds:\n  - filter: plain\n    widescreen: wide.png\n    pillarbox: narrow.png\n"), dir)
	if err != nil {
		t.Fatal(err)
	}
	images := NewImageCache(nil)
	p := NewFilterPipeline(FilterConfig{
		Segmenter:   NewChromaKeySegmenter(GreenScreen),
		Backgrounds: catalog,
		Images:      images,
		FPS:         60,
	})

	// 64x48 is 4:3, so the pillarbox image applies.
	cam := newPatternTrack(t, PatternPresenter, 64, 48)
	if err := p.InitFromStream(NewMediaStream("", cam)); err != nil {
		t.Fatal(err)
	}
	p.UpdateFilter("plain")

	out, err := p.StartFilteredStream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	track := out.GetVideoTracks()[0]
	if track.Label() != "filtered" || track.DeviceID() != "cam-test" {
		t.Errorf("track = %q/%q, want filtered/cam-test", track.Label(), track.DeviceID())
	}

	img := readVideo(t, track).ToRGBA(nil)
	corner := img.RGBAAt(2, 2)
	if corner.R < 150 || corner.G > 90 || corner.B > 90 {
		t.Errorf("background pixel = %v, want about %v", corner, red)
	}
	face := img.RGBAAt(32, 24)
	if face.R < 150 || face.G < 120 {
		t.Errorf("foreground pixel = %v, want skin tone", face)
	}

	for range 3 {
		readVideo(t, track)
	}
	if images.Loads() != 1 {
		t.Errorf("image decodes = %d, want 1", images.Loads())
	}
	if !p.State().Enabled {
		t.Error("filter disabled itself on good frames")
	}
}

func TestFilterPipeline_Blur(t *testing.T) {
	p := NewFilterPipeline(FilterConfig{Segmenter: NewChromaKeySegmenter(GreenScreen), FPS: 60})
	cam := newPatternTrack(t, PatternPresenter, 64, 48)
	if err := p.InitFromStream(NewMediaStream("", cam)); err != nil {
		t.Fatal(err)
	}
	p.UpdateFilter(FilterBlur)

	out, err := p.StartFilteredStream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	img := readVideo(t, out.GetVideoTracks()[0]).ToRGBA(nil)
	// The blurred backdrop of a green screen is still green.
	if c := img.RGBAAt(1, 1); c.G < 120 || c.R > 80 {
		t.Errorf("blurred background pixel = %v, want green", c)
	}
}

func TestFilterPipeline_RestartClosesPreviousOutput(t *testing.T) {
	p := NewFilterPipeline(FilterConfig{Segmenter: NewChromaKeySegmenter(GreenScreen)})
	cam := newPatternTrack(t, PatternPresenter, 64, 48)
	if err := p.InitFromStream(NewMediaStream("", cam)); err != nil {
		t.Fatal(err)
	}

	first, err := p.StartFilteredStream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.StartFilteredStream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.Active() {
		t.Error("previous output still live")
	}
	if !second.Active() {
		t.Error("new output not live")
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if second.Active() {
		t.Error("output live after Close()")
	}
	if cam.State() != TrackStateLive {
		t.Error("closing the output stopped the camera")
	}
}

func TestFilterLoop_CanvasFixedByFirstFrame(t *testing.T) {
	p := NewFilterPipeline(FilterConfig{})
	l := &filterLoop{p: p}
	ctx := context.Background()

	out := l.process(ctx, &capturedFrame{frame: NewI420Frame(64, 48), sourceID: "a"})
	if out.Width != 64 || out.Height != 48 || l.aspect != AspectPillarbox {
		t.Fatalf("canvas = %dx%d %v, want 64x48 pillarbox", out.Width, out.Height, l.aspect)
	}

	// Same source at a new resolution keeps the canvas.
	out = l.process(ctx, &capturedFrame{frame: NewI420Frame(128, 72), sourceID: "a"})
	if out.Width != 64 || out.Height != 48 {
		t.Errorf("canvas = %dx%d, want 64x48", out.Width, out.Height)
	}

	// A new source resets it.
	out = l.process(ctx, &capturedFrame{frame: NewI420Frame(128, 72), sourceID: "b"})
	if out.Width != 128 || out.Height != 72 || l.aspect != AspectWidescreen {
		t.Errorf("canvas = %dx%d %v, want 128x72 widescreen", out.Width, out.Height, l.aspect)
	}
}
