package media

import (
	"context"
	"image/color"
	"testing"
	"time"
)

func TestNewTestPatternSource_Defaults(t *testing.T) {
	source := NewTestPatternSource(TestPatternConfig{})

	cfg := source.Config()
	if cfg.Width != 1280 || cfg.Height != 720 {
		t.Errorf("Default size = %dx%d, want 1280x720", cfg.Width, cfg.Height)
	}
	if cfg.FPS != 30 {
		t.Errorf("Default FPS = %d, want 30", cfg.FPS)
	}
	if cfg.Format != PixelFormatI420 {
		t.Errorf("Default format = %v, want I420", cfg.Format)
	}
	if cfg.SourceType != SourceTypeTestPattern {
		t.Errorf("SourceType = %v, want TestPattern", cfg.SourceType)
	}
}

func TestNewTestPatternSource_OddSizeRoundsUp(t *testing.T) {
	source := NewTestPatternSource(TestPatternConfig{Width: 321, Height: 241})
	cfg := source.Config()
	if cfg.Width != 322 || cfg.Height != 242 {
		t.Errorf("size = %dx%d, want 322x242", cfg.Width, cfg.Height)
	}
}

func TestTestPatternSource_StartStop(t *testing.T) {
	source := NewTestPatternSource(TestPatternConfig{Width: 320, Height: 240})
	ctx := context.Background()

	if err := source.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := source.Start(ctx); err == nil {
		t.Error("Double start should fail")
	}
	if err := source.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := source.Stop(); err != nil {
		t.Errorf("Double stop should not fail: %v", err)
	}
	if err := source.Start(ctx); err != nil {
		t.Errorf("Restart failed: %v", err)
	}
	source.Close()
}

func TestTestPatternSource_ReadFrame(t *testing.T) {
	source := NewTestPatternSource(TestPatternConfig{Width: 320, Height: 240, Pattern: PatternColorBars})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := source.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer source.Close()

	frame, err := source.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if frame.Width != 320 || frame.Height != 240 {
		t.Errorf("Frame dimensions: %dx%d, want 320x240", frame.Width, frame.Height)
	}
	if len(frame.Data[0]) != 320*240 {
		t.Errorf("Y plane size: %d, want %d", len(frame.Data[0]), 320*240)
	}
	if len(frame.Data[1]) != 160*120 || len(frame.Data[2]) != 160*120 {
		t.Errorf("UV plane sizes: %d, %d, want %d", len(frame.Data[1]), len(frame.Data[2]), 160*120)
	}
	if frame.Timestamp <= 0 {
		t.Error("Frame timestamp should be positive")
	}
}

func TestTestPatternSource_FramesAreIndependent(t *testing.T) {
	source := NewTestPatternSource(TestPatternConfig{Width: 64, Height: 64, FPS: 60, Pattern: PatternMovingBox})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := source.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer source.Close()

	first, err := source.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	first.Data[0][0] = 77

	second, err := source.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if second.Data[0][0] == 77 {
		t.Error("frames share pixel storage")
	}
}

func TestTestPatternSource_Callback(t *testing.T) {
	source := NewTestPatternSource(TestPatternConfig{Width: 320, Height: 240})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frameReceived := make(chan *VideoFrame, 1)
	source.SetCallback(func(frame *VideoFrame) {
		select {
		case frameReceived <- frame:
		default:
		}
	})

	if err := source.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer source.Close()

	select {
	case frame := <-frameReceived:
		if frame.Width != 320 || frame.Height != 240 {
			t.Errorf("Callback frame dimensions: %dx%d", frame.Width, frame.Height)
		}
	case <-ctx.Done():
		t.Fatal("Timeout waiting for callback frame")
	}
}

func TestTestPatternSource_AllPatterns(t *testing.T) {
	patterns := []PatternType{
		PatternColorBars,
		PatternSolidColor,
		PatternMovingBox,
		PatternPresenter,
	}

	for _, pattern := range patterns {
		t.Run(pattern.String(), func(t *testing.T) {
			source := NewTestPatternSource(TestPatternConfig{
				Width:    320,
				Height:   240,
				FPS:      30,
				Pattern:  pattern,
				Animated: true,
				SolidR:   255,
				SolidG:   128,
				SolidB:   64,
			})

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			if err := source.Start(ctx); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			defer source.Close()

			for i := 0; i < 3; i++ {
				frame, err := source.ReadFrame(ctx)
				if err != nil {
					t.Fatalf("ReadFrame failed on frame %d: %v", i, err)
				}
				if frame == nil {
					t.Fatalf("ReadFrame returned nil on frame %d", i)
				}
			}
		})
	}
}

func TestTestPatternSource_SolidColor(t *testing.T) {
	source := NewTestPatternSource(TestPatternConfig{
		Width: 16, Height: 16, Pattern: PatternSolidColor,
		SolidR: 200, SolidG: 40, SolidB: 90,
	})

	got := source.canvas.ToRGBA(nil).RGBAAt(7, 7)
	want := color.RGBA{R: 200, G: 40, B: 90, A: 255}
	if absDiff(got.R, want.R) > 3 || absDiff(got.G, want.G) > 3 || absDiff(got.B, want.B) > 3 {
		t.Errorf("pixel = %v, want about %v", got, want)
	}
}

func TestTestPatternSource_Presenter(t *testing.T) {
	source := NewTestPatternSource(TestPatternConfig{Width: 160, Height: 120, Pattern: PatternPresenter})
	img := source.canvas.ToRGBA(nil)

	corner := img.RGBAAt(2, 2)
	if absDiff(corner.G, GreenScreen.G) > 3 || absDiff(corner.R, GreenScreen.R) > 3 {
		t.Errorf("corner = %v, want green screen %v", corner, GreenScreen)
	}
	head := img.RGBAAt(80, 60)
	if absDiff(head.G, GreenScreen.G) <= 20 {
		t.Errorf("center = %v, want the presenter, not the backdrop", head)
	}
}

func TestTestPatternSource_ReadAfterClose(t *testing.T) {
	source := NewTestPatternSource(TestPatternConfig{Width: 320, Height: 240})
	if err := source.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	source.Close()

	if _, err := source.ReadFrame(context.Background()); err == nil {
		t.Error("ReadFrame after Close should fail")
	}
	if err := source.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func BenchmarkTestPatternSource_Presenter(b *testing.B) {
	source := NewTestPatternSource(TestPatternConfig{Width: 1280, Height: 720, Pattern: PatternPresenter, Animated: true})

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		source.generatePattern(uint64(i))
	}
}
