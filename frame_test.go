package media

import (
	"image"
	"image/color"
	"testing"
)

func TestPixelFormat_String(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   string
		planes int
	}{
		{PixelFormatI420, "I420", 3},
		{PixelFormatRGBA32, "RGBA32", 1},
		{PixelFormat(99), "Unknown", 0},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.format.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
			if got := tt.format.PlaneCount(); got != tt.planes {
				t.Errorf("PlaneCount() = %v, want %v", got, tt.planes)
			}
		})
	}
}

func TestAudioFormat_BytesPerSample(t *testing.T) {
	tests := []struct {
		format AudioFormat
		want   int
	}{
		{AudioFormatS16, 2},
		{AudioFormatF32, 4},
		{AudioFormat(99), 0},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := tt.format.BytesPerSample(); got != tt.want {
				t.Errorf("BytesPerSample() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestI420Size(t *testing.T) {
	tests := []struct {
		width, height int
		want          int
	}{
		{1920, 1080, 1920*1080 + 2*(960*540)},
		{1280, 720, 1280*720 + 2*(640*360)},
		{2, 2, 6},
	}

	for _, tt := range tests {
		if got := I420Size(tt.width, tt.height); got != tt.want {
			t.Errorf("I420Size(%d, %d) = %v, want %v", tt.width, tt.height, got, tt.want)
		}
	}
}

func TestNewI420Frame_RoundsUpOddSizes(t *testing.T) {
	f := NewI420Frame(7, 5)
	if f.Width != 8 || f.Height != 6 {
		t.Fatalf("size = %dx%d, want 8x6", f.Width, f.Height)
	}
	if len(f.Data[0]) != 48 || len(f.Data[1]) != 12 || len(f.Data[2]) != 12 {
		t.Errorf("plane sizes = %d/%d/%d, want 48/12/12", len(f.Data[0]), len(f.Data[1]), len(f.Data[2]))
	}
	if f.Stride[0] != 8 || f.Stride[1] != 4 {
		t.Errorf("strides = %v, want [8 4 4]", f.Stride)
	}
}

func TestVideoFrame_Clone(t *testing.T) {
	original := &VideoFrame{
		Data: [][]byte{
			{1, 2, 3, 4},
			{5},
			{7},
		},
		Stride:    []int{2, 1, 1},
		Width:     2,
		Height:    2,
		Format:    PixelFormatI420,
		Timestamp: 12345,
		Duration:  33333,
	}

	clone := original.Clone()

	if clone.Width != original.Width || clone.Height != original.Height {
		t.Error("Clone dimensions mismatch")
	}
	if clone.Timestamp != original.Timestamp || clone.Duration != original.Duration {
		t.Error("Clone timing mismatch")
	}

	clone.Data[0][0] = 99
	if original.Data[0][0] == 99 {
		t.Error("Clone is not independent from original")
	}
}

func TestVideoFrame_ImageRoundTrip(t *testing.T) {
	want := color.RGBA{R: 200, G: 40, B: 90, A: 255}
	src := image.NewRGBA(image.Rect(0, 0, 16, 10))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = want.R, want.G, want.B, want.A
	}

	frame := FrameFromImage(src, 42)
	if frame.Timestamp != 42 {
		t.Errorf("Timestamp = %d, want 42", frame.Timestamp)
	}
	if frame.AspectRatio() != 1.6 {
		t.Errorf("AspectRatio() = %v, want 1.6", frame.AspectRatio())
	}

	out := frame.ToRGBA(nil)
	got := out.RGBAAt(5, 5)
	if absDiff(got.R, want.R) > 3 || absDiff(got.G, want.G) > 3 || absDiff(got.B, want.B) > 3 {
		t.Errorf("pixel = %v, want about %v", got, want)
	}

	reused := frame.ToRGBA(out)
	if reused != out {
		t.Error("ToRGBA did not reuse a correctly sized destination")
	}
}

func TestAudioSamples_Clone(t *testing.T) {
	original := &AudioSamples{
		Data:        []byte{0x00, 0x01, 0x02, 0x03},
		SampleRate:  48000,
		Channels:    2,
		SampleCount: 1,
		Format:      AudioFormatS16,
		Timestamp:   12345,
	}

	clone := original.Clone()
	if clone.SampleRate != original.SampleRate || clone.Channels != original.Channels {
		t.Error("Clone format mismatch")
	}

	clone.Data[0] = 0xFF
	if original.Data[0] == 0xFF {
		t.Error("Clone is not independent from original")
	}
	if original.Silent() {
		t.Error("Silent() = true for non-zero samples")
	}
	if !(&AudioSamples{Data: make([]byte, 8)}).Silent() {
		t.Error("Silent() = false for zero samples")
	}
}

func BenchmarkVideoFrame_ToRGBA(b *testing.B) {
	frame := NewI420Frame(1280, 720)
	dst := frame.ToRGBA(nil)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		dst = frame.ToRGBA(dst)
	}
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
