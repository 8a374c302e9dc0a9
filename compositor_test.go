package media

import (
	"image"
	"image/color"
	"testing"
)

func solidRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestBackgroundCompositor_TwoPass(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}

	frame := solidRGBA(4, 2, red)
	mask := image.NewAlpha(frame.Rect)
	for y := 0; y < 2; y++ {
		mask.SetAlpha(0, y, color.Alpha{A: 255})
		mask.SetAlpha(1, y, color.Alpha{A: 255})
		mask.SetAlpha(2, y, color.Alpha{A: 128})
	}

	c := NewBackgroundCompositor(4, 2)
	out := c.Composite(SegmentationResult{Image: frame, Mask: mask}, solidRGBA(4, 2, blue))

	tests := []struct {
		x    int
		want color.RGBA
	}{
		{0, red},
		{1, red},
		{2, color.RGBA{R: 128, B: 127, A: 255}},
		{3, blue},
	}
	for _, tt := range tests {
		got := out.RGBAAt(tt.x, 1)
		if absDiff(got.R, tt.want.R) > 1 || absDiff(got.B, tt.want.B) > 1 || got.A != 255 {
			t.Errorf("pixel %d = %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestBackgroundCompositor_ForegroundUntouched(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range frame.Pix {
		frame.Pix[i] = byte(i)
	}
	for i := 3; i < len(frame.Pix); i += 4 {
		frame.Pix[i] = 255
	}
	mask := image.NewAlpha(frame.Rect)
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}

	out := NewBackgroundCompositor(8, 8).Composite(
		SegmentationResult{Image: frame, Mask: mask},
		solidRGBA(8, 8, color.RGBA{G: 255, A: 255}),
	)
	for i := range frame.Pix {
		if out.Pix[i] != frame.Pix[i] {
			t.Fatalf("Pix[%d] = %d, want %d", i, out.Pix[i], frame.Pix[i])
		}
	}
}

func TestBackgroundCompositor_ReusedAcrossFrames(t *testing.T) {
	c := NewBackgroundCompositor(2, 2)
	empty := image.NewAlpha(image.Rect(0, 0, 2, 2))
	full := image.NewAlpha(image.Rect(0, 0, 2, 2))
	for i := range full.Pix {
		full.Pix[i] = 255
	}
	white := solidRGBA(2, 2, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	black := solidRGBA(2, 2, color.RGBA{A: 255})

	c.Composite(SegmentationResult{Image: white, Mask: full}, black)
	out := c.Composite(SegmentationResult{Image: white, Mask: empty}, black)
	if got := out.RGBAAt(0, 0); got.R != 0 {
		t.Errorf("pixel = %v, previous frame leaked through", got)
	}
}

func TestBlendMode_String(t *testing.T) {
	tests := []struct {
		mode BlendMode
		want string
	}{
		{BlendModeCopy, "copy"},
		{BlendModeOver, "source-over"},
		{BlendModeSourceIn, "source-in"},
		{BlendModeDestinationOver, "destination-over"},
		{BlendMode(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("String() = %v, want %v", got, tt.want)
		}
	}
}

func BenchmarkBackgroundCompositor_720p(b *testing.B) {
	frame := solidRGBA(1280, 720, color.RGBA{R: 200, A: 255})
	bg := solidRGBA(1280, 720, color.RGBA{B: 200, A: 255})
	mask := image.NewAlpha(frame.Rect)
	c := NewBackgroundCompositor(1280, 720)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c.Composite(SegmentationResult{Image: frame, Mask: mask}, bg)
	}
}
