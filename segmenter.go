package media

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

var errEmptyMask = errors.New("segmenter returned an empty mask")

// SegmentationResult is one frame and its foreground mask. Mask has the
// same bounds as Image; opaque mask pixels are foreground.
type SegmentationResult struct {
	Image *image.RGBA
	Mask  *image.Alpha
}

// Segmenter classifies each pixel of a frame as foreground or background.
// The returned mask may be smaller than img; callers scale it.
type Segmenter interface {
	Segment(ctx context.Context, img *image.RGBA) (*image.Alpha, error)
}

// SegmenterFunc adapts a function to Segmenter.
type SegmenterFunc func(ctx context.Context, img *image.RGBA) (*image.Alpha, error)

func (f SegmenterFunc) Segment(ctx context.Context, img *image.RGBA) (*image.Alpha, error) {
	return f(ctx, img)
}

// segment runs s and returns a mask scaled to img's bounds, reusing dst when
// it already has the right size.
func segment(ctx context.Context, s Segmenter, img *image.RGBA, dst *image.Alpha) (SegmentationResult, error) {
	mask, err := s.Segment(ctx, img)
	if err != nil {
		return SegmentationResult{}, err
	}
	if mask == nil || mask.Rect.Empty() {
		return SegmentationResult{}, errEmptyMask
	}

	if mask.Rect != img.Rect {
		if dst == nil || dst.Rect != img.Rect {
			dst = image.NewAlpha(img.Rect)
		}
		draw.BiLinear.Scale(dst, dst.Rect, mask, mask.Rect, draw.Src, nil)
		mask = dst
	}
	return SegmentationResult{Image: img, Mask: mask}, nil
}

// ChromaKeySegmenter is a green-screen keyer: pixels whose chroma is close
// to Key are background.
type ChromaKeySegmenter struct {
	Key color.RGBA
	// Chroma distance (0-255 scale) below which a pixel is background.
	Threshold float64
	// Width of the ramp between background and foreground.
	Softness float64
	// Downsample > 1 produces a mask that many times smaller per side.
	Downsample int
}

// NewChromaKeySegmenter returns a keyer for key with a moderate tolerance.
func NewChromaKeySegmenter(key color.RGBA) *ChromaKeySegmenter {
	return &ChromaKeySegmenter{Key: key, Threshold: 40, Softness: 20, Downsample: 1}
}

// Segment implements Segmenter.
func (k *ChromaKeySegmenter) Segment(ctx context.Context, img *image.RGBA) (*image.Alpha, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	step := max(k.Downsample, 1)
	b := img.Rect
	mask := image.NewAlpha(image.Rect(0, 0, (b.Dx()+step-1)/step, (b.Dy()+step-1)/step))

	_, keyCb, keyCr := color.RGBToYCbCr(k.Key.R, k.Key.G, k.Key.B)
	soft := math.Max(k.Softness, 1)

	for my := 0; my < mask.Rect.Dy(); my++ {
		y := b.Min.Y + my*step
		for mx := 0; mx < mask.Rect.Dx(); mx++ {
			x := b.Min.X + mx*step
			i := img.PixOffset(x, y)
			_, cb, cr := color.RGBToYCbCr(img.Pix[i], img.Pix[i+1], img.Pix[i+2])

			d := math.Hypot(float64(cb)-float64(keyCb), float64(cr)-float64(keyCr))
			var a float64
			switch {
			case d <= k.Threshold:
				a = 0
			case d >= k.Threshold+soft:
				a = 255
			default:
				a = 255 * (d - k.Threshold) / soft
			}
			mask.Pix[my*mask.Stride+mx] = uint8(a)
		}
	}
	return mask, nil
}

var _ Segmenter = (*ChromaKeySegmenter)(nil)
