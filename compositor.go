package media

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// BlendMode defines how a layer combines with what is already on the canvas.
// Canvas and layers are premultiplied RGBA.
type BlendMode int32

const (
	BlendModeCopy            BlendMode = 0 // Layer replaces the canvas
	BlendModeOver            BlendMode = 1 // Porter-Duff over (standard alpha blend)
	BlendModeSourceIn        BlendMode = 2 // Layer kept only where the canvas is opaque
	BlendModeDestinationOver BlendMode = 3 // Layer fills only where the canvas is transparent
)

func (m BlendMode) String() string {
	switch m {
	case BlendModeCopy:
		return "copy"
	case BlendModeOver:
		return "source-over"
	case BlendModeSourceIn:
		return "source-in"
	case BlendModeDestinationOver:
		return "destination-over"
	default:
		return "unknown"
	}
}

// BackgroundCompositor replaces the background of a segmented frame in two
// passes: the frame is drawn through the mask (source-in), then the
// replacement is drawn behind it (destination-over). Foreground pixels are
// never touched by the replacement and background pixels are fully covered.
// It is not safe for concurrent use.
type BackgroundCompositor struct {
	canvas  *image.RGBA
	scratch *image.RGBA
}

// NewBackgroundCompositor returns a compositor for a fixed canvas size.
func NewBackgroundCompositor(width, height int) *BackgroundCompositor {
	r := image.Rect(0, 0, width, height)
	return &BackgroundCompositor{canvas: image.NewRGBA(r), scratch: image.NewRGBA(r)}
}

// Bounds returns the canvas rectangle.
func (c *BackgroundCompositor) Bounds() image.Rectangle { return c.canvas.Rect }

// Composite draws seg over replacement and returns the canvas. Both inputs
// must cover the canvas; the result is valid until the next call.
func (c *BackgroundCompositor) Composite(seg SegmentationResult, replacement image.Image) *image.RGBA {
	// Pass 0: the mask alone establishes canvas coverage.
	c.blend(image.NewUniform(color.Black), seg.Mask, BlendModeCopy)
	// Pass 1: the frame where the canvas is covered.
	c.blend(seg.Image, seg.Mask, BlendModeSourceIn)
	// Pass 2: the replacement where it is not.
	c.blend(replacement, nil, BlendModeDestinationOver)
	return c.canvas
}

// blend composites src onto the canvas with mode. mask, when set, scales
// src coverage.
func (c *BackgroundCompositor) blend(src image.Image, mask image.Image, mode BlendMode) {
	r := c.canvas.Rect
	sp := src.Bounds().Min
	var mp image.Point
	if mask != nil {
		mp = mask.Bounds().Min
	}

	switch mode {
	case BlendModeCopy:
		draw.DrawMask(c.canvas, r, src, sp, mask, mp, draw.Src)
	case BlendModeOver:
		draw.DrawMask(c.canvas, r, src, sp, mask, mp, draw.Over)
	case BlendModeSourceIn:
		// After pass 0 the canvas alpha equals the mask, so drawing src
		// through the mask with Src is src IN canvas.
		draw.DrawMask(c.canvas, r, src, sp, mask, mp, draw.Src)
	case BlendModeDestinationOver:
		// dst-over(canvas, src) == src-over(src, canvas)
		draw.DrawMask(c.scratch, r, src, sp, mask, mp, draw.Src)
		draw.Draw(c.scratch, r, c.canvas, r.Min, draw.Over)
		c.canvas, c.scratch = c.scratch, c.canvas
	}
}
