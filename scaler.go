package media

import "image"

// ScaleMode defines how scaling handles aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeFit scales to fit within the target, preserving aspect ratio
	// and letterboxing with black.
	ScaleModeFit ScaleMode = iota
	// ScaleModeFill scales to cover the target, preserving aspect ratio and
	// cropping the centre.
	ScaleModeFill
	// ScaleModeStretch scales to exactly match the target (may distort).
	ScaleModeStretch
)

func (m ScaleMode) String() string {
	switch m {
	case ScaleModeFit:
		return "fit"
	case ScaleModeFill:
		return "fill"
	case ScaleModeStretch:
		return "stretch"
	default:
		return "unknown"
	}
}

// ScaleFrame scales an I420 frame to dstWidth x dstHeight. Odd target sizes
// round up. The result is a new frame unless frame already has the target
// size, in which case frame itself is returned.
func ScaleFrame(frame *VideoFrame, dstWidth, dstHeight int, mode ScaleMode) *VideoFrame {
	dstWidth, dstHeight = (dstWidth+1)&^1, (dstHeight+1)&^1
	if frame.Width == dstWidth && frame.Height == dstHeight {
		return frame
	}

	out := NewI420Frame(dstWidth, dstHeight)
	out.Timestamp = frame.Timestamp
	out.Duration = frame.Duration

	src, dst := scaleRects(frame.Width, frame.Height, dstWidth, dstHeight, mode)
	if dst != out.Bounds() {
		clearI420(out)
	}

	scalePlane(frame.Data[0], frame.Stride[0], src, out.Data[0], out.Stride[0], dst)
	srcC, dstC := halveRect(src), halveRect(dst)
	scalePlane(frame.Data[1], frame.Stride[1], srcC, out.Data[1], out.Stride[1], dstC)
	scalePlane(frame.Data[2], frame.Stride[2], srcC, out.Data[2], out.Stride[2], dstC)
	return out
}

// scaleRects returns the source region to read and the destination region to
// write for the given mode. Both have even coordinates.
func scaleRects(srcW, srcH, dstW, dstH int, mode ScaleMode) (src, dst image.Rectangle) {
	src = image.Rect(0, 0, srcW, srcH)
	dst = image.Rect(0, 0, dstW, dstH)

	switch mode {
	case ScaleModeFill:
		if srcW*dstH > dstW*srcH {
			// Source is wider, crop horizontally
			w := (srcH * dstW / dstH) &^ 1
			x := ((srcW - w) / 2) &^ 1
			src = image.Rect(x, 0, x+w, srcH)
		} else if srcW*dstH < dstW*srcH {
			// Source is taller, crop vertically
			h := (srcW * dstH / dstW) &^ 1
			y := ((srcH - h) / 2) &^ 1
			src = image.Rect(0, y, srcW, y+h)
		}
	case ScaleModeFit:
		w, h := CalculateScaledSize(srcW, srcH, dstW, dstH, ScaleModeFit)
		x := ((dstW - w) / 2) &^ 1
		y := ((dstH - h) / 2) &^ 1
		dst = image.Rect(x, y, x+w, y+h)
	}
	return src, dst
}

func halveRect(r image.Rectangle) image.Rectangle {
	return image.Rect(r.Min.X/2, r.Min.Y/2, r.Max.X/2, r.Max.Y/2)
}

// clearI420 paints the frame black.
func clearI420(f *VideoFrame) {
	clear(f.Data[0])
	for _, p := range f.Data[1:3] {
		for i := range p {
			p[i] = 128
		}
	}
}

// scalePlane resamples the src region of one plane into the dst region using
// 16.16 fixed-point bilinear interpolation.
func scalePlane(src []byte, srcStride int, sr image.Rectangle, dst []byte, dstStride int, dr image.Rectangle) {
	srcW, srcH := sr.Dx(), sr.Dy()
	dstW, dstH := dr.Dx(), dr.Dy()
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		fy := y * yRatio
		y0 := sr.Min.Y + fy>>16
		y1 := min(y0+1, sr.Max.Y-1)
		wy := fy & 0xFFFF

		row0 := src[y0*srcStride:]
		row1 := src[y1*srcStride:]
		out := dst[(dr.Min.Y+y)*dstStride+dr.Min.X:]

		for x := 0; x < dstW; x++ {
			fx := x * xRatio
			x0 := sr.Min.X + fx>>16
			x1 := min(x0+1, sr.Max.X-1)
			wx := fx & 0xFFFF

			top := (int(row0[x0])*(0x10000-wx) + int(row0[x1])*wx) >> 16
			bottom := (int(row1[x0])*(0x10000-wx) + int(row1[x1])*wx) >> 16
			out[x] = byte((top*(0x10000-wy) + bottom*wy) >> 16)
		}
	}
}

// CalculateScaledSize returns the output dimensions when scaling with a given
// mode. For ScaleModeFit this is the letterboxed picture size.
func CalculateScaledSize(srcW, srcH, maxW, maxH int, mode ScaleMode) (w, h int) {
	if mode != ScaleModeFit || srcW <= 0 || srcH <= 0 {
		return maxW, maxH
	}

	if srcW*maxH > maxW*srcH {
		// Source is wider, fit to width
		w = maxW
		h = maxW * srcH / srcW
	} else {
		// Source is taller, fit to height
		h = maxH
		w = maxH * srcW / srcH
	}
	// Even dimensions for 4:2:0, never past the bounds
	return min((w+1)&^1, maxW), min((h+1)&^1, maxH)
}
