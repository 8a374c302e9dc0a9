//go:build !((darwin || linux) && (amd64 || arm64))

package media

import (
	"context"
	"image"
)

// IsNativeSegmenterAvailable reports false on this platform.
func IsNativeSegmenterAvailable() bool { return false }

// NativeSegmenter is unavailable on this platform.
type NativeSegmenter struct{}

// NewNativeSegmenter always fails with ErrNotSupported here.
func NewNativeSegmenter() (*NativeSegmenter, error) { return nil, ErrNotSupported }

func (s *NativeSegmenter) Segment(context.Context, *image.RGBA) (*image.Alpha, error) {
	return nil, ErrNotSupported
}

func (s *NativeSegmenter) Close() error { return nil }
