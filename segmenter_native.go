//go:build (darwin || linux) && (amd64 || arm64)

package media

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

// libstream_segmenter function pointers
var (
	streamSegmenterCreate   func(width, height int32) uint64
	streamSegmenterProcess  func(handle uint64, rgba uintptr, width, height, stride int32, mask uintptr) int32
	streamSegmenterDestroy  func(handle uint64)
	streamSegmenterGetError func() uintptr
)

var segmenterLib = &nativeLibrary{
	base:   "libstream_segmenter",
	envVar: "STREAM_SEGMENTER_LIB_PATH",
	bind: func(h uintptr) {
		purego.RegisterLibFunc(&streamSegmenterCreate, h, "stream_segmenter_create")
		purego.RegisterLibFunc(&streamSegmenterProcess, h, "stream_segmenter_process")
		purego.RegisterLibFunc(&streamSegmenterDestroy, h, "stream_segmenter_destroy")
		purego.RegisterLibFunc(&streamSegmenterGetError, h, "stream_segmenter_get_error")
	},
}

// IsNativeSegmenterAvailable reports whether libstream_segmenter could be
// loaded.
func IsNativeSegmenterAvailable() bool { return segmenterLib.load() == nil }

// NativeSegmenter runs person segmentation in libstream_segmenter. The model
// instance is sized to the frames it sees and recreated when they change.
type NativeSegmenter struct {
	mu     sync.Mutex
	handle uint64
	size   image.Point
}

// NewNativeSegmenter loads the library. It fails with an error wrapping
// ErrNotSupported when the library is missing.
func NewNativeSegmenter() (*NativeSegmenter, error) {
	if err := segmenterLib.load(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSupported, err)
	}
	return &NativeSegmenter{}, nil
}

// Segment implements Segmenter. The mask matches img's size.
func (s *NativeSegmenter) Segment(ctx context.Context, img *image.RGBA) (*image.Alpha, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	size := img.Rect.Size()
	if s.handle == 0 || s.size != size {
		s.destroyLocked()
		s.handle = streamSegmenterCreate(int32(size.X), int32(size.Y))
		if s.handle == 0 {
			return nil, fmt.Errorf("create segmenter: %s", goStringFromPtr(streamSegmenterGetError()))
		}
		s.size = size
	}

	mask := image.NewAlpha(image.Rect(0, 0, size.X, size.Y))
	rc := streamSegmenterProcess(s.handle, bytePtr(img.Pix), int32(size.X), int32(size.Y), int32(img.Stride), bytePtr(mask.Pix))
	runtime.KeepAlive(img)
	runtime.KeepAlive(mask)
	if rc != 0 {
		return nil, fmt.Errorf("segment frame: %s", goStringFromPtr(streamSegmenterGetError()))
	}
	return mask, nil
}

// Close releases the model.
func (s *NativeSegmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyLocked()
	return nil
}

func (s *NativeSegmenter) destroyLocked() {
	if s.handle != 0 {
		streamSegmenterDestroy(s.handle)
		s.handle = 0
	}
}

var _ Segmenter = (*NativeSegmenter)(nil)
