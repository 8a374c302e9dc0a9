//go:build linux && (amd64 || arm64)

package media

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

// libstream_v4l2 function pointers
var (
	streamV4L2DeviceCount      func() int32
	streamV4L2DevicePath       func(index int32) uintptr
	streamV4L2DeviceName       func(index int32) uintptr
	streamV4L2FreeString       func(ptr uintptr)
	streamV4L2CaptureCreate    func(devicePath uintptr, width, height, fps int32, callback, userData uintptr) uint64
	streamV4L2CaptureStart     func(handle uint64) int32
	streamV4L2CaptureStop      func(handle uint64) int32
	streamV4L2CaptureDestroy   func(handle uint64)
	streamV4L2CaptureGetWidth  func(handle uint64) int32
	streamV4L2CaptureGetHeight func(handle uint64) int32
	streamV4L2CaptureGetFPS    func(handle uint64) int32
	streamV4L2GetError         func() uintptr
)

// libstream_alsa function pointers
var (
	streamALSAInputDeviceCount     func() int32
	streamALSAInputDeviceID        func(index int32) uintptr
	streamALSAInputDeviceName      func(index int32) uintptr
	streamALSAFreeString           func(ptr uintptr)
	streamALSACaptureCreate        func(deviceID uintptr, sampleRate, channels int32, callback, userData uintptr) uint64
	streamALSACaptureStart         func(handle uint64) int32
	streamALSACaptureStop          func(handle uint64) int32
	streamALSACaptureDestroy       func(handle uint64)
	streamALSACaptureGetSampleRate func(handle uint64) int32
	streamALSACaptureGetChannels   func(handle uint64) int32
	streamALSAGetError             func() uintptr
)

var v4l2Lib = &nativeLibrary{
	base:   "libstream_v4l2",
	envVar: "STREAM_V4L2_LIB_PATH",
	bind: func(h uintptr) {
		purego.RegisterLibFunc(&streamV4L2DeviceCount, h, "stream_v4l2_device_count")
		purego.RegisterLibFunc(&streamV4L2DevicePath, h, "stream_v4l2_device_path")
		purego.RegisterLibFunc(&streamV4L2DeviceName, h, "stream_v4l2_device_name")
		purego.RegisterLibFunc(&streamV4L2FreeString, h, "stream_v4l2_free_string")
		purego.RegisterLibFunc(&streamV4L2CaptureCreate, h, "stream_v4l2_capture_create")
		purego.RegisterLibFunc(&streamV4L2CaptureStart, h, "stream_v4l2_capture_start")
		purego.RegisterLibFunc(&streamV4L2CaptureStop, h, "stream_v4l2_capture_stop")
		purego.RegisterLibFunc(&streamV4L2CaptureDestroy, h, "stream_v4l2_capture_destroy")
		purego.RegisterLibFunc(&streamV4L2CaptureGetWidth, h, "stream_v4l2_capture_get_width")
		purego.RegisterLibFunc(&streamV4L2CaptureGetHeight, h, "stream_v4l2_capture_get_height")
		purego.RegisterLibFunc(&streamV4L2CaptureGetFPS, h, "stream_v4l2_capture_get_fps")
		purego.RegisterLibFunc(&streamV4L2GetError, h, "stream_v4l2_get_error")
	},
}

var alsaLib = &nativeLibrary{
	base:   "libstream_alsa",
	envVar: "STREAM_ALSA_LIB_PATH",
	bind: func(h uintptr) {
		purego.RegisterLibFunc(&streamALSAInputDeviceCount, h, "stream_alsa_input_device_count")
		purego.RegisterLibFunc(&streamALSAInputDeviceID, h, "stream_alsa_input_device_id")
		purego.RegisterLibFunc(&streamALSAInputDeviceName, h, "stream_alsa_input_device_name")
		purego.RegisterLibFunc(&streamALSAFreeString, h, "stream_alsa_free_string")
		purego.RegisterLibFunc(&streamALSACaptureCreate, h, "stream_alsa_capture_create")
		purego.RegisterLibFunc(&streamALSACaptureStart, h, "stream_alsa_capture_start")
		purego.RegisterLibFunc(&streamALSACaptureStop, h, "stream_alsa_capture_stop")
		purego.RegisterLibFunc(&streamALSACaptureDestroy, h, "stream_alsa_capture_destroy")
		purego.RegisterLibFunc(&streamALSACaptureGetSampleRate, h, "stream_alsa_capture_get_sample_rate")
		purego.RegisterLibFunc(&streamALSACaptureGetChannels, h, "stream_alsa_capture_get_channels")
		purego.RegisterLibFunc(&streamALSAGetError, h, "stream_alsa_get_error")
	},
}

// IsV4L2Available reports whether libstream_v4l2 could be loaded.
func IsV4L2Available() bool { return v4l2Lib.load() == nil }

// IsALSAAvailable reports whether libstream_alsa could be loaded.
func IsALSAAvailable() bool { return alsaLib.load() == nil }

// Native captures by the user-data token handed to the C side.
var (
	linuxCaptures  sync.Map // uintptr -> *nativeCapture
	nextCaptureTok atomic.Uintptr

	callbacksOnce     sync.Once
	v4l2FrameCallback uintptr
	alsaAudioCallback uintptr
)

type nativeCapture struct {
	video atomic.Pointer[FrameTrack]
	audio atomic.Pointer[SampleTrack]
}

func nativeCallbacks() (video, audio uintptr) {
	callbacksOnce.Do(func() {
		v4l2FrameCallback = purego.NewCallback(onV4L2Frame)
		alsaAudioCallback = purego.NewCallback(onALSASamples)
	})
	return v4l2FrameCallback, alsaAudioCallback
}

// onV4L2Frame copies a captured frame out of C memory into the track.
func onV4L2Frame(
	yPlane uintptr, yStride int32,
	uPlane uintptr, uStride int32,
	vPlane uintptr, vStride int32,
	width, height int32,
	timestampNs int64,
	userData uintptr,
) {
	v, ok := linuxCaptures.Load(userData)
	if !ok {
		return
	}
	track := v.(*nativeCapture).video.Load()
	if track == nil {
		return
	}

	uvHeight := int(height+1) / 2
	frame := &VideoFrame{
		Data: [][]byte{
			unsafe.Slice((*byte)(unsafe.Pointer(yPlane)), int(yStride)*int(height)),
			unsafe.Slice((*byte)(unsafe.Pointer(uPlane)), int(uStride)*uvHeight),
			unsafe.Slice((*byte)(unsafe.Pointer(vPlane)), int(vStride)*uvHeight),
		},
		Stride:    []int{int(yStride), int(uStride), int(vStride)},
		Width:     int(width),
		Height:    int(height),
		Format:    PixelFormatI420,
		Timestamp: timestampNs,
	}
	track.Push(frame.Clone())
}

// onALSASamples copies interleaved S16 samples into the track.
func onALSASamples(data uintptr, sampleCount, channels int32, timestampNs int64, userData uintptr) {
	v, ok := linuxCaptures.Load(userData)
	if !ok {
		return
	}
	track := v.(*nativeCapture).audio.Load()
	if track == nil {
		return
	}

	n := int(sampleCount) * int(channels) * AudioFormatS16.BytesPerSample()
	buf := make([]byte, n)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(data)), n))
	track.Push(&AudioSamples{
		Data:        buf,
		SampleRate:  track.Settings().SampleRate,
		Channels:    int(channels),
		SampleCount: int(sampleCount),
		Format:      AudioFormatS16,
		Timestamp:   timestampNs,
	})
}

// LinuxDeviceProvider implements DeviceProvider with V4L2 cameras and ALSA
// microphones through the libstream_v4l2 and libstream_alsa libraries.
type LinuxDeviceProvider struct {
	mu sync.Mutex
}

// NewNativeDeviceProvider returns the platform device provider, or an error
// wrapping ErrNotSupported when neither capture library is installed.
func NewNativeDeviceProvider() (DeviceProvider, error) {
	v4l2Err, alsaErr := v4l2Lib.load(), alsaLib.load()
	if v4l2Err != nil && alsaErr != nil {
		return nil, fmt.Errorf("%w: %v; %v", ErrNotSupported, v4l2Err, alsaErr)
	}
	return &LinuxDeviceProvider{}, nil
}

func listNative(count func() int32, id, name func(int32) uintptr, free func(uintptr), kind DeviceKind) []DeviceInfo {
	n := count()
	devices := make([]DeviceInfo, 0, n)
	for i := int32(0); i < n; i++ {
		idPtr, namePtr := id(i), name(i)
		if idPtr != 0 && namePtr != 0 {
			devices = append(devices, DeviceInfo{
				DeviceID: goStringFromPtr(idPtr),
				Label:    goStringFromPtr(namePtr),
				Kind:     kind,
			})
		}
		if idPtr != 0 {
			free(idPtr)
		}
		if namePtr != 0 {
			free(namePtr)
		}
	}
	return devices
}

// ListVideoDevices returns V4L2 devices; the device path is the ID.
func (p *LinuxDeviceProvider) ListVideoDevices(ctx context.Context) ([]DeviceInfo, error) {
	if err := v4l2Lib.load(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSupported, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return listNative(streamV4L2DeviceCount, streamV4L2DevicePath, streamV4L2DeviceName, streamV4L2FreeString, DeviceKindVideoInput), nil
}

// ListAudioInputDevices returns ALSA capture devices.
func (p *LinuxDeviceProvider) ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error) {
	if err := alsaLib.load(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSupported, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return listNative(streamALSAInputDeviceCount, streamALSAInputDeviceID, streamALSAInputDeviceName, streamALSAFreeString, DeviceKindAudioInput), nil
}

// ListAudioOutputDevices is not supported; outputs are not needed for
// publishing.
func (p *LinuxDeviceProvider) ListAudioOutputDevices(ctx context.Context) ([]DeviceInfo, error) {
	return nil, nil
}

func (p *LinuxDeviceProvider) labelFor(ctx context.Context, list func(context.Context) ([]DeviceInfo, error), id string) string {
	devices, _ := list(ctx)
	for _, d := range devices {
		if d.DeviceID == id {
			return d.Label
		}
	}
	return id
}

// OpenVideoDevice starts a V4L2 capture delivering I420 frames.
func (p *LinuxDeviceProvider) OpenVideoDevice(ctx context.Context, deviceID string, constraints *VideoConstraints) (VideoTrack, error) {
	if err := v4l2Lib.load(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSupported, err)
	}

	width, height, fps := 1280, 720, 30
	if constraints != nil {
		if constraints.Width > 0 && constraints.Height > 0 {
			width, height = constraints.Width, constraints.Height
		}
		if constraints.FrameRate > 0 {
			fps = constraints.FrameRate
		}
	}

	label := p.labelFor(ctx, p.ListVideoDevices, deviceID)
	videoCb, _ := nativeCallbacks()
	tok := nextCaptureTok.Add(1)
	capture := &nativeCapture{}
	linuxCaptures.Store(tok, capture)

	path := append([]byte(deviceID), 0)
	handle := streamV4L2CaptureCreate(bytePtr(path), int32(width), int32(height), int32(fps), videoCb, tok)
	runtime.KeepAlive(path)
	if handle == 0 {
		linuxCaptures.Delete(tok)
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, goStringFromPtr(streamV4L2GetError()))
	}

	track := NewFrameTrack(label, deviceID, VideoTrackSettings{
		Width:     int(streamV4L2CaptureGetWidth(handle)),
		Height:    int(streamV4L2CaptureGetHeight(handle)),
		FrameRate: int(streamV4L2CaptureGetFPS(handle)),
	}, func() error {
		streamV4L2CaptureStop(handle)
		streamV4L2CaptureDestroy(handle)
		linuxCaptures.Delete(tok)
		return nil
	})
	capture.video.Store(track)

	if streamV4L2CaptureStart(handle) != 0 {
		err := fmt.Errorf("%w: %s", ErrDeviceUnavailable, goStringFromPtr(streamV4L2GetError()))
		track.Close()
		return nil, err
	}
	return track, nil
}

// OpenAudioDevice starts an ALSA capture delivering S16 samples.
func (p *LinuxDeviceProvider) OpenAudioDevice(ctx context.Context, deviceID string, constraints *AudioConstraints) (AudioTrack, error) {
	if err := alsaLib.load(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSupported, err)
	}

	sampleRate, channels := 48000, 1
	if constraints != nil {
		if constraints.SampleRate > 0 {
			sampleRate = constraints.SampleRate
		}
		if constraints.ChannelCount > 0 {
			channels = constraints.ChannelCount
		}
	}

	label := p.labelFor(ctx, p.ListAudioInputDevices, deviceID)
	_, audioCb := nativeCallbacks()
	tok := nextCaptureTok.Add(1)
	capture := &nativeCapture{}
	linuxCaptures.Store(tok, capture)

	id := append([]byte(deviceID), 0)
	handle := streamALSACaptureCreate(bytePtr(id), int32(sampleRate), int32(channels), audioCb, tok)
	runtime.KeepAlive(id)
	if handle == 0 {
		linuxCaptures.Delete(tok)
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, goStringFromPtr(streamALSAGetError()))
	}

	track := NewSampleTrack(label, deviceID, AudioTrackSettings{
		SampleRate:   int(streamALSACaptureGetSampleRate(handle)),
		ChannelCount: int(streamALSACaptureGetChannels(handle)),
	}, func() error {
		streamALSACaptureStop(handle)
		streamALSACaptureDestroy(handle)
		linuxCaptures.Delete(tok)
		return nil
	})
	capture.audio.Store(track)

	if streamALSACaptureStart(handle) != 0 {
		err := fmt.Errorf("%w: %s", ErrDeviceUnavailable, goStringFromPtr(streamALSAGetError()))
		track.Close()
		return nil, err
	}
	return track, nil
}

var _ DeviceProvider = (*LinuxDeviceProvider)(nil)
