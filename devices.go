package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrNoDevice is returned when no device of the requested kind exists.
	ErrNoDevice = errors.New("no device available")
	// ErrDeviceUnavailable is returned when a device exists but cannot be
	// opened (denied, busy or unplugged mid-open).
	ErrDeviceUnavailable = errors.New("device unavailable")
)

// DeviceKind represents the type of media device.
type DeviceKind int

const (
	DeviceKindVideoInput  DeviceKind = iota // Camera
	DeviceKindAudioInput                    // Microphone
	DeviceKindAudioOutput                   // Speaker/headphones
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceKindVideoInput:
		return "videoinput"
	case DeviceKindAudioInput:
		return "audioinput"
	case DeviceKindAudioOutput:
		return "audiooutput"
	default:
		return "unknown"
	}
}

// DeviceInfo describes a media device (like browser's MediaDeviceInfo).
type DeviceInfo struct {
	DeviceID string     // Unique identifier for the device
	GroupID  string     // Group identifier (devices with same groupID belong together)
	Kind     DeviceKind // Device type
	Label    string     // Human-readable device name
}

// Ref returns the selection handle for the device.
func (d DeviceInfo) Ref() DeviceRef {
	return DeviceRef{DeviceID: d.DeviceID, Label: d.Label}
}

// DeviceRef identifies a selected device. The zero value means no device.
type DeviceRef struct {
	DeviceID string `yaml:"device_id"`
	Label    string `yaml:"label,omitempty"`
}

// IsZero reports whether r selects nothing.
func (r DeviceRef) IsZero() bool { return r.DeviceID == "" }

func (r DeviceRef) String() string {
	if r.IsZero() {
		return "none"
	}
	if r.Label == "" {
		return r.DeviceID
	}
	return r.Label + " (" + r.DeviceID + ")"
}

// UserMediaOptions configures getUserMedia.
type UserMediaOptions struct {
	Video *VideoConstraints // nil = no video
	Audio *AudioConstraints // nil = no audio
}

// VideoConstraints for getUserMedia video.
type VideoConstraints struct {
	DeviceID  string // Specific device ID
	Width     int    // Requested width
	Height    int    // Requested height
	FrameRate int    // Requested framerate
}

// AudioConstraints for getUserMedia audio.
type AudioConstraints struct {
	DeviceID         string // Specific device ID
	SampleRate       int    // Requested sample rate
	ChannelCount     int    // Requested channels
	EchoCancellation bool   // Enable echo cancellation
	NoiseSuppression bool   // Enable noise suppression
}

// MediaDevices provides access to media input devices (like navigator.mediaDevices).
type MediaDevices interface {
	// EnumerateDevices returns a list of available media devices.
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)

	// GetUserMedia returns a MediaStream with the requested camera and/or
	// microphone tracks. Either all requested tracks open or none do.
	GetUserMedia(ctx context.Context, options UserMediaOptions) (MediaStream, error)

	// OnDeviceChange sets a callback for device connection/disconnection events.
	OnDeviceChange(callback func())
}

// DeviceProvider is implemented by platform-specific device implementations.
type DeviceProvider interface {
	// ListVideoDevices returns available video input devices.
	ListVideoDevices(ctx context.Context) ([]DeviceInfo, error)

	// ListAudioInputDevices returns available audio input devices.
	ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error)

	// ListAudioOutputDevices returns available audio output devices.
	ListAudioOutputDevices(ctx context.Context) ([]DeviceInfo, error)

	// OpenVideoDevice opens a video input device.
	OpenVideoDevice(ctx context.Context, deviceID string, constraints *VideoConstraints) (VideoTrack, error)

	// OpenAudioDevice opens an audio input device.
	OpenAudioDevice(ctx context.Context, deviceID string, constraints *AudioConstraints) (AudioTrack, error)
}

// DefaultMediaDevices implements MediaDevices on top of a DeviceProvider.
type DefaultMediaDevices struct {
	provider       DeviceProvider
	logger         *slog.Logger
	deviceChangeCb func()
	mu             sync.RWMutex
}

// NewMediaDevices returns MediaDevices backed by provider.
func NewMediaDevices(provider DeviceProvider) *DefaultMediaDevices {
	return &DefaultMediaDevices{provider: provider, logger: slog.Default()}
}

// EnumerateDevices implements MediaDevices. A kind whose listing fails is
// skipped.
func (d *DefaultMediaDevices) EnumerateDevices(ctx context.Context) ([]DeviceInfo, error) {
	listers := []struct {
		kind DeviceKind
		list func(context.Context) ([]DeviceInfo, error)
	}{
		{DeviceKindVideoInput, d.provider.ListVideoDevices},
		{DeviceKindAudioInput, d.provider.ListAudioInputDevices},
		{DeviceKindAudioOutput, d.provider.ListAudioOutputDevices},
	}

	var devices []DeviceInfo
	for _, l := range listers {
		found, err := l.list(ctx)
		if err != nil {
			d.logger.Debug("device listing failed", "kind", l.kind, "error", err)
			continue
		}
		devices = append(devices, found...)
	}
	return devices, nil
}

// GetUserMedia implements MediaDevices. An empty device ID picks the first
// device of that kind.
func (d *DefaultMediaDevices) GetUserMedia(ctx context.Context, options UserMediaOptions) (MediaStream, error) {
	stream := NewMediaStream("")

	if options.Video != nil {
		deviceID := options.Video.DeviceID
		if deviceID == "" {
			id, err := firstDeviceID(ctx, d.provider.ListVideoDevices)
			if err != nil {
				return nil, fmt.Errorf("video: %w", err)
			}
			deviceID = id
		}

		videoTrack, err := d.provider.OpenVideoDevice(ctx, deviceID, options.Video)
		if err != nil {
			return nil, fmt.Errorf("open video device %q: %w", deviceID, err)
		}
		stream.AddTrack(videoTrack)
	}

	if options.Audio != nil {
		deviceID := options.Audio.DeviceID
		if deviceID == "" {
			id, err := firstDeviceID(ctx, d.provider.ListAudioInputDevices)
			if err != nil {
				stream.Close()
				return nil, fmt.Errorf("audio: %w", err)
			}
			deviceID = id
		}

		audioTrack, err := d.provider.OpenAudioDevice(ctx, deviceID, options.Audio)
		if err != nil {
			// Release the camera if we already opened it
			stream.Close()
			return nil, fmt.Errorf("open audio device %q: %w", deviceID, err)
		}
		stream.AddTrack(audioTrack)
	}

	return stream, nil
}

func firstDeviceID(ctx context.Context, list func(context.Context) ([]DeviceInfo, error)) (string, error) {
	devices, err := list(ctx)
	if err != nil {
		return "", fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		return "", ErrNoDevice
	}
	return devices[0].DeviceID, nil
}

// OnDeviceChange implements MediaDevices.
func (d *DefaultMediaDevices) OnDeviceChange(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deviceChangeCb = callback
}

// NotifyDeviceChange should be called by the DeviceProvider when devices change.
func (d *DefaultMediaDevices) NotifyDeviceChange() {
	d.mu.RLock()
	cb := d.deviceChangeCb
	d.mu.RUnlock()

	if cb != nil {
		go cb()
	}
}
