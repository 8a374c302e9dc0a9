package media

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// VirtualDeviceProvider is a DeviceProvider whose cameras are animated test
// patterns and whose microphones are tone generators. It keeps count of open
// captures per kind, which makes it useful for demos and for checking device
// ownership.
type VirtualDeviceProvider struct {
	mu          sync.Mutex
	cameras     []DeviceInfo
	microphones []DeviceInfo

	failures  map[string]int // device ID -> opens left to fail
	opens     map[string]int // device ID -> successful opens
	active    map[DeviceKind]int
	maxActive map[DeviceKind]int

	// Camera output size and rate.
	Width, Height, FPS int
}

// NewVirtualDeviceProvider returns a provider with no devices.
func NewVirtualDeviceProvider() *VirtualDeviceProvider {
	return &VirtualDeviceProvider{
		failures:  make(map[string]int),
		opens:     make(map[string]int),
		active:    make(map[DeviceKind]int),
		maxActive: make(map[DeviceKind]int),
		Width:     640,
		Height:    360,
		FPS:       15,
	}
}

// AddCamera registers a virtual camera.
func (p *VirtualDeviceProvider) AddCamera(id, label string) DeviceInfo {
	info := DeviceInfo{DeviceID: id, GroupID: id, Kind: DeviceKindVideoInput, Label: label}
	p.mu.Lock()
	p.cameras = append(p.cameras, info)
	p.mu.Unlock()
	return info
}

// AddMicrophone registers a virtual microphone.
func (p *VirtualDeviceProvider) AddMicrophone(id, label string) DeviceInfo {
	info := DeviceInfo{DeviceID: id, GroupID: id, Kind: DeviceKindAudioInput, Label: label}
	p.mu.Lock()
	p.microphones = append(p.microphones, info)
	p.mu.Unlock()
	return info
}

// RemoveDevice unplugs a device. Tracks already open keep running.
func (p *VirtualDeviceProvider) RemoveDevice(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	match := func(d DeviceInfo) bool { return d.DeviceID == id }
	p.cameras = slices.DeleteFunc(p.cameras, match)
	p.microphones = slices.DeleteFunc(p.microphones, match)
}

// FailNext makes the next n opens of the device fail with ErrDeviceUnavailable.
func (p *VirtualDeviceProvider) FailNext(id string, n int) {
	p.mu.Lock()
	p.failures[id] = n
	p.mu.Unlock()
}

// Opens returns how many times the device was opened successfully.
func (p *VirtualDeviceProvider) Opens(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens[id]
}

// Active returns the number of open captures of the given kind.
func (p *VirtualDeviceProvider) Active(kind DeviceKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[kind]
}

// MaxActive returns the highest number of simultaneously open captures of
// the given kind seen so far.
func (p *VirtualDeviceProvider) MaxActive(kind DeviceKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive[kind]
}

func (p *VirtualDeviceProvider) ListVideoDevices(context.Context) ([]DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.cameras), nil
}

func (p *VirtualDeviceProvider) ListAudioInputDevices(context.Context) ([]DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.microphones), nil
}

func (p *VirtualDeviceProvider) ListAudioOutputDevices(context.Context) ([]DeviceInfo, error) {
	return nil, nil
}

// OpenVideoDevice starts a presenter test pattern for the camera.
func (p *VirtualDeviceProvider) OpenVideoDevice(ctx context.Context, deviceID string, constraints *VideoConstraints) (VideoTrack, error) {
	info, err := p.acquire(DeviceKindVideoInput, deviceID)
	if err != nil {
		return nil, err
	}

	cfg := TestPatternConfig{
		Width:    p.Width,
		Height:   p.Height,
		FPS:      p.FPS,
		Pattern:  PatternPresenter,
		Animated: true,
	}
	if constraints != nil {
		if constraints.Width > 0 && constraints.Height > 0 {
			cfg.Width, cfg.Height = constraints.Width, constraints.Height
		}
		if constraints.FrameRate > 0 {
			cfg.FPS = constraints.FrameRate
		}
	}

	src := &releasingVideoSource{
		VideoSource: NewTestPatternSource(cfg),
		release:     func() { p.release(DeviceKindVideoInput) },
	}
	track, err := NewVideoSourceTrack(ctx, src, info.Label, info.DeviceID)
	if err != nil {
		return nil, err
	}
	return track, nil
}

// OpenAudioDevice starts a 440 Hz tone for the microphone.
func (p *VirtualDeviceProvider) OpenAudioDevice(ctx context.Context, deviceID string, constraints *AudioConstraints) (AudioTrack, error) {
	info, err := p.acquire(DeviceKindAudioInput, deviceID)
	if err != nil {
		return nil, err
	}

	cfg := ToneConfig{Pattern: TonePatternSine, Amplitude: 0.2}
	if constraints != nil {
		cfg.SampleRate = constraints.SampleRate
		cfg.Channels = constraints.ChannelCount
	}

	src := &releasingAudioSource{
		AudioSource: NewToneSource(cfg),
		release:     func() { p.release(DeviceKindAudioInput) },
	}
	track, err := NewAudioSourceTrack(ctx, src, info.Label, info.DeviceID)
	if err != nil {
		return nil, err
	}
	return track, nil
}

// acquire looks the device up and counts it as open.
func (p *VirtualDeviceProvider) acquire(kind DeviceKind, deviceID string) (DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.microphones
	if kind == DeviceKindVideoInput {
		list = p.cameras
	}
	i := slices.IndexFunc(list, func(d DeviceInfo) bool { return d.DeviceID == deviceID })
	if i < 0 {
		return DeviceInfo{}, fmt.Errorf("%s %q: %w", kind, deviceID, ErrNoDevice)
	}
	if p.failures[deviceID] > 0 {
		p.failures[deviceID]--
		return DeviceInfo{}, fmt.Errorf("%s %q: %w", kind, deviceID, ErrDeviceUnavailable)
	}

	p.opens[deviceID]++
	p.active[kind]++
	p.maxActive[kind] = max(p.maxActive[kind], p.active[kind])
	return list[i], nil
}

func (p *VirtualDeviceProvider) release(kind DeviceKind) {
	p.mu.Lock()
	p.active[kind]--
	p.mu.Unlock()
}

// releasingVideoSource runs release once after the wrapped source closes.
type releasingVideoSource struct {
	VideoSource
	once    sync.Once
	release func()
}

func (s *releasingVideoSource) Close() error {
	err := s.VideoSource.Close()
	s.once.Do(s.release)
	return err
}

type releasingAudioSource struct {
	AudioSource
	once    sync.Once
	release func()
}

func (s *releasingAudioSource) Close() error {
	err := s.AudioSource.Close()
	s.once.Do(s.release)
	return err
}

var _ DeviceProvider = (*VirtualDeviceProvider)(nil)
