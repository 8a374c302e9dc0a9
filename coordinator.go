package media

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/courtvideo/media/observe"
)

// MediaDeviceSelection is a snapshot of the user's device choices. It is
// comparable; two selections are the same iff they are ==.
type MediaDeviceSelection struct {
	Camera     DeviceRef
	Microphone DeviceRef
	AudioOnly  bool
}

// CoordinatorConfig configures a DeviceCoordinator.
type CoordinatorConfig struct {
	// Preferences remembers the last chosen devices. Nil keeps choices in
	// memory only.
	Preferences PreferenceStore
	// Scope prefixes preference keys, e.g. a participant or hearing ID.
	Scope  string
	Logger *slog.Logger
}

// DeviceCoordinator tracks the selected camera, microphone and audio-only
// flag as three independent signals. Each signal only notifies on change.
// None of its methods block on device I/O.
type DeviceCoordinator struct {
	camera     *observe.Value[DeviceRef]
	microphone *observe.Value[DeviceRef]
	audioOnly  *observe.Value[bool]

	prefs  PreferenceStore
	scope  string
	logger *slog.Logger
}

// NewDeviceCoordinator returns a coordinator with nothing selected.
func NewDeviceCoordinator(cfg CoordinatorConfig) *DeviceCoordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DeviceCoordinator{
		camera:     observe.NewValue(DeviceRef{}),
		microphone: observe.NewValue(DeviceRef{}),
		audioOnly:  observe.NewValue(false),
		prefs:      cfg.Preferences,
		scope:      cfg.Scope,
		logger:     cfg.Logger,
	}
}

// Camera is the selected camera signal.
func (c *DeviceCoordinator) Camera() *observe.Value[DeviceRef] { return c.camera }

// Microphone is the selected microphone signal.
func (c *DeviceCoordinator) Microphone() *observe.Value[DeviceRef] { return c.microphone }

// AudioOnly is the audio-only signal.
func (c *DeviceCoordinator) AudioOnly() *observe.Value[bool] { return c.audioOnly }

// Selection returns the current choices.
func (c *DeviceCoordinator) Selection() MediaDeviceSelection {
	return MediaDeviceSelection{
		Camera:     c.camera.Get(),
		Microphone: c.microphone.Get(),
		AudioOnly:  c.audioOnly.Get(),
	}
}

// SelectCamera selects ref as the camera. The zero DeviceRef clears it.
func (c *DeviceCoordinator) SelectCamera(ref DeviceRef) {
	if c.camera.Set(ref) {
		c.remember("camera", ref)
	}
}

// SelectMicrophone selects ref as the microphone. The zero DeviceRef clears it.
func (c *DeviceCoordinator) SelectMicrophone(ref DeviceRef) {
	if c.microphone.Set(ref) {
		c.remember("microphone", ref)
	}
}

// SetAudioOnly switches audio-only mode.
func (c *DeviceCoordinator) SetAudioOnly(on bool) {
	c.audioOnly.Set(on)
}

func (c *DeviceCoordinator) key(name string) string {
	if c.scope == "" {
		return name
	}
	return c.scope + "/" + name
}

func (c *DeviceCoordinator) remember(name string, ref DeviceRef) {
	if c.prefs == nil {
		return
	}
	var err error
	if ref.IsZero() {
		err = c.prefs.Delete(c.key(name))
	} else {
		err = c.prefs.Set(c.key(name), ref)
	}
	if err != nil {
		c.logger.Warn("saving device preference failed", "key", c.key(name), "error", err)
	}
}

// Restore selects the preferred camera and microphone if they are still
// plugged in. A kind with no usable preference falls back to the first
// available device, unless something is already selected.
func (c *DeviceCoordinator) Restore(ctx context.Context, devices MediaDevices) error {
	found, err := devices.EnumerateDevices(ctx)
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}

	restore := func(name string, kind DeviceKind, sig *observe.Value[DeviceRef], sel func(DeviceRef)) {
		var preferred DeviceRef
		if c.prefs != nil {
			preferred, _ = c.prefs.Get(c.key(name))
		}

		var first DeviceRef
		for _, d := range found {
			if d.Kind != kind {
				continue
			}
			if first.IsZero() {
				first = d.Ref()
			}
			if !preferred.IsZero() && d.DeviceID == preferred.DeviceID {
				sel(d.Ref())
				return
			}
		}

		if !preferred.IsZero() {
			c.logger.Info("preferred device missing", "kind", kind, "device_id", preferred.DeviceID)
		}
		if sig.Get().IsZero() && !first.IsZero() {
			sel(first)
		}
	}

	restore("camera", DeviceKindVideoInput, c.camera, c.SelectCamera)
	restore("microphone", DeviceKindAudioInput, c.microphone, c.SelectMicrophone)
	return nil
}
