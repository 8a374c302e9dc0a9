//go:build linux && (amd64 || arm64)

package media

import (
	"context"
	"errors"
	"testing"
)

func TestLinuxDeviceProvider_Availability(t *testing.T) {
	t.Logf("V4L2 available: %v", IsV4L2Available())
	t.Logf("ALSA available: %v", IsALSAAvailable())

	provider, err := NewNativeDeviceProvider()
	if !IsV4L2Available() && !IsALSAAvailable() {
		if !errors.Is(err, ErrNotSupported) {
			t.Errorf("NewNativeDeviceProvider() error = %v, want ErrNotSupported", err)
		}
		return
	}
	if err != nil || provider == nil {
		t.Fatalf("NewNativeDeviceProvider() = %v, %v", provider, err)
	}
}

func TestLinuxDeviceProvider_VideoEnumeration(t *testing.T) {
	if !IsV4L2Available() {
		t.Skip("V4L2 library not available")
	}

	provider := &LinuxDeviceProvider{}
	devices, err := provider.ListVideoDevices(context.Background())
	if err != nil {
		t.Fatalf("ListVideoDevices failed: %v", err)
	}
	for i, device := range devices {
		if device.Kind != DeviceKindVideoInput {
			t.Errorf("device %d kind = %v", i, device.Kind)
		}
		t.Logf("  Device %d: ID=%s, Label=%s", i, device.DeviceID, device.Label)
	}
}

func TestLinuxDeviceProvider_AudioEnumeration(t *testing.T) {
	if !IsALSAAvailable() {
		t.Skip("ALSA library not available")
	}

	provider := &LinuxDeviceProvider{}
	devices, err := provider.ListAudioInputDevices(context.Background())
	if err != nil {
		t.Fatalf("ListAudioInputDevices failed: %v", err)
	}
	for i, device := range devices {
		if device.Kind != DeviceKindAudioInput {
			t.Errorf("device %d kind = %v", i, device.Kind)
		}
	}
}

func TestLinuxDeviceProvider_OpenMissingLibrary(t *testing.T) {
	if IsV4L2Available() {
		t.Skip("V4L2 library present")
	}

	provider := &LinuxDeviceProvider{}
	_, err := provider.OpenVideoDevice(context.Background(), "/dev/video0", nil)
	if !errors.Is(err, ErrNotSupported) {
		t.Errorf("OpenVideoDevice() error = %v, want ErrNotSupported", err)
	}
}
