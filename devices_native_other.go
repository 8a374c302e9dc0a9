//go:build !(linux && (amd64 || arm64))

package media

// NewNativeDeviceProvider reports ErrNotSupported: native capture is only
// wired up on Linux.
func NewNativeDeviceProvider() (DeviceProvider, error) {
	return nil, ErrNotSupported
}
