// Package media is the real-time core of the hearing client: it turns the
// participant's device choices into the single outgoing MediaStream.
//
// Key pieces include:
//   - MediaStream/MediaStreamTrack and MediaDevices (getUserMedia-style APIs)
//   - DeviceCoordinator: selected camera, microphone and audio-only flag
//   - FilterPipeline: background blur and replacement over a camera track
//   - FallbackImageProvider: still-image video for audio-only participants
//   - Composer: rebuilds and republishes the stream when any input changes
//   - PeerPublisher: swaps composed tracks into pion RTP senders
//   - Test pattern, tone and image sources plus a virtual device provider
//
// # Architecture
//
//	DeviceCoordinator --------+
//	FilterPipeline -----------+--> Composer --> Publisher --> RTPSender
//	MediaDevices -------------+
//	FallbackImageProvider ----+
//
// Connectivity lives in the sibling packages netmon (reachability probing)
// and eventhub (the reconnecting hub channel).
//
// # Native Libraries
//
// Device capture and person segmentation load libstream_* libraries at
// runtime through purego. Set STREAM_SDK_LIB_PATH to the directory holding
// them. Without them NewNativeDeviceProvider and NewNativeSegmenter return
// ErrNotSupported and callers fall back to virtual devices and chroma keying.
package media
