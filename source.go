package media

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotSupported is returned when an optional operation is not supported.
var ErrNotSupported = errors.New("operation not supported")

// SourceType identifies the type of media source.
type SourceType int

const (
	SourceTypeUnknown     SourceType = iota
	SourceTypeCamera                 // Camera capture
	SourceTypeTestPattern            // Synthetic test pattern generator
	SourceTypeImage                  // Still image repeated at a low rate
	SourceTypeFiltered               // Background filter output
	SourceTypeTone                   // Synthetic audio
)

func (s SourceType) String() string {
	switch s {
	case SourceTypeCamera:
		return "Camera"
	case SourceTypeTestPattern:
		return "TestPattern"
	case SourceTypeImage:
		return "Image"
	case SourceTypeFiltered:
		return "Filtered"
	case SourceTypeTone:
		return "Tone"
	default:
		return "Unknown"
	}
}

// SourceConfig describes a media source's capabilities and configuration.
type SourceConfig struct {
	Width      int         // Frame width in pixels
	Height     int         // Frame height in pixels
	FPS        int         // Frames per second
	Format     PixelFormat // Pixel format
	SourceType SourceType  // Type of source
}

// VideoFrameCallback is called when a frame is available (push mode).
type VideoFrameCallback func(frame *VideoFrame)

// VideoSource produces raw video frames.
type VideoSource interface {
	io.Closer

	// Start begins capture/generation.
	Start(ctx context.Context) error

	// Stop halts capture/generation.
	Stop() error

	// ReadFrame reads the next frame (blocking).
	ReadFrame(ctx context.Context) (*VideoFrame, error)

	// SetCallback sets push-mode callback for frame delivery.
	// When set, frames are pushed to the callback instead of being buffered.
	SetCallback(cb VideoFrameCallback)

	// Config returns the source configuration.
	Config() SourceConfig
}

// AudioSamplesCallback is called when audio samples are available (push mode).
type AudioSamplesCallback func(samples *AudioSamples)

// AudioSource produces raw audio samples.
type AudioSource interface {
	io.Closer

	// Start begins capture/generation.
	Start(ctx context.Context) error

	// Stop halts capture/generation.
	Stop() error

	// ReadSamples reads the next audio samples (blocking).
	ReadSamples(ctx context.Context) (*AudioSamples, error)

	// SetCallback sets push-mode callback for sample delivery.
	SetCallback(cb AudioSamplesCallback)

	// SampleRate returns the audio sample rate.
	SampleRate() int

	// Channels returns the number of audio channels.
	Channels() int
}

// NewVideoSourceTrack starts src in push mode and returns a track fed by it.
// Closing the track closes the source. The source outlives ctx; only Close
// stops it.
func NewVideoSourceTrack(ctx context.Context, src VideoSource, label, deviceID string) (*FrameTrack, error) {
	cfg := src.Config()
	track := NewFrameTrack(label, deviceID, VideoTrackSettings{
		Width:     cfg.Width,
		Height:    cfg.Height,
		FrameRate: cfg.FPS,
	}, src.Close)
	src.SetCallback(func(f *VideoFrame) { track.Push(f) })

	if err := src.Start(context.WithoutCancel(ctx)); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("start %s source: %w", cfg.SourceType, err)
	}
	return track, nil
}

// NewAudioSourceTrack starts src in push mode and returns a track fed by it.
func NewAudioSourceTrack(ctx context.Context, src AudioSource, label, deviceID string) (*SampleTrack, error) {
	track := NewSampleTrack(label, deviceID, AudioTrackSettings{
		SampleRate:   src.SampleRate(),
		ChannelCount: src.Channels(),
	}, src.Close)
	src.SetCallback(func(s *AudioSamples) { track.Push(s) })

	if err := src.Start(context.WithoutCancel(ctx)); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("start audio source: %w", err)
	}
	return track, nil
}

// NewSilentAudioTrack returns a track producing digital silence. It stands in
// when no microphone is selected or the microphone cannot be opened.
func NewSilentAudioTrack(ctx context.Context) (*SampleTrack, error) {
	src := NewToneSource(ToneConfig{Pattern: TonePatternSilence, Channels: 1})
	return NewAudioSourceTrack(ctx, src, "silence", "")
}

// NewBlankVideoTrack returns a track producing black frames at 1 fps. It
// stands in when no camera is selected or the camera cannot be opened.
func NewBlankVideoTrack(ctx context.Context) (*FrameTrack, error) {
	src := NewTestPatternSource(TestPatternConfig{
		Width:   320,
		Height:  240,
		FPS:     1,
		Pattern: PatternSolidColor,
	})
	return NewVideoSourceTrack(ctx, src, "blank", "")
}
