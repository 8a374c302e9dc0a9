package media

import (
	"context"
	"sync"
)

// trackQueueSize is the number of undelivered frames or sample blocks a push
// track holds before dropping the oldest.
const trackQueueSize = 2

// pushQueue is a small drop-oldest queue closed by a done channel.
type pushQueue[T any] struct {
	items chan T
	done  chan struct{}
}

func newPushQueue[T any]() pushQueue[T] {
	return pushQueue[T]{items: make(chan T, trackQueueSize), done: make(chan struct{})}
}

func (q pushQueue[T]) push(v T) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	for {
		select {
		case q.items <- v:
			return true
		default:
			select {
			case <-q.items:
			default:
			}
		}
	}
}

func (q pushQueue[T]) read(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-q.done:
		return zero, ErrTrackEnded
	default:
	}
	select {
	case v := <-q.items:
		return v, nil
	case <-q.done:
		return zero, ErrTrackEnded
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// FrameTrack is a VideoTrack fed by Push. Readers get the most recent frames;
// a slow reader loses the oldest ones.
type FrameTrack struct {
	*BaseTrack
	settings  VideoTrackSettings
	q         pushQueue[*VideoFrame]
	closeOnce sync.Once
	release   func() error
}

// NewFrameTrack creates a live video track. release runs exactly once, on
// the first Close.
func NewFrameTrack(label, deviceID string, settings VideoTrackSettings, release func() error) *FrameTrack {
	settings.DeviceID = deviceID
	return &FrameTrack{
		BaseTrack: NewBaseTrack(label, deviceID, RTPCodecTypeVideo),
		settings:  settings,
		q:         newPushQueue[*VideoFrame](),
		release:   release,
	}
}

// Push offers a frame to readers. It reports false once the track ended.
func (t *FrameTrack) Push(frame *VideoFrame) bool { return t.q.push(frame) }

// ReadFrame implements VideoTrack.
func (t *FrameTrack) ReadFrame(ctx context.Context) (*VideoFrame, error) { return t.q.read(ctx) }

// Settings implements VideoTrack.
func (t *FrameTrack) Settings() VideoTrackSettings { return t.settings }

// Done is closed when the track ends.
func (t *FrameTrack) Done() <-chan struct{} { return t.q.done }

// Close stops the track and releases its source.
func (t *FrameTrack) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.end()
		close(t.q.done)
		if t.release != nil {
			err = t.release()
		}
	})
	return err
}

// SampleTrack is an AudioTrack fed by Push.
type SampleTrack struct {
	*BaseTrack
	settings  AudioTrackSettings
	q         pushQueue[*AudioSamples]
	closeOnce sync.Once
	release   func() error
}

// NewSampleTrack creates a live audio track. release runs exactly once, on
// the first Close.
func NewSampleTrack(label, deviceID string, settings AudioTrackSettings, release func() error) *SampleTrack {
	settings.DeviceID = deviceID
	return &SampleTrack{
		BaseTrack: NewBaseTrack(label, deviceID, RTPCodecTypeAudio),
		settings:  settings,
		q:         newPushQueue[*AudioSamples](),
		release:   release,
	}
}

// Push offers samples to readers. It reports false once the track ended.
func (t *SampleTrack) Push(samples *AudioSamples) bool { return t.q.push(samples) }

// ReadSamples implements AudioTrack.
func (t *SampleTrack) ReadSamples(ctx context.Context) (*AudioSamples, error) { return t.q.read(ctx) }

// Settings implements AudioTrack.
func (t *SampleTrack) Settings() AudioTrackSettings { return t.settings }

// Done is closed when the track ends.
func (t *SampleTrack) Done() <-chan struct{} { return t.q.done }

// Close stops the track and releases its source.
func (t *SampleTrack) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.end()
		close(t.q.done)
		if t.release != nil {
			err = t.release()
		}
	})
	return err
}

var (
	_ VideoTrack = (*FrameTrack)(nil)
	_ AudioTrack = (*SampleTrack)(nil)
)
