package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// TonePattern selects what a ToneSource generates.
type TonePattern int

const (
	TonePatternSilence TonePattern = iota // Digital silence
	TonePatternSine                       // Sine wave tone
)

func (p TonePattern) String() string {
	switch p {
	case TonePatternSilence:
		return "Silence"
	case TonePatternSine:
		return "Sine"
	default:
		return "Unknown"
	}
}

// ToneConfig configures a ToneSource.
type ToneConfig struct {
	SampleRate int         // Sample rate (default: 48000)
	Channels   int         // Number of channels (default: 2)
	FrameSize  int         // Samples per block (default: 960 = 20ms at 48kHz)
	Pattern    TonePattern // Pattern type
	Frequency  float64     // Tone frequency in Hz (default: 440)
	Amplitude  float64     // Amplitude 0.0-1.0 (default: 0.5)
}

// ToneSource generates S16 audio blocks in real time. It backs virtual
// microphones and the silent stand-in track.
type ToneSource struct {
	config        ToneConfig
	blockDuration time.Duration

	// Phase carries across blocks so the tone has no discontinuities.
	phase float64

	running   atomic.Bool
	cancel    context.CancelFunc
	doneCh    chan struct{}
	samplesCh chan *AudioSamples
	callback  AudioSamplesCallback

	mu sync.RWMutex
}

// NewToneSource creates a new tone source.
func NewToneSource(config ToneConfig) *ToneSource {
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 2
	}
	if config.FrameSize <= 0 {
		config.FrameSize = 960
	}
	if config.Frequency <= 0 {
		config.Frequency = 440.0
	}
	if config.Amplitude <= 0 {
		config.Amplitude = 0.5
	}
	config.Amplitude = min(config.Amplitude, 1.0)

	return &ToneSource{
		config:        config,
		blockDuration: time.Duration(config.FrameSize) * time.Second / time.Duration(config.SampleRate),
		samplesCh:     make(chan *AudioSamples, 2),
	}
}

// Start begins generating audio samples.
func (s *ToneSource) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("source already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.doneCh = make(chan struct{})
	done := s.doneCh
	s.mu.Unlock()

	go s.generateLoop(ctx, done)
	return nil
}

// Stop stops generating audio samples and waits for the generator to exit.
func (s *ToneSource) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.RLock()
	cancel, done := s.cancel, s.doneCh
	s.mu.RUnlock()

	cancel()
	<-done
	return nil
}

// Close stops the source and ends pending reads.
func (s *ToneSource) Close() error {
	_ = s.Stop()
	s.mu.Lock()
	if s.samplesCh != nil {
		close(s.samplesCh)
		s.samplesCh = nil
	}
	s.mu.Unlock()
	return nil
}

// ReadSamples reads the next audio block (blocking).
func (s *ToneSource) ReadSamples(ctx context.Context) (*AudioSamples, error) {
	s.mu.RLock()
	ch := s.samplesCh
	s.mu.RUnlock()
	if ch == nil {
		return nil, fmt.Errorf("source closed")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case samples, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("source closed")
		}
		return samples, nil
	}
}

// SetCallback sets the push-mode callback.
func (s *ToneSource) SetCallback(cb AudioSamplesCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

func (s *ToneSource) SampleRate() int { return s.config.SampleRate }
func (s *ToneSource) Channels() int   { return s.config.Channels }

func (s *ToneSource) generateLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.blockDuration)
	defer ticker.Stop()

	startTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples := &AudioSamples{
				Data:        s.nextBlock(),
				SampleRate:  s.config.SampleRate,
				Channels:    s.config.Channels,
				SampleCount: s.config.FrameSize,
				Format:      AudioFormatS16,
				Timestamp:   time.Since(startTime).Nanoseconds(),
			}

			s.mu.RLock()
			cb, ch := s.callback, s.samplesCh
			s.mu.RUnlock()

			if cb != nil {
				cb(samples)
				continue
			}
			select {
			case ch <- samples:
			default:
				// Drop if channel full
			}
		}
	}
}

// nextBlock renders one block of interleaved little-endian S16 samples.
func (s *ToneSource) nextBlock() []byte {
	buf := make([]byte, s.config.FrameSize*s.config.Channels*2)
	if s.config.Pattern != TonePatternSine {
		return buf
	}

	phaseIncrement := 2.0 * math.Pi * s.config.Frequency / float64(s.config.SampleRate)
	amplitude := s.config.Amplitude * math.MaxInt16

	idx := 0
	for i := 0; i < s.config.FrameSize; i++ {
		sample := int16(amplitude * math.Sin(s.phase))
		s.phase += phaseIncrement
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
		for c := 0; c < s.config.Channels; c++ {
			binary.LittleEndian.PutUint16(buf[idx:], uint16(sample))
			idx += 2
		}
	}
	return buf
}

var _ AudioSource = (*ToneSource)(nil)
