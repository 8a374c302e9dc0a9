package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Default send codecs for PeerPublisher.
var (
	DefaultAudioCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	DefaultVideoCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// LocalTrack implements pion's webrtc.TrackLocal interface for one composed
// track. Whatever encodes the media writes RTP into it.
type LocalTrack struct {
	id       string
	streamID string
	kind     RTPCodecType
	codec    webrtc.RTPCodecCapability

	bindMu   sync.RWMutex
	bindings []webrtc.TrackLocalContext
}

// NewLocalTrack creates a LocalTrack with the given identity.
func NewLocalTrack(codec webrtc.RTPCodecCapability, kind RTPCodecType, id, streamID string) *LocalTrack {
	return &LocalTrack{id: id, streamID: streamID, kind: kind, codec: codec}
}

func (t *LocalTrack) ID() string         { return t.id }
func (t *LocalTrack) RID() string        { return "" }
func (t *LocalTrack) StreamID() string   { return t.streamID }
func (t *LocalTrack) Kind() RTPCodecType { return t.kind }

// Codec returns the codec capability.
func (t *LocalTrack) Codec() webrtc.RTPCodecCapability { return t.codec }

// Bind implements webrtc.TrackLocal.
func (t *LocalTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	t.bindings = append(t.bindings, ctx)

	for _, p := range ctx.CodecParameters() {
		if p.MimeType == t.codec.MimeType {
			return p, nil
		}
	}
	return webrtc.RTPCodecParameters{RTPCodecCapability: t.codec}, nil
}

// Unbind implements webrtc.TrackLocal.
func (t *LocalTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	for i, b := range t.bindings {
		if b.ID() == ctx.ID() {
			t.bindings = append(t.bindings[:i], t.bindings[i+1:]...)
			break
		}
	}
	return nil
}

// Bound returns the number of active bindings.
func (t *LocalTrack) Bound() int {
	t.bindMu.RLock()
	defer t.bindMu.RUnlock()
	return len(t.bindings)
}

// WriteRTP writes a packet to every binding.
func (t *LocalTrack) WriteRTP(p *rtp.Packet) error {
	t.bindMu.RLock()
	defer t.bindMu.RUnlock()

	for _, b := range t.bindings {
		if _, err := b.WriteStream().WriteRTP(&p.Header, p.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Write writes one marshaled RTP packet.
func (t *LocalTrack) Write(b []byte) (int, error) {
	var p rtp.Packet
	if err := p.Unmarshal(b); err != nil {
		return 0, err
	}
	return len(b), t.WriteRTP(&p)
}

var _ webrtc.TrackLocal = (*LocalTrack)(nil)

// TrackEncoder turns a media track into RTP on out. Encode runs until ctx
// is cancelled or the track ends.
type TrackEncoder interface {
	Encode(ctx context.Context, track MediaStreamTrack, out *LocalTrack) error
}

// PeerPublisherConfig configures a PeerPublisher. A nil sender skips that
// kind.
type PeerPublisherConfig struct {
	Audio      *webrtc.RTPSender
	Video      *webrtc.RTPSender
	AudioCodec webrtc.RTPCodecCapability // default: Opus
	VideoCodec webrtc.RTPCodecCapability // default: VP8
	Encoder    TrackEncoder              // optional
	Logger     *slog.Logger
}

// PeerPublisher is a Publisher that hot-swaps the tracks of an established
// peer connection with RTPSender.ReplaceTrack, so a new composed stream
// needs no renegotiation. A track that is still the same media track is
// left alone.
type PeerPublisher struct {
	cfg    PeerPublisherConfig
	logger *slog.Logger

	mu    sync.Mutex
	audio *publishedTrack
	video *publishedTrack
}

type publishedTrack struct {
	source MediaStreamTrack
	local  *LocalTrack
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *publishedTrack) stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

// NewPeerPublisher returns a publisher for the given senders.
func NewPeerPublisher(cfg PeerPublisherConfig) *PeerPublisher {
	if cfg.AudioCodec.MimeType == "" {
		cfg.AudioCodec = DefaultAudioCodec
	}
	if cfg.VideoCodec.MimeType == "" {
		cfg.VideoCodec = DefaultVideoCodec
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PeerPublisher{cfg: cfg, logger: cfg.Logger}
}

// Publish implements Publisher.
func (p *PeerPublisher) Publish(ctx context.Context, stream MediaStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var audio, video MediaStreamTrack
	if at := firstAudioTrack(stream); at != nil {
		audio = at
	}
	if vt := firstVideoTrack(stream); vt != nil {
		video = vt
	}

	return errors.Join(
		p.swap(ctx, p.cfg.Audio, &p.audio, audio, stream.ID(), RTPCodecTypeAudio, p.cfg.AudioCodec),
		p.swap(ctx, p.cfg.Video, &p.video, video, stream.ID(), RTPCodecTypeVideo, p.cfg.VideoCodec),
	)
}

func (p *PeerPublisher) swap(ctx context.Context, sender *webrtc.RTPSender, slot **publishedTrack,
	src MediaStreamTrack, streamID string, kind RTPCodecType, codec webrtc.RTPCodecCapability) error {
	if sender == nil {
		return nil
	}
	cur := *slot
	if cur != nil && src != nil && cur.source.ID() == src.ID() {
		return nil
	}

	var next *publishedTrack
	var local webrtc.TrackLocal
	if src != nil {
		lt := NewLocalTrack(codec, kind, src.ID(), streamID)
		next = &publishedTrack{source: src, local: lt}
		local = lt
	}
	if err := sender.ReplaceTrack(local); err != nil {
		return fmt.Errorf("replace %s track: %w", kind, err)
	}

	if cur != nil {
		cur.stop()
	}
	*slot = next
	if next == nil {
		p.logger.Debug("sender track cleared", "kind", kind)
		return nil
	}

	p.logger.Debug("sender track replaced", "kind", kind, "track_id", src.ID(), "label", src.Label())
	if p.cfg.Encoder != nil {
		encCtx, cancel := context.WithCancel(ctx)
		next.cancel, next.done = cancel, make(chan struct{})
		go func() {
			defer close(next.done)
			if err := p.cfg.Encoder.Encode(encCtx, src, next.local); err != nil && encCtx.Err() == nil && !errors.Is(err, ErrTrackEnded) {
				p.logger.Warn("track encoder stopped", "kind", kind, "track_id", src.ID(), "error", err)
			}
		}()
	}
	return nil
}

// Close stops the encoders. The senders keep their last track.
func (p *PeerPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pt := range []*publishedTrack{p.audio, p.video} {
		if pt != nil {
			pt.stop()
		}
	}
	p.audio, p.video = nil, nil
	return nil
}

var _ Publisher = (*PeerPublisher)(nil)
