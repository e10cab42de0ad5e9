package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/chatr/chatr-media/pkg/framecrypt"
)

// Source names a local media stream. It doubles as the track ID, so remote
// peers see which stream a track carries.
type Source string

const (
	SourceMicrophone Source = "audio"
	SourceCamera     Source = "camera"
	SourceScreen     Source = "screen"
)

// ParseSource maps a track ID back to its Source.
func ParseSource(id string) (Source, bool) {
	switch src := Source(id); src {
	case SourceMicrophone, SourceCamera, SourceScreen:
		return src, true
	}
	return "", false
}

// Kind returns the media kind the source carries.
func (s Source) Kind() framecrypt.MediaKind {
	if s == SourceMicrophone {
		return framecrypt.KindAudio
	}
	return framecrypt.KindVideo
}

// defaultFrameDuration paces frames that arrive without a duration.
const defaultFrameDuration = 20 * time.Millisecond

// errInactive marks frames discarded because the source is off.
var errInactive = errors.New("source inactive")

// FrameSink receives decoded-ready frames from remote peers. It runs on the
// track's read goroutine and must not retain frame after returning.
type FrameSink func(peerID string, source Source, frame *framecrypt.Frame)

// LocalTrackStats counts what a local track did with outgoing frames.
type LocalTrackStats struct {
	Source           Source
	Written          uint64 // handed to the transport
	Sealed           uint64 // written after encryption
	Dropped          uint64 // refused by the sender transform
	Discarded        uint64 // written while the source was off
	KeyframeRequests uint64 // PLI/FIR received from peers
}

func (s LocalTrackStats) add(o LocalTrackStats) LocalTrackStats {
	s.Written += o.Written
	s.Sealed += o.Sealed
	s.Dropped += o.Dropped
	s.Discarded += o.Discarded
	s.KeyframeRequests += o.KeyframeRequests
	return s
}

// OutgoingFrame is an encoded local frame and how long it plays.
type OutgoingFrame struct {
	*framecrypt.Frame
	Duration time.Duration
}

// LocalTrack is an outgoing audio or video stream. Encoded frames written to
// it pass through the attached transform before pion packetizes them, so the
// RTP payload carries the sealed frame. Every local track owns its sender
// transform; no two tracks share a nonce counter.
type LocalTrack struct {
	source Source
	kind   framecrypt.MediaKind
	track  *webrtc.TrackLocalStaticSample

	mu        sync.Mutex
	transform framecrypt.FrameTransform
	active    bool

	written   atomic.Uint64
	sealed    atomic.Uint64
	dropped   atomic.Uint64
	discarded atomic.Uint64
	keyframes atomic.Uint64
}

func newLocalTrack(source Source, codec webrtc.RTPCodecCapability, streamID string, active bool) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, string(source), streamID)
	if err != nil {
		return nil, fmt.Errorf("create local %s track: %w", source, err)
	}
	return &LocalTrack{source: source, kind: source.Kind(), track: track, active: active}, nil
}

// Source returns which local stream the track carries.
func (t *LocalTrack) Source() Source { return t.source }

// Kind returns audio or video.
func (t *LocalTrack) Kind() framecrypt.MediaKind { return t.kind }

// SetFrameTransform installs t as the sender transform; nil removes it.
func (t *LocalTrack) SetFrameTransform(ft framecrypt.FrameTransform) {
	t.mu.Lock()
	t.transform = ft
	t.mu.Unlock()
}

func (t *LocalTrack) encrypted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transform != nil
}

// Active reports whether frames are sent. An inactive microphone is muted;
// an inactive camera or screen track sends nothing.
func (t *LocalTrack) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// setActive reports whether the value changed.
func (t *LocalTrack) setActive(active bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := t.active != active
	t.active = active
	return changed
}

// seal discards frames of an inactive source before encryption and runs the
// sender transform over the rest. It is the track's frame transform stage.
func (t *LocalTrack) seal(frame framecrypt.EncodedFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		t.discarded.Add(1)
		return errInactive
	}
	if t.transform == nil {
		return nil
	}
	if err := t.transform.Transform(frame); err != nil {
		t.dropped.Add(1)
		return fmt.Errorf("%s frame dropped: %w", t.source, err)
	}
	t.sealed.Add(1)
	return nil
}

func (t *LocalTrack) writeSample(payload []byte, duration time.Duration) error {
	if duration <= 0 {
		duration = defaultFrameDuration
	}
	if err := t.track.WriteSample(media.Sample{Data: payload, Duration: duration}); err != nil {
		return fmt.Errorf("write %s sample: %w", t.source, err)
	}
	t.written.Add(1)
	return nil
}

// WriteFrame sends one encoded frame. Frames of an inactive source are
// discarded without error. If the sender transform fails, the frame is
// dropped and the error returned; it is never sent in the clear.
func (t *LocalTrack) WriteFrame(payload []byte, duration time.Duration) error {
	frame := framecrypt.NewFrame(t.kind, 0, payload)
	if err := t.seal(frame); err != nil {
		if errors.Is(err, errInactive) {
			return nil
		}
		return err
	}
	return t.writeSample(frame.Payload(), duration)
}

// Stream sends frames from in, in order, until in is closed or ctx is done.
// Elements that are *OutgoingFrame carry their own duration. Frames the
// sender transform refuses are dropped and the stream continues.
func (t *LocalTrack) Stream(ctx context.Context, in <-chan framecrypt.EncodedFrame) error {
	out := make(chan framecrypt.EncodedFrame, cap(in))
	done := make(chan error, 1)
	go func() {
		done <- framecrypt.Run(ctx, framecrypt.TransformFunc(t.seal), in, out, t.onDrop)
	}()

	for frame := range out {
		duration := defaultFrameDuration
		if of, ok := frame.(*OutgoingFrame); ok {
			duration = of.Duration
		}
		if err := t.writeSample(frame.Payload(), duration); err != nil {
			slog.Debug("local frame not written", slog.String("source", string(t.source)), slog.String("error", err.Error()))
		}
	}
	return <-done
}

func (t *LocalTrack) onDrop(_ framecrypt.EncodedFrame, err error) {
	if errors.Is(err, errInactive) {
		return
	}
	slog.Warn("local frame dropped", slog.String("source", string(t.source)), slog.String("error", err.Error()))
}

// Stats returns a snapshot of the track's counters.
func (t *LocalTrack) Stats() LocalTrackStats {
	return LocalTrackStats{
		Source:           t.source,
		Written:          t.written.Load(),
		Sealed:           t.sealed.Load(),
		Dropped:          t.dropped.Load(),
		Discarded:        t.discarded.Load(),
		KeyframeRequests: t.keyframes.Load(),
	}
}

// RemoteTrack is an incoming stream from one peer. Reassembled frames pass
// through the attached receiver transform before reaching frame sinks.
type RemoteTrack struct {
	peerID     string
	id         string
	source     Source
	kind       framecrypt.MediaKind
	ssrc       uint32
	levelExtID uint8

	mu        sync.Mutex
	transform framecrypt.FrameTransform
	receiver  *framecrypt.ReceiverTransform
	retired   framecrypt.ReceiverStats

	frames    atomic.Uint64
	failures  atomic.Uint64
	keyframes *debouncer
	reports   *debouncer
}

func newRemoteTrack(peerID, id string, kind framecrypt.MediaKind, keyframeInterval time.Duration) *RemoteTrack {
	// Tracks from other clients may carry arbitrary IDs.
	source, ok := ParseSource(id)
	if !ok || source.Kind() != kind {
		source = SourceMicrophone
		if kind == framecrypt.KindVideo {
			source = SourceCamera
		}
	}
	return &RemoteTrack{
		peerID:    peerID,
		id:        id,
		source:    source,
		kind:      kind,
		keyframes: newDebouncer(keyframeInterval),
		reports:   newDebouncer(5 * keyframeInterval),
	}
}

// ID returns the remote track identifier.
func (t *RemoteTrack) ID() string { return t.id }

// Source returns the stream the peer sends on this track.
func (t *RemoteTrack) Source() Source { return t.source }

// Kind returns audio or video.
func (t *RemoteTrack) Kind() framecrypt.MediaKind { return t.kind }

// SetFrameTransform installs the receiver transform; nil removes it. The
// counters of a replaced ReceiverTransform are kept in the track's totals.
func (t *RemoteTrack) SetFrameTransform(ft framecrypt.FrameTransform) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.receiver != nil {
		t.retired = t.retired.Add(t.receiver.Stats())
	}
	t.transform = ft
	t.receiver, _ = ft.(*framecrypt.ReceiverTransform)
}

// Stats returns receive counters across every transform the track has had.
func (t *RemoteTrack) Stats() framecrypt.ReceiverStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.retired
	if t.receiver != nil {
		stats = stats.Add(t.receiver.Stats())
	}
	return stats
}

// process wraps payload as a frame and runs the receiver transform over it.
// It returns nil when the transform rejected the frame.
func (t *RemoteTrack) process(payload []byte, timestamp uint32) *framecrypt.Frame {
	frame := framecrypt.NewFrame(t.kind, timestamp, payload)

	t.mu.Lock()
	ft := t.transform
	t.mu.Unlock()

	if ft != nil {
		if err := ft.Transform(frame); err != nil {
			return nil
		}
	}
	t.frames.Add(1)
	return frame
}

// audioLevel reads the RFC 6464 header extension, if negotiated and present.
func (t *RemoteTrack) audioLevel(pkt *rtp.Packet) (level uint8, voice bool, ok bool) {
	if t.levelExtID == 0 {
		return 0, false, false
	}
	raw := pkt.Header.GetExtension(t.levelExtID)
	if raw == nil {
		return 0, false, false
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return 0, false, false
	}
	return ext.Level, ext.Voice, true
}

// audioLevelExtensionID finds the negotiated ID of the audio level extension.
func audioLevelExtensionID(params webrtc.RTPParameters) uint8 {
	for _, ext := range params.HeaderExtensions {
		if ext.URI == audioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}
