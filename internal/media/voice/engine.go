// Package voice hosts a single voice session: one pion PeerConnection per
// remote peer, local Opus/VP8 tracks whose frames are sealed by framecrypt
// before packetization, and remote tracks whose frames are opened before
// they reach frame sinks.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pitabwire/frame/workerpool"

	"github.com/chatr/chatr-media/pkg/events"
	"github.com/chatr/chatr-media/pkg/framecrypt"
)

const audioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

var (
	opusCodec = webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	vp8Codec = webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}
)

// Emitter publishes voice events; *events.Publisher satisfies it.
type Emitter interface {
	Emit(ctx context.Context, eventType events.EventType, sessionID string, data interface{}) error
}

// Config holds engine settings.
type Config struct {
	// ICEServers is consulted for every new peer connection, so a
	// hot-reloaded list applies to peers connected afterwards.
	ICEServers           func() []webrtc.ICEServer
	E2EERequired         bool
	VideoEnabled         bool
	SampleBuilderMaxLate uint16
	KeyframeInterval     time.Duration
	SpeakerThreshold     uint8
	SpeakerInterval      time.Duration
}

// VoiceState is a snapshot of the engine's session.
type VoiceState struct {
	InVoice        bool
	SessionID      string
	RoomID         string
	ChannelID      string
	Muted          bool
	Deafened       bool
	CameraEnabled  bool
	ScreenSharing  bool
	ConnectedPeers []string
	Encrypted      bool
	KeyID          uint32
	JoinedAt       time.Time
}

// Engine owns at most one active voice session.
type Engine struct {
	cfg        Config
	api        *webrtc.API
	capability framecrypt.Capability
	emitter    Emitter
	pool       workerpool.WorkerPool

	mu      sync.Mutex
	session *Session

	sinkMu sync.RWMutex
	sinks  map[string]FrameSink
}

// NewEngine builds the pion API (Opus, optionally VP8, audio level header
// extension, default interceptors) and returns an idle engine.
func NewEngine(cfg Config, capability framecrypt.Capability, emitter Emitter, pool workerpool.WorkerPool) (*Engine, error) {
	if capability == nil {
		capability = framecrypt.StaticCapability(false)
	}
	if cfg.ICEServers == nil {
		cfg.ICEServers = func() []webrtc.ICEServer { return nil }
	}
	if cfg.SampleBuilderMaxLate == 0 {
		cfg.SampleBuilderMaxLate = 128
	}
	if cfg.KeyframeInterval <= 0 {
		cfg.KeyframeInterval = time.Second
	}

	api, err := newAPI(cfg.VideoEnabled)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		api:        api,
		capability: capability,
		emitter:    emitter,
		pool:       pool,
		sinks:      make(map[string]FrameSink),
	}, nil
}

func newAPI(video bool) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterCodec(opusCodec, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus: %w", err)
	}
	if video {
		if err := me.RegisterCodec(vp8Codec, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("register vp8: %w", err)
		}
	}
	if err := me.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: audioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return nil, fmt.Errorf("register audio level extension: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithInterceptorRegistry(registry)), nil
}

// Join starts a session for the room's voice channel, leaving any current
// session first. The media key is derived from roomKey; if derivation fails
// or frame interception is unavailable, the session proceeds with transport
// encryption only unless Config.E2EERequired is set.
func (e *Engine) Join(ctx context.Context, roomID, channelID, roomKey string) (VoiceState, error) {
	if roomID == "" || channelID == "" {
		return VoiceState{}, ErrInvalidArgument
	}

	key, err := framecrypt.DeriveMediaKey(roomKey)
	unavailable := ""
	switch {
	case err != nil:
		if e.cfg.E2EERequired {
			return VoiceState{}, err
		}
		slog.WarnContext(ctx, "media key derivation failed, joining without frame encryption",
			slog.String("room_id", roomID), slog.String("error", err.Error()))
		key, unavailable = nil, "key derivation failed"
	case !e.capability.FrameInterception():
		if e.cfg.E2EERequired {
			return VoiceState{}, fmt.Errorf("%w: %w", ErrEncryptionUnavailable, framecrypt.ErrCapabilityUnsupported)
		}
		slog.InfoContext(ctx, "frame interception unsupported, joining with transport encryption only",
			slog.String("room_id", roomID))
		unavailable = "frame interception unsupported"
	}

	// Emitting may block on the network; never hold e.mu across it.
	e.mu.Lock()
	s, err := newSession(ctx, e, roomID, channelID, key)
	if err != nil {
		e.mu.Unlock()
		return VoiceState{}, err
	}
	old := e.session
	e.session = s
	e.mu.Unlock()

	if old != nil {
		e.retire(ctx, old)
	}

	state := s.state()
	s.emit(events.VoiceJoined, &events.VoiceJoinedData{
		RoomID:    roomID,
		ChannelID: channelID,
		Encrypted: state.Encrypted,
		KeyID:     state.KeyID,
	})
	if unavailable != "" {
		s.emit(events.E2EEUnavailable, &events.E2EEUnavailableData{Reason: unavailable})
	}
	s.emitState()

	slog.InfoContext(ctx, "joined voice",
		slog.String("session_id", s.id),
		slog.String("room_id", roomID),
		slog.String("channel_id", channelID),
		slog.Bool("encrypted", state.Encrypted),
	)
	return state, nil
}

// Leave ends the current session. It is a no-op when not in voice.
func (e *Engine) Leave(ctx context.Context) VoiceState {
	e.mu.Lock()
	s := e.session
	e.session = nil
	e.mu.Unlock()

	if s != nil {
		e.retire(ctx, s)
	}
	return VoiceState{}
}

// retire announces the end of a session that is no longer current and
// closes it.
func (e *Engine) retire(ctx context.Context, s *Session) {
	s.emit(events.VoiceLeft, &events.VoiceLeftData{
		RoomID:     s.roomID,
		ChannelID:  s.channelID,
		DurationMs: time.Since(s.joinedAt).Milliseconds(),
	})
	s.emit(events.VoiceState, VoiceState{}.EventData())
	s.close()
	slog.InfoContext(ctx, "left voice", slog.String("session_id", s.id), slog.String("room_id", s.roomID))
}

// State returns the current session state.
func (e *Engine) State() VoiceState {
	s := e.current()
	if s == nil {
		return VoiceState{}
	}
	return s.state()
}

// SetMuted stops or resumes sending local audio.
func (e *Engine) SetMuted(ctx context.Context, muted bool) (VoiceState, error) {
	s := e.current()
	if s == nil {
		return VoiceState{}, ErrNotInVoice
	}
	if s.setMuted(muted) {
		slog.DebugContext(ctx, "mute set", slog.String("session_id", s.id), slog.Bool("muted", muted))
	}
	s.emitState()
	return s.state(), nil
}

// SetCamera starts or stops sending the camera track. Frames written to the
// camera track while it is off are discarded. State is broadcast only when
// the setting changes.
func (e *Engine) SetCamera(ctx context.Context, enabled bool) (VoiceState, error) {
	return e.setVideo(ctx, SourceCamera, enabled)
}

// StartScreenShare starts sending the screen track. The screen track has its
// own sender transform and nonce counter, independent of the camera.
func (e *Engine) StartScreenShare(ctx context.Context) (VoiceState, error) {
	return e.setVideo(ctx, SourceScreen, true)
}

// StopScreenShare stops sending the screen track.
func (e *Engine) StopScreenShare(ctx context.Context) (VoiceState, error) {
	return e.setVideo(ctx, SourceScreen, false)
}

func (e *Engine) setVideo(ctx context.Context, source Source, on bool) (VoiceState, error) {
	s := e.current()
	if s == nil {
		return VoiceState{}, ErrNotInVoice
	}
	changed, err := s.setVideo(source, on)
	if err != nil {
		return s.state(), err
	}
	if changed {
		slog.DebugContext(ctx, "video source toggled",
			slog.String("session_id", s.id), slog.String("source", string(source)), slog.Bool("on", on))
		s.emitState()
	}
	return s.state(), nil
}

// SetDeafened stops or resumes delivery of remote audio to frame sinks.
func (e *Engine) SetDeafened(ctx context.Context, deafened bool) (VoiceState, error) {
	s := e.current()
	if s == nil {
		return VoiceState{}, ErrNotInVoice
	}
	s.setDeafened(deafened)
	slog.DebugContext(ctx, "deafen set", slog.String("session_id", s.id), slog.Bool("deafened", deafened))
	s.emitState()
	return s.state(), nil
}

// RotateKey derives a new media key and installs fresh sender and receiver
// transforms on every track. Sender nonce counters restart at zero under the
// new key. On derivation failure the current key stays in use.
func (e *Engine) RotateKey(ctx context.Context, roomKey string) (VoiceState, error) {
	s := e.current()
	if s == nil {
		return VoiceState{}, ErrNotInVoice
	}

	key, err := framecrypt.DeriveMediaKey(roomKey)
	if err != nil {
		return VoiceState{}, err
	}
	if !s.rotate(key) {
		return s.state(), fmt.Errorf("%w: %w", ErrEncryptionUnavailable, framecrypt.ErrCapabilityUnsupported)
	}

	s.emit(events.E2EEKeyRotated, &events.KeyRotatedData{KeyID: key.KeyID()})
	slog.InfoContext(ctx, "media key rotated", slog.String("session_id", s.id), slog.Uint64("key_id", uint64(key.KeyID())))
	return s.state(), nil
}

// ConnectPeer opens a connection to peerID and returns the SDP offer. The
// offer is also emitted as a voice.signal event for delivery to the peer.
func (e *Engine) ConnectPeer(ctx context.Context, peerID string) (string, error) {
	s := e.current()
	if s == nil {
		return "", ErrNotInVoice
	}
	if peerID == "" {
		return "", ErrInvalidArgument
	}

	p, err := s.addPeer(peerID)
	if err != nil {
		return "", err
	}
	offer, err := p.offer()
	if err != nil {
		s.removePeer(peerID)
		return "", err
	}

	s.emit(events.VoiceSignal, &events.SignalData{
		PeerID: peerID,
		Type:   events.SignalOffer,
		SDP:    offer,
		KeyID:  s.keyID(),
	})
	slog.DebugContext(ctx, "offer created", slog.String("peer_id", peerID))
	return offer, nil
}

// HandleOffer answers an offer from peerID, creating the peer connection if
// needed. remoteKeyID is the media key ID the peer advertised (0 for none).
func (e *Engine) HandleOffer(ctx context.Context, peerID, sdp string, remoteKeyID uint32) (string, error) {
	s := e.current()
	if s == nil {
		return "", ErrNotInVoice
	}
	if peerID == "" || sdp == "" {
		return "", ErrInvalidArgument
	}

	p, err := s.peerOrAdd(peerID)
	if err != nil {
		return "", err
	}
	s.checkRemoteEncryption(ctx, p, remoteKeyID)

	answer, err := p.answer(sdp)
	if err != nil {
		return "", err
	}

	s.emit(events.VoiceSignal, &events.SignalData{
		PeerID: peerID,
		Type:   events.SignalAnswer,
		SDP:    answer,
		KeyID:  s.keyID(),
	})
	return answer, nil
}

// HandleAnswer applies the answer to an offer previously made to peerID.
func (e *Engine) HandleAnswer(ctx context.Context, peerID, sdp string, remoteKeyID uint32) error {
	s := e.current()
	if s == nil {
		return ErrNotInVoice
	}
	p, ok := s.peer(peerID)
	if !ok {
		return ErrPeerNotFound
	}
	s.checkRemoteEncryption(ctx, p, remoteKeyID)
	return p.acceptAnswer(sdp)
}

// AddICECandidate adds a trickled candidate from peerID. Candidates that
// arrive before the remote description are queued.
func (e *Engine) AddICECandidate(peerID, candidateJSON string) error {
	s := e.current()
	if s == nil {
		return ErrNotInVoice
	}
	p, ok := s.peer(peerID)
	if !ok {
		return ErrPeerNotFound
	}
	return p.addCandidate(candidateJSON)
}

// RemovePeer closes the connection to peerID.
func (e *Engine) RemovePeer(peerID string) error {
	s := e.current()
	if s == nil {
		return ErrNotInVoice
	}
	if !s.removePeer(peerID) {
		return ErrPeerNotFound
	}
	return nil
}

// LocalTrack returns the session's outgoing track for source, for the
// upstream encoder to write into.
func (e *Engine) LocalTrack(source Source) (*LocalTrack, error) {
	s := e.current()
	if s == nil {
		return nil, ErrNotInVoice
	}
	if _, ok := ParseSource(string(source)); !ok {
		return nil, fmt.Errorf("%q: %w", source, ErrUnknownSource)
	}
	t := s.localTrack(source)
	if t == nil {
		return nil, ErrVideoDisabled
	}
	return t, nil
}

// AddFrameSink registers fn for frames from every remote track.
func (e *Engine) AddFrameSink(id string, fn FrameSink) {
	e.sinkMu.Lock()
	e.sinks[id] = fn
	e.sinkMu.Unlock()
}

// RemoveFrameSink removes a sink registered with AddFrameSink.
func (e *Engine) RemoveFrameSink(id string) {
	e.sinkMu.Lock()
	delete(e.sinks, id)
	e.sinkMu.Unlock()
}

func (e *Engine) dispatch(peerID string, source Source, frame *framecrypt.Frame) {
	e.sinkMu.RLock()
	sinks := make([]FrameSink, 0, len(e.sinks))
	for _, fn := range e.sinks {
		sinks = append(sinks, fn)
	}
	e.sinkMu.RUnlock()

	for _, fn := range sinks {
		fn(peerID, source, frame)
	}
}

// EncryptionStats reports frame encryption counters for the current session.
func (e *Engine) EncryptionStats() EncryptionStats {
	stats := EncryptionStats{Available: e.capability.FrameInterception()}
	s := e.current()
	if s == nil {
		return stats
	}
	return s.encryptionStats(stats)
}

// Close leaves the current session.
func (e *Engine) Close() {
	e.Leave(context.Background())
}

func (e *Engine) current() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *Engine) submit(ctx context.Context, fn func()) {
	if e.pool != nil {
		if err := e.pool.Submit(ctx, fn); err == nil {
			return
		}
	}
	go fn()
}

// EventData is the voice.state event payload for st.
func (st VoiceState) EventData() *events.VoiceStateData {
	peers := st.ConnectedPeers
	if peers == nil {
		peers = []string{}
	}
	return &events.VoiceStateData{
		InVoice:        st.InVoice,
		RoomID:         st.RoomID,
		ChannelID:      st.ChannelID,
		Muted:          st.Muted,
		Deafened:       st.Deafened,
		CameraEnabled:  st.CameraEnabled,
		ScreenSharing:  st.ScreenSharing,
		ConnectedPeers: peers,
		Encrypted:      st.Encrypted,
	}
}
