package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/chatr/chatr-media/pkg/events"
	"github.com/chatr/chatr-media/pkg/framecrypt"
)

// PeerEncryptionStats is the receive side of one remote peer.
type PeerEncryptionStats struct {
	PeerID      string
	RemoteKeyID uint32
	KeyMatch    bool
	Receive     framecrypt.ReceiverStats
}

// EncryptionStats reports frame encryption activity for a session.
type EncryptionStats struct {
	Available bool // frame interception supported
	Enabled   bool // transforms attached in the current session
	KeyID     uint32
	Send      LocalTrackStats // totals across local tracks, Source unset
	Tracks    []LocalTrackStats
	Receive   framecrypt.ReceiverStats
	Peers     []PeerEncryptionStats
}

// Session is one voice channel membership: the media key, the local tracks
// and the peer connections.
type Session struct {
	mu        sync.RWMutex
	id        string
	engine    *Engine
	roomID    string
	channelID string
	joinedAt  time.Time
	key       *framecrypt.MediaKey
	deafened  bool
	peers     map[string]*Peer
	audio     *LocalTrack
	camera    *LocalTrack
	screen    *LocalTrack
	speakers  *SpeakerDetector
	ctx       context.Context
	cancel    context.CancelFunc
	closed    bool
}

func newSession(parent context.Context, e *Engine, roomID, channelID string, key *framecrypt.MediaKey) (*Session, error) {
	id := xid.New().String()
	// The session outlives the Join request.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	s := &Session{
		id:        id,
		engine:    e,
		roomID:    roomID,
		channelID: channelID,
		joinedAt:  time.Now(),
		peers:     make(map[string]*Peer),
		ctx:       ctx,
		cancel:    cancel,
	}

	audio, err := newLocalTrack(SourceMicrophone, opusCodec.RTPCodecCapability, id, true)
	if err != nil {
		cancel()
		return nil, err
	}
	s.audio = audio

	// Camera and screen tracks are negotiated with every peer up front and
	// stay silent until enabled, so toggling them never renegotiates.
	if e.cfg.VideoEnabled {
		if s.camera, err = newLocalTrack(SourceCamera, vp8Codec.RTPCodecCapability, id, false); err != nil {
			cancel()
			return nil, err
		}
		if s.screen, err = newLocalTrack(SourceScreen, vp8Codec.RTPCodecCapability, id, false); err != nil {
			cancel()
			return nil, err
		}
	}

	if key != nil {
		s.key = key
		for _, t := range s.localTracks() {
			framecrypt.AttachSender(e.capability, t, key)
		}
	}

	s.speakers = NewSpeakerDetector(e.cfg.SpeakerThreshold, e.cfg.SpeakerInterval, e.pool, s.onSpeakersChanged)
	s.speakers.Start(ctx)
	return s, nil
}

func (s *Session) localTracks() []*LocalTrack {
	tracks := []*LocalTrack{s.audio}
	if s.camera != nil {
		tracks = append(tracks, s.camera, s.screen)
	}
	return tracks
}

func (s *Session) localTrack(source Source) *LocalTrack {
	switch source {
	case SourceMicrophone:
		return s.audio
	case SourceCamera:
		return s.camera
	case SourceScreen:
		return s.screen
	}
	return nil
}

// encrypted reports whether sender transforms are attached.
func (s *Session) encrypted() bool {
	return s.audio.encrypted()
}

// keyID is the ID of the key in use, or 0 when frames are not encrypted.
// Callers that need to know whether frames are encrypted ask encrypted.
func (s *Session) keyID() uint32 {
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()
	if key == nil || !s.encrypted() {
		return 0
	}
	return key.KeyID()
}

func (s *Session) localEncryption() *EncryptionInfo {
	return encryptionInfo(s.encrypted(), s.keyID())
}

func (s *Session) state() VoiceState {
	s.mu.RLock()
	connected := make([]string, 0, len(s.peers))
	for id, p := range s.peers {
		if p.State() == PeerStateConnected {
			connected = append(connected, id)
		}
	}
	deafened := s.deafened
	s.mu.RUnlock()
	sort.Strings(connected)

	return VoiceState{
		InVoice:        true,
		SessionID:      s.id,
		RoomID:         s.roomID,
		ChannelID:      s.channelID,
		Muted:          !s.audio.Active(),
		Deafened:       deafened,
		CameraEnabled:  s.camera != nil && s.camera.Active(),
		ScreenSharing:  s.screen != nil && s.screen.Active(),
		ConnectedPeers: connected,
		Encrypted:      s.encrypted(),
		KeyID:          s.keyID(),
		JoinedAt:       s.joinedAt,
	}
}

// setMuted reports whether the mute state changed.
func (s *Session) setMuted(muted bool) bool {
	return s.audio.setActive(!muted)
}

// setVideo turns the camera or screen track on or off and reports whether
// it changed.
func (s *Session) setVideo(source Source, on bool) (bool, error) {
	t := s.localTrack(source)
	if t == nil {
		return false, ErrVideoDisabled
	}
	return t.setActive(on), nil
}

func (s *Session) setDeafened(deafened bool) {
	s.mu.Lock()
	s.deafened = deafened
	s.mu.Unlock()
}

func (s *Session) isDeafened() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deafened
}

// rotate replaces the media key and every transform. It reports false when
// interception is unavailable; the new key is still recorded.
func (s *Session) rotate(key *framecrypt.MediaKey) bool {
	s.mu.Lock()
	s.key = key
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	attached := true
	for _, t := range s.localTracks() {
		if _, ok := framecrypt.AttachSender(s.engine.capability, t, key); !ok {
			attached = false
		}
	}
	for _, p := range peers {
		for _, rt := range p.RemoteTracks() {
			s.attachReceiver(p, rt)
		}
	}
	return attached
}

// attachReceiver installs a receiver transform for the current key.
func (s *Session) attachReceiver(p *Peer, rt *RemoteTrack) {
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()
	if key == nil {
		return
	}
	framecrypt.AttachReceiver(s.engine.capability, rt, key, s.decryptFailureObserver(p, rt))
}

// decryptFailureObserver turns receive failures into a debounced keyframe
// request for video and a rate-limited e2ee.decrypt_failed event.
func (s *Session) decryptFailureObserver(p *Peer, rt *RemoteTrack) framecrypt.FailureObserver {
	return func(framecrypt.EncodedFrame) {
		failed := rt.failures.Add(1)
		if rt.kind == framecrypt.KindVideo && rt.keyframes.allow() {
			p.requestKeyframe(rt.ssrc)
		}
		if rt.reports.allow() {
			slog.Debug("frames failing authentication",
				slog.String("peer_id", p.id), slog.String("track_id", rt.id), slog.Uint64("failed", failed))
			s.emit(events.E2EEDecryptFail, &events.DecryptFailedData{
				PeerID:  p.id,
				TrackID: rt.id,
				Kind:    rt.kind.String(),
				Failed:  failed,
			})
		}
	}
}

// deliver runs an inbound frame through the track's receiver and hands it
// to frame sinks unless remote audio is deafened. It returns the processed
// frame, or nil when the transform rejected it.
func (s *Session) deliver(p *Peer, rt *RemoteTrack, payload []byte, timestamp uint32) *framecrypt.Frame {
	frame := rt.process(payload, timestamp)
	if frame == nil {
		return nil
	}
	if rt.kind == framecrypt.KindAudio && s.isDeafened() {
		return frame
	}
	s.engine.dispatch(p.id, rt.source, frame)
	return frame
}

func (s *Session) peer(peerID string) (*Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[peerID]
	return p, ok
}

func (s *Session) addPeer(peerID string) (*Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNotInVoice
	}
	if _, ok := s.peers[peerID]; ok {
		return nil, fmt.Errorf("%q: %w", peerID, ErrPeerExists)
	}
	p, err := newPeer(s, peerID)
	if err != nil {
		return nil, err
	}
	s.peers[peerID] = p
	return p, nil
}

func (s *Session) peerOrAdd(peerID string) (*Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNotInVoice
	}
	if p, ok := s.peers[peerID]; ok {
		return p, nil
	}
	p, err := newPeer(s, peerID)
	if err != nil {
		return nil, err
	}
	s.peers[peerID] = p
	return p, nil
}

// removePeer closes and forgets a peer. It reports whether the peer existed.
func (s *Session) removePeer(peerID string) bool {
	s.mu.Lock()
	p, ok := s.peers[peerID]
	if ok {
		delete(s.peers, peerID)
	}
	closed := s.closed
	s.mu.Unlock()
	if !ok {
		return false
	}

	s.speakers.RemovePeer(peerID)
	p.Close()
	if !closed {
		s.emit(events.PeerDisconnected, &events.PeerData{PeerID: peerID, State: PeerStateDisconnected})
		s.emitState()
	}
	return true
}

func (s *Session) checkRemoteEncryption(ctx context.Context, p *Peer, remoteKeyID uint32) {
	remote := advertisedEncryption(remoteKeyID)
	p.setRemoteEncryption(remote)
	if err := CheckPeerEncryption(s.localEncryption(), remote); err != nil {
		slog.WarnContext(ctx, "peer frame encryption mismatch",
			slog.String("peer_id", p.id), slog.String("error", err.Error()))
	}
}

func (s *Session) encryptionStats(stats EncryptionStats) EncryptionStats {
	stats.KeyID = s.keyID()
	stats.Enabled = s.encrypted()

	for _, t := range s.localTracks() {
		ts := t.Stats()
		stats.Send = stats.Send.add(ts)
		stats.Tracks = append(stats.Tracks, ts)
	}

	s.mu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()
	sort.Slice(peers, func(i, j int) bool { return peers[i].id < peers[j].id })

	local := s.localEncryption()
	for _, p := range peers {
		ps := PeerEncryptionStats{PeerID: p.id}
		if remote := p.RemoteEncryption(); remote != nil {
			ps.RemoteKeyID = remote.KeyID
		}
		ps.KeyMatch = CheckPeerEncryption(local, p.RemoteEncryption()) == nil
		for _, rt := range p.RemoteTracks() {
			ps.Receive = ps.Receive.Add(rt.Stats())
		}
		stats.Receive = stats.Receive.Add(ps.Receive)
		stats.Peers = append(stats.Peers, ps)
	}
	return stats
}

func (s *Session) onSpeakersChanged(speakers []ActiveSpeaker) {
	data := &events.SpeakerChangedData{Speakers: make([]events.SpeakerData, 0, len(speakers))}
	for _, sp := range speakers {
		data.Speakers = append(data.Speakers, events.SpeakerData{PeerID: sp.PeerID, AudioLevel: sp.AudioLevel})
	}
	s.emit(events.SpeakerChanged, data)
}

func (s *Session) emit(eventType events.EventType, data interface{}) {
	if s.engine.emitter == nil {
		return
	}
	if err := s.engine.emitter.Emit(s.ctx, eventType, s.id, data); err != nil {
		slog.Warn("voice event publish failed",
			slog.String("event_type", string(eventType)), slog.String("error", err.Error()))
	}
}

func (s *Session) emitState() {
	s.emit(events.VoiceState, s.state().EventData())
}

// close tears down every peer and stops background work.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peers = make(map[string]*Peer)
	s.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	s.speakers.Close()
	for _, t := range s.localTracks() {
		t.SetFrameTransform(nil)
	}
	s.cancel()
}
