package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"

	"github.com/chatr/chatr-media/internal/media/codec"
	"github.com/chatr/chatr-media/pkg/events"
	"github.com/chatr/chatr-media/pkg/framecrypt"
)

// Peer connection states reported in events and VoiceState.
const (
	PeerStateConnecting   = "connecting"
	PeerStateConnected    = "connected"
	PeerStateDisconnected = "disconnected"
)

// Peer wraps the PeerConnection to one remote participant.
type Peer struct {
	mu           sync.Mutex
	id           string
	pc           *webrtc.PeerConnection
	session      *Session
	ctx          context.Context
	cancel       context.CancelFunc
	state        string
	remoteTracks map[string]*RemoteTrack
	remoteEnc    *EncryptionInfo
	pending      []webrtc.ICECandidateInit
	closeOnce    sync.Once
}

func newPeer(s *Session, id string) (*Peer, error) {
	e := s.engine
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.cfg.ICEServers()})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	p := &Peer{
		id:           id,
		pc:           pc,
		session:      s,
		ctx:          ctx,
		cancel:       cancel,
		state:        PeerStateConnecting,
		remoteTracks: make(map[string]*RemoteTrack),
	}

	for _, lt := range s.localTracks() {
		sender, err := pc.AddTrack(lt.track)
		if err != nil {
			_ = pc.Close()
			cancel()
			return nil, fmt.Errorf("add %s track: %w", lt.source, err)
		}
		lt := lt
		e.submit(ctx, func() { drainRTCP(ctx, sender, lt) })
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		s.emit(events.VoiceSignal, &events.SignalData{
			PeerID:    id,
			Type:      events.SignalICECandidate,
			Candidate: string(raw),
		})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.handleTrack(remote, receiver)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.mu.Lock()
		prev := p.state
		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.state = PeerStateConnected
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.state = PeerStateDisconnected
		}
		current := p.state
		p.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateConnected:
			if prev != PeerStateConnected {
				s.emit(events.PeerConnected, &events.PeerData{PeerID: id, State: current})
				s.emitState()
			}
		case webrtc.PeerConnectionStateFailed:
			// Closing from inside a pion callback would block on the
			// connection's own operations queue.
			e.submit(s.ctx, func() { s.removePeer(id) })
		}
	})

	return p, nil
}

// ID returns the remote peer identifier.
func (p *Peer) ID() string { return p.id }

// State returns connecting, connected or disconnected.
func (p *Peer) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// RemoteEncryption returns what the peer advertised, or nil.
func (p *Peer) RemoteEncryption() *EncryptionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteEnc
}

func (p *Peer) setRemoteEncryption(enc *EncryptionInfo) {
	p.mu.Lock()
	p.remoteEnc = enc
	p.mu.Unlock()
}

// RemoteTracks returns the tracks received from this peer.
func (p *Peer) RemoteTracks() []*RemoteTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	tracks := make([]*RemoteTrack, 0, len(p.remoteTracks))
	for _, t := range p.remoteTracks {
		tracks = append(tracks, t)
	}
	return tracks
}

func (p *Peer) offer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *Peer) answer(offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	p.flushCandidates()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *Peer) acceptAnswer(answerSDP string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.flushCandidates()
	return nil
}

func (p *Peer) addCandidate(candidateJSON string) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidateJSON), &candidate); err != nil {
		return fmt.Errorf("parse ICE candidate: %w", err)
	}

	p.mu.Lock()
	if p.pc.RemoteDescription() == nil {
		p.pending = append(p.pending, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.pc.AddICECandidate(candidate)
}

func (p *Peer) flushCandidates() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			slog.Warn("queued ICE candidate rejected", slog.String("peer_id", p.id), slog.String("error", err.Error()))
		}
	}
}

func (p *Peer) pendingCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Peer) requestKeyframe(ssrc uint32) {
	if err := sendPLI(p.pc, ssrc); err != nil {
		slog.Debug("keyframe request failed", slog.String("peer_id", p.id), slog.String("error", err.Error()))
	}
}

func (p *Peer) handleTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := framecrypt.KindAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = framecrypt.KindVideo
	}

	s := p.session
	rt := newRemoteTrack(p.id, remote.ID(), kind, s.engine.cfg.KeyframeInterval)
	rt.ssrc = uint32(remote.SSRC())
	rt.levelExtID = audioLevelExtensionID(receiver.GetParameters())

	p.mu.Lock()
	p.remoteTracks[rt.id] = rt
	p.mu.Unlock()

	s.attachReceiver(p, rt)
	s.engine.submit(p.ctx, func() { p.readRemote(remote, rt) })

	slog.Debug("remote track added",
		slog.String("peer_id", p.id),
		slog.String("track_id", rt.id),
		slog.String("codec", remote.Codec().MimeType),
	)
}

// readRemote reassembles frames from RTP and hands them to the session.
// Audio is one Opus frame per packet; VP8 frames span packets and are
// rebuilt with a sample builder.
func (p *Peer) readRemote(remote *webrtc.TrackRemote, rt *RemoteTrack) {
	s := p.session
	var sb *samplebuilder.SampleBuilder
	var opus codecs.OpusPacket
	var meter *codec.LevelMeter
	if rt.kind == framecrypt.KindVideo {
		sb = samplebuilder.New(s.engine.cfg.SampleBuilderMaxLate, &codecs.VP8Packet{}, remote.Codec().ClockRate)
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}

		if sb != nil {
			sb.Push(pkt)
			for sample := sb.Pop(); sample != nil; sample = sb.Pop() {
				s.deliver(p, rt, sample.Data, sample.PacketTimestamp)
			}
			continue
		}

		headerLevel := p.observeAudioLevel(rt, pkt)
		payload, err := opus.Unmarshal(pkt.Payload)
		if err != nil || len(payload) == 0 {
			continue
		}

		failedBefore := rt.failures.Load()
		frame := s.deliver(p, rt, payload, pkt.Timestamp)
		// Without the header extension, measure the decrypted frame. A frame
		// that failed to open still holds ciphertext and is not measured.
		if !headerLevel && frame != nil && rt.failures.Load() == failedBefore {
			if meter == nil {
				meter = codec.NewLevelMeter()
			}
			if level, err := meter.Level(frame.Payload()); err == nil {
				s.speakers.UpdateLevel(p.id, level, false)
			}
		}
	}
}

func (p *Peer) observeAudioLevel(rt *RemoteTrack, pkt *rtp.Packet) bool {
	level, voice, ok := rt.audioLevel(pkt)
	if ok {
		p.session.speakers.UpdateLevel(p.id, level, voice)
	}
	return ok
}

// drainRTCP reads RTCP for a local track so interceptors keep running and
// counts keyframe requests for the upstream encoder.
func drainRTCP(ctx context.Context, sender *webrtc.RTPSender, lt *LocalTrack) {
	for {
		if ctx.Err() != nil {
			return
		}
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			if isKeyframeRequest(pkt) {
				lt.keyframes.Add(1)
			}
		}
	}
}

// Close closes the peer connection. Safe to call multiple times.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = PeerStateDisconnected
		p.pending = nil
		p.mu.Unlock()

		if p.pc != nil {
			if err := p.pc.Close(); err != nil {
				slog.Debug("peer connection close", slog.String("peer_id", p.id), slog.String("error", err.Error()))
			}
		}
		if p.cancel != nil {
			p.cancel()
		}
	})
}
