package handler

import (
	"time"

	"github.com/chatr/chatr-media/internal/media/voice"
)

type JoinVoiceRequest struct {
	RoomID    string `json:"room_id"`
	ChannelID string `json:"channel_id"`
	RoomKey   string `json:"room_key"`
}

type LeaveVoiceRequest struct{}

type SetMutedRequest struct {
	Muted bool `json:"muted"`
}

type SetDeafenedRequest struct {
	Deafened bool `json:"deafened"`
}

type GetVoiceStateRequest struct{}

type RotateRoomKeyRequest struct {
	RoomKey string `json:"room_key"`
}

// VoiceStateResponse is returned by every procedure that changes or reads
// the session state.
type VoiceStateResponse struct {
	InVoice        bool      `json:"in_voice"`
	SessionID      string    `json:"session_id,omitempty"`
	RoomID         string    `json:"room_id,omitempty"`
	ChannelID      string    `json:"channel_id,omitempty"`
	Muted          bool      `json:"muted"`
	Deafened       bool      `json:"deafened"`
	CameraEnabled  bool      `json:"camera_enabled"`
	ScreenSharing  bool      `json:"screen_sharing"`
	ConnectedPeers []string  `json:"connected_peers"`
	Encrypted      bool      `json:"encrypted"`
	KeyID          uint32    `json:"key_id,omitempty"`
	JoinedAt       time.Time `json:"joined_at,omitzero"`
}

type ConnectPeerRequest struct {
	PeerID string `json:"peer_id"`
}

type ConnectPeerResponse struct {
	SDP   string `json:"sdp"`
	KeyID uint32 `json:"key_id,omitempty"`
}

// HandleSignalRequest carries one signaling message received from a peer.
// Type is "offer", "answer" or "ice_candidate".
type HandleSignalRequest struct {
	PeerID    string `json:"peer_id"`
	Type      string `json:"type"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	KeyID     uint32 `json:"key_id,omitempty"`
}

type HandleSignalResponse struct {
	AnswerSDP string `json:"answer_sdp,omitempty"`
	KeyID     uint32 `json:"key_id,omitempty"`
}

type RemovePeerRequest struct {
	PeerID string `json:"peer_id"`
}

type RemovePeerResponse struct{}

type GetEncryptionStatsRequest struct{}

type ReceiveStats struct {
	Decrypted uint64 `json:"decrypted"`
	Failed    uint64 `json:"failed"`
	Short     uint64 `json:"short"`
}

type SendStats struct {
	Source           string `json:"source,omitempty"`
	Written          uint64 `json:"written"`
	Sealed           uint64 `json:"sealed"`
	Dropped          uint64 `json:"dropped"`
	Discarded        uint64 `json:"discarded"`
	KeyframeRequests uint64 `json:"keyframe_requests"`
}

type PeerStats struct {
	PeerID      string       `json:"peer_id"`
	RemoteKeyID uint32       `json:"remote_key_id,omitempty"`
	KeyMatch    bool         `json:"key_match"`
	Receive     ReceiveStats `json:"receive"`
}

type EncryptionStatsResponse struct {
	Available bool         `json:"available"`
	Enabled   bool         `json:"enabled"`
	KeyID     uint32       `json:"key_id,omitempty"`
	Send      SendStats    `json:"send"`
	Tracks    []SendStats  `json:"tracks"`
	Receive   ReceiveStats `json:"receive"`
	Peers     []PeerStats  `json:"peers"`
}

type SetCameraRequest struct {
	Enabled bool `json:"enabled"`
}

type StartScreenShareRequest struct{}

type StopScreenShareRequest struct{}

// StreamFramesRequest filters the frame stream. Empty PeerIDs means every
// peer; empty Sources means audio, camera and screen.
type StreamFramesRequest struct {
	PeerIDs []string `json:"peer_ids,omitempty"`
	Sources []string `json:"sources,omitempty"`
}

// FrameMessage is one received frame after the receiver transform. Payload
// is the encoded Opus or VP8 frame, or the untouched frame when it failed
// to open.
type FrameMessage struct {
	PeerID    string `json:"peer_id"`
	Source    string `json:"source"`
	Kind      string `json:"kind"`
	Timestamp uint32 `json:"timestamp"`
	Payload   []byte `json:"payload"`
}

// PublishFrameRequest is one encoded local frame for the named source.
type PublishFrameRequest struct {
	Source     string `json:"source"`
	Payload    []byte `json:"payload"`
	DurationMs uint32 `json:"duration_ms,omitempty"`
}

type PublishFramesResponse struct {
	Received uint64 `json:"received"`
}

// WatchEventsRequest filters the event stream; empty Types means all.
type WatchEventsRequest struct {
	Types []string `json:"types,omitempty"`
}

func stateResponse(st voice.VoiceState) *VoiceStateResponse {
	peers := st.ConnectedPeers
	if peers == nil {
		peers = []string{}
	}
	return &VoiceStateResponse{
		InVoice:        st.InVoice,
		SessionID:      st.SessionID,
		RoomID:         st.RoomID,
		ChannelID:      st.ChannelID,
		Muted:          st.Muted,
		Deafened:       st.Deafened,
		CameraEnabled:  st.CameraEnabled,
		ScreenSharing:  st.ScreenSharing,
		ConnectedPeers: peers,
		Encrypted:      st.Encrypted,
		KeyID:          st.KeyID,
		JoinedAt:       st.JoinedAt,
	}
}

func statsResponse(st voice.EncryptionStats) *EncryptionStatsResponse {
	resp := &EncryptionStatsResponse{
		Available: st.Available,
		Enabled:   st.Enabled,
		KeyID:     st.KeyID,
		Send:      sendStats(st.Send),
		Tracks:    make([]SendStats, 0, len(st.Tracks)),
		Receive:   ReceiveStats(st.Receive),
		Peers:     make([]PeerStats, 0, len(st.Peers)),
	}
	for _, t := range st.Tracks {
		resp.Tracks = append(resp.Tracks, sendStats(t))
	}
	for _, p := range st.Peers {
		resp.Peers = append(resp.Peers, PeerStats{
			PeerID:      p.PeerID,
			RemoteKeyID: p.RemoteKeyID,
			KeyMatch:    p.KeyMatch,
			Receive:     ReceiveStats(p.Receive),
		})
	}
	return resp
}

func sendStats(st voice.LocalTrackStats) SendStats {
	return SendStats{
		Source:           string(st.Source),
		Written:          st.Written,
		Sealed:           st.Sealed,
		Dropped:          st.Dropped,
		Discarded:        st.Discarded,
		KeyframeRequests: st.KeyframeRequests,
	}
}
