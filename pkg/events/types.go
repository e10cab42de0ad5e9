package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event delivered to the client.
type EventType string

const (
	VoiceJoined      EventType = "voice.joined"
	VoiceLeft        EventType = "voice.left"
	VoiceState       EventType = "voice.state"
	VoiceSignal      EventType = "voice.signal"
	PeerConnected    EventType = "peer.connected"
	PeerDisconnected EventType = "peer.disconnected"
	SpeakerChanged   EventType = "speaker.changed"
	E2EEUnavailable  EventType = "e2ee.unavailable"
	E2EEKeyRotated   EventType = "e2ee.key_rotated"
	E2EEDecryptFail  EventType = "e2ee.decrypt_failed"
	SystemError      EventType = "error"
)

// Envelope is the standard event wrapper published to the event bus.
type Envelope struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// VoiceJoinedData is the payload for voice.joined events.
type VoiceJoinedData struct {
	RoomID    string `json:"room_id"`
	ChannelID string `json:"channel_id"`
	Encrypted bool   `json:"encrypted"`
	KeyID     uint32 `json:"key_id,omitempty"`
}

// VoiceLeftData is the payload for voice.left events.
type VoiceLeftData struct {
	RoomID     string `json:"room_id"`
	ChannelID  string `json:"channel_id"`
	DurationMs int64  `json:"duration_ms"`
}

// VoiceStateData is the payload for voice.state events.
type VoiceStateData struct {
	InVoice        bool     `json:"in_voice"`
	RoomID         string   `json:"room_id,omitempty"`
	ChannelID      string   `json:"channel_id,omitempty"`
	Muted          bool     `json:"muted"`
	Deafened       bool     `json:"deafened"`
	CameraEnabled  bool     `json:"camera_enabled"`
	ScreenSharing  bool     `json:"screen_sharing"`
	ConnectedPeers []string `json:"connected_peers"`
	Encrypted      bool     `json:"encrypted"`
}

// SignalType names the kind of signaling message carried by voice.signal.
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice_candidate"
)

// SignalData is the payload for voice.signal events. The backend forwards it
// to the named peer over its own network.
type SignalData struct {
	PeerID    string     `json:"peer_id"`
	Type      SignalType `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate string     `json:"candidate,omitempty"`
	KeyID     uint32     `json:"key_id,omitempty"`
}

// PeerData is the payload for peer.connected and peer.disconnected events.
type PeerData struct {
	PeerID string `json:"peer_id"`
	State  string `json:"state"`
}

// SpeakerData reports one active speaker.
type SpeakerData struct {
	PeerID     string `json:"peer_id"`
	AudioLevel uint8  `json:"audio_level"`
}

// SpeakerChangedData is the payload for speaker.changed events.
type SpeakerChangedData struct {
	Speakers []SpeakerData `json:"speakers"`
}

// E2EEUnavailableData is the payload for e2ee.unavailable events.
type E2EEUnavailableData struct {
	Reason string `json:"reason"`
}

// KeyRotatedData is the payload for e2ee.key_rotated events.
type KeyRotatedData struct {
	KeyID uint32 `json:"key_id"`
}

// DecryptFailedData is the payload for e2ee.decrypt_failed events. Failures
// are aggregated per remote track rather than reported per frame.
type DecryptFailedData struct {
	PeerID  string `json:"peer_id"`
	TrackID string `json:"track_id"`
	Kind    string `json:"kind"`
	Failed  uint64 `json:"failed"`
}

// ErrorData is the payload for error events.
type ErrorData struct {
	Operation string `json:"operation"`
	Error     string `json:"error"`
}
