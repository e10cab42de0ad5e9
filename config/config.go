package config

import (
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/pitabwire/frame/config"
)

// MediaConfig holds configuration for the voice media service.
type MediaConfig struct {
	config.ConfigurationDefault

	// ICE
	STUNServers   string `envDefault:"stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302" env:"STUN_SERVERS"`
	TURNServers   string `envDefault:""                                                          env:"TURN_SERVERS"`
	TURNUsername  string `envDefault:""                                                          env:"TURN_USERNAME"`
	TURNPassword  string `envDefault:""                                                          env:"TURN_PASSWORD"`
	ICEServerFile string `envDefault:""                                                          env:"ICE_SERVER_FILE"`

	// Frame encryption
	FrameEncryptionEnabled bool `envDefault:"true"  env:"FRAME_ENCRYPTION_ENABLED"`
	E2EERequired           bool `envDefault:"false" env:"E2EE_REQUIRED"`

	// Media pipeline
	VideoEnabled              bool `envDefault:"true" env:"VIDEO_ENABLED"`
	SampleBuilderMaxLate      int  `envDefault:"128"  env:"SAMPLE_BUILDER_MAX_LATE"`
	KeyframeRequestIntervalMs int  `envDefault:"1000" env:"KEYFRAME_REQUEST_INTERVAL_MS"`
	SpeakerDetectorIntervalMs int  `envDefault:"500"  env:"SPEAKER_DETECTOR_INTERVAL_MS"`
	SpeakerDetectorThreshold  int  `envDefault:"30"   env:"SPEAKER_DETECTOR_THRESHOLD"`

	// Events
	EventSubscriberBuffer int `envDefault:"64" env:"EVENT_SUBSCRIBER_BUFFER"`
}

// ICEServers builds the ICE server list from the STUN/TURN settings.
func (c *MediaConfig) ICEServers() []webrtc.ICEServer {
	return buildICEServers(c.STUNServers, c.TURNServers, c.TURNUsername, c.TURNPassword)
}

func buildICEServers(stunServers, turnServers, turnUsername, turnPassword string) []webrtc.ICEServer {
	var iceServers []webrtc.ICEServer
	if urls := splitList(stunServers); len(urls) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: urls})
	}
	if urls := splitList(turnServers); len(urls) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:           urls,
			Username:       turnUsername,
			Credential:     turnPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return iceServers
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
