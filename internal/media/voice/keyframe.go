package voice

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// debouncer allows an action at most once per interval.
type debouncer struct {
	mu       sync.Mutex
	last     time.Time
	interval time.Duration
	now      func() time.Time
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{interval: interval, now: time.Now}
}

func (d *debouncer) allow() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if !d.last.IsZero() && now.Sub(d.last) < d.interval {
		return false
	}
	d.last = now
	return true
}

// sendPLI asks the sender of ssrc for a fresh keyframe. Used when video
// frames stop authenticating, so the decoder can resync after a rotation.
func sendPLI(pc *webrtc.PeerConnection, ssrc uint32) error {
	return pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: ssrc},
	})
}

// isKeyframeRequest reports whether an incoming RTCP packet asks us to send
// a keyframe on a local track.
func isKeyframeRequest(pkt rtcp.Packet) bool {
	switch pkt.(type) {
	case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
		return true
	}
	return false
}
