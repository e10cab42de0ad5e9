package voice

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/frame/workerpool"
)

// ActiveSpeaker reports a single speaker's audio state.
type ActiveSpeaker struct {
	PeerID        string
	AudioLevel    uint8
	VoiceActivity bool
}

// SpeakerListener is called when the active speaker set changes.
type SpeakerListener func(speakers []ActiveSpeaker)

type levelSample struct {
	level uint8
	vad   bool
	at    time.Time
}

// speakerTimeout drops peers whose audio stopped arriving.
const speakerTimeout = 2 * time.Second

// SpeakerDetector tracks RFC 6464 audio levels per remote peer and reports
// the active speaker set whenever it changes. Levels come from the RTP header
// extension, which stays in the clear when frame payloads are encrypted.
type SpeakerDetector struct {
	mu        sync.Mutex
	samples   map[string]levelSample
	last      []string
	onChange  SpeakerListener
	threshold uint8
	interval  time.Duration
	now       func() time.Time
	cancel    context.CancelFunc
	pool      workerpool.WorkerPool
}

// NewSpeakerDetector creates a detector. Zero threshold or interval select
// the defaults (30, 500ms).
func NewSpeakerDetector(threshold uint8, interval time.Duration, pool workerpool.WorkerPool, onChange SpeakerListener) *SpeakerDetector {
	if threshold == 0 {
		threshold = 30
	}
	if interval == 0 {
		interval = 500 * time.Millisecond
	}
	return &SpeakerDetector{
		samples:   make(map[string]levelSample),
		onChange:  onChange,
		threshold: threshold,
		interval:  interval,
		now:       time.Now,
		pool:      pool,
	}
}

// Start runs the periodic report until ctx is done or Close is called.
func (sd *SpeakerDetector) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	sd.mu.Lock()
	sd.cancel = cancel
	sd.mu.Unlock()

	run := func() { sd.run(ctx) }
	if sd.pool == nil || sd.pool.Submit(ctx, run) != nil {
		go run()
	}
}

func (sd *SpeakerDetector) run(ctx context.Context) {
	tick := time.NewTicker(sd.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			sd.report()
		}
	}
}

// UpdateLevel records a level for a peer; 0 is loudest, 127 is silence.
func (sd *SpeakerDetector) UpdateLevel(peerID string, level uint8, voiceActivity bool) {
	sd.mu.Lock()
	sd.samples[peerID] = levelSample{level: level, vad: voiceActivity, at: sd.now()}
	sd.mu.Unlock()
}

// ActiveSpeakers returns the current speakers, loudest first.
func (sd *SpeakerDetector) ActiveSpeakers() []ActiveSpeaker {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.activeSpeakersLocked()
}

func (sd *SpeakerDetector) activeSpeakersLocked() []ActiveSpeaker {
	cutoff := sd.now().Add(-speakerTimeout)
	var speakers []ActiveSpeaker
	for peerID, smp := range sd.samples {
		stale := smp.at.Before(cutoff)
		loud := smp.level <= sd.threshold || smp.vad
		if stale || !loud {
			continue
		}
		speakers = append(speakers, ActiveSpeaker{PeerID: peerID, AudioLevel: smp.level, VoiceActivity: smp.vad})
	}
	slices.SortFunc(speakers, func(a, b ActiveSpeaker) int {
		if c := cmp.Compare(a.AudioLevel, b.AudioLevel); c != 0 {
			return c
		}
		return strings.Compare(a.PeerID, b.PeerID)
	})
	return speakers
}

// report notifies the listener only when the set of speaking peers changed.
func (sd *SpeakerDetector) report() {
	sd.mu.Lock()
	speakers := sd.activeSpeakersLocked()
	ids := make([]string, len(speakers))
	for i, s := range speakers {
		ids[i] = s.PeerID
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	changed := !slices.Equal(sorted, sd.last)
	if changed {
		sd.last = sorted
	}
	onChange := sd.onChange
	sd.mu.Unlock()

	if changed && onChange != nil {
		onChange(speakers)
	}
}

// RemovePeer forgets a peer's level.
func (sd *SpeakerDetector) RemovePeer(peerID string) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	delete(sd.samples, peerID)
}

// Close stops the detector.
func (sd *SpeakerDetector) Close() {
	sd.mu.Lock()
	cancel := sd.cancel
	sd.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
