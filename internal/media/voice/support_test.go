package voice

import (
	"errors"
	"testing"
	"time"

	"github.com/pion/rtcp"
)

func TestDebouncer(t *testing.T) {
	now := time.Unix(0, 0)
	d := newDebouncer(time.Second)
	d.now = func() time.Time { return now }

	if !d.allow() {
		t.Fatal("first call should be allowed")
	}
	now = now.Add(500 * time.Millisecond)
	if d.allow() {
		t.Error("call within interval allowed")
	}
	now = now.Add(600 * time.Millisecond)
	if !d.allow() {
		t.Error("call after interval refused")
	}
}

func TestIsKeyframeRequest(t *testing.T) {
	if !isKeyframeRequest(&rtcp.PictureLossIndication{}) || !isKeyframeRequest(&rtcp.FullIntraRequest{}) {
		t.Error("PLI/FIR not recognised")
	}
	if isKeyframeRequest(&rtcp.ReceiverReport{}) {
		t.Error("receiver report treated as keyframe request")
	}
}

func TestCheckPeerEncryption(t *testing.T) {
	local := &EncryptionInfo{Algorithm: FrameEncryptionAlgorithm, KeyID: 7}

	if err := CheckPeerEncryption(nil, nil); err != nil {
		t.Errorf("both unencrypted: %v", err)
	}
	if err := CheckPeerEncryption(local, advertisedEncryption(7)); err != nil {
		t.Errorf("matching keys: %v", err)
	}
	if err := CheckPeerEncryption(local, advertisedEncryption(8)); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("different keys: %v", err)
	}
	if err := CheckPeerEncryption(local, nil); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("peer unencrypted: %v", err)
	}
	if err := CheckPeerEncryption(nil, local); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("local unencrypted: %v", err)
	}
	other := &EncryptionInfo{Algorithm: "SFRAME", KeyID: 7}
	if err := CheckPeerEncryption(local, other); !errors.Is(err, ErrAlgorithmMismatch) {
		t.Errorf("different algorithm: %v", err)
	}
}

func TestEncryptionInfoKeyIDZero(t *testing.T) {
	info := encryptionInfo(true, 0)
	if info == nil || info.KeyID != 0 || info.Algorithm != FrameEncryptionAlgorithm {
		t.Fatalf("encrypted session with key 0 = %+v", info)
	}
	if encryptionInfo(false, 9) != nil {
		t.Error("unencrypted session advertised a key")
	}
	if err := CheckPeerEncryption(info, advertisedEncryption(0)); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("key 0 session against silent peer: %v", err)
	}
}

func TestParseSource(t *testing.T) {
	for _, src := range []Source{SourceMicrophone, SourceCamera, SourceScreen} {
		got, ok := ParseSource(string(src))
		if !ok || got != src {
			t.Errorf("ParseSource(%q) = %q, %v", src, got, ok)
		}
	}
	if _, ok := ParseSource("video"); ok {
		t.Error("unknown track id parsed")
	}
	if SourceScreen.Kind().String() != "video" || SourceMicrophone.Kind().String() != "audio" {
		t.Error("source kinds")
	}
}

func TestSpeakerDetectorReportsChanges(t *testing.T) {
	now := time.Unix(100, 0)
	var reports [][]ActiveSpeaker
	sd := NewSpeakerDetector(30, time.Second, nil, func(s []ActiveSpeaker) { reports = append(reports, s) })
	sd.now = func() time.Time { return now }

	sd.UpdateLevel("a", 10, false)
	sd.UpdateLevel("b", 90, false)
	sd.report()
	sd.report()
	if len(reports) != 1 || len(reports[0]) != 1 || reports[0][0].PeerID != "a" {
		t.Fatalf("reports = %+v", reports)
	}

	sd.UpdateLevel("b", 5, false)
	sd.report()
	if len(reports) != 2 || reports[1][0].PeerID != "b" || reports[1][1].PeerID != "a" {
		t.Fatalf("reports = %+v", reports)
	}

	now = now.Add(3 * time.Second)
	sd.report()
	if len(reports) != 3 || len(reports[2]) != 0 {
		t.Fatalf("stale speakers not cleared: %+v", reports)
	}

	sd.RemovePeer("a")
	if got := sd.ActiveSpeakers(); len(got) != 0 {
		t.Errorf("ActiveSpeakers = %+v", got)
	}
}
