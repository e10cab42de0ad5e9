package framecrypt

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

// recordingStream is an Interceptable that applies whatever transform is set.
type recordingStream struct {
	transform FrameTransform
	sets      int
}

func (s *recordingStream) SetFrameTransform(t FrameTransform) {
	s.transform = t
	s.sets++
}

func (s *recordingStream) push(f EncodedFrame) error {
	if s.transform == nil {
		return nil
	}
	return s.transform.Transform(f)
}

func TestProbeMemoised(t *testing.T) {
	calls := 0
	p := &Probe{enabled: true, check: func() bool { calls++; return true }}
	for i := 0; i < 5; i++ {
		if !p.FrameInterception() {
			t.Fatal("expected supported")
		}
	}
	if calls != 1 {
		t.Errorf("check ran %d times, want 1", calls)
	}
}

func TestProbeDisabledByConfig(t *testing.T) {
	if NewProbe(false).FrameInterception() {
		t.Error("disabled probe reported support")
	}
	if !NewProbe(true).FrameInterception() {
		t.Error("enabled probe on a runtime with AES-GCM reported no support")
	}
}

func TestAttachUnsupportedDeclines(t *testing.T) {
	key := mustKey(t, "unsupported")
	sendStream := &recordingStream{}
	recvStream := &recordingStream{}

	tx, ok := AttachSender(StaticCapability(false), sendStream, key)
	if ok || tx != nil {
		t.Fatal("AttachSender attached without capability")
	}
	rx, ok := AttachReceiver(StaticCapability(false), recvStream, key, nil)
	if ok || rx != nil {
		t.Fatal("AttachReceiver attached without capability")
	}
	if sendStream.sets != 0 || recvStream.sets != 0 {
		t.Error("streams were touched")
	}

	frame := NewFrame(KindAudio, 0, []byte("plain"))
	if err := sendStream.push(frame); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := recvStream.push(frame); err != nil {
		t.Fatalf("push: %v", err)
	}
	if string(frame.Payload()) != "plain" {
		t.Errorf("frame modified: %q", frame.Payload())
	}
}

func TestAttachSupported(t *testing.T) {
	key := mustKey(t, "supported")
	sendStream := &recordingStream{}
	recvStream := &recordingStream{}

	tx, ok := AttachSender(StaticCapability(true), sendStream, key)
	if !ok || tx == nil || sendStream.sets != 1 {
		t.Fatal("AttachSender did not attach")
	}
	rx, ok := AttachReceiver(StaticCapability(true), recvStream, key, nil)
	if !ok || rx == nil || recvStream.sets != 1 {
		t.Fatal("AttachReceiver did not attach")
	}

	frame := NewFrame(KindVideo, 0, []byte("vp8 frame"))
	if err := sendStream.push(frame); err != nil {
		t.Fatalf("send: %v", err)
	}
	if bytes.Equal(frame.Payload(), []byte("vp8 frame")) {
		t.Fatal("sender did not encrypt")
	}
	_ = recvStream.push(frame)
	if string(frame.Payload()) != "vp8 frame" {
		t.Errorf("got %q after receive", frame.Payload())
	}
}

func TestAttachWithoutKeyDeclines(t *testing.T) {
	if _, ok := AttachSender(StaticCapability(true), &recordingStream{}, nil); ok {
		t.Error("attached without a key")
	}
	if _, ok := AttachReceiver(nil, &recordingStream{}, mustKey(t, "k"), nil); ok {
		t.Error("attached without a capability")
	}
}

func TestRunPreservesOrder(t *testing.T) {
	key := mustKey(t, "stage")
	ctx := context.Background()

	const n = 200
	in := make(chan EncodedFrame)
	sealed := make(chan EncodedFrame, 4)
	opened := make(chan EncodedFrame, 4)

	go func() {
		for i := 0; i < n; i++ {
			in <- NewFrame(KindAudio, uint32(i), []byte{byte(i), byte(i >> 8)})
		}
		close(in)
	}()
	go func() { _ = Run(ctx, NewSenderTransform(key), in, sealed, nil) }()
	go func() { _ = Run(ctx, NewReceiverTransform(key, nil), sealed, opened, nil) }()

	i := 0
	for f := range opened {
		frame := f.(*Frame)
		if frame.Timestamp != uint32(i) {
			t.Fatalf("frame %d arrived at position %d", frame.Timestamp, i)
		}
		if !bytes.Equal(frame.Payload(), []byte{byte(i), byte(i >> 8)}) {
			t.Fatalf("frame %d: payload %x", i, frame.Payload())
		}
		i++
	}
	if i != n {
		t.Errorf("received %d frames, want %d", i, n)
	}
}

type failEvery struct{ n, calls int }

func (f *failEvery) Transform(EncodedFrame) error {
	f.calls++
	if f.calls%f.n == 0 {
		return errors.New("seal failed")
	}
	return nil
}

func TestRunDropsFailedFrames(t *testing.T) {
	in := make(chan EncodedFrame, 10)
	out := make(chan EncodedFrame, 10)
	for i := 0; i < 10; i++ {
		in <- NewFrame(KindAudio, uint32(i), nil)
	}
	close(in)

	var dropped []uint32
	err := Run(context.Background(), &failEvery{n: 3}, in, out, func(f EncodedFrame, _ error) {
		dropped = append(dropped, f.(*Frame).Timestamp)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got []uint32
	for f := range out {
		got = append(got, f.(*Frame).Timestamp)
	}
	if len(got) != 7 {
		t.Fatalf("forwarded %v, want 7 frames", got)
	}
	if len(dropped) != 3 || dropped[0] != 2 || dropped[1] != 5 || dropped[2] != 8 {
		t.Errorf("dropped = %v, want [2 5 8]", dropped)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan EncodedFrame)
	err := Run(ctx, noopTransform{}, make(chan EncodedFrame), out, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if _, open := <-out; open {
		t.Error("out not closed")
	}
}

type noopTransform struct{}

func (noopTransform) Transform(EncodedFrame) error { return nil }
