package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chatr/chatr-media/internal/connectutil"
	"github.com/chatr/chatr-media/internal/media/voice"
	"github.com/chatr/chatr-media/pkg/events"
	"github.com/chatr/chatr-media/pkg/framecrypt"
)

func setupTestServer(t *testing.T) *VoiceServiceClient {
	t.Helper()
	return setupTestServerWith(t, voice.Config{})
}

func setupTestServerWith(t *testing.T, cfg voice.Config) *VoiceServiceClient {
	t.Helper()
	publisher := events.NewPublisher(nil, "media", "")
	engine, err := voice.NewEngine(cfg, framecrypt.StaticCapability(true), publisher, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)

	mux := http.NewServeMux()
	path, hdlr := NewVoiceServiceHandler(NewVoiceHandler(engine, publisher, 16), connectutil.DefaultOptions()...)
	mux.Handle(path, hdlr)

	server := httptest.NewServer(connectutil.H2CHandler(mux))
	t.Cleanup(server.Close)

	return NewVoiceServiceClient(server.Client(), server.URL, connectutil.DefaultClientOptions()...)
}

func join(t *testing.T, client *VoiceServiceClient, roomKey string) *VoiceStateResponse {
	t.Helper()
	resp, err := client.JoinVoice(context.Background(), connect.NewRequest(&JoinVoiceRequest{
		RoomID:    "room-1",
		ChannelID: "general",
		RoomKey:   roomKey,
	}))
	if err != nil {
		t.Fatalf("JoinVoice: %v", err)
	}
	return resp.Msg
}

func assertCode(t *testing.T, err error, want connect.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	var ce *connect.Error
	if !errors.As(err, &ce) || ce.Code() != want {
		t.Errorf("got %v, want code %v", err, want)
	}
}

func TestJoinAndLeave(t *testing.T) {
	client := setupTestServer(t)
	ctx := context.Background()

	st := join(t, client, "room-secret")
	key, _ := framecrypt.DeriveMediaKey("room-secret")
	if !st.InVoice || !st.Encrypted || st.KeyID != key.KeyID() || st.SessionID == "" {
		t.Errorf("join state = %+v", st)
	}

	got, err := client.GetVoiceState(ctx, connect.NewRequest(&GetVoiceStateRequest{}))
	if err != nil {
		t.Fatalf("GetVoiceState: %v", err)
	}
	if got.Msg.SessionID != st.SessionID {
		t.Errorf("session id = %q, want %q", got.Msg.SessionID, st.SessionID)
	}

	left, err := client.LeaveVoice(ctx, connect.NewRequest(&LeaveVoiceRequest{}))
	if err != nil {
		t.Fatalf("LeaveVoice: %v", err)
	}
	if left.Msg.InVoice || left.Msg.ConnectedPeers == nil {
		t.Errorf("leave state = %+v", left.Msg)
	}
}

func TestJoinInvalidArgument(t *testing.T) {
	client := setupTestServer(t)
	_, err := client.JoinVoice(context.Background(), connect.NewRequest(&JoinVoiceRequest{ChannelID: "general"}))
	assertCode(t, err, connect.CodeInvalidArgument)
}

func TestNotInVoice(t *testing.T) {
	client := setupTestServer(t)
	ctx := context.Background()

	_, err := client.SetMuted(ctx, connect.NewRequest(&SetMutedRequest{Muted: true}))
	assertCode(t, err, connect.CodeFailedPrecondition)

	_, err = client.ConnectPeer(ctx, connect.NewRequest(&ConnectPeerRequest{PeerID: "p1"}))
	assertCode(t, err, connect.CodeFailedPrecondition)
}

func TestMuteAndDeafen(t *testing.T) {
	client := setupTestServer(t)
	ctx := context.Background()
	join(t, client, "k")

	muted, err := client.SetMuted(ctx, connect.NewRequest(&SetMutedRequest{Muted: true}))
	if err != nil || !muted.Msg.Muted {
		t.Fatalf("SetMuted: %+v %v", muted, err)
	}
	deaf, err := client.SetDeafened(ctx, connect.NewRequest(&SetDeafenedRequest{Deafened: true}))
	if err != nil || !deaf.Msg.Deafened || !deaf.Msg.Muted {
		t.Fatalf("SetDeafened: %+v %v", deaf, err)
	}
}

func TestRotateRoomKey(t *testing.T) {
	client := setupTestServer(t)
	ctx := context.Background()
	before := join(t, client, "k1")

	after, err := client.RotateRoomKey(ctx, connect.NewRequest(&RotateRoomKeyRequest{RoomKey: "k2"}))
	if err != nil {
		t.Fatalf("RotateRoomKey: %v", err)
	}
	if after.Msg.KeyID == before.KeyID {
		t.Error("key id unchanged after rotation")
	}

	_, err = client.RotateRoomKey(ctx, connect.NewRequest(&RotateRoomKeyRequest{}))
	assertCode(t, err, connect.CodeInvalidArgument)
}

func TestSignaling(t *testing.T) {
	client := setupTestServer(t)
	ctx := context.Background()
	st := join(t, client, "k")

	offer, err := client.ConnectPeer(ctx, connect.NewRequest(&ConnectPeerRequest{PeerID: "bob"}))
	if err != nil {
		t.Fatalf("ConnectPeer: %v", err)
	}
	if offer.Msg.SDP == "" || offer.Msg.KeyID != st.KeyID {
		t.Errorf("offer = %+v", offer.Msg)
	}

	_, err = client.ConnectPeer(ctx, connect.NewRequest(&ConnectPeerRequest{PeerID: "bob"}))
	assertCode(t, err, connect.CodeAlreadyExists)

	_, err = client.HandleSignal(ctx, connect.NewRequest(&HandleSignalRequest{PeerID: "bob", Type: "bogus"}))
	assertCode(t, err, connect.CodeInvalidArgument)

	_, err = client.HandleSignal(ctx, connect.NewRequest(&HandleSignalRequest{
		PeerID:    "carol",
		Type:      string(events.SignalICECandidate),
		Candidate: `{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host","sdpMid":"0","sdpMLineIndex":0}`,
	}))
	assertCode(t, err, connect.CodeNotFound)

	stats, err := client.GetEncryptionStats(ctx, connect.NewRequest(&GetEncryptionStatsRequest{}))
	if err != nil {
		t.Fatalf("GetEncryptionStats: %v", err)
	}
	if !stats.Msg.Available || !stats.Msg.Enabled || len(stats.Msg.Peers) != 1 || stats.Msg.Peers[0].PeerID != "bob" {
		t.Errorf("stats = %+v", stats.Msg)
	}

	if _, err := client.RemovePeer(ctx, connect.NewRequest(&RemovePeerRequest{PeerID: "bob"})); err != nil {
		t.Fatalf("RemovePeer: %v", err)
	}
	_, err = client.RemovePeer(ctx, connect.NewRequest(&RemovePeerRequest{PeerID: "bob"}))
	assertCode(t, err, connect.CodeNotFound)
}

func receiveEnvelope(t *testing.T, stream *connect.ServerStreamForClient[events.Envelope]) events.Envelope {
	t.Helper()
	if !stream.Receive() {
		t.Fatalf("stream ended: %v", stream.Err())
	}
	return *stream.Msg()
}

func decodeState(t *testing.T, env events.Envelope) events.VoiceStateData {
	t.Helper()
	if env.Type != events.VoiceState {
		t.Fatalf("envelope type = %q, want %q", env.Type, events.VoiceState)
	}
	var data events.VoiceStateData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode voice.state: %v", err)
	}
	return data
}

func TestWatchEventsSnapshotOnIdleEngine(t *testing.T) {
	client := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Nothing is emitted on an idle engine; the call must still return.
	stream, err := client.WatchEvents(ctx, connect.NewRequest(&WatchEventsRequest{}))
	if err != nil {
		t.Fatalf("WatchEvents: %v", err)
	}
	defer stream.Close()

	snapshot := receiveEnvelope(t, stream)
	if st := decodeState(t, snapshot); st.InVoice || snapshot.Source != "media" || snapshot.ID == "" {
		t.Errorf("snapshot = %+v %+v", snapshot, st)
	}

	st := join(t, client, "k")
	joined := receiveEnvelope(t, stream)
	if joined.Type != events.VoiceJoined || joined.SessionID != st.SessionID {
		t.Errorf("after join got %+v", joined)
	}
}

func TestWatchEvents(t *testing.T) {
	client := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st := join(t, client, "k")

	stream, err := client.WatchEvents(ctx, connect.NewRequest(&WatchEventsRequest{
		Types: []string{string(events.VoiceState)},
	}))
	if err != nil {
		t.Fatalf("WatchEvents: %v", err)
	}
	defer stream.Close()

	snapshot := receiveEnvelope(t, stream)
	if data := decodeState(t, snapshot); !data.InVoice || data.RoomID != "room-1" || snapshot.SessionID != st.SessionID {
		t.Errorf("snapshot = %+v %+v", snapshot, data)
	}

	if _, err := client.SetDeafened(ctx, connect.NewRequest(&SetDeafenedRequest{Deafened: true})); err != nil {
		t.Fatalf("SetDeafened: %v", err)
	}
	if data := decodeState(t, receiveEnvelope(t, stream)); !data.Deafened {
		t.Errorf("state after deafen = %+v", data)
	}
}

func TestWatchEventsFilterWithoutState(t *testing.T) {
	client := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.WatchEvents(ctx, connect.NewRequest(&WatchEventsRequest{
		Types: []string{string(events.VoiceJoined)},
	}))
	if err != nil {
		t.Fatalf("WatchEvents: %v", err)
	}
	defer stream.Close()

	join(t, client, "k")
	if env := receiveEnvelope(t, stream); env.Type != events.VoiceJoined {
		t.Errorf("first envelope = %+v", env)
	}
}

func TestCameraAndScreenShareRPC(t *testing.T) {
	client := setupTestServerWith(t, voice.Config{VideoEnabled: true})
	ctx := context.Background()

	_, err := client.SetCamera(ctx, connect.NewRequest(&SetCameraRequest{Enabled: true}))
	assertCode(t, err, connect.CodeFailedPrecondition)

	join(t, client, "k")
	cam, err := client.SetCamera(ctx, connect.NewRequest(&SetCameraRequest{Enabled: true}))
	if err != nil || !cam.Msg.CameraEnabled {
		t.Fatalf("SetCamera: %+v %v", cam, err)
	}
	share, err := client.StartScreenShare(ctx, connect.NewRequest(&StartScreenShareRequest{}))
	if err != nil || !share.Msg.ScreenSharing || !share.Msg.CameraEnabled {
		t.Fatalf("StartScreenShare: %+v %v", share, err)
	}
	stop, err := client.StopScreenShare(ctx, connect.NewRequest(&StopScreenShareRequest{}))
	if err != nil || stop.Msg.ScreenSharing {
		t.Fatalf("StopScreenShare: %+v %v", stop, err)
	}

	audioOnly := setupTestServer(t)
	join(t, audioOnly, "k")
	_, err = audioOnly.StartScreenShare(ctx, connect.NewRequest(&StartScreenShareRequest{}))
	assertCode(t, err, connect.CodeFailedPrecondition)
}
