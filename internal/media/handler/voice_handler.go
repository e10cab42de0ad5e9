package handler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"connectrpc.com/connect"
	"github.com/pitabwire/util"
	"github.com/rs/xid"

	"github.com/chatr/chatr-media/internal/media/voice"
	"github.com/chatr/chatr-media/pkg/events"
	"github.com/chatr/chatr-media/pkg/framecrypt"
)

var _ VoiceServiceHandler = (*VoiceHandler)(nil)

const defaultStreamBuffer = 64

// EventSource is the local fan-out side of the event publisher.
type EventSource interface {
	Subscribe(id string, bufSize int, types ...events.EventType) <-chan events.Envelope
	Unsubscribe(id string)
	Source() string
}

// VoiceHandler implements VoiceServiceHandler on top of a voice engine.
type VoiceHandler struct {
	engine  *voice.Engine
	events  EventSource
	bufSize int
}

// NewVoiceHandler creates the voice control handler. bufSize sizes each
// WatchEvents subscription and each frame stream queue.
func NewVoiceHandler(engine *voice.Engine, source EventSource, bufSize int) *VoiceHandler {
	if bufSize <= 0 {
		bufSize = defaultStreamBuffer
	}
	return &VoiceHandler{engine: engine, events: source, bufSize: bufSize}
}

func (h *VoiceHandler) JoinVoice(ctx context.Context, req *connect.Request[JoinVoiceRequest]) (*connect.Response[VoiceStateResponse], error) {
	st, err := h.engine.Join(ctx, req.Msg.RoomID, req.Msg.ChannelID, req.Msg.RoomKey)
	if err != nil {
		return nil, toConnectError(ctx, "join voice", err)
	}
	return connect.NewResponse(stateResponse(st)), nil
}

func (h *VoiceHandler) LeaveVoice(ctx context.Context, _ *connect.Request[LeaveVoiceRequest]) (*connect.Response[VoiceStateResponse], error) {
	return connect.NewResponse(stateResponse(h.engine.Leave(ctx))), nil
}

func (h *VoiceHandler) SetMuted(ctx context.Context, req *connect.Request[SetMutedRequest]) (*connect.Response[VoiceStateResponse], error) {
	st, err := h.engine.SetMuted(ctx, req.Msg.Muted)
	if err != nil {
		return nil, toConnectError(ctx, "set muted", err)
	}
	return connect.NewResponse(stateResponse(st)), nil
}

func (h *VoiceHandler) SetDeafened(ctx context.Context, req *connect.Request[SetDeafenedRequest]) (*connect.Response[VoiceStateResponse], error) {
	st, err := h.engine.SetDeafened(ctx, req.Msg.Deafened)
	if err != nil {
		return nil, toConnectError(ctx, "set deafened", err)
	}
	return connect.NewResponse(stateResponse(st)), nil
}

func (h *VoiceHandler) SetCamera(ctx context.Context, req *connect.Request[SetCameraRequest]) (*connect.Response[VoiceStateResponse], error) {
	st, err := h.engine.SetCamera(ctx, req.Msg.Enabled)
	if err != nil {
		return nil, toConnectError(ctx, "set camera", err)
	}
	return connect.NewResponse(stateResponse(st)), nil
}

func (h *VoiceHandler) StartScreenShare(ctx context.Context, _ *connect.Request[StartScreenShareRequest]) (*connect.Response[VoiceStateResponse], error) {
	st, err := h.engine.StartScreenShare(ctx)
	if err != nil {
		return nil, toConnectError(ctx, "start screen share", err)
	}
	return connect.NewResponse(stateResponse(st)), nil
}

func (h *VoiceHandler) StopScreenShare(ctx context.Context, _ *connect.Request[StopScreenShareRequest]) (*connect.Response[VoiceStateResponse], error) {
	st, err := h.engine.StopScreenShare(ctx)
	if err != nil {
		return nil, toConnectError(ctx, "stop screen share", err)
	}
	return connect.NewResponse(stateResponse(st)), nil
}

func (h *VoiceHandler) GetVoiceState(_ context.Context, _ *connect.Request[GetVoiceStateRequest]) (*connect.Response[VoiceStateResponse], error) {
	return connect.NewResponse(stateResponse(h.engine.State())), nil
}

func (h *VoiceHandler) RotateRoomKey(ctx context.Context, req *connect.Request[RotateRoomKeyRequest]) (*connect.Response[VoiceStateResponse], error) {
	st, err := h.engine.RotateKey(ctx, req.Msg.RoomKey)
	if err != nil {
		return nil, toConnectError(ctx, "rotate room key", err)
	}
	return connect.NewResponse(stateResponse(st)), nil
}

func (h *VoiceHandler) ConnectPeer(ctx context.Context, req *connect.Request[ConnectPeerRequest]) (*connect.Response[ConnectPeerResponse], error) {
	sdp, err := h.engine.ConnectPeer(ctx, req.Msg.PeerID)
	if err != nil {
		return nil, toConnectError(ctx, "connect peer", err)
	}
	return connect.NewResponse(&ConnectPeerResponse{SDP: sdp, KeyID: h.engine.State().KeyID}), nil
}

func (h *VoiceHandler) HandleSignal(ctx context.Context, req *connect.Request[HandleSignalRequest]) (*connect.Response[HandleSignalResponse], error) {
	msg := req.Msg
	switch events.SignalType(msg.Type) {
	case events.SignalOffer:
		answer, err := h.engine.HandleOffer(ctx, msg.PeerID, msg.SDP, msg.KeyID)
		if err != nil {
			return nil, toConnectError(ctx, "handle offer", err)
		}
		return connect.NewResponse(&HandleSignalResponse{AnswerSDP: answer, KeyID: h.engine.State().KeyID}), nil
	case events.SignalAnswer:
		if err := h.engine.HandleAnswer(ctx, msg.PeerID, msg.SDP, msg.KeyID); err != nil {
			return nil, toConnectError(ctx, "handle answer", err)
		}
	case events.SignalICECandidate:
		if err := h.engine.AddICECandidate(msg.PeerID, msg.Candidate); err != nil {
			return nil, toConnectError(ctx, "add ice candidate", err)
		}
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown signal type %q", msg.Type))
	}
	return connect.NewResponse(&HandleSignalResponse{}), nil
}

func (h *VoiceHandler) RemovePeer(ctx context.Context, req *connect.Request[RemovePeerRequest]) (*connect.Response[RemovePeerResponse], error) {
	if err := h.engine.RemovePeer(req.Msg.PeerID); err != nil {
		return nil, toConnectError(ctx, "remove peer", err)
	}
	return connect.NewResponse(&RemovePeerResponse{}), nil
}

func (h *VoiceHandler) GetEncryptionStats(_ context.Context, _ *connect.Request[GetEncryptionStatsRequest]) (*connect.Response[EncryptionStatsResponse], error) {
	return connect.NewResponse(statsResponse(h.engine.EncryptionStats())), nil
}

// WatchEvents streams voice events until the client disconnects. The first
// message is a voice.state snapshot of the current session, so a watcher
// learns the state without waiting for a change. When the filter excludes
// voice.state, only the response headers are sent up front.
func (h *VoiceHandler) WatchEvents(ctx context.Context, req *connect.Request[WatchEventsRequest], stream *connect.ServerStream[events.Envelope]) error {
	subID := "watch-" + xid.New().String()
	types := make([]events.EventType, 0, len(req.Msg.Types))
	for _, t := range req.Msg.Types {
		types = append(types, events.EventType(t))
	}
	ch := h.events.Subscribe(subID, h.bufSize, types...)
	defer h.events.Unsubscribe(subID)

	if err := stream.Send(h.stateSnapshot(ctx, types)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(&env); err != nil {
				return err
			}
		}
	}
}

// stateSnapshot returns the voice.state envelope opening a watch, or nil
// when the filter does not ask for state events.
func (h *VoiceHandler) stateSnapshot(ctx context.Context, types []events.EventType) *events.Envelope {
	if len(types) > 0 && !slices.Contains(types, events.VoiceState) {
		return nil
	}
	st := h.engine.State()
	env, err := events.NewEnvelope(h.events.Source(), events.VoiceState, st.SessionID, st.EventData())
	if err != nil {
		util.Log(ctx).WithError(err).Warn("voice state snapshot not encoded")
		return nil
	}
	return &env
}

func toConnectError(ctx context.Context, op string, err error) error {
	var kdErr *framecrypt.KeyDerivationError
	switch {
	case errors.Is(err, voice.ErrInvalidArgument), errors.Is(err, voice.ErrUnknownSource), errors.Is(err, framecrypt.ErrEmptyRoomKey):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, voice.ErrNotInVoice), errors.Is(err, voice.ErrEncryptionUnavailable), errors.Is(err, voice.ErrVideoDisabled):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, voice.ErrPeerNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, voice.ErrPeerExists):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.As(err, &kdErr):
		util.Log(ctx).WithError(err).Error("media key derivation failed")
		return connect.NewError(connect.CodeInternal, err)
	}
	util.Log(ctx).WithError(err).Error("voice operation failed: " + op)
	return connect.NewError(connect.CodeInternal, fmt.Errorf("%s: %w", op, err))
}
