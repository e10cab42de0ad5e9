package handler

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/chatr/chatr-media/pkg/events"
)

// VoiceServiceName is the fully-qualified name of the voice control service.
const VoiceServiceName = "chatr.voice.v1.VoiceService"

const (
	VoiceServiceJoinVoiceProcedure          = "/chatr.voice.v1.VoiceService/JoinVoice"
	VoiceServiceLeaveVoiceProcedure         = "/chatr.voice.v1.VoiceService/LeaveVoice"
	VoiceServiceSetMutedProcedure           = "/chatr.voice.v1.VoiceService/SetMuted"
	VoiceServiceSetDeafenedProcedure        = "/chatr.voice.v1.VoiceService/SetDeafened"
	VoiceServiceGetVoiceStateProcedure      = "/chatr.voice.v1.VoiceService/GetVoiceState"
	VoiceServiceRotateRoomKeyProcedure      = "/chatr.voice.v1.VoiceService/RotateRoomKey"
	VoiceServiceConnectPeerProcedure        = "/chatr.voice.v1.VoiceService/ConnectPeer"
	VoiceServiceHandleSignalProcedure       = "/chatr.voice.v1.VoiceService/HandleSignal"
	VoiceServiceRemovePeerProcedure         = "/chatr.voice.v1.VoiceService/RemovePeer"
	VoiceServiceGetEncryptionStatsProcedure = "/chatr.voice.v1.VoiceService/GetEncryptionStats"
	VoiceServiceWatchEventsProcedure        = "/chatr.voice.v1.VoiceService/WatchEvents"
	VoiceServiceSetCameraProcedure          = "/chatr.voice.v1.VoiceService/SetCamera"
	VoiceServiceStartScreenShareProcedure   = "/chatr.voice.v1.VoiceService/StartScreenShare"
	VoiceServiceStopScreenShareProcedure    = "/chatr.voice.v1.VoiceService/StopScreenShare"
	VoiceServiceStreamFramesProcedure       = "/chatr.voice.v1.VoiceService/StreamFrames"
	VoiceServicePublishFramesProcedure      = "/chatr.voice.v1.VoiceService/PublishFrames"
)

// VoiceServiceHandler is the server side of the voice control service.
type VoiceServiceHandler interface {
	JoinVoice(context.Context, *connect.Request[JoinVoiceRequest]) (*connect.Response[VoiceStateResponse], error)
	LeaveVoice(context.Context, *connect.Request[LeaveVoiceRequest]) (*connect.Response[VoiceStateResponse], error)
	SetMuted(context.Context, *connect.Request[SetMutedRequest]) (*connect.Response[VoiceStateResponse], error)
	SetDeafened(context.Context, *connect.Request[SetDeafenedRequest]) (*connect.Response[VoiceStateResponse], error)
	GetVoiceState(context.Context, *connect.Request[GetVoiceStateRequest]) (*connect.Response[VoiceStateResponse], error)
	RotateRoomKey(context.Context, *connect.Request[RotateRoomKeyRequest]) (*connect.Response[VoiceStateResponse], error)
	ConnectPeer(context.Context, *connect.Request[ConnectPeerRequest]) (*connect.Response[ConnectPeerResponse], error)
	HandleSignal(context.Context, *connect.Request[HandleSignalRequest]) (*connect.Response[HandleSignalResponse], error)
	RemovePeer(context.Context, *connect.Request[RemovePeerRequest]) (*connect.Response[RemovePeerResponse], error)
	GetEncryptionStats(context.Context, *connect.Request[GetEncryptionStatsRequest]) (*connect.Response[EncryptionStatsResponse], error)
	WatchEvents(context.Context, *connect.Request[WatchEventsRequest], *connect.ServerStream[events.Envelope]) error
	SetCamera(context.Context, *connect.Request[SetCameraRequest]) (*connect.Response[VoiceStateResponse], error)
	StartScreenShare(context.Context, *connect.Request[StartScreenShareRequest]) (*connect.Response[VoiceStateResponse], error)
	StopScreenShare(context.Context, *connect.Request[StopScreenShareRequest]) (*connect.Response[VoiceStateResponse], error)
	StreamFrames(context.Context, *connect.Request[StreamFramesRequest], *connect.ServerStream[FrameMessage]) error
	PublishFrames(context.Context, *connect.ClientStream[PublishFrameRequest]) (*connect.Response[PublishFramesResponse], error)
}

// NewVoiceServiceHandler builds an HTTP handler serving every procedure of
// svc. Mount it on the returned path.
func NewVoiceServiceHandler(svc VoiceServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	handlers := map[string]http.Handler{
		VoiceServiceJoinVoiceProcedure:          connect.NewUnaryHandler(VoiceServiceJoinVoiceProcedure, svc.JoinVoice, opts...),
		VoiceServiceLeaveVoiceProcedure:         connect.NewUnaryHandler(VoiceServiceLeaveVoiceProcedure, svc.LeaveVoice, opts...),
		VoiceServiceSetMutedProcedure:           connect.NewUnaryHandler(VoiceServiceSetMutedProcedure, svc.SetMuted, opts...),
		VoiceServiceSetDeafenedProcedure:        connect.NewUnaryHandler(VoiceServiceSetDeafenedProcedure, svc.SetDeafened, opts...),
		VoiceServiceGetVoiceStateProcedure:      connect.NewUnaryHandler(VoiceServiceGetVoiceStateProcedure, svc.GetVoiceState, opts...),
		VoiceServiceRotateRoomKeyProcedure:      connect.NewUnaryHandler(VoiceServiceRotateRoomKeyProcedure, svc.RotateRoomKey, opts...),
		VoiceServiceConnectPeerProcedure:        connect.NewUnaryHandler(VoiceServiceConnectPeerProcedure, svc.ConnectPeer, opts...),
		VoiceServiceHandleSignalProcedure:       connect.NewUnaryHandler(VoiceServiceHandleSignalProcedure, svc.HandleSignal, opts...),
		VoiceServiceRemovePeerProcedure:         connect.NewUnaryHandler(VoiceServiceRemovePeerProcedure, svc.RemovePeer, opts...),
		VoiceServiceGetEncryptionStatsProcedure: connect.NewUnaryHandler(VoiceServiceGetEncryptionStatsProcedure, svc.GetEncryptionStats, opts...),
		VoiceServiceWatchEventsProcedure:        connect.NewServerStreamHandler(VoiceServiceWatchEventsProcedure, svc.WatchEvents, opts...),
		VoiceServiceSetCameraProcedure:          connect.NewUnaryHandler(VoiceServiceSetCameraProcedure, svc.SetCamera, opts...),
		VoiceServiceStartScreenShareProcedure:   connect.NewUnaryHandler(VoiceServiceStartScreenShareProcedure, svc.StartScreenShare, opts...),
		VoiceServiceStopScreenShareProcedure:    connect.NewUnaryHandler(VoiceServiceStopScreenShareProcedure, svc.StopScreenShare, opts...),
		VoiceServiceStreamFramesProcedure:       connect.NewServerStreamHandler(VoiceServiceStreamFramesProcedure, svc.StreamFrames, opts...),
		VoiceServicePublishFramesProcedure:      connect.NewClientStreamHandler(VoiceServicePublishFramesProcedure, svc.PublishFrames, opts...),
	}

	return "/" + VoiceServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[strings.TrimSuffix(r.URL.Path, "/")]; ok {
			h.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// VoiceServiceClient calls the voice control service.
type VoiceServiceClient struct {
	joinVoice          *connect.Client[JoinVoiceRequest, VoiceStateResponse]
	leaveVoice         *connect.Client[LeaveVoiceRequest, VoiceStateResponse]
	setMuted           *connect.Client[SetMutedRequest, VoiceStateResponse]
	setDeafened        *connect.Client[SetDeafenedRequest, VoiceStateResponse]
	getVoiceState      *connect.Client[GetVoiceStateRequest, VoiceStateResponse]
	rotateRoomKey      *connect.Client[RotateRoomKeyRequest, VoiceStateResponse]
	connectPeer        *connect.Client[ConnectPeerRequest, ConnectPeerResponse]
	handleSignal       *connect.Client[HandleSignalRequest, HandleSignalResponse]
	removePeer         *connect.Client[RemovePeerRequest, RemovePeerResponse]
	getEncryptionStats *connect.Client[GetEncryptionStatsRequest, EncryptionStatsResponse]
	watchEvents        *connect.Client[WatchEventsRequest, events.Envelope]
	setCamera          *connect.Client[SetCameraRequest, VoiceStateResponse]
	startScreenShare   *connect.Client[StartScreenShareRequest, VoiceStateResponse]
	stopScreenShare    *connect.Client[StopScreenShareRequest, VoiceStateResponse]
	streamFrames       *connect.Client[StreamFramesRequest, FrameMessage]
	publishFrames      *connect.Client[PublishFrameRequest, PublishFramesResponse]
}

// NewVoiceServiceClient returns a client for the service at baseURL. opts
// must select the JSON codec (connectutil.DefaultClientOptions does).
func NewVoiceServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *VoiceServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &VoiceServiceClient{
		joinVoice:          connect.NewClient[JoinVoiceRequest, VoiceStateResponse](httpClient, baseURL+VoiceServiceJoinVoiceProcedure, opts...),
		leaveVoice:         connect.NewClient[LeaveVoiceRequest, VoiceStateResponse](httpClient, baseURL+VoiceServiceLeaveVoiceProcedure, opts...),
		setMuted:           connect.NewClient[SetMutedRequest, VoiceStateResponse](httpClient, baseURL+VoiceServiceSetMutedProcedure, opts...),
		setDeafened:        connect.NewClient[SetDeafenedRequest, VoiceStateResponse](httpClient, baseURL+VoiceServiceSetDeafenedProcedure, opts...),
		getVoiceState:      connect.NewClient[GetVoiceStateRequest, VoiceStateResponse](httpClient, baseURL+VoiceServiceGetVoiceStateProcedure, opts...),
		rotateRoomKey:      connect.NewClient[RotateRoomKeyRequest, VoiceStateResponse](httpClient, baseURL+VoiceServiceRotateRoomKeyProcedure, opts...),
		connectPeer:        connect.NewClient[ConnectPeerRequest, ConnectPeerResponse](httpClient, baseURL+VoiceServiceConnectPeerProcedure, opts...),
		handleSignal:       connect.NewClient[HandleSignalRequest, HandleSignalResponse](httpClient, baseURL+VoiceServiceHandleSignalProcedure, opts...),
		removePeer:         connect.NewClient[RemovePeerRequest, RemovePeerResponse](httpClient, baseURL+VoiceServiceRemovePeerProcedure, opts...),
		getEncryptionStats: connect.NewClient[GetEncryptionStatsRequest, EncryptionStatsResponse](httpClient, baseURL+VoiceServiceGetEncryptionStatsProcedure, opts...),
		watchEvents:        connect.NewClient[WatchEventsRequest, events.Envelope](httpClient, baseURL+VoiceServiceWatchEventsProcedure, opts...),
		setCamera:          connect.NewClient[SetCameraRequest, VoiceStateResponse](httpClient, baseURL+VoiceServiceSetCameraProcedure, opts...),
		startScreenShare:   connect.NewClient[StartScreenShareRequest, VoiceStateResponse](httpClient, baseURL+VoiceServiceStartScreenShareProcedure, opts...),
		stopScreenShare:    connect.NewClient[StopScreenShareRequest, VoiceStateResponse](httpClient, baseURL+VoiceServiceStopScreenShareProcedure, opts...),
		streamFrames:       connect.NewClient[StreamFramesRequest, FrameMessage](httpClient, baseURL+VoiceServiceStreamFramesProcedure, opts...),
		publishFrames:      connect.NewClient[PublishFrameRequest, PublishFramesResponse](httpClient, baseURL+VoiceServicePublishFramesProcedure, opts...),
	}
}

func (c *VoiceServiceClient) JoinVoice(ctx context.Context, req *connect.Request[JoinVoiceRequest]) (*connect.Response[VoiceStateResponse], error) {
	return c.joinVoice.CallUnary(ctx, req)
}

func (c *VoiceServiceClient) LeaveVoice(ctx context.Context, req *connect.Request[LeaveVoiceRequest]) (*connect.Response[VoiceStateResponse], error) {
	return c.leaveVoice.CallUnary(ctx, req)
}

func (c *VoiceServiceClient) SetMuted(ctx context.Context, req *connect.Request[SetMutedRequest]) (*connect.Response[VoiceStateResponse], error) {
	return c.setMuted.CallUnary(ctx, req)
}

func (c *VoiceServiceClient) SetDeafened(ctx context.Context, req *connect.Request[SetDeafenedRequest]) (*connect.Response[VoiceStateResponse], error) {
	return c.setDeafened.CallUnary(ctx, req)
}

func (c *VoiceServiceClient) GetVoiceState(ctx context.Context, req *connect.Request[GetVoiceStateRequest]) (*connect.Response[VoiceStateResponse], error) {
	return c.getVoiceState.CallUnary(ctx, req)
}

func (c *VoiceServiceClient) RotateRoomKey(ctx context.Context, req *connect.Request[RotateRoomKeyRequest]) (*connect.Response[VoiceStateResponse], error) {
	return c.rotateRoomKey.CallUnary(ctx, req)
}

func (c *VoiceServiceClient) ConnectPeer(ctx context.Context, req *connect.Request[ConnectPeerRequest]) (*connect.Response[ConnectPeerResponse], error) {
	return c.connectPeer.CallUnary(ctx, req)
}

func (c *VoiceServiceClient) HandleSignal(ctx context.Context, req *connect.Request[HandleSignalRequest]) (*connect.Response[HandleSignalResponse], error) {
	return c.handleSignal.CallUnary(ctx, req)
}

func (c *VoiceServiceClient) RemovePeer(ctx context.Context, req *connect.Request[RemovePeerRequest]) (*connect.Response[RemovePeerResponse], error) {
	return c.removePeer.CallUnary(ctx, req)
}

func (c *VoiceServiceClient) GetEncryptionStats(ctx context.Context, req *connect.Request[GetEncryptionStatsRequest]) (*connect.Response[EncryptionStatsResponse], error) {
	return c.getEncryptionStats.CallUnary(ctx, req)
}

func (c *VoiceServiceClient) WatchEvents(ctx context.Context, req *connect.Request[WatchEventsRequest]) (*connect.ServerStreamForClient[events.Envelope], error) {
	return c.watchEvents.CallServerStream(ctx, req)
}

func (c *VoiceServiceClient) SetCamera(ctx context.Context, req *connect.Request[SetCameraRequest]) (*connect.Response[VoiceStateResponse], error) {
	return c.setCamera.CallUnary(ctx, req)
}

func (c *VoiceServiceClient) StartScreenShare(ctx context.Context, req *connect.Request[StartScreenShareRequest]) (*connect.Response[VoiceStateResponse], error) {
	return c.startScreenShare.CallUnary(ctx, req)
}

func (c *VoiceServiceClient) StopScreenShare(ctx context.Context, req *connect.Request[StopScreenShareRequest]) (*connect.Response[VoiceStateResponse], error) {
	return c.stopScreenShare.CallUnary(ctx, req)
}

func (c *VoiceServiceClient) StreamFrames(ctx context.Context, req *connect.Request[StreamFramesRequest]) (*connect.ServerStreamForClient[FrameMessage], error) {
	return c.streamFrames.CallServerStream(ctx, req)
}

func (c *VoiceServiceClient) PublishFrames(ctx context.Context) *connect.ClientStreamForClient[PublishFrameRequest, PublishFramesResponse] {
	return c.publishFrames.CallClientStream(ctx)
}
