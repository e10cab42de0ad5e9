package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/pitabwire/util"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/chatr/chatr-media/internal/media/voice"
	"github.com/chatr/chatr-media/pkg/framecrypt"
)

// StreamFrames sends frames received from remote peers, after the receiver
// transform, until the client disconnects. Frames are queued per stream; a
// client that falls behind loses frames rather than stalling the tracks.
func (h *VoiceHandler) StreamFrames(ctx context.Context, req *connect.Request[StreamFramesRequest], stream *connect.ServerStream[FrameMessage]) error {
	sources := make([]voice.Source, 0, len(req.Msg.Sources))
	for _, name := range req.Msg.Sources {
		src, ok := voice.ParseSource(name)
		if !ok {
			return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%q: %w", name, voice.ErrUnknownSource))
		}
		sources = append(sources, src)
	}
	peerIDs := req.Msg.PeerIDs

	queue := make(chan *FrameMessage, h.bufSize)
	var dropped atomic.Uint64
	sinkID := "frames-" + xid.New().String()
	h.engine.AddFrameSink(sinkID, func(peerID string, source voice.Source, frame *framecrypt.Frame) {
		if len(peerIDs) > 0 && !slices.Contains(peerIDs, peerID) {
			return
		}
		if len(sources) > 0 && !slices.Contains(sources, source) {
			return
		}
		msg := &FrameMessage{
			PeerID:    peerID,
			Source:    string(source),
			Kind:      frame.Kind.String(),
			Timestamp: frame.Timestamp,
			Payload:   bytes.Clone(frame.Payload()),
		}
		select {
		case queue <- msg:
		default:
			dropped.Add(1)
		}
	})
	defer func() {
		h.engine.RemoveFrameSink(sinkID)
		if n := dropped.Load(); n > 0 {
			util.Log(ctx).WithField("dropped", n).Warn("frame stream fell behind")
		}
	}()

	// Flush headers so the client sees the stream open before any peer sends.
	if err := stream.Send(nil); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-queue:
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// PublishFrames feeds encoded local frames into the session's tracks. Each
// source gets its own queue drained by the track's frame stream, so frames
// of one source keep their order and a slow source does not hold up another.
func (h *VoiceHandler) PublishFrames(ctx context.Context, stream *connect.ClientStream[PublishFrameRequest]) (*connect.Response[PublishFramesResponse], error) {
	g, gctx := errgroup.WithContext(ctx)
	inputs := make(map[voice.Source]chan framecrypt.EncodedFrame)
	var received uint64
	var publishErr error

receive:
	for stream.Receive() {
		msg := stream.Msg()
		source, ok := voice.ParseSource(msg.Source)
		if !ok {
			publishErr = connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%q: %w", msg.Source, voice.ErrUnknownSource))
			break
		}

		in, ok := inputs[source]
		if !ok {
			track, err := h.engine.LocalTrack(source)
			if err != nil {
				publishErr = toConnectError(ctx, "publish frames", err)
				break
			}
			in = make(chan framecrypt.EncodedFrame, h.bufSize)
			inputs[source] = in
			g.Go(func() error { return track.Stream(gctx, in) })
		}

		frame := &voice.OutgoingFrame{
			Frame:    framecrypt.NewFrame(source.Kind(), 0, msg.Payload),
			Duration: time.Duration(msg.DurationMs) * time.Millisecond,
		}
		select {
		case in <- frame:
			received++
		case <-gctx.Done():
			break receive
		}
	}

	for _, in := range inputs {
		close(in)
	}
	streamErr := g.Wait()

	switch {
	case publishErr != nil:
		return nil, publishErr
	case stream.Err() != nil:
		return nil, stream.Err()
	case streamErr != nil && !errors.Is(streamErr, context.Canceled):
		return nil, toConnectError(ctx, "publish frames", streamErr)
	}
	return connect.NewResponse(&PublishFramesResponse{Received: received}), nil
}
