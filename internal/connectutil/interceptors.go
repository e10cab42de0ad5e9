package connectutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"github.com/pitabwire/frame/security"
	connectInterceptors "github.com/pitabwire/frame/security/interceptors/connect"
)

// DefaultOptions returns the handler options shared by every local RPC
// service: the JSON codec and request logging.
func DefaultOptions() []connect.HandlerOption {
	return []connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(NewLoggingInterceptor()),
	}
}

// AuthenticatedOptions returns the handler options for the served voice
// service: the JSON codec, OpenTelemetry tracing, frame's bearer token
// authentication and request logging, in that order. frame's default list
// also validates protobuf messages, which JSON-coded structs cannot pass,
// so the chain is assembled here without it. A nil authenticator leaves
// the procedures unauthenticated.
func AuthenticatedOptions(authenticator security.Authenticator) ([]connect.HandlerOption, error) {
	otelInterceptor, err := otelconnect.NewInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create otel interceptor: %w", err)
	}

	interceptors := []connect.Interceptor{otelInterceptor}
	if authenticator != nil {
		interceptors = append(interceptors, connectInterceptors.NewAuthInterceptor(authenticator))
	}
	interceptors = append(interceptors, NewLoggingInterceptor())

	return []connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(interceptors...),
	}, nil
}

// DefaultClientOptions returns the client options matching DefaultOptions.
func DefaultClientOptions() []connect.ClientOption {
	return []connect.ClientOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(NewLoggingInterceptor()),
	}
}

type loggingInterceptor struct{}

// NewLoggingInterceptor creates an interceptor that logs procedure, duration
// and the connect error code of unary and streaming calls.
func NewLoggingInterceptor() connect.Interceptor {
	return &loggingInterceptor{}
}

func (l *loggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		logCompletion(ctx, req.Spec().Procedure, false, time.Since(start), err)
		return resp, err
	}
}

func (l *loggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		slog.DebugContext(ctx, "rpc stream client start",
			slog.String("procedure", spec.Procedure),
		)
		return next(ctx, spec)
	}
}

func (l *loggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		slog.DebugContext(ctx, "rpc stream handler start",
			slog.String("procedure", conn.Spec().Procedure),
			slog.String("peer", conn.Peer().Addr),
		)
		err := next(ctx, conn)
		logCompletion(ctx, conn.Spec().Procedure, true, time.Since(start), err)
		return err
	}
}

func logCompletion(ctx context.Context, procedure string, streaming bool, d time.Duration, err error) {
	attrs := []any{
		slog.String("procedure", procedure),
		slog.Duration("duration", d),
		slog.Bool("streaming", streaming),
	}
	if err == nil {
		slog.DebugContext(ctx, "rpc ok", attrs...)
		return
	}

	attrs = append(attrs, slog.String("code", connect.CodeOf(err).String()), slog.String("error", err.Error()))
	// A client hanging up on a stream is the normal way streams end.
	if errors.Is(err, context.Canceled) || connect.CodeOf(err) == connect.CodeCanceled {
		slog.DebugContext(ctx, "rpc cancelled", attrs...)
		return
	}
	slog.WarnContext(ctx, "rpc error", attrs...)
}
