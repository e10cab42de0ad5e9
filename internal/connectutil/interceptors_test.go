package connectutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/pitabwire/frame/security"
)

func TestNewLoggingInterceptor(t *testing.T) {
	interceptor := NewLoggingInterceptor()
	if interceptor == nil {
		t.Fatal("expected non-nil interceptor")
	}
}

func TestDefaultOptions(t *testing.T) {
	if opts := DefaultOptions(); len(opts) != 2 {
		t.Fatalf("got %d handler options, want 2", len(opts))
	}
	if opts := DefaultClientOptions(); len(opts) != 2 {
		t.Fatalf("got %d client options, want 2", len(opts))
	}
}

type stubAuthenticator struct {
	tokens []string
}

func (a *stubAuthenticator) Authenticate(ctx context.Context, token string, _ ...security.AuthOption) (context.Context, error) {
	a.tokens = append(a.tokens, token)
	if token != "good" {
		return nil, errors.New("invalid token")
	}
	return ctx, nil
}

func newPingServer(t *testing.T, authenticator security.Authenticator) *connect.Client[sample, sample] {
	t.Helper()
	opts, err := AuthenticatedOptions(authenticator)
	if err != nil {
		t.Fatalf("AuthenticatedOptions: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/test.Ping/Ping", connect.NewUnaryHandler("/test.Ping/Ping",
		func(_ context.Context, req *connect.Request[sample]) (*connect.Response[sample], error) {
			return connect.NewResponse(req.Msg), nil
		}, opts...))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return connect.NewClient[sample, sample](srv.Client(), srv.URL+"/test.Ping/Ping", DefaultClientOptions()...)
}

func TestAuthenticatedOptionsRejectsMissingToken(t *testing.T) {
	auth := &stubAuthenticator{}
	client := newPingServer(t, auth)

	_, err := client.CallUnary(context.Background(), connect.NewRequest(&sample{Room: "r1"}))
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Fatalf("no token: %v", err)
	}

	req := connect.NewRequest(&sample{Room: "r1"})
	req.Header().Set("Authorization", "Bearer bad")
	if _, err := client.CallUnary(context.Background(), req); connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Fatalf("bad token: %v", err)
	}

	req = connect.NewRequest(&sample{Room: "r1"})
	req.Header().Set("Authorization", "Bearer good")
	resp, err := client.CallUnary(context.Background(), req)
	if err != nil || resp.Msg.Room != "r1" {
		t.Fatalf("good token: %+v %v", resp, err)
	}
	if len(auth.tokens) != 2 || auth.tokens[1] != "good" {
		t.Errorf("tokens seen = %v", auth.tokens)
	}
}

func TestAuthenticatedOptionsWithoutAuthenticator(t *testing.T) {
	client := newPingServer(t, nil)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&sample{Room: "r2", Muted: true}))
	if err != nil || resp.Msg.Room != "r2" || !resp.Msg.Muted {
		t.Fatalf("unauthenticated call: %+v %v", resp, err)
	}
}

type sample struct {
	Room  string `json:"room"`
	Muted bool   `json:"muted"`
}

func TestJSONCodec(t *testing.T) {
	c := JSONCodec{}
	if c.Name() != "json" {
		t.Errorf("Name() = %q", c.Name())
	}

	b, err := c.Marshal(&sample{Room: "r1", Muted: true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"room":"r1","muted":true}` {
		t.Errorf("Marshal = %s", b)
	}

	var out sample
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Room != "r1" || !out.Muted {
		t.Errorf("Unmarshal = %+v", out)
	}

	if err := c.Unmarshal(nil, &out); err != nil {
		t.Errorf("empty body: %v", err)
	}
	if err := c.Unmarshal([]byte("{"), &out); err == nil {
		t.Error("expected error for truncated body")
	}
	if _, err := c.Marshal(make(chan int)); err == nil || errors.Unwrap(err) == nil {
		t.Errorf("expected wrapped marshal error, got %v", err)
	}
}

func TestH2CHandler(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Proto))
	})
	srv := httptest.NewServer(H2CHandler(inner))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
