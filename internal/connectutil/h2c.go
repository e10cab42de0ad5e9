package connectutil

import (
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// H2CHandler serves handler over cleartext HTTP/2 as well as HTTP/1.1.
// WatchEvents streams need HTTP/2 on the loopback listener, which has no TLS.
func H2CHandler(handler http.Handler) http.Handler {
	return h2c.NewHandler(handler, &http2.Server{
		MaxConcurrentStreams: 64,
		MaxReadFrameSize:     1 << 20,
	})
}
