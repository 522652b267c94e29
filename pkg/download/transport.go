package download

import (
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultUserAgent identifies the installer to model hosts.
const DefaultUserAgent = "burncloud-model-installer/1.0.0"

// DefaultResponseHeaderTimeout bounds the wait for response headers. The
// body read has no deadline of its own; it ends with the caller's context.
const DefaultResponseHeaderTimeout = 30 * time.Second

// userAgentTransport sets the User-Agent on every request it forwards.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}

// composeUserAgent puts a caller's product token in front of ours.
func composeUserAgent(custom string) string {
	custom = strings.TrimSpace(custom)
	if custom == "" {
		return DefaultUserAgent
	}
	return custom + " " + DefaultUserAgent
}

// NewHTTPClient builds the client used for downloads: traced through
// otelhttp, tagged with the user agent, and without a total timeout so large
// transfers are not cut off.
func NewHTTPClient(userAgent string, headerTimeout time.Duration) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = headerTimeout
	return &http.Client{
		Transport: otelhttp.NewTransport(&userAgentTransport{
			base:      base,
			userAgent: composeUserAgent(userAgent),
		}),
	}
}
