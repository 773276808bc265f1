// ABOUTME: Backend client for the upstream API behind the gateway
// ABOUTME: Issues one outbound request per call and normalizes transport failures to 502

package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/markalston/admin-gateway/models"
)

const (
	inboundAPIPrefix  = "/api/"
	upstreamAPIPrefix = "/api/v1/"

	// maxUpstreamBody bounds how much of an upstream response is buffered
	maxUpstreamBody = 32 << 20
)

// forwardedHeaders is the allow-list of browser headers sent upstream.
// Authorization and Cookie are never forwarded; the only credential that
// reaches the upstream is the one supplied by the caller.
var forwardedHeaders = []string{"Accept", "Content-Type", "If-None-Match"}

// TransportError is a network-level failure talking to the upstream (DNS,
// connect, timeout, truncated read). It always maps to 502 and is never an
// authentication outcome.
type TransportError struct {
	Status int
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream transport error (%d): %s", e.Status, e.Reason)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrResponseTooLarge means the upstream body did not fit the buffer limit.
// A cut-off body is never relayed.
var ErrResponseTooLarge = errors.New("upstream response too large")

// IsTransportError reports whether err is (or wraps) a TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// CallRequest describes one upstream call in terms of the inbound request
type CallRequest struct {
	Method     string
	Path       string      // inbound path, e.g. /api/projects
	RawQuery   string      // forwarded verbatim
	Header     http.Header // inbound headers; only the allow-list is forwarded
	Body       []byte      // nil for bodiless requests
	Credential string      // bearer token; empty for unauthenticated calls
}

// RawResponse is an upstream response with its body fully buffered
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the upstream Content-Type header
func (r *RawResponse) ContentType() string {
	return r.Header.Get("Content-Type")
}

// IsJSON reports whether the upstream declared a JSON media type
func (r *RawResponse) IsJSON() bool {
	mediaType, _, err := mime.ParseMediaType(r.ContentType())
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// Envelope parses the body as a response envelope when the upstream declared JSON
func (r *RawResponse) Envelope() (*models.Envelope, bool) {
	if !r.IsJSON() {
		return nil, false
	}
	return models.ParseEnvelope(r.Body)
}

// BackendClient talks to the upstream API. It keeps no per-user state; the
// underlying http.Client only pools connections.
type BackendClient struct {
	baseURL string
	timeout time.Duration
	maxBody int64
	client  *http.Client
}

// NewBackendClient creates a client for baseURL with a per-call timeout.
// allProxy optionally routes every dial through an SSH+SOCKS5 jump host.
func NewBackendClient(baseURL string, timeout time.Duration, allProxy string) (*BackendClient, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout: timeout,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}

	if allProxy != "" {
		dial, err := newSOCKS5DialContextFunc(allProxy)
		if err != nil {
			return nil, fmt.Errorf("configuring upstream proxy: %w", err)
		}
		transport.Proxy = nil
		transport.DialContext = dial
	}

	return &BackendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		maxBody: maxUpstreamBody,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			// Redirects are the browser's business, not the gateway's
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// SetHTTPClient allows overriding the HTTP client (useful for testing)
func (b *BackendClient) SetHTTPClient(client *http.Client) {
	b.client = client
}

// SetMaxBodySize overrides the upstream response size limit (useful for testing)
func (b *BackendClient) SetMaxBodySize(n int64) {
	b.maxBody = n
}

// BaseURL returns the upstream base URL
func (b *BackendClient) BaseURL() string {
	return b.baseURL
}

// URL resolves the upstream URL for an inbound path and query
func (b *BackendClient) URL(path, rawQuery string) string {
	u := b.baseURL + RewritePath(path)
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// Call issues exactly one upstream request. Status codes are returned as-is;
// only network-level failures become a *TransportError.
func (b *BackendClient) Call(ctx context.Context, call CallRequest) (*RawResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	method := call.Method
	if method == "" {
		method = http.MethodGet
	}
	target := b.URL(call.Path, call.RawQuery)

	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}

	for _, name := range forwardedHeaders {
		if value := call.Header.Get(name); value != "" {
			req.Header.Set(name, value)
		}
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")
	if call.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+call.Credential)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		slog.Warn("Upstream request failed", "method", method, "url", target, "error", err)
		return nil, newTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, b.maxBody+1))
	if err != nil {
		slog.Warn("Upstream response read failed", "method", method, "url", target, "error", err)
		return nil, &TransportError{Status: http.StatusBadGateway, Reason: "reading upstream response: " + err.Error(), Err: err}
	}
	if int64(len(data)) > b.maxBody {
		slog.Warn("Upstream response too large", "method", method, "url", target, "limit", b.maxBody)
		return nil, &TransportError{
			Status: http.StatusBadGateway,
			Reason: fmt.Sprintf("upstream response exceeds %d bytes", b.maxBody),
			Err:    ErrResponseTooLarge,
		}
	}

	slog.Debug("Upstream request completed",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"authenticated", call.Credential != "",
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Ping checks that the upstream accepts connections. Any HTTP response counts.
func (b *BackendClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("building ping request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return newTransportError(err)
	}
	resp.Body.Close()
	return nil
}

// RewritePath maps the gateway's routing prefix onto the upstream API version
// prefix: /api/x becomes /api/v1/x. Paths already under /api/v1/ and paths
// outside /api/ pass through unchanged.
func RewritePath(path string) string {
	if path == "/api/v1" || strings.HasPrefix(path, upstreamAPIPrefix) {
		return path
	}
	if strings.HasPrefix(path, inboundAPIPrefix) {
		return upstreamAPIPrefix + strings.TrimPrefix(path, inboundAPIPrefix)
	}
	return path
}

// newTransportError classifies a client.Do failure
func newTransportError(err error) *TransportError {
	reason := "upstream request failed"

	var netErr net.Error
	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		reason = "upstream timeout"
	case errors.As(err, &dnsErr):
		reason = "upstream DNS lookup failed"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		reason = "upstream connection failed"
	case errors.Is(err, context.Canceled):
		reason = "request canceled"
	}

	return &TransportError{
		Status: http.StatusBadGateway,
		Reason: reason + ": " + err.Error(),
		Err:    err,
	}
}
