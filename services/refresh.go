// ABOUTME: Refresh coordinator exchanging a refresh token for a new credential pair
// ABOUTME: Performs exactly one upstream refresh call and reports Refreshed or Rejected

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/markalston/admin-gateway/models"
)

// Upstream auth contract, expressed as inbound paths (see RewritePath)
const (
	LoginPath   = "/api/auth/login"
	RefreshPath = "/api/auth/refresh"
	MePath      = "/api/auth/me"
	LogoutPath  = "/api/auth/logout"
)

// RejectionCause explains why a refresh did not produce new credentials
type RejectionCause int

const (
	// NotRejected means the refresh succeeded
	NotRejected RejectionCause = iota
	// RejectedByUpstream covers non-OK status, a missing access token and
	// malformed bodies: the session is invalid or revoked.
	RejectedByUpstream
	// Unreachable means the upstream could not be asked. The session state
	// is unknown and must not be treated as revoked.
	Unreachable
)

func (c RejectionCause) String() string {
	switch c {
	case NotRejected:
		return "none"
	case RejectedByUpstream:
		return "rejected"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// RefreshResult is the outcome of one refresh exchange
type RefreshResult struct {
	Refreshed bool
	Tokens    models.TokenPair // valid when Refreshed; RefreshToken empty if not rotated
	Cause     RejectionCause
	Response  *RawResponse // upstream response when one was received
	Err       error
}

// Rejected reports whether the refresh failed for any reason
func (r RefreshResult) Rejected() bool {
	return !r.Refreshed
}

// RefreshCoordinator exchanges refresh tokens with the upstream.
//
// Refresh tokens are rotate-on-use and there is no shared lock: two requests
// presenting the same stale token race, and the upstream decides the single
// winner. The loser sees RejectedByUpstream.
type RefreshCoordinator struct {
	backend *BackendClient
}

// NewRefreshCoordinator creates a coordinator using backend for the exchange
func NewRefreshCoordinator(backend *BackendClient) *RefreshCoordinator {
	return &RefreshCoordinator{backend: backend}
}

// Refresh makes exactly one unauthenticated POST to the refresh endpoint.
// The exchange is detached from the caller's cancellation: once a rotation is
// on the wire it runs to completion (bounded by the client timeout) so the
// upstream and the response being built cannot disagree about which token
// is current.
func (c *RefreshCoordinator) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	body, err := json.Marshal(models.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return RefreshResult{Cause: RejectedByUpstream, Err: fmt.Errorf("encoding refresh request: %w", err)}
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	resp, err := c.backend.Call(context.WithoutCancel(ctx), CallRequest{
		Method: http.MethodPost,
		Path:   RefreshPath,
		Header: header,
		Body:   body,
	})
	if err != nil {
		slog.Warn("Token refresh unreachable", "error", err)
		return RefreshResult{Cause: Unreachable, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Info("Token refresh rejected", "status", resp.StatusCode)
		return RefreshResult{
			Cause:    RejectedByUpstream,
			Response: resp,
			Err:      fmt.Errorf("refresh returned status %d", resp.StatusCode),
		}
	}

	payload, err := models.DecodeAuthPayload(resp.Body)
	if err != nil || payload.AccessToken == "" {
		slog.Warn("Token refresh response missing access token", "status", resp.StatusCode)
		return RefreshResult{
			Cause:    RejectedByUpstream,
			Response: resp,
			Err:      fmt.Errorf("refresh response has no access token: %w", models.ErrMalformedPayload),
		}
	}

	slog.Debug("Token refresh succeeded", "rotated", payload.RefreshToken != "")
	return RefreshResult{
		Refreshed: true,
		Tokens:    payload.TokenPair,
		Response:  resp,
	}
}
