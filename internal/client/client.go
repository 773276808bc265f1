// ABOUTME: HTTP client for a running admin gateway
// ABOUTME: Keeps the gateway's session cookies in a jar so login, me and logout share a session

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/markalston/admin-gateway/models"
)

// maxResponseBody bounds what the client reads from the gateway
const maxResponseBody = 1 << 20

// Client talks to the gateway the way the console does: same-origin JSON
// requests with cookies carried by a jar.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the gateway at baseURL
func New(baseURL string) *Client {
	jar, _ := cookiejar.New(nil) // only fails on a non-nil options list
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// HealthStatus is the data member of the /healthz envelope
type HealthStatus struct {
	Upstream string `json:"upstream"`
}

// User is the identity returned by login and me
type User struct {
	ID       json.RawMessage `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Username string          `json:"username,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// DisplayName returns the best human-readable name the user carries
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

// APIError is a non-2xx gateway response
type APIError struct {
	Status  int
	Code    int
	Message string
	Fields  []models.FieldError
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned status %d", e.Status)
	}
	return fmt.Sprintf("gateway error (%d): %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the gateway
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// Health fetches the gateway liveness report
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	env, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return nil, err
	}

	var status HealthStatus
	if err := json.Unmarshal(env.RawData, &status); err != nil {
		return nil, fmt.Errorf("invalid response from gateway: %w", err)
	}
	return &status, nil
}

// Login signs in and stores the session cookies in the client's jar
func (c *Client) Login(ctx context.Context, account, password string) (*User, error) {
	body, err := json.Marshal(models.LoginRequest{Account: account, Password: password})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login: %w", err)
	}

	env, err := c.do(ctx, http.MethodPost, "/api/auth/login", body)
	if err != nil {
		return nil, err
	}

	var result models.LoginResult
	if len(env.RawData) > 0 {
		if err := json.Unmarshal(env.RawData, &result); err != nil {
			return nil, fmt.Errorf("invalid response from gateway: %w", err)
		}
	}
	return decodeUser(result.User)
}

// Me returns the signed-in user. The gateway refreshes an expired session
// transparently, so a 401 here means the session is gone.
func (c *Client) Me(ctx context.Context) (*User, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/auth/me", nil)
	if err != nil {
		return nil, err
	}

	payload, err := models.DecodeAuthPayload(env.RawData)
	if err != nil {
		return nil, fmt.Errorf("invalid response from gateway: %w", err)
	}
	return decodeUser(payload.User)
}

// Logout ends the session and drops the cookies
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*models.Envelope, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.handleRequestError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading gateway response: %w", err)
	}

	env, ok := models.ParseEnvelope(data)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if ok {
			apiErr.Code = env.Code
			apiErr.Message = env.Message
			apiErr.Fields = env.Errors
		}
		return nil, apiErr
	}
	if !ok {
		return nil, fmt.Errorf("invalid response from gateway: not an envelope")
	}
	return env, nil
}

// handleRequestError converts HTTP client errors to user-friendly messages
func (c *Client) handleRequestError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("request canceled")
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("request timed out")
	}
	return fmt.Errorf("cannot connect to gateway at %s: %w", c.baseURL, err)
}

func decodeUser(raw json.RawMessage) (*User, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("invalid response from gateway: no user")
	}

	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("invalid response from gateway: %w", err)
	}
	user.Raw = raw
	return &user, nil
}
