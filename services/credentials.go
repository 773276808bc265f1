// ABOUTME: Credential store for the access/refresh token cookie pair
// ABOUTME: Reads cookies from the request and accumulates writes flushed once per response

package services

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/markalston/admin-gateway/models"
)

// CredentialKind selects one of the two credential cookies
type CredentialKind int

const (
	// AccessToken is the short-lived bearer credential
	AccessToken CredentialKind = iota
	// RefreshToken is the rotate-on-use credential used to mint access tokens
	RefreshToken
)

const (
	accessCookieName  = "admin_access_token"
	refreshCookieName = "admin_refresh_token"
)

// credentialKinds fixes the order in which pending writes are flushed
var credentialKinds = []CredentialKind{AccessToken, RefreshToken}

// CookieName returns the cookie that holds this credential
func (k CredentialKind) CookieName() string {
	if k == RefreshToken {
		return refreshCookieName
	}
	return accessCookieName
}

func (k CredentialKind) String() string {
	if k == RefreshToken {
		return "refresh"
	}
	return "access"
}

// CredentialStore reads and writes the credential cookies.
// It holds configuration only; all state lives in the request and in the
// PendingWrites created for each response.
type CredentialStore struct {
	secure        bool
	accessMaxAge  time.Duration
	refreshMaxAge time.Duration
	now           func() time.Time
}

// NewCredentialStore creates a store with the given cookie security flag and
// fallback lifetimes for tokens that do not carry an exp claim
func NewCredentialStore(secure bool, accessMaxAge, refreshMaxAge time.Duration) *CredentialStore {
	return &CredentialStore{
		secure:        secure,
		accessMaxAge:  accessMaxAge,
		refreshMaxAge: refreshMaxAge,
		now:           time.Now,
	}
}

// Read returns the credential carried by the request, if any
func (s *CredentialStore) Read(r *http.Request, kind CredentialKind) (string, bool) {
	cookie, err := r.Cookie(kind.CookieName())
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// Inject returns a clone of r whose Cookie header carries token for kind.
// Cookie writes only reach the browser; the in-flight request needs the new
// value too when it is rendered after a refresh.
func (s *CredentialStore) Inject(r *http.Request, kind CredentialKind, token string) *http.Request {
	clone := r.Clone(r.Context())

	name := kind.CookieName()
	parts := make([]string, 0, len(r.Cookies())+1)
	replaced := false
	for _, c := range r.Cookies() {
		if c.Name == name {
			if replaced {
				continue
			}
			c = &http.Cookie{Name: name, Value: token}
			replaced = true
		}
		parts = append(parts, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	if !replaced {
		parts = append(parts, (&http.Cookie{Name: name, Value: token}).String())
	}

	clone.Header.Set("Cookie", strings.Join(parts, "; "))
	return clone
}

// Begin starts an empty set of credential writes for one response
func (s *CredentialStore) Begin() *PendingWrites {
	return &PendingWrites{
		store:   s,
		cookies: make(map[CredentialKind]*http.Cookie, len(credentialKinds)),
	}
}

// maxAge picks the cookie lifetime: an explicit hint wins, then the token's
// own exp claim, then the configured fallback.
func (s *CredentialStore) maxAge(kind CredentialKind, token string, ttlHint time.Duration) int {
	if ttlHint > 0 {
		return int(ttlHint.Seconds())
	}

	if exp, ok := tokenExpiry(token); ok {
		if remaining := exp.Sub(s.now()); remaining >= time.Second {
			return int(remaining.Seconds())
		}
	}

	if kind == RefreshToken {
		return int(s.refreshMaxAge.Seconds())
	}
	return int(s.accessMaxAge.Seconds())
}

func (s *CredentialStore) cookie(kind CredentialKind, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     kind.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// tokenExpiry reads the exp claim of a JWT-shaped token without verifying it.
// The gateway treats tokens as opaque; exp only bounds the cookie lifetime.
func tokenExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// PendingWrites accumulates the credential cookies for a single response.
// Later writes to the same kind supersede earlier ones; Flush emits each
// cookie at most once.
type PendingWrites struct {
	store   *CredentialStore
	cookies map[CredentialKind]*http.Cookie
	flushed bool
}

// Write records a new value for kind
func (p *PendingWrites) Write(kind CredentialKind, token string, ttlHint time.Duration) {
	p.cookies[kind] = p.store.cookie(kind, token, p.store.maxAge(kind, token, ttlHint))
}

// WritePair records a rotated credential pair.
// An empty refresh token means the upstream did not rotate it, so the
// browser keeps its current cookie.
func (p *PendingWrites) WritePair(pair models.TokenPair) {
	p.Write(AccessToken, pair.AccessToken, 0)
	if pair.RefreshToken != "" {
		p.Write(RefreshToken, pair.RefreshToken, 0)
	}
}

// Clear records an immediate expiry for kind
func (p *PendingWrites) Clear(kind CredentialKind) {
	p.cookies[kind] = p.store.cookie(kind, "", -1)
}

// ClearAll records an immediate expiry for both credentials
func (p *PendingWrites) ClearAll() {
	for _, kind := range credentialKinds {
		p.Clear(kind)
	}
}

// Get returns the pending cookie for kind, if one was recorded
func (p *PendingWrites) Get(kind CredentialKind) (*http.Cookie, bool) {
	c, ok := p.cookies[kind]
	return c, ok
}

// Empty reports whether no credential change is pending
func (p *PendingWrites) Empty() bool {
	return len(p.cookies) == 0
}

// Flush writes the pending cookies to w. It must run before the response
// status is written; calls after the first are no-ops.
func (p *PendingWrites) Flush(w http.ResponseWriter) {
	if p.flushed {
		return
	}
	p.flushed = true

	for _, kind := range credentialKinds {
		if c, ok := p.cookies[kind]; ok {
			http.SetCookie(w, c)
		}
	}
}
