// ABOUTME: Auth request/response models for the BFF credential flow
// ABOUTME: Decodes upstream login, refresh and identity payloads without exposing tokens

package models

import (
	"encoding/json"
	"errors"
)

// ErrMalformedPayload indicates the upstream response did not match its contract
var ErrMalformedPayload = errors.New("malformed upstream payload")

// LoginRequest is the browser's login body, forwarded to the upstream as-is
type LoginRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

// RefreshRequest is the body of the upstream refresh call
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenPair is the credential pair held in the browser's cookie jar.
// RefreshToken is empty when the upstream did not rotate it.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// AuthPayload is the union of the upstream login, refresh and me payloads
type AuthPayload struct {
	TokenPair
	User json.RawMessage `json:"user,omitempty"`
}

// LoginResult is the data returned to the browser after a successful login.
// Tokens are never part of it.
type LoginResult struct {
	User json.RawMessage `json:"user,omitempty"`
}

// Identity is the upstream user resolved by a probe of the me endpoint
type Identity struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// DecodeAuthPayload reads an auth payload from either the data member of an
// envelope or the top level of the body.
func DecodeAuthPayload(body []byte) (*AuthPayload, error) {
	source := body
	if env, ok := ParseEnvelope(body); ok && len(env.RawData) > 0 {
		source = env.RawData
	}

	var payload AuthPayload
	if err := json.Unmarshal(source, &payload); err != nil {
		return nil, ErrMalformedPayload
	}
	return &payload, nil
}

// DecodeIdentity extracts the user object from a me response.
// The raw user JSON is kept verbatim; id and name are best-effort.
func DecodeIdentity(body []byte) (*Identity, error) {
	payload, err := DecodeAuthPayload(body)
	if err != nil {
		return nil, err
	}
	if len(payload.User) == 0 || isNull(payload.User) {
		return nil, ErrMalformedPayload
	}

	var fields struct {
		ID       json.RawMessage `json:"id"`
		Name     string          `json:"name"`
		Username string          `json:"username"`
		Account  string          `json:"account"`
	}
	if err := json.Unmarshal(payload.User, &fields); err != nil {
		return nil, ErrMalformedPayload
	}

	identity := &Identity{Raw: payload.User, Name: fields.Name}
	if identity.Name == "" {
		identity.Name = fields.Username
	}
	if identity.Name == "" {
		identity.Name = fields.Account
	}
	if len(fields.ID) > 0 && !isNull(fields.ID) {
		var id string
		if err := json.Unmarshal(fields.ID, &id); err == nil {
			identity.ID = id
		} else {
			identity.ID = string(fields.ID)
		}
	}
	return identity, nil
}
