// ABOUTME: Uniform response envelope shared by the gateway and the upstream API
// ABOUTME: Provides constructors and the shape check used to decide JSON passthrough

package models

import (
	"bytes"
	"encoding/json"
	"math"
	"time"
)

// FieldError describes a single validation failure inside an envelope
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Envelope is the {code, message, data?, errors?, timestamp} response shape
type Envelope struct {
	Code      int          `json:"code"`
	Message   string       `json:"message"`
	Data      any          `json:"data,omitempty"`
	Errors    []FieldError `json:"errors,omitempty"`
	Timestamp int64        `json:"timestamp"`

	// RawData holds the undecoded data member of a parsed upstream envelope
	RawData json.RawMessage `json:"-"`
}

// NewEnvelope creates an envelope stamped with the current time
func NewEnvelope(code int, message string) *Envelope {
	return &Envelope{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}

// WithData attaches a data payload and returns the envelope for chaining
func (e *Envelope) WithData(data any) *Envelope {
	e.Data = data
	return e
}

// WithError appends a field error and returns the envelope for chaining
func (e *Envelope) WithError(field, reason string) *Envelope {
	e.Errors = append(e.Errors, FieldError{Field: field, Reason: reason})
	return e
}

// ParseEnvelope decodes body as an envelope.
// The second return value is false when the body is not a JSON object with an
// integral numeric code in 32-bit range, a string message (if present), and well-formed errors.
// Callers must treat such bodies as opaque bytes.
func ParseEnvelope(body []byte) (*Envelope, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false
	}

	rawCode, ok := fields["code"]
	if !ok {
		return nil, false
	}
	var code float64
	if err := json.Unmarshal(rawCode, &code); err != nil || code != math.Trunc(code) || code < math.MinInt32 || code > math.MaxInt32 {
		return nil, false
	}

	env := &Envelope{Code: int(code)}

	if rawMessage, ok := fields["message"]; ok && !isNull(rawMessage) {
		if err := json.Unmarshal(rawMessage, &env.Message); err != nil {
			return nil, false
		}
	}
	if rawErrors, ok := fields["errors"]; ok && !isNull(rawErrors) {
		if err := json.Unmarshal(rawErrors, &env.Errors); err != nil {
			return nil, false
		}
	}
	if rawTimestamp, ok := fields["timestamp"]; ok && !isNull(rawTimestamp) {
		if err := json.Unmarshal(rawTimestamp, &env.Timestamp); err != nil {
			return nil, false
		}
	}
	if rawData, ok := fields["data"]; ok && !isNull(rawData) {
		env.RawData = rawData
		env.Data = rawData
	}

	return env, true
}

// isNull reports whether a raw JSON member is the literal null
func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
