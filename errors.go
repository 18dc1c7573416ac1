package kueri

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies an ApiError. Classification happens once, when the
// error is constructed by the transport or the request pipeline, and never
// changes afterwards.
type ErrorKind string

const (
	KindNetwork         ErrorKind = "network"
	KindInvalidJSON     ErrorKind = "invalid-json"
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindForbidden       ErrorKind = "forbidden"
	KindNotFound        ErrorKind = "not-found"
	KindValidation      ErrorKind = "validation"
	KindServer          ErrorKind = "server"
	KindDatabase        ErrorKind = "database"
	KindUnknown         ErrorKind = "unknown"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrClosed is returned when operating on a closed query or mutation handle.
	ErrClosed = errors.New("kueri: handle closed")

	// ErrNoRefreshToken is returned by a token refresh attempted without one.
	ErrNoRefreshToken = errors.New("kueri: no refresh token")
)

// ApiError is the single error shape produced by this library. It is
// constructed by the transport (network and parse failures) or by the
// request pipeline (status classification) and propagated by value.
type ApiError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Payload Payload
	Cause   error

	RequestID string
	Method    string
	URL       string
	Timestamp time.Time
}

// Error implements error.
func (e *ApiError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ApiError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error kinds for errors.Is.
func (e *ApiError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*ApiError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// FieldErrors returns per-field validation messages when the payload carries
// them. Nil for non-validation errors or envelope-less payloads.
func (e *ApiError) FieldErrors() map[string][]string {
	if e == nil {
		return nil
	}
	return e.Payload.FieldErrors()
}

// Event packages the error as a structured diagnostic record.
func (e *ApiError) Event() DebugEvent {
	if e == nil {
		return DebugEvent{}
	}
	return DebugEvent{
		RequestID: e.RequestID,
		Method:    e.Method,
		URL:       e.URL,
		Status:    e.Status,
		Kind:      e.Kind,
		Message:   e.Message,
		Envelope:  e.Payload.Value(),
		Timestamp: e.Timestamp,
	}
}

func (e *ApiError) IsNetwork() bool         { return e != nil && e.Kind == KindNetwork }
func (e *ApiError) IsInvalidJSON() bool     { return e != nil && e.Kind == KindInvalidJSON }
func (e *ApiError) IsUnauthenticated() bool { return e != nil && e.Kind == KindUnauthenticated }
func (e *ApiError) IsForbidden() bool       { return e != nil && e.Kind == KindForbidden }
func (e *ApiError) IsNotFound() bool        { return e != nil && e.Kind == KindNotFound }
func (e *ApiError) IsValidation() bool      { return e != nil && e.Kind == KindValidation }
func (e *ApiError) IsServer() bool {
	return e != nil && (e.Kind == KindServer || e.Kind == KindDatabase)
}
func (e *ApiError) IsDatabase() bool { return e != nil && e.Kind == KindDatabase }

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ApiError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Kind: %s\n", e.Kind)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Status > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.Status)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// KindFromStatus maps an HTTP status plus the decoded payload onto an error
// kind. Server failures whose payload carries database hints are reported as
// KindDatabase.
func KindFromStatus(status int, payload Payload) ErrorKind {
	switch {
	case status == 400, status == 422:
		return KindValidation
	case status == 401:
		return KindUnauthenticated
	case status == 403:
		return KindForbidden
	case status == 404:
		return KindNotFound
	case status == 409, status == 410, status >= 500:
		if hasDatabaseHint(payload) {
			return KindDatabase
		}
		return KindServer
	default:
		return KindUnknown
	}
}

// hasDatabaseHint inspects the payload for shapes backends commonly attach
// to persistence failures.
func hasDatabaseHint(payload Payload) bool {
	obj, ok := payload.Object()
	if !ok {
		return false
	}
	for _, key := range []string{"sqlstate", "sql_state", "db_error", "database_error"} {
		if _, ok := obj[key]; ok {
			return true
		}
	}
	msg := strings.ToLower(payload.Message())
	return strings.Contains(msg, "database") || strings.Contains(msg, "sqlstate")
}

// IsRetryable reports whether err represents a transient failure worth
// retrying: network failures and server-side (5xx) responses. Validation,
// authentication, authorization and missing-resource failures are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case KindNetwork, KindServer, KindDatabase:
			return true
		}
	}
	return false
}

// AsApiError extracts an *ApiError from err, or wraps err into one with
// KindUnknown so callers always observe the single error shape.
func AsApiError(err error) *ApiError {
	if err == nil {
		return nil
	}
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &ApiError{
		Kind:      KindUnknown,
		Message:   err.Error(),
		Cause:     err,
		Timestamp: time.Now(),
	}
}
