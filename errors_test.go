package kueri

import (
	"errors"
	"strings"
	"testing"
)

func TestKindFromStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{400, KindValidation},
		{422, KindValidation},
		{401, KindUnauthenticated},
		{403, KindForbidden},
		{404, KindNotFound},
		{409, KindServer},
		{410, KindServer},
		{500, KindServer},
		{503, KindServer},
		{418, KindUnknown},
	}
	for _, tc := range cases {
		if got := KindFromStatus(tc.status, EmptyPayload()); got != tc.want {
			t.Errorf("KindFromStatus(%d) = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestKindFromStatusDatabaseHint(t *testing.T) {
	byKey := parseEnvelope(t, `{"message": "insert failed", "sqlstate": "23505"}`)
	if got := KindFromStatus(500, byKey); got != KindDatabase {
		t.Errorf("sqlstate key: got %s", got)
	}

	byMessage := parseEnvelope(t, `{"message": "Database connection lost"}`)
	if got := KindFromStatus(500, byMessage); got != KindDatabase {
		t.Errorf("message hint: got %s", got)
	}

	// Hints only reclassify server-side failures.
	if got := KindFromStatus(404, byKey); got != KindNotFound {
		t.Errorf("404 with hint: got %s", got)
	}

	plain := parseEnvelope(t, `{"message": "boom"}`)
	if got := KindFromStatus(500, plain); got != KindServer {
		t.Errorf("plain 500: got %s", got)
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorKind{KindNetwork, KindServer, KindDatabase}
	for _, kind := range retryable {
		if !IsRetryable(&ApiError{Kind: kind}) {
			t.Errorf("%s should be retryable", kind)
		}
	}

	final := []ErrorKind{KindValidation, KindUnauthenticated, KindForbidden, KindNotFound, KindInvalidJSON, KindUnknown}
	for _, kind := range final {
		if IsRetryable(&ApiError{Kind: kind}) {
			t.Errorf("%s should not be retryable", kind)
		}
	}

	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("non-ApiError is not retryable")
	}
}

func TestApiErrorFieldErrors(t *testing.T) {
	payload := parseEnvelope(t, `{"success": false, "message": "Invalid", "errors": {"email": ["taken"]}}`)
	err := &ApiError{Kind: KindValidation, Status: 422, Message: "Invalid", Payload: payload}

	fieldErrs := err.FieldErrors()
	if got := fieldErrs["email"]; len(got) != 1 || got[0] != "taken" {
		t.Errorf("FieldErrors = %v", fieldErrs)
	}

	if (&ApiError{Kind: KindServer}).FieldErrors() != nil {
		t.Error("errors without a payload carry no field errors")
	}
}

func TestApiErrorPredicates(t *testing.T) {
	if !(&ApiError{Kind: KindDatabase}).IsServer() {
		t.Error("database errors count as server errors")
	}
	if !(&ApiError{Kind: KindDatabase}).IsDatabase() {
		t.Error("IsDatabase")
	}
	if (&ApiError{Kind: KindServer}).IsDatabase() {
		t.Error("plain server error is not a database error")
	}
	if !(&ApiError{Kind: KindValidation}).IsValidation() {
		t.Error("IsValidation")
	}
}

func TestApiErrorError(t *testing.T) {
	err := &ApiError{
		Kind:      KindNotFound,
		Status:    404,
		Message:   "no such user",
		RequestID: "req-1",
		Cause:     errors.New("underlying"),
	}
	msg := err.Error()
	for _, want := range []string{"not-found", "no such user", "404", "req-1", "underlying"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestApiErrorIs(t *testing.T) {
	wrapped := &ApiError{Kind: KindUnauthenticated, Cause: ErrNoRefreshToken}

	if !errors.Is(wrapped, &ApiError{Kind: KindUnauthenticated}) {
		t.Error("kind comparison via errors.Is failed")
	}
	if errors.Is(wrapped, &ApiError{Kind: KindForbidden}) {
		t.Error("mismatched kinds must not compare equal")
	}
	if !errors.Is(wrapped, ErrNoRefreshToken) {
		t.Error("cause should unwrap")
	}
}

func TestAsApiError(t *testing.T) {
	if AsApiError(nil) != nil {
		t.Error("nil passes through")
	}

	orig := &ApiError{Kind: KindNetwork}
	if AsApiError(orig) != orig {
		t.Error("existing ApiError should be returned as-is")
	}

	wrapped := AsApiError(errors.New("boom"))
	if wrapped.Kind != KindUnknown || wrapped.Message != "boom" {
		t.Errorf("wrapped = %+v", wrapped)
	}
}
