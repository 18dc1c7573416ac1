package kueri

import (
	"encoding/json"
	"testing"
)

func parseEnvelope(t *testing.T, doc string) Payload {
	t.Helper()
	var value any
	if err := json.Unmarshal([]byte(doc), &value); err != nil {
		t.Fatalf("bad test document: %v", err)
	}
	return ParsedPayload(value)
}

func TestPayloadNoContent(t *testing.T) {
	p := NoContentPayload()

	if !p.IsNoContent() {
		t.Error("expected no-content payload")
	}
	if p.Message() != "Success - No content returned" {
		t.Errorf("unexpected message %q", p.Message())
	}

	obj, ok := p.Object()
	if !ok {
		t.Fatal("expected synthetic document")
	}
	if obj["message"] != "Success - No content returned" {
		t.Errorf("unexpected document %v", obj)
	}
}

func TestPayloadUnparseable(t *testing.T) {
	p := UnparseablePayload("<html>oops</html>", 200)

	if !p.IsUnparseable() {
		t.Error("expected unparseable payload")
	}
	if p.Raw() != "<html>oops</html>" {
		t.Errorf("raw text lost: %q", p.Raw())
	}
	if p.Message() != "Response received but could not parse content" {
		t.Errorf("unexpected message %q", p.Message())
	}

	obj, _ := p.Object()
	if obj["status"] != 200 {
		t.Errorf("expected status in synthetic document, got %v", obj["status"])
	}
}

func TestPayloadEnvelopeAccessors(t *testing.T) {
	p := parseEnvelope(t, `{
		"success": true,
		"message": "ok",
		"data": {"id": 7, "access_token": "nested"},
		"errors": {"email": ["taken", "invalid"], "name": "required"},
		"debug": {"trace": "abc"}
	}`)

	if p.Message() != "ok" {
		t.Errorf("Message() = %q", p.Message())
	}
	if p.Data() == nil {
		t.Error("Data() should return the data object")
	}
	if p.Debug() == nil {
		t.Error("Debug() should return the debug object")
	}

	fieldErrs := p.FieldErrors()
	if got := fieldErrs["email"]; len(got) != 2 || got[0] != "taken" {
		t.Errorf("email errors = %v", got)
	}
	// A bare string is promoted to a single-element list.
	if got := fieldErrs["name"]; len(got) != 1 || got[0] != "required" {
		t.Errorf("name errors = %v", got)
	}
}

func TestPayloadFieldLookupFallsBackToData(t *testing.T) {
	p := parseEnvelope(t, `{"data": {"access_token": "T1", "expires_in": 3600}}`)

	if got := p.StringField("access_token"); got != "T1" {
		t.Errorf("StringField = %q", got)
	}
	n, ok := p.NumberField("expires_in")
	if !ok || n != 3600 {
		t.Errorf("NumberField = %v, %v", n, ok)
	}
}

func TestPayloadFieldLookupPrefersRoot(t *testing.T) {
	p := parseEnvelope(t, `{"token": "root", "data": {"token": "nested"}}`)

	if got := p.StringField("token"); got != "root" {
		t.Errorf("StringField = %q", got)
	}
}

func TestPayloadEmptyAccessors(t *testing.T) {
	p := EmptyPayload()

	if !p.IsEmpty() {
		t.Error("zero payload should be empty")
	}
	if p.Value() != nil {
		t.Error("empty payload has no value")
	}
	if p.Message() != "" || p.Data() != nil || p.FieldErrors() != nil {
		t.Error("empty payload accessors should all be zero")
	}
}

func TestRawResponseOK(t *testing.T) {
	for status, want := range map[int]bool{199: false, 200: true, 204: true, 299: true, 300: false, 404: false} {
		r := &RawResponse{Status: status}
		if r.OK() != want {
			t.Errorf("OK() for %d = %v, want %v", status, r.OK(), want)
		}
	}
}
