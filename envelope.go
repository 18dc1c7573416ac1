package kueri

import "net/http"

// PayloadKind discriminates the variants of a decoded response body.
type PayloadKind int

const (
	// PayloadEmpty means no body was present.
	PayloadEmpty PayloadKind = iota
	// PayloadNoContent is the synthetic value for 204/205 responses.
	PayloadNoContent
	// PayloadParsed holds a decoded JSON document.
	PayloadParsed
	// PayloadUnparseable holds the raw text of a 2xx body that was not JSON.
	PayloadUnparseable
)

const (
	noContentMessage   = "Success - No content returned"
	unparseableMessage = "Response received but could not parse content"
)

// Payload is a decoded response body. Backends conventionally return the
// envelope { success, message, data?, errors?, debug? }; the accessors below
// are tolerant lookups into that shape, never a rigid schema. The zero value
// is an empty payload.
type Payload struct {
	kind   PayloadKind
	value  any
	raw    string
	status int
}

// EmptyPayload returns the payload for a response with no body.
func EmptyPayload() Payload { return Payload{kind: PayloadEmpty} }

// NoContentPayload returns the synthetic payload for 204/205 responses.
func NoContentPayload() Payload { return Payload{kind: PayloadNoContent} }

// ParsedPayload wraps a decoded JSON value.
func ParsedPayload(value any) Payload { return Payload{kind: PayloadParsed, value: value} }

// UnparseablePayload wraps the raw text of a successful response whose body
// could not be decoded as JSON.
func UnparseablePayload(raw string, status int) Payload {
	return Payload{kind: PayloadUnparseable, raw: raw, status: status}
}

// Kind returns the payload variant.
func (p Payload) Kind() PayloadKind { return p.kind }

// IsEmpty reports whether no body was present.
func (p Payload) IsEmpty() bool { return p.kind == PayloadEmpty }

// IsNoContent reports whether this is the synthetic 204/205 payload.
func (p Payload) IsNoContent() bool { return p.kind == PayloadNoContent }

// IsParsed reports whether a JSON document was decoded.
func (p Payload) IsParsed() bool { return p.kind == PayloadParsed }

// IsUnparseable reports whether the body was kept as raw text.
func (p Payload) IsUnparseable() bool { return p.kind == PayloadUnparseable }

// Raw returns the undecoded body text for unparseable payloads.
func (p Payload) Raw() string { return p.raw }

// Value returns the payload as a plain value. No-content and unparseable
// variants materialize their synthetic message documents.
func (p Payload) Value() any {
	switch p.kind {
	case PayloadParsed:
		return p.value
	case PayloadNoContent:
		return map[string]any{"message": noContentMessage}
	case PayloadUnparseable:
		return map[string]any{"message": unparseableMessage, "status": p.status}
	default:
		return nil
	}
}

// Object returns the payload value as a JSON object, when it is one.
func (p Payload) Object() (map[string]any, bool) {
	obj, ok := p.Value().(map[string]any)
	return obj, ok
}

// Message returns the envelope message, or "" when absent.
func (p Payload) Message() string {
	switch p.kind {
	case PayloadNoContent:
		return noContentMessage
	case PayloadUnparseable:
		return unparseableMessage
	}
	if obj, ok := p.Object(); ok {
		if msg, ok := obj["message"].(string); ok {
			return msg
		}
	}
	return ""
}

// Data returns the envelope data field, or nil when absent.
func (p Payload) Data() any {
	if obj, ok := p.Object(); ok {
		return obj["data"]
	}
	return nil
}

// Debug returns the envelope debug field, or nil when absent.
func (p Payload) Debug() any {
	if obj, ok := p.Object(); ok {
		return obj["debug"]
	}
	return nil
}

// FieldErrors returns the envelope errors mapping (field name to messages),
// or nil when the payload carries none.
func (p Payload) FieldErrors() map[string][]string {
	obj, ok := p.Object()
	if !ok {
		return nil
	}
	raw, ok := obj["errors"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string][]string, len(raw))
	for field, v := range raw {
		switch msgs := v.(type) {
		case []any:
			for _, m := range msgs {
				if s, ok := m.(string); ok {
					out[field] = append(out[field], s)
				}
			}
		case string:
			out[field] = []string{msgs}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// StringField looks up a string field at the document root, falling back to
// the nested data object. Returns "" when absent.
func (p Payload) StringField(name string) string {
	obj, ok := p.Object()
	if !ok {
		return ""
	}
	if s, ok := obj[name].(string); ok {
		return s
	}
	if data, ok := obj["data"].(map[string]any); ok {
		if s, ok := data[name].(string); ok {
			return s
		}
	}
	return ""
}

// NumberField looks up a numeric field at the document root, falling back to
// the nested data object.
func (p Payload) NumberField(name string) (float64, bool) {
	obj, ok := p.Object()
	if !ok {
		return 0, false
	}
	if n, ok := obj[name].(float64); ok {
		return n, true
	}
	if data, ok := obj["data"].(map[string]any); ok {
		if n, ok := data[name].(float64); ok {
			return n, true
		}
	}
	return 0, false
}

// RawResponse is one received HTTP response with its decoded body.
type RawResponse struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       Payload
}

// OK reports whether the status is in the 2xx range.
func (r *RawResponse) OK() bool { return r.Status >= 200 && r.Status < 300 }
