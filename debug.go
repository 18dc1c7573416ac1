package kueri

import (
	"time"

	"github.com/google/uuid"
)

// DebugConfig controls which lifecycle events are logged when debugging is
// enabled. Logging requires a Logger to be configured as well.
type DebugConfig struct {
	Enabled     bool
	LogRequests bool
	LogCache    bool
	LogRetries  bool
	LogAuth     bool

	// RequestIDGen produces an identifier attached to request-scoped log
	// lines and error values.
	RequestIDGen func() string
}

// DefaultDebugConfig returns a configuration with all event categories
// enabled (but debugging itself off) and a UUID request-ID generator.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:     false,
		LogRequests: true,
		LogCache:    true,
		LogRetries:  true,
		LogAuth:     true,
		RequestIDGen: func() string {
			return uuid.NewString()
		},
	}
}

// DebugEvent is the structured diagnostic payload attached to success and
// error events when debugging is enabled. Adapters may log or render it.
type DebugEvent struct {
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	Status    int       `json:"status"`
	Kind      ErrorKind `json:"kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Envelope  any       `json:"envelope,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
