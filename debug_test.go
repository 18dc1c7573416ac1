package kueri

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestDefaultDebugConfig(t *testing.T) {
	cfg := DefaultDebugConfig()

	if cfg.Enabled {
		t.Error("debugging must default off")
	}
	if !cfg.LogRequests || !cfg.LogCache || !cfg.LogRetries || !cfg.LogAuth {
		t.Error("event categories should default on")
	}

	first := cfg.RequestIDGen()
	second := cfg.RequestIDGen()
	if first == "" || first == second {
		t.Errorf("request IDs must be unique, got %q and %q", first, second)
	}
}

func TestApiErrorEvent(t *testing.T) {
	now := time.Now()
	apiErr := &ApiError{
		Kind:      KindServer,
		Status:    http.StatusBadGateway,
		Message:   "upstream down",
		Payload:   NoContentPayload(),
		RequestID: "req-1",
		Method:    http.MethodGet,
		URL:       "https://api.example.com/users",
		Timestamp: now,
	}

	event := apiErr.Event()
	if event.RequestID != "req-1" || event.Method != http.MethodGet {
		t.Errorf("event identity = %+v", event)
	}
	if event.Status != http.StatusBadGateway || event.Kind != KindServer {
		t.Errorf("event classification = %+v", event)
	}
	if event.Envelope == nil {
		t.Error("envelope should carry the payload value")
	}
	if !event.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v", event.Timestamp)
	}

	var nilErr *ApiError
	if got := nilErr.Event(); got.RequestID != "" || got.Status != 0 {
		t.Errorf("nil receiver event = %+v", got)
	}
}

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, msg)
}

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

func (l *recordingLogger) Debug(msg string, keysAndValues ...any) { l.record(msg) }
func (l *recordingLogger) Info(msg string, keysAndValues ...any)  { l.record(msg) }
func (l *recordingLogger) Warn(msg string, keysAndValues ...any)  { l.record(msg) }
func (l *recordingLogger) Error(msg string, keysAndValues ...any) { l.record(msg) }

func TestDebugLogsFailedRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message": "down"}`))
	}))
	defer server.Close()

	debugCfg := DefaultDebugConfig()
	debugCfg.Enabled = true
	logged := &recordingLogger{}

	c := newTestClient(t, server.URL, WithLogger(logged), WithDebugConfig(debugCfg))

	if _, err := c.Get(context.Background(), "/status", nil); err == nil {
		t.Fatal("expected server error")
	}

	found := false
	for _, msg := range logged.messages() {
		if msg == "request failed" {
			found = true
		}
	}
	if !found {
		t.Errorf("debug log missing failure line, got %v", logged.messages())
	}
}
