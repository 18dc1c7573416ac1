package kueri

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestMutation204Logout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	m := c.NewMutation(RequestSpec{Path: "/auth/logout"})
	defer m.Close()

	var mu sync.Mutex
	var seen []MutationStatus
	m.Subscribe(func(s MutationState) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	})

	payload, err := m.Mutate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if !payload.IsNoContent() {
		t.Error("expected no-content payload")
	}

	state := m.State()
	data, ok := state.Data.(map[string]any)
	if !ok || data["message"] != "Success - No content returned" {
		t.Errorf("state data = %v", state.Data)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []MutationStatus{MutationIdle, MutationPending, MutationSuccess}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}

	if len(c.Cache().Keys()) != 0 {
		t.Error("mutations must not create cache entries")
	}
}

func TestMutationAppliesFormSpec(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		blob, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(blob, &gotBody)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	m := c.NewMutation(RequestSpec{Path: "/auth/register"}, WithFormSpec(&FormSpec{
		Rename: map[string]string{"confirmPassword": "password_confirmation"},
		Add:    map[string]any{"terms": true},
		Remove: []string{"confirmPassword"},
	}))
	defer m.Close()

	input := map[string]any{"name": "A", "email": "a@x", "password": "p", "confirmPassword": "p"}
	if _, err := m.Mutate(context.Background(), input); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	if gotBody["password_confirmation"] != "p" || gotBody["terms"] != true {
		t.Errorf("body = %v", gotBody)
	}
	if _, present := gotBody["confirmPassword"]; present {
		t.Error("renamed key must not survive")
	}
	if _, present := input["terms"]; present {
		t.Error("input map mutated")
	}
}

func TestMutationMergesGlobalFormSpec(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		blob, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(blob, &gotBody)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, WithGlobalFormSpec(&FormSpec{
		Add:    map[string]any{"client": "global", "version": 2},
		Remove: []string{"internal"},
	}))
	m := c.NewMutation(RequestSpec{Path: "/x"}, WithFormSpec(&FormSpec{
		Add: map[string]any{"client": "local"},
	}))
	defer m.Close()

	if _, err := m.Mutate(context.Background(), map[string]any{"internal": 1, "keep": true}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	if gotBody["client"] != "local" {
		t.Errorf("local add should win, got %v", gotBody["client"])
	}
	if gotBody["version"] != float64(2) || gotBody["keep"] != true {
		t.Errorf("body = %v", gotBody)
	}
	if _, present := gotBody["internal"]; present {
		t.Error("global remove should apply")
	}
}

func TestMutationManualTransformationBypassesFormSpecs(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		blob, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(blob, &gotBody)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, WithGlobalFormSpec(&FormSpec{Remove: []string{"raw"}}))
	m := c.NewMutation(RequestSpec{Path: "/x"}, WithManualTransformation())
	defer m.Close()

	if _, err := m.Mutate(context.Background(), map[string]any{"raw": 1}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if gotBody["raw"] != float64(1) {
		t.Errorf("body = %v, manual transformation must pass input through", gotBody)
	}
}

func TestMutationCapturesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token": "T1", "refresh_token": "R1", "expires_in": 3600, "user": {"id": "u1"}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	m := c.NewMutation(RequestSpec{Path: "/auth/login"})
	defer m.Close()

	if _, err := m.Mutate(context.Background(), map[string]any{"email": "a@x"}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	if c.Tokens().AccessToken() != "T1" || c.Tokens().RefreshToken() != "R1" {
		t.Errorf("tokens = %q / %q", c.Tokens().AccessToken(), c.Tokens().RefreshToken())
	}
	if c.Tokens().Get().ExpiresAt.IsZero() {
		t.Error("expiry should derive from expires_in")
	}
}

func TestMutationTokenCaptureDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token": "T1"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	m := c.NewMutation(RequestSpec{Path: "/x"}, WithoutTokenCapture())
	defer m.Close()

	if _, err := m.Mutate(context.Background(), nil); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if c.Tokens().Has() {
		t.Error("token capture should be disabled")
	}
}

func TestMutationInvalidationHints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	c.Cache().Set("users:list", "v", SetOptions{})
	c.Cache().Set("users:1", "v", SetOptions{})
	c.Cache().Set("posts:1", "v", SetOptions{Tags: []string{"posts"}})
	c.Cache().Set("misc", "v", SetOptions{})

	m := c.NewMutation(RequestSpec{Path: "/users"},
		WithInvalidateKeys("users:"),
		WithInvalidateTags("posts"),
	)
	defer m.Close()

	if _, err := m.Mutate(context.Background(), map[string]any{"name": "A"}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	for _, gone := range []string{"users:list", "users:1", "posts:1"} {
		if c.Cache().Has(gone) {
			t.Errorf("%s should be invalidated", gone)
		}
	}
	if !c.Cache().Has("misc") {
		t.Error("unrelated entries must survive")
	}
}

func TestMutationErrorPathCallbacks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message": "Invalid", "errors": {"email": ["taken"]}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	var gotErr *ApiError
	var gotInput map[string]any
	m := c.NewMutation(RequestSpec{Path: "/x"},
		WithOnError(func(err *ApiError, input map[string]any) {
			gotErr = err
			gotInput = input
		}),
		WithOnSuccess(func(Payload, map[string]any) {
			t.Error("success callback must not fire")
		}),
	)
	defer m.Close()

	_, err := m.Mutate(context.Background(), map[string]any{"email": "a@x"})
	if AsApiError(err).Kind != KindValidation {
		t.Fatalf("err = %v", err)
	}
	if gotErr == nil || gotErr.Kind != KindValidation {
		t.Errorf("callback err = %v", gotErr)
	}
	if gotInput["email"] != "a@x" {
		t.Errorf("callback input = %v", gotInput)
	}
	if m.State().Status != MutationError {
		t.Errorf("state = %+v", m.State())
	}
}

func TestMutationReset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	m := c.NewMutation(RequestSpec{Path: "/x"})
	defer m.Close()

	_, _ = m.Mutate(context.Background(), nil)
	m.Reset()

	state := m.State()
	if state.Status != MutationIdle || state.Data != nil || state.Err != nil {
		t.Errorf("state after reset = %+v", state)
	}
}

func TestMutationClosedIsInert(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	m := c.NewMutation(RequestSpec{Path: "/x"}, WithOnSuccess(func(Payload, map[string]any) {
		t.Error("callbacks must not fire after Close")
	}))
	m.Close()

	if _, err := m.Mutate(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestMutateAsyncReportsThroughSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	m := c.NewMutation(RequestSpec{Path: "/x"})
	defer m.Close()

	done := make(chan struct{})
	m.Subscribe(func(s MutationState) {
		if s.Status == MutationSuccess {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})

	m.MutateAsync(context.Background(), nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async mutation never completed")
	}
}
