package kueri

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRefreshLead is how long before expiry a token becomes eligible for
// proactive refresh.
const DefaultRefreshLead = 5 * time.Minute

// Token is the bearer credential cell. AccessToken and RefreshToken are
// opaque strings; ExpiresAt is zero when the server gave no expiry and none
// could be derived from the token itself.
type Token struct {
	AccessToken  string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// TokenStore holds the single live Token. It is replaced atomically on
// refresh and cleared on logout or a terminal 401. When a Storage is
// attached the cell is persisted on every change and restored at
// construction.
type TokenStore struct {
	mu         sync.RWMutex
	tok        *Token
	storage    Storage
	storageKey string
	lead       time.Duration
	now        func() time.Time
}

// NewTokenStore creates a store persisting under storageKey when storage is
// non-nil. Previously persisted state is restored immediately.
func NewTokenStore(storage Storage, storageKey string, lead time.Duration) *TokenStore {
	if storageKey == "" {
		storageKey = "auth_token"
	}
	if lead <= 0 {
		lead = DefaultRefreshLead
	}
	ts := &TokenStore{
		storage:    storage,
		storageKey: storageKey,
		lead:       lead,
		now:        time.Now,
	}
	ts.restore()
	return ts
}

// Get returns a copy of the current token, or nil when the store is empty.
func (ts *TokenStore) Get() *Token {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.tok == nil {
		return nil
	}
	cp := *ts.tok
	return &cp
}

// AccessToken returns the current access token, or "".
func (ts *TokenStore) AccessToken() string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.tok == nil {
		return ""
	}
	return ts.tok.AccessToken
}

// RefreshToken returns the current refresh token, or "".
func (ts *TokenStore) RefreshToken() string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.tok == nil {
		return ""
	}
	return ts.tok.RefreshToken
}

// Set replaces the token cell. A zero expiresAt falls back to the "exp"
// claim when the access token happens to be a JWT.
func (ts *TokenStore) Set(access, refresh string, expiresAt time.Time) {
	if expiresAt.IsZero() {
		expiresAt = jwtExpiry(access)
	}
	ts.mu.Lock()
	ts.tok = &Token{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt}
	ts.persistLocked()
	ts.mu.Unlock()
}

// Clear empties the store and removes persisted state.
func (ts *TokenStore) Clear() {
	ts.mu.Lock()
	ts.tok = nil
	if ts.storage != nil {
		_ = ts.storage.Delete(ts.storageKey)
	}
	ts.mu.Unlock()
}

// Has reports whether an access token is present.
func (ts *TokenStore) Has() bool {
	return ts.AccessToken() != ""
}

// IsExpired reports whether the token has an expiry in the past.
func (ts *TokenStore) IsExpired() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.tok == nil || ts.tok.ExpiresAt.IsZero() {
		return false
	}
	return !ts.now().Before(ts.tok.ExpiresAt)
}

// ShouldRefresh reports whether the token is inside the refresh lead window
// before expiry.
func (ts *TokenStore) ShouldRefresh() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.tok == nil || ts.tok.ExpiresAt.IsZero() {
		return false
	}
	return !ts.now().Before(ts.tok.ExpiresAt.Add(-ts.lead))
}

func (ts *TokenStore) persistLocked() {
	if ts.storage == nil || ts.tok == nil {
		return
	}
	blob, err := json.Marshal(ts.tok)
	if err != nil {
		return
	}
	_ = ts.storage.Set(ts.storageKey, blob)
}

func (ts *TokenStore) restore() {
	if ts.storage == nil {
		return
	}
	blob, ok := ts.storage.Get(ts.storageKey)
	if !ok {
		return
	}
	var tok Token
	if err := json.Unmarshal(blob, &tok); err != nil || tok.AccessToken == "" {
		return
	}
	ts.mu.Lock()
	ts.tok = &tok
	ts.mu.Unlock()
}

// jwtExpiry extracts the "exp" claim from a JWT without verifying the
// signature. Returns the zero time for non-JWT tokens.
func jwtExpiry(access string) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(access, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
