package kueri

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Role name sets recognized by the composite checks.
var (
	adminRoles     = []string{"admin", "administrator"}
	moderatorRoles = []string{"moderator", "admin", "administrator"}
	superUserRoles = []string{"superuser", "super_admin", "root"}
)

// permCheckTTL is how long memoized permission/role results live.
const permCheckTTL = 30 * time.Second

// User is the authenticated account record. Profile carries whatever extra
// fields the backend returned.
type User struct {
	ID          string         `json:"id"`
	Profile     map[string]any `json:"profile,omitempty"`
	Roles       []string       `json:"roles,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
}

func (u *User) hasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u *User) hasPermission(perm string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// AuthManager owns the login/logout lifecycle, the user record, and the
// authorization predicates. It is built on the mutation core and the token
// store.
type AuthManager struct {
	client *Client

	loginPath   string
	logoutPath  string
	refreshPath string

	cacheChecks bool

	mu   sync.RWMutex
	user *User

	onLoginSuccess func(*User)
}

// OnLoginSuccess installs a hook fired after a successful login.
func (a *AuthManager) OnLoginSuccess(fn func(*User)) {
	a.mu.Lock()
	a.onLoginSuccess = fn
	a.mu.Unlock()
}

// CurrentUser returns the stored user record, or nil when logged out.
func (a *AuthManager) CurrentUser() *User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.user
}

// IsAuthenticated reports whether a token is currently held.
func (a *AuthManager) IsAuthenticated() bool {
	return a.client.tokens.Has()
}

// Login submits credentials against the configured login endpoint. On
// success the token store and the user record are populated; permission
// memos are reset.
func (a *AuthManager) Login(ctx context.Context, credentials map[string]any) (*User, error) {
	login := a.client.NewMutation(RequestSpec{Path: a.loginPath})
	payload, err := login.Mutate(ctx, credentials)
	if err != nil {
		return nil, err
	}

	// The mutation core already captured the token; derive the user.
	user := userFromPayload(payload)
	if user == nil {
		return nil, &ApiError{
			Kind:      KindUnknown,
			Message:   "login response did not include a user record",
			Payload:   payload,
			Method:    http.MethodPost,
			URL:       a.loginPath,
			Timestamp: time.Now(),
		}
	}
	a.setUser(user)
	a.persistUser()

	a.client.logAuth("login succeeded")
	a.mu.RLock()
	hook := a.onLoginSuccess
	a.mu.RUnlock()
	if hook != nil {
		hook(user)
	}
	return user, nil
}

// Logout calls the logout endpoint when one is configured (failures are
// swallowed), then clears the token store and the user record.
func (a *AuthManager) Logout(ctx context.Context) {
	if a.logoutPath != "" {
		logout := a.client.NewMutation(RequestSpec{Path: a.logoutPath, RequiresAuth: true}, WithoutTokenCapture())
		_, _ = logout.Mutate(ctx, nil)
	}
	a.client.tokens.Clear()
	a.setUser(nil)
	a.removePersistedUser()
	a.client.logAuth("logged out")
}

// RefreshAuthToken exchanges the refresh token for a new pair; on failure
// the session is terminated.
func (a *AuthManager) RefreshAuthToken(ctx context.Context) error {
	err := a.client.pipeline.Refresh(ctx)
	if err != nil {
		a.setUser(nil)
		a.removePersistedUser()
	}
	return err
}

// UpdateUser replaces the stored user record and resets permission memos.
func (a *AuthManager) UpdateUser(user *User) {
	a.setUser(user)
	a.persistUser()
}

func (a *AuthManager) setUser(user *User) {
	a.mu.Lock()
	a.user = user
	a.mu.Unlock()
	// Memoized checks are only valid for the user they were computed for.
	a.client.cache.InvalidatePrefix("perm:")
	a.client.cache.InvalidatePrefix("role:")
}

// HasPermission reports whether the user holds every named permission. With
// a single argument it is a plain membership test.
func (a *AuthManager) HasPermission(perms ...string) bool {
	return a.memoized("perm:", perms, func(user *User) bool {
		for _, p := range perms {
			if !user.hasPermission(p) {
				return false
			}
		}
		return len(perms) > 0
	})
}

// HasAnyPermission reports whether the user holds at least one of the named
// permissions.
func (a *AuthManager) HasAnyPermission(perms ...string) bool {
	return a.memoized("perm:any:", perms, func(user *User) bool {
		for _, p := range perms {
			if user.hasPermission(p) {
				return true
			}
		}
		return false
	})
}

// HasRole reports whether the user holds at least one of the named roles.
// With a single argument it is a plain membership test.
func (a *AuthManager) HasRole(roles ...string) bool {
	return a.memoized("role:", roles, func(user *User) bool {
		for _, r := range roles {
			if user.hasRole(r) {
				return true
			}
		}
		return false
	})
}

// HasAllRoles reports whether the user holds every named role.
func (a *AuthManager) HasAllRoles(roles ...string) bool {
	return a.memoized("role:all:", roles, func(user *User) bool {
		for _, r := range roles {
			if !user.hasRole(r) {
				return false
			}
		}
		return len(roles) > 0
	})
}

// IsAdmin reports membership in the documented admin role set.
func (a *AuthManager) IsAdmin() bool { return a.HasRole(adminRoles...) }

// IsModerator reports membership in the documented moderator role set.
func (a *AuthManager) IsModerator() bool { return a.HasRole(moderatorRoles...) }

// IsSuperUser reports membership in the documented superuser role set.
func (a *AuthManager) IsSuperUser() bool { return a.HasRole(superUserRoles...) }

// memoized optionally caches predicate results under short-TTL keys. The
// memo namespace is wiped whenever the user record changes.
func (a *AuthManager) memoized(prefix string, names []string, check func(*User) bool) bool {
	a.mu.RLock()
	user := a.user
	a.mu.RUnlock()
	if user == nil {
		return false
	}
	if !a.cacheChecks {
		return check(user)
	}

	key := prefix + strings.Join(names, ",")
	if v, ok := a.client.cache.Get(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	result := check(user)
	a.client.cache.Set(key, result, SetOptions{TTL: permCheckTTL})
	return result
}

func (a *AuthManager) userStorageKey() string {
	return a.client.authTokenKey + ":user"
}

func (a *AuthManager) persistUser() {
	if a.client.storage == nil {
		return
	}
	a.mu.RLock()
	user := a.user
	a.mu.RUnlock()
	if user == nil {
		return
	}
	blob, err := json.Marshal(user)
	if err != nil {
		return
	}
	_ = a.client.storage.Set(a.userStorageKey(), blob)
}

func (a *AuthManager) removePersistedUser() {
	if a.client.storage == nil {
		return
	}
	_ = a.client.storage.Delete(a.userStorageKey())
}

func (a *AuthManager) restoreUser() {
	if a.client.storage == nil {
		return
	}
	blob, ok := a.client.storage.Get(a.userStorageKey())
	if !ok {
		return
	}
	var user User
	if err := json.Unmarshal(blob, &user); err != nil {
		return
	}
	a.mu.Lock()
	a.user = &user
	a.mu.Unlock()
}

// userFromPayload extracts the user record from a login response, looking at
// "user" on the document root and then under "data".
func userFromPayload(payload Payload) *User {
	obj, ok := payload.Object()
	if !ok {
		return nil
	}
	raw, ok := obj["user"].(map[string]any)
	if !ok {
		if data, dok := obj["data"].(map[string]any); dok {
			raw, ok = data["user"].(map[string]any)
		}
	}
	if !ok {
		return nil
	}

	user := &User{Profile: make(map[string]any)}
	for k, v := range raw {
		switch k {
		case "id":
			switch id := v.(type) {
			case string:
				user.ID = id
			case float64:
				user.ID = strconv.FormatFloat(id, 'f', -1, 64)
			}
		case "roles":
			user.Roles = stringSlice(v)
		case "permissions":
			user.Permissions = stringSlice(v)
		default:
			user.Profile[k] = v
		}
	}
	return user
}

func stringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
