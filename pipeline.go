package kueri

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

// Pipeline composes the transport and the token store: it injects bearer
// credentials, coordinates at-most-one concurrent token refresh, retries a
// 401 exactly once after a refresh, and invokes the response shaper on
// success.
type Pipeline struct {
	transport *Transport
	tokens    *TokenStore

	refreshGroup singleflight.Group
	refreshPath  string
	tokenField   string

	limiter *RateLimiter

	onUnauthenticated func()

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig
}

// NewPipeline wires a transport and token store together. refreshPath is the
// endpoint used for token refresh ("" disables refresh entirely).
func NewPipeline(transport *Transport, tokens *TokenStore, refreshPath, tokenField string) *Pipeline {
	if tokenField == "" {
		tokenField = "access_token"
	}
	return &Pipeline{
		transport:   transport,
		tokens:      tokens,
		refreshPath: refreshPath,
		tokenField:  tokenField,
	}
}

// Execute runs one logical request: authentication preflight, proactive
// refresh, send, and the single transparent 401 retry.
func (p *Pipeline) Execute(ctx context.Context, spec *RequestSpec) (Payload, error) {
	payload, _, err := p.execute(ctx, spec)
	return payload, err
}

// execute additionally returns the raw response so internal callers can
// inspect headers (cache directives in particular).
func (p *Pipeline) execute(ctx context.Context, spec *RequestSpec) (Payload, *RawResponse, error) {
	requestID := p.requestID()

	if spec.RequiresAuth && !p.tokens.Has() {
		p.logAuth("request requires auth but no token present", "requestID", requestID, "path", spec.Path)
		return EmptyPayload(), nil, &ApiError{
			Kind:      KindUnauthenticated,
			Message:   "authentication required",
			RequestID: requestID,
			Method:    spec.Method,
			URL:       spec.Path,
			Timestamp: time.Now(),
		}
	}

	// Proactive refresh inside the lead window keeps the 401 path for
	// genuinely surprising expiry only.
	if p.tokens.ShouldRefresh() && p.tokens.RefreshToken() != "" && p.refreshPath != "" {
		if err := p.Refresh(ctx); err != nil {
			return EmptyPayload(), nil, err
		}
	}

	raw, err := p.send(ctx, spec, requestID)

	if apiErr := AsApiError(err); err != nil && apiErr.Status == http.StatusUnauthorized {
		if p.tokens.RefreshToken() != "" && p.refreshPath != "" {
			p.logAuth("401 received, attempting token refresh", "requestID", requestID, "path", spec.Path)
			if rerr := p.Refresh(ctx); rerr == nil {
				raw, err = p.send(ctx, spec, requestID)
			} else {
				err = rerr
			}
		}
		if apiErr := AsApiError(err); err != nil && apiErr.Status == http.StatusUnauthorized {
			// Terminal 401: drop credentials and signal the application.
			p.tokens.Clear()
			p.notifyUnauthenticated()
		}
	}

	if err != nil {
		apiErr := AsApiError(err)
		if apiErr.RequestID == "" {
			apiErr.RequestID = requestID
		}
		p.logEvent(apiErr.Event())
		var payload Payload
		if raw != nil {
			payload = raw.Body
		} else {
			payload = EmptyPayload()
		}
		return payload, raw, err
	}

	payload := raw.Body
	if spec.Transform != nil {
		payload = applyShaper(payload, spec.Transform)
	}
	return payload, raw, nil
}

func (p *Pipeline) send(ctx context.Context, spec *RequestSpec, requestID string) (*RawResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, &ApiError{
				Kind:      KindNetwork,
				Message:   "request cancelled while rate limited",
				Cause:     err,
				RequestID: requestID,
				Method:    spec.Method,
				URL:       spec.Path,
				Timestamp: time.Now(),
			}
		}
	}

	attempt := *spec
	if token := p.tokens.AccessToken(); token != "" {
		attempt.Header = cloneHeader(spec.Header)
		attempt.Header.Set("Authorization", "Bearer "+token)
	}

	if p.debug != nil && p.debug.Enabled && p.debug.LogRequests && p.logger != nil {
		p.logger.Debug("sending request", "requestID", requestID, "method", spec.Method, "path", spec.Path)
	}

	p.metrics.RecordRequestStart(spec.Method, spec.Path)
	raw, err := p.transport.Send(ctx, &attempt)
	p.metrics.RecordRequestEnd(spec.Method, spec.Path)
	return raw, err
}

// Refresh exchanges the current refresh token for a new token pair. All
// concurrent callers observing the same refresh token join one in-flight
// call; on failure the store is cleared and every waiter fails
// unauthenticated.
func (p *Pipeline) Refresh(ctx context.Context) error {
	refreshToken := p.tokens.RefreshToken()
	if refreshToken == "" {
		return &ApiError{
			Kind:      KindUnauthenticated,
			Message:   "no refresh token available",
			Cause:     ErrNoRefreshToken,
			Timestamp: time.Now(),
		}
	}

	_, err, _ := p.refreshGroup.Do(refreshToken, func() (any, error) {
		payload, err := p.callRefreshEndpoint(ctx, refreshToken)
		if err != nil {
			p.metrics.RecordTokenRefresh("failure")
			p.tokens.Clear()
			p.notifyUnauthenticated()
			return nil, &ApiError{
				Kind:      KindUnauthenticated,
				Message:   "token refresh failed",
				Cause:     err,
				Timestamp: time.Now(),
			}
		}

		access := payload.StringField(p.tokenField)
		if access == "" {
			access = payload.StringField("token")
		}
		if access == "" {
			p.metrics.RecordTokenRefresh("failure")
			p.tokens.Clear()
			p.notifyUnauthenticated()
			return nil, &ApiError{
				Kind:      KindUnauthenticated,
				Message:   "refresh response carried no token",
				Timestamp: time.Now(),
			}
		}

		newRefresh := payload.StringField("refresh_token")
		if newRefresh == "" {
			newRefresh = refreshToken
		}
		var expiresAt time.Time
		if expiresIn, ok := payload.NumberField("expires_in"); ok && expiresIn > 0 {
			expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
		}

		p.tokens.Set(access, newRefresh, expiresAt)
		p.metrics.RecordTokenRefresh("success")
		p.logAuth("token refreshed")
		return nil, nil
	})
	return err
}

func (p *Pipeline) callRefreshEndpoint(ctx context.Context, refreshToken string) (Payload, error) {
	raw, err := p.transport.Send(ctx, &RequestSpec{
		Method: http.MethodPost,
		Path:   p.refreshPath,
		Body:   map[string]any{"refresh_token": refreshToken},
	})
	if err != nil {
		return EmptyPayload(), err
	}
	return raw.Body, nil
}

func (p *Pipeline) notifyUnauthenticated() {
	if p.onUnauthenticated != nil {
		p.onUnauthenticated()
	}
}

func (p *Pipeline) requestID() string {
	if p.debug != nil && p.debug.Enabled && p.debug.RequestIDGen != nil {
		return p.debug.RequestIDGen()
	}
	return ""
}

func (p *Pipeline) logEvent(event DebugEvent) {
	if p.debug != nil && p.debug.Enabled && p.debug.LogRequests && p.logger != nil {
		p.logger.Debug("request failed",
			"requestID", event.RequestID,
			"method", event.Method,
			"url", event.URL,
			"status", event.Status,
			"kind", event.Kind,
			"message", event.Message,
		)
	}
}

func (p *Pipeline) logAuth(msg string, keysAndValues ...any) {
	if p.debug != nil && p.debug.Enabled && p.debug.LogAuth && p.logger != nil {
		p.logger.Debug(msg, keysAndValues...)
	}
}

// applyShaper runs the user shaper over the "response" field when the
// document has one, otherwise over the whole value.
func applyShaper(payload Payload, shape ResponseShaper) Payload {
	if obj, ok := payload.Object(); ok {
		if inner, present := obj["response"]; present {
			out := make(map[string]any, len(obj))
			for k, v := range obj {
				out[k] = v
			}
			out["response"] = shape(inner)
			return ParsedPayload(out)
		}
	}
	if payload.IsParsed() {
		return ParsedPayload(shape(payload.Value()))
	}
	return payload
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h)+1)
	for k, values := range h {
		for _, v := range values {
			out.Add(k, v)
		}
	}
	return out
}
