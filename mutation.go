package kueri

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// MutationStatus is the observable lifecycle state of a Mutation.
type MutationStatus string

const (
	MutationIdle    MutationStatus = "idle"
	MutationPending MutationStatus = "pending"
	MutationSuccess MutationStatus = "success"
	MutationError   MutationStatus = "error"
)

// MutationState is the snapshot observers receive.
type MutationState struct {
	Status MutationStatus
	Data   any
	Err    *ApiError
}

// MutationOption configures a Mutation handle.
type MutationOption func(*Mutation)

// WithFormSpec attaches the body reshaping applied to every input. A global
// form spec configured on the client is merged underneath it.
func WithFormSpec(spec *FormSpec) MutationOption {
	return func(m *Mutation) { m.form = spec }
}

// WithManualTransformation disables form reshaping; the input is sent as-is.
func WithManualTransformation() MutationOption {
	return func(m *Mutation) { m.manualTransformation = true }
}

// WithOnSuccess registers the success callback, receiving the payload and
// the original input.
func WithOnSuccess(fn func(payload Payload, input map[string]any)) MutationOption {
	return func(m *Mutation) { m.onSuccess = fn }
}

// WithOnError registers the error callback.
func WithOnError(fn func(err *ApiError, input map[string]any)) MutationOption {
	return func(m *Mutation) { m.onError = fn }
}

// WithInvalidateKeys declares cache key prefixes invalidated after a
// successful mutation.
func WithInvalidateKeys(prefixes ...string) MutationOption {
	return func(m *Mutation) { m.invalidateKeys = prefixes }
}

// WithInvalidateTags declares cache tags invalidated after a successful
// mutation.
func WithInvalidateTags(tags ...string) MutationOption {
	return func(m *Mutation) { m.invalidateTags = tags }
}

// WithoutTokenCapture disables writing a token found in the response payload
// into the token store.
func WithoutTokenCapture() MutationOption {
	return func(m *Mutation) { m.storeToken = false }
}

// WithMutationShaper installs a response shaper applied on success.
func WithMutationShaper(shape ResponseShaper) MutationOption {
	return func(m *Mutation) { m.spec.Transform = shape }
}

// Mutation is a reactive handle over one non-idempotent operation. It is
// not cancellable once started; callbacks become no-ops after Close.
type Mutation struct {
	client *Client
	spec   RequestSpec

	form                 *FormSpec
	manualTransformation bool
	storeToken           bool
	invalidateKeys       []string
	invalidateTags       []string
	onSuccess            func(Payload, map[string]any)
	onError              func(*ApiError, map[string]any)

	mu     sync.Mutex
	state  MutationState
	subs   map[int]func(MutationState)
	nextID int
	closed bool
}

// NewMutation builds a Mutation handle. The method defaults to POST.
func (c *Client) NewMutation(spec RequestSpec, opts ...MutationOption) *Mutation {
	if spec.Method == "" {
		spec.Method = http.MethodPost
	}
	m := &Mutation{
		client:     c,
		spec:       spec,
		storeToken: c.storeToken,
		subs:       make(map[int]func(MutationState)),
		state:      MutationState{Status: MutationIdle},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current snapshot.
func (m *Mutation) State() MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers an observer, invoked immediately and after every
// transition. The returned function unsubscribes.
func (m *Mutation) Subscribe(fn func(MutationState)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	snapshot := m.state
	m.mu.Unlock()

	fn(snapshot)

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Reset returns the handle to idle, clearing data and error.
func (m *Mutation) Reset() {
	m.applyState(func(s *MutationState) {
		*s = MutationState{Status: MutationIdle}
	})
}

// Close disposes the handle. An in-flight Mutate finishes (the server may
// already have observed its effects) but its callbacks and state updates
// become no-ops.
func (m *Mutation) Close() {
	m.mu.Lock()
	m.closed = true
	m.subs = make(map[int]func(MutationState))
	m.mu.Unlock()
}

// Mutate submits input through the pipeline: form reshaping, execution,
// callbacks, token capture and cache invalidation hints.
func (m *Mutation) Mutate(ctx context.Context, input map[string]any) (Payload, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return EmptyPayload(), ErrClosed
	}
	m.mu.Unlock()

	m.applyState(func(s *MutationState) {
		s.Status = MutationPending
		s.Err = nil
	})

	spec := m.spec
	if input != nil {
		spec.Body = m.shapeBody(input)
	}

	payload, err := m.client.pipeline.Execute(ctx, &spec)
	if err != nil {
		apiErr := AsApiError(err)
		m.applyState(func(s *MutationState) {
			s.Status = MutationError
			s.Err = apiErr
		})
		m.callOnError(apiErr, input)
		return payload, apiErr
	}

	m.captureToken(payload)
	m.applyInvalidations()

	m.applyState(func(s *MutationState) {
		s.Status = MutationSuccess
		s.Data = payload.Value()
		s.Err = nil
	})
	m.callOnSuccess(payload, input)
	return payload, nil
}

// MutateAsync runs Mutate on a goroutine; results arrive via callbacks and
// subscriptions only.
func (m *Mutation) MutateAsync(ctx context.Context, input map[string]any) {
	go func() {
		_, _ = m.Mutate(ctx, input)
	}()
}

// shapeBody merges the client-wide form spec under the local one and applies
// the result, unless manual transformation is requested.
func (m *Mutation) shapeBody(input map[string]any) map[string]any {
	if m.manualTransformation {
		return input
	}
	spec := MergeFormSpecs(m.client.globalForm, m.form)
	if spec == nil {
		return input
	}
	return spec.Transform(input)
}

// captureToken stores a token found in the payload under the configured
// field (default "access_token"), with expiry from "expires_in".
func (m *Mutation) captureToken(payload Payload) {
	if !m.storeToken {
		return
	}
	access := payload.StringField(m.client.tokenField)
	if access == "" {
		return
	}
	refresh := payload.StringField("refresh_token")
	var expiresAt time.Time
	if expiresIn, ok := payload.NumberField("expires_in"); ok && expiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	m.client.tokens.Set(access, refresh, expiresAt)
}

func (m *Mutation) applyInvalidations() {
	for _, prefix := range m.invalidateKeys {
		m.client.cache.InvalidatePrefix(prefix)
	}
	if len(m.invalidateTags) > 0 {
		m.client.cache.InvalidateByTags(m.invalidateTags...)
	}
}

func (m *Mutation) callOnSuccess(payload Payload, input map[string]any) {
	m.mu.Lock()
	closed := m.closed
	fn := m.onSuccess
	m.mu.Unlock()
	if !closed && fn != nil {
		fn(payload, input)
	}
}

func (m *Mutation) callOnError(err *ApiError, input map[string]any) {
	m.mu.Lock()
	closed := m.closed
	fn := m.onError
	m.mu.Unlock()
	if !closed && fn != nil {
		fn(err, input)
	}
}

func (m *Mutation) applyState(mutate func(*MutationState)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	mutate(&m.state)
	snapshot := m.state
	observers := make([]func(MutationState), 0, len(m.subs))
	for _, fn := range m.subs {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}
