package kueri

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// ResponseShaper reshapes the decoded payload value after a successful
// request. When the document carries a "response" field the shaper receives
// that value; otherwise it receives the whole document.
type ResponseShaper func(value any) any

// RequestSpec describes a single HTTP attempt. Path is either absolute
// (http:// or https://) or a segment joined onto the client base URL with
// exactly one slash between them. Query applies only to GET/HEAD/DELETE;
// Body only to the remaining methods.
type RequestSpec struct {
	Method       string
	Path         string
	Query        url.Values
	Body         any
	Header       http.Header
	RequiresAuth bool
	Transform    ResponseShaper
}

// Transport sends requests and parses responses. It is stateless apart from
// the underlying http.Client and safe for concurrent use.
type Transport struct {
	baseURL    string
	httpClient *http.Client
	headers    http.Header
	metrics    *MetricsCollector
	logger     Logger
	debug      *DebugConfig
}

// NewTransport creates a Transport for the given base URL. A cookie jar is
// installed when withCredentials is set so session cookies round-trip.
func NewTransport(baseURL string, timeout time.Duration, withCredentials bool) *Transport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	if withCredentials {
		if jar, err := cookiejar.New(nil); err == nil {
			client.Jar = jar
		}
	}
	return &Transport{
		baseURL:    baseURL,
		httpClient: client,
		headers:    make(http.Header),
	}
}

// JoinURL composes base and path with exactly one slash between them.
// Absolute paths are used verbatim.
func JoinURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	baseSlash := strings.HasSuffix(base, "/")
	pathSlash := strings.HasPrefix(path, "/")
	switch {
	case baseSlash && pathSlash:
		return base + path[1:]
	case !baseSlash && !pathSlash:
		return base + "/" + path
	default:
		return base + path
	}
}

func queryAllowed(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		return true
	default:
		return false
	}
}

// Send executes one HTTP attempt. Non-2xx statuses and transport failures
// are reported as *ApiError; the RawResponse is returned alongside the error
// whenever a response was actually received.
func (t *Transport) Send(ctx context.Context, spec *RequestSpec) (*RawResponse, error) {
	fullURL := JoinURL(t.baseURL, spec.Path)

	if len(spec.Query) > 0 && queryAllowed(spec.Method) {
		sep := "?"
		if strings.Contains(fullURL, "?") {
			sep = "&"
		}
		fullURL += sep + spec.Query.Encode()
	}

	var body io.Reader
	hasBody := false
	if spec.Body != nil && !queryAllowed(spec.Method) {
		encoded, err := json.Marshal(spec.Body)
		if err != nil {
			return nil, &ApiError{
				Kind:      KindUnknown,
				Message:   "failed to encode request body",
				Cause:     err,
				Method:    spec.Method,
				URL:       fullURL,
				Timestamp: time.Now(),
			}
		}
		body = bytes.NewReader(encoded)
		hasBody = true
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, fullURL, body)
	if err != nil {
		return nil, &ApiError{
			Kind:      KindUnknown,
			Message:   "failed to build request",
			Cause:     err,
			Method:    spec.Method,
			URL:       fullURL,
			Timestamp: time.Now(),
		}
	}

	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, values := range t.headers {
		for _, v := range values {
			req.Header.Set(k, v)
		}
	}
	for k, values := range spec.Header {
		for _, v := range values {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.metrics.RecordError(string(KindNetwork), spec.Method, spec.Path)
		return nil, &ApiError{
			Kind:      KindNetwork,
			Message:   "network request failed",
			Cause:     err,
			Method:    spec.Method,
			URL:       fullURL,
			Timestamp: time.Now(),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	t.metrics.RecordRequest(spec.Method, spec.Path, resp.StatusCode, time.Since(start))

	raw := &RawResponse{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     resp.Header.Clone(),
	}

	payload, perr := parseBody(resp)
	if perr != nil {
		// Unparseable bodies are only an error outside the 2xx range.
		t.metrics.RecordError(string(KindInvalidJSON), spec.Method, spec.Path)
		return raw, &ApiError{
			Kind:      KindInvalidJSON,
			Status:    resp.StatusCode,
			Message:   "response body is not valid JSON",
			Cause:     perr,
			Method:    spec.Method,
			URL:       fullURL,
			Timestamp: time.Now(),
		}
	}
	raw.Body = payload

	if !raw.OK() {
		kind := KindFromStatus(resp.StatusCode, payload)
		msg := payload.Message()
		if msg == "" {
			msg = raw.StatusText
		}
		t.metrics.RecordError(string(kind), spec.Method, spec.Path)
		return raw, &ApiError{
			Kind:      kind,
			Status:    resp.StatusCode,
			Message:   msg,
			Payload:   payload,
			Method:    spec.Method,
			URL:       fullURL,
			Timestamp: time.Now(),
		}
	}

	return raw, nil
}

// parseBody decodes the response body. 204/205 short-circuit to the
// synthetic no-content payload. A decode failure on a 2xx response is
// surfaced as an Unparseable payload; on other statuses it is an error.
func parseBody(resp *http.Response) (Payload, error) {
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusResetContent {
		return NoContentPayload(), nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return EmptyPayload(), err
	}
	if len(data) == 0 {
		return EmptyPayload(), nil
	}

	// The parse is attempted regardless of Content-Type. Servers routinely
	// mislabel JSON bodies (net/http sniffs unlabeled JSON as text/plain),
	// so the header cannot gate the attempt.
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return UnparseablePayload(string(data), resp.StatusCode), nil
		}
		return EmptyPayload(), err
	}
	return ParsedPayload(value), nil
}

// SetHeader installs a default header sent with every request. Per-request
// headers override it.
func (t *Transport) SetHeader(key, value string) {
	t.headers.Set(key, value)
}
