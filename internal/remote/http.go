package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// SessionHeader carries the session ID on parameter requests.
const SessionHeader = "X-Session-ID"

// StatusError is a non-2xx reply from the registry server that is not a
// session failure.
type StatusError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry returned %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

// HTTPRegistry is a Registry served by `paramsync serve` over HTTP. It is
// bound to one session, opened by Dial and revoked by Close.
type HTTPRegistry struct {
	baseURL    string
	token      string
	httpClient *http.Client

	mu        sync.RWMutex
	sessionID string
}

// Option configures an HTTPRegistry.
type Option func(*HTTPRegistry)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(r *HTTPRegistry) { r.httpClient = c }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(r *HTTPRegistry) { r.httpClient = &http.Client{Timeout: d} }
}

// Dial opens a session on the registry at baseURL.
func Dial(ctx context.Context, baseURL, token string, opts ...Option) (*HTTPRegistry, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("remote: base URL is required")
	}
	r := &HTTPRegistry{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}

	resp, err := r.do(ctx, http.MethodPost, "/v1/sessions", nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	if body.ID == "" {
		return nil, fmt.Errorf("opening session: server returned empty session id")
	}
	r.sessionID = body.ID
	return r, nil
}

// SessionID returns the current session, or "" once closed.
func (r *HTTPRegistry) SessionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionID
}

// Close revokes the session. Later calls fail with ErrSessionUnavailable.
func (r *HTTPRegistry) Close(ctx context.Context) error {
	r.mu.Lock()
	id := r.sessionID
	r.sessionID = ""
	r.mu.Unlock()
	if id == "" {
		return nil
	}

	resp, err := r.do(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

func (r *HTTPRegistry) GetBool(ctx context.Context, name string, def bool) (bool, error) {
	v, ok, err := r.get(ctx, name, KindBool)
	if err != nil || !ok {
		return def, err
	}
	return v.(bool), nil
}

func (r *HTTPRegistry) GetInt(ctx context.Context, name string, def int) (int, error) {
	v, ok, err := r.get(ctx, name, KindInt)
	if err != nil || !ok {
		return def, err
	}
	return v.(int), nil
}

func (r *HTTPRegistry) GetString(ctx context.Context, name string, def string) (string, error) {
	v, ok, err := r.get(ctx, name, KindString)
	if err != nil || !ok {
		return def, err
	}
	return v.(string), nil
}

func (r *HTTPRegistry) Set(ctx context.Context, name string, value any) error {
	p, err := EncodeParam("", value)
	if err != nil {
		return err
	}
	resp, err := r.doSession(ctx, http.MethodPut, paramPath(name), p)
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

// Delete removes name from the registry.
func (r *HTTPRegistry) Delete(ctx context.Context, name string) error {
	resp, err := r.doSession(ctx, http.MethodDelete, paramPath(name), nil)
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

// List returns every parameter whose name starts with prefix.
func (r *HTTPRegistry) List(ctx context.Context, prefix string) ([]Param, error) {
	resp, err := r.doSession(ctx, http.MethodGet, "/v1/params?prefix="+url.QueryEscape(prefix), nil)
	if err != nil {
		return nil, err
	}
	var params []Param
	if err := decodeJSON(resp, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func (r *HTTPRegistry) get(ctx context.Context, name string, want Kind) (any, bool, error) {
	resp, err := r.doSession(ctx, http.MethodGet, paramPath(name), nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, false, nil
	}
	var p Param
	if err := decodeJSON(resp, &p); err != nil {
		return nil, false, err
	}
	if p.Type != want {
		return nil, false, fmt.Errorf("%w: %s holds %s, want %s", ErrTypeMismatch, name, p.Type, want)
	}
	v, err := p.Decode()
	if err != nil {
		return nil, false, fmt.Errorf("decoding %s: %w", name, err)
	}
	return v, true, nil
}

func paramPath(name string) string {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return (&url.URL{Path: "/v1/params" + name}).EscapedPath()
}

func (r *HTTPRegistry) doSession(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if r.SessionID() == "" {
		return nil, ErrSessionUnavailable
	}
	return r.do(ctx, method, path, body)
}

func (r *HTTPRegistry) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if id := r.SessionID(); id != "" {
		req.Header.Set(SessionHeader, id)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: registry not reachable: %v", ErrSessionUnavailable, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		e := readError(resp)
		if e.Type == "session_error" {
			return nil, fmt.Errorf("%w: %s", ErrSessionUnavailable, e.Message)
		}
		return nil, e
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 400 {
		return readError(resp)
	}
	resp.Body.Close()
	return nil
}

func decodeJSON(resp *http.Response, v any) error {
	if resp.StatusCode >= 400 {
		return readError(resp)
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func readError(resp *http.Response) *StatusError {
	defer resp.Body.Close()
	e := &StatusError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		e.Message = fmt.Sprintf("failed to read body: %v", err)
		return e
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error.Message != "" {
		e.Type = body.Error.Type
		e.Message = body.Error.Message
		return e
	}
	e.Message = strings.TrimSpace(string(data))
	return e
}

// IsNotFound reports whether err is a 404 from the registry server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
