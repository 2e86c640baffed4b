package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/paramsync/internal/param"
	"github.com/kalambet/paramsync/internal/paramsync"
	"github.com/kalambet/paramsync/internal/prefs"
	"github.com/kalambet/paramsync/internal/remote"
	"github.com/kalambet/paramsync/internal/storage"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestRegistry(t *testing.T, token string) (http.Handler, *storage.Store, *Sessions) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sessions := NewSessions()
	h := NewRegistryHandler(RegistryDeps{
		Params:   store,
		Sessions: sessions,
		Token:    token,
		Metrics:  NewMetrics(),
		Logger:   quietLogger,
	})
	return h, store, sessions
}

func serve(h http.Handler, method, path, session, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if session != "" {
		req.Header.Set(remote.SessionHeader, session)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Type
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestRegistry(t, "secret")

	rr := serve(h, http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestBearerAuthRequired(t *testing.T) {
	h, _, _ := newTestRegistry(t, "secret")

	rr := serve(h, http.MethodPost, "/v1/sessions", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := errorType(t, rr); got != "authentication_error" {
		t.Fatalf("expected authentication_error, got %q", got)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d", rr.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	h, _, sessions := newTestRegistry(t, "")

	rr := serve(h, http.MethodPost, "/v1/sessions", "", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if !sessions.Valid(body.ID) {
		t.Fatalf("session %q not registered", body.ID)
	}

	rr = serve(h, http.MethodGet, "/v1/params", body.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with session, got %d", rr.Code)
	}

	rr = serve(h, http.MethodDelete, "/v1/sessions/"+body.ID, "", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if sessions.Len() != 0 {
		t.Fatalf("expected no open sessions, got %d", sessions.Len())
	}

	rr = serve(h, http.MethodGet, "/v1/params", body.ID, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after close, got %d", rr.Code)
	}
	if got := errorType(t, rr); got != "session_error" {
		t.Fatalf("expected session_error, got %q", got)
	}

	rr = serve(h, http.MethodDelete, "/v1/sessions/"+body.ID, "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second close, got %d", rr.Code)
	}
}

func TestParamRequiresSession(t *testing.T) {
	h, _, _ := newTestRegistry(t, "")

	rr := serve(h, http.MethodGet, "/v1/params/tango/enabled", "bogus", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := errorType(t, rr); got != "session_error" {
		t.Fatalf("expected session_error, got %q", got)
	}
}

func TestParamPutGetDelete(t *testing.T) {
	h, store, sessions := newTestRegistry(t, "")
	id := sessions.Open()

	rr := serve(h, http.MethodPut, "/v1/params/tango/retry_count", id, `{"type":"int","value":7}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("put: expected 204, got %d: %s", rr.Code, rr.Body.String())
	}

	p, err := store.GetParameter("/tango/retry_count")
	if err != nil {
		t.Fatalf("GetParameter: %v", err)
	}
	if p.Kind != "int" || p.Value != "7" {
		t.Fatalf("stored %+v", p)
	}

	rr = serve(h, http.MethodGet, "/v1/params/tango/retry_count", id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	var got remote.Param
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding param: %v", err)
	}
	v, err := got.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name != "/tango/retry_count" || v != 7 {
		t.Fatalf("got %s = %v", got.Name, v)
	}

	rr = serve(h, http.MethodDelete, "/v1/params/tango/retry_count", id, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rr.Code)
	}
	rr = serve(h, http.MethodGet, "/v1/params/tango/retry_count", id, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
	rr = serve(h, http.MethodDelete, "/v1/params/tango/retry_count", id, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rr.Code)
	}
}

func TestParamPutInvalid(t *testing.T) {
	h, _, sessions := newTestRegistry(t, "")
	id := sessions.Open()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"unknown kind", `{"type":"float","value":1.5}`},
		{"value does not match kind", `{"type":"bool","value":"yes"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, http.MethodPut, "/v1/params/tango/x", id, tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if got := errorType(t, rr); got != "invalid_request_error" {
				t.Fatalf("expected invalid_request_error, got %q", got)
			}
		})
	}
}

func TestListParamsPrefix(t *testing.T) {
	h, store, sessions := newTestRegistry(t, "")
	id := sessions.Open()

	for _, p := range []storage.Parameter{
		{Name: "/tango/enabled", Kind: "bool", Value: "true"},
		{Name: "/tango/device_name", Kind: "string", Value: "rover1"},
		{Name: "/other/enabled", Kind: "bool", Value: "false"},
	} {
		if err := store.SetParameter(p); err != nil {
			t.Fatalf("SetParameter: %v", err)
		}
	}

	rr := serve(h, http.MethodGet, "/v1/params?prefix=/tango/", id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var params []remote.Param
	if err := json.Unmarshal(rr.Body.Bytes(), &params); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	var names []string
	for _, p := range params {
		names = append(names, p.Name)
	}
	want := []string{"/tango/device_name", "/tango/enabled"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, sessions := newTestRegistry(t, "")
	id := sessions.Open()
	serve(h, http.MethodGet, "/v1/params/tango/missing", id, "")

	rr := serve(h, http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`paramsync_registry_requests_total{op="get",outcome="not_found"} 1`,
		`paramsync_registry_open_sessions 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

// TestSyncOverHTTP runs both passes through HTTPRegistry against a live
// registry server.
func TestSyncOverHTTP(t *testing.T) {
	h, store, _ := newTestRegistry(t, "secret")
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	reg, err := remote.Dial(ctx, srv.URL, "secret")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	schema := param.MustSchema(
		param.Spec{Name: "enabled", Type: param.Bool},
		param.Spec{Name: "retry_count", Type: param.IntAsString},
		param.Spec{Name: "device_name", Type: param.String},
	)
	acc := remote.NewAccessor(reg, "tango")
	if err := acc.SetBool(ctx, "enabled", true); err != nil {
		t.Fatalf("SetBool: %v", err)
	}
	if err := acc.SetInt(ctx, "retry_count", 3); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := acc.SetString(ctx, "device_name", "rover1"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	local, err := prefs.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	s := paramsync.New(schema, local, acc, paramsync.WithLogger(quietLogger))
	if err := s.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	entries, err := local.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	want := []prefs.Entry{
		{Key: "device_name", Kind: prefs.KindString, Value: "rover1"},
		{Key: "enabled", Kind: prefs.KindBool, Value: "true"},
		{Key: "retry_count", Kind: prefs.KindString, Value: "3"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("local entries mismatch (-want +got):\n%s", diff)
	}

	if err := local.Edit().PutString("retry_count", "abc").PutString("device_name", "rover2").Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	err = s.Push(ctx)
	if !errors.Is(err, paramsync.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
	p, err := store.GetParameter("/tango/device_name")
	if err != nil {
		t.Fatalf("GetParameter: %v", err)
	}
	if p.Value != "rover2" {
		t.Fatalf("device_name not pushed: %+v", p)
	}
	p, err = store.GetParameter("/tango/retry_count")
	if err != nil {
		t.Fatalf("GetParameter: %v", err)
	}
	if p.Value != "3" {
		t.Fatalf("retry_count should be untouched, got %+v", p)
	}

	if err := reg.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Pull(ctx); !errors.Is(err, remote.ErrSessionUnavailable) {
		t.Fatalf("expected ErrSessionUnavailable after Close, got %v", err)
	}
}
