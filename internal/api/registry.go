package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/paramsync/internal/remote"
	"github.com/kalambet/paramsync/internal/storage"
)

const maxParamBodySize = 1 << 20 // 1MB

// ParamStore is the parameter table behind the registry. Implemented by
// storage.Store.
type ParamStore interface {
	GetParameter(name string) (storage.Parameter, error)
	SetParameter(p storage.Parameter) error
	DeleteParameter(name string) error
	ListParameters(prefix string) ([]storage.Parameter, error)
}

// RegistryDeps holds dependencies for the registry HTTP handler.
type RegistryDeps struct {
	Params   ParamStore
	Sessions *Sessions
	Token    string   // bearer token; empty disables auth
	Metrics  *Metrics // optional
	Logger   *slog.Logger
}

// NewRegistryHandler serves the shared parameter registry:
//
//	GET    /health
//	GET    /metrics
//	POST   /v1/sessions
//	DELETE /v1/sessions/{id}
//	GET    /v1/params?prefix=
//	GET    /v1/params/*
//	PUT    /v1/params/*
//	DELETE /v1/params/*
func NewRegistryHandler(deps RegistryDeps) http.Handler {
	if deps.Sessions == nil {
		deps.Sessions = NewSessions()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics != nil {
		deps.Sessions.onSize = deps.Metrics.setSessions
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/sessions", handleOpenSession(deps))
		r.Delete("/sessions/{id}", handleCloseSession(deps))

		r.Group(func(r chi.Router) {
			r.Use(RequireSession(deps.Sessions))
			r.Get("/params", handleListParams(deps))
			r.Get("/params/*", handleGetParam(deps))
			r.Put("/params/*", handlePutParam(deps))
			r.Delete("/params/*", handleDeleteParam(deps))
		})
	})

	return r
}

func handleOpenSession(deps RegistryDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := deps.Sessions.Open()
		deps.Metrics.observe("open_session", "ok")
		deps.Logger.Info("session opened", "session", id, "remote", r.RemoteAddr)
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func handleCloseSession(deps RegistryDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !deps.Sessions.Close(id) {
			deps.Metrics.observe("close_session", "not_found")
			httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
			return
		}
		deps.Metrics.observe("close_session", "ok")
		deps.Logger.Info("session closed", "session", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

// paramName recovers the qualified name from the wildcard route segment.
func paramName(r *http.Request) (string, error) {
	name := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(name)
		if err != nil {
			return "", err
		}
		name = unescaped
	}
	if name == "" {
		return "", errors.New("parameter name is required")
	}
	return "/" + name, nil
}

func handleGetParam(deps RegistryDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := paramName(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		p, err := deps.Params.GetParameter(name)
		if errors.Is(err, storage.ErrNotFound) {
			deps.Metrics.observe("get", "not_found")
			httpError(w, http.StatusNotFound, "not_found_error", "parameter %s not found", name)
			return
		}
		if err != nil {
			deps.Metrics.observe("get", "error")
			httpError(w, http.StatusInternalServerError, "api_error", "reading %s: %v", name, err)
			return
		}
		wire, err := toWire(p)
		if err != nil {
			deps.Metrics.observe("get", "error")
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		deps.Metrics.observe("get", "ok")
		writeJSON(w, http.StatusOK, wire)
	}
}

func handlePutParam(deps RegistryDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := paramName(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxParamBodySize)
		defer r.Body.Close()

		var body remote.Param
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		v, err := body.Decode()
		if err != nil {
			deps.Metrics.observe("set", "invalid")
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid value for %s: %v", name, err)
			return
		}
		kind, text, err := remote.FormatValue(v)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		if err := deps.Params.SetParameter(storage.Parameter{Name: name, Kind: string(kind), Value: text}); err != nil {
			deps.Metrics.observe("set", "error")
			httpError(w, http.StatusInternalServerError, "api_error", "writing %s: %v", name, err)
			return
		}
		deps.Metrics.observe("set", "ok")
		deps.Logger.Debug("parameter set", "name", name, "type", kind, "value", text)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeleteParam(deps RegistryDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := paramName(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		err = deps.Params.DeleteParameter(name)
		if errors.Is(err, storage.ErrNotFound) {
			deps.Metrics.observe("delete", "not_found")
			httpError(w, http.StatusNotFound, "not_found_error", "parameter %s not found", name)
			return
		}
		if err != nil {
			deps.Metrics.observe("delete", "error")
			httpError(w, http.StatusInternalServerError, "api_error", "deleting %s: %v", name, err)
			return
		}
		deps.Metrics.observe("delete", "ok")
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListParams(deps RegistryDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := deps.Params.ListParameters(r.URL.Query().Get("prefix"))
		if err != nil {
			deps.Metrics.observe("list", "error")
			httpError(w, http.StatusInternalServerError, "api_error", "listing parameters: %v", err)
			return
		}
		out := make([]remote.Param, 0, len(rows))
		for _, p := range rows {
			wire, err := toWire(p)
			if err != nil {
				deps.Logger.Warn("skipping unreadable parameter", "name", p.Name, "error", err)
				continue
			}
			out = append(out, wire)
		}
		deps.Metrics.observe("list", "ok")
		writeJSON(w, http.StatusOK, out)
	}
}

func toWire(p storage.Parameter) (remote.Param, error) {
	v, err := remote.ParseValue(remote.Kind(p.Kind), p.Value)
	if err != nil {
		return remote.Param{}, fmt.Errorf("decoding stored %s: %w", p.Name, err)
	}
	return remote.EncodeParam(p.Name, v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
