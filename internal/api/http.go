package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/kvs/internal/kvs"
	"github.com/kalambet/kvs/internal/theme"
)

const maxValueBodySize = 1 << 20 // 1MB

// Deps holds what the HTTP and MCP layers need.
type Deps struct {
	Store kvs.Store
	// Token protects every route except /health. Empty disables auth.
	Token string
}

// NewHandler returns the kvs HTTP API:
//
//	GET    /health
//	GET    /kv
//	GET    /kv/{key}
//	PUT    /kv/{key}
//	DELETE /kv/{key}
//	GET    /theme
//	PUT    /theme
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/kv", handleListKeys(deps))
		r.Get("/kv/{key}", handleGetValue(deps))
		r.Put("/kv/{key}", handlePutValue(deps))
		r.Delete("/kv/{key}", handleDeleteValue(deps))
		r.Get("/theme", handleGetTheme(deps))
		r.Put("/theme", handlePutTheme(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListKeys(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := deps.Store.Keys()
		if err != nil {
			slog.Error("listing keys", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list keys: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
	}
}

func handleGetValue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := keyParam(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid key: %v", err)
			return
		}
		raw, err := deps.Store.Get(key)
		switch {
		case errors.Is(err, kvs.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "key %q not found", key)
			return
		case errors.Is(err, kvs.ErrEmptyKey):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "key is required")
			return
		case err != nil:
			slog.Error("reading key", "key", key, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read %q: %v", key, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)
	}
}

func handlePutValue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := keyParam(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid key: %v", err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxValueBodySize)
		defer r.Body.Close()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "reading body: %v", err)
			return
		}
		if !json.Valid(body) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "body must be a JSON value")
			return
		}

		if err := deps.Store.Set(key, body); err != nil {
			if errors.Is(err, kvs.ErrEmptyKey) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "key is required")
				return
			}
			slog.Error("writing key", "key", key, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to write %q: %v", key, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeleteValue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := keyParam(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid key: %v", err)
			return
		}
		if err := deps.Store.Delete(key); err != nil {
			if errors.Is(err, kvs.ErrEmptyKey) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "key is required")
				return
			}
			slog.Error("deleting key", "key", key, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete %q: %v", key, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type themeBody struct {
	Theme string `json:"theme"`
}

func handleGetTheme(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, themeBody{Theme: string(theme.Load(deps.Store).Mode())})
	}
}

func handlePutTheme(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxValueBodySize)
		defer r.Body.Close()

		var req themeBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		mode, err := theme.ParseMode(req.Theme)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := theme.Load(deps.Store).Set(mode); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, themeBody{Theme: string(mode)})
	}
}

// keyParam returns the unescaped {key} segment. chi routes on RawPath when
// the request carries one (e.g. an escaped "/"), leaving the param escaped.
func keyParam(r *http.Request) (string, error) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return key, nil
	}
	return url.PathUnescape(key)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
