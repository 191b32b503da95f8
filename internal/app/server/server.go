// Package server exposes the controller over a small JSON admin API next to
// the metrics and health endpoints.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/charmbracelet/log"

	"shroud/internal/api/dto"
	"shroud/internal/controller"
	"shroud/internal/metrics"
	"shroud/internal/proxy"
	"shroud/internal/relay"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Controller *controller.Controller
	Metrics    *metrics.Metrics
	// Presence is nil when the relay is not shared through redis.
	Presence *relay.Presence
}

type server struct {
	Deps
}

func NewRouter(deps Deps) http.Handler {
	s := &server{Deps: deps}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	mux.HandleFunc("GET /state", s.getState)
	mux.HandleFunc("GET /instances", s.listInstances)

	mux.HandleFunc("POST /identity", s.generateIdentity)
	mux.HandleFunc("PATCH /identity", s.patchIdentity)
	mux.HandleFunc("PATCH /privacy", s.patchPrivacy)

	mux.HandleFunc("PUT /proxy", s.setProxy)
	mux.HandleFunc("DELETE /proxy", s.clearProxy)
	mux.HandleFunc("POST /proxy/test", s.testProxy)
	mux.HandleFunc("GET /proxy/profiles", s.listProxyProfiles)
	mux.HandleFunc("POST /proxy/profiles", s.createProxyProfile)
	mux.HandleFunc("POST /proxy/profiles/{id}/select", s.selectProxyProfile)
	mux.HandleFunc("DELETE /proxy/profiles/{id}", s.deleteProxyProfile)

	mux.HandleFunc("GET /settings", s.exportSettings)
	mux.HandleFunc("POST /settings", s.importSettings)
	mux.HandleFunc("POST /geo/refresh", s.refreshGeo)
	mux.HandleFunc("POST /data/clear", s.clearData)

	return mux
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "Invalid request payload", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("admin: failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, dto.Error{Error: message})
}

// writeControllerError maps controller and proxy errors onto status codes.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, proxy.ErrInvalidHost),
		errors.Is(err, proxy.ErrInvalidPort),
		errors.Is(err, proxy.ErrUnsupportedScheme),
		errors.Is(err, proxy.ErrInvalidProfileName),
		errors.Is(err, controller.ErrInvalidRequest):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, proxy.ErrProfileNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, controller.ErrNoDataClearer):
		writeError(w, err.Error(), http.StatusNotImplemented)
	case errors.Is(err, controller.ErrStopped):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		log.Error("admin: request failed", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}
