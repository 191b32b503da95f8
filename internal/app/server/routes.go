package server

import (
	"net/http"
	"strings"

	"shroud/internal/api/dto"
	"shroud/internal/controller"
	"shroud/internal/identity"
	"shroud/internal/privacy"
	"shroud/internal/proxy"
	"shroud/internal/relay"
	"shroud/internal/support"
)

func (s *server) getState(w http.ResponseWriter, r *http.Request) {
	st, err := s.Controller.State(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) listInstances(w http.ResponseWriter, r *http.Request) {
	if s.Presence == nil {
		self := relay.Instance{ID: support.GetInstanceID()}
		self.Name = self.ID
		writeJSON(w, http.StatusOK, dto.InstanceList{Self: self, Peers: []relay.Instance{self}})
		return
	}
	peers, err := s.Presence.Peers(r.Context())
	if err != nil {
		writeError(w, "Failed to load instances", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dto.InstanceList{Self: s.Presence.Self(), Peers: peers})
}

func (s *server) generateIdentity(w http.ResponseWriter, r *http.Request) {
	var req controller.GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	profile, err := s.Controller.GenerateIdentity(r.Context(), req)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *server) patchIdentity(w http.ResponseWriter, r *http.Request) {
	var patch identity.Patch
	if !decodeBody(w, r, &patch) {
		return
	}
	profile, err := s.Controller.PatchIdentity(r.Context(), patch)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *server) patchPrivacy(w http.ResponseWriter, r *http.Request) {
	var patch privacy.Patch
	if !decodeBody(w, r, &patch) {
		return
	}
	settings, err := s.Controller.SetPrivacy(r.Context(), patch)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *server) setProxy(w http.ResponseWriter, r *http.Request) {
	var in proxy.Input
	if !decodeBody(w, r, &in) {
		return
	}
	status, err := s.Controller.SetProxy(r.Context(), in)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

func (s *server) clearProxy(w http.ResponseWriter, r *http.Request) {
	status, err := s.Controller.ClearProxy(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) testProxy(w http.ResponseWriter, r *http.Request) {
	var in proxy.Input
	if !decodeBody(w, r, &in) {
		return
	}
	writeJSON(w, http.StatusOK, s.Controller.TestProxy(r.Context(), in))
}

func (s *server) listProxyProfiles(w http.ResponseWriter, r *http.Request) {
	st, err := s.Controller.State(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}
	profiles := st.Profiles.Profiles
	if profiles == nil {
		profiles = []proxy.Profile{}
	}
	writeJSON(w, http.StatusOK, dto.ProxyProfileList{Profiles: profiles, ActiveID: st.Profiles.ActiveID})
}

func (s *server) createProxyProfile(w http.ResponseWriter, r *http.Request) {
	var req dto.ProxyProfileCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	profile, err := s.Controller.SaveProxyProfile(r.Context(), req.Name, req.Proxy)
	if profile.ID == "" {
		writeControllerError(w, err)
		return
	}
	// The profile is stored even when applying it failed.
	writeJSON(w, http.StatusCreated, profile)
}

func (s *server) selectProxyProfile(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := s.Controller.SelectProxyProfile(r.Context(), id); err != nil {
		writeControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) deleteProxyProfile(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	removed, err := s.Controller.DeleteProxyProfile(r.Context(), id)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	if !removed {
		writeError(w, proxy.ErrProfileNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, dto.ProxyProfileDeleted{ID: id, Removed: true})
}

func (s *server) exportSettings(w http.ResponseWriter, r *http.Request) {
	data, err := s.Controller.ExportSettings(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="shroud-settings.json"`)
	_, _ = w.Write(data)
}

func (s *server) importSettings(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if err := s.Controller.ImportSettings(r.Context(), data); err != nil {
		writeControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) refreshGeo(w http.ResponseWriter, r *http.Request) {
	res, err := s.Controller.RefreshGeo(r.Context())
	if err != nil {
		writeError(w, "Geo lookup failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) clearData(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.ClearData(r.Context()); err != nil {
		writeControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
