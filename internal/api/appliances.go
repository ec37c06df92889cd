package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/secfleet/secfleet/internal/domain"
)

// ─── Virtual Systems (/api/virtual-systems) ─────────────────────────────────

type createVirtualSystemRequest struct {
	Name       string `json:"name"`
	ManagerURL string `json:"manager_url"`
}

type createInterfaceRequest struct {
	Name   string `json:"name"`
	Tag    string `json:"tag"`
	Policy string `json:"policy"`
}

func (s *Server) handleListVirtualSystems(w http.ResponseWriter, r *http.Request) {
	systems, err := s.deps.Store.ListVirtualSystems(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if systems == nil {
		systems = []domain.VirtualSystem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"virtual_systems": systems})
}

func (s *Server) handleCreateVirtualSystem(w http.ResponseWriter, r *http.Request) {
	var req createVirtualSystemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.ManagerURL == "" {
		writeError(w, http.StatusBadRequest, "name and manager_url are required")
		return
	}

	vs := domain.VirtualSystem{Name: req.Name, ManagerURL: req.ManagerURL}
	if err := s.deps.Store.CreateVirtualSystem(r.Context(), &vs); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, vs)
}

func (s *Server) handleListInterfaces(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.deps.Store.GetVirtualSystem(r.Context(), id, false); err != nil {
		s.writeErr(w, err)
		return
	}
	sgis, err := s.deps.Store.ListSecurityGroupInterfaces(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if sgis == nil {
		sgis = []domain.SecurityGroupInterface{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"interfaces": sgis})
}

func (s *Server) handleCreateInterface(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req createInterfaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Policy == "" {
		writeError(w, http.StatusBadRequest, "name and policy are required")
		return
	}
	if _, err := s.deps.Store.GetVirtualSystem(r.Context(), id, false); err != nil {
		s.writeErr(w, err)
		return
	}

	sgi := domain.SecurityGroupInterface{VirtualSystemID: id, Name: req.Name, Tag: req.Tag, Policy: req.Policy}
	if err := s.deps.Store.CreateSecurityGroupInterface(r.Context(), &sgi); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sgi)
}

// handleSync submits a conformance job and answers before it runs.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	j, err := s.deps.Sync.SyncVirtualSystem(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/jobs/%d", j.ID()))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": j.ID(),
		"name":   j.Name(),
	})
}
