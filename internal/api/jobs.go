package api

import (
	"net/http"
	"strconv"

	"github.com/secfleet/secfleet/internal/domain"
	"github.com/secfleet/secfleet/internal/job"
)

// ─── Jobs (/api/jobs) ───────────────────────────────────────────────────────

type jobView struct {
	domain.JobRecord
	Failures []failureView  `json:"failures,omitempty"`
	Tasks    []job.NodeInfo `json:"tasks,omitempty"`
}

type failureView struct {
	Task  string `json:"task"`
	Error string `json:"error"`
}

func liveJob(j *job.Job, withTasks bool) jobView {
	v := jobView{JobRecord: j.Record()}
	for _, f := range j.Failures() {
		v.Failures = append(v.Failures, failureView{Task: f.Task, Error: f.Err.Error()})
	}
	if withTasks {
		v.Tasks = j.Nodes()
	}
	return v
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	active := []jobView{}
	for _, j := range s.deps.Engine.ActiveJobs() {
		active = append(active, liveJob(j, false))
	}
	recent := []domain.JobRecord{}
	if s.deps.Records != nil {
		records, err := s.deps.Records.ListJobRecords(r.Context(), limit)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		recent = append(recent, records...)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active": active,
		"recent": recent,
	})
}

// handleGetJob serves a live job when the engine still knows it, else its
// persisted record.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if j, ok := s.deps.Engine.Job(id); ok {
		writeJSON(w, http.StatusOK, liveJob(j, true))
		return
	}
	if s.deps.Records == nil {
		writeError(w, http.StatusNotFound, domain.ErrJobNotFound.Error())
		return
	}

	rec, tasks, err := s.deps.Records.GetJobRecord(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":   rec,
		"tasks": tasks,
	})
}

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"locks": s.deps.Engine.Locks().Snapshot(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Stats())
}

// ─── Alerts (/api/alerts) ───────────────────────────────────────────────────

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alerts": []domain.Alert{}})
		return
	}
	alerts, err := s.deps.Alerts.ListAlerts(r.Context(), r.URL.Query().Get("pending") == "true")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.deps.Alerts == nil {
		writeError(w, http.StatusNotFound, "alerts are not persisted")
		return
	}
	if err := s.deps.Alerts.AcknowledgeAlert(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
