package api

import (
	"encoding/json"
	"errors"
	"net/http"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/migalsp/kubex-hibernate/internal/schedule"
)

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.Engine.ListSchedules(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req schedule.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := s.Engine.CreateSchedule(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.Engine.GetSchedule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req schedule.PatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	patch, err := req.Parse()
	if err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.Engine.UpdateSchedule(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.DeleteSchedule(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	names, err := s.Cluster.ListAllowedNamespaces(r.Context(), s.Engine.NamespaceLabelKey, s.Engine.NamespaceLabelValue)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("namespace")
	allowed, err := s.Cluster.IsNamespaceAllowed(r.Context(), ns, s.Engine.NamespaceLabelKey, s.Engine.NamespaceLabelValue)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !allowed {
		writeError(w, r, &schedule.ValidationError{
			Reason:  schedule.ReasonNamespaceNotAllowed,
			Message: "namespace " + ns + " is not enabled for hibernation",
		})
		return
	}

	deployments, err := s.Cluster.ListDeployments(r.Context(), ns)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *schedule.ValidationError
		nf *schedule.NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		status := http.StatusBadRequest
		switch ve.Reason {
		case schedule.ReasonDuplicate:
			status = http.StatusConflict
		case schedule.ReasonNamespaceNotAllowed:
			status = http.StatusForbidden
		}
		writeJSON(w, status, map[string]string{"error": ve.Message, "reason": string(ve.Reason)})
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": nf.Error()})
	default:
		logf.FromContext(r.Context()).Error(err, "Request failed", "method", r.Method, "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
