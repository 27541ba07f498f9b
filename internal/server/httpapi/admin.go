package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) handleAdminGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.admin.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	job, err := s.admin.Refund(r.Context(), operatorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.Retry(r.Context(), operatorFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, okBody{OK: true})
}
