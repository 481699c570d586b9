// Package api mounts the HTTP surface described in spec.md §6 over the Job
// Manager and Process Manager. The framing layer itself is declared out of
// scope for behavior (spec.md §1), but something has to exercise the
// engine; grounded on 3leaps-gonimbus's chi-based router composition,
// versioned under /v{major}.{minor}/ as SPEC_FULL.md §2 specifies.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/cbsinteractive/ump-gateway/internal/apipath"
	"github.com/cbsinteractive/ump-gateway/internal/job"
	"github.com/cbsinteractive/ump-gateway/internal/jobmanager"
	"github.com/cbsinteractive/ump-gateway/internal/jobrepo"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
	"github.com/cbsinteractive/ump-gateway/internal/process"
)

// Version is the API's versioned mount prefix; re-exported from
// internal/apipath so every link the domain packages mint (job self/results
// links, the execution Location header, process self links) agrees with
// where this router actually mounts its routes.
const Version = apipath.Base

// Server holds the dependencies the HTTP handlers close over.
type Server struct {
	processes *process.Manager
	jobs      *jobmanager.Manager
	log       *logrus.Logger
}

// NewRouter builds the chi router mounting every route in spec.md §6 under
// Version.
func NewRouter(processes *process.Manager, jobs *jobmanager.Manager, log *logrus.Logger) http.Handler {
	s := &Server{processes: processes, jobs: jobs, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Route(Version, func(r chi.Router) {
		r.Get("/processes", s.listProcesses)
		r.Get("/processes/{id}", s.getProcess)
		r.Post("/processes/{id}/execution", s.executeProcess)
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{id}", s.getJob)
		r.Get("/jobs/{id}/results", s.getJobResults)
	})
	return r
}

func (s *Server) listProcesses(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.processes.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error listing processes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processes": summaries,
		"links":     []ogc.Link{{Href: Version + "/processes", Rel: "self", Type: "application/json"}},
	})
}

func (s *Server) getProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	descriptor, err := s.processes.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, process.ErrNotFound) {
			writeError(w, http.StatusNotFound, "process not found")
			return
		}
		if errors.Is(err, process.ErrAmbiguous) {
			writeError(w, http.StatusConflict, "process id is ambiguous across providers")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error fetching process")
		return
	}
	writeJSON(w, http.StatusOK, descriptor)
}

func (s *Server) executeProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var inputs interface{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
			writeError(w, http.StatusBadRequest, "malformed execute body")
			return
		}
	}

	headers := map[string]string{}
	if auth := r.Header.Get("Authorization"); auth != "" {
		headers["Authorization"] = auth
	}

	j, status, respHeaders, info, err := s.jobs.CreateAndForward(r.Context(), id, inputs, headers)
	if err != nil {
		switch {
		case errors.Is(err, jobmanager.ErrNotFound):
			writeError(w, http.StatusNotFound, "process not found")
		case errors.Is(err, jobmanager.ErrShuttingDown):
			writeError(w, http.StatusServiceUnavailable, "gateway is shutting down")
		default:
			s.log.WithError(err).Error("create_and_forward failed unexpectedly")
			writeError(w, http.StatusInternalServerError, "internal error executing process")
		}
		return
	}
	for k, v := range respHeaders {
		w.Header().Set(k, v)
	}
	_ = j
	writeJSON(w, status, info)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	f := jobrepo.Filter{}
	if s := r.URL.Query().Get("status"); s != "" {
		f.Status = []job.StatusCode{job.StatusCode(s)}
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		f.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		f.Offset = offset
	}

	jobs, err := s.jobs.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error listing jobs")
		return
	}
	infos := make([]ogc.StatusInfo, 0, len(jobs))
	for _, j := range jobs {
		infos = append(infos, j.StatusInfo)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  infos,
		"links": []ogc.Link{{Href: Version + "/jobs", Rel: "self", Type: "application/json"}},
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.lookupJob(w, r)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, j.StatusInfo)
}

func (s *Server) getJobResults(w http.ResponseWriter, r *http.Request) {
	j, err := s.lookupJob(w, r)
	if err != nil {
		return
	}
	if j.StatusCode != job.StatusSuccessful {
		writeError(w, http.StatusConflict, "job has not completed successfully")
		return
	}
	if link, ok := j.StatusInfo.LinkByRel("results"); ok && link.Href != "" {
		http.Redirect(w, r, link.Href, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobID": j.ID, "status": j.StatusCode})
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*job.Job, error) {
	id := chi.URLParam(r, "id")
	j, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobmanager.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return nil, err
		}
		writeError(w, http.StatusInternalServerError, "internal error fetching job")
		return nil, err
	}
	return j, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
