package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/teranos/reel/gateway"
	"github.com/teranos/reel/housekeeping"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/pipeline"
	"github.com/teranos/reel/version"
)

// handlePipeline serves create and status routes through the gateway
func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	env, err := gateway.FromHTTP(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()

	ctx = logger.WithRequestID(ctx, r.Header.Get("X-Request-ID"))
	s.gateway.Handle(ctx, env).Write(w)
}

// JobList is the /api/jobs response
type JobList struct {
	Jobs   []*job.Job `json:"jobs"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := job.Filter{
		Status: job.Status(q.Get("status")),
		UserID: q.Get("user_id"),
		Kind:   job.Kind(q.Get("kind")),
	}
	if f.Status != "" && !job.IsValidStatus(string(f.Status)) {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown status "+string(f.Status))
		return
	}
	if f.Kind != "" && !job.IsValidKind(string(f.Kind)) {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown kind "+string(f.Kind))
		return
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit"), job.DefaultListLimit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
		return
	}
	if f.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "offset must be a non-negative integer")
		return
	}

	jobs, err := s.store.List(r.Context(), f)
	if err != nil {
		s.logger.Errorw("List jobs failed", logger.FieldError, err.Error())
		writeErr(w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, JobList{Jobs: jobs, Limit: f.Limit, Offset: f.Offset})
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// Health is the /health response
type Health struct {
	Status       string                `json:"status"`
	Version      string                `json:"version"`
	Commit       string                `json:"commit"`
	Release      bool                  `json:"release"`
	Jobs         housekeeping.Snapshot `json:"jobs"`
	Runner       pipeline.Stats        `json:"runner"`
	Housekeeping *housekeeping.Status  `json:"housekeeping,omitempty"`
	Subscribers  int                   `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	runner := s.pipeline.Runner()
	info := version.Get()

	h := Health{
		Status:      "ok",
		Version:     info.Version,
		Commit:      info.CommitHash,
		Release:     version.IsRelease(),
		Runner:      runner.Stats(),
		Subscribers: s.hub.ClientCount(),
	}
	if s.housekeeping != nil {
		st := s.housekeeping.Status()
		h.Housekeeping = &st
	}

	snap, err := housekeeping.Sample(r.Context(), s.store, func() int { return runner.Stats().InFlight })
	if err != nil {
		h.Status = "degraded"
		s.logger.Warnw("Health check could not count jobs", logger.FieldError, err.Error())
		writeJSON(w, http.StatusServiceUnavailable, h)
		return
	}
	h.Jobs = snap
	writeJSON(w, http.StatusOK, h)
}
