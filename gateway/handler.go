package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/pipeline"
)

// Pipeline is what the handler needs from the pipeline service
type Pipeline interface {
	Create(ctx context.Context, req pipeline.CreateRequest) (*job.Job, error)
	Status(ctx context.Context, id string, refresh bool) (*pipeline.StatusReport, error)
}

// Handler routes create and status envelopes to the pipeline
type Handler struct {
	pipeline Pipeline
	logger   *zap.SugaredLogger
}

// NewHandler creates a handler
func NewHandler(p Pipeline, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{pipeline: p, logger: log.Named("gateway")}
}

// Routes handled by Handle, per kind
const (
	routeCreate = "create"
	routeStatus = "status"
)

// Match reports whether path is a create or status route:
// /api/{video|image}/{create|status}
func Match(path string) (job.Kind, string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "api" {
		return "", "", false
	}
	kind := job.Kind(parts[1])
	if !job.IsValidKind(string(kind)) {
		return "", "", false
	}
	if parts[2] != routeCreate && parts[2] != routeStatus {
		return "", "", false
	}
	return kind, parts[2], true
}

// Handle processes one envelope
func (h *Handler) Handle(ctx context.Context, env Envelope) Response {
	kind, route, ok := Match(env.Path)
	if !ok {
		return ErrorResponse(http.StatusNotFound, "not_found", "no route for "+env.Path)
	}

	switch {
	case route == routeCreate && env.Method == http.MethodPost:
		return h.create(ctx, kind, env)
	case route == routeStatus && (env.Method == http.MethodGet || env.Method == http.MethodPost):
		return h.status(ctx, kind, env)
	}
	return ErrorResponse(http.StatusMethodNotAllowed, "method_not_allowed", env.Method+" not allowed on "+env.Path)
}

// createBody is the create request payload
type createBody struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	UserID   string `json:"user_id"`
	Prompt   string `json:"prompt"`
	ImageURL string `json:"image_url"`
	ImgURL   string `json:"img_url"`
	Template string `json:"template"`
	Size     string `json:"size"`
	Duration int    `json:"duration"`
}

// CreateResponse is returned by create routes
type CreateResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

func (h *Handler) create(ctx context.Context, kind job.Kind, env Envelope) Response {
	var body createBody
	if len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return ErrorResponse(http.StatusBadRequest, "invalid_input", "request body must be a JSON object")
		}
	}

	userID := body.UserID
	if userID == "" {
		userID = env.Header("X-User-ID")
	}
	imageURL := body.ImageURL
	if imageURL == "" {
		imageURL = body.ImgURL
	}

	j, err := h.pipeline.Create(ctx, pipeline.CreateRequest{
		Provider: body.Provider,
		Kind:     kind,
		Model:    body.Model,
		UserID:   userID,
		Prompt:   body.Prompt,
		ImageURL: imageURL,
		Template: body.Template,
		Size:     body.Size,
		Duration: body.Duration,
	})
	if err != nil {
		return h.fromError(ctx, err, kind)
	}
	return jsonResponse(http.StatusOK, CreateResponse{JobID: j.ID, Status: j.Status})
}

// StatusResponse is returned by status routes
type StatusResponse struct {
	JobID        string     `json:"job_id"`
	Kind         job.Kind   `json:"kind"`
	Status       job.Status `json:"status"`
	ResultURL    *string    `json:"result_url"`
	ErrorMessage *string    `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DurationMS   int64      `json:"duration_ms,omitempty"`
	InFlight     bool       `json:"in_flight"`
	RemoteState  string     `json:"remote_state,omitempty"`
}

// NewStatusResponse renders a status report
func NewStatusResponse(report *pipeline.StatusReport) StatusResponse {
	j := report.Job
	resp := StatusResponse{
		JobID:       j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		DurationMS:  j.DurationMS,
		InFlight:    report.InFlight,
		RemoteState: string(report.RemoteState),
	}
	if j.ResultURL != "" {
		u := j.ResultURL
		resp.ResultURL = &u
	}
	if j.ErrorMessage != "" {
		m := j.ErrorMessage
		resp.ErrorMessage = &m
	}
	return resp
}

type statusBody struct {
	JobID   string `json:"job_id"`
	Refresh bool   `json:"refresh"`
}

func (h *Handler) status(ctx context.Context, kind job.Kind, env Envelope) Response {
	var body statusBody
	if env.Method == http.MethodPost && len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return ErrorResponse(http.StatusBadRequest, "invalid_input", "request body must be a JSON object")
		}
	}
	if body.JobID == "" {
		body.JobID = env.Query["job_id"]
	}
	if q, ok := env.Query["refresh"]; ok && !body.Refresh {
		body.Refresh, _ = strconv.ParseBool(q)
	}
	if strings.TrimSpace(body.JobID) == "" {
		return ErrorResponse(http.StatusBadRequest, "invalid_input", "job_id is required")
	}

	report, err := h.pipeline.Status(ctx, body.JobID, body.Refresh)
	if err != nil {
		return h.fromError(ctx, err, kind)
	}
	if report.Job.Kind != kind {
		return ErrorResponse(http.StatusNotFound, "not_found", "no "+string(kind)+" job "+body.JobID)
	}
	return jsonResponse(http.StatusOK, NewStatusResponse(report))
}

// ErrorBody is the JSON error payload
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ErrorResponse renders an error payload
func ErrorResponse(status int, code, msg string) Response {
	return jsonResponse(status, ErrorBody{Error: msg, Code: code})
}

func (h *Handler) fromError(ctx context.Context, err error, kind job.Kind) Response {
	status, code, msg := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(ctx, h.logger).Errorw("Request failed", logger.FieldKind, kind, logger.FieldError, err.Error())
	}
	return ErrorResponse(status, code, msg)
}

// StatusFor maps a pipeline error to an HTTP status, an error code and a
// caller-facing message.
func StatusFor(err error) (int, string, string) {
	var invalid *pipeline.InvalidInputError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, "invalid_input", invalid.Error()
	}

	var se *pipeline.SubmissionError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusBadRequest:
			return http.StatusBadRequest, "provider_rejected", se.Error()
		case http.StatusUnauthorized, http.StatusForbidden:
			return http.StatusUnauthorized, "provider_unauthorized", se.Error()
		case http.StatusTooManyRequests:
			return http.StatusTooManyRequests, "provider_rate_limited", se.Error()
		}
		return http.StatusBadGateway, "provider_error", se.Error()
	}

	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound, "not_found", "job not found"
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest, "invalid_input", err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "request timed out"
	}
	return http.StatusInternalServerError, "internal", "internal error"
}
