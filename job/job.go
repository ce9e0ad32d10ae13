// Package job holds the generation job record: its state machine and its
// persistence. A job is created once a provider accepts a task and is
// mutated only by the pipeline instance that owns it.
package job

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/reel/errors"
)

// Status represents the current state of a job
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsValidStatus returns true if s names a job status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind is the media a job produces
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
)

// IsValidKind returns true if s names a job kind
func IsValidKind(s string) bool {
	return Kind(s) == KindVideo || Kind(s) == KindImage
}

// Input is what the caller asked for
type Input struct {
	Kind     Kind   `json:"kind"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	UserID   string `json:"user_id,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Template string `json:"template,omitempty"`
}

// Job is one request for externally generated media, tracked from
// submission to a terminal state.
type Job struct {
	ID             string `json:"id"`
	ExternalTaskID string `json:"external_task_id"`
	Input

	Status       Status `json:"status"`
	ResultURL    string `json:"result_url,omitempty"`    // set only when completed
	ErrorMessage string `json:"error_message,omitempty"` // set only when failed
	StoragePath  string `json:"storage_path,omitempty"`
	PollAttempts int    `json:"poll_attempts"`
	DurationMS   int64  `json:"duration_ms,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a processing job for a task the provider already accepted.
func New(externalTaskID string, in Input) (*Job, error) {
	if strings.TrimSpace(externalTaskID) == "" {
		return nil, errors.New("external task id cannot be empty")
	}
	if !IsValidKind(string(in.Kind)) {
		return nil, errors.Newf("unknown job kind %q", in.Kind)
	}

	now := time.Now().UTC()
	return &Job{
		ID:             uuid.NewString(),
		ExternalTaskID: externalTaskID,
		Input:          in,
		Status:         StatusProcessing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Complete marks the job as completed with an owned-storage URL
func (j *Job) Complete(resultURL, storagePath string) error {
	if j.Status.IsTerminal() {
		return errors.NewConflictError("job %s is already %s", j.ID, j.Status)
	}
	if !IsWellFormedURL(resultURL) {
		return errors.NewInvalidRequestError("result url %q is not a well-formed http(s) URL", resultURL)
	}

	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.ResultURL = resultURL
	j.StoragePath = storagePath
	j.ErrorMessage = ""
	j.DurationMS = now.Sub(j.CreatedAt).Milliseconds()
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Fail marks the job as failed with a descriptive message
func (j *Job) Fail(message string) error {
	if j.Status.IsTerminal() {
		return errors.NewConflictError("job %s is already %s", j.ID, j.Status)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = "generation failed"
	}

	now := time.Now().UTC()
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.ResultURL = ""
	j.DurationMS = now.Sub(j.CreatedAt).Milliseconds()
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// RecordPollAttempts adds n status queries to the running total
func (j *Job) RecordPollAttempts(n int) {
	j.PollAttempts += n
	j.UpdatedAt = time.Now().UTC()
}

// Duration returns the recorded processing duration
func (j *Job) Duration() time.Duration {
	return time.Duration(j.DurationMS) * time.Millisecond
}

// CheckInvariants verifies the status/result/error relationship
func (j *Job) CheckInvariants() error {
	switch j.Status {
	case StatusProcessing:
		if j.ResultURL != "" || j.ErrorMessage != "" {
			return errors.Newf("processing job %s has result or error set", j.ID)
		}
	case StatusCompleted:
		if !IsWellFormedURL(j.ResultURL) {
			return errors.Newf("completed job %s has malformed result url %q", j.ID, j.ResultURL)
		}
		if j.ErrorMessage != "" {
			return errors.Newf("completed job %s has an error message", j.ID)
		}
	case StatusFailed:
		if j.ErrorMessage == "" {
			return errors.Newf("failed job %s has no error message", j.ID)
		}
		if j.ResultURL != "" {
			return errors.Newf("failed job %s has a result url", j.ID)
		}
	default:
		return errors.Newf("job %s has unknown status %q", j.ID, j.Status)
	}
	return nil
}

// IsWellFormedURL reports whether s is an absolute http(s) URL with a host
// and no whitespace or quoting artifacts.
func IsWellFormedURL(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"'`<>") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
