package pipeline

import (
	"fmt"
	"net/url"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/provider"
)

// InvalidInputError is missing or invalid caller input. No job row exists.
type InvalidInputError struct {
	Err error
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Err.Error()
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// SubmissionError means the provider rejected the task or could not be
// reached. No job row exists.
type SubmissionError struct {
	Provider   string
	StatusCode int // 0 for transport errors
	Code       string
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("submission to %s failed: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("submission to %s rejected (%d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func newSubmissionError(providerName string, err error) *SubmissionError {
	se := &SubmissionError{Provider: providerName, Message: err.Error(), Err: err}
	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) {
		se.StatusCode = statusErr.StatusCode
		se.Code = statusErr.Code
		se.Message = statusErr.Message
	}
	return se
}

// TransientPollError is a network or 5xx failure on one status query.
// The poller retries it; it never reaches the job row.
type TransientPollError struct {
	TaskID  string
	Attempt int
	Err     error
}

func (e *TransientPollError) Error() string {
	return fmt.Sprintf("poll attempt %d for task %s: %v", e.Attempt, e.TaskID, e.Err)
}

func (e *TransientPollError) Unwrap() error { return e.Err }

// Materialization stages
const (
	StageDownload = "download"
	StageUpload   = "upload"
)

// MaterializationError is a download or upload failure. It is recorded on
// the job as its error message.
type MaterializationError struct {
	Stage      string
	StatusCode int // download only; 0 for transport errors
	Err        error
}

// Error never includes the source URL: it ends up on the job row.
func (e *MaterializationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed with status %d", e.Stage, e.StatusCode)
	}
	cause := e.Err
	var ue *url.Error
	if errors.As(cause, &ue) {
		cause = ue.Err
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, cause)
}

func (e *MaterializationError) Unwrap() error { return e.Err }
