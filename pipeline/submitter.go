package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/provider"
	"github.com/teranos/reel/sym"
)

// CreateRequest is a caller's request for one generated artifact
type CreateRequest struct {
	Provider string   `json:"provider,omitempty"` // empty = default provider
	Kind     job.Kind `json:"kind"`
	Model    string   `json:"model,omitempty"`
	UserID   string   `json:"user_id,omitempty"`
	Prompt   string   `json:"prompt,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Template string   `json:"template,omitempty"`
	Size     string   `json:"size,omitempty"`
	Duration int      `json:"duration,omitempty"`
}

func (r CreateRequest) providerRequest() provider.Request {
	return provider.Request{
		Kind:     r.Kind,
		Model:    strings.TrimSpace(r.Model),
		Prompt:   r.Prompt,
		ImageURL: strings.TrimSpace(r.ImageURL),
		Template: strings.TrimSpace(r.Template),
		Size:     strings.TrimSpace(r.Size),
		Duration: r.Duration,
	}
}

// Submitter enqueues tasks with a provider and records the job
type Submitter struct {
	providers       *provider.Registry
	defaultProvider string
	store           *job.Store
	logger          *zap.SugaredLogger
}

// NewSubmitter creates a submitter
func NewSubmitter(providers *provider.Registry, defaultProvider string, store *job.Store, log *zap.SugaredLogger) *Submitter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Submitter{
		providers:       providers,
		defaultProvider: defaultProvider,
		store:           store,
		logger:          logger.AddSymbol(log, sym.Submit),
	}
}

// Submit validates req, issues one enqueue call and persists exactly one
// processing job on acceptance. Invalid input yields *InvalidInputError,
// a rejected or failed call *SubmissionError; neither creates a row.
func (s *Submitter) Submit(ctx context.Context, req CreateRequest) (*job.Job, error) {
	name := strings.TrimSpace(req.Provider)
	if name == "" {
		name = s.defaultProvider
	}
	p, err := s.providers.Get(name)
	if err != nil {
		return nil, &InvalidInputError{Err: err}
	}

	preq := req.providerRequest()
	if err := preq.Validate(); err != nil {
		return nil, &InvalidInputError{Err: err}
	}

	sub, err := p.Submit(ctx, preq)
	if err != nil {
		if errors.IsInvalidRequestError(err) {
			return nil, &InvalidInputError{Err: err}
		}
		se := newSubmissionError(name, err)
		s.logger.Warnw("Submission rejected",
			logger.FieldProvider, name,
			logger.FieldKind, req.Kind,
			logger.FieldStatus, se.StatusCode,
			logger.FieldErrorCode, se.Code,
			logger.FieldError, se.Message)
		return nil, se
	}

	model := sub.Model
	if model == "" {
		model = preq.Model
	}
	j, err := job.New(sub.TaskID, job.Input{
		Kind:     req.Kind,
		Provider: name,
		Model:    model,
		UserID:   strings.TrimSpace(req.UserID),
		Prompt:   strings.TrimSpace(req.Prompt),
		ImageURL: preq.ImageURL,
		Template: preq.Template,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "task %s accepted but job could not be built", sub.TaskID)
	}

	if err := s.store.Create(ctx, j); err != nil {
		s.logger.Errorw("Task accepted but job not persisted",
			logger.FieldTaskID, sub.TaskID,
			logger.FieldProvider, name,
			logger.FieldError, err.Error())
		return nil, errors.Wrapf(err, "persist job for task %s", sub.TaskID)
	}

	s.logger.Infow("Job submitted",
		logger.FieldJobID, j.ID,
		logger.FieldTaskID, j.ExternalTaskID,
		logger.FieldProvider, name,
		logger.FieldModel, model,
		logger.FieldKind, j.Kind)
	return j, nil
}
