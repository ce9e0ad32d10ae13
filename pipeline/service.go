package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/provider"
	"github.com/teranos/reel/sym"
)

// Service is the pipeline's entry point for the HTTP surface, the gateway
// and the CLI.
type Service struct {
	submitter *Submitter
	runner    *Runner
	store     *job.Store
	providers *provider.Registry
	policy    Policy
	logger    *zap.SugaredLogger
}

// NewService wires a submitter and a runner over one store
func NewService(submitter *Submitter, runner *Runner, store *job.Store, providers *provider.Registry, policy Policy, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		submitter: submitter,
		runner:    runner,
		store:     store,
		providers: providers,
		policy:    policy,
		logger:    log,
	}
}

// Store returns the job store
func (s *Service) Store() *job.Store {
	return s.store
}

// Runner returns the runner
func (s *Service) Runner() *Runner {
	return s.runner
}

// Create submits req and launches its pipeline in the background. It
// returns as soon as the job row exists.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*job.Job, error) {
	j, err := s.submitter.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	snapshot := *j
	s.runner.Launch(j)
	return &snapshot, nil
}

// StatusReport is what a status query returns
type StatusReport struct {
	Job         *job.Job       `json:"job"`
	InFlight    bool           `json:"in_flight"`
	Refreshed   bool           `json:"refreshed"`
	RemoteState provider.State `json:"remote_state,omitempty"`
}

// Status reads the job. With refresh on a processing job it queries the
// provider once: if the job is in flight here it only reports the remote
// state, otherwise it claims the job, polls once and materializes on
// success.
func (s *Service) Status(ctx context.Context, id string, refresh bool) (*StatusReport, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	report := &StatusReport{Job: j, InFlight: s.runner.InFlight(id)}
	if !refresh || j.Status.IsTerminal() {
		return report, nil
	}

	if !s.runner.Claim(id) {
		state, err := s.remoteState(ctx, j)
		if err != nil {
			s.logger.Debugw("Remote state unavailable", logger.FieldJobID, id, logger.FieldError, err.Error())
			return report, nil
		}
		report.Refreshed = true
		report.RemoteState = state
		return report, nil
	}
	defer s.runner.Release(id)

	// re-read under the claim; the runner may have just finished it
	j, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	report.Job = j
	if j.Status.IsTerminal() {
		return report, nil
	}

	res, err := s.runner.Process(ctx, j, s.policy.SingleAttempt())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warnw("Refresh did not settle the job", logger.FieldJobID, id, logger.FieldError, err.Error())
	}
	report.Refreshed = true
	report.RemoteState = res.RemoteState

	updated, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	report.Job = updated
	return report, nil
}

func (s *Service) remoteState(ctx context.Context, j *job.Job) (provider.State, error) {
	p, err := s.providers.Get(j.Provider)
	if err != nil {
		return provider.StateUnknown, err
	}
	status, err := p.Status(ctx, j.ExternalTaskID, j.Model)
	if err != nil {
		return provider.StateUnknown, err
	}
	return status.State, nil
}

// Resume relaunches processing jobs not updated since olderThan and not
// in flight here. It returns how many were launched.
func (s *Service) Resume(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	stale, err := s.store.ListStale(ctx, olderThan, limit)
	if err != nil {
		return 0, errors.Wrap(err, "list stale jobs")
	}

	launched := 0
	for _, j := range stale {
		if s.runner.Launch(j) {
			launched++
		}
	}
	if launched > 0 {
		s.logger.Infow(sym.RunnerOpen+" Resumed stale jobs",
			logger.FieldCount, launched,
			"candidates", len(stale))
	}
	return launched, nil
}
