package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/provider"
	"github.com/teranos/reel/sym"
)

// Outcome is how a poll ended
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomeTimedOut means attempts ran out with the task still in
	// progress. It is not a failure: the job stays processing.
	OutcomeTimedOut Outcome = "timed_out"
)

// PollResult is the result of one poll
type PollResult struct {
	Outcome     Outcome
	ResultURL   string // normalized, set on success
	Message     string // set on failure
	Attempts    int    // status queries issued
	RemoteState provider.State
}

// Poller queries a provider until its task is terminal or attempts run
// out. It holds no per-poll state, so one Poller serves every job.
type Poller struct {
	sleep  SleepFunc
	logger *zap.SugaredLogger
}

// NewPoller creates a poller. A nil sleep uses Sleep.
func NewPoller(sleep SleepFunc, log *zap.SugaredLogger) *Poller {
	if sleep == nil {
		sleep = Sleep
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Poller{sleep: sleep, logger: logger.AddSymbol(log, sym.Poll)}
}

// Poll waits the initial delay, then queries the task up to MaxAttempts
// times. It returns an error only when ctx ends first.
func (p *Poller) Poll(ctx context.Context, prov provider.Provider, taskID, model string, policy Policy) (PollResult, error) {
	result := PollResult{RemoteState: provider.StateUnknown}
	start := time.Now()
	log := logger.FromContext(ctx, p.logger)

	if err := p.sleep(ctx, policy.InitialDelay); err != nil {
		return result, err
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, policy.Interval); err != nil {
				return result, err
			}
		}

		result.Attempts = attempt
		status, err := prov.Status(ctx, taskID, model)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			if provider.IsNotFound(err) {
				result.Outcome = OutcomeFailed
				result.Message = "provider task " + taskID + " not found"
				return result, nil
			}
			tpe := &TransientPollError{TaskID: taskID, Attempt: attempt, Err: err}
			log.Warnw("Status query failed, retrying",
				logger.FieldTaskID, taskID,
				logger.FieldAttempt, attempt,
				logger.FieldError, tpe.Error())
			continue
		}

		result.RemoteState = status.State
		switch status.State {
		case provider.StateSucceeded:
			if status.ResultRef == "" {
				result.Outcome = OutcomeFailed
				result.Message = "provider reported success without a result"
				return result, nil
			}
			u, ok := CleanResultRef(status.ResultRef)
			if !ok {
				result.Outcome = OutcomeFailed
				result.Message = "provider returned a malformed result reference"
				return result, nil
			}
			result.Outcome = OutcomeSucceeded
			result.ResultURL = u
			log.Infow("Task succeeded",
				logger.FieldTaskID, taskID,
				logger.FieldAttempt, attempt,
				logger.FieldDurationMS, time.Since(start).Milliseconds())
			return result, nil

		case provider.StateFailed:
			result.Outcome = OutcomeFailed
			result.Message = failureMessage(status)
			log.Infow("Task failed remotely",
				logger.FieldTaskID, taskID,
				logger.FieldErrorCode, status.Code,
				logger.FieldError, result.Message)
			return result, nil
		}

		log.Debugw("Task in progress",
			logger.FieldTaskID, taskID,
			logger.FieldAttempt, attempt,
			logger.FieldState, status.State)
	}

	result.Outcome = OutcomeTimedOut
	log.Warnw("Polling exhausted, task still in progress",
		logger.FieldTaskID, taskID,
		logger.FieldAttempt, result.Attempts,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return result, nil
}

func failureMessage(status provider.TaskStatus) string {
	switch {
	case status.Message != "" && status.Code != "":
		return status.Code + ": " + status.Message
	case status.Message != "":
		return status.Message
	case status.Code != "":
		return status.Code
	}
	return "generation failed"
}
