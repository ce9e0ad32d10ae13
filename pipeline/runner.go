package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/teranos/reel/db"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/provider"
	"github.com/teranos/reel/sym"
)

// Runner owns the poll+materialize goroutines of this process. A job id
// is mutated only by whoever holds its claim.
type Runner struct {
	providers    *provider.Registry
	poller       *Poller
	materializer *Materializer
	store        *job.Store
	policy       Policy
	sem          *semaphore.Weighted
	workers      int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]time.Time
	stopped  bool

	logger *zap.SugaredLogger
}

// NewRunnerWithContext creates a runner whose goroutines end with ctx.
// workers bounds concurrent status queries and materializations; waits
// between polls hold no worker slot.
func NewRunnerWithContext(ctx context.Context, providers *provider.Registry, poller *Poller, materializer *Materializer, store *job.Store, policy Policy, workers int, log *zap.SugaredLogger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	runCtx, cancel := context.WithCancel(ctx)
	return &Runner{
		providers:    providers,
		poller:       poller,
		materializer: materializer,
		store:        store,
		policy:       policy,
		sem:          semaphore.NewWeighted(int64(workers)),
		workers:      workers,
		ctx:          runCtx,
		cancel:       cancel,
		inflight:     make(map[string]time.Time),
		logger:       logger.AddRunnerSymbol(log),
	}
}

// Claim takes ownership of a job id. It fails if the id is already in
// flight or the runner is stopped.
func (r *Runner) Claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	if _, busy := r.inflight[id]; busy {
		return false
	}
	r.inflight[id] = time.Now()
	return true
}

// Release gives up ownership of a job id
func (r *Runner) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}

// InFlight reports whether a job id is claimed in this process
func (r *Runner) InFlight(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[id]
	return ok
}

// Stats is a snapshot of runner load
type Stats struct {
	InFlight int  `json:"in_flight"`
	Workers  int  `json:"workers"`
	Stopped  bool `json:"stopped"`
}

// Stats returns the current runner load
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{InFlight: len(r.inflight), Workers: r.workers, Stopped: r.stopped}
}

// Launch claims j and processes it in its own goroutine with the full
// policy. It returns false if j is terminal, already in flight, or the
// runner is stopped.
func (r *Runner) Launch(j *job.Job) bool {
	if j.Status.IsTerminal() {
		return false
	}
	r.mu.Lock()
	if _, busy := r.inflight[j.ID]; busy || r.stopped {
		r.mu.Unlock()
		return false
	}
	r.inflight[j.ID] = time.Now()
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.Release(j.ID)

		_, err := r.Process(r.ctx, j, r.policy)
		switch {
		case err == nil:
		case r.ctx.Err() != nil || db.IsDatabaseClosed(err):
			// shutdown; the job stays processing and is resumed later
			r.logger.Debugw("Pipeline run interrupted", logger.FieldJobID, j.ID, logger.FieldError, err.Error())
		default:
			r.logger.Errorw("Pipeline run ended with error",
				logger.FieldJobID, j.ID,
				logger.FieldTaskID, j.ExternalTaskID,
				logger.FieldError, err.Error())
		}
	}()
	return true
}

// Process polls j's task under policy and materializes or fails it. The
// caller must hold j's claim. A timed-out poll leaves j processing and
// only records the attempts.
func (r *Runner) Process(ctx context.Context, j *job.Job, policy Policy) (PollResult, error) {
	prov, err := r.providers.Get(j.Provider)
	if err != nil {
		return PollResult{}, errors.Wrapf(err, "job %s", j.ID)
	}
	ctx = logger.WithJobID(ctx, j.ID)

	res, err := r.poller.Poll(ctx, &gatedProvider{Provider: prov, sem: r.sem}, j.ExternalTaskID, j.Model, policy)
	if err != nil {
		return res, err
	}
	j.RecordPollAttempts(res.Attempts)

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return res, err
	}
	defer r.sem.Release(1)

	switch res.Outcome {
	case OutcomeSucceeded:
		return res, r.materializer.Materialize(ctx, j, res.ResultURL)
	case OutcomeFailed:
		return res, r.materializer.Fail(ctx, j, res.Message)
	default:
		if err := r.store.Update(ctx, j); err != nil {
			return res, errors.Wrapf(err, "record poll attempts for job %s", j.ID)
		}
		return res, nil
	}
}

// Stop stops polling and waits for in-flight goroutines. Remote work is
// not cancelled; interrupted jobs stay processing.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	n := len(r.inflight)
	r.mu.Unlock()

	r.logger.Infow(sym.RunnerClose+" Stopping runner", logger.FieldCount, n)
	r.cancel()
	r.wg.Wait()
}

// Wait blocks until every launched job has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

// gatedProvider takes a worker slot for each status query only, so a
// poll sleeping between attempts does not hold up other jobs.
type gatedProvider struct {
	provider.Provider
	sem *semaphore.Weighted
}

func (g *gatedProvider) Status(ctx context.Context, taskID, model string) (provider.TaskStatus, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return provider.TaskStatus{}, err
	}
	defer g.sem.Release(1)
	return g.Provider.Status(ctx, taskID, model)
}
