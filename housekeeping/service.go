// Package housekeeping runs periodic maintenance tasks: resuming stale
// processing jobs and reporting job and host statistics.
package housekeeping

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/sym"
)

// Task is one periodic maintenance task
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// TaskStatus describes the last run of a task
type TaskStatus struct {
	Name      string    `json:"name"`
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Status is a snapshot of the service
type Status struct {
	Running   bool          `json:"running"`
	Interval  time.Duration `json:"interval"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Ticks     int64         `json:"ticks"`
	Tasks     []TaskStatus  `json:"tasks"`
}

// Service runs its tasks on every tick. Construct it once at startup and
// inject it where needed.
type Service struct {
	interval time.Duration
	tasks    []Task
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	ticks     int64
	status    map[string]*TaskStatus
}

// NewService creates a stopped service
func NewService(interval time.Duration, log *zap.SugaredLogger, tasks ...Task) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	status := make(map[string]*TaskStatus, len(tasks))
	for _, t := range tasks {
		status[t.Name()] = &TaskStatus{Name: t.Name()}
	}
	return &Service{
		interval: interval,
		tasks:    tasks,
		logger:   logger.AddSymbol(log.Named("housekeeping"), sym.Housekeeping),
		status:   status,
	}
}

// Start runs every task once, then on every interval. Starting a running
// service is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.startedAt = time.Now()
	done := s.done
	s.mu.Unlock()

	go s.run(ctx, done)
	s.logger.Infow("Housekeeping started", "interval", s.interval, logger.FieldCount, len(s.tasks))
}

// Stop halts the loop and waits for the current tick to finish
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Infow("Housekeeping stopped")
}

// Status returns a snapshot
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:   s.running,
		Interval:  s.interval,
		StartedAt: s.startedAt,
		Ticks:     s.ticks,
		Tasks:     make([]TaskStatus, 0, len(s.status)),
	}
	for _, ts := range s.status {
		st.Tasks = append(st.Tasks, *ts)
	}
	sort.Slice(st.Tasks, func(i, j int) bool { return st.Tasks[i].Name < st.Tasks[j].Name })
	return st
}

// RunOnce runs every task once, synchronously
func (s *Service) RunOnce(ctx context.Context) {
	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()

	for _, t := range s.tasks {
		if ctx.Err() != nil {
			return
		}
		err := t.Run(ctx)

		s.mu.Lock()
		ts := s.status[t.Name()]
		ts.Runs++
		ts.LastRunAt = time.Now()
		ts.LastError = ""
		if err != nil {
			ts.Failures++
			ts.LastError = err.Error()
		}
		s.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			s.logger.Warnw("Housekeeping task failed", "task", t.Name(), logger.FieldError, err.Error())
		}
	}
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
