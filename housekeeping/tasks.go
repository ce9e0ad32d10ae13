package housekeeping

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/logger"
)

// Resumer relaunches stale processing jobs
type Resumer interface {
	Resume(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// ResumeStale relaunches processing jobs not updated for StaleAfter
type ResumeStale struct {
	Resumer    Resumer
	StaleAfter time.Duration
	Batch      int
	Now        func() time.Time
}

// Name implements Task
func (t *ResumeStale) Name() string { return "resume-stale" }

// Run implements Task
func (t *ResumeStale) Run(ctx context.Context) error {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	_, err := t.Resumer.Resume(ctx, now().Add(-t.StaleAfter), t.Batch)
	return err
}

// Counter reports job counts by status
type Counter interface {
	Counts(ctx context.Context) (map[job.Status]int, error)
}

// Snapshot is one stats sample
type Snapshot struct {
	Processing    int     `json:"processing"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	InFlight      int     `json:"in_flight"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Stats samples job counts and host memory, logging when counts change
type Stats struct {
	Counter  Counter
	InFlight func() int
	Logger   *zap.SugaredLogger

	mu   sync.Mutex
	last *Snapshot
}

// Name implements Task
func (t *Stats) Name() string { return "stats" }

// Run implements Task
func (t *Stats) Run(ctx context.Context) error {
	snap, err := Sample(ctx, t.Counter, t.InFlight)
	if err != nil {
		return err
	}

	t.mu.Lock()
	changed := t.last == nil ||
		t.last.Processing != snap.Processing ||
		t.last.Completed != snap.Completed ||
		t.last.Failed != snap.Failed ||
		t.last.InFlight != snap.InFlight
	t.last = &snap
	t.mu.Unlock()

	if changed && t.Logger != nil {
		t.Logger.Infow("Job stats",
			"processing", snap.Processing,
			"completed", snap.Completed,
			"failed", snap.Failed,
			"in_flight", snap.InFlight,
			"memory_percent", snap.MemoryPercent)
	}
	return nil
}

// Sample reads job counts and host memory. Memory is best-effort.
func Sample(ctx context.Context, counter Counter, inFlight func() int) (Snapshot, error) {
	counts, err := counter.Counts(ctx)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "count jobs")
	}
	snap := Snapshot{
		Processing: counts[job.StatusProcessing],
		Completed:  counts[job.StatusCompleted],
		Failed:     counts[job.StatusFailed],
	}
	if inFlight != nil {
		snap.InFlight = inFlight()
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
		const gb = 1024 * 1024 * 1024
		snap.MemoryTotalGB = float64(vm.Total) / gb
		snap.MemoryUsedGB = float64(vm.Total-vm.Available) / gb
		snap.MemoryPercent = vm.UsedPercent
	} else if err != nil {
		logger.Logger.Debugw("Memory stats unavailable", logger.FieldError, err.Error())
	}
	return snap, nil
}
