package pipeline

import (
	"context"
	"time"

	"github.com/teranos/reel/am"
)

// Policy is the single retry and timeout policy of the pipeline
type Policy struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxAttempts  int

	DownloadTimeout  time.Duration // per attempt
	DownloadAttempts int
	DownloadBackoff  time.Duration // linear: attempt * backoff
	MaxDownloadBytes int64

	UploadTimeout time.Duration
}

// DefaultPolicy waits 10s, then polls every 10s up to 60 times
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay:     10 * time.Second,
		Interval:         10 * time.Second,
		MaxAttempts:      60,
		DownloadTimeout:  60 * time.Second,
		DownloadAttempts: 3,
		DownloadBackoff:  2 * time.Second,
		MaxDownloadBytes: 512 << 20,
		UploadTimeout:    120 * time.Second,
	}
}

// PolicyFromConfig builds the policy from the pipeline config section
func PolicyFromConfig(cfg *am.Config) Policy {
	p := cfg.Pipeline
	return Policy{
		InitialDelay:     cfg.PollInitialDelay(),
		Interval:         cfg.PollInterval(),
		MaxAttempts:      p.Poll.MaxAttempts,
		DownloadTimeout:  time.Duration(p.Download.TimeoutSeconds) * time.Second,
		DownloadAttempts: p.Download.Attempts,
		DownloadBackoff:  time.Duration(p.Download.BackoffSeconds) * time.Second,
		MaxDownloadBytes: p.Download.MaxBytes,
		UploadTimeout:    time.Duration(p.Upload.TimeoutSeconds) * time.Second,
	}
}

// SingleAttempt is the policy of an on-demand refresh: one query, no wait
func (p Policy) SingleAttempt() Policy {
	p.InitialDelay = 0
	p.MaxAttempts = 1
	return p
}

// MaxPollDuration bounds the wall-clock time of one poll
func (p Policy) MaxPollDuration() time.Duration {
	return p.InitialDelay + time.Duration(p.MaxAttempts)*p.Interval
}

// SleepFunc suspends for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
