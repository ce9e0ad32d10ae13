package pipeline

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/provider"
)

func TestPromptOnlyJobCompletesWithCleanURL(t *testing.T) {
	p := &scriptedProvider{}
	f := newFixture(t, p, nil)
	p.steps = []statusStep{running(), running(), succeeded(" `" + f.artifact.URL + "/a.mp4` ")}

	created, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "a cat surfing", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, created.Status)
	assert.Equal(t, "task-1", created.ExternalTaskID)

	f.svc.Runner().Wait()

	got := f.get(t, created.ID)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.True(t, strings.HasPrefix(got.ResultURL, "https://cdn.reel.test/videos/u1/"+created.ID+"-"), got.ResultURL)
	assert.NotContains(t, got.ResultURL, "`")
	assert.NotContains(t, got.ResultURL, " ")
	assert.NotContains(t, got.ResultURL, f.artifact.URL)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 3, got.PollAttempts)
	assert.NotNil(t, got.CompletedAt)
	assert.GreaterOrEqual(t, got.DurationMS, int64(0))
	assert.Equal(t, []byte("fake-mp4-bytes"), f.storage.objects[got.StoragePath])
}

func TestEmptyInputCreatesNoRow(t *testing.T) {
	p := &scriptedProvider{}
	f := newFixture(t, p, nil)

	_, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo})
	require.Error(t, err)

	var invalid *InvalidInputError
	assert.True(t, errors.As(err, &invalid))
	assert.Empty(t, p.submits)

	jobs, err := f.store.List(context.Background(), job.Filter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestUnknownProviderIsInvalidInput(t *testing.T) {
	f := newFixture(t, &scriptedProvider{}, nil)

	_, err := f.svc.Create(context.Background(), CreateRequest{Provider: "nope", Kind: job.KindImage, Prompt: "p"})
	var invalid *InvalidInputError
	assert.True(t, errors.As(err, &invalid))
}

func TestRejectedSubmissionCreatesNoRow(t *testing.T) {
	p := &scriptedProvider{submitErr: &provider.StatusError{Provider: testProvider, StatusCode: 429, Code: "Throttling", Message: "rate limited"}}
	f := newFixture(t, p, nil)

	_, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "p"})
	require.Error(t, err)

	var se *SubmissionError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 429, se.StatusCode)
	assert.Equal(t, "Throttling", se.Code)
	assert.Equal(t, "rate limited", se.Message)

	counts, err := f.store.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts[job.StatusProcessing])
}

func TestTransportFailureIsSubmissionError(t *testing.T) {
	p := &scriptedProvider{submitErr: errors.New("dial tcp: connection refused")}
	f := newFixture(t, p, nil)

	_, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "p"})
	var se *SubmissionError
	require.True(t, errors.As(err, &se))
	assert.Zero(t, se.StatusCode)
}

func TestPollExhaustionLeavesJobProcessing(t *testing.T) {
	p := &scriptedProvider{steps: []statusStep{running()}}
	f := newFixture(t, p, nil)

	created, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "p"})
	require.NoError(t, err)
	f.svc.Runner().Wait()

	got := f.get(t, created.ID)
	assert.Equal(t, job.StatusProcessing, got.Status)
	assert.Equal(t, 60, got.PollAttempts)
	assert.Equal(t, 60, p.calls())

	// initial delay then one interval between each of the 60 attempts
	waits := f.sleeps.recorded()
	require.Len(t, waits, 60)
	assert.Equal(t, 10*time.Second, waits[0])
	for _, w := range waits[1:] {
		assert.Equal(t, 10*time.Second, w)
	}

	// a later poll resolves it
	p.mu.Lock()
	p.steps = []statusStep{succeeded(f.artifact.URL + "/late.mp4")}
	p.statusCalls = 0
	p.mu.Unlock()

	launched, err := f.svc.Resume(context.Background(), time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, launched)
	f.svc.Runner().Wait()

	got = f.get(t, created.ID)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, 61, got.PollAttempts)
}

func TestDownloadFailureFailsJobWithoutProviderURL(t *testing.T) {
	calls := 0
	p := &scriptedProvider{}
	f := newFixture(t, p, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})
	p.steps = []statusStep{succeeded(f.artifact.URL + "/a.mp4")}

	created, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "p"})
	require.NoError(t, err)
	f.svc.Runner().Wait()

	got := f.get(t, created.ID)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Empty(t, got.ResultURL)
	assert.Contains(t, got.ErrorMessage, "download failed with status 502")
	assert.NotContains(t, got.ErrorMessage, f.artifact.URL)
	assert.Equal(t, 3, calls)
	assert.Empty(t, f.storage.uploads)

	// linear backoff between download attempts, after the poll's initial delay
	waits := f.sleeps.recorded()
	assert.Equal(t, []time.Duration{10 * time.Second, 2 * time.Second, 4 * time.Second}, waits)
}

func TestDownload4xxIsNotRetried(t *testing.T) {
	calls := 0
	p := &scriptedProvider{}
	f := newFixture(t, p, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	})
	p.steps = []statusStep{succeeded(f.artifact.URL + "/expired.mp4")}

	created, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "p"})
	require.NoError(t, err)
	f.svc.Runner().Wait()

	got := f.get(t, created.ID)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, 1, calls)
}

func TestOversizedArtifactFails(t *testing.T) {
	p := &scriptedProvider{}
	f := newFixture(t, p, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2<<20))
	})
	p.steps = []statusStep{succeeded(f.artifact.URL + "/big.mp4")}

	created, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "p"})
	require.NoError(t, err)
	f.svc.Runner().Wait()

	got := f.get(t, created.ID)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "exceeds")
}

func TestUploadRetriesOnceWithNewPath(t *testing.T) {
	p := &scriptedProvider{}
	f := newFixture(t, p, nil)
	f.storage.failUploads = 1
	p.steps = []statusStep{succeeded(f.artifact.URL + "/a.mp4")}

	created, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "p"})
	require.NoError(t, err)
	f.svc.Runner().Wait()

	got := f.get(t, created.ID)
	assert.Equal(t, job.StatusCompleted, got.Status)
	require.Len(t, f.storage.uploads, 2)
	assert.NotEqual(t, f.storage.uploads[0], f.storage.uploads[1])
	assert.Equal(t, f.storage.uploads[1], got.StoragePath)
	assert.Equal(t, []string{f.storage.uploads[0]}, f.storage.removed)
}

func TestDoubleUploadFailureFailsJob(t *testing.T) {
	p := &scriptedProvider{}
	f := newFixture(t, p, nil)
	f.storage.failUploads = 5
	p.steps = []statusStep{succeeded(f.artifact.URL + "/a.mp4")}

	created, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "p"})
	require.NoError(t, err)
	f.svc.Runner().Wait()

	got := f.get(t, created.ID)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Empty(t, got.ResultURL)
	assert.Contains(t, got.ErrorMessage, "upload failed")
	assert.Len(t, f.storage.uploads, 2)
	assert.NotEqual(t, f.storage.uploads[0], f.storage.uploads[1])
}

func TestRemoteFailureFailsJob(t *testing.T) {
	p := &scriptedProvider{steps: []statusStep{
		running(),
		{status: provider.TaskStatus{State: provider.StateFailed, Code: "DataInspectionFailed", Message: "input rejected"}},
	}}
	f := newFixture(t, p, nil)

	created, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "p"})
	require.NoError(t, err)
	f.svc.Runner().Wait()

	got := f.get(t, created.ID)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, "DataInspectionFailed: input rejected", got.ErrorMessage)
	assert.Equal(t, 2, got.PollAttempts)
}

func TestMalformedResultRefFailsJob(t *testing.T) {
	p := &scriptedProvider{steps: []statusStep{succeeded("not a url")}}
	f := newFixture(t, p, nil)

	created, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "p"})
	require.NoError(t, err)
	f.svc.Runner().Wait()

	got := f.get(t, created.ID)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Empty(t, f.storage.uploads)
}

func TestTransientPollErrorsAreRetried(t *testing.T) {
	p := &scriptedProvider{}
	f := newFixture(t, p, nil)
	p.steps = []statusStep{
		{err: &provider.StatusError{Provider: testProvider, StatusCode: 503, Message: "busy"}},
		{err: errors.New("connection reset by peer")},
		succeeded(f.artifact.URL + "/a.mp4"),
	}

	created, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "p"})
	require.NoError(t, err)
	f.svc.Runner().Wait()

	got := f.get(t, created.ID)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.PollAttempts)
}

func TestRemoteNotFoundFailsJob(t *testing.T) {
	p := &scriptedProvider{steps: []statusStep{
		{err: &provider.StatusError{Provider: testProvider, StatusCode: 404, Message: "no such task"}},
	}}
	f := newFixture(t, p, nil)

	created, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "p"})
	require.NoError(t, err)
	f.svc.Runner().Wait()

	got := f.get(t, created.ID)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "not found")
}

func TestTerminalStatusIsIdempotent(t *testing.T) {
	p := &scriptedProvider{}
	f := newFixture(t, p, nil)
	p.steps = []statusStep{succeeded(f.artifact.URL + "/a.mp4")}

	created, err := f.svc.Create(context.Background(), CreateRequest{Kind: job.KindVideo, Prompt: "p"})
	require.NoError(t, err)
	f.svc.Runner().Wait()
	callsAfterRun := p.calls()

	first, err := f.svc.Status(context.Background(), created.ID, true)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := f.svc.Status(context.Background(), created.ID, true)
		require.NoError(t, err)
		assert.Equal(t, first.Job.Status, again.Job.Status)
		assert.Equal(t, first.Job.ResultURL, again.Job.ResultURL)
		assert.False(t, again.Refreshed)
	}
	assert.Equal(t, callsAfterRun, p.calls())
}

func TestRefreshClaimsAndResolvesIdleJob(t *testing.T) {
	p := &scriptedProvider{}
	f := newFixture(t, p, nil)
	p.steps = []statusStep{succeeded(f.artifact.URL + "/a.mp4")}
	j := f.insertJob(t, "task-idle")

	report, err := f.svc.Status(context.Background(), j.ID, true)
	require.NoError(t, err)
	assert.True(t, report.Refreshed)
	assert.Equal(t, provider.StateSucceeded, report.RemoteState)
	assert.Equal(t, job.StatusCompleted, report.Job.Status)
	assert.Equal(t, 1, p.calls())

	// single attempt, no initial delay
	assert.Equal(t, []time.Duration{0}, f.sleeps.recorded())
	assert.False(t, f.svc.Runner().InFlight(j.ID))
}

func TestRefreshOfInFlightJobOnlyReportsRemoteState(t *testing.T) {
	p := &scriptedProvider{steps: []statusStep{running()}}
	f := newFixture(t, p, nil)
	j := f.insertJob(t, "task-busy")

	require.True(t, f.svc.Runner().Claim(j.ID))
	defer f.svc.Runner().Release(j.ID)

	report, err := f.svc.Status(context.Background(), j.ID, true)
	require.NoError(t, err)
	assert.True(t, report.InFlight)
	assert.Equal(t, provider.StateRunning, report.RemoteState)
	assert.Equal(t, job.StatusProcessing, report.Job.Status)

	// the claimant's row is untouched
	got := f.get(t, j.ID)
	assert.Zero(t, got.PollAttempts)
}

func TestRefreshWithoutFlagDoesNotCallProvider(t *testing.T) {
	p := &scriptedProvider{}
	f := newFixture(t, p, nil)
	j := f.insertJob(t, "task-read")

	report, err := f.svc.Status(context.Background(), j.ID, false)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, report.Job.Status)
	assert.Zero(t, p.calls())
}

func TestStatusUnknownJob(t *testing.T) {
	f := newFixture(t, &scriptedProvider{}, nil)
	_, err := f.svc.Status(context.Background(), "missing", false)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestLaunchIsSingleWriter(t *testing.T) {
	p := &scriptedProvider{steps: []statusStep{running()}}
	f := newFixture(t, p, nil)
	j := f.insertJob(t, "task-once")

	runner := f.svc.Runner()
	require.True(t, runner.Claim(j.ID))
	assert.False(t, runner.Launch(j), "claimed job must not be launched again")
	runner.Release(j.ID)
}

func TestStopLeavesJobsProcessing(t *testing.T) {
	p := &scriptedProvider{steps: []statusStep{running()}}
	f := newFixture(t, p, nil)
	j := f.insertJob(t, "task-stop")

	// block in the initial delay until Stop cancels the context
	f.svc.runner.poller.sleep = Sleep
	require.True(t, f.svc.Runner().Launch(j))
	f.svc.Runner().Stop()

	got := f.get(t, j.ID)
	assert.Equal(t, job.StatusProcessing, got.Status)
	assert.False(t, f.svc.Runner().Launch(j))
}

func TestResumeSkipsFreshAndInFlightJobs(t *testing.T) {
	p := &scriptedProvider{steps: []statusStep{running()}}
	f := newFixture(t, p, nil)
	busy := f.insertJob(t, "task-a")
	f.insertJob(t, "task-b")

	require.True(t, f.svc.Runner().Claim(busy.ID))
	defer f.svc.Runner().Release(busy.ID)

	// nothing is older than an hour ago
	n, err := f.svc.Resume(context.Background(), time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.Resume(context.Background(), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.svc.Runner().Wait()
}

func TestSleepingPollDoesNotHoldWorker(t *testing.T) {
	p := &taskProvider{refs: map[string]string{}}
	f := newFixture(t, p, nil, func(o *Options) {
		o.Workers = 1
		o.Sleep = Sleep
		o.Policy.InitialDelay = 0
		o.Policy.Interval = 20 * time.Millisecond
		o.Policy.MaxAttempts = 500
	})
	p.refs["task-fast"] = f.artifact.URL + "/fast.mp4"

	slow := f.insertJob(t, "task-slow")
	fast := f.insertJob(t, "task-fast")
	runner := f.svc.Runner()

	require.True(t, runner.Launch(slow))
	require.Eventually(t, func() bool { return p.callsFor("task-slow") >= 2 }, 2*time.Second, 5*time.Millisecond)

	require.True(t, runner.Launch(fast))
	require.Eventually(t, func() bool {
		j, err := f.store.Get(context.Background(), fast.ID)
		return err == nil && j.Status == job.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond, "fast job waited behind a sleeping poll")

	assert.Equal(t, 1, p.callsFor("task-fast"))
	assert.True(t, runner.InFlight(slow.ID))
	require.Eventually(t, func() bool { return !runner.InFlight(fast.ID) }, time.Second, 5*time.Millisecond)

	got := f.get(t, slow.ID)
	assert.Equal(t, job.StatusProcessing, got.Status)
}
