package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/reel/db"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/internal/httpclient"
	reeltest "github.com/teranos/reel/internal/testing"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/provider"
)

const testProvider = "fake"

type statusStep struct {
	status provider.TaskStatus
	err    error
}

// scriptedProvider replays status steps in order, repeating the last one
type scriptedProvider struct {
	mu          sync.Mutex
	taskID      string
	submitErr   error
	steps       []statusStep
	statusCalls int
	submits     []provider.Request
}

func (p *scriptedProvider) Name() string { return testProvider }

func (p *scriptedProvider) Submit(ctx context.Context, req provider.Request) (provider.Submission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits = append(p.submits, req)
	if p.submitErr != nil {
		return provider.Submission{}, p.submitErr
	}
	taskID := p.taskID
	if taskID == "" {
		taskID = "task-1"
	}
	return provider.Submission{TaskID: taskID, Model: "fake-model"}, nil
}

func (p *scriptedProvider) Status(ctx context.Context, taskID, model string) (provider.TaskStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls++
	if len(p.steps) == 0 {
		return provider.TaskStatus{State: provider.StateRunning}, nil
	}
	i := p.statusCalls - 1
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	return p.steps[i].status, p.steps[i].err
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusCalls
}

func running() statusStep {
	return statusStep{status: provider.TaskStatus{State: provider.StateRunning}}
}

func succeeded(ref string) statusStep {
	return statusStep{status: provider.TaskStatus{State: provider.StateSucceeded, ResultRef: ref}}
}

// memStorage is an in-memory storage.Storage that can fail uploads
type memStorage struct {
	mu          sync.Mutex
	objects     map[string][]byte
	failUploads int
	uploads     []string
	removed     []string
}

func (s *memStorage) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, path)
	if s.failUploads > 0 {
		s.failUploads--
		return "", errors.New("storage unavailable")
	}
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[path] = data
	return "https://cdn.reel.test/" + path, nil
}

func (s *memStorage) Remove(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, path)
	delete(s.objects, path)
	return nil
}

// sleepRecorder returns immediately and records requested waits
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func testPolicy() Policy {
	return Policy{
		InitialDelay:     10 * time.Second,
		Interval:         10 * time.Second,
		MaxAttempts:      60,
		DownloadTimeout:  5 * time.Second,
		DownloadAttempts: 3,
		DownloadBackoff:  2 * time.Second,
		MaxDownloadBytes: 1 << 20,
		UploadTimeout:    5 * time.Second,
	}
}

type fixture struct {
	svc      *Service
	store    *job.Store
	provider *scriptedProvider
	storage  *memStorage
	sleeps   *sleepRecorder
	artifact *httptest.Server
}

// artifactHandler serves a small mp4 by default
func artifactHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "video/mp4")
	_, _ = w.Write([]byte("fake-mp4-bytes"))
}

func newFixture(t *testing.T, p provider.Provider, handler http.HandlerFunc, tweaks ...func(*Options)) *fixture {
	t.Helper()
	if handler == nil {
		handler = artifactHandler
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	registry := provider.NewRegistry()
	registry.Register(p)

	store := job.NewStore(reeltest.CreateTestDB(t), db.SQLite)
	st := &memStorage{}
	sleeps := &sleepRecorder{}

	opts := Options{
		Providers:       registry,
		DefaultProvider: testProvider,
		Store:           store,
		Storage:         st,
		Policy:          testPolicy(),
		Workers:         4,
		HTTPClient:      httpclient.WrapClient(srv.Client()),
		Sleep:           sleeps.sleep,
		Logger:          zaptest.NewLogger(t).Sugar(),
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	svc := New(context.Background(), opts)
	t.Cleanup(svc.Runner().Stop)

	scripted, _ := p.(*scriptedProvider)
	return &fixture{svc: svc, store: store, provider: scripted, storage: st, sleeps: sleeps, artifact: srv}
}

func (f *fixture) get(t *testing.T, id string) *job.Job {
	t.Helper()
	j, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, j.CheckInvariants())
	return j
}

// insertJob persists a processing job without launching it
func (f *fixture) insertJob(t *testing.T, taskID string) *job.Job {
	t.Helper()
	j, err := job.New(taskID, job.Input{Kind: job.KindVideo, Provider: testProvider, Model: "fake-model", UserID: "u1", Prompt: "p"})
	require.NoError(t, err)
	require.NoError(t, f.store.Create(context.Background(), j))
	return j
}

// taskProvider answers status per task id; unknown tasks stay running
type taskProvider struct {
	mu    sync.Mutex
	refs  map[string]string
	calls map[string]int
}

func (p *taskProvider) Name() string { return testProvider }

func (p *taskProvider) Submit(ctx context.Context, req provider.Request) (provider.Submission, error) {
	return provider.Submission{}, errors.New("not used")
}

func (p *taskProvider) Status(ctx context.Context, taskID, model string) (provider.TaskStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[taskID]++
	if ref, ok := p.refs[taskID]; ok {
		return provider.TaskStatus{State: provider.StateSucceeded, ResultRef: ref}, nil
	}
	return provider.TaskStatus{State: provider.StateRunning}, nil
}

func (p *taskProvider) callsFor(taskID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[taskID]
}
