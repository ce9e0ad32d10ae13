package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/reel/errors"
)

func newTestJob(t *testing.T) *Job {
	t.Helper()
	j, err := New("task-1", Input{Kind: KindVideo, Provider: "dashscope", Model: "wan2.1-t2v-turbo", Prompt: "a cat"})
	require.NoError(t, err)
	return j
}

func TestNewStartsProcessing(t *testing.T) {
	j := newTestJob(t)

	assert.NotEmpty(t, j.ID)
	assert.Equal(t, StatusProcessing, j.Status)
	assert.Empty(t, j.ResultURL)
	assert.Empty(t, j.ErrorMessage)
	assert.False(t, j.CreatedAt.IsZero())
	assert.NoError(t, j.CheckInvariants())
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("", Input{Kind: KindVideo})
	assert.Error(t, err)

	_, err = New("task", Input{Kind: "audio"})
	assert.Error(t, err)
}

func TestNewGeneratesUniqueIDs(t *testing.T) {
	a := newTestJob(t)
	b := newTestJob(t)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestComplete(t *testing.T) {
	j := newTestJob(t)

	require.NoError(t, j.Complete("https://cdn.example.com/videos/u/j.mp4", "videos/u/j.mp4"))
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, "https://cdn.example.com/videos/u/j.mp4", j.ResultURL)
	assert.NotNil(t, j.CompletedAt)
	assert.GreaterOrEqual(t, j.DurationMS, int64(0))
	assert.NoError(t, j.CheckInvariants())
}

func TestCompleteRejectsMalformedURL(t *testing.T) {
	j := newTestJob(t)

	err := j.Complete(" `https://x/a.mp4` ", "p")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Equal(t, StatusProcessing, j.Status)
}

func TestFail(t *testing.T) {
	j := newTestJob(t)

	require.NoError(t, j.Fail("download failed: 404"))
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, "download failed: 404", j.ErrorMessage)
	assert.Empty(t, j.ResultURL)
	assert.NoError(t, j.CheckInvariants())
}

func TestFailWithEmptyMessageStillRecordsOne(t *testing.T) {
	j := newTestJob(t)
	require.NoError(t, j.Fail("   "))
	assert.NotEmpty(t, j.ErrorMessage)
	assert.NoError(t, j.CheckInvariants())
}

func TestNoTransitionOutOfTerminal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Job) error
	}{
		{"completed", func(j *Job) error { return j.Complete("https://x/a.mp4", "a.mp4") }},
		{"failed", func(j *Job) error { return j.Fail("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := newTestJob(t)
			require.NoError(t, tt.setup(j))
			before := *j

			assert.True(t, errors.IsConflictError(j.Complete("https://y/b.mp4", "b.mp4")))
			assert.True(t, errors.IsConflictError(j.Fail("again")))
			assert.Equal(t, before.Status, j.Status)
			assert.Equal(t, before.ResultURL, j.ResultURL)
			assert.Equal(t, before.ErrorMessage, j.ErrorMessage)
		})
	}
}

func TestCheckInvariantsCatchesViolations(t *testing.T) {
	tests := []struct {
		name string
		job  Job
	}{
		{"processing with result", Job{Status: StatusProcessing, ResultURL: "https://x/a"}},
		{"processing with error", Job{Status: StatusProcessing, ErrorMessage: "x"}},
		{"completed without result", Job{Status: StatusCompleted}},
		{"completed with error", Job{Status: StatusCompleted, ResultURL: "https://x/a", ErrorMessage: "x"}},
		{"failed without message", Job{Status: StatusFailed}},
		{"failed with result", Job{Status: StatusFailed, ErrorMessage: "x", ResultURL: "https://x/a"}},
		{"unknown status", Job{Status: "queued"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.job.CheckInvariants())
		})
	}
}

func TestIsWellFormedURL(t *testing.T) {
	tests := map[string]bool{
		"https://x/a.mp4":                  true,
		"http://cdn.example.com/v.mp4?x=1": true,
		"":                                 false,
		"ftp://x/a.mp4":                    false,
		"https://":                         false,
		"`https://x/a.mp4`":                false,
		"https://x/a b.mp4":                false,
		"/relative/path.mp4":               false,
	}
	for in, want := range tests {
		assert.Equal(t, want, IsWellFormedURL(in), in)
	}
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, IsValidStatus("processing"))
	assert.False(t, IsValidStatus("queued"))
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, IsValidKind("image"))
	assert.False(t, IsValidKind("audio"))
}
