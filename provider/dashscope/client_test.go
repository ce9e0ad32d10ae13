package dashscope

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/internal/httpclient"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		APIKey:        "sk-default",
		ModelKeys:     map[string]string{"wanx": "sk-wanx", "wanx2.1-t2i": "sk-t2i"},
		BaseURL:       srv.URL,
		VideoModel:    "wan2.1-t2v-turbo",
		I2VModel:      "wan2.1-i2v-turbo",
		TemplateModel: "wanx2.1-i2v-turbo",
		ImageModel:    "wanx2.1-t2i-turbo",
		HTTPClient:    httpclient.WrapClient(srv.Client()),
	})
}

func TestSubmitVideo(t *testing.T) {
	var got synthesisRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, videoSynthesisPath, r.URL.Path)
		assert.Equal(t, "Bearer sk-default", r.Header.Get("Authorization"))
		assert.Equal(t, "enable", r.Header.Get("X-DashScope-Async"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"request_id":"req-1","output":{"task_id":"task-1","task_status":"PENDING"}}`))
	})

	sub, err := c.Submit(context.Background(), provider.Request{
		Kind:     job.KindVideo,
		Prompt:   "  a cat surfing  ",
		Duration: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "task-1", sub.TaskID)
	assert.Equal(t, "req-1", sub.RequestID)
	assert.Equal(t, "wan2.1-t2v-turbo", sub.Model)

	assert.Equal(t, "wan2.1-t2v-turbo", got.Model)
	assert.Equal(t, "a cat surfing", got.Input.Prompt)
	assert.Equal(t, 5, got.Parameters.Duration)
}

func TestSubmitImageUsesModelKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, imageSynthesisPath, r.URL.Path)
		// longest prefix wins over "wanx"
		assert.Equal(t, "Bearer sk-t2i", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"request_id":"req-2","output":{"task_id":"task-2","task_status":"PENDING"}}`))
	})

	sub, err := c.Submit(context.Background(), provider.Request{Kind: job.KindImage, Prompt: "a red fox"})
	require.NoError(t, err)
	assert.Equal(t, "wanx2.1-t2i-turbo", sub.Model)
}

func TestModelFor(t *testing.T) {
	c := NewClient(Config{
		VideoModel:    "t2v",
		I2VModel:      "i2v",
		TemplateModel: "tpl",
		ImageModel:    "t2i",
	})

	tests := []struct {
		name string
		req  provider.Request
		want string
	}{
		{"prompt only", provider.Request{Kind: job.KindVideo, Prompt: "p"}, "t2v"},
		{"image to video", provider.Request{Kind: job.KindVideo, ImageURL: "https://x/a.png"}, "i2v"},
		{"template", provider.Request{Kind: job.KindVideo, ImageURL: "https://x/a.png", Template: "flying"}, "tpl"},
		{"image", provider.Request{Kind: job.KindImage, Prompt: "p"}, "t2i"},
		{"explicit override", provider.Request{Kind: job.KindVideo, Prompt: "p", Model: "custom"}, "custom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.ModelFor(tt.req))
		})
	}
}

func TestSubmitRejectsInvalidRequestWithoutCalling(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := c.Submit(context.Background(), provider.Request{Kind: job.KindVideo})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.False(t, called)
}

func TestSubmitNon2xxReturnsStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"request_id":"req-3","code":"InvalidParameter","message":"prompt too long"}`))
	})

	_, err := c.Submit(context.Background(), provider.Request{Kind: job.KindVideo, Prompt: "p"})
	require.Error(t, err)

	var se *provider.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, "InvalidParameter", se.Code)
	assert.Equal(t, "prompt too long", se.Message)
}

func TestSubmitMissingTaskID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"request_id":"req-4","output":{}}`))
	})

	_, err := c.Submit(context.Background(), provider.Request{Kind: job.KindVideo, Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no task_id")
}

func TestSubmitWithoutKey(t *testing.T) {
	c := NewClient(Config{VideoModel: "wan2.1-t2v-turbo"})
	_, err := c.Submit(context.Background(), provider.Request{Kind: job.KindVideo, Prompt: "p"})
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantState provider.State
		wantRef   string
		wantMsg   string
	}{
		{"pending", `{"output":{"task_id":"t","task_status":"PENDING"}}`, provider.StatePending, "", ""},
		{"running", `{"output":{"task_id":"t","task_status":"RUNNING"}}`, provider.StateRunning, "", ""},
		{"video succeeded", `{"output":{"task_id":"t","task_status":"SUCCEEDED","video_url":"https://oss/v.mp4"}}`, provider.StateSucceeded, "https://oss/v.mp4", ""},
		{"image succeeded", `{"output":{"task_id":"t","task_status":"SUCCEEDED","results":[{"code":"DataInspectionFailed"},{"url":"https://oss/i.png"}]}}`, provider.StateSucceeded, "https://oss/i.png", ""},
		{"failed", `{"output":{"task_id":"t","task_status":"FAILED","code":"InternalError","message":"model overloaded"}}`, provider.StateFailed, "", "model overloaded"},
		{"canceled", `{"output":{"task_id":"t","task_status":"CANCELED"}}`, provider.StateFailed, "", "task canceled"},
		{"expired", `{"output":{"task_id":"t","task_status":"UNKNOWN"}}`, provider.StateFailed, "", "task does not exist or has expired"},
		{"unrecognized", `{"output":{"task_id":"t","task_status":"WEIRD"}}`, provider.StateUnknown, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, tasksPath+"t", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			})

			status, err := c.Status(context.Background(), "t", "wan2.1-t2v-turbo")
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, status.State)
			assert.Equal(t, tt.wantRef, status.ResultRef)
			assert.Equal(t, tt.wantMsg, status.Message)
		})
	}
}

func TestStatusNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.Status(context.Background(), "missing", "")
	require.Error(t, err)
	assert.True(t, provider.IsNotFound(err))
}

func TestStatusEmptyTaskID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := c.Status(context.Background(), " ", "")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestSetCredentialsSwapsKey(t *testing.T) {
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"output":{"task_id":"t","task_status":"RUNNING"}}`))
	})

	c.SetCredentials("sk-rotated", nil)
	_, err := c.Status(context.Background(), "t", "wanx2.1-t2i-turbo")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-rotated", auth)
}

func TestStatusHonoursTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{
		APIKey:        "k",
		BaseURL:       srv.URL,
		StatusTimeout: 50 * time.Millisecond,
		HTTPClient:    httpclient.WrapClient(srv.Client()),
	})

	start := time.Now()
	_, err := c.Status(context.Background(), "t", "")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
