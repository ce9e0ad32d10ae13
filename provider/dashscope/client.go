// Package dashscope submits image and video synthesis tasks to Alibaba
// DashScope and queries their status.
package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/internal/httpclient"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/provider"
)

// Name is the registry name of this provider
const Name = "dashscope"

const (
	videoSynthesisPath = "/api/v1/services/aigc/video-generation/video-synthesis"
	imageSynthesisPath = "/api/v1/services/aigc/text2image/image-synthesis"
	tasksPath          = "/api/v1/tasks/"

	// maxErrorBody bounds how much of an error response is read
	maxErrorBody = 64 << 10
)

// Config configures the DashScope client
type Config struct {
	APIKey    string
	ModelKeys map[string]string // model prefix -> api key
	BaseURL   string

	VideoModel    string
	I2VModel      string
	TemplateModel string
	ImageModel    string

	SubmitRatePerMinute int // 0 = unlimited
	SubmitTimeout       time.Duration
	StatusTimeout       time.Duration

	HTTPClient *httpclient.SaferClient // nil = SSRF-protected default
	Logger     *zap.SugaredLogger      // nil = nop
}

// Client implements provider.Provider for DashScope
type Client struct {
	baseURL    string
	models     Config
	httpClient *httpclient.SaferClient
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger

	submitTimeout time.Duration
	statusTimeout time.Duration

	mu        sync.RWMutex
	apiKey    string
	modelKeys map[string]string
}

// NewClient creates a DashScope client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://dashscope.aliyuncs.com"
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 15 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// per-call contexts carry the timeouts
		httpClient = httpclient.NewSaferClient(0)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.SubmitRatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.SubmitRatePerMinute)), cfg.SubmitRatePerMinute)
	}

	c := &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		models:        cfg,
		httpClient:    httpClient,
		limiter:       limiter,
		logger:        logger.Named("dashscope"),
		submitTimeout: cfg.SubmitTimeout,
		statusTimeout: cfg.StatusTimeout,
	}
	c.SetCredentials(cfg.APIKey, cfg.ModelKeys)
	return c
}

// Name returns the registry name
func (c *Client) Name() string {
	return Name
}

// SetCredentials swaps the API keys, e.g. after a config reload
func (c *Client) SetCredentials(apiKey string, modelKeys map[string]string) {
	keys := make(map[string]string, len(modelKeys))
	for k, v := range modelKeys {
		keys[k] = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
	c.modelKeys = keys
}

// keyFor picks the credential for a model: the longest matching prefix in
// the per-model map, else the default key.
func (c *Client) keyFor(model string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prefixes := make([]string, 0, len(c.modelKeys))
	for p := range c.modelKeys {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	for _, p := range prefixes {
		if strings.HasPrefix(model, p) && c.modelKeys[p] != "" {
			return c.modelKeys[p], nil
		}
	}
	if c.apiKey == "" {
		return "", errors.WithHint(
			errors.Newf("no DashScope API key configured for model %q", model),
			"set providers.dashscope.api_key or DASHSCOPE_API_KEY")
	}
	return c.apiKey, nil
}

// ModelFor returns the model used for req: the explicit override, else the
// configured default for the capability.
func (c *Client) ModelFor(req provider.Request) string {
	if req.Model != "" {
		return req.Model
	}
	if req.Kind == job.KindImage {
		return c.models.ImageModel
	}
	switch {
	case req.Template != "":
		return c.models.TemplateModel
	case req.ImageURL != "":
		return c.models.I2VModel
	default:
		return c.models.VideoModel
	}
}

// Submit enqueues one asynchronous synthesis task
func (c *Client) Submit(ctx context.Context, req provider.Request) (provider.Submission, error) {
	if err := req.Validate(); err != nil {
		return provider.Submission{}, err
	}

	model := c.ModelFor(req)
	if model == "" {
		return provider.Submission{}, errors.NewInvalidRequestError("no %s model configured", req.Kind)
	}
	key, err := c.keyFor(model)
	if err != nil {
		return provider.Submission{}, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return provider.Submission{}, errors.Wrap(err, "submit rate limit wait")
	}

	path := videoSynthesisPath
	if req.Kind == job.KindImage {
		path = imageSynthesisPath
	}
	body, err := json.Marshal(buildRequest(model, req))
	if err != nil {
		return provider.Submission{}, errors.Wrap(err, "failed to marshal request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return provider.Submission{}, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)
	httpReq.Header.Set("X-DashScope-Async", "enable")

	start := time.Now()
	var out taskResponse
	if err := c.do(httpReq, &out); err != nil {
		return provider.Submission{}, errors.WithDetailf(err, "model: %s", model)
	}
	if out.Output.TaskID == "" {
		return provider.Submission{}, errors.Newf("DashScope accepted the request but returned no task_id (request_id %s)", out.RequestID)
	}

	c.logger.Infow("Task submitted",
		"task_id", out.Output.TaskID,
		"request_id", out.RequestID,
		"model", model,
		"kind", req.Kind,
		"duration_ms", time.Since(start).Milliseconds())

	return provider.Submission{
		TaskID:    out.Output.TaskID,
		RequestID: out.RequestID,
		Model:     model,
	}, nil
}

// Status queries one task once
func (c *Client) Status(ctx context.Context, taskID, model string) (provider.TaskStatus, error) {
	if strings.TrimSpace(taskID) == "" {
		return provider.TaskStatus{}, errors.NewInvalidRequestError("task id cannot be empty")
	}
	key, err := c.keyFor(model)
	if err != nil {
		return provider.TaskStatus{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tasksPath+taskID, nil)
	if err != nil {
		return provider.TaskStatus{}, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+key)

	var out taskResponse
	if err := c.do(httpReq, &out); err != nil {
		return provider.TaskStatus{}, errors.WithDetailf(err, "task_id: %s", taskID)
	}

	status := out.toTaskStatus()
	c.logger.Debugw("Task status",
		"task_id", taskID,
		"remote_status", out.Output.TaskStatus,
		"state", status.State)
	return status, nil
}

// do sends req and decodes a 2xx JSON body into out. Non-2xx responses
// become *provider.StatusError.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "DashScope request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var apiErr errorResponse
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &provider.StatusError{
			Provider:   Name,
			StatusCode: resp.StatusCode,
			Code:       apiErr.Code,
			Message:    msg,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode DashScope response")
	}
	return nil
}
