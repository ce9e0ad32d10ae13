package dashscope

import (
	"strings"

	"github.com/teranos/reel/job"
	"github.com/teranos/reel/provider"
)

type synthesisRequest struct {
	Model      string     `json:"model"`
	Input      input      `json:"input"`
	Parameters parameters `json:"parameters,omitempty"`
}

type input struct {
	Prompt   string `json:"prompt,omitempty"`
	ImgURL   string `json:"img_url,omitempty"`
	Template string `json:"template,omitempty"`
}

type parameters struct {
	Size     string `json:"size,omitempty"`
	Duration int    `json:"duration,omitempty"`
	N        int    `json:"n,omitempty"`
}

func buildRequest(model string, req provider.Request) synthesisRequest {
	out := synthesisRequest{
		Model: model,
		Input: input{
			Prompt:   strings.TrimSpace(req.Prompt),
			ImgURL:   strings.TrimSpace(req.ImageURL),
			Template: strings.TrimSpace(req.Template),
		},
		Parameters: parameters{Size: req.Size},
	}
	if req.Kind == job.KindImage {
		out.Parameters.N = 1
	} else {
		out.Parameters.Duration = req.Duration
	}
	return out
}

type taskResponse struct {
	RequestID string     `json:"request_id"`
	Output    taskOutput `json:"output"`
}

type taskOutput struct {
	TaskID     string       `json:"task_id"`
	TaskStatus string       `json:"task_status"`
	VideoURL   string       `json:"video_url"`
	Results    []taskResult `json:"results"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
}

type taskResult struct {
	URL     string `json:"url"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// toTaskStatus maps DashScope task states onto provider states.
// UNKNOWN means the task does not exist or has expired, which is terminal.
func (r taskResponse) toTaskStatus() provider.TaskStatus {
	o := r.Output
	status := provider.TaskStatus{Code: o.Code, Message: o.Message}

	switch strings.ToUpper(o.TaskStatus) {
	case "PENDING":
		status.State = provider.StatePending
	case "RUNNING", "SUSPENDED":
		status.State = provider.StateRunning
	case "SUCCEEDED":
		status.State = provider.StateSucceeded
		status.ResultRef = o.resultRef()
	case "FAILED", "CANCELED":
		status.State = provider.StateFailed
		if status.Message == "" {
			status.Message = "task " + strings.ToLower(o.TaskStatus)
		}
	case "UNKNOWN":
		status.State = provider.StateFailed
		if status.Message == "" {
			status.Message = "task does not exist or has expired"
		}
	default:
		status.State = provider.StateUnknown
	}
	return status
}

func (o taskOutput) resultRef() string {
	if o.VideoURL != "" {
		return o.VideoURL
	}
	for _, r := range o.Results {
		if r.URL != "" {
			return r.URL
		}
	}
	return ""
}
