// Package provider defines the contract for remote generation services:
// enqueue a task, then query its status by task id.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/job"
)

// Provider is a remote generation service
type Provider interface {
	Name() string
	// Submit enqueues one task and returns the provider's task id.
	Submit(ctx context.Context, req Request) (Submission, error)
	// Status queries one task once. model is the model the task was
	// submitted with; providers with per-model credentials need it.
	Status(ctx context.Context, taskID, model string) (TaskStatus, error)
}

// Request describes one generation task
type Request struct {
	Kind     job.Kind
	Model    string // empty = provider default for the capability
	Prompt   string
	ImageURL string
	Template string
	Size     string // e.g. "1280*720"
	Duration int    // seconds, video only
}

// Validate checks that at least one input variant is present for the kind
func (r Request) Validate() error {
	switch r.Kind {
	case job.KindVideo:
		if strings.TrimSpace(r.Prompt) == "" && strings.TrimSpace(r.ImageURL) == "" && strings.TrimSpace(r.Template) == "" {
			return errors.NewInvalidRequestError("video generation needs a prompt, an image_url or a template")
		}
		if r.Template != "" && strings.TrimSpace(r.ImageURL) == "" {
			return errors.NewInvalidRequestError("template %q needs an image_url", r.Template)
		}
	case job.KindImage:
		if strings.TrimSpace(r.Prompt) == "" {
			return errors.NewInvalidRequestError("image generation needs a prompt")
		}
	default:
		return errors.NewInvalidRequestError("unknown kind %q", r.Kind)
	}
	if r.Duration < 0 {
		return errors.NewInvalidRequestError("duration must be >= 0, got %d", r.Duration)
	}
	return nil
}

// Submission is the provider's acceptance of a task
type Submission struct {
	TaskID    string
	RequestID string
	Model     string // model actually used
}

// State is the provider-neutral task state
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateUnknown   State = "unknown"
)

// IsTerminal reports whether the remote task will not change again
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// TaskStatus is one status query result
type TaskStatus struct {
	State     State
	ResultRef string // raw result reference, not yet normalized
	Code      string
	Message   string
}

// StatusError is a non-2xx response from a provider
type StatusError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s returned %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a provider 404
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == 404
}

// Registry holds providers by name
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. Panics on duplicate names.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.providers[name]; exists {
		panic(fmt.Sprintf("provider %q already registered", name))
	}
	r.providers[name] = p
}

// Get returns the named provider
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		known := make([]string, 0, len(r.providers))
		for n := range r.providers {
			known = append(known, n)
		}
		sort.Strings(known)
		return nil, errors.WithHintf(errors.NewInvalidRequestError("unknown provider %q", name),
			"registered providers: %s", strings.Join(known, ", "))
	}
	return p, nil
}

// Names lists registered providers, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
