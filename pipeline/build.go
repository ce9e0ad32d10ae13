package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/reel/internal/httpclient"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/provider"
	"github.com/teranos/reel/storage"
)

// Options wires a complete pipeline
type Options struct {
	Providers       *provider.Registry
	DefaultProvider string
	Store           *job.Store
	Storage         storage.Storage
	Policy          Policy
	Workers         int
	HTTPClient      *httpclient.SaferClient // artifact downloads; nil = SSRF-protected default
	Sleep           SleepFunc               // nil = Sleep
	Logger          *zap.SugaredLogger
}

// New builds a Service whose background runs end with ctx
func New(ctx context.Context, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("pipeline")

	submitter := NewSubmitter(opts.Providers, opts.DefaultProvider, opts.Store, log)
	poller := NewPoller(opts.Sleep, log)
	materializer := NewMaterializer(opts.Store, opts.Storage, opts.HTTPClient, opts.Policy, opts.Sleep, log)
	runner := NewRunnerWithContext(ctx, opts.Providers, poller, materializer, opts.Store, opts.Policy, opts.Workers, log)

	return NewService(submitter, runner, opts.Store, opts.Providers, opts.Policy, log)
}
