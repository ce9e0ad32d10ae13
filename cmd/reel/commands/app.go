package commands

import (
	"context"
	"database/sql"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/db"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/housekeeping"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/pipeline"
	"github.com/teranos/reel/provider"
	"github.com/teranos/reel/provider/dashscope"
	"github.com/teranos/reel/storage"
	"github.com/teranos/reel/storage/local"
	"github.com/teranos/reel/storage/s3"
	"github.com/teranos/reel/storage/supabase"
	"github.com/teranos/reel/sym"
)

// app is a fully wired reel process
type app struct {
	cfg          *am.Config
	db           *sql.DB
	store        *job.Store
	dashscope    *dashscope.Client
	providers    *provider.Registry
	policy       pipeline.Policy
	pipeline     *pipeline.Service
	housekeeping *housekeeping.Service
	media        fs.FS
	logger       *zap.SugaredLogger
	cancel       context.CancelFunc
}

// openStore loads config and opens the migrated job store
func openStore(ctx context.Context) (*am.Config, *sql.DB, *job.Store, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, errors.Wrap(err, "invalid configuration")
	}

	conn, dialect, err := db.Connect(ctx, cfg.Database.Driver, cfg.GetDatabasePath(), cfg.Database.DSN, logger.Logger)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to open database")
	}
	return cfg, conn, job.NewStore(conn, dialect), nil
}

// newApp wires config, database, provider, storage, pipeline and
// housekeeping. Background runs end when Close is called.
func newApp(parent context.Context) (*app, error) {
	cfg, conn, store, err := openStore(parent)
	if err != nil {
		return nil, err
	}
	log := logger.Logger

	ds := dashscope.NewClient(dashscope.Config{
		APIKey:              cfg.Providers.DashScope.APIKey,
		ModelKeys:           cfg.Providers.DashScope.ModelKeyMap(),
		BaseURL:             cfg.Providers.DashScope.BaseURL,
		VideoModel:          cfg.Providers.DashScope.VideoModel,
		I2VModel:            cfg.Providers.DashScope.ImageToVideoModel,
		TemplateModel:       cfg.Providers.DashScope.TemplateModel,
		ImageModel:          cfg.Providers.DashScope.ImageModel,
		SubmitRatePerMinute: cfg.Providers.DashScope.SubmitRatePerMinute,
		SubmitTimeout:       time.Duration(cfg.Providers.DashScope.SubmitTimeoutSeconds) * time.Second,
		StatusTimeout:       time.Duration(cfg.Pipeline.Poll.RequestTimeoutSeconds) * time.Second,
		Logger:              log,
	})
	registry := provider.NewRegistry()
	registry.Register(ds)

	policy := pipeline.PolicyFromConfig(cfg)
	st, media, err := openStorage(parent, cfg, policy.UploadTimeout, log)
	if err != nil {
		conn.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	svc := pipeline.New(ctx, pipeline.Options{
		Providers:       registry,
		DefaultProvider: dashscope.Name,
		Store:           store,
		Storage:         st,
		Policy:          policy,
		Workers:         cfg.Pipeline.Workers,
		Logger:          log,
	})

	var hk *housekeeping.Service
	if cfg.Housekeeping.IntervalSeconds > 0 {
		hk = housekeeping.NewService(
			time.Duration(cfg.Housekeeping.IntervalSeconds)*time.Second,
			log,
			&housekeeping.ResumeStale{Resumer: svc, StaleAfter: cfg.StaleAfter(), Batch: cfg.Housekeeping.ResumeBatch},
			&housekeeping.Stats{Counter: store, InFlight: func() int { return svc.Runner().Stats().InFlight }, Logger: log},
		)
	}

	return &app{
		cfg:          cfg,
		db:           conn,
		store:        store,
		dashscope:    ds,
		providers:    registry,
		policy:       policy,
		pipeline:     svc,
		housekeeping: hk,
		media:        media,
		logger:       log,
		cancel:       cancel,
	}, nil
}

// openStorage builds the configured storage backend. Local storage also
// returns the directory to serve under /media/.
func openStorage(ctx context.Context, cfg *am.Config, timeout time.Duration, log *zap.SugaredLogger) (storage.Storage, fs.FS, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case am.StorageSupabase:
		st, err := supabase.New(supabase.Config{
			URL:        sc.Supabase.URL,
			ServiceKey: sc.Supabase.ServiceKey,
			Bucket:     sc.Supabase.Bucket,
			Timeout:    timeout,
			Logger:     log,
		})
		return st, nil, err
	case am.StorageS3:
		st, err := s3.New(ctx, s3.Config{
			Bucket:        sc.S3.Bucket,
			Region:        sc.S3.Region,
			Endpoint:      sc.S3.Endpoint,
			PublicBaseURL: sc.S3.PublicBaseURL,
			Timeout:       timeout,
			Logger:        log,
		})
		return st, nil, err
	case am.StorageLocal, "":
		st, err := local.New(sc.Local.Dir, sc.Local.PublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Infow("Local storage ready", "dir", st.Dir(), logger.FieldSymbol, sym.Storage)
		return st, st.FS(), nil
	default:
		return nil, nil, errors.Newf("unknown storage backend %q", sc.Backend)
	}
}

// watchConfig hot-swaps provider credentials when the active config file
// changes. Returns nil when no config file exists.
func (a *app) watchConfig() *am.ConfigWatcher {
	path := am.ActiveConfigPath()
	if path == "" {
		return nil
	}
	w, err := am.NewConfigWatcher(path)
	if err != nil {
		a.logger.Warnw("Config hot reload disabled", logger.FieldError, err.Error())
		return nil
	}
	w.OnReload(func(cfg *am.Config) error {
		a.dashscope.SetCredentials(cfg.Providers.DashScope.APIKey, cfg.Providers.DashScope.ModelKeyMap())
		a.logger.Infow("Provider credentials reloaded", logger.FieldProvider, dashscope.Name, logger.FieldSymbol, sym.Config)
		return nil
	})
	w.Start()
	return w
}

// Close stops background runs and closes the database
func (a *app) Close() {
	if a.housekeeping != nil {
		a.housekeeping.Stop()
	}
	a.cancel()
	a.pipeline.Runner().Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Warnw("Failed to close database", logger.FieldError, err.Error())
	}
}

// Hints returns user-facing hints attached anywhere in err's chain
func Hints(err error) []string {
	return errors.GetAllHints(err)
}
