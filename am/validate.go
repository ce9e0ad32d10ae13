package am

import (
	"net/url"

	"github.com/teranos/reel/errors"
)

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.WithHint(
				errors.New("database.dsn is required when database.driver is postgres"),
				"set REEL_DATABASE_DSN or DATABASE_URL")
		}
	default:
		return errors.Newf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.Newf("server.port cannot be 0 (omit for default port %d)", DefaultServerPort)
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}
	if c.Server.CreateRatePerMinute < 0 {
		return errors.Newf("server.create_rate_per_minute must be >= 0, got %d", c.Server.CreateRatePerMinute)
	}

	p := c.Pipeline
	if p.Workers < 0 {
		return errors.Newf("pipeline.workers must be >= 0, got %d", p.Workers)
	}
	if p.Poll.InitialDelaySeconds < 0 {
		return errors.Newf("pipeline.poll.initial_delay_seconds must be >= 0, got %d", p.Poll.InitialDelaySeconds)
	}
	if p.Poll.IntervalSeconds < 0 {
		return errors.Newf("pipeline.poll.interval_seconds must be >= 0, got %d", p.Poll.IntervalSeconds)
	}
	if p.Poll.MaxAttempts < 1 {
		return errors.Newf("pipeline.poll.max_attempts must be >= 1, got %d", p.Poll.MaxAttempts)
	}
	if p.Download.Attempts < 1 {
		return errors.Newf("pipeline.download.attempts must be >= 1, got %d", p.Download.Attempts)
	}
	if p.Download.BackoffSeconds < 0 {
		return errors.Newf("pipeline.download.backoff_seconds must be >= 0, got %d", p.Download.BackoffSeconds)
	}
	if p.Download.TimeoutSeconds < 0 || p.Upload.TimeoutSeconds < 0 || p.Poll.RequestTimeoutSeconds < 0 {
		return errors.New("pipeline timeouts must be >= 0")
	}

	if c.Providers.DashScope.SubmitRatePerMinute < 0 {
		return errors.Newf("providers.dashscope.submit_rate_per_minute must be >= 0, got %d", c.Providers.DashScope.SubmitRatePerMinute)
	}
	if base := c.Providers.DashScope.BaseURL; base != "" {
		if u, err := url.Parse(base); err != nil || u.Host == "" {
			return errors.Newf("providers.dashscope.base_url is not a valid URL: %q", base)
		}
	}

	switch c.Storage.Backend {
	case StorageSupabase:
		if c.Storage.Supabase.URL == "" || c.Storage.Supabase.Bucket == "" {
			return errors.New("storage.supabase.url and storage.supabase.bucket are required for the supabase backend")
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for the s3 backend")
		}
	case StorageLocal:
		if c.Storage.Local.Dir == "" {
			return errors.New("storage.local.dir is required for the local backend")
		}
	default:
		return errors.Newf("storage.backend must be supabase, s3 or local, got %q", c.Storage.Backend)
	}

	// Housekeeping: 0 interval = disabled, negative = invalid
	if c.Housekeeping.IntervalSeconds < 0 {
		return errors.Newf("housekeeping.interval_seconds must be >= 0, got %d", c.Housekeeping.IntervalSeconds)
	}
	if c.Housekeeping.StaleAfterSeconds < 0 {
		return errors.Newf("housekeeping.stale_after_seconds must be >= 0, got %d", c.Housekeeping.StaleAfterSeconds)
	}

	return nil
}
