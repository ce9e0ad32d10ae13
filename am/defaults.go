package am

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/teranos/reel/internal/util"
)

var defaultAllowedOrigins = []string{
	"http://localhost",
	"https://localhost",
	"http://127.0.0.1",
	"https://127.0.0.1",
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "reel.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", defaultAllowedOrigins)
	v.SetDefault("server.create_rate_per_minute", 30)
	v.SetDefault("server.request_timeout_seconds", 30)

	// Pipeline defaults: 10s + 60 * 10s is the wall-clock bound for one job
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.poll.initial_delay_seconds", 10)
	v.SetDefault("pipeline.poll.interval_seconds", 10)
	v.SetDefault("pipeline.poll.max_attempts", 60)
	v.SetDefault("pipeline.poll.request_timeout_seconds", 15)
	v.SetDefault("pipeline.download.timeout_seconds", 60)
	v.SetDefault("pipeline.download.attempts", 3)
	v.SetDefault("pipeline.download.backoff_seconds", 2)
	v.SetDefault("pipeline.download.max_bytes", 512<<20)
	v.SetDefault("pipeline.upload.timeout_seconds", 120)

	// DashScope defaults
	v.SetDefault("providers.dashscope.base_url", "https://dashscope.aliyuncs.com")
	v.SetDefault("providers.dashscope.video_model", "wan2.1-t2v-turbo")
	v.SetDefault("providers.dashscope.i2v_model", "wan2.1-i2v-turbo")
	v.SetDefault("providers.dashscope.template_model", "wanx2.1-i2v-turbo")
	v.SetDefault("providers.dashscope.image_model", "wanx2.1-t2i-turbo")
	v.SetDefault("providers.dashscope.submit_rate_per_minute", 60)
	v.SetDefault("providers.dashscope.submit_timeout_seconds", 30)

	// Storage defaults
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.supabase.bucket", "generated")
	v.SetDefault("storage.local.dir", "media")
	v.SetDefault("storage.local.public_base_url", fmt.Sprintf("http://localhost:%d/media", DefaultServerPort))

	// Housekeeping defaults
	v.SetDefault("housekeeping.interval_seconds", 60)
	v.SetDefault("housekeeping.stale_after_seconds", 900)
	v.SetDefault("housekeeping.resume_batch", 20)

	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars explicitly binds credentials to conventional
// environment variable names in addition to REEL_* keys.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("providers.dashscope.api_key", "REEL_PROVIDERS_DASHSCOPE_API_KEY", "DASHSCOPE_API_KEY")
	_ = v.BindEnv("storage.supabase.url", "REEL_STORAGE_SUPABASE_URL", "SUPABASE_URL")
	_ = v.BindEnv("storage.supabase.service_key", "REEL_STORAGE_SUPABASE_SERVICE_KEY", "SUPABASE_SERVICE_ROLE_KEY")
	_ = v.BindEnv("database.dsn", "REEL_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("database.path", "REEL_DATABASE_PATH")
}

// GetServerPort returns the configured port, or DefaultServerPort
func (c *Config) GetServerPort() int {
	return util.Deref(c.Server.Port, DefaultServerPort)
}

// GetDatabasePath returns the configured sqlite path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "reel.db"
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return defaultAllowedOrigins
	}
	return c.Server.AllowedOrigins
}

// String returns a short summary without credentials
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Storage: %s, Pipeline: {Workers: %d, MaxAttempts: %d}}",
		c.Database.Driver, c.Storage.Backend, c.Pipeline.Workers, c.Pipeline.Poll.MaxAttempts)
}
