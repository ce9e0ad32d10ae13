// Package am holds reel's configuration: TOML files merged by precedence,
// REEL_* environment overrides, validation and hot reload.
package am

import "time"

// Config represents the reel configuration
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Server       ServerConfig       `mapstructure:"server" toml:"server" json:"server" yaml:"server"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline" toml:"pipeline" json:"pipeline" yaml:"pipeline"`
	Providers    ProvidersConfig    `mapstructure:"providers" toml:"providers" json:"providers" yaml:"providers"`
	Storage      StorageConfig      `mapstructure:"storage" toml:"storage" json:"storage" yaml:"storage"`
	Housekeeping HousekeepingConfig `mapstructure:"housekeeping" toml:"housekeeping" json:"housekeeping" yaml:"housekeeping"`
	Log          LogConfig          `mapstructure:"log" toml:"log" json:"log" yaml:"log"`
}

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects the job store backend
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" toml:"driver" json:"driver" yaml:"driver"` // sqlite (default) or postgres
	Path   string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`         // sqlite file
	DSN    string `mapstructure:"dsn" toml:"dsn" json:"-" yaml:"-"`                 // postgres connection string
}

// Server port constants
const (
	DefaultServerPort = 8787
)

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Port                  *int     `mapstructure:"port" toml:"port" json:"port" yaml:"port"` // nil = default 8787, 0 is invalid
	AllowedOrigins        []string `mapstructure:"allowed_origins" toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
	APITokens             []string `mapstructure:"api_tokens" toml:"api_tokens" json:"-" yaml:"-"` // empty = no auth
	CreateRatePerMinute   int      `mapstructure:"create_rate_per_minute" toml:"create_rate_per_minute" json:"create_rate_per_minute" yaml:"create_rate_per_minute"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds" toml:"request_timeout_seconds" json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// PipelineConfig configures the submit → poll → materialize pipeline
type PipelineConfig struct {
	Workers  int            `mapstructure:"workers" toml:"workers" json:"workers" yaml:"workers"` // concurrent status queries and materializations
	Poll     PollConfig     `mapstructure:"poll" toml:"poll" json:"poll" yaml:"poll"`
	Download DownloadConfig `mapstructure:"download" toml:"download" json:"download" yaml:"download"`
	Upload   UploadConfig   `mapstructure:"upload" toml:"upload" json:"upload" yaml:"upload"`
}

// PollConfig configures the status poller
type PollConfig struct {
	InitialDelaySeconds   int `mapstructure:"initial_delay_seconds" toml:"initial_delay_seconds" json:"initial_delay_seconds" yaml:"initial_delay_seconds"`
	IntervalSeconds       int `mapstructure:"interval_seconds" toml:"interval_seconds" json:"interval_seconds" yaml:"interval_seconds"`
	MaxAttempts           int `mapstructure:"max_attempts" toml:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" toml:"request_timeout_seconds" json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// DownloadConfig configures artifact download
type DownloadConfig struct {
	TimeoutSeconds int   `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"` // per attempt
	Attempts       int   `mapstructure:"attempts" toml:"attempts" json:"attempts" yaml:"attempts"`
	BackoffSeconds int   `mapstructure:"backoff_seconds" toml:"backoff_seconds" json:"backoff_seconds" yaml:"backoff_seconds"` // linear: attempt * backoff
	MaxBytes       int64 `mapstructure:"max_bytes" toml:"max_bytes" json:"max_bytes" yaml:"max_bytes"`
}

// UploadConfig configures the owned-storage upload
type UploadConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
}

// ProvidersConfig holds per-provider settings
type ProvidersConfig struct {
	DashScope DashScopeConfig `mapstructure:"dashscope" toml:"dashscope" json:"dashscope" yaml:"dashscope"`
}

// DashScopeConfig configures Alibaba DashScope image and video synthesis
type DashScopeConfig struct {
	APIKey               string     `mapstructure:"api_key" toml:"api_key" json:"-" yaml:"-"`
	ModelKeys            []ModelKey `mapstructure:"model_keys" toml:"model_keys" json:"-" yaml:"-"`
	BaseURL              string     `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"`
	VideoModel           string     `mapstructure:"video_model" toml:"video_model" json:"video_model" yaml:"video_model"`
	ImageToVideoModel    string     `mapstructure:"i2v_model" toml:"i2v_model" json:"i2v_model" yaml:"i2v_model"`
	TemplateModel        string     `mapstructure:"template_model" toml:"template_model" json:"template_model" yaml:"template_model"`
	ImageModel           string     `mapstructure:"image_model" toml:"image_model" json:"image_model" yaml:"image_model"`
	SubmitRatePerMinute  int        `mapstructure:"submit_rate_per_minute" toml:"submit_rate_per_minute" json:"submit_rate_per_minute" yaml:"submit_rate_per_minute"` // 0 = unlimited
	SubmitTimeoutSeconds int        `mapstructure:"submit_timeout_seconds" toml:"submit_timeout_seconds" json:"submit_timeout_seconds" yaml:"submit_timeout_seconds"`
}

// ModelKey is the credential for models whose name starts with Model.
// Model ids contain dots, so they are values in an array of tables
// rather than keys:
//
//	[[providers.dashscope.model_keys]]
//	model = "wanx2.1"
//	api_key = "sk-..."
type ModelKey struct {
	Model  string `mapstructure:"model" toml:"model" json:"model" yaml:"model"`
	APIKey string `mapstructure:"api_key" toml:"api_key" json:"-" yaml:"-"`
}

// ModelKeyMap returns model prefix -> api key. Later entries win.
func (c DashScopeConfig) ModelKeyMap() map[string]string {
	if len(c.ModelKeys) == 0 {
		return nil
	}
	keys := make(map[string]string, len(c.ModelKeys))
	for _, mk := range c.ModelKeys {
		if mk.Model != "" {
			keys[mk.Model] = mk.APIKey
		}
	}
	return keys
}

// Storage backends
const (
	StorageSupabase = "supabase"
	StorageS3       = "s3"
	StorageLocal    = "local"
)

// StorageConfig selects and configures owned object storage
type StorageConfig struct {
	Backend  string                `mapstructure:"backend" toml:"backend" json:"backend" yaml:"backend"`
	Supabase SupabaseStorageConfig `mapstructure:"supabase" toml:"supabase" json:"supabase" yaml:"supabase"`
	S3       S3StorageConfig       `mapstructure:"s3" toml:"s3" json:"s3" yaml:"s3"`
	Local    LocalStorageConfig    `mapstructure:"local" toml:"local" json:"local" yaml:"local"`
}

// SupabaseStorageConfig configures the Supabase Storage REST backend
type SupabaseStorageConfig struct {
	URL        string `mapstructure:"url" toml:"url" json:"url" yaml:"url"`
	ServiceKey string `mapstructure:"service_key" toml:"service_key" json:"-" yaml:"-"`
	Bucket     string `mapstructure:"bucket" toml:"bucket" json:"bucket" yaml:"bucket"`
}

// S3StorageConfig configures an S3-compatible bucket
type S3StorageConfig struct {
	Bucket        string `mapstructure:"bucket" toml:"bucket" json:"bucket" yaml:"bucket"`
	Region        string `mapstructure:"region" toml:"region" json:"region" yaml:"region"`
	Endpoint      string `mapstructure:"endpoint" toml:"endpoint" json:"endpoint" yaml:"endpoint"` // optional, for OSS/MinIO
	PublicBaseURL string `mapstructure:"public_base_url" toml:"public_base_url" json:"public_base_url" yaml:"public_base_url"`
}

// LocalStorageConfig configures filesystem storage
type LocalStorageConfig struct {
	Dir           string `mapstructure:"dir" toml:"dir" json:"dir" yaml:"dir"`
	PublicBaseURL string `mapstructure:"public_base_url" toml:"public_base_url" json:"public_base_url" yaml:"public_base_url"`
}

// HousekeepingConfig configures periodic maintenance
type HousekeepingConfig struct {
	IntervalSeconds   int `mapstructure:"interval_seconds" toml:"interval_seconds" json:"interval_seconds" yaml:"interval_seconds"` // 0 = disabled
	StaleAfterSeconds int `mapstructure:"stale_after_seconds" toml:"stale_after_seconds" json:"stale_after_seconds" yaml:"stale_after_seconds"`
	ResumeBatch       int `mapstructure:"resume_batch" toml:"resume_batch" json:"resume_batch" yaml:"resume_batch"`
}

// LogConfig configures log output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json" json:"json" yaml:"json"`
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// PollInitialDelay returns the wait before the first status query
func (c *Config) PollInitialDelay() time.Duration {
	return seconds(c.Pipeline.Poll.InitialDelaySeconds)
}

// PollInterval returns the wait between status queries
func (c *Config) PollInterval() time.Duration { return seconds(c.Pipeline.Poll.IntervalSeconds) }

// StaleAfter returns how long a processing job may go without updates
// before housekeeping resumes it
func (c *Config) StaleAfter() time.Duration { return seconds(c.Housekeeping.StaleAfterSeconds) }
