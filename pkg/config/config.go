// Package config loads the service configuration from the environment.
//
// Every option is a flat, lower-case key (e.g. STORAGE_BACKEND,
// QUEUE_TASK_TIMEOUT_SECONDS) with a sensible default, so the service can
// start with no configuration at all using SQLite metadata, local chunk
// storage and the in-process task queue.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config captures the static configuration of the ingestion service.
type Config struct {
	AppName    string `mapstructure:"app_name"`
	AppVersion string `mapstructure:"app_version"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port" validate:"gt=0,lte=65535"`

	// DatabaseURL selects the metadata store. A plain path or a
	// "sqlite://" URL opens SQLite; a "postgres://" URL or key=value DSN
	// opens PostgreSQL.
	DatabaseURL string `mapstructure:"database_url" validate:"required"`

	StorageBackend    string `mapstructure:"storage_backend" validate:"oneof=local s3 r2"`
	StorageRoot       string `mapstructure:"storage_root"`
	S3Bucket          string `mapstructure:"s3_bucket"`
	AWSRegion         string `mapstructure:"aws_region"`
	R2Bucket          string `mapstructure:"r2_bucket"`
	R2AccountID       string `mapstructure:"r2_account_id"`
	R2AccessKeyID     string `mapstructure:"r2_access_key_id"`
	R2SecretAccessKey string `mapstructure:"r2_secret_access_key"`
	R2EndpointURL     string `mapstructure:"r2_endpoint_url"`

	QueueBackend            string `mapstructure:"queue_backend" validate:"oneof=memory redis sqs"`
	RedisURL                string `mapstructure:"redis_url"`
	RedisQueueName          string `mapstructure:"redis_queue_name"`
	SQSQueueURL             string `mapstructure:"sqs_queue_url"`
	QueueConsumerCount      int    `mapstructure:"queue_consumer_count" validate:"gte=1"`
	QueuePollTimeoutSeconds int    `mapstructure:"queue_poll_timeout_seconds" validate:"gte=1"`
	QueueTaskTimeoutSeconds int    `mapstructure:"queue_task_timeout_seconds" validate:"gte=1"`

	ChunkSizeBytes                 int64 `mapstructure:"chunk_size_bytes" validate:"gt=0"`
	MaxRetries                     int   `mapstructure:"max_retries" validate:"gte=0"`
	WorkerCount                    int   `mapstructure:"worker_count" validate:"gte=1"`
	TaskQueueMaxsize               int   `mapstructure:"task_queue_maxsize" validate:"gte=0"`
	MaxGlobalInflightChunks        int   `mapstructure:"max_global_inflight_chunks" validate:"gte=0"`
	MaxInflightChunksPerUpload     int   `mapstructure:"max_inflight_chunks_per_upload" validate:"gte=0"`
	MaxFairInflightChunksPerUpload int   `mapstructure:"max_fair_inflight_chunks_per_upload" validate:"gte=0"`

	AutoscaleEnabled              bool    `mapstructure:"autoscale_enabled"`
	MinWorkers                    int     `mapstructure:"min_workers" validate:"gte=1"`
	MaxWorkers                    int     `mapstructure:"max_workers" validate:"gte=1"`
	AutoscaleCooldownSeconds      int     `mapstructure:"autoscale_cooldown_seconds" validate:"gte=1"`
	ScaleUpQueueThreshold         int     `mapstructure:"scale_up_queue_threshold" validate:"gte=0"`
	ScaleUpUtilizationThreshold   float64 `mapstructure:"scale_up_utilization_threshold"`
	ScaleDownUtilizationThreshold float64 `mapstructure:"scale_down_utilization_threshold"`

	AuthMode              string `mapstructure:"auth_mode" validate:"oneof=api_key jwt hybrid"`
	APIKeyMappings        string `mapstructure:"api_key_mappings"`
	AdminUserIDs          string `mapstructure:"admin_user_ids"`
	APIRateLimitPerMinute int    `mapstructure:"api_rate_limit_per_minute" validate:"gte=0"`
	JWTSecret             string `mapstructure:"jwt_secret"`
	JWTAlgorithm          string `mapstructure:"jwt_algorithm"`
	JWTAudience           string `mapstructure:"jwt_audience"`
	JWTIssuer             string `mapstructure:"jwt_issuer"`

	CleanupEnabled         bool `mapstructure:"cleanup_enabled"`
	CleanupIntervalSeconds int  `mapstructure:"cleanup_interval_seconds" validate:"gte=1"`
	StaleUploadTTLSeconds  int  `mapstructure:"stale_upload_ttl_seconds" validate:"gte=1"`
	IdempotencyTTLSeconds  int  `mapstructure:"idempotency_ttl_seconds" validate:"gte=1"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`
}

// Load reads the configuration from the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	// AutomaticEnv alone does not make viper aware of keys that only exist
	// as environment variables, so bind every known key explicitly.
	for key := range defaults {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config populated with the documented defaults. It is the
// starting point for tests that tweak individual options.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Unmarshalling pure defaults cannot fail.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Validate checks option values and cross-field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.MaxWorkers < c.MinWorkers {
		return fmt.Errorf("invalid configuration: max_workers (%d) below min_workers (%d)", c.MaxWorkers, c.MinWorkers)
	}
	switch c.StorageBackend {
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("invalid configuration: s3_bucket must be set when storage_backend=s3")
		}
	case "r2":
		if c.R2Bucket == "" {
			return fmt.Errorf("invalid configuration: r2_bucket must be set when storage_backend=r2")
		}
		if c.R2EndpointURL == "" && c.R2AccountID == "" {
			return fmt.Errorf("invalid configuration: set r2_endpoint_url or r2_account_id when storage_backend=r2")
		}
	}
	if c.QueueBackend == "sqs" && c.SQSQueueURL == "" {
		return fmt.Errorf("invalid configuration: sqs_queue_url must be set when queue_backend=sqs")
	}
	if (c.AuthMode == "jwt" || c.AuthMode == "hybrid") && c.JWTSecret == "" {
		return fmt.Errorf("invalid configuration: jwt_secret must be set when auth_mode=%s", c.AuthMode)
	}
	return nil
}

// FairShareCap resolves the effective per-upload fair-share limit: the
// configured value, or half the worker count when left at zero.
func (c *Config) FairShareCap() int {
	if c.MaxFairInflightChunksPerUpload > 0 {
		return c.MaxFairInflightChunksPerUpload
	}
	cap := c.WorkerCount / 2
	if cap < 1 {
		cap = 1
	}
	return cap
}

// UsesExternalQueue reports whether chunk writes travel through a durable
// queue backend instead of the in-process worker pool.
func (c *Config) UsesExternalQueue() bool {
	return c.QueueBackend == "redis" || c.QueueBackend == "sqs"
}

var defaults = map[string]any{
	"app_name":     "distributed-file-service",
	"app_version":  "dev",
	"host":         "0.0.0.0",
	"port":         8000,
	"database_url": "sqlite://./distributed_file_service.db",

	"storage_backend":      "local",
	"storage_root":         "./data",
	"s3_bucket":            "",
	"aws_region":           "us-east-1",
	"r2_bucket":            "",
	"r2_account_id":        "",
	"r2_access_key_id":     "",
	"r2_secret_access_key": "",
	"r2_endpoint_url":      "",

	"queue_backend":              "memory",
	"redis_url":                  "redis://localhost:6379/0",
	"redis_queue_name":           "dfs-chunk-tasks",
	"sqs_queue_url":              "",
	"queue_consumer_count":       4,
	"queue_poll_timeout_seconds": 5,
	"queue_task_timeout_seconds": 45,

	"chunk_size_bytes":                    5 * 1024 * 1024,
	"max_retries":                         3,
	"worker_count":                        16,
	"task_queue_maxsize":                  512,
	"max_global_inflight_chunks":          128,
	"max_inflight_chunks_per_upload":      8,
	"max_fair_inflight_chunks_per_upload": 0,

	"autoscale_enabled":                false,
	"min_workers":                      8,
	"max_workers":                      32,
	"autoscale_cooldown_seconds":       15,
	"scale_up_queue_threshold":         1,
	"scale_up_utilization_threshold":   0.8,
	"scale_down_utilization_threshold": 0.2,

	"auth_mode":                 "api_key",
	"api_key_mappings":          "dev-key:dev-user",
	"admin_user_ids":            "dev-user",
	"api_rate_limit_per_minute": 0,
	"jwt_secret":                "",
	"jwt_algorithm":             "HS256",
	"jwt_audience":              "",
	"jwt_issuer":                "",

	"cleanup_enabled":          false,
	"cleanup_interval_seconds": 900,
	"stale_upload_ttl_seconds": 86400,
	"idempotency_ttl_seconds":  86400,

	"log_level":  "info",
	"log_format": "json",
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
