package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database" validate:"required"`
	LLM        LLMConfig        `mapstructure:"llm" validate:"required"`
	Queue      QueueConfig      `mapstructure:"queue" validate:"required"`
	Task       TaskConfig       `mapstructure:"task" validate:"required"`
	Generation GenerationConfig `mapstructure:"generation" validate:"required"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_minutes" validate:"gte=0"`
}

// LLMConfig contains the generative text service settings.
type LLMConfig struct {
	// Provider selects the adapter: gemini or openai.
	Provider              string  `mapstructure:"provider" validate:"required,oneof=gemini openai"`
	GeminiAPIKey          string  `mapstructure:"gemini_api_key" validate:"required_if=Provider gemini"`
	OpenAIAPIKey          string  `mapstructure:"openai_api_key" validate:"required_if=Provider openai"`
	OpenAIBaseURL         string  `mapstructure:"openai_base_url" validate:"omitempty,url"`
	ModelName             string  `mapstructure:"model_name" validate:"required"`
	Temperature           float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds" validate:"required,gt=0"`
	MaxRetries            int     `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	BaseDelaySeconds      float64 `mapstructure:"base_delay_seconds" validate:"gt=0"`
	MaxDelaySeconds       float64 `mapstructure:"max_delay_seconds" validate:"gtefield=BaseDelaySeconds"`
	JitterPercent         uint64  `mapstructure:"jitter_percent" validate:"lte=100"`
}

// QueueConfig selects and tunes the job queue.
type QueueConfig struct {
	// Backend is redis for the durable queue or memory for single-process use.
	Backend           string `mapstructure:"backend" validate:"required,oneof=redis memory"`
	RedisAddr         string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword     string `mapstructure:"redis_password"`
	RedisDB           int    `mapstructure:"redis_db" validate:"gte=0"`
	Stream            string `mapstructure:"stream" validate:"required"`
	Group             string `mapstructure:"group" validate:"required"`
	DeadLetterStream  string `mapstructure:"dead_letter_stream" validate:"required"`
	MaxAttempts       int    `mapstructure:"max_attempts" validate:"required,gt=0"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
	// ReclaimIdleSeconds is how long a delivered message may stay unacknowledged
	// before another consumer claims it.
	ReclaimIdleSeconds int `mapstructure:"reclaim_idle_seconds" validate:"required,gt=0"`
	MemoryBufferSize   int `mapstructure:"memory_buffer_size" validate:"required,gt=0"`
}

// TaskConfig contains settings for the job runner.
type TaskConfig struct {
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`
	// StuckJobTimeoutMinutes is how long a job may stay running without an
	// update before the runner republishes it.
	StuckJobTimeoutMinutes int `mapstructure:"stuck_job_timeout_minutes" validate:"required,gt=0"`
	StuckCheckMinutes      int `mapstructure:"stuck_check_minutes" validate:"required,gt=0"`
}

// GenerationConfig holds the wave scheduling, batching and filtering knobs.
type GenerationConfig struct {
	UnitSize                int     `mapstructure:"unit_size" validate:"required,gt=0"`
	MaxParallelUnits        int     `mapstructure:"max_parallel_units" validate:"required,gt=0"`
	MinBatchSize            int     `mapstructure:"min_batch_size" validate:"required,gt=0"`
	MaxBatchSize            int     `mapstructure:"max_batch_size" validate:"required,gtefield=MinBatchSize"`
	InterWaveDelayMillis    int     `mapstructure:"inter_wave_delay_ms" validate:"gte=0"`
	DuplicateThreshold      float64 `mapstructure:"duplicate_threshold" validate:"gt=0,lte=1"`
	SummaryOverlapThreshold float64 `mapstructure:"summary_overlap_threshold" validate:"gt=0,lte=1"`
	TokensPerQuestion       int     `mapstructure:"tokens_per_question" validate:"required,gt=0"`
	MaxOutputTokens         int     `mapstructure:"max_output_tokens" validate:"required,gt=0"`
	MaxInputTokens          int     `mapstructure:"max_input_tokens" validate:"required,gt=0"`
	PromptTemplateDir       string  `mapstructure:"prompt_template_dir"`
}

// StorageConfig holds the object store credentials used to fetch s3:// documents.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
	// MaxDocumentBytes bounds how much of a source document is read.
	MaxDocumentBytes int64 `mapstructure:"max_document_bytes" validate:"gt=0"`
}

// RequestTimeout returns the per-call deadline for the generative service.
func (c LLMConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// BaseDelay returns the first backoff delay.
func (c LLMConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelaySeconds * float64(time.Second))
}

// MaxDelay returns the backoff cap.
func (c LLMConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds * float64(time.Second))
}

// InterWaveDelay returns the pause between two waves of one job.
func (c GenerationConfig) InterWaveDelay() time.Duration {
	return time.Duration(c.InterWaveDelayMillis) * time.Millisecond
}

// StuckJobTimeout returns how long a running job may go without updates.
func (c TaskConfig) StuckJobTimeout() time.Duration {
	return time.Duration(c.StuckJobTimeoutMinutes) * time.Minute
}

// StuckCheckInterval returns how often the runner looks for stuck jobs.
func (c TaskConfig) StuckCheckInterval() time.Duration {
	return time.Duration(c.StuckCheckMinutes) * time.Minute
}
