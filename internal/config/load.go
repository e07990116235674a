package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "EXAMGEN"

// Options controls where Load looks for configuration.
type Options struct {
	// ConfigFile is an explicit YAML file. When empty, config.yaml in the
	// working directory is used if present.
	ConfigFile string
	// EnvFile is a dotenv file loaded into the process environment before
	// reading variables. Missing files are ignored.
	EnvFile string
}

// setDefaults registers every default value. Keys must exist here for
// AutomaticEnv to see them during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_minutes", 5)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.openai_base_url", "")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.request_timeout_seconds", 120)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.base_delay_seconds", 1.0)
	v.SetDefault("llm.max_delay_seconds", 30.0)
	v.SetDefault("llm.jitter_percent", 20)

	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.stream", "examgen:jobs")
	v.SetDefault("queue.group", "examgen-workers")
	v.SetDefault("queue.dead_letter_stream", "examgen:jobs:dead")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.retry_delay_seconds", 10)
	v.SetDefault("queue.reclaim_idle_seconds", 300)
	v.SetDefault("queue.memory_buffer_size", 100)

	v.SetDefault("task.worker_count", 1)
	v.SetDefault("task.stuck_job_timeout_minutes", 30)
	v.SetDefault("task.stuck_check_minutes", 5)

	v.SetDefault("generation.unit_size", 50)
	v.SetDefault("generation.max_parallel_units", 10)
	v.SetDefault("generation.min_batch_size", 5)
	v.SetDefault("generation.max_batch_size", 50)
	v.SetDefault("generation.inter_wave_delay_ms", 1000)
	v.SetDefault("generation.duplicate_threshold", 0.85)
	v.SetDefault("generation.summary_overlap_threshold", 0.6)
	v.SetDefault("generation.tokens_per_question", 300)
	v.SetDefault("generation.max_output_tokens", 16384)
	v.SetDefault("generation.max_input_tokens", 100000)
	v.SetDefault("generation.prompt_template_dir", "")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.max_document_bytes", 32<<20)
}

// Load reads configuration from defaults, an optional YAML file, an optional
// dotenv file and EXAMGEN_ prefixed environment variables, in increasing order
// of precedence. The result is validated before it is returned.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}
