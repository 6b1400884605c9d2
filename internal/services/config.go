package services

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/trobanga/rythmiq/internal/models"
)

// LoadConfig loads configuration from file and merges with CLI flags
// Priority order (highest to lowest):
//  1. CLI flags (via viper bindings)
//  2. Environment variables (RYTHMIQ_ prefix, also read from ./.env)
//  3. Configuration file
//  4. Default values
func LoadConfig(configFile string) (*models.ProjectConfig, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	// Set config file path if provided
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		// Search for config in standard locations
		viper.SetConfigName("rythmiq")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/rythmiq")
		viper.AddConfigPath("/etc/rythmiq")
	}

	// RYTHMIQ_QUEUE_DRIVER overrides queue.driver
	viper.SetEnvPrefix("RYTHMIQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(models.DefaultConfig())

	// Read config file (optional - don't fail if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but couldn't be read
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Build config manually from viper values
	// (Viper.Unmarshal has issues with nested structs in some versions)
	config := models.ProjectConfig{
		Retry: models.RetryConfig{
			MaxAttempts:      viper.GetInt("retry.max_attempts"),
			InitialBackoffMs: viper.GetInt64("retry.initial_backoff_ms"),
			MaxBackoffMs:     viper.GetInt64("retry.max_backoff_ms"),
		},
		Queue: models.QueueConfig{
			Driver:  models.QueueDriver(viper.GetString("queue.driver")),
			DSN:     viper.GetString("queue.dsn"),
			JobsDir: viper.GetString("queue.jobs_dir"),
		},
		Storage: models.StorageConfig{
			DataDir: viper.GetString("storage.data_dir"),
		},
		Schemas: models.SchemasConfig{
			Dir: viper.GetString("schemas.dir"),
		},
		Extraction: models.ExtractionConfig{
			Engine:         models.ExtractionEngine(viper.GetString("extraction.engine")),
			TesseractPath:  viper.GetString("extraction.tesseract_path"),
			Language:       viper.GetString("extraction.language"),
			TimeoutSeconds: viper.GetInt("extraction.timeout_seconds"),
			MaxBytes:       viper.GetInt64("extraction.max_bytes"),
		},
		Normalize: models.NormalizeOptions{
			Unicode:            viper.GetBool("normalize.unicode"),
			StripInvisible:     viper.GetBool("normalize.strip_invisible"),
			LineEndings:        viper.GetBool("normalize.line_endings"),
			CollapseBlankLines: viper.GetBool("normalize.collapse_blank_lines"),
			CollapseWhitespace: viper.GetBool("normalize.collapse_whitespace"),
			Trim:               viper.GetBool("normalize.trim"),
		},
		Telemetry: models.TelemetryConfig{
			RedisAddr: viper.GetString("telemetry.redis_addr"),
			Stream:    viper.GetString("telemetry.stream"),
		},
		Logging: models.LoggingConfig{
			Level:  viper.GetString("logging.level"),
			Format: viper.GetString("logging.format"),
		},
		Worker: models.WorkerConfig{
			BatchSize: viper.GetInt("worker.batch_size"),
		},
	}

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Validate data directory exists and is writable (created if missing)
	if err := models.ValidateDataDir(config.Storage.DataDir); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults registers every default so env-only keys resolve too
func setDefaults(d models.ProjectConfig) {
	viper.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	viper.SetDefault("retry.initial_backoff_ms", d.Retry.InitialBackoffMs)
	viper.SetDefault("retry.max_backoff_ms", d.Retry.MaxBackoffMs)

	viper.SetDefault("queue.driver", string(d.Queue.Driver))
	viper.SetDefault("queue.dsn", d.Queue.DSN)
	viper.SetDefault("queue.jobs_dir", d.Queue.JobsDir)

	viper.SetDefault("storage.data_dir", d.Storage.DataDir)
	viper.SetDefault("schemas.dir", d.Schemas.Dir)

	viper.SetDefault("extraction.engine", string(d.Extraction.Engine))
	viper.SetDefault("extraction.tesseract_path", d.Extraction.TesseractPath)
	viper.SetDefault("extraction.language", d.Extraction.Language)
	viper.SetDefault("extraction.timeout_seconds", d.Extraction.TimeoutSeconds)
	viper.SetDefault("extraction.max_bytes", d.Extraction.MaxBytes)

	viper.SetDefault("normalize.unicode", d.Normalize.Unicode)
	viper.SetDefault("normalize.strip_invisible", d.Normalize.StripInvisible)
	viper.SetDefault("normalize.line_endings", d.Normalize.LineEndings)
	viper.SetDefault("normalize.collapse_blank_lines", d.Normalize.CollapseBlankLines)
	viper.SetDefault("normalize.collapse_whitespace", d.Normalize.CollapseWhitespace)
	viper.SetDefault("normalize.trim", d.Normalize.Trim)

	viper.SetDefault("telemetry.redis_addr", d.Telemetry.RedisAddr)
	viper.SetDefault("telemetry.stream", d.Telemetry.Stream)

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)

	viper.SetDefault("worker.batch_size", d.Worker.BatchSize)
}

// GetConfigFilePath returns the path to the config file that was loaded
func GetConfigFilePath() string {
	return viper.ConfigFileUsed()
}
