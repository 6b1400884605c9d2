package models

// ProjectConfig is the top-level configuration for rythmiq
type ProjectConfig struct {
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Queue      QueueConfig      `yaml:"queue" json:"queue"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Schemas    SchemasConfig    `yaml:"schemas" json:"schemas"`
	Extraction ExtractionConfig `yaml:"extraction" json:"extraction"`
	Normalize  NormalizeOptions `yaml:"normalize" json:"normalize"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Worker     WorkerConfig     `yaml:"worker" json:"worker"`
}

// RetryConfig controls retry behavior for transient errors
type RetryConfig struct {
	MaxAttempts      int   `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoffMs int64 `yaml:"initial_backoff_ms" json:"initial_backoff_ms"`
	MaxBackoffMs     int64 `yaml:"max_backoff_ms" json:"max_backoff_ms"`
}

// QueueDriver selects the job store backing the queue
type QueueDriver string

const (
	QueueDriverMemory   QueueDriver = "memory"
	QueueDriverFile     QueueDriver = "file"
	QueueDriverSQLite   QueueDriver = "sqlite"
	QueueDriverPostgres QueueDriver = "postgres"
)

// QueueConfig selects and locates the job store
type QueueConfig struct {
	Driver  QueueDriver `yaml:"driver" json:"driver"`
	DSN     string      `yaml:"dsn" json:"dsn"`           // sqlite path or postgres URL
	JobsDir string      `yaml:"jobs_dir" json:"jobs_dir"` // file driver only
}

// StorageConfig locates blobs and artifacts on disk
type StorageConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// SchemasConfig locates schema definition files
type SchemasConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// ExtractionEngine selects the text extraction engine
type ExtractionEngine string

const (
	EngineAuto      ExtractionEngine = "auto"
	EngineText      ExtractionEngine = "text"
	EnginePDF       ExtractionEngine = "pdf"
	EngineTesseract ExtractionEngine = "tesseract"
)

// ExtractionConfig configures the extraction engines
type ExtractionConfig struct {
	Engine         ExtractionEngine `yaml:"engine" json:"engine"`
	TesseractPath  string           `yaml:"tesseract_path" json:"tesseract_path"`
	Language       string           `yaml:"language" json:"language"`
	TimeoutSeconds int              `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxBytes       int64            `yaml:"max_bytes" json:"max_bytes"`
}

// TelemetryConfig configures the job event sinks. Empty RedisAddr disables the stream sink.
type TelemetryConfig struct {
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	Stream    string `yaml:"stream" json:"stream"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // json or console
}

// WorkerConfig configures batch draining
type WorkerConfig struct {
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() ProjectConfig {
	return ProjectConfig{
		Retry: RetryConfig{
			MaxAttempts:      3,
			InitialBackoffMs: 1000,
			MaxBackoffMs:     60000,
		},
		Queue: QueueConfig{
			Driver:  QueueDriverFile,
			JobsDir: "./data/jobs",
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Schemas: SchemasConfig{
			Dir: "./schemas",
		},
		Extraction: ExtractionConfig{
			Engine:         EngineAuto,
			TesseractPath:  "tesseract",
			Language:       "eng",
			TimeoutSeconds: 60,
			MaxBytes:       20 << 20, // 20MB
		},
		Normalize: DefaultNormalizeOptions(),
		Telemetry: TelemetryConfig{
			Stream: "rythmiq:jobs",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Worker: WorkerConfig{
			BatchSize: 10,
		},
	}
}
