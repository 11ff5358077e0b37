package common

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Server    ServerConfig    `mapstructure:"server"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Retry     RetryConfig     `mapstructure:"retry"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig holds the queue item store settings
type DatabaseConfig struct {
	QueuePath   string        `mapstructure:"queue_path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// TemplatesConfig selects and configures the template registry
type TemplatesConfig struct {
	Source           string        `mapstructure:"source"` // "postgres" | "file"
	DSN              string        `mapstructure:"dsn"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	MaxConnLifetime  time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `mapstructure:"max_conn_idle_time"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	File             string        `mapstructure:"file"`
	ProposalsFile    string        `mapstructure:"proposals_file"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr    string `mapstructure:"grpc_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	Target      string `mapstructure:"target"` // intaked address used by clients
}

// WatcherConfig holds ingestion watcher configuration
type WatcherConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Dir           string        `mapstructure:"dir"`
	UsePolling    bool          `mapstructure:"use_polling"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Quiescence    time.Duration `mapstructure:"quiescence"`
	Extensions    []string      `mapstructure:"extensions"`
	InitialScan   bool          `mapstructure:"initial_scan"`
	ScanInterval  time.Duration `mapstructure:"scan_interval"`
	OrphanAfter   time.Duration `mapstructure:"orphan_after"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	SubmitRate    float64       `mapstructure:"submit_rate"` // forwards per second, 0 = unlimited
	CallingAppID  string        `mapstructure:"calling_app_id"`
	LockFile      string        `mapstructure:"lock_file"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract   string        `mapstructure:"tesseract"`
	Pdftoppm    string        `mapstructure:"pdftoppm"`
	Lang        string        `mapstructure:"lang"`
	TessdataDir string        `mapstructure:"tessdata_dir"`
	PSM         int           `mapstructure:"psm"`
	OEM         int           `mapstructure:"oem"`
	DPI         int           `mapstructure:"dpi"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PipelineConfig sizes the asynchronous worker pool
type PipelineConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

// MatchingConfig holds template matcher tuning
type MatchingConfig struct {
	MinSimilarity float64 `mapstructure:"min_similarity"`
	TieEpsilon    float64 `mapstructure:"tie_epsilon"`
	MaxCandidates int     `mapstructure:"max_candidates"`
}

// ScoringConfig holds confidence weights and tier thresholds
type ScoringConfig struct {
	WeightOCR             float64 `mapstructure:"weight_ocr"`
	WeightExtraction      float64 `mapstructure:"weight_extraction"`
	WeightPattern         float64 `mapstructure:"weight_pattern"`
	WeightValidation      float64 `mapstructure:"weight_validation"`
	HighThreshold         float64 `mapstructure:"high_threshold"`
	MediumThreshold       float64 `mapstructure:"medium_threshold"`
	Tolerance             string  `mapstructure:"tolerance"`
	ReconciliationCeiling float64 `mapstructure:"reconciliation_ceiling"`
	OCRFailureCeiling     float64 `mapstructure:"ocr_failure_ceiling"`
}

// RetryConfig holds retry and circuit breaker settings
type RetryConfig struct {
	MaxAttempts             int           `mapstructure:"max_attempts"`
	InitialBackoff          time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff              time.Duration `mapstructure:"max_backoff"`
	Multiplier              float64       `mapstructure:"multiplier"`
	BreakerEnabled          bool          `mapstructure:"breaker_enabled"`
	BreakerMinRequests      uint32        `mapstructure:"breaker_min_requests"`
	BreakerFailureRatio     float64       `mapstructure:"breaker_failure_ratio"`
	BreakerOpenTimeout      time.Duration `mapstructure:"breaker_open_timeout"`
	BreakerHalfOpenMaxCalls uint32        `mapstructure:"breaker_half_open_max_calls"`
}

// NATSConfig holds hand-off publisher settings. Empty URL disables publishing.
type NATSConfig struct {
	URL              string `mapstructure:"url"`
	FinalizedSubject string `mapstructure:"finalized_subject"`
	ReviewSubject    string `mapstructure:"review_subject"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" | "json"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.queue_path", "./data/intake.db")
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("templates.source", "file")
	v.SetDefault("templates.dsn", "")
	v.SetDefault("templates.max_conns", 10)
	v.SetDefault("templates.min_conns", 1)
	v.SetDefault("templates.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("templates.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("templates.dial_timeout", 3*time.Second)
	v.SetDefault("templates.statement_timeout", time.Duration(0))
	v.SetDefault("templates.file", "./templates.yaml")
	v.SetDefault("templates.proposals_file", "./template_proposals.yaml")
	v.SetDefault("templates.cache_ttl", 30*time.Second)

	v.SetDefault("server.grpc_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.target", "localhost:8080")

	v.SetDefault("watcher.enabled", true)
	v.SetDefault("watcher.dir", "./inbox")
	v.SetDefault("watcher.use_polling", false)
	v.SetDefault("watcher.poll_interval", time.Second)
	v.SetDefault("watcher.quiescence", 2*time.Second)
	v.SetDefault("watcher.extensions", []string{"pdf", "jpg", "jpeg", "png", "tif", "tiff"})
	v.SetDefault("watcher.initial_scan", true)
	v.SetDefault("watcher.scan_interval", time.Minute)
	v.SetDefault("watcher.orphan_after", 5*time.Minute)
	v.SetDefault("watcher.stale_after", time.Hour)
	v.SetDefault("watcher.max_concurrent", 4)
	v.SetDefault("watcher.submit_rate", 0.0)
	v.SetDefault("watcher.calling_app_id", "intake-watcher")
	v.SetDefault("watcher.lock_file", "")

	v.SetDefault("ocr.tesseract", "tesseract")
	v.SetDefault("ocr.pdftoppm", "pdftoppm")
	v.SetDefault("ocr.lang", "eng")
	v.SetDefault("ocr.tessdata_dir", "")
	v.SetDefault("ocr.psm", 6)
	v.SetDefault("ocr.oem", 0)
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.timeout", 30*time.Second)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.process_timeout", 3*time.Minute)

	v.SetDefault("matching.min_similarity", 0.80)
	v.SetDefault("matching.tie_epsilon", 0.01)
	v.SetDefault("matching.max_candidates", 5)

	v.SetDefault("scoring.weight_ocr", 0.30)
	v.SetDefault("scoring.weight_extraction", 0.40)
	v.SetDefault("scoring.weight_pattern", 0.20)
	v.SetDefault("scoring.weight_validation", 0.10)
	v.SetDefault("scoring.high_threshold", 0.85)
	v.SetDefault("scoring.medium_threshold", 0.70)
	v.SetDefault("scoring.tolerance", "0.01")
	v.SetDefault("scoring.reconciliation_ceiling", 0.84)
	v.SetDefault("scoring.ocr_failure_ceiling", 0.50)

	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_backoff", 500*time.Millisecond)
	v.SetDefault("retry.max_backoff", 10*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.breaker_enabled", true)
	v.SetDefault("retry.breaker_min_requests", 10)
	v.SetDefault("retry.breaker_failure_ratio", 0.5)
	v.SetDefault("retry.breaker_open_timeout", 30*time.Second)
	v.SetDefault("retry.breaker_half_open_max_calls", 2)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.finalized_subject", "receipts.finalized")
	v.SetDefault("nats.review_subject", "receipts.review")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads defaults, then the optional config file at path (or
// $INTAKE_CONFIG), then INTAKE_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv("INTAKE_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("read config %s", path), err)
		}
	}

	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, NewAppError("CONFIG_ERROR", "unmarshal config", err)
	}
	return &c, nil
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if c.Database.QueuePath == "" {
		return NewAppError("CONFIG_ERROR", "database.queue_path is required", ErrInvalidInput)
	}
	switch c.Templates.Source {
	case "postgres":
		if c.Templates.DSN == "" {
			return NewAppError("CONFIG_ERROR", "templates.dsn is required for the postgres registry", ErrInvalidInput)
		}
	case "file":
		if c.Templates.File == "" {
			return NewAppError("CONFIG_ERROR", "templates.file is required for the file registry", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("templates.source %q must be postgres or file", c.Templates.Source), ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "server.grpc_addr is required", ErrInvalidInput)
	}
	if c.Watcher.Enabled && c.Watcher.Dir == "" {
		return NewAppError("CONFIG_ERROR", "watcher.dir is required when the watcher is enabled", ErrInvalidInput)
	}
	if c.OCR.Timeout <= 0 {
		return NewAppError("CONFIG_ERROR", "ocr.timeout must be positive", ErrInvalidInput)
	}
	s := c.Scoring
	sum := s.WeightOCR + s.WeightExtraction + s.WeightPattern + s.WeightValidation
	if math.Abs(sum-1) > 1e-6 {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("scoring weights must sum to 1, got %.4f", sum), ErrInvalidInput)
	}
	if !(0 < s.MediumThreshold && s.MediumThreshold < s.HighThreshold && s.HighThreshold <= 1) {
		return NewAppError("CONFIG_ERROR", "scoring thresholds must satisfy 0 < medium < high <= 1", ErrInvalidInput)
	}
	if c.Matching.MinSimilarity < 0 || c.Matching.MinSimilarity > 1 {
		return NewAppError("CONFIG_ERROR", "matching.min_similarity must be within [0,1]", ErrInvalidInput)
	}
	return nil
}
