package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	OCR           OCRConfig           `yaml:"ocr" mapstructure:"ocr"`
	Pipeline      PipelineConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	Confidence    ConfidenceConfig    `yaml:"confidence" mapstructure:"confidence"`
	Consolidation ConsolidationConfig `yaml:"consolidation" mapstructure:"consolidation"`
	Breaker       BreakerConfig       `yaml:"breaker" mapstructure:"breaker"`
	Batch         BatchConfig         `yaml:"batch" mapstructure:"batch"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Monitoring    MonitoringConfig    `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing       PricingConfig       `yaml:"pricing" mapstructure:"pricing"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OCRConfig configures the document text extraction engines. Primary is tried
// first; Fallback (if set) runs when the primary fails, times out, or is
// short-circuited by the breaker.
type OCRConfig struct {
	Primary       string `yaml:"primary" mapstructure:"primary"`
	Fallback      string `yaml:"fallback" mapstructure:"fallback"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
	HTTPEndpoint  string `yaml:"http_endpoint" mapstructure:"http_endpoint"`
	HTTPKey       string `yaml:"http_api_key" mapstructure:"http_api_key"`
	HTTPMethod    string `yaml:"http_method_tag" mapstructure:"http_method_tag"`
}

// PricingConfig holds OCR rates in USD keyed by extraction method. Entries
// override the built-in rates.
type PricingConfig struct {
	PerPage map[string]float64 `yaml:"per_page" mapstructure:"per_page"`
	PerCall map[string]float64 `yaml:"per_call" mapstructure:"per_call"`
}

// PipelineConfig configures the per-report extraction pipeline.
type PipelineConfig struct {
	MinTextChars          int    `yaml:"min_text_chars" mapstructure:"min_text_chars"`
	QualityThreshold      int    `yaml:"quality_threshold" mapstructure:"quality_threshold"`
	RequireStructuredData bool   `yaml:"require_structured_data" mapstructure:"require_structured_data"`
	PatternsFile          string `yaml:"patterns_file" mapstructure:"patterns_file"`
}

// ConfidenceConfig holds the per-method base scores for extraction attempts.
type ConfidenceConfig struct {
	Methods     map[string]float64 `yaml:"methods" mapstructure:"methods"`
	UnknownBase float64            `yaml:"unknown_base" mapstructure:"unknown_base"`
}

// ConsolidationConfig configures multi-source reconciliation.
type ConsolidationConfig struct {
	DefaultStrategy string  `yaml:"default_strategy" mapstructure:"default_strategy"`
	ReviewThreshold float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	ConflictRatio   float64 `yaml:"conflict_ratio" mapstructure:"conflict_ratio"`
}

// BreakerConfig configures the circuit breaker around the primary OCR engine.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentReports int     `yaml:"max_concurrent_reports" mapstructure:"max_concurrent_reports"`
	OCRRatePerSec        float64 `yaml:"ocr_rate_per_sec" mapstructure:"ocr_rate_per_sec"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the background health checker run by serve.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ReviewRateThreshold  float64 `yaml:"review_rate_threshold" mapstructure:"review_rate_threshold"`
	StuckAfterMins       int     `yaml:"stuck_after_mins" mapstructure:"stuck_after_mins"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BUREAU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "bureau.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("ocr.primary", "mistral")
	v.SetDefault("ocr.fallback", "pdftotext")
	v.SetDefault("ocr.timeout_secs", 120)
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "pixtral-large-latest")
	v.SetDefault("ocr.http_method_tag", "docsumo")
	v.SetDefault("pipeline.min_text_chars", 100)
	v.SetDefault("pipeline.quality_threshold", 40)
	v.SetDefault("pipeline.require_structured_data", true)
	v.SetDefault("confidence.methods", map[string]float64{
		"docsumo":   0.86,
		"mistral":   0.86,
		"pdftotext": 0.6,
		"fallback":  0.3,
	})
	v.SetDefault("confidence.unknown_base", 0.6)
	v.SetDefault("consolidation.default_strategy", "highest_confidence")
	v.SetDefault("consolidation.review_threshold", 0.7)
	v.SetDefault("consolidation.conflict_ratio", 0.5)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_secs", 60)
	v.SetDefault("batch.max_concurrent_reports", 4)
	v.SetDefault("batch.ocr_rate_per_sec", 2.0)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.review_rate_threshold", 0.5)
	v.SetDefault("monitoring.stuck_after_mins", 30)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is one of "pipeline",
// "serve" or "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}

	switch mode {
	case "store":
	case "pipeline", "serve":
		if c.OCR.Primary == "" {
			errs = append(errs, "ocr.primary is required")
		}
		if c.OCR.TimeoutSecs <= 0 {
			errs = append(errs, "ocr.timeout_secs must be > 0")
		}
		if c.Pipeline.MinTextChars < 0 {
			errs = append(errs, "pipeline.min_text_chars must be >= 0")
		}
		if c.Pipeline.QualityThreshold < 0 || c.Pipeline.QualityThreshold > 100 {
			errs = append(errs, "pipeline.quality_threshold must be between 0 and 100")
		}
		if c.Consolidation.ReviewThreshold < 0 || c.Consolidation.ReviewThreshold > 1 {
			errs = append(errs, "consolidation.review_threshold must be between 0 and 1")
		}
		if c.Consolidation.ConflictRatio <= 0 {
			errs = append(errs, "consolidation.conflict_ratio must be > 0")
		}
		for method, base := range c.Confidence.Methods {
			if base < 0 || base > 1 {
				errs = append(errs, fmt.Sprintf("confidence.methods.%s must be between 0 and 1", method))
			}
		}
		if c.Batch.MaxConcurrentReports < 1 || c.Batch.MaxConcurrentReports > 50 {
			errs = append(errs, "batch.max_concurrent_reports must be between 1 and 50")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
