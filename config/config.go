// Package config provides configuration management for dealgraph services.
//
// Configuration is loaded with the following precedence (later overrides
// earlier):
//  1. Defaults (SetDefaults)
//  2. YAML file (./config.yaml, ./configs/config.yaml, /etc/dealgraph/config.yaml)
//  3. Environment variables with the DD_ prefix (DD_SERVER_PORT=8095)
//
// Legacy flat environment variables used by deployment tooling (DB_URL,
// GRAPH_URL, CACHE_URL, EMBED_PROVIDER and friends) are bound explicitly so
// both naming schemes work.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	BodyLimit       string        `mapstructure:"body_limit"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	Debug           bool          `mapstructure:"debug"`
	// WebhookSecret authenticates internal callbacks such as
	// /webhooks/document-uploaded.
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// DatabaseConfig contains relational store settings (transaction pool URL).
type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// GraphConfig contains knowledge-graph backend settings.
type GraphConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// MergeThreshold is the cosine similarity above which entity candidates
	// are automatically merged into an existing entity. Tunable per deploy;
	// the default of 0.85 is a starting point.
	MergeThreshold float64 `mapstructure:"merge_threshold"`
}

// CacheConfig contains shared cache settings. When URL is empty the service
// runs with the in-memory fallback only.
type CacheConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// BlobConfig contains object store settings.
type BlobConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// EmbedConfig enumerates embedding client settings.
type EmbedConfig struct {
	Provider            string  `mapstructure:"provider"`
	FallbackProvider    string  `mapstructure:"fallback_provider"`
	Model               string  `mapstructure:"model"`
	Dimensions          int     `mapstructure:"dimensions"`
	BatchSize           int     `mapstructure:"batch_size"`
	MaxTokensPerRequest int     `mapstructure:"max_tokens_per_request"`
	RateLimitQPS        float64 `mapstructure:"rate_limit_qps"`
	APIKey              string  `mapstructure:"api_key"`
}

// RerankConfig enumerates reranker settings.
type RerankConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
}

// LLMConfig contains chat-model settings.
type LLMConfig struct {
	APIKey string `mapstructure:"api_key"`
	// CallTimeout is the hard deadline per model call.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// JobsConfig contains worker runtime settings.
type JobsConfig struct {
	MaxConcurrency      int           `mapstructure:"max_concurrency"`
	AnalysisConcurrency int           `mapstructure:"analysis_concurrency"`
	VisibilityTimeout   time.Duration `mapstructure:"visibility_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	// FanoutURL is the AMQP endpoint for document status fan-out; empty
	// disables fan-out.
	FanoutURL   string `mapstructure:"fanout_url"`
	FanoutQueue string `mapstructure:"fanout_queue"`
}

// AuthConfig contains token verification settings.
type AuthConfig struct {
	// JWTSecret signs and verifies HS256 bearer tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
	// TokenTTL bounds issued token lifetimes.
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// AlertsConfig contains cost and error alert thresholds.
type AlertsConfig struct {
	DailyCostUSD float64 `mapstructure:"daily_cost_usd"`
	ErrorRatePct float64 `mapstructure:"error_rate_pct"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the root configuration for a dealgraph service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Embed    EmbedConfig    `mapstructure:"embed"`
	Rerank   RerankConfig   `mapstructure:"rerank"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SetDefaults applies default values to the viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.body_limit", "100M")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 300*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 0)

	v.SetDefault("database.max_connections", 20)

	v.SetDefault("graph.url", "bolt://localhost:7687")
	v.SetDefault("graph.username", "neo4j")
	v.SetDefault("graph.merge_threshold", 0.85)

	v.SetDefault("embed.provider", "gemini")
	v.SetDefault("embed.model", "gemini-embedding-001")
	v.SetDefault("embed.dimensions", 1536)
	v.SetDefault("embed.batch_size", 64)
	v.SetDefault("embed.max_tokens_per_request", 20000)
	v.SetDefault("embed.rate_limit_qps", 10)

	v.SetDefault("rerank.provider", "gemini")
	v.SetDefault("rerank.model", "gemini-2.0-flash")

	v.SetDefault("llm.call_timeout", 60*time.Second)

	v.SetDefault("jobs.max_concurrency", 8)
	v.SetDefault("jobs.analysis_concurrency", 4)
	v.SetDefault("jobs.visibility_timeout", 10*time.Minute)
	v.SetDefault("jobs.max_retries", 3)
	v.SetDefault("jobs.fanout_queue", "document-status")

	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("alerts.daily_cost_usd", 100)
	v.SetDefault("alerts.error_rate_pct", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// legacyBindings maps flat deployment environment variables onto viper keys.
var legacyBindings = map[string]string{
	"database.url":            "DB_URL",
	"graph.url":               "GRAPH_URL",
	"graph.password":          "GRAPH_AUTH",
	"cache.url":               "CACHE_URL",
	"cache.token":             "CACHE_TOKEN",
	"blob.bucket":             "BLOB_BUCKET",
	"blob.secret_key":         "BLOB_CREDENTIALS",
	"embed.provider":          "EMBED_PROVIDER",
	"embed.model":             "EMBED_MODEL",
	"embed.dimensions":        "EMBED_DIM",
	"rerank.provider":         "RERANK_PROVIDER",
	"rerank.model":            "RERANK_MODEL",
	"auth.jwt_secret":         "JWT_SECRET",
	"server.webhook_secret":   "WEBHOOK_SECRET",
	"jobs.max_concurrency":    "MAX_JOB_CONCURRENCY",
	"jobs.visibility_timeout": "VISIBILITY_TIMEOUT_SECONDS",
	"jobs.max_retries":        "MAX_RETRIES",
	"alerts.daily_cost_usd":   "DAILY_COST_ALERT_USD",
	"alerts.error_rate_pct":   "ERROR_RATE_ALERT_PCT",
}

// LoadConfig reads configuration. The optional configFile argument forces a
// specific file; otherwise the standard search paths are tried and a missing
// file is not an error.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dealgraph")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("DD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyBindings {
		if val := os.Getenv(env); val != "" {
			// VISIBILITY_TIMEOUT_SECONDS carries a bare number of seconds.
			if key == "jobs.visibility_timeout" {
				v.Set(key, val+"s")
				continue
			}
			v.Set(key, val)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for required values.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url (DB_URL) is required")
	}
	if c.Graph.URL == "" {
		return fmt.Errorf("graph.url (GRAPH_URL) is required")
	}
	if c.Graph.MergeThreshold <= 0 || c.Graph.MergeThreshold > 1 {
		return fmt.Errorf("graph.merge_threshold must be in (0, 1], got %v", c.Graph.MergeThreshold)
	}
	if c.Embed.BatchSize <= 0 {
		return fmt.Errorf("embed.batch_size must be positive")
	}
	return nil
}

// FlagOverride returns the value of a FEATURE_<NAME> environment override for
// the given flag name, if present. Flag names are upper-cased with dashes
// mapped to underscores: "sourceErrorCascadeEnabled" reads
// FEATURE_SOURCEERRORCASCADEENABLED.
func FlagOverride(name string) (enabled bool, ok bool) {
	env := "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	val, ok := os.LookupEnv(env)
	if !ok {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	default:
		return false, true
	}
}
