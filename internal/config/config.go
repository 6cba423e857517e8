package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the root service configuration, loaded from config/recap.yaml
// with environment overrides applied on top.
type Config struct {
	Service     ServiceConfig     `mapstructure:"service"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Qdrant      QdrantConfig      `mapstructure:"qdrant"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	Embeddings  EmbeddingsConfig  `mapstructure:"embeddings"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Search      SearchConfig      `mapstructure:"search"`
	Research    ResearchConfig    `mapstructure:"research"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Degradation DegradationConfig `mapstructure:"degradation"`
	Health      HealthConfig      `mapstructure:"health"`
}

// ServiceConfig contains the HTTP surface and lifecycle settings.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	AdminPort       int           `mapstructure:"admin_port"`
	ResolveTimeout  time.Duration `mapstructure:"resolve_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
}

// LoggingConfig contains zap logger settings.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"`
}

// RedisConfig contains answer-tier store settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QdrantConfig contains fact-tier vector store settings.
type QdrantConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	FactsCollection    string        `mapstructure:"facts_collection"`
	QueryMapCollection string        `mapstructure:"query_map_collection"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// URL returns the Qdrant HTTP base URL.
func (q QdrantConfig) URL() string {
	return fmt.Sprintf("http://%s:%d", q.Host, q.Port)
}

// OpenAIConfig contains completion-model settings.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Temperature     float64       `mapstructure:"temperature"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// EmbeddingsConfig contains embedding-model and embedding-cache settings.
type EmbeddingsConfig struct {
	Model     string        `mapstructure:"model"`
	Dimension int           `mapstructure:"dimension"`
	MaxLRU    int           `mapstructure:"max_lru"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// CacheConfig contains tiered-cache behavior knobs.
type CacheConfig struct {
	KeyPrefix          string        `mapstructure:"key_prefix"`
	AnswerTTL          time.Duration `mapstructure:"answer_ttl"`
	MinAnswerLength    int           `mapstructure:"min_answer_length"`
	FactTTLDays        int           `mapstructure:"fact_ttl_days"`
	FactScoreThreshold float64       `mapstructure:"fact_score_threshold"`
	FactSearchLimit    int           `mapstructure:"fact_search_limit"`
	QueryMapThreshold  float64       `mapstructure:"query_map_threshold"`
	QueryMapTTL        time.Duration `mapstructure:"query_map_ttl"`
}

// SearchConfig contains provider-chain behavior knobs. Provider endpoints,
// ordering and rate limits live in the sources file, not here.
type SearchConfig struct {
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	MaxResults      int           `mapstructure:"max_results"`
}

// ResearchConfig contains orchestrator bounds.
type ResearchConfig struct {
	MaxIterations       int           `mapstructure:"max_iterations"`
	MaxConcurrentUnits  int           `mapstructure:"max_concurrent_units"`
	MaxToolCallsPerUnit int           `mapstructure:"max_tool_calls_per_unit"`
	MinFactsSufficient  int           `mapstructure:"min_facts_sufficient"`
	UnitTimeout         time.Duration `mapstructure:"unit_timeout"`
	MinReportLength     int           `mapstructure:"min_report_length"`
}

// TracingConfig mirrors the tracing package's settings so the whole service
// configures from one file.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// DegradationConfig contains degradation-manager settings.
type DegradationConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// HealthConfig contains health-manager settings.
type HealthConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	CheckTimeout  time.Duration `mapstructure:"check_timeout"`
}

// Default returns the full configuration with production defaults. Load
// overlays the config file and environment on top of this.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Port:            8080,
			AdminPort:       8081,
			ResolveTimeout:  180 * time.Second,
			GracefulTimeout: 30 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    200 * time.Second,
			MaxHeaderBytes:  1 << 20,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Development: false,
			Encoding:    "json",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Qdrant: QdrantConfig{
			Host:               "localhost",
			Port:               6333,
			FactsCollection:    "recap_facts",
			QueryMapCollection: "recap_query_map",
			Timeout:            10 * time.Second,
		},
		OpenAI: OpenAIConfig{
			CompletionModel: "gpt-4o-mini",
			MaxTokens:       2048,
			Temperature:     0.2,
			Timeout:         60 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			MaxLRU:    1000,
			CacheTTL:  24 * time.Hour,
			Timeout:   30 * time.Second,
		},
		Cache: CacheConfig{
			KeyPrefix:          "recap:answers",
			AnswerTTL:          7 * 24 * time.Hour,
			MinAnswerLength:    200,
			FactTTLDays:        30,
			FactScoreThreshold: 0.75,
			FactSearchLimit:    10,
			QueryMapThreshold:  0.85,
			QueryMapTTL:        7 * 24 * time.Hour,
		},
		Search: SearchConfig{
			ProviderTimeout: 10 * time.Second,
			MaxResults:      5,
		},
		Research: ResearchConfig{
			MaxIterations:       2,
			MaxConcurrentUnits:  3,
			MaxToolCallsPerUnit: 4,
			MinFactsSufficient:  3,
			UnitTimeout:         60 * time.Second,
			MinReportLength:     50,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "recap-resolver",
			OTLPEndpoint: "localhost:4317",
		},
		Degradation: DegradationConfig{
			Enabled:       true,
			CheckInterval: 30 * time.Second,
		},
		Health: HealthConfig{
			Enabled:       true,
			CheckInterval: 30 * time.Second,
			CheckTimeout:  10 * time.Second,
		},
	}
}

// Load reads config/recap.yaml (or CONFIG_PATH), overlays it on the
// defaults, then applies environment overrides. A missing config file is not
// an error; the defaults plus environment stand alone.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		for _, candidate := range []string{"config/recap.yaml", "/app/config/recap.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envInt("PORT", &cfg.Service.Port)
	envInt("ADMIN_PORT", &cfg.Service.AdminPort)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_ENCODING"); v != "" {
		cfg.Logging.Encoding = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	envInt("REDIS_DB", &cfg.Redis.DB)

	if v := os.Getenv("QDRANT_HOST"); v != "" {
		cfg.Qdrant.Host = v
	}
	envInt("QDRANT_PORT", &cfg.Qdrant.Port)

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("COMPLETION_MODEL"); v != "" {
		cfg.OpenAI.CompletionModel = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embeddings.Model = v
	}

	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.OTLPEndpoint = v
	}
}

// envInt parses an integer environment variable into dst when present and
// positive.
func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			*dst = x
		}
	}
}

// Validate rejects configurations that would violate the pipeline's bounds.
func (c *Config) Validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port out of range: %d", c.Service.Port)
	}
	if c.Service.AdminPort <= 0 || c.Service.AdminPort > 65535 {
		return fmt.Errorf("service.admin_port out of range: %d", c.Service.AdminPort)
	}
	if c.Cache.AnswerTTL <= 0 {
		return fmt.Errorf("cache.answer_ttl must be positive, got %s", c.Cache.AnswerTTL)
	}
	if c.Cache.FactTTLDays <= 0 {
		return fmt.Errorf("cache.fact_ttl_days must be positive, got %d", c.Cache.FactTTLDays)
	}
	if c.Cache.FactScoreThreshold <= 0 || c.Cache.FactScoreThreshold > 1 {
		return fmt.Errorf("cache.fact_score_threshold must be in (0,1], got %f", c.Cache.FactScoreThreshold)
	}
	if c.Cache.QueryMapThreshold <= 0 || c.Cache.QueryMapThreshold > 1 {
		return fmt.Errorf("cache.query_map_threshold must be in (0,1], got %f", c.Cache.QueryMapThreshold)
	}
	if c.Research.MaxIterations < 1 {
		return fmt.Errorf("research.max_iterations must be at least 1, got %d", c.Research.MaxIterations)
	}
	if c.Research.MaxConcurrentUnits < 1 {
		return fmt.Errorf("research.max_concurrent_units must be at least 1, got %d", c.Research.MaxConcurrentUnits)
	}
	if c.Research.MaxToolCallsPerUnit < 1 {
		return fmt.Errorf("research.max_tool_calls_per_unit must be at least 1, got %d", c.Research.MaxToolCallsPerUnit)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings.dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	return nil
}
