package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ProviderSource describes one search provider in the fallback chain. The
// slice order in the sources file is the chain's priority order.
type ProviderSource struct {
	Name              string `yaml:"name"`
	Endpoint          string `yaml:"endpoint"`
	APIKeyEnv         string `yaml:"api_key_env"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	MaxResults        int    `yaml:"max_results"`
	// Tavily-specific knobs; other providers ignore them.
	SearchDepth string `yaml:"search_depth,omitempty"`
	RecencyDays int    `yaml:"recency_days,omitempty"`
}

// RequestTimeout returns the per-provider timeout as a duration.
func (p ProviderSource) RequestTimeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// APIKey resolves the provider's key from the environment. Providers without
// an APIKeyEnv (DuckDuckGo) return an empty string.
func (p ProviderSource) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// ValidationRules gates whether a provider's result set is acceptable and how
// individual results are scored.
type ValidationRules struct {
	MinResults       int     `yaml:"min_results"`
	MinRelevantShare float64 `yaml:"min_relevant_share"`
	OfficialBoost    float64 `yaml:"official_boost"`
	PricingBoost     float64 `yaml:"pricing_boost"`
}

// SourcesConfig is the sources file: provider chain, vendor-domain table,
// and the keyword tables the classifier and validator score against.
type SourcesConfig struct {
	Providers        []ProviderSource    `yaml:"providers"`
	OfficialDomains  []string            `yaml:"official_domains"`
	PricingKeywords  []string            `yaml:"pricing_keywords"`
	CategoryKeywords map[string][]string `yaml:"category_keywords"`
	CategoryWeights  map[string]float64  `yaml:"category_weights"`
	Validation       ValidationRules     `yaml:"validation"`
}

// SourcesStore holds the current sources configuration and supports
// hot-reloading it from disk. Readers call Get on every use so a reload is
// visible without restart.
type SourcesStore struct {
	mu     sync.RWMutex
	cfg    *SourcesConfig
	path   string
	logger *zap.Logger
}

// NewSourcesStore loads the sources file from SOURCES_CONFIG_PATH or the
// first existing candidate path. A missing file yields the built-in defaults.
func NewSourcesStore(logger *zap.Logger) (*SourcesStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	path := os.Getenv("SOURCES_CONFIG_PATH")
	if path == "" {
		for _, candidate := range []string{"config/sources.yaml", "/app/config/sources.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	store := &SourcesStore{path: path, logger: logger}
	if path == "" {
		store.cfg = defaultSourcesConfig()
		logger.Info("No sources file found, using built-in defaults")
		return store, nil
	}

	if err := store.Reload(); err != nil {
		return nil, err
	}
	return store, nil
}

// Get returns the current configuration. The returned value must be treated
// as read-only.
func (s *SourcesStore) Get() *SourcesConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Path returns the watched file path, empty when running on defaults.
func (s *SourcesStore) Path() string {
	return s.path
}

// Reload re-reads the sources file and swaps it in. The previous
// configuration stays active when the new file fails to parse or validate.
func (s *SourcesStore) Reload() error {
	cfg, err := loadSourcesFile(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.logger.Info("Sources configuration loaded",
		zap.String("path", s.path),
		zap.Int("providers", len(cfg.Providers)),
		zap.Int("official_domains", len(cfg.OfficialDomains)),
	)
	return nil
}

func loadSourcesFile(path string) (*SourcesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var cfg SourcesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}

	applySourcesDefaults(&cfg)

	if err := validateSources(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateSources(cfg *SourcesConfig) error {
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("sources file declares no providers")
	}
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
	}
	if cfg.Validation.MinRelevantShare < 0 || cfg.Validation.MinRelevantShare > 1 {
		return fmt.Errorf("validation.min_relevant_share must be in [0,1], got %f", cfg.Validation.MinRelevantShare)
	}
	return nil
}

func applySourcesDefaults(cfg *SourcesConfig) {
	for i, p := range cfg.Providers {
		if p.TimeoutSeconds == 0 {
			p.TimeoutSeconds = 10
		}
		if p.RequestsPerMinute == 0 {
			p.RequestsPerMinute = 60
		}
		if p.MaxResults == 0 {
			p.MaxResults = 5
		}
		if p.Name == "tavily" {
			if p.SearchDepth == "" {
				p.SearchDepth = "advanced"
			}
			if p.RecencyDays == 0 {
				p.RecencyDays = 90
			}
		}
		cfg.Providers[i] = p
	}

	if cfg.Validation.MinResults == 0 {
		cfg.Validation.MinResults = 2
	}
	if cfg.Validation.MinRelevantShare == 0 {
		cfg.Validation.MinRelevantShare = 0.5
	}
	if cfg.Validation.OfficialBoost == 0 {
		cfg.Validation.OfficialBoost = 1.5
	}
	if cfg.Validation.PricingBoost == 0 {
		cfg.Validation.PricingBoost = 1.2
	}

	if len(cfg.PricingKeywords) == 0 {
		cfg.PricingKeywords = defaultPricingKeywords()
	}
	if len(cfg.CategoryKeywords) == 0 {
		cfg.CategoryKeywords = defaultCategoryKeywords()
	}
	if len(cfg.CategoryWeights) == 0 {
		cfg.CategoryWeights = defaultCategoryWeights()
	}
}

// ProviderByName returns the named provider's settings.
func (c *SourcesConfig) ProviderByName(name string) (ProviderSource, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderSource{}, false
}

// IsOfficialDomain reports whether rawURL belongs to a known vendor domain.
// Subdomains match their parent: docs.openai.com is official when openai.com
// is listed.
func (c *SourcesConfig) IsOfficialDomain(rawURL string) bool {
	host := rawURL
	if strings.Contains(rawURL, "://") {
		if u, err := url.Parse(rawURL); err == nil {
			host = u.Hostname()
		}
	}
	host = strings.ToLower(strings.TrimPrefix(host, "www."))

	for _, domain := range c.OfficialDomains {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// HasPricingSignal reports whether the text mentions pricing vocabulary.
func (c *SourcesConfig) HasPricingSignal(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range c.PricingKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// defaultSourcesConfig backs the service when no sources file is present.
func defaultSourcesConfig() *SourcesConfig {
	cfg := &SourcesConfig{
		Providers: []ProviderSource{
			{
				Name:              "tavily",
				Endpoint:          "https://api.tavily.com/search",
				APIKeyEnv:         "TAVILY_API_KEY",
				TimeoutSeconds:    10,
				RequestsPerMinute: 60,
				MaxResults:        5,
				SearchDepth:       "advanced",
				RecencyDays:       90,
			},
			{
				Name:              "brave",
				Endpoint:          "https://api.search.brave.com/res/v1/web/search",
				APIKeyEnv:         "BRAVE_API_KEY",
				TimeoutSeconds:    10,
				RequestsPerMinute: 60,
				MaxResults:        5,
			},
			{
				Name:              "duckduckgo",
				Endpoint:          "https://lite.duckduckgo.com/lite/",
				TimeoutSeconds:    10,
				RequestsPerMinute: 30,
				MaxResults:        5,
			},
		},
		OfficialDomains: []string{
			"openai.com",
			"anthropic.com",
			"google.com",
			"deepmind.google",
			"microsoft.com",
			"github.com",
			"huggingface.co",
			"meta.com",
			"mistral.ai",
			"cohere.com",
			"x.ai",
			"perplexity.ai",
			"stability.ai",
			"midjourney.com",
			"runwayml.com",
			"cursor.com",
			"jetbrains.com",
			"replit.com",
			"vercel.com",
			"langchain.com",
			"llamaindex.ai",
			"pinecone.io",
			"qdrant.tech",
			"aws.amazon.com",
			"azure.microsoft.com",
		},
		Validation: ValidationRules{
			MinResults:       2,
			MinRelevantShare: 0.5,
			OfficialBoost:    1.5,
			PricingBoost:     1.2,
		},
	}
	cfg.PricingKeywords = defaultPricingKeywords()
	cfg.CategoryKeywords = defaultCategoryKeywords()
	cfg.CategoryWeights = defaultCategoryWeights()
	return cfg
}

func defaultPricingKeywords() []string {
	return []string{
		"price", "pricing", "cost", "costs", "free", "paid", "subscription",
		"plan", "tier", "trial", "per month", "per seat", "billing", "credit",
	}
}

func defaultCategoryKeywords() map[string][]string {
	return map[string][]string{
		"language": {
			"language", "languages", "multilingual", "translate", "translation",
			"portuguese", "spanish", "english", "french", "german", "japanese",
			"chinese", "locale",
		},
		"integration": {
			"integration", "integrate", "api", "plugin", "webhook", "sdk",
			"extension", "connect", "import", "export", "sync",
		},
		"workflow": {
			"workflow", "how to", "tutorial", "guide", "setup", "configure",
			"steps", "automate", "use case",
		},
		"price": {
			"price", "pricing", "cost", "free", "paid", "subscription", "plan",
			"cheap", "expensive", "trial",
		},
		"security": {
			"security", "privacy", "gdpr", "compliance", "encryption", "soc2",
			"data retention", "safe",
		},
	}
}

func defaultCategoryWeights() map[string]float64 {
	return map[string]float64{
		"language":    0.30,
		"integration": 0.20,
		"workflow":    0.20,
		"price":       0.15,
		"security":    0.15,
	}
}
