// Package config provides unified configuration loading for TomeHub.
// Values cascade: compiled defaults, then the optional YAML file, then
// environment variables. Binaries call Load once and hand the blocks to
// the packages that consume them; this package imports none of them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	LLM           LLMConfig           `yaml:"llm"`
	Search        SearchConfig        `yaml:"search"`
	ExternalKB    ExternalKBConfig    `yaml:"external_kb"`
	Perf          PerfConfig          `yaml:"perf"`
	Analytics     AnalyticsConfig     `yaml:"analytics"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig selects the storage backend. The memory driver keeps
// everything in process and is the development default.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // memory, sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds the search-cache settings. The memory driver runs
// the in-process L1 alone; layered adds Redis behind it.
type CacheConfig struct {
	Driver       string        `yaml:"driver"` // memory or layered
	L1TTL        time.Duration `yaml:"l1_ttl"`
	L1MaxEntries int           `yaml:"l1_max_entries"`
	Redis        RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the L2 cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// EmbeddingConfig holds the embedding provider settings. ModelVersion
// participates in cache keys so a model upgrade invalidates stale
// entries without a manual flush.
type EmbeddingConfig struct {
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url"`
	Dimension    int           `yaml:"dimension"`
	Timeout      time.Duration `yaml:"timeout"`
	ModelVersion string        `yaml:"model_version"`
}

// LLMConfig holds provider credentials, the model ladder and the
// explorer/pro fallback policy.
type LLMConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	QwenAPIKey   string `yaml:"qwen_api_key"`

	LiteModel  string `yaml:"lite_model"`
	FlashModel string `yaml:"flash_model"`
	ProModel   string `yaml:"pro_model"`

	// ModelVersion participates in cache keys alongside the embedding
	// model version.
	ModelVersion string `yaml:"model_version"`

	Explorer    ExplorerConfig    `yaml:"explorer"`
	ProFallback ProFallbackConfig `yaml:"pro_fallback"`
}

// ExplorerConfig gates the Qwen pilot lane for high-complexity
// questions.
type ExplorerConfig struct {
	QwenPilotEnabled       bool   `yaml:"qwen_pilot_enabled"`
	PrimaryProvider        string `yaml:"primary_provider"`
	PrimaryModel           string `yaml:"primary_model"`
	RPMCap                 int    `yaml:"rpm_cap"`
	SecondaryMaxPerRequest int    `yaml:"secondary_max_per_request"`
}

// ProFallbackConfig gates the flash to pro escalation path.
type ProFallbackConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxPerRequest int  `yaml:"max_per_request"`
}

// SearchConfig holds the retrieval policy knobs.
type SearchConfig struct {
	// ModeRoutingEnabled turns intent-based bucket selection on. When
	// false every request runs the default-mode buckets.
	ModeRoutingEnabled bool   `yaml:"mode_routing_enabled"`
	RouterMode         string `yaml:"router_mode"`  // rule_based or static
	DefaultMode        string `yaml:"default_mode"` // balanced, fast_exact or semantic_focus
	FusionMode         string `yaml:"fusion_mode"`  // rrf or concat

	NoiseGuardEnabled            bool `yaml:"noise_guard_enabled"`
	TypoRescueEnabled            bool `yaml:"typo_rescue_enabled"`
	LemmaSeedFallbackEnabled     bool `yaml:"lemma_seed_fallback_enabled"`
	DynamicSingleTokenCapEnabled bool `yaml:"dynamic_single_token_semantic_cap_enabled"`

	SemanticTailCap int `yaml:"semantic_tail_cap"`
	Workers         int `yaml:"workers"`

	CacheEnabled bool `yaml:"cache_enabled"`

	Compare CompareConfig     `yaml:"compare"`
	Graph   GraphConfig       `yaml:"graph"`
	Shadow  ShadowIndexConfig `yaml:"shadow"`
}

// CompareConfig holds the multi-book comparison policy.
type CompareConfig struct {
	Enabled           bool          `yaml:"enabled"`
	TargetMax         int           `yaml:"target_max"`
	PrimaryPerBook    int           `yaml:"primary_per_book"`
	SecondaryPerBook  int           `yaml:"secondary_per_book"`
	Timeout           time.Duration `yaml:"timeout"`
	SecondaryMaxRatio float64       `yaml:"secondary_max_ratio"`
	// CanaryUserIDs limits compare to the listed users while the policy
	// rolls out. Empty admits everyone.
	CanaryUserIDs []string `yaml:"canary_user_ids"`
}

// GraphConfig bounds the concept-graph side paths.
type GraphConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	BridgeTimeout time.Duration `yaml:"bridge_timeout"`
	DirectSkip    bool          `yaml:"direct_skip"`
}

// ShadowIndexConfig gates the shadow-index read path to allow-listed
// users and items.
type ShadowIndexConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedUserIDs []string `yaml:"allowed_user_ids"`
	AllowedItemIDs []string `yaml:"allowed_item_ids"`
}

// ExternalKBConfig holds the external knowledge-base augmentation
// settings. Weights are keyed by provider name as stored on edges.
type ExternalKBConfig struct {
	Enabled         bool               `yaml:"enabled"`
	MaxCandidates   int                `yaml:"max_candidates"`
	MinConfidence   float64            `yaml:"min_confidence"`
	TopItems        int                `yaml:"top_items"`
	Weight          float64            `yaml:"weight"`
	PrimaryProvider string             `yaml:"primary_provider"`
	ProviderWeights map[string]float64 `yaml:"provider_weights"`
}

// PerfConfig holds the latency-program flags. Each defaults to off and
// is enabled per environment once proven.
type PerfConfig struct {
	RewriteGuardEnabled      bool `yaml:"rewrite_guard_enabled"`
	ContextBudgetEnabled     bool `yaml:"context_budget_enabled"`
	OutputBudgetEnabled      bool `yaml:"output_budget_enabled"`
	ExpansionTailFixEnabled  bool `yaml:"expansion_tail_fix_enabled"`
	SupplementaryGateEnabled bool `yaml:"supplementary_gate_enabled"`
	MaxOutputTokensStandard  int  `yaml:"max_output_tokens_standard"`
}

// AnalyticsConfig holds the search-log writer settings.
type AnalyticsConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Async         bool          `yaml:"async"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json or console
}

// AuthConfig holds the API key gate for the HTTP surface.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// Load reads configuration from the given YAML file path with
// environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	// The embedder shares the Gemini credential unless given its own.
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.GeminiAPIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      60 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "memory",
			SQLite: SQLiteConfig{
				Path:         "./data/tomehub.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:       "memory",
			L1TTL:        5 * time.Minute,
			L1MaxEntries: 2048,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "tomehub",
			},
		},
		Embedding: EmbeddingConfig{
			Model:     "gemini-embedding-001",
			Dimension: 768,
			Timeout:   30 * time.Second,
		},
		LLM: LLMConfig{
			LiteModel:  "gemini-2.5-flash-lite",
			FlashModel: "gemini-2.5-flash",
			ProModel:   "gemini-2.5-pro",
			Explorer: ExplorerConfig{
				PrimaryProvider:        "qwen",
				PrimaryModel:           "qwen-plus",
				RPMCap:                 35,
				SecondaryMaxPerRequest: 1,
			},
			ProFallback: ProFallbackConfig{
				MaxPerRequest: 1,
			},
		},
		Search: SearchConfig{
			ModeRoutingEnabled: true,
			RouterMode:         "rule_based",
			DefaultMode:        "balanced",
			FusionMode:         "concat",
			NoiseGuardEnabled:  true,
			SemanticTailCap:    6,
			Workers:            6,
			CacheEnabled:       true,
			Compare: CompareConfig{
				TargetMax:         8,
				PrimaryPerBook:    5,
				SecondaryPerBook:  3,
				Timeout:           2500 * time.Millisecond,
				SecondaryMaxRatio: 1.0 / 3.0,
			},
			Graph: GraphConfig{
				Timeout:       120 * time.Millisecond,
				BridgeTimeout: 650 * time.Millisecond,
			},
		},
		ExternalKB: ExternalKBConfig{
			MaxCandidates:   12,
			MinConfidence:   0.45,
			TopItems:        3,
			Weight:          0.15,
			PrimaryProvider: "OPENLIBRARY",
			ProviderWeights: map[string]float64{
				"OPENLIBRARY": 1.0,
				"WIKIDATA":    0.85,
			},
		},
		Perf: PerfConfig{
			MaxOutputTokensStandard: 650,
		},
		Analytics: AnalyticsConfig{
			BufferSize:    256,
			FlushInterval: 5 * time.Second,
			Async:         true,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver requires a dsn")
	}

	switch c.Cache.Driver {
	case "memory", "layered":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	switch c.Search.RouterMode {
	case "rule_based", "static":
	default:
		return fmt.Errorf("invalid search router mode: %s", c.Search.RouterMode)
	}

	switch c.Search.DefaultMode {
	case "balanced", "fast_exact", "semantic_focus":
	default:
		return fmt.Errorf("invalid search default mode: %s", c.Search.DefaultMode)
	}

	switch c.Search.FusionMode {
	case "rrf", "concat":
	default:
		return fmt.Errorf("invalid retrieval fusion mode: %s", c.Search.FusionMode)
	}

	if c.Search.SemanticTailCap < 1 {
		return fmt.Errorf("semantic tail cap must be at least 1")
	}

	if c.Search.Compare.TargetMax < 2 {
		return fmt.Errorf("compare target max must be at least 2")
	}

	if r := c.Search.Compare.SecondaryMaxRatio; r <= 0 || r > 1 {
		return fmt.Errorf("compare secondary max ratio must be in (0,1]: %v", r)
	}

	if m := c.ExternalKB.MinConfidence; m < 0 || m > 1 {
		return fmt.Errorf("external kb min confidence must be in [0,1]: %v", m)
	}

	if c.Perf.MaxOutputTokensStandard < 1 {
		return fmt.Errorf("max output tokens must be at least 1")
	}

	if c.LLM.Explorer.RPMCap < 1 {
		return fmt.Errorf("explorer rpm cap must be at least 1")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Database.Driver != "postgres" || !c.Auth.Enabled
}

// DatabaseDSN returns the connection string for the configured driver.
// The memory driver has no DSN.
func (c *Config) DatabaseDSN() string {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.JournalMode != "" {
			return fmt.Sprintf("file:%s?_journal_mode=%s",
				c.Database.SQLite.Path, strings.ToUpper(c.Database.SQLite.JournalMode))
		}
		return c.Database.SQLite.Path
	case "postgres":
		return c.Database.Postgres.DSN
	}
	return ""
}

// CacheVersion returns the embedding model identifier used in cache
// keys: the pinned version when set, otherwise the model name.
func (c *Config) CacheVersion() string {
	if c.Embedding.ModelVersion != "" {
		return c.Embedding.ModelVersion
	}
	return c.Embedding.Model
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	envString("SERVER_HOST", &cfg.Server.Host)
	envInt("SERVER_PORT", &cfg.Server.Port)

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		} else if v == "memory" {
			cfg.Database.Driver = "memory"
		}
	}
	envString("POSTGRES_URL", &cfg.Database.Postgres.DSN)

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "layered"
		// Accept the bare host:port form of the redis:// URL.
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}
	envDuration("CACHE_L1_TTL", &cfg.Cache.L1TTL)

	envString("EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	envString("EMBEDDING_MODEL", &cfg.Embedding.Model)
	envString("EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL)
	envInt("EMBEDDING_DIMENSION", &cfg.Embedding.Dimension)
	envString("EMBEDDING_MODEL_VERSION", &cfg.Embedding.ModelVersion)

	envString("GEMINI_API_KEY", &cfg.LLM.GeminiAPIKey)
	envString("QWEN_API_KEY", &cfg.LLM.QwenAPIKey)
	envString("LLM_MODEL_LITE", &cfg.LLM.LiteModel)
	envString("LLM_MODEL_FLASH", &cfg.LLM.FlashModel)
	envString("LLM_MODEL_PRO", &cfg.LLM.ProModel)
	envString("LLM_MODEL_VERSION", &cfg.LLM.ModelVersion)

	envBool("LLM_EXPLORER_QWEN_PILOT_ENABLED", &cfg.LLM.Explorer.QwenPilotEnabled)
	envString("LLM_EXPLORER_PRIMARY_PROVIDER", &cfg.LLM.Explorer.PrimaryProvider)
	envString("LLM_EXPLORER_PRIMARY_MODEL", &cfg.LLM.Explorer.PrimaryModel)
	envInt("LLM_EXPLORER_RPM_CAP", &cfg.LLM.Explorer.RPMCap)
	envInt("LLM_EXPLORER_SECONDARY_MAX_PER_REQUEST", &cfg.LLM.Explorer.SecondaryMaxPerRequest)
	envBool("LLM_PRO_FALLBACK_ENABLED", &cfg.LLM.ProFallback.Enabled)
	envInt("LLM_PRO_FALLBACK_MAX_PER_REQUEST", &cfg.LLM.ProFallback.MaxPerRequest)

	envBool("SEARCH_MODE_ROUTING_ENABLED", &cfg.Search.ModeRoutingEnabled)
	envString("SEARCH_ROUTER_MODE", &cfg.Search.RouterMode)
	envString("SEARCH_DEFAULT_MODE", &cfg.Search.DefaultMode)
	envString("RETRIEVAL_FUSION_MODE", &cfg.Search.FusionMode)
	envBool("SEARCH_NOISE_GUARD_ENABLED", &cfg.Search.NoiseGuardEnabled)
	envBool("SEARCH_TYPO_RESCUE_ENABLED", &cfg.Search.TypoRescueEnabled)
	envBool("SEARCH_LEMMA_SEED_FALLBACK_ENABLED", &cfg.Search.LemmaSeedFallbackEnabled)
	envBool("SEARCH_DYNAMIC_SINGLE_TOKEN_SEMANTIC_CAP_ENABLED", &cfg.Search.DynamicSingleTokenCapEnabled)
	envInt("SEARCH_SMART_SEMANTIC_TAIL_CAP", &cfg.Search.SemanticTailCap)

	envBool("SEARCH_COMPARE_POLICY_ENABLED", &cfg.Search.Compare.Enabled)
	envInt("SEARCH_COMPARE_TARGET_MAX", &cfg.Search.Compare.TargetMax)
	envInt("SEARCH_COMPARE_PRIMARY_PER_BOOK", &cfg.Search.Compare.PrimaryPerBook)
	envInt("SEARCH_COMPARE_SECONDARY_PER_BOOK", &cfg.Search.Compare.SecondaryPerBook)
	envMillis("SEARCH_COMPARE_TIMEOUT_MS", &cfg.Search.Compare.Timeout)
	envFloat("SEARCH_COMPARE_SECONDARY_MAX_RATIO", &cfg.Search.Compare.SecondaryMaxRatio)
	if v := os.Getenv("SEARCH_COMPARE_CANARY_UIDS"); v != "" {
		cfg.Search.Compare.CanaryUserIDs = splitCSV(v)
	}

	envMillis("SEARCH_GRAPH_TIMEOUT_MS", &cfg.Search.Graph.Timeout)
	envMillis("SEARCH_GRAPH_BRIDGE_TIMEOUT_MS", &cfg.Search.Graph.BridgeTimeout)
	envBool("SEARCH_GRAPH_DIRECT_SKIP", &cfg.Search.Graph.DirectSkip)

	envBool("EXTERNAL_KB_ENABLED", &cfg.ExternalKB.Enabled)
	envInt("EXTERNAL_KB_MAX_CANDIDATES", &cfg.ExternalKB.MaxCandidates)
	envFloat("EXTERNAL_KB_MIN_CONFIDENCE", &cfg.ExternalKB.MinConfidence)
	for provider := range cfg.ExternalKB.ProviderWeights {
		key := "EXTERNAL_KB_WEIGHT_" + strings.ToUpper(provider)
		if w, ok := lookupFloat(key); ok {
			cfg.ExternalKB.ProviderWeights[provider] = w
		}
	}

	envBool("L3_PERF_REWRITE_GUARD_ENABLED", &cfg.Perf.RewriteGuardEnabled)
	envBool("L3_PERF_CONTEXT_BUDGET_ENABLED", &cfg.Perf.ContextBudgetEnabled)
	envBool("L3_PERF_OUTPUT_BUDGET_ENABLED", &cfg.Perf.OutputBudgetEnabled)
	envBool("L3_PERF_EXPANSION_TAIL_FIX_ENABLED", &cfg.Perf.ExpansionTailFixEnabled)
	envBool("L3_PERF_SUPPLEMENTARY_GATE_ENABLED", &cfg.Perf.SupplementaryGateEnabled)
	envInt("L3_PERF_MAX_OUTPUT_TOKENS_STANDARD", &cfg.Perf.MaxOutputTokensStandard)

	envString("LOG_LEVEL", &cfg.Observability.LogLevel)
	envString("LOG_FORMAT", &cfg.Observability.LogFormat)

	envBool("AUTH_ENABLED", &cfg.Auth.Enabled)
	if v := os.Getenv("TOMEHUB_API_KEY"); v != "" {
		cfg.Auth.Enabled = true
		cfg.Auth.APIKey = v
	}
}

func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func envFloat(key string, target *float64) {
	if f, ok := lookupFloat(key); ok {
		*target = f
	}
}

func lookupFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// envMillis reads an integer millisecond value, matching the _MS suffix
// of the option name.
func envMillis(key string, target *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			*target = time.Duration(ms) * time.Millisecond
		}
	}
}

// envDuration reads a Go duration string such as "5m" or "90s".
func envDuration(key string, target *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*target = d
		}
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
