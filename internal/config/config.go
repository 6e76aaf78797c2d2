package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultConfigPath = "/app/config/legalqa.yaml"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Review     ReviewConfig     `mapstructure:"review"`
	Temporal   TemporalConfig   `mapstructure:"temporal"`
	Streaming  StreamingConfig  `mapstructure:"streaming"`
}

type ServerConfig struct {
	HTTPPort  int        `mapstructure:"http_port"`
	AdminPort int        `mapstructure:"admin_port"`
	Auth      AuthConfig `mapstructure:"auth"`
}

type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type LLMConfig struct {
	Provider          string        `mapstructure:"provider"` // service | anthropic
	ServiceURL        string        `mapstructure:"service_url"`
	Model             string        `mapstructure:"model"`
	ModelTier         string        `mapstructure:"model_tier"`
	APIKey            string        `mapstructure:"api_key"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Temperature       float64       `mapstructure:"temperature"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type RetrievalConfig struct {
	Backend     string            `mapstructure:"backend"` // qdrant | pgvector
	TopK        int               `mapstructure:"top_k"`
	Threshold   float64           `mapstructure:"threshold"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Collections map[string]string `mapstructure:"collections"`
	Qdrant      QdrantConfig      `mapstructure:"qdrant"`
	PGVector    PGVectorConfig    `mapstructure:"pgvector"`
	Embeddings  EmbeddingsConfig  `mapstructure:"embeddings"`
	Web         WebSearchConfig   `mapstructure:"web"`
}

type QdrantConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PGVectorConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

type EmbeddingsConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type WebSearchConfig struct {
	APIKey      string `mapstructure:"api_key"`
	Endpoint    string `mapstructure:"endpoint"`
	MaxResults  int    `mapstructure:"max_results"`
	SearchDepth string `mapstructure:"search_depth"`
}

type CheckpointConfig struct {
	Backend       string        `mapstructure:"backend"` // memory | redis | sql
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	Redis         RedisConfig   `mapstructure:"redis"`
	SQL           SQLConfig     `mapstructure:"sql"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	Prefix    string `mapstructure:"prefix"`
	CacheSize int    `mapstructure:"cache_size"`
}

type SQLConfig struct {
	Driver string `mapstructure:"driver"` // postgres | sqlite3
	DSN    string `mapstructure:"dsn"`
}

type WorkflowConfig struct {
	MaxGenerations       int     `mapstructure:"max_generations"`
	QueryRelevance       float64 `mapstructure:"query_relevance"`
	StripThreshold       float64 `mapstructure:"strip_threshold"`
	MaxParallelAgents    int     `mapstructure:"max_parallel_agents"`
	MaxSubAgentSteps     int     `mapstructure:"max_subagent_steps"`
	MaxReviewerToolTurns int     `mapstructure:"max_reviewer_tool_turns"`
}

type ReviewConfig struct {
	ReviewFallback     bool          `mapstructure:"review_fallback"`
	DegradeOnMalformed bool          `mapstructure:"degrade_on_malformed"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type StreamingConfig struct {
	RingCapacity int `mapstructure:"ring_capacity"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8081)
	v.SetDefault("server.admin_port", 2112)
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.issuer", "legalqa")
	v.SetDefault("server.auth.token_ttl", 30*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "legalqa")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("llm.provider", "service")
	v.SetDefault("llm.service_url", "http://llm-service:8000")
	v.SetDefault("llm.model", "claude-sonnet-4-5")
	v.SetDefault("llm.model_tier", "medium")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.requests_per_second", 5.0)
	v.SetDefault("llm.burst", 5)
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("retrieval.backend", "qdrant")
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.threshold", 0.0)
	v.SetDefault("retrieval.timeout", 10*time.Second)
	v.SetDefault("retrieval.collections", map[string]string{
		"personal": "personal_law",
		"labor":    "labor_law",
		"housing":  "housing_law",
	})
	v.SetDefault("retrieval.qdrant.host", "qdrant")
	v.SetDefault("retrieval.qdrant.port", 6333)
	v.SetDefault("retrieval.pgvector.table", "law_chunks")
	v.SetDefault("retrieval.embeddings.base_url", "http://llm-service:8000")
	v.SetDefault("retrieval.embeddings.model", "bge-m3")
	v.SetDefault("retrieval.embeddings.cache_size", 2048)
	v.SetDefault("retrieval.embeddings.cache_ttl", time.Hour)
	v.SetDefault("retrieval.web.endpoint", "https://api.tavily.com/search")
	v.SetDefault("retrieval.web.max_results", 10)
	v.SetDefault("retrieval.web.search_depth", "basic")

	v.SetDefault("checkpoint.backend", "memory")
	v.SetDefault("checkpoint.ttl", 24*time.Hour)
	v.SetDefault("checkpoint.sweep_interval", 10*time.Minute)
	v.SetDefault("checkpoint.lock_ttl", 5*time.Minute)
	v.SetDefault("checkpoint.redis.addr", "redis:6379")
	v.SetDefault("checkpoint.redis.prefix", "legalqa:")
	v.SetDefault("checkpoint.redis.cache_size", 1024)
	v.SetDefault("checkpoint.sql.driver", "postgres")

	v.SetDefault("workflow.max_generations", 2)
	v.SetDefault("workflow.query_relevance", 0.8)
	v.SetDefault("workflow.strip_threshold", 0.7)
	v.SetDefault("workflow.max_parallel_agents", 4)
	v.SetDefault("workflow.max_subagent_steps", 16)
	v.SetDefault("workflow.max_reviewer_tool_turns", 4)

	v.SetDefault("review.review_fallback", false)
	v.SetDefault("review.degrade_on_malformed", false)
	v.SetDefault("review.timeout", 30*time.Minute)

	v.SetDefault("temporal.enabled", false)
	v.SetDefault("temporal.host_port", "temporal:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "legalqa")

	v.SetDefault("streaming.ring_capacity", 256)
}

// envAliases binds the unprefixed variables the deployment already exports.
var envAliases = map[string][]string{
	"checkpoint.redis.addr":     {"REDIS_ADDR"},
	"checkpoint.redis.password": {"REDIS_PASSWORD"},
	"checkpoint.sql.dsn":        {"DATABASE_URL"},
	"llm.service_url":           {"LLM_SERVICE_URL"},
	"llm.api_key":               {"ANTHROPIC_API_KEY"},
	"retrieval.web.api_key":     {"TAVILY_API_KEY"},
	"retrieval.qdrant.host":     {"QDRANT_HOST"},
	"retrieval.pgvector.dsn":    {"PGVECTOR_DSN"},
	"server.auth.jwt_secret":    {"JWT_SECRET"},
	"temporal.host_port":        {"TEMPORAL_HOST"},
	"logging.level":             {"LOG_LEVEL"},
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("LEGALQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envAliases {
		_ = v.BindEnv(append([]string{key, "LEGALQA_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, envs...)...)
	}
	return v
}

// ConfigPath returns CONFIG_PATH or the container default.
func ConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads ConfigPath(). A missing file at the default location is not an error;
// a missing file the operator pointed at explicitly is.
func Load() (*Config, error) {
	l, err := NewLoader(ConfigPath(), os.Getenv("CONFIG_PATH") == "")
	if err != nil {
		return nil, err
	}
	return l.Config(), nil
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func readConfig(v *viper.Viper, optional bool) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if optional && (errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("read config: %w", err)
}

func (c *Config) Validate() error {
	switch c.Checkpoint.Backend {
	case "memory", "redis", "sql":
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	switch c.LLM.Provider {
	case "service", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Retrieval.Backend {
	case "qdrant", "pgvector":
	default:
		return fmt.Errorf("unknown retrieval backend %q", c.Retrieval.Backend)
	}
	if c.Workflow.MaxGenerations < 1 || c.Workflow.MaxGenerations > 2 {
		return fmt.Errorf("workflow.max_generations must be 1 or 2")
	}
	if c.Workflow.MaxParallelAgents < 1 {
		return fmt.Errorf("workflow.max_parallel_agents must be at least 1")
	}
	if c.Server.Auth.Enabled && c.Server.Auth.JWTSecret == "" {
		return fmt.Errorf("server.auth.enabled requires a jwt secret")
	}
	return nil
}
