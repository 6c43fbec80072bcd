package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the supportkb API configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Index      IndexConfig      `yaml:"index"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Prompt     PromptConfig     `yaml:"prompt"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// IndexConfig holds vector index settings. Exactly one driver is active.
type IndexConfig struct {
	Driver   string         `yaml:"driver"` // pinecone, redis (default: pinecone)
	Name     string         `yaml:"name"`
	Pinecone PineconeConfig `yaml:"pinecone"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PineconeConfig holds hosted Pinecone index settings.
type PineconeConfig struct {
	APIKey string `yaml:"api_key"`
	Host   string `yaml:"host"` // index host URL, e.g. https://myindex-abc123.svc.us-east-1.pinecone.io
}

// RedisConfig holds self-hosted Redis index settings.
type RedisConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
}

// EmbeddingConfig holds embedding provider settings. One model/dimension
// per index: both ingestion and query embeddings go through this model,
// differing only in the instruction prefix.
type EmbeddingConfig struct {
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	Model              string `yaml:"model"`
	Dimensions         int    `yaml:"dimensions"`
	QueryInstruction   string `yaml:"query_instruction"`
	PassageInstruction string `yaml:"passage_instruction"`
}

// CompletionConfig holds chat completion provider settings.
type CompletionConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	EmptyAnswer string  `yaml:"empty_answer"` // returned when the model produces no content
}

// RetrievalConfig holds retrieval tuning knobs.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	ScoreThreshold float64 `yaml:"score_threshold"` // matches must score strictly above this
	MaxPassages    int     `yaml:"max_passages"`
}

// PromptConfig holds prompt template settings.
type PromptConfig struct {
	ProductName     string            `yaml:"product_name"`
	DefaultLanguage string            `yaml:"default_language"`
	Fallbacks       map[string]string `yaml:"fallbacks"` // language code -> exact fallback phrase
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Index.Driver == "" {
		c.Index.Driver = "pinecone"
	}
	if c.Index.Redis.KeyPrefix == "" {
		c.Index.Redis.KeyPrefix = "supportkb:"
	}
	if c.Index.Redis.ReadinessTimeout <= 0 {
		c.Index.Redis.ReadinessTimeout = 10
	}
	if c.Index.Redis.HNSWM <= 0 {
		c.Index.Redis.HNSWM = 32
	}
	if c.Index.Redis.HNSWEFConstruct <= 0 {
		c.Index.Redis.HNSWEFConstruct = 400
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "intfloat/multilingual-e5-large"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1024
	}
	if c.Embedding.QueryInstruction == "" {
		c.Embedding.QueryInstruction = "query: "
	}
	if c.Embedding.PassageInstruction == "" {
		c.Embedding.PassageInstruction = "passage: "
	}
	if c.Completion.Model == "" {
		c.Completion.Model = "llama-3.1-8b-instant"
	}
	if c.Completion.MaxTokens <= 0 {
		c.Completion.MaxTokens = 1024
	}
	if c.Completion.EmptyAnswer == "" {
		c.Completion.EmptyAnswer = "Inget svar från AI (tom context)."
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.ScoreThreshold <= 0 {
		c.Retrieval.ScoreThreshold = 0.4
	}
	if c.Retrieval.MaxPassages <= 0 {
		c.Retrieval.MaxPassages = 5
	}
	if c.Prompt.ProductName == "" {
		c.Prompt.ProductName = "FortusPay"
	}
	if c.Prompt.DefaultLanguage == "" {
		c.Prompt.DefaultLanguage = "sv"
	}
	if len(c.Prompt.Fallbacks) == 0 {
		c.Prompt.Fallbacks = map[string]string{
			"sv": "Tyvärr hittade jag ingen information om detta. Kontakta vår support på support@fortuspay.com så hjälper vi dig vidare.",
			"en": "Unfortunately I could not find any information about this. Please contact our support at support@fortuspay.com and we will help you further.",
		}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Index.Driver {
	case "pinecone":
		if c.Index.Pinecone.Host == "" {
			return fmt.Errorf("index.pinecone.host is required for the pinecone driver")
		}
	case "redis":
		if len(c.Index.Redis.Addrs) == 0 {
			return fmt.Errorf("index.redis.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("index.driver must be \"pinecone\" or \"redis\", got %q", c.Index.Driver)
	}
	if c.Retrieval.ScoreThreshold >= 1 {
		return fmt.Errorf("retrieval.score_threshold must be below 1, got %g", c.Retrieval.ScoreThreshold)
	}
	if _, ok := c.Prompt.Fallbacks[c.Prompt.DefaultLanguage]; !ok {
		return fmt.Errorf("prompt.fallbacks has no entry for default language %q", c.Prompt.DefaultLanguage)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
