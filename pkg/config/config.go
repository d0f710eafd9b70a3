package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Milvus     MilvusConfig
	SQLite     SQLiteConfig
	LLM        LLMConfig
	Classifier ClassifierConfig
	Router     RouterConfig
	Session    SessionConfig
	Rerank     RerankConfig
	Ingestion  IngestionConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	BodyLimit       int
	RequestTimeout  int
	MaxQueryLength  int
	MaxDocumentSize int
	AllowedOrigins  string
	HSTS            bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type SQLiteConfig struct {
	Path string
}

type LLMConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	ClassifierModel string
	Temperature     float32
	MaxTokens       int
	TimeoutSec      int
	EmbeddingModel  string
	EmbeddingDim    int
}

type ClassifierConfig struct {
	LLMEnabled                 bool
	LLMConfidenceThreshold     float64
	KeywordConfidenceThreshold float64
	MinTextLength              int
	MaxPreviewChars            int
	LLMTimeoutSec              int
}

type RouterConfig struct {
	SimilarityThreshold float64
	MaxCategories       int
	EmbedTimeoutSec     int
	QueryCacheSize      int
	FollowUpCues        []string
}

type SessionConfig struct {
	TimeoutSec int
	MaxHistory int
}

type RerankConfig struct {
	Lambda                float64
	TopK                  int
	CandidatesPerCategory int
}

type IngestionConfig struct {
	ChunkSize        int
	OverlapSentences int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/docrouter")

	v.SetEnvPrefix("DOCROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects thresholds outside [0,1] and non-positive limits.
func (c *Config) Validate() error {
	inUnit := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("invalid config: %s must be within [0,1], got %v", name, v)
		}
		return nil
	}

	checks := []error{
		inUnit("classifier.llmConfidenceThreshold", c.Classifier.LLMConfidenceThreshold),
		inUnit("classifier.keywordConfidenceThreshold", c.Classifier.KeywordConfidenceThreshold),
		inUnit("router.similarityThreshold", c.Router.SimilarityThreshold),
		inUnit("rerank.lambda", c.Rerank.Lambda),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if c.Router.MaxCategories < 1 {
		return fmt.Errorf("invalid config: router.maxCategories must be at least 1")
	}
	if c.Session.MaxHistory < 1 {
		return fmt.Errorf("invalid config: session.maxHistory must be at least 1")
	}
	if c.Session.TimeoutSec <= 0 {
		return fmt.Errorf("invalid config: session.timeoutSec must be positive")
	}

	return nil
}

func (c RouterConfig) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSec) * time.Second
}

func (c ClassifierConfig) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

func (c SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c ServerConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.requestTimeout", 45)
	v.SetDefault("server.maxQueryLength", 5000)
	v.SetDefault("server.maxDocumentSize", 10485760)
	v.SetDefault("server.allowedOrigins", "*")
	v.SetDefault("server.hsts", false)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.apiKey", "")
	v.SetDefault("milvus.collectionName", "docrouter_chunks")
	v.SetDefault("milvus.vectorDim", 1536)

	v.SetDefault("sqlite.path", "./data/docrouter.db")

	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.classifierModel", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 30)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)

	v.SetDefault("classifier.llmEnabled", true)
	v.SetDefault("classifier.llmConfidenceThreshold", 0.7)
	v.SetDefault("classifier.keywordConfidenceThreshold", 0.5)
	v.SetDefault("classifier.minTextLength", 50)
	v.SetDefault("classifier.maxPreviewChars", 2000)
	v.SetDefault("classifier.llmTimeoutSec", 20)

	v.SetDefault("router.similarityThreshold", 0.3)
	v.SetDefault("router.maxCategories", 3)
	v.SetDefault("router.embedTimeoutSec", 10)
	v.SetDefault("router.queryCacheSize", 1024)
	v.SetDefault("router.followUpCues", []string{"what about", "tell me more", "also", "can you", "thanks"})

	v.SetDefault("session.timeoutSec", 3600)
	v.SetDefault("session.maxHistory", 10)

	v.SetDefault("rerank.lambda", 0.5)
	v.SetDefault("rerank.topK", 5)
	v.SetDefault("rerank.candidatesPerCategory", 10)

	v.SetDefault("ingestion.chunkSize", 1000)
	v.SetDefault("ingestion.overlapSentences", 1)

	v.SetDefault("ratelimit.requestsPerMinute", 120)
	v.SetDefault("ratelimit.burst", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
