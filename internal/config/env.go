package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store and provider selectors.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	ObjectStoreS3     = "s3"
	ObjectStoreMemory = "memory"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	DatabaseURL string
	SslCertPath string
	StoreDriver string
	ObjectStore string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	EmbedProvider      string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	AIAPIKey           string
	EmbedModel         string
	EmbedDim           int
	EmbedBatchSize     int
	EmbedBatchDelay    time.Duration
	EmbedTimeout       time.Duration
	EmbedStrict        bool
	EmbedMaxInputChars int

	ChunkSize    int
	ChunkOverlap int

	RetrievalThreshold float64
	RetrievalLimit     int

	IngestWorkers int
	GenModel      string
	JWTSecret     string
	Port          string
	Debug         bool

	// ConfigFile is the YAML overlay that was applied, if any.
	ConfigFile string
	// Extra holds unknown keys from the YAML overlay.
	Extra map[string]any
	// Warnings collects values that were rejected while loading. They are
	// logged once the logger exists.
	Warnings []string
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		StoreDriver:        StorePostgres,
		ObjectStore:        ObjectStoreS3,
		AwsRegion:          "us-east-2",
		BucketName:         "kbforge-docs",
		EmbedProvider:      ProviderOpenAI,
		EmbedBatchSize:     100,
		EmbedBatchDelay:    200 * time.Millisecond,
		EmbedTimeout:       10 * time.Second,
		ChunkSize:          500,
		ChunkOverlap:       50,
		RetrievalThreshold: 0.7,
		RetrievalLimit:     5,
		IngestWorkers:      2,
		Port:               "8080",
	}
}

// LoadConfig loads .env, the optional CONFIG_FILE overlay, then environment
// variables, in increasing precedence.
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	cfg := Defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		fc.Apply(cfg)
		cfg.ConfigFile = path
	}

	cfg.applyEnv()

	if cfg.EmbedModel == "" {
		cfg.EmbedModel = defaultEmbedModel(cfg.EmbedProvider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.SslCertPath = getEnv("SSL_CERT_PATH", c.SslCertPath)
	c.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", c.StoreDriver))
	c.ObjectStore = strings.ToLower(getEnv("OBJECT_STORE", c.ObjectStore))

	c.AwsAccessKey = getEnv("AWS_ACCESS_KEY", c.AwsAccessKey)
	c.AwsSecretKey = getEnv("AWS_SECRET_KEY", c.AwsSecretKey)
	c.AwsRegion = getEnv("AWS_REGION", c.AwsRegion)
	c.BucketName = getEnv("BUCKET_NAME", c.BucketName)

	c.EmbedProvider = strings.ToLower(getEnv("EMBED_PROVIDER", c.EmbedProvider))
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.AIAPIKey = getEnv("GEMINI_API_KEY", c.AIAPIKey)
	c.EmbedModel = getEnv("EMBED_MODEL", c.EmbedModel)
	c.EmbedDim = c.getEnvInt("EMBED_DIM", c.EmbedDim)
	c.EmbedBatchSize = c.getEnvInt("EMBED_BATCH_SIZE", c.EmbedBatchSize)
	c.EmbedBatchDelay = c.getEnvDuration("EMBED_BATCH_DELAY", c.EmbedBatchDelay)
	c.EmbedTimeout = c.getEnvDuration("EMBED_TIMEOUT", c.EmbedTimeout)
	c.EmbedStrict = c.getEnvBool("EMBED_STRICT", c.EmbedStrict)
	c.EmbedMaxInputChars = c.getEnvInt("EMBED_MAX_INPUT_CHARS", c.EmbedMaxInputChars)

	c.ChunkSize = c.getEnvInt("CHUNK_SIZE", c.ChunkSize)
	c.ChunkOverlap = c.getEnvInt("CHUNK_OVERLAP", c.ChunkOverlap)

	c.RetrievalThreshold = c.getEnvFloat("RETRIEVAL_THRESHOLD", c.RetrievalThreshold)
	c.RetrievalLimit = c.getEnvInt("RETRIEVAL_LIMIT", c.RetrievalLimit)

	c.IngestWorkers = c.getEnvInt("INGEST_WORKERS", c.IngestWorkers)
	c.GenModel = getEnv("GEN_MODEL", c.GenModel)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.Port = getEnv("PORT", c.Port)
	c.Debug = c.getEnvBool("DEBUG", c.Debug)
}

// Validate rejects combinations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL not set (STORE_DRIVER=%s)", c.StoreDriver)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.ObjectStore {
	case ObjectStoreS3, ObjectStoreMemory:
	default:
		return fmt.Errorf("unknown OBJECT_STORE %q", c.ObjectStore)
	}
	switch c.EmbedProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown EMBED_PROVIDER %q", c.EmbedProvider)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.RetrievalThreshold < 0 || c.RetrievalThreshold > 1 {
		return fmt.Errorf("RETRIEVAL_THRESHOLD must be in [0, 1], got %g", c.RetrievalThreshold)
	}
	if c.RetrievalLimit < 1 {
		return fmt.Errorf("RETRIEVAL_LIMIT must be at least 1, got %d", c.RetrievalLimit)
	}
	if c.IngestWorkers < 1 {
		return fmt.Errorf("INGEST_WORKERS must be at least 1, got %d", c.IngestWorkers)
	}
	return nil
}

// EmbeddingCredential is the API key for the selected embedding provider.
func (c *Config) EmbeddingCredential() string {
	if c.EmbedProvider == ProviderGemini {
		return c.AIAPIKey
	}
	return c.OpenAIAPIKey
}

func defaultEmbedModel(provider string) string {
	if provider == ProviderGemini {
		return "text-embedding-004"
	}
	return "text-embedding-3-small"
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func (c *Config) getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.warnf("%s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func (c *Config) getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.warnf("%s=%q not a number, using default %g", key, v, def)
		return def
	}
	return f
}

func (c *Config) getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		c.warnf("%s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}

func (c *Config) getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// bare integers are milliseconds
		if ms, convErr := strconv.Atoi(v); convErr == nil {
			return time.Duration(ms) * time.Millisecond
		}
		c.warnf("%s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}
