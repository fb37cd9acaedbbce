// Package config loads the ingestion pipeline's configuration from the
// environment (optionally seeded by a .env file), validates the fields that
// have no safe default, and returns a single Config value passed
// explicitly into every stage constructor.
package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ragforge/docpipe/engine/model"
)

func lookupEnv(key string) string { return os.Getenv(key) }

// Config holds every tunable of the crawl→extract→chunk→embed→upload
// pipeline. A Config is built once per CLI invocation; the embed and
// pipeline subcommands override its chunking fields from their flags.
type Config struct {
	// Provider credentials (required, no default).
	CohereAPIKey string
	QdrantURL    string
	QdrantAPIKey string

	// Source.
	DocusaurusURL string
	SitemapURL    string

	// Chunking.
	ChunkSize    int
	ChunkOverlap int

	// Embedding.
	EmbeddingModel      string
	EmbeddingDimensions int
	CohereBatchSize     int
	CohereMaxRPM        int

	// Crawl concurrency.
	MaxConcurrentRequests int
	RequestDelay          time.Duration

	// Vector store.
	QdrantCollection string
	QdrantUseTLS     bool

	// Paths.
	DataDir      string
	CacheDir     string
	StateDir     string
	LogsDir      string
	EmbeddingsPath string
}

// Load reads environment variables (after trying to load envPath, or ".env"
// when envPath is empty) and returns a validated Config.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := Config{
		CohereAPIKey: getEnv("COHERE_API_KEY", ""),
		QdrantURL:    getEnv("QDRANT_URL", ""),
		QdrantAPIKey: getEnv("QDRANT_API_KEY", ""),

		DocusaurusURL: getEnv("DOCUSAURUS_URL", "https://docs.example.com"),
		SitemapURL:    getEnv("SITEMAP_URL", ""),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 512),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 50),

		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "embed-english-v3.0"),
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1024),
		CohereBatchSize:     getEnvInt("COHERE_BATCH_SIZE", 96),
		CohereMaxRPM:        getEnvInt("COHERE_MAX_RPM", 100),

		MaxConcurrentRequests: getEnvInt("MAX_CONCURRENT_REQUESTS", 5),
		RequestDelay:          getEnvDuration("REQUEST_DELAY", 600*time.Millisecond),

		QdrantCollection: getEnv("QDRANT_COLLECTION", "docs"),
		QdrantUseTLS:     getEnv("QDRANT_TLS", "") == "true",

		DataDir: getEnv("DATA_DIR", "data"),
	}

	if cfg.SitemapURL == "" {
		cfg.SitemapURL = strings.TrimSuffix(cfg.DocusaurusURL, "/") + "/sitemap.xml"
	}

	cfg.CacheDir = cfg.DataDir + "/cache/extracted"
	cfg.StateDir = cfg.DataDir + "/state"
	cfg.LogsDir = cfg.DataDir + "/logs"
	cfg.EmbeddingsPath = cfg.DataDir + "/embeddings.jsonl"

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// QdrantHost returns the host portion of QdrantURL, accepting either a bare
// "host:port" address or a "scheme://host:port" URL.
func (c Config) QdrantHost() string {
	host, _ := c.splitQdrantURL()
	return host
}

// QdrantPort returns the port portion of QdrantURL, defaulting to 6334
// (Qdrant's gRPC port) when none is present.
func (c Config) QdrantPort() int {
	_, port := c.splitQdrantURL()
	if port == 0 {
		return 6334
	}
	return port
}

func (c Config) splitQdrantURL() (string, int) {
	target := c.QdrantURL
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		target = u.Host
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return target, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}

func (c Config) validate() error {
	if c.CohereAPIKey == "" {
		return model.NewConfigError("COHERE_API_KEY", nil)
	}
	if c.QdrantURL == "" {
		return model.NewConfigError("QDRANT_URL", nil)
	}
	if c.QdrantAPIKey == "" {
		return model.NewConfigError("QDRANT_API_KEY", nil)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := lookupEnv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := lookupEnv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := lookupEnv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
