package config

import (
	"errors"
	"os"
	"testing"

	"github.com/ragforge/docpipe/engine/model"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"COHERE_API_KEY", "QDRANT_URL", "QDRANT_API_KEY",
		"DOCUSAURUS_URL", "SITEMAP_URL", "CHUNK_SIZE", "CHUNK_OVERLAP",
	} {
		os.Unsetenv(k)
	}
}

func TestLoad_MissingRequiredKey(t *testing.T) {
	clearEnv(t)
	_, err := Load("/nonexistent/.env")
	var ce *model.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if ce.Field != "COHERE_API_KEY" {
		t.Errorf("expected first missing field COHERE_API_KEY, got %s", ce.Field)
	}
}

func TestLoad_SitemapURLDefaulting(t *testing.T) {
	clearEnv(t)
	os.Setenv("COHERE_API_KEY", "k")
	os.Setenv("QDRANT_URL", "http://localhost:6334")
	os.Setenv("QDRANT_API_KEY", "k")
	os.Setenv("DOCUSAURUS_URL", "https://docs.example.com/")
	defer clearEnv(t)

	cfg, err := Load("/nonexistent/.env")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SitemapURL != "https://docs.example.com/sitemap.xml" {
		t.Errorf("expected trailing-slash-stripped sitemap url, got %s", cfg.SitemapURL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("COHERE_API_KEY", "k")
	os.Setenv("QDRANT_URL", "http://localhost:6334")
	os.Setenv("QDRANT_API_KEY", "k")
	defer clearEnv(t)

	cfg, err := Load("/nonexistent/.env")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ChunkSize != 512 || cfg.ChunkOverlap != 50 {
		t.Errorf("unexpected chunk defaults: %+v", cfg)
	}
	if cfg.EmbeddingDimensions != 1024 {
		t.Errorf("expected default embedding dimensions 1024, got %d", cfg.EmbeddingDimensions)
	}
}

func TestConfig_QdrantHostPort_FromURL(t *testing.T) {
	cfg := Config{QdrantURL: "http://qdrant.internal:6334"}
	if host := cfg.QdrantHost(); host != "qdrant.internal" {
		t.Errorf("expected host qdrant.internal, got %s", host)
	}
	if port := cfg.QdrantPort(); port != 6334 {
		t.Errorf("expected port 6334, got %d", port)
	}
}

func TestConfig_QdrantHostPort_BareAddress(t *testing.T) {
	cfg := Config{QdrantURL: "localhost:6333"}
	if host := cfg.QdrantHost(); host != "localhost" {
		t.Errorf("expected host localhost, got %s", host)
	}
	if port := cfg.QdrantPort(); port != 6333 {
		t.Errorf("expected port 6333, got %d", port)
	}
}

func TestConfig_QdrantPort_DefaultsWhenAbsent(t *testing.T) {
	cfg := Config{QdrantURL: "qdrant.internal"}
	if port := cfg.QdrantPort(); port != 6334 {
		t.Errorf("expected default port 6334, got %d", port)
	}
}
