// Package config loads gateway configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// It is immutable after Load() returns.
type Config struct {
	Environment string

	DatabaseURL      string
	DatabaseMaxConns int

	RedisURL string

	QdrantHost       string
	QdrantPort       int
	QdrantCollection string

	DataDir           string
	IndexExtraSources string
	EmbedBatchSize    int
	UpsertBatchSize   int

	TokenizerMaxInputBytes int
	TokenizerMaxVocabSize  int

	RetrievalTopK          int
	RetrievalDenseWeight   float64
	RetrievalSparseWeight  float64
	ResilientResetInterval time.Duration

	RAGMaxContextLength      int
	RAGHistoryWindow         int
	RAGEmbedCacheTTL         time.Duration
	RAGLLMTimeout            time.Duration
	RAGConfidenceAutoSend    float64
	RAGConfidenceClarify     float64
	RAGConfidenceQueueMedium float64

	EscalationClaimTTL time.Duration

	FollowupTTL time.Duration

	PluginStartTimeout time.Duration
}

// Load reads configuration from environment variables.
// DATABASE_URL is required; everything else uses sensible defaults.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	tokenizerMaxInput := envInt("TOKENIZER_MAX_INPUT_BYTES", 256*1024)
	if tokenizerMaxInput < 100*1024 {
		tokenizerMaxInput = 100 * 1024
	}

	followupTTL := envSeconds("FOLLOWUP_TTL_SECONDS", 900)
	if followupTTL < 30*time.Second {
		followupTTL = 30 * time.Second
	}

	cfg := &Config{
		Environment: envStr("ENVIRONMENT", "development"),

		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),

		RedisURL: envStr("REDIS_URL", "redis://localhost:6379/0"),

		QdrantHost:       envStr("QDRANT_HOST", "localhost"),
		QdrantPort:       envInt("QDRANT_PORT", 6334),
		QdrantCollection: envStr("QDRANT_COLLECTION", "support_kb"),

		DataDir:           envStr("DATA_DIR", "./data"),
		IndexExtraSources: envStr("INDEX_EXTRA_SOURCES", ""),
		EmbedBatchSize:    envInt("INDEX_EMBED_BATCH_SIZE", 64),
		UpsertBatchSize:   envInt("INDEX_UPSERT_BATCH_SIZE", 64),

		TokenizerMaxInputBytes: tokenizerMaxInput,
		TokenizerMaxVocabSize:  envInt("TOKENIZER_MAX_VOCAB_SIZE", 500_000),

		RetrievalTopK:          envInt("RETRIEVAL_TOP_K", 20),
		RetrievalDenseWeight:   envFloat("RETRIEVAL_DENSE_WEIGHT", 0.7),
		RetrievalSparseWeight:  envFloat("RETRIEVAL_SPARSE_WEIGHT", 0.3),
		ResilientResetInterval: envSeconds("RESILIENT_RESET_INTERVAL_SECONDS", 300),

		RAGMaxContextLength:      envInt("RAG_MAX_CONTEXT_LENGTH", 6000),
		RAGHistoryWindow:         envInt("RAG_HISTORY_WINDOW", 5),
		RAGEmbedCacheTTL:         envSeconds("RAG_EMBED_CACHE_TTL_SECONDS", 900),
		RAGLLMTimeout:            envSeconds("RAG_LLM_TIMEOUT_SECONDS", 30),
		RAGConfidenceAutoSend:    envFloat("RAG_CONFIDENCE_AUTO_SEND", 0.75),
		RAGConfidenceClarify:     envFloat("RAG_CONFIDENCE_CLARIFY", 0.55),
		RAGConfidenceQueueMedium: envFloat("RAG_CONFIDENCE_QUEUE_MEDIUM", 0.35),

		EscalationClaimTTL: envSeconds("ESCALATION_CLAIM_TTL_SECONDS", 30*60),

		FollowupTTL: followupTTL,

		PluginStartTimeout: envSeconds("PLUGIN_START_TIMEOUT_SECONDS", 10),
	}

	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envSeconds(key string, defSeconds int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(defSeconds) * time.Second
}
