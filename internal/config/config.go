// Package config loads and validates kernel configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all kernel configuration.
type Config struct {
	// Identity.
	AIID      string
	ProjectID string
	NodeID    string

	// Database settings.
	DatabasePath string

	// Context budget manager thresholds.
	TotalCapacity          int
	AnchorReserve          int
	WorkingSetTarget       int
	CacheLimit             int
	EvictionAggressiveness float64
	DecayRate              float64
	MinPriorityThreshold   float64
	PressureThreshold      float64

	// Cascade settings.
	MaxRecalibrationCycles     int
	ConfidenceThresholdProceed float64
	ConfidenceThresholdCaveat  float64
	CalibrationTolerance       float64

	// Attention budget settings.
	AttentionDefaultTotal    int
	AttentionDeadEndPenalty  float64
	AttentionDiminishingRate float64

	// Rollup gate settings.
	RollupMinScore          float64
	RollupJaccardThreshold  float64
	RollupSemanticThreshold float64

	// Orchestrator settings.
	MaxAgents    int
	RoundTimeout time.Duration

	// Grounded calibration settings.
	GroundedObservationVariance float64
	CalibrationMaxCorrection    float64
	ScopeWeightUnscoped         float64
	TrajectoryLookback          int

	// Git-notes store settings.
	GitDir           string
	GitReadTimeout   time.Duration
	GitWriteTimeout  time.Duration
	SigningKeyPath   string // Ed25519 private key PEM; empty disables message signing.
	VerifyKeyPath    string // Ed25519 public key PEM used to verify inbound messages.
	MessageChannel   string
	HandoffNamespace string

	// Vector backend settings.
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "openai", "ollama", or "noop"
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int
	OllamaURL           string
	OllamaModel         string

	// Event bus settings.
	EventBufferSize    int
	EventFlushTimeout  time.Duration
	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables, falling back to the
// documented defaults.
func Load() (Config, error) {
	cfg := Config{
		AIID:      envStr("EMPIRICA_AI_ID", "empirica"),
		ProjectID: envStr("EMPIRICA_PROJECT_ID", ""),
		NodeID:    envStr("EMPIRICA_NODE_ID", hostname()),

		DatabasePath: envStr("EMPIRICA_DB_PATH", ".empirica/kernel.db"),

		TotalCapacity:          envInt("EMPIRICA_TOTAL_CAPACITY", 200000),
		AnchorReserve:          envInt("EMPIRICA_ANCHOR_RESERVE", 15000),
		WorkingSetTarget:       envInt("EMPIRICA_WORKING_SET_TARGET", 150000),
		CacheLimit:             envInt("EMPIRICA_CACHE_LIMIT", 35000),
		EvictionAggressiveness: envFloat("EMPIRICA_EVICTION_AGGRESSIVENESS", 0.5),
		DecayRate:              envFloat("EMPIRICA_DECAY_RATE", 0.1),
		MinPriorityThreshold:   envFloat("EMPIRICA_MIN_PRIORITY_THRESHOLD", 0.05),
		PressureThreshold:      envFloat("EMPIRICA_PRESSURE_THRESHOLD", 0.85),

		MaxRecalibrationCycles:     envInt("EMPIRICA_MAX_RECALIBRATION_CYCLES", 5),
		ConfidenceThresholdProceed: envFloat("EMPIRICA_CONFIDENCE_THRESHOLD_PROCEED", 0.8),
		ConfidenceThresholdCaveat:  envFloat("EMPIRICA_CONFIDENCE_THRESHOLD_CAVEAT", 0.6),
		CalibrationTolerance:       envFloat("EMPIRICA_CALIBRATION_TOLERANCE", 0.15),

		AttentionDefaultTotal:    envInt("EMPIRICA_ATTENTION_BUDGET_DEFAULT_TOTAL", 20),
		AttentionDeadEndPenalty:  envFloat("EMPIRICA_ATTENTION_DEAD_END_PENALTY", 0.5),
		AttentionDiminishingRate: envFloat("EMPIRICA_ATTENTION_DIMINISHING_RATE", 0.3),

		RollupMinScore:          envFloat("EMPIRICA_ROLLUP_MIN_SCORE", 0.3),
		RollupJaccardThreshold:  envFloat("EMPIRICA_ROLLUP_JACCARD_THRESHOLD", 0.7),
		RollupSemanticThreshold: envFloat("EMPIRICA_ROLLUP_SEMANTIC_THRESHOLD", 0.9),

		MaxAgents:    envInt("EMPIRICA_MAX_AGENTS", 5),
		RoundTimeout: envDuration("EMPIRICA_ROUND_TIMEOUT", 120*time.Second),

		GroundedObservationVariance: envFloat("EMPIRICA_GROUNDED_OBSERVATION_VARIANCE", 0.05),
		CalibrationMaxCorrection:    envFloat("EMPIRICA_CALIBRATION_MAX_CORRECTION", 0.2),
		ScopeWeightUnscoped:         envFloat("EMPIRICA_SCOPE_WEIGHT_UNSCOPED", 0.3),
		TrajectoryLookback:          envInt("EMPIRICA_TRAJECTORY_LOOKBACK", 10),

		GitDir:           envStr("EMPIRICA_GIT_DIR", "."),
		GitReadTimeout:   envDuration("EMPIRICA_GIT_READ_TIMEOUT", 10*time.Second),
		GitWriteTimeout:  envDuration("EMPIRICA_GIT_WRITE_TIMEOUT", 60*time.Second),
		SigningKeyPath:   envStr("EMPIRICA_SIGNING_KEY", ""),
		VerifyKeyPath:    envStr("EMPIRICA_VERIFY_KEY", ""),
		MessageChannel:   envStr("EMPIRICA_MESSAGE_CHANNEL", "general"),
		HandoffNamespace: envStr("EMPIRICA_HANDOFF_NAMESPACE", "handoff"),

		QdrantURL:        envStr("QDRANT_URL", ""),
		QdrantAPIKey:     envStr("QDRANT_API_KEY", ""),
		QdrantCollection: envStr("EMPIRICA_QDRANT_COLLECTION", "epistemic_events"),

		EmbeddingProvider:   envStr("EMPIRICA_EMBEDDING_PROVIDER", "auto"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:      envStr("EMPIRICA_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envInt("EMPIRICA_EMBEDDING_DIMENSIONS", 1024),
		OllamaURL:           envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:         envStr("OLLAMA_MODEL", "mxbai-embed-large"),

		EventBufferSize:    envInt("EMPIRICA_EVENT_BUFFER_SIZE", 256),
		EventFlushTimeout:  envDuration("EMPIRICA_EVENT_FLUSH_TIMEOUT", 100*time.Millisecond),
		OutboxPollInterval: envDuration("EMPIRICA_OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    envInt("EMPIRICA_OUTBOX_BATCH_SIZE", 64),

		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "empirica"),

		LogLevel: envStr("EMPIRICA_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and required fields.
func (c Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("config: EMPIRICA_DB_PATH is required")
	}
	if c.TotalCapacity <= 0 {
		return fmt.Errorf("config: EMPIRICA_TOTAL_CAPACITY must be positive")
	}
	if c.AnchorReserve+c.WorkingSetTarget+c.CacheLimit > c.TotalCapacity {
		return fmt.Errorf("config: zone capacities (%d) exceed total capacity (%d)",
			c.AnchorReserve+c.WorkingSetTarget+c.CacheLimit, c.TotalCapacity)
	}
	for name, v := range map[string]float64{
		"EMPIRICA_EVICTION_AGGRESSIVENESS":   c.EvictionAggressiveness,
		"EMPIRICA_PRESSURE_THRESHOLD":        c.PressureThreshold,
		"EMPIRICA_ROLLUP_MIN_SCORE":          c.RollupMinScore,
		"EMPIRICA_ROLLUP_JACCARD_THRESHOLD":  c.RollupJaccardThreshold,
		"EMPIRICA_ROLLUP_SEMANTIC_THRESHOLD": c.RollupSemanticThreshold,
		"EMPIRICA_SCOPE_WEIGHT_UNSCOPED":     c.ScopeWeightUnscoped,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: %s must be in [0,1], got %v", name, v)
		}
	}
	if c.MaxRecalibrationCycles < 1 {
		return fmt.Errorf("config: EMPIRICA_MAX_RECALIBRATION_CYCLES must be at least 1")
	}
	if c.ConfidenceThresholdCaveat > c.ConfidenceThresholdProceed {
		return fmt.Errorf("config: caveat threshold (%v) must not exceed proceed threshold (%v)",
			c.ConfidenceThresholdCaveat, c.ConfidenceThresholdProceed)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: EMPIRICA_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.MaxAgents < 1 {
		return fmt.Errorf("config: EMPIRICA_MAX_AGENTS must be at least 1")
	}
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
