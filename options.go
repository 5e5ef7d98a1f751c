package empirica

import (
	"log/slog"
)

// Option configures a Kernel.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger            *slog.Logger
	version           string
	aiID              string
	databasePath      string
	gitDir            string
	qdrantURL         string
	embeddingProvider EmbeddingProvider
	eventHooks        []EventHook
}

// WithLogger sets the structured logger for the Kernel.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithAIID overrides the agent identity from config (EMPIRICA_AI_ID env var).
// Every session, belief and trajectory row is keyed by this identity.
func WithAIID(id string) Option {
	return func(o *resolvedOptions) { o.aiID = id }
}

// WithDatabasePath overrides the SQLite path from config (EMPIRICA_DB_PATH
// env var). ":memory:" gives an ephemeral kernel for tests.
func WithDatabasePath(path string) Option {
	return func(o *resolvedOptions) { o.databasePath = path }
}

// WithGitDir overrides the repository used for the git-notes store
// (EMPIRICA_GIT_DIR env var).
func WithGitDir(dir string) Option {
	return func(o *resolvedOptions) { o.gitDir = dir }
}

// WithQdrantURL overrides the vector backend endpoint (QDRANT_URL env var).
// An empty URL in both config and options disables semantic indexing; the
// durable SQLite copy is unaffected.
func WithQdrantURL(url string) Option {
	return func(o *resolvedOptions) { o.qdrantURL = url }
}

// WithEmbeddingProvider replaces the auto-detected embedding provider
// (Ollama/OpenAI/noop). The provided implementation must satisfy the
// EmbeddingProvider interface.
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithEventHook registers a hook that receives every published epistemic
// event. Multiple hooks may be registered; all receive every event. Hook
// errors are logged and never break emission.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}
