package empirica

import "context"

// EmbeddingProvider generates embedding vectors for event text. Implement
// this to replace the built-in Ollama/OpenAI/noop providers.
type EmbeddingProvider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector width this provider produces.
	Dimensions() int
}

// EventHook receives every epistemic event published on the kernel bus.
// OnEvent runs on the publisher's goroutine; slow hooks should buffer
// internally.
type EventHook interface {
	Name() string
	OnEvent(ctx context.Context, e Event) error
}

// AgentRunner executes one investigation assignment. Implementations wrap
// whatever actually does the work (a subprocess, an API call, a human).
type AgentRunner interface {
	Investigate(ctx context.Context, a AgentAssignment) (AgentReport, error)
}
