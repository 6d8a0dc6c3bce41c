// CLAUDE:SUMMARY Text-generation collaborator interface: structured object generation and token streaming.
// Package llm abstracts the text-generation backend used by horosheet for
// SQL generation, column-header extraction and answer narration.
//
// Two call shapes are exposed:
//
//	GenerateObject — prompt in, one JSON-decoded object out
//	GenerateStream — prompt in, incremental token channel out
//
// The package carries no retry logic of its own; retries and grounding live
// in the callers (nlsql). The default implementation targets any
// OpenAI-compatible chat completions endpoint (vLLM, Ollama, OpenAI).
package llm

import "context"

// Client is the text-generation collaborator.
type Client interface {
	// GenerateObject sends prompt and decodes the model's JSON reply into out.
	GenerateObject(ctx context.Context, prompt string, out any) error

	// GenerateStream sends prompt and returns a channel of incremental text
	// tokens. The channel is closed when the model finishes or the context is
	// cancelled. A non-nil error means the stream could not be started.
	GenerateStream(ctx context.Context, prompt string) (<-chan string, error)
}
