package llm

import "context"

// Client is the boundary the agent loop drives. One call sends an
// ordered turn sequence and the available tool declarations; the model
// decides for itself whether to answer in text or invoke tools.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
