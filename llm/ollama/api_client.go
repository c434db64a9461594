package ollama

import (
	"context"

	ollama "github.com/ollama/ollama/api"
)

// apiClient is the interface for Ollama API calls (unexported for
// encapsulation and test injection).
type apiClient interface {
	Chat(ctx context.Context, req *ollama.ChatRequest) (*ollama.ChatResponse, error)
}

// realAPIClient wraps the actual Ollama client, collapsing the callback
// interface into a single non-streaming response.
type realAPIClient struct {
	client *ollama.Client
}

func (r *realAPIClient) Chat(ctx context.Context, req *ollama.ChatRequest) (*ollama.ChatResponse, error) {
	var last ollama.ChatResponse
	err := r.client.Chat(ctx, req, func(resp ollama.ChatResponse) error {
		last = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &last, nil
}
