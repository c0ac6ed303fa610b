// Package docai is the thin contract with the external document-understanding
// service: one unreliable function from a prompt (plus optional image) to
// free-form text that should, but may not, contain a JSON payload.
package docai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ExtractRequest is one call to the document-understanding service.
type ExtractRequest struct {
	Model        string
	Instructions string
	// Image holds the raw document bytes for vision calls; nil for
	// text-only calls where the document text is embedded in Instructions.
	Image          []byte
	ImageMediaType string
	MaxTokens      int
	Temperature    float64
}

// Usage reports token accounting from the service.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ExtractResponse is the raw service output.
type ExtractResponse struct {
	Text  string
	Usage Usage
}

// Client defines the interface to the document-understanding service.
type Client interface {
	Extract(ctx context.Context, req ExtractRequest) (ExtractResponse, error)
}

// Config holds configuration for building a client.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// NewClient creates a document-understanding client for the configured
// provider.
func NewClient(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// cleanMarkdownWrapper strips a ```json ... ``` fence if the service wrapped
// its payload in one.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
