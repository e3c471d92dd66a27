// Package genai implements the ModelClient port using Google's Gemini API.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ModelClient = (*Client)(nil)

// Client implements the driven.ModelClient port using the google.golang.org/genai SDK.
type Client struct {
	client *genai.Client
}

// NewClient creates a new Gemini model client.
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Client{client: client}, nil
}

// Complete sends one prompt to the requested model and returns the raw text.
// Instructions travel as the system instruction; the diff payload is the user
// content.
func (c *Client) Complete(ctx context.Context, req driven.ModelRequest) (*driven.ModelResponse, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("model identifier is required")
	}

	config := &genai.GenerateContentConfig{}
	if req.Instructions != "" {
		config.SystemInstruction = genai.NewContentFromText(req.Instructions, genai.RoleUser)
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.DiffPayload), config)
	if err != nil {
		return nil, fmt.Errorf("generate content with %s: %w", req.Model, err)
	}

	text := resp.Text()
	slog.Debug("model call complete",
		"model", req.Model,
		"duration", time.Since(start).Round(time.Millisecond),
		"response_chars", len(text),
	)

	if text == "" {
		return nil, fmt.Errorf("model %s returned an empty response", req.Model)
	}

	return &driven.ModelResponse{RawText: text}, nil
}
