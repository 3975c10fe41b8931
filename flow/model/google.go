package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGoogleModel is used when no model is specified.
const DefaultGoogleModel = "gemini-1.5-flash"

// Google is a Model backed by the Gemini API. Call Close when the adapter is
// no longer needed to release the underlying client.
type Google struct {
	client *genai.Client
	model  string
}

// NewGoogle creates a Gemini model adapter. An empty model selects
// DefaultGoogleModel. The context is only used for client construction.
func NewGoogle(ctx context.Context, apiKey, model string) (*Google, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key cannot be empty")
	}
	if model == "" {
		model = DefaultGoogleModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &Google{client: client, model: model}, nil
}

// Close releases the underlying Gemini client.
func (g *Google) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Name implements Model.
func (g *Google) Name() string { return "google/" + g.model }

// Generate implements Model.
func (g *Google) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.GenerativeModel(g.model).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("google: response contained no candidates")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	if text == "" {
		return "", errors.New("google: response contained no text parts")
	}
	return text, nil
}
