package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"google.golang.org/genai"
)

// GenAISource streams a Gemini generation through the Google GenAI SDK.
type GenAISource struct {
	Client       *genai.Client
	Model        string
	Instructions string

	// MaxOutputTokens caps the response length when > 0.
	MaxOutputTokens int32
}

// NewGenAIClient builds a Gemini API client for apiKey.
func NewGenAIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGenAIClient: %w", err)
	}
	return client, nil
}

// Stream yields the text of each streamed response chunk.
func (s GenAISource) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s.Client == nil {
			yield("", errors.New("GenAISource: client is nil"))
			return
		}
		if s.Model == "" {
			yield("", errors.New("GenAISource: model is empty"))
			return
		}

		cfg := &genai.GenerateContentConfig{}
		if s.Instructions != "" {
			cfg.SystemInstruction = genai.NewContentFromText(s.Instructions, genai.RoleUser)
		}
		if s.MaxOutputTokens > 0 {
			cfg.MaxOutputTokens = s.MaxOutputTokens
		}
		contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

		for resp, err := range s.Client.Models.GenerateContentStream(ctx, s.Model, contents, cfg) {
			if err != nil {
				yield("", classify(err))
				return
			}
			if text := resp.Text(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}
