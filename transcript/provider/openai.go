package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
)

// OpenAISource streams chat completion deltas from the OpenAI API.
type OpenAISource struct {
	Client *openai.Client
	Model  string

	// Instructions is sent as the system message (see ProtocolInstructions).
	Instructions string

	// MaxOutputTokens caps the completion length when > 0.
	MaxOutputTokens int64
}

// Stream yields the content deltas of one completion for prompt.
func (s OpenAISource) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s.Client == nil {
			yield("", errors.New("OpenAISource: client is nil"))
			return
		}
		if s.Model == "" {
			yield("", errors.New("OpenAISource: model is empty"))
			return
		}

		var messages []openai.ChatCompletionMessageParamUnion
		if s.Instructions != "" {
			messages = append(messages, openai.SystemMessage(s.Instructions))
		}
		messages = append(messages, openai.UserMessage(prompt))
		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(s.Model),
			Messages: messages,
		}
		if s.MaxOutputTokens > 0 {
			params.MaxCompletionTokens = openai.Int(s.MaxOutputTokens)
		}

		stream := s.Client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", classify(err))
		}
	}
}

// ErrRateLimited and ErrServer classify provider failures so callers can back off.
var (
	ErrRateLimited = errors.New("provider rate limited")
	ErrServer      = errors.New("provider server error")
)

func classify(err error) error {
	switch {
	case IsRateLimitError(err):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case IsServerError(err):
		return fmt.Errorf("%w: %w", ErrServer, err)
	default:
		return err
	}
}

// IsRateLimitError reports whether err looks like an HTTP 429.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "resource_exhausted")
}

// IsServerError reports whether err looks like a 5xx from the provider.
func IsServerError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrServer) {
		return true
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusInternalServerError {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error") ||
		strings.Contains(errStr, "unavailable")
}
