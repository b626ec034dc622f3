package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const summarizeSystemPrompt = "Summarize the following school-portal text " +
	"for a busy parent in three sentences or fewer. Keep names and dates."

// OpenAI implements AIClient using the OpenAI Chat Completions API.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
}

// OpenAIOption configures the client.
type OpenAIOption func(*OpenAI)

// WithModel overrides the completion model.
func WithModel(model string) OpenAIOption {
	return func(c *OpenAI) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float32) OpenAIOption {
	return func(c *OpenAI) { c.temperature = t }
}

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(apiKey, baseURL string) OpenAIOption {
	return func(c *OpenAI) {
		cfg := openai.DefaultConfig(apiKey)
		cfg.BaseURL = baseURL
		c.client = openai.NewClientWithConfig(cfg)
	}
}

// NewOpenAI creates the AI client.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("capability: openai api key is required")
	}
	c := &OpenAI{
		client:      openai.NewClient(apiKey),
		model:       openai.GPT4oMini,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *OpenAI) Summarize(ctx context.Context, text string) (string, error) {
	return c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: summarizeSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: text},
	})
}

func (c *OpenAI) Query(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	})
}

func (c *OpenAI) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}
