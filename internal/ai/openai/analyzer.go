package openai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIAnalyzer implements ai.Completer on top of the chat completions API.
// Any OpenAI-compatible endpoint can be used through baseURL.
type OpenAIAnalyzer struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAIAnalyzer creates a new OpenAI analyzer instance
func NewOpenAIAnalyzer(apiKey, model, baseURL string) *OpenAIAnalyzer {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIAnalyzer{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		temperature: 0.3, // 使用较低的temperature以获得更稳定的输出
		maxTokens:   1024,
	}
}

// Complete implements ai.Completer
func (a *OpenAIAnalyzer) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: system,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			Temperature: a.temperature,
			MaxTokens:   a.maxTokens,
		},
	)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	return resp.Choices[0].Message.Content, nil
}
