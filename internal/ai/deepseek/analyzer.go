package deepseek

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/songzhibin97/quantaguard/internal/utils/request"
)

const (
	defaultAPIEndpoint = "https://api.deepseek.com/v1"
	defaultModel       = "deepseek-chat"
)

// DeepSeekAnalyzer implements ai.Completer using DeepSeek
type DeepSeekAnalyzer struct {
	apiKey     string
	endpoint   string
	model      string
	httpClient *resty.Client
}

// NewDeepSeekAnalyzer creates a new DeepSeek analyzer instance
func NewDeepSeekAnalyzer(apiKey, model, endpoint string) *DeepSeekAnalyzer {
	if model == "" {
		model = defaultModel
	}
	if endpoint == "" {
		endpoint = defaultAPIEndpoint
	}

	return &DeepSeekAnalyzer{
		apiKey:     apiKey,
		endpoint:   endpoint,
		model:      model,
		httpClient: request.Request,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete implements ai.Completer
func (a *DeepSeekAnalyzer) Complete(ctx context.Context, system, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.3,
		MaxTokens:   1024,
	}

	var chatResp chatResponse
	resp, err := a.httpClient.R().
		SetContext(ctx).
		SetAuthToken(a.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&chatResp).
		SetError(&chatResp).
		Post(fmt.Sprintf("%s/chat/completions", a.endpoint))
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("api error: %s", chatResp.Error.Message)
	}

	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("api error: status=%d, body=%s", resp.StatusCode(), resp.String())
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from api")
	}

	return chatResp.Choices[0].Message.Content, nil
}
