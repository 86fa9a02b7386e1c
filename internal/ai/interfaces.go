package ai

import (
	"context"
)

// Completer sends one system + user prompt pair to a language model and returns its raw text.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// SystemPrompt frames every request made by the agent.
const SystemPrompt = "You are an autonomous crypto portfolio manager. You reason carefully about risk and always answer with a single valid JSON object and nothing else."
