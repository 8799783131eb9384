// Package llm provides the chat backends personas write with.
package llm

import (
	"context"
	"time"
)

// Provider names an LLM backend
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
)

// Message is one chat turn. Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System, User and Assistant build messages
func System(content string) Message    { return Message{Role: "system", Content: content} }
func User(content string) Message      { return Message{Role: "user", Content: content} }
func Assistant(content string) Message { return Message{Role: "assistant", Content: content} }

// ChatOptions tunes a single completion
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
	// Timeout overrides the timeout derived from MaxTokens
	Timeout time.Duration
}

// ChatResult is the outcome of a chat call. Failures are values: OK is false
// and Error describes what went wrong.
type ChatResult struct {
	OK       bool     `json:"ok"`
	Content  string   `json:"content,omitempty"`
	Error    string   `json:"error,omitempty"`
	Provider Provider `json:"provider,omitempty"`
}

// Chatter is what the engine talks to. Implementations never return errors
// or panic; every failure is reported through ChatResult.
type Chatter interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) ChatResult
}

// backend is one concrete provider client
type backend interface {
	Provider() Provider
	IsConfigured() bool
	Complete(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}

const (
	msPerToken = 60 * time.Millisecond
	minTimeout = 20 * time.Second
	maxTimeout = 120 * time.Second
)

// TimeoutFor derives a request timeout from a token budget:
// 60ms per token, clamped to [20s, 120s]. A non-positive budget yields
// fallback.
func TimeoutFor(maxTokens int, fallback time.Duration) time.Duration {
	if maxTokens <= 0 {
		return fallback
	}
	d := time.Duration(maxTokens) * msPerToken
	if d < minTimeout {
		return minTimeout
	}
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}

// splitSystem separates system messages (joined) from the conversation
func splitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
