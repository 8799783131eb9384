package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/agentforum/agentforum/internal/core"
)

// OpenAIConfig configures any OpenAI-compatible chat completions endpoint
// (OpenAI, Azure OpenAI's v1 surface, vLLM, OpenRouter...)
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	Timeout    time.Duration
}

// DefaultOpenAIConfig returns OpenAI defaults
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:    "https://api.openai.com/v1",
		Model:      "gpt-4o-mini",
		MaxRetries: 1,
		Timeout:    120 * time.Second,
	}
}

// OpenAIClient talks to an OpenAI-compatible endpoint through openai-go
type OpenAIClient struct {
	client openaigo.Client
	model  string
	apiKey string
}

// NewOpenAIClient creates an OpenAI-compatible client. A nil httpClient
// uses one bounded by cfg.Timeout.
func NewOpenAIClient(cfg OpenAIConfig, httpClient *http.Client) *OpenAIClient {
	def := DefaultOpenAIConfig()
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = def.BaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	return &OpenAIClient{
		client: openaigo.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(cfg.MaxRetries),
			option.WithRequestTimeout(cfg.Timeout),
		),
		model:  model,
		apiKey: apiKey,
	}
}

// Complete runs a chat completion and returns the generated text
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	params := openaigo.ChatCompletionNewParams{
		Model:       openaigo.ChatModel(c.model),
		Messages:    toOpenAIMessages(messages),
		Temperature: openaigo.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openaigo.Int(int64(opts.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", core.ErrEmptyCompletion
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", core.ErrEmptyCompletion
	}
	return text, nil
}

func toOpenAIMessages(messages []Message) []openaigo.ChatCompletionMessageParamUnion {
	out := make([]openaigo.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openaigo.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openaigo.AssistantMessage(m.Content))
		default:
			out = append(out, openaigo.UserMessage(m.Content))
		}
	}
	return out
}

// Provider identifies the backend
func (c *OpenAIClient) Provider() Provider { return ProviderOpenAI }

// IsConfigured checks if API key is set
func (c *OpenAIClient) IsConfigured() bool {
	return c.apiKey != ""
}
