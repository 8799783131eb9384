package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/logging"
)

// RouterConfig configures the provider router
type RouterConfig struct {
	// Clients; nil or unconfigured clients are skipped
	Anthropic *Client
	OpenAI    *OpenAIClient
	Ollama    *OllamaClient

	// Order lists providers by preference. Empty means
	// anthropic, openai, ollama.
	Order []Provider

	// EnableFallback tries the next configured provider when one fails
	EnableFallback bool

	// DefaultTimeout applies when a request carries no token budget
	DefaultTimeout time.Duration
}

// Router sends chat requests to the first healthy provider
type Router struct {
	backends       []backend
	enableFallback bool
	defaultTimeout time.Duration
	log            *logging.Logger

	mu    sync.RWMutex
	stats RouterStats
}

// RouterStats tracks router usage
type RouterStats struct {
	Requests         map[Provider]int64 `json:"requests"`
	Failures         map[Provider]int64 `json:"failures"`
	FallbackCount    int64              `json:"fallback_count"`
	Unavailable      int64              `json:"unavailable"`
	AverageLatencyMs int64              `json:"average_latency_ms"`
	successes        int64
}

// NewRouter creates a router over the configured clients
func NewRouter(cfg RouterConfig) *Router {
	order := cfg.Order
	if len(order) == 0 {
		order = []Provider{ProviderAnthropic, ProviderOpenAI, ProviderOllama}
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}

	available := map[Provider]backend{}
	if cfg.Anthropic != nil {
		available[ProviderAnthropic] = cfg.Anthropic
	}
	if cfg.OpenAI != nil {
		available[ProviderOpenAI] = cfg.OpenAI
	}
	if cfg.Ollama != nil {
		available[ProviderOllama] = cfg.Ollama
	}

	r := &Router{
		enableFallback: cfg.EnableFallback,
		defaultTimeout: cfg.DefaultTimeout,
		log:            logging.WithField("component", "llm"),
		stats: RouterStats{
			Requests: make(map[Provider]int64),
			Failures: make(map[Provider]int64),
		},
	}
	seen := map[Provider]bool{}
	for _, p := range order {
		b, ok := available[Provider(strings.ToLower(string(p)))]
		if !ok || seen[b.Provider()] {
			continue
		}
		seen[b.Provider()] = true
		r.backends = append(r.backends, b)
	}
	return r
}

// Chat sends messages to the preferred configured provider, falling back
// in order when enabled. The request is bounded by a timeout derived from
// opts.MaxTokens. Chat never returns an error or panics.
func (r *Router) Chat(ctx context.Context, messages []Message, opts ChatOptions) (result ChatResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("llm provider panicked: %v", rec)
			result = ChatResult{OK: false, Error: fmt.Sprintf("panic: %v", rec)}
		}
	}()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = TimeoutFor(opts.MaxTokens, r.defaultTimeout)
	}

	var errs []string
	tried := 0
	for _, b := range r.backends {
		if !b.IsConfigured() {
			continue
		}
		if tried > 0 && !r.enableFallback {
			break
		}
		tried++

		start := time.Now()
		content, err := r.complete(ctx, b, messages, opts, timeout)
		if err == nil {
			r.recordSuccess(b.Provider(), time.Since(start), tried > 1)
			return ChatResult{OK: true, Content: content, Provider: b.Provider()}
		}

		r.recordFailure(b.Provider())
		r.log.WithError(err).WithField("provider", b.Provider()).Warn("chat completion failed")
		errs = append(errs, fmt.Sprintf("%s: %v", b.Provider(), err))

		if ctx.Err() != nil {
			break
		}
	}

	if tried == 0 {
		r.mu.Lock()
		r.stats.Unavailable++
		r.mu.Unlock()
		return ChatResult{OK: false, Error: core.ErrLLMUnavailable.Error()}
	}
	return ChatResult{OK: false, Error: strings.Join(errs, "; ")}
}

func (r *Router) complete(ctx context.Context, b backend, messages []Message, opts ChatOptions, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	content, err := b.Complete(ctx, messages, opts)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("timed out after %s", timeout)
	}
	return content, err
}

func (r *Router) recordSuccess(p Provider, latency time.Duration, fallback bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Requests[p]++
	if fallback {
		r.stats.FallbackCount++
	}
	r.stats.successes++
	n := r.stats.successes
	r.stats.AverageLatencyMs = (r.stats.AverageLatencyMs*(n-1) + latency.Milliseconds()) / n
}

func (r *Router) recordFailure(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Requests[p]++
	r.stats.Failures[p]++
}

// GetStats returns a copy of the router statistics
func (r *Router) GetStats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.stats
	out.Requests = make(map[Provider]int64, len(r.stats.Requests))
	for k, v := range r.stats.Requests {
		out.Requests[k] = v
	}
	out.Failures = make(map[Provider]int64, len(r.stats.Failures))
	for k, v := range r.stats.Failures {
		out.Failures[k] = v
	}
	return out
}

// Providers lists the configured providers in routing order
func (r *Router) Providers() []Provider {
	var out []Provider
	for _, b := range r.backends {
		if b.IsConfigured() {
			out = append(out, b.Provider())
		}
	}
	return out
}

// HealthCheck reports which providers are configured
func (r *Router) HealthCheck() map[Provider]bool {
	health := make(map[Provider]bool, len(r.backends))
	for _, b := range r.backends {
		health[b.Provider()] = b.IsConfigured()
	}
	return health
}
