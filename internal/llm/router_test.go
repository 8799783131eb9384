package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/logging"
)

type fakeBackend struct {
	provider   Provider
	configured bool
	content    string
	err        error
	delay      time.Duration
	panicMsg   string

	mu       sync.Mutex
	calls    int
	lastOpts ChatOptions
	deadline time.Duration
}

func (f *fakeBackend) Provider() Provider { return f.provider }
func (f *fakeBackend) IsConfigured() bool { return f.configured }

func (f *fakeBackend) Complete(ctx context.Context, _ []Message, opts ChatOptions) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastOpts = opts
	if d, ok := ctx.Deadline(); ok {
		f.deadline = time.Until(d)
	}
	f.mu.Unlock()

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.content, f.err
}

func newTestRouter(fallback bool, backends ...backend) *Router {
	return &Router{
		backends:       backends,
		enableFallback: fallback,
		defaultTimeout: time.Minute,
		log:            logging.Discard(),
		stats: RouterStats{
			Requests: make(map[Provider]int64),
			Failures: make(map[Provider]int64),
		},
	}
}

// =============================================================================
// Router Tests
// =============================================================================

func TestRouter_Chat_FirstConfiguredProvider(t *testing.T) {
	anthropic := &fakeBackend{provider: ProviderAnthropic, configured: false}
	openai := &fakeBackend{provider: ProviderOpenAI, configured: true, content: "from openai"}
	ollama := &fakeBackend{provider: ProviderOllama, configured: true, content: "from ollama"}

	r := newTestRouter(true, anthropic, openai, ollama)
	res := r.Chat(context.Background(), []Message{User("hi")}, ChatOptions{Temperature: 0.5, MaxTokens: 512})

	if !res.OK || res.Content != "from openai" || res.Provider != ProviderOpenAI {
		t.Errorf("Unexpected result: %+v", res)
	}
	if anthropic.calls != 0 || ollama.calls != 0 {
		t.Errorf("Expected only openai to be called, got anthropic=%d ollama=%d", anthropic.calls, ollama.calls)
	}
	if openai.lastOpts.Temperature != 0.5 {
		t.Errorf("Temperature not forwarded: %+v", openai.lastOpts)
	}
}

func TestRouter_Chat_Fallback(t *testing.T) {
	anthropic := &fakeBackend{provider: ProviderAnthropic, configured: true, err: errors.New("overloaded")}
	ollama := &fakeBackend{provider: ProviderOllama, configured: true, content: "local answer"}

	r := newTestRouter(true, anthropic, ollama)
	res := r.Chat(context.Background(), []Message{User("hi")}, ChatOptions{})

	if !res.OK || res.Provider != ProviderOllama {
		t.Fatalf("Expected fallback to ollama, got %+v", res)
	}

	stats := r.GetStats()
	if stats.FallbackCount != 1 {
		t.Errorf("FallbackCount = %d, want 1", stats.FallbackCount)
	}
	if stats.Failures[ProviderAnthropic] != 1 {
		t.Errorf("Failures[anthropic] = %d, want 1", stats.Failures[ProviderAnthropic])
	}
	if stats.Requests[ProviderOllama] != 1 {
		t.Errorf("Requests[ollama] = %d, want 1", stats.Requests[ProviderOllama])
	}
}

func TestRouter_Chat_NoFallback(t *testing.T) {
	anthropic := &fakeBackend{provider: ProviderAnthropic, configured: true, err: errors.New("overloaded")}
	ollama := &fakeBackend{provider: ProviderOllama, configured: true, content: "local answer"}

	r := newTestRouter(false, anthropic, ollama)
	res := r.Chat(context.Background(), []Message{User("hi")}, ChatOptions{})

	if res.OK {
		t.Fatalf("Expected failure without fallback, got %+v", res)
	}
	if !strings.Contains(res.Error, "overloaded") {
		t.Errorf("Error = %q, want provider error", res.Error)
	}
	if ollama.calls != 0 {
		t.Error("Fallback provider should not be called")
	}
}

func TestRouter_Chat_AllFail(t *testing.T) {
	r := newTestRouter(true,
		&fakeBackend{provider: ProviderAnthropic, configured: true, err: errors.New("a down")},
		&fakeBackend{provider: ProviderOpenAI, configured: true, err: errors.New("b down")},
	)
	res := r.Chat(context.Background(), []Message{User("hi")}, ChatOptions{})

	if res.OK {
		t.Fatal("Expected failure")
	}
	if !strings.Contains(res.Error, "a down") || !strings.Contains(res.Error, "b down") {
		t.Errorf("Error = %q, want both provider errors", res.Error)
	}
}

func TestRouter_Chat_Unavailable(t *testing.T) {
	r := newTestRouter(true, &fakeBackend{provider: ProviderAnthropic})
	res := r.Chat(context.Background(), []Message{User("hi")}, ChatOptions{})

	if res.OK || res.Error != core.ErrLLMUnavailable.Error() {
		t.Errorf("Expected unavailable result, got %+v", res)
	}
	if r.GetStats().Unavailable != 1 {
		t.Error("Expected Unavailable counter to increase")
	}
}

func TestRouter_Chat_Timeout(t *testing.T) {
	slow := &fakeBackend{provider: ProviderAnthropic, configured: true, content: "late", delay: time.Second}
	r := newTestRouter(false, slow)

	start := time.Now()
	res := r.Chat(context.Background(), []Message{User("hi")}, ChatOptions{Timeout: 30 * time.Millisecond})

	if res.OK {
		t.Fatal("Expected timeout failure")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("Error = %q, want timeout", res.Error)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Chat did not honor the timeout")
	}
}

func TestRouter_Chat_DerivesTimeoutFromTokens(t *testing.T) {
	b := &fakeBackend{provider: ProviderAnthropic, configured: true, content: "ok"}
	r := newTestRouter(false, b)

	r.Chat(context.Background(), []Message{User("hi")}, ChatOptions{MaxTokens: 1000})

	if b.deadline <= 50*time.Second || b.deadline > 60*time.Second {
		t.Errorf("deadline = %v, want about 60s for 1000 tokens", b.deadline)
	}
}

func TestRouter_Chat_RecoversPanic(t *testing.T) {
	r := newTestRouter(false, &fakeBackend{provider: ProviderAnthropic, configured: true, panicMsg: "boom"})
	res := r.Chat(context.Background(), []Message{User("hi")}, ChatOptions{})

	if res.OK || !strings.Contains(res.Error, "boom") {
		t.Errorf("Expected recovered panic, got %+v", res)
	}
}

func TestNewRouter_Order(t *testing.T) {
	r := NewRouter(RouterConfig{
		Anthropic: NewClient(Config{APIKey: "a"}),
		OpenAI:    NewOpenAIClient(OpenAIConfig{APIKey: "o"}, nil),
		Ollama:    NewOllamaClient(OllamaConfig{Enabled: true}),
		Order:     []Provider{"ollama", "anthropic"},
	})

	got := r.Providers()
	if len(got) != 2 || got[0] != ProviderOllama || got[1] != ProviderAnthropic {
		t.Errorf("Providers() = %v, want [ollama anthropic]", got)
	}

	health := r.HealthCheck()
	if !health[ProviderOllama] || !health[ProviderAnthropic] {
		t.Errorf("HealthCheck() = %v", health)
	}
	if _, ok := health[ProviderOpenAI]; ok {
		t.Error("OpenAI is not in the routing order and should not be reported")
	}
}

func TestNewRouter_DefaultOrder(t *testing.T) {
	r := NewRouter(RouterConfig{
		Anthropic: NewClient(Config{}),
		OpenAI:    NewOpenAIClient(OpenAIConfig{APIKey: "o"}, nil),
		Ollama:    NewOllamaClient(OllamaConfig{Enabled: true}),
	})

	got := r.Providers()
	if len(got) != 2 || got[0] != ProviderOpenAI || got[1] != ProviderOllama {
		t.Errorf("Providers() = %v, want [openai ollama]", got)
	}
}
