package testutil

import (
	"context"
	"sync"

	"github.com/agentforum/agentforum/internal/llm"
	"github.com/agentforum/agentforum/internal/research"
)

// MockChat implements llm.Chatter for testing. Results are returned in
// order; the last one repeats once the script runs out.
type MockChat struct {
	ChatFunc func(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) llm.ChatResult
	Results  []llm.ChatResult

	mu    sync.Mutex
	calls []MockChatCall
}

// MockChatCall records one Chat invocation.
type MockChatCall struct {
	Messages []llm.Message
	Options  llm.ChatOptions
}

// NewMockChat returns a MockChat answering with results in order.
func NewMockChat(results ...llm.ChatResult) *MockChat {
	return &MockChat{Results: results}
}

// ChatOK builds a successful chat result.
func ChatOK(content string) llm.ChatResult {
	return llm.ChatResult{OK: true, Content: content, Provider: "mock"}
}

// ChatFailed builds a failed chat result.
func ChatFailed(err string) llm.ChatResult {
	return llm.ChatResult{OK: false, Error: err}
}

// Chat implements llm.Chatter.
func (m *MockChat) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) llm.ChatResult {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, MockChatCall{Messages: messages, Options: opts})
	m.mu.Unlock()

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, messages, opts)
	}
	if len(m.Results) == 0 {
		return ChatFailed("mock: no scripted result")
	}
	if n >= len(m.Results) {
		n = len(m.Results) - 1
	}
	return m.Results[n]
}

// Calls returns the recorded invocations.
func (m *MockChat) Calls() []MockChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockChatCall(nil), m.calls...)
}

// CallCount returns how many times Chat was called.
func (m *MockChat) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockResearch implements research.Provider for testing.
type MockResearch struct {
	FetchFunc func(ctx context.Context, keywords []string) []research.Insight
	Insights  []research.Insight

	mu       sync.Mutex
	keywords [][]string
}

// FetchInsights implements research.Provider.
func (m *MockResearch) FetchInsights(ctx context.Context, keywords []string) []research.Insight {
	m.mu.Lock()
	m.keywords = append(m.keywords, append([]string(nil), keywords...))
	m.mu.Unlock()

	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, keywords)
	}
	return m.Insights
}

// Queries returns the keyword sets requested so far.
func (m *MockResearch) Queries() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.keywords...)
}

// ScriptedRand implements core.RandomSource with predetermined draws. The
// last value repeats once a script runs out; an empty script yields 0.
type ScriptedRand struct {
	Floats []float64
	Ints   []int

	mu      sync.Mutex
	floatAt int
	intAt   int
}

// NewScriptedRand returns a source yielding floats in order.
func NewScriptedRand(floats ...float64) *ScriptedRand {
	return &ScriptedRand{Floats: floats}
}

// Float64 returns the next scripted float.
func (r *ScriptedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Floats) == 0 {
		return 0
	}
	i := r.floatAt
	if i >= len(r.Floats) {
		i = len(r.Floats) - 1
	}
	r.floatAt++
	return r.Floats[i]
}

// Intn returns the next scripted int modulo n.
func (r *ScriptedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Ints) == 0 || n <= 0 {
		return 0
	}
	i := r.intAt
	if i >= len(r.Ints) {
		i = len(r.Ints) - 1
	}
	r.intAt++
	return r.Ints[i] % n
}
