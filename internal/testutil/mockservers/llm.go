package mockservers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// LLMMockServer provides a mock chat backend speaking the Anthropic
// Messages, OpenAI chat completions and Ollama chat APIs.
type LLMMockServer struct {
	Server   *httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	reply    string
	requests map[string]int
	bodies   []map[string]interface{}
	t        *testing.T
}

// NewLLMMockServer creates a new mock LLM server answering with reply.
func NewLLMMockServer(t *testing.T, reply string) *LLMMockServer {
	t.Helper()

	mock := &LLMMockServer{
		Handlers: make(map[string]http.HandlerFunc),
		reply:    reply,
		requests: make(map[string]int),
		t:        t,
	}

	mock.SetupDefaults()

	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		var body map[string]interface{}
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&body)
		}

		mock.mu.Lock()
		mock.requests[r.URL.Path]++
		if body != nil {
			mock.bodies = append(mock.bodies, body)
		}
		handler, ok := mock.Handlers[r.URL.Path]
		mock.mu.Unlock()

		// Match by path
		if ok {
			handler(w, r)
			return
		}

		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"type": "not_found", "message": "unknown path " + r.URL.Path},
		})
	}))

	t.Cleanup(func() {
		mock.Server.Close()
	})

	return mock
}

// SetupDefaults sets up default response handlers.
func (m *LLMMockServer) SetupDefaults() {
	// Anthropic Messages API
	m.Handlers["/v1/messages"] = func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "msg_mock",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-mock",
			"stop_reason": "end_turn",
			"content": []map[string]string{
				{"type": "text", "text": m.currentReply()},
			},
		})
	}

	// OpenAI chat completions
	m.Handlers["/v1/chat/completions"] = func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-mock",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]string{"role": "assistant", "content": m.currentReply()},
				},
			},
		})
	}

	// Ollama chat
	m.Handlers["/api/chat"] = func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model":   "llama-mock",
			"message": map[string]string{"role": "assistant", "content": m.currentReply()},
			"done":    true,
		})
	}

	// Ollama model list
	m.Handlers["/api/tags"] = func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]string{{"name": "llama-mock"}},
		})
	}
}

// URL returns the mock server URL.
func (m *LLMMockServer) URL() string {
	return m.Server.URL
}

func (m *LLMMockServer) currentReply() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reply
}

// Requests returns how many requests hit path.
func (m *LLMMockServer) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}

// LastBody returns the decoded body of the most recent POST.
func (m *LLMMockServer) LastBody() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.bodies) == 0 {
		return nil
	}
	return m.bodies[len(m.bodies)-1]
}

// SetErrorResponse makes path fail with status.
func (m *LLMMockServer) SetErrorResponse(path string, status int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"type": "api_error", "message": message},
		})
	}
}
