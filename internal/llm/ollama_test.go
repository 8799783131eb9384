package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// =============================================================================
// Ollama Client Tests
// =============================================================================

func TestNewOllamaClient_Defaults(t *testing.T) {
	client := NewOllamaClient(OllamaConfig{})

	if client.baseURL != "http://localhost:11434" {
		t.Errorf("baseURL = %q", client.baseURL)
	}
	if client.model != "llama3.2" {
		t.Errorf("model = %q", client.model)
	}
	if client.IsConfigured() {
		t.Error("Ollama should be disabled unless enabled explicitly")
	}
	if !NewOllamaClient(OllamaConfig{Enabled: true}).IsConfigured() {
		t.Error("Enabled Ollama should be configured")
	}
}

func TestOllamaClient_Complete(t *testing.T) {
	var got OllamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Path = %q, want /api/chat", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(OllamaChatResponse{
			Model:   "llama3.2",
			Message: Message{Role: "assistant", Content: " Salut "},
			Done:    true,
		})
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{Enabled: true, BaseURL: server.URL})
	text, err := client.Complete(context.Background(), []Message{System("sys"), User("hi")}, ChatOptions{Temperature: 0.3, MaxTokens: 512})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if text != "Salut" {
		t.Errorf("text = %q", text)
	}
	if got.Stream {
		t.Error("Expected non-streaming request")
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("Messages = %+v, want system message kept inline", got.Messages)
	}
	if got.Options == nil || got.Options.Temperature != 0.3 || got.Options.NumPredict != 512 {
		t.Errorf("Options = %+v", got.Options)
	}
}

func TestOllamaClient_Complete_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{Enabled: true, BaseURL: server.URL})
	if _, err := client.Complete(context.Background(), []Message{User("hi")}, ChatOptions{}); err == nil {
		t.Error("Expected error on 404")
	}
}

func TestOllamaClient_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[{"name":"llama3.2"},{"name":"mistral"}]}`))
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[1] != "mistral" {
		t.Errorf("models = %v", models)
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
