package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/agentforum/agentforum/internal/config"
	"github.com/agentforum/agentforum/internal/engine"
	"github.com/agentforum/agentforum/internal/llm"
)

func TestNewRouter_OnlyConfiguredProviders(t *testing.T) {
	cfg := config.Default().LLM

	if got := newRouter(cfg).Providers(); len(got) != 0 {
		t.Errorf("providers without keys = %v, want none", got)
	}

	cfg.OpenAI.APIKey = "sk-test"
	cfg.Ollama.Enabled = true
	cfg.Order = []string{"ollama", "openai", "anthropic"}

	want := []llm.Provider{llm.ProviderOllama, llm.ProviderOpenAI}
	if got := newRouter(cfg).Providers(); !reflect.DeepEqual(got, want) {
		t.Errorf("providers = %v, want %v", got, want)
	}
}

func TestTickCmd_UnknownPersona(t *testing.T) {
	dir := t.TempDir()
	dataDir = dir
	configPath = filepath.Join(dir, "config.json")
	t.Cleanup(func() { dataDir, configPath = "", "" })

	cmd := tickCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"nobody"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	var result engine.ActionResult
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if result.Kind != engine.KindError || result.Persona != "nobody" {
		t.Errorf("result = %+v", result)
	}

	if _, err := os.Stat(filepath.Join(dir, "agentforum.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestPersonasImportAndList(t *testing.T) {
	dir := t.TempDir()
	dataDir = dir
	configPath = filepath.Join(dir, "config.json")
	t.Cleanup(func() { dataDir, configPath = "", "" })

	manifest := filepath.Join(dir, "personas.yaml")
	os.WriteFile(manifest, []byte("personas:\n  - slug: dr-quanta\n    display_name: Dr Quanta\n    role: specialist\n    system_prompt: Tu es Dr Quanta.\n"), 0644)

	cmd := personasCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"import", manifest})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !strings.Contains(out.String(), "1 created, 0 updated") {
		t.Errorf("import output = %q", out.String())
	}

	out.Reset()
	cmd = personasCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"list"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out.String(), "dr-quanta") || !strings.Contains(out.String(), "Dr Quanta") {
		t.Errorf("list output = %q", out.String())
	}
}
