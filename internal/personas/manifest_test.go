package personas

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentforum/agentforum/internal/activity"
	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/storage"
	"github.com/agentforum/agentforum/internal/testutil"
)

const drQuanta = `
personas:
  - slug: dr-quanta
    display_name: Dr Quanta
    description: Physicienne spécialiste du calcul quantique. Aime vulgariser.
    role: specialist
    domains: [Quantum, " physique "]
    system_prompt: |
      Tu es Dr Quanta, physicienne.
    style_guide: Pédagogue, phrases courtes.
    activity:
      max_daily_posts: 4
      temperature: 0.5
      allow_new_threads: false
    schedules:
      - label: afternoon
        timezone: America/Montreal
        days: [1, 2, 3, 4, 5]
        start: "13:00"
        end: "18:00"
        cooldown_mins: 90
  - slug: night-owl
    role: entertainer
    active: false
    system_prompt: Tu es un oiseau de nuit.
    schedules:
      - timezone: UTC
        days: [0, 6]
        start: "22:00"
        end: "02:00"
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(drQuanta))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	if len(m.Personas) != 2 {
		t.Fatalf("got %d personas, want 2", len(m.Personas))
	}

	p := m.Personas[0].Persona()
	if p.Slug != "dr-quanta" || p.Role != core.RoleSpecialist || !p.IsActive {
		t.Errorf("persona = %+v", p)
	}
	if strings.Join(p.Domains, ",") != "quantum,physique" {
		t.Errorf("Domains = %v", p.Domains)
	}
	if p.SystemPrompt != "Tu es Dr Quanta, physicienne." {
		t.Errorf("SystemPrompt = %q", p.SystemPrompt)
	}

	cfg := p.Activity
	if cfg.MaxDailyPosts != 4 || cfg.Temperature != 0.5 || cfg.AllowNewThreads {
		t.Errorf("Activity = %+v", cfg)
	}
	// Unset fields keep their defaults
	if cfg.ReplyProbability != 0.6 || cfg.MinWords != 80 || cfg.MaxWords != 220 {
		t.Errorf("Activity defaults lost: %+v", cfg)
	}

	if len(p.Schedules) != 1 {
		t.Fatalf("Schedules = %d, want 1", len(p.Schedules))
	}
	sch := p.Schedules[0]
	if sch.ActiveDays != "[1,2,3,4,5]" || sch.WindowStart != "13:00" || sch.CooldownMins != 90 {
		t.Errorf("Schedule = %+v", sch)
	}

	owl := m.Personas[1].Persona()
	if owl.IsActive {
		t.Error("night-owl should be inactive")
	}
	if owl.Activity != core.DefaultActivityConfig() {
		t.Errorf("night-owl activity = %+v, want defaults", owl.Activity)
	}
}

func TestParseManifest_GateAcceptsImportedSchedules(t *testing.T) {
	m, err := ParseManifest([]byte(drQuanta))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	p := m.Personas[0].Persona()

	// Tuesday 15:00 in Montreal
	if activity.IsWithinActiveWindow(p, time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)) == nil {
		t.Error("imported schedule should open the window")
	}
	// Saturday
	if activity.IsWithinActiveWindow(p, time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)) != nil {
		t.Error("imported schedule should be closed on Saturday")
	}
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "  \n", core.ErrInvalidInput},
		{"no personas", "personas: []", core.ErrInvalidInput},
		{"missing slug", "personas:\n  - system_prompt: x", core.ErrMissingRequired},
		{"bad slug", "personas:\n  - slug: Dr Quanta\n    system_prompt: x", core.ErrInvalidInput},
		{"unknown role", "personas:\n  - slug: a\n    role: wizard\n    system_prompt: x", core.ErrInvalidInput},
		{"missing prompt", "personas:\n  - slug: a", core.ErrMissingRequired},
		{"bad probability", "personas:\n  - slug: a\n    system_prompt: x\n    activity:\n      reply_probability: 1.5", core.ErrInvalidInput},
		{"bad words", "personas:\n  - slug: a\n    system_prompt: x\n    activity:\n      min_words: 300", core.ErrInvalidInput},
		{"duplicate", "personas:\n  - slug: a\n    system_prompt: x\n  - slug: a\n    system_prompt: y", core.ErrInvalidInput},
		{"bad timezone", "personas:\n  - slug: a\n    system_prompt: x\n    schedules:\n      - timezone: Mars/Olympus\n        days: [1]\n        start: \"09:00\"\n        end: \"10:00\"", core.ErrInvalidSchedule},
		{"bad day", "personas:\n  - slug: a\n    system_prompt: x\n    schedules:\n      - days: [7]\n        start: \"09:00\"\n        end: \"10:00\"", core.ErrInvalidSchedule},
		{"no days", "personas:\n  - slug: a\n    system_prompt: x\n    schedules:\n      - start: \"09:00\"\n        end: \"10:00\"", core.ErrInvalidSchedule},
		{"bad clock", "personas:\n  - slug: a\n    system_prompt: x\n    schedules:\n      - days: [1]\n        start: \"9h\"\n        end: \"10:00\"", core.ErrInvalidSchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := ParseManifest([]byte("personas: [")); err == nil {
		t.Error("expected a decode error for broken YAML")
	}
}

func TestLoadPath(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("personas:\n  - slug: bravo\n    system_prompt: b"), 0644)
	os.WriteFile(filepath.Join(dir, "a.yml"), []byte("personas:\n  - slug: alpha\n    system_prompt: a"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)

	m, err := LoadPath(dir)
	if err != nil {
		t.Fatalf("LoadPath(dir) failed: %v", err)
	}
	if len(m.Personas) != 2 || m.Personas[0].Slug != "alpha" || m.Personas[1].Slug != "bravo" {
		t.Errorf("personas = %+v", m.Personas)
	}

	single, err := LoadPath(filepath.Join(dir, "b.yaml"))
	if err != nil || len(single.Personas) != 1 {
		t.Errorf("LoadPath(file) = %+v, %v", single, err)
	}

	if _, err := LoadPath(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadPath_DuplicatesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("personas:\n  - slug: alpha\n    system_prompt: a"), 0644)
	os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("personas:\n  - slug: alpha\n    system_prompt: b"), 0644)

	if _, err := LoadPath(dir); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("error = %v, want duplicate slug rejection", err)
	}
}

func TestImport(t *testing.T) {
	db := testutil.TestDB(t)
	store := storage.NewPersonaStore(db)
	ctx := testutil.TestContext(t)

	m, err := ParseManifest([]byte(drQuanta))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}

	result, err := Import(ctx, store, m)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(result.Created) != 2 || len(result.Updated) != 0 {
		t.Errorf("first import = %+v", result)
	}

	stored, err := store.FindBySlug(ctx, "dr-quanta")
	if err != nil {
		t.Fatalf("FindBySlug failed: %v", err)
	}
	if stored.Activity.MaxDailyPosts != 4 || len(stored.Schedules) != 1 || stored.Schedules[0].Timezone != "America/Montreal" {
		t.Errorf("stored = %+v", stored)
	}

	// Re-import with one schedule less keeps the ID and replaces schedules
	m.Personas[0].Schedules = nil
	result, err = Import(ctx, store, m)
	if err != nil {
		t.Fatalf("second Import failed: %v", err)
	}
	if len(result.Updated) != 2 || len(result.Created) != 0 {
		t.Errorf("second import = %+v", result)
	}

	again, _ := store.FindBySlug(ctx, "dr-quanta")
	if again.ID != stored.ID {
		t.Errorf("ID changed on re-import: %s -> %s", stored.ID, again.ID)
	}
	if len(again.Schedules) != 0 {
		t.Errorf("schedules = %d, want 0", len(again.Schedules))
	}

	active, _ := store.List(ctx, true)
	if len(active) != 1 || active[0].Slug != "dr-quanta" {
		t.Errorf("active personas = %d", len(active))
	}
}

type failingStore struct{}

func (failingStore) FindBySlug(context.Context, string) (*core.Persona, error) {
	return nil, errors.New("database is locked")
}

func (failingStore) Upsert(context.Context, *core.Persona) error { return nil }

func TestImport_LookupFailure(t *testing.T) {
	m, _ := ParseManifest([]byte(drQuanta))
	if _, err := Import(context.Background(), failingStore{}, m); err == nil {
		t.Error("expected lookup failure to abort the import")
	}
}
