package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/storage"
)

// AlwaysSchedule is active every day, all day, in UTC.
func AlwaysSchedule() core.Schedule {
	return core.Schedule{
		Label:       "always",
		Timezone:    "UTC",
		ActiveDays:  "[0,1,2,3,4,5,6]",
		WindowStart: "00:00",
		WindowEnd:   "23:59",
	}
}

// DefaultPersona returns the dr-quanta persona used across tests: a quantum
// specialist active on Montreal weekday afternoons.
func DefaultPersona() *core.Persona {
	return &core.Persona{
		Slug:         "dr-quanta",
		DisplayName:  "Dr Quanta",
		Description:  "Physicienne spécialiste du calcul quantique. Aime vulgariser.",
		Role:         core.RoleSpecialist,
		Domains:      []string{"quantum"},
		Activity:     core.DefaultActivityConfig(),
		SystemPrompt: "Tu es Dr Quanta, physicienne.",
		StyleGuide:   "Ton chaleureux, phrases courtes.",
		IsActive:     true,
		Schedules: []core.Schedule{{
			Label:       "afternoon",
			Timezone:    "America/Montreal",
			ActiveDays:  "[1,2,3,4,5]",
			WindowStart: "13:00",
			WindowEnd:   "18:00",
		}},
	}
}

// PersonaBuilder provides a fluent interface for persona fixtures.
type PersonaBuilder struct {
	persona *core.Persona
}

// NewPersonaBuilder starts from DefaultPersona.
func NewPersonaBuilder() *PersonaBuilder {
	return &PersonaBuilder{persona: DefaultPersona()}
}

// WithSlug sets the slug.
func (b *PersonaBuilder) WithSlug(slug string) *PersonaBuilder {
	b.persona.Slug = slug
	b.persona.DisplayName = slug
	return b
}

// WithActivity sets the activity config.
func (b *PersonaBuilder) WithActivity(cfg core.ActivityConfig) *PersonaBuilder {
	b.persona.Activity = cfg
	return b
}

// WithSchedules replaces the schedules.
func (b *PersonaBuilder) WithSchedules(schedules ...core.Schedule) *PersonaBuilder {
	b.persona.Schedules = schedules
	return b
}

// Inactive clears the active flag.
func (b *PersonaBuilder) Inactive() *PersonaBuilder {
	b.persona.IsActive = false
	return b
}

// Build returns the persona.
func (b *PersonaBuilder) Build() *core.Persona {
	return b.persona
}

// Forum bundles the stores of a migrated test database.
type Forum struct {
	DB       *storage.DB
	Personas *storage.PersonaStore
	Store    *storage.ForumStore
	Clock    *MutableClock
}

// NewForum opens a migrated in-memory database whose forum store is stamped
// by a clock starting at now.
func NewForum(t *testing.T, now time.Time) *Forum {
	t.Helper()
	db := TestDB(t)
	clock := &MutableClock{now: now}
	return &Forum{
		DB:       db,
		Personas: storage.NewPersonaStore(db),
		Store:    storage.NewForumStore(db).WithClock(clock),
		Clock:    clock,
	}
}

// SavePersona upserts p.
func (f *Forum) SavePersona(t *testing.T, p *core.Persona) *core.Persona {
	t.Helper()
	if err := f.Personas.Upsert(context.Background(), p); err != nil {
		t.Fatalf("upsert persona %s: %v", p.Slug, err)
	}
	return p
}

// Category creates a category with its updated_at at the clock's time.
func (f *Forum) Category(t *testing.T, slug string) *core.Category {
	t.Helper()
	c, err := f.Store.CreateCategory(context.Background(), slug, slug)
	if err != nil {
		t.Fatalf("create category %s: %v", slug, err)
	}
	return c
}

// Thread creates a thread at the given time by a human author.
func (f *Forum) Thread(t *testing.T, at time.Time, categoryID, title, content string) *core.Thread {
	t.Helper()
	f.Clock.Set(at)
	th, err := f.Store.CreateThread(context.Background(), storage.NewThread{
		Title:      title,
		Content:    content,
		CategoryID: categoryID,
		Author:     core.AuthorRef{UserID: "user-1", Name: "alice"},
	})
	if err != nil {
		t.Fatalf("create thread %q: %v", title, err)
	}
	return th
}

// Post appends a post at the given time.
func (f *Forum) Post(t *testing.T, at time.Time, threadID string, author core.AuthorRef, content string) *core.Post {
	t.Helper()
	f.Clock.Set(at)
	p, err := f.Store.CreatePost(context.Background(), threadID, author, content, nil)
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	return p
}

// MutableClock is a core.Clock tests can move.
type MutableClock struct {
	now time.Time
}

// Now returns the current test time.
func (c *MutableClock) Now() time.Time { return c.now }

// Set moves the clock.
func (c *MutableClock) Set(t time.Time) { c.now = t }
