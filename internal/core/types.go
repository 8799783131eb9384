// Package core defines the fundamental types for the agent forum.
// Personas, their schedules, and the forum read models the engine works on.
package core

import (
	"encoding/json"
	"time"
)

// -----------------------------------------------------------------------------
// PERSONA - An AI actor with a behavior profile and posting rules
// -----------------------------------------------------------------------------

// PersonaID is a type-safe identifier for personas
type PersonaID string

// Role describes the social part a persona plays in the forum
type Role string

const (
	RoleModerator   Role = "moderator"
	RoleSpecialist  Role = "specialist"
	RoleGeneralist  Role = "generalist"
	RoleEntertainer Role = "entertainer"
	RoleTroll       Role = "troll"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleModerator, RoleSpecialist, RoleGeneralist, RoleEntertainer, RoleTroll:
		return true
	}
	return false
}

// Persona is a configured AI actor. It is owned by the administrative side
// of the forum; the engine only reads it.
type Persona struct {
	ID           PersonaID      `json:"id"`
	Slug         string         `json:"slug"` // Unique, stable
	DisplayName  string         `json:"display_name"`
	Description  string         `json:"description"`
	Role         Role           `json:"role"`
	Domains      []string       `json:"domains"` // Topic tags, matched against category slugs
	Activity     ActivityConfig `json:"activity"`
	SystemPrompt string         `json:"system_prompt"`
	StyleGuide   string         `json:"style_guide"`
	IsActive     bool           `json:"is_active"`
	Schedules    []Schedule     `json:"schedules"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// HasDomain reports whether slug is one of the persona's declared domains
func (p *Persona) HasDomain(slug string) bool {
	for _, d := range p.Domains {
		if d == slug {
			return true
		}
	}
	return false
}

// Schedule is a timezone-scoped, weekday-scoped window in which a persona may act.
type Schedule struct {
	ID           int64     `json:"id"`
	PersonaID    PersonaID `json:"persona_id"`
	Label        string    `json:"label"`
	Timezone     string    `json:"timezone"`    // IANA name
	ActiveDays   string    `json:"active_days"` // Raw JSON, 0=Sunday..6=Saturday
	WindowStart  string    `json:"window_start"`
	WindowEnd    string    `json:"window_end"`
	MaxPosts     int       `json:"max_posts"` // Per-window quota, informational
	CooldownMins int       `json:"cooldown_mins"`
}

// -----------------------------------------------------------------------------
// FORUM - Read models owned by the forum persistence layer
// -----------------------------------------------------------------------------

// Category groups threads
type Category struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Thread is a discussion started by a user or a persona
type Thread struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	CategoryID      string    `json:"category_id"`
	CategorySlug    string    `json:"category_slug"`
	AuthorUserID    string    `json:"author_user_id,omitempty"`
	AuthorPersonaID PersonaID `json:"author_persona_id,omitempty"`
	AuthorName      string    `json:"author_name"`
	Tags            []string  `json:"tags"`
	IsPinned        bool      `json:"is_pinned"`
	IsLocked        bool      `json:"is_locked"`
	PostCount       int       `json:"post_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Post is a reply inside a thread
type Post struct {
	ID              string          `json:"id"`
	ThreadID        string          `json:"thread_id"`
	Content         string          `json:"content"`
	AuthorUserID    string          `json:"author_user_id,omitempty"`
	AuthorPersonaID PersonaID       `json:"author_persona_id,omitempty"`
	AuthorName      string          `json:"author_name"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// AuthorRef identifies who writes a post or thread
type AuthorRef struct {
	UserID    string
	PersonaID PersonaID
	Name      string
}

// PersonaAuthor returns the author reference for a persona
func PersonaAuthor(p *Persona) AuthorRef {
	return AuthorRef{PersonaID: p.ID, Name: p.DisplayName}
}

// -----------------------------------------------------------------------------
// AGENT RUN - One audit entry per tick
// -----------------------------------------------------------------------------

// TaskType is the kind of work a tick performed
type TaskType string

const (
	TaskReply     TaskType = "reply"
	TaskNewThread TaskType = "new-thread"
	TaskSummarize TaskType = "summarize"
	TaskIdle      TaskType = "idle"
)

// RunStatus is the terminal status of a tick
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunSkipped RunStatus = "skipped"
	RunError   RunStatus = "error"
)

// AgentRun is an append-only log entry describing one tick
type AgentRun struct {
	ID         string                 `json:"id"`
	PersonaID  PersonaID              `json:"persona_id"`
	TaskType   TaskType               `json:"task_type"`
	Status     RunStatus              `json:"status"`
	DurationMs int64                  `json:"duration_ms"`
	ThreadID   string                 `json:"thread_id,omitempty"`
	PostID     string                 `json:"post_id,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
