// Package personas loads persona manifests written in YAML and upserts them
// into the persona store.
package personas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentforum/agentforum/internal/activity"
	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/logging"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Manifest is the root of a persona file
type Manifest struct {
	Personas []PersonaSpec `yaml:"personas"`
}

// PersonaSpec describes one persona
type PersonaSpec struct {
	Slug         string         `yaml:"slug"`
	DisplayName  string         `yaml:"display_name"`
	Description  string         `yaml:"description"`
	Role         string         `yaml:"role"`
	Domains      []string       `yaml:"domains"`
	Active       *bool          `yaml:"active"` // Defaults to true
	SystemPrompt string         `yaml:"system_prompt"`
	StyleGuide   string         `yaml:"style_guide"`
	Activity     ActivitySpec   `yaml:"activity"`
	Schedules    []ScheduleSpec `yaml:"schedules"`
}

// ActivitySpec overrides activity defaults field by field
type ActivitySpec struct {
	MaxDailyPosts      *int     `yaml:"max_daily_posts"`
	ReplyProbability   *float64 `yaml:"reply_probability"`
	SummaryProbability *float64 `yaml:"summary_probability"`
	Temperature        *float64 `yaml:"temperature"`
	MinWords           *int     `yaml:"min_words"`
	MaxWords           *int     `yaml:"max_words"`
	AllowNewThreads    *bool    `yaml:"allow_new_threads"`
}

// ScheduleSpec is one activity window
type ScheduleSpec struct {
	Label        string `yaml:"label"`
	Timezone     string `yaml:"timezone"`
	Days         []int  `yaml:"days"` // 0=Sunday..6=Saturday
	Start        string `yaml:"start"`
	End          string `yaml:"end"`
	MaxPosts     int    `yaml:"max_posts"`
	CooldownMins int    `yaml:"cooldown_mins"`
}

// ParseManifest decodes and validates a manifest payload
func ParseManifest(data []byte) (*Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: manifest is empty", core.ErrInvalidInput)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFile reads a manifest from disk
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadPath loads a manifest file, or every *.yaml / *.yml file of a
// directory merged in name order
func LoadPath(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return LoadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && isYAMLFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	merged := &Manifest{}
	for _, name := range names {
		m, err := LoadFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		merged.Personas = append(merged.Personas, m.Personas...)
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Validate checks every persona and rejects duplicate slugs
func (m *Manifest) Validate() error {
	if len(m.Personas) == 0 {
		return fmt.Errorf("%w: no personas", core.ErrInvalidInput)
	}

	seen := make(map[string]bool, len(m.Personas))
	for i, p := range m.Personas {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("persona %d (%s): %w", i, p.Slug, err)
		}
		if seen[p.Slug] {
			return fmt.Errorf("%w: duplicate slug %q", core.ErrInvalidInput, p.Slug)
		}
		seen[p.Slug] = true
	}
	return nil
}

// Validate checks a single persona
func (p PersonaSpec) Validate() error {
	if p.Slug == "" {
		return fmt.Errorf("%w: slug", core.ErrMissingRequired)
	}
	if !slugPattern.MatchString(p.Slug) {
		return fmt.Errorf("%w: slug %q must be lowercase words joined by dashes", core.ErrInvalidInput, p.Slug)
	}
	if p.Role != "" && !core.Role(p.Role).Valid() {
		return fmt.Errorf("%w: unknown role %q", core.ErrInvalidInput, p.Role)
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return fmt.Errorf("%w: system_prompt", core.ErrMissingRequired)
	}
	if err := p.activityConfig().Validate(); err != nil {
		return err
	}
	for i, s := range p.Schedules {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("schedule %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks that the gate will be able to evaluate the window
func (s ScheduleSpec) Validate() error {
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q", core.ErrInvalidSchedule, s.Timezone)
		}
	}
	if _, err := core.ParseActiveDays(s.activeDays()); err != nil {
		return err
	}
	if _, err := activity.ParseClock(s.Start); err != nil {
		return err
	}
	if _, err := activity.ParseClock(s.End); err != nil {
		return err
	}
	return nil
}

func (s ScheduleSpec) activeDays() string {
	if len(s.Days) == 0 {
		return ""
	}
	data, _ := json.Marshal(s.Days)
	return string(data)
}

func (p PersonaSpec) activityConfig() core.ActivityConfig {
	cfg := core.DefaultActivityConfig()
	a := p.Activity
	if a.MaxDailyPosts != nil {
		cfg.MaxDailyPosts = *a.MaxDailyPosts
	}
	if a.ReplyProbability != nil {
		cfg.ReplyProbability = *a.ReplyProbability
	}
	if a.SummaryProbability != nil {
		cfg.SummaryProbability = *a.SummaryProbability
	}
	if a.Temperature != nil {
		cfg.Temperature = *a.Temperature
	}
	if a.MinWords != nil {
		cfg.MinWords = *a.MinWords
	}
	if a.MaxWords != nil {
		cfg.MaxWords = *a.MaxWords
	}
	if a.AllowNewThreads != nil {
		cfg.AllowNewThreads = *a.AllowNewThreads
	}
	return cfg
}

// Persona converts the spec into the stored model
func (p PersonaSpec) Persona() *core.Persona {
	active := true
	if p.Active != nil {
		active = *p.Active
	}

	domains := make([]string, 0, len(p.Domains))
	for _, d := range p.Domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}

	persona := &core.Persona{
		Slug:         p.Slug,
		DisplayName:  strings.TrimSpace(p.DisplayName),
		Description:  strings.TrimSpace(p.Description),
		Role:         core.Role(p.Role),
		Domains:      domains,
		Activity:     p.activityConfig(),
		SystemPrompt: strings.TrimSpace(p.SystemPrompt),
		StyleGuide:   strings.TrimSpace(p.StyleGuide),
		IsActive:     active,
	}
	for _, s := range p.Schedules {
		persona.Schedules = append(persona.Schedules, core.Schedule{
			Label:        s.Label,
			Timezone:     s.Timezone,
			ActiveDays:   s.activeDays(),
			WindowStart:  s.Start,
			WindowEnd:    s.End,
			MaxPosts:     s.MaxPosts,
			CooldownMins: s.CooldownMins,
		})
	}
	return persona
}

// Store is what the importer needs from persona persistence
type Store interface {
	FindBySlug(ctx context.Context, slug string) (*core.Persona, error)
	Upsert(ctx context.Context, p *core.Persona) error
}

// ImportResult lists the slugs touched by an import
type ImportResult struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
}

// Import upserts every persona of m, replacing their schedules
func Import(ctx context.Context, store Store, m *Manifest) (*ImportResult, error) {
	log := logging.WithField("component", "personas")
	result := &ImportResult{}

	for _, spec := range m.Personas {
		_, err := store.FindBySlug(ctx, spec.Slug)
		exists := err == nil
		if err != nil && !errors.Is(err, core.ErrPersonaNotFound) {
			return result, fmt.Errorf("lookup %s: %w", spec.Slug, err)
		}

		p := spec.Persona()
		if err := store.Upsert(ctx, p); err != nil {
			return result, fmt.Errorf("upsert %s: %w", spec.Slug, err)
		}

		if exists {
			result.Updated = append(result.Updated, p.Slug)
		} else {
			result.Created = append(result.Created, p.Slug)
		}
		log.WithFields(map[string]interface{}{
			"persona":   p.Slug,
			"schedules": len(p.Schedules),
			"created":   !exists,
		}).Info("persona imported")
	}
	return result, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
