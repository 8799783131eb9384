// Package tasks picks the single action a persona performs during a tick.
package tasks

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/logging"
	"github.com/agentforum/agentforum/internal/storage"
)

// Selection tuning
const (
	CandidateLimit     = 15
	Cooldown           = 6 * time.Hour
	InitiativeCategory = 5

	DomainBonus     = 25.0
	FreshnessWindow = 36.0 // hours
	PinnedBonus     = 40.0
	UnansweredBonus = 15.0

	InitiativePriority = 60.0
	SummarizePriority  = 30.0
)

// Task is the action chosen for a tick
type Task struct {
	Kind       core.TaskType `json:"kind"`
	ThreadID   string        `json:"thread_id,omitempty"`
	CategoryID string        `json:"category_id,omitempty"`
	Topic      string        `json:"topic,omitempty"`
	Priority   float64       `json:"priority"`
}

// ThreadSource is the slice of the forum store the selector reads
type ThreadSource interface {
	ListCandidateThreads(ctx context.Context, f storage.ThreadFilter) ([]*core.Thread, error)
	LastPersonaPostAt(ctx context.Context, threadID string, personaID core.PersonaID) (time.Time, bool, error)
	ListCategoriesBySlugs(ctx context.Context, slugs []string, limit int) ([]*core.Category, error)
}

// Selector chooses tasks. Time and randomness are injected.
type Selector struct {
	store ThreadSource
	clock core.Clock
	rand  core.RandomSource
	log   *logging.Logger
}

// NewSelector creates a task selector
func NewSelector(store ThreadSource, clock core.Clock, rand core.RandomSource) *Selector {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if rand == nil {
		rand = core.NewRand(time.Now().UnixNano())
	}
	return &Selector{
		store: store,
		clock: clock,
		rand:  rand,
		log:   logging.WithField("component", "tasks"),
	}
}

// SelectAgentTask returns the highest priority task for persona, or nil when
// the forum has nothing to act on.
func (s *Selector) SelectAgentTask(ctx context.Context, persona *core.Persona, cfg core.ActivityConfig) (*Task, error) {
	now := s.clock.Now()

	reply, err := s.replyCandidate(ctx, persona, now)
	if err != nil {
		return nil, err
	}

	if cfg.AllowNewThreads && s.rand.Float64() < cfg.ReplyProbability/4 {
		initiative, err := s.initiative(ctx, persona)
		if err != nil {
			return nil, err
		}
		if initiative != nil && (reply == nil || initiative.Priority >= reply.Priority) {
			return initiative, nil
		}
	}

	if reply != nil {
		return reply, nil
	}

	return s.summarizeCandidate(ctx)
}

func (s *Selector) replyCandidate(ctx context.Context, persona *core.Persona, now time.Time) (*Task, error) {
	threads, err := s.store.ListCandidateThreads(ctx, storage.ThreadFilter{
		ExcludeLocked:        true,
		ExcludeAuthorPersona: persona.ID,
		OrderBy:              storage.OrderUpdatedAsc,
		Limit:                CandidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list candidate threads: %w", err)
	}

	var best *Task
	for _, t := range threads {
		last, ok, err := s.store.LastPersonaPostAt(ctx, t.ID, persona.ID)
		if err != nil {
			return nil, fmt.Errorf("last post in %s: %w", t.ID, err)
		}
		if ok && now.Sub(last) < Cooldown {
			continue
		}

		score := Score(persona, t, now)
		if best == nil || score > best.Priority {
			best = &Task{
				Kind:       core.TaskReply,
				ThreadID:   t.ID,
				CategoryID: t.CategoryID,
				Priority:   score,
			}
		}
	}
	return best, nil
}

// Score rates a reply candidate for persona at now
func Score(persona *core.Persona, t *core.Thread, now time.Time) float64 {
	score := 0.0
	if persona.HasDomain(t.CategorySlug) {
		score += DomainBonus
	}
	hours := now.Sub(t.UpdatedAt).Hours()
	score += math.Max(0, FreshnessWindow-hours)
	if t.IsPinned {
		score += PinnedBonus
	}
	if t.PostCount == 0 {
		score += UnansweredBonus
	}
	return score
}

func (s *Selector) initiative(ctx context.Context, persona *core.Persona) (*Task, error) {
	categories, err := s.store.ListCategoriesBySlugs(ctx, persona.Domains, InitiativeCategory)
	if err != nil {
		return nil, fmt.Errorf("list domain categories: %w", err)
	}
	if len(categories) == 0 {
		s.log.WithField("persona", persona.Slug).Debug("initiative drawn but no domain category exists")
		return nil, nil
	}

	category := categories[s.rand.Intn(len(categories))]
	return &Task{
		Kind:       core.TaskNewThread,
		CategoryID: category.ID,
		Topic:      TopicHint(persona),
		Priority:   InitiativePriority,
	}, nil
}

func (s *Selector) summarizeCandidate(ctx context.Context) (*Task, error) {
	threads, err := s.store.ListCandidateThreads(ctx, storage.ThreadFilter{
		ExcludeLocked: true,
		OrderBy:       storage.OrderCreatedDesc,
		Limit:         1,
	})
	if err != nil {
		return nil, fmt.Errorf("latest unlocked thread: %w", err)
	}
	if len(threads) == 0 {
		return nil, nil
	}
	return &Task{
		Kind:       core.TaskSummarize,
		ThreadID:   threads[0].ID,
		CategoryID: threads[0].CategoryID,
		Priority:   SummarizePriority,
	}, nil
}

// TopicHint is the persona description up to its first period, or the
// display name when that is empty.
func TopicHint(persona *core.Persona) string {
	hint := persona.Description
	if i := strings.Index(hint, "."); i >= 0 {
		hint = hint[:i]
	}
	if hint = strings.TrimSpace(hint); hint != "" {
		return hint
	}
	return persona.DisplayName
}
