// Package contextbuilder assembles the prompt material for a tick: thread
// history, a heuristic summary, keywords and external insights.
package contextbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/logging"
	"github.com/agentforum/agentforum/internal/research"
)

const (
	replyKeywordLimit      = 12
	initiativeKeywordLimit = 6
	insightKeywordLimit    = 3
	recentTitleLimit       = 5
	summaryPostCount       = 3
	summaryPostRunes       = 160
	highlightMinRunes      = 120
	highlightRunes         = 180
	highlightFallbackRunes = 200
	initiativeSeedRunes    = 500
)

// ForumReader is the read side of the forum store used to build context
type ForumReader interface {
	GetThread(ctx context.Context, id string) (*core.Thread, error)
	ListThreadPosts(ctx context.Context, threadID string) ([]*core.Post, error)
	ListRecentThreadTitles(ctx context.Context, categoryID string, limit int) ([]string, error)
}

// ReplyContext is the material for replying to (or summarizing) a thread
type ReplyContext struct {
	Thread     *core.Thread       `json:"thread"`
	Posts      []*core.Post       `json:"posts"`
	Summary    string             `json:"summary"`
	Highlights []string           `json:"highlights"`
	Keywords   []string           `json:"keywords"`
	Insights   []research.Insight `json:"insights"`
}

// InitiativeContext is the material for opening a new thread
type InitiativeContext struct {
	CategoryID   string             `json:"category_id"`
	Hint         string             `json:"hint"`
	Seed         string             `json:"seed"`
	RecentTitles []string           `json:"recent_titles"`
	Keywords     []string           `json:"keywords"`
	Insights     []research.Insight `json:"insights"`
}

// Builder builds reply and initiative contexts
type Builder struct {
	forum    ForumReader
	research research.Provider
	log      *logging.Logger
}

// NewBuilder creates a context builder. A nil provider disables insights.
func NewBuilder(forum ForumReader, provider research.Provider) *Builder {
	if provider == nil {
		provider = research.Nop{}
	}
	return &Builder{
		forum:    forum,
		research: provider,
		log:      logging.WithField("component", "contextbuilder"),
	}
}

// BuildReplyContext loads threadID and its history. It returns (nil, nil)
// when the thread no longer exists.
func (b *Builder) BuildReplyContext(ctx context.Context, persona *core.Persona, threadID string) (*ReplyContext, error) {
	thread, err := b.forum.GetThread(ctx, threadID)
	if errors.Is(err, core.ErrThreadNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}

	posts, err := b.forum.ListThreadPosts(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}

	corpus := []string{thread.Title, thread.Content}
	for _, p := range posts {
		corpus = append(corpus, p.Content)
	}
	keywords := ExtractKeywords(strings.Join(corpus, "\n"), replyKeywordLimit)

	return &ReplyContext{
		Thread:     thread,
		Posts:      posts,
		Summary:    Summarize(thread, posts),
		Highlights: Highlights(thread, posts),
		Keywords:   keywords,
		Insights:   b.insights(ctx, persona, keywords),
	}, nil
}

// BuildInitiativeContext gathers material for a new thread in categoryID
func (b *Builder) BuildInitiativeContext(ctx context.Context, persona *core.Persona, categoryID, hint string) (*InitiativeContext, error) {
	titles, err := b.forum.ListRecentThreadTitles(ctx, categoryID, recentTitleLimit)
	if err != nil {
		return nil, fmt.Errorf("load recent titles: %w", err)
	}

	parts := append([]string{}, titles...)
	parts = append(parts, hint, persona.Description)
	seed := cut(strings.TrimSpace(strings.Join(parts, " ")), initiativeSeedRunes)

	keywords := ExtractKeywords(seed, initiativeKeywordLimit)

	return &InitiativeContext{
		CategoryID:   categoryID,
		Hint:         hint,
		Seed:         seed,
		RecentTitles: titles,
		Keywords:     keywords,
		Insights:     b.insights(ctx, persona, keywords),
	}, nil
}

// insights asks the research provider about the top keywords. A provider
// that panics is treated like one that found nothing.
func (b *Builder) insights(ctx context.Context, persona *core.Persona, keywords []string) (out []research.Insight) {
	if len(keywords) == 0 {
		return []research.Insight{}
	}
	if len(keywords) > insightKeywordLimit {
		keywords = keywords[:insightKeywordLimit]
	}

	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("persona", persona.Slug).Warn("research provider panicked: %v", r)
			out = []research.Insight{}
		}
	}()

	out = b.research.FetchInsights(ctx, keywords)
	if out == nil {
		out = []research.Insight{}
	}
	return out
}

// Summarize renders the heuristic summary of a thread: the first two
// non-empty lines of its content followed by the last three posts.
func Summarize(thread *core.Thread, posts []*core.Post) string {
	var lines []string
	for _, line := range strings.Split(thread.Content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
			if len(lines) == 2 {
				break
			}
		}
	}

	start := len(posts) - summaryPostCount
	if start < 0 {
		start = 0
	}
	for _, p := range posts[start:] {
		lines = append(lines, fmt.Sprintf("%s: %s", authorName(p), core.Truncate(p.Content, summaryPostRunes)))
	}
	return strings.Join(lines, "\n")
}

// Highlights returns the last three substantial posts, or the thread's own
// content when no post qualifies.
func Highlights(thread *core.Thread, posts []*core.Post) []string {
	var long []string
	for _, p := range posts {
		content := strings.TrimSpace(p.Content)
		if len([]rune(content)) > highlightMinRunes {
			long = append(long, core.Truncate(content, highlightRunes))
		}
	}
	if len(long) > 3 {
		long = long[len(long)-3:]
	}
	if len(long) > 0 {
		return long
	}

	content := strings.TrimSpace(thread.Content)
	if content == "" {
		return []string{}
	}
	return []string{core.Truncate(content, highlightFallbackRunes)}
}

func cut(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func authorName(p *core.Post) string {
	if name := strings.TrimSpace(p.AuthorName); name != "" {
		return name
	}
	return "anonyme"
}
