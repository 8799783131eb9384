// Package engine runs agent ticks: one persona, one eligibility check, at
// most one action, one run log entry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"time"

	"github.com/agentforum/agentforum/internal/activity"
	"github.com/agentforum/agentforum/internal/contextbuilder"
	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/llm"
	"github.com/agentforum/agentforum/internal/logging"
	"github.com/agentforum/agentforum/internal/research"
	"github.com/agentforum/agentforum/internal/storage"
	"github.com/agentforum/agentforum/internal/tasks"
)

const (
	summaryMinWords  = 150
	summaryMaxWords  = 220
	summaryMaxTokens = 512
	minReplyTokens   = 512

	initiativeMinTemperature = 0.7
	summaryMaxTemperature    = 0.4
)

// PersonaFinder loads personas
type PersonaFinder interface {
	FindBySlug(ctx context.Context, slug string) (*core.Persona, error)
}

// Forum is the persistence collaborator of a tick
type Forum interface {
	tasks.ThreadSource
	contextbuilder.ForumReader
	activity.PostCounter
	CreatePost(ctx context.Context, threadID string, author core.AuthorRef, content string, metadata map[string]interface{}) (*core.Post, error)
	CreateThread(ctx context.Context, nt storage.NewThread) (*core.Thread, error)
	TouchThread(ctx context.Context, threadID string) error
}

// RunLogger records tick outcomes. It must not fail the tick.
type RunLogger interface {
	Log(ctx context.Context, run core.AgentRun)
}

// Notifier receives every tick result, e.g. to push it to live dashboards
type Notifier interface {
	Notify(result ActionResult)
}

// Config tunes the engine
type Config struct {
	// TickTimeout bounds a whole tick. Zero disables it.
	TickTimeout time.Duration
}

// DefaultConfig returns default engine settings
func DefaultConfig() Config {
	return Config{TickTimeout: 3 * time.Minute}
}

// Deps are the engine's collaborators. Research, Clock, Rand and Notifier
// are optional.
type Deps struct {
	Personas PersonaFinder
	Forum    Forum
	Chat     llm.Chatter
	Research research.Provider
	Runs     RunLogger
	Notifier Notifier
	Clock    core.Clock
	Rand     core.RandomSource
}

// Engine executes ticks
type Engine struct {
	personas PersonaFinder
	forum    Forum
	chat     llm.Chatter
	runs     RunLogger
	notifier Notifier
	clock    core.Clock
	rand     core.RandomSource
	selector *tasks.Selector
	contexts *contextbuilder.Builder
	config   Config
	log      *logging.Logger
}

// New creates an engine
func New(deps Deps, cfg Config) *Engine {
	if deps.Clock == nil {
		deps.Clock = core.SystemClock{}
	}
	if deps.Rand == nil {
		deps.Rand = core.NewRand(time.Now().UnixNano())
	}
	return &Engine{
		personas: deps.Personas,
		forum:    deps.Forum,
		chat:     deps.Chat,
		runs:     deps.Runs,
		notifier: deps.Notifier,
		clock:    deps.Clock,
		rand:     deps.Rand,
		selector: tasks.NewSelector(deps.Forum, deps.Clock, deps.Rand),
		contexts: contextbuilder.NewBuilder(deps.Forum, deps.Research),
		config:   cfg,
		log:      logging.WithField("component", "engine"),
	}
}

// outcome is a result plus what the run log needs to know about it
type outcome struct {
	result   ActionResult
	taskType core.TaskType
	metadata map[string]interface{}
}

// RunAgentTick runs one tick for the persona with the given slug. It never
// panics and never returns an error: every path ends in an ActionResult
// that has been written to the run log.
func (e *Engine) RunAgentTick(ctx context.Context, slug string) ActionResult {
	start := time.Now()
	if e.config.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.TickTimeout)
		defer cancel()
	}

	var persona *core.Persona
	out := e.guard(slug, func() outcome {
		p, err := e.personas.FindBySlug(ctx, slug)
		if err != nil {
			out := outcome{
				result:   Failed(err.Error(), slug),
				taskType: core.TaskIdle,
				metadata: map[string]interface{}{"slug": slug},
			}
			if !errors.Is(err, core.ErrPersonaNotFound) {
				out.result.Message = "load persona: " + err.Error()
			}
			return out
		}
		persona = p
		return e.tick(ctx, p)
	})
	return e.finish(ctx, persona, slug, out, start)
}

// guard runs fn and turns a panic into an error outcome, so the tick still
// reaches the run log.
func (e *Engine) guard(slug string, fn func() outcome) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("persona", slug).Error("tick panicked: %v\n%s", r, debug.Stack())
			out = outcome{
				result:   Failed(fmt.Sprint(r), "panic"),
				taskType: core.TaskIdle,
			}
		}
	}()
	return fn()
}

func (e *Engine) tick(ctx context.Context, persona *core.Persona) outcome {
	cfg := persona.Activity

	if !persona.IsActive {
		return skip(core.TaskIdle, ReasonInactive, nil)
	}

	now := e.clock.Now()
	schedule := activity.IsWithinActiveWindow(persona, now)
	if schedule == nil {
		return skip(core.TaskIdle, ReasonOutOfWindow, nil)
	}

	count, err := activity.CountPostsToday(ctx, e.forum, persona.ID, now)
	if err != nil {
		return fail(core.TaskIdle, fmt.Errorf("count posts today: %w", err))
	}
	if count >= cfg.MaxDailyPosts {
		return skip(core.TaskIdle, ReasonQuotaReached, map[string]interface{}{
			"postsToday":    count,
			"maxDailyPosts": cfg.MaxDailyPosts,
		})
	}

	task, err := e.selector.SelectAgentTask(ctx, persona, cfg)
	if err != nil {
		return fail(core.TaskIdle, fmt.Errorf("select task: %w", err))
	}
	if task == nil {
		return skip(core.TaskIdle, ReasonNoTask, nil)
	}

	out := e.dispatch(ctx, persona, task)
	if out.metadata == nil {
		out.metadata = map[string]interface{}{}
	}
	out.metadata["schedule"] = schedule.Label
	out.metadata["priority"] = task.Priority
	out.metadata["postsToday"] = count
	return out
}

// dispatch performs the selected task. A panic becomes an error outcome.
func (e *Engine) dispatch(ctx context.Context, persona *core.Persona, task *tasks.Task) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(map[string]interface{}{
				"persona": persona.Slug,
				"task":    task.Kind,
			}).Error("tick panicked: %v\n%s", r, debug.Stack())
			out = outcome{
				result:   Failed(fmt.Sprint(r), "panic"),
				taskType: task.Kind,
			}
		}
	}()

	switch task.Kind {
	case core.TaskReply:
		return e.reply(ctx, persona, task)
	case core.TaskNewThread:
		return e.newThread(ctx, persona, task)
	case core.TaskSummarize:
		return e.summarize(ctx, persona, task)
	}
	return fail(task.Kind, fmt.Errorf("unknown task kind %q", task.Kind))
}

func (e *Engine) reply(ctx context.Context, persona *core.Persona, task *tasks.Task) outcome {
	cfg := persona.Activity

	rc, err := e.contexts.BuildReplyContext(ctx, persona, task.ThreadID)
	if err != nil {
		return fail(core.TaskReply, err)
	}
	if rc == nil {
		return skip(core.TaskReply, ReasonThreadUnavailable, map[string]interface{}{"threadId": task.ThreadID})
	}

	res := e.chat.Chat(ctx, replyMessages(persona, rc), llm.ChatOptions{
		Temperature: cfg.Temperature,
		MaxTokens:   replyTokens(cfg),
	})

	content := strings.TrimSpace(res.Content)
	if !res.OK || content == "" {
		e.log.WithField("persona", persona.Slug).Warn("reply generation failed, posting fallback: %s", res.Error)
		content = FallbackReply
	}

	post, err := e.forum.CreatePost(ctx, rc.Thread.ID, core.PersonaAuthor(persona), content, map[string]interface{}{
		"generatedAt": e.clock.Now().UTC().Format(time.RFC3339),
		"llm":         llmMeta(res),
		"summary":     rc.Summary,
		"insights":    rc.Insights,
	})
	if err != nil {
		return fail(core.TaskReply, fmt.Errorf("create post: %w", err))
	}
	e.touch(ctx, rc.Thread.ID)

	result := Posted(rc.Thread.ID, post.ID, content)
	return outcome{
		result:   result,
		taskType: core.TaskReply,
		metadata: map[string]interface{}{
			"llmOk":    res.OK,
			"provider": string(res.Provider),
			"keywords": rc.Keywords,
			"insights": len(rc.Insights),
		},
	}
}

func (e *Engine) newThread(ctx context.Context, persona *core.Persona, task *tasks.Task) outcome {
	cfg := persona.Activity

	if e.rand.Float64() > cfg.ReplyProbability {
		return skip(core.TaskNewThread, ReasonInitiativeDeclined, nil)
	}

	ic, err := e.contexts.BuildInitiativeContext(ctx, persona, task.CategoryID, task.Topic)
	if err != nil {
		return fail(core.TaskNewThread, err)
	}

	res := e.chat.Chat(ctx, initiativeMessages(persona, ic), llm.ChatOptions{
		Temperature: math.Max(cfg.Temperature, initiativeMinTemperature),
		MaxTokens:   replyTokens(cfg),
	})
	if !res.OK {
		return skip(core.TaskNewThread, ReasonThreadFailedPrefix+res.Error, map[string]interface{}{"categoryId": task.CategoryID})
	}

	bp, err := ParseBlueprint(res.Content)
	if err != nil {
		e.log.WithField("persona", persona.Slug).WithError(err).Info("discarding thread blueprint")
		return skip(core.TaskNewThread, ReasonThreadBadFormat, map[string]interface{}{"categoryId": task.CategoryID})
	}

	thread, err := e.forum.CreateThread(ctx, storage.NewThread{
		Title:      bp.Title,
		Content:    bp.Content,
		CategoryID: task.CategoryID,
		Author:     core.PersonaAuthor(persona),
		Tags:       topTags(ic.Keywords),
	})
	if err != nil {
		return fail(core.TaskNewThread, fmt.Errorf("create thread: %w", err))
	}

	return outcome{
		result:   ThreadCreated(thread.ID, thread.Title),
		taskType: core.TaskNewThread,
		metadata: map[string]interface{}{
			"categoryId": task.CategoryID,
			"topic":      task.Topic,
			"tags":       thread.Tags,
			"provider":   string(res.Provider),
		},
	}
}

func (e *Engine) summarize(ctx context.Context, persona *core.Persona, task *tasks.Task) outcome {
	cfg := persona.Activity

	if e.rand.Float64() > cfg.SummaryProbability {
		return skip(core.TaskSummarize, ReasonSummaryDeclined, map[string]interface{}{"threadId": task.ThreadID})
	}

	rc, err := e.contexts.BuildReplyContext(ctx, persona, task.ThreadID)
	if err != nil {
		return fail(core.TaskSummarize, err)
	}
	if rc == nil {
		return skip(core.TaskSummarize, ReasonThreadUnavailable, map[string]interface{}{"threadId": task.ThreadID})
	}

	res := e.chat.Chat(ctx, summaryMessages(persona, rc), llm.ChatOptions{
		Temperature: math.Min(cfg.Temperature, summaryMaxTemperature),
		MaxTokens:   summaryMaxTokens,
	})
	content := strings.TrimSpace(res.Content)
	if !res.OK || content == "" {
		reason := res.Error
		if res.OK {
			reason = core.ErrEmptyCompletion.Error()
		}
		return skip(core.TaskSummarize, ReasonSummaryFailedPrefix+reason, map[string]interface{}{"threadId": rc.Thread.ID})
	}

	post, err := e.forum.CreatePost(ctx, rc.Thread.ID, core.PersonaAuthor(persona), content, map[string]interface{}{
		"generatedAt": e.clock.Now().UTC().Format(time.RFC3339),
		"nature":      "summary",
		"llm":         llmMeta(res),
		"summary":     rc.Summary,
	})
	if err != nil {
		return fail(core.TaskSummarize, fmt.Errorf("create summary post: %w", err))
	}

	return outcome{
		result:   Summarized(rc.Thread.ID, post.ID),
		taskType: core.TaskSummarize,
		metadata: map[string]interface{}{"provider": string(res.Provider)},
	}
}

func (e *Engine) touch(ctx context.Context, threadID string) {
	if err := e.forum.TouchThread(ctx, threadID); err != nil {
		e.log.WithField("thread", threadID).WithError(err).Warn("failed to bump thread")
	}
}

// finish stamps the result, writes the run log entry and notifies
func (e *Engine) finish(ctx context.Context, persona *core.Persona, slug string, out outcome, start time.Time) ActionResult {
	result := out.result
	result.Persona = slug

	run := core.AgentRun{
		TaskType:   out.taskType,
		Status:     result.Status(),
		DurationMs: time.Since(start).Milliseconds(),
		ThreadID:   result.ThreadID,
		PostID:     result.PostID,
		Metadata:   out.metadata,
	}
	if persona != nil {
		result.PersonaID = persona.ID
		run.PersonaID = persona.ID
	}

	switch result.Kind {
	case KindSkipped:
		if run.Metadata == nil {
			run.Metadata = map[string]interface{}{}
		}
		run.Metadata["reason"] = result.Reason
	case KindError:
		run.Error = result.Message
	}

	log := e.log.WithFields(map[string]interface{}{
		"persona": slug,
		"task":    out.taskType,
		"kind":    result.Kind,
	})
	switch result.Kind {
	case KindError:
		log.Error("tick failed: %s", result.Message)
	case KindSkipped:
		log.Debug("tick skipped: %s", result.Reason)
	default:
		log.Info("tick done in %dms", run.DurationMs)
	}

	if e.runs != nil {
		e.runs.Log(context.WithoutCancel(ctx), run)
	}
	if e.notifier != nil {
		e.notifier.Notify(result)
	}
	return result
}

func skip(taskType core.TaskType, reason string, metadata map[string]interface{}) outcome {
	return outcome{result: Skipped(reason), taskType: taskType, metadata: metadata}
}

func fail(taskType core.TaskType, err error) outcome {
	return outcome{result: Failed(err.Error(), ""), taskType: taskType}
}

func replyTokens(cfg core.ActivityConfig) int {
	if n := cfg.MaxWords * 3; n > minReplyTokens {
		return n
	}
	return minReplyTokens
}

func llmMeta(res llm.ChatResult) map[string]interface{} {
	return map[string]interface{}{
		"ok":       res.OK,
		"error":    res.Error,
		"provider": string(res.Provider),
	}
}
