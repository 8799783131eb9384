package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/llm"
	"github.com/agentforum/agentforum/internal/runlog"
	"github.com/agentforum/agentforum/internal/storage"
	"github.com/agentforum/agentforum/internal/testutil"
	"github.com/agentforum/agentforum/internal/testutil/mockservers"
)

// Tuesday 15:00 in Montreal (EDT), inside dr-quanta's afternoon window
var now = time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)

type harness struct {
	forum   *testutil.Forum
	persona *core.Persona
	chat    *testutil.MockChat
	runs    *runlog.Store
	rand    *testutil.ScriptedRand
	notify  *recordingNotifier
	engine  *Engine
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []ActionResult
}

func (n *recordingNotifier) Notify(r ActionResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, r)
}

func newHarness(t *testing.T, persona *core.Persona, chat *testutil.MockChat, floats ...float64) *harness {
	t.Helper()
	f := testutil.NewForum(t, now.Add(-48*time.Hour))
	f.SavePersona(t, persona)

	h := &harness{
		forum:   f,
		persona: persona,
		chat:    chat,
		runs:    runlog.NewStore(f.DB.Conn()).WithClock(core.FixedClock(now)),
		rand:    testutil.NewScriptedRand(floats...),
		notify:  &recordingNotifier{},
	}
	h.engine = h.build(core.FixedClock(now), chat)
	return h
}

func (h *harness) build(clock core.Clock, chat llm.Chatter) *Engine {
	return New(Deps{
		Personas: h.forum.Personas,
		Forum:    h.forum.Store,
		Chat:     chat,
		Research: &testutil.MockResearch{},
		Runs:     h.runs,
		Notifier: h.notify,
		Clock:    clock,
		Rand:     h.rand,
	}, DefaultConfig())
}

func (h *harness) tick(t *testing.T) ActionResult {
	t.Helper()
	h.forum.Clock.Set(now)
	return h.engine.RunAgentTick(testutil.TestContext(t), h.persona.Slug)
}

func (h *harness) lastRun(t *testing.T) *core.AgentRun {
	t.Helper()
	runs, err := h.runs.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("run log has %d entries, want 1", len(runs))
	}
	return runs[0]
}

func replyOnlyPersona() *core.Persona {
	p := testutil.DefaultPersona()
	p.Activity.AllowNewThreads = false
	return p
}

func postMetadata(t *testing.T, post *core.Post) map[string]interface{} {
	t.Helper()
	var meta map[string]interface{}
	if err := json.Unmarshal(post.Metadata, &meta); err != nil {
		t.Fatalf("decode post metadata: %v", err)
	}
	return meta
}

// =============================================================================
// Eligibility Tests
// =============================================================================

func TestRunAgentTick_OutOfWindowNeverCallsLLM(t *testing.T) {
	chat := testutil.NewMockChat(testutil.ChatOK("ne devrait pas servir"))
	h := newHarness(t, testutil.DefaultPersona(), chat)
	cat := h.forum.Category(t, "quantum")
	h.forum.Thread(t, now.Add(-time.Hour), cat.ID, "Quantum Networks", "...")

	// Monday 23:00 in Montreal
	h.engine = h.build(core.FixedClock(time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)), chat)
	res := h.tick(t)

	if res.Kind != KindSkipped || res.Reason != ReasonOutOfWindow {
		t.Fatalf("result = %+v, want skipped(%s)", res, ReasonOutOfWindow)
	}
	if chat.CallCount() != 0 {
		t.Errorf("LLM called %d times outside the window", chat.CallCount())
	}

	run := h.lastRun(t)
	if run.Status != core.RunSkipped || run.TaskType != core.TaskIdle || run.Metadata["reason"] != ReasonOutOfWindow {
		t.Errorf("run = %+v", run)
	}
	if run.PersonaID != h.persona.ID {
		t.Errorf("run.PersonaID = %q, want %q", run.PersonaID, h.persona.ID)
	}
}

func TestRunAgentTick_Inactive(t *testing.T) {
	p := testutil.NewPersonaBuilder().Inactive().Build()
	chat := testutil.NewMockChat()
	h := newHarness(t, p, chat)

	res := h.tick(t)
	if res.Kind != KindSkipped || res.Reason != ReasonInactive {
		t.Fatalf("result = %+v, want skipped(inactive)", res)
	}
	if chat.CallCount() != 0 {
		t.Error("LLM should not be called for an inactive persona")
	}
}

func TestRunAgentTick_QuotaReached(t *testing.T) {
	cfg := core.DefaultActivityConfig()
	cfg.MaxDailyPosts = 2
	p := testutil.NewPersonaBuilder().WithActivity(cfg).Build()
	chat := testutil.NewMockChat(testutil.ChatOK("..."))
	h := newHarness(t, p, chat)

	cat := h.forum.Category(t, "quantum")
	th := h.forum.Thread(t, now.Add(-20*time.Hour), cat.ID, "Quantum Networks", "...")
	// Yesterday's post does not count towards today's UTC quota
	h.forum.Post(t, time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC), th.ID, core.PersonaAuthor(p), "hier")
	h.forum.Post(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC), th.ID, core.PersonaAuthor(p), "un")
	h.forum.Post(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), th.ID, core.PersonaAuthor(p), "deux")

	res := h.tick(t)
	if res.Kind != KindSkipped || res.Reason != ReasonQuotaReached {
		t.Fatalf("result = %+v, want skipped(%s)", res, ReasonQuotaReached)
	}
	if chat.CallCount() != 0 {
		t.Error("LLM should not be called once the quota is reached")
	}
	if got := h.lastRun(t).Metadata["postsToday"]; got != float64(2) {
		t.Errorf("postsToday = %v, want 2", got)
	}
}

func TestRunAgentTick_PersonaNotFound(t *testing.T) {
	chat := testutil.NewMockChat()
	h := newHarness(t, testutil.DefaultPersona(), chat)

	res := h.engine.RunAgentTick(testutil.TestContext(t), "nobody")
	if res.Kind != KindError {
		t.Fatalf("result = %+v, want error", res)
	}
	if !strings.Contains(res.Message, core.ErrPersonaNotFound.Error()) || res.Details != "nobody" {
		t.Errorf("result = %+v", res)
	}

	run := h.lastRun(t)
	if run.Status != core.RunError || run.PersonaID != "" || run.Metadata["slug"] != "nobody" {
		t.Errorf("run = %+v", run)
	}
}

func TestRunAgentTick_NoTask(t *testing.T) {
	h := newHarness(t, replyOnlyPersona(), testutil.NewMockChat())

	res := h.tick(t)
	if res.Kind != KindSkipped || res.Reason != ReasonNoTask {
		t.Fatalf("result = %+v, want skipped(%s)", res, ReasonNoTask)
	}
}

// =============================================================================
// Reply Tests
// =============================================================================

func TestRunAgentTick_Reply(t *testing.T) {
	chat := testutil.NewMockChat(testutil.ChatOK("  Les répéteurs quantiques sont la clé.  "))
	h := newHarness(t, replyOnlyPersona(), chat)

	cat := h.forum.Category(t, "quantum")
	th := h.forum.Thread(t, now.Add(-time.Hour), cat.ID, "Quantum Networks", "Comment relier des processeurs ?")
	h.forum.Post(t, now.Add(-30*time.Minute), th.ID, core.AuthorRef{UserID: "u2", Name: "bob"}, "Bonne question.")

	res := h.tick(t)
	if res.Kind != KindPosted || res.ThreadID != th.ID {
		t.Fatalf("result = %+v, want posted in %s", res, th.ID)
	}
	if res.Content != "Les répéteurs quantiques sont la clé." {
		t.Errorf("Content = %q", res.Content)
	}
	if res.Persona != h.persona.Slug || res.PersonaID != h.persona.ID {
		t.Errorf("persona fields = %q/%q", res.Persona, res.PersonaID)
	}

	calls := chat.Calls()
	if len(calls) != 1 {
		t.Fatalf("LLM called %d times, want 1", len(calls))
	}
	opts := calls[0].Options
	if opts.Temperature != 0.7 || opts.MaxTokens != 660 {
		t.Errorf("options = %+v, want temperature 0.7 and 660 tokens", opts)
	}
	system := calls[0].Messages[0]
	if system.Role != "system" || !strings.Contains(system.Content, "entre 80 et 220 mots") {
		t.Errorf("system message = %q", system.Content)
	}
	if !strings.Contains(calls[0].Messages[1].Content, noExternalSignal) {
		t.Error("prompt should carry the no-external-signal placeholder")
	}

	posts, _ := h.forum.Store.ListThreadPosts(context.Background(), th.ID)
	if len(posts) != 2 || posts[1].ID != res.PostID {
		t.Fatalf("posts = %d", len(posts))
	}
	meta := postMetadata(t, posts[1])
	if llmMeta, _ := meta["llm"].(map[string]interface{}); llmMeta["ok"] != true {
		t.Errorf("metadata.llm = %v", meta["llm"])
	}
	if _, ok := meta["summary"]; !ok {
		t.Error("metadata should include the summary")
	}

	thread, _ := h.forum.Store.GetThread(context.Background(), th.ID)
	if !thread.UpdatedAt.Equal(now) {
		t.Errorf("thread updated_at = %v, want %v", thread.UpdatedAt, now)
	}

	run := h.lastRun(t)
	if run.Status != core.RunSuccess || run.TaskType != core.TaskReply || run.PostID != res.PostID {
		t.Errorf("run = %+v", run)
	}
}

func TestRunAgentTick_ReplyFallbackOnLLMFailure(t *testing.T) {
	chat := testutil.NewMockChat(testutil.ChatFailed("LLM service unavailable"))
	h := newHarness(t, replyOnlyPersona(), chat)

	cat := h.forum.Category(t, "quantum")
	th := h.forum.Thread(t, now.Add(-time.Hour), cat.ID, "Quantum Networks", "...")

	res := h.tick(t)
	if res.Kind != KindPosted {
		t.Fatalf("result = %+v, want posted", res)
	}
	if res.Content != FallbackReply {
		t.Errorf("Content = %q, want fallback", res.Content)
	}

	posts, _ := h.forum.Store.ListThreadPosts(context.Background(), th.ID)
	if len(posts) != 1 || posts[0].Content != FallbackReply {
		t.Fatalf("fallback post not persisted: %+v", posts)
	}
	llmMeta, _ := postMetadata(t, posts[0])["llm"].(map[string]interface{})
	if llmMeta["ok"] != false || llmMeta["error"] != "LLM service unavailable" {
		t.Errorf("metadata.llm = %v", llmMeta)
	}
}

func TestRunAgentTick_HistoryTrimmed(t *testing.T) {
	chat := testutil.NewMockChat(testutil.ChatOK("ok"))
	h := newHarness(t, replyOnlyPersona(), chat)

	cat := h.forum.Category(t, "quantum")
	th := h.forum.Thread(t, now.Add(-3*time.Hour), cat.ID, "Quantum Networks", "...")
	for i := 0; i < 7; i++ {
		content := strings.Repeat(string(rune('a'+i)), 300)
		h.forum.Post(t, now.Add(-time.Duration(120-i)*time.Minute), th.ID, core.AuthorRef{UserID: "u", Name: "bob"}, content)
	}

	h.tick(t)

	prompt := chat.Calls()[0].Messages[1].Content
	if strings.Contains(prompt, "- bob : aaa") || strings.Contains(prompt, "- bob : bbb") {
		t.Error("history should keep only the last 5 posts")
	}
	if !strings.Contains(prompt, "- bob : "+strings.Repeat("g", 220)+"…") {
		t.Error("history entries should be truncated at 220 runes")
	}
}

// =============================================================================
// New Thread Tests
// =============================================================================

func TestRunAgentTick_NewThread(t *testing.T) {
	cfg := core.DefaultActivityConfig()
	cfg.Temperature = 0.3
	p := testutil.NewPersonaBuilder().WithActivity(cfg).Build()
	chat := testutil.NewMockChat(testutil.ChatOK(
		"Voici ma proposition :\n```json\n{\"title\": \"Qubits topologiques {enfin} ?\", \"content\": \"Où en est-on ?\"}\n```\nBonne lecture."))
	h := newHarness(t, p, chat, 0.0)
	cat := h.forum.Category(t, "quantum")

	res := h.tick(t)
	if res.Kind != KindThreadCreated {
		t.Fatalf("result = %+v, want thread-created", res)
	}
	if res.Title != "Qubits topologiques {enfin} ?" {
		t.Errorf("Title = %q", res.Title)
	}

	if opts := chat.Calls()[0].Options; opts.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", opts.Temperature)
	}

	thread, err := h.forum.Store.GetThread(context.Background(), res.ThreadID)
	if err != nil {
		t.Fatalf("thread not persisted: %v", err)
	}
	if thread.CategoryID != cat.ID || thread.AuthorPersonaID != p.ID || thread.Content != "Où en est-on ?" {
		t.Errorf("thread = %+v", thread)
	}
	if len(thread.Tags) == 0 || len(thread.Tags) > 5 {
		t.Errorf("tags = %v, want 1-5 initiative keywords", thread.Tags)
	}

	if run := h.lastRun(t); run.TaskType != core.TaskNewThread || run.Status != core.RunSuccess {
		t.Errorf("run = %+v", run)
	}
}

func TestRunAgentTick_NewThreadSkips(t *testing.T) {
	tests := []struct {
		name       string
		floats     []float64
		chat       []llm.ChatResult
		wantReason string
		wantCalls  int
	}{
		{
			name:       "initiative declined",
			floats:     []float64{0.0, 0.9},
			wantReason: ReasonInitiativeDeclined,
		},
		{
			name:       "llm failure",
			floats:     []float64{0.0},
			chat:       []llm.ChatResult{testutil.ChatFailed("timed out after 40s")},
			wantReason: ReasonThreadFailedPrefix + "timed out after 40s",
			wantCalls:  1,
		},
		{
			name:       "missing content",
			floats:     []float64{0.0},
			chat:       []llm.ChatResult{testutil.ChatOK(`{"title": "Seulement un titre"}`)},
			wantReason: ReasonThreadBadFormat,
			wantCalls:  1,
		},
		{
			name:       "no json",
			floats:     []float64{0.0},
			chat:       []llm.ChatResult{testutil.ChatOK("Désolé, je ne peux pas.")},
			wantReason: ReasonThreadBadFormat,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := testutil.NewMockChat(tt.chat...)
			h := newHarness(t, testutil.DefaultPersona(), chat, tt.floats...)
			cat := h.forum.Category(t, "quantum")

			res := h.tick(t)
			if res.Kind != KindSkipped || res.Reason != tt.wantReason {
				t.Fatalf("result = %+v, want skipped(%s)", res, tt.wantReason)
			}
			if chat.CallCount() != tt.wantCalls {
				t.Errorf("LLM calls = %d, want %d", chat.CallCount(), tt.wantCalls)
			}

			titles, _ := h.forum.Store.ListRecentThreadTitles(context.Background(), cat.ID, 5)
			if len(titles) != 0 {
				t.Errorf("no thread should be created, got %v", titles)
			}
			if run := h.lastRun(t); run.TaskType != core.TaskNewThread || run.Status != core.RunSkipped {
				t.Errorf("run = %+v", run)
			}
		})
	}
}

// =============================================================================
// Summarize Tests
// =============================================================================

func seedOwnThread(t *testing.T, h *harness) *core.Thread {
	t.Helper()
	cat := h.forum.Category(t, "quantum")
	h.forum.Clock.Set(now.Add(-2 * time.Hour))
	th, err := h.forum.Store.CreateThread(context.Background(), storage.NewThread{
		Title:      "Mon fil",
		Content:    "Lancement du débat.",
		CategoryID: cat.ID,
		Author:     core.PersonaAuthor(h.persona),
	})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	h.forum.Post(t, now.Add(-time.Hour), th.ID, core.AuthorRef{UserID: "u2", Name: "bob"}, "Je ne suis pas d'accord.")
	return th
}

func TestRunAgentTick_Summarize(t *testing.T) {
	chat := testutil.NewMockChat(testutil.ChatOK("Synthèse : deux positions s'opposent."))
	h := newHarness(t, replyOnlyPersona(), chat, 0.1)
	th := seedOwnThread(t, h)
	before, _ := h.forum.Store.GetThread(context.Background(), th.ID)

	res := h.tick(t)
	if res.Kind != KindSummarized || res.ThreadID != th.ID {
		t.Fatalf("result = %+v, want summarized", res)
	}

	opts := chat.Calls()[0].Options
	if opts.Temperature != 0.4 || opts.MaxTokens != 512 {
		t.Errorf("options = %+v, want temperature 0.4 and 512 tokens", opts)
	}
	if !strings.Contains(chat.Calls()[0].Messages[0].Content, "entre 150 et 220 mots") {
		t.Error("summary prompt should ask for 150-220 words")
	}

	posts, _ := h.forum.Store.ListThreadPosts(context.Background(), th.ID)
	last := posts[len(posts)-1]
	if last.ID != res.PostID || postMetadata(t, last)["nature"] != "summary" {
		t.Errorf("summary post = %+v", last)
	}

	// A summary does not bump the thread, only replies do
	after, _ := h.forum.Store.GetThread(context.Background(), th.ID)
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("thread updated_at moved from %v to %v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestRunAgentTick_SummarizeSkips(t *testing.T) {
	tests := []struct {
		name       string
		floats     []float64
		chat       []llm.ChatResult
		wantReason string
	}{
		{"not selected", []float64{0.5}, nil, ReasonSummaryDeclined},
		{"llm failure", []float64{0.1}, []llm.ChatResult{testutil.ChatFailed("boom")}, ReasonSummaryFailedPrefix + "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, replyOnlyPersona(), testutil.NewMockChat(tt.chat...), tt.floats...)
			th := seedOwnThread(t, h)

			res := h.tick(t)
			if res.Kind != KindSkipped || res.Reason != tt.wantReason {
				t.Fatalf("result = %+v, want skipped(%s)", res, tt.wantReason)
			}
			posts, _ := h.forum.Store.ListThreadPosts(context.Background(), th.ID)
			if len(posts) != 1 {
				t.Errorf("no summary should be posted, thread has %d posts", len(posts))
			}
		})
	}
}

// =============================================================================
// Failure Handling Tests
// =============================================================================

func TestRunAgentTick_RecoversPanic(t *testing.T) {
	chat := &testutil.MockChat{ChatFunc: func(context.Context, []llm.Message, llm.ChatOptions) llm.ChatResult {
		panic("nil map in provider")
	}}
	h := newHarness(t, replyOnlyPersona(), chat)
	cat := h.forum.Category(t, "quantum")
	h.forum.Thread(t, now.Add(-time.Hour), cat.ID, "Quantum Networks", "...")

	res := h.tick(t)
	if res.Kind != KindError || !strings.Contains(res.Message, "nil map in provider") {
		t.Fatalf("result = %+v, want recovered error", res)
	}
	run := h.lastRun(t)
	if run.Status != core.RunError || run.TaskType != core.TaskReply || run.Error == "" {
		t.Errorf("run = %+v", run)
	}
}

// panickingForum blows up while the selector lists candidate threads
type panickingForum struct {
	*storage.ForumStore
}

func (panickingForum) ListCandidateThreads(context.Context, storage.ThreadFilter) ([]*core.Thread, error) {
	panic("selector store blew up")
}

func TestRunAgentTick_RecoversPanicBeforeDispatch(t *testing.T) {
	chat := testutil.NewMockChat()
	h := newHarness(t, replyOnlyPersona(), chat)
	h.engine = New(Deps{
		Personas: h.forum.Personas,
		Forum:    panickingForum{h.forum.Store},
		Chat:     chat,
		Runs:     h.runs,
		Notifier: h.notify,
		Clock:    core.FixedClock(now),
		Rand:     h.rand,
	}, DefaultConfig())

	res := h.tick(t)
	if res.Kind != KindError || !strings.Contains(res.Message, "selector store blew up") {
		t.Fatalf("result = %+v, want recovered error", res)
	}
	if res.PersonaID != h.persona.ID {
		t.Errorf("result.PersonaID = %q, want %q", res.PersonaID, h.persona.ID)
	}
	if chat.CallCount() != 0 {
		t.Errorf("LLM called %d times", chat.CallCount())
	}

	run := h.lastRun(t)
	if run.Status != core.RunError || run.TaskType != core.TaskIdle || run.PersonaID != h.persona.ID {
		t.Errorf("run = %+v", run)
	}
	if len(h.notify.results) != 1 {
		t.Errorf("notifications = %d, want 1", len(h.notify.results))
	}
}

func TestRunAgentTick_NotifiesEveryOutcome(t *testing.T) {
	h := newHarness(t, testutil.NewPersonaBuilder().Inactive().Build(), testutil.NewMockChat())

	h.tick(t)
	h.engine.RunAgentTick(testutil.TestContext(t), "missing")

	if len(h.notify.results) != 2 {
		t.Fatalf("notifications = %d, want 2", len(h.notify.results))
	}
	if h.notify.results[0].Kind != KindSkipped || h.notify.results[1].Kind != KindError {
		t.Errorf("notifications = %+v", h.notify.results)
	}
}

func TestRunAgentTick_RunLogFailureDoesNotMaskResult(t *testing.T) {
	chat := testutil.NewMockChat(testutil.ChatOK("Réponse"))
	h := newHarness(t, replyOnlyPersona(), chat)
	cat := h.forum.Category(t, "quantum")
	h.forum.Thread(t, now.Add(-time.Hour), cat.ID, "Quantum Networks", "...")

	if _, err := h.forum.DB.Conn().Exec(`DROP TABLE agent_runs`); err != nil {
		t.Fatalf("drop run log: %v", err)
	}

	if res := h.tick(t); res.Kind != KindPosted {
		t.Errorf("result = %+v, want posted despite run log failure", res)
	}
}

// =============================================================================
// End-to-end
// =============================================================================

func TestRunAgentTick_EndToEndWithRouter(t *testing.T) {
	server := mockservers.NewLLMMockServer(t, "Réponse venue du modèle distant.")
	router := llm.NewRouter(llm.RouterConfig{
		Anthropic:      llm.NewClient(llm.Config{APIKey: "test", BaseURL: server.URL()}),
		EnableFallback: true,
	})

	h := newHarness(t, replyOnlyPersona(), nil)
	h.engine = h.build(core.FixedClock(now), router)

	cat := h.forum.Category(t, "quantum")
	h.forum.Thread(t, now.Add(-time.Hour), cat.ID, "Quantum Networks", "Comment relier des processeurs ?")

	res := h.tick(t)
	if res.Kind != KindPosted || res.Content != "Réponse venue du modèle distant." {
		t.Fatalf("result = %+v", res)
	}
	if server.Requests("/v1/messages") != 1 {
		t.Errorf("anthropic requests = %d, want 1", server.Requests("/v1/messages"))
	}
	if body := server.LastBody(); body["system"] == nil {
		t.Error("persona system prompt should be sent as the system field")
	}
}

func TestRunAgentTick_RouterFallsBackToOpenAI(t *testing.T) {
	server := mockservers.NewLLMMockServer(t, "Réponse de secours.")
	server.SetErrorResponse("/v1/messages", http.StatusServiceUnavailable, "overloaded")

	router := llm.NewRouter(llm.RouterConfig{
		Anthropic:      llm.NewClient(llm.Config{APIKey: "test", BaseURL: server.URL()}),
		OpenAI:         llm.NewOpenAIClient(llm.OpenAIConfig{APIKey: "test", BaseURL: server.URL() + "/v1"}, nil),
		EnableFallback: true,
	})

	h := newHarness(t, replyOnlyPersona(), nil)
	h.engine = h.build(core.FixedClock(now), router)

	cat := h.forum.Category(t, "quantum")
	th := h.forum.Thread(t, now.Add(-time.Hour), cat.ID, "Quantum Networks", "Comment relier des processeurs ?")

	res := h.tick(t)
	if res.Kind != KindPosted || res.Content != "Réponse de secours." {
		t.Fatalf("result = %+v", res)
	}

	posts, _ := h.forum.Store.ListThreadPosts(context.Background(), th.ID)
	if len(posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(posts))
	}
	llmMeta, _ := postMetadata(t, posts[0])["llm"].(map[string]interface{})
	if llmMeta["provider"] != "openai" || llmMeta["ok"] != true {
		t.Errorf("metadata.llm = %v", llmMeta)
	}
	if stats := router.GetStats(); stats.FallbackCount != 1 || stats.Failures[llm.ProviderAnthropic] != 1 {
		t.Errorf("router stats = %+v", stats)
	}
}

func TestParseBlueprint(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bare", `{"title":"T","content":"C"}`, "T", false},
		{"surrounded", "Bien sûr !\n{\"title\": \"T2\", \"content\": \"C\"} et voilà {x}", "T2", false},
		{"nested braces in strings", `{"title":"a } b","content":"{c}"}`, "a } b", false},
		{"escaped quote", `{"title":"dit \"}\"","content":"c"}`, `dit "}"`, false},
		{"missing content", `{"title":"T"}`, "", true},
		{"blank title", `{"title":"  ","content":"c"}`, "", true},
		{"unbalanced", `{"title":"T","content":"C"`, "", true},
		{"no object", "rien", "", true},
		{"first object wins", `{"foo":1} {"title":"T","content":"C"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bp, err := ParseBlueprint(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %+v", bp)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBlueprint failed: %v", err)
			}
			if bp.Title != tt.want {
				t.Errorf("Title = %q, want %q", bp.Title, tt.want)
			}
		})
	}
}
