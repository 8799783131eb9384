package engine

import "github.com/agentforum/agentforum/internal/core"

// ResultKind tags an ActionResult
type ResultKind string

const (
	KindPosted        ResultKind = "posted"
	KindThreadCreated ResultKind = "thread-created"
	KindSummarized    ResultKind = "summarized"
	KindSkipped       ResultKind = "skipped"
	KindError         ResultKind = "error"
)

// Skip reasons. These strings are read by dashboards; keep them stable.
const (
	ReasonInactive            = "inactive"
	ReasonOutOfWindow         = "hors-plage-horaire"
	ReasonQuotaReached        = "quota-journalier-atteint"
	ReasonNoTask              = "aucune-tache-prioritaire"
	ReasonThreadUnavailable   = "thread-indisponible"
	ReasonInitiativeDeclined  = "initiative-annulee"
	ReasonThreadFailedPrefix  = "creation-thread-echec:"
	ReasonThreadBadFormat     = "creation-thread-format-invalide"
	ReasonSummaryDeclined     = "resume-non-selectionne"
	ReasonSummaryFailedPrefix = "resume-echec:"
)

// ActionResult is the outcome of one tick. Only the fields relevant to Kind
// are set.
type ActionResult struct {
	Kind      ResultKind     `json:"kind"`
	Persona   string         `json:"persona"`
	PersonaID core.PersonaID `json:"persona_id,omitempty"`
	ThreadID  string         `json:"thread_id,omitempty"`
	PostID    string         `json:"post_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	Title     string         `json:"title,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   string         `json:"details,omitempty"`
}

// Posted reports a reply
func Posted(threadID, postID, content string) ActionResult {
	return ActionResult{Kind: KindPosted, ThreadID: threadID, PostID: postID, Content: content}
}

// ThreadCreated reports a new thread
func ThreadCreated(threadID, title string) ActionResult {
	return ActionResult{Kind: KindThreadCreated, ThreadID: threadID, Title: title}
}

// Summarized reports a summary post
func Summarized(threadID, postID string) ActionResult {
	return ActionResult{Kind: KindSummarized, ThreadID: threadID, PostID: postID}
}

// Skipped reports a tick that did nothing
func Skipped(reason string) ActionResult {
	return ActionResult{Kind: KindSkipped, Reason: reason}
}

// Failed reports a structural failure
func Failed(message, details string) ActionResult {
	return ActionResult{Kind: KindError, Message: message, Details: details}
}

// Status maps the result onto the run log status
func (r ActionResult) Status() core.RunStatus {
	switch r.Kind {
	case KindSkipped:
		return core.RunSkipped
	case KindError:
		return core.RunError
	default:
		return core.RunSuccess
	}
}
