package engine

import (
	"fmt"
	"strings"

	"github.com/agentforum/agentforum/internal/contextbuilder"
	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/llm"
	"github.com/agentforum/agentforum/internal/research"
)

const (
	historyEntries    = 5
	historyEntryRunes = 220
	tagCount          = 5

	// FallbackReply is posted when the model fails during a reply
	FallbackReply = "Je prends note de la discussion et je reviens bientôt avec une analyse plus complète."

	noExternalSignal = "Aucun signal externe disponible."
)

func personaSystem(p *core.Persona, minWords, maxWords int) llm.Message {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.SystemPrompt))
	if style := strings.TrimSpace(p.StyleGuide); style != "" {
		b.WriteString("\n\nStyle : ")
		b.WriteString(style)
	}
	fmt.Fprintf(&b, "\n\nÉcris entre %d et %d mots, en français, sans signature.", minWords, maxWords)
	return llm.System(strings.TrimSpace(b.String()))
}

func replyMessages(p *core.Persona, rc *contextbuilder.ReplyContext) []llm.Message {
	cfg := p.Activity
	var b strings.Builder

	fmt.Fprintf(&b, "Discussion : %s\n\n", rc.Thread.Title)
	fmt.Fprintf(&b, "Résumé :\n%s\n\n", rc.Summary)

	if len(rc.Highlights) > 0 {
		b.WriteString("Points saillants :\n")
		for _, h := range rc.Highlights {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}

	b.WriteString("Derniers messages :\n")
	b.WriteString(history(rc.Posts))
	b.WriteString("\n")

	b.WriteString("Signaux externes :\n")
	b.WriteString(insightBlock(rc.Insights))
	b.WriteString("\n")

	fmt.Fprintf(&b, "Rédige la prochaine réponse de %s dans cette discussion.", p.DisplayName)

	return []llm.Message{
		personaSystem(p, cfg.MinWords, cfg.MaxWords),
		llm.User(b.String()),
	}
}

func initiativeMessages(p *core.Persona, ic *contextbuilder.InitiativeContext) []llm.Message {
	cfg := p.Activity
	var b strings.Builder

	fmt.Fprintf(&b, "Propose un nouveau sujet de discussion autour de : %s\n\n", ic.Hint)

	if len(ic.RecentTitles) > 0 {
		b.WriteString("Sujets récents de la catégorie (à ne pas répéter) :\n")
		for _, title := range ic.RecentTitles {
			fmt.Fprintf(&b, "- %s\n", title)
		}
		b.WriteString("\n")
	}
	if len(ic.Keywords) > 0 {
		fmt.Fprintf(&b, "Mots-clés : %s\n\n", strings.Join(ic.Keywords, ", "))
	}

	b.WriteString("Signaux externes :\n")
	b.WriteString(insightBlock(ic.Insights))
	b.WriteString("\n")

	b.WriteString(`Réponds uniquement avec un objet JSON strict de la forme {"title": "...", "content": "..."}.`)

	return []llm.Message{
		personaSystem(p, cfg.MinWords, cfg.MaxWords),
		llm.User(b.String()),
	}
}

func summaryMessages(p *core.Persona, rc *contextbuilder.ReplyContext) []llm.Message {
	var b strings.Builder

	fmt.Fprintf(&b, "Discussion : %s\n\n", rc.Thread.Title)
	if content := strings.TrimSpace(rc.Thread.Content); content != "" {
		fmt.Fprintf(&b, "Message initial :\n%s\n\n", core.Truncate(content, 600))
	}
	b.WriteString("Derniers messages :\n")
	b.WriteString(history(rc.Posts))
	b.WriteString("\n")
	b.WriteString("Rédige une synthèse neutre des points clés et des désaccords, puis les questions encore ouvertes.")

	return []llm.Message{
		personaSystem(p, summaryMinWords, summaryMaxWords),
		llm.User(b.String()),
	}
}

func history(posts []*core.Post) string {
	if len(posts) == 0 {
		return "(aucun message pour l'instant)\n"
	}
	start := len(posts) - historyEntries
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for _, p := range posts[start:] {
		name := p.AuthorName
		if name == "" {
			name = "anonyme"
		}
		fmt.Fprintf(&b, "- %s : %s\n", name, core.Truncate(p.Content, historyEntryRunes))
	}
	return b.String()
}

func insightBlock(insights []research.Insight) string {
	if len(insights) == 0 {
		return noExternalSignal + "\n"
	}

	var b strings.Builder
	for _, in := range insights {
		text := in.Content
		if text == "" {
			text = in.Snippet
		}
		fmt.Fprintf(&b, "- %s (%s) : %s\n", in.Title, in.URL, text)
	}
	return b.String()
}

func topTags(keywords []string) []string {
	if len(keywords) > tagCount {
		keywords = keywords[:tagCount]
	}
	return append([]string{}, keywords...)
}
