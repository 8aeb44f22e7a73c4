package agent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/goinbox/internal/providers"
	"github.com/nextlevelbuilder/goinbox/internal/store"
)

// PromptLimits caps what the prompt builder includes.
type PromptLimits struct {
	MaxKnowledgeItems int // items considered, most recent first
	MaxKnowledgeChars int // character budget for the rendered knowledge block
	MinPartialChars   int // an overflowing item is dropped when less than this remains
	MaxHistoryTurns   int
}

// DefaultPromptLimits returns 12 items / 2000 chars / 50 min partial / 20 turns.
func DefaultPromptLimits() PromptLimits {
	return PromptLimits{
		MaxKnowledgeItems: 12,
		MaxKnowledgeChars: 2000,
		MinPartialChars:   50,
		MaxHistoryTurns:   20,
	}
}

// PromptInput is the raw material for one prompt.
type PromptInput struct {
	Instructions string
	Supplemental string
	Knowledge    []store.KnowledgeItem // most recent first
	History      []store.Message       // chronological
	MaxChunks    int
	Limits       PromptLimits
}

const truncationMarker = "..."

// BuildPrompt assembles the system prompt and role-tagged turns. Pure and deterministic.
func BuildPrompt(in PromptInput) providers.GenerateRequest {
	limits := in.Limits
	if limits == (PromptLimits{}) {
		limits = DefaultPromptLimits()
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(in.Instructions))

	if block := renderKnowledge(in.Knowledge, limits); block != "" {
		sb.WriteString("\n\n## Reference knowledge\n\n")
		sb.WriteString(block)
	}

	sb.WriteString("\n\n")
	sb.WriteString(chunkDirective(in.MaxChunks))

	return providers.GenerateRequest{
		SystemPrompt: strings.TrimSpace(sb.String()),
		Supplemental: strings.TrimSpace(in.Supplemental),
		Turns:        historyTurns(in.History, limits.MaxHistoryTurns),
	}
}

func chunkDirective(maxChunks int) string {
	if maxChunks < 1 {
		maxChunks = 1
	}
	return fmt.Sprintf("Write like a person chatting: short sentences, no long paragraphs. "+
		"Your reply will be sent as at most %d separate messages, so keep it brief enough to fit.", maxChunks)
}

func renderKnowledgeItem(it store.KnowledgeItem) string {
	header := "### " + strings.TrimSpace(it.Title)
	switch {
	case strings.TrimSpace(it.Content) != "":
		return header + "\n" + strings.TrimSpace(it.Content)
	case it.URL != "":
		return header + "\nReference: " + it.URL
	case it.FileName != "":
		return header + "\nFile: " + it.FileName
	default:
		return header
	}
}

// renderKnowledge includes whole items while they fit the budget. The first item that
// does not fit is cut at the remaining budget and marked, or dropped when too little
// budget remains; later items are omitted. The result never exceeds budget+3 characters.
func renderKnowledge(items []store.KnowledgeItem, limits PromptLimits) string {
	if len(items) > limits.MaxKnowledgeItems {
		items = items[:limits.MaxKnowledgeItems]
	}

	var sb strings.Builder
	remaining := limits.MaxKnowledgeChars
	for _, it := range items {
		piece := renderKnowledgeItem(it)
		if sb.Len() > 0 {
			piece = "\n\n" + piece
		}
		n := utf8.RuneCountInString(piece)
		if n <= remaining {
			sb.WriteString(piece)
			remaining -= n
			continue
		}
		if remaining >= limits.MinPartialChars {
			sb.WriteString(truncateRunes(piece, remaining))
			sb.WriteString(truncationMarker)
		}
		break
	}
	return sb.String()
}

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func historyTurns(history []store.Message, maxTurns int) []providers.Turn {
	kept := make([]store.Message, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Content) != "" {
			kept = append(kept, m)
		}
	}
	if maxTurns > 0 && len(kept) > maxTurns {
		kept = kept[len(kept)-maxTurns:]
	}

	turns := make([]providers.Turn, 0, len(kept))
	for _, m := range kept {
		role := providers.RoleUser
		if m.Sender == store.SenderAgent {
			role = providers.RoleAssistant
		}
		turns = append(turns, providers.Turn{Role: role, Content: m.Content})
	}
	return turns
}
