package agent

import (
	"unicode/utf8"

	"github.com/atlasagent/atlas/pkg/models"
)

// Compressor shrinks conversation history before it is sent to the provider.
type Compressor interface {
	Compress(history []models.ChatMessage) []models.ChatMessage
}

// BudgetCompressor keeps the newest messages that fit a message-count and
// character budget. The leading system prompt always survives, and the
// window never starts on an orphaned tool result: if the cut lands between
// an assistant tool-call message and its results, the window grows to keep
// the pair together.
type BudgetCompressor struct {
	// MaxMessages caps the number of messages kept. Default: 60.
	MaxMessages int

	// MaxChars is an approximate character budget, a cheap proxy for
	// tokens. Default: 120000 (~30k tokens at 4 chars/token).
	MaxChars int

	// MaxToolResultChars truncates individual tool result contents.
	// Default: 6000.
	MaxToolResultChars int
}

// NewBudgetCompressor creates a compressor with defaults for zero fields.
func NewBudgetCompressor(maxMessages, maxChars int) *BudgetCompressor {
	c := &BudgetCompressor{MaxMessages: maxMessages, MaxChars: maxChars}
	if c.MaxMessages <= 0 {
		c.MaxMessages = 60
	}
	if c.MaxChars <= 0 {
		c.MaxChars = 120000
	}
	if c.MaxToolResultChars <= 0 {
		c.MaxToolResultChars = 6000
	}
	return c
}

func (c *BudgetCompressor) Compress(history []models.ChatMessage) []models.ChatMessage {
	if len(history) == 0 {
		return history
	}

	var system []models.ChatMessage
	rest := history
	if history[0].Role == models.RoleSystem {
		system = history[:1]
		rest = history[1:]
	}

	budgetMsgs := c.MaxMessages - len(system)
	budgetChars := c.MaxChars
	for _, m := range system {
		budgetChars -= messageChars(m)
	}

	// Walk backwards from the newest message until a budget is exhausted.
	start := len(rest)
	used := 0
	for start > 0 {
		cost := messageChars(rest[start-1])
		if len(rest)-start+1 > budgetMsgs || used+cost > budgetChars {
			break
		}
		used += cost
		start--
	}

	// Always keep the newest message, even over budget.
	if start == len(rest) && len(rest) > 0 {
		start = len(rest) - 1
	}

	// Never begin the window on a tool result whose call is outside it.
	for start > 0 && start < len(rest) && rest[start].Role == models.RoleTool {
		start--
	}

	out := make([]models.ChatMessage, 0, len(system)+len(rest)-start)
	out = append(out, system...)
	for _, m := range rest[start:] {
		if m.Role == models.RoleTool && len(m.Content) > c.MaxToolResultChars {
			m.Content = truncateOnRune(m.Content, c.MaxToolResultChars) + "…[truncated]"
		}
		out = append(out, m)
	}
	return out
}

// truncateOnRune cuts s to at most max bytes, backing up so the cut never
// lands inside a multi-byte rune.
func truncateOnRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func messageChars(m models.ChatMessage) int {
	n := len(m.Content)
	for _, tc := range m.ToolCalls {
		n += len(tc.Name) + len(tc.Args)
	}
	return n
}
