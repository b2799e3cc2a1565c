package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/atlasagent/atlas/pkg/models"
)

func longHistory(n int) []models.ChatMessage {
	history := []models.ChatMessage{{Role: models.RoleSystem, Content: "system prompt"}}
	for i := 0; i < n; i++ {
		history = append(history,
			models.ChatMessage{Role: models.RoleUser, Content: fmt.Sprintf("question %d", i)},
			models.ChatMessage{Role: models.RoleAssistant, Content: fmt.Sprintf("answer %d", i)},
		)
	}
	return history
}

func TestBudgetCompressor_PreservesSystemPrompt(t *testing.T) {
	c := NewBudgetCompressor(10, 0)
	out := c.Compress(longHistory(50))

	if len(out) > 10 {
		t.Errorf("kept %d messages, budget 10", len(out))
	}
	if out[0].Role != models.RoleSystem || out[0].Content != "system prompt" {
		t.Errorf("system prompt lost, first = %+v", out[0])
	}
	// newest messages survive
	last := out[len(out)-1]
	if last.Content != "answer 49" {
		t.Errorf("last kept = %q, want newest", last.Content)
	}
}

func TestBudgetCompressor_CharBudget(t *testing.T) {
	history := []models.ChatMessage{{Role: models.RoleSystem, Content: "sys"}}
	for i := 0; i < 20; i++ {
		history = append(history, models.ChatMessage{
			Role:    models.RoleUser,
			Content: strings.Repeat("x", 1000),
		})
	}

	c := NewBudgetCompressor(100, 5000)
	out := c.Compress(history)

	total := 0
	for _, m := range out {
		total += messageChars(m)
	}
	if total > 5000 {
		t.Errorf("kept %d chars, budget 5000", total)
	}
	if out[0].Role != models.RoleSystem {
		t.Error("system prompt dropped")
	}
}

func TestBudgetCompressor_KeepsToolPairTogether(t *testing.T) {
	history := []models.ChatMessage{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "old question"},
		{Role: models.RoleAssistant, Content: "old answer"},
		{Role: models.RoleUser, Content: "check balances"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "evm.get_balance", Args: json.RawMessage(`{"address":"0x1"}`)},
			{ID: "c2", Name: "evm.get_balance", Args: json.RawMessage(`{"address":"0x2"}`)},
		}},
		{Role: models.RoleTool, ToolCallID: "c1", Content: `{"wei":"1"}`},
		{Role: models.RoleTool, ToolCallID: "c2", Content: `{"wei":"2"}`},
	}

	// Budget small enough that a naive cut would land inside the tool block.
	c := NewBudgetCompressor(3, 0)
	out := c.Compress(history)

	for i, m := range out {
		if m.Role != models.RoleTool {
			continue
		}
		found := false
		for j := 0; j < i; j++ {
			for _, tc := range out[j].ToolCalls {
				if tc.ID == m.ToolCallID {
					found = true
				}
			}
		}
		if !found {
			t.Errorf("tool result %s kept without its call", m.ToolCallID)
		}
	}
}

func TestBudgetCompressor_TruncatesToolResults(t *testing.T) {
	c := NewBudgetCompressor(100, 1<<20)
	c.MaxToolResultChars = 100

	history := []models.ChatMessage{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "web.search", Args: json.RawMessage(`{}`)}}},
		{Role: models.RoleTool, ToolCallID: "c1", Content: strings.Repeat("r", 10000)},
	}
	out := c.Compress(history)

	last := out[len(out)-1]
	if len(last.Content) > 200 {
		t.Errorf("tool result not truncated: %d chars", len(last.Content))
	}
	if !strings.Contains(last.Content, "[truncated]") {
		t.Error("truncation marker missing")
	}
}

func TestBudgetCompressor_TruncatesOnRuneBoundary(t *testing.T) {
	c := NewBudgetCompressor(100, 1<<20)
	c.MaxToolResultChars = 10

	// Each rune is 3 bytes, so a 10-byte cut would land mid-rune.
	history := []models.ChatMessage{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "web.search", Args: json.RawMessage(`{}`)}}},
		{Role: models.RoleTool, ToolCallID: "c1", Content: strings.Repeat("仮", 50)},
	}
	out := c.Compress(history)

	last := out[len(out)-1]
	if !utf8.ValidString(last.Content) {
		t.Errorf("truncated content is not valid UTF-8: %q", last.Content)
	}
	if !strings.HasPrefix(last.Content, "仮仮仮") {
		t.Errorf("unexpected truncated content: %q", last.Content)
	}
	if !strings.Contains(last.Content, "[truncated]") {
		t.Error("truncation marker missing")
	}
}

func TestBudgetCompressor_SmallHistoryUntouched(t *testing.T) {
	history := longHistory(3)
	c := NewBudgetCompressor(60, 120000)
	out := c.Compress(history)

	if len(out) != len(history) {
		t.Fatalf("compressed %d -> %d, want unchanged", len(history), len(out))
	}
	for i := range history {
		if out[i].Content != history[i].Content {
			t.Errorf("message %d changed", i)
		}
	}
}
