package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/atlasagent/atlas/internal/tools"
	"github.com/atlasagent/atlas/pkg/models"
)

type openAIStub struct {
	mu       sync.Mutex
	requests []map[string]any
	seen     []time.Time
	handler  func(n int, w http.ResponseWriter)
}

func (s *openAIStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.requests = append(s.requests, body)
	s.seen = append(s.seen, time.Now())
	n := len(s.seen)
	s.mu.Unlock()

	s.handler(n, w)
}

func writeChatCompletion(w http.ResponseWriter, content string, toolCalls []map[string]any, finishReason string) {
	message := map[string]any{"role": "assistant", "content": content}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}
	resp := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "gpt-4o",
		"choices": []any{map[string]any{"index": 0, "message": message, "finish_reason": finishReason}},
		"usage":   map[string]any{"prompt_tokens": 11, "completion_tokens": 7, "total_tokens": 18},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newOpenAITestProvider(t *testing.T, stub *openAIStub) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	return NewOpenAIProvider(OpenAIOptions{
		APIKey:  "test-key",
		Model:   "gpt-4o",
		BaseURL: server.URL + "/v1",
		Retry:   RetryConfig{MaxRetries: 3, BaseDelay: 50 * time.Millisecond, RequestTimeout: 5 * time.Second},
	})
}

func TestOpenAI_Complete(t *testing.T) {
	stub := &openAIStub{handler: func(n int, w http.ResponseWriter) {
		writeChatCompletion(w, "hello there", nil, "stop")
	}}
	provider := newOpenAITestProvider(t, stub)

	resp, err := provider.Complete(context.Background(), &Request{
		System:   "be brief",
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != models.FinishStop {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if resp.Usage.PromptTokens != 11 || resp.Usage.CompletionTokens != 7 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	// system prompt injected as first message
	sent := stub.requests[0]["messages"].([]any)
	first := sent[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "be brief" {
		t.Errorf("first message = %v", first)
	}
}

func TestOpenAI_Complete_ToolCalls(t *testing.T) {
	stub := &openAIStub{handler: func(n int, w http.ResponseWriter) {
		writeChatCompletion(w, "", []map[string]any{{
			"id":   "call_abc",
			"type": "function",
			"function": map[string]any{
				"name":      "evm.get_balance",
				"arguments": `{"address":"0xabc"}`,
			},
		}}, "tool_calls")
	}}
	provider := newOpenAITestProvider(t, stub)

	resp, err := provider.Complete(context.Background(), &Request{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "balance of 0xabc?"}},
		Tools: []tools.Spec{{
			Name:        "evm.get_balance",
			Description: "look up an address balance",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"address":{"type":"string"}}}`),
		}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.FinishReason != models.FinishToolCalls {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "evm.get_balance" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].ID != "call_abc" {
		t.Errorf("ToolCall ID = %q", resp.ToolCalls[0].ID)
	}

	// tool definitions included in the request
	sentTools := stub.requests[0]["tools"].([]any)
	if len(sentTools) != 1 {
		t.Fatalf("request tools = %v", sentTools)
	}
}

func TestOpenAI_Complete_ToolResultMessages(t *testing.T) {
	stub := &openAIStub{handler: func(n int, w http.ResponseWriter) {
		writeChatCompletion(w, "done", nil, "stop")
	}}
	provider := newOpenAITestProvider(t, stub)

	_, err := provider.Complete(context.Background(), &Request{
		Messages: []models.ChatMessage{
			{Role: models.RoleUser, Content: "check balance"},
			{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "evm.get_balance", Args: json.RawMessage(`{"address":"0xabc"}`)},
			}},
			{Role: models.RoleTool, ToolCallID: "call_1", Content: `{"wei":"100"}`},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	sent := stub.requests[0]["messages"].([]any)
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(sent))
	}
	toolMsg := sent[2].(map[string]any)
	if toolMsg["role"] != "tool" || toolMsg["tool_call_id"] != "call_1" {
		t.Errorf("tool message = %v", toolMsg)
	}
	assistantMsg := sent[1].(map[string]any)
	if _, ok := assistantMsg["tool_calls"]; !ok {
		t.Errorf("assistant message lost tool calls: %v", assistantMsg)
	}
}

func TestOpenAI_RetriesServerErrorsThenSucceeds(t *testing.T) {
	stub := &openAIStub{handler: func(n int, w http.ResponseWriter) {
		if n <= 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"internal server error","type":"server_error"}}`))
			return
		}
		writeChatCompletion(w, "recovered", nil, "stop")
	}}
	provider := newOpenAITestProvider(t, stub)

	resp, err := provider.Complete(context.Background(), &Request{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete after retries: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("Content = %q", resp.Content)
	}
	if len(stub.seen) != 4 {
		t.Fatalf("made %d requests, want 4 (1 + 3 retries)", len(stub.seen))
	}

	// delays between attempts grow with the doubling policy
	gap1 := stub.seen[1].Sub(stub.seen[0])
	gap2 := stub.seen[2].Sub(stub.seen[1])
	gap3 := stub.seen[3].Sub(stub.seen[2])
	if gap2 <= gap1 || gap3 <= gap2 {
		t.Errorf("retry delays not increasing: %v, %v, %v", gap1, gap2, gap3)
	}
}

func TestOpenAI_AuthErrorFailsImmediately(t *testing.T) {
	stub := &openAIStub{handler: func(n int, w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}}
	provider := newOpenAITestProvider(t, stub)

	_, err := provider.Complete(context.Background(), &Request{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Complete with 401 succeeded")
	}
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("error type = %T", err)
	}
	if providerErr.Reason != ReasonAuth {
		t.Errorf("Reason = %q, want auth", providerErr.Reason)
	}
	if len(stub.seen) != 1 {
		t.Errorf("made %d requests, want 1 (no retries)", len(stub.seen))
	}
}

func TestOpenAI_ContextCancellation(t *testing.T) {
	stub := &openAIStub{handler: func(n int, w http.ResponseWriter) {
		time.Sleep(2 * time.Second)
		writeChatCompletion(w, "too late", nil, "stop")
	}}
	provider := newOpenAITestProvider(t, stub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := provider.Complete(ctx, &Request{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Complete survived cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Errorf("Complete blocked %v after cancellation", time.Since(start))
	}
}
