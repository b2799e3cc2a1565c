package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atlasagent/atlas/internal/tools"
	"github.com/atlasagent/atlas/pkg/models"
)

func searchBackend(t *testing.T, hits int) (*httptest.Server, *http.Request) {
	t.Helper()
	var captured http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = *r
		results := make([]map[string]string, hits)
		for i := range results {
			results[i] = map[string]string{
				"title":   "result",
				"url":     "https://example.com",
				"content": "snippet text",
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	t.Cleanup(server.Close)
	return server, &captured
}

func testRegistry(t *testing.T, opts Options) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	if err := New(opts).Register(registry); err != nil {
		t.Fatalf("Register: %v", err)
	}
	registry.Freeze()
	return registry
}

func TestSearch(t *testing.T) {
	server, captured := searchBackend(t, 3)
	registry := testRegistry(t, Options{BaseURL: server.URL, APIKey: "secret-key"})

	res := registry.Call(context.Background(), tools.Invocation{
		Call: models.ToolCall{ID: "c1", Name: "web.search", Args: json.RawMessage(`{"query":"golang agents"}`)},
	})
	if !res.Success {
		t.Fatalf("search failed: %v", res.Error)
	}

	var out struct {
		Query   string   `json:"query"`
		Count   int      `json:"count"`
		Results []Result `json:"results"`
	}
	if err := json.Unmarshal(res.Data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Query != "golang agents" || out.Count != 3 || len(out.Results) != 3 {
		t.Errorf("search result = %+v", out)
	}
	if out.Results[0].Snippet != "snippet text" {
		t.Errorf("snippet = %q", out.Results[0].Snippet)
	}

	if got := captured.URL.Query().Get("q"); got != "golang agents" {
		t.Errorf("backend query = %q", got)
	}
	if got := captured.Header.Get("Authorization"); got != "Bearer secret-key" {
		t.Errorf("auth header = %q", got)
	}
}

func TestSearch_CountCapsResults(t *testing.T) {
	server, _ := searchBackend(t, 10)
	registry := testRegistry(t, Options{BaseURL: server.URL})

	res := registry.Call(context.Background(), tools.Invocation{
		Call: models.ToolCall{ID: "c1", Name: "web.search", Args: json.RawMessage(`{"query":"x","count":2}`)},
	})
	if !res.Success {
		t.Fatalf("search failed: %v", res.Error)
	}
	var out struct {
		Results []Result `json:"results"`
	}
	if err := json.Unmarshal(res.Data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Results) != 2 {
		t.Errorf("got %d results, want 2", len(out.Results))
	}
}

func TestSearch_MissingEndpointFails(t *testing.T) {
	registry := testRegistry(t, Options{})

	res := registry.Call(context.Background(), tools.Invocation{
		Call: models.ToolCall{ID: "c1", Name: "web.search", Args: json.RawMessage(`{"query":"x"}`)},
	})
	if res.Success || res.Error.Kind != models.FaultExecution {
		t.Errorf("result = %+v, want execution fault", res)
	}
}

func TestSearch_ValidationRejectsEmptyQuery(t *testing.T) {
	registry := testRegistry(t, Options{BaseURL: "http://unused.invalid"})

	res := registry.Call(context.Background(), tools.Invocation{
		Call: models.ToolCall{ID: "c1", Name: "web.search", Args: json.RawMessage(`{"query":""}`)},
	})
	if res.Success || res.Error.Kind != models.FaultValidation {
		t.Errorf("result = %+v, want validation fault", res)
	}
}
