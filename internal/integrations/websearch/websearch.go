// Package websearch exposes a SearXNG-compatible search API as a tool.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/atlasagent/atlas/internal/tools"
)

const (
	defaultResultCount = 5
	maxResultCount     = 20
	maxSnippetChars    = 500
)

// Options configures the search client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Search performs web searches on behalf of the agent.
type Search struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates a search client.
func New(opts Options) *Search {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Search{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  opts.HTTPClient,
	}
}

const searchSchema = `{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "Search query",
			"minLength": 1
		},
		"count": {
			"type": "integer",
			"description": "Number of results to return (default 5, max 20)",
			"minimum": 1,
			"maximum": 20
		}
	},
	"required": ["query"],
	"additionalProperties": false
}`

// Register adds web.search.
func (s *Search) Register(registry *tools.Registry) error {
	tool, err := tools.New(tools.Spec{
		Name:        "web.search",
		Description: "Search the web and return titles, URLs, and snippets.",
		InputSchema: json.RawMessage(searchSchema),
	}, s.search)
	if err != nil {
		return err
	}
	return registry.Register(tool)
}

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type backendResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *Search) search(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	if s.baseURL == "" {
		return nil, fmt.Errorf("search endpoint not configured")
	}
	count := params.Count
	if count <= 0 {
		count = defaultResultCount
	}
	if count > maxResultCount {
		count = maxResultCount
	}

	query := url.Values{}
	query.Set("q", params.Query)
	query.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var backend backendResponse
	if err := json.NewDecoder(resp.Body).Decode(&backend); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Result, 0, count)
	for _, r := range backend.Results {
		if len(results) == count {
			break
		}
		snippet := r.Content
		if len(snippet) > maxSnippetChars {
			snippet = snippet[:maxSnippetChars] + "…"
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: snippet})
	}

	return json.Marshal(map[string]any{
		"query":   params.Query,
		"count":   len(results),
		"results": results,
	})
}
