// Package pricefeed exposes market-data lookups as tools, backed by a
// CoinGecko-compatible HTTP API.
package pricefeed

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

const defaultBaseURL = "https://api.coingecko.com"

// Common ticker symbols mapped to API asset ids. Unknown symbols are passed
// through lowercased, which works for assets whose id matches their name.
var symbolToID = map[string]string{
	"btc":   "bitcoin",
	"eth":   "ethereum",
	"sol":   "solana",
	"matic": "polygon-ecosystem-token",
	"arb":   "arbitrum",
	"op":    "optimism",
	"link":  "chainlink",
	"uni":   "uniswap",
	"aave":  "aave",
	"usdc":  "usd-coin",
	"usdt":  "tether",
	"dai":   "dai",
}

// Options configures the feed.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Feed answers token price queries.
type Feed struct {
	baseURL string
	client  *http.Client
}

// New creates a feed. Zero options use the public CoinGecko endpoint.
func New(opts Options) *Feed {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Feed{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  opts.HTTPClient,
	}
}

const priceSchema = `{
	"type": "object",
	"properties": {
		"symbol": {
			"type": "string",
			"description": "Token ticker symbol, e.g. ETH or BTC",
			"minLength": 1
		}
	},
	"required": ["symbol"],
	"additionalProperties": false
}`

// Register adds price.get_token_price.
func (f *Feed) Register(registry *tools.Registry) error {
	tool, err := tools.New(tools.Spec{
		Name:        "price.get_token_price",
		Description: "Get the current USD price of a token by ticker symbol.",
		InputSchema: json.RawMessage(priceSchema),
	}, f.getTokenPrice)
	if err != nil {
		return err
	}
	return registry.Register(tool)
}

func (f *Feed) getTokenPrice(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	symbol := strings.ToLower(strings.TrimSpace(params.Symbol))
	id, ok := symbolToID[symbol]
	if !ok {
		id = symbol
	}

	endpoint := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd",
		f.baseURL, url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("price lookup: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var prices map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}
	quote, ok := prices[id]
	if !ok {
		return nil, fmt.Errorf("unknown token: %s", params.Symbol)
	}
	usd, ok := quote["usd"]
	if !ok {
		return nil, fmt.Errorf("no usd quote for %s", params.Symbol)
	}

	return json.Marshal(map[string]any{
		"symbol": strings.ToUpper(symbol),
		"id":     id,
		"usd":    usd,
	})
}
