// Package integrations wires external tool providers into the registry at
// startup. Loading happens once, in order, before the registry is frozen.
package integrations

import (
	"context"
	"fmt"

	"github.com/atlasagent/atlas/internal/config"
	"github.com/atlasagent/atlas/internal/integrations/evmchain"
	"github.com/atlasagent/atlas/internal/integrations/pricefeed"
	"github.com/atlasagent/atlas/internal/integrations/websearch"
	"github.com/atlasagent/atlas/internal/observability"
	"github.com/atlasagent/atlas/internal/tools"
)

// Registrar adds an integration's tools to the registry.
type Registrar func(*tools.Registry) error

// Integration names a registrar so loading can be logged and ordered.
type Integration struct {
	Name     string
	Register Registrar
}

// Load applies each integration in order. The first failure stops loading;
// the registry is left with the integrations applied so far.
func Load(ctx context.Context, registry *tools.Registry, logger *observability.Logger, integrations ...Integration) error {
	for _, integ := range integrations {
		if integ.Register == nil {
			continue
		}
		before := registry.Len()
		if err := integ.Register(registry); err != nil {
			return fmt.Errorf("load integration %s: %w", integ.Name, err)
		}
		if logger != nil {
			logger.Info(ctx, "integration loaded",
				"integration", integ.Name,
				"tools_added", registry.Len()-before,
			)
		}
	}
	return nil
}

// FromConfig builds the enabled integrations. The returned cleanup releases
// any network clients that were dialed and is safe to call on error.
func FromConfig(ctx context.Context, cfg config.IntegrationsConfig) ([]Integration, func(), error) {
	var (
		out     []Integration
		closers []func()
	)
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.EVM.Enabled {
		evm, err := evmchain.New(ctx, cfg.EVM.RPCURL)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("dial evm rpc: %w", err)
		}
		closers = append(closers, evm.Close)
		out = append(out, Integration{Name: "evmchain", Register: evm.Register})
	}
	if cfg.PriceFeed.Enabled {
		feed := pricefeed.New(pricefeed.Options{BaseURL: cfg.PriceFeed.BaseURL})
		out = append(out, Integration{Name: "pricefeed", Register: feed.Register})
	}
	if cfg.WebSearch.Enabled {
		search := websearch.New(websearch.Options{BaseURL: cfg.WebSearch.BaseURL, APIKey: cfg.WebSearch.APIKey})
		out = append(out, Integration{Name: "websearch", Register: search.Register})
	}
	return out, cleanup, nil
}
