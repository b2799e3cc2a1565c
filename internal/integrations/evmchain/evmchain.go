// Package evmchain exposes read-only Ethereum JSON-RPC queries as tools.
// No signing and no transaction submission.
package evmchain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/atlasagent/atlas/internal/tools"
)

// Client is the subset of ethclient.Client the tools use.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Integration holds the RPC connection behind the evm.* tools.
type Integration struct {
	client Client
	closer func()
}

// New dials the RPC endpoint.
func New(ctx context.Context, rpcURL string) (*Integration, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("evm rpc_url is required")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &Integration{client: client, closer: client.Close}, nil
}

// NewWithClient wraps an existing client, used by tests.
func NewWithClient(client Client) *Integration {
	return &Integration{client: client}
}

// Close releases the RPC connection.
func (i *Integration) Close() {
	if i.closer != nil {
		i.closer()
	}
}

const balanceSchema = `{
	"type": "object",
	"properties": {
		"address": {
			"type": "string",
			"description": "EVM account address, 0x-prefixed",
			"pattern": "^0x[0-9a-fA-F]{40}$"
		}
	},
	"required": ["address"],
	"additionalProperties": false
}`

const emptySchema = `{"type": "object", "additionalProperties": false}`

// Register adds evm.chain_info, evm.get_balance, and evm.gas_price.
func (i *Integration) Register(registry *tools.Registry) error {
	chainInfo, err := tools.New(tools.Spec{
		Name:        "evm.chain_info",
		Description: "Get the chain ID and latest block number of the connected EVM network.",
		InputSchema: json.RawMessage(emptySchema),
	}, i.chainInfo)
	if err != nil {
		return err
	}
	getBalance, err := tools.New(tools.Spec{
		Name:        "evm.get_balance",
		Description: "Get the native-token balance of an address at the latest block.",
		InputSchema: json.RawMessage(balanceSchema),
	}, i.getBalance)
	if err != nil {
		return err
	}
	gasPrice, err := tools.New(tools.Spec{
		Name:        "evm.gas_price",
		Description: "Get the currently suggested gas price.",
		InputSchema: json.RawMessage(emptySchema),
	}, i.gasPrice)
	if err != nil {
		return err
	}

	for _, tool := range []*tools.Tool{chainInfo, getBalance, gasPrice} {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func (i *Integration) chainInfo(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	chainID, err := i.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	block, err := i.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	return json.Marshal(map[string]any{
		"chain_id":     chainID.String(),
		"block_number": block,
	})
}

func (i *Integration) getBalance(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(params.Address) {
		return nil, fmt.Errorf("invalid address: %s", params.Address)
	}
	wei, err := i.client.BalanceAt(ctx, common.HexToAddress(params.Address), nil)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	return json.Marshal(map[string]any{
		"address": params.Address,
		"wei":     wei.String(),
		"ether":   weiToEther(wei),
	})
}

func (i *Integration) gasPrice(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	wei, err := i.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gwei := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9))
	return json.Marshal(map[string]any{
		"wei":  wei.String(),
		"gwei": gwei.Text('f', 2),
	})
}

func weiToEther(wei *big.Int) string {
	ether := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18))
	return ether.Text('f', 6)
}
