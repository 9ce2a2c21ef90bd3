package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/blockmon/internal/core/domain"
	"github.com/vietddude/blockmon/internal/infra/chain"
	"github.com/vietddude/blockmon/internal/infra/rpc/provider"
)

const methodGetBlockByNumber = "eth_getBlockByNumber"

// Caller is the subset of provider.Provider the adapter needs.
type Caller interface {
	GetName() string
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)
}

var (
	_ Caller        = (provider.Provider)(nil)
	_ chain.Fetcher = (*EVMAdapter)(nil)
)

// EVMAdapter reads block headers from an Ethereum-compatible JSON-RPC node.
type EVMAdapter struct {
	client Caller
}

func NewEVMAdapter(client Caller) *EVMAdapter {
	return &EVMAdapter{client: client}
}

// Name returns the backing provider's name.
func (a *EVMAdapter) Name() string {
	return a.client.GetName()
}

// FetchLatest returns the head block via eth_getBlockByNumber("latest").
func (a *EVMAdapter) FetchLatest(ctx context.Context) (*domain.Block, error) {
	return a.getBlock(ctx, "latest")
}

// FetchByNumber returns the block at number, or nil if the node does not have it.
func (a *EVMAdapter) FetchByNumber(ctx context.Context, number uint64) (*domain.Block, error) {
	return a.getBlock(ctx, hexutil.EncodeUint64(number))
}

func (a *EVMAdapter) getBlock(ctx context.Context, tag string) (*domain.Block, error) {
	raw, err := a.client.Call(ctx, methodGetBlockByNumber, []any{tag, false})
	if err != nil {
		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, domain.NewProviderError(a.client.GetName(), methodGetBlockByNumber, err)
	}
	if raw == nil {
		return nil, nil
	}

	block, err := ParseHeader(raw)
	if err != nil {
		pe := domain.NewProviderError(a.client.GetName(), methodGetBlockByNumber, err)
		pe.Type = domain.FailureTypeParsing
		return nil, pe
	}
	return block, nil
}

// header holds the fields of a block or newHeads object the monitor keeps.
type header struct {
	Number    *hexutil.Uint64 `json:"number"`
	Hash      *common.Hash    `json:"hash"`
	Timestamp *hexutil.Uint64 `json:"timestamp"`
}

// ParseHeader extracts number, hash and timestamp from a JSON-RPC block or header object.
func ParseHeader(raw json.RawMessage) (*domain.Block, error) {
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	switch {
	case h.Number == nil:
		return nil, errors.New("missing field number")
	case h.Hash == nil:
		return nil, errors.New("missing field hash")
	case h.Timestamp == nil:
		return nil, errors.New("missing field timestamp")
	}

	block := domain.NewBlock(uint64(*h.Number), *h.Hash, uint64(*h.Timestamp))
	return &block, nil
}
