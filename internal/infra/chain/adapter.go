package chain

import (
	"context"

	"github.com/vietddude/blockmon/internal/core/domain"
)

// Fetcher is the chain-level read boundary used by the ingestion loop.
// A nil block with a nil error means the node has no such block yet.
type Fetcher interface {
	// FetchLatest returns the node's current head block.
	FetchLatest(ctx context.Context) (*domain.Block, error)

	// FetchByNumber returns the block at the given height.
	FetchByNumber(ctx context.Context, number uint64) (*domain.Block, error)

	// Name identifies the backing provider in logs and metrics.
	Name() string
}
