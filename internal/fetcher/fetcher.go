package fetcher

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"lst-yield/internal/yield"
)

// BackingFetcher retrieves backing observations and block headers.
type BackingFetcher interface {
	Contract() string
	HeadBlock(ctx context.Context) (uint64, error)
	FetchObservation(ctx context.Context, block uint64) (yield.Observation, common.Hash, error)
	FetchHeaders(ctx context.Context, from, to uint64) ([]*types.Header, error)
}
