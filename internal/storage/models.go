package storage

import (
	"fmt"
	"math/big"
	"time"

	"lst-yield/internal/yield"
)

// CachedObservation is an on-chain backing read kept to avoid repeated RPC calls.
type CachedObservation struct {
	Contract    string
	BlockNumber uint64
	BlockHash   string
	Timestamp   uint64
	Backing     *big.Int
	CreatedAt   time.Time
}

// Observation converts the cached row into the aggregator's input type.
func (c CachedObservation) Observation() yield.Observation {
	return yield.Observation{
		Timestamp:   c.Timestamp,
		BlockNumber: c.BlockNumber,
		Backing:     new(big.Int).Set(c.Backing),
	}
}

// Report is a computed base yield committed to the newest block of its window.
type Report struct {
	Contract     string
	EndBlock     uint64
	EndBlockHash string
	StartBlock   uint64
	Stride       int
	Samples      int
	BaseYield    float64
	ComputedAt   time.Time
}

// String renders the report the way it is shown to operators.
func (r Report) String() string {
	return fmt.Sprintf("baseYield=%.2f%% (blockNumber=%d, blockHash=%s)",
		r.BaseYield*100, r.EndBlock, r.EndBlockHash)
}
