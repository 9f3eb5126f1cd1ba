package fetcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"

	"lst-yield/internal/yield"
)

// ErrLinkage reports a header range that does not form a hash chain.
var ErrLinkage = errors.New("header linkage broken")

// VerifyLinkage checks that headers are contiguous and each one commits to
// the hash of its predecessor.
func VerifyLinkage(headers []*types.Header) error {
	if len(headers) == 0 {
		return fmt.Errorf("%w: no headers", ErrLinkage)
	}

	for i := 1; i < len(headers); i++ {
		prev, cur := headers[i-1], headers[i]
		if prev == nil || cur == nil || prev.Number == nil || cur.Number == nil {
			return fmt.Errorf("%w: missing header at offset %d", ErrLinkage, i)
		}
		if cur.Number.Uint64() != prev.Number.Uint64()+1 {
			return fmt.Errorf("%w: block %d follows %d", ErrLinkage, cur.Number.Uint64(), prev.Number.Uint64())
		}
		if cur.ParentHash != prev.Hash() {
			return fmt.Errorf("%w: block %d parent %s, want %s",
				ErrLinkage, cur.Number.Uint64(), cur.ParentHash.Hex(), prev.Hash().Hex())
		}
	}
	return nil
}

// VerifyObservations checks every observation against the linked header at
// its height: the timestamp must match and hashes[i], the block hash recorded
// with series[i], must equal that header's hash. Headers must start at or
// before the first observation's block.
func VerifyObservations(series yield.Series, hashes []string, headers []*types.Header) error {
	if len(headers) == 0 {
		return fmt.Errorf("%w: no headers", ErrLinkage)
	}
	if headers[0] == nil || headers[0].Number == nil {
		return fmt.Errorf("%w: missing header at offset 0", ErrLinkage)
	}
	if len(hashes) != len(series) {
		return fmt.Errorf("%w: %d block hashes for %d observations", ErrLinkage, len(hashes), len(series))
	}
	first := headers[0].Number.Uint64()

	for i, obs := range series {
		if obs.BlockNumber < first || obs.BlockNumber-first >= uint64(len(headers)) {
			return fmt.Errorf("%w: block %d outside verified range", ErrLinkage, obs.BlockNumber)
		}
		h := headers[obs.BlockNumber-first]
		if h == nil {
			return fmt.Errorf("%w: missing header for block %d", ErrLinkage, obs.BlockNumber)
		}
		if h.Time != obs.Timestamp {
			return fmt.Errorf("%w: block %d timestamp %d, header says %d",
				ErrLinkage, obs.BlockNumber, obs.Timestamp, h.Time)
		}
		if want := h.Hash().Hex(); !strings.EqualFold(hashes[i], want) {
			return fmt.Errorf("%w: block %d recorded hash %s, header hash %s",
				ErrLinkage, obs.BlockNumber, hashes[i], want)
		}
	}
	return nil
}
