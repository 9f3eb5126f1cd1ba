// Package yield computes the annualized base yield of a liquid staking token
// from daily samples of its on-chain backing value.
package yield

import (
	"errors"
	"math/big"
)

const (
	// DaySeconds is one day of wall-clock time.
	DaySeconds uint64 = 24 * 60 * 60
	// SecondsPerYear is the annualisation base.
	SecondsPerYear = 365 * DaySeconds
	// BlockTime is the post-merge slot time in seconds.
	BlockTime uint64 = 12
	// BlockGranularity is the exact block distance between consecutive observations.
	BlockGranularity = DaySeconds / BlockTime
	// Decimals is the fixed-point scale of backing values.
	Decimals uint8 = 18
)

var (
	// ErrInsufficientData covers empty input and windows with fewer than two resampled points.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrNotSorted is returned when block numbers are not strictly increasing.
	ErrNotSorted = errors.New("list not sorted")
	// ErrGranularity is returned when two observations are not BlockGranularity blocks apart.
	ErrGranularity = errors.New("provided data not at correct granularity")
	// ErrInvalidStride is returned for a stride below one.
	ErrInvalidStride = errors.New("stride must be at least 1")
	// ErrNonPositiveInterval is returned when timestamps do not advance between samples.
	ErrNonPositiveInterval = errors.New("non-positive time delta between samples")
	// ErrConversion wraps fixed-point to float conversion failures.
	ErrConversion = errors.New("fixed-point conversion failed")
	// ErrZeroBacking is returned when a growth base is zero.
	ErrZeroBacking = errors.New("zero backing value")
)

// Observation is one backing measurement at a block.
type Observation struct {
	Timestamp   uint64
	BlockNumber uint64
	Backing     *big.Int
}

// Series is ordered by ascending block number.
type Series []Observation

// Result carries the computed base yield as a ratio (0.05 == 5%).
type Result struct {
	BaseYield float64
	// Intervals is the number of growth intervals that were averaged.
	Intervals int
}

// Percent returns the base yield expressed in percent.
func (r Result) Percent() float64 {
	return r.BaseYield * 100
}
