package yield

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DailySeries lays out backing values one day and one BlockGranularity apart,
// starting at startTimestamp and startBlock.
func DailySeries(startTimestamp, startBlock uint64, values []decimal.Decimal) (Series, error) {
	series := make(Series, 0, len(values))
	for i, v := range values {
		backing, err := FromDecimal(v, Decimals)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		series = append(series, Observation{
			Timestamp:   startTimestamp + uint64(i)*DaySeconds,
			BlockNumber: startBlock + uint64(i)*BlockGranularity,
			Backing:     backing,
		})
	}
	return series, nil
}

// Newest returns the most recent observation of a non-empty series.
func (s Series) Newest() (Observation, bool) {
	if len(s) == 0 {
		return Observation{}, false
	}
	return s[len(s)-1], true
}
