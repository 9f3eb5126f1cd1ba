package yield

import "fmt"

// Averager reduces the annualized growth rates of consecutive intervals into
// a single yield figure.
type Averager interface {
	Average(rates []float64) float64
}

// ArithmeticMean is the simple mean of interval rates. It does not compound.
type ArithmeticMean struct{}

// Average implements Averager.
func (ArithmeticMean) Average(rates []float64) float64 {
	total := 0.0
	for _, r := range rates {
		total += r
	}
	return total / float64(len(rates))
}

// Compute validates the series, resamples it every stride observations
// counted back from the newest one and averages the annualized growth.
func Compute(series Series, stride int) (Result, error) {
	return ComputeWith(series, stride, ArithmeticMean{})
}

// ComputeWith is Compute with a caller supplied averaging formula.
func ComputeWith(series Series, stride int, avg Averager) (Result, error) {
	if err := Validate(series); err != nil {
		return Result{}, err
	}

	resampled, err := Resample(series, stride)
	if err != nil {
		return Result{}, err
	}
	if len(resampled) == 0 {
		return Result{}, fmt.Errorf("%w: resampled data insufficient", ErrInsufficientData)
	}
	if len(resampled) == 1 {
		return Result{}, fmt.Errorf("%w: resampled data insufficient (single point, stride %d over %d observations)",
			ErrInsufficientData, stride, len(series))
	}

	rates, err := IntervalRates(resampled)
	if err != nil {
		return Result{}, err
	}

	return Result{BaseYield: avg.Average(rates), Intervals: len(rates)}, nil
}

// Validate checks that the series is non-empty, strictly increasing in block
// number and spaced exactly BlockGranularity blocks apart.
func Validate(series Series) error {
	if len(series) == 0 {
		return fmt.Errorf("%w: input data not long enough", ErrInsufficientData)
	}

	for i := 1; i < len(series); i++ {
		prior, current := series[i-1].BlockNumber, series[i].BlockNumber
		if current <= prior {
			return fmt.Errorf("%w: block %d at index %d follows block %d", ErrNotSorted, current, i, prior)
		}
		// chain pauses are not tolerated
		if delta := current - prior; delta != BlockGranularity {
			return fmt.Errorf("%w: blocks %d and %d are %d apart, want %d",
				ErrGranularity, prior, current, delta, BlockGranularity)
		}
	}
	return nil
}

// Resample keeps every stride-th observation walking back from the newest
// one and returns them in chronological order. The newest observation is
// always kept. The input is not modified.
func Resample(series Series, stride int) (Series, error) {
	if stride < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidStride, stride)
	}

	kept := make(Series, 0, (len(series)+stride-1)/stride)
	for i := len(series) - 1; i >= 0; i -= stride {
		kept = append(kept, series[i])
	}
	for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
		kept[l], kept[r] = kept[r], kept[l]
	}
	return kept, nil
}

// IntervalRates returns the annualized growth of each consecutive pair.
func IntervalRates(resampled Series) ([]float64, error) {
	if len(resampled) < 2 {
		return nil, fmt.Errorf("%w: need at least two samples, got %d", ErrInsufficientData, len(resampled))
	}

	rates := make([]float64, 0, len(resampled)-1)
	prior := resampled[0]
	priorBacking, err := ToFloat(prior.Backing, Decimals)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", prior.BlockNumber, err)
	}

	for _, current := range resampled[1:] {
		if current.Timestamp <= prior.Timestamp {
			return nil, fmt.Errorf("%w: block %d at %d, block %d at %d",
				ErrNonPositiveInterval, prior.BlockNumber, prior.Timestamp, current.BlockNumber, current.Timestamp)
		}
		if priorBacking == 0 {
			return nil, fmt.Errorf("%w: block %d", ErrZeroBacking, prior.BlockNumber)
		}
		annualizer := float64(SecondsPerYear) / float64(current.Timestamp-prior.Timestamp)

		currentBacking, err := ToFloat(current.Backing, Decimals)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", current.BlockNumber, err)
		}

		rates = append(rates, (currentBacking/priorBacking-1.0)*annualizer)
		prior, priorBacking = current, currentBacking
	}
	return rates, nil
}
