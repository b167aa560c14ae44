package cof

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// AveragingFunc reduces a slice of non-negative per-pair friction values to
// one representative value. Any function with this signature can serve as
// the averaging strategy for a calculation.
type AveragingFunc func(friction []float64) float64

// Strategy names accepted by AveragerByName and the tuning config.
const (
	MethodPercentileBand = "percentile_band"
	MethodOneStdDev      = "one_stddev"
)

// PercentileBand sorts a copy of the input and averages the 85th–95th
// percentile window, discarding both the transient-dominated low readings
// and the top-5% spikes. Below 10 samples there is not enough data for
// percentile slicing, so it falls back to the plain mean (0 for no samples).
func PercentileBand(friction []float64) float64 {
	n := len(friction)
	if n < 10 {
		if n == 0 {
			return 0
		}
		return stat.Mean(friction, nil)
	}

	sorted := make([]float64, n)
	copy(sorted, friction)
	sort.Float64s(sorted)

	idx85 := int(float64(n) * 0.85)
	idx95 := int(float64(n) * 0.95)
	if idx85 >= idx95 {
		idx85 = idx95 - 1
	}
	if idx85 < 0 {
		idx85 = 0
	}
	if idx95 <= idx85 {
		return 0
	}

	return stat.Mean(sorted[idx85:idx95], nil)
}

// WithinOneStdDev averages only the values within one population standard
// deviation of the mean, a symmetric outlier trim suited to smaller or
// noisier sample sets than PercentileBand. Returns 0 for no samples and the
// unfiltered mean if no value falls inside the band.
func WithinOneStdDev(friction []float64) float64 {
	if len(friction) == 0 {
		return 0
	}

	mean := stat.Mean(friction, nil)
	stddev := stat.PopStdDev(friction, nil)

	lo := mean - stddev
	hi := mean + stddev

	var sum float64
	var count int
	for _, v := range friction {
		if v >= lo && v <= hi {
			sum += v
			count++
		}
	}

	if count == 0 {
		return mean
	}
	return sum / float64(count)
}

// AveragerByName resolves a strategy name from config or an API request to
// its AveragingFunc.
func AveragerByName(name string) (AveragingFunc, error) {
	switch name {
	case MethodPercentileBand:
		return PercentileBand, nil
	case MethodOneStdDev:
		return WithinOneStdDev, nil
	default:
		return nil, fmt.Errorf("unknown averaging method %q: expected %s or %s",
			name, MethodPercentileBand, MethodOneStdDev)
	}
}
