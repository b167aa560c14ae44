// Package cof computes a coefficient-of-friction measurement from the two
// force-sample passes captured by the tester head. Samples are trimmed at
// both ends to discard acceleration and sensor-edge transients, paired by
// physical position between the forward and reverse pass, reduced to a
// per-pair friction estimate via the midpoint method, then averaged by a
// pluggable strategy and normalised by the applied normal force.
package cof

import (
	"errors"
	"fmt"
)

// ErrNoValidPairs is reported when trimming leaves no usable samples in one
// of the passes. It is a recoverable measurement condition, not a fault.
var ErrNoValidPairs = errors.New("no valid pairs after trimming")

// Series is one pass's ordered force readings in pounds, one per discrete
// position along the travel path. Readings are non-negative. The calculation
// never mutates a Series.
type Series []float64

// TrimPlan describes the usable sub-range of each pass and the number of
// position pairs the ranges yield.
type TrimPlan struct {
	FwdStart    int
	RevStart    int
	PairedCount int
}

// PlanTrim derives the trim plan from the raw sample counts and a trim
// fraction in [0, 0.5). floor(count*fraction) samples are discarded from
// each end of each pass; the paired count is capped by whichever pass has
// fewer usable samples so no out-of-range access can happen downstream.
// Returns ErrNoValidPairs if either pass collapses to zero usable samples.
// A negative fraction is rejected: it would yield negative start indices.
func PlanTrim(fwdCount, revCount int, trimFraction float64) (TrimPlan, error) {
	if trimFraction < 0 {
		return TrimPlan{}, fmt.Errorf("trim fraction must be non-negative, got %v", trimFraction)
	}

	fwdTrim := int(float64(fwdCount) * trimFraction)
	revTrim := int(float64(revCount) * trimFraction)

	fwdUsable := fwdCount - 2*fwdTrim
	revUsable := revCount - 2*revTrim

	if fwdUsable <= 0 || revUsable <= 0 {
		return TrimPlan{}, ErrNoValidPairs
	}

	paired := fwdUsable
	if revUsable < paired {
		paired = revUsable
	}

	return TrimPlan{
		FwdStart:    fwdTrim,
		RevStart:    revTrim,
		PairedCount: paired,
	}, nil
}

// Pair returns the forward and reverse readings for position pair i under
// the plan. The reverse index is mirrored: the reverse pass travels the
// surface in the opposite direction, so its samples are stored in opposite
// positional order.
func (p TrimPlan) Pair(fwd, rev Series, i int) (float64, float64) {
	return fwd[p.FwdStart+i], rev[p.RevStart+(p.PairedCount-1-i)]
}
