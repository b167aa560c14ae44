package cof

import (
	"math"

	"github.com/tribolab-data/friction.report/internal/monitoring"
)

// Result is the outcome of one COF calculation. A zero-valued Result
// (PairedCount 0) encodes a failed calculation; a legitimately zero Cof with
// valid pairs still carries a non-zero PairedCount, which is what callers
// must check to tell the two apart.
type Result struct {
	Cof         float64 `json:"cof"`
	AvgForceLb  float64 `json:"avg_force_lb"`
	AvgBias     float64 `json:"avg_bias_lb"`
	PairedCount int     `json:"paired_count"`
}

// Calculate pairs the forward and reverse passes by physical position,
// computes per-pair friction via the midpoint method |fwd−rev|/2, reduces
// the paired values with the given averaging strategy, and normalises by
// the applied normal force. AvgBias is the mean of (fwd+rev)/2 across all
// pairs, a diagnostic for sensor asymmetry independent of the strategy.
//
// Cof is zero whenever normalForceLb is not positive. On trim failure the
// zero Result is returned together with ErrNoValidPairs; the condition is
// logged and is not fatal to the caller.
func Calculate(fwd, rev Series, normalForceLb, trimFraction float64, avg AveragingFunc) (Result, error) {
	plan, err := PlanTrim(len(fwd), len(rev), trimFraction)
	if err != nil {
		monitoring.Logf("cof: %v (fwd=%d rev=%d trim=%.4f)", err, len(fwd), len(rev), trimFraction)
		return Result{}, err
	}

	friction := make([]float64, plan.PairedCount)
	var biasSum float64

	for i := 0; i < plan.PairedCount; i++ {
		f, r := plan.Pair(fwd, rev, i)
		friction[i] = math.Abs(f-r) / 2
		biasSum += (f + r) / 2
	}

	result := Result{
		AvgForceLb:  avg(friction),
		AvgBias:     biasSum / float64(plan.PairedCount),
		PairedCount: plan.PairedCount,
	}
	if normalForceLb > 0 {
		result.Cof = result.AvgForceLb / normalForceLb
	}

	return result, nil
}
