package export

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"racefit/domain/dataset"
	"racefit/internal/sampler"
)

// ConditionParams maps modality → ui_mode → parameter → posterior mean
type ConditionParams map[string]map[string]map[string]float64

// sharedParams are population-level quantities repeated in every cell
var sharedParams = []string{"A", "b", "v_correct", "v_error", "beta_difficulty", "beta_pressure"}

// Conditions assembles the condition-keyed point estimates. t0 is the
// cell's own posterior mean; the remaining entries are shared.
func Conditions(trace *sampler.Trace, cells []dataset.Cell) (ConditionParams, error) {
	shared := make(map[string]float64, len(sharedParams))
	for _, name := range sharedParams {
		m, err := posteriorMean(trace, name)
		if err != nil {
			return nil, err
		}
		shared[name] = m
	}

	out := make(ConditionParams)
	for _, c := range cells {
		t0, err := posteriorMean(trace, fmt.Sprintf("t0[%s]", c.Key()))
		if err != nil {
			return nil, err
		}
		params := map[string]float64{"t0": t0}
		for k, v := range shared {
			params[k] = v
		}
		if out[c.Modality] == nil {
			out[c.Modality] = make(map[string]map[string]float64)
		}
		out[c.Modality][c.UIMode] = params
	}
	return out, nil
}

func posteriorMean(trace *sampler.Trace, name string) (float64, error) {
	xs, err := trace.Pooled(name)
	if err != nil {
		return 0, err
	}
	if len(xs) == 0 {
		return 0, fmt.Errorf("no draws for %s", name)
	}
	return stat.Mean(xs, nil), nil
}
