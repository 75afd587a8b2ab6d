package diagnostics

import (
	"fmt"
	"math"
	"sort"

	"racefit/internal/sampler"
)

// Divergence verdicts
const (
	DivergenceIdeal      = "ideal"
	DivergenceAcceptable = "acceptable"
	DivergenceConcerning = "concerning"
	DivergenceBlocking   = "blocking"
)

// DivergenceVerdict classifies a divergent-draw fraction
func DivergenceVerdict(rate float64) string {
	switch {
	case rate <= 0:
		return DivergenceIdeal
	case rate < 0.01:
		return DivergenceAcceptable
	case rate <= 0.05:
		return DivergenceConcerning
	default:
		return DivergenceBlocking
	}
}

// ParamDiagnostic is the convergence record of one parameter
type ParamDiagnostic struct {
	Name        string  `json:"name"`
	Rhat        float64 `json:"rhat"`
	ESS         float64 `json:"ess_bulk"`
	TailESS     float64 `json:"ess_tail"`
	RhatVerdict string  `json:"rhat_verdict"`
	ESSVerdict  string  `json:"ess_verdict"`
}

// Report summarizes the health of a run
type Report struct {
	Chains int               `json:"chains"`
	Draws  int               `json:"draws"`
	Params []ParamDiagnostic `json:"params"`

	Divergences         int     `json:"divergences"`
	DivergencesPerChain []int   `json:"divergences_per_chain"`
	DivergenceRate      float64 `json:"divergence_rate"`
	DivergenceVerdict   string  `json:"divergence_verdict"`

	MaxTreeDepth     int       `json:"max_tree_depth"`
	TreeDepthHits    int       `json:"tree_depth_hits"`
	MeanAccept       float64   `json:"mean_accept"`
	StepSizes        []float64 `json:"step_sizes"`
	NonConverged     int       `json:"non_converged"`
	PoorESS          int       `json:"poor_ess"`
	DataWarnings     []string  `json:"data_warnings,omitempty"`
	Remediation      []string  `json:"remediation,omitempty"`
	BlockingWarnings []string  `json:"blocking_warnings,omitempty"`
}

// Diagnose computes every parameter's R-hat and ESS and the run's
// divergence profile. maxTreeDepth is the configured depth limit.
func Diagnose(trace *sampler.Trace, maxTreeDepth int) (*Report, error) {
	if trace == nil || trace.NumChains() == 0 || trace.NumDraws() == 0 {
		return nil, fmt.Errorf("empty trace")
	}

	r := &Report{
		Chains:       trace.NumChains(),
		Draws:        trace.NumDraws(),
		MaxTreeDepth: maxTreeDepth,
		StepSizes:    append([]float64(nil), trace.StepSizes...),
	}

	for _, name := range trace.Names {
		chains, err := trace.Param(name)
		if err != nil {
			return nil, err
		}
		rhat := SplitRhat(chains)
		bulk, tail := BulkESS(chains), TailESS(chains)
		d := ParamDiagnostic{
			Name:        name,
			Rhat:        rhat,
			ESS:         bulk,
			TailESS:     tail,
			RhatVerdict: RhatVerdict(rhat),
			ESSVerdict:  ESSVerdict(minESS(bulk, tail)),
		}
		if d.RhatVerdict == "non_converged" {
			r.NonConverged++
		}
		if d.ESSVerdict == "poor" {
			r.PoorESS++
		}
		r.Params = append(r.Params, d)
	}

	r.DivergencesPerChain = trace.Divergences()
	for _, d := range r.DivergencesPerChain {
		r.Divergences += d
	}
	total := trace.TotalDraws()
	if total > 0 {
		r.DivergenceRate = float64(r.Divergences) / float64(total)
	}
	r.DivergenceVerdict = DivergenceVerdict(r.DivergenceRate)

	accept := 0.0
	for _, chain := range trace.Stats {
		for _, st := range chain {
			accept += st.Accept
			if st.TreeDepth >= maxTreeDepth {
				r.TreeDepthHits++
			}
		}
	}
	if total > 0 {
		r.MeanAccept = accept / float64(total)
	}

	r.remediate()
	return r, nil
}

// Worst returns the n parameters with the highest R-hat
func (r *Report) Worst(n int) []ParamDiagnostic {
	sorted := append([]ParamDiagnostic(nil), r.Params...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rank(sorted[i].Rhat) > rank(sorted[j].Rhat)
	})
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// minESS ignores an undefined estimate unless both are undefined
func minESS(a, b float64) float64 {
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	}
	return math.Min(a, b)
}

func rank(x float64) float64 {
	if math.IsNaN(x) {
		return math.Inf(-1)
	}
	return x
}

// Converged reports whether every R-hat is below the acceptable threshold
func (r *Report) Converged() bool { return r.NonConverged == 0 }

// Blocking reports whether the divergence rate calls the geometry into question
func (r *Report) Blocking() bool { return r.DivergenceVerdict == DivergenceBlocking }

// Lookup returns the diagnostic of one parameter
func (r *Report) Lookup(name string) (ParamDiagnostic, bool) {
	for _, p := range r.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamDiagnostic{}, false
}

func (r *Report) remediate() {
	if r.NonConverged > 0 {
		w := r.Worst(1)[0]
		r.Remediation = append(r.Remediation, fmt.Sprintf(
			"%d parameters have R-hat >= %.2f (worst %s = %.3f): increase warmup and draws, and check the trace for chains stuck in separate modes",
			r.NonConverged, RhatAcceptable, w.Name, w.Rhat))
	}
	if r.PoorESS > 0 {
		r.Remediation = append(r.Remediation, fmt.Sprintf(
			"%d parameters have bulk or tail ESS < %d: run more draws, or lower the target acceptance so trajectories take longer steps",
			r.PoorESS, ESSMarginal))
	}
	switch r.DivergenceVerdict {
	case DivergenceAcceptable, DivergenceConcerning:
		r.Remediation = append(r.Remediation, fmt.Sprintf(
			"%d divergent transitions (%.2f%%): raise the target acceptance (e.g. 0.95) to shrink the step size",
			r.Divergences, 100*r.DivergenceRate))
	case DivergenceBlocking:
		msg := fmt.Sprintf(
			"%d divergent transitions (%.2f%%) exceed 5%%: the posterior geometry needs reparameterization (tighter sigma priors, or fewer participant-level effects); estimates are unreliable",
			r.Divergences, 100*r.DivergenceRate)
		r.Remediation = append(r.Remediation, msg)
		r.BlockingWarnings = append(r.BlockingWarnings, msg)
	}
	if total := r.Chains * r.Draws; total > 0 && float64(r.TreeDepthHits)/float64(total) > 0.01 {
		r.Remediation = append(r.Remediation, fmt.Sprintf(
			"%d draws hit the maximum tree depth %d: increase max depth", r.TreeDepthHits, r.MaxTreeDepth))
	}
}
