// Package diagnostics computes convergence summaries of a posterior trace:
// rank-normalized split R-hat, bulk and tail effective sample size and
// divergence rates.
package diagnostics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// R-hat verdict thresholds
const (
	RhatExcellent  = 1.01
	RhatAcceptable = 1.05
)

// splitChains halves every chain, dropping the middle draw of odd lengths
func splitChains(chains [][]float64) [][]float64 {
	out := make([][]float64, 0, 2*len(chains))
	for _, c := range chains {
		half := len(c) / 2
		out = append(out, c[:half], c[len(c)-half:])
	}
	return out
}

// SplitRhat is the larger of the rank-normalized and folded split R-hat
// (Vehtari et al. 2021). The folded term catches chains that agree in
// location but not in scale. Identical constant chains give 1; zero
// within-chain variance with distinct chain means gives +Inf.
func SplitRhat(chains [][]float64) float64 {
	split := splitChains(chains)
	if len(split) < 2 || len(split[0]) < 2 {
		return math.NaN()
	}
	if allConstant(split) {
		return classicRhat(split)
	}
	bulk := classicRhat(rankNormalize(split))
	tail := classicRhat(rankNormalize(fold(split)))
	return math.Max(bulk, tail)
}

// fold maps every draw to its distance from the pooled median
func fold(chains [][]float64) [][]float64 {
	med := pooledQuantile(chains, 0.5)
	out := make([][]float64, len(chains))
	for c, xs := range chains {
		out[c] = make([]float64, len(xs))
		for i, x := range xs {
			out[c][i] = math.Abs(x - med)
		}
	}
	return out
}

func pooledQuantile(chains [][]float64, p float64) float64 {
	var all []float64
	for _, xs := range chains {
		all = append(all, xs...)
	}
	sort.Float64s(all)
	return stat.Quantile(p, stat.Empirical, all, nil)
}

func allConstant(chains [][]float64) bool {
	for _, c := range chains {
		if !isConstant(c) {
			return false
		}
	}
	return true
}

// classicRhat is the Gelman-Rubin ratio over equal-length chains
func classicRhat(split [][]float64) float64 {
	n := float64(len(split[0]))

	means := make([]float64, len(split))
	vars := make([]float64, len(split))
	for i, c := range split {
		means[i], vars[i] = stat.MeanVariance(c, nil)
	}
	w := stat.Mean(vars, nil)
	b := n * stat.Variance(means, nil)

	if w == 0 {
		if b == 0 || isConstant(means) {
			return 1
		}
		return math.Inf(1)
	}
	varPlus := (n-1)/n*w + b/n
	return math.Sqrt(varPlus / w)
}

func isConstant(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}

// RhatVerdict classifies an R-hat value
func RhatVerdict(r float64) string {
	switch {
	case math.IsNaN(r):
		return "unknown"
	case r < RhatExcellent:
		return "excellent"
	case r < RhatAcceptable:
		return "acceptable"
	default:
		return "non_converged"
	}
}
