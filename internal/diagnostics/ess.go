package diagnostics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ESS verdict thresholds
const (
	ESSAdequate = 400
	ESSMarginal = 100
)

// BulkESS is the effective sample size of rank-normalized split chains
// (Vehtari et al. 2021).
func BulkESS(chains [][]float64) float64 {
	split := splitChains(chains)
	if len(split) == 0 || len(split[0]) < 4 {
		return math.NaN()
	}
	return ESS(rankNormalize(split))
}

// TailESS is the smaller effective sample size of the 5% and 95% quantile
// indicators over split chains.
func TailESS(chains [][]float64) float64 {
	split := splitChains(chains)
	if len(split) == 0 || len(split[0]) < 4 {
		return math.NaN()
	}
	lo := ESS(indicator(split, pooledQuantile(split, 0.05)))
	hi := ESS(indicator(split, pooledQuantile(split, 0.95)))
	return minESS(lo, hi)
}

// indicator maps every draw to 1 when it is at most q and 0 otherwise
func indicator(chains [][]float64, q float64) [][]float64 {
	out := make([][]float64, len(chains))
	for c, xs := range chains {
		out[c] = make([]float64, len(xs))
		for i, x := range xs {
			if x <= q {
				out[c][i] = 1
			}
		}
	}
	return out
}

// rankNormalize replaces every draw by the normal quantile of its pooled
// fractional rank. Ties share their average rank.
func rankNormalize(chains [][]float64) [][]float64 {
	type entry struct {
		v    float64
		c, i int
	}
	var all []entry
	for c, xs := range chains {
		for i, x := range xs {
			all = append(all, entry{x, c, i})
		}
	}
	sort.Slice(all, func(a, b int) bool { return all[a].v < all[b].v })

	size := float64(len(all))
	out := make([][]float64, len(chains))
	for c, xs := range chains {
		out[c] = make([]float64, len(xs))
	}
	for lo := 0; lo < len(all); {
		hi := lo
		for hi+1 < len(all) && all[hi+1].v == all[lo].v {
			hi++
		}
		rank := float64(lo+hi)/2 + 1
		z := distuv.UnitNormal.Quantile((rank - 0.375) / (size + 0.25))
		for k := lo; k <= hi; k++ {
			out[all[k].c][all[k].i] = z
		}
		lo = hi + 1
	}
	return out
}

// autocovariance returns the biased autocovariance of x at every lag via FFT
func autocovariance(x []float64) []float64 {
	n := len(x)
	size := 1
	for size < 2*n {
		size <<= 1
	}
	mean := stat.Mean(x, nil)
	padded := make([]float64, size)
	for i, v := range x {
		padded[i] = v - mean
	}

	fft := fourier.NewFFT(size)
	coef := fft.Coefficients(nil, padded)
	for i, c := range coef {
		coef[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	seq := fft.Sequence(nil, coef)

	out := make([]float64, n)
	if seq[0] == 0 {
		return out
	}
	// Rescale lag 0 to the biased variance; this absorbs the transform's
	// normalization.
	_, v := stat.PopMeanVariance(x, nil)
	scale := v / seq[0]
	for i := range out {
		out[i] = seq[i] * scale
	}
	return out
}

// ESS is the multi-chain effective sample size using Geyer's initial
// monotone sequence on the combined autocorrelation.
func ESS(chains [][]float64) float64 {
	m := len(chains)
	if m == 0 {
		return math.NaN()
	}
	n := len(chains[0])
	for _, c := range chains {
		n = min(n, len(c))
	}
	if n < 4 {
		return math.NaN()
	}

	acov := make([][]float64, m)
	means := make([]float64, m)
	for j := range chains {
		c := chains[j][:n]
		acov[j] = autocovariance(c)
		means[j] = stat.Mean(c, nil)
	}
	meanAcov := func(lag int) float64 {
		s := 0.0
		for j := range acov {
			s += acov[j][lag]
		}
		return s / float64(m)
	}

	nf := float64(n)
	meanVar := meanAcov(0) * nf / (nf - 1)
	varPlus := meanVar * (nf - 1) / nf
	if m > 1 {
		varPlus += stat.Variance(means, nil)
	}
	if varPlus == 0 {
		return math.NaN()
	}

	rho := make([]float64, n)
	rhoEven := 1.0
	rhoOdd := 1 - (meanVar-meanAcov(1))/varPlus
	rho[0], rho[1] = rhoEven, rhoOdd

	t := 1
	for t < n-3 && rhoEven+rhoOdd > 0 {
		rhoEven = 1 - (meanVar-meanAcov(t+1))/varPlus
		rhoOdd = 1 - (meanVar-meanAcov(t+2))/varPlus
		if rhoEven+rhoOdd >= 0 {
			rho[t+1], rho[t+2] = rhoEven, rhoOdd
		}
		t += 2
	}
	maxT := t - 2
	if rhoEven > 0 && maxT+1 < n {
		rho[maxT+1] = rhoEven
	}

	for t := 1; t <= maxT-2; t += 2 {
		if rho[t+1]+rho[t+2] > rho[t-1]+rho[t] {
			rho[t+1] = (rho[t-1] + rho[t]) / 2
			rho[t+2] = rho[t+1]
		}
	}

	total := float64(m * n)
	sum := 0.0
	for _, r := range rho[:maxT+1] {
		sum += r
	}
	tau := -1 + 2*sum
	if maxT+1 < n {
		tau += rho[maxT+1]
	}
	tau = math.Max(tau, 1/math.Log10(total))
	return total / tau
}

// ESSVerdict classifies an effective sample size
func ESSVerdict(ess float64) string {
	switch {
	case math.IsNaN(ess):
		return "unknown"
	case ess >= ESSAdequate:
		return "adequate"
	case ess >= ESSMarginal:
		return "marginal"
	default:
		return "poor"
	}
}
