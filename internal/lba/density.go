// Package lba implements the closed-form Linear Ballistic Accumulator
// densities (Brown & Heathcote, 2008) and the two-accumulator race likelihood.
package lba

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Numerical floors applied before any logarithm.
const (
	MinDenominator = 1e-10
	MinPDF         = 1e-12
	MinCDF         = 1e-10
	MaxCDF         = 1 - 1e-10
)

// logAsymptoticZ is where log Φ switches to the Mills-ratio series
const logAsymptoticZ = -20

// logphi is the log standard normal density
func logphi(z float64) float64 {
	return distuv.UnitNormal.LogProb(z)
}

// logPhi is the log standard normal CDF, accurate far into both tails
func logPhi(z float64) float64 {
	switch {
	case z < logAsymptoticZ:
		z2 := z * z
		series := 1 - 1/z2 + 3/(z2*z2) - 15/(z2*z2*z2)
		return logphi(z) - math.Log(-z) + math.Log(series)
	case z > 5:
		return math.Log1p(-0.5 * math.Erfc(z/math.Sqrt2))
	default:
		return math.Log(0.5 * math.Erfc(-z/math.Sqrt2))
	}
}

// log1mexp returns log(1 - exp(x)) for x <= 0
func log1mexp(x float64) float64 {
	if x > -math.Ln2 {
		return math.Log(-math.Expm1(x))
	}
	return math.Log1p(-math.Exp(x))
}

// Accumulator is one LBA evidence accumulator: start point ~ U[0, A],
// threshold B, drift ~ N(V, S).
type Accumulator struct {
	A float64
	B float64
	V float64
	S float64
}

// Partials holds derivatives with respect to decision time and parameters
type Partials struct {
	T float64
	A float64
	B float64
	V float64
}

// Eval is the floored density and clipped cumulative probability at one
// time point, with their partial derivatives. A floored or clipped value has
// zero partials.
type Eval struct {
	PDF  float64
	CDF  float64
	DPDF Partials
	DCDF Partials
}

// LogPDF returns log of the floored density
func (e Eval) LogPDF() float64 { return math.Log(e.PDF) }

// LogCDF returns log of the clipped cumulative probability
func (e Eval) LogCDF() float64 { return math.Log(e.CDF) }

// LogSurvival returns log(1 - CDF) computed from log CDF
func (e Eval) LogSurvival() float64 { return log1mexp(math.Log(e.CDF)) }

// PDF returns the floored density at decision time t
func (acc Accumulator) PDF(t float64) float64 {
	return acc.Evaluate(t).PDF
}

// CDF returns the clipped finishing probability by decision time t
func (acc Accumulator) CDF(t float64) float64 {
	return acc.Evaluate(t).CDF
}

// Evaluate computes density, cumulative probability and partials at t
func (acc Accumulator) Evaluate(t float64) Eval {
	a, b, v, s := acc.A, acc.B, acc.V, acc.S

	w := t * s
	dwdt := s
	if w < MinDenominator {
		w = MinDenominator
		dwdt = 0
	}
	u1 := b - a - t*v
	u2 := b - t*v
	z1 := u1 / w
	z2 := u2 / w

	// Exponentiate the log forms only where they are combined.
	Phi1, Phi2 := math.Exp(logPhi(z1)), math.Exp(logPhi(z2))
	phi1, phi2 := math.Exp(logphi(z1)), math.Exp(logphi(z2))

	h := -v*Phi1 + s*phi1 + v*Phi2 - s*phi2
	d := u1*Phi1 - u2*Phi2 + w*(phi1-phi2)
	pdf := h / a
	cdf := 1 + d/a

	var out Eval

	if pdf > MinPDF {
		out.PDF = pdf
		k1 := -phi1 * (v + s*z1)
		k2 := phi2 * (v + s*z2)
		dz1dt := (-v - z1*dwdt) / w
		dz2dt := (-v - z2*dwdt) / w
		out.DPDF = Partials{
			T: (k1*dz1dt + k2*dz2dt) / a,
			A: -k1/(w*a) - pdf/a,
			B: (k1 + k2) / (w * a),
			V: ((k1+k2)*(-t/w) + Phi2 - Phi1) / a,
		}
	} else {
		out.PDF = MinPDF
	}

	switch {
	case cdf < MinCDF || math.IsNaN(cdf):
		out.CDF = MinCDF
	case cdf > MaxCDF:
		out.CDF = MaxCDF
	default:
		out.CDF = cdf
		out.DCDF = Partials{
			T: (-v*Phi1 + v*Phi2 + dwdt*(phi1-phi2)) / a,
			A: -Phi1/a - d/(a*a),
			B: (Phi1 - Phi2) / a,
			V: t * (Phi2 - Phi1) / a,
		}
	}
	return out
}
