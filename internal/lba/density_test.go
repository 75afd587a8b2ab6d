package lba

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat/distuv"
)

func TestLogPhiMatchesDirectEvaluation(t *testing.T) {
	for _, z := range []float64{-8, -3, -1, 0, 0.5, 2, 4.9, 5.1, 7} {
		want := math.Log(distuv.UnitNormal.CDF(z))
		assert.InDelta(t, want, logPhi(z), 1e-9*math.Max(1, math.Abs(want)), "z=%v", z)
	}
}

func TestLogPhiFarTail(t *testing.T) {
	below := logPhi(logAsymptoticZ - 1e-9)
	above := logPhi(logAsymptoticZ + 1e-9)
	assert.InEpsilon(t, above, below, 1e-7, "series and erfc branches must agree at the switch")

	// log Φ(-40) ≈ -804.6084
	v := logPhi(-40)
	assert.False(t, math.IsInf(v, 0) || math.IsNaN(v))
	assert.InDelta(t, -804.6084, v, 1e-3)
}

func TestLog1mexp(t *testing.T) {
	for _, p := range []float64{1e-12, 0.3, 0.5, 0.9, 1 - 1e-10} {
		assert.InDelta(t, math.Log(1-p), log1mexp(math.Log(p)), 1e-9, "p=%v", p)
	}
}

func TestDensityBounds(t *testing.T) {
	accs := []Accumulator{
		{A: 0.5, B: 1.0, V: 2.0, S: 1},
		{A: 0.1, B: 2.0, V: 0.3, S: 1},
		{A: 1.2, B: 1.3, V: 5.0, S: 0.5},
	}
	for _, acc := range accs {
		prev := 0.0
		for t0 := 1e-4; t0 < 30; t0 *= 1.05 {
			e := acc.Evaluate(t0)
			require.GreaterOrEqual(t, e.PDF, 0.0)
			require.GreaterOrEqual(t, e.CDF, 0.0)
			require.LessOrEqual(t, e.CDF, 1.0)
			require.GreaterOrEqual(t, e.CDF, prev-1e-15, "CDF must be non-decreasing (t=%v, %+v)", t0, acc)
			prev = e.CDF
		}
	}
}

func TestDensityFloorsAtDegenerateTime(t *testing.T) {
	acc := Accumulator{A: 0.5, B: 1.0, V: 2.0, S: 1}
	for _, tt := range []float64{0, -0.5, 1e-14} {
		e := acc.Evaluate(tt)
		assert.Equal(t, MinPDF, e.PDF)
		assert.Equal(t, MinCDF, e.CDF)
		assert.Equal(t, Partials{}, e.DPDF)
		assert.False(t, math.IsInf(e.LogSurvival(), 0))
	}
}

func TestCDFReachesOneForLargeTime(t *testing.T) {
	// The finishing probability of a normal-drift accumulator tends to Φ(v/s);
	// with v/s = 8 this is 1 to within the clip.
	acc := Accumulator{A: 0.5, B: 1.0, V: 8, S: 1}
	for _, tt := range []float64{10, 100, 1000, 1e5} {
		assert.InDelta(t, 1.0, acc.CDF(tt), 1e-6, "t=%v", tt)
	}

	slow := Accumulator{A: 0.5, B: 1.0, V: 1, S: 1}
	assert.InDelta(t, distuv.UnitNormal.CDF(1), slow.CDF(1e6), 1e-4)
}

func TestProbabilityMassConservation(t *testing.T) {
	acc := Accumulator{A: 0.5, B: 1.0, V: 8, S: 1}

	mass := func(tMax float64) float64 {
		const dt = 1e-4
		n := int(tMax/dt) + 1
		xs := make([]float64, n)
		fs := make([]float64, n)
		for i := range xs {
			xs[i] = float64(i) * dt
			if xs[i] > 0 {
				fs[i] = acc.PDF(xs[i])
			}
		}
		return integrate.Trapezoidal(xs, fs)
	}

	prev := 0.0
	for _, tMax := range []float64{0.1, 0.2, 0.5, 1, 5} {
		m := mass(tMax)
		assert.Greater(t, m, prev-1e-9)
		assert.InDelta(t, acc.CDF(tMax), m, 1e-3, "integrated density should track the CDF at %v", tMax)
		prev = m
	}
	assert.InDelta(t, 1.0, prev, 1e-3)
}

func TestAnalyticPartialsMatchFiniteDifferences(t *testing.T) {
	cases := []struct {
		acc Accumulator
		t   float64
	}{
		{Accumulator{A: 0.5, B: 1.0, V: 2.0, S: 1}, 0.3},
		{Accumulator{A: 0.8, B: 1.5, V: 0.7, S: 1}, 0.9},
		{Accumulator{A: 0.3, B: 0.6, V: 1.2, S: 1}, 0.25},
	}

	const h = 1e-6
	for _, c := range cases {
		e := c.acc.Evaluate(c.t)
		num := func(f func(Accumulator, float64) float64, shift func(*Accumulator, *float64, float64)) float64 {
			a1, t1 := c.acc, c.t
			a2, t2 := c.acc, c.t
			shift(&a1, &t1, h)
			shift(&a2, &t2, -h)
			return (f(a1, t1) - f(a2, t2)) / (2 * h)
		}
		pdf := func(a Accumulator, t float64) float64 { return a.PDF(t) }
		cdf := func(a Accumulator, t float64) float64 { return a.CDF(t) }
		shifts := map[string]func(*Accumulator, *float64, float64){
			"T": func(_ *Accumulator, t *float64, d float64) { *t += d },
			"A": func(a *Accumulator, _ *float64, d float64) { a.A += d },
			"B": func(a *Accumulator, _ *float64, d float64) { a.B += d },
			"V": func(a *Accumulator, _ *float64, d float64) { a.V += d },
		}
		pick := func(p Partials, k string) float64 {
			switch k {
			case "T":
				return p.T
			case "A":
				return p.A
			case "B":
				return p.B
			}
			return p.V
		}
		for k, shift := range shifts {
			assert.InDelta(t, num(pdf, shift), pick(e.DPDF, k), 1e-5, "dPDF/d%s at %+v t=%v", k, c.acc, c.t)
			assert.InDelta(t, num(cdf, shift), pick(e.DCDF, k), 1e-5, "dCDF/d%s at %+v t=%v", k, c.acc, c.t)
		}
		// dCDF/dt is the density itself.
		assert.InDelta(t, e.PDF, e.DCDF.T, 1e-10)
	}
}
