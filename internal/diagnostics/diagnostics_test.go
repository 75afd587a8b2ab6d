package diagnostics

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"racefit/internal/sampler"
)

func iidChains(seed uint64, m, n int, offsets ...float64) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, 3))
	out := make([][]float64, m)
	for c := range out {
		out[c] = make([]float64, n)
		shift := 0.0
		if c < len(offsets) {
			shift = offsets[c]
		}
		for i := range out[c] {
			out[c][i] = rng.NormFloat64() + shift
		}
	}
	return out
}

func ar1(seed uint64, m, n int, phi float64) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, 5))
	out := make([][]float64, m)
	for c := range out {
		out[c] = make([]float64, n)
		x := 0.0
		for i := range out[c] {
			x = phi*x + rng.NormFloat64()
			out[c][i] = x
		}
	}
	return out
}

func TestSplitRhatWellMixed(t *testing.T) {
	r := SplitRhat(iidChains(1, 4, 2000))
	assert.Less(t, r, RhatExcellent)
	assert.Equal(t, "excellent", RhatVerdict(r))
}

func TestSplitRhatStuckChain(t *testing.T) {
	r := SplitRhat(iidChains(2, 4, 1000, 0, 0, 0, 3))
	assert.GreaterOrEqual(t, r, RhatAcceptable)
	assert.Equal(t, "non_converged", RhatVerdict(r))
}

func TestSplitRhatConstantChainAtMean(t *testing.T) {
	// Same location, no spread: only the folded term sees the stuck chain.
	mixing := iidChains(6, 1, 1000)[0]
	stuck := make([]float64, 1000)
	r := SplitRhat([][]float64{mixing, stuck})
	assert.GreaterOrEqual(t, r, RhatAcceptable)
	assert.Equal(t, "non_converged", RhatVerdict(r))

	assert.Less(t, classicRhat(splitChains([][]float64{mixing, stuck})), RhatAcceptable)
}

func TestSplitRhatScaleMismatch(t *testing.T) {
	chains := iidChains(7, 4, 1000)
	for i := range chains[3] {
		chains[3][i] *= 4
	}
	assert.GreaterOrEqual(t, SplitRhat(chains), RhatAcceptable)
}

func TestSplitRhatConstantChains(t *testing.T) {
	same := [][]float64{{2, 2, 2, 2}, {2, 2, 2, 2}}
	assert.Equal(t, 1.0, SplitRhat(same))

	apart := [][]float64{{1, 1, 1, 1}, {2, 2, 2, 2}}
	assert.True(t, math.IsInf(SplitRhat(apart), 1))
}

func TestSplitRhatDetectsTrendWithinChain(t *testing.T) {
	// A single drifting chain looks fine unsplit but its halves disagree.
	chain := make([]float64, 1000)
	for i := range chain {
		chain[i] = float64(i) / 100
	}
	assert.Greater(t, SplitRhat([][]float64{chain}), RhatAcceptable)
}

func TestBulkESS(t *testing.T) {
	iid := BulkESS(iidChains(3, 4, 1000))
	assert.InDelta(t, 4000, iid, 600)
	assert.Equal(t, "adequate", ESSVerdict(iid))

	// AR(1) with phi=0.9 has an integrated autocorrelation time of 19.
	correlated := BulkESS(ar1(4, 4, 2000, 0.9))
	assert.InDelta(t, 8000.0/19, correlated, 150)

	assert.Equal(t, "poor", ESSVerdict(50))
	assert.Equal(t, "marginal", ESSVerdict(250))
	assert.True(t, math.IsNaN(BulkESS([][]float64{{1, 2}})))
}

func TestTailESS(t *testing.T) {
	iid := TailESS(iidChains(8, 4, 1000))
	assert.Greater(t, iid, 2000.0)
	assert.Equal(t, "adequate", ESSVerdict(iid))

	assert.Less(t, TailESS(ar1(4, 4, 2000, 0.9)), 0.5*BulkESS(iidChains(4, 4, 2000)))
	assert.True(t, math.IsNaN(TailESS([][]float64{{1, 2}})))
}

func TestAutocovarianceMatchesDirectSum(t *testing.T) {
	x := iidChains(9, 1, 64)[0]
	got := autocovariance(x)
	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	for _, lag := range []int{0, 1, 5, 20} {
		want := 0.0
		for i := 0; i+lag < len(x); i++ {
			want += (x[i] - mean) * (x[i+lag] - mean)
		}
		want /= float64(len(x))
		assert.InDelta(t, want, got[lag], 1e-10, "lag %d", lag)
	}
}

func TestDivergenceVerdict(t *testing.T) {
	assert.Equal(t, DivergenceIdeal, DivergenceVerdict(0))
	assert.Equal(t, DivergenceAcceptable, DivergenceVerdict(0.005))
	assert.Equal(t, DivergenceConcerning, DivergenceVerdict(0.03))
	assert.Equal(t, DivergenceConcerning, DivergenceVerdict(0.05))
	assert.Equal(t, DivergenceBlocking, DivergenceVerdict(0.08))
}

func traceFrom(chains map[string][][]float64, divergentEvery int) *sampler.Trace {
	names := []string{"alpha", "beta"}
	m := len(chains["alpha"])
	tr := sampler.NewTrace(names, m)
	for c := 0; c < m; c++ {
		n := len(chains["alpha"][c])
		for d := 0; d < n; d++ {
			tr.Values[c] = append(tr.Values[c], []float64{chains["alpha"][c][d], chains["beta"][c][d]})
			st := sampler.DrawStats{Accept: 0.8, TreeDepth: 3, StepSize: 0.2}
			if divergentEvery > 0 && d%divergentEvery == 0 {
				st.Divergent = true
			}
			tr.Stats[c] = append(tr.Stats[c], st)
		}
		tr.StepSizes[c] = 0.2
	}
	return tr
}

func TestDiagnoseHealthyRun(t *testing.T) {
	tr := traceFrom(map[string][][]float64{
		"alpha": iidChains(10, 4, 1000),
		"beta":  iidChains(11, 4, 1000),
	}, 0)
	r, err := Diagnose(tr, 10)
	require.NoError(t, err)

	assert.Equal(t, 4, r.Chains)
	assert.Equal(t, 1000, r.Draws)
	assert.True(t, r.Converged())
	assert.False(t, r.Blocking())
	assert.Equal(t, DivergenceIdeal, r.DivergenceVerdict)
	assert.Empty(t, r.Remediation)
	assert.InDelta(t, 0.8, r.MeanAccept, 1e-12)

	a, ok := r.Lookup("alpha")
	require.True(t, ok)
	assert.Equal(t, "excellent", a.RhatVerdict)
	assert.Equal(t, "adequate", a.ESSVerdict)
}

func TestDiagnosePathologicalRun(t *testing.T) {
	tr := traceFrom(map[string][][]float64{
		"alpha": iidChains(12, 4, 500, 0, 0, 0, 5),
		"beta":  ar1(13, 4, 500, 0.95),
	}, 10)
	r, err := Diagnose(tr, 10)
	require.NoError(t, err)

	assert.False(t, r.Converged())
	assert.Equal(t, []int{50, 50, 50, 50}, r.DivergencesPerChain)
	assert.InDelta(t, 0.1, r.DivergenceRate, 1e-12)
	assert.True(t, r.Blocking())
	require.NotEmpty(t, r.BlockingWarnings)
	assert.Equal(t, "alpha", r.Worst(1)[0].Name)

	var sawRhat, sawDivergence bool
	for _, msg := range r.Remediation {
		sawRhat = sawRhat || strings.Contains(msg, "increase warmup")
		sawDivergence = sawDivergence || strings.Contains(msg, "reparameterization")
	}
	assert.True(t, sawRhat, "%v", r.Remediation)
	assert.True(t, sawDivergence, "%v", r.Remediation)
}

func TestDiagnoseEmptyTrace(t *testing.T) {
	_, err := Diagnose(sampler.NewTrace([]string{"x"}, 0), 10)
	assert.Error(t, err)
}
