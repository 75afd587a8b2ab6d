package model

import (
	"math"
	"math/rand/v2"
	"testing"

	"racefit/domain/dataset"
	apperrors "racefit/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallDataset builds 3 participants × 2 modalities × 2 interface modes with
// four trials per participant and cell.
func smallDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))

	ds := &dataset.Dataset{
		Participants:     dataset.NewIndexMap([]string{"p1", "p2", "p3"}),
		Modalities:       dataset.NewIndexMap([]string{"gaze", "hand"}),
		UIModes:          dataset.NewIndexMap([]string{"adaptive", "static"}),
		PressureBaseline: 1,
	}
	for m, mod := range ds.Modalities.Labels() {
		for u, ui := range ds.UIModes.Labels() {
			ds.Cells = append(ds.Cells, dataset.Cell{Index: ds.CellIndex(m, u), Modality: mod, UIMode: ui, MinRT: math.Inf(1)})
		}
	}
	for p, pid := range ds.Participants.Labels() {
		for c := range ds.Cells {
			cell := &ds.Cells[c]
			for k := 0; k < 4; k++ {
				tr := dataset.Trial{
					ParticipantID: pid,
					Modality:      cell.Modality,
					UIMode:        cell.UIMode,
					Difficulty:    rng.NormFloat64(),
					Pressure:      float64(k%3-1) * 0.5,
					RT:            0.45 + rng.Float64(),
					Correct:       rng.Float64() < 0.8,
					Participant:   p,
					Cell:          c,
				}
				ds.Trials = append(ds.Trials, tr)
				cell.Trials++
				if !tr.Correct {
					cell.Errors++
				}
				cell.MinRT = math.Min(cell.MinRT, tr.RT)
			}
		}
	}
	return ds
}

func buildModel(t *testing.T, param Parameterization) *Model {
	t.Helper()
	m, err := Build(smallDataset(t), DefaultPriors(), Options{Parameterization: param})
	require.NoError(t, err)
	return m
}

// regularPoint is a draw with t0 well below every RT so no density floor is hit.
func regularPoint(m *Model, seed uint64) []float64 {
	theta := m.InitialPoint(rand.New(rand.NewPCG(seed, 1)))
	for c := 0; c < m.layout.MuT0.Size; c++ {
		theta[m.layout.MuT0.At(c)] = -1
	}
	return theta
}

func TestLayout(t *testing.T) {
	m := buildModel(t, NonCentered)
	l := m.Layout()

	// 4 cell means, 1 scale, 12 participant×cell offsets, then A, gap, v_c
	// blocks of sizes 5, 6, 6 and the error drift.
	assert.Equal(t, 4+1+12+5+6+6+1, l.Dim())

	names := l.Names()
	require.Len(t, names, l.Dim())
	seen := map[string]bool{}
	for _, n := range names {
		assert.False(t, seen[n], "duplicate name %s", n)
		seen[n] = true
	}
	assert.Equal(t, "mu_t0[gaze/adaptive]", names[0])
	assert.Equal(t, "z_t0[p1,gaze/adaptive]", names[l.ZT0.At(0)])
	assert.Equal(t, "mu_ve", names[l.Dim()-1])

	c := buildModel(t, Centered)
	assert.Equal(t, "u_A[p2]", c.Layout().Names()[c.Layout().ZA.At(1)])
}

func TestGradientMatchesFiniteDifferences(t *testing.T) {
	for _, param := range []Parameterization{NonCentered, Centered} {
		t.Run(param.String(), func(t *testing.T) {
			m := buildModel(t, param)
			for seed := uint64(1); seed <= 3; seed++ {
				theta := regularPoint(m, seed)
				grad := make([]float64, m.Dim())
				lp := m.LogDensityGrad(theta, grad)
				require.False(t, math.IsNaN(lp) || math.IsInf(lp, 0))
				assert.InDelta(t, lp, m.LogDensity(theta), 1e-9)

				const h = 1e-5
				names := m.Names()
				for j := range theta {
					x := theta[j]
					theta[j] = x + h
					up := m.LogDensity(theta)
					theta[j] = x - h
					down := m.LogDensity(theta)
					theta[j] = x

					fd := (up - down) / (2 * h)
					tol := 1e-4 * math.Max(1, math.Abs(fd))
					assert.InDelta(t, fd, grad[j], tol, "d/d%s (seed %d)", names[j], seed)
				}
			}
		})
	}
}

func TestT0StaysBelowRTAtExtremePositions(t *testing.T) {
	m := buildModel(t, NonCentered)
	for _, v := range []float64{-1e3, -50, 0, 50, 1e3} {
		theta := make([]float64, m.Dim())
		for j := range theta {
			theta[j] = v
		}
		for i := 0; i < m.NumTrials(); i++ {
			p := m.TrialParams(theta, i)
			assert.GreaterOrEqual(t, p.T0, 0.0)
			assert.Less(t, p.T0, m.TrialRT(i), "theta=%v trial=%d", v, i)
		}
	}
}

func TestParameterizationsAgreeUpToJacobian(t *testing.T) {
	nc := buildModel(t, NonCentered)
	ce := buildModel(t, Centered)
	l := nc.Layout()

	theta := regularPoint(nc, 5)
	mapped := append([]float64(nil), theta...)
	jac := 0.0
	for _, pair := range [][2]Block{{l.ZT0, l.LogSigmaT0}, {l.ZA, l.LogSigmaA}, {l.ZGap, l.LogSigmaGap}, {l.ZVC, l.LogSigmaVC}} {
		eff, ls := pair[0], pair[1]
		sigma := math.Exp(theta[ls.Offset])
		for i := 0; i < eff.Size; i++ {
			mapped[eff.At(i)] = sigma * theta[eff.At(i)]
		}
		jac += float64(eff.Size) * theta[ls.Offset]
	}

	// u = sigma·z, so the centered density carries an extra -log sigma per effect.
	assert.InDelta(t, nc.LogDensity(theta)-jac, ce.LogDensity(mapped), 1e-8)
	for i := 0; i < nc.NumTrials(); i++ {
		assert.InDelta(t, nc.TrialParams(theta, i).T0, ce.TrialParams(mapped, i).T0, 1e-12)
		assert.InDelta(t, nc.TrialParams(theta, i).VCorrect, ce.TrialParams(mapped, i).VCorrect, 1e-12)
	}
}

func TestConstrain(t *testing.T) {
	m := buildModel(t, NonCentered)
	theta := regularPoint(m, 2)
	names := m.ConstrainedNames()
	values := m.Constrain(theta)
	require.Len(t, values, len(names))

	byName := map[string]float64{}
	for i, n := range names {
		byName[n] = values[i]
	}
	l := m.Layout()
	assert.InDelta(t, math.Exp(theta[l.LogSigmaA.Offset]), byName["sigma_A"], 1e-12)
	assert.InDelta(t, Softplus(theta[l.MuA.Offset]), byName["A"], 1e-12)
	assert.Greater(t, byName["b"], byName["A"])
	assert.Greater(t, byName["v_error"], 0.0)
	for _, key := range m.CellKeys() {
		t0, ok := byName["t0["+key+"]"]
		require.True(t, ok, key)
		assert.Greater(t, t0, 0.0)
		assert.Less(t, t0, 0.45)
	}
	assert.Contains(t, byName, "z_vc[p3]")
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(&dataset.Dataset{}, DefaultPriors(), Options{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNoValidTrials, apperrors.GetCode(err))

	bad := DefaultPriors()
	bad.MuVC.Sigma = 0
	_, err = Build(smallDataset(t), bad, Options{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
	assert.Contains(t, err.Error(), "mu_vc")
}

func TestParseParameterization(t *testing.T) {
	p, err := ParseParameterization("centered")
	require.NoError(t, err)
	assert.Equal(t, Centered, p)

	p, err = ParseParameterization("")
	require.NoError(t, err)
	assert.Equal(t, NonCentered, p)

	_, err = ParseParameterization("sideways")
	assert.Error(t, err)
}

func TestTransforms(t *testing.T) {
	for _, x := range []float64{-800, -30, -1, 0, 2, 40, 800} {
		s := Sigmoid(x)
		assert.False(t, math.IsNaN(s))
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
		assert.False(t, math.IsInf(Softplus(x), 0))
	}
	assert.InDelta(t, math.Ln2, Softplus(0), 1e-15)
	assert.InDelta(t, 1.3, Softplus(InvSoftplus(1.3)), 1e-12)
	t0, slope := BoundedT0(0, 0.4)
	assert.InDelta(t, 0.95*0.4/2, t0, 1e-15)
	assert.InDelta(t, 0.95*0.4/4, slope, 1e-15)
	hi, _ := BoundedT0(40, 0.4)
	assert.Less(t, hi, 0.95*0.4+1e-12)
}
