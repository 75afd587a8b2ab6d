package testkit

import (
	"math"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/integrate"

	"racefit/internal/lba"
	"racefit/internal/prep"
)

// raceMass integrates the defective density of one response up to horizon
func raceMass(p lba.Params, correct bool, horizon float64) float64 {
	const dt = 1e-3
	var xs, ys []float64
	for t := p.T0 + dt; t <= horizon; t += dt {
		xs = append(xs, t)
		ys = append(ys, math.Exp(lba.RaceLogLik(t, correct, p)))
	}
	return integrate.Trapezoidal(xs, ys)
}

func TestSimulateTrialMatchesDensity(t *testing.T) {
	p := lba.Params{T0: 0.2, A: 0.5, B: 1.0, VCorrect: 2.0, VError: 1.0, S: 1}
	rng := rand.New(rand.NewPCG(1, 2))

	const n = 20000
	correct, fast := 0, 0
	for i := 0; i < n; i++ {
		rt, ok := SimulateTrial(rng, p)
		require.Greater(t, rt, p.T0)
		if ok {
			correct++
		}
		if rt <= 0.8 {
			fast++
		}
	}

	pc := raceMass(p, true, 40)
	pe := raceMass(p, false, 40)
	assert.InDelta(t, pc/(pc+pe), float64(correct)/n, 0.015)

	early := raceMass(p, true, 0.8) + raceMass(p, false, 0.8)
	assert.InDelta(t, early/(pc+pe), float64(fast)/n, 0.015)
}

func TestTruthParams(t *testing.T) {
	tr := DefaultRaceConfig().Truth
	p := tr.Params("gaze/static", 0, 0, 0)
	assert.Equal(t, 0.30, p.T0)
	assert.InDelta(t, tr.A, p.A, 1e-12)
	assert.InDelta(t, tr.B, p.B, 1e-12)
	assert.InDelta(t, tr.VCorrect, p.VCorrect, 1e-12)

	harder := tr.Params("gaze/static", 1, 0, 0)
	assert.Less(t, harder.VCorrect, p.VCorrect)
	pressed := tr.Params("gaze/static", 0, 0.5, 0)
	assert.Less(t, pressed.B, p.B)
	assert.Equal(t, p.A, pressed.A)
}

func TestGenerateFeedsPreparation(t *testing.T) {
	cfg := DefaultRaceConfig()
	data, err := NewRaceGenerator(cfg).Generate()
	require.NoError(t, err)
	assert.Equal(t, Headers, data.Headers)
	require.Len(t, data.Rows, 4*2*2*60)

	for _, row := range data.Rows[:10] {
		rt, err := strconv.ParseFloat(row["rt_ms"], 64)
		require.NoError(t, err)
		assert.Greater(t, rt, 1000*cfg.Truth.T0[row["modality"]+"/"+row["ui_mode"]])
	}

	res, err := prep.Prepare(data, prep.DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"gaze", "hand"}, res.Dataset.Modalities.Labels())
	assert.Equal(t, 4, res.Dataset.NumParticipants())
	assert.GreaterOrEqual(t, res.Filtered.Kept, len(data.Rows)-10)
	assert.InDelta(t, 0, res.Dataset.Trials[0].Pressure, 1e-12)

	again, err := NewRaceGenerator(cfg).Generate()
	require.NoError(t, err)
	assert.Equal(t, data.Rows, again.Rows, "same seed, same table")
}

func TestGenerateRejectsIncompleteTruth(t *testing.T) {
	cfg := DefaultRaceConfig()
	delete(cfg.Truth.T0, "hand/static")
	_, err := NewRaceGenerator(cfg).Generate()
	assert.Error(t, err)
}
