package profiling

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileSymmetric(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	data := make([]float64, 5000)
	for i := range data {
		data[i] = 0.5 + 0.1*rng.NormFloat64()
	}
	s, err := Profile(data)
	require.NoError(t, err)
	assert.InDelta(t, 0, s.Skewness, 0.1)
	assert.InDelta(t, 3, s.Kurtosis, 0.25)
	assert.InDelta(t, 0.5-0.0674, s.Q25, 0.01)
	assert.Less(t, s.SlowTail, 0.01)
}

func TestProfileRightSkewed(t *testing.T) {
	// Ex-Gaussian RTs have the long slow tail of real response times.
	rng := rand.New(rand.NewPCG(2, 2))
	data := make([]float64, 5000)
	for i := range data {
		data[i] = 0.4 + 0.05*rng.NormFloat64() + 0.3*rng.ExpFloat64()
	}
	s, err := Profile(data)
	require.NoError(t, err)
	assert.Greater(t, s.Skewness, 1.0)
	assert.Greater(t, s.Kurtosis, 3.0)
	assert.Greater(t, s.SlowTail, 0.02)
	assert.GreaterOrEqual(t, s.Outliers, int(math.Round(s.SlowTail*5000)))
}

func TestProfileSmallSamples(t *testing.T) {
	_, err := Profile(nil)
	assert.Error(t, err)

	s, err := Profile([]float64{0.4, 0.4})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Skewness)
	assert.Equal(t, 0, s.Outliers)
}

func TestFitExGaussianRecoversComponents(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	data := make([]float64, 20000)
	for i := range data {
		data[i] = 0.4 + 0.05*rng.NormFloat64() + 0.2*rng.ExpFloat64()
	}
	eg, err := FitExGaussian(data)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, eg.Mu, 0.02)
	assert.InDelta(t, 0.05, eg.Sigma, 0.03)
	assert.InDelta(t, 0.2, eg.Tau, 0.02)

	s, err := Profile(data)
	require.NoError(t, err)
	assert.Equal(t, eg, s.ExGaussian)
}

func TestFitExGaussianSymmetric(t *testing.T) {
	eg, err := FitExGaussian([]float64{3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, 0.0, eg.Tau)
	assert.InDelta(t, 4, eg.Mu, 1e-12)
	assert.InDelta(t, math.Sqrt(2.0/3), eg.Sigma, 1e-12)

	_, err = FitExGaussian(nil)
	assert.Error(t, err)
}
