// Package profiling describes the shape of reaction-time distributions.
package profiling

import (
	"math"

	"github.com/montanaflynn/stats"
)

// Shape summarizes the skew and tails of one RT sample (seconds)
type Shape struct {
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"` // total, not excess
	Q25      float64 `json:"q25"`
	Q75      float64 `json:"q75"`
	Outliers int     `json:"outliers"` // beyond 1.5 IQR
	SlowTail float64 `json:"slow_tail"` // fraction above Q75 + 1.5 IQR

	ExGaussian ExGaussian `json:"ex_gaussian"`
}

// ExGaussian is RT ~ N(Mu, Sigma) + Exp(Tau), fitted by moments
type ExGaussian struct {
	Mu    float64 `json:"mu"`
	Sigma float64 `json:"sigma"`
	Tau   float64 `json:"tau"`
}

// FitExGaussian matches the mean, variance and skewness of data:
// mean = Mu + Tau, var = Sigma² + Tau², skew = 2Tau³/(Sigma²+Tau²)^(3/2).
// Non-positive skew gives Tau = 0; skew beyond 2 caps Tau at the sd.
func FitExGaussian(data []float64) (ExGaussian, error) {
	mean, err := stats.Mean(data)
	if err != nil {
		return ExGaussian{}, err
	}
	sd, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return ExGaussian{}, err
	}
	return exGaussianMoments(mean, sd, populationSkew(data, mean, sd)), nil
}

func exGaussianMoments(mean, sd, skew float64) ExGaussian {
	tau := 0.0
	if skew > 0 {
		tau = sd * math.Cbrt(math.Min(skew, 2)/2)
	}
	return ExGaussian{
		Mu:    mean - tau,
		Sigma: math.Sqrt(math.Max(0, sd*sd-tau*tau)),
		Tau:   tau,
	}
}

func populationSkew(data []float64, mean, sd float64) float64 {
	if sd == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range data {
		d := (x - mean) / sd
		sum += d * d * d
	}
	return sum / float64(len(data))
}

// Profile computes the shape of data. Samples too small for a moment
// report zero for it.
func Profile(data []float64) (Shape, error) {
	var s Shape
	mean, err := stats.Mean(data)
	if err != nil {
		return s, err
	}
	sd, err := stats.StandardDeviation(data)
	if err != nil {
		return s, err
	}
	if s.Q25, err = stats.Percentile(data, 25); err != nil {
		s.Q25, _ = stats.Min(data)
	}
	if s.Q75, err = stats.Percentile(data, 75); err != nil {
		s.Q75, _ = stats.Max(data)
	}
	if sd > 0 {
		s.Skewness = skewness(data, mean, sd)
		s.Kurtosis = kurtosis(data, mean, sd)
	}

	iqr := s.Q75 - s.Q25
	lo, hi := s.Q25-1.5*iqr, s.Q75+1.5*iqr
	slow := 0
	for _, x := range data {
		if x < lo || x > hi {
			s.Outliers++
		}
		if x > hi {
			slow++
		}
	}
	s.SlowTail = float64(slow) / float64(len(data))

	if s.ExGaussian, err = FitExGaussian(data); err != nil {
		return s, err
	}
	return s, nil
}

// skewness is the adjusted Fisher-Pearson coefficient
func skewness(data []float64, mean, sd float64) float64 {
	if len(data) < 3 {
		return 0
	}
	n := float64(len(data))
	sum := 0.0
	for _, x := range data {
		d := (x - mean) / sd
		sum += d * d * d
	}
	return sum / n * math.Sqrt(n*(n-1)) / (n - 2)
}

// kurtosis is the bias-corrected sample kurtosis
func kurtosis(data []float64, mean, sd float64) float64 {
	if len(data) < 4 {
		return 0
	}
	n := float64(len(data))
	sum := 0.0
	for _, x := range data {
		d := (x - mean) / sd
		sum += d * d * d * d
	}
	excess := sum/n - 3
	excess = excess*(n-1)/((n-2)*(n-3)) + 6/(n+1)
	return excess + 3
}
