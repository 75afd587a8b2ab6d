package model

import (
	"fmt"
	"math"

	"racefit/domain/core"
)

// Normal is a location/scale prior
type Normal struct {
	Mu    float64 `yaml:"mu" json:"mu"`
	Sigma float64 `yaml:"sigma" json:"sigma" validate:"gt=0"`
}

// logProb returns the log density and its derivative in x
func (n Normal) logProb(x float64) (float64, float64) {
	d := (x - n.Mu) / n.Sigma
	return -0.5*d*d - math.Log(n.Sigma) - logSqrt2Pi, -d / n.Sigma
}

// Priors holds the weakly informative priors of the hierarchy. Locations
// are on the unconstrained (logit or softplus-inverse) scale.
type Priors struct {
	MuT0           Normal  `yaml:"mu_t0" json:"mu_t0"`
	MuA            Normal  `yaml:"mu_A" json:"mu_A"`
	MuGap          Normal  `yaml:"mu_gap" json:"mu_gap"`
	BetaPressure   Normal  `yaml:"beta_pressure" json:"beta_pressure"`
	MuVC           Normal  `yaml:"mu_vc" json:"mu_vc"`
	BetaDifficulty Normal  `yaml:"beta_difficulty" json:"beta_difficulty"`
	MuVE           Normal  `yaml:"mu_ve" json:"mu_ve"`
	SigmaScale     float64 `yaml:"sigma_scale" json:"sigma_scale" validate:"gt=0"` // HalfNormal scale of every sigma
}

// DefaultPriors returns the study priors
func DefaultPriors() Priors {
	return Priors{
		MuT0:           Normal{Mu: 0, Sigma: 1.5},
		MuA:            Normal{Mu: 0, Sigma: 1},
		MuGap:          Normal{Mu: 0, Sigma: 1},
		BetaPressure:   Normal{Mu: 0, Sigma: 0.5},
		MuVC:           Normal{Mu: 1.5, Sigma: 1},
		BetaDifficulty: Normal{Mu: 0, Sigma: 0.5},
		MuVE:           Normal{Mu: 0, Sigma: 1},
		SigmaScale:     0.5,
	}
}

// Validate rejects non-positive scales
func (p Priors) Validate() error {
	named := []struct {
		name string
		n    Normal
	}{
		{"mu_t0", p.MuT0}, {"mu_A", p.MuA}, {"mu_gap", p.MuGap}, {"beta_pressure", p.BetaPressure},
		{"mu_vc", p.MuVC}, {"beta_difficulty", p.BetaDifficulty}, {"mu_ve", p.MuVE},
	}
	for _, e := range named {
		if !(e.n.Sigma > 0) {
			return core.NewValidationError(e.name, fmt.Sprintf("prior scale must be positive, got %v", e.n.Sigma))
		}
	}
	if !(p.SigmaScale > 0) {
		return core.NewValidationError("sigma_scale", fmt.Sprintf("must be positive, got %v", p.SigmaScale))
	}
	return nil
}

// logHalfNormalOnLog is the HalfNormal(scale) density of sigma = exp(x),
// including the log-Jacobian x, with its derivative in x.
func logHalfNormalOnLog(x, scale float64) (float64, float64) {
	sigma := math.Exp(x)
	r := sigma / scale
	lp := math.Ln2 - 0.5*r*r - math.Log(scale) - logSqrt2Pi + x
	return lp, 1 - r*r
}

var logSqrt2Pi = 0.5 * math.Log(2*math.Pi)
