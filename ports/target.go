package ports

import "math/rand/v2"

// Target is a differentiable log density over an unconstrained vector
type Target interface {
	Dim() int

	// LogDensityGrad returns log p(theta) up to a constant and, when grad is
	// non-nil, overwrites grad with its gradient. Non-finite results mark
	// the position as outside the typical set.
	LogDensityGrad(theta, grad []float64) float64
}

// Posterior is a Target the sampler can initialize and report on
type Posterior interface {
	Target

	// InitialPoint draws a starting position from rng
	InitialPoint(rng *rand.Rand) []float64

	// ConstrainedNames labels the values returned by Constrain
	ConstrainedNames() []string

	// Constrain maps a position to its named, constrained values
	Constrain(theta []float64) []float64
}
