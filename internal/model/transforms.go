package model

import "math"

// T0Fraction bounds non-decision time below the cell's fastest response
const T0Fraction = 0.95

// Sigmoid is the logistic function
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Softplus is log(1 + e^x), stable for large |x|. Its derivative is Sigmoid.
func Softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

// InvSoftplus maps a positive value back to the softplus domain
func InvSoftplus(y float64) float64 {
	if y > 30 {
		return y
	}
	return math.Log(math.Expm1(y))
}

// BoundedT0 maps an unconstrained value into (0, T0Fraction·minRT) and
// returns the slope of the map at x.
func BoundedT0(x, minRT float64) (t0, slope float64) {
	s := Sigmoid(x)
	scale := T0Fraction * minRT
	return scale * s, scale * s * (1 - s)
}
