package sampler

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Dual-averaging constants (Hoffman & Gelman 2014, section 3.2)
const (
	daGamma = 0.05
	daT0    = 10
	daKappa = 0.75
)

// Windowed adaptation layout, as Stan schedules it
const (
	initBuffer = 75
	termBuffer = 50
	baseWindow = 25
)

// dualAverage tunes log step size toward a target mean acceptance
type dualAverage struct {
	target  float64
	mu      float64
	hBar    float64
	logEps  float64
	logEBar float64
	m       int
}

func newDualAverage(target, eps float64) *dualAverage {
	da := &dualAverage{target: target}
	da.restart(eps)
	return da
}

func (da *dualAverage) restart(eps float64) {
	da.mu = math.Log(10 * eps)
	da.hBar = 0
	da.logEps = math.Log(eps)
	da.logEBar = 0
	da.m = 0
}

// update folds in one acceptance statistic and returns the next step size
func (da *dualAverage) update(accept float64) float64 {
	if math.IsNaN(accept) {
		accept = 0
	}
	da.m++
	m := float64(da.m)
	w := 1 / (m + daT0)
	da.hBar = (1-w)*da.hBar + w*(da.target-accept)
	da.logEps = da.mu - math.Sqrt(m)/daGamma*da.hBar
	mk := math.Pow(m, -daKappa)
	da.logEBar = mk*da.logEps + (1-mk)*da.logEBar
	return math.Exp(da.logEps)
}

// final is the averaged step size used after warmup
func (da *dualAverage) final() float64 {
	if da.m == 0 {
		return math.Exp(da.logEps)
	}
	return math.Exp(da.logEBar)
}

// windowSchedule returns the warmup iterations (exclusive ends) at which the
// metric is re-estimated, and the first iteration that collects samples.
func windowSchedule(warmup int) (start int, ends []int) {
	if warmup < 20 {
		return warmup, nil
	}
	ib, tb, bw := initBuffer, termBuffer, baseWindow
	if ib+tb+bw > warmup {
		ib = warmup * 15 / 100
		tb = warmup * 10 / 100
		bw = warmup - ib - tb
	}
	slowEnd := warmup - tb
	for s, size := ib, bw; s < slowEnd; size *= 2 {
		end := s + size
		if end+2*size > slowEnd {
			end = slowEnd
		}
		ends = append(ends, end)
		s = end
	}
	return ib, ends
}

// varianceWindow collects positions and estimates a regularized diagonal
// inverse metric from them
type varianceWindow struct {
	cols [][]float64
}

func newVarianceWindow(dim int) *varianceWindow {
	return &varianceWindow{cols: make([][]float64, dim)}
}

func (vw *varianceWindow) add(theta []float64) {
	for i, x := range theta {
		vw.cols[i] = append(vw.cols[i], x)
	}
}

// estimate shrinks the sample variance toward 1e-3 (Stan's regularization)
// and resets the window.
func (vw *varianceWindow) estimate(invMetric []float64) {
	for i, col := range vw.cols {
		n := float64(len(col))
		if n < 2 {
			continue
		}
		_, v := stat.MeanVariance(col, nil)
		invMetric[i] = (n/(n+5))*v + 1e-3*(5/(n+5))
		vw.cols[i] = col[:0]
	}
}
