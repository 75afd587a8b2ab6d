package sampler

import (
	"math"
	"math/rand/v2"

	"racefit/ports"
)

// MaxDeltaH is the energy error past which a trajectory is divergent
const MaxDeltaH = 1000

// point is an immutable phase-space state. Every leapfrog step allocates a
// new one, so subtrees may share pointers freely.
type point struct {
	theta []float64
	r     []float64
	grad  []float64
	logp  float64
}

// DrawStats are the per-iteration sampler scalars
type DrawStats struct {
	Divergent  bool    `json:"divergent" db:"divergent"`
	TreeDepth  int     `json:"tree_depth" db:"tree_depth"`
	Accept     float64 `json:"accept" db:"accept"`
	StepSize   float64 `json:"step_size" db:"step_size"`
	Energy     float64 `json:"energy" db:"energy"`
	LogDensity float64 `json:"log_density" db:"log_density"`
	Leapfrogs  int     `json:"leapfrogs" db:"leapfrogs"`
}

// nuts is the No-U-Turn transition kernel (Hoffman & Gelman 2014,
// Algorithm 6) over a diagonal Euclidean metric.
type nuts struct {
	target    ports.Target
	rng       *rand.Rand
	invMetric []float64
	maxDepth  int
}

func newNUTS(target ports.Target, rng *rand.Rand, maxDepth int) *nuts {
	inv := make([]float64, target.Dim())
	for i := range inv {
		inv[i] = 1
	}
	return &nuts{target: target, rng: rng, invMetric: inv, maxDepth: maxDepth}
}

func (k *nuts) evaluate(theta []float64) *point {
	p := &point{theta: theta, grad: make([]float64, len(theta))}
	p.logp = k.target.LogDensityGrad(theta, p.grad)
	return p
}

func (k *nuts) kinetic(r []float64) float64 {
	e := 0.0
	for i, ri := range r {
		e += ri * ri * k.invMetric[i]
	}
	return 0.5 * e
}

// joint is log p(theta) - K(r); non-finite values collapse to -Inf
func (k *nuts) joint(p *point) float64 {
	h := p.logp - k.kinetic(p.r)
	if math.IsNaN(h) {
		return math.Inf(-1)
	}
	return h
}

func (k *nuts) leapfrog(from *point, eps float64) *point {
	n := len(from.theta)
	r := make([]float64, n)
	theta := make([]float64, n)
	for i := range r {
		r[i] = from.r[i] + 0.5*eps*from.grad[i]
		theta[i] = from.theta[i] + eps*k.invMetric[i]*r[i]
	}
	p := k.evaluate(theta)
	for i := range r {
		r[i] += 0.5 * eps * p.grad[i]
	}
	p.r = r
	return p
}

func (k *nuts) momentum() []float64 {
	r := make([]float64, len(k.invMetric))
	for i, inv := range k.invMetric {
		r[i] = k.rng.NormFloat64() / math.Sqrt(inv)
	}
	return r
}

// noUTurn checks the trajectory span against both end velocities
func (k *nuts) noUTurn(minus, plus *point) bool {
	var dm, dp float64
	for i := range minus.theta {
		d := plus.theta[i] - minus.theta[i]
		dm += d * k.invMetric[i] * minus.r[i]
		dp += d * k.invMetric[i] * plus.r[i]
	}
	return dm >= 0 && dp >= 0
}

type subtree struct {
	minus, plus *point
	proposal    *point
	n           int
	ok          bool
	alpha       float64
	nAlpha      int
	divergent   bool
}

func (k *nuts) buildTree(from *point, logU, dir float64, depth int, eps, h0 float64) *subtree {
	if depth == 0 {
		p := k.leapfrog(from, dir*eps)
		h := k.joint(p)
		t := &subtree{minus: p, plus: p, proposal: p, nAlpha: 1}
		if logU <= h {
			t.n = 1
		}
		t.ok = h > logU-MaxDeltaH
		t.divergent = !t.ok
		if a := math.Exp(h - h0); a < 1 {
			t.alpha = a
		} else {
			t.alpha = 1
		}
		return t
	}

	inner := k.buildTree(from, logU, dir, depth-1, eps, h0)
	if !inner.ok {
		return inner
	}
	var outer *subtree
	if dir < 0 {
		outer = k.buildTree(inner.minus, logU, dir, depth-1, eps, h0)
		inner.minus = outer.minus
	} else {
		outer = k.buildTree(inner.plus, logU, dir, depth-1, eps, h0)
		inner.plus = outer.plus
	}
	if outer.n > 0 && k.rng.Float64()*float64(inner.n+outer.n) < float64(outer.n) {
		inner.proposal = outer.proposal
	}
	inner.alpha += outer.alpha
	inner.nAlpha += outer.nAlpha
	inner.ok = outer.ok && k.noUTurn(inner.minus, inner.plus)
	inner.divergent = inner.divergent || outer.divergent
	inner.n += outer.n
	return inner
}

// transition draws the next state from current with step size eps
func (k *nuts) transition(current *point, eps float64) (*point, DrawStats) {
	start := &point{theta: current.theta, grad: current.grad, logp: current.logp, r: k.momentum()}
	h0 := k.joint(start)
	logU := h0 + math.Log(1-k.rng.Float64())

	minus, plus, next := start, start, current
	n := 1
	var alpha float64
	var nAlpha, depth int
	divergent := false

	for ok := true; ok && depth < k.maxDepth; depth++ {
		var t *subtree
		if k.rng.IntN(2) == 0 {
			t = k.buildTree(minus, logU, -1, depth, eps, h0)
			minus = t.minus
		} else {
			t = k.buildTree(plus, logU, 1, depth, eps, h0)
			plus = t.plus
		}
		if t.ok && t.n > 0 && k.rng.Float64()*float64(n) < float64(t.n) {
			next = t.proposal
		}
		n += t.n
		alpha += t.alpha
		nAlpha += t.nAlpha
		divergent = divergent || t.divergent
		ok = t.ok && k.noUTurn(minus, plus)
	}

	return next, DrawStats{
		Divergent:  divergent,
		TreeDepth:  depth,
		Accept:     alpha / float64(max(nAlpha, 1)),
		StepSize:   eps,
		Energy:     -h0,
		LogDensity: next.logp,
		Leapfrogs:  nAlpha,
	}
}

// initialStepSize doubles or halves eps until one leapfrog step crosses an
// acceptance ratio of one half (Hoffman & Gelman 2014, Algorithm 4).
func (k *nuts) initialStepSize(current *point, eps float64) float64 {
	start := &point{theta: current.theta, grad: current.grad, logp: current.logp, r: k.momentum()}
	h0 := k.joint(start)

	logRatio := func(e float64) float64 {
		d := k.joint(k.leapfrog(start, e)) - h0
		if math.IsNaN(d) {
			return math.Inf(-1)
		}
		return d
	}

	dir := 1.0
	if logRatio(eps) < -math.Ln2 {
		dir = -1
	}
	for i := 0; i < 100; i++ {
		lr := logRatio(eps)
		if dir > 0 && !(lr > -math.Ln2) {
			break
		}
		if dir < 0 && lr > -math.Ln2 {
			break
		}
		next := eps * math.Pow(2, dir)
		if next < 1e-10 || next > 1e7 {
			break
		}
		eps = next
	}
	return eps
}
