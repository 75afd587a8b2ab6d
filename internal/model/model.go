// Package model builds the hierarchical, non-centered LBA race posterior over
// participants and condition cells and evaluates its log density with an
// analytic gradient.
package model

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"racefit/domain/core"
	"racefit/domain/dataset"
	apperrors "racefit/internal/errors"
	"racefit/internal/lba"
	"racefit/ports"
)

// Parameterization selects how participant effects are sampled
type Parameterization int

const (
	// NonCentered samples standardized offsets z and scales them by sigma
	NonCentered Parameterization = iota
	// Centered samples effects u ~ N(0, sigma) directly
	Centered
)

func (p Parameterization) String() string {
	if p == Centered {
		return "centered"
	}
	return "non_centered"
}

// ParseParameterization accepts "non_centered" (or "") and "centered"
func ParseParameterization(s string) (Parameterization, error) {
	switch s {
	case "", "non_centered", "noncentered":
		return NonCentered, nil
	case "centered":
		return Centered, nil
	}
	return NonCentered, core.NewValidationError("parameterization", fmt.Sprintf("unknown value %q", s))
}

// Options configures Build
type Options struct {
	Parameterization Parameterization
}

// Model is the compiled posterior. It is immutable after Build and safe for
// concurrent evaluation from several chains.
type Model struct {
	layout *Layout
	priors Priors
	param  Parameterization

	batch       *lba.Batch
	cell        []int
	participant []int
	difficulty  []float64
	pressure    []float64

	minRT    []float64 // fastest kept RT per cell
	cellKeys []string
	nP, nC   int

	constrainedNames []string
	work             sync.Pool
}

var _ ports.Posterior = (*Model)(nil)

type workspace struct {
	cols, sens *lba.Columns

	// slopes of each trial's transforms
	dT0, sigA, sigGap, sigVC []float64

	offT0, offA, offGap, offVC []float64
	gT0, gA, gGap, gVC         []float64
}

// Build compiles ds into a posterior
func Build(ds *dataset.Dataset, priors Priors, opts Options) (*Model, error) {
	if ds == nil || len(ds.Trials) == 0 {
		return nil, apperrors.NoValidTrials("dataset has no trials")
	}
	if err := priors.Validate(); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid, err)
	}

	nP, nC := ds.NumParticipants(), ds.NumCells()
	cellKeys := make([]string, nC)
	minRT := make([]float64, nC)
	for i, c := range ds.Cells {
		cellKeys[i] = c.Key()
		if !(c.MinRT > 0) {
			return nil, apperrors.WithCode(apperrors.CodeInvalidInput,
				fmt.Errorf("%w: cell %s has non-positive minimum RT %v", core.ErrBadParameters, c.Key(), c.MinRT))
		}
		minRT[i] = c.MinRT
	}

	effect := "z"
	if opts.Parameterization == Centered {
		effect = "u"
	}

	n := len(ds.Trials)
	m := &Model{
		layout:      NewLayout(ds.Participants.Labels(), cellKeys, effect),
		priors:      priors,
		param:       opts.Parameterization,
		cell:        make([]int, n),
		participant: make([]int, n),
		difficulty:  make([]float64, n),
		pressure:    make([]float64, n),
		minRT:       minRT,
		cellKeys:    cellKeys,
		nP:          nP,
		nC:          nC,
	}

	rts := make([]float64, n)
	correct := make([]bool, n)
	for i, t := range ds.Trials {
		if t.RT <= ds.Cells[t.Cell].MinRT*T0Fraction {
			return nil, apperrors.WithCode(apperrors.CodeInvalidInput,
				fmt.Errorf("%w: trial %d RT %v below its cell bound", core.ErrBadParameters, i, t.RT))
		}
		rts[i] = t.RT
		correct[i] = t.Correct
		m.cell[i] = t.Cell
		m.participant[i] = t.Participant
		m.difficulty[i] = t.Difficulty
		m.pressure[i] = t.Pressure
	}
	m.batch = lba.NewBatch(rts, correct)

	m.work.New = func() any {
		return &workspace{
			cols:   lba.NewColumns(n),
			sens:   lba.NewColumns(n),
			dT0:    make([]float64, n),
			sigA:   make([]float64, n),
			sigGap: make([]float64, n),
			sigVC:  make([]float64, n),
			offT0:  make([]float64, nP*nC),
			offA:   make([]float64, nP),
			offGap: make([]float64, nP),
			offVC:  make([]float64, nP),
			gT0:    make([]float64, nP*nC),
			gA:     make([]float64, nP),
			gGap:   make([]float64, nP),
			gVC:    make([]float64, nP),
		}
	}

	m.constrained(make([]float64, m.layout.Dim()), func(name string, _ float64) {
		m.constrainedNames = append(m.constrainedNames, name)
	})
	return m, nil
}

// Dim is the dimension of the unconstrained position
func (m *Model) Dim() int { return m.layout.Dim() }

// Layout exposes the parameter arena
func (m *Model) Layout() *Layout { return m.layout }

// Names labels each unconstrained coordinate
func (m *Model) Names() []string { return m.layout.Names() }

// Parameterization reports how participant effects are sampled
func (m *Model) Parameterization() Parameterization { return m.param }

// CellKeys returns the "modality/ui_mode" name of each cell in index order
func (m *Model) CellKeys() []string { return append([]string(nil), m.cellKeys...) }

// NumTrials returns the size of the likelihood batch
func (m *Model) NumTrials() int { return m.batch.Len() }

// LogDensity evaluates the log posterior without its gradient
func (m *Model) LogDensity(theta []float64) float64 {
	return m.LogDensityGrad(theta, nil)
}

// LogDensityGrad returns the log posterior at theta and, if grad is non-nil,
// writes its gradient.
func (m *Model) LogDensityGrad(theta, grad []float64) float64 {
	if grad != nil {
		clear(grad)
	}
	w := m.work.Get().(*workspace)
	defer m.work.Put(w)

	l := m.layout
	pr := m.priors

	lp := m.normalBlock(theta, grad, l.MuT0, pr.MuT0)
	lp += m.normalBlock(theta, grad, l.MuA, pr.MuA)
	lp += m.normalBlock(theta, grad, l.MuGap, pr.MuGap)
	lp += m.normalBlock(theta, grad, l.BetaPressure, pr.BetaPressure)
	lp += m.normalBlock(theta, grad, l.MuVC, pr.MuVC)
	lp += m.normalBlock(theta, grad, l.BetaDifficulty, pr.BetaDifficulty)
	lp += m.normalBlock(theta, grad, l.MuVE, pr.MuVE)

	lp += m.effects(theta, grad, l.ZT0, l.LogSigmaT0, w.offT0)
	lp += m.effects(theta, grad, l.ZA, l.LogSigmaA, w.offA)
	lp += m.effects(theta, grad, l.ZGap, l.LogSigmaGap, w.offGap)
	lp += m.effects(theta, grad, l.ZVC, l.LogSigmaVC, w.offVC)

	muA := theta[l.MuA.Offset]
	muGap := theta[l.MuGap.Offset]
	betaP := theta[l.BetaPressure.Offset]
	muVC := theta[l.MuVC.Offset]
	betaD := theta[l.BetaDifficulty.Offset]
	ve := Softplus(theta[l.MuVE.Offset])

	cols := w.cols
	for i := range m.cell {
		p, c := m.participant[i], m.cell[i]

		cols.T0[i], w.dT0[i] = BoundedT0(theta[l.MuT0.At(c)]+w.offT0[p*m.nC+c], m.minRT[c])

		etaA := muA + w.offA[p]
		cols.A[i] = Softplus(etaA)
		w.sigA[i] = Sigmoid(etaA)

		etaGap := muGap + betaP*m.pressure[i] + w.offGap[p]
		cols.B[i] = cols.A[i] + Softplus(etaGap)
		w.sigGap[i] = Sigmoid(etaGap)

		etaVC := muVC + betaD*m.difficulty[i] + w.offVC[p]
		cols.VCorrect[i] = Softplus(etaVC)
		w.sigVC[i] = Sigmoid(etaVC)

		cols.VError[i] = ve
	}

	if grad == nil {
		return lp + m.batch.LogLik(cols, nil)
	}
	ll := m.batch.LogLik(cols, w.sens)

	clear(w.gT0)
	clear(w.gA)
	clear(w.gGap)
	clear(w.gVC)

	sens := w.sens
	var gVE float64
	for i := range m.cell {
		p, c := m.participant[i], m.cell[i]

		gT0 := sens.T0[i] * w.dT0[i]
		grad[l.MuT0.At(c)] += gT0
		w.gT0[p*m.nC+c] += gT0

		// b = A + gap, so the threshold sensitivity flows into both.
		gA := (sens.A[i] + sens.B[i]) * w.sigA[i]
		grad[l.MuA.Offset] += gA
		w.gA[p] += gA

		gGap := sens.B[i] * w.sigGap[i]
		grad[l.MuGap.Offset] += gGap
		grad[l.BetaPressure.Offset] += gGap * m.pressure[i]
		w.gGap[p] += gGap

		gVC := sens.VCorrect[i] * w.sigVC[i]
		grad[l.MuVC.Offset] += gVC
		grad[l.BetaDifficulty.Offset] += gVC * m.difficulty[i]
		w.gVC[p] += gVC

		gVE += sens.VError[i]
	}
	grad[l.MuVE.Offset] += gVE * Sigmoid(theta[l.MuVE.Offset])

	m.effectsGrad(theta, grad, l.ZT0, l.LogSigmaT0, w.gT0)
	m.effectsGrad(theta, grad, l.ZA, l.LogSigmaA, w.gA)
	m.effectsGrad(theta, grad, l.ZGap, l.LogSigmaGap, w.gGap)
	m.effectsGrad(theta, grad, l.ZVC, l.LogSigmaVC, w.gVC)

	return lp + ll
}

func (m *Model) normalBlock(theta, grad []float64, b Block, prior Normal) float64 {
	lp := 0.0
	for i := 0; i < b.Size; i++ {
		v, d := prior.logProb(theta[b.At(i)])
		lp += v
		if grad != nil {
			grad[b.At(i)] += d
		}
	}
	return lp
}

// effects adds the scale prior and the participant-effect prior, and fills
// off with each effect's additive contribution.
func (m *Model) effects(theta, grad []float64, eff, logSigma Block, off []float64) float64 {
	x := theta[logSigma.Offset]
	lp, d := logHalfNormalOnLog(x, m.priors.SigmaScale)
	if grad != nil {
		grad[logSigma.Offset] += d
	}
	sigma := math.Exp(x)

	for i := 0; i < eff.Size; i++ {
		z := theta[eff.At(i)]
		switch m.param {
		case Centered:
			r := z / sigma
			lp += -0.5*r*r - x - logSqrt2Pi
			off[i] = z
			if grad != nil {
				grad[eff.At(i)] -= r / sigma
				grad[logSigma.Offset] += r*r - 1
			}
		default:
			lp += -0.5*z*z - logSqrt2Pi
			off[i] = sigma * z
			if grad != nil {
				grad[eff.At(i)] -= z
			}
		}
	}
	return lp
}

// effectsGrad pushes likelihood sensitivities of the additive offsets back to
// the sampled coordinates.
func (m *Model) effectsGrad(theta, grad []float64, eff, logSigma Block, g []float64) {
	if m.param == Centered {
		for i, gi := range g {
			grad[eff.At(i)] += gi
		}
		return
	}
	sigma := math.Exp(theta[logSigma.Offset])
	for i, gi := range g {
		z := theta[eff.At(i)]
		grad[eff.At(i)] += gi * sigma
		grad[logSigma.Offset] += gi * sigma * z
	}
}

// ConstrainedNames labels the output of Constrain
func (m *Model) ConstrainedNames() []string {
	return append([]string(nil), m.constrainedNames...)
}

// Constrain reports population locations, scales, per-cell t0, the
// population accumulator parameters and every participant effect.
func (m *Model) Constrain(theta []float64) []float64 {
	out := make([]float64, 0, len(m.constrainedNames))
	m.constrained(theta, func(_ string, v float64) {
		out = append(out, v)
	})
	return out
}

func (m *Model) constrained(theta []float64, emit func(string, float64)) {
	l := m.layout
	at := func(b Block) float64 { return theta[b.Offset] }

	for c, key := range m.cellKeys {
		emit(fmt.Sprintf("mu_t0[%s]", key), theta[l.MuT0.At(c)])
	}
	emit("sigma_t0", math.Exp(at(l.LogSigmaT0)))
	emit("mu_A", at(l.MuA))
	emit("sigma_A", math.Exp(at(l.LogSigmaA)))
	emit("mu_gap", at(l.MuGap))
	emit("beta_pressure", at(l.BetaPressure))
	emit("sigma_gap", math.Exp(at(l.LogSigmaGap)))
	emit("mu_vc", at(l.MuVC))
	emit("beta_difficulty", at(l.BetaDifficulty))
	emit("sigma_vc", math.Exp(at(l.LogSigmaVC)))
	emit("mu_ve", at(l.MuVE))

	for c, key := range m.cellKeys {
		t0, _ := BoundedT0(theta[l.MuT0.At(c)], m.minRT[c])
		emit(fmt.Sprintf("t0[%s]", key), t0)
	}
	a := Softplus(at(l.MuA))
	emit("A", a)
	emit("b", a+Softplus(at(l.MuGap)))
	emit("v_correct", Softplus(at(l.MuVC)))
	emit("v_error", Softplus(at(l.MuVE)))

	names := l.Names()
	for _, b := range []Block{l.ZT0, l.ZA, l.ZGap, l.ZVC} {
		for i := 0; i < b.Size; i++ {
			emit(names[b.At(i)], theta[b.At(i)])
		}
	}
}

// InitialPoint draws locations uniformly within ±1 of the prior means and
// standardized effects within ±1.
func (m *Model) InitialPoint(rng *rand.Rand) []float64 {
	l := m.layout
	pr := m.priors
	theta := make([]float64, l.Dim())
	jitter := func() float64 { return 2*rng.Float64() - 1 }

	fill := func(b Block, loc float64) {
		for i := 0; i < b.Size; i++ {
			theta[b.At(i)] = loc + jitter()
		}
	}
	fill(l.MuT0, pr.MuT0.Mu)
	fill(l.MuA, pr.MuA.Mu)
	fill(l.MuGap, pr.MuGap.Mu)
	fill(l.BetaPressure, pr.BetaPressure.Mu)
	fill(l.MuVC, pr.MuVC.Mu)
	fill(l.BetaDifficulty, pr.BetaDifficulty.Mu)
	fill(l.MuVE, pr.MuVE.Mu)

	logScale := math.Log(0.5 * pr.SigmaScale)
	for _, pair := range [][2]Block{{l.ZT0, l.LogSigmaT0}, {l.ZA, l.LogSigmaA}, {l.ZGap, l.LogSigmaGap}, {l.ZVC, l.LogSigmaVC}} {
		eff, ls := pair[0], pair[1]
		theta[ls.Offset] = logScale + jitter()
		scale := 1.0
		if m.param == Centered {
			scale = math.Exp(theta[ls.Offset])
		}
		for i := 0; i < eff.Size; i++ {
			theta[eff.At(i)] = scale * jitter()
		}
	}
	return theta
}

// TrialParams returns the race parameters of trial i at theta
func (m *Model) TrialParams(theta []float64, i int) lba.Params {
	w := m.work.Get().(*workspace)
	defer m.work.Put(w)
	l := m.layout

	m.effects(theta, nil, l.ZT0, l.LogSigmaT0, w.offT0)
	m.effects(theta, nil, l.ZA, l.LogSigmaA, w.offA)
	m.effects(theta, nil, l.ZGap, l.LogSigmaGap, w.offGap)
	m.effects(theta, nil, l.ZVC, l.LogSigmaVC, w.offVC)

	p, c := m.participant[i], m.cell[i]
	a := Softplus(theta[l.MuA.Offset] + w.offA[p])
	gap := Softplus(theta[l.MuGap.Offset] + theta[l.BetaPressure.Offset]*m.pressure[i] + w.offGap[p])
	t0, _ := BoundedT0(theta[l.MuT0.At(c)]+w.offT0[p*m.nC+c], m.minRT[c])
	return lba.Params{
		T0:       t0,
		A:        a,
		B:        a + gap,
		VCorrect: Softplus(theta[l.MuVC.Offset] + theta[l.BetaDifficulty.Offset]*m.difficulty[i] + w.offVC[p]),
		VError:   Softplus(theta[l.MuVE.Offset]),
		S:        1,
	}
}

// TrialRT returns the observed reaction time of trial i
func (m *Model) TrialRT(i int) float64 { return m.batch.RT[i] }
