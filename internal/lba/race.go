package lba

// Params is the full per-trial parameter vector of the two-accumulator race.
// B = A + gap, and S is shared by both accumulators.
type Params struct {
	T0       float64
	A        float64
	B        float64
	VCorrect float64
	VError   float64
	S        float64
}

// Sensitivity is d(log-likelihood)/d(parameter) for one trial
type Sensitivity struct {
	T0       float64
	A        float64
	B        float64
	VCorrect float64
	VError   float64
}

// RaceLogLik returns the log-likelihood of one observed (rt, outcome) pair.
// Both branches are always evaluated and the outcome selects between them.
func RaceLogLik(rt float64, correct bool, p Params) float64 {
	ll, _ := raceTrial(rt, indicator(correct), p)
	return ll
}

// RaceLogLikGrad is RaceLogLik plus its parameter sensitivities
func RaceLogLikGrad(rt float64, correct bool, p Params) (float64, Sensitivity) {
	return raceTrial(rt, indicator(correct), p)
}

func indicator(correct bool) float64 {
	if correct {
		return 1
	}
	return 0
}

func raceTrial(rt, y float64, p Params) (float64, Sensitivity) {
	t := rt - p.T0
	c := Accumulator{A: p.A, B: p.B, V: p.VCorrect, S: p.S}.Evaluate(t)
	e := Accumulator{A: p.A, B: p.B, V: p.VError, S: p.S}.Evaluate(t)

	logPc := c.LogPDF() + e.LogSurvival()
	logPe := e.LogPDF() + c.LogSurvival()
	ll := y*logPc + (1-y)*logPe

	// d log f = df/f and d log(1-F) = -dF/(1-F); floored values carry zero partials.
	invC, invE := 1/c.PDF, 1/e.PDF
	hazC, hazE := 1/(1-c.CDF), 1/(1-e.CDF)
	shared := func(dfC, dFC, dfE, dFE float64) float64 {
		return y*(dfC*invC-dFE*hazE) + (1-y)*(dfE*invE-dFC*hazC)
	}

	return ll, Sensitivity{
		T0:       -shared(c.DPDF.T, c.DCDF.T, e.DPDF.T, e.DCDF.T),
		A:        shared(c.DPDF.A, c.DCDF.A, e.DPDF.A, e.DCDF.A),
		B:        shared(c.DPDF.B, c.DCDF.B, e.DPDF.B, e.DCDF.B),
		VCorrect: y*c.DPDF.V*invC - (1-y)*c.DCDF.V*hazC,
		VError:   (1-y)*e.DPDF.V*invE - y*e.DCDF.V*hazE,
	}
}

// Batch is a column-oriented trial set evaluated in one pass
type Batch struct {
	RT      []float64
	Correct []float64 // 1 for correct, 0 for error
}

// NewBatch copies observations into column form
func NewBatch(rt []float64, correct []bool) *Batch {
	b := &Batch{RT: append([]float64(nil), rt...), Correct: make([]float64, len(correct))}
	for i, ok := range correct {
		b.Correct[i] = indicator(ok)
	}
	return b
}

// Len returns the number of trials
func (b *Batch) Len() int { return len(b.RT) }

// Columns holds per-trial parameter columns aligned with a Batch
type Columns struct {
	T0       []float64
	A        []float64
	B        []float64
	VCorrect []float64
	VError   []float64
	S        float64
}

// NewColumns allocates parameter columns for n trials
func NewColumns(n int) *Columns {
	return &Columns{
		T0:       make([]float64, n),
		A:        make([]float64, n),
		B:        make([]float64, n),
		VCorrect: make([]float64, n),
		VError:   make([]float64, n),
		S:        1,
	}
}

// LogLik sums the race log-likelihood over the batch. When sens is non-nil
// it receives each trial's sensitivities and must be sized like the batch.
func (b *Batch) LogLik(p *Columns, sens *Columns) float64 {
	total := 0.0
	for i, rt := range b.RT {
		tp := Params{T0: p.T0[i], A: p.A[i], B: p.B[i], VCorrect: p.VCorrect[i], VError: p.VError[i], S: p.S}
		ll, g := raceTrial(rt, b.Correct[i], tp)
		total += ll
		if sens != nil {
			sens.T0[i] = g.T0
			sens.A[i] = g.A
			sens.B[i] = g.B
			sens.VCorrect[i] = g.VCorrect
			sens.VError[i] = g.VError
		}
	}
	return total
}
