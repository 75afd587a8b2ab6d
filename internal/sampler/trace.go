package sampler

import "fmt"

// Trace is the write-once posterior sample: named constrained values for
// every chain and post-warmup draw, plus the sampler scalars of each draw.
type Trace struct {
	Names  []string
	Values [][][]float64 // chain × draw × parameter
	Stats  [][]DrawStats // chain × draw

	// Final adapted state of each chain
	StepSizes  []float64
	InvMetrics [][]float64

	index map[string]int
}

// NewTrace allocates an empty trace for the given parameter names
func NewTrace(names []string, chains int) *Trace {
	t := &Trace{
		Names:      append([]string(nil), names...),
		Values:     make([][][]float64, chains),
		Stats:      make([][]DrawStats, chains),
		StepSizes:  make([]float64, chains),
		InvMetrics: make([][]float64, chains),
	}
	t.reindex()
	return t
}

func (t *Trace) reindex() {
	t.index = make(map[string]int, len(t.Names))
	for i, n := range t.Names {
		t.index[n] = i
	}
}

// NumChains returns the chain count
func (t *Trace) NumChains() int { return len(t.Values) }

// NumDraws returns the draws per chain (the shortest chain when ragged)
func (t *Trace) NumDraws() int {
	if len(t.Values) == 0 {
		return 0
	}
	n := len(t.Values[0])
	for _, c := range t.Values[1:] {
		n = min(n, len(c))
	}
	return n
}

// Index returns the column of a parameter name
func (t *Trace) Index(name string) (int, bool) {
	if t.index == nil {
		t.reindex()
	}
	i, ok := t.index[name]
	return i, ok
}

// Param returns one parameter as chain × draw
func (t *Trace) Param(name string) ([][]float64, error) {
	j, ok := t.Index(name)
	if !ok {
		return nil, fmt.Errorf("parameter %q not in trace", name)
	}
	out := make([][]float64, len(t.Values))
	for c, draws := range t.Values {
		out[c] = make([]float64, len(draws))
		for d, row := range draws {
			out[c][d] = row[j]
		}
	}
	return out, nil
}

// Pooled returns every draw of one parameter across chains
func (t *Trace) Pooled(name string) ([]float64, error) {
	byChain, err := t.Param(name)
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, c := range byChain {
		out = append(out, c...)
	}
	return out, nil
}

// Divergences counts divergent draws per chain
func (t *Trace) Divergences() []int {
	out := make([]int, len(t.Stats))
	for c, stats := range t.Stats {
		for _, s := range stats {
			if s.Divergent {
				out[c]++
			}
		}
	}
	return out
}

// TotalDraws is chains × draws as recorded
func (t *Trace) TotalDraws() int {
	n := 0
	for _, s := range t.Stats {
		n += len(s)
	}
	return n
}
