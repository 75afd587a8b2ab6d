package export

import "racefit/internal/sampler"

var traceStatHeaders = []string{
	"chain", "draw", "divergent", "tree_depth", "accept", "step_size", "energy", "log_density", "leapfrogs",
}

// traceTable flattens the trace to one row per chain and draw
func traceTable(tr *sampler.Trace) *Table {
	t := &Table{Headers: append(append([]string(nil), traceStatHeaders...), tr.Names...)}
	for c, draws := range tr.Values {
		for d, values := range draws {
			st := tr.Stats[c][d]
			row := make([]any, 0, len(t.Headers))
			row = append(row, c, d, st.Divergent, st.TreeDepth, st.Accept, st.StepSize, st.Energy, st.LogDensity, st.Leapfrogs)
			for _, v := range values {
				row = append(row, v)
			}
			t.add(row...)
		}
	}
	return t
}
