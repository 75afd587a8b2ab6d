package export

import (
	"math"

	"github.com/montanaflynn/stats"

	"racefit/internal/diagnostics"
	"racefit/internal/sampler"
)

// ParamSummary is one row of the flat parameter table
type ParamSummary struct {
	Name        string  `json:"parameter"`
	Mean        float64 `json:"mean"`
	SD          float64 `json:"sd"`
	Q025        float64 `json:"q2.5"`
	Q50         float64 `json:"q50"`
	Q975        float64 `json:"q97.5"`
	Rhat        float64 `json:"rhat"`
	ESS         float64 `json:"ess_bulk"`
	TailESS     float64 `json:"ess_tail"`
	RhatVerdict string  `json:"rhat_verdict"`
	ESSVerdict  string  `json:"ess_verdict"`
}

var summaryHeaders = []string{
	"parameter", "mean", "sd", "q2.5", "q50", "q97.5", "rhat", "ess_bulk", "ess_tail", "rhat_verdict", "ess_verdict",
}

// Summarize computes pooled posterior moments and quantiles of every traced
// parameter, joined with its convergence diagnostics.
func Summarize(trace *sampler.Trace, report *diagnostics.Report) ([]ParamSummary, error) {
	out := make([]ParamSummary, 0, len(trace.Names))
	for _, name := range trace.Names {
		xs, err := trace.Pooled(name)
		if err != nil {
			return nil, err
		}
		s := ParamSummary{Name: name, Rhat: math.NaN(), ESS: math.NaN(), TailESS: math.NaN()}
		data := stats.Float64Data(xs)
		s.Mean, _ = data.Mean()
		if len(xs) > 1 {
			s.SD, _ = data.StandardDeviationSample()
		}
		s.Q025, s.Q50, s.Q975 = quantile(data, 2.5), quantile(data, 50), quantile(data, 97.5)
		if report != nil {
			if d, ok := report.Lookup(name); ok {
				s.Rhat, s.ESS, s.TailESS = d.Rhat, d.ESS, d.TailESS
				s.RhatVerdict, s.ESSVerdict = d.RhatVerdict, d.ESSVerdict
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// quantile falls back to the smallest draw when the sample is too small to
// resolve a low percentile.
func quantile(data stats.Float64Data, percent float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	q, err := stats.Percentile(data, percent)
	if err == nil {
		return q
	}
	q, _ = stats.Min(data)
	return q
}

func summaryTable(rows []ParamSummary) *Table {
	t := &Table{Headers: summaryHeaders}
	for _, s := range rows {
		t.add(s.Name, s.Mean, s.SD, s.Q025, s.Q50, s.Q975, s.Rhat, s.ESS, s.TailESS, s.RhatVerdict, s.ESSVerdict)
	}
	return t
}
