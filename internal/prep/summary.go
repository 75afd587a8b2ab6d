package prep

import (
	"racefit/domain/dataset"
	"racefit/internal/profiling"

	"github.com/montanaflynn/stats"
)

// CellSummary is the descriptive RT profile of one condition cell (seconds)
type CellSummary struct {
	Cell         string  `json:"cell"`
	Modality     string  `json:"modality"`
	UIMode       string  `json:"ui_mode"`
	Participants int     `json:"participants"`
	Trials       int     `json:"trials"`
	Errors       int     `json:"errors"`
	ErrorRate    float64 `json:"error_rate"`
	MeanRT       float64 `json:"mean_rt"`
	SDRT         float64 `json:"sd_rt"`
	MedianRT     float64 `json:"median_rt"`
	MinRT        float64 `json:"min_rt"`
	MaxRT        float64 `json:"max_rt"`
	Skewness     float64 `json:"skewness"`
	Kurtosis     float64 `json:"kurtosis"`
	SlowTail     float64 `json:"slow_tail"`
	Timeouts     int     `json:"timeouts"`     // rows at or past the timeout, dropped before fitting
	TimeoutRate  float64 `json:"timeout_rate"` // timeouts / (trials + timeouts)

	// Ex-Gaussian moment fit of the correct-trial RTs
	ExGaussMu    float64 `json:"exgauss_mu"`
	ExGaussSigma float64 `json:"exgauss_sigma"`
	ExGaussTau   float64 `json:"exgauss_tau"`
}

func summarizeCells(ds *dataset.Dataset, timeouts map[string]int) []CellSummary {
	rts := make([][]float64, len(ds.Cells))
	correct := make([][]float64, len(ds.Cells))
	people := make([]map[int]struct{}, len(ds.Cells))
	for i := range people {
		people[i] = make(map[int]struct{})
	}
	for _, t := range ds.Trials {
		rts[t.Cell] = append(rts[t.Cell], t.RT)
		if t.Correct {
			correct[t.Cell] = append(correct[t.Cell], t.RT)
		}
		people[t.Cell][t.Participant] = struct{}{}
	}

	out := make([]CellSummary, len(ds.Cells))
	for i, c := range ds.Cells {
		s := CellSummary{
			Cell:         c.Key(),
			Modality:     c.Modality,
			UIMode:       c.UIMode,
			Participants: len(people[i]),
			Trials:       c.Trials,
			Errors:       c.Errors,
			Timeouts:     timeouts[c.Key()],
		}
		if n := s.Trials + s.Timeouts; n > 0 {
			s.TimeoutRate = float64(s.Timeouts) / float64(n)
		}
		if len(rts[i]) > 0 {
			data := rts[i]
			s.ErrorRate = float64(c.Errors) / float64(c.Trials)
			s.MeanRT, _ = stats.Mean(data)
			s.MedianRT, _ = stats.Median(data)
			s.MinRT, _ = stats.Min(data)
			s.MaxRT, _ = stats.Max(data)
			if len(data) > 1 {
				s.SDRT, _ = stats.StandardDeviationSample(data)
			}
			if shape, err := profiling.Profile(data); err == nil {
				s.Skewness, s.Kurtosis, s.SlowTail = shape.Skewness, shape.Kurtosis, shape.SlowTail
			}
			if eg, err := profiling.FitExGaussian(correct[i]); err == nil {
				s.ExGaussMu, s.ExGaussSigma, s.ExGaussTau = eg.Mu, eg.Sigma, eg.Tau
			}
		}
		out[i] = s
	}
	return out
}
