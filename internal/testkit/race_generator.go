package testkit

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"racefit/adapters/excel"
	"racefit/internal/export"
	"racefit/internal/lba"
	"racefit/internal/model"
)

// Truth is the ground-truth parameter set of a synthetic study. A, B and
// the drifts are the values at zero covariates; the slopes act on the
// unconstrained scale exactly as in the fitted model.
type Truth struct {
	T0             map[string]float64 `json:"t0"` // per "modality/ui_mode" cell, seconds
	A              float64            `json:"A"`
	B              float64            `json:"b"`
	VCorrect       float64            `json:"v_correct"`
	VError         float64            `json:"v_error"`
	BetaDifficulty float64            `json:"beta_difficulty"`
	BetaPressure   float64            `json:"beta_pressure"`
	ParticipantSD  float64            `json:"participant_sd"` // sd of per-participant drift offsets
}

// RaceGeneratorConfig configures the synthetic design
type RaceGeneratorConfig struct {
	Participants   int       `json:"participants"`
	TrialsPerCell  int       `json:"trials_per_cell"` // per participant
	Modalities     []string  `json:"modalities"`
	UIModes        []string  `json:"ui_modes"`
	Difficulties   []float64 `json:"difficulties"` // raw index-of-difficulty levels, cycled
	PressureLevels []float64 `json:"pressure_levels"`
	PressureBase   float64   `json:"pressure_baseline"` // pressure level the slope is centered on
	Seed           uint64    `json:"seed"`
	Truth          Truth     `json:"truth"`
}

// DefaultRaceConfig returns a balanced 2×2 design with distinct cell t0
func DefaultRaceConfig() RaceGeneratorConfig {
	return RaceGeneratorConfig{
		Participants:   4,
		TrialsPerCell:  60,
		Modalities:     []string{"gaze", "hand"},
		UIModes:        []string{"adaptive", "static"},
		Difficulties:   []float64{2, 3, 4, 5},
		PressureLevels: []float64{1.0, 1.5},
		PressureBase:   1.0,
		Seed:           42,
		Truth: Truth{
			T0: map[string]float64{
				"gaze/adaptive": 0.25,
				"gaze/static":   0.30,
				"hand/adaptive": 0.20,
				"hand/static":   0.22,
			},
			A:              0.5,
			B:              1.0,
			VCorrect:       2.5,
			VError:         1.0,
			BetaDifficulty: -0.3,
			BetaPressure:   -0.2,
		},
	}
}

// RaceGenerator simulates LBA race trials
type RaceGenerator struct {
	config RaceGeneratorConfig
	rng    *rand.Rand
}

// NewRaceGenerator creates a generator seeded from the config
func NewRaceGenerator(config RaceGeneratorConfig) *RaceGenerator {
	return &RaceGenerator{
		config: config,
		rng:    rand.New(rand.NewPCG(config.Seed, 0x5851f42d4c957f2d)),
	}
}

// Headers of the generated table
var Headers = []string{"participant_id", "modality", "ui_mode", "rt_ms", "correct", "ID", "pressure"}

// Generate builds the trial table. Difficulty is z-scored over the whole
// design before simulation, matching the normalization applied on ingest.
func (g *RaceGenerator) Generate() (*excel.ExcelData, error) {
	cfg := g.config
	if cfg.Participants < 1 || cfg.TrialsPerCell < 1 || len(cfg.Modalities) == 0 || len(cfg.UIModes) == 0 {
		return nil, fmt.Errorf("design needs participants, trials, modalities and ui modes")
	}
	if len(cfg.Difficulties) == 0 || len(cfg.PressureLevels) == 0 {
		return nil, fmt.Errorf("design needs difficulty and pressure levels")
	}
	for _, m := range cfg.Modalities {
		for _, u := range cfg.UIModes {
			if _, ok := cfg.Truth.T0[m+"/"+u]; !ok {
				return nil, fmt.Errorf("truth has no t0 for cell %s/%s", m, u)
			}
		}
	}

	// Cycling the levels within every cell keeps the design balanced.
	n := cfg.Participants * len(cfg.Modalities) * len(cfg.UIModes) * cfg.TrialsPerCell
	ids := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, cfg.Difficulties[i%len(cfg.Difficulties)])
	}
	mean, sd := stat.PopMeanStdDev(ids, nil)

	tr := cfg.Truth
	offsets := make([]float64, cfg.Participants)
	for p := range offsets {
		offsets[p] = tr.ParticipantSD * g.rng.NormFloat64()
	}

	data := &excel.ExcelData{Headers: append([]string(nil), Headers...)}
	i := 0
	for p := 0; p < cfg.Participants; p++ {
		pid := fmt.Sprintf("p%02d", p+1)
		for _, m := range cfg.Modalities {
			for _, u := range cfg.UIModes {
				for k := 0; k < cfg.TrialsPerCell; k++ {
					id := ids[i]
					z := 0.0
					if sd > 0 {
						z = (id - mean) / sd
					}
					pressure := cfg.PressureLevels[(k/len(cfg.Difficulties))%len(cfg.PressureLevels)]
					params := tr.Params(m+"/"+u, z, pressure-cfg.PressureBase, offsets[p])
					rt, correct := SimulateTrial(g.rng, params)

					data.Rows = append(data.Rows, excel.RawRowData{
						"participant_id": pid,
						"modality":       m,
						"ui_mode":        u,
						"rt_ms":          strconv.FormatFloat(1000*rt, 'f', 3, 64),
						"correct":        strconv.FormatBool(correct),
						"ID":             strconv.FormatFloat(id, 'f', -1, 64),
						"pressure":       strconv.FormatFloat(pressure, 'f', -1, 64),
					})
					i++
				}
			}
		}
	}
	return data, nil
}

// Params returns the race parameters of one trial. difficulty is z-scored,
// pressure centered; offset shifts the correct drift on the
// unconstrained scale.
func (t Truth) Params(cell string, difficulty, pressure, offset float64) lba.Params {
	gap := model.Softplus(model.InvSoftplus(t.B-t.A) + t.BetaPressure*pressure)
	return lba.Params{
		T0:       t.T0[cell],
		A:        t.A,
		B:        t.A + gap,
		VCorrect: model.Softplus(model.InvSoftplus(t.VCorrect) + t.BetaDifficulty*difficulty + offset),
		VError:   t.VError,
		S:        1,
	}
}

// maxRedraws bounds the search for a trial with at least one positive drift
const maxRedraws = 1000

// SimulateTrial races both accumulators: start points are uniform on
// [0, A], drifts normal with sd S. Trials where neither accumulator would
// ever finish are redrawn.
func SimulateTrial(rng *rand.Rand, p lba.Params) (rt float64, correct bool) {
	for range maxRedraws {
		dc := p.VCorrect + p.S*rng.NormFloat64()
		de := p.VError + p.S*rng.NormFloat64()
		if dc <= 0 && de <= 0 {
			continue
		}
		tc, te := finishTime(rng, p, dc), finishTime(rng, p, de)
		if tc <= te {
			return p.T0 + tc, true
		}
		return p.T0 + te, false
	}
	return p.T0 + (p.B-p.A/2)/p.VCorrect, true
}

func finishTime(rng *rand.Rand, p lba.Params, drift float64) float64 {
	start := p.A * rng.Float64()
	if drift <= 0 {
		return maxFinish
	}
	return (p.B - start) / drift
}

const maxFinish = 1e9

// ToTable converts a generated table to the export representation
func ToTable(data *excel.ExcelData) *export.Table {
	t := &export.Table{Headers: data.Headers}
	for _, row := range data.Rows {
		cells := make([]any, len(data.Headers))
		for i, h := range data.Headers {
			cells[i] = row[h]
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

// WriteCSV writes a generated table with the canonical column order
func WriteCSV(path string, data *excel.ExcelData) error {
	return export.WriteCSV(path, ToTable(data))
}
