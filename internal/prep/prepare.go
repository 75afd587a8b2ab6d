// Package prep turns raw trial rows into the normalized, indexed dataset the
// race model consumes.
package prep

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"racefit/adapters/excel"
	"racefit/domain/core"
	"racefit/domain/dataset"
	"racefit/internal"
	apperrors "racefit/internal/errors"

	"github.com/montanaflynn/stats"
)

// Options controls filtering and normalization
type Options struct {
	Columns          Columns `yaml:"columns"`
	MinRTms          float64 `yaml:"min_rt_ms" env:"MIN_RT_MS" validate:"gte=0"`           // trials faster than this are rejected
	MaxRTms          float64 `yaml:"max_rt_ms" env:"MAX_RT_MS" validate:"gtfield=MinRTms"` // experiment timeout; trials at or above are rejected
	PressureBaseline float64 `yaml:"pressure_baseline" env:"PRESSURE_BASELINE"`
	DefaultPressure  float64 `yaml:"default_pressure" env:"DEFAULT_PRESSURE"`                   // used when the pressure column is absent
	DefaultUIMode    string  `yaml:"default_ui_mode" env:"DEFAULT_UI_MODE" validate:"required"` // used when the interface-mode column is absent
}

// DefaultOptions returns the study defaults
func DefaultOptions() Options {
	return Options{
		Columns:          DefaultColumns(),
		MinRTms:          150,
		MaxRTms:          10000,
		PressureBaseline: 1.0,
		DefaultPressure:  1.0,
		DefaultUIMode:    "static",
	}
}

// FilterStats counts rows by the reason they were dropped
type FilterStats struct {
	Input              int `json:"input"`
	Kept               int `json:"kept"`
	MissingParticipant int `json:"missing_participant"`
	MissingModality    int `json:"missing_modality"`
	MissingRT          int `json:"missing_rt"`
	RTOutOfRange       int `json:"rt_out_of_range"`
	MissingOutcome     int `json:"missing_outcome"`
	MissingDifficulty  int `json:"missing_difficulty"`
	MissingPressure    int `json:"missing_pressure"`
}

// Result is the output of Prepare
type Result struct {
	Dataset  *dataset.Dataset
	Filtered FilterStats
	Warnings []string
	Cells    []CellSummary
}

type rawTrial struct {
	participant string
	modality    string
	uiMode      string
	difficulty  float64
	pressure    float64
	rtSeconds   float64
	correct     bool
}

// Prepare cleans, normalizes and indexes the rows
func Prepare(data *excel.ExcelData, opts Options, logger *internal.Logger) (*Result, error) {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	logger = logger.With("Prep")

	res := &Result{}
	warn := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		res.Warnings = append(res.Warnings, msg)
		logger.Warn("%s", msg)
	}

	raws := make([]rawTrial, 0, len(data.Rows))
	timeouts := make(map[string]int)
	res.Filtered.Input = len(data.Rows)
	for _, src := range data.Tables() {
		cols, err := opts.Columns.resolve(src)
		if err != nil {
			return nil, err
		}
		name := src.File
		if name == "" {
			name = "input"
		}
		if cols.difficulty == "" && (cols.amplitude == "" || cols.width == "") {
			return nil, apperrors.MissingCovariate(
				fmt.Sprintf("%s: no difficulty column (tried %v) and no amplitude/width pair (tried %v / %v)",
					name, opts.Columns.Difficulty, opts.Columns.Amplitude, opts.Columns.Width),
				core.ErrMissingCovariate)
		}
		if cols.uiMode == "" {
			warn("%s: no interface-mode column (tried %v); assuming %q for its trials", name, opts.Columns.UIMode, opts.DefaultUIMode)
		}
		if cols.pressure == "" {
			warn("%s: no pressure column (tried %v); assuming %.2f for its trials", name, opts.Columns.Pressure, opts.DefaultPressure)
		}

		for _, row := range data.Rows[src.Start:src.End] {
			raw, ok := parseRow(row, cols, opts, &res.Filtered, timeouts)
			if ok {
				raws = append(raws, raw)
			}
		}
	}
	res.Filtered.Kept = len(raws)

	logger.Info("Kept %d of %d trials (rt out of range: %d, missing rt: %d, outcome: %d, difficulty: %d, pressure: %d, participant: %d, modality: %d)",
		res.Filtered.Kept, res.Filtered.Input, res.Filtered.RTOutOfRange, res.Filtered.MissingRT,
		res.Filtered.MissingOutcome, res.Filtered.MissingDifficulty, res.Filtered.MissingPressure,
		res.Filtered.MissingParticipant, res.Filtered.MissingModality)

	if len(raws) == 0 {
		return nil, apperrors.NoValidTrials(fmt.Sprintf("all %d rows were rejected by filtering", res.Filtered.Input))
	}

	ds, err := buildDataset(raws, opts)
	if err != nil {
		return nil, err
	}
	res.Dataset = ds

	if n := ds.Modalities.Len(); n != 2 {
		warn("expected two modalities, found %d (%v)", n, ds.Modalities.Labels())
	}
	for _, c := range ds.Cells {
		switch {
		case c.Trials == 0:
			warn("cell %s has no trials; its non-decision time is informed by the prior only", c.Key())
		case c.Errors == 0:
			warn("cell %s has zero error trials; the error accumulator is weakly identified there", c.Key())
		}
	}

	res.Cells = summarizeCells(ds, timeouts)
	return res, nil
}

// parseRow validates one row against its file's columns. Rejections are
// counted in f; RTs at or past the timeout are also tallied per cell key.
func parseRow(row excel.RawRowData, cols resolved, opts Options, f *FilterStats, timeouts map[string]int) (rawTrial, bool) {
	pid := strings.TrimSpace(row[cols.participant])
	if pid == "" {
		f.MissingParticipant++
		return rawTrial{}, false
	}
	modality := strings.ToLower(strings.TrimSpace(row[cols.modality]))
	if modality == "" {
		f.MissingModality++
		return rawTrial{}, false
	}
	uiMode := opts.DefaultUIMode
	if cols.uiMode != "" {
		if v := strings.TrimSpace(row[cols.uiMode]); v != "" {
			uiMode = strings.ToLower(v)
		}
	}

	rtMs, ok := parseFloat(row[cols.rt])
	if !ok {
		f.MissingRT++
		return rawTrial{}, false
	}
	if rtMs < opts.MinRTms || rtMs >= opts.MaxRTms {
		f.RTOutOfRange++
		if rtMs >= opts.MaxRTms {
			timeouts[modality+"/"+uiMode]++
		}
		return rawTrial{}, false
	}

	correct, ok := parseBool(row[cols.correct])
	if !ok {
		f.MissingOutcome++
		return rawTrial{}, false
	}

	difficulty, ok := rowDifficulty(row, cols)
	if !ok {
		f.MissingDifficulty++
		return rawTrial{}, false
	}

	pressure := opts.DefaultPressure
	if cols.pressure != "" {
		pressure, ok = parseFloat(row[cols.pressure])
		if !ok {
			f.MissingPressure++
			return rawTrial{}, false
		}
	}

	return rawTrial{
		participant: pid,
		modality:    modality,
		uiMode:      uiMode,
		difficulty:  difficulty,
		pressure:    pressure,
		rtSeconds:   rtMs / 1000,
		correct:     correct,
	}, true
}

func buildDataset(raws []rawTrial, opts Options) (*dataset.Dataset, error) {
	pids := make([]string, len(raws))
	mods := make([]string, len(raws))
	uis := make([]string, len(raws))
	difficulty := make([]float64, len(raws))
	for i, r := range raws {
		pids[i] = r.participant
		mods[i] = r.modality
		uis[i] = r.uiMode
		difficulty[i] = r.difficulty
	}

	ds := &dataset.Dataset{
		Participants:     dataset.NewIndexMap(pids),
		Modalities:       dataset.NewIndexMap(mods),
		UIModes:          dataset.NewIndexMap(uis),
		PressureBaseline: opts.PressureBaseline,
	}

	mean, err := stats.Mean(difficulty)
	if err != nil {
		return nil, apperrors.Wrap(err, "difficulty mean")
	}
	sd, err := stats.StandardDeviationPopulation(difficulty)
	if err != nil {
		return nil, apperrors.Wrap(err, "difficulty sd")
	}
	ds.DifficultyMean, ds.DifficultySD = mean, sd

	ds.Cells = make([]dataset.Cell, ds.NumCells())
	for m := 0; m < ds.Modalities.Len(); m++ {
		for u := 0; u < ds.UIModes.Len(); u++ {
			idx := ds.CellIndex(m, u)
			ds.Cells[idx] = dataset.Cell{
				Index:    idx,
				Modality: ds.Modalities.Label(m),
				UIMode:   ds.UIModes.Label(u),
				MinRT:    math.Inf(1),
			}
		}
	}

	ds.Trials = make([]dataset.Trial, len(raws))
	globalMin := math.Inf(1)
	for i, r := range raws {
		p, _ := ds.Participants.Index(r.participant)
		m, _ := ds.Modalities.Index(r.modality)
		u, _ := ds.UIModes.Index(r.uiMode)
		c := ds.CellIndex(m, u)

		z := r.difficulty - mean
		if sd > 0 {
			z /= sd
		}

		ds.Trials[i] = dataset.Trial{
			ParticipantID: r.participant,
			Modality:      r.modality,
			UIMode:        r.uiMode,
			Difficulty:    z,
			Pressure:      r.pressure - opts.PressureBaseline,
			RT:            r.rtSeconds,
			Correct:       r.correct,
			Participant:   p,
			Cell:          c,
		}

		cell := &ds.Cells[c]
		cell.Trials++
		if !r.correct {
			cell.Errors++
		}
		cell.MinRT = math.Min(cell.MinRT, r.rtSeconds)
		globalMin = math.Min(globalMin, r.rtSeconds)
	}

	// Empty cells borrow the global minimum so the t0 bound stays finite.
	for i := range ds.Cells {
		if ds.Cells[i].Trials == 0 {
			ds.Cells[i].MinRT = globalMin
		}
	}
	return ds, nil
}

// rowDifficulty reads the difficulty column, falling back to
// log2(amplitude/width + 1) when the value is absent.
func rowDifficulty(row excel.RawRowData, cols resolved) (float64, bool) {
	if cols.difficulty != "" {
		if v, ok := parseFloat(row[cols.difficulty]); ok {
			return v, true
		}
	}
	if cols.amplitude == "" || cols.width == "" {
		return 0, false
	}
	a, okA := parseFloat(row[cols.amplitude])
	w, okW := parseFloat(row[cols.width])
	if !okA || !okW || w <= 0 || a < 0 {
		return 0, false
	}
	return IndexOfDifficulty(a, w), true
}

// IndexOfDifficulty is the Shannon formulation log2(A/W + 1)
func IndexOfDifficulty(amplitude, width float64) float64 {
	return math.Log2(amplitude/width + 1)
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "na") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "1.0", "yes", "y", "t":
		return true, true
	case "false", "0", "0.0", "no", "n", "f":
		return false, true
	}
	return false, false
}
