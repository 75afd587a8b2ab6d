package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"racefit/adapters/sqlite"
	"racefit/internal"
	"racefit/internal/config"
	apperrors "racefit/internal/errors"
	"racefit/internal/export"
	"racefit/internal/testkit"
)

func quietLogger() *internal.Logger { return internal.NewLogger(internal.LogLevelError) }

func writeSynthetic(t *testing.T, gen testkit.RaceGeneratorConfig) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clean")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := testkit.NewRaceGenerator(gen).Generate()
	require.NoError(t, err)
	require.NoError(t, testkit.WriteCSV(filepath.Join(dir, "synthetic.csv"), data))
	return dir
}

func fitConfig(t *testing.T, input string) *config.Config {
	cfg := config.Default()
	cfg.Input = input
	cfg.Output = filepath.Join(t.TempDir(), "results")
	cfg.Sampler.Chains = 2
	cfg.Sampler.Parallelism = 2
	cfg.Sampler.ReportInterval = 0
	return &cfg
}

func TestFitSmokeRun(t *testing.T) {
	gen := testkit.DefaultRaceConfig()
	gen.Participants, gen.TrialsPerCell = 2, 12
	cfg := fitConfig(t, writeSynthetic(t, gen))
	cfg.Sampler.Warmup, cfg.Sampler.Draws = 60, 40
	cfg.SQLiteTrace = true

	res, err := NewFitService(quietLogger(), prometheus.NewRegistry()).Fit(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Trace.NumChains())
	assert.Equal(t, 40, res.Trace.NumDraws())
	assert.Equal(t, 2*2*2*12, res.Manifest.Trials)
	assert.Equal(t, []string{"gaze/adaptive", "gaze/static", "hand/adaptive", "hand/static"}, res.Manifest.Cells)
	require.NoError(t, res.Manifest.Validate())

	for _, name := range []string{
		export.ConditionParamsFile, export.ParameterSummaryCSV, export.ParameterSummaryXLSX,
		export.TraceCSV, export.TraceSQLite, export.ConvergenceReportMD, export.ConvergenceReportHTML,
		export.CellSummaryCSV, export.RunManifestFile,
	} {
		assert.FileExists(t, filepath.Join(cfg.Output, name))
	}

	store, err := sqlite.Open(filepath.Join(cfg.Output, export.TraceSQLite))
	require.NoError(t, err)
	defer store.Close()
	stored, err := store.LoadTrace(context.Background(), res.Manifest.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Trace.Values, stored.Values)
}

func TestFitDataErrors(t *testing.T) {
	svc := NewFitService(quietLogger(), nil)

	empty := t.TempDir()
	_, err := svc.Fit(context.Background(), fitConfig(t, empty))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNoFiles, apperrors.GetCode(err))

	dir := t.TempDir()
	rows := "participant_id,modality,ui_mode,rt_ms,correct,ID,pressure\np1,gaze,static,50,true,2,1\np1,hand,static,20000,true,2,1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.csv"), []byte(rows), 0o644))
	cfg := fitConfig(t, dir)
	_, err = svc.Fit(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNoValidTrials, apperrors.GetCode(err))
	assert.NoDirExists(t, cfg.Output, "data errors fail before export")
}

func TestFitCancelled(t *testing.T) {
	gen := testkit.DefaultRaceConfig()
	gen.Participants, gen.TrialsPerCell = 2, 8
	cfg := fitConfig(t, writeSynthetic(t, gen))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFitService(quietLogger(), nil).Fit(ctx, cfg)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(cfg.Output, export.TraceCSV))
}

// TestParameterRecovery fits synthetic data from known ground truth and
// checks the condition-keyed estimates.
func TestParameterRecovery(t *testing.T) {
	if testing.Short() {
		t.Skip("parameter recovery samples a full posterior")
	}
	gen := testkit.DefaultRaceConfig()
	gen.Participants, gen.TrialsPerCell = 2, 64
	gen.Seed = 2024
	cfg := fitConfig(t, writeSynthetic(t, gen))
	cfg.Sampler.Warmup, cfg.Sampler.Draws = 600, 600

	res, err := NewFitService(quietLogger(), nil).Fit(context.Background(), cfg)
	require.NoError(t, err)
	// A few simulated RTs can land outside the filter window.
	assert.Equal(t, res.Prepared.Filtered.Kept, res.Manifest.Trials)
	assert.Equal(t, 2*2*2*64, res.Prepared.Filtered.Input)
	assert.GreaterOrEqual(t, res.Manifest.Trials, 500)

	var got export.ConditionParams
	data, err := os.ReadFile(filepath.Join(cfg.Output, export.ConditionParamsFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))

	truth := gen.Truth
	for cell, t0 := range truth.T0 {
		mod, ui, _ := strings.Cut(cell, "/")
		p := got[mod][ui]
		require.NotNil(t, p, cell)
		assert.InEpsilon(t, t0, p["t0"], 0.20, "t0 %s", cell)
	}
	p := got["gaze"]["adaptive"]
	assert.InEpsilon(t, truth.B, p["b"], 0.20, "b")
	assert.InEpsilon(t, truth.VCorrect, p["v_correct"], 0.20, "v_correct")
	assert.InEpsilon(t, truth.VError, p["v_error"], 0.20, "v_error")
	assert.InEpsilon(t, truth.A, p["A"], 0.20, "A")
	assert.Greater(t, p["v_correct"], p["v_error"])
	assert.Less(t, p["beta_difficulty"], 0.0, "harder targets slow the correct accumulator")
}

