// Package export writes the fitted posterior, its summaries and the
// convergence report to an output directory.
package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"racefit/domain/core"
	"racefit/domain/dataset"
	"racefit/domain/run"
	"racefit/internal"
	"racefit/internal/diagnostics"
	apperrors "racefit/internal/errors"
	"racefit/internal/prep"
	"racefit/internal/sampler"
)

// Artifact file names
const (
	ConditionParamsFile   = "condition_params.json"
	ParameterSummaryCSV   = "parameter_summary.csv"
	ParameterSummaryXLSX  = "parameter_summary.xlsx"
	TraceCSV              = "trace.csv"
	TraceSQLite           = "trace.sqlite"
	ConvergenceReportMD   = "convergence_report.md"
	ConvergenceReportHTML = "convergence_report.html"
	CellSummaryCSV        = "cell_summary.csv"
	RunManifestFile       = "run_manifest.json"
)

// TraceStore persists a posterior trace outside the flat files
type TraceStore interface {
	SaveTrace(ctx context.Context, runID core.RunID, tr *sampler.Trace) error
}

// Bundle is everything one fit produced
type Bundle struct {
	Manifest *run.Manifest
	Trace    *sampler.Trace
	Report   *diagnostics.Report
	Cells    []dataset.Cell
	Summary  []prep.CellSummary
}

// Exporter writes a Bundle to Dir
type Exporter struct {
	Dir    string
	Store  TraceStore
	logger *internal.Logger
}

// NewExporter creates an exporter rooted at dir. store may be nil.
func NewExporter(dir string, store TraceStore, logger *internal.Logger) *Exporter {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Exporter{Dir: dir, Store: store, logger: logger.With("Export")}
}

// Export writes every artifact. The first failure aborts with an
// EXPORT_FAILED error naming the artifact.
func (e *Exporter) Export(ctx context.Context, b *Bundle) error {
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return apperrors.ExportFailed(e.Dir, err)
	}

	conditions, err := Conditions(b.Trace, b.Cells)
	if err != nil {
		return apperrors.ExportFailed(ConditionParamsFile, err)
	}
	if err := e.writeJSON(ConditionParamsFile, conditions); err != nil {
		return err
	}

	summary, err := Summarize(b.Trace, b.Report)
	if err != nil {
		return apperrors.ExportFailed(ParameterSummaryCSV, err)
	}
	table := summaryTable(summary)
	if err := WriteCSV(e.path(ParameterSummaryCSV), table); err != nil {
		return apperrors.ExportFailed(ParameterSummaryCSV, err)
	}
	if err := WriteXLSX(e.path(ParameterSummaryXLSX), "parameters", table); err != nil {
		return apperrors.ExportFailed(ParameterSummaryXLSX, err)
	}

	if err := WriteCSV(e.path(TraceCSV), traceTable(b.Trace)); err != nil {
		return apperrors.ExportFailed(TraceCSV, err)
	}
	if e.Store != nil && b.Manifest != nil {
		if err := e.Store.SaveTrace(ctx, b.Manifest.RunID, b.Trace); err != nil {
			return apperrors.ExportFailed(TraceSQLite, err)
		}
	}

	if b.Report != nil {
		runID := ""
		if b.Manifest != nil {
			runID = b.Manifest.RunID.String()
		}
		md := RenderMarkdown(runID, b.Report)
		if err := e.writeFile(ConvergenceReportMD, md); err != nil {
			return err
		}
		if err := e.writeFile(ConvergenceReportHTML, RenderHTML(md)); err != nil {
			return err
		}
	}

	if err := WriteCSV(e.path(CellSummaryCSV), cellTable(b.Summary)); err != nil {
		return apperrors.ExportFailed(CellSummaryCSV, err)
	}

	if b.Manifest != nil {
		b.Manifest.FinishedAt = core.Now()
		if err := e.writeJSON(RunManifestFile, b.Manifest); err != nil {
			return err
		}
	}

	e.logger.Info("wrote results to %s", e.Dir)
	return nil
}

func (e *Exporter) path(name string) string { return filepath.Join(e.Dir, name) }

func (e *Exporter) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperrors.ExportFailed(name, err)
	}
	return e.writeFile(name, append(data, '\n'))
}

func (e *Exporter) writeFile(name string, data []byte) error {
	if err := os.WriteFile(e.path(name), data, 0o644); err != nil {
		return apperrors.ExportFailed(name, err)
	}
	e.logger.Debug("wrote %s", name)
	return nil
}

var cellHeaders = []string{
	"cell", "modality", "ui_mode", "participants", "trials", "errors", "error_rate",
	"mean_rt", "sd_rt", "median_rt", "min_rt", "max_rt", "skewness", "kurtosis", "slow_tail",
	"timeouts", "timeout_rate", "exgauss_mu", "exgauss_sigma", "exgauss_tau",
}

func cellTable(cells []prep.CellSummary) *Table {
	t := &Table{Headers: cellHeaders}
	for _, c := range cells {
		t.add(c.Cell, c.Modality, c.UIMode, c.Participants, c.Trials, c.Errors, c.ErrorRate,
			c.MeanRT, c.SDRT, c.MedianRT, c.MinRT, c.MaxRT, c.Skewness, c.Kurtosis, c.SlowTail,
			c.Timeouts, c.TimeoutRate, c.ExGaussMu, c.ExGaussSigma, c.ExGaussTau)
	}
	return t
}
