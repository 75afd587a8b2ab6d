package app

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"racefit/adapters/excel"
	"racefit/adapters/sqlite"
	"racefit/domain/core"
	"racefit/domain/run"
	"racefit/internal"
	"racefit/internal/config"
	"racefit/internal/diagnostics"
	apperrors "racefit/internal/errors"
	"racefit/internal/export"
	"racefit/internal/model"
	"racefit/internal/prep"
	"racefit/internal/sampler"
)

// FitService runs the whole pipeline: ingest, prepare, build, sample,
// diagnose and export.
type FitService struct {
	logger   *internal.Logger
	registry prometheus.Registerer
}

// FitResult is what one fit produced
type FitResult struct {
	Manifest *run.Manifest
	Prepared *prep.Result
	Trace    *sampler.Trace
	Report   *diagnostics.Report
	Duration time.Duration
}

// NewFitService creates a fit service. registry may be nil.
func NewFitService(logger *internal.Logger, registry prometheus.Registerer) *FitService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &FitService{logger: logger, registry: registry}
}

// Fit executes one run. Data errors fail before sampling; convergence
// problems are reported but never fail the run.
func (s *FitService) Fit(ctx context.Context, cfg *config.Config) (*FitResult, error) {
	start := time.Now()
	log := s.logger.With("Fit")

	// 1. Ingest
	data, err := excel.ReadPath(cfg.Input)
	if err != nil {
		return nil, err
	}
	inputHash, err := core.HashFiles(data.Files)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to hash input files")
	}

	// 2. Prepare
	prepared, err := prep.Prepare(data, cfg.Prep, s.logger)
	if err != nil {
		return nil, err
	}

	// 3. Build
	opts, err := cfg.ModelOptions()
	if err != nil {
		return nil, err
	}
	m, err := model.Build(prepared.Dataset, cfg.Priors, opts)
	if err != nil {
		return nil, err
	}
	log.Info("model has %d parameters over %d trials, %d participants and %d cells (%s)",
		m.Dim(), m.NumTrials(), prepared.Dataset.NumParticipants(), prepared.Dataset.NumCells(), opts.Parameterization)

	smp, err := sampler.New(cfg.Sampler, sampler.WithLogger(s.logger), sampler.WithRegistry(s.registry))
	if err != nil {
		return nil, err
	}
	conc := smp.Concurrency()

	manifest, err := run.NewManifest(data.Files, inputHash, cfg.Sampler.Seed, cfg.Sampler, cfg.Priors, cfg.CodeVersion)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to build run manifest")
	}
	manifest.Chains, manifest.Parallelism = conc.Chains, conc.Parallelism
	manifest.Parameterize = opts.Parameterization.String()
	manifest.Trials = m.NumTrials()
	manifest.Participants = prepared.Dataset.NumParticipants()
	manifest.Cells = m.CellKeys()

	// 4. Sample
	trace, err := smp.Run(ctx, m)
	if err != nil {
		return nil, err
	}

	// 5. Diagnose
	report, err := diagnostics.Diagnose(trace, cfg.Sampler.MaxTreeDepth)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to compute diagnostics")
	}
	report.DataWarnings = append(report.DataWarnings, prepared.Warnings...)
	for _, msg := range report.Remediation {
		log.Warn("%s", msg)
	}

	// 6. Export
	if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
		return nil, apperrors.ExportFailed(cfg.Output, err)
	}
	var store export.TraceStore
	if cfg.SQLiteTrace {
		db, err := sqlite.Open(filepath.Join(cfg.Output, export.TraceSQLite))
		if err != nil {
			return nil, apperrors.ExportFailed(export.TraceSQLite, err)
		}
		defer db.Close()
		store = db
	}
	err = export.NewExporter(cfg.Output, store, s.logger).Export(ctx, &export.Bundle{
		Manifest: manifest,
		Trace:    trace,
		Report:   report,
		Cells:    prepared.Dataset.Cells,
		Summary:  prepared.Cells,
	})
	if err != nil {
		return nil, err
	}

	res := &FitResult{
		Manifest: manifest,
		Prepared: prepared,
		Trace:    trace,
		Report:   report,
		Duration: time.Since(start),
	}
	log.Info("run %s finished in %s (converged: %t, divergences: %d)",
		manifest.RunID, res.Duration.Round(time.Millisecond), report.Converged(), report.Divergences)
	return res, nil
}
