package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"racefit/app"
	"racefit/domain/core"
	"racefit/internal"
	"racefit/internal/config"
	apperrors "racefit/internal/errors"
	"racefit/internal/export"
	"racefit/internal/testkit"
)

// version is stamped at build time with -ldflags "-X main.version=..."
var version = "dev"

// Exit codes
const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 2
	exitData      = 3
	exitSampler   = 4
	exitExport    = 5
	exitCancelled = 130
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "racefit",
		Short:         "Hierarchical LBA race-model estimation for RT and accuracy data",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newFitCmd(), newSimulateCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, core.ErrCancelled) {
		return exitCancelled
	}
	switch apperrors.GetCode(err) {
	case apperrors.CodeConfigInvalid:
		return exitConfig
	case apperrors.CodeNoFiles, apperrors.CodeMissingColumn, apperrors.CodeMissingCovar,
		apperrors.CodeNoValidTrials, apperrors.CodeInvalidInput:
		return exitData
	case apperrors.CodeSamplerFailed:
		return exitSampler
	case apperrors.CodeExportFailed:
		return exitExport
	}
	if core.IsDataError(err) {
		return exitData
	}
	return exitFailure
}

func newFitCmd() *cobra.Command {
	var (
		input, output, runFile, parameterization string
		chains, cores, warmup, draws, maxDepth   int
		targetAccept                             float64
		seed                                     int64
		sqliteTrace                              bool
	)

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit the hierarchical race model and export posterior summaries",
		Long: `Fit the hierarchical LBA race model to every CSV/XLSX trial table under
--input and write parameter tables, the trace and a convergence report to
--output.

Settings are layered: defaults, RACEFIT_* environment variables (a .env file
is loaded first), the optional --config YAML run file, then flags.

Example:
  racefit fit --input data/clean/ --output analysis/results/ --chains 4 --draws 2000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(runFile)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("input") {
				cfg.Input = input
			}
			if flags.Changed("output") {
				cfg.Output = output
			}
			if flags.Changed("parameterization") {
				cfg.Parameterization = parameterization
			}
			if flags.Changed("chains") {
				cfg.Sampler.Chains = chains
			}
			if flags.Changed("cores") {
				cfg.Sampler.Parallelism = cores
			}
			if flags.Changed("warmup") {
				cfg.Sampler.Warmup = warmup
			}
			if flags.Changed("draws") {
				cfg.Sampler.Draws = draws
			}
			if flags.Changed("target-accept") {
				cfg.Sampler.TargetAccept = targetAccept
			}
			if flags.Changed("max-depth") {
				cfg.Sampler.MaxTreeDepth = maxDepth
			}
			if flags.Changed("seed") {
				cfg.Sampler.Seed = seed
			}
			if flags.Changed("sqlite-trace") {
				cfg.SQLiteTrace = sqliteTrace
			}
			if cfg.CodeVersion == "" || cfg.CodeVersion == "dev" {
				cfg.CodeVersion = version
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			res, err := app.NewFitService(internal.DefaultLogger, nil).Fit(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: %d trials, %d chains × %d draws\n",
				res.Manifest.RunID, res.Manifest.Trials, res.Report.Chains, res.Report.Draws)
			fmt.Fprintf(out, "divergences: %d (%s), non-converged parameters: %d, poor ESS: %d\n",
				res.Report.Divergences, res.Report.DivergenceVerdict, res.Report.NonConverged, res.Report.PoorESS)
			for _, w := range res.Report.BlockingWarnings {
				fmt.Fprintln(out, "WARNING:", w)
			}
			fmt.Fprintf(out, "results written to %s\n", cfg.Output)
			return nil
		},
	}

	defaults := config.Default()
	f := cmd.Flags()
	f.StringVar(&input, "input", defaults.Input, "Trial table file or directory of CSV/XLSX files")
	f.StringVar(&output, "output", defaults.Output, "Output directory")
	f.StringVar(&runFile, "config", "", "YAML run file")
	f.StringVar(&parameterization, "parameterization", defaults.Parameterization, "Participant effects: non_centered|centered")
	f.IntVar(&chains, "chains", 0, "Number of chains (0 = clamp(CPUs, 2, 4))")
	f.IntVar(&cores, "cores", 0, "Chains run in parallel (0 = min(chains, CPUs))")
	f.IntVar(&warmup, "warmup", defaults.Sampler.Warmup, "Warmup iterations per chain")
	f.IntVar(&draws, "draws", defaults.Sampler.Draws, "Retained draws per chain")
	f.Float64Var(&targetAccept, "target-accept", defaults.Sampler.TargetAccept, "Target acceptance statistic for step-size adaptation")
	f.IntVar(&maxDepth, "max-depth", defaults.Sampler.MaxTreeDepth, "Maximum NUTS tree depth")
	f.Int64Var(&seed, "seed", defaults.Sampler.Seed, "Random seed for deterministic sampling")
	f.BoolVar(&sqliteTrace, "sqlite-trace", false, "Also store the trace in trace.sqlite")
	return cmd
}

func newSimulateCmd() *cobra.Command {
	var (
		output, truthPath    string
		participants, trials int
		seed                 uint64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Write a synthetic trial table from known ground truth",
		Long: `Simulate a balanced modality × interface-mode design from the LBA race model
with known parameters. The output format follows the file extension (.csv or
.xlsx). --truth additionally writes the generating parameters as JSON.

Example:
  racefit simulate --output synthetic.csv --participants 8 --trials 80 --truth truth.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := testkit.DefaultRaceConfig()
			cfg.Participants, cfg.TrialsPerCell, cfg.Seed = participants, trials, seed

			data, err := testkit.NewRaceGenerator(cfg).Generate()
			if err != nil {
				return apperrors.WithCode(apperrors.CodeConfigInvalid, err)
			}

			switch strings.ToLower(filepath.Ext(output)) {
			case ".xlsx":
				err = export.WriteXLSX(output, "trials", testkit.ToTable(data))
			default:
				err = testkit.WriteCSV(output, data)
			}
			if err != nil {
				return apperrors.ExportFailed(output, err)
			}

			if truthPath != "" {
				b, err := json.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return apperrors.ExportFailed(truthPath, err)
				}
				if err := os.WriteFile(truthPath, append(b, '\n'), 0o644); err != nil {
					return apperrors.ExportFailed(truthPath, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d trials to %s\n", len(data.Rows), output)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&output, "output", "synthetic.csv", "Output file (.csv or .xlsx)")
	f.StringVar(&truthPath, "truth", "", "Optional JSON file for the generating parameters")
	f.IntVar(&participants, "participants", 4, "Number of participants")
	f.IntVar(&trials, "trials", 60, "Trials per participant and cell")
	f.Uint64Var(&seed, "seed", 42, "Random seed")
	return cmd
}
