// Package sampler runs parallel NUTS chains with windowed warmup adaptation
// over any differentiable posterior.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"racefit/domain/core"
	"racefit/internal"
	apperrors "racefit/internal/errors"
	"racefit/ports"
)

// pcgStream is the second PCG word; the first is seed + chain
const pcgStream = 0x9e3779b97f4a7c15

// maxInitAttempts bounds redraws of a non-finite starting point
const maxInitAttempts = 100

// Sampler runs chains for one posterior
type Sampler struct {
	cfg      Config
	conc     Concurrency
	logger   *internal.Logger
	registry prometheus.Registerer

	progress *Progress
}

// Option customizes a Sampler
type Option func(*Sampler)

// WithLogger sets the logger
func WithLogger(l *internal.Logger) Option {
	return func(s *Sampler) { s.logger = l }
}

// WithRegistry registers progress metrics on reg
func WithRegistry(reg prometheus.Registerer) Option {
	return func(s *Sampler) { s.registry = reg }
}

// New validates cfg and resolves its chain layout against the host CPUs
func New(cfg Config, opts ...Option) (*Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Sampler{
		cfg:    cfg,
		conc:   ResolveConcurrency(runtime.NumCPU(), cfg.Chains, cfg.Parallelism),
		logger: internal.DefaultLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("Sampler")
	return s, nil
}

// Concurrency reports the resolved chain layout
func (s *Sampler) Concurrency() Concurrency { return s.conc }

// Progress returns the live progress of the current or last run
func (s *Sampler) Progress() *Progress { return s.progress }

// Run samples every chain. Cancelling ctx aborts all chains and discards
// the partial trace.
func (s *Sampler) Run(ctx context.Context, post ports.Posterior) (*Trace, error) {
	chains := s.conc.Chains
	perChain := s.cfg.Warmup + s.cfg.Draws
	s.progress = NewProgress(chains, perChain, s.registry)

	s.logger.Info("sampling %d chains (%d in parallel): %d warmup + %d draws, target accept %.2f, max depth %d",
		chains, s.conc.Parallelism, s.cfg.Warmup, s.cfg.Draws, s.cfg.TargetAccept, s.cfg.MaxTreeDepth)

	reportCtx, stopReport := context.WithCancel(ctx)
	defer stopReport()
	go s.progress.Report(reportCtx, s.cfg.ReportInterval, s.logger)

	trace := NewTrace(post.ConstrainedNames(), chains)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.conc.Parallelism)

	start := time.Now()
	for c := 0; c < chains; c++ {
		g.Go(func() error {
			res, err := s.runChain(gctx, post, c)
			if err != nil {
				return err
			}
			// Each goroutine owns its own chain slot.
			trace.Values[c] = res.values
			trace.Stats[c] = res.stats
			trace.StepSizes[c] = res.stepSize
			trace.InvMetrics[c] = res.invMetric
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, core.ErrCancelled) || ctx.Err() != nil {
			s.logger.Warn("sampling cancelled after %s", time.Since(start).Round(time.Millisecond))
			return nil, core.ErrCancelled
		}
		return nil, apperrors.SamplerFailed(err)
	}

	divs := 0
	for _, d := range trace.Divergences() {
		divs += d
	}
	s.logger.Info("sampling finished in %s, %d divergent transitions", time.Since(start).Round(time.Millisecond), divs)
	return trace, nil
}

type chainResult struct {
	values    [][]float64
	stats     []DrawStats
	stepSize  float64
	invMetric []float64
}

// ChainRNG returns the deterministic random stream of one chain
func ChainRNG(seed int64, chain int) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed)+uint64(chain), pcgStream))
}

func (s *Sampler) runChain(ctx context.Context, post ports.Posterior, chain int) (*chainResult, error) {
	rng := ChainRNG(s.cfg.Seed, chain)
	kernel := newNUTS(post, rng, s.cfg.MaxTreeDepth)

	current, err := initialState(kernel, post, rng)
	if err != nil {
		return nil, fmt.Errorf("chain %d: %w", chain, err)
	}

	eps := kernel.initialStepSize(current, 1)
	da := newDualAverage(s.cfg.TargetAccept, eps)
	windowStart, windowEnds := windowSchedule(s.cfg.Warmup)
	window := newVarianceWindow(post.Dim())
	nextWindow := 0

	res := &chainResult{
		values: make([][]float64, 0, s.cfg.Draws),
		stats:  make([]DrawStats, 0, s.cfg.Draws),
	}

	for it := 0; it < s.cfg.Warmup+s.cfg.Draws; it++ {
		if ctx.Err() != nil {
			return nil, core.ErrCancelled
		}
		next, st := kernel.transition(current, eps)
		current = next

		if it < s.cfg.Warmup {
			eps = da.update(st.Accept)
			if it >= windowStart && nextWindow < len(windowEnds) {
				window.add(current.theta)
				if it+1 == windowEnds[nextWindow] {
					window.estimate(kernel.invMetric)
					nextWindow++
					eps = kernel.initialStepSize(current, eps)
					da.restart(eps)
				}
			}
			if it+1 == s.cfg.Warmup {
				eps = da.final()
				s.logger.Debug("chain %d adapted step size %.4g", chain, eps)
			}
		} else {
			res.values = append(res.values, post.Constrain(current.theta))
			res.stats = append(res.stats, st)
		}
		s.progress.Tick(chain, st)
	}

	res.stepSize = eps
	res.invMetric = append([]float64(nil), kernel.invMetric...)
	return res, nil
}

// initialState redraws starting points until the density and gradient are
// finite.
func initialState(k *nuts, post ports.Posterior, rng *rand.Rand) (*point, error) {
	for i := 0; i < maxInitAttempts; i++ {
		p := k.evaluate(post.InitialPoint(rng))
		if finite(p.logp) && allFinite(p.grad) {
			return p, nil
		}
	}
	return nil, core.ErrNonFiniteStart
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if !finite(x) {
			return false
		}
	}
	return true
}
