package sampler

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"racefit/internal"
)

// Progress tracks iterations per chain. Chains write through atomics only;
// readers never touch sampler state.
type Progress struct {
	perChain int64
	done     []atomic.Int64
	divs     []atomic.Int64
	started  time.Time

	iterations  *prometheus.CounterVec
	divergences *prometheus.CounterVec
	stepSize    *prometheus.GaugeVec
	remaining   prometheus.Gauge
}

// Snapshot is a point-in-time view of a run
type Snapshot struct {
	Done        int64
	Total       int64
	Divergences int64
	Elapsed     time.Duration
	ETA         time.Duration
}

// Fraction returns completed work in [0, 1]
func (s Snapshot) Fraction() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Done) / float64(s.Total)
}

// NewProgress registers the sampler metrics on reg. A nil reg gets a private
// registry so repeated runs never collide.
func NewProgress(chains, perChain int, reg prometheus.Registerer) *Progress {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Progress{
		perChain: int64(perChain),
		done:     make([]atomic.Int64, chains),
		divs:     make([]atomic.Int64, chains),
		started:  time.Now(),
		iterations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "racefit_sampler_iterations_total",
			Help: "NUTS iterations completed, warmup included",
		}, []string{"chain"}),
		divergences: f.NewCounterVec(prometheus.CounterOpts{
			Name: "racefit_sampler_divergences_total",
			Help: "Divergent transitions by chain",
		}, []string{"chain"}),
		stepSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "racefit_sampler_step_size",
			Help: "Current leapfrog step size by chain",
		}, []string{"chain"}),
		remaining: f.NewGauge(prometheus.GaugeOpts{
			Name: "racefit_sampler_eta_seconds",
			Help: "Estimated seconds until every chain finishes",
		}),
	}
}

// Tick records one finished iteration of chain
func (p *Progress) Tick(chain int, st DrawStats) {
	p.done[chain].Add(1)
	label := strconv.Itoa(chain)
	p.iterations.WithLabelValues(label).Inc()
	p.stepSize.WithLabelValues(label).Set(st.StepSize)
	if st.Divergent {
		p.divs[chain].Add(1)
		p.divergences.WithLabelValues(label).Inc()
	}
}

// Snapshot reads all counters
func (p *Progress) Snapshot() Snapshot {
	s := Snapshot{Total: p.perChain * int64(len(p.done)), Elapsed: time.Since(p.started)}
	for i := range p.done {
		s.Done += p.done[i].Load()
		s.Divergences += p.divs[i].Load()
	}
	if s.Done > 0 && s.Done < s.Total {
		rate := float64(s.Elapsed) / float64(s.Done)
		s.ETA = time.Duration(rate * float64(s.Total-s.Done))
	}
	p.remaining.Set(s.ETA.Seconds())
	return s
}

// Report logs a snapshot every interval until ctx ends
func (p *Progress) Report(ctx context.Context, interval time.Duration, logger *internal.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := p.Snapshot()
			logger.Info("%d/%d iterations (%.0f%%), %d divergent, elapsed %s, eta %s",
				s.Done, s.Total, 100*s.Fraction(), s.Divergences,
				s.Elapsed.Round(time.Second), s.ETA.Round(time.Second))
		}
	}
}
