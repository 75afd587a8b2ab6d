package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"racefit/domain/core"
	"racefit/internal/sampler"
)

func sampleTrace() *sampler.Trace {
	tr := sampler.NewTrace([]string{"t0[gaze/adaptive]", "A", "v_correct"}, 2)
	for c := 0; c < 2; c++ {
		for d := 0; d < 5; d++ {
			base := float64(10*c + d)
			tr.Values[c] = append(tr.Values[c], []float64{base + 0.25, base + 0.5, base + 0.75})
			tr.Stats[c] = append(tr.Stats[c], sampler.DrawStats{
				Divergent:  d == 3,
				TreeDepth:  d + 1,
				Accept:     0.8,
				StepSize:   0.1 * float64(c+1),
				Energy:     -base,
				LogDensity: -2 * base,
				Leapfrogs:  1 << (d + 1),
			})
		}
		tr.StepSizes[c] = 0.1 * float64(c+1)
	}
	return tr
}

func openTemp(t *testing.T) *TraceStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "trace.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTraceStoreRoundTrip(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()
	id := core.NewRunID()
	want := sampleTrace()

	require.NoError(t, store.SaveTrace(ctx, id, want))

	got, err := store.LoadTrace(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want.Names, got.Names)
	assert.Equal(t, want.Values, got.Values)
	assert.Equal(t, want.Stats, got.Stats)
	assert.Equal(t, want.StepSizes, got.StepSizes)
	assert.Equal(t, []int{1, 1}, got.Divergences())

	runs, err := store.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id.String(), runs[0].RunID)
	assert.Equal(t, 2, runs[0].Chains)
	assert.Equal(t, 5, runs[0].Draws)
}

func TestTraceStoreRejectsDuplicateRun(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()
	id := core.NewRunID()

	require.NoError(t, store.SaveTrace(ctx, id, sampleTrace()))
	assert.Error(t, store.SaveTrace(ctx, id, sampleTrace()))

	// The failed transaction left the first copy intact.
	got, err := store.LoadTrace(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, got.NumDraws())
}

func TestTraceStoreMissingRun(t *testing.T) {
	store := openTemp(t)
	_, err := store.LoadTrace(context.Background(), core.NewRunID())
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
