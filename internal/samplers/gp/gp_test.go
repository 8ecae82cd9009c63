package gp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/sweep/internal/hpo"
)

func TestKernels(t *testing.T) {
	m := Matern52{LengthScale: 1, SignalVar: 2}
	assert.InDelta(t, 2.0, m.Eval(0.3, 0.3), 1e-12)
	assert.Less(t, m.Eval(0, 1), m.Eval(0, 0.1))

	r := RBF{LengthScale: 1, SignalVar: 1}
	assert.InDelta(t, 1.0, r.Eval(0.5, 0.5), 1e-12)
	assert.InDelta(t, math.Exp(-0.5), r.Eval(0, 1), 1e-12)
}

func TestModelInterpolatesTrainingPoints(t *testing.T) {
	xs := []float64{0.0, 0.25, 0.5, 0.75, 1.0}
	ys := []float64{1.0, 0.2, -0.5, 0.2, 1.0}

	m, err := fit(Matern52{LengthScale: 0.25, SignalVar: 1.0}, 1e-8, xs, ys)
	require.NoError(t, err)

	for i := range xs {
		mu, sigma := m.predict(xs[i])
		assert.InDelta(t, ys[i], mu, 1e-3, "mean at training point %d", i)
		assert.Less(t, sigma, 1e-2, "uncertainty at training point %d", i)
	}

	// Uncertainty grows away from the data.
	_, farSigma := m.predict(2.5)
	_, nearSigma := m.predict(0.5)
	assert.Greater(t, farSigma, nearSigma)
}

func TestExpectedImprovement(t *testing.T) {
	// A confident prediction below the incumbent improves.
	assert.Greater(t, expectedImprovement(1.0, 0.0, 0.1, 0.0), 0.0)
	// A confident prediction above the incumbent does not.
	assert.Equal(t, 0.0, expectedImprovement(0.0, 1.0, 1e-12, 0.0))
	// Uncertainty keeps a worse mean in play.
	assert.Greater(t, expectedImprovement(0.0, 0.5, 1.0, 0.0), 0.0)
}

func history(n int, f func(x float64) float64) []hpo.FrozenTrial {
	dist := hpo.FloatDistribution{Low: 0, High: 10}
	out := make([]hpo.FrozenTrial, n)
	for i := 0; i < n; i++ {
		x := 10 * float64(i) / float64(n-1)
		y := f(x)
		out[i] = hpo.FrozenTrial{
			ID:            i + 1,
			State:         hpo.StateComplete,
			Value:         &y,
			Params:        map[string]float64{"x": x},
			Distributions: map[string]hpo.Distribution{"x": dist},
		}
	}
	return out
}

func TestSampleFallsBackBeforeStartup(t *testing.T) {
	sampler := New(hpo.Minimize, 5, WithStartupTrials(10))
	dist := hpo.FloatDistribution{Low: 0, High: 10}

	v, err := sampler.Sample(history(3, func(x float64) float64 { return x }), 4, "x", dist)
	require.NoError(t, err)
	assert.True(t, dist.Contains(v))
}

func TestSampleExploitsMinimum(t *testing.T) {
	sampler := New(hpo.Minimize, 5, WithStartupTrials(5), WithCandidates(256))
	dist := hpo.FloatDistribution{Low: 0, High: 10}
	hist := history(21, func(x float64) float64 { return (x - 3) * (x - 3) })

	v, err := sampler.Sample(hist, 22, "x", dist)
	require.NoError(t, err)
	assert.True(t, dist.Contains(v))
	assert.InDelta(t, 3.0, v, 2.0, "suggestion should concentrate near the observed minimum")
}

func TestSampleMaximizeFlipsObjective(t *testing.T) {
	sampler := New(hpo.Maximize, 5, WithStartupTrials(5), WithCandidates(256))
	dist := hpo.FloatDistribution{Low: 0, High: 10}
	hist := history(21, func(x float64) float64 { return -(x - 7) * (x - 7) })

	v, err := sampler.Sample(hist, 22, "x", dist)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, v, 2.0)
}

func TestSampleCategoricalUsesFallback(t *testing.T) {
	sampler := New(hpo.Minimize, 5)
	dist := hpo.CategoricalDistribution{Choices: []interface{}{"a", "b", "c"}}

	for i := 0; i < 50; i++ {
		v, err := sampler.Sample(nil, 1, "opt", dist)
		require.NoError(t, err)
		assert.True(t, dist.Contains(v))
	}
}

func TestSampleDegenerateObservations(t *testing.T) {
	// All observations at the same point make the kernel matrix nearly
	// singular; the sampler must keep working via the random fallback.
	dist := hpo.FloatDistribution{Low: 0, High: 10}
	y := 1.0
	hist := make([]hpo.FrozenTrial, 12)
	for i := range hist {
		hist[i] = hpo.FrozenTrial{
			ID:            i + 1,
			State:         hpo.StateComplete,
			Value:         &y,
			Params:        map[string]float64{"x": 5.0},
			Distributions: map[string]hpo.Distribution{"x": dist},
		}
	}

	sampler := New(hpo.Minimize, 5, WithStartupTrials(5))
	v, err := sampler.Sample(hist, 13, "x", dist)
	require.NoError(t, err)
	assert.True(t, dist.Contains(v))
}
