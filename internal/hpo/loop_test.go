package hpo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/sweep/internal/hpo"
	"github.com/copyleftdev/sweep/internal/storage/memory"
)

// branchedObjective is a deliberately non-smooth surface over an int,
// a float and a bool parameter.
func branchedObjective(x int64, y float64, z bool) float64 {
	if z {
		return float64(x) * (y - 5)
	}
	return float64(x) * (y + 5)
}

func TestRunSequentialEndToEnd(t *testing.T) {
	st, err := hpo.CreateStudy(memory.New(), "tune",
		hpo.WithDirection(hpo.Minimize),
		hpo.WithSampler(hpo.NewRandomSampler(42)))
	require.NoError(t, err)

	obj := hpo.Objective{
		Bundle: func(_ *hpo.Trial, p hpo.Params) (hpo.Outcome, error) {
			return hpo.Complete(branchedObjective(p.Int("x"), p.Float("y"), p.Bool("z"))), nil
		},
	}
	cfg := hpo.RunConfig{
		Trials:  10,
		Workers: 1,
		Space: hpo.SearchSpace{
			"x": hpo.IntRange(0, 100),
			"y": hpo.FloatRange(-10, 10),
			"z": hpo.Choice(true, false),
		},
	}
	require.NoError(t, hpo.Run(context.Background(), st, obj, cfg))

	trials, err := st.Trials()
	require.NoError(t, err)
	require.Len(t, trials, 10)
	for _, ft := range trials {
		assert.Equal(t, hpo.StateComplete, ft.State)
	}

	// The reported best value must be reproducible from the reported
	// best parameters.
	best, err := st.BestTrial()
	require.NoError(t, err)
	params := best.ParamValues()
	recomputed := branchedObjective(
		params["x"].(int64), params["y"].(float64), params["z"].(bool))
	assert.Equal(t, recomputed, *best.Value)

	for _, ft := range trials {
		assert.False(t, *best.Value > *ft.Value, "trial %d beat the reported best", ft.ID)
	}
}

func TestRunParallel(t *testing.T) {
	st, err := hpo.CreateStudy(memory.New(), "tune",
		hpo.WithDirection(hpo.Minimize),
		hpo.WithSampler(hpo.NewRandomSampler(7)))
	require.NoError(t, err)

	obj := hpo.Objective{
		Named: func(_ *hpo.Trial, p map[string]interface{}) (hpo.Outcome, error) {
			x := p["x"].(float64)
			return hpo.Complete(x * x), nil
		},
	}
	cfg := hpo.RunConfig{
		Trials:  20,
		Workers: 4,
		Space:   hpo.SearchSpace{"x": hpo.FloatRange(-5, 5)},
	}
	require.NoError(t, hpo.Run(context.Background(), st, obj, cfg))

	trials, err := st.Trials()
	require.NoError(t, err)
	require.Len(t, trials, 20)

	seen := make(map[int]bool, len(trials))
	bestSoFar := trials[0]
	for _, ft := range trials {
		assert.False(t, seen[ft.ID], "duplicate trial id %d", ft.ID)
		seen[ft.ID] = true
		require.Equal(t, hpo.StateComplete, ft.State)
		if *ft.Value < *bestSoFar.Value {
			bestSoFar = ft
		}
	}

	best, err := st.BestTrial()
	require.NoError(t, err)
	assert.Equal(t, *bestSoFar.Value, *best.Value)
}

func TestRunSequentialReproducible(t *testing.T) {
	run := func() []hpo.FrozenTrial {
		st, err := hpo.CreateStudy(memory.New(), "tune",
			hpo.WithSampler(hpo.NewRandomSampler(1234)))
		require.NoError(t, err)

		obj := hpo.Objective{
			Named: func(_ *hpo.Trial, p map[string]interface{}) (hpo.Outcome, error) {
				return hpo.Complete(p["a"].(float64) + float64(p["b"].(int64))), nil
			},
		}
		cfg := hpo.RunConfig{
			Trials:  8,
			Workers: 1,
			Space: hpo.SearchSpace{
				"a": hpo.FloatRange(0, 1),
				"b": hpo.IntRange(0, 100),
			},
		}
		require.NoError(t, hpo.Run(context.Background(), st, obj, cfg))

		trials, err := st.Trials()
		require.NoError(t, err)
		return trials
	}

	first := run()
	second := run()
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Params, second[i].Params, "trial %d diverged", i)
		assert.Equal(t, *first[i].Value, *second[i].Value)
	}
}

func TestRunTrialOnlyConvention(t *testing.T) {
	st, err := hpo.CreateStudy(memory.New(), "tune",
		hpo.WithSampler(hpo.NewRandomSampler(5)))
	require.NoError(t, err)

	obj := hpo.Objective{
		Func: func(trial *hpo.Trial) (hpo.Outcome, error) {
			lr, err := trial.SuggestFloat("lr", 1e-4, 1e-1, hpo.WithLog())
			if err != nil {
				return hpo.Outcome{}, err
			}
			return hpo.Complete(lr), nil
		},
	}
	require.NoError(t, hpo.Run(context.Background(), st, obj, hpo.RunConfig{Trials: 5, Workers: 1}))

	trials, err := st.Trials()
	require.NoError(t, err)
	require.Len(t, trials, 5)
	for _, ft := range trials {
		assert.Contains(t, ft.Params, "lr")
	}
}

func TestRunConfigValidation(t *testing.T) {
	st, err := hpo.CreateStudy(memory.New(), "tune")
	require.NoError(t, err)

	noop := hpo.Objective{
		Func: func(*hpo.Trial) (hpo.Outcome, error) { return hpo.Complete(0), nil },
	}
	named := hpo.Objective{
		Named: func(*hpo.Trial, map[string]interface{}) (hpo.Outcome, error) {
			return hpo.Complete(0), nil
		},
	}
	space := hpo.SearchSpace{"x": hpo.FloatRange(0, 1)}

	tests := []struct {
		name string
		obj  hpo.Objective
		cfg  hpo.RunConfig
	}{
		{"zero trials", noop, hpo.RunConfig{Trials: 0, Workers: 1}},
		{"zero workers", noop, hpo.RunConfig{Trials: 1, Workers: 0}},
		{"no objective", hpo.Objective{}, hpo.RunConfig{Trials: 1, Workers: 1}},
		{"two conventions", hpo.Objective{Func: noop.Func, Named: named.Named}, hpo.RunConfig{Trials: 1, Workers: 1, Space: space}},
		{"space with trial-only", noop, hpo.RunConfig{Trials: 1, Workers: 1, Space: space}},
		{"named without space", named, hpo.RunConfig{Trials: 1, Workers: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hpo.Run(context.Background(), st, tt.obj, tt.cfg)
			require.Error(t, err)
			assert.True(t, hpo.IsUsageError(err))
		})
	}
}

func TestRunObjectiveErrorMarksFail(t *testing.T) {
	st, err := hpo.CreateStudy(memory.New(), "tune")
	require.NoError(t, err)

	boom := errors.New("training diverged")
	obj := hpo.Objective{
		Func: func(*hpo.Trial) (hpo.Outcome, error) { return hpo.Outcome{}, boom },
	}
	err = hpo.Run(context.Background(), st, obj, hpo.RunConfig{Trials: 3, Workers: 1})
	require.ErrorIs(t, err, boom)

	trials, err := st.Trials()
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, hpo.StateFail, trials[0].State)
}

func TestRunPrunedOutcome(t *testing.T) {
	st, err := hpo.CreateStudy(memory.New(), "tune")
	require.NoError(t, err)

	obj := hpo.Objective{
		Func: func(trial *hpo.Trial) (hpo.Outcome, error) {
			if trial.ID()%2 == 0 {
				return hpo.Prune(), nil
			}
			return hpo.Complete(1), nil
		},
	}
	require.NoError(t, hpo.Run(context.Background(), st, obj, hpo.RunConfig{Trials: 6, Workers: 1}))

	trials, err := st.Trials()
	require.NoError(t, err)
	pruned := 0
	for _, ft := range trials {
		if ft.State == hpo.StatePruned {
			pruned++
			assert.Nil(t, ft.Value)
		}
	}
	assert.Equal(t, 3, pruned)
}

func TestRunCancelledContext(t *testing.T) {
	st, err := hpo.CreateStudy(memory.New(), "tune")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	obj := hpo.Objective{
		Func: func(*hpo.Trial) (hpo.Outcome, error) { return hpo.Complete(0), nil },
	}
	err = hpo.Run(ctx, st, obj, hpo.RunConfig{Trials: 10, Workers: 1})
	require.ErrorIs(t, err, context.Canceled)

	trials, err := st.Trials()
	require.NoError(t, err)
	assert.Empty(t, trials)
}
