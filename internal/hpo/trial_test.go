package hpo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/sweep/internal/hpo"
	"github.com/copyleftdev/sweep/internal/storage/memory"
)

func newTestStudy(t *testing.T) *hpo.Study {
	t.Helper()
	st, err := hpo.CreateStudy(memory.New(), "tune",
		hpo.WithSampler(hpo.NewRandomSampler(17)))
	require.NoError(t, err)
	return st
}

func TestSuggestIntWithinBounds(t *testing.T) {
	st := newTestStudy(t)
	for i := 0; i < 20; i++ {
		trial, err := st.Ask()
		require.NoError(t, err)
		v, err := trial.SuggestInt("units", 32, 512)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, int64(32))
		assert.LessOrEqual(t, v, int64(512))
	}
}

func TestSuggestIdempotentPerName(t *testing.T) {
	st := newTestStudy(t)
	trial, err := st.Ask()
	require.NoError(t, err)

	first, err := trial.SuggestInt("units", 0, 1000)
	require.NoError(t, err)

	// Repeated suggestions replay the first value, even when the
	// caller supplies different bounds; the first distribution wins.
	again, err := trial.SuggestInt("units", 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	narrower, err := trial.SuggestInt("units", 500, 501)
	require.NoError(t, err)
	assert.Equal(t, first, narrower)
}

func TestSuggestKindMismatch(t *testing.T) {
	st := newTestStudy(t)
	trial, err := st.Ask()
	require.NoError(t, err)

	// A name keeps the kind of its first suggestion; asking for the
	// same name with another kind is a caller error, not a replay.
	_, err = trial.SuggestFloat("lr", 0, 1)
	require.NoError(t, err)

	_, err = trial.SuggestInt("lr", 0, 10)
	require.Error(t, err)
	assert.True(t, hpo.IsUsageError(err))
	assert.Contains(t, err.Error(), "lr")

	_, err = trial.SuggestCategorical("lr", []interface{}{"a", "b"})
	require.Error(t, err)
	assert.True(t, hpo.IsUsageError(err))

	// Same the other way around.
	_, err = trial.SuggestInt("units", 32, 512)
	require.NoError(t, err)
	_, err = trial.SuggestFloat("units", 0, 1)
	require.Error(t, err)
	assert.True(t, hpo.IsUsageError(err))

	// The mismatch leaves the memoized value intact.
	first, err := trial.SuggestFloat("lr", 0, 1)
	require.NoError(t, err)
	again, err := trial.SuggestFloat("lr", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestSuggestDistinctAcrossNames(t *testing.T) {
	st := newTestStudy(t)
	trial, err := st.Ask()
	require.NoError(t, err)

	a, err := trial.SuggestFloat("a", 0, 1)
	require.NoError(t, err)
	b, err := trial.SuggestFloat("b", 0, 1)
	require.NoError(t, err)
	// Two independent continuous draws; collision would indicate the
	// memoization key is wrong.
	assert.NotEqual(t, a, b)
}

func TestSuggestValidation(t *testing.T) {
	st := newTestStudy(t)
	trial, err := st.Ask()
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
	}{
		{"int inverted bounds", func() error {
			_, err := trial.SuggestInt("p1", 10, 1)
			return err
		}},
		{"int fractional step", func() error {
			_, err := trial.SuggestInt("p2", 0, 10, hpo.WithStep(0.5))
			return err
		}},
		{"int step with log", func() error {
			_, err := trial.SuggestInt("p3", 1, 10, hpo.WithStep(2), hpo.WithLog())
			return err
		}},
		{"float log nonpositive low", func() error {
			_, err := trial.SuggestFloat("p4", 0, 1, hpo.WithLog())
			return err
		}},
		{"categorical empty", func() error {
			_, err := trial.SuggestCategorical("p5", nil)
			return err
		}},
		{"categorical mixed", func() error {
			_, err := trial.SuggestCategorical("p6", []interface{}{"a", 1})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, hpo.IsUsageError(err))
		})
	}
}

func TestSuggestCategoricalWidensInts(t *testing.T) {
	st := newTestStudy(t)
	trial, err := st.Ask()
	require.NoError(t, err)

	v, err := trial.SuggestCategorical("batch", []interface{}{16, 32, 64})
	require.NoError(t, err)
	_, ok := v.(int64)
	assert.True(t, ok, "got %T", v)
}

func TestSuggestOnFinishedTrial(t *testing.T) {
	st := newTestStudy(t)
	trial, err := st.Ask()
	require.NoError(t, err)
	require.NoError(t, st.Tell(trial, hpo.Complete(0)))

	_, err = trial.SuggestFloat("late", 0, 1)
	require.Error(t, err)
	assert.True(t, hpo.IsUsageError(err))
}

func TestSuggestFloat32Widens(t *testing.T) {
	st := newTestStudy(t)
	trial, err := st.Ask()
	require.NoError(t, err)

	v, err := trial.SuggestFloat32("lr", 0.001, 0.1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, float64(float32(0.001)))
	assert.LessOrEqual(t, v, float64(float32(0.1)))
}

func TestReportAndLatestStep(t *testing.T) {
	st := newTestStudy(t)
	trial, err := st.Ask()
	require.NoError(t, err)

	require.NoError(t, trial.Report(0.9, 1))
	require.NoError(t, trial.Report(0.7, 2))
	// Re-reporting a step overwrites it.
	require.NoError(t, trial.Report(0.6, 2))

	ft, err := st.Trials()
	require.NoError(t, err)
	require.Len(t, ft, 1)
	assert.Equal(t, 0.6, ft[0].Intermediate[2])

	step, ok := ft[0].LatestStep()
	assert.True(t, ok)
	assert.Equal(t, 2, step)
}

func TestShouldPruneWithoutPruner(t *testing.T) {
	st := newTestStudy(t)
	trial, err := st.Ask()
	require.NoError(t, err)
	require.NoError(t, trial.Report(100, 1))

	prune, err := trial.ShouldPrune()
	require.NoError(t, err)
	assert.False(t, prune)
}
