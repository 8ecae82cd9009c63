// Package storagetest runs the storage contract against any backend.
package storagetest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/sweep/internal/hpo"
)

// Factory builds a fresh, empty storage for one subtest.
type Factory func(t *testing.T) hpo.Storage

// Run exercises the full storage contract against the backend built by
// factory.
func Run(t *testing.T, factory Factory) {
	t.Run("StudyLifecycle", func(t *testing.T) { testStudyLifecycle(t, factory(t)) })
	t.Run("DuplicateStudy", func(t *testing.T) { testDuplicateStudy(t, factory(t)) })
	t.Run("TrialLifecycle", func(t *testing.T) { testTrialLifecycle(t, factory(t)) })
	t.Run("TerminalStateSticks", func(t *testing.T) { testTerminalStateSticks(t, factory(t)) })
	t.Run("ParamFirstWriteWins", func(t *testing.T) { testParamFirstWriteWins(t, factory(t)) })
	t.Run("IntermediateOverwrite", func(t *testing.T) { testIntermediateOverwrite(t, factory(t)) })
	t.Run("Distributions", func(t *testing.T) { testDistributionRoundTrip(t, factory(t)) })
	t.Run("MissingRecords", func(t *testing.T) { testMissingRecords(t, factory(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, factory(t)) })
}

func testStudyLifecycle(t *testing.T, store hpo.Storage) {
	id, err := store.CreateStudy("alpha", hpo.Maximize)
	require.NoError(t, err)

	rec, err := store.LoadStudy("alpha")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "alpha", rec.Name)
	assert.Equal(t, hpo.Maximize, rec.Direction)

	_, err = store.CreateStudy("beta", hpo.Minimize)
	require.NoError(t, err)

	names, err := store.AllStudyNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func testDuplicateStudy(t *testing.T, store hpo.Storage) {
	_, err := store.CreateStudy("alpha", hpo.Minimize)
	require.NoError(t, err)
	_, err = store.CreateStudy("alpha", hpo.Minimize)
	require.ErrorIs(t, err, hpo.ErrStudyExists)
}

func testTrialLifecycle(t *testing.T, store hpo.Storage) {
	studyID, err := store.CreateStudy("alpha", hpo.Minimize)
	require.NoError(t, err)

	first, err := store.CreateTrial(studyID)
	require.NoError(t, err)
	second, err := store.CreateTrial(studyID)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	ft, err := store.GetTrial(first)
	require.NoError(t, err)
	assert.Equal(t, hpo.StateRunning, ft.State)
	assert.Equal(t, studyID, ft.StudyID)
	assert.Nil(t, ft.Value)

	v := 0.25
	require.NoError(t, store.SetTrialState(first, hpo.StateComplete, &v))

	ft, err = store.GetTrial(first)
	require.NoError(t, err)
	assert.Equal(t, hpo.StateComplete, ft.State)
	require.NotNil(t, ft.Value)
	assert.Equal(t, 0.25, *ft.Value)

	all, err := store.AllTrials(studyID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first, all[0].ID)
	assert.Equal(t, second, all[1].ID)
}

func testTerminalStateSticks(t *testing.T, store hpo.Storage) {
	studyID, err := store.CreateStudy("alpha", hpo.Minimize)
	require.NoError(t, err)
	trialID, err := store.CreateTrial(studyID)
	require.NoError(t, err)

	require.NoError(t, store.SetTrialState(trialID, hpo.StatePruned, nil))

	v := 1.0
	err = store.SetTrialState(trialID, hpo.StateComplete, &v)
	require.ErrorIs(t, err, hpo.ErrTrialFinished)

	ft, err := store.GetTrial(trialID)
	require.NoError(t, err)
	assert.Equal(t, hpo.StatePruned, ft.State)
	assert.Nil(t, ft.Value)
}

func testParamFirstWriteWins(t *testing.T, store hpo.Storage) {
	studyID, err := store.CreateStudy("alpha", hpo.Minimize)
	require.NoError(t, err)
	trialID, err := store.CreateTrial(studyID)
	require.NoError(t, err)

	dist := hpo.FloatDistribution{Low: 0, High: 1}
	require.NoError(t, store.SetTrialParam(trialID, "lr", 0.5, dist))
	require.NoError(t, store.SetTrialParam(trialID, "lr", 0.9, dist))

	ft, err := store.GetTrial(trialID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, ft.Params["lr"])
}

func testIntermediateOverwrite(t *testing.T, store hpo.Storage) {
	studyID, err := store.CreateStudy("alpha", hpo.Minimize)
	require.NoError(t, err)
	trialID, err := store.CreateTrial(studyID)
	require.NoError(t, err)

	require.NoError(t, store.ReportIntermediate(trialID, 1, 0.9))
	require.NoError(t, store.ReportIntermediate(trialID, 2, 0.8))
	require.NoError(t, store.ReportIntermediate(trialID, 2, 0.7))

	ft, err := store.GetTrial(trialID)
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{1: 0.9, 2: 0.7}, ft.Intermediate)
}

func testDistributionRoundTrip(t *testing.T, store hpo.Storage) {
	studyID, err := store.CreateStudy("alpha", hpo.Minimize)
	require.NoError(t, err)
	trialID, err := store.CreateTrial(studyID)
	require.NoError(t, err)

	intDist := hpo.IntDistribution{Low: 1, High: 1024, Step: 1, Log: true}
	floatDist := hpo.FloatDistribution{Low: 0, High: 1, Step: 0.25}
	catDist := hpo.CategoricalDistribution{Choices: []interface{}{"adam", "sgd"}}

	require.NoError(t, store.SetTrialParam(trialID, "units", 64, intDist))
	require.NoError(t, store.SetTrialParam(trialID, "dropout", 0.25, floatDist))
	require.NoError(t, store.SetTrialParam(trialID, "optimizer", 1, catDist))

	ft, err := store.GetTrial(trialID)
	require.NoError(t, err)
	assert.Equal(t, intDist, ft.Distributions["units"])
	assert.Equal(t, floatDist, ft.Distributions["dropout"])
	assert.Equal(t, catDist, ft.Distributions["optimizer"])

	params := ft.ParamValues()
	assert.Equal(t, int64(64), params["units"])
	assert.Equal(t, 0.25, params["dropout"])
	assert.Equal(t, "sgd", params["optimizer"])
}

func testMissingRecords(t *testing.T, store hpo.Storage) {
	_, err := store.LoadStudy("missing")
	require.ErrorIs(t, err, hpo.ErrNotFound)

	_, err = store.GetTrial(12345)
	require.ErrorIs(t, err, hpo.ErrNotFound)

	_, err = store.CreateTrial(12345)
	require.ErrorIs(t, err, hpo.ErrNotFound)

	err = store.SetTrialParam(12345, "p", 0, hpo.FloatDistribution{Low: 0, High: 1})
	require.ErrorIs(t, err, hpo.ErrNotFound)

	err = store.ReportIntermediate(12345, 1, 0)
	require.ErrorIs(t, err, hpo.ErrNotFound)

	err = store.DeleteStudy(12345)
	require.ErrorIs(t, err, hpo.ErrNotFound)
}

func testDeleteCascades(t *testing.T, store hpo.Storage) {
	studyID, err := store.CreateStudy("alpha", hpo.Minimize)
	require.NoError(t, err)
	trialID, err := store.CreateTrial(studyID)
	require.NoError(t, err)

	require.NoError(t, store.DeleteStudy(studyID))

	_, err = store.LoadStudy("alpha")
	require.ErrorIs(t, err, hpo.ErrNotFound)
	_, err = store.GetTrial(trialID)
	require.ErrorIs(t, err, hpo.ErrNotFound)
}
