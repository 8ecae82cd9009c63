package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/sweep/internal/hpo"
	"github.com/copyleftdev/sweep/internal/storage/sqlite"
	"github.com/copyleftdev/sweep/internal/storage/storagetest"
)

func openTemp(t *testing.T) *sqlite.Storage {
	t.Helper()
	store, err := sqlite.Open("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) hpo.Storage {
		return openTemp(t)
	})
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := "file:" + filepath.Join(t.TempDir(), "test.db")

	store, err := sqlite.Open(path)
	require.NoError(t, err)

	studyID, err := store.CreateStudy("tune", hpo.Maximize)
	require.NoError(t, err)
	trialID, err := store.CreateTrial(studyID)
	require.NoError(t, err)
	require.NoError(t, store.SetTrialParam(trialID, "units", 64,
		hpo.IntDistribution{Low: 1, High: 1024, Step: 1, Log: true}))
	require.NoError(t, store.ReportIntermediate(trialID, 1, 0.8))
	v := 0.9
	require.NoError(t, store.SetTrialState(trialID, hpo.StateComplete, &v))
	require.NoError(t, store.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.LoadStudy("tune")
	require.NoError(t, err)
	assert.Equal(t, hpo.Maximize, rec.Direction)

	ft, err := reopened.GetTrial(trialID)
	require.NoError(t, err)
	assert.Equal(t, hpo.StateComplete, ft.State)
	require.NotNil(t, ft.Value)
	assert.Equal(t, 0.9, *ft.Value)
	assert.Equal(t, 64.0, ft.Params["units"])
	assert.Equal(t, hpo.IntDistribution{Low: 1, High: 1024, Step: 1, Log: true}, ft.Distributions["units"])
	assert.Equal(t, 0.8, ft.Intermediate[1])
}

func TestStudyEngineOnSQLite(t *testing.T) {
	store := openTemp(t)

	st, err := hpo.CreateStudy(store, "tune", hpo.WithSampler(hpo.NewRandomSampler(3)))
	require.NoError(t, err)

	trial, err := st.Ask()
	require.NoError(t, err)
	lr, err := trial.SuggestFloat("lr", 1e-4, 1e-1, hpo.WithLog())
	require.NoError(t, err)
	require.NoError(t, st.Tell(trial, hpo.Complete(lr)))

	best, err := st.BestTrial()
	require.NoError(t, err)
	assert.Equal(t, lr, *best.Value)
	assert.Equal(t, lr, best.ParamValues()["lr"])
}
