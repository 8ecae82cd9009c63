package hpo

// StudyRecord is the durable identity of a study inside a Storage.
type StudyRecord struct {
	ID        int
	Name      string
	Direction Direction
}

// Storage is the durability contract the engine needs. Implementations
// must be safe for concurrent use: CreateTrial must never hand out a
// duplicate trial id under concurrent callers, and SetTrialState must
// atomically reject a transition out of a terminal state with
// ErrTrialFinished.
//
// Error conventions follow the package sentinels: ErrNotFound for a
// missing study or trial, ErrStudyExists for a duplicate create.
// Backend failures (I/O, SQL) propagate unchanged apart from added
// context; the engine adds no retry policy of its own.
type Storage interface {
	// CreateStudy allocates a study record. Fails with ErrStudyExists
	// if the name is taken.
	CreateStudy(name string, direction Direction) (int, error)

	// LoadStudy resolves a study by name.
	LoadStudy(name string) (StudyRecord, error)

	// DeleteStudy removes a study and all of its trials.
	DeleteStudy(studyID int) error

	// AllStudyNames lists every stored study name in creation order.
	AllStudyNames() ([]string, error)

	// CreateTrial allocates a new trial in the RUNNING state and
	// returns its id.
	CreateTrial(studyID int) (int, error)

	// SetTrialParam records a suggested parameter. Re-setting a name
	// is a no-op at this layer; the Trial layer memoizes before it
	// ever reaches here.
	SetTrialParam(trialID int, name string, internal float64, dist Distribution) error

	// ReportIntermediate appends an intermediate value at a step.
	ReportIntermediate(trialID int, step int, value float64) error

	// SetTrialState performs the terminal transition. finalValue is
	// only meaningful for StateComplete and may be nil otherwise.
	SetTrialState(trialID int, state TrialState, finalValue *float64) error

	// GetTrial reads back a single trial record.
	GetTrial(trialID int) (FrozenTrial, error)

	// AllTrials reads back every trial of a study in creation order.
	AllTrials(studyID int) ([]FrozenTrial, error)
}
