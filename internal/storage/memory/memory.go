// Package memory provides a non-durable, in-process implementation of
// the storage contract. It is the default backend for tests and
// single-process runs.
package memory

import (
	"sync"

	"github.com/copyleftdev/sweep/internal/hpo"
)

type studyRecord struct {
	id        int
	name      string
	direction hpo.Direction
	trialIDs  []int
}

type trialRecord struct {
	id            int
	studyID       int
	state         hpo.TrialState
	value         *float64
	params        map[string]float64
	distributions map[string]hpo.Distribution
	intermediate  map[int]float64
}

// Storage keeps every record in maps behind a single RWMutex. Trial ids
// are allocated from a monotonic counter, so concurrent CreateTrial
// calls can never collide.
type Storage struct {
	mu          sync.RWMutex
	studies     map[int]*studyRecord
	byName      map[string]int
	trials      map[int]*trialRecord
	nameOrder   []string
	nextStudyID int
	nextTrialID int
}

// New creates an empty in-memory storage.
func New() *Storage {
	return &Storage{
		studies:     make(map[int]*studyRecord),
		byName:      make(map[string]int),
		trials:      make(map[int]*trialRecord),
		nextStudyID: 1,
		nextTrialID: 1,
	}
}

// CreateStudy implements hpo.Storage.
func (s *Storage) CreateStudy(name string, direction hpo.Direction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[name]; ok {
		return 0, hpo.WrapErrorf(hpo.ErrStudyExists, "study %q", name)
	}
	id := s.nextStudyID
	s.nextStudyID++
	s.studies[id] = &studyRecord{id: id, name: name, direction: direction}
	s.byName[name] = id
	s.nameOrder = append(s.nameOrder, name)
	return id, nil
}

// LoadStudy implements hpo.Storage.
func (s *Storage) LoadStudy(name string) (hpo.StudyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return hpo.StudyRecord{}, hpo.WrapErrorf(hpo.ErrNotFound, "study %q", name)
	}
	rec := s.studies[id]
	return hpo.StudyRecord{ID: rec.id, Name: rec.name, Direction: rec.direction}, nil
}

// DeleteStudy implements hpo.Storage. Owned trials go with the study.
func (s *Storage) DeleteStudy(studyID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.studies[studyID]
	if !ok {
		return hpo.WrapErrorf(hpo.ErrNotFound, "study id %d", studyID)
	}
	for _, tid := range rec.trialIDs {
		delete(s.trials, tid)
	}
	delete(s.studies, studyID)
	delete(s.byName, rec.name)
	for i, n := range s.nameOrder {
		if n == rec.name {
			s.nameOrder = append(s.nameOrder[:i], s.nameOrder[i+1:]...)
			break
		}
	}
	return nil
}

// AllStudyNames implements hpo.Storage.
func (s *Storage) AllStudyNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.nameOrder...), nil
}

// CreateTrial implements hpo.Storage.
func (s *Storage) CreateTrial(studyID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.studies[studyID]
	if !ok {
		return 0, hpo.WrapErrorf(hpo.ErrNotFound, "study id %d", studyID)
	}
	id := s.nextTrialID
	s.nextTrialID++
	s.trials[id] = &trialRecord{
		id:            id,
		studyID:       studyID,
		state:         hpo.StateRunning,
		params:        make(map[string]float64),
		distributions: make(map[string]hpo.Distribution),
		intermediate:  make(map[int]float64),
	}
	rec.trialIDs = append(rec.trialIDs, id)
	return id, nil
}

// SetTrialParam implements hpo.Storage.
func (s *Storage) SetTrialParam(trialID int, name string, internal float64, dist hpo.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.trials[trialID]
	if !ok {
		return hpo.WrapErrorf(hpo.ErrNotFound, "trial id %d", trialID)
	}
	if _, exists := rec.params[name]; exists {
		return nil
	}
	rec.params[name] = internal
	rec.distributions[name] = dist
	return nil
}

// ReportIntermediate implements hpo.Storage.
func (s *Storage) ReportIntermediate(trialID int, step int, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.trials[trialID]
	if !ok {
		return hpo.WrapErrorf(hpo.ErrNotFound, "trial id %d", trialID)
	}
	rec.intermediate[step] = value
	return nil
}

// SetTrialState implements hpo.Storage.
func (s *Storage) SetTrialState(trialID int, state hpo.TrialState, finalValue *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.trials[trialID]
	if !ok {
		return hpo.WrapErrorf(hpo.ErrNotFound, "trial id %d", trialID)
	}
	if rec.state.IsFinished() {
		return hpo.WrapErrorf(hpo.ErrTrialFinished, "trial id %d is %s", trialID, rec.state)
	}
	rec.state = state
	if finalValue != nil {
		v := *finalValue
		rec.value = &v
	}
	return nil
}

// GetTrial implements hpo.Storage.
func (s *Storage) GetTrial(trialID int) (hpo.FrozenTrial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.trials[trialID]
	if !ok {
		return hpo.FrozenTrial{}, hpo.WrapErrorf(hpo.ErrNotFound, "trial id %d", trialID)
	}
	return freeze(rec), nil
}

// AllTrials implements hpo.Storage.
func (s *Storage) AllTrials(studyID int) ([]hpo.FrozenTrial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.studies[studyID]
	if !ok {
		return nil, hpo.WrapErrorf(hpo.ErrNotFound, "study id %d", studyID)
	}
	out := make([]hpo.FrozenTrial, 0, len(rec.trialIDs))
	for _, tid := range rec.trialIDs {
		out = append(out, freeze(s.trials[tid]))
	}
	return out, nil
}

// freeze copies a record into the read-only contract shape. Callers
// hold at least a read lock.
func freeze(rec *trialRecord) hpo.FrozenTrial {
	ft := hpo.FrozenTrial{
		ID:            rec.id,
		StudyID:       rec.studyID,
		State:         rec.state,
		Params:        make(map[string]float64, len(rec.params)),
		Distributions: make(map[string]hpo.Distribution, len(rec.distributions)),
		Intermediate:  make(map[int]float64, len(rec.intermediate)),
	}
	if rec.value != nil {
		v := *rec.value
		ft.Value = &v
	}
	for k, v := range rec.params {
		ft.Params[k] = v
	}
	for k, v := range rec.distributions {
		ft.Distributions[k] = v
	}
	for k, v := range rec.intermediate {
		ft.Intermediate[k] = v
	}
	return ft
}
