// Package sqlite provides a durable implementation of the storage
// contract on an embedded SQLite database (modernc.org/sqlite, pure
// Go). One database file holds any number of studies.
package sqlite

import (
	"database/sql"
	"errors"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/copyleftdev/sweep/internal/hpo"
)

const schema = `
CREATE TABLE IF NOT EXISTS studies (
    study_id  INTEGER PRIMARY KEY AUTOINCREMENT,
    name      TEXT NOT NULL UNIQUE,
    direction TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trials (
    trial_id INTEGER PRIMARY KEY AUTOINCREMENT,
    study_id INTEGER NOT NULL REFERENCES studies(study_id) ON DELETE CASCADE,
    state    TEXT NOT NULL,
    value    REAL
);

CREATE TABLE IF NOT EXISTS trial_params (
    trial_id     INTEGER NOT NULL REFERENCES trials(trial_id) ON DELETE CASCADE,
    name         TEXT NOT NULL,
    internal     REAL NOT NULL,
    distribution TEXT NOT NULL,
    PRIMARY KEY (trial_id, name)
);

CREATE TABLE IF NOT EXISTS trial_intermediate (
    trial_id INTEGER NOT NULL REFERENCES trials(trial_id) ON DELETE CASCADE,
    step     INTEGER NOT NULL,
    value    REAL NOT NULL,
    PRIMARY KEY (trial_id, step)
);

CREATE INDEX IF NOT EXISTS idx_trials_study ON trials(study_id);
`

// Storage implements the storage contract on SQLite. SQLite allows a
// single writer at a time, so writes additionally serialize on a mutex
// instead of surfacing SQLITE_BUSY to callers.
type Storage struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) a study database at dsn, e.g.
// "file:data/sweep.db". Foreign keys are forced on for every pooled
// connection; a PRAGMA in the schema would only reach the first one.
func Open(dsn string) (*Storage, error) {
	if !strings.Contains(dsn, "_pragma=foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, hpo.WrapErrorf(err, "open sqlite %q", dsn)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, hpo.WrapErrorf(err, "migrate sqlite %q", dsn)
	}
	return &Storage{db: db}, nil
}

// Close releases the database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// CreateStudy implements hpo.Storage.
func (s *Storage) CreateStudy(name string, direction hpo.Direction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`INSERT INTO studies(name, direction) VALUES (?, ?)`, name, direction.String())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, hpo.WrapErrorf(hpo.ErrStudyExists, "study %q", name)
		}
		return 0, hpo.WrapErrorf(err, "create study %q", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, hpo.WrapErrorf(err, "create study %q", name)
	}
	return int(id), nil
}

// LoadStudy implements hpo.Storage.
func (s *Storage) LoadStudy(name string) (hpo.StudyRecord, error) {
	var (
		id  int
		dir string
	)
	err := s.db.QueryRow(`SELECT study_id, direction FROM studies WHERE name = ?`, name).Scan(&id, &dir)
	if errors.Is(err, sql.ErrNoRows) {
		return hpo.StudyRecord{}, hpo.WrapErrorf(hpo.ErrNotFound, "study %q", name)
	}
	if err != nil {
		return hpo.StudyRecord{}, hpo.WrapErrorf(err, "load study %q", name)
	}
	direction, err := hpo.ParseDirection(dir)
	if err != nil {
		return hpo.StudyRecord{}, hpo.WrapErrorf(err, "load study %q", name)
	}
	return hpo.StudyRecord{ID: id, Name: name, Direction: direction}, nil
}

// DeleteStudy implements hpo.Storage. Trials cascade.
func (s *Storage) DeleteStudy(studyID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM studies WHERE study_id = ?`, studyID)
	if err != nil {
		return hpo.WrapErrorf(err, "delete study id %d", studyID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return hpo.WrapErrorf(err, "delete study id %d", studyID)
	}
	if n == 0 {
		return hpo.WrapErrorf(hpo.ErrNotFound, "study id %d", studyID)
	}
	return nil
}

// AllStudyNames implements hpo.Storage.
func (s *Storage) AllStudyNames() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM studies ORDER BY study_id`)
	if err != nil {
		return nil, hpo.WrapError(err, "list studies")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, hpo.WrapError(err, "list studies")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateTrial implements hpo.Storage. AUTOINCREMENT guarantees ids are
// never reused, so concurrent callers cannot collide.
func (s *Storage) CreateTrial(studyID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM studies WHERE study_id = ?`, studyID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, hpo.WrapErrorf(hpo.ErrNotFound, "study id %d", studyID)
	}
	if err != nil {
		return 0, hpo.WrapErrorf(err, "create trial for study %d", studyID)
	}

	res, err := s.db.Exec(`INSERT INTO trials(study_id, state) VALUES (?, ?)`,
		studyID, hpo.StateRunning.String())
	if err != nil {
		return 0, hpo.WrapErrorf(err, "create trial for study %d", studyID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, hpo.WrapErrorf(err, "create trial for study %d", studyID)
	}
	return int(id), nil
}

// SetTrialParam implements hpo.Storage. Re-setting an existing name is
// a no-op.
func (s *Storage) SetTrialParam(trialID int, name string, internal float64, dist hpo.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.trialExists(trialID); err != nil {
		return err
	}
	encoded, err := encodeDistribution(dist)
	if err != nil {
		return hpo.WrapErrorf(err, "encode distribution for trial %d param %q", trialID, name)
	}
	_, err = s.db.Exec(
		`INSERT INTO trial_params(trial_id, name, internal, distribution) VALUES (?, ?, ?, ?)
		 ON CONFLICT(trial_id, name) DO NOTHING`,
		trialID, name, internal, encoded)
	if err != nil {
		return hpo.WrapErrorf(err, "set param %q for trial %d", name, trialID)
	}
	return nil
}

// ReportIntermediate implements hpo.Storage. A re-reported step keeps
// the latest value.
func (s *Storage) ReportIntermediate(trialID int, step int, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.trialExists(trialID); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO trial_intermediate(trial_id, step, value) VALUES (?, ?, ?)
		 ON CONFLICT(trial_id, step) DO UPDATE SET value = excluded.value`,
		trialID, step, value)
	if err != nil {
		return hpo.WrapErrorf(err, "report step %d for trial %d", step, trialID)
	}
	return nil
}

// trialExists distinguishes a missing trial from a constraint error.
func (s *Storage) trialExists(trialID int) error {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM trials WHERE trial_id = ?`, trialID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return hpo.WrapErrorf(hpo.ErrNotFound, "trial id %d", trialID)
	}
	if err != nil {
		return hpo.WrapErrorf(err, "check trial %d", trialID)
	}
	return nil
}

// SetTrialState implements hpo.Storage. The read-check-write runs in
// one transaction under the writer mutex, so the terminal-transition
// check is atomic.
func (s *Storage) SetTrialState(trialID int, state hpo.TrialState, finalValue *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return hpo.WrapErrorf(err, "set state for trial %d", trialID)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow(`SELECT state FROM trials WHERE trial_id = ?`, trialID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return hpo.WrapErrorf(hpo.ErrNotFound, "trial id %d", trialID)
	}
	if err != nil {
		return hpo.WrapErrorf(err, "set state for trial %d", trialID)
	}
	currentState, err := hpo.ParseTrialState(current)
	if err != nil {
		return hpo.WrapErrorf(err, "set state for trial %d", trialID)
	}
	if currentState.IsFinished() {
		return hpo.WrapErrorf(hpo.ErrTrialFinished, "trial id %d is %s", trialID, currentState)
	}

	if finalValue != nil {
		_, err = tx.Exec(`UPDATE trials SET state = ?, value = ? WHERE trial_id = ?`,
			state.String(), *finalValue, trialID)
	} else {
		_, err = tx.Exec(`UPDATE trials SET state = ? WHERE trial_id = ?`,
			state.String(), trialID)
	}
	if err != nil {
		return hpo.WrapErrorf(err, "set state for trial %d", trialID)
	}
	return tx.Commit()
}

// GetTrial implements hpo.Storage.
func (s *Storage) GetTrial(trialID int) (hpo.FrozenTrial, error) {
	var (
		studyID int
		state   string
		value   sql.NullFloat64
	)
	err := s.db.QueryRow(`SELECT study_id, state, value FROM trials WHERE trial_id = ?`, trialID).
		Scan(&studyID, &state, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return hpo.FrozenTrial{}, hpo.WrapErrorf(hpo.ErrNotFound, "trial id %d", trialID)
	}
	if err != nil {
		return hpo.FrozenTrial{}, hpo.WrapErrorf(err, "get trial %d", trialID)
	}

	ft, err := s.buildTrial(trialID, studyID, state, value)
	if err != nil {
		return hpo.FrozenTrial{}, err
	}
	return ft, nil
}

// AllTrials implements hpo.Storage.
func (s *Storage) AllTrials(studyID int) ([]hpo.FrozenTrial, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM studies WHERE study_id = ?`, studyID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, hpo.WrapErrorf(hpo.ErrNotFound, "study id %d", studyID)
	}
	if err != nil {
		return nil, hpo.WrapErrorf(err, "list trials of study %d", studyID)
	}

	rows, err := s.db.Query(
		`SELECT trial_id, state, value FROM trials WHERE study_id = ? ORDER BY trial_id`, studyID)
	if err != nil {
		return nil, hpo.WrapErrorf(err, "list trials of study %d", studyID)
	}
	defer rows.Close()

	type header struct {
		id    int
		state string
		value sql.NullFloat64
	}
	var headers []header
	for rows.Next() {
		var h header
		if err := rows.Scan(&h.id, &h.state, &h.value); err != nil {
			return nil, hpo.WrapErrorf(err, "list trials of study %d", studyID)
		}
		headers = append(headers, h)
	}
	if err := rows.Err(); err != nil {
		return nil, hpo.WrapErrorf(err, "list trials of study %d", studyID)
	}

	out := make([]hpo.FrozenTrial, 0, len(headers))
	for _, h := range headers {
		ft, err := s.buildTrial(h.id, studyID, h.state, h.value)
		if err != nil {
			return nil, err
		}
		out = append(out, ft)
	}
	return out, nil
}

// buildTrial assembles a FrozenTrial from the trial header plus its
// params and intermediate rows.
func (s *Storage) buildTrial(trialID, studyID int, state string, value sql.NullFloat64) (hpo.FrozenTrial, error) {
	st, err := hpo.ParseTrialState(state)
	if err != nil {
		return hpo.FrozenTrial{}, hpo.WrapErrorf(err, "trial %d", trialID)
	}
	ft := hpo.FrozenTrial{
		ID:            trialID,
		StudyID:       studyID,
		State:         st,
		Params:        make(map[string]float64),
		Distributions: make(map[string]hpo.Distribution),
		Intermediate:  make(map[int]float64),
	}
	if value.Valid {
		v := value.Float64
		ft.Value = &v
	}

	rows, err := s.db.Query(
		`SELECT name, internal, distribution FROM trial_params WHERE trial_id = ?`, trialID)
	if err != nil {
		return hpo.FrozenTrial{}, hpo.WrapErrorf(err, "params of trial %d", trialID)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name     string
			internal float64
			encoded  string
		)
		if err := rows.Scan(&name, &internal, &encoded); err != nil {
			return hpo.FrozenTrial{}, hpo.WrapErrorf(err, "params of trial %d", trialID)
		}
		dist, err := decodeDistribution(encoded)
		if err != nil {
			return hpo.FrozenTrial{}, hpo.WrapErrorf(err, "params of trial %d", trialID)
		}
		ft.Params[name] = internal
		ft.Distributions[name] = dist
	}
	if err := rows.Err(); err != nil {
		return hpo.FrozenTrial{}, hpo.WrapErrorf(err, "params of trial %d", trialID)
	}

	irows, err := s.db.Query(
		`SELECT step, value FROM trial_intermediate WHERE trial_id = ?`, trialID)
	if err != nil {
		return hpo.FrozenTrial{}, hpo.WrapErrorf(err, "intermediate of trial %d", trialID)
	}
	defer irows.Close()
	for irows.Next() {
		var (
			step int
			v    float64
		)
		if err := irows.Scan(&step, &v); err != nil {
			return hpo.FrozenTrial{}, hpo.WrapErrorf(err, "intermediate of trial %d", trialID)
		}
		ft.Intermediate[step] = v
	}
	return ft, irows.Err()
}
