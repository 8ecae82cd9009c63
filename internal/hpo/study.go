// Package hpo implements the trial lifecycle and optimization-loop
// coordination engine: studies, trials, the ask/tell protocol, and the
// storage/sampler/pruner contracts the engine is parameterized over.
package hpo

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Direction says whether smaller or larger final values win.
type Direction int

const (
	// Minimize treats smaller final values as better.
	Minimize Direction = iota
	// Maximize treats larger final values as better.
	Maximize
)

func (d Direction) String() string {
	if d == Maximize {
		return "maximize"
	}
	return "minimize"
}

// ParseDirection accepts exactly "minimize" or "maximize".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "minimize":
		return Minimize, nil
	case "maximize":
		return Maximize, nil
	default:
		return Minimize, invalidf("direction must be \"minimize\" or \"maximize\", got %q", s)
	}
}

// Study owns one optimization problem: a name, a direction, a sampler,
// a pruner and a storage. It mediates the ask/tell protocol and the
// best-result queries. A Study handle is safe for concurrent use; Ask,
// suggestion calls and Tell serialize on an internal mutex while
// objective evaluation runs outside it.
type Study struct {
	id        int
	name      string
	direction Direction
	storage   Storage
	sampler   Sampler
	pruner    Pruner
	artifacts ArtifactStore
	logger    *zap.Logger

	// mu guards the shared sampler/storage call surface across
	// workers (ask, suggest, tell).
	mu sync.Mutex

	// warnedNarrow tracks once-per-parameter-name precision advisories.
	warnedNarrow   map[string]struct{}
	warnedNarrowMu sync.Mutex
}

type studyOptions struct {
	direction    Direction
	sampler      Sampler
	pruner       Pruner
	artifacts    ArtifactStore
	logger       *zap.Logger
	loadIfExists bool
}

// StudyOption configures CreateStudy / LoadStudy.
type StudyOption func(*studyOptions)

// WithDirection sets the optimization direction. Only meaningful at
// creation; a loaded study keeps its stored direction.
func WithDirection(d Direction) StudyOption {
	return func(o *studyOptions) { o.direction = d }
}

// WithSampler sets the sampler. Defaults to a time-seeded RandomSampler.
func WithSampler(s Sampler) StudyOption {
	return func(o *studyOptions) { o.sampler = s }
}

// WithPruner sets the pruner. Without one, ShouldPrune always answers
// false.
func WithPruner(p Pruner) StudyOption {
	return func(o *studyOptions) { o.pruner = p }
}

// WithArtifactStore attaches an artifact side channel to the study.
func WithArtifactStore(a ArtifactStore) StudyOption {
	return func(o *studyOptions) { o.artifacts = a }
}

// WithLogger sets the study logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) StudyOption {
	return func(o *studyOptions) { o.logger = l }
}

// WithLoadIfExists controls whether CreateStudy attaches to an existing
// study of the same name instead of failing. Defaults to true.
func WithLoadIfExists(load bool) StudyOption {
	return func(o *studyOptions) { o.loadIfExists = load }
}

func buildOptions(opts []StudyOption) studyOptions {
	o := studyOptions{loadIfExists: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sampler == nil {
		o.sampler = NewRandomSampler(0)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// CreateStudy creates a study in storage, or attaches to an existing
// one of the same name unless WithLoadIfExists(false) was given.
func CreateStudy(storage Storage, name string, opts ...StudyOption) (*Study, error) {
	if storage == nil {
		return nil, invalidf("storage is required")
	}
	if name == "" {
		return nil, invalidf("study name must not be empty")
	}
	o := buildOptions(opts)

	id, err := storage.CreateStudy(name, o.direction)
	if errors.Is(err, ErrStudyExists) && o.loadIfExists {
		return LoadStudy(storage, name, opts...)
	}
	if err != nil {
		return nil, WrapErrorf(err, "create study %q", name)
	}

	o.logger.Info("study created",
		zap.String("study", name),
		zap.String("direction", o.direction.String()))

	return newStudy(id, name, o.direction, storage, o), nil
}

// LoadStudy attaches to an existing study, preserving its stored
// direction. Fails with ErrNotFound if the study is absent.
func LoadStudy(storage Storage, name string, opts ...StudyOption) (*Study, error) {
	if storage == nil {
		return nil, invalidf("storage is required")
	}
	o := buildOptions(opts)

	rec, err := storage.LoadStudy(name)
	if err != nil {
		return nil, WrapErrorf(err, "load study %q", name)
	}
	return newStudy(rec.ID, rec.Name, rec.Direction, storage, o), nil
}

func newStudy(id int, name string, direction Direction, storage Storage, o studyOptions) *Study {
	return &Study{
		id:           id,
		name:         name,
		direction:    direction,
		storage:      storage,
		sampler:      o.sampler,
		pruner:       o.pruner,
		artifacts:    o.artifacts,
		logger:       o.logger,
		warnedNarrow: make(map[string]struct{}),
	}
}

// DeleteStudy removes a study and all of its trials from storage.
func DeleteStudy(storage Storage, name string) error {
	rec, err := storage.LoadStudy(name)
	if err != nil {
		return WrapErrorf(err, "delete study %q", name)
	}
	return storage.DeleteStudy(rec.ID)
}

// CopyStudy duplicates a study and its trial history into another
// storage. toName defaults to fromName. Written purely against the
// Storage contract, so the two backends may be heterogeneous.
func CopyStudy(from, to Storage, fromName, toName string) error {
	if toName == "" {
		toName = fromName
	}
	rec, err := from.LoadStudy(fromName)
	if err != nil {
		return WrapErrorf(err, "copy study %q", fromName)
	}
	trials, err := from.AllTrials(rec.ID)
	if err != nil {
		return WrapErrorf(err, "copy study %q: read trials", fromName)
	}

	toID, err := to.CreateStudy(toName, rec.Direction)
	if err != nil {
		return WrapErrorf(err, "copy study %q to %q", fromName, toName)
	}
	for _, ft := range trials {
		trialID, err := to.CreateTrial(toID)
		if err != nil {
			return WrapErrorf(err, "copy study %q: trial", fromName)
		}
		for pname, internal := range ft.Params {
			if err := to.SetTrialParam(trialID, pname, internal, ft.Distributions[pname]); err != nil {
				return WrapErrorf(err, "copy study %q: param %q", fromName, pname)
			}
		}
		for step, v := range ft.Intermediate {
			if err := to.ReportIntermediate(trialID, step, v); err != nil {
				return WrapErrorf(err, "copy study %q: intermediate", fromName)
			}
		}
		if ft.State != StateRunning {
			if err := to.SetTrialState(trialID, ft.State, ft.Value); err != nil {
				return WrapErrorf(err, "copy study %q: state", fromName)
			}
		}
	}
	return nil
}

// Name returns the study name.
func (s *Study) Name() string { return s.name }

// Direction returns the optimization direction fixed at creation.
func (s *Study) Direction() Direction { return s.direction }

// Ask allocates a new trial in the RUNNING state bound to this study's
// sampler and returns its handle. Safe to call from multiple workers;
// every call yields a distinct trial.
func (s *Study) Ask() (*Trial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.storage.CreateTrial(s.id)
	if err != nil {
		return nil, WrapErrorf(err, "ask study %q", s.name)
	}
	s.logger.Debug("trial asked", zap.String("study", s.name), zap.Int("trial_id", id))
	return &Trial{study: s, id: id}, nil
}

// Trial resolves a handle for an existing trial of this study, so a
// caller holding only the id (a remote worker, a resumed process) can
// keep suggesting and reporting against it.
func (s *Study) Trial(id int) (*Trial, error) {
	ft, err := s.storage.GetTrial(id)
	if err != nil {
		return nil, WrapErrorf(err, "resolve trial %d", id)
	}
	if ft.StudyID != s.id {
		return nil, invalidf("trial %d belongs to another study", id)
	}
	return &Trial{study: s, id: id}, nil
}

// Outcome is the tagged final result of a trial: either Complete with
// a numeric value or Prune. The zero Outcome carries neither, which
// Tell rejects as a usage error.
type Outcome struct {
	kind  int // 0 none, 1 complete, 2 pruned
	value float64
}

// Complete finalizes a trial with a numeric final value.
func Complete(value float64) Outcome {
	return Outcome{kind: 1, value: value}
}

// Prune marks a trial as stopped early. Any partial final value is
// ignored.
func Prune() Outcome {
	return Outcome{kind: 2}
}

// Completed returns the final value when the outcome is Complete.
func (o Outcome) Completed() (float64, bool) {
	return o.value, o.kind == 1
}

// Pruned reports whether the outcome is Prune.
func (o Outcome) Pruned() bool { return o.kind == 2 }

// Tell finalizes a trial exactly once. Telling an already-terminal
// trial, or telling a zero Outcome, is a usage error.
func (s *Study) Tell(t *Trial, outcome Outcome) error {
	if t == nil {
		return invalidf("tell: trial is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case outcome.Pruned():
		if err := s.storage.SetTrialState(t.id, StatePruned, nil); err != nil {
			return WrapErrorf(err, "tell trial %d pruned", t.id)
		}
		s.logger.Debug("trial pruned", zap.String("study", s.name), zap.Int("trial_id", t.id))
		return nil
	default:
		value, ok := outcome.Completed()
		if !ok {
			return invalidf("tell trial %d: either a final value or prune is required", t.id).WithOperation("tell")
		}
		if err := s.storage.SetTrialState(t.id, StateComplete, &value); err != nil {
			return WrapErrorf(err, "tell trial %d complete", t.id)
		}
		s.logger.Debug("trial completed",
			zap.String("study", s.name),
			zap.Int("trial_id", t.id),
			zap.Float64("value", value))
		return nil
	}
}

// fail marks a trial FAIL after an objective error. Best effort: a
// trial already finished stays as it is.
func (s *Study) fail(t *Trial) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.SetTrialState(t.id, StateFail, nil); err != nil && !errors.Is(err, ErrTrialFinished) {
		s.logger.Warn("failed to mark trial FAIL", zap.Int("trial_id", t.id), zap.Error(err))
	}
}

// Trials returns every trial of the study in creation order.
func (s *Study) Trials() ([]FrozenTrial, error) {
	return s.storage.AllTrials(s.id)
}

// BestTrial returns the COMPLETE trial with the direction-best final
// value. PRUNED, FAIL and RUNNING trials never participate. Fails with
// ErrNoCompletedTrials when nothing has completed yet.
func (s *Study) BestTrial() (FrozenTrial, error) {
	trials, err := s.storage.AllTrials(s.id)
	if err != nil {
		return FrozenTrial{}, WrapErrorf(err, "best trial of %q", s.name)
	}

	var best FrozenTrial
	found := false
	for _, ft := range trials {
		if ft.State != StateComplete || ft.Value == nil {
			continue
		}
		if !found || s.better(*ft.Value, *best.Value) {
			best = ft
			found = true
		}
	}
	if !found {
		return FrozenTrial{}, WrapErrorf(ErrNoCompletedTrials, "study %q", s.name)
	}
	return best, nil
}

// BestValue returns the final value of the best trial.
func (s *Study) BestValue() (float64, error) {
	best, err := s.BestTrial()
	if err != nil {
		return 0, err
	}
	return *best.Value, nil
}

// BestParams returns the externally visible parameters of the best
// trial.
func (s *Study) BestParams() (map[string]interface{}, error) {
	best, err := s.BestTrial()
	if err != nil {
		return nil, err
	}
	return best.ParamValues(), nil
}

// better reports whether a beats b under the study direction.
func (s *Study) better(a, b float64) bool {
	if s.direction == Maximize {
		return a > b
	}
	return a < b
}

// UploadArtifact attaches a blob to a trial through the configured
// artifact store and returns the artifact id.
func (s *Study) UploadArtifact(t *Trial, mimeType, encoding string, r io.Reader) (string, error) {
	if s.artifacts == nil {
		return "", invalidf("study %q has no artifact store configured", s.name)
	}
	return s.artifacts.Upload(s.name, t.id, mimeType, encoding, r)
}

// TrialArtifacts lists artifact metadata attached to a trial.
func (s *Study) TrialArtifacts(t *Trial) ([]ArtifactMeta, error) {
	if s.artifacts == nil {
		return nil, invalidf("study %q has no artifact store configured", s.name)
	}
	return s.artifacts.List(s.name, t.id)
}

// DownloadArtifact streams an artifact's content into dst.
func (s *Study) DownloadArtifact(artifactID string, dst io.Writer) error {
	if s.artifacts == nil {
		return invalidf("study %q has no artifact store configured", s.name)
	}
	return s.artifacts.Download(s.name, artifactID, dst)
}

// warnNarrowedOnce logs the float-precision advisory at most once per
// parameter name per trial.
func (s *Study) warnNarrowedOnce(trialID int, name string) {
	key := fmt.Sprintf("%d/%s", trialID, name)
	s.warnedNarrowMu.Lock()
	_, seen := s.warnedNarrow[key]
	if !seen {
		s.warnedNarrow[key] = struct{}{}
	}
	s.warnedNarrowMu.Unlock()
	if !seen {
		s.logger.Warn("float32 bounds sampled at float64 precision",
			zap.Int("trial_id", trialID),
			zap.String("name", name))
	}
}
