package hpo

import (
	"go.uber.org/zap"
)

// TrialState is the lifecycle state of a trial.
type TrialState int

const (
	// StateRunning is the initial state set by Ask.
	StateRunning TrialState = iota
	// StateComplete means the trial finished with a final value.
	StateComplete
	// StatePruned means the trial was stopped early.
	StatePruned
	// StateFail means evaluation raised an unrecoverable error.
	StateFail
)

// IsFinished reports whether the state is terminal. No transitions
// leave a terminal state.
func (s TrialState) IsFinished() bool {
	return s == StateComplete || s == StatePruned || s == StateFail
}

func (s TrialState) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateComplete:
		return "COMPLETE"
	case StatePruned:
		return "PRUNED"
	case StateFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// ParseTrialState is the inverse of TrialState.String.
func ParseTrialState(s string) (TrialState, error) {
	switch s {
	case "RUNNING":
		return StateRunning, nil
	case "COMPLETE":
		return StateComplete, nil
	case "PRUNED":
		return StatePruned, nil
	case "FAIL":
		return StateFail, nil
	default:
		return StateRunning, invalidf("unknown trial state %q", s)
	}
}

// FrozenTrial is the storage-visible record of a trial: its state, its
// suggested parameters in internal representation, its intermediate
// value history, and the final value once complete.
type FrozenTrial struct {
	ID            int
	StudyID       int
	State         TrialState
	Value         *float64
	Params        map[string]float64
	Distributions map[string]Distribution
	Intermediate  map[int]float64
}

// ParamValues converts the internal parameter representation to the
// externally visible values.
func (ft FrozenTrial) ParamValues() map[string]interface{} {
	out := make(map[string]interface{}, len(ft.Params))
	for name, internal := range ft.Params {
		if d, ok := ft.Distributions[name]; ok {
			out[name] = d.External(internal)
		}
	}
	return out
}

// LatestStep returns the highest reported step, or false if the trial
// has no intermediate history.
func (ft FrozenTrial) LatestStep() (int, bool) {
	found := false
	latest := 0
	for step := range ft.Intermediate {
		if !found || step > latest {
			latest = step
			found = true
		}
	}
	return latest, found
}

// Trial is the live handle bound to one storage-backed trial record. It
// mediates all interaction between the objective function and the
// study's sampler, pruner and storage.
type Trial struct {
	study *Study
	id    int
}

// ID returns the storage-assigned trial id.
func (t *Trial) ID() int { return t.id }

// suggestOptions collects the optional step / log-scale modifiers.
type suggestOptions struct {
	step    float64
	hasStep bool
	log     bool
}

// SuggestOption modifies a single suggestion call.
type SuggestOption func(*suggestOptions)

// WithStep discretizes the range. For integer suggestions the step must
// be a positive integer; for float suggestions any positive step works.
// Mutually exclusive with WithLog.
func WithStep(step float64) SuggestOption {
	return func(o *suggestOptions) {
		o.step = step
		o.hasStep = true
	}
}

// WithLog samples on a log scale. Requires a strictly positive domain.
// Mutually exclusive with WithStep.
func WithLog() SuggestOption {
	return func(o *suggestOptions) {
		o.log = true
	}
}

// SuggestInt suggests an integer in [low, high]. A name already
// suggested in this trial replays its previous value without consulting
// the sampler, even if the bounds differ.
func (t *Trial) SuggestInt(name string, low, high int64, opts ...SuggestOption) (int64, error) {
	o := suggestOptions{step: 1}
	for _, opt := range opts {
		opt(&o)
	}
	step := int64(o.step)
	if o.hasStep && float64(step) != o.step {
		return 0, invalidf("parameter %q: integer step required, got %v", name, o.step).WithOperation("suggest_int")
	}
	dist := IntDistribution{Low: low, High: high, Step: step, Log: o.log}
	if err := dist.validate(name); err != nil {
		return 0, err.WithOperation("suggest_int")
	}
	internal, err := t.suggest(name, dist)
	if err != nil {
		return 0, err
	}
	return internal.(int64), nil
}

// SuggestFloat suggests a double-precision value in [low, high]. Like
// all suggestions it is memoized per name; the distribution of the
// first call wins.
func (t *Trial) SuggestFloat(name string, low, high float64, opts ...SuggestOption) (float64, error) {
	var o suggestOptions
	for _, opt := range opts {
		opt(&o)
	}
	dist := FloatDistribution{Low: low, High: high, Step: o.step, Log: o.log}
	if err := dist.validate(name); err != nil {
		return 0, err.WithOperation("suggest_float")
	}
	internal, err := t.suggest(name, dist)
	if err != nil {
		return 0, err
	}
	return internal.(float64), nil
}

// SuggestFloat32 accepts single-precision bounds arriving from narrower
// callers (the HTTP surface, foreign clients). The suggestion itself is
// always double precision; the narrowing is an advisory condition
// logged once per parameter name, never an error.
func (t *Trial) SuggestFloat32(name string, low, high float32, opts ...SuggestOption) (float64, error) {
	t.study.warnNarrowedOnce(t.id, name)
	return t.SuggestFloat(name, float64(low), float64(high), opts...)
}

// SuggestCategorical suggests one element of choices. Choices must be a
// non-empty sequence of same-kind scalars (bool, int, float or string).
func (t *Trial) SuggestCategorical(name string, choices []interface{}) (interface{}, error) {
	normalized := make([]interface{}, len(choices))
	for i, c := range choices {
		normalized[i] = normalizeCategory(c)
	}
	dist := CategoricalDistribution{Choices: normalized}
	if err := dist.validate(name); err != nil {
		return nil, err.WithOperation("suggest_categorical")
	}
	return t.suggest(name, dist)
}

// suggest runs the shared memoize-or-sample path under the study lock,
// so sampler state and the trial record mutate one worker at a time.
func (t *Trial) suggest(name string, dist Distribution) (interface{}, error) {
	s := t.study
	s.mu.Lock()
	defer s.mu.Unlock()

	frozen, err := s.storage.GetTrial(t.id)
	if err != nil {
		return nil, WrapErrorf(err, "trial %d: read back for suggestion %q", t.id, name)
	}
	if frozen.State.IsFinished() {
		return nil, invalidf("trial %d: suggest %q on %s trial", t.id, name, frozen.State).WithOperation("suggest")
	}

	// Idempotent per name: replay the first value under the first
	// distribution, whatever bounds this call supplied. A different
	// suggestion kind cannot be replayed, only rejected.
	if internal, ok := frozen.Params[name]; ok {
		prev := frozen.Distributions[name]
		if prev.Kind() != dist.Kind() {
			return nil, invalidf("trial %d: parameter %q was suggested as %s, re-suggested as %s",
				t.id, name, prev.Kind(), dist.Kind()).WithOperation("suggest")
		}
		return prev.External(internal), nil
	}

	history, err := s.storage.AllTrials(s.id)
	if err != nil {
		return nil, WrapErrorf(err, "trial %d: load history for %q", t.id, name)
	}

	internal, err := s.sampler.Sample(history, t.id, name, dist)
	if err != nil {
		return nil, WrapErrorf(err, "trial %d: sample %q (%s)", t.id, name, descriptor(dist))
	}
	if !dist.Contains(internal) {
		return nil, NewErrorf("trial %d: sampler produced %v outside %s for %q",
			t.id, internal, descriptor(dist), name).WithComponent("sampler")
	}

	if err := s.storage.SetTrialParam(t.id, name, internal, dist); err != nil {
		return nil, WrapErrorf(err, "trial %d: persist %q", t.id, name)
	}

	s.logger.Debug("suggested parameter",
		zap.Int("trial_id", t.id),
		zap.String("name", name),
		zap.String("distribution", descriptor(dist)))

	return dist.External(internal), nil
}

// Report appends (step, value) to the trial's intermediate history. It
// never changes trial state and may be called repeatedly; callers are
// expected to use increasing steps, which pruners treat as the ordering
// key.
func (t *Trial) Report(value float64, step int) error {
	if err := t.study.storage.ReportIntermediate(t.id, step, value); err != nil {
		return WrapErrorf(err, "trial %d: report step %d", t.id, step)
	}
	return nil
}

// ShouldPrune asks the study's pruner whether this trial is unlikely to
// be competitive, given its own intermediate history and that of its
// siblings. Pure query, safe to call repeatedly. Without a configured
// pruner it always answers false.
func (t *Trial) ShouldPrune() (bool, error) {
	s := t.study
	if s.pruner == nil {
		return false, nil
	}
	history, err := s.storage.AllTrials(s.id)
	if err != nil {
		return false, WrapErrorf(err, "trial %d: load history for prune check", t.id)
	}
	var self FrozenTrial
	found := false
	for _, ft := range history {
		if ft.ID == t.id {
			self = ft
			found = true
			break
		}
	}
	if !found {
		return false, WrapErrorf(ErrNotFound, "trial %d", t.id)
	}
	return s.pruner.ShouldPrune(s.direction, history, self)
}
