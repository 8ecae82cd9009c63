package hpo

import (
	"context"
	"runtime"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// dimensionKind tags the variants of a search-space dimension.
type dimensionKind int

const (
	dimInt dimensionKind = iota
	dimFloat
	dimChoice
)

// Dimension is one entry of a declared search space: an integer range,
// a real range, or a categorical choice list.
type Dimension struct {
	kind    dimensionKind
	intLow  int64
	intHigh int64
	low     float64
	high    float64
	choices []interface{}
}

// IntRange declares an inclusive integer dimension.
func IntRange(low, high int64) Dimension {
	return Dimension{kind: dimInt, intLow: low, intHigh: high}
}

// FloatRange declares an inclusive real dimension.
func FloatRange(low, high float64) Dimension {
	return Dimension{kind: dimFloat, low: low, high: high}
}

// Choice declares a categorical dimension over the given values.
func Choice(choices ...interface{}) Dimension {
	return Dimension{kind: dimChoice, choices: choices}
}

// SearchSpace maps parameter names to dimensions. When supplied to Run,
// every dimension is pre-suggested (in name order, so sequential runs
// are deterministic) before the objective is invoked.
type SearchSpace map[string]Dimension

// ObjectiveFunc is the trial-only calling convention: the objective
// requests its own parameters through the trial handle.
type ObjectiveFunc func(t *Trial) (Outcome, error)

// NamedObjectiveFunc receives pre-suggested parameters as a name-value
// map alongside the trial.
type NamedObjectiveFunc func(t *Trial, params map[string]interface{}) (Outcome, error)

// BundleObjectiveFunc receives pre-suggested parameters as one typed
// bundle alongside the trial.
type BundleObjectiveFunc func(t *Trial, params Params) (Outcome, error)

// Objective declares which calling convention the caller uses; exactly
// one field must be set. The convention is resolved once at loop setup,
// never per trial.
type Objective struct {
	Func   ObjectiveFunc
	Named  NamedObjectiveFunc
	Bundle BundleObjectiveFunc
}

func (o Objective) count() int {
	n := 0
	if o.Func != nil {
		n++
	}
	if o.Named != nil {
		n++
	}
	if o.Bundle != nil {
		n++
	}
	return n
}

// Params is the typed view of a pre-suggested parameter bundle. Getters
// return the zero value when the name is absent or of another kind; use
// Value for an existence check.
type Params struct {
	values map[string]interface{}
}

// Value returns the raw parameter value and whether it exists.
func (p Params) Value(name string) (interface{}, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Int returns an integer parameter.
func (p Params) Int(name string) int64 {
	v, _ := p.values[name].(int64)
	return v
}

// Float returns a real parameter.
func (p Params) Float(name string) float64 {
	v, _ := p.values[name].(float64)
	return v
}

// Bool returns a boolean categorical parameter.
func (p Params) Bool(name string) bool {
	v, _ := p.values[name].(bool)
	return v
}

// String returns a string categorical parameter.
func (p Params) String(name string) string {
	v, _ := p.values[name].(string)
	return v
}

// RunConfig configures one optimization run.
type RunConfig struct {
	// Trials is the number of trials to drive to completion.
	Trials int
	// Workers is the size of the worker pool. 1 runs strictly
	// sequentially in the calling goroutine.
	Workers int
	// Space optionally declares the search space for pre-suggestion.
	// Required by the Named and Bundle conventions, rejected by the
	// trial-only one.
	Space SearchSpace
}

func (cfg RunConfig) validate(obj Objective) error {
	if cfg.Trials < 1 {
		return invalidf("run: trials must be positive, got %d", cfg.Trials).WithOperation("run")
	}
	if cfg.Workers < 1 {
		return invalidf("run: workers must be positive, got %d", cfg.Workers).WithOperation("run")
	}
	switch obj.count() {
	case 0:
		return invalidf("run: an objective function is required").WithOperation("run")
	case 1:
	default:
		return invalidf("run: exactly one objective calling convention must be set").WithOperation("run")
	}
	if cfg.Space != nil && obj.Func != nil {
		return invalidf("run: search space supplied but the trial-only objective accepts no pre-suggested parameters").WithOperation("run")
	}
	if cfg.Space == nil && obj.Func == nil {
		return invalidf("run: the named/bundle conventions require a search space").WithOperation("run")
	}
	return nil
}

// Run drives cfg.Trials trials against the study, sequentially or
// across a worker pool. Trial indices are handed to workers in a fixed
// enumeration order; completion order is not guaranteed. An error from
// the objective propagates and stops dispatch of new trials; in-flight
// trials on other workers drain before Run returns.
func Run(ctx context.Context, study *Study, obj Objective, cfg RunConfig) error {
	if study == nil {
		return invalidf("run: study is required")
	}
	if err := cfg.validate(obj); err != nil {
		return err
	}
	if cfg.Workers > runtime.GOMAXPROCS(0) {
		// The Go scheduler multiplexes workers over available
		// threads, so an oversized pool degrades instead of
		// deadlocking.
		study.logger.Warn("worker count exceeds available parallelism",
			zap.Int("workers", cfg.Workers),
			zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))
	}

	if cfg.Workers == 1 {
		for i := 0; i < cfg.Trials; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := runTrial(study, obj, cfg.Space); err != nil {
				return err
			}
		}
		return nil
	}

	var next atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					// Another worker failed or the caller
					// cancelled; stop dispatching.
					return nil
				}
				idx := next.Add(1)
				if idx > int64(cfg.Trials) {
					return nil
				}
				if err := runTrial(study, obj, cfg.Space); err != nil {
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// runTrial executes the ask -> pre-suggest -> evaluate -> tell sequence
// for one trial. Objective errors mark the trial FAIL and propagate.
func runTrial(study *Study, obj Objective, space SearchSpace) error {
	t, err := study.Ask()
	if err != nil {
		return err
	}

	var outcome Outcome
	switch {
	case obj.Func != nil:
		outcome, err = obj.Func(t)
	default:
		var values map[string]interface{}
		values, err = suggestSpace(t, space)
		if err == nil {
			if obj.Named != nil {
				outcome, err = obj.Named(t, values)
			} else {
				outcome, err = obj.Bundle(t, Params{values: values})
			}
		}
	}
	if err != nil {
		study.fail(t)
		return WrapErrorf(err, "trial %d: objective", t.id)
	}

	return study.Tell(t, outcome)
}

// suggestSpace pre-suggests every declared dimension in name order.
func suggestSpace(t *Trial, space SearchSpace) (map[string]interface{}, error) {
	names := make([]string, 0, len(space))
	for name := range space {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(map[string]interface{}, len(space))
	for _, name := range names {
		dim := space[name]
		switch dim.kind {
		case dimInt:
			v, err := t.SuggestInt(name, dim.intLow, dim.intHigh)
			if err != nil {
				return nil, err
			}
			values[name] = v
		case dimFloat:
			v, err := t.SuggestFloat(name, dim.low, dim.high)
			if err != nil {
				return nil, err
			}
			values[name] = v
		case dimChoice:
			v, err := t.SuggestCategorical(name, dim.choices)
			if err != nil {
				return nil, err
			}
			values[name] = v
		}
	}
	return values, nil
}
