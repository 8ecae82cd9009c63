package hpo

import (
	"fmt"
	"math"
)

// Distribution describes the search domain of a single parameter.
//
// Samplers operate on a canonical internal representation: every
// suggestion, whatever its external type, is a float64. Integer values
// widen to int64 at the API surface and categorical values are carried
// as an index into the ordered choice list. This keeps cross-trial
// aggregation type-consistent regardless of what the caller supplied.
type Distribution interface {
	// External converts the internal representation into the value
	// surfaced to the caller.
	External(internal float64) interface{}

	// Contains reports whether internal lies inside the domain.
	Contains(internal float64) bool

	// Kind identifies the distribution for persistence ("int",
	// "float" or "categorical").
	Kind() string
}

// IntDistribution is an inclusive integer range with an optional step
// and optional log scale. Step and log scale are mutually exclusive.
type IntDistribution struct {
	Low  int64
	High int64
	Step int64
	Log  bool
}

// External implements Distribution.
func (d IntDistribution) External(internal float64) interface{} {
	return int64(math.Round(internal))
}

// Contains implements Distribution.
func (d IntDistribution) Contains(internal float64) bool {
	v := int64(math.Round(internal))
	return v >= d.Low && v <= d.High
}

// Kind implements Distribution.
func (d IntDistribution) Kind() string { return "int" }

func (d IntDistribution) validate(name string) *Error {
	if d.Low > d.High {
		return invalidf("parameter %q: low %d must not exceed high %d", name, d.Low, d.High)
	}
	if d.Step < 1 {
		return invalidf("parameter %q: step %d must be positive", name, d.Step)
	}
	if d.Log && d.Step != 1 {
		return invalidf("parameter %q: step %d and log scale are mutually exclusive", name, d.Step)
	}
	if d.Log && d.Low < 1 {
		return invalidf("parameter %q: log scale requires low >= 1, got %d", name, d.Low)
	}
	return nil
}

// FloatDistribution is an inclusive real range with an optional
// discretization step (zero means continuous) and optional log scale.
// Step and log scale are mutually exclusive.
type FloatDistribution struct {
	Low  float64
	High float64
	Step float64
	Log  bool
}

// External implements Distribution.
func (d FloatDistribution) External(internal float64) interface{} {
	return internal
}

// Contains implements Distribution.
func (d FloatDistribution) Contains(internal float64) bool {
	return internal >= d.Low && internal <= d.High
}

// Kind implements Distribution.
func (d FloatDistribution) Kind() string { return "float" }

func (d FloatDistribution) validate(name string) *Error {
	if d.Low > d.High {
		return invalidf("parameter %q: low %v must not exceed high %v", name, d.Low, d.High)
	}
	if d.Step < 0 {
		return invalidf("parameter %q: step %v must be positive", name, d.Step)
	}
	if d.Log && d.Step != 0 {
		return invalidf("parameter %q: step %v and log scale are mutually exclusive", name, d.Step)
	}
	if d.Log && d.Low <= 0 {
		return invalidf("parameter %q: log scale requires low > 0, got %v", name, d.Low)
	}
	return nil
}

// CategoricalDistribution is an ordered, non-empty set of same-kind
// scalar choices (bool, int64, float64 or string).
type CategoricalDistribution struct {
	Choices []interface{}
}

// External implements Distribution.
func (d CategoricalDistribution) External(internal float64) interface{} {
	i := int(math.Round(internal))
	if i < 0 || i >= len(d.Choices) {
		return nil
	}
	return d.Choices[i]
}

// Contains implements Distribution.
func (d CategoricalDistribution) Contains(internal float64) bool {
	i := int(math.Round(internal))
	return i >= 0 && i < len(d.Choices)
}

// Kind implements Distribution.
func (d CategoricalDistribution) Kind() string { return "categorical" }

func (d CategoricalDistribution) validate(name string) *Error {
	if len(d.Choices) == 0 {
		return invalidf("parameter %q: choices must not be empty", name)
	}
	kind := categoryKind(d.Choices[0])
	if kind == "" {
		return invalidf("parameter %q: unsupported choice type %T", name, d.Choices[0])
	}
	for i, c := range d.Choices[1:] {
		if categoryKind(c) != kind {
			return invalidf("parameter %q: choice %d is %T, want %s", name, i+1, c, kind)
		}
	}
	return nil
}

// categoryKind returns the canonical kind name of a categorical choice,
// or "" if the type is not supported. Integer inputs of any width
// normalize to int64.
func categoryKind(v interface{}) string {
	switch v.(type) {
	case bool:
		return "bool"
	case int, int32, int64:
		return "int"
	case float32, float64:
		return "float"
	case string:
		return "string"
	default:
		return ""
	}
}

// normalizeCategory widens a choice to its canonical scalar type.
func normalizeCategory(v interface{}) interface{} {
	switch c := v.(type) {
	case int:
		return int64(c)
	case int32:
		return int64(c)
	case float32:
		return float64(c)
	default:
		return v
	}
}

// descriptor renders a distribution for error messages and logs.
func descriptor(d Distribution) string {
	switch t := d.(type) {
	case IntDistribution:
		return fmt.Sprintf("int[%d,%d] step=%d log=%v", t.Low, t.High, t.Step, t.Log)
	case FloatDistribution:
		return fmt.Sprintf("float[%v,%v] step=%v log=%v", t.Low, t.High, t.Step, t.Log)
	case CategoricalDistribution:
		return fmt.Sprintf("categorical(%d choices)", len(t.Choices))
	default:
		return fmt.Sprintf("%T", d)
	}
}
