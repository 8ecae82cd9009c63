// Package pruners provides early-stopping strategies over
// intermediate-value histories.
package pruners

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/sweep/internal/hpo"
)

// Percentile prunes a trial whose latest intermediate value falls in
// the losing tail of its siblings' values at the same step. On a
// minimize study a value above the q-th percentile of sibling values is
// pruned; on a maximize study, below the (100-q)-th.
type Percentile struct {
	// Q is the percentile in (0, 100).
	Q float64
	// WarmupSteps disables pruning below this step.
	WarmupSteps int
	// StartupTrials disables pruning until this many trials have
	// finished.
	StartupTrials int
}

// NewPercentile creates a percentile pruner.
func NewPercentile(q float64) *Percentile {
	return &Percentile{Q: q}
}

// NewMedian creates the 50th-percentile special case.
func NewMedian() *Percentile {
	return NewPercentile(50)
}

// ShouldPrune implements hpo.Pruner.
func (p *Percentile) ShouldPrune(direction hpo.Direction, history []hpo.FrozenTrial, trial hpo.FrozenTrial) (bool, error) {
	if p.Q <= 0 || p.Q >= 100 {
		return false, hpo.NewErrorf("percentile must be in (0, 100), got %v", p.Q).WithComponent("pruner")
	}

	step, ok := trial.LatestStep()
	if !ok || step < p.WarmupSteps {
		return false, nil
	}
	value := trial.Intermediate[step]

	finished := 0
	var siblings []float64
	for _, ft := range history {
		if ft.ID == trial.ID {
			continue
		}
		if ft.State.IsFinished() {
			finished++
		}
		if v, ok := ft.Intermediate[step]; ok {
			siblings = append(siblings, v)
		}
	}
	if finished < p.StartupTrials || len(siblings) == 0 {
		return false, nil
	}

	sort.Float64s(siblings)
	q := p.Q / 100
	if direction == hpo.Maximize {
		q = 1 - q
	}
	cut := stat.Quantile(q, stat.Empirical, siblings, nil)

	if direction == hpo.Maximize {
		return value < cut, nil
	}
	return value > cut, nil
}
