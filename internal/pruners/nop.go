package pruners

import "github.com/copyleftdev/sweep/internal/hpo"

// Nop never prunes. Useful as an explicit stand-in when early stopping
// is not wanted.
type Nop struct{}

// NewNop creates a pruner that always answers false.
func NewNop() *Nop { return &Nop{} }

// ShouldPrune implements hpo.Pruner.
func (*Nop) ShouldPrune(hpo.Direction, []hpo.FrozenTrial, hpo.FrozenTrial) (bool, error) {
	return false, nil
}
