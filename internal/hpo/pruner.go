package hpo

// Pruner decides whether a running trial should stop early, from the
// intermediate-value histories of the trial and its siblings. direction
// tells the pruner which way is better. Pure query: pruners must not
// mutate storage, and repeated calls with the same inputs must agree.
type Pruner interface {
	ShouldPrune(direction Direction, history []FrozenTrial, trial FrozenTrial) (bool, error)
}
