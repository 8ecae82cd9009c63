package hpo

// Sampler produces a parameter value for one suggestion call. history
// is the full trial record of the study at sampling time, so model-based
// strategies can fit whatever they like to finished trials; trialID
// identifies the asking trial. The returned value is the canonical
// internal representation and must lie inside dist.
//
// Samplers must not mutate storage. A sampler may hold internal
// pseudo-random state; if so it must serialize access to it, because
// parallel workers share one sampler per study.
type Sampler interface {
	Sample(history []FrozenTrial, trialID int, name string, dist Distribution) (float64, error)
}
