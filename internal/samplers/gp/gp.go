// Package gp implements a Gaussian-process sampler. Each parameter is
// modeled independently: a one-dimensional GP is fitted over the
// normalized domain of the parameter against the final values of
// completed trials, and the next point is chosen by maximizing
// expected improvement over random candidates.
package gp

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/sweep/internal/hpo"
)

const (
	defaultStartupTrials = 10
	defaultCandidates    = 64
	defaultNoiseVar      = 1e-6
	defaultXi            = 0.01
)

// Sampler implements hpo.Sampler with a per-parameter Gaussian process.
// Categorical parameters and the startup phase fall back to uniform
// random sampling.
type Sampler struct {
	direction hpo.Direction
	kernel    Kernel
	noiseVar  float64
	xi        float64
	startup   int
	nCand     int
	fallback  *hpo.RandomSampler
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithKernel replaces the default Matérn 5/2 kernel.
func WithKernel(k Kernel) Option {
	return func(s *Sampler) { s.kernel = k }
}

// WithStartupTrials sets how many completed observations a parameter
// needs before the GP takes over from random sampling.
func WithStartupTrials(n int) Option {
	return func(s *Sampler) { s.startup = n }
}

// WithCandidates sets how many random candidates the acquisition
// search evaluates per suggestion.
func WithCandidates(n int) Option {
	return func(s *Sampler) { s.nCand = n }
}

// WithXi sets the exploration margin of expected improvement.
func WithXi(xi float64) Option {
	return func(s *Sampler) { s.xi = xi }
}

// New creates a GP sampler. The direction must match the study the
// sampler is attached to; seed 0 seeds the fallback from the clock.
func New(direction hpo.Direction, seed int64, opts ...Option) *Sampler {
	s := &Sampler{
		direction: direction,
		kernel:    Matern52{LengthScale: 0.25, SignalVar: 1.0},
		noiseVar:  defaultNoiseVar,
		xi:        defaultXi,
		startup:   defaultStartupTrials,
		nCand:     defaultCandidates,
		fallback:  hpo.NewRandomSampler(seed),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample picks the next internal value for name under dist.
func (s *Sampler) Sample(history []hpo.FrozenTrial, trialID int, name string, dist hpo.Distribution) (float64, error) {
	if _, ok := dist.(hpo.CategoricalDistribution); ok {
		return s.fallback.Sample(history, trialID, name, dist)
	}

	xs, ys := observations(history, name)
	if len(xs) < s.startup {
		return s.fallback.Sample(history, trialID, name, dist)
	}

	model, err := fit(s.kernel, s.noiseVar, normalizeAll(dist, xs), standardize(ys, s.direction))
	if err != nil {
		// A degenerate kernel matrix (e.g. all observations identical)
		// is not the caller's fault; keep sampling randomly.
		return s.fallback.Sample(history, trialID, name, dist)
	}

	// Standardized minimization: after standardize, lower is better
	// regardless of the study direction.
	best := math.Inf(1)
	for _, y := range model.y {
		if y < best {
			best = y
		}
	}

	var (
		bestCand float64
		bestEI   = math.Inf(-1)
	)
	for i := 0; i < s.nCand; i++ {
		cand, err := s.fallback.Sample(history, trialID, name, dist)
		if err != nil {
			return 0, err
		}
		mu, sigma := model.predict(normalize(dist, cand))
		if ei := expectedImprovement(best, mu, sigma, s.xi); ei > bestEI {
			bestEI = ei
			bestCand = cand
		}
	}
	return bestCand, nil
}

// observations collects (internal value, final value) pairs for name
// from completed trials.
func observations(history []hpo.FrozenTrial, name string) (xs, ys []float64) {
	for _, ft := range history {
		if ft.State != hpo.StateComplete || ft.Value == nil {
			continue
		}
		x, ok := ft.Params[name]
		if !ok {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, *ft.Value)
	}
	return xs, ys
}

// normalize maps an internal value into [0, 1] over the distribution's
// domain, in log space for log-scaled distributions.
func normalize(dist hpo.Distribution, v float64) float64 {
	var low, high float64
	var logScale bool
	switch d := dist.(type) {
	case hpo.IntDistribution:
		low, high, logScale = float64(d.Low), float64(d.High), d.Log
	case hpo.FloatDistribution:
		low, high, logScale = d.Low, d.High, d.Log
	default:
		return v
	}
	if logScale {
		low, high, v = math.Log(low), math.Log(high), math.Log(v)
	}
	if high == low {
		return 0.5
	}
	return (v - low) / (high - low)
}

func normalizeAll(dist hpo.Distribution, xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = normalize(dist, x)
	}
	return out
}

// standardize shifts observations to zero mean and unit variance,
// negating them first under maximization so the acquisition always
// minimizes.
func standardize(ys []float64, direction hpo.Direction) []float64 {
	out := make([]float64, len(ys))
	copy(out, ys)
	if direction == hpo.Maximize {
		for i := range out {
			out[i] = -out[i]
		}
	}
	mean, std := stat.MeanStdDev(out, nil)
	if std <= 0 || math.IsNaN(std) {
		std = 1.0
	}
	for i := range out {
		out[i] = (out[i] - mean) / std
	}
	return out
}

// model is a fitted one-dimensional GP posterior.
type model struct {
	kernel Kernel
	x      []float64
	y      []float64
	chol   *mat.Cholesky
	alpha  *mat.VecDense
}

// fit factorizes the kernel matrix over the normalized inputs. Fails
// when the matrix is not positive definite.
func fit(kernel Kernel, noiseVar float64, xs, ys []float64) (*model, error) {
	n := len(xs)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		k.SetSym(i, i, kernel.Eval(xs[i], xs[i])+noiseVar)
		for j := i + 1; j < n; j++ {
			k.SetSym(i, j, kernel.Eval(xs[i], xs[j]))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(k); !ok {
		return nil, hpo.NewError("kernel matrix is not positive definite").WithComponent("gp_sampler")
	}

	y := mat.NewVecDense(n, ys)
	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		return nil, hpo.WrapError(err, "solve for alpha").WithComponent("gp_sampler")
	}

	return &model{kernel: kernel, x: xs, y: ys, chol: &chol, alpha: alpha}, nil
}

// predict returns the posterior mean and standard deviation at the
// normalized point x.
func (m *model) predict(x float64) (mu, sigma float64) {
	n := len(m.x)
	kstar := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		kstar.SetVec(i, m.kernel.Eval(x, m.x[i]))
	}

	mu = mat.Dot(kstar, m.alpha)

	v := mat.NewVecDense(n, nil)
	if err := m.chol.SolveVecTo(v, kstar); err != nil {
		return mu, 0
	}
	variance := m.kernel.Eval(x, x) - mat.Dot(kstar, v)
	if variance < 0 {
		variance = 0
	}
	return mu, math.Sqrt(variance)
}

// expectedImprovement computes EI for minimization in standardized
// space.
func expectedImprovement(best, mu, sigma, xi float64) float64 {
	improvement := best - mu - xi
	if sigma <= 1e-10 {
		if improvement > 0 {
			return improvement
		}
		return 0
	}
	z := improvement / sigma
	std := distuv.UnitNormal
	return improvement*std.CDF(z) + sigma*std.Prob(z)
}
