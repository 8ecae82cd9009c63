package hpo

import (
	"math"
	"sync"
	"time"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// RandomSampler draws independent uniform values from each
// distribution. It ignores trial history entirely, which makes it the
// baseline strategy and the reference for reproducibility: two
// single-threaded runs with the same seed produce the same sequence of
// suggestions. Parallel runs do not, because worker race order decides
// which trial receives which draw.
type RandomSampler struct {
	mu  sync.Mutex
	rng *exprand.Rand
}

// NewRandomSampler creates a sampler seeded for reproducibility. A zero
// seed falls back to the current time.
func NewRandomSampler(seed int64) *RandomSampler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomSampler{
		rng: exprand.New(exprand.NewSource(uint64(seed))),
	}
}

// Sample implements Sampler.
func (r *RandomSampler) Sample(_ []FrozenTrial, _ int, _ string, dist Distribution) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch d := dist.(type) {
	case IntDistribution:
		return r.sampleInt(d), nil
	case FloatDistribution:
		return r.sampleFloat(d), nil
	case CategoricalDistribution:
		return float64(r.rng.Intn(len(d.Choices))), nil
	default:
		return 0, NewErrorf("unsupported distribution %T", dist).WithComponent("sampler")
	}
}

func (r *RandomSampler) sampleInt(d IntDistribution) float64 {
	if d.Log {
		u := distuv.Uniform{Min: math.Log(float64(d.Low)), Max: math.Log(float64(d.High) + 1), Src: r.rng}
		v := int64(math.Floor(math.Exp(u.Rand())))
		return float64(clampInt(v, d.Low, d.High))
	}
	steps := (d.High - d.Low) / d.Step
	k := r.rng.Int63n(steps + 1)
	return float64(d.Low + k*d.Step)
}

func (r *RandomSampler) sampleFloat(d FloatDistribution) float64 {
	if d.Log {
		u := distuv.Uniform{Min: math.Log(d.Low), Max: math.Log(d.High), Src: r.rng}
		return clampFloat(math.Exp(u.Rand()), d.Low, d.High)
	}
	u := distuv.Uniform{Min: d.Low, Max: d.High, Src: r.rng}
	v := u.Rand()
	if d.Step > 0 {
		k := math.Round((v - d.Low) / d.Step)
		// When High is off the grid, rounding near the upper bound can
		// overshoot; snap down to the largest grid point within range.
		if max := math.Floor((d.High - d.Low) / d.Step); k > max {
			k = max
		}
		if k < 0 {
			k = 0
		}
		v = d.Low + k*d.Step
	}
	return clampFloat(v, d.Low, d.High)
}

func clampInt(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
