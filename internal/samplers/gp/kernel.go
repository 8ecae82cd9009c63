package gp

import "math"

// Kernel is a covariance function over normalized scalar inputs.
type Kernel interface {
	Eval(x1, x2 float64) float64
}

// Matern52 is the Matérn 5/2 kernel, the default covariance for
// hyperparameter response surfaces.
type Matern52 struct {
	// LengthScale controls smoothness; larger means smoother.
	LengthScale float64
	// SignalVar controls the amplitude of the modeled function.
	SignalVar float64
}

func (k Matern52) Eval(x1, x2 float64) float64 {
	r := math.Abs(x1-x2) / k.LengthScale
	poly := 1.0 + math.Sqrt(5)*r + (5.0/3.0)*r*r
	return k.SignalVar * poly * math.Exp(-math.Sqrt(5)*r)
}

// RBF is the squared-exponential kernel.
type RBF struct {
	LengthScale float64
	SignalVar   float64
}

func (k RBF) Eval(x1, x2 float64) float64 {
	d := x1 - x2
	return k.SignalVar * math.Exp(-d*d/(2.0*k.LengthScale*k.LengthScale))
}
