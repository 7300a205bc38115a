package layer

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
)

// checkGradients compares the analytic input and parameter gradients of l
// against central finite differences of L = sum_i c_i * out_i.
func checkGradients(t *testing.T, l Layer, x []float64, tol float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	c := make([]float64, l.OutSize())
	for i := range c {
		c[i] = rng.Float64()*2 - 1
	}
	objective := func(out []float64) float64 {
		var s float64
		for i, v := range out {
			s += c[i] * v
		}
		return s
	}

	l.ClearGradients()
	l.Forward(x)
	gradIn := append([]float64(nil), l.Backward(c)...)
	gradParams := l.Gradients()

	settings := &fd.Settings{Formula: fd.Central, Step: 1e-6}

	numIn := fd.Gradient(nil, func(in []float64) float64 {
		return objective(l.Forward(in))
	}, x, settings)
	for i := range numIn {
		if math.Abs(numIn[i]-gradIn[i]) > tol {
			t.Errorf("dL/dx[%d] = %v, finite difference %v", i, gradIn[i], numIn[i])
		}
	}

	params := l.Params()
	if len(params) == 0 {
		return
	}
	numParams := fd.Gradient(nil, func(p []float64) float64 {
		l.SetParams(p)
		return objective(l.Forward(x))
	}, params, settings)
	l.SetParams(params)
	for i := range numParams {
		if math.Abs(numParams[i]-gradParams[i]) > tol {
			t.Errorf("dL/dparam[%d] = %v, finite difference %v", i, gradParams[i], numParams[i])
		}
	}
}

func randomInput(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float64, n)
	for i := range x {
		x[i] = rng.Float64()*2 - 1
	}
	return x
}
