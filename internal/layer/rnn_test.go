package layer

import (
	"math"
	"testing"
)

func TestSimpleRNNForwardMatchesRecurrence(t *testing.T) {
	r := NewSimpleRNN(1, 1, 3, true)
	r.SetParams([]float64{0.5, -0.3, 0.1}) // wx, wh, b

	out := r.Forward([]float64{1, 2, 3})

	h := 0.0
	for i, x := range []float64{1, 2, 3} {
		h = math.Tanh(0.5*x - 0.3*h + 0.1)
		if math.Abs(out[i]-h) > 1e-12 {
			t.Errorf("h_%d = %v, want %v", i+1, out[i], h)
		}
	}
}

func TestSimpleRNNLastState(t *testing.T) {
	seq := NewSimpleRNN(3, 4, 5, true)
	last := NewSimpleRNN(3, 4, 5, false)
	last.SetParams(seq.Params())

	x := randomInput(15, 3)
	all := seq.Forward(x)
	h := last.Forward(x)
	for j := 0; j < 4; j++ {
		if all[4*4+j] != h[j] {
			t.Errorf("last state[%d] = %v, want %v", j, h[j], all[16+j])
		}
	}
	if len(last.States()) != 5 {
		t.Errorf("States() returned %d rows", len(last.States()))
	}
}

func TestSimpleRNNGradients(t *testing.T) {
	t.Run("last", func(t *testing.T) {
		checkGradients(t, NewSimpleRNN(3, 4, 5, false), randomInput(15, 21), 1e-6)
	})
	t.Run("sequences", func(t *testing.T) {
		checkGradients(t, NewSimpleRNN(2, 3, 4, true), randomInput(8, 22), 1e-6)
	})
}

func TestSimpleRNNClipNorm(t *testing.T) {
	r := NewSimpleRNN(2, 3, 4, false)
	r.ClipNorm = 0.01

	// Backward accumulates unclipped; clipping applies to the batch gradient.
	r.Forward(randomInput(8, 5))
	r.Backward([]float64{10, 10, 10})
	first := r.Gradients()
	r.Forward(randomInput(8, 6))
	r.Backward([]float64{10, 10, 10})
	sum := r.Gradients()

	r2 := NewSimpleRNN(2, 3, 4, false)
	r2.SetParams(r.Params())
	r2.Forward(randomInput(8, 6))
	r2.Backward([]float64{10, 10, 10})
	second := r2.Gradients()
	for i := range sum {
		if math.Abs(sum[i]-first[i]-second[i]) > 1e-9 {
			t.Fatalf("grad[%d] = %v, want %v + %v", i, sum[i], first[i], second[i])
		}
	}

	r.ClipGradients(sum)
	var sq float64
	for _, g := range sum {
		sq += g * g
	}
	if norm := math.Sqrt(sq); math.Abs(norm-0.01) > 1e-12 {
		t.Errorf("clipped norm = %v, want 0.01", norm)
	}

	small := []float64{0.001, 0, 0}
	r.ClipGradients(small)
	if small[0] != 0.001 {
		t.Errorf("gradient under the bound was rescaled to %v", small[0])
	}
}
