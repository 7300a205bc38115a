package loss

import (
	"math"
	"testing"
)

func TestMSEForward(t *testing.T) {
	mse := MSE{}

	tests := []struct {
		name     string
		yPred    []float64
		yTrue    []float64
		expected float64
	}{
		{"Perfect prediction", []float64{1.0, 2.0, 3.0}, []float64{1.0, 2.0, 3.0}, 0.0},
		{"Single error", []float64{1.0, 2.0}, []float64{1.5, 2.0}, 0.125},
		{"Multiple errors", []float64{1.0, 2.0, 3.0}, []float64{0.0, 1.0, 2.0}, 1.0},
		{"Large errors", []float64{10.0}, []float64{0.0}, 100.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mse.Forward(tt.yPred, tt.yTrue)
			if math.Abs(result-tt.expected) > 1e-12 {
				t.Errorf("MSE.Forward() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMSEForwardLengthMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for length mismatch")
		}
	}()

	MSE{}.Forward([]float64{1.0, 2.0}, []float64{1.0})
}

func TestMSEBackward(t *testing.T) {
	grad := MSE{}.Backward([]float64{1.0, 2.0}, []float64{1.5, 2.0})
	want := []float64{-0.5, 0.0}
	for i := range want {
		if math.Abs(grad[i]-want[i]) > 1e-12 {
			t.Errorf("grad[%d] = %v, want %v", i, grad[i], want[i])
		}
	}
}

func TestCrossEntropyForward(t *testing.T) {
	ce := CrossEntropy{}
	got := ce.Forward([]float64{0.7, 0.2, 0.1}, []float64{1, 0, 0})
	if want := -math.Log(0.7); math.Abs(got-want) > 1e-12 {
		t.Errorf("CrossEntropy = %v, want %v", got, want)
	}

	// Zero probability is clipped instead of producing +Inf.
	got = ce.Forward([]float64{0, 1}, []float64{1, 0})
	if math.IsInf(got, 0) || math.IsNaN(got) {
		t.Errorf("CrossEntropy with zero probability = %v", got)
	}
}

func TestCrossEntropyBackwardThroughSoftmaxOnConfidentMistake(t *testing.T) {
	// Logits (40, 0) with the target on the second class: p_target ~ 4e-18.
	e := math.Exp(-40)
	probs := []float64{1 / (1 + e), e / (1 + e)}
	target := []float64{0, 1}

	grad := CrossEntropy{}.Backward(probs, target)
	var dot float64
	for i := range probs {
		dot += grad[i] * probs[i]
	}
	for i := range probs {
		dz := probs[i] * (grad[i] - dot)
		if want := probs[i] - target[i]; math.Abs(dz-want) > 1e-9 {
			t.Errorf("dz[%d] = %v, want %v", i, dz, want)
		}
	}
}

func TestSoftmaxCrossEntropyMatchesComposition(t *testing.T) {
	logits := []float64{2.0, -1.0, 0.5, 0.0}
	target := []float64{0, 0, 1, 0}

	probs := make([]float64, len(logits))
	lse := LogSumExp(logits)
	for i, z := range logits {
		probs[i] = math.Exp(z - lse)
	}

	fused := SoftmaxCrossEntropy{}.Forward(logits, target)
	composed := CrossEntropy{}.Forward(probs, target)
	if math.Abs(fused-composed) > 1e-12 {
		t.Errorf("fused = %v, composed = %v", fused, composed)
	}

	grad := SoftmaxCrossEntropy{}.Backward(logits, target)
	for i := range grad {
		want := probs[i] - target[i]
		if math.Abs(grad[i]-want) > 1e-12 {
			t.Errorf("grad[%d] = %v, want %v", i, grad[i], want)
		}
	}
}

func TestSoftmaxCrossEntropyLargeLogits(t *testing.T) {
	got := SoftmaxCrossEntropy{}.Forward([]float64{1000, 0}, []float64{0, 1})
	if math.IsInf(got, 0) || math.IsNaN(got) || math.Abs(got-1000) > 1e-9 {
		t.Errorf("loss = %v, want 1000", got)
	}
}

func TestLossGradientsFiniteDifference(t *testing.T) {
	losses := []Loss{MSE{}, CrossEntropy{}, SoftmaxCrossEntropy{}}
	pred := []float64{0.2, 0.5, 0.3}
	target := []float64{0, 1, 0}
	const h = 1e-6

	for _, l := range losses {
		grad := l.Backward(pred, target)
		for i := range pred {
			p := append([]float64(nil), pred...)
			m := append([]float64(nil), pred...)
			p[i] += h
			m[i] -= h
			numeric := (l.Forward(p, target) - l.Forward(m, target)) / (2 * h)
			if math.Abs(numeric-grad[i]) > 1e-5 {
				t.Errorf("%s grad[%d] = %v, finite difference %v", Name(l), i, grad[i], numeric)
			}
		}
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"MSE", "CrossEntropy", "SoftmaxCrossEntropy"} {
		l, err := ByName(name)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		if Name(l) != name {
			t.Errorf("Name(ByName(%q)) = %q", name, Name(l))
		}
	}
	if _, err := ByName("hinge"); err == nil {
		t.Error("expected error for unknown loss")
	}
}
